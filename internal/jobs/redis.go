package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xorwow/serial-pdf/internal/config"
	"github.com/xorwow/serial-pdf/internal/errors"
)

// updateRetries bounds the optimistic locking loop in Update. Contention on
// a single job record is rare, so hitting the bound means something is off.
const updateRetries = 100

// RedisStore shares job records between replicas. Records carry a TTL so
// state left behind by dead processes ages out.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.NewInternalError(errors.ErrCodeInternal, "connecting to redis", err)
	}

	return &RedisStore{client: client, prefix: cfg.KeyPrefix, ttl: cfg.TTL}, nil
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisStore) Put(ctx context.Context, record Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return errors.NewInternalError(errors.ErrCodeInternal, "encoding job record", err).WithJob(record.ID)
	}
	if err := s.client.Set(ctx, s.key(record.ID), data, s.ttl).Err(); err != nil {
		return errors.NewInternalError(errors.ErrCodeInternal, "storing job record", err).WithJob(record.ID)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (Record, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err == redis.Nil {
		return Record{}, errors.ErrJobNotFound(id)
	}
	if err != nil {
		return Record{}, errors.NewInternalError(errors.ErrCodeInternal, "reading job record", err).WithJob(id)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return Record{}, errors.NewInternalError(errors.ErrCodeInternal, "decoding job record", err).WithJob(id)
	}
	return record, nil
}

// Update runs fn inside a WATCH transaction so concurrent pollers cannot
// interleave read-modify-write cycles on the same record.
func (s *RedisStore) Update(ctx context.Context, id string, fn func(Record) (Record, error)) (Record, error) {
	key := s.key(id)

	var result Record
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return errors.ErrJobNotFound(id)
		}
		if err != nil {
			return errors.NewInternalError(errors.ErrCodeInternal, "reading job record", err).WithJob(id)
		}

		var record Record
		if err := json.Unmarshal(data, &record); err != nil {
			return errors.NewInternalError(errors.ErrCodeInternal, "decoding job record", err).WithJob(id)
		}

		updated, err := fn(record)
		if err != nil {
			return err
		}
		updated.ID = record.ID

		encoded, err := json.Marshal(updated)
		if err != nil {
			return errors.NewInternalError(errors.ErrCodeInternal, "encoding job record", err).WithJob(id)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, s.ttl)
			return nil
		})
		if err == nil {
			result = updated
		}
		return err
	}

	for i := 0; i < updateRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if err == redis.TxFailedErr {
			continue
		}
		return Record{}, err
	}

	return Record{}, errors.NewInternalError(errors.ErrCodeInternal, "job record update kept colliding", nil).WithJob(id)
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return errors.NewInternalError(errors.ErrCodeInternal, "deleting job record", err).WithJob(id)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
