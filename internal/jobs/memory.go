package jobs

import (
	"context"
	"sync"

	"github.com/xorwow/serial-pdf/internal/errors"
)

// MemoryStore keeps job records in process memory. Records live until the
// process exits.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Put(ctx context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID] = record
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[id]
	if !ok {
		return Record{}, errors.ErrJobNotFound(id)
	}
	return record, nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, fn func(Record) (Record, error)) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return Record{}, errors.ErrJobNotFound(id)
	}

	updated, err := fn(record)
	if err != nil {
		return Record{}, err
	}
	updated.ID = record.ID

	s.records[id] = updated
	return updated, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
