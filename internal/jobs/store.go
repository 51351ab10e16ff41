package jobs

import "context"

// Store persists job records. The memory implementation serves a single
// process; the redis implementation lets several replicas share state.
type Store interface {
	// Put creates or replaces a record.
	Put(ctx context.Context, record Record) error
	// Get returns the record for id or a not-found error.
	Get(ctx context.Context, id string) (Record, error)
	// Update applies fn to the current record atomically and returns the
	// stored result. fn must be side-effect free: backends may retry it.
	Update(ctx context.Context, id string, fn func(Record) (Record, error)) (Record, error)
	// Delete removes a record. Deleting an absent record is not an error.
	Delete(ctx context.Context, id string) error
	Close() error
}
