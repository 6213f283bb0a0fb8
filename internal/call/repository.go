package call

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Repository.Get when no call exists for an ID.
var ErrNotFound = errors.New("call: not found")

// Repository is the persistence contract the ingestion pipeline writes
// through. Implementations must guarantee that Atomically serialises
// concurrent mutations of the same call ID: the function either commits all
// writes made through the transactional view or none of them.
type Repository interface {
	// Get returns the call with the given ID, or ErrNotFound.
	Get(ctx context.Context, id string) (*Call, error)

	// Upsert inserts or fully replaces the call record.
	Upsert(ctx context.Context, c *Call) error

	// AppendEvent appends one audit record. Events are strictly append-only.
	AppendEvent(ctx context.Context, ev *CallEvent) error

	// Atomically runs fn against a transactional view of the repository.
	// All writes made through that view commit together or not at all.
	Atomically(ctx context.Context, fn func(ctx context.Context, r Repository) error) error
}
