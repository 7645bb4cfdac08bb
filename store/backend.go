// Package store implements the append-only event store: a FIFO dispatch
// queue over a pluggable persistence backend, with subscriber notifications
// and the replay, restore and merge primitives projections are rebuilt from.
package store

import (
	"context"
	"errors"

	"github.com/tomyedwab/hindsight/events"
	"github.com/tomyedwab/hindsight/hlc"
)

// ErrNotFound is returned when no event with the requested id is persisted.
var ErrNotFound = errors.New("event not found")

// ErrDisposed is returned by every operation other than Dispose once a store
// has been disposed.
var ErrDisposed = errors.New("event store disposed")

// Backend is the persistence contract shared by every storage strategy. All
// implementations provide the same operations; durability and the ordering
// of GetAll results are backend-specific (see MemoryStore, FileStore and
// SQLStore).
type Backend interface {
	// Add persists a single event.
	Add(ctx context.Context, ev events.Event) error

	// AddAll persists a batch. The SQL backend wraps the batch in one
	// transaction and rolls back entirely on failure; the memory and file
	// backends may leave a partial prefix if a mid-batch item fails.
	AddAll(ctx context.Context, evs []events.Event) error

	// GetAll returns every persisted event. Memory and file backends return
	// insertion order; the SQL backend returns physical row order.
	GetAll(ctx context.Context) ([]events.Event, error)

	// GetByID returns the event with the given id, or ErrNotFound.
	GetByID(ctx context.Context, id hlc.HLC) (events.Event, error)

	// DeleteAll removes every persisted event.
	DeleteAll(ctx context.Context) error

	// Dispose releases the backend's resources. Idempotent.
	Dispose() error
}
