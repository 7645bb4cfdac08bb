// Package view implements projections: derived, queryable state that is a
// pure function of an event store's contents, maintained incrementally and
// rebuildable at any time from the event sequence.
package view

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomyedwab/hindsight/events"
	"github.com/tomyedwab/hindsight/store"
)

// ErrUnknownEventType is returned by a State whose producer set is genuinely
// open when it receives a type it does not handle. It is fatal: the store
// propagates it to the caller of Add/AddAll/ReplayAll without retrying.
// States over a closed set of types should instead dispatch exhaustively on
// typed event structs, making the unknown case unrepresentable.
var ErrUnknownEventType = errors.New("unknown event type")

// State is the derived state a projection maintains. Implementations
// dispatch on the event type and mutate their state accordingly; only
// OnEvent and OnReset may mutate it.
type State interface {
	// OnEvent applies a single event to the derived state.
	OnEvent(ev events.Event) error

	// OnReset clears the derived state to its zero value. Called before any
	// full replay.
	OnReset() error
}

// Projection couples a State to the event store it is derived from. The
// projection owns the store (and through it the persistence handle); the
// state is wrapped by composition, not inheritance.
type Projection struct {
	store *store.Store
	state State
}

// NewProjection builds a store over backend whose dispatch callback is the
// state's OnEvent, and wraps both.
func NewProjection(backend store.Backend, state State) *Projection {
	return &Projection{
		store: store.New(backend, state.OnEvent),
		state: state,
	}
}

// Store exposes the owned event store for producers and boundary layers.
func (p *Projection) Store() *store.Store {
	return p.store
}

// Init resets the derived state and replays the full persisted history into
// it, bringing the projection in step with the log.
func (p *Projection) Init(ctx context.Context) error {
	if err := p.state.OnReset(); err != nil {
		return fmt.Errorf("reset projection state: %w", err)
	}
	if err := p.store.ReplayAll(ctx, nil); err != nil {
		return fmt.Errorf("replay event history: %w", err)
	}
	return nil
}

// RestoreToEvent resets the derived state and reduces the store to the
// prefix ending at target, re-driving OnEvent for exactly that checkpoint.
// Reports whether target was found; when it is not, the full history is
// replayed and the persisted contents are unchanged.
func (p *Projection) RestoreToEvent(ctx context.Context, target events.Event) (bool, error) {
	if err := p.state.OnReset(); err != nil {
		return false, fmt.Errorf("reset projection state: %w", err)
	}
	return p.store.RestoreToEvent(ctx, target)
}

// Dispose releases the owned store's resources. Idempotent; safe on every
// exit path.
func (p *Projection) Dispose() error {
	return p.store.Dispose()
}
