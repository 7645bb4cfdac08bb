package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tomyedwab/hindsight/events"
	"github.com/tomyedwab/hindsight/hlc"
)

// State is the store's lifecycle state. A store moves between Idle and
// Dispatching as its queue drains; Disposed is terminal.
type State int

const (
	StateIdle State = iota
	StateDispatching
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDispatching:
		return "dispatching"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// ProcessEventFunc is invoked once per dispatched event, after the event has
// been persisted. A projection supplies this to keep its derived state in
// step with the log. An error aborts the drain and propagates to the caller
// of Add/AddAll; the event stays persisted regardless.
//
// The callback runs while the store's writer mutex is held and must not call
// back into the store.
type ProcessEventFunc func(ev events.Event) error

// Store owns an append-only sequence of events: a FIFO queue of pending
// events, a persistence backend, a dispatch callback, and a broadcast
// notification channel. All mutation is serialized through a single writer
// mutex, so at most one dispatch is in flight at any instant and Add returns
// only after its event has been persisted, dispatched and broadcast.
//
// Add dispatches strictly FIFO relative to insertion. AddAll sorts its batch
// by identifier first, but does not re-sort events already queued, so
// interleaving Add and AddAll from concurrent callers can yield
// FIFO-by-arrival rather than global identifier order. Callers that need
// strict order must route every insertion through AddAll.
type Store struct {
	mu          sync.Mutex
	backend     Backend
	process     ProcessEventFunc
	queue       []events.Event
	state       State
	subscribers []chan Notification
}

// New creates a store over the given backend. process may be nil when no
// projection is attached.
func New(backend Backend, process ProcessEventFunc) *Store {
	return &Store{
		backend: backend,
		process: process,
		state:   StateIdle,
	}
}

// State returns the store's current lifecycle state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Add enqueues one event and drains the queue. It returns once the event has
// been persisted and dispatched, or with whatever error the backend or the
// dispatch callback raised. A callback failure does not roll back
// persistence.
func (s *Store) Add(ctx context.Context, ev events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisposed {
		return ErrDisposed
	}
	s.queue = append(s.queue, ev)
	return s.drainLocked(ctx)
}

// AddAll sorts the batch ascending by identifier, enqueues every event and
// drains the queue in that order. This is the only operation that imposes
// global ordering on a batch.
func (s *Store) AddAll(ctx context.Context, evs []events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisposed {
		return ErrDisposed
	}
	s.queue = append(s.queue, sortedByID(evs)...)
	return s.drainLocked(ctx)
}

// drainLocked dispatches queued events one at a time: persist, then invoke
// the callback, then broadcast. An error leaves the remaining queue intact;
// it will drain on the next Add/AddAll.
func (s *Store) drainLocked(ctx context.Context) error {
	s.state = StateDispatching
	defer func() {
		if s.state == StateDispatching {
			s.state = StateIdle
		}
	}()

	for len(s.queue) > 0 {
		ev := s.queue[0]
		s.queue = s.queue[1:]

		if err := s.backend.Add(ctx, ev); err != nil {
			return fmt.Errorf("persist event %s: %w", ev.ID, err)
		}
		if s.process != nil {
			if err := s.process(ev); err != nil {
				return fmt.Errorf("dispatch event %s: %w", ev.ID, err)
			}
		}
		s.notifyLocked(Notification{Event: &ev})
	}
	return nil
}

// GetAll returns all persisted events. The ordering is backend-specific:
// memory and file backends return insertion order, the SQL backend returns
// physical row order, which after an out-of-order upsert is not guaranteed
// to equal identifier order.
func (s *Store) GetAll(ctx context.Context) ([]events.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisposed {
		return nil, ErrDisposed
	}
	return s.backend.GetAll(ctx)
}

// GetByID returns the event with the given id, or ErrNotFound.
func (s *Store) GetByID(ctx context.Context, id hlc.HLC) (events.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisposed {
		return events.Event{}, ErrDisposed
	}
	return s.backend.GetByID(ctx, id)
}

// DeleteAll clears the pending queue and the persisted collection, then
// broadcasts a reset notification.
func (s *Store) DeleteAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisposed {
		return ErrDisposed
	}
	return s.deleteAllLocked(ctx)
}

func (s *Store) deleteAllLocked(ctx context.Context) error {
	s.queue = nil
	if err := s.backend.DeleteAll(ctx); err != nil {
		return err
	}
	s.notifyLocked(Notification{Reset: true})
	return nil
}

// RestoreToEvent reduces the store to the prefix of persisted events ending
// at target and replays the dispatch callback against exactly that
// checkpoint. Events are walked in their query order; if target's id is
// found the walk stops there and found is true. If it is not found the
// prefix is the full original set and the restore is a content no-op with
// found false (the projection is still re-driven over the full set).
func (s *Store) RestoreToEvent(ctx context.Context, target events.Event) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisposed {
		return false, ErrDisposed
	}

	all, err := s.backend.GetAll(ctx)
	if err != nil {
		return false, err
	}

	found := false
	prefix := make([]events.Event, 0, len(all))
	for _, ev := range all {
		prefix = append(prefix, ev)
		if hlc.Compare(ev.ID, target.ID) == 0 {
			found = true
			break
		}
	}

	if err := s.deleteAllLocked(ctx); err != nil {
		return found, err
	}
	s.queue = append(s.queue, sortedByID(prefix)...)
	if err := s.drainLocked(ctx); err != nil {
		return found, err
	}
	return found, nil
}

// MergeEvents computes the deduplicated union of the persisted events and
// evs (keyed by id; the persisted copy wins a collision), clears the store
// and re-adds the union sorted by identifier. Merging an already-merged set
// is a no-op on the resulting contents.
func (s *Store) MergeEvents(ctx context.Context, evs []events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisposed {
		return ErrDisposed
	}

	existing, err := s.backend.GetAll(ctx)
	if err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(existing)+len(evs))
	union := make([]events.Event, 0, len(existing)+len(evs))
	for _, ev := range existing {
		key := ev.ID.String()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		union = append(union, ev)
	}
	for _, ev := range evs {
		key := ev.ID.String()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		union = append(union, ev)
	}

	if err := s.deleteAllLocked(ctx); err != nil {
		return err
	}
	s.queue = append(s.queue, sortedByID(union)...)
	return s.drainLocked(ctx)
}

// ReplayAll invokes the dispatch callback for each event in evs, sorted by
// identifier, without touching the persisted collection, the queue or the
// notification channel. A nil evs replays the full persisted set. This is
// the rebuild primitive used after a projection's schema changes; the caller
// must have already reset the projection's derived state.
func (s *Store) ReplayAll(ctx context.Context, evs []events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisposed {
		return ErrDisposed
	}
	if evs == nil {
		var err error
		evs, err = s.backend.GetAll(ctx)
		if err != nil {
			return err
		}
	}
	if s.process == nil {
		return nil
	}
	for _, ev := range sortedByID(evs) {
		if err := s.process(ev); err != nil {
			return fmt.Errorf("dispatch event %s: %w", ev.ID, err)
		}
	}
	return nil
}

// Dispose clears the queue, closes every subscriber channel and releases the
// backend. Idempotent, terminal, and safe to call on a store that was never
// fully initialized.
func (s *Store) Dispose() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisposed {
		return nil
	}
	s.state = StateDisposed
	s.queue = nil
	for _, ch := range s.subscribers {
		close(ch)
	}
	s.subscribers = nil
	if s.backend == nil {
		return nil
	}
	return s.backend.Dispose()
}

// sortedByID returns a copy of evs sorted ascending by identifier. The sort
// is stable so events with equal ids keep their relative order.
func sortedByID(evs []events.Event) []events.Event {
	sorted := make([]events.Event, len(evs))
	copy(sorted, evs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return hlc.Compare(sorted[i].ID, sorted[j].ID) < 0
	})
	return sorted
}
