package store

import (
	"context"
	"sync"

	"github.com/tomyedwab/hindsight/events"
	"github.com/tomyedwab/hindsight/hlc"
)

// MemoryStore keeps events in process memory: no durability, O(1) append,
// O(n) copy on read. Used for tests and ephemeral state. A second write with
// an already-persisted id replaces the stored event in place, matching the
// SQL backend's last-write-wins upsert.
type MemoryStore struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]events.Event
}

var _ Backend = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory backend.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]events.Event)}
}

func (m *MemoryStore) Add(ctx context.Context, ev events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addLocked(ev)
	return nil
}

func (m *MemoryStore) AddAll(ctx context.Context, evs []events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range evs {
		m.addLocked(ev)
	}
	return nil
}

func (m *MemoryStore) addLocked(ev events.Event) {
	key := ev.ID.String()
	if _, exists := m.byID[key]; !exists {
		m.order = append(m.order, key)
	}
	m.byID[key] = ev
}

func (m *MemoryStore) GetAll(ctx context.Context) ([]events.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]events.Event, 0, len(m.order))
	for _, key := range m.order {
		out = append(out, m.byID[key])
	}
	return out, nil
}

func (m *MemoryStore) GetByID(ctx context.Context, id hlc.HLC) (events.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ev, ok := m.byID[id.String()]
	if !ok {
		return events.Event{}, ErrNotFound
	}
	return ev, nil
}

func (m *MemoryStore) DeleteAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.order = nil
	m.byID = make(map[string]events.Event)
	return nil
}

func (m *MemoryStore) Dispose() error {
	return m.DeleteAll(context.Background())
}
