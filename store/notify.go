package store

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/tomyedwab/hindsight/events"
)

// Notification is one message on the store's broadcast channel: either an
// event at the moment it was dispatched, or a reset marker (Event nil,
// Reset true) after the store was cleared.
type Notification struct {
	Event *events.Event
	Reset bool
}

// subscriberBuffer bounds how far a subscriber may fall behind before
// notifications are dropped. Dispatch holds the store's writer mutex, so a
// blocking send to a stalled subscriber would stall every producer.
const subscriberBuffer = 64

// Subscribe registers a notification channel. Subscribers receive only
// events dispatched after subscription; this is not a replay channel.
// Callers needing full history should use Watch, which takes the snapshot
// and subscribes under one lock.
func (s *Store) Subscribe() chan Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribeLocked()
}

func (s *Store) subscribeLocked() chan Notification {
	ch := make(chan Notification, subscriberBuffer)
	if s.state == StateDisposed {
		// A disposed store has no live channels to hand out; return a
		// closed one so receivers terminate immediately.
		close(ch)
		return ch
	}
	s.subscribers = append(s.subscribers, ch)
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe or Watch.
func (s *Store) Unsubscribe(ch chan Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, subscriber := range s.subscribers {
		if subscriber == ch {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			close(ch)
			return
		}
	}
}

// Watch returns a snapshot of all persisted events together with a
// subscription registered atomically with the snapshot, so no event can be
// dispatched between the two. This closes the history gap that a separate
// GetAll-then-Subscribe sequence leaves open.
func (s *Store) Watch(ctx context.Context) ([]events.Event, chan Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisposed {
		return nil, nil, ErrDisposed
	}
	snapshot, err := s.backend.GetAll(ctx)
	if err != nil {
		return nil, nil, err
	}
	return snapshot, s.subscribeLocked(), nil
}

func (s *Store) notifyLocked(n Notification) {
	for _, subscriber := range s.subscribers {
		select {
		case subscriber <- n:
		default:
			log.Warn().
				Int("buffer", subscriberBuffer).
				Msg("event store subscriber is not keeping up; dropping notification")
		}
	}
}
