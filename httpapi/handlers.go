// Package httpapi exposes the event store to application and UI layers over
// HTTP: publish, snapshot, lookup and long-poll endpoints, with a small
// middleware chain for logging, CORS and optional bearer auth.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tomyedwab/hindsight/events"
	"github.com/tomyedwab/hindsight/hlc"
	"github.com/tomyedwab/hindsight/store"
)

// DefaultPollTimeout bounds how long /api/poll waits for a newer event
// before returning 304 Not Modified to a speculatively polling client.
const DefaultPollTimeout = 50 * time.Second

// Server serves the store's boundary API. Events published without an id
// are stamped from the server's clock generator.
type Server struct {
	store       *store.Store
	clock       *hlc.Generator
	pollTimeout time.Duration
	authSecret  []byte
}

// Option configures a Server.
type Option func(*Server)

// WithAuthSecret enables JWT bearer authentication on every endpoint.
func WithAuthSecret(secret []byte) Option {
	return func(s *Server) {
		s.authSecret = secret
	}
}

// WithPollTimeout overrides the long-poll timeout.
func WithPollTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.pollTimeout = d
	}
}

// NewServer wraps a store and a clock generator.
func NewServer(st *store.Store, clock *hlc.Generator, opts ...Option) *Server {
	s := &Server{
		store:       st,
		clock:       clock,
		pollTimeout: DefaultPollTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register installs the API handlers on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/status", s.apply(s.handleStatus))
	mux.HandleFunc("/api/publish", s.apply(s.handlePublish))
	mux.HandleFunc("/api/events", s.apply(s.handleEvents))
	mux.HandleFunc("/api/event", s.apply(s.handleEvent))
	mux.HandleFunc("/api/poll", s.apply(s.handlePoll))
}

// apply wraps a handler in the default middleware chain, innermost first.
func (s *Server) apply(h http.HandlerFunc) http.HandlerFunc {
	middleware := []func(http.HandlerFunc) http.HandlerFunc{}
	if s.authSecret != nil {
		middleware = append(middleware, LoginRequired(s.authSecret))
	}
	middleware = append(middleware, EnableCrossOrigin, LogRequests)
	return Chain(h, middleware...)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "ok")
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Invalid method", http.StatusMethodNotAllowed)
		return
	}

	buf, err := io.ReadAll(r.Body)
	if err != nil {
		HandleAPIResponse(w, r, nil, err, http.StatusBadRequest)
		return
	}
	var ev events.Event
	if err := json.Unmarshal(buf, &ev); err != nil {
		HandleAPIResponse(w, r, nil, err, http.StatusBadRequest)
		return
	}
	if ev.Type == "" {
		HandleAPIResponse(w, r, nil, fmt.Errorf("missing event type"), http.StatusBadRequest)
		return
	}
	if ev.ID.IsZero() {
		ev.ID = s.clock.Now()
	}

	if err := s.store.Add(r.Context(), ev); err != nil {
		HandleAPIResponse(w, r, nil, err, http.StatusInternalServerError)
		return
	}
	HandleAPIResponse(w, r, map[string]interface{}{
		"status": "success",
		"id":     ev.ID.String(),
	}, nil, http.StatusOK)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	all, err := s.store.GetAll(r.Context())
	if err != nil {
		HandleAPIResponse(w, r, nil, err, http.StatusInternalServerError)
		return
	}
	HandleAPIResponse(w, r, map[string]interface{}{"events": all}, nil, http.StatusOK)
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	id, err := hlc.Parse(r.URL.Query().Get("id"))
	if err != nil {
		HandleAPIResponse(w, r, nil, err, http.StatusBadRequest)
		return
	}
	ev, err := s.store.GetByID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		HandleAPIResponse(w, r, nil, err, http.StatusNotFound)
		return
	}
	if err != nil {
		HandleAPIResponse(w, r, nil, err, http.StatusInternalServerError)
		return
	}
	HandleAPIResponse(w, r, ev, nil, http.StatusOK)
}

// handlePoll waits for an event newer than the "after" identifier. The
// snapshot and the subscription are taken atomically, so an event dispatched
// between them cannot be missed. A poll that sees nothing newer within the
// timeout returns 304 Not Modified, the signal to the client that it is
// speculatively polling.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	afterStr := r.URL.Query().Get("after")
	var after hlc.HLC
	if afterStr != "" {
		var err error
		after, err = hlc.Parse(afterStr)
		if err != nil {
			HandleAPIResponse(w, r, nil, err, http.StatusBadRequest)
			return
		}
	}

	snapshot, ch, err := s.store.Watch(r.Context())
	if err != nil {
		HandleAPIResponse(w, r, nil, err, http.StatusInternalServerError)
		return
	}
	defer s.store.Unsubscribe(ch)

	for _, ev := range snapshot {
		if hlc.Compare(ev.ID, after) > 0 {
			HandleAPIResponse(w, r, map[string]interface{}{"id": ev.ID.String()}, nil, http.StatusOK)
			return
		}
	}

	timeout := time.NewTimer(s.pollTimeout)
	defer timeout.Stop()
	for {
		select {
		case n, ok := <-ch:
			if !ok {
				http.Error(w, "Event store disposed", http.StatusGone)
				return
			}
			if n.Event != nil && hlc.Compare(n.Event.ID, after) > 0 {
				HandleAPIResponse(w, r, map[string]interface{}{"id": n.Event.ID.String()}, nil, http.StatusOK)
				return
			}
		case <-timeout.C:
			http.Error(w, fmt.Sprintf("Timed out while waiting for an event after %s", afterStr), http.StatusNotModified)
			return
		case <-r.Context().Done():
			return
		}
	}
}
