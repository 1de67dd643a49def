package medium

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// Hub is an in-process shared medium. Every participant attaches its own
// Session; a write through one session is delivered to the subscribers of
// all other sessions, never to its own.
type Hub struct {
	mu       sync.Mutex
	values   map[string]string
	sessions map[*Session]struct{}
}

func NewHub() *Hub {
	return &Hub{
		values:   make(map[string]string),
		sessions: make(map[*Session]struct{}),
	}
}

// Attach opens a new participant session on the hub.
func (h *Hub) Attach() *Session {
	s := &Session{hub: h}
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Snapshot returns a copy of every key and value currently stored.
func (h *Hub) Snapshot() map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]string, len(h.values))
	for k, v := range h.values {
		out[k] = v
	}
	return out
}

func (h *Hub) write(origin *Session, key string, value string, del bool) (Change, []Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	old, had := h.values[key]
	if del {
		if !had {
			return Change{}, nil
		}
		delete(h.values, key)
	} else {
		if had && old == value {
			return Change{}, nil
		}
		h.values[key] = value
	}
	change := Change{Key: key, OldValue: old, HadOld: had, Deleted: del}
	if !del {
		change.NewValue = value
	}
	targets := make([]Subscriber, 0, len(h.sessions))
	for s := range h.sessions {
		if s == origin {
			continue
		}
		if sub := s.currentSubscriber(); sub != nil {
			targets = append(targets, sub)
		}
	}
	return change, targets
}

func (h *Hub) deliver(ctx context.Context, change Change, targets []Subscriber) {
	for _, sub := range targets {
		if err := sub.Handle(ctx, change); err != nil {
			slog.Warn("subscriber failed to handle change", "key", change.Key, "err", err)
		}
	}
}

// Session is one participant's handle on a Hub.
type Session struct {
	hub *Hub

	mu         sync.Mutex
	subscriber Subscriber
	closed     bool
}

func (s *Session) currentSubscriber() Subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.subscriber
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) Set(ctx context.Context, key, value string) error {
	if s.isClosed() {
		return ErrClosed
	}
	change, targets := s.hub.write(s, key, value, false)
	s.hub.deliver(ctx, change, targets)
	return nil
}

func (s *Session) Get(ctx context.Context, key string) (string, bool, error) {
	if s.isClosed() {
		return "", false, ErrClosed
	}
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	v, ok := s.hub.values[key]
	return v, ok, nil
}

func (s *Session) Delete(ctx context.Context, key string) error {
	if s.isClosed() {
		return ErrClosed
	}
	change, targets := s.hub.write(s, key, "", true)
	s.hub.deliver(ctx, change, targets)
	return nil
}

func (s *Session) Keys(ctx context.Context) ([]string, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	keys := make([]string, 0, len(s.hub.values))
	for k := range s.hub.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Subscribe replaces any previously registered subscriber.
func (s *Session) Subscribe(ctx context.Context, subscriber Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.subscriber = subscriber
	return nil
}

func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.subscriber = nil
	s.mu.Unlock()

	s.hub.mu.Lock()
	delete(s.hub.sessions, s)
	s.hub.mu.Unlock()
	return nil
}

// compile-time interface assertions
var _ Medium = (*Session)(nil)
