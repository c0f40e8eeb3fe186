// Package events keeps a bounded in-memory history of presence transitions
// for the API. The feed is a convenience view; durable history lives in the
// session and sighting tables.
package events

import (
	"sync"
	"time"

	"bluewatch/internal/model"
)

type Store struct {
	mu    sync.RWMutex
	buf   []model.PresenceEvent
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit}
}

func (s *Store) Add(ev model.PresenceEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, ev)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = ev
}

// List returns the newest events, oldest first.
func (s *Store) List(limit int) []model.PresenceEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.PresenceEvent, 0, limit)
	start := len(s.buf) - limit
	if start < 0 {
		start = 0
	}
	for i := start; i < len(s.buf); i++ {
		out = append(out, s.buf[i])
	}
	return out
}

func (s *Store) Since(ts time.Time) []model.PresenceEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.PresenceEvent, 0)
	for _, ev := range s.buf {
		if !ev.Timestamp.Before(ts) {
			out = append(out, ev)
		}
	}
	return out
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
