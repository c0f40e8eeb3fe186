package sessions

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"bluewatch/internal/model"
)

// Builder converts the per-device sighting stream into dwell sessions. It
// keeps exactly one open session per device; everything older is immutable.
// Work per sighting is O(1): the mean RSSI is folded in incrementally, so no
// raw RSSI history is retained.
type Builder struct {
	mu   sync.RWMutex
	open map[string]*model.Session
	gap  time.Duration
}

func NewBuilder(gap time.Duration) *Builder {
	if gap <= 0 {
		gap = 15 * time.Minute
	}
	return &Builder{
		open: make(map[string]*model.Session),
		gap:  gap,
	}
}

// SetGap updates the gap threshold for subsequent ingests. Already-open
// sessions are judged against the new threshold from the next sighting on.
func (b *Builder) SetGap(gap time.Duration) {
	if gap <= 0 {
		return
	}
	b.mu.Lock()
	b.gap = gap
	b.mu.Unlock()
}

// Ingest applies one sighting. It returns the ID of the session the sighting
// landed in and, when the gap threshold rotated the tail, the session that
// just closed (for the caller to persist). Callers must serialize Ingest per
// device address; sightings for different devices may arrive concurrently.
func (b *Builder) Ingest(address string, ts time.Time, rssi int) (string, *model.Session) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cur := b.open[address]
	if cur != nil && ts.Sub(cur.EndTime) <= b.gap {
		// Extend: running mean over the session's sightings.
		cur.SightingCount++
		cur.MeanRSSI += (float64(rssi) - cur.MeanRSSI) / float64(cur.SightingCount)
		if ts.After(cur.EndTime) {
			cur.EndTime = ts
		}
		return cur.ID, nil
	}

	var closed *model.Session
	if cur != nil {
		cur.Closed = true
		closed = cur
	}
	next := &model.Session{
		ID:            uuid.NewString(),
		Address:       address,
		StartTime:     ts,
		EndTime:       ts,
		SightingCount: 1,
		MeanRSSI:      float64(rssi),
	}
	b.open[address] = next
	return next.ID, closed
}

// Open returns a copy of the device's open session, if any.
func (b *Builder) Open(address string) (model.Session, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if s, ok := b.open[address]; ok {
		return *s, true
	}
	return model.Session{}, false
}

func (b *Builder) OpenCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.open)
}

// SnapshotOpen copies every open session, for presence restore and for
// merging with stored history on reads.
func (b *Builder) SnapshotOpen() []model.Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]model.Session, 0, len(b.open))
	for _, s := range b.open {
		out = append(out, *s)
	}
	return out
}

// CloseIdle force-closes open sessions whose last sighting is older than the
// gap threshold relative to now, returning them for persistence. Called from
// the periodic sweep so tails do not stay mutable across long absences.
func (b *Builder) CloseIdle(now time.Time) []*model.Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	var closed []*model.Session
	for addr, s := range b.open {
		if now.Sub(s.EndTime) > b.gap {
			s.Closed = true
			closed = append(closed, s)
			delete(b.open, addr)
		}
	}
	return closed
}

// Stats rolls up a session list for presentation: count, mean and longest
// dwell in minutes.
func Stats(sessions []model.Session) (count int, avgMinutes, longestMinutes float64) {
	count = len(sessions)
	if count == 0 {
		return 0, 0, 0
	}
	var total time.Duration
	var longest time.Duration
	for _, s := range sessions {
		d := s.Dwell()
		total += d
		if d > longest {
			longest = d
		}
	}
	avgMinutes = total.Minutes() / float64(count)
	longestMinutes = longest.Minutes()
	return count, avgMinutes, longestMinutes
}
