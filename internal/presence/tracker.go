package presence

import (
	"sync"
	"time"

	"bluewatch/internal/config"
	"bluewatch/internal/model"
)

// entry is the per-address state machine. A device is either present or
// absent; every transition emits exactly one event.
type entry struct {
	present  bool
	lastSeen time.Time
	leftAt   time.Time
}

// Tracker holds presence state for every tracked device. Sightings flip
// devices to present, the periodic sweep flips them back once they go quiet
// for longer than the departure timeout. Transitions are delivered through the sink; the sink
// must not block.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]*entry
	sink    func(model.PresenceEvent)
}

func NewTracker(sink func(model.PresenceEvent)) *Tracker {
	if sink == nil {
		sink = func(model.PresenceEvent) {}
	}
	return &Tracker{
		entries: make(map[string]*entry),
		sink:    sink,
	}
}

// Observe records a sighting of a tracked device. A device that was absent
// transitions to present; the arrival is only reported when the device had
// been away for at least the quiet period, so flapping near the departure
// boundary does not spam notifications. First contact always reports.
func (t *Tracker) Observe(address string, ts time.Time, cfg config.PresenceConfig) {
	t.mu.Lock()
	e, ok := t.entries[address]
	if !ok {
		e = &entry{}
		t.entries[address] = e
	}

	arrived := false
	if !e.present {
		e.present = true
		if e.leftAt.IsZero() || ts.Sub(e.leftAt) >= cfg.ArrivalQuietPeriod {
			arrived = true
		}
	}
	if ts.After(e.lastSeen) {
		e.lastSeen = ts
	}
	t.mu.Unlock()

	if arrived {
		t.sink(model.PresenceEvent{Address: address, Kind: model.PresenceArrived, Timestamp: ts})
	}
}

// Sweep flips devices that have gone quiet to absent. Called on a timer; the
// departure timestamp is the last sighting, not the sweep tick, so the event
// reflects when the device was actually last heard.
func (t *Tracker) Sweep(now time.Time, cfg config.PresenceConfig) {
	var departed []model.PresenceEvent

	t.mu.Lock()
	for addr, e := range t.entries {
		if e.present && now.Sub(e.lastSeen) > cfg.DepartureTimeout {
			e.present = false
			e.leftAt = e.lastSeen
			departed = append(departed, model.PresenceEvent{
				Address:   addr,
				Kind:      model.PresenceLeft,
				Timestamp: e.lastSeen,
			})
		}
	}
	t.mu.Unlock()

	for _, ev := range departed {
		t.sink(ev)
	}
}

// Seed restores state for a device at startup from its last recorded
// sighting. No event is emitted; the process restart is not a presence
// transition.
func (t *Tracker) Seed(address string, lastSeen, now time.Time, cfg config.PresenceConfig) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := &entry{lastSeen: lastSeen}
	if !lastSeen.IsZero() && now.Sub(lastSeen) <= cfg.DepartureTimeout {
		e.present = true
	} else {
		e.leftAt = lastSeen
	}
	t.entries[address] = e
}

// Forget drops tracking state when a device is ignored or deleted. Silent;
// removal is not a departure.
func (t *Tracker) Forget(address string) {
	t.mu.Lock()
	delete(t.entries, address)
	t.mu.Unlock()
}

// Present reports whether the device is currently considered present.
func (t *Tracker) Present(address string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[address]
	return ok && e.present
}

// Snapshot lists addresses currently present, for the status endpoint.
func (t *Tracker) Snapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for addr, e := range t.entries {
		if e.present {
			out = append(out, addr)
		}
	}
	return out
}
