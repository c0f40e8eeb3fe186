package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"bluewatch/internal/config"
	"bluewatch/internal/devices"
	"bluewatch/internal/events"
	"bluewatch/internal/logging"
	"bluewatch/internal/metrics"
	"bluewatch/internal/model"
	"bluewatch/internal/notify"
	"bluewatch/internal/sessions"
	"bluewatch/internal/vendor"
)

func testEngine(t *testing.T, mutate func(*config.Config)) *Engine {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Vendor.Enabled = false
	cfg.Storage.Enabled = false
	cfg.Ingest.DedupeWindow = 0
	if mutate != nil {
		mutate(cfg)
	}
	return NewEngine(cfg, Deps{
		Logger:   logging.NewLogger("error"),
		Metrics:  metrics.New(),
		Devices:  devices.NewStore(nil),
		Sessions: sessions.NewBuilder(cfg.Sessions.GapThreshold),
		Events:   events.NewStore(100),
	})
}

func sighting(addr string, ts time.Time, rssi int) model.Sighting {
	return model.Sighting{Address: addr, Timestamp: ts, RSSI: rssi, Source: "rest"}
}

func TestProcessSightingBuildsState(t *testing.T) {
	e := testEngine(t, nil)
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	addr := "04:E8:B9:DD:EE:FF"

	e.ProcessSighting(sighting(addr, base, -60))
	e.ProcessSighting(sighting(addr, base.Add(time.Minute), -62))

	dev, ok := e.devices.Get(addr)
	if !ok || dev.SightingCount != 2 {
		t.Fatalf("device state: %+v ok=%v", dev, ok)
	}
	open, ok := e.sessions.Open(addr)
	if !ok || open.SightingCount != 2 {
		t.Fatalf("session state: %+v ok=%v", open, ok)
	}
	if e.ProcessedCount() != 2 {
		t.Fatalf("processed count: %d", e.ProcessedCount())
	}
}

func TestRandomizedAddressCountedNotTracked(t *testing.T) {
	e := testEngine(t, nil)
	// locally administered bit set in the first octet
	e.ProcessSighting(sighting("7A:11:22:33:44:55", time.Now(), -60))

	if e.RandomizedCount() != 1 {
		t.Fatalf("randomized count: %d", e.RandomizedCount())
	}
	if e.devices.Count() != 0 {
		t.Fatal("randomized address must not create a device")
	}
	if e.sessions.OpenCount() != 0 {
		t.Fatal("randomized address must not open a session")
	}
}

func TestDedupeSuppressesRedelivery(t *testing.T) {
	e := testEngine(t, func(cfg *config.Config) {
		cfg.Ingest.DedupeWindow = 2 * time.Second
	})
	sg := sighting("04:E8:B9:DD:EE:FF", time.Now().UTC(), -60)
	e.ProcessSighting(sg)
	e.ProcessSighting(sg)

	dev, _ := e.devices.Get(sg.Address)
	if dev.SightingCount != 1 {
		t.Fatalf("duplicate was processed: count=%d", dev.SightingCount)
	}
}

func TestUnwatchedDevicePresenceTracked(t *testing.T) {
	e := testEngine(t, nil)
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	addr := "04:E8:B9:DD:EE:01"

	e.ProcessSighting(sighting(addr, base, -60))

	if !e.Tracker().Present(addr) {
		t.Fatal("unwatched device should still be tracked")
	}
	evs := e.events.List(0)
	if len(evs) != 1 || evs[0].Kind != model.PresenceArrived {
		t.Fatalf("want one arrival event, got %+v", evs)
	}

	e.Tracker().Sweep(base.Add(time.Hour), e.config().Presence)
	evs = e.events.List(0)
	if len(evs) != 2 || evs[1].Kind != model.PresenceLeft {
		t.Fatalf("want departure event, got %+v", evs)
	}
}

func TestIgnoredDeviceDroppedFromPresence(t *testing.T) {
	e := testEngine(t, nil)
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	addr := "04:E8:B9:DD:EE:05"

	e.ProcessSighting(sighting(addr, base, -60))
	e.devices.SetIgnored(context.Background(), addr, true)
	e.ForgetPresence(addr)

	if e.Tracker().Present(addr) {
		t.Fatal("ignored device still present")
	}
	e.ProcessSighting(sighting(addr, base.Add(time.Minute), -60))
	if e.Tracker().Present(addr) {
		t.Fatal("ignored device re-entered presence tracking")
	}
	// silent removal: no departure event
	evs := e.events.List(0)
	if len(evs) != 1 || evs[0].Kind != model.PresenceArrived {
		t.Fatalf("want only the original arrival, got %+v", evs)
	}
}

type recordingSender struct {
	mu    sync.Mutex
	kinds []model.PresenceKind
}

func (r *recordingSender) Name() string { return "recording" }

func (r *recordingSender) Send(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	r.kinds = append(r.kinds, n.Event.Kind)
	r.mu.Unlock()
	return nil
}

func (r *recordingSender) sent() []model.PresenceKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.PresenceKind(nil), r.kinds...)
}

func TestPresenceNotificationsOnlyForWatched(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Vendor.Enabled = false
	cfg.Storage.Enabled = false
	cfg.Ingest.DedupeWindow = 0

	sender := &recordingSender{}
	dispatcher := notify.NewDispatcher(cfg.Notify, []notify.Sender{sender}, logging.NewLogger("error"))
	dispatcher.Start()

	e := NewEngine(cfg, Deps{
		Logger:     logging.NewLogger("error"),
		Metrics:    metrics.New(),
		Devices:    devices.NewStore(nil),
		Sessions:   sessions.NewBuilder(cfg.Sessions.GapThreshold),
		Events:     events.NewStore(100),
		Dispatcher: dispatcher,
	})

	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	addr := "04:E8:B9:DD:EE:06"
	ctx := context.Background()

	// arrival while unwatched is recorded but not delivered
	e.ProcessSighting(sighting(addr, base, -60))

	// watched at departure time, so the departure notifies
	e.devices.SetWatched(ctx, addr, true)
	e.Tracker().Sweep(base.Add(time.Hour), cfg.Presence)

	// still watched, re-arrival notifies
	e.ProcessSighting(sighting(addr, base.Add(2*time.Hour), -60))

	// unwatched again, the next departure is silent
	e.devices.SetWatched(ctx, addr, false)
	e.Tracker().Sweep(base.Add(3*time.Hour), cfg.Presence)

	dispatcher.Stop()

	got := sender.sent()
	want := []model.PresenceKind{model.PresenceLeft, model.PresenceArrived}
	if len(got) != len(want) {
		t.Fatalf("sent notifications: %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sent notifications: %v, want %v", got, want)
		}
	}

	evs := e.events.List(0)
	if len(evs) != 4 {
		t.Fatalf("all transitions should be recorded, got %+v", evs)
	}
}

func TestNewDeviceEventWhenEnabled(t *testing.T) {
	e := testEngine(t, func(cfg *config.Config) {
		cfg.Notify.NewDevice = true
	})
	e.ProcessSighting(sighting("04:E8:B9:DD:EE:02", time.Now().UTC(), -60))

	evs := e.events.List(0)
	if len(evs) != 2 || evs[0].Kind != model.PresenceNewDevice || evs[1].Kind != model.PresenceArrived {
		t.Fatalf("want new_device then arrival, got %+v", evs)
	}
}

func TestSessionRotationPersistsClosed(t *testing.T) {
	e := testEngine(t, nil)
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	addr := "04:E8:B9:DD:EE:03"

	e.ProcessSighting(sighting(addr, base, -60))
	e.ProcessSighting(sighting(addr, base.Add(time.Hour), -60))

	open, ok := e.sessions.Open(addr)
	if !ok || !open.StartTime.Equal(base.Add(time.Hour)) {
		t.Fatalf("session did not rotate: %+v", open)
	}
}

func TestVendorLookupForExistingDevice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("Acme Radio Oy"))
	}))
	defer srv.Close()

	cfg := config.DefaultConfig()
	cfg.Storage.Enabled = false
	cfg.Ingest.DedupeWindow = 0
	cfg.Vendor.Enabled = false

	enabled := cfg.Vendor
	enabled.Enabled = true
	enabled.LookupURL = srv.URL
	resolver, err := vendor.NewResolver(enabled, logging.NewLogger("error"))
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}

	e := NewEngine(cfg, Deps{
		Logger:   logging.NewLogger("error"),
		Metrics:  metrics.New(),
		Devices:  devices.NewStore(nil),
		Sessions: sessions.NewBuilder(cfg.Sessions.GapThreshold),
		Events:   events.NewStore(100),
		Resolver: resolver,
	})

	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	addr := "D0:03:4B:DD:EE:07"

	// device created while lookups are off, so it has no vendor yet
	e.ProcessSighting(sighting(addr, base, -60))
	if dev, _ := e.devices.Get(addr); dev.Vendor != "" {
		t.Fatalf("unexpected vendor: %q", dev.Vendor)
	}

	next := config.DefaultConfig()
	next.Storage.Enabled = false
	next.Ingest.DedupeWindow = 0
	next.Vendor = enabled
	e.UpdateConfig(next)

	// a later sighting of the still-unlabelled device dispatches the lookup
	e.ProcessSighting(sighting(addr, base.Add(time.Minute), -60))

	deadline := time.Now().Add(2 * time.Second)
	for {
		if dev, _ := e.devices.Get(addr); dev.Vendor == "Acme Radio Oy" {
			break
		}
		if time.Now().After(deadline) {
			dev, _ := e.devices.Get(addr)
			t.Fatalf("vendor never resolved: %+v", dev)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
