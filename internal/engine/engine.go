package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"bluewatch/internal/btaddr"
	"bluewatch/internal/config"
	"bluewatch/internal/correlation"
	"bluewatch/internal/devices"
	"bluewatch/internal/events"
	"bluewatch/internal/metrics"
	"bluewatch/internal/model"
	"bluewatch/internal/notify"
	"bluewatch/internal/presence"
	"bluewatch/internal/sessions"
	"bluewatch/internal/storage"
	"bluewatch/internal/vendor"
)

const logCooldown = time.Minute

// Engine is the ingestion pipeline. Sightings fan out to a fixed set of
// workers pinned by address hash, so all sightings for one device are
// processed in order without a global lock. Periodic work (presence sweep,
// session idle close, correlation refresh, retention) runs on its own
// goroutine beside the workers.
type Engine struct {
	logger     *slog.Logger
	metrics    *metrics.Metrics
	store      storage.Store
	devices    *devices.Store
	sessions   *sessions.Builder
	tracker    *presence.Tracker
	corrView   *correlation.View
	events     *events.Store
	dispatcher *notify.Dispatcher
	resolver   *vendor.Resolver

	cfg      atomic.Value
	cooldown *Cooldown
	deDupe   *DedupeCache

	randomized atomic.Uint64
	processed  atomic.Uint64

	workers []chan model.Sighting
	wg      sync.WaitGroup
	started time.Time
}

type Deps struct {
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	Store      storage.Store
	Devices    *devices.Store
	Sessions   *sessions.Builder
	Events     *events.Store
	Dispatcher *notify.Dispatcher
	Resolver   *vendor.Resolver
}

func NewEngine(cfg *config.Config, deps Deps) *Engine {
	e := &Engine{
		logger:     deps.Logger,
		metrics:    deps.Metrics,
		store:      deps.Store,
		devices:    deps.Devices,
		sessions:   deps.Sessions,
		events:     deps.Events,
		dispatcher: deps.Dispatcher,
		resolver:   deps.Resolver,
		corrView:   correlation.NewView(),
		cooldown:   NewCooldown(),
		deDupe:     NewDedupeCache(),
		started:    time.Now().UTC(),
	}
	e.cfg.Store(cfg)
	e.tracker = presence.NewTracker(e.handlePresence)
	return e
}

func (e *Engine) UpdateConfig(cfg *config.Config) {
	e.cfg.Store(cfg)
	e.sessions.SetGap(cfg.Sessions.GapThreshold)
}

func (e *Engine) config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

func (e *Engine) Tracker() *presence.Tracker { return e.tracker }
func (e *Engine) Started() time.Time         { return e.started }
func (e *Engine) RandomizedCount() uint64    { return e.randomized.Load() }
func (e *Engine) ProcessedCount() uint64     { return e.processed.Load() }

func (e *Engine) PresentAddresses() []string { return e.tracker.Snapshot() }

// ForgetPresence drops an address from the presence tracker so no departure
// fires for a device that was just ignored or deleted.
func (e *Engine) ForgetPresence(address string) { e.tracker.Forget(address) }

func (e *Engine) DeviceStore() *devices.Store       { return e.devices }
func (e *Engine) SessionBuilder() *sessions.Builder { return e.sessions }
func (e *Engine) EventStore() *events.Store         { return e.events }

func (e *Engine) CorrelationEdges(limit int) ([]model.CorrelationEdge, time.Time) {
	return e.corrView.Edges(limit)
}

func (e *Engine) CorrelationsFor(address string) []model.CorrelationEdge {
	return e.corrView.ForAddress(address)
}

// Start launches the worker pool and the sweep loop. The route goroutine
// stops on ctx cancellation, closes the worker channels, and the workers
// drain whatever is still buffered before Stop returns.
func (e *Engine) Start(ctx context.Context, in <-chan model.Sighting) {
	n := e.config().Ingest.Workers
	if n <= 0 {
		n = 8
	}
	e.workers = make([]chan model.Sighting, n)
	for i := range e.workers {
		ch := make(chan model.Sighting, 256)
		e.workers[i] = ch
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for sg := range ch {
				e.ProcessSighting(sg)
			}
		}()
	}
	e.wg.Add(1)
	go e.route(ctx, in)
	e.wg.Add(1)
	go e.runPeriodic(ctx)
}

func (e *Engine) route(ctx context.Context, in <-chan model.Sighting) {
	defer e.wg.Done()
	defer func() {
		for _, ch := range e.workers {
			close(ch)
		}
	}()
	for {
		select {
		case sg, ok := <-in:
			if !ok {
				return
			}
			idx := devices.ShardIndex(sg.Address, len(e.workers))
			select {
			case e.workers[idx] <- sg:
			default:
				e.metrics.SightingsDropped.Inc()
				if e.cooldown.AllowKey("worker_full", logCooldown) {
					e.logger.Warn("worker queue full, dropping sighting", "address", sg.Address)
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// Stop waits for the workers and sweep loop to finish. Callers cancel the
// Start context first.
func (e *Engine) Stop() {
	e.wg.Wait()
	e.flushOpenSessions()
}

// ProcessSighting applies one validated sighting to every analytics layer.
// Callers must ensure per-address ordering; the worker pinning in Start does
// this for the live pipeline.
func (e *Engine) ProcessSighting(sg model.Sighting) {
	cfg := e.config()
	ctx := context.Background()

	if window := cfg.Ingest.DedupeWindow; window > 0 {
		if e.deDupe.Seen(dedupeKey(sg), time.Now().UTC(), window) {
			return
		}
	}

	e.processed.Add(1)
	e.metrics.SightingsIngested.WithLabelValues(sourceLabel(sg.Source)).Inc()

	// Randomized addresses rotate too fast to form stable identities. They
	// are counted for the status view and otherwise skipped.
	if btaddr.IsRandomized(sg.Address) {
		e.randomized.Add(1)
		return
	}

	// A failed sighting write aborts the whole attempt: no identity,
	// session, or presence update happens for a sighting that was never
	// durably recorded.
	if e.store != nil {
		if err := e.store.SaveSighting(ctx, sg); err != nil {
			if e.cooldown.AllowKey("save_sighting", logCooldown) {
				e.logger.Error("sighting persist failed", "err", err)
			}
			return
		}
	}

	dev, created, err := e.devices.Observe(ctx, sg)
	if err != nil {
		if e.cooldown.AllowKey("save_device", logCooldown) {
			e.logger.Error("device persist failed", "address", sg.Address, "err", err)
		}
	}
	e.metrics.DevicesTracked.Set(float64(e.devices.Count()))

	if created {
		e.logger.Info("new device",
			"address", dev.Address,
			"type", string(dev.TypeLabel),
			"rssi", sg.RSSI,
			"source", sg.Source)
		if cfg.Notify.NewDevice && !dev.Ignored {
			e.handlePresence(model.PresenceEvent{
				Address:   dev.Address,
				Kind:      model.PresenceNewDevice,
				Timestamp: sg.Timestamp,
			})
		}
	}

	_, closed := e.sessions.Ingest(sg.Address, sg.Timestamp, sg.RSSI)
	if closed != nil {
		e.metrics.SessionsClosed.Inc()
		e.saveSession(ctx, *closed)
	}
	if open, ok := e.sessions.Open(sg.Address); ok {
		e.saveSession(ctx, open)
	}
	e.metrics.SessionsOpen.Set(float64(e.sessions.OpenCount()))

	// Every non-ignored device is tracked so arrival and departure history
	// stays complete; whether a transition notifies is decided at delivery
	// time from the current watched flag.
	if !dev.Ignored {
		e.tracker.Observe(sg.Address, sg.Timestamp, cfg.Presence)
	}

	if cfg.Vendor.Enabled && e.resolver != nil && dev.Vendor == "" {
		go e.lookupVendor(dev.Address)
	}
}

// lookupVendor runs outside the worker so a slow lookup service never stalls
// the per-address pipeline. The result folds back in through ApplyVendor.
func (e *Engine) lookupVendor(address string) {
	cfg := e.config()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Vendor.Timeout+time.Second)
	defer cancel()

	name, err := e.resolver.Lookup(ctx, address)
	if err != nil {
		e.metrics.VendorLookups.WithLabelValues("error").Inc()
		if e.cooldown.AllowKey("vendor_lookup", logCooldown) {
			e.logger.Warn("vendor lookup failed", "address", address, "err", err)
		}
		return
	}
	if name == "" {
		e.metrics.VendorLookups.WithLabelValues("miss").Inc()
		return
	}
	e.metrics.VendorLookups.WithLabelValues("hit").Inc()
	if _, err := e.devices.ApplyVendor(context.Background(), address, name); err != nil {
		if e.cooldown.AllowKey("save_device", logCooldown) {
			e.logger.Error("device persist failed", "address", address, "err", err)
		}
	}
}

func (e *Engine) saveSession(ctx context.Context, sess model.Session) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveSession(ctx, sess); err != nil {
		if e.cooldown.AllowKey("save_session", logCooldown) {
			e.logger.Error("session persist failed", "err", err)
		}
	}
}

// handlePresence is the single sink for presence transitions: feed the event
// store, bump counters, and hand a composed message to the dispatcher when
// that kind is enabled.
func (e *Engine) handlePresence(ev model.PresenceEvent) {
	cfg := e.config()
	e.events.Add(ev)
	e.metrics.PresenceEvents.WithLabelValues(string(ev.Kind)).Inc()

	enabled := false
	switch ev.Kind {
	case model.PresenceArrived:
		enabled = cfg.Notify.WatchedArrive
	case model.PresenceLeft:
		enabled = cfg.Notify.WatchedLeave
	case model.PresenceNewDevice:
		enabled = cfg.Notify.NewDevice
	}
	if !enabled || e.dispatcher == nil {
		return
	}
	// Arrival and departure notifications go out only for devices watched
	// at delivery time; the transitions themselves are recorded for all.
	if ev.Kind == model.PresenceArrived || ev.Kind == model.PresenceLeft {
		dev, ok := e.devices.Get(ev.Address)
		if !ok || !dev.Watched || dev.Ignored {
			return
		}
	}
	e.dispatcher.Publish(notify.Notification{
		Title: notifyTitle(ev),
		Body:  e.notifyBody(ev),
		Event: ev,
	})
}

func notifyTitle(ev model.PresenceEvent) string {
	switch ev.Kind {
	case model.PresenceArrived:
		return "Device arrived"
	case model.PresenceLeft:
		return "Device left"
	}
	return "New device"
}

func (e *Engine) notifyBody(ev model.PresenceEvent) string {
	name := ev.Address
	if dev, ok := e.devices.Get(ev.Address); ok {
		if dev.FriendlyName != "" {
			name = dev.FriendlyName
		} else if dev.LastName != "" {
			name = dev.LastName
		}
		if dev.TypeLabel != model.TypeUnknown {
			name = fmt.Sprintf("%s (%s)", name, dev.TypeLabel)
		}
	}
	switch ev.Kind {
	case model.PresenceArrived:
		return fmt.Sprintf("%s is back, seen at %s", name, ev.Timestamp.Format(time.Kitchen))
	case model.PresenceLeft:
		return fmt.Sprintf("%s left, last seen at %s", name, ev.Timestamp.Format(time.Kitchen))
	}
	return fmt.Sprintf("First contact with %s", name)
}

func (e *Engine) runPeriodic(ctx context.Context) {
	defer e.wg.Done()
	cfg := e.config()

	sweep := time.NewTicker(orDefault(cfg.Presence.SweepInterval, time.Minute))
	defer sweep.Stop()
	correlate := time.NewTicker(orDefault(cfg.Correlation.RefreshInterval, 15*time.Minute))
	defer correlate.Stop()
	cleanup := time.NewTicker(orDefault(cfg.Storage.CleanupEvery, 6*time.Hour))
	defer cleanup.Stop()

	for {
		select {
		case <-sweep.C:
			now := time.Now().UTC()
			e.tracker.Sweep(now, e.config().Presence)
			for _, sess := range e.sessions.CloseIdle(now) {
				e.metrics.SessionsClosed.Inc()
				e.saveSession(ctx, *sess)
			}
			e.metrics.SessionsOpen.Set(float64(e.sessions.OpenCount()))
		case <-correlate.C:
			e.RefreshCorrelations(ctx)
		case <-cleanup.C:
			e.runCleanup(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RefreshCorrelations recomputes the co-occurrence view from stored sighting
// history. Exposed so the API can force a refresh.
func (e *Engine) RefreshCorrelations(ctx context.Context) {
	if e.store == nil {
		return
	}
	cfg := e.config().Correlation
	since := time.Now().UTC().AddDate(0, 0, -cfg.WindowDays)
	byAddress, err := e.store.AllSightingTimes(ctx, since)
	if err != nil {
		e.logger.Error("correlation refresh failed", "err", err)
		return
	}
	windows := make(map[string]correlation.WindowSet, len(byAddress))
	for addr, times := range byAddress {
		if len(times) < cfg.MinSightings {
			continue
		}
		windows[addr] = correlation.BuildWindows(times, cfg.WindowSeconds)
	}
	edges := correlation.Correlate(windows, cfg)
	e.corrView.Update(edges)
	e.metrics.CorrelationRefresh.Inc()
	e.metrics.CorrelationEdges.Set(float64(len(edges)))
	e.logger.Info("correlation view refreshed", "devices", len(windows), "edges", len(edges))
}

func (e *Engine) runCleanup(ctx context.Context) {
	if e.store == nil {
		return
	}
	cfg := e.config().Storage
	cutoff := time.Now().UTC().AddDate(0, 0, -cfg.RetentionDays)
	deleted, err := e.store.CleanupSightings(ctx, cutoff)
	if err != nil {
		e.logger.Error("retention cleanup failed", "err", err)
		return
	}
	if deleted > 0 {
		e.logger.Info("retention cleanup", "deleted", deleted, "cutoff", cutoff)
	}
}

// Restore seeds in-memory state from storage at startup: the device arena,
// presence state for non-ignored devices, and open session tails stay closed
// (a restart gap reads as absence anyway).
func (e *Engine) Restore(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	devs, err := e.store.Devices(ctx)
	if err != nil {
		return fmt.Errorf("restore devices: %w", err)
	}
	e.devices.Restore(devs)
	e.metrics.DevicesTracked.Set(float64(len(devs)))

	now := time.Now().UTC()
	cfg := e.config().Presence
	for _, d := range devs {
		if !d.Ignored {
			e.tracker.Seed(d.Address, d.LastSeen, now, cfg)
		}
	}
	e.logger.Info("state restored", "devices", len(devs))
	return nil
}

func (e *Engine) flushOpenSessions() {
	ctx := context.Background()
	for _, sess := range e.sessions.SnapshotOpen() {
		e.saveSession(ctx, sess)
	}
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

func sourceLabel(source string) string {
	if source == "" {
		return "unknown"
	}
	return source
}
