package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bluewatch/internal/btaddr"
	"bluewatch/internal/classify"
	"bluewatch/internal/config"
	"bluewatch/internal/devices"
	"bluewatch/internal/events"
	"bluewatch/internal/metrics"
	"bluewatch/internal/model"
	"bluewatch/internal/patterns"
	"bluewatch/internal/proximity"
	"bluewatch/internal/sessions"
	"bluewatch/internal/storage"
)

// EngineView is the pipeline surface the API reads from and pokes at.
type EngineView interface {
	Started() time.Time
	ProcessedCount() uint64
	RandomizedCount() uint64
	PresentAddresses() []string
	CorrelationEdges(limit int) ([]model.CorrelationEdge, time.Time)
	CorrelationsFor(address string) []model.CorrelationEdge
	RefreshCorrelations(ctx context.Context)
	ForgetPresence(address string)
	UpdateConfig(cfg *config.Config)
}

type Server struct {
	cfg      *config.Manager
	devices  *devices.Store
	sessions *sessions.Builder
	store    storage.Store
	events   *events.Store
	engine   EngineView
	metrics  *metrics.Metrics
	logger   *slog.Logger
	version  string
}

type Deps struct {
	Devices  *devices.Store
	Sessions *sessions.Builder
	Store    storage.Store
	Events   *events.Store
	Engine   EngineView
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Version  string
}

func Start(ctx context.Context, cfg *config.Manager, deps Deps) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if deps.Logger != nil {
			deps.Logger.Info("api disabled")
		}
		return nil
	}
	if deps.Logger != nil {
		deps.Logger.Info("api enabled", "addr", current.Addr)
	}
	server := &Server{
		cfg:      cfg,
		devices:  deps.Devices,
		sessions: deps.Sessions,
		store:    deps.Store,
		events:   deps.Events,
		engine:   deps.Engine,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		version:  deps.Version,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/status", server.handleStatus)
	mux.HandleFunc("/devices", server.handleDevices)
	mux.HandleFunc("/devices/", server.handleDevice)
	mux.HandleFunc("/events", server.handleEvents)
	mux.HandleFunc("/correlations", server.handleCorrelations)
	mux.HandleFunc("/correlations/refresh", server.handleCorrelationsRefresh)
	if deps.Metrics != nil {
		mux.Handle("/metrics", deps.Metrics.Handler())
	}
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})

	httpServer := &http.Server{Addr: current.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if deps.Logger != nil {
				deps.Logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

type statusResponse struct {
	Status          string       `json:"status"`
	Time            string       `json:"time"`
	Version         string       `json:"version"`
	ConfigPath      string       `json:"config_path"`
	Uptime          string       `json:"uptime"`
	Devices         int          `json:"devices"`
	SessionsOpen    int          `json:"sessions_open"`
	Present         []string     `json:"present"`
	Processed       uint64       `json:"sightings_processed"`
	Randomized      uint64       `json:"randomized_skipped"`
	Ingest          ingestStatus `json:"ingest"`
	StorageDriver   string       `json:"storage_driver,omitempty"`
	CorrelationAge  string       `json:"correlation_age,omitempty"`
	CorrelationSize int          `json:"correlation_edges"`
}

type ingestStatus struct {
	REST      bool `json:"rest"`
	Kafka     bool `json:"kafka"`
	MQTT      bool `json:"mqtt"`
	TCPStream bool `json:"tcp_stream"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	edges, updated := s.engine.CorrelationEdges(0)
	resp := statusResponse{
		Status:       "ok",
		Time:         time.Now().UTC().Format(time.RFC3339Nano),
		Version:      s.version,
		ConfigPath:   s.cfg.Path(),
		Uptime:       time.Since(s.engine.Started()).Round(time.Second).String(),
		Devices:      s.devices.Count(),
		SessionsOpen: s.sessions.OpenCount(),
		Present:      s.engine.PresentAddresses(),
		Processed:    s.engine.ProcessedCount(),
		Randomized:   s.engine.RandomizedCount(),
		Ingest: ingestStatus{
			REST:      cfg.Ingest.REST.Enabled,
			Kafka:     cfg.Ingest.Kafka.Enabled,
			MQTT:      cfg.Ingest.MQTT.Enabled,
			TCPStream: cfg.Ingest.TCPStream.Enabled,
		},
		CorrelationSize: len(edges),
	}
	if cfg.Storage.Enabled {
		resp.StorageDriver = cfg.Storage.Driver
	}
	if !updated.IsZero() {
		resp.CorrelationAge = time.Since(updated).Round(time.Second).String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	filter := devices.Filter{
		Type:           model.DeviceType(q.Get("type")),
		WatchedOnly:    q.Get("watched") == "true",
		Query:          q.Get("q"),
		IncludeIgnored: q.Get("include_ignored") == "true",
	}
	if v := q.Get("group"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			filter.GroupID = id
		}
	}
	list := s.devices.List(filter)
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n < len(list) {
			list = list[:n]
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": list,
		"count":   len(list),
	})
}

// handleDevice routes /devices/{addr} and /devices/{addr}/{action}.
func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/devices/")
	part, action, _ := strings.Cut(rest, "/")
	addr, err := btaddr.Normalize(part)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed address")
		return
	}

	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			s.deviceDetail(w, addr)
		case http.MethodDelete:
			s.deviceDelete(w, r, addr)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case "sessions":
		s.deviceSessions(w, r, addr)
	case "pattern":
		s.devicePattern(w, r, addr)
	case "proximity":
		s.deviceProximity(w, r, addr)
	case "correlations":
		s.deviceCorrelations(w, r, addr)
	case "name", "watch", "group", "notes", "ignore", "type":
		s.deviceMutate(w, r, addr, action)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Server) deviceDetail(w http.ResponseWriter, addr string) {
	dev, ok := s.devices.Get(addr)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown device")
		return
	}
	serviceNames := classify.ServiceNames(dev.ServiceIDs)
	writeJSON(w, http.StatusOK, map[string]any{
		"device":        dev,
		"service_names": serviceNames,
	})
}

func (s *Server) deviceDelete(w http.ResponseWriter, r *http.Request, addr string) {
	ok, err := s.devices.Delete(r.Context(), addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "unknown device")
		return
	}
	s.engine.ForgetPresence(addr)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) deviceSessions(w http.ResponseWriter, r *http.Request, addr string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	limit := 100
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	var from, to time.Time
	if v := q.Get("from"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed from")
			return
		}
		from = ts
	}
	if v := q.Get("to"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed to")
			return
		}
		to = ts
	}
	var list []model.Session
	if s.store != nil {
		stored, err := s.store.Sessions(r.Context(), addr, from, to, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		list = stored
	}
	// the open tail is authoritative in memory
	if open, ok := s.sessions.Open(addr); ok && inRange(open.StartTime, from, to) {
		merged := []model.Session{open}
		for _, sess := range list {
			if sess.ID != open.ID {
				merged = append(merged, sess)
			}
		}
		list = merged
	}
	count, avgMin, longestMin := sessions.Stats(list)
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions":              list,
		"count":                 count,
		"avg_dwell_minutes":     avgMin,
		"longest_dwell_minutes": longestMin,
	})
}

func (s *Server) devicePattern(w http.ResponseWriter, r *http.Request, addr string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get().Patterns
	if s.store == nil {
		writeJSON(w, http.StatusOK, map[string]any{"pattern": model.PatternSummary{WindowDays: cfg.WindowDays}})
		return
	}
	now := time.Now()
	since := now.AddDate(0, 0, -cfg.WindowDays)
	times, err := s.store.SightingTimes(r.Context(), addr, since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	summary := patterns.Analyze(times, now, cfg)
	writeJSON(w, http.StatusOK, map[string]any{"pattern": summary})
}

func (s *Server) deviceProximity(w http.ResponseWriter, r *http.Request, addr string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		writeJSON(w, http.StatusOK, map[string]any{"zone": model.ZoneUnknown})
		return
	}
	rssi, ts, err := s.store.LatestRSSI(r.Context(), addr)
	if err != nil {
		if errors.Is(err, storage.ErrNoRows) {
			writeJSON(w, http.StatusOK, map[string]any{"zone": model.ZoneUnknown})
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	zone := proximity.Classify(rssi, s.cfg.Get().Proximity)
	writeJSON(w, http.StatusOK, map[string]any{
		"zone":    zone,
		"rssi":    rssi,
		"seen_at": ts.UTC().Format(time.RFC3339),
		"age":     time.Since(ts).Round(time.Second).String(),
	})
}

func (s *Server) deviceCorrelations(w http.ResponseWriter, r *http.Request, addr string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	edges := s.engine.CorrelationsFor(addr)
	writeJSON(w, http.StatusOK, map[string]any{
		"correlations": edges,
		"count":        len(edges),
	})
}

type mutateRequest struct {
	Name    *string `json:"name"`
	Watched *bool   `json:"watched"`
	Group   *int64  `json:"group"`
	Notes   *string `json:"notes"`
	Ignored *bool   `json:"ignored"`
	Type    *string `json:"type"`
}

func (s *Server) deviceMutate(w http.ResponseWriter, r *http.Request, addr, action string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var req mutateRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "malformed body")
			return
		}
	}

	ctx := r.Context()
	var dev model.Device
	var found bool
	switch action {
	case "name":
		if req.Name == nil {
			writeError(w, http.StatusBadRequest, "name required")
			return
		}
		dev, found, err = s.devices.SetFriendlyName(ctx, addr, strings.TrimSpace(*req.Name))
	case "watch":
		if req.Watched == nil {
			dev, found, err = s.devices.ToggleWatched(ctx, addr)
		} else {
			dev, found, err = s.devices.SetWatched(ctx, addr, *req.Watched)
		}
	case "group":
		if req.Group == nil {
			writeError(w, http.StatusBadRequest, "group required")
			return
		}
		dev, found, err = s.devices.SetGroup(ctx, addr, *req.Group)
	case "notes":
		if req.Notes == nil {
			writeError(w, http.StatusBadRequest, "notes required")
			return
		}
		dev, found, err = s.devices.SetNotes(ctx, addr, *req.Notes)
	case "ignore":
		ignored := true
		if req.Ignored != nil {
			ignored = *req.Ignored
		}
		dev, found, err = s.devices.SetIgnored(ctx, addr, ignored)
		if found && ignored {
			s.engine.ForgetPresence(addr)
		}
	case "type":
		if req.Type == nil {
			writeError(w, http.StatusBadRequest, "type required")
			return
		}
		dev, found, err = s.devices.SetTypeLabel(ctx, addr, model.DeviceType(*req.Type))
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "unknown device")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"device": dev})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	var list []model.PresenceEvent
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed since")
			return
		}
		list = s.events.Since(ts)
	} else {
		list = s.events.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": list,
		"count":  len(list),
	})
}

func (s *Server) handleCorrelations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	minScore := 0.0
	if v := q.Get("min_score"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed min_score")
			return
		}
		minScore = f
	}
	edges, updated := s.engine.CorrelationEdges(0)
	if minScore > 0 {
		kept := edges[:0]
		for _, edge := range edges {
			if edge.Score >= minScore {
				kept = append(kept, edge)
			}
		}
		edges = kept
	}
	if limit > 0 && len(edges) > limit {
		edges = edges[:limit]
	}
	resp := map[string]any{
		"correlations": edges,
		"count":        len(edges),
	}
	if !updated.IsZero() {
		resp["updated_at"] = updated.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCorrelationsRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.engine.RefreshCorrelations(r.Context())
	edges, updated := s.engine.CorrelationEdges(0)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"edges":      len(edges),
		"updated_at": updated.Format(time.RFC3339),
	})
}

func inRange(ts, from, to time.Time) bool {
	if !from.IsZero() && ts.Before(from) {
		return false
	}
	if !to.IsZero() && ts.After(to) {
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
