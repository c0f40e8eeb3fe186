package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel    string            `json:"log_level" yaml:"log_level"`
	Ingest      IngestConfig      `json:"ingest" yaml:"ingest"`
	Sessions    SessionsConfig    `json:"sessions" yaml:"sessions"`
	Patterns    PatternsConfig    `json:"patterns" yaml:"patterns"`
	Correlation CorrelationConfig `json:"correlation" yaml:"correlation"`
	Proximity   ProximityConfig   `json:"proximity" yaml:"proximity"`
	Presence    PresenceConfig    `json:"presence" yaml:"presence"`
	Vendor      VendorConfig      `json:"vendor" yaml:"vendor"`
	Notify      NotifyConfig      `json:"notify" yaml:"notify"`
	API         APIConfig         `json:"api" yaml:"api"`
	Storage     StorageConfig     `json:"storage" yaml:"storage"`
}

type IngestConfig struct {
	ChannelBuffer int           `json:"channel_buffer" yaml:"channel_buffer"`
	Workers       int           `json:"workers" yaml:"workers"`
	MaxClockSkew  time.Duration `json:"max_clock_skew" yaml:"max_clock_skew"`
	MaxFutureSkew time.Duration `json:"max_future_skew" yaml:"max_future_skew"`
	DedupeWindow  time.Duration `json:"dedupe_window" yaml:"dedupe_window"`
	REST          RESTConfig    `json:"rest" yaml:"rest"`
	Kafka         KafkaConfig   `json:"kafka" yaml:"kafka"`
	MQTT          MQTTConfig    `json:"mqtt" yaml:"mqtt"`
	TCPStream     TCPConfig     `json:"tcp_stream" yaml:"tcp_stream"`
}

// TCPConfig enables the newline-delimited JSON listener, for scanners that
// just pipe output over a socket.
type TCPConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type MQTTConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Broker   string `json:"broker" yaml:"broker"`
	Topic    string `json:"topic" yaml:"topic"`
	ClientID string `json:"client_id" yaml:"client_id"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}

type SessionsConfig struct {
	GapThreshold time.Duration `json:"gap_threshold" yaml:"gap_threshold"`
}

type PatternsConfig struct {
	WindowDays        int     `json:"window_days" yaml:"window_days"`
	MinSightings      int     `json:"min_sightings" yaml:"min_sightings"`
	SignificanceShare float64 `json:"significance_share" yaml:"significance_share"`
	WeekdayShare      float64 `json:"weekday_share" yaml:"weekday_share"`
	WeekendShare      float64 `json:"weekend_share" yaml:"weekend_share"`
	ConstantDays      float64 `json:"constant_days" yaml:"constant_days"`
	DailyDays         float64 `json:"daily_days" yaml:"daily_days"`
	RegularDays       float64 `json:"regular_days" yaml:"regular_days"`
	OccasionalDays    float64 `json:"occasional_days" yaml:"occasional_days"`
}

type CorrelationConfig struct {
	WindowSeconds   int           `json:"window_seconds" yaml:"window_seconds"`
	MinScore        float64       `json:"min_score" yaml:"min_score"`
	MinCoOccurrence int           `json:"min_co_occurrence" yaml:"min_co_occurrence"`
	MinSightings    int           `json:"min_sightings" yaml:"min_sightings"`
	WindowDays      int           `json:"window_days" yaml:"window_days"`
	RefreshInterval time.Duration `json:"refresh_interval" yaml:"refresh_interval"`
}

type ProximityConfig struct {
	Immediate int `json:"immediate" yaml:"immediate"`
	Near      int `json:"near" yaml:"near"`
	Far       int `json:"far" yaml:"far"`
}

type PresenceConfig struct {
	DepartureTimeout   time.Duration `json:"departure_timeout" yaml:"departure_timeout"`
	ArrivalQuietPeriod time.Duration `json:"arrival_quiet_period" yaml:"arrival_quiet_period"`
	SweepInterval      time.Duration `json:"sweep_interval" yaml:"sweep_interval"`
}

type VendorConfig struct {
	Enabled     bool          `json:"enabled" yaml:"enabled"`
	LookupURL   string        `json:"lookup_url" yaml:"lookup_url"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout"`
	CacheSize   int           `json:"cache_size" yaml:"cache_size"`
	MaxInFlight int           `json:"max_in_flight" yaml:"max_in_flight"`
}

type NotifyConfig struct {
	NewDevice     bool           `json:"new_device" yaml:"new_device"`
	WatchedArrive bool           `json:"watched_arrive" yaml:"watched_arrive"`
	WatchedLeave  bool           `json:"watched_leave" yaml:"watched_leave"`
	ChannelBuffer int            `json:"channel_buffer" yaml:"channel_buffer"`
	SendTimeout   time.Duration  `json:"send_timeout" yaml:"send_timeout"`
	Ntfy          NtfyConfig     `json:"ntfy" yaml:"ntfy"`
	Telegram      TelegramConfig `json:"telegram" yaml:"telegram"`
}

type NtfyConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	URL     string `json:"url" yaml:"url"`
	Topic   string `json:"topic" yaml:"topic"`
}

type TelegramConfig struct {
	Enabled  bool          `json:"enabled" yaml:"enabled"`
	Token    string        `json:"token" yaml:"token"`
	ChatID   int64         `json:"chat_id" yaml:"chat_id"`
	Throttle time.Duration `json:"throttle" yaml:"throttle"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Enabled       bool          `json:"enabled" yaml:"enabled"`
	Driver        string        `json:"driver" yaml:"driver"`
	DSN           string        `json:"dsn" yaml:"dsn"`
	RetentionDays int           `json:"retention_days" yaml:"retention_days"`
	CleanupEvery  time.Duration `json:"cleanup_every" yaml:"cleanup_every"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Ingest: IngestConfig{
			ChannelBuffer: 10000,
			Workers:       8,
			MaxClockSkew:  2 * time.Minute,
			MaxFutureSkew: 2 * time.Minute,
			DedupeWindow:  2 * time.Second,
			REST:          RESTConfig{Enabled: true, Addr: ":8080"},
			Kafka:         KafkaConfig{Enabled: false},
			MQTT:          MQTTConfig{Enabled: false, Topic: "bluewatch/sightings", ClientID: "bluewatch"},
		},
		Sessions: SessionsConfig{GapThreshold: 15 * time.Minute},
		Patterns: PatternsConfig{
			WindowDays:        30,
			MinSightings:      5,
			SignificanceShare: 0.5,
			WeekdayShare:      0.85,
			WeekendShare:      0.7,
			ConstantDays:      0.9,
			DailyDays:         0.5,
			RegularDays:       0.2,
			OccasionalDays:    0.05,
		},
		Correlation: CorrelationConfig{
			WindowSeconds:   300,
			MinScore:        0.3,
			MinCoOccurrence: 3,
			MinSightings:    10,
			WindowDays:      30,
			RefreshInterval: 15 * time.Minute,
		},
		Proximity: ProximityConfig{Immediate: -50, Near: -60, Far: -70},
		Presence: PresenceConfig{
			DepartureTimeout:   30 * time.Minute,
			ArrivalQuietPeriod: 5 * time.Minute,
			SweepInterval:      time.Minute,
		},
		Vendor: VendorConfig{
			Enabled:     true,
			LookupURL:   "https://api.macvendors.com",
			Timeout:     5 * time.Second,
			CacheSize:   4096,
			MaxInFlight: 4,
		},
		Notify: NotifyConfig{
			NewDevice:     false,
			WatchedArrive: true,
			WatchedLeave:  true,
			ChannelBuffer: 256,
			SendTimeout:   10 * time.Second,
			Ntfy:          NtfyConfig{Enabled: false, URL: "https://ntfy.sh"},
			Telegram:      TelegramConfig{Enabled: false, Throttle: 5 * time.Minute},
		},
		API: APIConfig{Enabled: true, Addr: ":8081"},
		Storage: StorageConfig{
			Enabled:       true,
			Driver:        "sqlite",
			DSN:           "file:bluewatch.db?_pragma=busy_timeout(5000)",
			RetentionDays: 90,
			CleanupEvery:  6 * time.Hour,
		},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = 10000
	}
	if cfg.Ingest.Workers <= 0 {
		cfg.Ingest.Workers = 8
	}
	if cfg.Sessions.GapThreshold <= 0 {
		cfg.Sessions.GapThreshold = 15 * time.Minute
	}
	if cfg.Patterns.WindowDays <= 0 {
		cfg.Patterns.WindowDays = 30
	}
	if cfg.Patterns.MinSightings <= 0 {
		cfg.Patterns.MinSightings = 5
	}
	if cfg.Patterns.SignificanceShare <= 0 {
		cfg.Patterns.SignificanceShare = 0.5
	}
	if cfg.Correlation.WindowSeconds <= 0 {
		cfg.Correlation.WindowSeconds = 300
	}
	if cfg.Correlation.WindowDays <= 0 {
		cfg.Correlation.WindowDays = 30
	}
	if cfg.Presence.SweepInterval <= 0 {
		cfg.Presence.SweepInterval = time.Minute
	}
	if cfg.Vendor.CacheSize <= 0 {
		cfg.Vendor.CacheSize = 4096
	}
	if cfg.Vendor.MaxInFlight <= 0 {
		cfg.Vendor.MaxInFlight = 4
	}
	if cfg.Vendor.Timeout <= 0 {
		cfg.Vendor.Timeout = 5 * time.Second
	}
	if cfg.Notify.ChannelBuffer <= 0 {
		cfg.Notify.ChannelBuffer = 256
	}
	if cfg.Notify.SendTimeout <= 0 {
		cfg.Notify.SendTimeout = 10 * time.Second
	}
	if cfg.Storage.RetentionDays <= 0 {
		cfg.Storage.RetentionDays = 90
	}
	if cfg.Storage.CleanupEvery <= 0 {
		cfg.Storage.CleanupEvery = 6 * time.Hour
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Ingest.MQTT.Enabled {
		if cfg.Ingest.MQTT.Broker == "" || cfg.Ingest.MQTT.Topic == "" {
			return errors.New("ingest.mqtt requires broker and topic")
		}
	}
	if cfg.Ingest.TCPStream.Enabled && cfg.Ingest.TCPStream.Addr == "" {
		return errors.New("ingest.tcp_stream.addr required when ingest.tcp_stream.enabled is true")
	}
	if !(cfg.Proximity.Immediate > cfg.Proximity.Near && cfg.Proximity.Near > cfg.Proximity.Far) {
		return fmt.Errorf("proximity thresholds must descend: immediate %d > near %d > far %d",
			cfg.Proximity.Immediate, cfg.Proximity.Near, cfg.Proximity.Far)
	}
	if cfg.Presence.DepartureTimeout <= 0 {
		return errors.New("presence.departure_timeout must be > 0")
	}
	if cfg.Correlation.MinScore < 0 || cfg.Correlation.MinScore > 1 {
		return errors.New("correlation.min_score must be in [0,1]")
	}
	if cfg.Notify.Telegram.Enabled && cfg.Notify.Telegram.Token == "" {
		return errors.New("notify.telegram.token required when notify.telegram.enabled is true")
	}
	if cfg.Notify.Ntfy.Enabled && cfg.Notify.Ntfy.Topic == "" {
		return errors.New("notify.ntfy.topic required when notify.ntfy.enabled is true")
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager wraps a config that is not backed by a file, for tests and
// for running with pure defaults.
func NewStaticManager(cfg *Config) *Manager {
	m := &Manager{}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if m.path != "" {
		if err := Save(m.path, cfg); err != nil {
			return err
		}
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return nil
}

func (m *Manager) NeedsReload() (bool, error) {
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if m.path == "" {
		return
	}
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
