package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"bluewatch/internal/api"
	"bluewatch/internal/config"
	"bluewatch/internal/devices"
	"bluewatch/internal/engine"
	"bluewatch/internal/events"
	"bluewatch/internal/ingest"
	"bluewatch/internal/logging"
	"bluewatch/internal/metrics"
	"bluewatch/internal/model"
	"bluewatch/internal/notify"
	"bluewatch/internal/sessions"
	"bluewatch/internal/storage"
	"bluewatch/internal/vendor"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "bluewatchd:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file (yaml or json)")
	flag.Parse()

	// secrets like the telegram token usually come from a .env beside the
	// binary; absence is fine
	_ = godotenv.Load()

	var mgr *config.Manager
	if *configPath != "" {
		m, err := config.NewManager(config.ResolvePath(*configPath))
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		mgr = m
	} else {
		mgr = config.NewStaticManager(nil)
	}
	cfg := mgr.Get()
	applyEnvOverrides(cfg)

	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("bluewatchd starting", "version", version, "config", mgr.Path())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	if store != nil {
		if err := store.Init(ctx); err != nil {
			return fmt.Errorf("init storage: %w", err)
		}
		defer store.Close()
		logger.Info("storage ready", "driver", cfg.Storage.Driver)
	}

	var resolver *vendor.Resolver
	if cfg.Vendor.Enabled {
		resolver, err = vendor.NewResolver(cfg.Vendor, logging.Component(logger, "vendor"))
		if err != nil {
			return fmt.Errorf("vendor resolver: %w", err)
		}
	}

	var senders []notify.Sender
	if cfg.Notify.Ntfy.Enabled {
		senders = append(senders, notify.NewNtfySender(cfg.Notify.Ntfy))
		logger.Info("ntfy notifications enabled", "topic", cfg.Notify.Ntfy.Topic)
	}
	if cfg.Notify.Telegram.Enabled {
		tg, err := notify.NewTelegramSender(cfg.Notify.Telegram)
		if err != nil {
			return fmt.Errorf("telegram sender: %w", err)
		}
		senders = append(senders, tg)
		logger.Info("telegram notifications enabled", "chat_id", cfg.Notify.Telegram.ChatID)
	}
	m := metrics.New()

	dispatcher := notify.NewDispatcher(cfg.Notify, senders, logging.Component(logger, "notify"))
	dispatcher.OnResult = func(outcome string) {
		m.NotificationsSent.WithLabelValues(outcome).Inc()
	}
	dispatcher.Start()
	defer dispatcher.Stop()

	eng := engine.NewEngine(cfg, engine.Deps{
		Logger:     logging.Component(logger, "engine"),
		Metrics:    m,
		Store:      store,
		Devices:    devices.NewStore(store),
		Sessions:   sessions.NewBuilder(cfg.Sessions.GapThreshold),
		Events:     events.NewStore(1000),
		Dispatcher: dispatcher,
		Resolver:   resolver,
	})
	if err := eng.Restore(ctx); err != nil {
		logger.Warn("state restore failed", "err", err)
	}

	sightings := make(chan model.Sighting, cfg.Ingest.ChannelBuffer)
	eng.Start(ctx, sightings)

	ingestLogger := logging.Component(logger, "ingest")
	ingest.StartREST(ctx, mgr, sightings, ingestLogger, m)
	ingest.StartKafka(ctx, mgr, sightings, ingestLogger, m)
	ingest.StartMQTT(ctx, mgr, sightings, ingestLogger, m)
	ingest.StartTCPStream(ctx, mgr, sightings, ingestLogger, m)

	api.Start(ctx, mgr, api.Deps{
		Devices:  eng.DeviceStore(),
		Sessions: eng.SessionBuilder(),
		Store:    store,
		Events:   eng.EventStore(),
		Engine:   eng,
		Metrics:  m,
		Logger:   logging.Component(logger, "api"),
		Version:  version,
	})

	if mgr.Path() != "" {
		stopWatch := make(chan struct{})
		defer close(stopWatch)
		go mgr.Watch(10*time.Second,
			func(next *config.Config) {
				applyEnvOverrides(next)
				eng.UpdateConfig(next)
				logger.Info("config reloaded")
			},
			func(err error) { logger.Warn("config reload failed", "err", err) },
			stopWatch)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("shutdown signal received", "signal", sig.String())

	cancel()
	done := make(chan struct{})
	go func() {
		eng.Stop()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("pipeline drained")
	case <-time.After(10 * time.Second):
		logger.Warn("drain timeout, exiting anyway")
	}
	return nil
}

// applyEnvOverrides lets deployment secrets stay out of the config file.
func applyEnvOverrides(cfg *config.Config) {
	if v := os.Getenv("BLUEWATCH_TELEGRAM_TOKEN"); v != "" {
		cfg.Notify.Telegram.Token = v
	}
	if v := os.Getenv("BLUEWATCH_STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("BLUEWATCH_MQTT_PASSWORD"); v != "" {
		cfg.Ingest.MQTT.Password = v
	}
}
