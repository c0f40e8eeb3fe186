package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"bluewatch/internal/config"
	"bluewatch/internal/metrics"
	"bluewatch/internal/model"
)

func StartKafka(ctx context.Context, cfg *config.Manager, out chan<- model.Sighting, logger *slog.Logger, m *metrics.Metrics) {
	current := cfg.Get().Ingest.Kafka
	if !current.Enabled {
		if logger != nil {
			logger.Info("kafka ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", current.Brokers, "topic", current.Topic, "group_id", current.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  current.Brokers,
		Topic:    current.Topic,
		GroupID:  current.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	go func() {
		defer reader.Close()
		for {
			msg, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Warn("kafka read error", "err", err)
				}
				if !BackoffSleep(ctx, time.Second) {
					return
				}
				continue
			}
			fields, err := ParseJSONBytes(msg.Value)
			if err != nil {
				if m != nil {
					m.SightingsRejected.WithLabelValues("malformed").Inc()
				}
				if logger != nil {
					logger.Warn("kafka payload not json", "err", err)
				}
				continue
			}
			sg, err := Normalize(*fields, cfg.Get())
			if err != nil {
				if m != nil {
					m.SightingsRejected.WithLabelValues(RejectReason(err)).Inc()
				}
				if logger != nil {
					logger.Warn("kafka sighting rejected", "err", err)
				}
				continue
			}
			sg.Source = "kafka"
			SendNonBlocking(ctx, out, sg, logger)
		}
	}()
}
