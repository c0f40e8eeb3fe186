package ingest

import (
	"context"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"bluewatch/internal/config"
	"bluewatch/internal/metrics"
	"bluewatch/internal/model"
)

// StartMQTT subscribes to a scanner topic. This is the usual path for small
// scanner nodes publishing straight from the edge. Reconnects are left to
// the client library.
func StartMQTT(ctx context.Context, cfg *config.Manager, out chan<- model.Sighting, logger *slog.Logger, m *metrics.Metrics) {
	current := cfg.Get().Ingest.MQTT
	if !current.Enabled {
		if logger != nil {
			logger.Info("mqtt ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("mqtt ingest enabled", "broker", current.Broker, "topic", current.Topic)
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(current.Broker)
	opts.SetClientID(current.ClientID)
	if current.Username != "" {
		opts.SetUsername(current.Username)
		opts.SetPassword(current.Password)
	}
	opts.SetKeepAlive(60 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		fields, err := ParseJSONBytes(msg.Payload())
		if err != nil {
			if m != nil {
				m.SightingsRejected.WithLabelValues("malformed").Inc()
			}
			if logger != nil {
				logger.Warn("mqtt payload not json", "err", err)
			}
			return
		}
		sg, err := Normalize(*fields, cfg.Get())
		if err != nil {
			if m != nil {
				m.SightingsRejected.WithLabelValues(RejectReason(err)).Inc()
			}
			if logger != nil {
				logger.Warn("mqtt sighting rejected", "err", err)
			}
			return
		}
		sg.Source = "mqtt"
		SendNonBlocking(ctx, out, sg, logger)
	}

	opts.OnConnect = func(client mqtt.Client) {
		if token := client.Subscribe(current.Topic, 0, handler); token.Wait() && token.Error() != nil {
			if logger != nil {
				logger.Error("mqtt subscribe failed", "err", token.Error())
			}
		}
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		if logger != nil {
			logger.Warn("mqtt connection lost", "err", err)
		}
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		if logger != nil {
			logger.Error("mqtt connect failed", "err", token.Error())
		}
	}
	go func() {
		<-ctx.Done()
		client.Disconnect(250)
	}()
}
