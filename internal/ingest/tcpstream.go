package ingest

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"

	"bluewatch/internal/config"
	"bluewatch/internal/metrics"
	"bluewatch/internal/model"
)

// StartTCPStream accepts newline-delimited JSON sightings over a plain
// socket. Some scanner scripts just pipe their output at a host:port; this
// keeps that path working without an HTTP client on the edge.
func StartTCPStream(ctx context.Context, cfg *config.Manager, out chan<- model.Sighting, logger *slog.Logger, m *metrics.Metrics) {
	current := cfg.Get().Ingest.TCPStream
	if !current.Enabled {
		if logger != nil {
			logger.Info("tcp stream ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("tcp stream ingest enabled", "addr", current.Addr)
	}
	ln, err := net.Listen("tcp", current.Addr)
	if err != nil {
		if logger != nil {
			logger.Error("tcp stream listen error", "err", err)
		}
		return
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				if logger != nil {
					logger.Warn("tcp stream accept error", "err", err)
				}
				continue
			}
			go handleTCPStreamConn(ctx, conn, cfg, out, logger, m)
		}
	}()
}

func handleTCPStreamConn(ctx context.Context, conn net.Conn, cfg *config.Manager, out chan<- model.Sighting, logger *slog.Logger, m *metrics.Metrics) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 8192), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields, err := ParseJSONBytes([]byte(line))
		if err != nil {
			if m != nil {
				m.SightingsRejected.WithLabelValues("malformed").Inc()
			}
			continue
		}
		sg, err := Normalize(*fields, cfg.Get())
		if err != nil {
			if m != nil {
				m.SightingsRejected.WithLabelValues(RejectReason(err)).Inc()
			}
			if logger != nil {
				logger.Warn("tcp stream sighting rejected", "err", err)
			}
			continue
		}
		sg.Source = "tcp_stream"
		SendNonBlocking(ctx, out, sg, logger)
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
	if err := scanner.Err(); err != nil && logger != nil {
		logger.Warn("tcp stream scanner error", "err", err)
	}
}
