package ingest

import (
	"context"
	"log/slog"
	"time"

	"bluewatch/internal/model"
)

// SendNonBlocking hands a sighting to the pipeline without ever stalling a
// source. A full channel means the pipeline is behind; the sighting is
// dropped and logged rather than backing up a broker consumer.
func SendNonBlocking(ctx context.Context, out chan<- model.Sighting, sg model.Sighting, logger *slog.Logger) bool {
	select {
	case out <- sg:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("sighting channel full, dropping", "address", sg.Address, "timestamp", sg.Timestamp)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
