// Package notify fans presence events out to the configured push channels.
// Delivery is best effort: a slow or failing channel never blocks ingestion,
// it gets logged and the event is dropped.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"bluewatch/internal/config"
	"bluewatch/internal/model"
)

// Notification is a composed, ready-to-send message. The caller resolves
// display names before publishing so senders stay dumb.
type Notification struct {
	Title string
	Body  string
	Event model.PresenceEvent
}

// Sender delivers one notification to one channel.
type Sender interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Dispatcher decouples the ingestion path from notification delivery with a
// bounded queue. Publish never blocks; when the queue is full the event is
// dropped and counted.
type Dispatcher struct {
	ch      chan Notification
	senders []Sender
	timeout time.Duration
	logger  *slog.Logger

	// OnResult, when set before Start, observes every delivery outcome:
	// "sent", "failed", or "dropped".
	OnResult func(outcome string)

	mu      sync.Mutex
	dropped uint64
	sent    uint64
	failed  uint64

	wg   sync.WaitGroup
	quit chan struct{}
	once sync.Once
}

func NewDispatcher(cfg config.NotifyConfig, senders []Sender, logger *slog.Logger) *Dispatcher {
	buf := cfg.ChannelBuffer
	if buf <= 0 {
		buf = 256
	}
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		ch:      make(chan Notification, buf),
		senders: senders,
		timeout: timeout,
		logger:  logger,
		quit:    make(chan struct{}),
	}
}

func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.run()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case n := <-d.ch:
			d.deliver(n)
		case <-d.quit:
			// drain what is already queued before exiting
			for {
				select {
				case n := <-d.ch:
					d.deliver(n)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(n Notification) {
	for _, s := range d.senders {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := s.Send(ctx, n)
		cancel()

		d.mu.Lock()
		if err != nil {
			d.failed++
		} else {
			d.sent++
		}
		d.mu.Unlock()
		if d.OnResult != nil {
			if err != nil {
				d.OnResult("failed")
			} else {
				d.OnResult("sent")
			}
		}

		if err != nil {
			d.logger.Warn("notification send failed",
				"sender", s.Name(),
				"kind", string(n.Event.Kind),
				"address", n.Event.Address,
				"error", err)
		}
	}
}

// Publish enqueues a notification without blocking.
func (d *Dispatcher) Publish(n Notification) {
	select {
	case d.ch <- n:
	default:
		d.mu.Lock()
		d.dropped++
		d.mu.Unlock()
		if d.OnResult != nil {
			d.OnResult("dropped")
		}
		d.logger.Warn("notification queue full, dropping",
			"kind", string(n.Event.Kind), "address", n.Event.Address)
	}
}

// Stop drains the queue and waits for the delivery loop to finish.
func (d *Dispatcher) Stop() {
	d.once.Do(func() { close(d.quit) })
	d.wg.Wait()
}

// Stats reports delivery counters for the status endpoint.
func (d *Dispatcher) Stats() (sent, failed, dropped uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sent, d.failed, d.dropped
}
