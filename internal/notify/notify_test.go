package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"bluewatch/internal/config"
	"bluewatch/internal/logging"
	"bluewatch/internal/model"
)

type fakeSender struct {
	mu   sync.Mutex
	got  []Notification
	fail bool
}

func (f *fakeSender) Name() string { return "fake" }

func (f *fakeSender) Send(_ context.Context, n Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("boom")
	}
	f.got = append(f.got, n)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

func event(addr string) model.PresenceEvent {
	return model.PresenceEvent{Address: addr, Kind: model.PresenceArrived, Timestamp: time.Now()}
}

func TestDispatcherDelivers(t *testing.T) {
	fs := &fakeSender{}
	d := NewDispatcher(config.NotifyConfig{ChannelBuffer: 8}, []Sender{fs}, logging.NewLogger("error"))
	d.Start()

	d.Publish(Notification{Title: "arrived", Body: "hi", Event: event("AA:BB:CC:DD:EE:FF")})
	d.Publish(Notification{Title: "arrived", Body: "hi", Event: event("AA:BB:CC:DD:EE:01")})
	d.Stop()

	if fs.count() != 2 {
		t.Fatalf("want 2 delivered, got %d", fs.count())
	}
	sent, failed, dropped := d.Stats()
	if sent != 2 || failed != 0 || dropped != 0 {
		t.Fatalf("stats: sent=%d failed=%d dropped=%d", sent, failed, dropped)
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	fs := &fakeSender{}
	d := NewDispatcher(config.NotifyConfig{ChannelBuffer: 1}, []Sender{fs}, logging.NewLogger("error"))
	// not started: the queue fills up
	d.Publish(Notification{Event: event("AA:BB:CC:DD:EE:FF")})
	d.Publish(Notification{Event: event("AA:BB:CC:DD:EE:01")})

	_, _, dropped := d.Stats()
	if dropped != 1 {
		t.Fatalf("want 1 dropped, got %d", dropped)
	}
}

func TestDispatcherCountsFailures(t *testing.T) {
	fs := &fakeSender{fail: true}
	d := NewDispatcher(config.NotifyConfig{ChannelBuffer: 4}, []Sender{fs}, logging.NewLogger("error"))
	d.Start()
	d.Publish(Notification{Event: event("AA:BB:CC:DD:EE:FF")})
	d.Stop()

	sent, failed, _ := d.Stats()
	if sent != 0 || failed != 1 {
		t.Fatalf("stats: sent=%d failed=%d", sent, failed)
	}
}

func TestNtfySender(t *testing.T) {
	var gotTitle, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTitle = r.Header.Get("Title")
		buf := make([]byte, 128)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
	}))
	defer srv.Close()

	s := NewNtfySender(config.NtfyConfig{URL: srv.URL, Topic: "bluewatch"})
	err := s.Send(context.Background(), Notification{Title: "Device arrived", Body: "Kitchen speaker is back"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotTitle != "Device arrived" || gotBody != "Kitchen speaker is back" {
		t.Fatalf("got title=%q body=%q", gotTitle, gotBody)
	}
}

func TestNtfySenderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	s := NewNtfySender(config.NtfyConfig{URL: srv.URL, Topic: "t"})
	if err := s.Send(context.Background(), Notification{Body: "x"}); err == nil {
		t.Fatal("want error on 403")
	}
}
