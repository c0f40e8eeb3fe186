package devices

import (
	"context"
	"errors"
	"testing"
	"time"

	"bluewatch/internal/model"
)

type failingPersister struct{}

func (failingPersister) SaveDevice(context.Context, model.Device) error { return errors.New("db down") }
func (failingPersister) DeleteDevice(context.Context, string) error     { return errors.New("db down") }

func sighting(addr string, ts time.Time, name string, ids ...string) model.Sighting {
	return model.Sighting{
		Address:    addr,
		Timestamp:  ts,
		RSSI:       -60,
		Name:       name,
		ServiceIDs: ids,
	}
}

func TestObserveCreatesAndCounts(t *testing.T) {
	s := NewStore(nil)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	dev, created, err := s.Observe(context.Background(), sighting("AA:BB:CC:DD:EE:FF", base, ""))
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if !created {
		t.Fatal("first sighting should create the device")
	}
	if dev.SightingCount != 1 || !dev.FirstSeen.Equal(base) {
		t.Fatalf("unexpected record: %+v", dev)
	}

	dev, created, _ = s.Observe(context.Background(), sighting("AA:BB:CC:DD:EE:FF", base.Add(time.Minute), ""))
	if created {
		t.Fatal("second sighting should not report created")
	}
	if dev.SightingCount != 2 || !dev.FirstSeen.Equal(base) || !dev.LastSeen.Equal(base.Add(time.Minute)) {
		t.Fatalf("counters wrong: %+v", dev)
	}
}

func TestObserveReturnsRecordWithPersistError(t *testing.T) {
	s := NewStore(failingPersister{})
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	addr := "AA:BB:CC:DD:EE:04"

	dev, created, err := s.Observe(context.Background(), sighting(addr, base, ""))
	if err == nil {
		t.Fatal("want persist error")
	}
	if !created {
		t.Fatal("first sighting should report created despite persist error")
	}
	// The in-memory record stays usable; the caller decides what to do
	// with the error.
	if dev.Address != addr || dev.SightingCount != 1 {
		t.Fatalf("returned record incomplete: %+v", dev)
	}
	if got, ok := s.Get(addr); !ok || got.SightingCount != 1 {
		t.Fatalf("arena record lost: %+v ok=%v", got, ok)
	}
}

func TestEvidenceUpgradesNeverRegress(t *testing.T) {
	s := NewStore(nil)
	ctx := context.Background()
	base := time.Now()
	addr := "AA:BB:CC:DD:EE:01"

	// vendor evidence first
	s.Observe(ctx, sighting(addr, base, ""))
	dev, err := s.ApplyVendor(ctx, addr, "Sony Interactive Entertainment")
	if err != nil {
		t.Fatalf("vendor: %v", err)
	}
	if dev.TypeLabel != model.TypeAudio || dev.TypeSource != model.SourceVendor {
		t.Fatalf("vendor classification wrong: %+v", dev)
	}

	// a name upgrades past vendor
	dev, _, _ = s.Observe(ctx, sighting(addr, base.Add(time.Minute), "Living Room TV"))
	if dev.TypeLabel != model.TypeTV || dev.TypeSource != model.SourceName {
		t.Fatalf("name classification wrong: %+v", dev)
	}

	// service evidence wins over both
	dev, _, _ = s.Observe(ctx, sighting(addr, base.Add(2*time.Minute), "", "180d"))
	if dev.TypeLabel != model.TypeWatch || dev.TypeSource != model.SourceService {
		t.Fatalf("service classification wrong: %+v", dev)
	}

	// weaker evidence arriving later must not move the label back
	dev, _ = s.ApplyVendor(ctx, addr, "Bose Corporation")
	if dev.TypeLabel != model.TypeWatch || dev.TypeSource != model.SourceService {
		t.Fatalf("label regressed: %+v", dev)
	}
}

func TestRepeatEvidenceIsNoOp(t *testing.T) {
	s := NewStore(nil)
	ctx := context.Background()
	addr := "AA:BB:CC:DD:EE:02"
	base := time.Now()

	dev, _, _ := s.Observe(ctx, sighting(addr, base, "", "110b"))
	if dev.TypeLabel != model.TypeAudio {
		t.Fatalf("want audio, got %s", dev.TypeLabel)
	}
	dev, _, _ = s.Observe(ctx, sighting(addr, base.Add(time.Minute), "", "110B"))
	if len(dev.ServiceIDs) != 1 {
		t.Fatalf("duplicate service id stored: %v", dev.ServiceIDs)
	}
}

func TestManualLabelPins(t *testing.T) {
	s := NewStore(nil)
	ctx := context.Background()
	addr := "AA:BB:CC:DD:EE:03"

	s.Observe(ctx, sighting(addr, time.Now(), ""))
	dev, ok, err := s.SetTypeLabel(ctx, addr, model.TypeVehicle)
	if err != nil || !ok {
		t.Fatalf("set label: ok=%v err=%v", ok, err)
	}
	if dev.TypeSource != model.SourceManual {
		t.Fatalf("want manual source, got %v", dev.TypeSource)
	}

	dev, _, _ = s.Observe(ctx, sighting(addr, time.Now(), "", "180d"))
	if dev.TypeLabel != model.TypeVehicle {
		t.Fatalf("manual label overridden: %+v", dev)
	}
}

func TestListFiltersAndOrder(t *testing.T) {
	s := NewStore(nil)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	s.Observe(ctx, sighting("AA:00:00:00:00:01", base, "iPhone 15"))
	s.Observe(ctx, sighting("AA:00:00:00:00:02", base.Add(time.Hour), ""))
	s.Observe(ctx, sighting("AA:00:00:00:00:03", base.Add(2*time.Hour), ""))
	s.SetIgnored(ctx, "AA:00:00:00:00:03", true)
	s.SetWatched(ctx, "AA:00:00:00:00:01", true)

	all := s.List(Filter{})
	if len(all) != 2 {
		t.Fatalf("ignored device leaked into listing: %d", len(all))
	}
	if all[0].Address != "AA:00:00:00:00:02" {
		t.Fatalf("want most recent first, got %s", all[0].Address)
	}

	if got := s.List(Filter{IncludeIgnored: true}); len(got) != 3 {
		t.Fatalf("want 3 with ignored, got %d", len(got))
	}
	if got := s.List(Filter{WatchedOnly: true}); len(got) != 1 || got[0].Address != "AA:00:00:00:00:01" {
		t.Fatalf("watched filter: %+v", got)
	}
	if got := s.List(Filter{Type: model.TypePhone}); len(got) != 1 {
		t.Fatalf("type filter: %+v", got)
	}
	if got := s.List(Filter{Query: "iphone"}); len(got) != 1 {
		t.Fatalf("query filter: %+v", got)
	}
}

func TestDeleteAndRestore(t *testing.T) {
	s := NewStore(nil)
	ctx := context.Background()
	addr := "AA:00:00:00:00:09"

	s.Observe(ctx, sighting(addr, time.Now(), ""))
	ok, err := s.Delete(ctx, addr)
	if err != nil || !ok {
		t.Fatalf("delete: ok=%v err=%v", ok, err)
	}
	if _, found := s.Get(addr); found {
		t.Fatal("device survived delete")
	}
	if ok, _ := s.Delete(ctx, addr); ok {
		t.Fatal("second delete should report not found")
	}

	s.Restore([]model.Device{{
		Address:    addr,
		TypeLabel:  model.TypeWatch,
		TypeSource: model.SourceService,
		ServiceIDs: []string{"180d"},
		Watched:    true,
	}})
	dev, found := s.Get(addr)
	if !found || dev.TypeLabel != model.TypeWatch {
		t.Fatalf("restore lost state: %+v found=%v", dev, found)
	}
	if got := s.WatchedAddresses(); len(got) != 1 || got[0] != addr {
		t.Fatalf("watched addresses: %v", got)
	}
}
