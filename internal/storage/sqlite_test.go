package storage

import (
	"context"
	"testing"
	"time"

	"bluewatch/internal/model"
)

func testStore(t *testing.T) Store {
	t.Helper()
	st, err := NewSQLite("file::memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return st
}

func TestDeviceUpsert(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	dev := model.Device{
		Address:       "AA:BB:CC:DD:EE:FF",
		TypeLabel:     model.TypePhone,
		TypeSource:    model.SourceName,
		FriendlyName:  "my phone",
		Watched:       true,
		FirstSeen:     base,
		LastSeen:      base,
		SightingCount: 1,
		ServiceIDs:    []string{"180d"},
		LastName:      "iPhone 15",
	}
	if err := st.SaveDevice(ctx, dev); err != nil {
		t.Fatalf("save: %v", err)
	}

	dev.LastSeen = base.Add(time.Hour)
	dev.SightingCount = 12
	if err := st.SaveDevice(ctx, dev); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	devs, err := st.Devices(ctx)
	if err != nil {
		t.Fatalf("devices: %v", err)
	}
	if len(devs) != 1 {
		t.Fatalf("want 1 device, got %d", len(devs))
	}
	got := devs[0]
	if got.SightingCount != 12 || !got.LastSeen.Equal(base.Add(time.Hour)) {
		t.Fatalf("upsert did not update: %+v", got)
	}
	if got.TypeSource != model.SourceName || got.FriendlyName != "my phone" || !got.Watched {
		t.Fatalf("fields lost: %+v", got)
	}
	if len(got.ServiceIDs) != 1 || got.ServiceIDs[0] != "180d" {
		t.Fatalf("service ids lost: %+v", got.ServiceIDs)
	}

	if err := st.DeleteDevice(ctx, dev.Address); err != nil {
		t.Fatalf("delete: %v", err)
	}
	devs, _ = st.Devices(ctx)
	if len(devs) != 0 {
		t.Fatal("device survived delete")
	}
}

func TestSessionUpsert(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	sess := model.Session{
		ID:            "s-1",
		Address:       "AA:BB:CC:DD:EE:FF",
		StartTime:     base,
		EndTime:       base,
		SightingCount: 1,
		MeanRSSI:      -60,
	}
	if err := st.SaveSession(ctx, sess); err != nil {
		t.Fatalf("save: %v", err)
	}
	sess.EndTime = base.Add(10 * time.Minute)
	sess.SightingCount = 5
	sess.Closed = true
	if err := st.SaveSession(ctx, sess); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := st.Sessions(ctx, sess.Address, time.Time{}, time.Time{}, 10)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(got) != 1 || !got[0].Closed || got[0].SightingCount != 5 {
		t.Fatalf("unexpected sessions: %+v", got)
	}
	if got[0].Dwell() != 10*time.Minute {
		t.Fatalf("dwell: %v", got[0].Dwell())
	}
}

func TestSessionsDateRange(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	addr := "AA:BB:CC:DD:EE:FF"

	for i, id := range []string{"s-1", "s-2", "s-3"} {
		start := base.Add(time.Duration(i) * 24 * time.Hour)
		err := st.SaveSession(ctx, model.Session{
			ID:        id,
			Address:   addr,
			StartTime: start,
			EndTime:   start.Add(10 * time.Minute),
			Closed:    true,
		})
		if err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	got, err := st.Sessions(ctx, addr, base.Add(24*time.Hour), time.Time{}, 10)
	if err != nil {
		t.Fatalf("from query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("from filter: want 2, got %+v", got)
	}

	got, err = st.Sessions(ctx, addr, base.Add(12*time.Hour), base.Add(36*time.Hour), 10)
	if err != nil {
		t.Fatalf("range query: %v", err)
	}
	if len(got) != 1 || got[0].ID != "s-2" {
		t.Fatalf("range filter: %+v", got)
	}

	got, err = st.Sessions(ctx, addr, time.Time{}, base.Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("to query: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("to filter: want none, got %+v", got)
	}
}

func TestSightingQueriesAndCleanup(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		sg := model.Sighting{
			Address:   "AA:BB:CC:DD:EE:FF",
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			RSSI:      -60 - i,
		}
		if err := st.SaveSighting(ctx, sg); err != nil {
			t.Fatalf("save sighting: %v", err)
		}
	}
	st.SaveSighting(ctx, model.Sighting{Address: "AA:00:00:00:00:01", Timestamp: base, RSSI: -70})

	times, err := st.SightingTimes(ctx, "AA:BB:CC:DD:EE:FF", base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("sighting times: %v", err)
	}
	if len(times) != 3 {
		t.Fatalf("want 3 times since cutoff, got %d", len(times))
	}

	all, err := st.AllSightingTimes(ctx, base)
	if err != nil {
		t.Fatalf("all times: %v", err)
	}
	if len(all) != 2 || len(all["AA:BB:CC:DD:EE:FF"]) != 5 {
		t.Fatalf("grouped times wrong: %v", all)
	}

	rssi, ts, err := st.LatestRSSI(ctx, "AA:BB:CC:DD:EE:FF")
	if err != nil {
		t.Fatalf("latest rssi: %v", err)
	}
	if rssi != -64 || !ts.Equal(base.Add(4*time.Hour)) {
		t.Fatalf("latest rssi wrong: %d at %v", rssi, ts)
	}

	deleted, err := st.CleanupSightings(ctx, base.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if deleted != 4 {
		t.Fatalf("want 4 deleted, got %d", deleted)
	}
}
