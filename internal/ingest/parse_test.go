package ingest

import (
	"errors"
	"testing"
	"time"

	"bluewatch/internal/config"
	"bluewatch/internal/model"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Ingest.MaxClockSkew = 0
	cfg.Ingest.MaxFutureSkew = 0
	return cfg
}

func TestParseJSONMapAliases(t *testing.T) {
	cases := []struct {
		name string
		in   map[string]interface{}
		addr string
		rssi string
	}{
		{
			name: "canonical keys",
			in:   map[string]interface{}{"address": "AA:BB:CC:DD:EE:FF", "rssi": -60},
			addr: "AA:BB:CC:DD:EE:FF",
			rssi: "-60",
		},
		{
			name: "mac and signal",
			in:   map[string]interface{}{"mac": "aa-bb-cc-dd-ee-ff", "signal": -71.5},
			addr: "aa-bb-cc-dd-ee-ff",
			rssi: "-71.5",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fields := ParseJSONMap(tc.in)
			if fields.Address != tc.addr || fields.RSSI != tc.rssi {
				t.Fatalf("got addr=%q rssi=%q", fields.Address, fields.RSSI)
			}
		})
	}
}

func TestParseJSONMapServices(t *testing.T) {
	fields := ParseJSONMap(map[string]interface{}{
		"address":       "AA:BB:CC:DD:EE:FF",
		"rssi":          -60,
		"service_uuids": []interface{}{"180D", "110b"},
	})
	if len(fields.Services) != 2 {
		t.Fatalf("services: %v", fields.Services)
	}
}

func TestNormalizeValid(t *testing.T) {
	sg, err := Normalize(SightingFields{
		Address:   "aa:bb:cc:dd:ee:ff",
		RSSI:      "-64",
		Timestamp: "2026-03-01T10:00:00Z",
		Name:      " iPhone 15 ",
		Services:  []string{"180D", ""},
	}, testConfig())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if sg.Address != "AA:BB:CC:DD:EE:FF" {
		t.Fatalf("address not canonical: %q", sg.Address)
	}
	if sg.RSSI != -64 || sg.Name != "iPhone 15" {
		t.Fatalf("fields: %+v", sg)
	}
	if len(sg.ServiceIDs) != 1 || sg.ServiceIDs[0] != "180d" {
		t.Fatalf("services: %v", sg.ServiceIDs)
	}
	want := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if !sg.Timestamp.Equal(want) {
		t.Fatalf("timestamp: %v", sg.Timestamp)
	}
}

func TestNormalizeRejects(t *testing.T) {
	cfg := testConfig()
	cases := []struct {
		name   string
		fields SightingFields
		want   error
	}{
		{"no address", SightingFields{RSSI: "-60"}, ErrMissingAddress},
		{"no rssi", SightingFields{Address: "AA:BB:CC:DD:EE:FF"}, ErrMissingRSSI},
		{"bad timestamp", SightingFields{Address: "AA:BB:CC:DD:EE:FF", RSSI: "-60", Timestamp: "tomorrow"}, ErrBadTimestamp},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Normalize(tc.fields, cfg)
			if !errors.Is(err, tc.want) {
				t.Fatalf("want %v, got %v", tc.want, err)
			}
		})
	}

	if _, err := Normalize(SightingFields{Address: "not-a-mac", RSSI: "-60"}, cfg); err == nil {
		t.Fatal("want error for malformed address")
	}
	if _, err := Normalize(SightingFields{Address: "AA:BB:CC:DD:EE:FF", RSSI: "40"}, cfg); err == nil {
		t.Fatal("want error for out-of-range rssi")
	}
}

func TestNormalizeClockSkew(t *testing.T) {
	cfg := testConfig()
	cfg.Ingest.MaxClockSkew = time.Hour
	cfg.Ingest.MaxFutureSkew = time.Minute

	old := time.Now().UTC().Add(-2 * time.Hour).Format(time.RFC3339)
	_, err := Normalize(SightingFields{Address: "AA:BB:CC:DD:EE:FF", RSSI: "-60", Timestamp: old}, cfg)
	if !errors.Is(err, ErrStaleSighting) {
		t.Fatalf("want stale error, got %v", err)
	}

	future := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	_, err = Normalize(SightingFields{Address: "AA:BB:CC:DD:EE:FF", RSSI: "-60", Timestamp: future}, cfg)
	if !errors.Is(err, ErrFutureSighting) {
		t.Fatalf("want future error, got %v", err)
	}
}

func TestParseTimestampForms(t *testing.T) {
	want := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	cases := []string{
		"2026-03-01T10:00:00Z",
		"2026-03-01 10:00:00",
		"1772359200",
	}
	for _, in := range cases {
		got, err := ParseTimestamp(in)
		if err != nil {
			t.Fatalf("%q: %v", in, err)
		}
		if !got.UTC().Equal(want) {
			t.Fatalf("%q: got %v want %v", in, got.UTC(), want)
		}
	}
}

func TestRadioClassDefaultsToLE(t *testing.T) {
	sg, err := Normalize(SightingFields{Address: "AA:BB:CC:DD:EE:FF", RSSI: "-60", RadioClass: "bredr"}, testConfig())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if sg.RadioClass != model.RadioClassic {
		t.Fatalf("want classic, got %s", sg.RadioClass)
	}
	sg, _ = Normalize(SightingFields{Address: "AA:BB:CC:DD:EE:FF", RSSI: "-60"}, testConfig())
	if sg.RadioClass != model.RadioLE {
		t.Fatalf("want le default, got %s", sg.RadioClass)
	}
}
