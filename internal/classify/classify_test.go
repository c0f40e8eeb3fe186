package classify

import (
	"testing"

	"bluewatch/internal/model"
)

func TestServicePriorityBeatsName(t *testing.T) {
	// Heart-rate service with a phone-looking name: the service wins.
	typ, src := Classify(Evidence{
		ServiceIDs: []string{"0000180d-0000-1000-8000-00805f9b34fb"},
		Name:       "Dave's iPhone",
		Vendor:     "Apple, Inc.",
	})
	if typ != model.TypeWatch {
		t.Fatalf("type = %v, want watch", typ)
	}
	if src != model.SourceService {
		t.Fatalf("source = %v, want service", src)
	}
}

func TestNameBeatsVendor(t *testing.T) {
	typ, src := Classify(Evidence{
		Name:   "AirPods Pro",
		Vendor: "Apple, Inc.",
	})
	if typ != model.TypeAudio || src != model.SourceName {
		t.Fatalf("got %v/%v, want audio/name", typ, src)
	}
}

func TestVendorFallback(t *testing.T) {
	typ, src := Classify(Evidence{Vendor: "Bose Corporation"})
	if typ != model.TypeAudio || src != model.SourceVendor {
		t.Fatalf("got %v/%v, want audio/vendor", typ, src)
	}
}

func TestNoEvidence(t *testing.T) {
	typ, src := Classify(Evidence{})
	if typ != model.TypeUnknown || src != model.SourceNone {
		t.Fatalf("got %v/%v, want unknown/none", typ, src)
	}
}

func TestNamePatternOrderDeterministic(t *testing.T) {
	// "galaxy watch 6" matches both the watch fragment and the generic
	// name tables; the earliest rule in the table must win every time.
	first, _ := Classify(Evidence{Name: "Galaxy Watch 6"})
	for i := 0; i < 50; i++ {
		typ, _ := Classify(Evidence{Name: "Galaxy Watch 6"})
		if typ != first {
			t.Fatalf("classification not deterministic: %v vs %v", typ, first)
		}
	}
	if first != model.TypeWatch {
		t.Fatalf("Galaxy Watch classified as %v, want watch", first)
	}
}

func TestShortUUID(t *testing.T) {
	cases := map[string]string{
		"180D": "180d",
		"0000110b-0000-1000-8000-00805f9b34fb": "110b",
		"0000180f": "180f",
		"not-a-uuid": "",
		"":           "",
	}
	for in, want := range cases {
		if got := ShortUUID(in); got != want {
			t.Errorf("ShortUUID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestServiceNames(t *testing.T) {
	names := ServiceNames([]string{"180d", "dead"})
	if names[0] != "Heart Rate" {
		t.Fatalf("names[0] = %q", names[0])
	}
	if names[1] != "dead" {
		t.Fatalf("uncatalogued id should pass through, got %q", names[1])
	}
	if ServiceNames(nil) != nil {
		t.Fatalf("nil input should return nil")
	}
}
