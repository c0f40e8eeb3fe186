package classify

import (
	"strings"

	"bluewatch/internal/model"
)

// Evidence is everything known about a device that can inform its type label.
// Any field may be empty; absent evidence degrades to unknown.
type Evidence struct {
	ServiceIDs []string
	Name       string
	Vendor     string
}

// Classify fuses the available evidence into a single type label. Evaluators
// run in fixed priority order -- service identifiers, then advertised name,
// then vendor -- and the first stage that matches decides. The returned source
// tells the caller which stage won, so stale lower-priority evidence can never
// displace a label derived from a higher-priority signal.
func Classify(ev Evidence) (model.DeviceType, model.EvidenceSource) {
	if t, ok := byService(ev.ServiceIDs); ok {
		return t, model.SourceService
	}
	if t, ok := byName(ev.Name); ok {
		return t, model.SourceName
	}
	if t, ok := byVendor(ev.Vendor); ok {
		return t, model.SourceVendor
	}
	return model.TypeUnknown, model.SourceNone
}

func byService(ids []string) (model.DeviceType, bool) {
	for _, id := range ids {
		short := ShortUUID(id)
		if short == "" {
			continue
		}
		if t, ok := serviceTypeTable[short]; ok {
			return t, true
		}
	}
	return model.TypeUnknown, false
}

func byName(name string) (model.DeviceType, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return model.TypeUnknown, false
	}
	for _, r := range namePatterns {
		if strings.Contains(name, r.pattern) {
			return r.label, true
		}
	}
	return model.TypeUnknown, false
}

func byVendor(vendor string) (model.DeviceType, bool) {
	vendor = strings.ToLower(strings.TrimSpace(vendor))
	if vendor == "" {
		return model.TypeUnknown, false
	}
	for _, r := range vendorPatterns {
		if strings.Contains(vendor, r.pattern) {
			return r.label, true
		}
	}
	return model.TypeUnknown, false
}

// ShortUUID reduces a service identifier to its 16-bit short form. Full
// 128-bit UUIDs on the Bluetooth base (0000xxxx-0000-1000-8000-00805f9b34fb)
// collapse to the xxxx segment; anything else is returned lowercased as-is
// when already four hex digits, or empty when unrecognized.
func ShortUUID(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	switch {
	case len(id) == 4:
		return id
	case len(id) == 36 && strings.HasPrefix(id, "0000") && strings.HasSuffix(id, "-0000-1000-8000-00805f9b34fb"):
		return id[4:8]
	case len(id) == 8 && strings.HasPrefix(id, "0000"):
		return id[4:8]
	}
	return ""
}

// ServiceName returns the human-readable name of a catalogued service
// identifier, or the identifier itself when uncatalogued.
func ServiceName(id string) string {
	if name, ok := serviceNames[ShortUUID(id)]; ok {
		return name
	}
	return id
}

// ServiceNames maps a service identifier list for presentation.
func ServiceNames(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, ServiceName(id))
	}
	return out
}
