package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"bluewatch/internal/btaddr"
	"bluewatch/internal/config"
	"bluewatch/internal/model"
)

var (
	ErrMissingAddress = errors.New("sighting has no address")
	ErrMissingRSSI    = errors.New("sighting has no rssi")
	ErrBadTimestamp   = errors.New("unparseable timestamp")
	ErrStaleSighting  = errors.New("sighting older than clock skew limit")
	ErrFutureSighting = errors.New("sighting timestamp in the future")
)

// RejectReason maps a parse or validation error to a stable label for the
// rejection counter.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingAddress):
		return "missing_address"
	case errors.Is(err, ErrMissingRSSI):
		return "missing_rssi"
	case errors.Is(err, ErrBadTimestamp):
		return "bad_timestamp"
	case errors.Is(err, ErrStaleSighting):
		return "stale"
	case errors.Is(err, ErrFutureSighting):
		return "future"
	case errors.Is(err, btaddr.ErrInvalid):
		return "bad_address"
	default:
		return "malformed"
	}
}

// SightingFields is the loose, pre-validation form of an incoming sighting.
// Scanners in the field disagree about key names; ParseJSONMap flattens
// whatever arrives and picks fields by the common aliases.
type SightingFields struct {
	Address    string
	Timestamp  string
	RSSI       string
	Name       string
	RadioClass string
	Services   []string
}

func ParseJSONBytes(data []byte) (*SightingFields, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	return ParseJSONMap(obj), nil
}

func ParseJSONMap(obj map[string]interface{}) *SightingFields {
	extras := make(map[string]string, len(obj))
	var services []string
	for key, val := range obj {
		k := strings.ToLower(key)
		if list, ok := val.([]interface{}); ok {
			if k == "services" || k == "service_uuids" || k == "uuids" || k == "service_ids" {
				for _, item := range list {
					services = append(services, fmt.Sprint(item))
				}
			}
			continue
		}
		extras[k] = fmt.Sprint(val)
	}
	return &SightingFields{
		Address:    firstNonEmpty(extras, "address", "mac", "addr", "mac_address", "device_address"),
		Timestamp:  firstNonEmpty(extras, "timestamp", "time", "ts", "seen_at"),
		RSSI:       firstNonEmpty(extras, "rssi", "signal", "signal_strength"),
		Name:       firstNonEmpty(extras, "name", "device_name", "local_name"),
		RadioClass: firstNonEmpty(extras, "radio_class", "radio", "class", "address_type"),
		Services:   services,
	}
}

func firstNonEmpty(extras map[string]string, keys ...string) string {
	for _, key := range keys {
		if v, ok := extras[key]; ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// Normalize validates loose fields into a model.Sighting. The address is
// canonicalized, the timestamp parsed and checked against the configured
// skew limits. A missing timestamp means "now".
func Normalize(fields SightingFields, cfg *config.Config) (model.Sighting, error) {
	if fields.Address == "" {
		return model.Sighting{}, ErrMissingAddress
	}
	addr, err := btaddr.Normalize(fields.Address)
	if err != nil {
		return model.Sighting{}, fmt.Errorf("address %q: %w", fields.Address, err)
	}
	if fields.RSSI == "" {
		return model.Sighting{}, ErrMissingRSSI
	}
	rssi, err := parseRSSI(fields.RSSI)
	if err != nil {
		return model.Sighting{}, err
	}

	now := time.Now().UTC()
	ts := now
	if fields.Timestamp != "" {
		parsed, err := ParseTimestamp(fields.Timestamp)
		if err != nil {
			return model.Sighting{}, fmt.Errorf("%w: %q", ErrBadTimestamp, fields.Timestamp)
		}
		ts = parsed.UTC()
	}
	if skew := cfg.Ingest.MaxClockSkew; skew > 0 && now.Sub(ts) > skew {
		return model.Sighting{}, fmt.Errorf("%w: %s", ErrStaleSighting, ts)
	}
	if skew := cfg.Ingest.MaxFutureSkew; skew > 0 && ts.Sub(now) > skew {
		return model.Sighting{}, fmt.Errorf("%w: %s", ErrFutureSighting, ts)
	}

	var services []string
	for _, id := range fields.Services {
		id = strings.ToLower(strings.TrimSpace(id))
		if id != "" {
			services = append(services, id)
		}
	}

	return model.Sighting{
		Address:    addr,
		Timestamp:  ts,
		RSSI:       rssi,
		ServiceIDs: services,
		RadioClass: parseRadioClass(fields.RadioClass),
		Name:       strings.TrimSpace(fields.Name),
	}, nil
}

func parseRSSI(value string) (int, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, fmt.Errorf("rssi %q: %w", value, err)
	}
	rssi := int(f)
	if rssi > 20 || rssi < -127 {
		return 0, fmt.Errorf("rssi %d out of range", rssi)
	}
	return rssi, nil
}

func parseRadioClass(value string) model.RadioClass {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "le", "ble", "low_energy", "public", "random":
		return model.RadioLE
	case "classic", "bredr", "br/edr":
		return model.RadioClassic
	}
	return model.RadioLE
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
}

// ParseTimestamp accepts RFC 3339 forms, a few bare datetime layouts, and
// unix seconds or milliseconds.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		return parseUnix(value)
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	if len(value) == 0 {
		return false
	}
	start := 0
	if value[0] == '-' {
		return false
	}
	for _, ch := range value[start:] {
		if (ch < '0' || ch > '9') && ch != '.' {
			return false
		}
	}
	return true
}

func parseUnix(value string) (time.Time, error) {
	if i := strings.IndexByte(value, '.'); i >= 0 {
		sec, err := strconv.ParseInt(value[:i], 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		frac, err := strconv.ParseFloat(value[i:], 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(sec, int64(frac*float64(time.Second))).UTC(), nil
	}
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(0, ms*int64(time.Millisecond)).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
