package model

import "time"

type RadioClass string

const (
	RadioLE      RadioClass = "le"
	RadioClassic RadioClass = "classic"
)

type DeviceType string

const (
	TypePhone    DeviceType = "phone"
	TypeTablet   DeviceType = "tablet"
	TypeLaptop   DeviceType = "laptop"
	TypeComputer DeviceType = "computer"
	TypeWatch    DeviceType = "watch"
	TypeAudio    DeviceType = "audio"
	TypeSpeaker  DeviceType = "speaker"
	TypeTV       DeviceType = "tv"
	TypeVehicle  DeviceType = "vehicle"
	TypeSmart    DeviceType = "smart"
	TypeWearable DeviceType = "wearable"
	TypeGaming   DeviceType = "gaming"
	TypeCamera   DeviceType = "camera"
	TypePrinter  DeviceType = "printer"
	TypeNetwork  DeviceType = "network"
	TypeUnknown  DeviceType = "unknown"
)

// EvidenceSource records which signal class determined a device's type label.
// Higher values outrank lower ones: a label derived from service identifiers
// is never overwritten by name or vendor evidence.
type EvidenceSource int

const (
	SourceNone EvidenceSource = iota
	SourceVendor
	SourceName
	SourceService
	SourceManual
)

func (s EvidenceSource) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func (s EvidenceSource) String() string {
	switch s {
	case SourceVendor:
		return "vendor"
	case SourceName:
		return "name"
	case SourceService:
		return "service"
	case SourceManual:
		return "manual"
	}
	return "none"
}

type Zone string

const (
	ZoneImmediate Zone = "immediate"
	ZoneNear      Zone = "near"
	ZoneFar       Zone = "far"
	ZoneRemote    Zone = "remote"
	ZoneUnknown   Zone = "unknown"
)

// Sighting is one observed detection of a device. Immutable once ingested.
type Sighting struct {
	Address    string     `json:"address"`
	Timestamp  time.Time  `json:"timestamp"`
	RSSI       int        `json:"rssi"`
	ServiceIDs []string   `json:"service_ids,omitempty"`
	RadioClass RadioClass `json:"radio_class,omitempty"`
	Name       string     `json:"name,omitempty"`
	Source     string     `json:"source,omitempty"`
}

type Device struct {
	Address       string         `json:"address"`
	TypeLabel     DeviceType     `json:"type_label"`
	TypeSource    EvidenceSource `json:"type_source"`
	FriendlyName  string         `json:"friendly_name,omitempty"`
	GroupID       int64          `json:"group_id,omitempty"`
	Watched       bool           `json:"watched"`
	Ignored       bool           `json:"ignored"`
	Notes         string         `json:"notes,omitempty"`
	Vendor        string         `json:"vendor,omitempty"`
	FirstSeen     time.Time      `json:"first_seen"`
	LastSeen      time.Time      `json:"last_seen"`
	SightingCount int64          `json:"sighting_count"`
	ServiceIDs    []string       `json:"service_ids,omitempty"`
	LastName      string         `json:"last_name,omitempty"`
}

// Session is a contiguous dwell interval for one device. Only the most recent
// session per device is mutable; closed sessions are append-only.
type Session struct {
	ID            string    `json:"id"`
	Address       string    `json:"address"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	SightingCount int       `json:"sighting_count"`
	MeanRSSI      float64   `json:"mean_rssi"`
	Closed        bool      `json:"closed"`
}

func (s Session) Dwell() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

// PatternSummary is the structured output of the pattern analyzer. OK is false
// when the observation window holds too few sightings to say anything.
type PatternSummary struct {
	OK            bool    `json:"ok"`
	Hourly        [24]int `json:"hourly"`
	Daily         [7]int  `json:"daily"`
	TimeOfDay     string  `json:"time_of_day,omitempty"`
	DayType       string  `json:"day_type,omitempty"`
	Frequency     string  `json:"frequency,omitempty"`
	ActiveDays    int     `json:"active_days"`
	WindowDays    int     `json:"window_days"`
	SightingCount int     `json:"sighting_count"`
}

// CorrelationEdge is a derived view over session history, always
// reconstructible; it is never persisted as its own event stream.
type CorrelationEdge struct {
	A            string  `json:"a"`
	B            string  `json:"b"`
	CoOccurrence int     `json:"co_occurrence"`
	WindowUnion  int     `json:"window_union"`
	Score        float64 `json:"score"`
}

type PresenceKind string

const (
	PresenceArrived   PresenceKind = "arrived"
	PresenceLeft      PresenceKind = "left"
	PresenceNewDevice PresenceKind = "new_device"
)

type PresenceEvent struct {
	Address   string       `json:"address"`
	Kind      PresenceKind `json:"kind"`
	Timestamp time.Time    `json:"timestamp"`
}
