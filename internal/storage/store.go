package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"bluewatch/internal/config"
	"bluewatch/internal/model"
)

// Store is the persistence boundary. Everything above it works on model
// types; the two implementations differ only in SQL dialect.
type Store interface {
	Init(ctx context.Context) error
	Close() error

	SaveSighting(ctx context.Context, s model.Sighting) error
	SaveDevice(ctx context.Context, d model.Device) error
	DeleteDevice(ctx context.Context, address string) error
	SaveSession(ctx context.Context, s model.Session) error

	Devices(ctx context.Context) ([]model.Device, error)
	Sessions(ctx context.Context, address string, from, to time.Time, limit int) ([]model.Session, error)
	SightingTimes(ctx context.Context, address string, since time.Time) ([]time.Time, error)
	AllSightingTimes(ctx context.Context, since time.Time) (map[string][]time.Time, error)
	LatestRSSI(ctx context.Context, address string) (int, time.Time, error)

	CleanupSightings(ctx context.Context, olderThan time.Time) (int64, error)
}

// ErrNoRows signals an empty single-row read.
var ErrNoRows = sql.ErrNoRows

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func decodeStrings(raw string) []string {
	if raw == "" || raw == "null" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func scanDevices(rows *sql.Rows) ([]model.Device, error) {
	var out []model.Device
	for rows.Next() {
		var d model.Device
		var source int
		var servicesJSON string
		if err := rows.Scan(
			&d.Address, &d.TypeLabel, &source, &d.FriendlyName, &d.GroupID,
			&d.Watched, &d.Ignored, &d.Notes, &d.Vendor,
			&d.FirstSeen, &d.LastSeen, &d.SightingCount,
			&servicesJSON, &d.LastName,
		); err != nil {
			return nil, err
		}
		d.TypeSource = model.EvidenceSource(source)
		d.ServiceIDs = decodeStrings(servicesJSON)
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanSessions(rows *sql.Rows) ([]model.Session, error) {
	var out []model.Session
	for rows.Next() {
		var s model.Session
		if err := rows.Scan(
			&s.ID, &s.Address, &s.StartTime, &s.EndTime,
			&s.SightingCount, &s.MeanRSSI, &s.Closed,
		); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanTimes(rows *sql.Rows) ([]time.Time, error) {
	var out []time.Time
	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

func scanAddressTimes(rows *sql.Rows) (map[string][]time.Time, error) {
	out := make(map[string][]time.Time)
	for rows.Next() {
		var addr string
		var ts time.Time
		if err := rows.Scan(&addr, &ts); err != nil {
			return nil, err
		}
		out[addr] = append(out[addr], ts)
	}
	return out, rows.Err()
}
