package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"bluewatch/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:bluewatch.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// modernc sqlite serializes writes; one writer connection avoids
	// SQLITE_BUSY churn under ingest load.
	db.SetMaxOpenConns(1)
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sightings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			address TEXT NOT NULL,
			rssi INTEGER NOT NULL,
			radio_class TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			services_json TEXT NOT NULL DEFAULT '[]',
			source TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sightings_addr_ts ON sightings(address, ts)`,
		`CREATE INDEX IF NOT EXISTS idx_sightings_ts ON sightings(ts)`,
		`CREATE TABLE IF NOT EXISTS devices (
			address TEXT PRIMARY KEY,
			type_label TEXT NOT NULL,
			type_source INTEGER NOT NULL,
			friendly_name TEXT NOT NULL DEFAULT '',
			group_id INTEGER NOT NULL DEFAULT 0,
			watched INTEGER NOT NULL DEFAULT 0,
			ignored INTEGER NOT NULL DEFAULT 0,
			notes TEXT NOT NULL DEFAULT '',
			vendor TEXT NOT NULL DEFAULT '',
			first_seen TEXT NOT NULL,
			last_seen TEXT NOT NULL,
			sighting_count INTEGER NOT NULL DEFAULT 0,
			services_json TEXT NOT NULL DEFAULT '[]',
			last_name TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			address TEXT NOT NULL,
			start_ts TEXT NOT NULL,
			end_ts TEXT NOT NULL,
			sighting_count INTEGER NOT NULL,
			mean_rssi REAL NOT NULL,
			closed INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_addr_start ON sessions(address, start_ts)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) SaveSighting(ctx context.Context, sg model.Sighting) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sightings (ts, address, rssi, radio_class, name, services_json, source)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sg.Timestamp.UTC(),
		sg.Address,
		sg.RSSI,
		string(sg.RadioClass),
		sg.Name,
		encodeJSON(sg.ServiceIDs),
		sg.Source,
	)
	return err
}

func (s *sqliteStore) SaveDevice(ctx context.Context, d model.Device) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO devices (address, type_label, type_source, friendly_name, group_id,
			watched, ignored, notes, vendor, first_seen, last_seen, sighting_count,
			services_json, last_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			type_label = excluded.type_label,
			type_source = excluded.type_source,
			friendly_name = excluded.friendly_name,
			group_id = excluded.group_id,
			watched = excluded.watched,
			ignored = excluded.ignored,
			notes = excluded.notes,
			vendor = excluded.vendor,
			last_seen = excluded.last_seen,
			sighting_count = excluded.sighting_count,
			services_json = excluded.services_json,
			last_name = excluded.last_name`,
		d.Address,
		string(d.TypeLabel),
		int(d.TypeSource),
		d.FriendlyName,
		d.GroupID,
		d.Watched,
		d.Ignored,
		d.Notes,
		d.Vendor,
		d.FirstSeen.UTC(),
		d.LastSeen.UTC(),
		d.SightingCount,
		encodeJSON(d.ServiceIDs),
		d.LastName,
	)
	return err
}

func (s *sqliteStore) DeleteDevice(ctx context.Context, address string) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM devices WHERE address = ?`, address)
	return err
}

func (s *sqliteStore) SaveSession(ctx context.Context, sess model.Session) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, address, start_ts, end_ts, sighting_count, mean_rssi, closed)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			end_ts = excluded.end_ts,
			sighting_count = excluded.sighting_count,
			mean_rssi = excluded.mean_rssi,
			closed = excluded.closed`,
		sess.ID,
		sess.Address,
		sess.StartTime.UTC(),
		sess.EndTime.UTC(),
		sess.SightingCount,
		sess.MeanRSSI,
		sess.Closed,
	)
	return err
}

func (s *sqliteStore) Devices(ctx context.Context) ([]model.Device, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT address, type_label, type_source, friendly_name, group_id,
			watched, ignored, notes, vendor, first_seen, last_seen, sighting_count,
			services_json, last_name
		FROM devices`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDevices(rows)
}

func (s *sqliteStore) Sessions(ctx context.Context, address string, from, to time.Time, limit int) ([]model.Session, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, address, start_ts, end_ts, sighting_count, mean_rssi, closed
		FROM sessions WHERE address = ?`
	args := []any{address}
	if !from.IsZero() {
		query += ` AND start_ts >= ?`
		args = append(args, from.UTC())
	}
	if !to.IsZero() {
		query += ` AND start_ts <= ?`
		args = append(args, to.UTC())
	}
	query += ` ORDER BY start_ts DESC LIMIT ?`
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

func (s *sqliteStore) SightingTimes(ctx context.Context, address string, since time.Time) ([]time.Time, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts FROM sightings WHERE address = ? AND ts >= ? ORDER BY ts`,
		address, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTimes(rows)
}

func (s *sqliteStore) AllSightingTimes(ctx context.Context, since time.Time) (map[string][]time.Time, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT address, ts FROM sightings WHERE ts >= ? ORDER BY address, ts`,
		since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAddressTimes(rows)
}

func (s *sqliteStore) LatestRSSI(ctx context.Context, address string) (int, time.Time, error) {
	if s.db == nil {
		return 0, time.Time{}, ErrNoRows
	}
	var rssi int
	var ts time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT rssi, ts FROM sightings WHERE address = ? ORDER BY ts DESC LIMIT 1`,
		address).Scan(&rssi, &ts)
	return rssi, ts, err
}

func (s *sqliteStore) CleanupSightings(ctx context.Context, olderThan time.Time) (int64, error) {
	if s.db == nil {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sightings WHERE ts < ?`, olderThan.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
