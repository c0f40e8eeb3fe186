package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"bluewatch/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/bluewatch?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sightings (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			address TEXT NOT NULL,
			rssi INTEGER NOT NULL,
			radio_class TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			services_json JSONB NOT NULL DEFAULT '[]',
			source TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sightings_addr_ts ON sightings(address, ts)`,
		`CREATE INDEX IF NOT EXISTS idx_sightings_ts ON sightings(ts)`,
		`CREATE TABLE IF NOT EXISTS devices (
			address TEXT PRIMARY KEY,
			type_label TEXT NOT NULL,
			type_source INTEGER NOT NULL,
			friendly_name TEXT NOT NULL DEFAULT '',
			group_id BIGINT NOT NULL DEFAULT 0,
			watched BOOLEAN NOT NULL DEFAULT FALSE,
			ignored BOOLEAN NOT NULL DEFAULT FALSE,
			notes TEXT NOT NULL DEFAULT '',
			vendor TEXT NOT NULL DEFAULT '',
			first_seen TIMESTAMPTZ NOT NULL,
			last_seen TIMESTAMPTZ NOT NULL,
			sighting_count INTEGER NOT NULL DEFAULT 0,
			services_json JSONB NOT NULL DEFAULT '[]',
			last_name TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			address TEXT NOT NULL,
			start_ts TIMESTAMPTZ NOT NULL,
			end_ts TIMESTAMPTZ NOT NULL,
			sighting_count INTEGER NOT NULL,
			mean_rssi DOUBLE PRECISION NOT NULL,
			closed BOOLEAN NOT NULL DEFAULT FALSE
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

func (s *postgresStore) SaveSighting(ctx context.Context, sg model.Sighting) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sightings (ts, address, rssi, radio_class, name, services_json, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
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

func (s *postgresStore) SaveDevice(ctx context.Context, d model.Device) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO devices (address, type_label, type_source, friendly_name, group_id,
			watched, ignored, notes, vendor, first_seen, last_seen, sighting_count,
			services_json, last_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (address) DO UPDATE SET
			type_label = EXCLUDED.type_label,
			type_source = EXCLUDED.type_source,
			friendly_name = EXCLUDED.friendly_name,
			group_id = EXCLUDED.group_id,
			watched = EXCLUDED.watched,
			ignored = EXCLUDED.ignored,
			notes = EXCLUDED.notes,
			vendor = EXCLUDED.vendor,
			last_seen = EXCLUDED.last_seen,
			sighting_count = EXCLUDED.sighting_count,
			services_json = EXCLUDED.services_json,
			last_name = EXCLUDED.last_name`,
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

func (s *postgresStore) DeleteDevice(ctx context.Context, address string) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM devices WHERE address = $1`, address)
	return err
}

func (s *postgresStore) SaveSession(ctx context.Context, sess model.Session) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, address, start_ts, end_ts, sighting_count, mean_rssi, closed)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			end_ts = EXCLUDED.end_ts,
			sighting_count = EXCLUDED.sighting_count,
			mean_rssi = EXCLUDED.mean_rssi,
			closed = EXCLUDED.closed`,
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

func (s *postgresStore) Devices(ctx context.Context) ([]model.Device, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT address, type_label, type_source, friendly_name, group_id,
			watched, ignored, notes, vendor, first_seen, last_seen, sighting_count,
			services_json::TEXT, last_name
		FROM devices`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDevices(rows)
}

func (s *postgresStore) Sessions(ctx context.Context, address string, from, to time.Time, limit int) ([]model.Session, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, address, start_ts, end_ts, sighting_count, mean_rssi, closed
		FROM sessions WHERE address = $1`
	args := []any{address}
	if !from.IsZero() {
		args = append(args, from.UTC())
		query += fmt.Sprintf(` AND start_ts >= $%d`, len(args))
	}
	if !to.IsZero() {
		args = append(args, to.UTC())
		query += fmt.Sprintf(` AND start_ts <= $%d`, len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY start_ts DESC LIMIT $%d`, len(args))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

func (s *postgresStore) SightingTimes(ctx context.Context, address string, since time.Time) ([]time.Time, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts FROM sightings WHERE address = $1 AND ts >= $2 ORDER BY ts`,
		address, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTimes(rows)
}

func (s *postgresStore) AllSightingTimes(ctx context.Context, since time.Time) (map[string][]time.Time, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT address, ts FROM sightings WHERE ts >= $1 ORDER BY address, ts`,
		since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAddressTimes(rows)
}

func (s *postgresStore) LatestRSSI(ctx context.Context, address string) (int, time.Time, error) {
	if s.db == nil {
		return 0, time.Time{}, ErrNoRows
	}
	var rssi int
	var ts time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT rssi, ts FROM sightings WHERE address = $1 ORDER BY ts DESC LIMIT 1`,
		address).Scan(&rssi, &ts)
	return rssi, ts, err
}

func (s *postgresStore) CleanupSightings(ctx context.Context, olderThan time.Time) (int64, error) {
	if s.db == nil {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sightings WHERE ts < $1`, olderThan.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
