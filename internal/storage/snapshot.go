// Package storage provides best-effort persistence for telemetry: a local
// SQLite snapshot of recent errors and alerts, read back opportunistically
// at startup, and an optional archiver shipping periodic JSON snapshots to
// local disk or S3. Neither is authoritative; the in-memory store never
// depends on either succeeding.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/roof-guardian/monitoring-api/internal/telemetry"
)

// SnapshotStore persists recent error reports and alerts to a local SQLite
// file. It implements telemetry.Persister.
type SnapshotStore struct {
	db   *sql.DB
	path string
	keep int
}

// OpenSnapshot opens (or creates) the snapshot database. keep bounds the
// retained rows per table.
func OpenSnapshot(path string, keep int) (*SnapshotStore, error) {
	if keep <= 0 {
		keep = 200
	}
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite single-writer
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("snapshot migrations: %w", err)
	}
	return &SnapshotStore{db: db, path: path, keep: keep}, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS error_reports (
			id TEXT PRIMARY KEY,
			component TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			payload TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_error_reports_ts ON error_reports(timestamp)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			component TEXT,
			timestamp INTEGER NOT NULL,
			payload TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(timestamp)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (s *SnapshotStore) Close() error {
	return s.db.Close()
}

// PersistError writes one error report.
func (s *SnapshotStore) PersistError(report telemetry.ErrorReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal error report: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO error_reports (id, component, timestamp, payload) VALUES (?, ?, ?, ?)`,
		report.ID, report.ComponentName, report.Timestamp.UnixMilli(), string(payload),
	)
	if err != nil {
		return fmt.Errorf("insert error report: %w", err)
	}
	return s.prune("error_reports")
}

// PersistAlert writes one alert.
func (s *SnapshotStore) PersistAlert(alert telemetry.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO alerts (id, component, timestamp, payload) VALUES (?, ?, ?, ?)`,
		alert.ID, alert.ComponentName, alert.Timestamp.UnixMilli(), string(payload),
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return s.prune("alerts")
}

func (s *SnapshotStore) prune(table string) error {
	_, err := s.db.Exec(fmt.Sprintf(
		`DELETE FROM %s WHERE id NOT IN (SELECT id FROM %s ORDER BY timestamp DESC LIMIT ?)`,
		table, table), s.keep)
	return err
}

// RecentErrors reads back the most recent error reports, oldest first so
// they can be replayed into the in-memory buffer in order.
func (s *SnapshotStore) RecentErrors(limit int) ([]telemetry.ErrorReport, error) {
	rows, err := s.db.Query(
		`SELECT payload FROM (SELECT payload, timestamp FROM error_reports ORDER BY timestamp DESC LIMIT ?) ORDER BY timestamp ASC`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query error reports: %w", err)
	}
	defer rows.Close()

	var out []telemetry.ErrorReport
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan error report: %w", err)
		}
		var report telemetry.ErrorReport
		if err := json.Unmarshal([]byte(payload), &report); err != nil {
			continue // skip rows written by an older schema
		}
		out = append(out, report)
	}
	return out, rows.Err()
}

// RecentAlerts reads back the most recent alerts, oldest first.
func (s *SnapshotStore) RecentAlerts(limit int) ([]telemetry.Alert, error) {
	rows, err := s.db.Query(
		`SELECT payload FROM (SELECT payload, timestamp FROM alerts ORDER BY timestamp DESC LIMIT ?) ORDER BY timestamp ASC`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []telemetry.Alert
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		var alert telemetry.Alert
		if err := json.Unmarshal([]byte(payload), &alert); err != nil {
			continue
		}
		out = append(out, alert)
	}
	return out, rows.Err()
}

// CutoffPrune drops rows older than the given age. Called opportunistically;
// failures are the caller's to log and ignore.
func (s *SnapshotStore) CutoffPrune(age time.Duration) error {
	cutoff := time.Now().Add(-age).UnixMilli()
	if _, err := s.db.Exec(`DELETE FROM error_reports WHERE timestamp < ?`, cutoff); err != nil {
		return err
	}
	_, err := s.db.Exec(`DELETE FROM alerts WHERE timestamp < ?`, cutoff)
	return err
}
