// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and diskverdict contributors
//
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"
	_ "modernc.org/sqlite"

	"github.com/cobaltcore-dev/diskverdict/pkg/alerts"
)

// AlertLog is the global alert history kept in sqlite.
type AlertLog struct {
	conn *sql.DB
	path string
}

func OpenAlertLog(path string) (*AlertLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection serializes writers
	conn.SetMaxOpenConns(1)
	if _, err := conn.Exec("PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}
	l := &AlertLog{conn: conn, path: path}
	if err := l.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return l, nil
}

func (l *AlertLog) Close() error {
	return l.conn.Close()
}

func (l *AlertLog) Path() string {
	return l.path
}

var alertMigrations = []string{
	`
CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    timestamp INTEGER NOT NULL,
    disk_id TEXT NOT NULL,
    model TEXT,
    serial TEXT,
    alert_type TEXT NOT NULL,
    severity TEXT NOT NULL,
    metric TEXT,
    old_value TEXT,
    new_value TEXT,
    message TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_time ON alerts(timestamp);
CREATE INDEX IF NOT EXISTS idx_alerts_disk ON alerts(disk_id);
`,
	`
ALTER TABLE alerts ADD COLUMN node TEXT;
CREATE INDEX IF NOT EXISTS idx_alerts_severity ON alerts(severity);
`,
}

func (l *AlertLog) migrate() error {
	if _, err := l.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return err
	}

	var version int
	if err := l.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return err
	}

	for i, m := range alertMigrations {
		v := i + 1
		if v <= version {
			continue
		}
		tx, err := l.conn.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(m); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration v%d failed: %w", v, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", v); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func encodeValue(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeValue(s sql.NullString) any {
	if !s.Valid {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(s.String), &v); err != nil {
		return s.String
	}
	return v
}

// Insert stores a dispatched alert. Inserting the same alert twice is a no-op.
func (l *AlertLog) Insert(ctx context.Context, node string, a alerts.Alert) error {
	oldV, err := encodeValue(a.OldValue)
	if err != nil {
		return fmt.Errorf("error encoding old value: %w", err)
	}
	newV, err := encodeValue(a.NewValue)
	if err != nil {
		return fmt.Errorf("error encoding new value: %w", err)
	}
	_, err = l.conn.ExecContext(ctx, `
		INSERT OR IGNORE INTO alerts
		    (id, timestamp, disk_id, model, serial, alert_type, severity, metric, old_value, new_value, message, node)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Timestamp.UnixMilli(), a.DiskID, a.Identity.Model, a.Identity.Serial,
		string(a.Type), string(a.Severity), a.Metric, oldV, newV, a.Message, node)
	if err != nil {
		return fmt.Errorf("error storing alert: %w", err)
	}
	return nil
}

// Recent returns alerts of the last hours, newest first.
func (l *AlertLog) Recent(ctx context.Context, hours int) ([]alerts.Alert, error) {
	cutoff := time.Now().Add(-time.Duration(hours) * time.Hour)
	return l.Since(ctx, cutoff)
}

// Since returns alerts at or after cutoff, newest first.
func (l *AlertLog) Since(ctx context.Context, cutoff time.Time) ([]alerts.Alert, error) {
	rows, err := l.conn.QueryContext(ctx, `
		SELECT id, timestamp, disk_id, model, serial, alert_type, severity, metric, old_value, new_value, message
		FROM alerts
		WHERE timestamp >= ?
		ORDER BY timestamp DESC, id`, cutoff.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("error querying alerts: %w", err)
	}
	defer rows.Close()

	var out []alerts.Alert
	for rows.Next() {
		var (
			a                     alerts.Alert
			ts                    int64
			model, serial, metric sql.NullString
			oldV, newV            sql.NullString
			typ, sev              string
		)
		if err := rows.Scan(&a.ID, &ts, &a.DiskID, &model, &serial, &typ, &sev, &metric, &oldV, &newV, &a.Message); err != nil {
			return nil, err
		}
		a.Timestamp = time.UnixMilli(ts).UTC()
		a.Identity.Model = model.String
		a.Identity.Serial = serial.String
		a.Type = alerts.Type(typ)
		a.Severity = alerts.Severity(sev)
		a.Metric = metric.String
		a.OldValue = decodeValue(oldV)
		a.NewValue = decodeValue(newV)
		out = append(out, a)
	}
	return out, rows.Err()
}

// Prune deletes alerts older than the retention period.
func (l *AlertLog) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UnixMilli()
	res, err := l.conn.ExecContext(ctx, "DELETE FROM alerts WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("error pruning alerts: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the total number of stored alerts per severity.
func (l *AlertLog) Count(ctx context.Context) (map[alerts.Severity]int, error) {
	rows, err := l.conn.QueryContext(ctx, "SELECT severity, COUNT(*) FROM alerts GROUP BY severity")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[alerts.Severity]int{}
	for rows.Next() {
		var sev string
		var n int
		if err := rows.Scan(&sev, &n); err != nil {
			return nil, err
		}
		out[alerts.Severity(sev)] = n
	}
	return out, rows.Err()
}
