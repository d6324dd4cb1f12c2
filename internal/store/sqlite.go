// Package store persists match output in its two published forms: a
// flat CSV snapshot of the current run and a SQLite history that
// accumulates across runs and backs the dashboard queries.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/couchcryptid/alert-district-etl/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS alerts_history (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    aviso      TEXT NOT NULL,
    nro        TEXT NOT NULL,
    nivel      TEXT NOT NULL,
    inicio     DATE NOT NULL,
    fin        DATE NOT NULL,
    status     TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(nro, inicio)
);

CREATE TABLE IF NOT EXISTS affected_districts (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    alert_id     INTEGER NOT NULL REFERENCES alerts_history(id) ON DELETE CASCADE,
    distrito     TEXT NOT NULL,
    provincia    TEXT NOT NULL,
    departamento TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts_history(status);
CREATE INDEX IF NOT EXISTS idx_alerts_dates ON alerts_history(inicio, fin);
CREATE INDEX IF NOT EXISTS idx_districts_alert ON affected_districts(alert_id);
CREATE INDEX IF NOT EXISTS idx_districts_name ON affected_districts(distrito);
`

// sqliteTimeLayout matches CURRENT_TIMESTAMP output.
const sqliteTimeLayout = "2006-01-02 15:04:05"

// HistoryRecord is one persisted alert row with its derived status.
type HistoryRecord struct {
	ID        int64     `json:"id"`
	Label     string    `json:"label"`
	Number    string    `json:"number"`
	Level     string    `json:"level"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DistrictRef names one district touched by an alert.
type DistrictRef struct {
	District string `json:"district"`
	Province string `json:"province"`
}

// Summary aggregates the history for the dashboard landing metrics.
type Summary struct {
	TotalAlerts       int    `json:"total_alerts"`
	ActiveAlerts      int    `json:"active_alerts"`
	ExpiredAlerts     int    `json:"expired_alerts"`
	AffectedDistricts int    `json:"affected_districts"`
	MaxLevel          string `json:"max_level,omitempty"`
	LastStart         string `json:"last_start,omitempty"`
}

// HistoryStore keeps alert history in SQLite.
type HistoryStore struct {
	db *sql.DB
}

// NewHistoryStore opens (creating if needed) the history database.
func NewHistoryStore(path string) (*HistoryStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(wal)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	return &HistoryStore{db: db}, nil
}

// Init creates the schema if it doesn't exist.
func (s *HistoryStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *HistoryStore) Close() error {
	return s.db.Close()
}

// SaveRun persists one run's output. Each distinct alert is upserted on
// its (number, start date) key and its district list replaced
// wholesale, so a re-run of the same bulletin converges instead of
// accumulating. The whole write is one transaction; a failed run never
// leaves a half-updated history.
func (s *HistoryStore) SaveRun(ctx context.Context, rows []domain.AffectedDistrict, today time.Time) error {
	type group struct {
		alert     domain.AffectedDistrict
		districts []domain.AffectedDistrict
	}
	var order []string
	groups := make(map[string]*group)
	for _, row := range rows {
		key := row.Number + "\x1f" + row.Start.Format(domain.DateLayout)
		g, ok := groups[key]
		if !ok {
			g = &group{alert: row}
			groups[key] = g
			order = append(order, key)
		}
		g.districts = append(g.districts, row)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, key := range order {
		g := groups[key]
		a := g.alert
		start := a.Start.Format(domain.DateLayout)

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO alerts_history (aviso, nro, nivel, inicio, fin, status)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(nro, inicio) DO UPDATE SET
				aviso = excluded.aviso,
				nivel = excluded.nivel,
				fin = excluded.fin,
				status = excluded.status,
				updated_at = CURRENT_TIMESTAMP
		`, a.Label, a.Number, a.Level, start, a.End.Format(domain.DateLayout),
			domain.Status(a.End, today)); err != nil {
			return fmt.Errorf("upserting alert %s: %w", a.Number, err)
		}

		var alertID int64
		if err := tx.QueryRowContext(ctx,
			`SELECT id FROM alerts_history WHERE nro = ? AND inicio = ?`,
			a.Number, start).Scan(&alertID); err != nil {
			return fmt.Errorf("resolving alert %s: %w", a.Number, err)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM affected_districts WHERE alert_id = ?`, alertID); err != nil {
			return fmt.Errorf("clearing districts for alert %s: %w", a.Number, err)
		}
		for _, d := range g.districts {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO affected_districts (alert_id, distrito, provincia, departamento)
				VALUES (?, ?, ?, ?)
			`, alertID, d.District, d.Province, d.Department); err != nil {
				return fmt.Errorf("inserting district %s for alert %s: %w", d.District, a.Number, err)
			}
		}
	}

	return tx.Commit()
}

const recordColumns = `id, aviso, nro, nivel, inicio, fin, status, created_at, updated_at`

// ActiveAlerts returns alerts currently marked active, newest first.
func (s *HistoryStore) ActiveAlerts(ctx context.Context) ([]HistoryRecord, error) {
	return s.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM alerts_history WHERE status = ? ORDER BY inicio DESC, id`,
		domain.StatusActive)
}

// History returns alerts whose start date falls in the last N days,
// newest first.
func (s *HistoryStore) History(ctx context.Context, days int) ([]HistoryRecord, error) {
	return s.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM alerts_history WHERE inicio >= date('now', ?) ORDER BY inicio DESC, id`,
		fmt.Sprintf("-%d days", days))
}

// DistrictHistory returns every alert that has affected the named
// district, newest first.
func (s *HistoryStore) DistrictHistory(ctx context.Context, district string) ([]HistoryRecord, error) {
	return s.queryRecords(ctx, `
		SELECT DISTINCT ah.id, ah.aviso, ah.nro, ah.nivel, ah.inicio, ah.fin, ah.status, ah.created_at, ah.updated_at
		FROM alerts_history ah
		JOIN affected_districts ad ON ah.id = ad.alert_id
		WHERE ad.distrito = ?
		ORDER BY ah.inicio DESC, ah.id
	`, district)
}

// AlertByNumber returns the most recent history row for a bulletin
// number, or nil when none is recorded.
func (s *HistoryStore) AlertByNumber(ctx context.Context, number string) (*HistoryRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM alerts_history WHERE nro = ? ORDER BY inicio DESC LIMIT 1`,
		number)
	return scanRecord(row)
}

// DistrictsFor returns the district list recorded for an alert, in
// insertion order.
func (s *HistoryStore) DistrictsFor(ctx context.Context, alertID int64) ([]DistrictRef, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT distrito, provincia FROM affected_districts WHERE alert_id = ? ORDER BY id`,
		alertID)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // best-effort cleanup

	var refs []DistrictRef
	for rows.Next() {
		var ref DistrictRef
		if err := rows.Scan(&ref.District, &ref.Province); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// RefreshStatuses expires active alerts whose end date has passed and
// returns how many rows flipped. Alerts that drop out of the bulletin
// would otherwise stay active forever.
func (s *HistoryStore) RefreshStatuses(ctx context.Context, today time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alerts_history
		SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE status = ? AND fin < ?
	`, domain.StatusExpired, domain.StatusActive, domain.Midnight(today).Format(domain.DateLayout))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Cleanup deletes alerts whose start date is older than the retention
// window. District rows go with them via the cascading foreign key.
func (s *HistoryStore) Cleanup(ctx context.Context, days int) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM alerts_history WHERE inicio < date('now', ?)`,
		fmt.Sprintf("-%d days", days))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Summarize aggregates the history into the dashboard landing metrics.
func (s *HistoryStore) Summarize(ctx context.Context) (*Summary, error) {
	var sum Summary

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM alerts_history GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // best-effort cleanup
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		sum.TotalAlerts += count
		switch status {
		case domain.StatusActive:
			sum.ActiveAlerts = count
		case domain.StatusExpired:
			sum.ExpiredAlerts = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT ad.distrito)
		FROM affected_districts ad
		JOIN alerts_history ah ON ah.id = ad.alert_id
		WHERE ah.status = ?
	`, domain.StatusActive).Scan(&sum.AffectedDistricts); err != nil {
		return nil, err
	}

	levelRows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT nivel FROM alerts_history WHERE status = ?`, domain.StatusActive)
	if err != nil {
		return nil, err
	}
	defer levelRows.Close() //nolint:errcheck // best-effort cleanup
	var levels []string
	for levelRows.Next() {
		var l string
		if err := levelRows.Scan(&l); err != nil {
			return nil, err
		}
		levels = append(levels, l)
	}
	if err := levelRows.Err(); err != nil {
		return nil, err
	}
	sum.MaxLevel = domain.MaxLevel(levels)

	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(inicio), '') FROM alerts_history WHERE status = ?`,
		domain.StatusActive).Scan(&sum.LastStart); err != nil {
		return nil, err
	}

	return &sum, nil
}

func (s *HistoryStore) queryRecords(ctx context.Context, query string, args ...any) ([]HistoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // best-effort cleanup

	var records []HistoryRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

func scanRecord(row interface{ Scan(dest ...any) error }) (*HistoryRecord, error) {
	var r HistoryRecord
	var start, end, created, updated string

	err := row.Scan(&r.ID, &r.Label, &r.Number, &r.Level, &start, &end, &r.Status, &created, &updated)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	r.Start, _ = time.Parse(domain.DateLayout, start)
	r.End, _ = time.Parse(domain.DateLayout, end)
	r.CreatedAt, _ = time.Parse(sqliteTimeLayout, created)
	r.UpdatedAt, _ = time.Parse(sqliteTimeLayout, updated)

	return &r, nil
}
