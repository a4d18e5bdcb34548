package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/provider-scraper/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS scrape_runs (
	id           TEXT PRIMARY KEY,
	location     TEXT NOT NULL,
	category     TEXT NOT NULL,
	started_at   TEXT NOT NULL,
	completed_at TEXT,
	stats        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS run_providers (
	run_id   TEXT NOT NULL REFERENCES scrape_runs(id),
	position INTEGER NOT NULL,
	record   TEXT NOT NULL,
	PRIMARY KEY (run_id, position)
);

CREATE TABLE IF NOT EXISTS providers (
	identity_key TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	city         TEXT,
	phone        TEXT,
	website_url  TEXT,
	record       TEXT NOT NULL,
	last_run_id  TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scrape_runs_started_at ON scrape_runs(started_at);
CREATE INDEX IF NOT EXISTS idx_providers_city ON providers(city);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveRun(ctx context.Context, stats *model.RunStats, records []model.CandidateRecord) error {
	ensureRunID(stats)
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal stats")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	var completed *string
	if stats.CompletedAt != nil {
		c := stats.CompletedAt.UTC().Format(time.RFC3339Nano)
		completed = &c
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO scrape_runs (id, location, category, started_at, completed_at, stats) VALUES (?, ?, ?, ?, ?, ?)`,
		stats.RunID, stats.Location, string(stats.Category),
		stats.StartedAt.UTC().Format(time.RFC3339Nano), completed, string(statsJSON),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert run %s", stats.RunID)
	}

	for i, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal record")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_providers (run_id, position, record) VALUES (?, ?, ?)`,
			stats.RunID, i, string(data),
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert run provider %d", i)
		}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	keys, latest := latestByKey(records)
	for i, r := range latest {
		data, err := json.Marshal(r)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal record")
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO providers (identity_key, name, city, phone, website_url, record, last_run_id, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (identity_key) DO UPDATE SET
				name = excluded.name,
				city = excluded.city,
				phone = excluded.phone,
				website_url = excluded.website_url,
				record = excluded.record,
				last_run_id = excluded.last_run_id,
				updated_at = excluded.updated_at`,
			keys[i], r.Name, r.City, r.Phone, r.WebsiteURL, string(data), stats.RunID, now,
		); err != nil {
			return eris.Wrapf(err, "sqlite: upsert provider %s", keys[i])
		}
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: commit")
	}
	zap.L().Info("sqlite: saved run",
		zap.String("run_id", stats.RunID),
		zap.Int("providers", len(records)),
	)
	return nil
}

func (s *SQLiteStore) LatestRun(ctx context.Context) (*model.RunStats, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT stats FROM scrape_runs ORDER BY started_at DESC LIMIT 1`,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest run")
	}

	var stats model.RunStats
	if err := json.Unmarshal([]byte(data), &stats); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal stats")
	}
	return &stats, nil
}

func (s *SQLiteStore) RunRecords(ctx context.Context, runID string) ([]model.CandidateRecord, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM scrape_runs WHERE id = ?`, runID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrRunNotFound, "sqlite: run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM run_providers WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list run providers %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.CandidateRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run provider")
		}
		var r model.CandidateRecord
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal record")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate run providers")
}
