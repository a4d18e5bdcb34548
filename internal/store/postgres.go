package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/provider-scraper/internal/db"
	"github.com/sells-group/provider-scraper/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

var _ Store = (*PostgresStore)(nil)

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	pgxCfg.MaxConns = 4
	pgxCfg.MinConns = 1
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			pgxCfg.MaxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			pgxCfg.MinConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS scrape_runs (
	id           TEXT PRIMARY KEY,
	location     TEXT NOT NULL,
	category     TEXT NOT NULL,
	started_at   TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ,
	stats        JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS run_providers (
	run_id   TEXT NOT NULL REFERENCES scrape_runs(id),
	position INTEGER NOT NULL,
	record   JSONB NOT NULL,
	PRIMARY KEY (run_id, position)
);

CREATE TABLE IF NOT EXISTS providers (
	identity_key TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	city         TEXT,
	phone        TEXT,
	website_url  TEXT,
	record       JSONB NOT NULL,
	last_run_id  TEXT NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_scrape_runs_started_at ON scrape_runs(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_providers_city ON providers(city);
CREATE INDEX IF NOT EXISTS idx_providers_phone ON providers(phone);
`

var providerColumns = []string{
	"identity_key", "name", "city", "phone", "website_url", "record", "last_run_id", "updated_at",
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Provider rows are staged in a temp table and merged on identity_key. A
// provider keeps its stored row when the incoming one is not newer.
const (
	stageProviders = `CREATE TEMP TABLE _stage_providers (LIKE providers INCLUDING DEFAULTS) ON COMMIT DROP`
	mergeProviders = `INSERT INTO providers (identity_key, name, city, phone, website_url, record, last_run_id, updated_at)
SELECT identity_key, name, city, phone, website_url, record, last_run_id, updated_at FROM _stage_providers
ON CONFLICT (identity_key) DO UPDATE SET
	name = EXCLUDED.name,
	city = EXCLUDED.city,
	phone = EXCLUDED.phone,
	website_url = EXCLUDED.website_url,
	record = EXCLUDED.record,
	last_run_id = EXCLUDED.last_run_id,
	updated_at = EXCLUDED.updated_at
WHERE providers.updated_at <= EXCLUDED.updated_at`
)

// SaveRun writes the run, its ordered records and the provider upsert in a
// single transaction. Nothing is visible unless all three succeed.
func (s *PostgresStore) SaveRun(ctx context.Context, stats *model.RunStats, records []model.CandidateRecord) error {
	ensureRunID(stats)
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal stats")
	}

	runRows := make([][]any, 0, len(records))
	for i, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal record")
		}
		runRows = append(runRows, []any{stats.RunID, i, data})
	}

	now := time.Now().UTC()
	keys, latest := latestByKey(records)
	provRows := make([][]any, len(latest))
	for i, r := range latest {
		data, err := json.Marshal(r)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal record")
		}
		provRows[i] = []any{keys[i], r.Name, r.City, r.Phone, r.WebsiteURL, data, stats.RunID, now}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO scrape_runs (id, location, category, started_at, completed_at, stats) VALUES ($1, $2, $3, $4, $5, $6)`,
		stats.RunID, stats.Location, string(stats.Category), stats.StartedAt, stats.CompletedAt, statsJSON,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert run %s", stats.RunID)
	}
	if _, err := db.CopyFrom(ctx, tx, "run_providers", []string{"run_id", "position", "record"}, runRows); err != nil {
		return eris.Wrapf(err, "postgres: copy run providers %s", stats.RunID)
	}
	n, err := upsertProviders(ctx, tx, provRows)
	if err != nil {
		return eris.Wrapf(err, "postgres: upsert providers for run %s", stats.RunID)
	}
	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "postgres: commit")
	}

	zap.L().Info("postgres: saved run",
		zap.String("run_id", stats.RunID),
		zap.Int("providers", len(records)),
		zap.Int64("upserted", n),
	)
	return nil
}

// upsertProviders merges rows into providers inside tx. Rows must not
// repeat an identity key.
func upsertProviders(ctx context.Context, tx pgx.Tx, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if _, err := tx.Exec(ctx, stageProviders); err != nil {
		return 0, eris.Wrap(err, "stage providers")
	}
	if _, err := db.CopyFrom(ctx, tx, "_stage_providers", providerColumns, rows); err != nil {
		return 0, err
	}
	tag, err := tx.Exec(ctx, mergeProviders)
	if err != nil {
		return 0, eris.Wrap(err, "merge providers")
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) LatestRun(ctx context.Context) (*model.RunStats, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT stats FROM scrape_runs ORDER BY started_at DESC LIMIT 1`,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest run")
	}

	var stats model.RunStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal stats")
	}
	return &stats, nil
}

func (s *PostgresStore) RunRecords(ctx context.Context, runID string) ([]model.CandidateRecord, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT true FROM scrape_runs WHERE id = $1`, runID).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrRunNotFound, "postgres: run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT record FROM run_providers WHERE run_id = $1 ORDER BY position`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list run providers %s", runID)
	}
	defer rows.Close()

	var out []model.CandidateRecord
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run provider")
		}
		var r model.CandidateRecord
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal record")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate run providers")
}
