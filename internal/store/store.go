// Package store persists run statistics and the records a run produced.
package store

import (
	"context"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/provider-scraper/internal/config"
	"github.com/sells-group/provider-scraper/internal/model"
	"github.com/sells-group/provider-scraper/internal/normalize"
)

// Persister saves the outcome of a run.
type Persister interface {
	SaveRun(ctx context.Context, stats *model.RunStats, records []model.CandidateRecord) error
}

// Store is a Persister that can also read runs back.
type Store interface {
	Persister
	// LatestRun returns the most recently started run, or nil when there is none.
	LatestRun(ctx context.Context) (*model.RunStats, error)
	RunRecords(ctx context.Context, runID string) ([]model.CandidateRecord, error)

	Migrate(ctx context.Context) error
	Close() error
}

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = eris.New("run not found")

// Open creates the store selected by cfg and migrates it.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case "", "json":
		s = NewJSON(cfg.OutputDir)
	case "sqlite":
		dsn := cfg.DatabaseURL
		if dsn == "" {
			dsn = filepath.Join(cfg.OutputDir, "scraper.db")
		}
		s, err = NewSQLite(dsn)
	case "postgres":
		s, err = NewPostgres(ctx, cfg.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func ensureRunID(stats *model.RunStats) {
	if stats.RunID == "" {
		stats.RunID = uuid.New().String()
	}
}

// latestByKey keeps the last record for each identity key so one upsert
// never touches the same row twice.
func latestByKey(records []model.CandidateRecord) ([]string, []model.CandidateRecord) {
	pos := make(map[string]int, len(records))
	var keys []string
	var out []model.CandidateRecord
	for _, r := range records {
		k := normalize.IdentityKey(r.Name, r.Address, r.City)
		if i, ok := pos[k]; ok {
			out[i] = r
			continue
		}
		pos[k] = len(out)
		keys = append(keys, k)
		out = append(out, r)
	}
	return keys, out
}
