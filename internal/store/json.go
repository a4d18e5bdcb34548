package store

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/provider-scraper/internal/model"
)

const jsonTimestamp = "20060102_150405"

var slugUnsafe = regexp.MustCompile(`[^a-z0-9]+`)

// JSONStore writes one providers file and one run file per run:
// {dir}/providers/{city}_{category}_{timestamp}.json and {dir}/runs/{run_id}.json.
type JSONStore struct {
	dir string
}

var _ Store = (*JSONStore)(nil)

// NewJSON creates a JSONStore rooted at dir.
func NewJSON(dir string) *JSONStore {
	if dir == "" {
		dir = "output"
	}
	return &JSONStore{dir: dir}
}

type providersFile struct {
	RunID     string                  `json:"run_id"`
	Location  string                  `json:"location"`
	Category  model.Category          `json:"category"`
	Count     int                     `json:"count"`
	Providers []model.CandidateRecord `json:"providers"`
}

type runFile struct {
	Stats         model.RunStats `json:"stats"`
	ProvidersFile string         `json:"providers_file"`
}

func (s *JSONStore) Migrate(context.Context) error {
	for _, sub := range []string{"providers", "runs"} {
		if err := os.MkdirAll(filepath.Join(s.dir, sub), 0o755); err != nil {
			return eris.Wrapf(err, "json: create %s dir", sub)
		}
	}
	return nil
}

func (s *JSONStore) Close() error { return nil }

// ProvidersPath is where a run's records are written.
func (s *JSONStore) ProvidersPath(stats *model.RunStats) string {
	city, _, _ := strings.Cut(stats.Location, ",")
	name := slug(city) + "_" + slug(string(stats.Category)) + "_" + stats.StartedAt.UTC().Format(jsonTimestamp) + ".json"
	return filepath.Join(s.dir, "providers", name)
}

func (s *JSONStore) SaveRun(ctx context.Context, stats *model.RunStats, records []model.CandidateRecord) error {
	if err := s.Migrate(ctx); err != nil {
		return err
	}
	ensureRunID(stats)

	path := s.ProvidersPath(stats)
	if records == nil {
		records = []model.CandidateRecord{}
	}
	if err := writeJSON(path, providersFile{
		RunID:     stats.RunID,
		Location:  stats.Location,
		Category:  stats.Category,
		Count:     len(records),
		Providers: records,
	}); err != nil {
		return err
	}
	if err := writeJSON(s.runPath(stats.RunID), runFile{Stats: *stats, ProvidersFile: path}); err != nil {
		return err
	}

	zap.L().Info("json: saved run",
		zap.String("run_id", stats.RunID),
		zap.String("providers_file", path),
		zap.Int("providers", len(records)),
	)
	return nil
}

func (s *JSONStore) LatestRun(context.Context) (*model.RunStats, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, "runs"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "json: list runs")
	}

	var latest *model.RunStats
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		rf, err := s.readRun(filepath.Join(s.dir, "runs", e.Name()))
		if err != nil {
			zap.L().Warn("json: skipping unreadable run file", zap.String("file", e.Name()), zap.Error(err))
			continue
		}
		if latest == nil || rf.Stats.StartedAt.After(latest.StartedAt) {
			stats := rf.Stats
			latest = &stats
		}
	}
	return latest, nil
}

func (s *JSONStore) RunRecords(_ context.Context, runID string) ([]model.CandidateRecord, error) {
	rf, err := s.readRun(s.runPath(runID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrapf(ErrRunNotFound, "json: run %s", runID)
	}
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(rf.ProvidersFile)
	if err != nil {
		return nil, eris.Wrapf(err, "json: read %s", rf.ProvidersFile)
	}
	var pf providersFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, eris.Wrapf(err, "json: decode %s", rf.ProvidersFile)
	}
	return pf.Providers, nil
}

func (s *JSONStore) runPath(runID string) string {
	return filepath.Join(s.dir, "runs", runID+".json")
}

func (s *JSONStore) readRun(path string) (*runFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rf runFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return nil, eris.Wrapf(err, "json: decode %s", path)
	}
	return &rf, nil
}

// writeJSON writes v to path through a temp file and rename.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrap(err, "json: marshal")
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return eris.Wrap(err, "json: create temp file")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()           //nolint:errcheck
		os.Remove(tmp.Name()) //nolint:errcheck
		return eris.Wrap(err, "json: write temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name()) //nolint:errcheck
		return eris.Wrap(err, "json: close temp file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name()) //nolint:errcheck
		return eris.Wrapf(err, "json: rename to %s", path)
	}
	return nil
}

func slug(s string) string {
	s = slugUnsafe.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return "all"
	}
	return s
}
