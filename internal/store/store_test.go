package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/provider-scraper/internal/config"
	"github.com/sells-group/provider-scraper/internal/model"
)

var testStart = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func testStats(id string, started time.Time) *model.RunStats {
	s := model.NewRunStats(id, "Austin, TX", model.CategoryMassage, started)
	s.Attempted = 3
	s.Fetched = 3
	s.New = 2
	s.Duplicates = 1
	s.Complete(started.Add(90 * time.Second))
	return s
}

func testRecords() []model.CandidateRecord {
	return []model.CandidateRecord{
		{
			Name:       "Zen Massage",
			Address:    "500 Congress Ave",
			City:       "Austin",
			State:      "TX",
			Phone:      "+15125550100",
			WebsiteURL: "https://zen.example.com",
			Rating:     model.Ptr(4.7),
			Provenance: []model.ProvenanceEntry{
				{Kind: model.SourceGooglePlaces, URL: "https://maps.example/p1", FetchedAt: testStart},
			},
			Confidence: 0.95,
		},
		{
			Name:       "Glow Spa",
			City:       "Austin",
			Provenance: []model.ProvenanceEntry{{Kind: model.SourceWebsite, URL: "https://glow.example.com", FetchedAt: testStart}},
			Confidence: 0.6,
		},
	}
}

func TestLatestByKey(t *testing.T) {
	recs := testRecords()
	dup := recs[0].Clone()
	dup.Name = "ZEN  massage"
	dup.Phone = "+15125550199"
	recs = append(recs, dup)

	keys, out := latestByKey(recs)
	require.Len(t, out, 2)
	require.Len(t, keys, 2)
	assert.Equal(t, "+15125550199", out[0].Phone)
	assert.Equal(t, "Glow Spa", out[1].Name)
}

func TestEnsureRunID(t *testing.T) {
	s := &model.RunStats{}
	ensureRunID(s)
	assert.Len(t, s.RunID, 36)

	s2 := &model.RunStats{RunID: "fixed"}
	ensureRunID(s2)
	assert.Equal(t, "fixed", s2.RunID)
}

func TestOpen_JSON(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(context.Background(), config.StoreConfig{Driver: "json", OutputDir: dir})
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck

	assert.IsType(t, &JSONStore{}, s)
	assert.DirExists(t, filepath.Join(dir, "runs"))
	assert.DirExists(t, filepath.Join(dir, "providers"))
}

func TestOpen_SQLiteDefaultPath(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(context.Background(), config.StoreConfig{Driver: "sqlite", OutputDir: dir})
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck

	assert.IsType(t, &SQLiteStore{}, s)
	assert.FileExists(t, filepath.Join(dir, "scraper.db"))
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.StoreConfig{Driver: "mongo"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
}
