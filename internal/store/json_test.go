package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONStore_SaveRun(t *testing.T) {
	dir := t.TempDir()
	s := NewJSON(dir)
	ctx := context.Background()

	stats := testStats("run-1", testStart)
	require.NoError(t, s.SaveRun(ctx, stats, testRecords()))

	path := filepath.Join(dir, "providers", "austin_massage_20260314_093000.json")
	assert.Equal(t, path, s.ProvidersPath(stats))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var pf providersFile
	require.NoError(t, json.Unmarshal(data, &pf))
	assert.Equal(t, "run-1", pf.RunID)
	assert.Equal(t, 2, pf.Count)
	assert.Equal(t, "Zen Massage", pf.Providers[0].Name)

	data, err = os.ReadFile(filepath.Join(dir, "runs", "run-1.json"))
	require.NoError(t, err)
	var rf runFile
	require.NoError(t, json.Unmarshal(data, &rf))
	assert.Equal(t, path, rf.ProvidersFile)
	assert.Equal(t, 2, rf.Stats.New)

	entries, err := os.ReadDir(filepath.Join(dir, "providers"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestJSONStore_EmptyRunWritesEmptyList(t *testing.T) {
	dir := t.TempDir()
	s := NewJSON(dir)
	stats := testStats("run-empty", testStart)

	require.NoError(t, s.SaveRun(context.Background(), stats, nil))

	data, err := os.ReadFile(s.ProvidersPath(stats))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"providers": []`)
}

func TestJSONStore_LatestRunAndRecords(t *testing.T) {
	dir := t.TempDir()
	s := NewJSON(dir)
	ctx := context.Background()

	latest, err := s.LatestRun(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	require.NoError(t, s.SaveRun(ctx, testStats("old", testStart), testRecords()[:1]))
	require.NoError(t, s.SaveRun(ctx, testStats("new", testStart.Add(time.Hour)), testRecords()))

	latest, err = s.LatestRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "new", latest.RunID)

	recs, err := s.RunRecords(ctx, "old")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Zen Massage", recs[0].Name)
}

func TestJSONStore_RunRecordsUnknown(t *testing.T) {
	s := NewJSON(t.TempDir())
	_, err := s.RunRecords(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "san_francisco", slug(" San Francisco "))
	assert.Equal(t, "facials_and_skin", slug("FACIALS_AND_SKIN"))
	assert.Equal(t, "all", slug(""))
}
