package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "engine_runs")
	repo, err := NewRepository(dir)
	require.NoError(t, err)
	return repo
}

func TestRepository_SaveAndLoadRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	run := New(sampleRaceCtx(), sampleMarketCtx(), time.Date(2026, 7, 31, 14, 0, 0, 0, time.UTC), ModeRace, 0.3)
	run.AddRunnerScore(RunnerScore{RunnerID: "r1", FinalScore: 0.9})

	path, err := repo.Save(run)
	require.NoError(t, err)
	_, statErr := os.Stat(path)
	require.NoError(t, statErr)

	loaded, err := repo.Load(run.EngineRunID)
	require.NoError(t, err)
	assert.Equal(t, run.EngineRunID, loaded.EngineRunID)
	assert.Equal(t, run.RaceCtx.RaceID, loaded.RaceCtx.RaceID)
}

func TestRepository_LoadMissingReturnsNotFoundError(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.Load("nonexistent0000")
	require.Error(t, err)
}

func TestRepository_ListOrdersMostRecentFirst(t *testing.T) {
	repo := newTestRepo(t)

	older := New(sampleRaceCtx(), sampleMarketCtx(), time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC), ModeRace, 0.1)
	_, err := repo.Save(older)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	newer := New(sampleRaceCtx(), sampleMarketCtx(), time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC), ModeRace, 0.1)
	_, err = repo.Save(newer)
	require.NoError(t, err)

	ids, err := repo.List(100)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, newer.EngineRunID, ids[0])
	assert.Equal(t, older.EngineRunID, ids[1])
}

func TestRepository_ListRespectsLimit(t *testing.T) {
	repo := newTestRepo(t)
	for i := 0; i < 3; i++ {
		run := New(sampleRaceCtx(), sampleMarketCtx(), time.Now().UTC().Add(time.Duration(i)*time.Second), ModeRace, 0.1)
		_, err := repo.Save(run)
		require.NoError(t, err)
	}
	ids, err := repo.List(2)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

func TestRepository_ListSinceFiltersByModTime(t *testing.T) {
	repo := newTestRepo(t)
	run := New(sampleRaceCtx(), sampleMarketCtx(), time.Now().UTC(), ModeRace, 0.1)
	_, err := repo.Save(run)
	require.NoError(t, err)

	future := time.Now().Add(time.Hour)
	ids, err := repo.ListSince(future)
	require.NoError(t, err)
	assert.Empty(t, ids)

	past := time.Now().Add(-time.Hour)
	ids, err = repo.ListSince(past)
	require.NoError(t, err)
	assert.Contains(t, ids, run.EngineRunID)
}
