package episodes

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	episodes  map[string]*Episode
	artifacts map[string]*Artifact
}

func newFakeStore() *fakeStore {
	return &fakeStore{episodes: map[string]*Episode{}, artifacts: map[string]*Artifact{}}
}

func (f *fakeStore) CreateEpisodeIfAbsent(_ context.Context, ep Episode) error {
	if _, exists := f.episodes[ep.ID]; exists {
		return nil
	}
	cp := ep
	f.episodes[ep.ID] = &cp
	return nil
}

func (f *fakeStore) WriteArtifact(_ context.Context, a Artifact) error {
	cp := a
	f.artifacts[a.ID] = &cp
	return nil
}

func (f *fakeStore) Finalize(_ context.Context, episodeID string, finalizedAt time.Time) error {
	ep, ok := f.episodes[episodeID]
	if !ok {
		return assertErr{}
	}
	ep.Finalized = true
	ep.FinalizedAt = &finalizedAt
	return nil
}

func (f *fakeStore) Get(_ context.Context, episodeID string) (*Episode, error) {
	ep, ok := f.episodes[episodeID]
	if !ok {
		return nil, assertErr{}
	}
	cp := *ep
	return &cp, nil
}

func (f *fakeStore) GetArtifact(_ context.Context, episodeID string, artifactType ArtifactType) (*Artifact, error) {
	a, ok := f.artifacts[episodeID+"_"+string(artifactType)]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

type assertErr struct{}

func (assertErr) Error() string { return "not found" }

func TestDeriveEpisodeID_MatchesDateRaceFormat(t *testing.T) {
	decisionTime := time.Date(2026, 7, 31, 14, 50, 0, 0, time.UTC)
	assert.Equal(t, "race_2026-07-31_race_001", DeriveEpisodeID("race_001", decisionTime))
}

func TestContextHash_DeterministicAndStable(t *testing.T) {
	ctx := map[string]any{"venue": "Ascot", "distance": 1600}
	h1, err := ContextHash(ctx)
	require.NoError(t, err)
	h2, err := ContextHash(ctx)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 16)
}

func TestRunner_CreateEpisodeIsIdempotent(t *testing.T) {
	store := newFakeStore()
	runner := NewRunner(store, nil)
	decisionTime := time.Date(2026, 7, 31, 14, 50, 0, 0, time.UTC)
	raceCtx := map[string]any{"venue": "Ascot"}

	id1, err := runner.CreateEpisode(context.Background(), "race_001", decisionTime, raceCtx)
	require.NoError(t, err)
	id2, err := runner.CreateEpisode(context.Background(), "race_001", decisionTime, raceCtx)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Len(t, store.episodes, 1)
}

func TestRunner_FinalizeRaceWritesOutcomeAndFinalizes(t *testing.T) {
	store := newFakeStore()
	runner := NewRunner(store, nil)
	decisionTime := time.Date(2026, 7, 31, 14, 50, 0, 0, time.UTC)

	episodeID, err := runner.CreateEpisode(context.Background(), "race_002", decisionTime, map[string]any{"venue": "Epsom"})
	require.NoError(t, err)

	err = runner.FinalizeRace(context.Background(), episodeID, map[string]any{"winner": "r1"})
	require.NoError(t, err)

	ep, err := store.Get(context.Background(), episodeID)
	require.NoError(t, err)
	assert.True(t, ep.Finalized)
	require.NotNil(t, ep.FinalizedAt)

	artifact, err := store.GetArtifact(context.Background(), episodeID, ArtifactOutcome)
	require.NoError(t, err)
	require.NotNil(t, artifact)
	assert.Equal(t, "r1", artifact.Content["winner"])
}
