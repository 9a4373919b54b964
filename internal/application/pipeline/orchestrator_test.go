package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/racelock/veloengine/internal/domain/raceinput"
	"github.com/racelock/veloengine/internal/engine"
)

func sampleRaceCtx() raceinput.RaceContext {
	return raceinput.RaceContext{
		RaceID:       "race_orc_001",
		Course:       "Ascot",
		DecisionTime: time.Date(2026, 7, 31, 15, 0, 0, 0, time.UTC),
		Distance:     1600,
		Going:        "Good to Soft",
		ClassLevel:   2,
		Surface:      "Turf",
		FieldSize:    6,
		RaceType:     "flat",
	}
}

func sampleMarketCtx() raceinput.MarketContext {
	return raceinput.MarketContext{
		RaceID:            "race_orc_001",
		SnapshotTimestamp: time.Date(2026, 7, 31, 14, 55, 0, 0, time.UTC),
		Runners: []raceinput.RunnerMarket{
			{RunnerID: "r1", OddsDecimal: 2.5},
			{RunnerID: "r2", OddsDecimal: 4.0},
			{RunnerID: "r3", OddsDecimal: 6.0},
			{RunnerID: "r4", OddsDecimal: 9.0},
			{RunnerID: "r5", OddsDecimal: 12.0},
			{RunnerID: "r6", OddsDecimal: 20.0},
		},
	}
}

func sampleRunners() []raceinput.Runner {
	return []raceinput.Runner{
		{RunnerID: "r1", HorseName: "Horse One", Trainer: "Trainer A", Jockey: "Jockey A", FormString: "1-2-1-3", OddsDecimal: 2.5, IsFavorite: true},
		{RunnerID: "r2", HorseName: "Horse Two", Trainer: "Trainer B", Jockey: "Jockey B", FormString: "4-3-2-1", OddsDecimal: 4.0},
		{RunnerID: "r3", HorseName: "Horse Three", Trainer: "Trainer A", Jockey: "Jockey C", FormString: "5-6-4-5", OddsDecimal: 6.0},
		{RunnerID: "r4", HorseName: "Horse Four", Trainer: "Trainer C", Jockey: "Jockey D", FormString: "2-1-3-2", OddsDecimal: 9.0},
		{RunnerID: "r5", HorseName: "Horse Five", Trainer: "Trainer D", Jockey: "Jockey E", FormString: "7-8-6-7", OddsDecimal: 12.0},
		{RunnerID: "r6", HorseName: "Horse Six", Trainer: "Trainer D", Jockey: "Jockey F", FormString: "9-9-8-9", OddsDecimal: 20.0},
	}
}

func TestRun_ProducesFullResult(t *testing.T) {
	opts := Options{
		RaceCtx:   sampleRaceCtx(),
		MarketCtx: sampleMarketCtx(),
		Runners:   sampleRunners(),
		Mode:      engine.ModeRace,
		Metrics:   NewMetrics(),
	}

	result, err := Run(opts)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, "race_orc_001", result.RaceID)
	assert.Equal(t, engine.DeriveRunID("race_orc_001", opts.RaceCtx.DecisionTime), result.EngineRunID)
	assert.NotEmpty(t, result.FeaturesHash)
	assert.True(t, result.LeakagePassed)
	assert.Len(t, result.OpponentProfiles, 6)
	assert.NotEmpty(t, result.RankResults)
	assert.LessOrEqual(t, len(result.RankResults), 4)
	assert.NotEmpty(t, result.Decision.Top4Structure)

	require.NotNil(t, result.EngineRun)
	assert.Equal(t, result.EngineRunID, result.EngineRun.EngineRunID)
	assert.NotNil(t, result.EngineRun.Verdict)
	assert.Equal(t, result.Decision.TopStrikeSelection, result.EngineRun.Verdict.TopStrikeSelection)
	assert.NotEmpty(t, result.EngineRun.RunnerScores)

	assert.Equal(t, string(result.LearningGate.Status), result.EngineRun.Metadata["learning_gate_status"])
}

func TestRun_NilMetricsDoesNotPanic(t *testing.T) {
	opts := Options{
		RaceCtx:   sampleRaceCtx(),
		MarketCtx: sampleMarketCtx(),
		Runners:   sampleRunners(),
	}
	_, err := Run(opts)
	require.NoError(t, err)
}

func TestRun_RejectsEmptyRunners(t *testing.T) {
	opts := Options{
		RaceCtx:   sampleRaceCtx(),
		MarketCtx: sampleMarketCtx(),
		Runners:   nil,
	}
	_, err := Run(opts)
	require.Error(t, err)
}

func TestRun_RejectsZeroOdds(t *testing.T) {
	runners := sampleRunners()
	runners[0].OddsDecimal = 0
	opts := Options{
		RaceCtx:   sampleRaceCtx(),
		MarketCtx: sampleMarketCtx(),
		Runners:   runners,
	}
	_, err := Run(opts)
	require.Error(t, err)
}

func TestRun_DeterministicAcrossRepeatedCalls(t *testing.T) {
	opts := Options{
		RaceCtx:   sampleRaceCtx(),
		MarketCtx: sampleMarketCtx(),
		Runners:   sampleRunners(),
	}
	first, err := Run(opts)
	require.NoError(t, err)
	second, err := Run(opts)
	require.NoError(t, err)

	assert.Equal(t, first.EngineRunID, second.EngineRunID)
	assert.Equal(t, first.FeaturesHash, second.FeaturesHash)
	assert.Equal(t, first.Decision.TopStrikeSelection, second.Decision.TopStrikeSelection)
}
