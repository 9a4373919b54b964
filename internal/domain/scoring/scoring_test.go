package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/racelock/veloengine/internal/domain/raceinput"
)

func makeInput(id string, role raceinput.MarketRole, odds float64) RunnerInput {
	return RunnerInput{
		Profile: raceinput.OpponentProfile{RunnerID: id, MarketRole: role},
		Odds:    odds,
	}
}

func TestCalculateRunnerScore_AnchorGuard(t *testing.T) {
	profile := raceinput.OpponentProfile{RunnerID: "r1", MarketRole: raceinput.RoleLiquidityAnchor}
	ctx := RaceScoreContext{ChaosLevel: 0.4, FieldSize: 6, ManipulationRisk: 0.3}
	bd := CalculateRunnerScore(profile, 1.5, nil, nil, ctx)
	assert.Equal(t, 0.10, bd.Components.AnchorGuard)
	// AnchorGuard is audit-only: it must already be folded into Role and must
	// not be added into Total a second time.
	assert.InDelta(t, bd.Components.Stability+bd.Components.Historical+bd.Components.Role+bd.Components.Odds+bd.Components.Chaos+bd.Components.Field, bd.Total, 1e-9)
	assert.InDelta(t, 1.02, bd.Total, 1e-9)
}

func TestCalculateRunnerScore_NoAnchorGuardWhenManipulationHigh(t *testing.T) {
	profile := raceinput.OpponentProfile{RunnerID: "r1", MarketRole: raceinput.RoleLiquidityAnchor}
	ctx := RaceScoreContext{ChaosLevel: 0.4, FieldSize: 6, ManipulationRisk: 0.5}
	bd := CalculateRunnerScore(profile, 1.5, nil, nil, ctx)
	assert.Equal(t, 0.0, bd.Components.AnchorGuard)
}

func TestRankTop4_StableOrderByScoreThenID(t *testing.T) {
	inputs := []RunnerInput{
		makeInput("r1", raceinput.RoleLiquidityAnchor, 1.44),
		makeInput("r2", raceinput.RoleReleaseHorse, 3.75),
		makeInput("r3", raceinput.RoleReleaseHorse, 9.0),
		makeInput("r4", raceinput.RoleReleaseHorse, 19.0),
		makeInput("r5", raceinput.RoleNoise, 29.0),
		makeInput("r6", raceinput.RoleNoise, 34.0),
	}
	ctx := RaceScoreContext{ChaosLevel: 0.43, FieldSize: 6, ManipulationRisk: 0.54}
	results, err := RankTop4(inputs, ctx)
	require.NoError(t, err)
	require.Len(t, results, 6)
	assert.Equal(t, "r1", results[0].RunnerID)
	assert.Equal(t, 1, results[0].Rank)
}

func TestRankTop4_EmptyFieldErrors(t *testing.T) {
	_, err := RankTop4(nil, RaceScoreContext{})
	require.Error(t, err)
}

func TestRankTop4_SmallFieldTop4Shrinks(t *testing.T) {
	inputs := []RunnerInput{
		makeInput("r1", raceinput.RoleLiquidityAnchor, 1.5),
		makeInput("r2", raceinput.RoleReleaseHorse, 4.0),
	}
	results, err := RankTop4(inputs, RaceScoreContext{FieldSize: 2})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestTopStrikeMargin(t *testing.T) {
	results := []RankResult{
		{RunnerID: "r1", Score: raceinput.ScoreBreakdown{Total: 0.9}},
		{RunnerID: "r2", Score: raceinput.ScoreBreakdown{Total: 0.7}},
	}
	assert.InDelta(t, 0.2, TopStrikeMargin(results), 1e-9)
	assert.Equal(t, 1.0, TopStrikeMargin(results[:1]))
}
