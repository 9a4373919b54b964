package opponent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/racelock/veloengine/internal/domain/raceinput"
)

func TestClassifyIntent(t *testing.T) {
	assert.Equal(t, raceinput.IntentWin, ClassifyIntent(raceinput.Runner{NotableJockey: true}))
	assert.Equal(t, raceinput.IntentPrep, ClassifyIntent(raceinput.Runner{LongLayoff: true}))
	assert.Equal(t, raceinput.IntentMarkAdjust, ClassifyIntent(raceinput.Runner{CareerHighMark: true, RecentPoorForm: true}))
	assert.Equal(t, raceinput.IntentUnknown, ClassifyIntent(raceinput.Runner{}))
}

func TestClassifyMarketRole_Rank1NeverNoise(t *testing.T) {
	field := []raceinput.Runner{
		{RunnerID: "r1", OddsDecimal: 25.0},
		{RunnerID: "r2", OddsDecimal: 1.5},
	}
	res := ClassifyMarketRole(field[1], field)
	assert.Equal(t, raceinput.RoleLiquidityAnchor, res.Role)
}

func TestClassifyMarketRole_RankTiers(t *testing.T) {
	field := []raceinput.Runner{
		{RunnerID: "r1", OddsDecimal: 1.5},
		{RunnerID: "r2", OddsDecimal: 2.5},
		{RunnerID: "r3", OddsDecimal: 8.0},
		{RunnerID: "r4", OddsDecimal: 25.0},
	}
	assert.Equal(t, raceinput.RoleReleaseHorse, ClassifyMarketRole(field[1], field).Role)
	assert.Equal(t, raceinput.RoleReleaseHorse, ClassifyMarketRole(field[2], field).Role)
	assert.Equal(t, raceinput.RoleNoise, ClassifyMarketRole(field[3], field).Role)
}

func TestDetectStableTactics_SoloVsGroup(t *testing.T) {
	runners := []raceinput.Runner{
		{RunnerID: "r1", Trainer: "A", OddsDecimal: 2.0},
		{RunnerID: "r2", Trainer: "B", OddsDecimal: 3.0, FrontRunnerStyle: true},
		{RunnerID: "r3", Trainer: "B", OddsDecimal: 4.5},
		{RunnerID: "r4", Trainer: "B", OddsDecimal: 9.0},
	}
	tactics := DetectStableTactics(runners)
	assert.Equal(t, raceinput.TacticSolo, tactics["r1"])
	assert.Equal(t, raceinput.TacticFinisher, tactics["r2"])
	assert.Equal(t, raceinput.TacticCover, tactics["r3"])
	assert.Equal(t, raceinput.TacticDecoy, tactics["r4"])
}

func TestProfileRaceOpponents_FailsFastOnZeroOdds(t *testing.T) {
	_, err := ProfileRaceOpponents([]raceinput.Runner{{RunnerID: "r1", OddsDecimal: 0}})
	require.Error(t, err)
}

func TestProfileRaceOpponents_Success(t *testing.T) {
	runners := []raceinput.Runner{
		{RunnerID: "r1", HorseName: "A", Trainer: "T1", OddsDecimal: 2.0},
		{RunnerID: "r2", HorseName: "B", Trainer: "T2", OddsDecimal: 8.0},
	}
	profiles, err := ProfileRaceOpponents(runners)
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, raceinput.RoleLiquidityAnchor, profiles[0].MarketRole)
}
