package ctf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScan_AnchoringDetectedWithoutReleaseSignal(t *testing.T) {
	runners := []RunnerView{
		{RunnerID: "r1", IsFavorite: true, MarketRole: "Liquidity_Anchor", TrainerStrikeRate: 0.25, JockeyStrikeRate: 0.22},
		{RunnerID: "r2"},
	}
	report := Scan(runners, "r1", nil)
	assert.Len(t, report.BiasesDetected, 2) // anchoring + narrative (Unknown intent, high strike rates)
	var sawAnchoring bool
	for _, b := range report.BiasesDetected {
		if b.BiasType == BiasAnchoring {
			sawAnchoring = true
		}
	}
	assert.True(t, sawAnchoring)
}

func TestScan_NoAnchoringWhenReleaseSignal(t *testing.T) {
	runners := []RunnerView{
		{RunnerID: "r1", IsFavorite: true, MarketRole: "Release_Horse"},
	}
	report := Scan(runners, "r1", nil)
	for _, b := range report.BiasesDetected {
		assert.NotEqual(t, BiasAnchoring, b.BiasType)
	}
}

func TestScan_SunkCostRequiresUserContext(t *testing.T) {
	runners := []RunnerView{{RunnerID: "r1"}}
	reportNoUser := Scan(runners, "r1", nil)
	for _, b := range reportNoUser.BiasesDetected {
		assert.NotEqual(t, BiasSunkCost, b.BiasType)
	}

	user := UserContext{RecentPnL: -150, LosingStreak: 4}
	reportUser := Scan(runners, "r1", &user)
	var sawSunkCost bool
	for _, b := range reportUser.BiasesDetected {
		if b.BiasType == BiasSunkCost {
			sawSunkCost = true
		}
	}
	assert.True(t, sawSunkCost)
	assert.True(t, reportUser.DecisionAdjusted)
}

func TestApplyMitigations_NoAdjustmentBelowThreshold(t *testing.T) {
	report := Report{DecisionAdjusted: false}
	adj := ApplyMitigations(report, 0.8)
	assert.Nil(t, adj.WinConfidence)
}

func TestApplyMitigations_SunkCostForcesTop4(t *testing.T) {
	report := Report{
		DecisionAdjusted: true,
		BiasesDetected:   []Detection{{BiasType: BiasSunkCost}},
	}
	adj := ApplyMitigations(report, 0.8)
	assert.Equal(t, "Top-4", adj.ForceChassis)
	require := adj.SuppressWin
	assert.NotNil(t, require)
	assert.True(t, *require)
}
