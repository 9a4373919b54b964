package raceeng

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/racelock/veloengine/internal/domain/raceinput"
)

func TestConditionTargeting_InBounds(t *testing.T) {
	r := raceinput.Runner{Age: 5, Sex: "F", ClassRating: 80}
	raceCtx := raceinput.RaceContext{ClassLevel: 82}
	v := ConditionTargeting(r, raceCtx)
	assert.GreaterOrEqual(t, v, 0.0)
	assert.LessOrEqual(t, v, 1.0)
}

func TestConditionTargeting_ExactClassMatchScoresHigher(t *testing.T) {
	raceCtx := raceinput.RaceContext{ClassLevel: 80}
	exact := ConditionTargeting(raceinput.Runner{ClassRating: 80}, raceCtx)
	oneOff := ConditionTargeting(raceinput.Runner{ClassRating: 79}, raceCtx)
	farOff := ConditionTargeting(raceinput.Runner{ClassRating: 70}, raceCtx)
	assert.Greater(t, exact, oneOff)
	assert.Greater(t, oneOff, farOff)
}

func TestConditionTargeting_AgeBandExcludes(t *testing.T) {
	raceCtx := raceinput.RaceContext{AgeBand: "3yo"}
	inBand := ConditionTargeting(raceinput.Runner{Age: 3}, raceCtx)
	outOfBand := ConditionTargeting(raceinput.Runner{Age: 5}, raceCtx)
	assert.Greater(t, inBand, outOfBand)
}

func TestConditionTargeting_DistanceWinRateAddsAFourthCheck(t *testing.T) {
	withStats := ConditionTargeting(raceinput.Runner{
		HistoricalStats: &raceinput.HistoricalStats{DistanceWinRate: 1.0, DistanceSamples: 5},
	}, raceinput.RaceContext{ClassLevel: 80})
	withoutStats := ConditionTargeting(raceinput.Runner{}, raceinput.RaceContext{ClassLevel: 80})
	assert.Greater(t, withStats, withoutStats)
}

func TestEntryIntentMarkers_ClampedBounds(t *testing.T) {
	r := raceinput.Runner{NotableJockey: true, DaysSinceLastRun: 10}
	v := EntryIntentMarkers(r)
	assert.LessOrEqual(t, v, 1.0)
	assert.GreaterOrEqual(t, v, -1.0)
}

func TestEntryIntentMarkers_SweetSpotTurnaround(t *testing.T) {
	v := EntryIntentMarkers(raceinput.Runner{DaysSinceLastRun: 10})
	assert.InDelta(t, 0.3, v, 1e-9)
}

func TestEntryIntentMarkers_LongLayoffIsNegative(t *testing.T) {
	v := EntryIntentMarkers(raceinput.Runner{DaysSinceLastRun: 120})
	assert.InDelta(t, -0.2, v, 1e-9)
}

func TestEntryIntentMarkers_ClassDropVsRise(t *testing.T) {
	drop := EntryIntentMarkers(raceinput.Runner{ClassMovement: -1})
	rise := EntryIntentMarkers(raceinput.Runner{ClassMovement: 1})
	assert.InDelta(t, 0.4, drop, 1e-9)
	assert.InDelta(t, -0.2, rise, 1e-9)
}

func TestEntryIntentMarkers_HotStableForm(t *testing.T) {
	v := EntryIntentMarkers(raceinput.Runner{StableFormLast14: 0.3})
	assert.InDelta(t, 0.3, v, 1e-9)
}

func TestHandicapMarkStrategy_FloorIsPositiveCareerHighIsNegative(t *testing.T) {
	floor := HandicapMarkStrategy(raceinput.Runner{MarkFloor: true}, 0.5)
	careerHigh := HandicapMarkStrategy(raceinput.Runner{CareerHighMark: true}, 0.5)
	assert.InDelta(t, 0.5, floor, 1e-9)
	assert.InDelta(t, -0.5, careerHigh, 1e-9)
}

func TestHandicapMarkStrategy_TodayIsTheGoCombo(t *testing.T) {
	r := raceinput.Runner{MarkFloor: true, OddsDrift: -0.3}
	v := HandicapMarkStrategy(r, 0.8) // ctiScore > 0.7, odds shortening, floor mark
	assert.InDelta(t, 1.0, v, 1e-9)   // 0.5 (floor) + 0.8 (combo) clamped to 1.0
}

func TestHandicapMarkStrategy_ComboRequiresFloorMark(t *testing.T) {
	r := raceinput.Runner{OddsDrift: -0.3} // conditions + market support, but no floor mark
	v := HandicapMarkStrategy(r, 0.8)
	assert.InDelta(t, 0.0, v, 1e-9)
}

func TestHandicapMarkStrategy_DescendingEffort(t *testing.T) {
	// Most-recent-first form string "4-2-1": reversed chronologically
	// 1 < 2 < 4, a worsening three-run sequence.
	v := HandicapMarkStrategy(raceinput.Runner{FormString: "4-2-1"}, 0.0)
	assert.InDelta(t, 0.6, v, 1e-9)
}

func TestMultiRunnerStableCoupling_SoloGetsNoThreat(t *testing.T) {
	runners := []raceinput.Runner{{RunnerID: "r1", Trainer: "A", OddsDecimal: 2.0}}
	out := MultiRunnerStableCoupling(runners)
	assert.Equal(t, "solo", out["r1"].MSCRole)
	assert.False(t, out["r1"].MSCThreat)
}

func TestMultiRunnerStableCoupling_AllStableMembersAreThreats(t *testing.T) {
	runners := []raceinput.Runner{
		{RunnerID: "r1", Trainer: "B", OddsDecimal: 2.0},
		{RunnerID: "r2", Trainer: "B", OddsDecimal: 3.0, FrontRunnerStyle: true},
		{RunnerID: "r3", Trainer: "B", OddsDecimal: 9.0},
	}
	out := MultiRunnerStableCoupling(runners)
	assert.Equal(t, "finisher", out["r1"].MSCRole)
	assert.Equal(t, "pace_setter", out["r2"].MSCRole)
	assert.Equal(t, "decoy", out["r3"].MSCRole)
	// The source sets msc_threat_flag for every stable member, including the
	// finisher itself — not just the non-finishers.
	assert.True(t, out["r1"].MSCThreat)
	assert.True(t, out["r2"].MSCThreat)
	assert.True(t, out["r3"].MSCThreat)
}

func TestBuildRaceFeatures_AllPresent(t *testing.T) {
	runners := []raceinput.Runner{
		{RunnerID: "r1", Trainer: "A", Age: 4, OddsDecimal: 2.0},
		{RunnerID: "r2", Trainer: "A", OddsDecimal: 5.0},
	}
	out := BuildRaceFeatures(runners, raceinput.RaceContext{})
	assert.GreaterOrEqual(t, out["r1"].CTI, 0.0)
	assert.True(t, out["r1"].MSCThreat)
	assert.True(t, out["r2"].MSCThreat)
}
