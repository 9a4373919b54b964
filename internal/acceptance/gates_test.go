package acceptance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/racelock/veloengine/internal/domain/ablation"
)

func passingInputs() Inputs {
	return Inputs{
		PipelineVersion:       ExpectedPipelineVersion,
		TestsPresent:          true,
		FirstRunID:            "abc123",
		SecondRunID:           "abc123",
		LeakageGuardWired:     true,
		FeatureSchemaVersion:  "v1.0",
		FeatureCount:          12,
		ReachableStages:       ExpectedStageNames,
		SampleConfidence:      0.72,
		SampleTopStrikeFilled: true,
		AblationRegistry:      ablation.DefaultRegistry(),
		StakingCapPresent:     true,
		KillSwitchPresent:     true,
		EngineRunPersisted:    true,
	}
}

func TestRunAll_AllPassing_Greenlights(t *testing.T) {
	report := RunAll(time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC), passingInputs())

	assert.True(t, report.AllPassed)
	assert.True(t, report.Greenlight)
	assert.Len(t, report.Gates, 8)

	summary := report.Summary()
	assert.Equal(t, 8, summary.Passed)
	assert.Equal(t, 8, summary.Total)
	assert.Equal(t, "8/8", summary.PassRate)
}

func TestRunAll_DeterminismFailure_BlocksGreenlight(t *testing.T) {
	in := passingInputs()
	in.SecondRunID = "different"

	report := RunAll(time.Now(), in)

	assert.False(t, report.Greenlight)
	var gateB GateResult
	for _, g := range report.Gates {
		if g.GateID == "B" {
			gateB = g
		}
	}
	assert.False(t, gateB.Passed)
	assert.NotEmpty(t, gateB.Failures)
}

func TestRunAll_MissingStage_FailsProductionWiring(t *testing.T) {
	in := passingInputs()
	in.ReachableStages = []string{"ingest", "feature_engineering"}

	report := RunAll(time.Now(), in)

	assert.False(t, report.Greenlight)
	var gateE GateResult
	for _, g := range report.Gates {
		if g.GateID == "E" {
			gateE = g
		}
	}
	assert.False(t, gateE.Passed)
	assert.Contains(t, gateE.Failures[0], "missing stages")
}

func TestRunAll_NoMarketAblationDomain_FailsMarketGovernance(t *testing.T) {
	in := passingInputs()
	in.AblationRegistry = ablation.Registry{ablation.DomainForm: {"consistency"}}

	report := RunAll(time.Now(), in)

	assert.False(t, report.Greenlight)
	var gateG GateResult
	for _, g := range report.Gates {
		if g.GateID == "G" {
			gateG = g
		}
	}
	assert.False(t, gateG.Passed)
}

func TestRunAll_MissingSafetyHooks_FailsOperationalSafety(t *testing.T) {
	in := passingInputs()
	in.StakingCapPresent = false
	in.KillSwitchPresent = false

	report := RunAll(time.Now(), in)

	assert.False(t, report.Greenlight)
	var gateH GateResult
	for _, g := range report.Gates {
		if g.GateID == "H" {
			gateH = g
		}
	}
	assert.False(t, gateH.Passed)
	assert.Len(t, gateH.Failures, 2)
}
