package learninggate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func cleanInputs() (EngineSignals, AblationSummary, RaceOutcome, IntegrityCheck) {
	engine := EngineSignals{SQPEScore: 0.85, SSESScore: 0.78, TIEScore: 0.72, StabilityScore: 0.80, ManipulationRisk: 0.25}
	ablation := AblationSummary{FlipCount: 0, ProbDeltaMax: 0.08}
	outcome := RaceOutcome{Verified: true, WinnerID: "r1"}
	integrity := IntegrityCheck{}
	return engine, ablation, outcome, integrity
}

func TestEvaluate_AllPassCommits(t *testing.T) {
	result := Evaluate(cleanInputs())
	assert.Equal(t, StatusCommitted, result.Status)
	assert.Contains(t, result.GateReasons, "all gate conditions passed")
}

func TestEvaluate_HighManipulationRejects(t *testing.T) {
	engine, ablation, outcome, integrity := cleanInputs()
	engine.ManipulationRisk = 0.75
	result := Evaluate(engine, ablation, outcome, integrity)
	assert.Equal(t, StatusRejected, result.Status)
}

func TestEvaluate_FragileAblationQuarantines(t *testing.T) {
	engine, ablation, outcome, integrity := cleanInputs()
	ablation.FlipCount = 3
	ablation.ProbDeltaMax = 0.3
	result := Evaluate(engine, ablation, outcome, integrity)
	assert.Equal(t, StatusQuarantined, result.Status)
}

func TestEvaluate_UnverifiedOutcomeQuarantines(t *testing.T) {
	engine, ablation, outcome, integrity := cleanInputs()
	outcome.Verified = false
	result := Evaluate(engine, ablation, outcome, integrity)
	assert.NotEqual(t, StatusCommitted, result.Status)
}

func TestEvaluate_IntegrityFlagsPropagate(t *testing.T) {
	engine, ablation, outcome, _ := cleanInputs()
	integrity := IntegrityCheck{Flags: []string{"late_non_runner"}}
	result := Evaluate(engine, ablation, outcome, integrity)
	assert.Equal(t, []string{"late_non_runner"}, result.IntegrityFlags)
	assert.NotEqual(t, StatusCommitted, result.Status)
}
