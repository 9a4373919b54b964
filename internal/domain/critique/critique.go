// Package critique implements the mandatory post-race self-critique loop
// (C17): retrospective market-role validation, learning-gate decision
// grading, quarantine-counter updates, why-won/why-lost reasoning, and
// bounded threshold nudges. Grounded on app/learning/post_race_critique.py's
// PostRaceCritiqueEngine.
package critique

import (
	"time"

	"github.com/racelock/veloengine/internal/domain/raceinput"
	"github.com/racelock/veloengine/internal/engine"
)

// ThresholdNudge bounds every adjustment to ±0.02, matching §4.17's "bounded
// threshold nudges (±0.02), never applied automatically."
const ThresholdNudge = 0.02

// Outcome is the actual race result fed back into the critique.
type Outcome struct {
	WinnerID  string
	Positions map[string]int // runner_id -> finishing position, 1-based
}

// Result is one race's post-outcome retrospective, mirroring PostRaceCritique.
type Result struct {
	RaceID            string
	EngineRunID       string
	CritiqueTimestamp time.Time

	ActualWinner      string
	PredictedWinner   string
	PredictionCorrect bool
	Top4Hit           bool

	MarketRolesAssigned  map[string]raceinput.MarketRole
	MarketRolesValidated map[string]bool

	GateDecisionCorrect bool
	GateDecisionReason  string

	WhyWon  []string
	WhyLost []string

	ThresholdAdjustments map[string]float64

	QuarantinePromotions int
	QuarantineRejections int
}

// Engine performs post-race critique. Stateless aside from a clock, so it
// can be shared across races.
type Engine struct {
	Now func() time.Time
}

func NewEngine() *Engine {
	return &Engine{Now: time.Now}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Critique performs the full five-step retrospective against a finished
// EngineRun and its actual outcome and learning-gate verdict. gateStatus is
// passed as a plain string rather than learninggate.Status to avoid an
// import cycle (learninggate doesn't need to know about critique).
func (e *Engine) Critique(run *engine.EngineRun, gateStatus string, outcome Outcome) *Result {
	r := &Result{
		RaceID:            run.RaceCtx.RaceID,
		EngineRunID:       run.EngineRunID,
		CritiqueTimestamp: e.now(),
		ActualWinner:      outcome.WinnerID,
	}
	if run.Verdict != nil {
		r.PredictedWinner = run.Verdict.TopStrikeSelection
	}

	assignMarketRolesRetrospective(r, run, outcome)
	evaluateGateDecision(r, run, outcome, gateStatus)
	updateQuarantineCounters(r, gateStatus)
	analyzeWhyWonLost(r, run, outcome)
	adjustThresholds(r)

	return r
}

// assignMarketRolesRetrospective validates each runner's assigned market
// role against where it actually finished. Release_Horse should place
// top-3; Liquidity_Anchor should place 2nd-4th; other roles are neutral.
func assignMarketRolesRetrospective(r *Result, run *engine.EngineRun, outcome Outcome) {
	r.MarketRolesAssigned = make(map[string]raceinput.MarketRole, len(run.RunnerScores))
	r.MarketRolesValidated = make(map[string]bool, len(run.RunnerScores))

	for _, score := range run.RunnerScores {
		position, ok := outcome.Positions[score.RunnerID]
		if !ok {
			position = 99
		}

		var validated bool
		switch score.MarketRole {
		case raceinput.RoleReleaseHorse:
			validated = position <= 3
		case raceinput.RoleLiquidityAnchor:
			validated = position > 1 && position <= 4
		default:
			validated = true
		}

		r.MarketRolesAssigned[score.RunnerID] = score.MarketRole
		r.MarketRolesValidated[score.RunnerID] = validated
	}
}

// evaluateGateDecision grades the learning gate's commit/quarantine/reject
// call against whether the prediction actually held up.
func evaluateGateDecision(r *Result, run *engine.EngineRun, outcome Outcome, gateStatus string) {
	r.PredictionCorrect = r.PredictedWinner != "" && r.PredictedWinner == outcome.WinnerID

	if run.Verdict != nil {
		for _, id := range run.Verdict.Top4Structure {
			if id == outcome.WinnerID {
				r.Top4Hit = true
				break
			}
		}
	}

	switch gateStatus {
	case "committed":
		if r.PredictionCorrect || r.Top4Hit {
			r.GateDecisionCorrect = true
			r.GateDecisionReason = "committed and prediction was good"
		} else {
			r.GateDecisionCorrect = false
			r.GateDecisionReason = "committed but prediction failed"
		}
	case "quarantined":
		if !r.PredictionCorrect {
			r.GateDecisionCorrect = true
			r.GateDecisionReason = "quarantined and prediction failed (correct)"
		} else {
			r.GateDecisionCorrect = false
			r.GateDecisionReason = "quarantined but prediction was correct (missed opportunity)"
		}
	case "rejected":
		if !r.PredictionCorrect {
			r.GateDecisionCorrect = true
			r.GateDecisionReason = "rejected and prediction failed (correct)"
		} else {
			r.GateDecisionCorrect = false
			r.GateDecisionReason = "rejected but prediction was correct (too conservative)"
		}
	default:
		r.GateDecisionCorrect = false
		r.GateDecisionReason = "unknown gate status"
	}
}

// updateQuarantineCounters promotes a quarantined race whose prediction held
// up, or counts it as a correct rejection otherwise.
func updateQuarantineCounters(r *Result, gateStatus string) {
	if gateStatus != "quarantined" {
		return
	}
	if r.PredictionCorrect || r.Top4Hit {
		r.QuarantinePromotions = 1
	} else {
		r.QuarantineRejections = 1
	}
}

// analyzeWhyWonLost builds the root-cause reason list from the run's chassis,
// roles, and signals.
func analyzeWhyWonLost(r *Result, run *engine.EngineRun, outcome Outcome) {
	verdict := run.Verdict
	if verdict == nil {
		return
	}

	if r.PredictionCorrect {
		var reasons []string
		if !verdict.WinSuppressed {
			reasons = append(reasons, "win not suppressed - confidence justified")
		}
		if winner := run.GetRunnerScore(r.PredictedWinner); winner != nil && winner.MarketRole == raceinput.RoleReleaseHorse {
			reasons = append(reasons, "correctly identified Release Horse")
		}
		if run.ChaosLevel < 0.60 {
			reasons = append(reasons, "structure race - stable prediction")
		}
		r.WhyWon = reasons
		return
	}

	var reasons []string
	if verdict.WinSuppressed {
		reason := verdict.SuppressionReason
		if reason == "" {
			reason = "unknown"
		}
		reasons = append(reasons, "win suppressed: "+reason)
	}
	if run.ChaosLevel >= 0.60 {
		reasons = append(reasons, "chaos race - high variance")
	}
	if manipulationRisk, ok := run.Metadata["manipulation_risk"].(float64); ok && manipulationRisk >= 0.60 {
		reasons = append(reasons, "high manipulation risk detected")
	}
	if winner := run.GetRunnerScore(outcome.WinnerID); winner != nil && winner.MarketRole == raceinput.RoleLiquidityAnchor {
		reasons = append(reasons, "winner was Liquidity Anchor - trap race")
	}
	r.WhyLost = reasons
}

// adjustThresholds proposes a symmetric ±0.02 nudge when the gate called it
// wrong in either direction: too conservative (rejected/quarantined a good
// prediction) lowers thresholds; too permissive (committed a bad one)
// raises them. Correct calls propose nothing.
func adjustThresholds(r *Result) {
	adjustments := map[string]float64{}

	switch {
	case !r.GateDecisionCorrect && r.PredictionCorrect:
		adjustments["chaos_threshold"] = -ThresholdNudge
		adjustments["manipulation_threshold"] = -ThresholdNudge
	case !r.GateDecisionCorrect && !r.PredictionCorrect:
		adjustments["chaos_threshold"] = ThresholdNudge
		adjustments["manipulation_threshold"] = ThresholdNudge
	}

	r.ThresholdAdjustments = adjustments
}
