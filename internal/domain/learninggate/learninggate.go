// Package learninggate is the Activity-Dependent Learning Gate (ADLG, C12):
// VELO commits learning from a race only when every gate condition passes;
// otherwise the race is quarantined or rejected outright. Grounded on
// app/ml/learning_gate.py.
package learninggate

// Gate thresholds, overridable at process start via config.Config.Apply.
var (
	SignalConvergenceThreshold = 0.70
	ManipulationThreshold      = 0.60
	AblationFlipMax            = 1
	AblationProbDeltaMax       = 0.15
	StabilityThreshold         = 0.65
)

// Status is the commit/quarantine/reject verdict.
type Status string

const (
	StatusCommitted  Status = "committed"
	StatusQuarantined Status = "quarantined"
	StatusRejected   Status = "rejected"
)

// Condition is a single gate check's pass/fail with its scored evidence.
type Condition struct {
	Name      string
	Passed    bool
	Score     float64
	Threshold float64
	Reason    string
}

// Result is the full gate evaluation.
type Result struct {
	Status         Status
	GateScore      float64
	Conditions     []Condition
	GateReasons    []string
	AblationFlips  int
	IntegrityFlags []string
}

// EngineSignals bundles the upstream scores signal-convergence and
// manipulation checks need.
type EngineSignals struct {
	SQPEScore        float64
	SSESScore        float64
	TIEScore         float64
	StabilityScore   float64
	ManipulationRisk float64
}

// AblationSummary is the subset of the ablation suite (C9) the gate reasons
// over.
type AblationSummary struct {
	FlipCount    int
	ProbDeltaMax float64
}

// RaceOutcome is the minimal post-race verification record.
type RaceOutcome struct {
	Verified bool
	WinnerID string
}

// IntegrityCheck carries any integrity red flags raised before the gate
// runs (e.g. late non-runners, pace-collapse anomalies).
type IntegrityCheck struct {
	Flags []string
}

func checkSignalConvergence(e EngineSignals) Condition {
	convergence := (e.SQPEScore + e.SSESScore + e.TIEScore + e.StabilityScore) / 4.0
	passed := convergence >= SignalConvergenceThreshold
	reason := ""
	if !passed {
		reason = "signal convergence below threshold"
	}
	return Condition{
		Name:      "signal_convergence",
		Passed:    passed,
		Score:     convergence,
		Threshold: SignalConvergenceThreshold,
		Reason:    reason,
	}
}

func checkManipulationState(e EngineSignals) Condition {
	passed := e.ManipulationRisk <= ManipulationThreshold
	reason := ""
	if !passed {
		reason = "manipulation risk above threshold"
	}
	return Condition{
		Name:      "manipulation_check",
		Passed:    passed,
		Score:     1.0 - e.ManipulationRisk,
		Threshold: 1.0 - ManipulationThreshold,
		Reason:    reason,
	}
}

func checkAblationRobustness(a AblationSummary) Condition {
	passed := a.FlipCount <= AblationFlipMax && a.ProbDeltaMax < AblationProbDeltaMax
	score := 1.0 - (float64(a.FlipCount) / 5.0) - a.ProbDeltaMax
	if score < 0 {
		score = 0
	}
	reason := ""
	if !passed {
		reason = "ablation robustness failed"
	}
	return Condition{
		Name:      "ablation_robustness",
		Passed:    passed,
		Score:     score,
		Threshold: 0.70,
		Reason:    reason,
	}
}

func checkOutcomeVerified(o RaceOutcome) Condition {
	passed := o.Verified && o.WinnerID != ""
	score := 0.0
	if passed {
		score = 1.0
	}
	reason := ""
	if !passed {
		reason = "outcome not verified or incomplete"
	}
	return Condition{
		Name:      "outcome_verified",
		Passed:    passed,
		Score:     score,
		Threshold: 1.0,
		Reason:    reason,
	}
}

func checkIntegrity(ic IntegrityCheck) Condition {
	ok := len(ic.Flags) == 0
	score := 0.0
	reason := "clean"
	if ok {
		score = 1.0
	} else {
		reason = "integrity flags present"
	}
	return Condition{
		Name:      "integrity_check",
		Passed:    ok,
		Score:     score,
		Threshold: 1.0,
		Reason:    reason,
	}
}

// Evaluate runs all five gate conditions and derives the commit/quarantine/
// reject verdict.
//
// The REJECTED branch fires on raw manipulation risk exceeding the
// threshold, not on the (inverted) manipulation condition score — the
// source compares the inverted score against the same threshold used for
// risk, which would reject on LOW risk; this module follows the documented
// intent instead (see DESIGN.md).
func Evaluate(engine EngineSignals, ablation AblationSummary, outcome RaceOutcome, integrity IntegrityCheck) Result {
	conditions := []Condition{
		checkSignalConvergence(engine),
		checkManipulationState(engine),
		checkAblationRobustness(ablation),
		checkOutcomeVerified(outcome),
		checkIntegrity(integrity),
	}

	var sum float64
	allPassed := true
	for _, c := range conditions {
		sum += c.Score
		if !c.Passed {
			allPassed = false
		}
	}
	gateScore := sum / float64(len(conditions))

	var status Status
	var reasons []string
	switch {
	case allPassed:
		status = StatusCommitted
		reasons = []string{"all gate conditions passed"}
	case engine.ManipulationRisk > ManipulationThreshold:
		status = StatusRejected
		reasons = []string{"high manipulation detected"}
	case ablation.FlipCount > AblationFlipMax || ablation.ProbDeltaMax >= AblationProbDeltaMax:
		status = StatusQuarantined
		reasons = []string{"ablation robustness failed - decision too fragile"}
	default:
		status = StatusQuarantined
		reasons = []string{"gate score below threshold"}
	}

	for _, c := range conditions {
		if !c.Passed && c.Reason != "" {
			reasons = append(reasons, c.Name+": "+c.Reason)
		}
	}

	return Result{
		Status:         status,
		GateScore:      gateScore,
		Conditions:     conditions,
		GateReasons:    reasons,
		AblationFlips:  ablation.FlipCount,
		IntegrityFlags: integrity.Flags,
	}
}
