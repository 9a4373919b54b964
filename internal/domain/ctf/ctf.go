// Package ctf is the Cognitive Trap Firewall (C10): explicit detectors for
// the biases an Oracle must not fall prey to — anchoring, recency,
// narrative, and sunk-cost/tilt. Grounded on app/ml/cognitive_trap_firewall.py.
package ctf

const (
	SeverityLow    = 0.3
	SeverityMedium = 0.6
	SeverityHigh   = 0.8
)

// BiasType names a detected cognitive bias.
type BiasType string

const (
	BiasAnchoring      BiasType = "anchoring"
	BiasRecency        BiasType = "recency"
	BiasNarrative      BiasType = "narrative"
	BiasSunkCost       BiasType = "sunk_cost"
	BiasOverconfidence BiasType = "overconfidence"
)

// Detection is a single flagged bias.
type Detection struct {
	BiasType        BiasType
	Severity        float64
	AffectedRunner  string
	Mitigation      string
	Evidence        map[string]any
}

// Report is the full scan result.
type Report struct {
	BiasesDetected     []Detection
	MaxSeverity        float64
	MitigationsApplied []string
	DecisionAdjusted   bool
}

// RunnerView is the subset of runner/prediction data each detector needs.
type RunnerView struct {
	RunnerID           string
	IsFavorite         bool
	MarketRole         string
	LastRunPosition    int
	AvgPositionLast5   float64
	StabilityScore     float64
	Trainer            string
	Jockey             string
	TrainerStrikeRate  float64
	JockeyStrikeRate   float64
	IntentClass        string
}

// UserContext carries the betting-session state needed for sunk-cost
// detection. A nil UserContext skips that detector entirely, matching the
// source's "only scan if user_ctx provided" behavior.
type UserContext struct {
	RecentPnL    float64
	LosingStreak int
}

func detectAnchoring(runners []RunnerView, topSelection string) *Detection {
	var favorite *RunnerView
	for i := range runners {
		if runners[i].IsFavorite {
			favorite = &runners[i]
			break
		}
	}
	if favorite == nil || topSelection != favorite.RunnerID {
		return nil
	}
	if favorite.MarketRole == "Release_Horse" {
		return nil
	}
	return &Detection{
		BiasType:       BiasAnchoring,
		Severity:       0.7,
		AffectedRunner: favorite.RunnerID,
		Mitigation:     "Downweight win confidence; require release signal",
		Evidence: map[string]any{
			"is_favorite":    true,
			"market_role":    favorite.MarketRole,
			"release_signal": false,
		},
	}
}

func findRunner(runners []RunnerView, runnerID string) *RunnerView {
	for i := range runners {
		if runners[i].RunnerID == runnerID {
			return &runners[i]
		}
	}
	return nil
}

func detectRecency(runners []RunnerView, topSelection string) *Detection {
	top := findRunner(runners, topSelection)
	if top == nil {
		return nil
	}
	if top.LastRunPosition <= 2 && top.AvgPositionLast5 > 4.0 {
		if top.StabilityScore < 0.65 {
			return &Detection{
				BiasType:       BiasRecency,
				Severity:       0.6,
				AffectedRunner: top.RunnerID,
				Mitigation:     "Require stability cluster confirmation",
				Evidence: map[string]any{
					"last_run_position": top.LastRunPosition,
					"avg_position":      top.AvgPositionLast5,
					"stability_score":   top.StabilityScore,
				},
			}
		}
	}
	return nil
}

func detectNarrative(runners []RunnerView, topSelection string) *Detection {
	top := findRunner(runners, topSelection)
	if top == nil {
		return nil
	}
	isBigStable := top.TrainerStrikeRate > 0.20
	isTopJockey := top.JockeyStrikeRate > 0.20
	if !isBigStable && !isTopJockey {
		return nil
	}
	if top.IntentClass == "Unknown" || top.IntentClass == "" {
		return &Detection{
			BiasType:       BiasNarrative,
			Severity:       0.5,
			AffectedRunner: top.RunnerID,
			Mitigation:     "Require intent markers (Win signal)",
			Evidence: map[string]any{
				"trainer":     top.Trainer,
				"jockey":      top.Jockey,
				"intent_class": top.IntentClass,
				"big_stable":  isBigStable,
				"top_jockey":  isTopJockey,
			},
		}
	}
	return nil
}

func detectSunkCost(user UserContext) *Detection {
	if user.RecentPnL < -100 || user.LosingStreak >= 3 {
		return &Detection{
			BiasType:   BiasSunkCost,
			Severity:   0.8,
			Mitigation: "Force conservative chassis (Top-4 only); reduce stake suggestions",
			Evidence: map[string]any{
				"recent_pnl":    user.RecentPnL,
				"losing_streak": user.LosingStreak,
			},
		}
	}
	return nil
}

// detectOverconfidence is declared in the enum but never implemented in the
// source (BiasType.OVERCONFIDENCE has no matching _detect_overconfidence
// body). Kept as an explicit no-op rather than invented, per DESIGN.md.
func detectOverconfidence(_ []RunnerView, _ string) *Detection {
	return nil
}

// Scan runs all bias detectors and returns the aggregate report. user may
// be nil: the sunk-cost detector only runs when a user context is supplied.
func Scan(runners []RunnerView, topSelection string, user *UserContext) Report {
	var biases []Detection

	if d := detectAnchoring(runners, topSelection); d != nil {
		biases = append(biases, *d)
	}
	if d := detectRecency(runners, topSelection); d != nil {
		biases = append(biases, *d)
	}
	if d := detectNarrative(runners, topSelection); d != nil {
		biases = append(biases, *d)
	}
	if d := detectOverconfidence(runners, topSelection); d != nil {
		biases = append(biases, *d)
	}
	if user != nil {
		if d := detectSunkCost(*user); d != nil {
			biases = append(biases, *d)
		}
	}

	maxSeverity := 0.0
	var mitigations []string
	for _, b := range biases {
		if b.Severity > maxSeverity {
			maxSeverity = b.Severity
		}
		if b.Mitigation != "" {
			mitigations = append(mitigations, b.Mitigation)
		}
	}

	return Report{
		BiasesDetected:     biases,
		MaxSeverity:        maxSeverity,
		MitigationsApplied: mitigations,
		DecisionAdjusted:   maxSeverity >= SeverityMedium,
	}
}

// DecisionAdjustment is the subset of decision fields CTF mitigations can
// override.
type DecisionAdjustment struct {
	WinConfidence     *float64
	StabilityRequired *float64
	IntentRequired    *bool
	ForceChassis      string
	SuppressWin       *bool
	StakeMultiplier   *float64
}

// ApplyMitigations folds each detected bias's mitigation into a decision
// adjustment. Returns a zero-value adjustment (no overrides) when the
// report did not cross the decision-adjusted threshold.
func ApplyMitigations(report Report, baseWinConfidence float64) DecisionAdjustment {
	var adj DecisionAdjustment
	if !report.DecisionAdjusted {
		return adj
	}
	for _, b := range report.BiasesDetected {
		switch b.BiasType {
		case BiasAnchoring:
			v := baseWinConfidence * 0.7
			adj.WinConfidence = &v
		case BiasRecency:
			v := 0.70
			adj.StabilityRequired = &v
		case BiasNarrative:
			v := true
			adj.IntentRequired = &v
		case BiasSunkCost:
			adj.ForceChassis = "Top-4"
			suppress := true
			adj.SuppressWin = &suppress
			mult := 0.5
			adj.StakeMultiplier = &mult
		}
	}
	return adj
}
