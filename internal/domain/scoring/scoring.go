// Package scoring computes the deterministic Top-4 composite score (C7):
// stability and historical modifiers, market-role strength, odds-derived
// probability, chaos adjustment, and field position, combined into one
// total per runner, then stable-sorted for a reproducible Top-4. Grounded on
// app/strategy/top4_ranker.py.
package scoring

import (
	"sort"

	"github.com/racelock/veloengine/internal/domain/form"
	"github.com/racelock/veloengine/internal/domain/historical"
	"github.com/racelock/veloengine/internal/domain/raceinput"
	"github.com/racelock/veloengine/internal/errs"
)

// Anchor-guard thresholds, overridable at process start via config.Config.Apply.
var (
	AnchorGuardMinProb  = 0.62
	AnchorGuardMaxManip = 0.45
)

var roleScores = map[raceinput.MarketRole]float64{
	raceinput.RoleLiquidityAnchor: 1.0,
	raceinput.RoleReleaseHorse:    0.75,
	raceinput.RoleSteam:           0.70,
	raceinput.RoleDriftBait:       0.40,
	raceinput.RoleSpoiler:         0.30,
	raceinput.RoleNoise:           0.20,
}

// RaceScoreContext bundles the per-race inputs the composite score needs
// beyond the runner's own profile.
type RaceScoreContext struct {
	ChaosLevel       float64
	FieldSize        int
	ManipulationRisk float64
}

func impliedProb(odds float64) float64 {
	if odds <= 0 {
		return 0
	}
	return 1.0 / odds
}

// CalculateRunnerScore computes a runner's full ScoreBreakdown. Component
// order follows the source exactly: stability, historical, role, odds,
// chaos, field, with the anchor guard folded into role.
func CalculateRunnerScore(
	profile raceinput.OpponentProfile,
	odds float64,
	stabilityProfile *raceinput.StabilityProfile,
	histStats *raceinput.HistoricalStats,
	ctx RaceScoreContext,
) raceinput.ScoreBreakdown {
	implied := impliedProb(odds)
	isStrongFavorite := implied >= AnchorGuardMinProb && ctx.ManipulationRisk < AnchorGuardMaxManip
	anchorBoost := 0.0
	if isStrongFavorite && profile.MarketRole == raceinput.RoleLiquidityAnchor {
		anchorBoost = 0.10
	}

	base, ok := roleScores[profile.MarketRole]
	if !ok {
		base = 0.5
	}
	roleScore := base*0.40 + anchorBoost

	oddsScore := implied / 0.80
	if oddsScore > 1.0 {
		oddsScore = 1.0
	}
	oddsScore *= 0.30

	var chaosBoost float64
	if ctx.ChaosLevel > 0.6 {
		switch {
		case odds >= 3.0 && odds <= 8.0:
			chaosBoost = 0.20
		case odds < 3.0:
			chaosBoost = 0.10
		default:
			chaosBoost = 0.05
		}
	} else {
		switch {
		case odds < 3.0:
			chaosBoost = 0.20
		case odds >= 3.0 && odds <= 8.0:
			chaosBoost = 0.15
		default:
			chaosBoost = 0.05
		}
	}

	fieldScore := (20.0 - float64(ctx.FieldSize)) / 20.0
	if fieldScore < 0 {
		fieldScore = 0
	}
	fieldScore *= 0.10

	stabilityMod := 0.0
	stabilityReason := "not_available"
	if stabilityProfile != nil && stabilityProfile.ClusterID != "" {
		stabilityMod = form.ClusterTrustModifier(stabilityProfile.ClusterID)
		stabilityReason = stabilityProfile.ClusterID
	}

	historicalMod := 0.0
	historicalReason := "not_available"
	if histStats != nil {
		m := historical.CalculateHistoricalModifier(*histStats, true, true, false)
		historicalMod = m.Value
		historicalReason = m.Reason
	}

	components := raceinput.ScoreComponents{
		Stability:        stabilityMod,
		Historical:       historicalMod,
		Role:             roleScore,
		Odds:             oddsScore,
		Chaos:            chaosBoost,
		Field:            fieldScore,
		AnchorGuard:      anchorBoost,
		StabilityReason:  stabilityReason,
		HistoricalReason: historicalReason,
	}

	return raceinput.ScoreBreakdown{
		Total:      components.Sum(),
		Components: components,
	}
}

// RunnerInput bundles everything CalculateRunnerScore and RankTop4 need for
// a single runner, keyed by runner ID.
type RunnerInput struct {
	Profile          raceinput.OpponentProfile
	Odds             float64
	StabilityProfile *raceinput.StabilityProfile
	HistoricalStats  *raceinput.HistoricalStats
}

// RankResult is one ranked runner: its ID, breakdown, and final rank (1-based).
type RankResult struct {
	RunnerID string
	Score    raceinput.ScoreBreakdown
	Rank     int
}

// RankTop4 scores every runner, stable-sorts by total score descending (ties
// broken by runner ID, ascending, for reproducibility), checks that the
// first min(4, field size) entries form a valid Top-4, and returns the full
// ranking.
func RankTop4(inputs []RunnerInput, ctx RaceScoreContext) ([]RankResult, error) {
	if len(inputs) == 0 {
		return nil, errs.New(errs.InvalidFieldSize, "field is empty", nil)
	}

	results := make([]RankResult, 0, len(inputs))
	for _, in := range inputs {
		if in.Profile.RunnerID == "" {
			return nil, errs.New(errs.MissingRunnerID, "runner missing runner_id", nil)
		}
		breakdown := CalculateRunnerScore(in.Profile, in.Odds, in.StabilityProfile, in.HistoricalStats, ctx)
		results = append(results, RankResult{RunnerID: in.Profile.RunnerID, Score: breakdown})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score.Total != results[j].Score.Total {
			return results[i].Score.Total > results[j].Score.Total
		}
		return results[i].RunnerID < results[j].RunnerID
	})

	for i := range results {
		results[i].Rank = i + 1
	}

	if err := validateScores(results, len(inputs)); err != nil {
		return nil, err
	}
	top := results
	if len(top) > 4 {
		top = top[:4]
	}
	if err := validateTop4(top, len(inputs)); err != nil {
		return nil, err
	}

	return results, nil
}

func validateScores(results []RankResult, fieldSize int) error {
	if len(results) != fieldSize {
		return errs.New(errs.MissingScore, "score count does not match field size", map[string]any{
			"scores": len(results), "field_size": fieldSize,
		})
	}
	for _, r := range results {
		if r.RunnerID == "" {
			return errs.New(errs.MissingScore, "score missing runner_id", nil)
		}
	}
	return nil
}

func validateTop4(top []RankResult, fieldSize int) error {
	expected := fieldSize
	if expected > 4 {
		expected = 4
	}
	if len(top) != expected {
		return errs.New(errs.InvalidTop4, "top4 length does not match min(4, field_size)", map[string]any{
			"top4_len": len(top), "field_size": fieldSize,
		})
	}
	return nil
}

// TopStrikeMargin is the gap between the #1 and #2 ranked totals — used by
// the decision policy (C11) to decide whether a Win-Overlay chassis is
// warranted.
func TopStrikeMargin(results []RankResult) float64 {
	if len(results) < 2 {
		return 1.0
	}
	return results[0].Score.Total - results[1].Score.Total
}
