// Package opponent treats the market, trainers, and stables as strategic
// agents rather than information sources (C4). Grounded on
// app/ml/opponent_models.py.
package opponent

import (
	"fmt"
	"sort"

	"github.com/racelock/veloengine/internal/domain/raceinput"
	"github.com/racelock/veloengine/internal/errs"
)

// ClassifyIntent infers trainer/owner intent from the runner's derived
// signal flags. Mirrors TrainerAgentModel.classify_intent.
func ClassifyIntent(r raceinput.Runner) raceinput.IntentClass {
	switch {
	case r.NotableJockey && !r.LongLayoff:
		return raceinput.IntentWin
	case r.LongLayoff || r.ClassRise:
		return raceinput.IntentPrep
	case r.CareerHighMark && r.RecentPoorForm:
		return raceinput.IntentMarkAdjust
	default:
		return raceinput.IntentUnknown
	}
}

// MarketRoleResult is the classified role plus its audit-trail reason.
type MarketRoleResult struct {
	Role   raceinput.MarketRole
	Reason string
}

// ClassifyMarketRole ranks a runner against the full field by ascending
// odds and assigns a market role. Rank 1 (lowest odds) is never Noise —
// the invariant is enforced structurally: the rank==1 branch always wins.
func ClassifyMarketRole(runner raceinput.Runner, field []raceinput.Runner) MarketRoleResult {
	sorted := append([]raceinput.Runner(nil), field...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].OddsDecimal < sorted[j].OddsDecimal
	})

	rank := -1
	for i, r := range sorted {
		if r.RunnerID == runner.RunnerID {
			rank = i + 1
			break
		}
	}
	if rank == -1 {
		// Runner absent from the supplied field; classify on odds alone.
		return classifyByOddsOnly(runner)
	}

	odds := runner.OddsDecimal
	switch {
	case rank == 1:
		return MarketRoleResult{
			Role:   raceinput.RoleLiquidityAnchor,
			Reason: fmt.Sprintf("rank 1, odds %.2f", odds),
		}
	case rank == 2:
		return MarketRoleResult{
			Role:   raceinput.RoleReleaseHorse,
			Reason: fmt.Sprintf("rank 2, odds %.2f", odds),
		}
	case odds >= 20.0:
		return MarketRoleResult{
			Role:   raceinput.RoleNoise,
			Reason: fmt.Sprintf("rank %d, odds %.2f (outsider)", rank, odds),
		}
	case odds >= 10.0:
		if float64(rank) > float64(len(sorted))*0.7 {
			return MarketRoleResult{
				Role:   raceinput.RoleDriftBait,
				Reason: fmt.Sprintf("rank %d, odds %.2f (mid-long, back of field)", rank, odds),
			}
		}
		return MarketRoleResult{
			Role:   raceinput.RoleReleaseHorse,
			Reason: fmt.Sprintf("rank %d, odds %.2f (mid-long)", rank, odds),
		}
	default:
		return MarketRoleResult{
			Role:   raceinput.RoleReleaseHorse,
			Reason: fmt.Sprintf("rank %d, odds %.2f (mid-band)", rank, odds),
		}
	}
}

func classifyByOddsOnly(runner raceinput.Runner) MarketRoleResult {
	odds := runner.OddsDecimal
	switch {
	case runner.IsFavorite || odds < 3.0:
		return MarketRoleResult{Role: raceinput.RoleLiquidityAnchor, Reason: "favorite-flag/odds fallback"}
	case odds < 10.0:
		return MarketRoleResult{Role: raceinput.RoleReleaseHorse, Reason: "odds fallback, mid-band"}
	default:
		return MarketRoleResult{Role: raceinput.RoleNoise, Reason: "odds fallback, outsider"}
	}
}

// DetectStableTactics groups runners by trainer and assigns multi-runner
// tactics within each group. A trainer with one runner gets Solo.
//
// Within a multi-runner stable, the shortest-priced runner is the Finisher;
// a declared front-runner among the rest is the Pace_Setter; any remaining
// runner priced at more than 1.5x the stable's shortest price is a Decoy
// (drifting the market's attention off the stable's live chance); everyone
// else is Cover. The source declares Decoy but never assigns it — this
// threshold is this module's addition (see DESIGN.md).
func DetectStableTactics(runners []raceinput.Runner) map[string]raceinput.StableTactic {
	groups := map[string][]raceinput.Runner{}
	for _, r := range runners {
		trainer := r.Trainer
		if trainer == "" {
			trainer = "unknown"
		}
		groups[trainer] = append(groups[trainer], r)
	}

	tactics := map[string]raceinput.StableTactic{}
	for _, stable := range groups {
		if len(stable) == 1 {
			tactics[stable[0].RunnerID] = raceinput.TacticSolo
			continue
		}
		sorted := append([]raceinput.Runner(nil), stable...)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].OddsDecimal < sorted[j].OddsDecimal
		})
		shortest := sorted[0].OddsDecimal

		for i, r := range sorted {
			switch {
			case i == 0:
				tactics[r.RunnerID] = raceinput.TacticFinisher
			case r.FrontRunnerStyle:
				tactics[r.RunnerID] = raceinput.TacticPaceSetter
			case shortest > 0 && r.OddsDecimal > 1.5*shortest:
				tactics[r.RunnerID] = raceinput.TacticDecoy
			default:
				tactics[r.RunnerID] = raceinput.TacticCover
			}
		}
	}
	return tactics
}

// ProfileRaceOpponents validates odds on every runner, then produces one
// OpponentProfile per runner. Fails fast (C1) before any profile is built.
func ProfileRaceOpponents(runners []raceinput.Runner) ([]raceinput.OpponentProfile, error) {
	for _, r := range runners {
		if r.RunnerID == "" {
			return nil, errs.New(errs.MissingRunnerID, "runner missing runner_id", nil)
		}
		if r.OddsDecimal <= 0 {
			return nil, errs.New(errs.ZeroOdds, "odds must be positive", map[string]any{"runner_id": r.RunnerID})
		}
	}

	stableTactics := DetectStableTactics(runners)

	profiles := make([]raceinput.OpponentProfile, 0, len(runners))
	for _, r := range runners {
		roleResult := ClassifyMarketRole(r, runners)
		tactic, ok := stableTactics[r.RunnerID]
		if !ok {
			tactic = raceinput.TacticSolo
		}

		profiles = append(profiles, raceinput.OpponentProfile{
			RunnerID:     r.RunnerID,
			HorseName:    r.HorseName,
			IntentClass:  ClassifyIntent(r),
			MarketRole:   roleResult.Role,
			StableTactic: tactic,
			Confidence:   0.7,
			RoleReason:   roleResult.Reason,
			Evidence: map[string]any{
				"odds":        r.OddsDecimal,
				"is_favorite": r.IsFavorite,
				"trainer":     r.Trainer,
				"jockey":      r.Jockey,
			},
		})
	}
	return profiles, nil
}
