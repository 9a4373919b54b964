// Package policy is the final anti-house decision layer (C11): it selects a
// bet chassis (Win_Overlay or Top_4_Structure; the other chassis types
// declared in raceinput are never selected here) from the race type,
// ablation robustness, and CTF adjustment, then gates
// any win selection behind a TopStrike margin check. Grounded on
// app/strategy/decision_policy.py.
package policy

import (
	"strings"

	"github.com/racelock/veloengine/internal/domain/raceinput"
	"github.com/racelock/veloengine/internal/domain/scoring"
)

// Threshold defaults, overridable at process start via config.Config.Apply.
var (
	ChaosThreshold        = 0.60
	StabilityThreshold    = 0.65
	ManipulationThreshold = 0.60
	PaceGeometryThreshold = 0.65
	TopStrikeBaseMargin   = 0.12
	TopStrikeChaosSlope   = 0.10
)

// EngineOutputs bundles the upstream signals the policy reasons over.
type EngineOutputs struct {
	ChaosLevel        float64
	ManipulationRisk  float64
	StabilityScore    float64
	PaceGeometryScore float64
}

// Inputs bundles everything Decide needs for one race.
type Inputs struct {
	Profiles      []raceinput.OpponentProfile
	RankResults   []scoring.RankResult
	Engine        EngineOutputs
	AblationFragile bool
	CTFAdjusted   bool
}

func findProfile(profiles []raceinput.OpponentProfile, runnerID string) *raceinput.OpponentProfile {
	for i := range profiles {
		if profiles[i].RunnerID == runnerID {
			return &profiles[i]
		}
	}
	return nil
}

// Decide runs the full chassis-selection and TopStrike-margin chain.
func Decide(in Inputs) raceinput.DecisionOutput {
	isChaos := in.Engine.ChaosLevel >= ChaosThreshold
	isManipulated := in.Engine.ManipulationRisk >= ManipulationThreshold

	marketRoles := make(map[string]raceinput.MarketRole, len(in.Profiles))
	for _, p := range in.Profiles {
		marketRoles[p.RunnerID] = p.MarketRole
	}

	top4IDs := make([]string, 0, 4)
	for i, r := range in.RankResults {
		if i >= 4 {
			break
		}
		top4IDs = append(top4IDs, r.RunnerID)
	}
	var topSelection string
	if len(top4IDs) > 0 {
		topSelection = top4IDs[0]
	}

	var decision raceinput.DecisionOutput
	if isChaos {
		decision = decideChaosRace(topSelection, top4IDs, in.Profiles, isManipulated, in.AblationFragile, in.CTFAdjusted)
	} else {
		decision = decideStructureRace(topSelection, top4IDs, in.Profiles, in.Engine, in.AblationFragile, in.CTFAdjusted)
	}

	decision.MarketRoles = marketRoles
	decision.Notes = map[string]any{
		"chaos_level":       in.Engine.ChaosLevel,
		"manipulation_risk": in.Engine.ManipulationRisk,
		"stability_score":   in.Engine.StabilityScore,
		"is_chaos":          isChaos,
		"is_manipulated":    isManipulated,
		"is_fragile":        in.AblationFragile,
		"ctf_adjusted":      in.CTFAdjusted,
	}

	if !decision.WinSuppressed && len(in.RankResults) >= 2 {
		margin := scoring.TopStrikeMargin(in.RankResults)
		threshold := TopStrikeBaseMargin + in.Engine.ChaosLevel*TopStrikeChaosSlope
		if margin >= threshold {
			decision.TopStrikeSelection = in.RankResults[0].RunnerID
		} else {
			decision.TopStrikeSelection = ""
			decision.WinSuppressed = true
			decision.SuppressionReason = "insufficient margin for TopStrike"
		}
	}

	return decision
}

func decideChaosRace(
	topSelection string,
	top4IDs []string,
	profiles []raceinput.OpponentProfile,
	isManipulated, isFragile, ctfAdjusted bool,
) raceinput.DecisionOutput {
	top := findProfile(profiles, topSelection)
	isRelease := top != nil && top.MarketRole == raceinput.RoleReleaseHorse
	intentWin := top != nil && top.IntentClass == raceinput.IntentWin

	if isRelease && intentWin && !isManipulated && !isFragile && !ctfAdjusted {
		return raceinput.DecisionOutput{
			ChassisType:        raceinput.ChassisWinOverlay,
			TopStrikeSelection: topSelection,
			Top4Structure:      top4IDs,
			WinSuppressed:      false,
			Confidence:         0.75,
		}
	}

	var reasons []string
	if !isRelease {
		reasons = append(reasons, "not Release Horse")
	}
	if !intentWin {
		reasons = append(reasons, "intent not Win")
	}
	if isManipulated {
		reasons = append(reasons, "manipulation detected")
	}
	if isFragile {
		reasons = append(reasons, "ablation fragile")
	}
	if ctfAdjusted {
		reasons = append(reasons, "CTF adjusted")
	}

	return raceinput.DecisionOutput{
		ChassisType:       raceinput.ChassisTop4Structure,
		Top4Structure:     top4IDs,
		WinSuppressed:     true,
		SuppressionReason: strings.Join(reasons, "; "),
		Confidence:        0.60,
	}
}

func decideStructureRace(
	topSelection string,
	top4IDs []string,
	profiles []raceinput.OpponentProfile,
	engine EngineOutputs,
	isFragile, ctfAdjusted bool,
) raceinput.DecisionOutput {
	top := findProfile(profiles, topSelection)
	intentWin := top != nil && top.IntentClass == raceinput.IntentWin

	convergence := engine.StabilityScore >= StabilityThreshold &&
		engine.PaceGeometryScore >= PaceGeometryThreshold &&
		intentWin && !isFragile && !ctfAdjusted

	if convergence {
		return raceinput.DecisionOutput{
			ChassisType:        raceinput.ChassisWinOverlay,
			TopStrikeSelection: topSelection,
			Top4Structure:      top4IDs,
			WinSuppressed:      false,
			Confidence:         0.80,
		}
	}

	return raceinput.DecisionOutput{
		ChassisType:       raceinput.ChassisTop4Structure,
		Top4Structure:     top4IDs,
		WinSuppressed:     true,
		SuppressionReason: "convergence not met",
		Confidence:        0.65,
	}
}
