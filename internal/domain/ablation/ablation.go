// Package ablation tests decision robustness by silencing feature families
// one at a time and checking whether the top selection or its probability
// moves (C9). If removing one feature family flips the pick, the decision
// is fragile and must not feed the learning gate. Grounded on
// app/ml/ablation_tests.py.
package ablation

// Fragility thresholds, overridable at process start via config.Config.Apply.
var (
	MaxAllowedFlips = 1
	MaxProbDelta    = 0.15
)

// FeatureDomain names a feature family that can be silenced as a unit.
type FeatureDomain string

const (
	DomainMarket           FeatureDomain = "market"
	DomainTrainerJockey    FeatureDomain = "trainer_jockey"
	DomainForm             FeatureDomain = "form"
	DomainPace             FeatureDomain = "pace"
	DomainCourseGoingDist  FeatureDomain = "course_going_distance"
)

// FeatureSet is a per-runner feature table: runner ID -> feature name -> value.
type FeatureSet map[string]map[string]float64

// Registry maps each feature domain to the concrete feature names it owns.
type Registry map[FeatureDomain][]string

// DefaultRegistry is the feature-family membership used when callers don't
// supply their own.
func DefaultRegistry() Registry {
	return Registry{
		DomainMarket:          {"odds_decimal", "implied_prob", "chaos_level", "manipulation_risk"},
		DomainTrainerJockey:   {"trainer_win_rate", "jockey_win_rate", "combo_win_rate", "notable_jockey"},
		DomainForm:            {"consistency", "recent_form", "win_rate", "place_rate", "stability_cluster"},
		DomainPace:            {"pace_style", "msc", "eim"},
		DomainCourseGoingDist: {"going", "distance", "cti", "hms"},
	}
}

// Prediction is the minimal model output the ablation harness needs.
type Prediction struct {
	TopSelection  string
	Probabilities map[string]float64
}

// PredictFn runs the scoring model over a feature set and returns the
// resulting prediction.
type PredictFn func(FeatureSet) Prediction

// Result is the outcome of silencing one feature domain.
type Result struct {
	AblationName      string
	FeaturesRemoved   []string
	OriginalSelection string
	AblatedSelection  string
	SelectionFlipped  bool
	ProbDelta         float64
	RankDelta         int
}

// Suite is the full ablation run plus its fragility verdict.
type Suite struct {
	Results        []Result
	FlipCount      int
	ProbDeltaMax   float64
	RankDeltaMax   int
	Fragile        bool
	FragilityReason string
}

func ablate(features FeatureSet, domainFeatures []string) FeatureSet {
	ablated := make(FeatureSet, len(features))
	nameSet := make(map[string]struct{}, len(domainFeatures))
	for _, n := range domainFeatures {
		nameSet[n] = struct{}{}
	}
	for runnerID, row := range features {
		newRow := make(map[string]float64, len(row))
		for k, v := range row {
			if _, silenced := nameSet[k]; silenced {
				newRow[k] = 0.0
			} else {
				newRow[k] = v
			}
		}
		ablated[runnerID] = newRow
	}
	return ablated
}

func runSingle(
	name string,
	domainFeatures []string,
	features FeatureSet,
	predict PredictFn,
	original Prediction,
) Result {
	ablatedFeatures := ablate(features, domainFeatures)
	ablatedPred := predict(ablatedFeatures)

	flipped := ablatedPred.TopSelection != original.TopSelection
	originalProb := original.Probabilities[original.TopSelection]
	ablatedProb := ablatedPred.Probabilities[original.TopSelection]
	delta := originalProb - ablatedProb
	if delta < 0 {
		delta = -delta
	}

	rankDelta := 0
	if flipped {
		rankDelta = 1
	}

	return Result{
		AblationName:      name,
		FeaturesRemoved:   domainFeatures,
		OriginalSelection: original.TopSelection,
		AblatedSelection:  ablatedPred.TopSelection,
		SelectionFlipped:  flipped,
		ProbDelta:         delta,
		RankDelta:         rankDelta,
	}
}

// RunSuite silences each of the five standard feature families in turn and
// summarizes the robustness of the original prediction.
func RunSuite(registry Registry, features FeatureSet, predict PredictFn, original Prediction) Suite {
	specs := []struct {
		name   string
		domain FeatureDomain
	}{
		{"remove_market", DomainMarket},
		{"remove_trainer_jockey", DomainTrainerJockey},
		{"remove_form", DomainForm},
		{"remove_pace", DomainPace},
		{"remove_course_going", DomainCourseGoingDist},
	}

	results := make([]Result, 0, len(specs))
	for _, s := range specs {
		results = append(results, runSingle(s.name, registry[s.domain], features, predict, original))
	}

	flipCount := 0
	probDeltaMax := 0.0
	rankDeltaMax := 0
	for _, r := range results {
		if r.SelectionFlipped {
			flipCount++
		}
		if r.ProbDelta > probDeltaMax {
			probDeltaMax = r.ProbDelta
		}
		if r.RankDelta > rankDeltaMax {
			rankDeltaMax = r.RankDelta
		}
	}

	fragile := flipCount >= MaxAllowedFlips || probDeltaMax > MaxProbDelta
	reason := ""
	if fragile {
		if flipCount >= MaxAllowedFlips {
			reason = "flip count at or above threshold"
		}
		if probDeltaMax > MaxProbDelta {
			if reason != "" {
				reason += "; "
			}
			reason += "probability delta exceeds threshold"
		}
	}

	return Suite{
		Results:         results,
		FlipCount:       flipCount,
		ProbDeltaMax:    probDeltaMax,
		RankDeltaMax:    rankDeltaMax,
		Fragile:         fragile,
		FragilityReason: reason,
	}
}
