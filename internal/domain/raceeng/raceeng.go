// Package raceeng computes per-runner race-engineering features (C5): four
// signals describing how a race is constructed and targeted around a
// runner — condition targeting, entry intent, multi-runner stable coupling,
// and handicap mark strategy — independent of the opponent-modeling and
// stability layers. Grounded verbatim on
// app/ml/race_engineering_features.py's RaceEngineeringFeatureBuilder.
package raceeng

import (
	"sort"
	"strings"

	"github.com/racelock/veloengine/internal/domain/form"
	"github.com/racelock/veloengine/internal/domain/raceinput"
)

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Features bundles the four C5 signals for one runner.
type Features struct {
	CTI       float64 // condition targeting, [0,1]
	EIM       float64 // entry intent markers, [-1,1]
	MSC       float64 // multi-runner stable coupling role weight
	MSCRole   string  // finisher, pace_setter, decoy, solo
	MSCThreat bool    // true for every runner in a multi-runner stable, source's msc_threat_flag
	HMS       float64 // handicap mark strategy, [-1,1]
}

func ageMatchesBand(age int, band string) bool {
	switch band {
	case "2yo":
		return age == 2
	case "3yo":
		return age == 3
	case "3yo+":
		return age >= 3
	case "4yo+":
		return age >= 4
	default:
		return true
	}
}

// ConditionTargeting scores how well the race conditions are engineered for
// this runner: age-band fit, sex-restriction fit, class delta (exact match
// worth 1.0, one-point delta worth 0.5), and — when historical per-distance
// stats exist — this runner's win rate at the exact race distance. The
// running score is averaged over however many checks actually applied,
// matching the source's running `count` denominator.
func ConditionTargeting(r raceinput.Runner, raceCtx raceinput.RaceContext) float64 {
	var score, count float64

	ageBand := raceCtx.AgeBand
	if ageBand == "" {
		ageBand = "open"
	}
	if ageBand == "open" || ageMatchesBand(r.Age, ageBand) {
		score += 1.0
	}
	count++

	sexRestriction := raceCtx.SexRestriction
	if sexRestriction == "" {
		sexRestriction = "open"
	}
	if sexRestriction == "open" || (r.Sex != "" && strings.Contains(sexRestriction, r.Sex)) {
		score += 1.0
	}
	count++

	classDiff := r.ClassRating - raceCtx.ClassLevel
	if classDiff < 0 {
		classDiff = -classDiff
	}
	switch classDiff {
	case 0:
		score += 1.0
	case 1:
		score += 0.5
	}
	count++

	if r.HistoricalStats != nil && r.HistoricalStats.DistanceSamples > 0 {
		score += r.HistoricalStats.DistanceWinRate
		count++
	}

	if count == 0 {
		return 0
	}
	return score / count
}

// EntryIntentMarkers sums signed signals the trainer is targeting this
// specific race — quick turnaround, long layoff, first-time headgear, a
// notable jockey booking, a jockey upgrade, class movement, and hot stable
// form — and clamps the total to [-1,1].
func EntryIntentMarkers(r raceinput.Runner) float64 {
	var sum float64

	if r.DaysSinceLastRun >= 7 && r.DaysSinceLastRun <= 14 {
		sum += 0.3
	}
	if r.DaysSinceLastRun > 90 {
		sum -= 0.2
	}
	if r.FirstTimeHeadgear {
		sum += 0.4
	}
	if r.NotableJockey {
		sum += 0.5
	}
	if r.JockeyUpgrade {
		sum += 0.3
	}
	switch {
	case r.ClassMovement < 0:
		sum += 0.4
	case r.ClassMovement > 0:
		sum -= 0.2
	}
	if r.StableFormLast14 > 0.25 {
		sum += 0.3
	}

	return clamp(sum, -1, 1)
}

// descendingEffort reports the source's "drop program" pattern: the
// runner's last three finishing positions, oldest to most recent, strictly
// worsening — read off FormString, which lists runs most-recent-first.
// Non-finishes (DNF codes) count as the source's sentinel worst position, 99.
// Season gaps ('-') are skipped, not counted as runs.
func descendingEffort(formString string) bool {
	parsed := form.ParsePositions(strings.ReplaceAll(formString, "-", ""))
	if len(parsed) < 3 {
		return false
	}
	recentThree := parsed[:3]
	pos := func(p *int) int {
		if p == nil {
			return 99
		}
		return *p
	}
	// FormString is most-recent-first; reverse to oldest-first to match the
	// source's chronologically-ordered tail(3).
	oldest, middle, newest := pos(recentThree[2]), pos(recentThree[1]), pos(recentThree[0])
	return oldest < middle && middle < newest
}

// HandicapMarkStrategy detects handicap mark management: running off a
// floor mark is positive, a career-high mark is negative, a three-run
// declining-effort sequence ("drop program") is a strong positive signal,
// and conditions-plus-market convergence while on the floor mark ("today is
// the go") adds the source's strongest signal. Clamped to [-1,1].
func HandicapMarkStrategy(r raceinput.Runner, ctiScore float64) float64 {
	var signal float64

	switch {
	case r.CareerHighMark:
		signal -= 0.5
	case r.MarkFloor:
		signal += 0.5
	}

	if descendingEffort(r.FormString) {
		signal += 0.6
	}

	conditionsMatch := ctiScore > 0.7
	marketSupport := r.OddsDrift < -0.2
	if conditionsMatch && marketSupport && r.MarkFloor {
		signal += 0.8
	}

	return clamp(signal, -1, 1)
}

// MultiRunnerStableCoupling groups runners by trainer and, within every
// stable fielding two or more runners, assigns a role by ascending odds:
// the shortest-priced runner is the finisher, a front-runner-style
// stablemate is the pace_setter, and everyone else is decoy. Every runner in
// a multi-runner stable — including the finisher — gets MSCThreat true,
// matching the source's unconditional msc_threat_flag assignment; solo
// runners get role "solo" and no threat.
func MultiRunnerStableCoupling(runners []raceinput.Runner) map[string]Features {
	out := make(map[string]Features, len(runners))
	for _, r := range runners {
		out[r.RunnerID] = Features{MSCRole: "solo"}
	}

	groups := map[string][]raceinput.Runner{}
	for _, r := range runners {
		trainer := r.Trainer
		if trainer == "" {
			trainer = "unknown"
		}
		groups[trainer] = append(groups[trainer], r)
	}

	for _, stable := range groups {
		if len(stable) < 2 {
			continue
		}
		sorted := append([]raceinput.Runner(nil), stable...)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].OddsDecimal < sorted[j].OddsDecimal })

		for idx, r := range sorted {
			var role string
			var weight float64
			switch {
			case idx == 0:
				role, weight = "finisher", 0.5
			case r.FrontRunnerStyle:
				role, weight = "pace_setter", 0.2
			default:
				role, weight = "decoy", -0.2
			}
			out[r.RunnerID] = Features{MSCRole: role, MSC: weight, MSCThreat: true}
		}
	}
	return out
}

// BuildFeatures computes CTI, EIM, and HMS for one runner within its race
// context; MSC must be filled in separately from MultiRunnerStableCoupling,
// which needs the whole field at once to detect stablemates.
func BuildFeatures(r raceinput.Runner, raceCtx raceinput.RaceContext) Features {
	cti := ConditionTargeting(r, raceCtx)
	return Features{
		CTI: cti,
		EIM: EntryIntentMarkers(r),
		HMS: HandicapMarkStrategy(r, cti),
	}
}

// BuildRaceFeatures computes all four C5 signals for every runner in the
// race, merging each runner's MSC role/weight/threat from
// MultiRunnerStableCoupling into its CTI/EIM/HMS from BuildFeatures.
func BuildRaceFeatures(runners []raceinput.Runner, raceCtx raceinput.RaceContext) map[string]Features {
	msc := MultiRunnerStableCoupling(runners)
	out := make(map[string]Features, len(runners))
	for _, r := range runners {
		f := BuildFeatures(r, raceCtx)
		if m, ok := msc[r.RunnerID]; ok {
			f.MSC = m.MSC
			f.MSCRole = m.MSCRole
			f.MSCThreat = m.MSCThreat
		}
		out[r.RunnerID] = f
	}
	return out
}
