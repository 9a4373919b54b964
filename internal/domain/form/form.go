// Package form parses compact racing form strings and derives consistency,
// trend, and rate metrics. Grounded on app/ml/form_parser.py.
package form

import (
	"math"
	"unicode"
)

// ParsePositions parses a form string into finishing positions, most-recent
// first. '-' is a season gap, '0' is DNF/unplaced, and letters are DNF/special
// codes; all three become nil. Any other character is skipped.
func ParsePositions(formStr string) []*int {
	if formStr == "" || formStr == "-" {
		return nil
	}
	positions := make([]*int, 0, len(formStr))
	for _, ch := range formStr {
		switch {
		case ch == '-':
			positions = append(positions, nil)
		case ch == '0':
			positions = append(positions, nil)
		case unicode.IsDigit(ch):
			v := int(ch - '0')
			positions = append(positions, &v)
		case unicode.IsLetter(ch):
			// letters encode DNFs/special codes: a run with no position
			positions = append(positions, nil)
		}
	}
	return positions
}

func validPositions(positions []*int) []int {
	out := make([]int, 0, len(positions))
	for _, p := range positions {
		if p != nil {
			out = append(out, *p)
		}
	}
	return out
}

// ConsistencyScore is 1 - stdDev/3 over valid positions, clamped at 0. Fewer
// than two valid positions yields 0.
func ConsistencyScore(positions []*int) float64 {
	valid := validPositions(positions)
	if len(valid) < 2 {
		return 0
	}
	var sum float64
	for _, p := range valid {
		sum += float64(p)
	}
	mean := sum / float64(len(valid))
	var variance float64
	for _, p := range valid {
		d := float64(p) - mean
		variance += d * d
	}
	variance /= float64(len(valid))
	stdDev := math.Sqrt(variance)
	c := 1.0 - stdDev/3.0
	if c < 0 {
		return 0
	}
	return c
}

// RecentFormScore normalizes the mean of the last `lookback` valid positions
// to [0,1] (1st = 1.0, 9th = 0.0). Defaults to 0.5 when no valid data exists.
func RecentFormScore(positions []*int, lookback int) float64 {
	if len(positions) == 0 {
		return 0.5
	}
	if lookback > len(positions) {
		lookback = len(positions)
	}
	recent := validPositions(positions[:lookback])
	if len(recent) == 0 {
		return 0.5
	}
	var sum float64
	for _, p := range recent {
		sum += float64(p)
	}
	avg := sum / float64(len(recent))
	score := (10 - avg) / 9.0
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// WinRate is the fraction of valid positions equal to 1.
func WinRate(positions []*int) float64 {
	valid := validPositions(positions)
	if len(valid) == 0 {
		return 0
	}
	wins := 0
	for _, p := range valid {
		if p == 1 {
			wins++
		}
	}
	return float64(wins) / float64(len(valid))
}

// PlaceRate is the fraction of valid positions <= threshold (default 3).
func PlaceRate(positions []*int, threshold int) float64 {
	valid := validPositions(positions)
	if len(valid) == 0 {
		return 0
	}
	places := 0
	for _, p := range valid {
		if p <= threshold {
			places++
		}
	}
	return float64(places) / float64(len(valid))
}

// Metrics is the full per-runner form analysis output.
type Metrics struct {
	Consistency float64
	RecentForm  float64
	WinRate     float64
	PlaceRate   float64
	ValidRaces  int
}

// Analyze runs the full form analysis over a raw form string.
func Analyze(formStr string) Metrics {
	positions := ParsePositions(formStr)
	return Metrics{
		Consistency: ConsistencyScore(positions),
		RecentForm:  RecentFormScore(positions, 3),
		WinRate:     WinRate(positions),
		PlaceRate:   PlaceRate(positions, 3),
		ValidRaces:  len(validPositions(positions)),
	}
}

// StabilityClass classifies a runner's stability from consistency and valid
// race count.
func StabilityClass(consistency float64, validRaces int) string {
	switch {
	case validRaces < 3:
		return "INSUFFICIENT_DATA"
	case consistency >= 0.7:
		return "STABLE"
	case consistency <= 0.4:
		return "VOLATILE"
	default:
		return "MODERATE"
	}
}
