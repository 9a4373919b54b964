// Package chaos computes market concentration/dispersion signals from an
// odds vector. Grounded on app/ml/chaos_calculator.py; all functions here are
// pure — no hidden state, no I/O, byte-identical output for identical input
// (§5 determinism-under-replay).
package chaos

import (
	"math"
	"sort"

	"github.com/racelock/veloengine/internal/errs"
)

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ImpliedProbabilities converts decimal odds into a normalized probability
// vector. Fails fast (C1) on any odds <= 0.
func ImpliedProbabilities(odds []float64) ([]float64, error) {
	probs := make([]float64, len(odds))
	var sum float64
	for i, o := range odds {
		if o <= 0 {
			return nil, errs.New(errs.ZeroOdds, "odds must be positive", map[string]any{"index": i, "odds": o})
		}
		probs[i] = 1.0 / o
		sum += probs[i]
	}
	if sum == 0 {
		return probs, nil
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs, nil
}

// HHI is the Herfindahl-Hirschman concentration index over normalized
// implied probabilities.
func HHI(probs []float64) float64 {
	var sum float64
	for _, p := range probs {
		sum += p * p
	}
	return sum
}

// Gini is the standard Gini coefficient over a sorted probability vector.
func Gini(probs []float64) float64 {
	n := len(probs)
	if n == 0 {
		return 0
	}
	sorted := append([]float64(nil), probs...)
	sort.Float64s(sorted)

	var sum, cum float64
	for _, p := range sorted {
		sum += p
	}
	if sum == 0 {
		return 0
	}
	for i, p := range sorted {
		cum += float64(i+1) * p
	}
	gini := (2*cum)/(float64(n)*sum) - float64(n+1)/float64(n)
	return clamp01(gini)
}

// FieldFactor scales chaos by field size: clamp((field_size-5)/15, 0, 1).
func FieldFactor(fieldSize int) float64 {
	return clamp01((float64(fieldSize) - 5) / 15.0)
}

// Result bundles the chaos computation together with whether a degenerate
// input (empty vector) forced the 0.5 fallback, for audit logging.
type Result struct {
	Chaos    float64
	HHI      float64
	Gini     float64
	Fallback bool
}

// Calculate computes the blended chaos score:
// chaos = 0.4*(1-HHI) + 0.3*(1-Gini) + 0.3*field_factor, clamped to [0,1].
// Single-runner races return 0. Empty input returns 0.5 (Fallback=true).
func Calculate(odds []float64, fieldSize int) (Result, error) {
	if len(odds) == 0 {
		return Result{Chaos: 0.5, Fallback: true}, nil
	}
	if fieldSize == 1 {
		return Result{Chaos: 0}, nil
	}
	probs, err := ImpliedProbabilities(odds)
	if err != nil {
		return Result{}, err
	}
	hhi := HHI(probs)
	gini := Gini(probs)
	ff := FieldFactor(fieldSize)

	chaos := 0.4*(1-hhi) + 0.3*(1-gini) + 0.3*ff
	if math.IsNaN(chaos) || math.IsInf(chaos, 0) {
		chaos = 0.5
	}
	return Result{Chaos: clamp01(chaos), HHI: hhi, Gini: gini}, nil
}

// ManipulationRisk is the reserved time-series manipulation detector. The
// source implementation is a stub that always returns 0; this module keeps
// that behavior explicit rather than inventing a detector (see DESIGN.md
// Open Question 1), while allowing tests and future detectors to supply an
// Override.
type ManipulationRisk struct {
	Override *float64
}

// Calculate returns the override if set, otherwise the documented 0.0 stub.
func (m ManipulationRisk) Calculate(_ []float64) float64 {
	if m.Override != nil {
		return *m.Override
	}
	return 0.0
}
