// Package historical computes bounded trainer/jockey/combo performance
// modifiers from historical strike-rate records (C6). Grounded on
// app/ml/historical_stats.py.
package historical

import "github.com/racelock/veloengine/internal/domain/raceinput"

// Per-modifier caps, overridable at process start via config.Config.Apply.
var (
	TrainerCap       = 0.05
	JockeyCap        = 0.05
	ComboCap         = 0.03
	TotalModifierCap = 0.05
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

// ClassifyDistanceBand buckets a distance (meters) into a coarse band.
func ClassifyDistanceBand(distanceMeters int) string {
	switch {
	case distanceMeters < 1400:
		return "SPRINT"
	case distanceMeters < 1800:
		return "MILE"
	case distanceMeters < 2400:
		return "MIDDLE"
	default:
		return "LONG"
	}
}

// SampleWeight linearly decays confidence below minThreshold samples,
// saturating at 1.0 once the sample size reaches minThreshold.
func SampleWeight(sampleSize, minThreshold int) float64 {
	if minThreshold <= 0 {
		minThreshold = 10
	}
	if sampleSize >= minThreshold {
		return 1.0
	}
	if sampleSize <= 0 {
		return 0.0
	}
	return float64(sampleSize) / float64(minThreshold)
}

// Modifier is a bounded adjustment together with its audit reason.
type Modifier struct {
	Value  float64
	Reason string
}

// StatModifier converts a win rate and sample size into a bounded modifier
// around baseline, weighted by sample confidence and capped at maxInfluence.
func StatModifier(winRate float64, sampleSize int, baseline, maxInfluence float64) Modifier {
	weight := SampleWeight(sampleSize, 10)
	deviation := winRate - baseline
	raw := deviation * weight
	capped := clamp(raw, -maxInfluence, maxInfluence)
	return Modifier{
		Value:  capped,
		Reason: reasonFor(deviation, weight, sampleSize),
	}
}

func reasonFor(deviation, weight float64, sampleSize int) string {
	if sampleSize == 0 {
		return "no sample data"
	}
	if deviation >= 0 {
		return "above-baseline win rate, sample-weighted"
	}
	return "below-baseline win rate, sample-weighted"
}

// TrainerModifier and JockeyModifier use baseline 0.10 and max influence
// 0.05 — wider samples typically available than combo stats.
func TrainerModifier(stats raceinput.HistoricalStats) Modifier {
	return StatModifier(stats.TrainerWinRate, stats.TrainerSamples, 0.10, TrainerCap)
}

func JockeyModifier(stats raceinput.HistoricalStats) Modifier {
	return StatModifier(stats.JockeyWinRate, stats.JockeySamples, 0.10, JockeyCap)
}

// ComboModifier uses a tighter max influence since trainer+jockey combo
// samples are typically much smaller.
func ComboModifier(stats raceinput.HistoricalStats) Modifier {
	return StatModifier(stats.ComboWinRate, stats.ComboSamples, 0.10, ComboCap)
}

// CalculateHistoricalModifier blends the trainer+jockey modifiers (default)
// or the combo modifier (mutually exclusive with trainer+jockey), hard-
// capping the total to [-0.05, 0.05].
func CalculateHistoricalModifier(stats raceinput.HistoricalStats, useTrainer, useJockey, useCombo bool) Modifier {
	var total float64
	reasons := ""

	if useCombo {
		m := ComboModifier(stats)
		total = m.Value
		reasons = "combo: " + m.Reason
	} else {
		if useTrainer {
			m := TrainerModifier(stats)
			total += m.Value
			reasons += "trainer: " + m.Reason
		}
		if useJockey {
			m := JockeyModifier(stats)
			total += m.Value
			if reasons != "" {
				reasons += "; "
			}
			reasons += "jockey: " + m.Reason
		}
	}

	return Modifier{
		Value:  clamp(total, -TotalModifierCap, TotalModifierCap),
		Reason: reasons,
	}
}
