package form

import "strings"

// StabilityModifierCap bounds ClusterTrustModifier's output, overridable at
// process start via config.Config.Apply.
var StabilityModifierCap = 0.10

// ConsistencyBand buckets a consistency score: HIGH>=0.7, MEDIUM>=0.4, LOW
// otherwise. Grounded on app/ml/stability_clusters.py classify_consistency_band.
func ConsistencyBand(consistency float64) string {
	switch {
	case consistency >= 0.7:
		return "HIGH"
	case consistency >= 0.4:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// FormTrend splits the chronological (oldest-first) run of valid positions in
// half and compares older-half average to recent-half average. Needs at least
// 3 valid positions; otherwise UNKNOWN.
func FormTrend(positions []*int, lookback int) string {
	if lookback > len(positions) {
		lookback = len(positions)
	}
	// positions is most-recent-first; reverse the lookback window to get
	// chronological order before splitting.
	window := positions[:lookback]
	chrono := make([]*int, len(window))
	for i, p := range window {
		chrono[len(window)-1-i] = p
	}
	valid := validPositions(chrono)
	if len(valid) < 3 {
		return "UNKNOWN"
	}
	mid := len(valid) / 2
	older := valid[:mid]
	recent := valid[mid:]
	avg := func(xs []int) float64 {
		var s float64
		for _, x := range xs {
			s += float64(x)
		}
		return s / float64(len(xs))
	}
	diff := avg(older) - avg(recent)
	switch {
	case diff > 1.0:
		return "IMPROVING"
	case diff < -1.0:
		return "DECLINING"
	default:
		return "STABLE"
	}
}

// FieldRankBand buckets a runner's current market rank (1-indexed, 1 =
// favorite) by percentile of field size: TOP<0.33, MID<0.67, BOTTOM
// otherwise.
func FieldRankBand(fieldPosition, fieldSize int) string {
	if fieldSize <= 0 {
		return "UNKNOWN"
	}
	pct := float64(fieldPosition-1) / float64(fieldSize)
	switch {
	case pct < 0.33:
		return "TOP"
	case pct < 0.67:
		return "MID"
	default:
		return "BOTTOM"
	}
}

// ClusterID builds the 4-part stability cluster label.
func ClusterID(stabilityClass, consistencyBand, formTrend, fieldRankBand string) string {
	return stabilityClass + "_" + consistencyBand + "_" + formTrend + "_" + fieldRankBand
}

// BuildProfile runs the full C3 classification chain for one runner.
func BuildProfile(formStr string, fieldPosition, fieldSize int) Metrics2 {
	m := Analyze(formStr)
	positions := ParsePositions(formStr)
	stability := StabilityClass(m.Consistency, m.ValidRaces)
	consistencyBand := ConsistencyBand(m.Consistency)
	trend := FormTrend(positions, 5)
	rankBand := FieldRankBand(fieldPosition, fieldSize)
	cluster := ClusterID(stability, consistencyBand, trend, rankBand)
	return Metrics2{
		Metrics:         m,
		StabilityClass:  stability,
		ConsistencyBand: consistencyBand,
		FormTrend:       trend,
		FieldRankBand:   rankBand,
		ClusterID:       cluster,
	}
}

// Metrics2 bundles the raw form metrics with the derived cluster labels.
type Metrics2 struct {
	Metrics
	StabilityClass  string
	ConsistencyBand string
	FormTrend       string
	FieldRankBand   string
	ClusterID       string
}

// ClusterTrustModifier maps a well-formed 4-part cluster ID to a bounded
// trust adjustment in [-0.10, 0.10]. A malformed ID (not 4 parts) returns 0.
func ClusterTrustModifier(clusterID string) float64 {
	parts := strings.Split(clusterID, "_")
	if len(parts) != 4 {
		return 0.0
	}
	stability, _, trend, _ := parts[0], parts[1], parts[2], parts[3]
	consistencyBand := parts[1]

	var mod float64
	switch stability {
	case "STABLE":
		mod += 0.05
	case "VOLATILE":
		mod -= 0.05
	}
	switch consistencyBand {
	case "HIGH":
		mod += 0.03
	case "LOW":
		mod -= 0.03
	}
	switch trend {
	case "IMPROVING":
		mod += 0.02
	case "DECLINING":
		mod -= 0.02
	}
	if mod > StabilityModifierCap {
		return StabilityModifierCap
	}
	if mod < -StabilityModifierCap {
		return -StabilityModifierCap
	}
	return mod
}
