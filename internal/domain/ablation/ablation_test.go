package ablation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// score = rpr - odds_decimal*5, highest wins, ties broken by lowest runner ID
func flatPredict(features FeatureSet) Prediction {
	best := ""
	bestScore := 0.0
	first := true
	for id, row := range features {
		score := row["rpr"] - row["odds_decimal"]*5
		if first || score > bestScore || (score == bestScore && id < best) {
			bestScore = score
			best = id
			first = false
		}
	}
	return Prediction{
		TopSelection: best,
		Probabilities: map[string]float64{
			"r1": 0.5, "r2": 0.3, "r3": 0.2,
		},
	}
}

func testFeatures() FeatureSet {
	return FeatureSet{
		"r1": {"rpr": 95, "odds_decimal": 3.5},
		"r2": {"rpr": 92, "odds_decimal": 5.0},
		"r3": {"rpr": 88, "odds_decimal": 8.0},
	}
}

func fragileFeatures() FeatureSet {
	return FeatureSet{
		"r1": {"rpr": 80, "odds_decimal": 1.5},
		"r2": {"rpr": 95, "odds_decimal": 10.0},
	}
}

func TestRunSuite_StableDecisionIsNotFragile(t *testing.T) {
	registry := DefaultRegistry()
	features := testFeatures()
	original := flatPredict(features)
	suite := RunSuite(registry, features, flatPredict, original)

	assert.Equal(t, 0, suite.FlipCount)
	assert.False(t, suite.Fragile)
	assert.Len(t, suite.Results, 5)
}

func TestRunSuite_FragileWhenFlipOccurs(t *testing.T) {
	registry := Registry{
		DomainMarket: {"odds_decimal"},
	}
	features := fragileFeatures()
	original := flatPredict(features)
	suite := RunSuite(registry, features, flatPredict, original)

	assert.GreaterOrEqual(t, suite.FlipCount, 1)
	assert.True(t, suite.Fragile)
	assert.NotEmpty(t, suite.FragilityReason)
}
