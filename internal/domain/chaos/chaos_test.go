package chaos

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculate_EmptyOddsReturnsFallback(t *testing.T) {
	res, err := Calculate(nil, 8)
	require.NoError(t, err)
	assert.Equal(t, 0.5, res.Chaos)
	assert.True(t, res.Fallback)
}

func TestCalculate_SingleRunnerIsZero(t *testing.T) {
	res, err := Calculate([]float64{1.5}, 1)
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Chaos)
}

func TestCalculate_BoundsAndZeroOdds(t *testing.T) {
	_, err := Calculate([]float64{2.0, 0, 5.0}, 3)
	require.Error(t, err)
}

func TestCalculate_ConcentratedVsFlat(t *testing.T) {
	// P7: a concentrated field (one heavy favorite) should be less chaotic
	// than a flat field of similar size with the same field_size factor.
	concentrated, err := Calculate([]float64{1.2, 15, 20, 25, 30, 35}, 6)
	require.NoError(t, err)
	flat, err := Calculate([]float64{4, 4.2, 4.4, 4.6, 4.8, 5.0}, 6)
	require.NoError(t, err)
	assert.Less(t, concentrated.Chaos, flat.Chaos)
}

func TestCalculate_AlwaysInBounds(t *testing.T) {
	odds := [][]float64{
		{2, 3, 4},
		{1.01, 1000},
		{5, 5, 5, 5, 5},
	}
	for _, o := range odds {
		res, err := Calculate(o, len(o))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, res.Chaos, 0.0)
		assert.LessOrEqual(t, res.Chaos, 1.0)
	}
}

func TestManipulationRisk_StubAndOverride(t *testing.T) {
	m := ManipulationRisk{}
	assert.Equal(t, 0.0, m.Calculate(nil))

	ov := 0.42
	m2 := ManipulationRisk{Override: &ov}
	assert.Equal(t, 0.42, m2.Calculate(nil))
}
