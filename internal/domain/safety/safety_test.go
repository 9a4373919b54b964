package safety

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStakingCap_Allows(t *testing.T) {
	c := StakingCap{MaxFraction: 0.02}
	assert.True(t, c.Allows(0.01))
	assert.True(t, c.Allows(0.02))
	assert.False(t, c.Allows(0.03))
	assert.False(t, c.Allows(-0.01))
}

func TestKillSwitch_TripLatches(t *testing.T) {
	k := NewKillSwitch()
	assert.False(t, k.Tripped())

	k.Trip("manipulation risk exceeded ceiling")
	assert.True(t, k.Tripped())
	assert.Equal(t, "manipulation risk exceeded ceiling", k.Reason())

	k.Reset()
	assert.False(t, k.Tripped())
	assert.Empty(t, k.Reason())
}
