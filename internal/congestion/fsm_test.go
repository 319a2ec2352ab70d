package congestion

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func hardRed(v float64) *float64 { return &v }

func TestClassifyThreeState(t *testing.T) {
	th := Thresholds{TargetMs: 15, WarnMs: 45}
	require.Equal(t, Green, Classify(10, th))
	require.Equal(t, Green, Classify(15, th))
	require.Equal(t, Yellow, Classify(16, th))
	require.Equal(t, Yellow, Classify(45, th))
	require.Equal(t, Red, Classify(45.1, th))
}

func TestClassifyFourState(t *testing.T) {
	th := Thresholds{TargetMs: 15, WarnMs: 45, HardRedMs: hardRed(80)}
	require.True(t, th.FourState())
	require.Equal(t, Yellow, Classify(45, th))
	require.Equal(t, SoftRed, Classify(45.1, th))
	require.Equal(t, SoftRed, Classify(80, th))
	require.Equal(t, Red, Classify(80.1, th))
}

func TestStateString(t *testing.T) {
	require.Equal(t, "GREEN", Green.String())
	require.Equal(t, "SOFT_RED", SoftRed.String())
}
