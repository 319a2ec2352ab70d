package congestion

import (
	"testing"

	"github.com/galpt/cake-bufferbloatd/internal/config"
	"github.com/stretchr/testify/require"
)

func TestFallbackFreezeModeFreezesEveryFailedCycle(t *testing.T) {
	p := &FallbackPolicy{Mode: config.FallbackFreeze, MaxCycles: 3}
	d := p.Observe(false, 0, 30.0)
	require.True(t, d.FreezeRate)
	require.False(t, d.GiveUp)

	d = p.Observe(false, 0, 30.0)
	require.True(t, d.FreezeRate)
	require.False(t, d.GiveUp, "freeze mode never gives up")
}

func TestFallbackUseLastRTTSubstitutesSyntheticSample(t *testing.T) {
	p := &FallbackPolicy{Mode: config.FallbackUseLastRTT, MaxCycles: 3}
	d := p.Observe(false, 0, 42.5)
	require.False(t, d.FreezeRate)
	require.True(t, d.Synthetic)
	require.Equal(t, 42.5, d.SampleMs)
}

func TestFallbackGracefulDegradationScenarioF(t *testing.T) {
	p := &FallbackPolicy{Mode: config.FallbackGracefulDegradation, MaxCycles: 3}

	for i := 0; i < 100; i++ {
		d := p.Observe(true, 26.0, 26.0)
		require.False(t, d.GiveUp)
	}

	d1 := p.Observe(false, 0, 26.0)
	require.True(t, d1.Synthetic)
	require.Equal(t, "using last RTT, cycle 1/3", d1.LogMessage)

	d2 := p.Observe(false, 0, 26.0)
	require.True(t, d2.FreezeRate)
	require.Equal(t, "freezing rates, cycle 2/3", d2.LogMessage)

	d3 := p.Observe(false, 0, 26.0)
	require.True(t, d3.FreezeRate)
	require.Equal(t, "freezing rates, cycle 3/3", d3.LogMessage)

	d4 := p.Observe(true, 26.0, 26.0)
	require.False(t, d4.GiveUp)
	require.Equal(t, "ICMP recovered after 3 cycles", d4.LogMessage)
}

func TestFallbackGracefulDegradationGivesUpAfterMaxCycles(t *testing.T) {
	p := &FallbackPolicy{Mode: config.FallbackGracefulDegradation, MaxCycles: 2}
	p.Observe(false, 0, 10.0)
	p.Observe(false, 0, 10.0)
	d := p.Observe(false, 0, 10.0)
	require.True(t, d.GiveUp)
}

func TestFallbackRecoveryResetsCounter(t *testing.T) {
	p := &FallbackPolicy{Mode: config.FallbackUseLastRTT, MaxCycles: 3}
	p.Observe(false, 0, 10.0)
	p.Observe(false, 0, 10.0)
	d := p.Observe(true, 11.0, 10.0)
	require.Equal(t, "ICMP recovered after 2 cycles", d.LogMessage)
	require.Equal(t, 0, p.consecutiveFailures)
}
