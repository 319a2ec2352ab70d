package rtt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewEwmaPairSeedsBothEstimators(t *testing.T) {
	e := NewEwmaPair(0.02, 0.2, 3.0, 25.0)
	require.Equal(t, 25.0, e.BaselineRTTMs)
	require.Equal(t, 25.0, e.LoadRTTMs)
	require.Equal(t, 0.0, e.Delta())
}

func TestUpdateLoadAlwaysAdvances(t *testing.T) {
	e := NewEwmaPair(0.02, 0.2, 3.0, 20.0)
	e.UpdateLoad(100.0)
	require.InDelta(t, 36.0, e.LoadRTTMs, 1e-9)
}

func TestMaybeUpdateBaselineSkipsLoadedSamples(t *testing.T) {
	e := NewEwmaPair(0.02, 0.2, 3.0, 20.0)
	e.MaybeUpdateBaseline(100.0)
	require.Equal(t, 20.0, e.BaselineRTTMs, "sample far above threshold must not pull the baseline up")
}

func TestMaybeUpdateBaselineAdvancesWhenWithinThreshold(t *testing.T) {
	e := NewEwmaPair(0.02, 0.2, 3.0, 20.0)
	e.MaybeUpdateBaseline(21.5)
	require.InDelta(t, 20.03, e.BaselineRTTMs, 1e-9)
}

func TestMaybeUpdateBaselineAllowsDownwardMovement(t *testing.T) {
	e := NewEwmaPair(0.02, 0.2, 3.0, 20.0)
	e.MaybeUpdateBaseline(5.0)
	require.Less(t, e.BaselineRTTMs, 20.0)
}

func TestRestoreEwmaPairCarriesPersistedValues(t *testing.T) {
	e := RestoreEwmaPair(0.02, 0.2, 3.0, 22.5, 34.1)
	require.Equal(t, 22.5, e.BaselineRTTMs)
	require.Equal(t, 34.1, e.LoadRTTMs)
}

func TestScaleAlphasPreservesTimeConstantAtCanonicalInterval(t *testing.T) {
	b, l := ScaleAlphas(0.02, 0.2, 50)
	require.Equal(t, 0.02, b)
	require.Equal(t, 0.2, l)
}

func TestScaleAlphasScalesAndClamps(t *testing.T) {
	b, l := ScaleAlphas(0.02, 0.6, 2000)
	require.Equal(t, 0.8, b)
	require.Equal(t, 1.0, l, "scaled alpha must clamp at 1.0")
}
