package steering

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeActuator struct {
	enableCalls  int
	disableCalls int
	lastRuleID   string
}

func (f *fakeActuator) EnableRule(ruleID string) error {
	f.enableCalls++
	f.lastRuleID = ruleID
	return nil
}

func (f *fakeActuator) DisableRule(ruleID string) error {
	f.disableCalls++
	f.lastRuleID = ruleID
	return nil
}

func newArbiter() *Arbiter {
	return &Arbiter{
		Thresholds: Thresholds{
			GreenRTTMs:  5,
			YellowRTTMs: 15,
			RedRTTMs:    15,
			MinDropsRed: 1,
			MinQueueRed: 50,
		},
		AlphaRTT:            0.3,
		AlphaQueue:          0.4,
		BadSamplesRequired:  320,
		GoodSamplesRequired: 600,
		RuleID:              "steer-voip",
	}
}

func TestArbiterStaysGoodUnderLightLoad(t *testing.T) {
	a := newArbiter()
	actuator := &fakeActuator{}
	for i := int64(0); i < 50; i++ {
		require.NoError(t, a.Observe(2.0, uint64(i), 0, i, actuator))
	}
	require.Equal(t, Good, a.State())
	require.Zero(t, actuator.enableCalls)
}

func TestArbiterConfirmedRedTriggersSteeringAtExactTick(t *testing.T) {
	a := newArbiter()
	actuator := &fakeActuator{}

	// The first Observe call seeds the drop-counter baseline rather than
	// reporting a spurious delta, so the 320-tick RED streak required to
	// trip DEGRADED completes on tick 321, not 320.
	var dropped uint64
	for i := int64(1); i <= 400; i++ {
		dropped += 5
		require.NoError(t, a.Observe(24.0, dropped, 81, i, actuator))
		if i < 321 {
			require.Equal(t, Good, a.State(), "tick %d should still be GOOD", i)
		}
	}
	require.Equal(t, Degraded, a.State())
	require.Equal(t, 1, actuator.enableCalls, "enable_rule must fire exactly once")
	require.Equal(t, int64(321), a.LastToggledAt())
}

func TestArbiterSoftRedSpeedTestNeverTriggersWithoutDrops(t *testing.T) {
	a := newArbiter()
	actuator := &fakeActuator{}
	for i := int64(1); i <= 60; i++ {
		require.NoError(t, a.Observe(70.0, 0, 800, i, actuator))
	}
	require.Equal(t, Good, a.State(), "no drops means no RED candidate, regardless of delta/queue")
	require.Zero(t, actuator.enableCalls)
}

func TestArbiterRecoversToGoodAfterGoodStreak(t *testing.T) {
	a := newArbiter()
	a.BadSamplesRequired = 3
	a.GoodSamplesRequired = 3
	actuator := &fakeActuator{}

	var dropped uint64
	var tick int64
	for j := 0; j < 6; j++ {
		tick++
		dropped += 2
		a.Observe(24.0, dropped, 81, tick, actuator)
	}
	require.Equal(t, Degraded, a.State())
	require.Equal(t, 1, actuator.enableCalls)

	// EWMA-smoothed delta needs several clean ticks to decay under the
	// GREEN threshold before good_streak can even start counting.
	for j := 0; j < 30; j++ {
		tick++
		a.Observe(0.1, dropped, 0, tick, actuator)
	}
	require.Equal(t, Good, a.State())
	require.Equal(t, 1, actuator.disableCalls)
}

func TestArbiterDropCounterWrapRebasesWithoutSpuriousDelta(t *testing.T) {
	a := newArbiter()
	actuator := &fakeActuator{}
	require.NoError(t, a.Observe(24.0, 1000, 81, 1, actuator))
	// counter resets (router reboot): current < previous.
	require.NoError(t, a.Observe(24.0, 5, 81, 2, actuator))
	require.Equal(t, Good, a.State(), "a single wrapped tick must not itself confirm RED")
}

func TestArbiterYellowResetsBadStreakButNotTowardGood(t *testing.T) {
	a := newArbiter()
	a.BadSamplesRequired = 5
	actuator := &fakeActuator{}

	var dropped uint64
	for i := int64(1); i <= 4; i++ {
		dropped += 2
		a.Observe(24.0, dropped, 81, i, actuator)
	}
	require.Equal(t, 3, a.BadStreak(), "first tick only seeds the drop-counter baseline")

	a.Observe(10.0, dropped, 20, 5, actuator)
	require.Equal(t, 0, a.BadStreak())
	require.Equal(t, 0, a.GoodStreak(), "yellow is a pure observability state, not a step toward GOOD")
}
