package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/galpt/cake-bufferbloatd/internal/rtt"
	"github.com/galpt/cake-bufferbloatd/internal/steering"
	"github.com/galpt/cake-bufferbloatd/internal/transport"
	"github.com/galpt/cake-bufferbloatd/internal/transport/transporttest"
	"github.com/stretchr/testify/require"
)

func newSteeringLoop(ping rtt.PingFunc) (*SteeringLoop, *transporttest.Fake) {
	fake := transporttest.New()
	fake.Stats["wan0-dl"] = transport.CakeStats{QueueName: "wan0-dl", DroppedPackets: 81, BacklogPackets: 81}

	prober := rtt.NewProber([]string{"1.1.1.1"}, 50*time.Millisecond, false)
	prober.Ping = ping

	arbiter := &steering.Arbiter{
		Thresholds: steering.Thresholds{
			GreenRTTMs: 5, YellowRTTMs: 15, RedRTTMs: 15, MinDropsRed: 1, MinQueueRed: 50,
		},
		AlphaRTT: 0.3, AlphaQueue: 0.4,
		BadSamplesRequired: 3, GoodSamplesRequired: 3,
		RuleID: "steer-voip",
	}
	return &SteeringLoop{
		Arbiter:       arbiter,
		Transport:     fake,
		DownloadQueue: "wan0-dl",
		Prober:        prober,
		// alphaLoad=1 makes load track the sample exactly; alphaBaseline=0
		// with a zero threshold pins the baseline at its seed, so
		// Baseline.Delta() reduces to the raw sample, matching the fixed
		// staticPing deltas this table was written against.
		Baseline: rtt.NewEwmaPair(0, 1, 0, 0),
	}, fake
}

func TestSteeringLoopEntersDegradedAndEnablesRuleOnce(t *testing.T) {
	loop, fake := newSteeringLoop(staticPing(24.0))

	var dropped uint64 = 81
	for i := int64(1); i <= 10; i++ {
		fake.Stats["wan0-dl"] = transport.CakeStats{QueueName: "wan0-dl", DroppedPackets: dropped, BacklogPackets: 81}
		require.NoError(t, loop.Tick(context.Background(), i))
		dropped += 5
	}
	require.Equal(t, "SPECTRUM_DEGRADED", loop.Arbiter.State().String())
	require.Equal(t, 1, len(fake.EnabledRules))
}

func TestSteeringLoopSkipsTickOnAllFailedProbe(t *testing.T) {
	failPing := func(_ context.Context, _ string, _ time.Duration) (time.Duration, error) {
		return 0, context.DeadlineExceeded
	}
	loop, fake := newSteeringLoop(failPing)
	require.NoError(t, loop.Tick(context.Background(), 1))
	require.Empty(t, fake.EnabledRules)
}
