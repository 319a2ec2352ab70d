package daemon

import (
	"context"
	"time"

	"github.com/galpt/cake-bufferbloatd/internal/rtt"
	"github.com/galpt/cake-bufferbloatd/internal/steering"
	"github.com/galpt/cake-bufferbloatd/internal/transport"
	"github.com/rs/zerolog"
)

// SteeringLoop runs alongside the primary WAN's rate loop, reading its
// own RTT samples via an independent Prober (§9's "own independent EWMA"
// decision means an independent *sample path* too — it does not read the
// rate loop's EwmaPair) and CAKE counters from the primary WAN's
// download queue.
type SteeringLoop struct {
	Arbiter       *steering.Arbiter
	Transport     transport.RouterTransport
	DownloadQueue string
	Prober        *rtt.Prober

	// Baseline is the steering loop's own RTT baseline/load estimator,
	// independent of the primary WAN's rate-loop EwmaPair (§4.6: "EWMA-
	// smoothed RTT delta … independent of the rate loop's EWMAs"). Observe
	// is fed Baseline.Delta(), never the raw probe sample, so the arbiter
	// can actually see an idle link settle back to candidateGreen.
	Baseline *rtt.EwmaPair

	Logger zerolog.Logger

	// Interval is the steering loop's own cycle length; zero means "use
	// the Daemon's default" (§4.8).
	Interval time.Duration

	// OnTransition, if set, is called immediately whenever the arbiter's
	// state changes, so internal/webui can push a WebSocket update
	// without waiting for the next broadcast tick (§4.10).
	OnTransition func(SteeringHealth)
}

// Tick reads the primary WAN's download queue stats and an independent
// RTT sample, then feeds both into the arbiter.
func (s *SteeringLoop) Tick(ctx context.Context, tickIndex int64) error {
	sampleMs, allFailed, _ := s.Prober.Probe(ctx)
	if allFailed {
		// the steering arbiter has no fallback policy of its own; a
		// missed sample simply isn't fed this tick, same as a dropped
		// observation, per §5's "no other operation is allowed to
		// block" — it does not stall waiting for a retry.
		return nil
	}

	stats, err := s.Transport.ReadStats(s.DownloadQueue)
	if err != nil {
		if transport.IsTerminal(err) {
			s.Logger.Error().Err(err).Msg("terminal transport error reading primary WAN stats, steering loop idling")
		} else {
			s.Logger.Warn().Err(err).Msg("read_stats failed, skipping this tick")
		}
		return nil
	}

	s.Baseline.UpdateLoad(sampleMs)
	s.Baseline.MaybeUpdateBaseline(sampleMs)
	deltaMs := s.Baseline.Delta()

	prevState := s.Arbiter.State()
	if err := s.Arbiter.Observe(deltaMs, stats.DroppedPackets, stats.BacklogPackets, tickIndex, s.Transport); err != nil {
		s.Logger.Error().Err(err).Msg("failed to actuate steering rule toggle")
	}
	if s.Arbiter.State() != prevState {
		s.Logger.Warn().
			Int64("tick", tickIndex).
			Str("state", s.Arbiter.State().String()).
			Msg("steering state transition")
		if s.OnTransition != nil {
			s.OnTransition(s.Health())
		}
	}
	return nil
}

// Health returns the steering arbiter's current health for the snapshot.
func (s *SteeringLoop) Health() SteeringHealth {
	return SteeringHealth{
		State:         s.Arbiter.State().String(),
		BadStreak:     s.Arbiter.BadStreak(),
		GoodStreak:    s.Arbiter.GoodStreak(),
		LastToggledAt: s.Arbiter.LastToggledAt(),
	}
}
