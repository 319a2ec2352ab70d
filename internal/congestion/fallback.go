package congestion

import (
	"fmt"

	"github.com/galpt/cake-bufferbloatd/internal/config"
)

// FallbackPolicy implements §4.5's ICMP-loss graceful-degradation rules.
// One instance is owned per WAN; it tracks the consecutive-failure streak
// across ticks.
type FallbackPolicy struct {
	Mode      config.FallbackMode
	MaxCycles int

	consecutiveFailures int
}

// Decision tells the rate loop what to do with this tick given the
// probe's outcome.
type Decision struct {
	// GiveUp signals the caller should stop the daemon with exit code 3.
	GiveUp bool
	// FreezeRate means skip the FSM/rate-controller step entirely this tick.
	FreezeRate bool
	// SampleMs is the RTT sample to feed the FSM when neither GiveUp nor
	// FreezeRate is set.
	SampleMs float64
	// Synthetic marks SampleMs as a substituted value (the last known load
	// RTT), which must never be fed to MaybeUpdateBaseline.
	Synthetic bool

	LogMessage string
	LogWarn    bool
}

// ConsecutiveFailures returns the current ICMP-loss streak, for the
// health snapshot's fallback_cycle field.
func (p *FallbackPolicy) ConsecutiveFailures() int { return p.consecutiveFailures }

// Observe records one tick's probe outcome and returns what the rate loop
// should do with it. lastLoadRTTMs is the most recent EwmaPair.LoadRTTMs,
// used as the synthetic sample for use_last_rtt and graceful_degradation's
// first fallback cycle.
func (p *FallbackPolicy) Observe(probeSucceeded bool, probeRTTMs, lastLoadRTTMs float64) Decision {
	if probeSucceeded {
		if p.consecutiveFailures > 0 {
			recovered := p.consecutiveFailures
			p.consecutiveFailures = 0
			return Decision{
				SampleMs:   probeRTTMs,
				LogMessage: fmt.Sprintf("ICMP recovered after %d cycles", recovered),
			}
		}
		return Decision{SampleMs: probeRTTMs}
	}

	p.consecutiveFailures++
	c := p.consecutiveFailures
	n := p.MaxCycles

	switch p.Mode {
	case config.FallbackFreeze:
		return Decision{
			FreezeRate: true,
			LogMessage: fmt.Sprintf("icmp probe failed, freezing rates (freeze mode), cycle %d", c),
			LogWarn:    true,
		}
	case config.FallbackUseLastRTT:
		return Decision{
			SampleMs:   lastLoadRTTMs,
			Synthetic:  true,
			LogMessage: fmt.Sprintf("icmp probe failed, using last RTT (use_last_rtt mode), cycle %d", c),
			LogWarn:    true,
		}
	case config.FallbackGracefulDegradation:
		switch {
		case c == 1:
			return Decision{
				SampleMs:   lastLoadRTTMs,
				Synthetic:  true,
				LogMessage: fmt.Sprintf("using last RTT, cycle %d/%d", c, n),
				LogWarn:    true,
			}
		case c <= n:
			return Decision{
				FreezeRate: true,
				LogMessage: fmt.Sprintf("freezing rates, cycle %d/%d", c, n),
				LogWarn:    true,
			}
		default:
			return Decision{
				GiveUp:     true,
				LogMessage: fmt.Sprintf("icmp fallback exhausted after %d cycles, giving up", n),
				LogWarn:    true,
			}
		}
	default:
		return Decision{
			FreezeRate: true,
			LogMessage: fmt.Sprintf("icmp probe failed, unknown fallback mode %q, freezing rates", p.Mode),
			LogWarn:    true,
		}
	}
}
