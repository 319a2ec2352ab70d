// Package steering implements the inter-WAN steering arbiter from §4.6: a
// single loop, run alongside the primary WAN's rate loop, that fuses RTT
// delta, CAKE drop delta, and queue occupancy into a GOOD/DEGRADED
// decision and toggles one pre-provisioned router rule.
package steering

// State is the steering FSM's current health assessment.
type State int

const (
	Good State = iota
	Degraded
)

func (s State) String() string {
	if s == Degraded {
		return "SPECTRUM_DEGRADED"
	}
	return "SPECTRUM_GOOD"
}

// candidate is the per-tick classification before hysteresis, distinct
// from the exported steering State because YELLOW never drives a
// transition — it only resets both bad_streak and good_streak.
type candidate int

const (
	candidateGreen candidate = iota
	candidateYellow
	candidateRed
)

// Thresholds are the named boundaries from §4.6, in milliseconds and raw
// packet/queue counts.
type Thresholds struct {
	GreenRTTMs  float64
	YellowRTTMs float64
	RedRTTMs    float64
	MinDropsRed uint64
	MinQueueRed uint64
}

func classify(deltaMs float64, dropDelta uint64, q uint64, th Thresholds) candidate {
	switch {
	case deltaMs < th.GreenRTTMs && dropDelta == 0 && q <= 10:
		return candidateGreen
	case deltaMs > th.RedRTTMs && dropDelta >= th.MinDropsRed && q >= th.MinQueueRed:
		return candidateRed
	default:
		// covers the YELLOW band (GreenRTTMs..YellowRTTMs or q>10) and any
		// other combination that is neither a clean GREEN nor a RED candidate.
		return candidateYellow
	}
}

// RuleActuator toggles the single pre-provisioned steering rule on the
// router. Implemented by internal/transport.
type RuleActuator interface {
	EnableRule(ruleID string) error
	DisableRule(ruleID string) error
}

// Arbiter owns its own EWMAs for RTT delta and queue occupancy,
// independent of the per-WAN rate loop's estimators (§9 design decision:
// "own independent EWMA" rather than sharing the rate loop's slot).
type Arbiter struct {
	Thresholds          Thresholds
	AlphaRTT            float64
	AlphaQueue          float64
	BadSamplesRequired  int
	GoodSamplesRequired int
	RuleID              string

	deltaEwma     float64
	queueEwma     float64
	ewmaSeeded    bool
	prevDropped   uint64
	dropsSeeded   bool
	state         State
	badStreak     int
	goodStreak    int
	lastToggledAt int64
}

// State returns the current steering state for the health snapshot.
func (a *Arbiter) State() State { return a.state }

// BadStreak and GoodStreak expose the hysteresis counters for logging.
func (a *Arbiter) BadStreak() int  { return a.badStreak }
func (a *Arbiter) GoodStreak() int { return a.goodStreak }

// Observe feeds one tick's raw primary-WAN download signals through the
// arbiter's EWMAs, classifies the result, advances hysteresis, and calls
// actuator.EnableRule/DisableRule exactly once on a state transition.
// tickIndex is used only to stamp lastToggledAt for the health snapshot.
func (a *Arbiter) Observe(rawDeltaMs float64, droppedPkts uint64, rawQueue uint64, tickIndex int64, actuator RuleActuator) error {
	if !a.ewmaSeeded {
		a.deltaEwma = rawDeltaMs
		a.queueEwma = float64(rawQueue)
		a.ewmaSeeded = true
	} else {
		a.deltaEwma = (1-a.AlphaRTT)*a.deltaEwma + a.AlphaRTT*rawDeltaMs
		a.queueEwma = (1-a.AlphaQueue)*a.queueEwma + a.AlphaQueue*float64(rawQueue)
	}

	var dropDelta uint64
	if !a.dropsSeeded {
		a.dropsSeeded = true
	} else if droppedPkts >= a.prevDropped {
		dropDelta = droppedPkts - a.prevDropped
	}
	// a wrapped counter rebases silently; dropDelta stays 0 for this tick.
	a.prevDropped = droppedPkts

	c := classify(a.deltaEwma, dropDelta, uint64(a.queueEwma), a.Thresholds)

	switch c {
	case candidateRed:
		a.badStreak++
		a.goodStreak = 0
	case candidateGreen:
		a.goodStreak++
		a.badStreak = 0
	case candidateYellow:
		a.badStreak = 0
		a.goodStreak = 0
	}

	switch a.state {
	case Good:
		if a.badStreak >= a.BadSamplesRequired {
			a.state = Degraded
			a.lastToggledAt = tickIndex
			a.badStreak = 0
			return actuator.EnableRule(a.RuleID)
		}
	case Degraded:
		if a.goodStreak >= a.GoodSamplesRequired {
			a.state = Good
			a.lastToggledAt = tickIndex
			a.goodStreak = 0
			return actuator.DisableRule(a.RuleID)
		}
	}
	return nil
}

// LastToggledAt returns the tick index of the most recent state
// transition, for the health snapshot's last_toggle_at field.
func (a *Arbiter) LastToggledAt() int64 { return a.lastToggledAt }
