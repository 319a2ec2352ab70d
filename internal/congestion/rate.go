package congestion

// Floors holds the state-indexed bandwidth bounds for one direction of one
// WAN. SoftRed is nil for a 3-state WAN, in which case FloorSoftRed falls
// back to Red per §4.3/§4.4.
type Floors struct {
	Green      float64
	Yellow     float64
	SoftRed    *float64
	Red        float64
	Ceiling    float64
	StepUpMbps float64
	FactorDown float64
}

// FloorSoftRed returns the SOFT_RED floor, or the RED floor when this WAN
// runs the 3-state FSM and never computes a SOFT_RED rate.
func (f Floors) FloorSoftRed() float64 {
	if f.SoftRed != nil {
		return *f.SoftRed
	}
	return f.Red
}

// StartupRate seeds the rate controller at max(floor_green, persisted),
// bounded above by ceiling, so a cold start never begins below the GREEN
// floor and a stale persisted value never exceeds the configured ceiling.
func (f Floors) StartupRate(persisted float64) float64 {
	rate := f.Green
	if persisted > rate {
		rate = persisted
	}
	if rate > f.Ceiling {
		rate = f.Ceiling
	}
	return rate
}

// Streaks counts consecutive ticks spent in each state. Advance resets
// every counter but the one matching the observed state.
type Streaks struct {
	Green, Yellow, SoftRed, Red int
}

// Advance increments the counter for state and zeroes the rest.
func (s *Streaks) Advance(state State) {
	g, y, sr, r := 0, 0, 0, 0
	switch state {
	case Green:
		g = s.Green + 1
	case Yellow:
		y = s.Yellow + 1
	case SoftRed:
		sr = s.SoftRed + 1
	case Red:
		r = s.Red + 1
	}
	s.Green, s.Yellow, s.SoftRed, s.Red = g, y, sr, r
}

// minPushDeltaMbps is the smallest rate change worth pushing to the
// router; smaller moves are absorbed internally to avoid syscall churn.
const minPushDeltaMbps = 1.0

// DirectionState is the mutable per-direction state the rate loop owns and
// persists: the currently computed rate, the streak counters, and the
// rate last actually pushed to the router. AppliedRateMbps differs from
// CurrentRateMbps by less than minPushDeltaMbps after a suppressed
// change, and by more while a push has failed or not yet happened.
type DirectionState struct {
	CurrentRateMbps float64
	AppliedRateMbps float64
	Streaks         Streaks
}

// Step advances the streak counters for state and computes the next rate
// per §4.4, returning the new rate and whether it differs enough from the
// last applied rate to be worth pushing to the router.
func (d *DirectionState) Step(state State, f Floors) (newRate float64, shouldPush bool) {
	d.Streaks.Advance(state)

	switch state {
	case Green:
		newRate = min(f.Ceiling, d.CurrentRateMbps+f.StepUpMbps)
	case Yellow:
		newRate = min(d.CurrentRateMbps, f.Ceiling)
		if newRate < f.Yellow {
			newRate = f.Yellow
		}
	case SoftRed:
		floor := f.FloorSoftRed()
		newRate = max(floor, d.CurrentRateMbps*f.FactorDown)
		newRate = clamp(newRate, floor, f.Ceiling)
	case Red:
		newRate = max(f.Red, d.CurrentRateMbps*f.FactorDown)
		newRate = clamp(newRate, f.Red, f.Ceiling)
	}

	d.CurrentRateMbps = newRate
	if abs(newRate-d.AppliedRateMbps) >= minPushDeltaMbps {
		shouldPush = true
	}
	return newRate, shouldPush
}

// MarkApplied records that newRate was successfully pushed to the router.
func (d *DirectionState) MarkApplied(rate float64) {
	d.AppliedRateMbps = rate
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
