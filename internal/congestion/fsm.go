// Package congestion implements the per-direction congestion FSM, the
// additive-increase/multiplicative-decrease rate controller, and the ICMP
// loss fallback policy described for the per-WAN rate loop.
package congestion

// State is the congestion classification for one direction on one tick.
// It is recomputed fresh every tick from delta; it is never itself
// "sticky" — hysteresis lives in the streak counters the Rate Controller
// advances from it.
type State int

const (
	Green State = iota
	Yellow
	SoftRed
	Red
)

func (s State) String() string {
	switch s {
	case Green:
		return "GREEN"
	case Yellow:
		return "YELLOW"
	case SoftRed:
		return "SOFT_RED"
	case Red:
		return "RED"
	default:
		return "UNKNOWN"
	}
}

// Thresholds holds the target/warn/hard_red boundaries that classify
// delta into a State. HardRedMs is nil for a 3-state WAN.
type Thresholds struct {
	TargetMs  float64
	WarnMs    float64
	HardRedMs *float64
}

// FourState reports whether this WAN's thresholds define a SOFT_RED band.
func (t Thresholds) FourState() bool {
	return t.HardRedMs != nil
}

// Classify maps delta (load_rtt − baseline_rtt) to a State per the
// boundaries in t. 3-state WANs skip straight from YELLOW to RED once
// delta exceeds WarnMs.
func Classify(delta float64, t Thresholds) State {
	switch {
	case delta <= t.TargetMs:
		return Green
	case delta <= t.WarnMs:
		return Yellow
	case t.FourState() && delta <= *t.HardRedMs:
		return SoftRed
	default:
		return Red
	}
}
