package rtt

import (
	"context"
	"fmt"
	"sort"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// PingFunc probes a single reflector host and returns its RTT. The default
// implementation uses an unprivileged ICMP echo via pro-bing; tests inject
// a fake so the reducer and cycle-timeout logic can be exercised without
// touching the network — mirrors the teacher's injectable ProbeFunc.
type PingFunc func(ctx context.Context, host string, timeout time.Duration) (time.Duration, error)

// DefaultPingFunc sends a single ICMP echo to host and reports its RTT.
func DefaultPingFunc(ctx context.Context, host string, timeout time.Duration) (time.Duration, error) {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return 0, fmt.Errorf("rtt: new pinger for %s: %w", host, err)
	}
	pinger.Count = 1
	pinger.Timeout = timeout
	pinger.SetPrivileged(false)

	if err := pinger.RunWithContext(ctx); err != nil {
		return 0, fmt.Errorf("rtt: ping %s: %w", host, err)
	}
	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return 0, fmt.Errorf("rtt: ping %s: no reply", host)
	}
	return stats.AvgRtt, nil
}

// Prober fans an echo out to every reflector host in a WAN's pool every
// cycle and reduces the replies to one sample per §4.1.
type Prober struct {
	Hosts            []string
	Timeout          time.Duration
	UseMedianOfThree bool
	Ping             PingFunc
}

// NewProber builds a Prober with DefaultPingFunc; tests override Ping.
func NewProber(hosts []string, timeout time.Duration, useMedianOfThree bool) *Prober {
	return &Prober{
		Hosts:            hosts,
		Timeout:          timeout,
		UseMedianOfThree: useMedianOfThree,
		Ping:             DefaultPingFunc,
	}
}

// Sample is one reflector's result for a single cycle.
type Sample struct {
	Host string
	RTT  time.Duration
	Err  error
}

// Probe pings every configured host concurrently, each echo bounded by
// p.Timeout (the cycle interval in production) and by ctx, and
// reduces the successful replies to a
// single RTT sample. AllFailed reports true when every reflector failed,
// which the caller feeds into the ICMP fallback policy instead of the
// EWMA pair.
func (p *Prober) Probe(ctx context.Context) (rttMs float64, allFailed bool, samples []Sample) {
	results := make(chan Sample, len(p.Hosts))
	for _, host := range p.Hosts {
		go func(h string) {
			rtt, err := p.Ping(ctx, h, p.Timeout)
			results <- Sample{Host: h, RTT: rtt, Err: err}
		}(host)
	}

	samples = make([]Sample, 0, len(p.Hosts))
	for range p.Hosts {
		samples = append(samples, <-results)
	}

	ok := make([]time.Duration, 0, len(samples))
	for _, s := range samples {
		if s.Err == nil {
			ok = append(ok, s.RTT)
		}
	}
	if len(ok) == 0 {
		return 0, true, samples
	}
	return reduce(ok, p.UseMedianOfThree), false, samples
}

// reduce collapses successful RTTs to one millisecond value: median of the
// replies when UseMedianOfThree and at least three are available (damps a
// single noisy reflector), otherwise the minimum observed RTT.
func reduce(rtts []time.Duration, useMedianOfThree bool) float64 {
	if useMedianOfThree && len(rtts) >= 3 {
		sorted := append([]time.Duration(nil), rtts...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		mid := sorted[len(sorted)/2]
		return float64(mid.Microseconds()) / 1000.0
	}
	min := rtts[0]
	for _, r := range rtts[1:] {
		if r < min {
			min = r
		}
	}
	return float64(min.Microseconds()) / 1000.0
}
