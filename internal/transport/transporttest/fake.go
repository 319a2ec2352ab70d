// Package transporttest provides a scriptable in-memory
// transport.RouterTransport for exercising the congestion, steering, and
// daemon packages without a real router.
package transporttest

import (
	"sync"
	"time"

	"github.com/galpt/cake-bufferbloatd/internal/transport"
)

// Fake records every call made against it and returns canned responses,
// mirroring the teacher's injectable-function testing idiom one layer up
// (a whole interface instead of a single func field, since RouterTransport
// has several operations that must share call-ordering guarantees).
type Fake struct {
	mu sync.Mutex

	Stats      map[string]transport.CakeStats
	StatsErr   error
	SetRateErr error
	RuleErr    error
	PingResult transport.PingResult
	PingErr    error

	SetRateCalls  []SetRateCall
	EnabledRules  []string
	DisabledRules []string
	CloseCalls    int
}

type SetRateCall struct {
	QueueName string
	Direction transport.Direction
	Mbps      float64
}

func New() *Fake {
	return &Fake{Stats: make(map[string]transport.CakeStats)}
}

func (f *Fake) ReadStats(queueName string) (transport.CakeStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StatsErr != nil {
		return transport.CakeStats{}, f.StatsErr
	}
	return f.Stats[queueName], nil
}

func (f *Fake) SetRate(queueName string, direction transport.Direction, mbps float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SetRateCalls = append(f.SetRateCalls, SetRateCall{queueName, direction, mbps})
	return f.SetRateErr
}

func (f *Fake) EnableRule(ruleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RuleErr != nil {
		return f.RuleErr
	}
	f.EnabledRules = append(f.EnabledRules, ruleID)
	return nil
}

func (f *Fake) DisableRule(ruleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RuleErr != nil {
		return f.RuleErr
	}
	f.DisabledRules = append(f.DisabledRules, ruleID)
	return nil
}

func (f *Fake) Ping(host string, count int, sourceInterface string, timeout time.Duration) (transport.PingResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.PingResult, f.PingErr
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CloseCalls++
	return nil
}
