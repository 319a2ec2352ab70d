// Package daemon wires the per-WAN rate loops and the steering loop
// together behind the scheduler, and assembles the process-wide
// HealthSnapshot exposed by internal/webui.
package daemon

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/galpt/cake-bufferbloatd/internal/scheduler"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Daemon owns every WAN's rate loop plus the single steering loop (if
// any WAN is primary and steering is enabled) and runs them concurrently
// until ctx is cancelled or a loop gives up.
type Daemon struct {
	Wans     []*WanLoop
	Interval time.Duration
	Logger   zerolog.Logger

	Steering *SteeringLoop

	mu       sync.Mutex
	snapshot HealthSnapshot
}

// Run starts every loop and blocks until ctx is cancelled or one loop
// returns a fatal error (currently only ErrGiveUp from a WanLoop). It
// returns that error to the caller, which maps it to the process exit
// code.
func (d *Daemon) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, w := range d.Wans {
		w := w
		interval := w.Interval
		if interval == 0 {
			interval = d.Interval
		}
		sched := scheduler.New(interval, func(tickIndex int64, actual, interval time.Duration) {
			w.Logger.Warn().
				Int64("tick", tickIndex).
				Dur("actual", actual).
				Dur("interval", interval).
				Msg("tick overran target interval")
		})
		g.Go(func() error {
			err := sched.Run(gctx, func(ctx context.Context, tickIndex int64) error {
				err := w.Tick(ctx, tickIndex)
				d.updateSnapshot()
				return err
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if d.Steering != nil {
		steer := d.Steering
		interval := steer.Interval
		if interval == 0 {
			interval = d.Interval
		}
		sched := scheduler.New(interval, func(tickIndex int64, actual, interval time.Duration) {
			steer.Logger.Warn().
				Int64("tick", tickIndex).
				Dur("actual", actual).
				Dur("interval", interval).
				Msg("steering tick overran target interval")
		})
		g.Go(func() error {
			err := sched.Run(gctx, func(ctx context.Context, tickIndex int64) error {
				err := steer.Tick(ctx, tickIndex)
				d.updateSnapshot()
				return err
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	return g.Wait()
}

func (d *Daemon) updateSnapshot() {
	d.mu.Lock()
	defer d.mu.Unlock()

	wans := make([]WanHealth, 0, len(d.Wans))
	for _, w := range d.Wans {
		wans = append(wans, w.Health())
	}
	snap := HealthSnapshot{Wans: wans}
	if d.Steering != nil {
		h := d.Steering.Health()
		snap.Steering = &h
	}
	d.snapshot = snap
}

// Snapshot returns the most recently assembled HealthSnapshot. Safe to
// call concurrently with Run — this is the only state the web surface
// reads, and it never touches the RouterTransport directly (§4.10).
func (d *Daemon) Snapshot() HealthSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshot
}
