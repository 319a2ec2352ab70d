package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeClock advances only when Sleep is called or a test bumps it
// directly, so ticks execute instantly and deterministically.
type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }
func (f *fakeClock) Sleep(d time.Duration) {
	if d > 0 {
		f.now = f.now.Add(d)
	}
}

func TestRunStopsWhenContextCancelled(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	s := &Scheduler{Interval: 50 * time.Millisecond, Clock: clock}

	ctx, cancel := context.WithCancel(context.Background())
	var ticks int
	err := s.Run(ctx, func(_ context.Context, tickIndex int64) error {
		ticks++
		if ticks == 5 {
			cancel()
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 5, ticks)
}

func TestRunPropagatesTickError(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	s := &Scheduler{Interval: 50 * time.Millisecond, Clock: clock}

	giveUp := errors.New("fallback exhausted")
	err := s.Run(context.Background(), func(_ context.Context, tickIndex int64) error {
		if tickIndex == 2 {
			return giveUp
		}
		return nil
	})
	require.ErrorIs(t, err, giveUp)
}

func TestRunWarnsOnSkewOverTwentyPercent(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	var warned bool
	s := &Scheduler{
		Interval: 50 * time.Millisecond,
		Clock:    clock,
		OnSkew: func(tickIndex int64, actual, interval time.Duration) {
			warned = true
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	first := true
	err := s.Run(ctx, func(_ context.Context, tickIndex int64) error {
		if first {
			clock.now = clock.now.Add(80 * time.Millisecond)
			first = false
		} else {
			cancel()
		}
		return nil
	})
	require.NoError(t, err)
	require.True(t, warned)
}

func TestRunDoesNotBurstExtraTicksAfterASlowTick(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	s := &Scheduler{Interval: 50 * time.Millisecond, Clock: clock}

	var ticks int
	var starts []time.Time
	ctx, cancel := context.WithCancel(context.Background())
	err := s.Run(ctx, func(_ context.Context, tickIndex int64) error {
		ticks++
		starts = append(starts, clock.now)
		if tickIndex == 0 {
			clock.now = clock.now.Add(500 * time.Millisecond)
		}
		if ticks == 3 {
			cancel()
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, ticks, "a single overrun tick must not be compensated with a burst of extra ticks")
	require.Equal(t, 50*time.Millisecond, starts[2].Sub(starts[1]), "the ticks after an overrun are still a full interval apart")
}
