package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/galpt/cake-bufferbloatd/internal/logging"
	"github.com/stretchr/testify/require"
)

func TestDaemonRunAssemblesSnapshotAndStopsOnCancel(t *testing.T) {
	loop, _ := newTestLoop(staticPing(26.0))
	loop.Logger = logging.New(false, nil)

	d := &Daemon{
		Wans:     []*WanLoop{loop},
		Interval: time.Millisecond,
		Logger:   logging.New(false, nil),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := d.Run(ctx)
	require.NoError(t, err)

	snap := d.Snapshot()
	require.Len(t, snap.Wans, 1)
	require.Equal(t, "wan0", snap.Wans[0].WanName)
}

func TestDaemonRunPropagatesGiveUp(t *testing.T) {
	failPing := func(_ context.Context, _ string, _ time.Duration) (time.Duration, error) {
		return 0, context.DeadlineExceeded
	}
	loop, _ := newTestLoop(failPing)
	loop.Fallback.MaxCycles = 1
	loop.Logger = logging.New(false, nil)

	d := &Daemon{
		Wans:     []*WanLoop{loop},
		Interval: time.Millisecond,
		Logger:   logging.New(false, nil),
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := d.Run(ctx)
	require.ErrorIs(t, err, ErrGiveUp)
}
