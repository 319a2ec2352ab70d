package daemon

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/galpt/cake-bufferbloatd/internal/congestion"
	"github.com/galpt/cake-bufferbloatd/internal/rtt"
	"github.com/galpt/cake-bufferbloatd/internal/state"
	"github.com/galpt/cake-bufferbloatd/internal/transport"
	"github.com/rs/zerolog"
)

// ErrGiveUp is returned by WanLoop.Tick when the fallback policy has
// exhausted its configured cycle budget (§4.5's graceful_degradation
// cycle N+1). The scheduler propagates it so the caller can exit with
// code 3.
var ErrGiveUp = errors.New("daemon: fallback policy gave up")

// retryBackoff is the single retry delay for a transient set-rate
// failure, per §7 "Transient transport: Retry once within the current
// tick (backoff 50 ms)".
const retryBackoff = 50 * time.Millisecond

// WanLoop owns one WAN's complete rate-control tick: probe, EWMA, FSM,
// rate controller, and actuation, per §2's data-flow diagram.
type WanLoop struct {
	Name          string
	DownloadQueue string
	UploadQueue   string

	// Interval is this WAN's own cycle length (§4.8 allows each loop its
	// own configured interval, since continuous_monitoring.interval_ms
	// is per-WAN). Zero means "use the Daemon's default".
	Interval time.Duration

	Transport transport.RouterTransport
	Prober    *rtt.Prober
	Ewma      *rtt.EwmaPair
	Fallback  *congestion.FallbackPolicy

	Thresholds     congestion.Thresholds
	DownloadFloors congestion.Floors
	UploadFloors   congestion.Floors

	Download congestion.DirectionState
	Upload   congestion.DirectionState

	StatePath string
	Logger    zerolog.Logger

	// OnTick, if set, is called with the per-tick observability record
	// after a full (non-frozen) tick completes, for internal/webui's
	// bounded tick ring buffer. Never blocks on I/O itself; callers must
	// keep it fast (§4.10's "read-only, never holds the transport
	// mutex" applies transitively to anything wired here).
	OnTick func(TickRecord)

	actuationSuspended bool

	healthMu   sync.Mutex
	lastHealth WanHealth
}

// Tick runs one sense/decide/actuate cycle. A non-nil error means the
// scheduler should stop this loop (currently only ErrGiveUp).
func (w *WanLoop) Tick(ctx context.Context, tickIndex int64) error {
	sampleMs, allFailed, _ := w.Prober.Probe(ctx)
	decision := w.Fallback.Observe(!allFailed, sampleMs, w.Ewma.LoadRTTMs)

	if decision.LogMessage != "" {
		ev := w.Logger.Info()
		if decision.LogWarn {
			ev = w.Logger.Warn()
		}
		ev.Int64("tick", tickIndex).Msg(decision.LogMessage)
	}
	if decision.GiveUp {
		return ErrGiveUp
	}
	if decision.FreezeRate {
		w.persistIfChanged(false)
		return nil
	}

	w.Ewma.UpdateLoad(decision.SampleMs)
	if !decision.Synthetic {
		w.Ewma.MaybeUpdateBaseline(decision.SampleMs)
	}

	delta := w.Ewma.Delta()
	dlState := congestion.Classify(delta, w.Thresholds)
	ulState := dlState

	newDown, pushDown := w.Download.Step(dlState, w.DownloadFloors)
	newUp, pushUp := w.Upload.Step(ulState, w.UploadFloors)

	changed := false
	if pushDown {
		if w.applyRate(w.DownloadQueue, transport.Download, newDown) {
			w.Download.MarkApplied(newDown)
			changed = true
		}
	}
	if pushUp {
		if w.applyRate(w.UploadQueue, transport.Upload, newUp) {
			w.Upload.MarkApplied(newUp)
			changed = true
		}
	}

	w.setHealth(WanHealth{
		WanName:             w.Name,
		DownloadState:       dlState.String(),
		UploadState:         ulState.String(),
		DeltaRTTMs:          delta,
		BaselineRTTMs:       w.Ewma.BaselineRTTMs,
		LoadRTTMs:           w.Ewma.LoadRTTMs,
		CurrentRateDownMbps: w.Download.CurrentRateMbps,
		CurrentRateUpMbps:   w.Upload.CurrentRateMbps,
		FallbackCycle:       w.Fallback.ConsecutiveFailures(),
		TickIndex:           tickIndex,
	})

	w.Logger.Info().
		Int64("tick", tickIndex).
		Str("download_state", dlState.String()).
		Str("upload_state", ulState.String()).
		Float64("delta_rtt_ms", delta).
		Float64("baseline_rtt_ms", w.Ewma.BaselineRTTMs).
		Float64("load_rtt_ms", w.Ewma.LoadRTTMs).
		Float64("rate_down_mbps", w.Download.CurrentRateMbps).
		Float64("rate_up_mbps", w.Upload.CurrentRateMbps).
		Msg("tick")

	if w.OnTick != nil {
		w.OnTick(TickRecord{
			WanName:       w.Name,
			TickIndex:     tickIndex,
			DownloadState: dlState.String(),
			UploadState:   ulState.String(),
			DeltaRTTMs:    delta,
			BaselineRTTMs: w.Ewma.BaselineRTTMs,
			LoadRTTMs:     w.Ewma.LoadRTTMs,
			RateDownMbps:  w.Download.CurrentRateMbps,
			RateUpMbps:    w.Upload.CurrentRateMbps,
		})
	}

	w.persistIfChanged(changed)
	return nil
}

// applyRate pushes a rate to the router, retrying once per §7. It
// returns whether the push ultimately succeeded. A terminal error
// suspends further actuation on this WAN (observation continues) but is
// never fatal to the process.
func (w *WanLoop) applyRate(queue string, dir transport.Direction, mbps float64) bool {
	if w.actuationSuspended {
		return false
	}

	err := w.Transport.SetRate(queue, dir, mbps)
	if err != nil && transport.IsRetryable(err) {
		time.Sleep(retryBackoff)
		err = w.Transport.SetRate(queue, dir, mbps)
	}
	if err == nil {
		return true
	}

	if transport.IsTerminal(err) {
		w.actuationSuspended = true
		w.Logger.Error().Err(err).Str("queue", queue).Msg("terminal transport error, suspending actuation on this WAN")
	} else {
		w.Logger.Warn().Err(err).Str("queue", queue).Msg("set_rate failed, will re-attempt next tick")
	}
	return false
}

func (w *WanLoop) persistIfChanged(changed bool) {
	if !changed || w.StatePath == "" {
		return
	}
	record := state.SnapshotRecord{
		Download: state.FromDirectionState(w.Download),
		Upload:   state.FromDirectionState(w.Upload),
		Ewma: state.EwmaSnapshot{
			BaselineRTTMs: w.Ewma.BaselineRTTMs,
			LoadRTTMs:     w.Ewma.LoadRTTMs,
		},
		TimestampISO: state.Now(),
	}
	if err := state.Save(w.StatePath, record); err != nil {
		w.Logger.Warn().Err(err).Str("wan", w.Name).Msg("failed to persist state")
	}
}

func (w *WanLoop) setHealth(h WanHealth) {
	w.healthMu.Lock()
	w.lastHealth = h
	w.healthMu.Unlock()
}

// Health returns the most recently computed WanHealth for the snapshot
// assembler. Safe to call concurrently with Tick — Tick runs on its own
// goroutine per WAN while Health is read from Daemon.updateSnapshot on
// whichever loop's goroutine just ticked.
func (w *WanLoop) Health() WanHealth {
	w.healthMu.Lock()
	defer w.healthMu.Unlock()
	return w.lastHealth
}
