// Command cake-bufferbloatd runs the adaptive bufferbloat controller: one
// rate-control loop per configured WAN, plus an optional inter-WAN
// steering loop, and a read-only health dashboard.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/galpt/cake-bufferbloatd/internal/config"
	"github.com/galpt/cake-bufferbloatd/internal/congestion"
	"github.com/galpt/cake-bufferbloatd/internal/daemon"
	"github.com/galpt/cake-bufferbloatd/internal/logging"
	"github.com/galpt/cake-bufferbloatd/internal/rtt"
	"github.com/galpt/cake-bufferbloatd/internal/state"
	"github.com/galpt/cake-bufferbloatd/internal/steering"
	"github.com/galpt/cake-bufferbloatd/internal/transport"
	"github.com/galpt/cake-bufferbloatd/internal/webui"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const (
	version           = "1.0.0"
	defaultConfigPath = "/etc/cake-bufferbloatd/config.yaml"
)

// Exit codes per §6.
const (
	exitClean            = 0
	exitConfigError      = 1
	exitTransportFailure = 2
	exitFallbackGiveUp   = 3
)

var configPath string

var rootCmd = &cobra.Command{
	Use:     "cake-bufferbloatd [config path]",
	Short:   "Adaptive bufferbloat controller for CAKE-shaped dual-WAN routers",
	Version: version,
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			configPath = args[0]
		}
		return run(configPath)
	},
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", defaultConfigPath, "path to the YAML config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a run() error to the process exit code named in §6.
func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return exitClean
	case errors.Is(err, errConfig):
		return exitConfigError
	case errors.Is(err, errTransportUnreachable):
		return exitTransportFailure
	case errors.Is(err, daemon.ErrGiveUp):
		return exitFallbackGiveUp
	default:
		return exitConfigError
	}
}

var (
	errConfig               = errors.New("config error")
	errTransportUnreachable = errors.New("transport unreachable at startup")
)

func run(path string) error {
	var warnings []string
	cfg, err := config.Load(path, func(msg string) { warnings = append(warnings, msg) })
	if err != nil {
		return fmt.Errorf("%w: %v", errConfig, err)
	}

	logBuffer := webui.NewLogBuffer(500)
	logger := logging.New(cfg.Debug, io.MultiWriter(os.Stderr, logBuffer))

	for _, w := range warnings {
		logger.Warn().Msg(w)
	}
	logger.Info().Str("version", version).Str("config", path).Msg("starting cake-bufferbloatd")

	wans := make([]*daemon.WanLoop, 0, len(cfg.WANs))
	tickBuffer := webui.NewTickBuffer(2000)

	var steeringLoop *daemon.SteeringLoop
	var primaryTransport transport.RouterTransport
	var primaryCfg *config.WanConfig

	for i := range cfg.WANs {
		wc := &cfg.WANs[i]
		wanLogger := logging.ForWan(logger, wc.WanName)

		tr, err := buildTransport(wc)
		if err != nil {
			return fmt.Errorf("%w: wan %q: %v", errTransportUnreachable, wc.WanName, err)
		}
		if wc.Primary || len(cfg.WANs) == 1 {
			primaryTransport = tr
			primaryCfg = wc
		}

		loop := buildWanLoop(cfg, wc, tr, wanLogger)
		loop.OnTick = tickBuffer.Add
		wans = append(wans, loop)
	}

	if primaryCfg != nil && primaryCfg.Steering.Enabled {
		steerLogger := logging.ForComponent(logger, "steering")
		arbiter := &steering.Arbiter{
			Thresholds: steering.Thresholds{
				GreenRTTMs:  primaryCfg.Steering.Thresholds.GreenRTTMs,
				YellowRTTMs: primaryCfg.Steering.Thresholds.YellowRTTMs,
				RedRTTMs:    primaryCfg.Steering.Thresholds.RedRTTMs,
				MinDropsRed: primaryCfg.Steering.Thresholds.MinDropsRed,
				MinQueueRed: primaryCfg.Steering.Thresholds.MinQueueRed,
			},
			AlphaRTT:            primaryCfg.Steering.EWMA.AlphaRTT,
			AlphaQueue:          primaryCfg.Steering.EWMA.AlphaQueue,
			BadSamplesRequired:  primaryCfg.Steering.BadSamplesRequired,
			GoodSamplesRequired: primaryCfg.Steering.GoodSamplesRequired,
			RuleID:              primaryCfg.Steering.RuleID,
		}
		steeringLoop = &daemon.SteeringLoop{
			Arbiter:       arbiter,
			Transport:     primaryTransport,
			DownloadQueue: primaryCfg.Queues.Download,
			Prober:        rtt.NewProber(primaryCfg.Monitoring.PingHosts, time.Duration(primaryCfg.Monitoring.IntervalMs)*time.Millisecond, primaryCfg.Monitoring.UseMedianOfThree),
			Baseline: rtt.NewEwmaPair(
				primaryCfg.Thresholds.AlphaBaseline,
				primaryCfg.Thresholds.AlphaLoad,
				primaryCfg.Thresholds.BaselineUpdateThresholdMs,
				primaryCfg.Monitoring.BaselineRTTInitial,
			),
			Logger:   steerLogger,
			Interval: time.Duration(primaryCfg.Monitoring.IntervalMs) * time.Millisecond,
		}
	}

	d := &daemon.Daemon{
		Wans:     wans,
		Interval: 50 * time.Millisecond,
		Logger:   logger,
		Steering: steeringLoop,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runErr error
	daemonDone := make(chan struct{})
	go func() {
		runErr = d.Run(ctx)
		close(daemonDone)
	}()

	if cfg.Web.Enabled {
		srv := webui.New(cfg.Web.Port, d, logBuffer, tickBuffer, logging.ForComponent(logger, "webui"))
		if steeringLoop != nil {
			steeringLoop.OnTransition = srv.NotifyTransition
		}
		go func() {
			if err := srv.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("webui server stopped")
			}
		}()
		logger.Info().Int("port", cfg.Web.Port).Msg("web dashboard available")
	}

	waitForShutdown(ctx, cancel, logger)

	<-daemonDone
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// waitForShutdown blocks until SIGINT/SIGTERM, then cancels ctx. A second
// signal within 5 s forces an immediate process exit, per §4.8.
func waitForShutdown(ctx context.Context, cancel context.CancelFunc, logger zerolog.Logger) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
		return
	case <-sigCh:
	}

	logger.Info().Msg("shutdown signal received, finishing current tick on each loop")
	cancel()

	select {
	case <-sigCh:
		logger.Warn().Msg("second shutdown signal received, forcing immediate exit")
		os.Exit(exitClean)
	case <-time.After(5 * time.Second):
	}
}

func buildTransport(wc *config.WanConfig) (transport.RouterTransport, error) {
	timeout := time.Duration(wc.Monitoring.IntervalMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	switch wc.Router.Transport {
	case config.TransportREST:
		return transport.NewRESTTransport(wc.Router.Host, wc.Router.Port, wc.Router.User, wc.Router.Password, wc.Router.VerifySSL, timeout), nil
	case config.TransportSSH:
		return transport.NewSSHTransport(wc.Router.Host, wc.Router.Port, wc.Router.User, wc.Router.SSHKey, wc.Router.KnownHosts, timeout)
	default:
		return nil, fmt.Errorf("unknown transport %q", wc.Router.Transport)
	}
}

func buildWanLoop(cfg *config.Config, wc *config.WanConfig, tr transport.RouterTransport, logger zerolog.Logger) *daemon.WanLoop {
	statePath := state.Path(cfg.State.Dir, wc.WanName)
	defaults := state.Defaults{
		DownloadFloorGreen: wc.Download.FloorGreenMbps,
		UploadFloorGreen:   wc.Upload.FloorGreenMbps,
		BaselineSeed:       wc.Monitoring.BaselineRTTInitial,
	}
	record := state.Load(statePath, defaults, func(msg string) { logger.Warn().Msg(msg) })

	ewma := rtt.RestoreEwmaPair(wc.Thresholds.AlphaBaseline, wc.Thresholds.AlphaLoad, wc.Thresholds.BaselineUpdateThresholdMs, record.Ewma.BaselineRTTMs, record.Ewma.LoadRTTMs)
	if wc.Monitoring.IntervalMs != 50 {
		ab, al := rtt.ScaleAlphas(wc.Thresholds.AlphaBaseline, wc.Thresholds.AlphaLoad, wc.Monitoring.IntervalMs)
		ewma.AlphaBaseline, ewma.AlphaLoad = ab, al
	}

	var hardRed *float64
	if wc.Thresholds.FourState() {
		v := *wc.Thresholds.HardRedBloatMs
		hardRed = &v
	}

	downloadFloors := floorsFrom(wc.Download)
	uploadFloors := floorsFrom(wc.Upload)

	download := state.ToDirectionState(record.Download)
	upload := state.ToDirectionState(record.Upload)
	// §4.4's startup rule applies on every load, not just a true cold
	// start: a snapshot persisted below floor_green (e.g. the process
	// last exited in RED) must not seed the controller below its own
	// floor. AppliedRateMbps is left at the persisted value, the rate
	// the router actually still holds, so the first tick's push
	// comparison sees the gap and pushes the corrected rate instead of
	// silently absorbing it.
	download.CurrentRateMbps = downloadFloors.StartupRate(download.CurrentRateMbps)
	upload.CurrentRateMbps = uploadFloors.StartupRate(upload.CurrentRateMbps)

	return &daemon.WanLoop{
		Name:          wc.WanName,
		DownloadQueue: wc.Queues.Download,
		UploadQueue:   wc.Queues.Upload,
		Transport:     tr,
		Prober:        rtt.NewProber(wc.Monitoring.PingHosts, time.Duration(wc.Monitoring.IntervalMs)*time.Millisecond, wc.Monitoring.UseMedianOfThree),
		Ewma:          ewma,
		Fallback: &congestion.FallbackPolicy{
			Mode:      wc.Fallback.Mode,
			MaxCycles: wc.Fallback.MaxFallbackCycles,
		},
		Thresholds: congestion.Thresholds{
			TargetMs:  wc.Thresholds.TargetBloatMs,
			WarnMs:    wc.Thresholds.WarnBloatMs,
			HardRedMs: hardRed,
		},
		DownloadFloors: downloadFloors,
		UploadFloors:   uploadFloors,
		Download:       download,
		Upload:         upload,
		StatePath:      statePath,
		Logger:         logger,
		Interval:       time.Duration(wc.Monitoring.IntervalMs) * time.Millisecond,
	}
}

func floorsFrom(d config.DirectionConfig) congestion.Floors {
	f := congestion.Floors{
		Green:      d.FloorGreenMbps,
		Yellow:     d.FloorYellowMbps,
		Red:        d.FloorRedMbps,
		Ceiling:    d.CeilingMbps,
		StepUpMbps: d.StepUpMbps,
		FactorDown: d.FactorDown,
	}
	if d.FloorSoftRedMbps != nil {
		v := *d.FloorSoftRedMbps
		f.SoftRed = &v
	}
	return f
}
