// Package config loads and validates the daemon's YAML configuration,
// following the teacher's typed-Config-plus-viper approach but scoped to a
// list of WANs instead of a single flat struct.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// FallbackMode selects how the ICMP fallback policy degrades rate control
// when every reflector probe fails.
type FallbackMode string

const (
	FallbackFreeze              FallbackMode = "freeze"
	FallbackUseLastRTT          FallbackMode = "use_last_rtt"
	FallbackGracefulDegradation FallbackMode = "graceful_degradation"
)

// Transport selects the router control-plane kind.
type Transport string

const (
	TransportREST Transport = "rest"
	TransportSSH  Transport = "ssh"
)

// RouterConfig describes how to reach the router that owns this WAN's
// queues and steering rule.
type RouterConfig struct {
	Transport  Transport `mapstructure:"transport"`
	Host       string    `mapstructure:"host"`
	User       string    `mapstructure:"user"`
	Password   string    `mapstructure:"password"`
	Port       int       `mapstructure:"port"`
	VerifySSL  bool      `mapstructure:"verify_ssl"`
	SSHKey     string    `mapstructure:"ssh_key"`
	KnownHosts string    `mapstructure:"known_hosts"`
}

// QueuesConfig names the CAKE queues this WAN's rate controller actuates.
type QueuesConfig struct {
	Download string `mapstructure:"download"`
	Upload   string `mapstructure:"upload"`
}

// MonitoringConfig configures the RTT prober and the EWMA seed.
type MonitoringConfig struct {
	Enabled            bool     `mapstructure:"enabled"`
	BaselineRTTInitial float64  `mapstructure:"baseline_rtt_initial"`
	PingHosts          []string `mapstructure:"ping_hosts"`
	UseMedianOfThree   bool     `mapstructure:"use_median_of_three"`
	IntervalMs         int      `mapstructure:"interval_ms"`
}

// DirectionConfig carries the per-direction floors, ceiling and rate-change
// tuning for one direction (download or upload) of one WAN.
type DirectionConfig struct {
	FloorGreenMbps   float64  `mapstructure:"floor_green_mbps"`
	FloorYellowMbps  float64  `mapstructure:"floor_yellow_mbps"`
	FloorSoftRedMbps *float64 `mapstructure:"floor_soft_red_mbps"`
	FloorRedMbps     float64  `mapstructure:"floor_red_mbps"`
	CeilingMbps      float64  `mapstructure:"ceiling_mbps"`
	StepUpMbps       float64  `mapstructure:"step_up_mbps"`
	FactorDown       float64  `mapstructure:"factor_down"`
}

// FourState reports whether this direction uses the 4-state FSM
// (GREEN/YELLOW/SOFT_RED/RED) rather than the 3-state variant.
func (d DirectionConfig) FourState() bool {
	return d.FloorSoftRedMbps != nil
}

// FloorSoftRed returns the soft-red floor, or the red floor when this
// direction is 3-state (so callers that always index by state don't need a
// separate branch).
func (d DirectionConfig) FloorSoftRed() float64 {
	if d.FloorSoftRedMbps != nil {
		return *d.FloorSoftRedMbps
	}
	return d.FloorRedMbps
}

// ThresholdsConfig configures the congestion FSM and the EWMA estimators
// that feed it.
type ThresholdsConfig struct {
	TargetBloatMs             float64  `mapstructure:"target_bloat_ms"`
	WarnBloatMs               float64  `mapstructure:"warn_bloat_ms"`
	HardRedBloatMs            *float64 `mapstructure:"hard_red_bloat_ms"`
	AlphaBaseline             float64  `mapstructure:"alpha_baseline"`
	AlphaLoad                 float64  `mapstructure:"alpha_load"`
	BaselineUpdateThresholdMs float64  `mapstructure:"baseline_update_threshold_ms"`
}

// FourState reports whether the hard-red boundary is configured, selecting
// the 4-state congestion FSM.
func (t ThresholdsConfig) FourState() bool {
	return t.HardRedBloatMs != nil
}

// FallbackConfig configures the ICMP-loss graceful-degradation policy.
type FallbackConfig struct {
	Enabled           bool         `mapstructure:"enabled"`
	Mode              FallbackMode `mapstructure:"mode"`
	MaxFallbackCycles int          `mapstructure:"max_fallback_cycles"`
	GatewayIP         string       `mapstructure:"gateway_ip"`
	TCPTargets        []string     `mapstructure:"tcp_targets"`
}

// SteeringThresholds names the RTT-delta, drop and queue thresholds that
// drive the steering arbiter's GREEN/YELLOW/RED classification.
type SteeringThresholds struct {
	GreenRTTMs  float64 `mapstructure:"green_rtt_ms"`
	YellowRTTMs float64 `mapstructure:"yellow_rtt_ms"`
	RedRTTMs    float64 `mapstructure:"red_rtt_ms"`
	MinDropsRed uint64  `mapstructure:"min_drops_red"`
	MinQueueRed uint64  `mapstructure:"min_queue_red"`
}

// SteeringEWMA configures the arbiter's own RTT-delta and queue-occupancy
// smoothing, independent of the rate loop's EWMAs (per §5/§9 one-directional
// data flow design).
type SteeringEWMA struct {
	AlphaRTT   float64 `mapstructure:"alpha_rtt"`
	AlphaQueue float64 `mapstructure:"alpha_queue"`
}

// SteeringConfig configures the inter-WAN steering arbiter. Only the
// primary WAN's config carries a meaningful SteeringConfig.
type SteeringConfig struct {
	Enabled             bool               `mapstructure:"enabled"`
	RuleID              string             `mapstructure:"rule_id"`
	BadSamplesRequired  int                `mapstructure:"bad_samples_required"`
	GoodSamplesRequired int                `mapstructure:"good_samples_required"`
	Thresholds          SteeringThresholds `mapstructure:"thresholds"`
	EWMA                SteeringEWMA       `mapstructure:"ewma"`
}

// WanConfig is the immutable, per-WAN configuration loaded at startup.
type WanConfig struct {
	WanName    string            `mapstructure:"wan_name"`
	Primary    bool              `mapstructure:"primary"`
	Router     RouterConfig      `mapstructure:"router"`
	Queues     QueuesConfig      `mapstructure:"queues"`
	Monitoring MonitoringConfig  `mapstructure:"continuous_monitoring"`
	Download   DirectionConfig   `mapstructure:"download"`
	Upload     DirectionConfig   `mapstructure:"upload"`
	Thresholds ThresholdsConfig  `mapstructure:"thresholds"`
	Fallback   FallbackConfig    `mapstructure:"fallback_checks"`
	Steering   SteeringConfig    `mapstructure:"steering"`
}

// StateConfig configures where per-WAN snapshots are persisted.
type StateConfig struct {
	Dir string `mapstructure:"dir"`
}

// LoggingConfig names the log file paths the external log-rotation concern
// writes to; the daemon itself only knows the paths, not rotation policy.
type LoggingConfig struct {
	MainLog  string `mapstructure:"main_log"`
	DebugLog string `mapstructure:"debug_log"`
}

// WebConfig enables/disables and binds the health/observability surface.
type WebConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Config is the complete, validated daemon configuration: a list of WANs
// plus process-wide concerns (state dir, logging paths, lock file, web UI).
type Config struct {
	Debug    bool          `mapstructure:"debug"`
	WANs     []WanConfig   `mapstructure:"wans"`
	State    StateConfig   `mapstructure:"state"`
	Logging  LoggingConfig `mapstructure:"logging"`
	LockFile string        `mapstructure:"lock_file"`
	Web      WebConfig     `mapstructure:"web"`
}

// DefaultConfig returns a Config with the process-wide defaults applied
// (web UI enabled on port 80); WANs must still be supplied by the loaded
// file. Per-WAN defaults (router.port, interval_ms, fallback mode and
// cycle budget) are filled in by validateWan.
func DefaultConfig() *Config {
	return &Config{
		Web: WebConfig{Enabled: true, Port: 80},
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads the YAML config at path, unmarshals it into a Config,
// resolves ${VAR} password references against the environment, and
// validates every WAN's invariants. Unknown top-level keys produce a
// warning (via warn) rather than failing startup; missing required keys or
// violated invariants return a terminal error.
func Load(path string, warn func(msg string)) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	warnUnknownKeys(v, warn)

	if len(cfg.WANs) == 0 {
		return nil, fmt.Errorf("config error: at least one entry under 'wans' is required")
	}

	primaryCount := 0
	names := map[string]bool{}
	for i := range cfg.WANs {
		w := &cfg.WANs[i]
		if w.WanName == "" {
			return nil, fmt.Errorf("config error: wans[%d].wan_name is required", i)
		}
		if names[w.WanName] {
			return nil, fmt.Errorf("config error: duplicate wan_name %q", w.WanName)
		}
		names[w.WanName] = true
		if w.Primary {
			primaryCount++
		}
		if err := resolvePassword(w); err != nil {
			return nil, err
		}
		if err := validateWan(w); err != nil {
			return nil, err
		}
	}
	if len(cfg.WANs) > 1 && primaryCount != 1 {
		return nil, fmt.Errorf("config error: exactly one WAN must be marked primary when more than one WAN is configured, found %d", primaryCount)
	}

	return cfg, nil
}

func warnUnknownKeys(v interface{ AllKeys() []string }, warn func(string)) {
	// Recognized top-level keys; anything else under the config root is
	// reported but does not fail startup (§6).
	recognized := map[string]bool{
		"debug": true, "wans": true, "state": true, "logging": true,
		"lock_file": true, "web": true,
	}
	for _, k := range v.AllKeys() {
		top := k
		if idx := strings.IndexByte(k, '.'); idx >= 0 {
			top = k[:idx]
		}
		if !recognized[top] && warn != nil {
			warn(fmt.Sprintf("unrecognized config key %q", k))
		}
	}
}

func resolvePassword(w *WanConfig) error {
	pw := w.Router.Password
	if pw == "" {
		return nil
	}
	var resolveErr error
	resolved := envVarPattern.ReplaceAllStringFunc(pw, func(m string) string {
		name := envVarPattern.FindStringSubmatch(m)[1]
		val, ok := os.LookupEnv(name)
		if !ok {
			resolveErr = fmt.Errorf("config error: wan %q references undefined environment variable %q", w.WanName, name)
			return ""
		}
		return val
	})
	if resolveErr != nil {
		return resolveErr
	}
	w.Router.Password = resolved
	return nil
}

func validateWan(w *WanConfig) error {
	if w.Router.Transport != TransportREST && w.Router.Transport != TransportSSH {
		return fmt.Errorf("config error: wan %q: router.transport must be %q or %q", w.WanName, TransportREST, TransportSSH)
	}
	if w.Router.Host == "" {
		return fmt.Errorf("config error: wan %q: router.host is required", w.WanName)
	}
	if w.Router.Port == 0 {
		if w.Router.Transport == TransportREST {
			w.Router.Port = 443
		} else {
			w.Router.Port = 22
		}
	}
	if w.Queues.Download == "" || w.Queues.Upload == "" {
		return fmt.Errorf("config error: wan %q: queues.download and queues.upload are required", w.WanName)
	}
	if w.Monitoring.IntervalMs == 0 {
		w.Monitoring.IntervalMs = 50
	}
	if w.Monitoring.IntervalMs < 50 || w.Monitoring.IntervalMs > 2000 {
		return fmt.Errorf("config error: wan %q: continuous_monitoring.interval_ms must be within [50, 2000]", w.WanName)
	}
	if len(w.Monitoring.PingHosts) == 0 {
		return fmt.Errorf("config error: wan %q: continuous_monitoring.ping_hosts must name at least one reflector", w.WanName)
	}

	if err := validateDirection(w.WanName, "download", w.Download); err != nil {
		return err
	}
	if err := validateDirection(w.WanName, "upload", w.Upload); err != nil {
		return err
	}

	t := w.Thresholds
	if !(0 < t.TargetBloatMs && t.TargetBloatMs < t.WarnBloatMs) {
		return fmt.Errorf("config error: wan %q: thresholds must satisfy 0 < target_bloat_ms < warn_bloat_ms", w.WanName)
	}
	if t.FourState() && *t.HardRedBloatMs <= t.WarnBloatMs {
		return fmt.Errorf("config error: wan %q: hard_red_bloat_ms must exceed warn_bloat_ms", w.WanName)
	}
	if !(0 < t.AlphaBaseline && t.AlphaBaseline < t.AlphaLoad && t.AlphaLoad < 1) {
		return fmt.Errorf("config error: wan %q: thresholds must satisfy 0 < alpha_baseline < alpha_load < 1", w.WanName)
	}
	if t.BaselineUpdateThresholdMs <= 0 {
		return fmt.Errorf("config error: wan %q: thresholds.baseline_update_threshold_ms must be positive", w.WanName)
	}
	if w.Download.FourState() != t.FourState() || w.Upload.FourState() != t.FourState() {
		return fmt.Errorf("config error: wan %q: floor_soft_red_mbps presence must agree with hard_red_bloat_ms presence for both directions", w.WanName)
	}

	if w.Fallback.Enabled {
		switch w.Fallback.Mode {
		case "":
			w.Fallback.Mode = FallbackGracefulDegradation
		case FallbackFreeze, FallbackUseLastRTT, FallbackGracefulDegradation:
		default:
			return fmt.Errorf("config error: wan %q: fallback_checks.mode %q is not recognized", w.WanName, w.Fallback.Mode)
		}
		if w.Fallback.MaxFallbackCycles <= 0 {
			w.Fallback.MaxFallbackCycles = 3
		}
	}

	if w.Primary && w.Steering.Enabled {
		s := w.Steering
		if s.RuleID == "" {
			return fmt.Errorf("config error: wan %q: steering.rule_id is required when steering is enabled", w.WanName)
		}
		if s.BadSamplesRequired <= 0 || s.GoodSamplesRequired <= 0 {
			return fmt.Errorf("config error: wan %q: steering.bad_samples_required and good_samples_required must be positive", w.WanName)
		}
	}

	return nil
}

func validateDirection(wan, dir string, d DirectionConfig) error {
	if !(d.FloorRedMbps <= d.FloorSoftRed() && d.FloorSoftRed() <= d.FloorYellowMbps && d.FloorYellowMbps <= d.FloorGreenMbps && d.FloorGreenMbps <= d.CeilingMbps) {
		return fmt.Errorf("config error: wan %q: %s floors must satisfy floor_red <= floor_soft_red <= floor_yellow <= floor_green <= ceiling", wan, dir)
	}
	if !(d.FactorDown > 0 && d.FactorDown < 1) {
		return fmt.Errorf("config error: wan %q: %s.factor_down must be within (0, 1)", wan, dir)
	}
	if d.StepUpMbps <= 0 {
		return fmt.Errorf("config error: wan %q: %s.step_up_mbps must be positive", wan, dir)
	}
	return nil
}
