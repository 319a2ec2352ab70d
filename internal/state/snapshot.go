// Package state persists and restores the per-WAN snapshot described in
// §4.9: current rates, streak counters, and EWMA values, written
// atomically and loaded with forward-compatible defaults.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/galpt/cake-bufferbloatd/internal/congestion"
	"github.com/google/renameio/v2"
)

// DirectionSnapshot is one direction's persisted fields.
type DirectionSnapshot struct {
	GreenStreak     int     `json:"green_streak"`
	YellowStreak    int     `json:"yellow_streak"`
	SoftRedStreak   int     `json:"soft_red_streak"`
	RedStreak       int     `json:"red_streak"`
	CurrentRateMbps float64 `json:"current_rate_mbps"`
}

// EwmaSnapshot is the persisted RTT EWMA pair.
type EwmaSnapshot struct {
	BaselineRTTMs float64 `json:"baseline_rtt_ms"`
	LoadRTTMs     float64 `json:"load_rtt_ms"`
}

// SnapshotRecord is the on-disk shape for one WAN. Field presence, not a
// format version, defines forward compatibility: a reader who doesn't
// recognize a field ignores it, and a field absent from an older writer's
// output is defaulted by Load.
type SnapshotRecord struct {
	Download     DirectionSnapshot `json:"download"`
	Upload       DirectionSnapshot `json:"upload"`
	Ewma         EwmaSnapshot      `json:"ewma"`
	TimestampISO string            `json:"timestamp_iso"`
}

// Path returns the per-WAN snapshot path under stateDir, matching §6's
// "<state_dir>/<wan_name>_state.json".
func Path(stateDir, wanName string) string {
	return filepath.Join(stateDir, wanName+"_state.json")
}

// Save writes record to path atomically: temp file in the same directory,
// fsync, rename. renameio.WriteFile performs exactly this sequence.
func Save(path string, record SnapshotRecord) error {
	buf, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("state: marshal snapshot: %w", err)
	}
	if err := renameio.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("state: write snapshot %s: %w", path, err)
	}
	return nil
}

// Defaults describes the safe fallback values used to fill in a missing
// or corrupt snapshot, per §4.9: streaks → 0, rates → green floor, EWMAs
// → seed values.
type Defaults struct {
	DownloadFloorGreen float64
	UploadFloorGreen   float64
	BaselineSeed       float64
}

// Load reads the snapshot at path. A missing file is not an error — it
// returns record built entirely from d, as on a true cold start. A
// corrupt file is treated the same way, with a warning passed to warn so
// the caller can log it (§4.9: "corrupt file treated as missing, with a
// warning").
func Load(path string, d Defaults, warn func(msg string)) SnapshotRecord {
	cold := SnapshotRecord{
		Download: DirectionSnapshot{CurrentRateMbps: d.DownloadFloorGreen},
		Upload:   DirectionSnapshot{CurrentRateMbps: d.UploadFloorGreen},
		Ewma:     EwmaSnapshot{BaselineRTTMs: d.BaselineSeed, LoadRTTMs: d.BaselineSeed},
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) && warn != nil {
			warn(fmt.Sprintf("state: reading snapshot %s: %v, starting cold", path, err))
		}
		return cold
	}

	var record SnapshotRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		if warn != nil {
			warn(fmt.Sprintf("state: snapshot %s is corrupt: %v, starting cold", path, err))
		}
		return cold
	}

	if record.Download.CurrentRateMbps == 0 {
		record.Download.CurrentRateMbps = d.DownloadFloorGreen
	}
	if record.Upload.CurrentRateMbps == 0 {
		record.Upload.CurrentRateMbps = d.UploadFloorGreen
	}
	if record.Ewma.BaselineRTTMs == 0 {
		record.Ewma.BaselineRTTMs = d.BaselineSeed
	}
	if record.Ewma.LoadRTTMs == 0 {
		record.Ewma.LoadRTTMs = d.BaselineSeed
	}
	return record
}

// FromDirectionState captures a congestion.DirectionState into its
// persisted form.
func FromDirectionState(d congestion.DirectionState) DirectionSnapshot {
	return DirectionSnapshot{
		GreenStreak:     d.Streaks.Green,
		YellowStreak:    d.Streaks.Yellow,
		SoftRedStreak:   d.Streaks.SoftRed,
		RedStreak:       d.Streaks.Red,
		CurrentRateMbps: d.CurrentRateMbps,
	}
}

// ToDirectionState rebuilds a congestion.DirectionState from its
// persisted form.
func ToDirectionState(s DirectionSnapshot) congestion.DirectionState {
	return congestion.DirectionState{
		CurrentRateMbps: s.CurrentRateMbps,
		AppliedRateMbps: s.CurrentRateMbps,
		Streaks: congestion.Streaks{
			Green:   s.GreenStreak,
			Yellow:  s.YellowStreak,
			SoftRed: s.SoftRedStreak,
			Red:     s.RedStreak,
		},
	}
}

// Now stamps a snapshot's timestamp at save time; a thin wrapper so
// callers don't reach for time.Now directly, keeping this the one place
// the format (RFC 3339 / ISO-8601) is defined.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
