// Package config loads and saves the persistent app config: adopted
// device serials, the baseline session pointer, tuning knobs, and
// update-check settings. Unknown top-level keys from older or newer config
// files are round-tripped unchanged, and recognized fields missing from
// the file are backfilled with defaults on load.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/softlynn/lighthouse-coach/internal/fsutil"
)

// Trackers holds the adopted serial for each body-worn tracker role.
// Empty string means "not yet adopted".
type Trackers struct {
	LeftFoot  string `json:"left_foot"`
	RightFoot string `json:"right_foot"`
	Waist     string `json:"waist"`
}

// BaseStations holds the adopted serial for each lighthouse base station.
type BaseStations struct {
	StationA string `json:"station_a"`
	StationB string `json:"station_b"`
}

// Tuning holds the recognized rate/geometry knobs. All fields are optional
// pointers so a partial config is safe: anything omitted from the file
// falls back to the documented default via the Get* accessors.
type Tuning struct {
	PollRateHz          *float64 `json:"poll_rate_hz,omitempty"`
	DiagnosticRateHz    *float64 `json:"diagnostic_rate_hz,omitempty"`
	DiagnosticDurationS *float64 `json:"diagnostic_duration_s,omitempty"`
	CoverageGridStepM   *float64 `json:"coverage_grid_step_m,omitempty"`
	FootZM              *float64 `json:"foot_z_m,omitempty"`
	WaistZM             *float64 `json:"waist_z_m,omitempty"`
	FOVYawDeg           *float64 `json:"fov_yaw_deg,omitempty"`
	FOVPitchDeg         *float64 `json:"fov_pitch_deg,omitempty"`
	HTTPBindHost        *string  `json:"http_bind_host,omitempty"`
	HTTPBindPort        *int     `json:"http_bind_port,omitempty"`
}

func getF(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

// GetPollRateHz returns the pose poller rate.
func (t Tuning) GetPollRateHz() float64 { return getF(t.PollRateHz, 30) }

// GetDiagnosticRateHz returns the diagnostic capture rate.
func (t Tuning) GetDiagnosticRateHz() float64 { return getF(t.DiagnosticRateHz, 90) }

// GetDiagnosticDurationS returns the scripted diagnostic length in seconds.
func (t Tuning) GetDiagnosticDurationS() float64 { return getF(t.DiagnosticDurationS, 60) }

// GetCoverageGridStepM returns the coverage raster step in meters.
func (t Tuning) GetCoverageGridStepM() float64 { return getF(t.CoverageGridStepM, 0.10) }

// GetFootZM returns the foot-height sample plane in meters.
func (t Tuning) GetFootZM() float64 { return getF(t.FootZM, 0.15) }

// GetWaistZM returns the waist-height sample plane in meters.
func (t Tuning) GetWaistZM() float64 { return getF(t.WaistZM, 1.00) }

// GetFOVYawDeg returns the heuristic FOV half-angle in yaw.
func (t Tuning) GetFOVYawDeg() float64 { return getF(t.FOVYawDeg, 60) }

// GetFOVPitchDeg returns the heuristic FOV half-angle in pitch.
func (t Tuning) GetFOVPitchDeg() float64 { return getF(t.FOVPitchDeg, 45) }

// GetHTTPBindHost returns the loopback bind host for the state server.
func (t Tuning) GetHTTPBindHost() string {
	if t.HTTPBindHost == nil {
		return "127.0.0.1"
	}
	return *t.HTTPBindHost
}

// GetHTTPBindPort returns the state server port.
func (t Tuning) GetHTTPBindPort() int {
	if t.HTTPBindPort == nil {
		return 17835
	}
	return *t.HTTPBindPort
}

// UpdateSettings mirrors the original app's auto-update-check block. This
// engine doesn't perform update checks itself, but preserves the field so
// a config file shared with a launcher round-trips cleanly.
type UpdateSettings struct {
	Repo         string `json:"repo"`
	LastCheckUTC string `json:"last_check_utc"`
	AutoCheck    bool   `json:"auto_check"`
}

// Config is the persistent app config.
type Config struct {
	FirstRunCompleted bool           `json:"first_run_completed"`
	LastSeenVersion   string         `json:"last_seen_version"`
	Trackers          Trackers       `json:"trackers"`
	BaseStations      BaseStations   `json:"base_stations"`
	BaselineSession   string         `json:"baseline_session"`
	Update            UpdateSettings `json:"update"`
	Tuning            Tuning         `json:"tuning"`

	// Unknown holds any top-level keys this struct doesn't recognize, so
	// Save round-trips fields from newer or sibling tooling unchanged.
	Unknown map[string]json.RawMessage `json:"-"`
}

// Default returns the config used when no file exists yet or the existing
// file fails to parse.
func Default() Config {
	return Config{
		Update: UpdateSettings{AutoCheck: true},
	}
}

const fileName = "config.json"

// Load reads config.json from dir, backfilling any recognized fields
// missing from the file and preserving unrecognized ones. A missing or
// unparseable file yields Default() rather than an error, matching the
// original's fall-back-to-defaults behavior.
func Load(fsys fsutil.FileSystem, dir string) Config {
	path := filepath.Join(dir, fileName)
	data, err := fsys.ReadFile(path)
	if err != nil {
		return Default()
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Default()
	}

	cfg := Default()
	if v, ok := raw["first_run_completed"]; ok {
		json.Unmarshal(v, &cfg.FirstRunCompleted)
		delete(raw, "first_run_completed")
	}
	if v, ok := raw["last_seen_version"]; ok {
		json.Unmarshal(v, &cfg.LastSeenVersion)
		delete(raw, "last_seen_version")
	}
	if v, ok := raw["trackers"]; ok {
		json.Unmarshal(v, &cfg.Trackers)
		delete(raw, "trackers")
	}
	if v, ok := raw["base_stations"]; ok {
		json.Unmarshal(v, &cfg.BaseStations)
		delete(raw, "base_stations")
	}
	if v, ok := raw["baseline_session"]; ok {
		json.Unmarshal(v, &cfg.BaselineSession)
		delete(raw, "baseline_session")
	}
	if v, ok := raw["update"]; ok {
		json.Unmarshal(v, &cfg.Update)
		delete(raw, "update")
	}
	if v, ok := raw["tuning"]; ok {
		json.Unmarshal(v, &cfg.Tuning)
		delete(raw, "tuning")
	}

	if len(raw) > 0 {
		cfg.Unknown = raw
	}
	return cfg
}

// Save writes cfg to dir atomically: it writes config.json.tmp and renames
// it over config.json, so a reader never observes a partially-written file.
func Save(fsys fsutil.FileSystem, dir string, cfg Config) error {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	merged := map[string]json.RawMessage{}
	for k, v := range cfg.Unknown {
		merged[k] = v
	}

	marshal := func(v interface{}) json.RawMessage {
		b, _ := json.Marshal(v)
		return b
	}
	merged["first_run_completed"] = marshal(cfg.FirstRunCompleted)
	merged["last_seen_version"] = marshal(cfg.LastSeenVersion)
	merged["trackers"] = marshal(cfg.Trackers)
	merged["base_stations"] = marshal(cfg.BaseStations)
	merged["baseline_session"] = marshal(cfg.BaselineSession)
	merged["update"] = marshal(cfg.Update)
	merged["tuning"] = marshal(cfg.Tuning)

	data, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	path := filepath.Join(dir, fileName)
	tmpPath := path + ".tmp"
	if err := fsys.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := fsys.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename config into place: %w", err)
	}
	return nil
}

// DefaultRootDir returns the user-writable root directory for app state,
// mirroring the original's %APPDATA%/LighthouseLayoutCoach convention with
// a Unix-friendly fallback under the user's home directory.
func DefaultRootDir() string {
	if appdata := os.Getenv("APPDATA"); appdata != "" {
		return filepath.Join(appdata, "LighthouseLayoutCoach")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "LighthouseCoach")
	}
	return filepath.Join(home, ".local", "share", "lighthouse-coach")
}
