// Package sessionstore persists diagnostic session artifacts as
// write-once JSON files and exports human-readable summaries alongside
// them.
package sessionstore

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/softlynn/lighthouse-coach/internal/fsutil"
	"github.com/softlynn/lighthouse-coach/internal/geometry"
	"github.com/softlynn/lighthouse-coach/internal/metrics"
	"github.com/softlynn/lighthouse-coach/internal/playarea"
	"github.com/softlynn/lighthouse-coach/internal/security"
)

// StationRecord is one base station's pose as captured at session end.
type StationRecord struct {
	Serial   string        `json:"serial"`
	Position geometry.Vec3 `json:"pos"`
	Rotation geometry.Mat3 `json:"rot"`
}

// TrackerSample is one tracker's reading within a single diagnostic tick.
// Position/YawDeg are nil only when the device had no pose at all on that
// tick (not enumerated); a pose that was present but not tracking-ok still
// carries its Position/YawDeg alongside Ok=false. They are optional fields,
// not zero-valued ones, so historical ingest (internal/historical) can tell
// "no reading" apart from a reading that happened to land at the origin.
type TrackerSample struct {
	Position *geometry.Vec3 `json:"pos,omitempty"`
	YawDeg   *float64       `json:"yaw_deg,omitempty"`
	Ok       bool           `json:"ok"`
}

// Sample is one diagnostic capture tick.
type Sample struct {
	TimeS      float64                  `json:"t_s"`
	HMDYawDeg  *float64                 `json:"hmd_yaw_deg,omitempty"`
	Trackers   map[string]TrackerSample `json:"trackers"`
}

// Artifact is the immutable record of a completed 60-second diagnostic.
type Artifact struct {
	RunID                string                     `json:"run_id"`
	Timestamp            string                     `json:"timestamp"`
	DurationS            float64                    `json:"duration_s"`
	TrackerRolesBySerial map[string]string          `json:"tracker_roles_by_serial"`
	Stations             []StationRecord            `json:"stations"`
	PlayArea             playarea.PlayArea          `json:"play_area"`
	CoverageSummary      *CoverageSummary           `json:"coverage_summary,omitempty"`
	Samples              []Sample                   `json:"samples"`
	Metrics              *metrics.SessionMetrics    `json:"metrics,omitempty"`
}

// CoverageSummary is a small, JSON-friendly excerpt of a coverage result,
// enough to fill the session index (internal/historydb) without re-running
// compute on the session's own stations.
type CoverageSummary struct {
	OverlapPctFoot  float64 `json:"overlap_pct_foot"`
	OverlapPctWaist float64 `json:"overlap_pct_waist"`
	OverallScore    float64 `json:"overall_score"`
}

const sessionsSubdir = "sessions"

func sessionsDir(root string) string { return filepath.Join(root, sessionsSubdir) }

// Save writes artifact to "{timestamp}.json" under root/sessions, creating
// the directory if needed. Filenames are write-once: saving the same
// timestamp twice overwrites, which the diagnostic driver never does since
// timestamps come from the wall clock at 1-second resolution and a
// diagnostic run takes 60s minimum.
func Save(fsys fsutil.FileSystem, root string, artifact Artifact) (string, error) {
	dir := sessionsDir(root)
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create sessions dir: %w", err)
	}
	if artifact.Timestamp == "" {
		return "", fmt.Errorf("session artifact missing timestamp")
	}

	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal session: %w", err)
	}

	path := filepath.Join(dir, artifact.Timestamp+".json")
	if err := fsys.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write session: %w", err)
	}
	return path, nil
}

// List returns the saved session timestamps, sorted ascending (the
// timestamp format sorts lexically the same as chronologically).
func List(fsys fsutil.FileSystem, root string) ([]string, error) {
	dir := sessionsDir(root)
	names, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, nil
	}

	timestamps := make([]string, 0, len(names))
	for _, name := range names {
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		timestamps = append(timestamps, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(timestamps)
	return timestamps, nil
}

// Load reads and decodes the session file for the given timestamp. A
// decode failure is not an error to the caller — it returns (nil, nil) so
// historical ingest can simply skip the file, matching the corrupt-file
// tolerance documented for session loading.
func Load(fsys fsutil.FileSystem, root, timestamp string) (*Artifact, error) {
	path := filepath.Join(sessionsDir(root), timestamp+".json")
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var artifact Artifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, nil
	}
	return &artifact, nil
}

// averagePerTracker returns the mean of f over m.PerTracker, or 0 when
// there are no trackers.
func averagePerTracker(m *metrics.SessionMetrics, f func(metrics.TrackerMetrics) float64) float64 {
	if m == nil || len(m.PerTracker) == 0 {
		return 0
	}
	var sum float64
	for _, t := range m.PerTracker {
		sum += f(t)
	}
	return sum / float64(len(m.PerTracker))
}

func totalsLine(label string, m *metrics.SessionMetrics, coverage *CoverageSummary) string {
	var totalDropouts int
	var totalDropoutS float64
	for _, t := range m.PerTracker {
		totalDropouts += t.DropoutCount
		totalDropoutS += t.DropoutDurationS
	}
	p95Pos := averagePerTracker(m, func(t metrics.TrackerMetrics) float64 { return t.JitterPosRMSMP95 })
	p95Yaw := averagePerTracker(m, func(t metrics.TrackerMetrics) float64 { return t.JitterYawDegP95 })

	line := fmt.Sprintf("%s: dropouts %d | dropout time %.2fs | jitter pos p95 %.1fmm | yaw p95 %.1f°",
		label, totalDropouts, totalDropoutS, p95Pos*1000, p95Yaw)
	if coverage != nil {
		line += fmt.Sprintf(" | overlap foot %.1f%% | waist %.1f%% | score %.1f/100",
			coverage.OverlapPctFoot, coverage.OverlapPctWaist, coverage.OverallScore)
	}
	return line
}

// BuildSummaryText renders the human-readable diagnostic summary that the
// state engine's export step writes through ExportReport: total and
// per-tracker dropout/jitter lines for current, plus a baseline comparison
// when baseline is non-nil. The baseline's metrics are expected to already
// be analyzed from its own stored samples — callers that only have a
// baseline Artifact should re-run metrics.Analyze against its Samples
// before passing it in, matching how the baseline is recomputed rather
// than trusted as stored.
func BuildSummaryText(current *Artifact, baseline *Artifact) string {
	if current == nil || current.Metrics == nil {
		return ""
	}

	lines := []string{totalsLine("Current", current.Metrics, current.CoverageSummary)}

	perTrackerLines := []string{"Per-tracker:"}
	for _, t := range current.Metrics.PerTracker {
		type binCount struct {
			bin   string
			count int
		}
		bins := make([]binCount, 0, len(t.DropoutYawBins))
		for bin, count := range t.DropoutYawBins {
			bins = append(bins, binCount{bin, count})
		}
		sort.Slice(bins, func(i, j int) bool { return bins[i].count > bins[j].count })
		if len(bins) > 3 {
			bins = bins[:3]
		}
		binParts := make([]string, 0, len(bins))
		for _, b := range bins {
			binParts = append(binParts, fmt.Sprintf("%s:%d", b.bin, b.count))
		}
		binsStr := "(none)"
		if len(binParts) > 0 {
			binsStr = strings.Join(binParts, ", ")
		}
		perTrackerLines = append(perTrackerLines, fmt.Sprintf(
			"- %s (%s): dropouts %d (%.2fs) | jitter p95 %.1fmm / %.1f° | yaw bins %s",
			t.Role, t.Serial, t.DropoutCount, t.DropoutDurationS,
			t.JitterPosRMSMP95*1000, t.JitterYawDegP95, binsStr))
	}
	lines = append(lines, strings.Join(perTrackerLines, "\n"))

	if baseline == nil || baseline.Metrics == nil {
		return strings.Join(lines, "\n")
	}
	lines = append(lines, totalsLine("Baseline", baseline.Metrics, nil))

	var curDropouts, baseDropouts int
	var curDropoutS, baseDropoutS float64
	for _, t := range current.Metrics.PerTracker {
		curDropouts += t.DropoutCount
		curDropoutS += t.DropoutDurationS
	}
	for _, t := range baseline.Metrics.PerTracker {
		baseDropouts += t.DropoutCount
		baseDropoutS += t.DropoutDurationS
	}
	curP95Pos := averagePerTracker(current.Metrics, func(t metrics.TrackerMetrics) float64 { return t.JitterPosRMSMP95 })
	baseP95Pos := averagePerTracker(baseline.Metrics, func(t metrics.TrackerMetrics) float64 { return t.JitterPosRMSMP95 })
	curP95Yaw := averagePerTracker(current.Metrics, func(t metrics.TrackerMetrics) float64 { return t.JitterYawDegP95 })
	baseP95Yaw := averagePerTracker(baseline.Metrics, func(t metrics.TrackerMetrics) float64 { return t.JitterYawDegP95 })

	lines = append(lines, fmt.Sprintf(
		"Delta: dropouts %+d | dropout time %+.2fs | jitter pos p95 %+.1fmm | yaw p95 %+.1f°",
		curDropouts-baseDropouts, curDropoutS-baseDropoutS,
		(curP95Pos-baseP95Pos)*1000, curP95Yaw-baseP95Yaw))

	return strings.Join(lines, "\n")
}

// ExportReport writes a plain-text summary and the full session JSON to
// exportDir as "{timestamp}_summary.txt" and "{timestamp}_session.json".
// It returns the two written paths keyed "summary" and "session". Both destination paths
// are checked with security.ValidateExportPath before writing: the
// timestamp embedded in the filename can come from a stored session file,
// so it must not be able to steer the write outside exportDir.
func ExportReport(fsys fsutil.FileSystem, exportDir string, summaryText string, artifact Artifact) (map[string]string, error) {
	ts := artifact.Timestamp
	if ts == "" {
		ts = "unknown_time"
	}

	if err := fsys.MkdirAll(exportDir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}

	summaryPath := filepath.Join(exportDir, ts+"_summary.txt")
	sessionPath := filepath.Join(exportDir, ts+"_session.json")

	if err := security.ValidateExportPath(summaryPath, exportDir); err != nil {
		return nil, fmt.Errorf("export path rejected: %w", err)
	}
	if err := security.ValidateExportPath(sessionPath, exportDir); err != nil {
		return nil, fmt.Errorf("export path rejected: %w", err)
	}

	if err := fsys.WriteFile(summaryPath, []byte(summaryText), 0o644); err != nil {
		return nil, fmt.Errorf("write summary: %w", err)
	}

	sessionData, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}
	if err := fsys.WriteFile(sessionPath, sessionData, 0o644); err != nil {
		return nil, fmt.Errorf("write session: %w", err)
	}

	return map[string]string{
		"summary": summaryPath,
		"session": sessionPath,
	}, nil
}
