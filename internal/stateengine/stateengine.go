// Package stateengine runs the background pose poller and the scripted
// diagnostic, and exposes an immutable snapshot of the current setup state
// for the HTTP layer to serve. It owns all mutable state behind one state
// mutex, with diagnostic progress under a separate mutex; the poller reconnects to the pose source on failure and a
// diagnostic run captures, analyzes, and persists a session.
package stateengine

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/softlynn/lighthouse-coach/internal/config"
	"github.com/softlynn/lighthouse-coach/internal/coverage"
	"github.com/softlynn/lighthouse-coach/internal/fsutil"
	"github.com/softlynn/lighthouse-coach/internal/geometry"
	"github.com/softlynn/lighthouse-coach/internal/historical"
	"github.com/softlynn/lighthouse-coach/internal/historydb"
	"github.com/softlynn/lighthouse-coach/internal/metrics"
	"github.com/softlynn/lighthouse-coach/internal/monitoring"
	"github.com/softlynn/lighthouse-coach/internal/playarea"
	"github.com/softlynn/lighthouse-coach/internal/playspace"
	"github.com/softlynn/lighthouse-coach/internal/poseource"
	"github.com/softlynn/lighthouse-coach/internal/recommend"
	"github.com/softlynn/lighthouse-coach/internal/reportexport"
	"github.com/softlynn/lighthouse-coach/internal/sessionstore"
	"github.com/softlynn/lighthouse-coach/internal/timeutil"
)

// reconnectBackoff is the cooldown, in seconds, between pose-source init
// attempts while disconnected. Rates and diagnostic length come from the
// config's tuning block.
const reconnectBackoff = 1.0

// TrackerLiveStats is the running state the poller keeps per adopted
// tracker between diagnostic runs, driving the live jitter/dropout
// figures reported in a snapshot.
type TrackerLiveStats struct {
	PrevOK       bool
	Dropouts     int
	Window       []windowSample
	Connected    bool
	TrackingOK   bool
	JitterPosMM  float64
	JitterYawDeg float64
	LastPos      *geometry.Vec3
	LastYawDeg   float64
}

type windowSample struct {
	t   float64
	pos geometry.Vec3
	yaw float64
}

// StationSnapshot is one base station's reported pose and aim quality.
type StationSnapshot struct {
	Label       string        `json:"label"`
	Serial      string        `json:"serial"`
	PositionM   geometry.Vec3 `json:"pos_m"`
	HeightM     float64       `json:"height_m"`
	YawDeg      float64       `json:"yaw_deg"`
	PitchDeg    float64       `json:"pitch_deg"`
	AimYawDeg   float64       `json:"aim_yaw_deg"`
	AimErrorDeg float64       `json:"aim_error_deg"`
}

// TrackerSnapshot is one tracker's live-reported state.
type TrackerSnapshot struct {
	Role         string         `json:"role"`
	Serial       string         `json:"serial"`
	Connected    bool           `json:"connected"`
	TrackingOK   bool           `json:"tracking_ok"`
	Dropouts     int            `json:"dropouts"`
	JitterPosMM  float64        `json:"jitter_pos_mm"`
	JitterYawDeg float64        `json:"jitter_yaw_deg"`
	PositionM    *geometry.Vec3 `json:"pos_m,omitempty"`
	YawDeg       float64        `json:"yaw_deg"`
}

// HeatmapSnapshot is a compact rasterized coverage payload for overlay
// rendering: -1 marks cells outside the play area polygon.
type HeatmapSnapshot struct {
	OriginM geometry.Point2 `json:"origin_m"`
	StepM   float64         `json:"step_m"`
	W       int             `json:"w"`
	H       int             `json:"h"`
	Foot    []int           `json:"foot"`
	Waist   []int           `json:"waist"`
}

// CoverageSnapshot is the scalar summary of the current coverage result.
type CoverageSnapshot struct {
	OverlapPctFoot  float64 `json:"overlap_pct_foot"`
	OverlapPctWaist float64 `json:"overlap_pct_waist"`
	OverallScore    float64 `json:"overall_score"`
	SyncWarning     string  `json:"sync_warning,omitempty"`
}

// DiagnosticSnapshot reports the scripted diagnostic's live progress.
type DiagnosticSnapshot struct {
	Stage                string  `json:"stage"`
	TS                   float64 `json:"t_s"`
	Running              bool    `json:"running"`
	LastSessionTimestamp string  `json:"last_session_timestamp,omitempty"`
}

// Snapshot is the full, immutable state returned to HTTP readers.
type Snapshot struct {
	Connected       bool                `json:"connected"`
	LastError       string              `json:"last_error,omitempty"`
	PlayArea        *playarea.PlayArea  `json:"play_area,omitempty"`
	Stations        []StationSnapshot   `json:"stations"`
	Coverage        *CoverageSnapshot   `json:"coverage,omitempty"`
	Heatmap         *HeatmapSnapshot    `json:"heatmap,omitempty"`
	Trackers        []TrackerSnapshot   `json:"trackers"`
	Recommendations []string            `json:"recommendations"`
	Diagnostic      DiagnosticSnapshot  `json:"diagnostic"`
}

type coverageKey struct {
	corners  string
	stations string
}

// Engine is the background poller/diagnostic runner and snapshot publisher.
type Engine struct {
	source poseource.Source
	fsys   fsutil.FileSystem
	clock  timeutil.Clock
	root   string

	pollHz float64

	// exportDir and indexPath enable post-diagnostic report export and
	// session indexing when non-empty. Both are off by default; cmd wiring
	// turns them on via EnableExports.
	exportDir string
	indexPath string

	mu sync.RWMutex

	cfg config.Config

	connected bool
	lastError string

	playspaceDetail string

	playArea     *playarea.PlayArea
	stations     []coverage.StationPose
	coverageRes  *coverage.Result
	coverageKey  *coverageKey
	trackerStats map[string]*TrackerLiveStats

	diagMu      sync.Mutex
	diagRunning bool
	diagStage   string
	diagTS      float64

	lastSessionTimestamp string
	lastMetrics          *metrics.SessionMetrics

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs an Engine. root is the app's state directory (config.json
// and sessions/ live under it).
func New(source poseource.Source, fsys fsutil.FileSystem, clock timeutil.Clock, root string) *Engine {
	cfg := config.Load(fsys, root)
	return &Engine{
		source:       source,
		fsys:         fsys,
		clock:        clock,
		root:         root,
		pollHz:       cfg.Tuning.GetPollRateHz(),
		cfg:          cfg,
		trackerStats: map[string]*TrackerLiveStats{},
		diagStage:    "Idle",
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// EnableExports turns on post-diagnostic report export into exportDir
// (summary text, session JSON, coverage/history heatmaps) and, when
// indexPath is non-empty, maintenance of the SQLite session index there.
// Call before Start.
func (e *Engine) EnableExports(exportDir, indexPath string) {
	e.exportDir = exportDir
	e.indexPath = indexPath
}

// Start launches the poller goroutine. Stop must be called to release it.
func (e *Engine) Start() {
	go e.run()
}

// Stop signals the poller and any running diagnostic to exit, waits up to
// two seconds for the poller to finish, then shuts down the pose source.
func (e *Engine) Stop() {
	close(e.stopCh)
	select {
	case <-e.doneCh:
	case <-time.After(2 * time.Second):
		monitoring.Warnf("poller did not stop within 2s; shutting down pose source anyway")
	}
	e.source.Shutdown()
}

func (e *Engine) run() {
	defer close(e.doneCh)

	targetDt := 1.0 / maxF(1.0, e.pollHz)
	ticker := e.clock.NewTicker(secondsToDuration(targetDt))
	defer ticker.Stop()

	var nextRetry time.Time

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C():
		}

		e.mu.RLock()
		connected := e.connected
		e.mu.RUnlock()

		if !connected {
			now := e.clock.Now()
			if now.Before(nextRetry) {
				continue
			}
			if !e.tryInit() {
				nextRetry = now.Add(secondsToDuration(reconnectBackoff))
			}
			continue
		}

		if err := e.pollOnce(); err != nil {
			e.mu.Lock()
			e.connected = false
			e.lastError = err.Error()
			e.mu.Unlock()
			e.source.Shutdown()
		}
	}
}

func (e *Engine) tryInit() bool {
	if err := e.source.Init(); err != nil {
		e.mu.Lock()
		e.connected = false
		e.lastError = err.Error()
		e.mu.Unlock()
		monitoring.Warnf("pose source init failed: %v", err)
		return false
	}
	detail := ""
	if resolved, err := playspace.Resolve(e.source, e.fsys); err == nil {
		detail = resolved.SourceDetail
	}

	e.mu.Lock()
	e.connected = true
	e.lastError = ""
	e.playspaceDetail = detail
	e.mu.Unlock()
	monitoring.Infof("pose source connected")
	if detail != "" {
		monitoring.Infof("playspace: %s", detail)
	}
	return true
}

// PlayspaceDetail reports the best-effort playspace source description
// resolved at connect time. Diagnostic metadata only; not part of the
// snapshot contract.
func (e *Engine) PlayspaceDetail() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.playspaceDetail
}

func (e *Engine) pollOnce() error {
	devices, err := e.source.Enumerate()
	if err != nil {
		return fmt.Errorf("enumerate devices: %w", err)
	}
	area, err := e.source.PlayArea()
	if err != nil {
		return fmt.Errorf("read play area: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.cfg = config.Load(e.fsys, e.root)
	e.playArea = &area
	e.stations = e.selectStationPosesLocked(devices)
	e.updateTrackerStatsLocked(devices)
	e.coverageRes = e.maybeRecomputeCoverageLocked()
	return nil
}

func (e *Engine) selectStationPosesLocked(devices []poseource.DeviceInfo) []coverage.StationPose {
	wantA := e.cfg.BaseStations.StationA
	wantB := e.cfg.BaseStations.StationB

	type ref struct {
		serial string
		pose   poseource.Pose
	}
	var refs []ref
	for _, d := range devices {
		if d.DeviceClass == poseource.DeviceClassTrackingReference && d.Serial != "" && d.Pose != nil && d.Pose.PoseValid {
			refs = append(refs, ref{serial: d.Serial, pose: *d.Pose})
		}
	}
	byserial := map[string]poseource.Pose{}
	for _, r := range refs {
		byserial[r.serial] = r.pose
	}

	var out []coverage.StationPose
	for _, want := range []string{wantA, wantB} {
		if want == "" {
			continue
		}
		if p, ok := byserial[want]; ok {
			out = append(out, coverage.StationPose{Serial: want, Position: p.PositionM, Rotation: p.Rotation})
		}
	}

	if len(out) < 2 && len(refs) >= 2 {
		chosen := []string{refs[0].serial, refs[1].serial}
		if wantA == "" || wantB == "" {
			e.cfg.BaseStations.StationA = chosen[0]
			e.cfg.BaseStations.StationB = chosen[1]
			if err := config.Save(e.fsys, e.root, e.cfg); err != nil {
				monitoring.Warnf("save adopted station serials: %v", err)
			}
		}
		for _, s := range chosen {
			p, ok := byserial[s]
			if !ok {
				continue
			}
			already := false
			for _, existing := range out {
				if existing.Serial == s {
					already = true
					break
				}
			}
			if !already {
				out = append(out, coverage.StationPose{Serial: s, Position: p.PositionM, Rotation: p.Rotation})
			}
		}
	}

	if len(out) > 2 {
		out = out[:2]
	}
	return out
}

func (e *Engine) trackerRolesLocked() map[string]string {
	roles := map[string]string{}
	if e.cfg.Trackers.LeftFoot != "" {
		roles[e.cfg.Trackers.LeftFoot] = "Left Foot"
	}
	if e.cfg.Trackers.RightFoot != "" {
		roles[e.cfg.Trackers.RightFoot] = "Right Foot"
	}
	if e.cfg.Trackers.Waist != "" {
		roles[e.cfg.Trackers.Waist] = "Waist"
	}
	return roles
}

func (e *Engine) updateTrackerStatsLocked(devices []poseource.DeviceInfo) {
	roles := e.trackerRolesLocked()
	if len(roles) != 3 {
		var trs []poseource.DeviceInfo
		for _, d := range devices {
			if d.DeviceClass == poseource.DeviceClassGenericTracker && d.Serial != "" {
				trs = append(trs, d)
			}
		}
		if len(trs) >= 3 {
			e.cfg.Trackers.LeftFoot = trs[0].Serial
			e.cfg.Trackers.RightFoot = trs[1].Serial
			e.cfg.Trackers.Waist = trs[2].Serial
			if err := config.Save(e.fsys, e.root, e.cfg); err != nil {
				monitoring.Warnf("save adopted tracker serials: %v", err)
			}
			roles = e.trackerRolesLocked()
		}
	}

	bySerial := map[string]*poseource.DeviceInfo{}
	for i := range devices {
		if devices[i].Serial != "" {
			bySerial[devices[i].Serial] = &devices[i]
		}
	}

	now := e.clock.Now().UnixNano()
	nowS := float64(now) / 1e9

	for serial := range roles {
		d, present := bySerial[serial]
		var pose *poseource.Pose
		if present {
			pose = d.Pose
		}
		ok := poseource.IsTrackingOK(pose)

		st, ok2 := e.trackerStats[serial]
		if !ok2 {
			st = &TrackerLiveStats{PrevOK: false}
			e.trackerStats[serial] = st
		}
		if st.PrevOK && !ok {
			st.Dropouts++
		}
		st.PrevOK = ok
		st.Connected = pose != nil
		st.TrackingOK = ok

		if ok && pose != nil {
			st.Window = append(st.Window, windowSample{t: nowS, pos: pose.PositionM, yaw: pose.YawDeg()})
			cutoff := nowS - 1.0
			trimmed := st.Window[:0]
			for _, w := range st.Window {
				if w.t >= cutoff {
					trimmed = append(trimmed, w)
				}
			}
			st.Window = trimmed
			pos := pose.PositionM
			st.LastPos = &pos
			st.LastYawDeg = pose.YawDeg()
		} else if pose != nil {
			pos := pose.PositionM
			st.LastPos = &pos
			st.LastYawDeg = pose.YawDeg()
		}

		st.JitterPosMM, st.JitterYawDeg = computeJitter(st.Window)
	}
}

func computeJitter(window []windowSample) (posMM, yawDeg float64) {
	if len(window) < 5 {
		return 0.0, 0.0
	}
	var xs, ys, zs, yaws []float64
	for _, w := range window {
		xs = append(xs, w.pos.X)
		ys = append(ys, w.pos.Y)
		zs = append(zs, w.pos.Z)
		yaws = append(yaws, w.yaw)
	}
	_, vx := stat.PopMeanVariance(xs, nil)
	_, vy := stat.PopMeanVariance(ys, nil)
	_, vz := stat.PopMeanVariance(zs, nil)
	posRMSM := math.Sqrt(vx + vy + vz)

	var sinSum, cosSum float64
	for _, y := range yaws {
		sinSum += math.Sin(y * math.Pi / 180.0)
		cosSum += math.Cos(y * math.Pi / 180.0)
	}
	var mean float64
	if sinSum == 0 && cosSum == 0 {
		mean = yaws[0]
	} else {
		mean = math.Atan2(sinSum, cosSum) * 180.0 / math.Pi
	}
	var sumSq float64
	for _, y := range yaws {
		d := geometry.WrapDeg(y - mean)
		sumSq += d * d
	}
	yawStd := math.Sqrt(sumSq / float64(len(yaws)))
	return posRMSM * 1000.0, yawStd
}

func (e *Engine) maybeRecomputeCoverageLocked() *coverage.Result {
	if e.playArea == nil || len(e.stations) != 2 {
		e.coverageKey = nil
		return nil
	}
	key := fingerprint(*e.playArea, e.stations)
	if e.coverageKey != nil && *e.coverageKey == key && e.coverageRes != nil {
		return e.coverageRes
	}
	e.coverageKey = &key
	result := coverage.Compute(*e.playArea, e.stations, coverage.Params{
		GridStepM:   e.cfg.Tuning.GetCoverageGridStepM(),
		FootZM:      e.cfg.Tuning.GetFootZM(),
		WaistZM:     e.cfg.Tuning.GetWaistZM(),
		FOVYawDeg:   e.cfg.Tuning.GetFOVYawDeg(),
		FOVPitchDeg: e.cfg.Tuning.GetFOVPitchDeg(),
	})
	return &result
}

// ForceRecompute drops the cached coverage result so the next poll
// recomputes it unconditionally.
func (e *Engine) ForceRecompute() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.coverageKey = nil
	e.coverageRes = nil
}

// TriggerDiagnostic starts the scripted 60-second diagnostic in the
// background. It refuses to start a second run while one is in progress.
func (e *Engine) TriggerDiagnostic() (started bool, reason string) {
	e.diagMu.Lock()
	if e.diagRunning {
		e.diagMu.Unlock()
		return false, "Diagnostic already running"
	}
	e.diagRunning = true
	e.diagStage = "Starting"
	e.diagTS = 0.0
	e.diagMu.Unlock()

	e.mu.RLock()
	roles := e.trackerRolesLocked()
	stationsReady := len(e.stations) == 2
	areaReady := e.playArea != nil
	duration := e.cfg.Tuning.GetDiagnosticDurationS()
	rate := e.cfg.Tuning.GetDiagnosticRateHz()
	e.mu.RUnlock()

	reject := func(why string) (bool, string) {
		e.diagMu.Lock()
		e.diagRunning = false
		e.diagStage = "Idle"
		e.diagMu.Unlock()
		return false, why
	}
	if len(roles) != 3 {
		return reject("Trackers not selected")
	}
	if !areaReady || !stationsReady {
		return reject("Stations/play area not ready")
	}

	go e.runDiagnostic(duration, rate)
	return true, ""
}

func (e *Engine) runDiagnostic(durationS, hz float64) {
	defer func() {
		e.diagMu.Lock()
		e.diagRunning = false
		e.diagStage = "Idle"
		e.diagTS = 0.0
		e.diagMu.Unlock()
	}()

	e.mu.RLock()
	roles := e.trackerRolesLocked()
	stations := append([]coverage.StationPose(nil), e.stations...)
	area := e.playArea
	e.mu.RUnlock()

	rolesBySerial := map[string]string{}
	for serial, role := range roles {
		rolesBySerial[serial] = role
	}
	if len(rolesBySerial) != 3 {
		e.mu.Lock()
		e.lastError = "Diagnostic: trackers not selected"
		e.mu.Unlock()
		return
	}
	if area == nil || len(stations) != 2 {
		e.mu.Lock()
		e.lastError = "Diagnostic: stations/play area not ready"
		e.mu.Unlock()
		return
	}

	dt := 1.0 / maxF(1.0, hz)
	start := e.clock.Now()
	var ticks []metrics.Tick

	for {
		select {
		case <-e.stopCh:
			return
		default:
		}

		t := e.clock.Since(start).Seconds()
		if t >= durationS {
			break
		}

		e.diagMu.Lock()
		e.diagStage = diagnosticStage(t)
		e.diagTS = t
		e.diagMu.Unlock()

		devices, err := e.source.Enumerate()
		if err != nil {
			e.mu.Lock()
			e.lastError = fmt.Sprintf("Diagnostic: %v", err)
			e.mu.Unlock()
			return
		}

		bySerial := map[string]poseource.Pose{}
		var hmdYaw *float64
		for _, d := range devices {
			if d.Pose == nil {
				continue
			}
			if d.Serial != "" {
				bySerial[d.Serial] = *d.Pose
			}
			if d.DeviceClass == poseource.DeviceClassHMD && d.Pose.PoseValid && hmdYaw == nil {
				y := d.Pose.YawDeg()
				hmdYaw = &y
			}
		}

		tick := metrics.Tick{TimeS: t, HMDYawDeg: hmdYaw, Trackers: map[string]metrics.Sample{}}
		for serial := range rolesBySerial {
			p, ok := bySerial[serial]
			if !ok {
				tick.Trackers[serial] = metrics.Sample{Ok: false, HasPose: false}
				continue
			}
			tick.Trackers[serial] = metrics.Sample{
				Position: p.PositionM,
				YawDeg:   p.YawDeg(),
				Ok:       poseource.IsTrackingOK(&p),
				HasPose:  true,
			}
		}
		ticks = append(ticks, tick)

		e.clock.Sleep(secondsToDuration(dt))
	}

	e.mu.Lock()
	cov := e.coverageRes
	e.mu.Unlock()

	artifact := buildArtifact(*area, stations, rolesBySerial, cov, ticks, durationS, e.clock.Now())
	sessionMetrics := metrics.Analyze(ticks, rolesBySerial, stations)
	artifact.Metrics = &sessionMetrics

	if _, err := sessionstore.Save(e.fsys, e.root, artifact); err != nil {
		monitoring.Errorf("sessionstore", "save diagnostic session: %v", err)
		e.mu.Lock()
		e.lastError = fmt.Sprintf("Diagnostic: session write failed: %v", err)
		e.mu.Unlock()
		return
	}

	e.mu.Lock()
	e.lastSessionTimestamp = artifact.Timestamp
	e.lastMetrics = &sessionMetrics
	baselineTS := e.cfg.BaselineSession
	e.mu.Unlock()

	history := ""
	if e.indexPath != "" {
		history = e.refreshSessionIndex()
	}
	if e.exportDir != "" {
		e.exportSession(artifact, cov, baselineTS, history)
	}
}

// artifactTicks rebuilds the metrics engine's tick stream from a stored
// artifact's samples, so a baseline session's metrics can be re-analyzed
// from its raw data rather than trusted as stored.
func artifactTicks(a *sessionstore.Artifact) []metrics.Tick {
	ticks := make([]metrics.Tick, 0, len(a.Samples))
	for _, s := range a.Samples {
		tick := metrics.Tick{TimeS: s.TimeS, HMDYawDeg: s.HMDYawDeg, Trackers: map[string]metrics.Sample{}}
		for serial, tr := range s.Trackers {
			sample := metrics.Sample{Ok: tr.Ok}
			if tr.Position != nil {
				sample.Position = *tr.Position
				sample.HasPose = true
			}
			if tr.YawDeg != nil {
				sample.YawDeg = *tr.YawDeg
			}
			tick.Trackers[serial] = sample
		}
		ticks = append(ticks, tick)
	}
	return ticks
}

func stationPosesFromRecords(records []sessionstore.StationRecord) []coverage.StationPose {
	out := make([]coverage.StationPose, 0, len(records))
	for _, r := range records {
		out = append(out, coverage.StationPose{Serial: r.Serial, Position: r.Position, Rotation: r.Rotation})
	}
	return out
}

// exportSession writes the human-readable summary, session JSON, and
// coverage/history heatmap renders for a just-completed diagnostic.
// history, when non-empty, is appended to the summary text. Every step is
// best-effort: a failed export never unpublishes the session.
func (e *Engine) exportSession(artifact sessionstore.Artifact, cov *coverage.Result, baselineTS, history string) {
	var baseline *sessionstore.Artifact
	if baselineTS != "" {
		b, err := sessionstore.Load(e.fsys, e.root, baselineTS)
		if err == nil && b != nil {
			m := metrics.Analyze(artifactTicks(b), b.TrackerRolesBySerial, stationPosesFromRecords(b.Stations))
			b.Metrics = &m
			baseline = b
		}
	}

	summary := sessionstore.BuildSummaryText(&artifact, baseline)
	if history != "" {
		summary = summary + "\n" + history
	}
	if _, err := sessionstore.ExportReport(e.fsys, e.exportDir, summary, artifact); err != nil {
		monitoring.Errorf("sessionstore", "export report: %v", err)
	}

	ts := artifact.Timestamp
	if cov != nil {
		pngPath := filepath.Join(e.exportDir, ts+"_heatmap.png")
		if err := reportexport.WritePNGHeatmap(e.fsys, *cov, false, 6, 6, pngPath); err != nil {
			monitoring.Warnf("export coverage heatmap: %v", err)
		}
		htmlPath := filepath.Join(e.exportDir, ts+"_heatmap.html")
		if err := reportexport.WriteHTMLScatter(e.fsys, *cov, false, "Foot-height coverage", htmlPath); err != nil {
			monitoring.Warnf("export coverage chart: %v", err)
		}
	}

	hist, err := historical.Aggregate(e.fsys, e.root, artifact.PlayArea, 0)
	if err == nil && hist.W > 0 {
		historyPath := filepath.Join(e.exportDir, ts+"_history.png")
		if err := reportexport.WritePNGHistory(e.fsys, hist, 6, 6, historyPath); err != nil {
			monitoring.Warnf("export history heatmap: %v", err)
		}
	}
}

// refreshSessionIndex rebuilds the SQLite session index from the saved
// artifacts and reads it back into a short history section (recent
// sessions, worst trackers by dropout time) for the export summary. The
// index is derived data, so any failure here is logged and yields an
// empty history rather than failing the diagnostic.
func (e *Engine) refreshSessionIndex() string {
	db, err := historydb.Open(e.indexPath)
	if err != nil {
		monitoring.Warnf("open session index: %v", err)
		return ""
	}
	defer db.Close()
	if err := db.Rebuild(e.fsys, e.root); err != nil {
		monitoring.Warnf("rebuild session index: %v", err)
		return ""
	}

	recent, err := db.RecentSessions(5)
	if err != nil {
		monitoring.Warnf("query recent sessions: %v", err)
		return ""
	}
	worst, err := db.WorstTrackers(3)
	if err != nil {
		monitoring.Warnf("query worst trackers: %v", err)
		return ""
	}
	if len(recent) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("History (recent sessions):")
	for _, s := range recent {
		b.WriteString(fmt.Sprintf("\n- %s: ", s.Timestamp))
		if s.OverallScore != nil {
			b.WriteString(fmt.Sprintf("score %.1f/100", *s.OverallScore))
		} else {
			b.WriteString("score n/a")
		}
		if s.OverlapPctFoot != nil && s.OverlapPctWaist != nil {
			b.WriteString(fmt.Sprintf(" | overlap foot %.1f%% / waist %.1f%%", *s.OverlapPctFoot, *s.OverlapPctWaist))
		}
	}
	if len(worst) > 0 {
		b.WriteString("\nWorst trackers by dropout time:")
		for _, w := range worst {
			b.WriteString(fmt.Sprintf("\n- %s (%s) in %s: %d dropouts (%.2fs)",
				w.Role, w.Serial, w.Timestamp, w.DropoutCount, w.DropoutDurationS))
		}
	}
	return b.String()
}

func buildArtifact(
	area playarea.PlayArea,
	stations []coverage.StationPose,
	rolesBySerial map[string]string,
	cov *coverage.Result,
	ticks []metrics.Tick,
	durationS float64,
	now time.Time,
) sessionstore.Artifact {
	stationRecords := make([]sessionstore.StationRecord, 0, len(stations))
	for _, s := range stations {
		stationRecords = append(stationRecords, sessionstore.StationRecord{Serial: s.Serial, Position: s.Position, Rotation: s.Rotation})
	}

	samples := make([]sessionstore.Sample, 0, len(ticks))
	for _, tick := range ticks {
		trackers := make(map[string]sessionstore.TrackerSample, len(tick.Trackers))
		for serial, s := range tick.Trackers {
			rec := sessionstore.TrackerSample{Ok: s.Ok}
			if s.HasPose {
				pos := s.Position
				yaw := s.YawDeg
				rec.Position = &pos
				rec.YawDeg = &yaw
			}
			trackers[serial] = rec
		}
		samples = append(samples, sessionstore.Sample{TimeS: tick.TimeS, HMDYawDeg: tick.HMDYawDeg, Trackers: trackers})
	}

	var covSummary *sessionstore.CoverageSummary
	if cov != nil {
		covSummary = &sessionstore.CoverageSummary{
			OverlapPctFoot:  cov.OverlapPctFoot,
			OverlapPctWaist: cov.OverlapPctWaist,
			OverallScore:    cov.OverallScore,
		}
	}

	return sessionstore.Artifact{
		RunID:                uuid.NewString(),
		Timestamp:            now.Format("20060102_150405"),
		DurationS:            durationS,
		TrackerRolesBySerial: rolesBySerial,
		Stations:             stationRecords,
		PlayArea:             area,
		CoverageSummary:      covSummary,
		Samples:              samples,
	}
}

func diagnosticStage(t float64) string {
	switch {
	case t < 10.0:
		return "0-10s: Stand still at center"
	case t < 25.0:
		return "10-25s: Slow 360 degree turn"
	case t < 35.0:
		return "25-35s: Squat + stand"
	case t < 50.0:
		return "35-50s: Step side-to-side"
	case t < 55.0:
		return "50-55s: Face Station A"
	case t < 60.0:
		return "55-60s: Face Station B"
	default:
		return "Finishing"
	}
}

// Snapshot returns the current published state, safe to call concurrently
// with the poller.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var centroid geometry.Point2
	var paCopy *playarea.PlayArea
	if e.playArea != nil {
		pa := *e.playArea
		paCopy = &pa
		centroid = pa.Centroid()
	}

	stationSnaps := make([]StationSnapshot, 0, len(e.stations))
	for i, s := range e.stations {
		if i >= 2 {
			break
		}
		label := "Station A"
		if i == 1 {
			label = "Station B"
		}
		yaw, pitch := coverage.StationYawPitchDeg(s)
		aim := aimYawDeg(geometry.Point2{X: s.Position.X, Y: s.Position.Y}, centroid)
		stationSnaps = append(stationSnaps, StationSnapshot{
			Label:       label,
			Serial:      s.Serial,
			PositionM:   s.Position,
			HeightM:     s.Position.Z,
			YawDeg:      yaw,
			PitchDeg:    pitch,
			AimYawDeg:   aim,
			AimErrorDeg: geometry.WrapDeg(aim - yaw),
		})
	}

	var covSnap *CoverageSnapshot
	var heatSnap *HeatmapSnapshot
	if e.coverageRes != nil {
		cov := e.coverageRes
		covSnap = &CoverageSnapshot{
			OverlapPctFoot:  cov.OverlapPctFoot,
			OverlapPctWaist: cov.OverlapPctWaist,
			OverallScore:    cov.OverallScore,
			SyncWarning:     cov.StationSyncWarning,
		}
		foot := make([]int, len(cov.InsideMask))
		waist := make([]int, len(cov.InsideMask))
		for i, inside := range cov.InsideMask {
			if !inside {
				foot[i] = -1
				waist[i] = -1
				continue
			}
			foot[i] = cov.ScoreFoot[i]
			waist[i] = cov.ScoreWaist[i]
		}
		heatSnap = &HeatmapSnapshot{
			OriginM: cov.GridOriginM,
			StepM:   cov.GridStepM,
			W:       cov.W,
			H:       cov.H,
			Foot:    foot,
			Waist:   waist,
		}
	}

	trackerSnaps := make([]TrackerSnapshot, 0, len(e.trackerStats))
	roles := e.trackerRolesLocked()
	for serial, role := range roles {
		st := e.trackerStats[serial]
		if st == nil {
			st = &TrackerLiveStats{}
		}
		trackerSnaps = append(trackerSnaps, TrackerSnapshot{
			Role:         role,
			Serial:       serial,
			Connected:    st.Connected,
			TrackingOK:   st.TrackingOK,
			Dropouts:     st.Dropouts,
			JitterPosMM:  st.JitterPosMM,
			JitterYawDeg: st.JitterYawDeg,
			PositionM:    st.LastPos,
			YawDeg:       st.LastYawDeg,
		})
	}

	stationLabels := map[string]string{}
	if e.cfg.BaseStations.StationA != "" {
		stationLabels[e.cfg.BaseStations.StationA] = "Station A"
	}
	if e.cfg.BaseStations.StationB != "" {
		stationLabels[e.cfg.BaseStations.StationB] = "Station B"
	}

	recArea := playarea.Default()
	if paCopy != nil {
		recArea = *paCopy
	}
	recs := recommend.Generate(recArea, e.stations, e.coverageRes, e.lastMetrics, stationLabels)
	recLines := make([]string, 0, len(recs))
	for _, r := range recs {
		recLines = append(recLines, fmt.Sprintf("%s [%s]: %s", r.Target, r.Confidence, r.Text))
	}

	return Snapshot{
		Connected:       e.connected,
		LastError:       e.lastError,
		PlayArea:        paCopy,
		Stations:        stationSnaps,
		Coverage:        covSnap,
		Heatmap:         heatSnap,
		Trackers:        trackerSnaps,
		Recommendations: recLines,
		Diagnostic: DiagnosticSnapshot{
			Stage:                e.diagStageLocked(),
			TS:                   e.diagTSLocked(),
			Running:              e.diagRunningLocked(),
			LastSessionTimestamp: e.lastSessionTimestamp,
		},
	}
}

func (e *Engine) diagStageLocked() string {
	e.diagMu.Lock()
	defer e.diagMu.Unlock()
	return e.diagStage
}

func (e *Engine) diagTSLocked() float64 {
	e.diagMu.Lock()
	defer e.diagMu.Unlock()
	return e.diagTS
}

func (e *Engine) diagRunningLocked() bool {
	e.diagMu.Lock()
	defer e.diagMu.Unlock()
	return e.diagRunning
}

func aimYawDeg(from, to geometry.Point2) float64 {
	dx := to.X - from.X
	dy := to.Y - from.Y
	return math.Atan2(dy, dx) * 180.0 / math.Pi
}

// fingerprint rounds every input to millimeter/0.001-rotation precision
// before composing the coverage cache key, so pose noise below that
// precision reuses the cached result.
func fingerprint(area playarea.PlayArea, stations []coverage.StationPose) coverageKey {
	corners := ""
	for _, c := range area.CornersM {
		corners += fmt.Sprintf("(%.3f,%.3f)", round3(c.X), round3(c.Y))
	}
	stationsKey := ""
	for _, s := range stations {
		stationsKey += fmt.Sprintf("%s:(%.3f,%.3f,%.3f)", s.Serial, round3(s.Position.X), round3(s.Position.Y), round3(s.Position.Z))
		for _, row := range s.Rotation {
			for _, v := range row {
				stationsKey += fmt.Sprintf(",%.3f", round3(v))
			}
		}
	}
	return coverageKey{corners: corners, stations: stationsKey}
}

func round3(v float64) float64 {
	return math.Round(v*1000.0) / 1000.0
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
