// Package metrics turns a diagnostic sample buffer into per-tracker
// dropout events, streaming jitter statistics, and likely-occluder
// inference.
package metrics

import (
	"math"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/stat"

	"github.com/softlynn/lighthouse-coach/internal/coverage"
	"github.com/softlynn/lighthouse-coach/internal/geometry"
)

// Sample is one tracker's reading at a single diagnostic tick. HasPose
// distinguishes a pose that was present but not tracking-ok from no pose at
// all (the device wasn't enumerated on that tick) — Position/YawDeg are only
// meaningful when HasPose is true.
type Sample struct {
	Position geometry.Vec3
	YawDeg   float64
	Ok       bool
	HasPose  bool
}

// Tick is one diagnostic capture tick across all tracked devices.
type Tick struct {
	TimeS     float64
	HMDYawDeg *float64
	Trackers  map[string]Sample // keyed by serial
}

// DropoutEvent is a contiguous interval where a tracker's pose was not
// usable.
type DropoutEvent struct {
	StartS              float64            `json:"start_s"`
	EndS                float64            `json:"end_s"`
	DurationS           float64            `json:"duration_s"`
	HMDYawDeg           *float64           `json:"hmd_yaw_deg,omitempty"`
	LikelyStationSerial string             `json:"likely_station_serial,omitempty"` // empty when not inferred
	StationMarginsDeg   map[string]float64 `json:"station_margins_deg"`
}

// TrackerMetrics summarizes one tracker's session.
type TrackerMetrics struct {
	Serial           string         `json:"serial"`
	Role             string         `json:"role"`
	DropoutCount     int            `json:"dropout_count"`
	DropoutDurationS float64        `json:"dropout_duration_s"`
	JitterPosRMSMP50 float64        `json:"jitter_pos_rms_m_p50"`
	JitterPosRMSMP95 float64        `json:"jitter_pos_rms_m_p95"`
	JitterYawDegP50  float64        `json:"jitter_yaw_deg_p50"`
	JitterYawDegP95  float64        `json:"jitter_yaw_deg_p95"`
	DropoutYawBins   map[string]int `json:"dropout_yaw_bins"`
	Dropouts         []DropoutEvent `json:"dropouts"`
}

// SessionMetrics is the full per-tracker analysis of one diagnostic run.
type SessionMetrics struct {
	PerTracker []TrackerMetrics `json:"per_tracker"`
}

// percentile returns the nearest-rank percentile of values (0..100). An
// empty series yields 0, matching the documented boundary behavior.
func percentile(values []float64, pct float64) float64 {
	if len(values) == 0 {
		return 0.0
	}
	xs := append([]float64(nil), values...)
	sort.Float64s(xs)
	k := int(math.Round((pct / 100.0) * float64(len(xs)-1)))
	if k < 0 {
		k = 0
	}
	if k > len(xs)-1 {
		k = len(xs) - 1
	}
	return xs[k]
}

// yawBinLabel buckets a yaw angle into a 10-degree-wide bin label, e.g.
// "120-130".
func yawBinLabel(yawDeg float64) string {
	y := math.Mod(yawDeg, 360.0)
	if y < 0 {
		y += 360.0
	}
	const binDeg = 10
	start := int(y/binDeg) * binDeg
	end := start + binDeg
	return strconv.Itoa(start) + "-" + strconv.Itoa(end)
}

// inferLikelyStation picks the likely occluder for a dropout. When
// stations has length 2 and exactly one of them sees trackerPos, it
// returns the OTHER (non-seeing) station's serial. Deliberately kept this
// way for compatibility with existing session analyses, even though the
// witness station might seem the more intuitive answer.
func inferLikelyStation(stations []coverage.StationPose, trackerPos geometry.Vec3) (string, map[string]float64) {
	margins := make(map[string]float64, len(stations))
	visible := make(map[string]bool, len(stations))
	for _, s := range stations {
		ok, margin := coverage.StationSeesPoint(s, trackerPos)
		margins[s.Serial] = margin
		visible[s.Serial] = ok
	}
	if len(stations) == 2 {
		s0, s1 := stations[0].Serial, stations[1].Serial
		if visible[s0] && !visible[s1] {
			return s1, margins
		}
		if visible[s1] && !visible[s0] {
			return s0, margins
		}
	}
	return "", margins
}

// wrapDeg wraps a into (-180, 180] via geometry.WrapDeg.
func wrapDeg(a float64) float64 {
	return geometry.WrapDeg(a)
}

// Analyze runs the dropout/jitter/occluder state machine over ticks for
// every tracker named in rolesBySerial, against the given stations (used
// only for likely-occluder inference).
func Analyze(ticks []Tick, rolesBySerial map[string]string, stations []coverage.StationPose) SessionMetrics {
	serials := make([]string, 0, len(rolesBySerial))
	for serial := range rolesBySerial {
		serials = append(serials, serial)
	}
	sort.Strings(serials)

	perTracker := make([]TrackerMetrics, 0, len(serials))

	for _, serial := range serials {
		role := rolesBySerial[serial]

		var dropouts []DropoutEvent
		yawBins := map[string]int{}

		okPrev := false
		var dropoutStart *float64
		var dropoutYaw *float64
		var dropoutPose *geometry.Vec3

		type windowEntry struct {
			t    float64
			pos  geometry.Vec3
			yaw  float64
		}
		var window []windowEntry
		var posJitter, yawJitter []float64

		var lastTick *Tick
		for i := range ticks {
			tick := &ticks[i]
			lastTick = tick
			sample, present := tick.Trackers[serial]
			ok := present && sample.Ok

			if ok {
				window = append(window, windowEntry{t: tick.TimeS, pos: sample.Position, yaw: sample.YawDeg})
				cutoff := tick.TimeS - 1.0
				trimmed := window[:0]
				for _, e := range window {
					if e.t >= cutoff {
						trimmed = append(trimmed, e)
					}
				}
				window = trimmed

				if len(window) >= 5 {
					var xs, ys, zs []float64
					var sinSum, cosSum float64
					for _, e := range window {
						xs = append(xs, e.pos.X)
						ys = append(ys, e.pos.Y)
						zs = append(zs, e.pos.Z)
						sinSum += math.Sin(e.yaw * math.Pi / 180.0)
						cosSum += math.Cos(e.yaw * math.Pi / 180.0)
					}
					_, varX := stat.PopMeanVariance(xs, nil)
					_, varY := stat.PopMeanVariance(ys, nil)
					_, varZ := stat.PopMeanVariance(zs, nil)
					posJitter = append(posJitter, math.Sqrt(varX+varY+varZ))

					var meanYaw float64
					if sinSum == 0 && cosSum == 0 {
						meanYaw = window[0].yaw
					} else {
						meanYaw = math.Atan2(sinSum, cosSum) * 180.0 / math.Pi
					}
					var sumSq float64
					for _, e := range window {
						d := wrapDeg(e.yaw - meanYaw)
						sumSq += d * d
					}
					yawJitter = append(yawJitter, math.Sqrt(sumSq/float64(len(window))))
				}
			}

			if okPrev && !ok {
				t := tick.TimeS
				dropoutStart = &t
				if tick.HMDYawDeg != nil {
					y := *tick.HMDYawDeg
					dropoutYaw = &y
					label := yawBinLabel(y)
					yawBins[label]++
				} else {
					dropoutYaw = nil
				}
				if present {
					p := sample.Position
					dropoutPose = &p
				} else {
					dropoutPose = nil
				}
			} else if !okPrev && ok && dropoutStart != nil {
				end := tick.TimeS
				dur := end - *dropoutStart
				if dur < 0 {
					dur = 0
				}
				var likely string
				margins := map[string]float64{}
				if dropoutPose != nil && len(stations) > 0 {
					likely, margins = inferLikelyStation(stations, *dropoutPose)
				}
				dropouts = append(dropouts, DropoutEvent{
					StartS:              *dropoutStart,
					EndS:                end,
					DurationS:           dur,
					HMDYawDeg:           dropoutYaw,
					LikelyStationSerial: likely,
					StationMarginsDeg:   margins,
				})
				dropoutStart = nil
				dropoutYaw = nil
				dropoutPose = nil
			}

			okPrev = ok
		}

		if dropoutStart != nil && lastTick != nil {
			end := lastTick.TimeS
			dur := end - *dropoutStart
			if dur < 0 {
				dur = 0
			}
			var likely string
			margins := map[string]float64{}
			if dropoutPose != nil && len(stations) > 0 {
				likely, margins = inferLikelyStation(stations, *dropoutPose)
			}
			dropouts = append(dropouts, DropoutEvent{
				StartS:              *dropoutStart,
				EndS:                end,
				DurationS:           dur,
				HMDYawDeg:           dropoutYaw,
				LikelyStationSerial: likely,
				StationMarginsDeg:   margins,
			})
		}

		var dropoutDuration float64
		for _, d := range dropouts {
			dropoutDuration += d.DurationS
		}

		perTracker = append(perTracker, TrackerMetrics{
			Serial:           serial,
			Role:             role,
			DropoutCount:     len(dropouts),
			DropoutDurationS: dropoutDuration,
			JitterPosRMSMP50: percentile(posJitter, 50),
			JitterPosRMSMP95: percentile(posJitter, 95),
			JitterYawDegP50:  percentile(yawJitter, 50),
			JitterYawDegP95:  percentile(yawJitter, 95),
			DropoutYawBins:   yawBins,
			Dropouts:         dropouts,
		})
	}

	return SessionMetrics{PerTracker: perTracker}
}
