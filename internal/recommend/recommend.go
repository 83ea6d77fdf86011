// Package recommend turns coverage and diagnostic metrics into a ranked
// list of actionable setup changes.
package recommend

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/softlynn/lighthouse-coach/internal/coverage"
	"github.com/softlynn/lighthouse-coach/internal/geometry"
	"github.com/softlynn/lighthouse-coach/internal/metrics"
	"github.com/softlynn/lighthouse-coach/internal/playarea"
)

// Recommendation is one actionable hint, targeted at a station or the
// setup in general.
type Recommendation struct {
	Target     string // "Station A" | "Station B" | "General"
	Text       string
	Confidence string // "Low" | "Med" | "High"
}

func angleDiffDeg(a, b float64) float64 {
	d := math.Mod(a-b+180.0, 360.0) - 180.0
	if d < -180.0 {
		d += 360.0
	}
	return d
}

func desiredYawDeg(fromXY, toXY geometry.Point2) float64 {
	dx := toXY.X - fromXY.X
	dy := toXY.Y - fromXY.Y
	return math.Atan2(dy, dx) * 180.0 / math.Pi
}

// Generate ports generate_recommendations. coverageResult and sessionMetrics
// may be nil when not yet computed/run; stationLabels maps station serial to
// a display label (falls back to "Station A"/"Station B" by position).
func Generate(
	area playarea.PlayArea,
	stations []coverage.StationPose,
	coverageResult *coverage.Result,
	sessionMetrics *metrics.SessionMetrics,
	stationLabels map[string]string,
) []Recommendation {
	var recs []Recommendation
	centroidPt := area.Centroid()

	if coverageResult != nil {
		if coverageResult.OverlapPctFoot < 55.0 {
			confidence := "High"
			if coverageResult.OverlapPctFoot > 35.0 {
				confidence = "Med"
			}
			recs = append(recs, Recommendation{
				Target: "General",
				Text: fmt.Sprintf(
					"Foot-height 2-station overlap is low (%.1f%%). "+
						"Favor higher mounts and slightly more downward tilt to improve tracker visibility near the floor.",
					coverageResult.OverlapPctFoot,
				),
				Confidence: confidence,
			})
		}
		if coverageResult.StationSyncWarning != "" {
			recs = append(recs, Recommendation{Target: "General", Text: coverageResult.StationSyncWarning, Confidence: "Med"})
		}
	}

	likelyStationCounts := map[string]int{}
	var worstYawBin string
	worstYawBinCount := 0
	if sessionMetrics != nil {
		for _, tm := range sessionMetrics.PerTracker {
			for _, d := range tm.Dropouts {
				if d.LikelyStationSerial != "" {
					likelyStationCounts[d.LikelyStationSerial]++
				}
			}
			for lab, c := range tm.DropoutYawBins {
				if c > worstYawBinCount {
					worstYawBin = lab
					worstYawBinCount = c
				}
			}
		}
		if worstYawBin != "" && worstYawBinCount >= 3 {
			recs = append(recs, Recommendation{
				Target: "General",
				Text: fmt.Sprintf(
					"Dropouts cluster at HMD yaw bin %s°. "+
						"Check for body/self-occlusion or reflective surfaces in that direction (mirrors/TV/windows).",
					worstYawBin,
				),
				Confidence: "Med",
			})
		}
	}

	limit := len(stations)
	if limit > 2 {
		limit = 2
	}
	for idx := 0; idx < limit; idx++ {
		s := stations[idx]
		label := stationLabels[s.Serial]
		if label == "" {
			if idx == 0 {
				label = "Station A"
			} else {
				label = "Station B"
			}
		}

		yaw, pitch := coverage.StationYawPitchDeg(s)
		desiredYaw := desiredYawDeg(geometry.Point2{X: s.Position.X, Y: s.Position.Y}, centroidPt)
		yawErr := angleDiffDeg(desiredYaw, yaw)

		if math.Abs(yawErr) >= 6.0 {
			recs = append(recs, Recommendation{
				Target: label,
				Text: fmt.Sprintf(
					"Yaw %+.0f° toward play area center (current yaw %.0f°, target %.0f°).",
					yawErr, yaw, desiredYaw,
				),
				Confidence: "Med",
			})
		}

		z := s.Position.Z
		if z < 2.0 {
			confidence := "Med"
			if z < 1.7 {
				confidence = "High"
			}
			recs = append(recs, Recommendation{
				Target:     label,
				Text:       fmt.Sprintf("Raise mount +%.1fm (current %.1fm; target ~2.1-2.4m) to reduce body occlusion.", 2.2-z, z),
				Confidence: confidence,
			})
		}

		dx := centroidPt.X - s.Position.X
		dy := centroidPt.Y - s.Position.Y
		horiz := math.Hypot(dx, dy)
		horizClamped := horiz
		if horizClamped < 1e-6 {
			horizClamped = 1e-6
		}
		targetPitch := math.Atan2(1.0-z, horizClamped) * 180.0 / math.Pi
		pitchErr := angleDiffDeg(targetPitch, pitch)
		if math.Abs(pitchErr) >= 6.0 {
			direction := "up"
			if pitchErr < 0 {
				direction = "down"
			}
			confidence := "Med"
			if horiz < 1.0 {
				confidence = "Low"
			}
			recs = append(recs, Recommendation{
				Target: label,
				Text: fmt.Sprintf(
					"Tilt %s ~%.0f° toward center (current pitch %.0f°, target %.0f°).",
					direction, math.Abs(pitchErr), pitch, targetPitch,
				),
				Confidence: confidence,
			})
		}

		c := likelyStationCounts[s.Serial]
		if c >= 3 {
			confidence := "Med"
			if c >= 6 {
				confidence = "High"
			}
			recs = append(recs, Recommendation{
				Target: label,
				Text: fmt.Sprintf(
					"Diagnostics: %d dropouts were geometrically more consistent with occlusion from this station; consider re-aiming and clearing line-of-sight.",
					c,
				),
				Confidence: confidence,
			})
		}
	}

	if len(recs) == 0 {
		recs = append(recs, Recommendation{
			Target:     "General",
			Text:       "No strong issues detected from current geometric estimate; run a 60s diagnostic test to generate evidence-based recommendations.",
			Confidence: "Low",
		})
	}

	sort.SliceStable(recs, func(i, j int) bool {
		ki, ti := sortKey(recs[i])
		kj, tj := sortKey(recs[j])
		if ki != kj {
			return ki < kj
		}
		return ti < tj
	})

	return recs
}

func sortKey(r Recommendation) (int, string) {
	switch {
	case strings.HasPrefix(r.Target, "Station A"):
		return 0, r.Text
	case strings.HasPrefix(r.Target, "Station B"):
		return 1, r.Text
	default:
		return 2, r.Text
	}
}
