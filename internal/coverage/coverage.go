// Package coverage computes a heuristic visibility grid over a play area
// given up to two base station poses, and a station-to-station sync
// warning. It never fails to produce a result for a polygon with at least
// three corners.
package coverage

import (
	"fmt"
	"math"

	"github.com/softlynn/lighthouse-coach/internal/geometry"
	"github.com/softlynn/lighthouse-coach/internal/playarea"
)

// FOVYawDeg and FOVPitchDeg bound the conservative heuristic field of view
// used to decide whether a station "sees" a point.
const (
	FOVYawDeg   = 60.0
	FOVPitchDeg = 45.0

	DefaultGridStepM = 0.10
	DefaultFootZM    = 0.15
	DefaultWaistZM   = 1.00
)

// StationPose is a base station's identity and pose at a point in time.
type StationPose struct {
	Serial   string
	Position geometry.Vec3
	Rotation geometry.Mat3
}

// Result is a rasterized coverage grid over a play area, row-major
// (index = yi*W + xi).
type Result struct {
	GridOriginM       geometry.Point2
	GridStepM         float64
	W, H              int
	InsideMask        []bool
	ScoreFoot         []int // 0, 1, or 2 per cell
	ScoreWaist        []int
	OverlapPctFoot    float64
	OverlapPctWaist   float64
	OverallScore      float64 // 0..100
	StationSyncWarning string // empty when no warning
}

// YawPitchFromStationToPoint returns the yaw/pitch, in degrees, of point as
// seen in the station's local frame.
func YawPitchFromStationToPoint(station StationPose, point geometry.Vec3) (yawDeg, pitchDeg float64) {
	return geometry.LocalYawPitch(station.Rotation, station.Position, point)
}

func seesPoint(station StationPose, point geometry.Vec3, fovYawDeg, fovPitchDeg float64) (visible bool, marginDeg float64) {
	yaw, pitch := YawPitchFromStationToPoint(station, point)
	margin := math.Min(fovYawDeg-math.Abs(yaw), fovPitchDeg-math.Abs(pitch))
	return margin >= 0.0, margin
}

// StationSeesPoint reports whether station sees point under the
// conservative default FOV heuristic, and the minimum angular headroom
// (negative means outside the FOV) to either the yaw or pitch edge,
// whichever is tighter.
func StationSeesPoint(station StationPose, point geometry.Vec3) (visible bool, marginDeg float64) {
	return seesPoint(station, point, FOVYawDeg, FOVPitchDeg)
}

func stationToStationVisibility(stations []StationPose, fovYawDeg, fovPitchDeg float64) string {
	if len(stations) != 2 {
		return ""
	}
	a, b := stations[0], stations[1]
	aSees, aMargin := seesPoint(a, b.Position, fovYawDeg, fovPitchDeg)
	bSees, bMargin := seesPoint(b, a.Position, fovYawDeg, fovPitchDeg)
	if aSees && bSees {
		return ""
	}
	return fmt.Sprintf(
		"Heuristic sync check: Station A/B may not have line-of-sight to each other. "+
			"Base Station 1.0 often requires optical sync; consider re-aiming or using a sync cable."+
			" (A→B margin %.1f°, B→A margin %.1f°)",
		aMargin, bMargin,
	)
}

// StationToStationVisibility returns a non-empty sync-warning string when
// exactly two stations are given and at least one cannot see the other
// under the same FOV heuristic. Any other station count yields no warning
// (the original sync heuristic is only meaningful for a pair).
func StationToStationVisibility(stations []StationPose) string {
	return stationToStationVisibility(stations, FOVYawDeg, FOVPitchDeg)
}

// Params tunes the coverage raster. Zero values take the documented
// defaults, so Params{} computes the standard grid.
type Params struct {
	GridStepM   float64
	FootZM      float64
	WaistZM     float64
	FOVYawDeg   float64
	FOVPitchDeg float64
}

func (p Params) withDefaults() Params {
	if p.GridStepM <= 0 {
		p.GridStepM = DefaultGridStepM
	}
	if p.FootZM == 0 {
		p.FootZM = DefaultFootZM
	}
	if p.WaistZM == 0 {
		p.WaistZM = DefaultWaistZM
	}
	if p.FOVYawDeg <= 0 {
		p.FOVYawDeg = FOVYawDeg
	}
	if p.FOVPitchDeg <= 0 {
		p.FOVPitchDeg = FOVPitchDeg
	}
	return p
}

// Compute rasterizes play area coverage for the given stations.
func Compute(area playarea.PlayArea, stations []StationPose, p Params) Result {
	p = p.withDefaults()
	gridStepM, footZM, waistZM := p.GridStepM, p.FootZM, p.WaistZM

	corners := area.CornersM
	minX, maxX := corners[0].X, corners[0].X
	minY, maxY := corners[0].Y, corners[0].Y
	for _, c := range corners {
		minX = math.Min(minX, c.X)
		maxX = math.Max(maxX, c.X)
		minY = math.Min(minY, c.Y)
		maxY = math.Max(maxY, c.Y)
	}

	w := int(math.Ceil((maxX-minX)/gridStepM)) + 1
	if w < 1 {
		w = 1
	}
	h := int(math.Ceil((maxY-minY)/gridStepM)) + 1
	if h < 1 {
		h = 1
	}

	centroid := area.Centroid()
	maxR := 1e-6
	for _, c := range corners {
		maxR = math.Max(maxR, math.Hypot(c.X-centroid.X, c.Y-centroid.Y))
	}

	inside := make([]bool, 0, w*h)
	scoreFoot := make([]int, 0, w*h)
	scoreWaist := make([]int, 0, w*h)

	insideCount := 0
	overlap2Foot := 0
	overlap2Waist := 0
	weightedSum := 0.0
	weightedMax := 0.0

	for yi := 0; yi < h; yi++ {
		y := minY + float64(yi)*gridStepM
		for xi := 0; xi < w; xi++ {
			x := minX + float64(xi)*gridStepM
			inPoly := geometry.PointInPolygon(geometry.Point2{X: x, Y: y}, corners)
			inside = append(inside, inPoly)
			if !inPoly {
				scoreFoot = append(scoreFoot, 0)
				scoreWaist = append(scoreWaist, 0)
				continue
			}
			insideCount++

			footPt := geometry.Vec3{X: x, Y: y, Z: footZM}
			waistPt := geometry.Vec3{X: x, Y: y, Z: waistZM}

			fVis, wVis := 0, 0
			for _, s := range stations {
				if ok, _ := seesPoint(s, footPt, p.FOVYawDeg, p.FOVPitchDeg); ok {
					fVis++
				}
				if ok, _ := seesPoint(s, waistPt, p.FOVYawDeg, p.FOVPitchDeg); ok {
					wVis++
				}
			}
			if fVis > 2 {
				fVis = 2
			}
			if wVis > 2 {
				wVis = 2
			}
			scoreFoot = append(scoreFoot, fVis)
			scoreWaist = append(scoreWaist, wVis)

			if fVis == 2 {
				overlap2Foot++
			}
			if wVis == 2 {
				overlap2Waist++
			}

			r := math.Hypot(x-centroid.X, y-centroid.Y) / maxR
			if r > 1 {
				r = 1
			}
			centerW := (1.0 - r) * (1.0 - r)
			edgeW := 1.0 - centerW
			cellW := 0.6*(0.7*centerW+0.3*edgeW) + 0.4*(0.9*centerW+0.1*edgeW)

			cellScore := 0.6*(float64(fVis)/2.0) + 0.4*(float64(wVis)/2.0)
			weightedSum += cellW * cellScore
			weightedMax += cellW
		}
	}

	overlapPctFoot := 0.0
	overlapPctWaist := 0.0
	if insideCount > 0 {
		overlapPctFoot = 100.0 * float64(overlap2Foot) / float64(insideCount)
		overlapPctWaist = 100.0 * float64(overlap2Waist) / float64(insideCount)
	}
	overall := 0.0
	if weightedMax > 1e-9 {
		overall = 100.0 * (weightedSum / weightedMax)
	}

	return Result{
		GridOriginM:        geometry.Point2{X: minX, Y: minY},
		GridStepM:          gridStepM,
		W:                  w,
		H:                  h,
		InsideMask:         inside,
		ScoreFoot:          scoreFoot,
		ScoreWaist:         scoreWaist,
		OverlapPctFoot:     overlapPctFoot,
		OverlapPctWaist:    overlapPctWaist,
		OverallScore:       overall,
		StationSyncWarning: stationToStationVisibility(stations, p.FOVYawDeg, p.FOVPitchDeg),
	}
}

// StationYawPitchDeg returns the station's own world-frame yaw/pitch,
// derived from its forward vector (used to report aim angle, not to
// evaluate visibility).
func StationYawPitchDeg(station StationPose) (yawDeg, pitchDeg float64) {
	fwd := geometry.ForwardFromRotation(station.Rotation)
	return geometry.YawFromForward(fwd), geometry.PitchFromForward(fwd)
}
