package coverage

import (
	"math"
	"testing"

	"github.com/softlynn/lighthouse-coach/internal/geometry"
	"github.com/softlynn/lighthouse-coach/internal/playarea"
)

func squareRoom() playarea.PlayArea {
	return playarea.PlayArea{
		CornersM: []geometry.Point2{
			{X: -1, Y: -1}, {X: 1, Y: -1}, {X: 1, Y: 1}, {X: -1, Y: 1},
		},
		Source: "chaperone",
	}
}

// yawRotationDeg builds a rotation matrix whose forward vector (-Z column,
// see geometry.ForwardFromRotation) points at angle deg from +X in the
// floor plane (X right, Z up, matching this domain's convention), with
// zero pitch and a consistent right-handed local frame.
func yawRotationDeg(deg float64) geometry.Mat3 {
	rad := deg * math.Pi / 180.0
	c, s := math.Cos(rad), math.Sin(rad)
	return geometry.Mat3{
		{s, 0, -c},
		{-c, 0, -s},
		{0, 1, 0},
	}
}

func aimedStation(serial string, pos geometry.Vec3, target geometry.Point2, pitchDeg float64) StationPose {
	yaw := math.Atan2(target.Y-pos.Y, target.X-pos.X) * 180.0 / math.Pi
	rot := yawRotationDeg(yaw)
	// Tilt the local up (column 1) and back (column 2) axes about the local
	// right axis by pitchDeg; a negative pitch aims the forward vector below
	// the horizon.
	p := pitchDeg * math.Pi / 180.0
	cp, sp := math.Cos(p), math.Sin(p)
	for i := 0; i < 3; i++ {
		up, back := rot[i][1], rot[i][2]
		rot[i][1] = cp*up + sp*back
		rot[i][2] = cp*back - sp*up
	}
	return StationPose{Serial: serial, Position: pos, Rotation: rot}
}

func TestCompute_S1_CenteredStations(t *testing.T) {
	area := squareRoom()
	a := aimedStation("A", geometry.Vec3{X: -1.8, Y: -1.8, Z: 2.2}, geometry.Point2{}, -20)
	b := aimedStation("B", geometry.Vec3{X: 1.8, Y: 1.8, Z: 2.2}, geometry.Point2{}, -20)

	result := Compute(area, []StationPose{a, b}, Params{})

	if result.OverlapPctFoot <= 50 {
		t.Errorf("expected strong foot overlap for centered stations, got %v", result.OverlapPctFoot)
	}
	if result.StationSyncWarning != "" {
		t.Errorf("expected no sync warning for mutually-facing stations, got %q", result.StationSyncWarning)
	}
}

func TestCompute_S2_SyncWarningWhenFacingAway(t *testing.T) {
	area := squareRoom()
	a := aimedStation("A", geometry.Vec3{X: -1.8, Y: -1.8, Z: 2.2}, geometry.Point2{}, -20)
	// Station B faces directly away from the room and from Station A: from
	// (1.8, 1.8) the room centre lies at 225°, so B points at 45°.
	bRot := yawRotationDeg(45)
	b := StationPose{Serial: "B", Position: geometry.Vec3{X: 1.8, Y: 1.8, Z: 2.2}, Rotation: bRot}

	result := Compute(area, []StationPose{a, b}, Params{})

	if result.StationSyncWarning == "" {
		t.Error("expected a sync warning when a station faces away")
	}
}

func TestCompute_InsideMaskImpliesZeroScore(t *testing.T) {
	area := squareRoom()
	result := Compute(area, nil, Params{})
	for i, in := range result.InsideMask {
		if !in {
			if result.ScoreFoot[i] != 0 || result.ScoreWaist[i] != 0 {
				t.Fatalf("cell %d outside polygon has nonzero score", i)
			}
		}
	}
}

func TestCompute_SingleStation_NoSyncWarning(t *testing.T) {
	area := squareRoom()
	a := aimedStation("A", geometry.Vec3{X: -1.8, Y: -1.8, Z: 2.2}, geometry.Point2{}, -20)
	result := Compute(area, []StationPose{a}, Params{})
	if result.StationSyncWarning != "" {
		t.Error("sync warning requires exactly two stations")
	}
	if result.OverlapPctFoot != 0 {
		t.Errorf("single station cannot produce overlap==2, got %v", result.OverlapPctFoot)
	}
}

func TestCompute_PercentagesInRange(t *testing.T) {
	area := squareRoom()
	a := aimedStation("A", geometry.Vec3{X: -1.8, Y: -1.8, Z: 2.2}, geometry.Point2{}, -20)
	b := aimedStation("B", geometry.Vec3{X: 1.8, Y: 1.8, Z: 2.2}, geometry.Point2{}, -20)
	result := Compute(area, []StationPose{a, b}, Params{})

	if result.OverlapPctFoot < 0 || result.OverlapPctFoot > 100 {
		t.Errorf("overlap_pct_foot out of range: %v", result.OverlapPctFoot)
	}
	if result.OverlapPctWaist < 0 || result.OverlapPctWaist > 100 {
		t.Errorf("overlap_pct_waist out of range: %v", result.OverlapPctWaist)
	}
	if result.OverallScore < 0 || result.OverallScore > 100 {
		t.Errorf("overall_score out of range: %v", result.OverallScore)
	}
}

func TestCompute_DefaultPlayArea_FullyPopulated(t *testing.T) {
	area := playarea.Default()
	result := Compute(area, nil, Params{})
	anyInside := false
	for _, in := range result.InsideMask {
		if in {
			anyInside = true
			break
		}
	}
	if !anyInside {
		t.Error("default 2x2m play area should populate at least one inside cell")
	}
}
