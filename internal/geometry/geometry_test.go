package geometry

import (
	"math"
	"testing"
)

func approxEqual(t *testing.T, got, want, tol float64, msg string) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %v, want %v", msg, got, want)
	}
}

func TestForwardFromRotation_Identity(t *testing.T) {
	identity := Mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	fwd := ForwardFromRotation(identity)
	approxEqual(t, fwd.X, 0, 1e-9, "x")
	approxEqual(t, fwd.Y, 0, 1e-9, "y")
	approxEqual(t, fwd.Z, -1, 1e-9, "z")
}

func TestYawFromForward_FacingPositiveX(t *testing.T) {
	yaw := YawFromForward(Vec3{X: 1, Y: 0, Z: 0})
	approxEqual(t, yaw, 0, 1e-9, "yaw")
}

func TestYawFromForward_FacingPositiveY(t *testing.T) {
	yaw := YawFromForward(Vec3{X: 0, Y: 1, Z: 0})
	approxEqual(t, yaw, 90, 1e-9, "yaw")
}

func TestLocalYawPitch_PointAhead(t *testing.T) {
	identity := Mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	pos := Vec3{}
	point := Vec3{X: 0, Y: 0, Z: -2}
	yaw, pitch := LocalYawPitch(identity, pos, point)
	approxEqual(t, yaw, 0, 1e-6, "yaw")
	approxEqual(t, pitch, 0, 1e-6, "pitch")
}

func TestLocalYawPitch_PointToTheRight(t *testing.T) {
	identity := Mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	pos := Vec3{}
	point := Vec3{X: 1, Y: 0, Z: -1}
	yaw, _ := LocalYawPitch(identity, pos, point)
	approxEqual(t, yaw, 45, 1e-6, "yaw")
}

func TestPointInPolygon_Square(t *testing.T) {
	square := []Point2{{X: -1, Y: -1}, {X: 1, Y: -1}, {X: 1, Y: 1}, {X: -1, Y: 1}}

	if !PointInPolygon(Point2{X: 0, Y: 0}, square) {
		t.Error("center should be inside")
	}
	if PointInPolygon(Point2{X: 2, Y: 2}, square) {
		t.Error("outside point should not be inside")
	}
}

func TestWrapDeg(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{0, 0},
		{180, 180},
		{190, -170},
		{-190, 170},
		{359, -1},
		{-359, 1},
	}
	for _, c := range cases {
		got := WrapDeg(c.in)
		approxEqual(t, got, c.want, 1e-9, "WrapDeg")
	}
}

func TestVec3_NormDegenerate(t *testing.T) {
	v := Vec3{}
	n := v.Norm()
	if n != (Vec3{}) {
		t.Errorf("degenerate vector should normalize to zero, got %v", n)
	}
}
