package poseource

import (
	"errors"
	"testing"

	"github.com/softlynn/lighthouse-coach/internal/geometry"
)

func TestIsTrackingOK(t *testing.T) {
	if IsTrackingOK(nil) {
		t.Error("nil pose should not be OK")
	}

	bad := &Pose{PoseValid: false, TrackingResult: TrackingResultRunningOK}
	if IsTrackingOK(bad) {
		t.Error("invalid pose should not be OK even with Running_OK")
	}

	wrongResult := &Pose{PoseValid: true, TrackingResult: TrackingResultCalibratingInProg}
	if IsTrackingOK(wrongResult) {
		t.Error("non-Running_OK result should not be OK")
	}

	good := &Pose{PoseValid: true, TrackingResult: TrackingResultRunningOK}
	if !IsTrackingOK(good) {
		t.Error("valid Running_OK pose should be OK")
	}
}

func TestMockPoseSource_InitRetrySequence(t *testing.T) {
	mock := NewMockPoseSource()
	mock.QueueInit(ErrRuntimeUnavailable)
	mock.QueueInit(ErrRuntimeUnavailable)
	mock.QueueInit(nil)

	if err := mock.Init(); !errors.Is(err, ErrRuntimeUnavailable) {
		t.Errorf("call 1: got %v", err)
	}
	if err := mock.Init(); !errors.Is(err, ErrRuntimeUnavailable) {
		t.Errorf("call 2: got %v", err)
	}
	if err := mock.Init(); err != nil {
		t.Errorf("call 3: got %v, want nil", err)
	}
	if mock.InitCalls() != 3 {
		t.Errorf("InitCalls() = %d, want 3", mock.InitCalls())
	}
}

func TestMockPoseSource_EnumerateReplaysLastOnceDrained(t *testing.T) {
	mock := NewMockPoseSource()
	devices := []DeviceInfo{{Serial: "LHB-1"}}
	mock.QueueEnumerate(devices, nil)

	got1, err := mock.Enumerate()
	if err != nil || len(got1) != 1 {
		t.Fatalf("call 1: got %v, %v", got1, err)
	}
	got2, err := mock.Enumerate()
	if err != nil || len(got2) != 1 {
		t.Fatalf("call 2 should replay last response: got %v, %v", got2, err)
	}
}

func TestPose_YawDeg(t *testing.T) {
	// A 90-degree yaw rotation about the world Y-ish axis: forward becomes
	// +X after rotating -Z by 90 degrees in the XZ plane.
	rotated := geometry.Mat3{{0, 0, -1}, {0, 1, 0}, {1, 0, 0}}
	p := Pose{Rotation: rotated}
	yaw := p.YawDeg()
	if yaw < -1 || yaw > 1 {
		t.Errorf("expected yaw ~0 facing +X, got %v", yaw)
	}
}
