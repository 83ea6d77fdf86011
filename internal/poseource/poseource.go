// Package poseource defines the pose source contract: the boundary between
// this engine and whatever VR runtime binding supplies live device poses.
// Binding to a concrete runtime (OpenVR or otherwise) is out of scope here;
// callers provide an implementation of Source and the state engine drives
// it through Init/Enumerate/Shutdown.
package poseource

import (
	"errors"
	"fmt"

	"github.com/softlynn/lighthouse-coach/internal/geometry"
	"github.com/softlynn/lighthouse-coach/internal/playarea"
)

// DeviceClass mirrors OpenVR's ETrackedDeviceClass enumeration, the only
// subset this engine cares about.
type DeviceClass int

const (
	DeviceClassInvalid DeviceClass = iota
	DeviceClassHMD
	DeviceClassController
	DeviceClassGenericTracker
	DeviceClassTrackingReference
	DeviceClassDisplayRedirect
)

func (c DeviceClass) String() string {
	switch c {
	case DeviceClassHMD:
		return "HMD"
	case DeviceClassController:
		return "Controller"
	case DeviceClassGenericTracker:
		return "GenericTracker"
	case DeviceClassTrackingReference:
		return "TrackingReference"
	case DeviceClassDisplayRedirect:
		return "DisplayRedirect"
	default:
		return "Invalid"
	}
}

// TrackingResult mirrors OpenVR's ETrackingResult, again only the values
// this engine distinguishes between.
type TrackingResult int

const (
	TrackingResultUninitialized       TrackingResult = 1
	TrackingResultCalibratingInProg   TrackingResult = 100
	TrackingResultCalibratingOutRange TrackingResult = 101
	TrackingResultRunningOK           TrackingResult = 200
	TrackingResultRunningOutOfRange   TrackingResult = 201
)

func (r TrackingResult) String() string {
	switch r {
	case TrackingResultUninitialized:
		return "Uninitialized"
	case TrackingResultCalibratingInProg:
		return "Calibrating_InProgress"
	case TrackingResultCalibratingOutRange:
		return "Calibrating_OutOfRange"
	case TrackingResultRunningOK:
		return "Running_OK"
	case TrackingResultRunningOutOfRange:
		return "Running_OutOfRange"
	default:
		return fmt.Sprintf("%d", int(r))
	}
}

// Pose is a single device's reported transform for one poll tick.
type Pose struct {
	PositionM      geometry.Vec3
	Rotation       geometry.Mat3
	PoseValid      bool
	TrackingResult TrackingResult
}

// IsTrackingOK reports whether pose represents a usable, currently-tracking
// sample: valid and reporting Running_OK.
func IsTrackingOK(pose *Pose) bool {
	if pose == nil {
		return false
	}
	return pose.PoseValid && pose.TrackingResult == TrackingResultRunningOK
}

// YawDeg returns the device's yaw in degrees in the top-level (world)
// frame, derived from its forward vector.
func (p Pose) YawDeg() float64 {
	return geometry.YawFromForward(geometry.ForwardFromRotation(p.Rotation))
}

// DeviceInfo is one enumerated device and its most recent pose.
type DeviceInfo struct {
	Index       int
	DeviceClass DeviceClass
	Model       string
	Serial      string
	Connected   bool
	Pose        *Pose
}

// ErrRuntimeUnavailable is returned by Init/Enumerate when the backing
// runtime cannot currently be reached — the caller should retry later
// rather than treat it as fatal.
var ErrRuntimeUnavailable = errors.New("pose source runtime unavailable")

// Source is the contract a VR runtime binding must satisfy. Init is called
// repeatedly with a cooldown between attempts until it succeeds; once
// connected, Enumerate is polled at a fixed rate until it returns
// ErrRuntimeUnavailable, at which point the engine calls Shutdown and
// starts reconnecting.
type Source interface {
	// Init attempts to establish a connection to the runtime. Returns
	// ErrRuntimeUnavailable (or a wrapped form of it) if the runtime is not
	// currently reachable.
	Init() error

	// Shutdown releases any resources held by a successful Init.
	Shutdown()

	// Enumerate returns the current snapshot of connected devices and their
	// poses. Returns ErrRuntimeUnavailable if the connection has dropped.
	Enumerate() ([]DeviceInfo, error)

	// PlayArea returns the current play-area polygon.
	PlayArea() (playarea.PlayArea, error)
}

// SeatedToStandingSource is an optional extension a Source may implement
// to report the seated-to-standing transform offset. internal/playspace
// records it as diagnostic metadata; no pose or session is re-projected
// with it.
type SeatedToStandingSource interface {
	SeatedToStanding() (geometry.Mat3, geometry.Vec3, bool)
}
