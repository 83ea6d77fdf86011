package playspace

import (
	"errors"
	"testing"

	"github.com/softlynn/lighthouse-coach/internal/fsutil"
	"github.com/softlynn/lighthouse-coach/internal/geometry"
	"github.com/softlynn/lighthouse-coach/internal/playarea"
	"github.com/softlynn/lighthouse-coach/internal/poseource"
)

func TestResolve_PropagatesPlayAreaError(t *testing.T) {
	src := poseource.NewMockPoseSource()
	// MockPoseSource has no way to fail PlayArea directly; wrap it in a
	// thin failing adapter so this test exercises the error path without
	// reaching into the mock's internals.
	failing := failingPlayAreaSource{Source: src, err: poseource.ErrRuntimeUnavailable}
	fsys := fsutil.NewMemoryFileSystem()

	_, err := Resolve(failing, fsys)
	if err == nil || !errors.Is(err, poseource.ErrRuntimeUnavailable) {
		t.Fatalf("expected wrapped runtime-unavailable error, got %v", err)
	}
}

func TestResolve_DefaultHasNoSeatedToStanding(t *testing.T) {
	src := poseource.NewMockPoseSource()
	fsys := fsutil.NewMemoryFileSystem()

	resolved, err := Resolve(src, fsys)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Universe != "standing" {
		t.Errorf("Universe = %q, want standing", resolved.Universe)
	}
	if resolved.SeatedToStanding != nil {
		t.Error("expected no seated-to-standing transform from a plain pose source")
	}
	if resolved.PlayArea.Source != "default" {
		t.Errorf("expected default play area, got %q", resolved.PlayArea.Source)
	}
}

func TestResolve_UsesSeatedToStandingWhenSourceImplementsIt(t *testing.T) {
	src := seatedSource{
		MockPoseSource: poseource.NewMockPoseSource(),
		rotation:       geometry.Mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
		position:       geometry.Vec3{X: 0, Y: 0, Z: 1},
	}
	fsys := fsutil.NewMemoryFileSystem()

	resolved, err := Resolve(src, fsys)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.SeatedToStanding == nil {
		t.Fatal("expected a seated-to-standing transform")
	}
	if resolved.SeatedToStanding.Position.Z != 1 {
		t.Errorf("seated-to-standing position Z = %v, want 1", resolved.SeatedToStanding.Position.Z)
	}
}

func TestResolve_NoSteamVRConfigDirWithoutLocalAppData(t *testing.T) {
	t.Setenv("LOCALAPPDATA", "")
	src := poseource.NewMockPoseSource()
	fsys := fsutil.NewMemoryFileSystem()

	resolved, err := Resolve(src, fsys)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.SourceDetail != "default" {
		t.Errorf("SourceDetail = %q, want bare play-area source with no config dir appended", resolved.SourceDetail)
	}
}

// failingPlayAreaSource wraps a Source and forces PlayArea() to fail.
type failingPlayAreaSource struct {
	poseource.Source
	err error
}

func (f failingPlayAreaSource) PlayArea() (playarea.PlayArea, error) {
	return playarea.PlayArea{}, f.err
}

// seatedSource adds a SeatedToStanding accessor on top of the mock.
type seatedSource struct {
	*poseource.MockPoseSource
	rotation geometry.Mat3
	position geometry.Vec3
}

func (s seatedSource) SeatedToStanding() (geometry.Mat3, geometry.Vec3, bool) {
	return s.rotation, s.position, true
}
