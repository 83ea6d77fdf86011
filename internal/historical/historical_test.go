package historical

import (
	"testing"

	"github.com/softlynn/lighthouse-coach/internal/fsutil"
	"github.com/softlynn/lighthouse-coach/internal/geometry"
	"github.com/softlynn/lighthouse-coach/internal/playarea"
	"github.com/softlynn/lighthouse-coach/internal/sessionstore"
)

func squareRoom() playarea.PlayArea {
	return playarea.PlayArea{
		CornersM: []geometry.Point2{
			{X: -1, Y: -1}, {X: 1, Y: -1}, {X: 1, Y: 1}, {X: -1, Y: 1},
		},
		Source: "chaperone",
	}
}

func pos(x, y, z float64) *geometry.Vec3 {
	v := geometry.Vec3{X: x, Y: y, Z: z}
	return &v
}

func TestAggregate_NoSessions(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	hm, err := Aggregate(fsys, "/root", squareRoom(), 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, s := range hm.Score {
		if s != -1 && s != 50 {
			t.Errorf("cell %d: expected -1 (outside) or 50 (uncovered), got %d", i, s)
		}
	}
}

func TestAggregate_OkAndBadSamples(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	artifact := sessionstore.Artifact{
		Timestamp: "20260101_120000",
		PlayArea:  squareRoom(),
		Samples: []sessionstore.Sample{
			{
				TimeS: 0,
				Trackers: map[string]sessionstore.TrackerSample{
					"waist": {Position: pos(0.5, 0.5, 1.0), Ok: true},
				},
			},
			{
				TimeS: 1,
				Trackers: map[string]sessionstore.TrackerSample{
					"waist": {Ok: false},
				},
			},
		},
	}
	if _, err := sessionstore.Save(fsys, "/root", artifact); err != nil {
		t.Fatalf("save: %v", err)
	}

	hm, err := Aggregate(fsys, "/root", squareRoom(), 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	insideCount, populated := 0, 0
	for _, s := range hm.Score {
		if s != -1 {
			insideCount++
		}
		if s != -1 && s != 50 {
			populated++
		}
	}
	if insideCount == 0 {
		t.Fatal("expected at least one inside cell")
	}
	if populated == 0 {
		t.Error("expected at least one cell with recorded observations")
	}
}

func TestAggregate_CorruptSessionSkipped(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	if err := fsys.MkdirAll("/root/sessions", 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := fsys.WriteFile("/root/sessions/20260101_120000.json", []byte("not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	hm, err := Aggregate(fsys, "/root", squareRoom(), 0.5)
	if err != nil {
		t.Fatalf("unexpected error from corrupt session: %v", err)
	}
	for i, s := range hm.Score {
		if s != -1 && s != 50 {
			t.Errorf("cell %d: corrupt session should not contribute data, got %d", i, s)
		}
	}
}
