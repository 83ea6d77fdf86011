// Package historical aggregates previously saved diagnostic sessions into
// a cellwise ok/bad heatmap over a given play area, read-only over
// internal/sessionstore's write-once JSON artifacts.
package historical

import (
	"math"

	"github.com/softlynn/lighthouse-coach/internal/fsutil"
	"github.com/softlynn/lighthouse-coach/internal/geometry"
	"github.com/softlynn/lighthouse-coach/internal/playarea"
	"github.com/softlynn/lighthouse-coach/internal/sessionstore"
)

// Heatmap is a rasterized ok/bad score grid, row-major (index = yi*W+xi).
// A cell's Score is -1 when the cell center falls outside the polygon, 50
// when inside but never observed by any saved session, and otherwise the
// rounded ok/(ok+bad) percentage (0..100).
type Heatmap struct {
	OriginM geometry.Point2
	StepM   float64
	W, H    int
	Score   []int
}

const defaultStepM = 0.25

// Aggregate walks every saved session under root and buckets each sample's
// tracker position into the play area's grid, incrementing an ok or bad
// counter per cell depending on the sample's Ok flag. Sessions that fail to
// decode are skipped (matching the documented SessionDecodeError
// tolerance); this function itself never fails.
func Aggregate(fsys fsutil.FileSystem, root string, area playarea.PlayArea, stepM float64) (Heatmap, error) {
	if stepM <= 0 {
		stepM = defaultStepM
	}

	corners := area.CornersM
	minX, maxX := corners[0].X, corners[0].X
	minY, maxY := corners[0].Y, corners[0].Y
	for _, c := range corners {
		minX = math.Min(minX, c.X)
		maxX = math.Max(maxX, c.X)
		minY = math.Min(minY, c.Y)
		maxY = math.Max(maxY, c.Y)
	}

	w := int((maxX-minX)/stepM) + 1
	if w < 1 {
		w = 1
	}
	h := int((maxY-minY)/stepM) + 1
	if h < 1 {
		h = 1
	}

	ok := make([]int, w*h)
	bad := make([]int, w*h)
	inside := make([]bool, w*h)
	for yi := 0; yi < h; yi++ {
		cy := minY + (float64(yi)+0.5)*stepM
		for xi := 0; xi < w; xi++ {
			cx := minX + (float64(xi)+0.5)*stepM
			idx := yi*w + xi
			inside[idx] = geometry.PointInPolygon(geometry.Point2{X: cx, Y: cy}, corners)
		}
	}

	timestamps, err := sessionstore.List(fsys, root)
	if err != nil {
		return Heatmap{}, nil
	}

	for _, ts := range timestamps {
		artifact, err := sessionstore.Load(fsys, root, ts)
		if err != nil || artifact == nil {
			continue
		}
		for _, sample := range artifact.Samples {
			for _, t := range sample.Trackers {
				if t.Position == nil {
					continue
				}
				xi := int((t.Position.X - minX) / stepM)
				yi := int((t.Position.Y - minY) / stepM)
				if xi < 0 || xi >= w || yi < 0 || yi >= h {
					continue
				}
				idx := yi*w + xi
				if !inside[idx] {
					continue
				}
				if t.Ok {
					ok[idx]++
				} else {
					bad[idx]++
				}
			}
		}
	}

	score := make([]int, w*h)
	for i := range score {
		if !inside[i] {
			score[i] = -1
			continue
		}
		total := ok[i] + bad[i]
		if total == 0 {
			score[i] = 50
			continue
		}
		score[i] = int(math.Round(100.0 * float64(ok[i]) / float64(total)))
	}

	return Heatmap{
		OriginM: geometry.Point2{X: minX, Y: minY},
		StepM:   stepM,
		W:       w,
		H:       h,
		Score:   score,
	}, nil
}
