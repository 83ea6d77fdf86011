// Package playarea holds the play-area polygon type and the default
// fallback used when a runtime can't report chaperone bounds.
package playarea

import "github.com/softlynn/lighthouse-coach/internal/geometry"

// PlayArea is the floor-plane polygon the coverage engine rasterizes
// against, reported in the tracking-space standing universe.
type PlayArea struct {
	CornersM []geometry.Point2 `json:"corners_m"`
	Source   string            `json:"source"` // "chaperone" | "default"
	Warning  string            `json:"warning,omitempty"` // non-empty only when Source == "default"
}

// Centroid returns the arithmetic mean of the polygon's corners.
func (p PlayArea) Centroid() geometry.Point2 {
	if len(p.CornersM) == 0 {
		return geometry.Point2{}
	}
	var sumX, sumY float64
	for _, c := range p.CornersM {
		sumX += c.X
		sumY += c.Y
	}
	n := float64(len(p.CornersM))
	return geometry.Point2{X: sumX / n, Y: sumY / n}
}

// Default returns the 2m x 2m square centered on the origin used when no
// chaperone bounds are available, with a warning describing the fallback.
func Default() PlayArea {
	const half = 1.0
	return PlayArea{
		CornersM: []geometry.Point2{
			{X: -half, Y: -half},
			{X: half, Y: -half},
			{X: half, Y: half},
			{X: -half, Y: half},
		},
		Source:  "default",
		Warning: "Chaperone bounds unavailable; using default 2m x 2m square centered at origin.",
	}
}
