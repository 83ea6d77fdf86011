// Package reportexport renders coverage and historical heatmaps to PNG via
// gonum/plot and to standalone interactive HTML scatter charts via
// go-echarts. Both outputs are written as files next to the session
// exports; neither is served over the loopback API, so they can't widen
// the API's fixed-route, no-static-file surface.
package reportexport

import (
	"bytes"
	"fmt"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/softlynn/lighthouse-coach/internal/coverage"
	"github.com/softlynn/lighthouse-coach/internal/fsutil"
	"github.com/softlynn/lighthouse-coach/internal/historical"
)

// scoreGrid adapts a coverage.Result into gonum/plot's plotter.GridXYZ so
// the result can be fed straight into plotter.NewHeatMap without copying
// its cells into an intermediate matrix type.
type scoreGrid struct {
	result  coverage.Result
	byWaist bool
}

func (g scoreGrid) Dims() (c, r int) { return g.result.W, g.result.H }

func (g scoreGrid) X(c int) float64 {
	return g.result.GridOriginM.X + float64(c)*g.result.GridStepM
}

func (g scoreGrid) Y(r int) float64 {
	return g.result.GridOriginM.Y + float64(r)*g.result.GridStepM
}

func (g scoreGrid) Z(c, r int) float64 {
	idx := r*g.result.W + c
	if idx < 0 || idx >= len(g.result.InsideMask) || !g.result.InsideMask[idx] {
		return -1
	}
	if g.byWaist {
		return float64(g.result.ScoreWaist[idx])
	}
	return float64(g.result.ScoreFoot[idx])
}

// historyGrid adapts a historical.Heatmap into plotter.GridXYZ the same way
// scoreGrid adapts a live coverage result. Uncovered-outside cells render as
// -1 so they stand apart from the 0..100 ok-percentage range.
type historyGrid struct {
	heatmap historical.Heatmap
}

func (g historyGrid) Dims() (c, r int) { return g.heatmap.W, g.heatmap.H }

func (g historyGrid) X(c int) float64 {
	return g.heatmap.OriginM.X + (float64(c)+0.5)*g.heatmap.StepM
}

func (g historyGrid) Y(r int) float64 {
	return g.heatmap.OriginM.Y + (float64(r)+0.5)*g.heatmap.StepM
}

func (g historyGrid) Z(c, r int) float64 {
	idx := r*g.heatmap.W + c
	if idx < 0 || idx >= len(g.heatmap.Score) {
		return -1
	}
	return float64(g.heatmap.Score[idx])
}

func renderPNG(grid plotter.GridXYZ, title string, widthIn, heightIn float64) ([]byte, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"

	pal := moreland.SmoothBlueRed().Palette(255)
	p.Add(plotter.NewHeatMap(grid, pal))

	wt, err := p.WriterTo(vg.Length(widthIn)*vg.Inch, vg.Length(heightIn)*vg.Inch, "png")
	if err != nil {
		return nil, fmt.Errorf("render heatmap png: %w", err)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("encode heatmap png: %w", err)
	}
	return buf.Bytes(), nil
}

// WritePNGHeatmap renders result's per-cell score (waist height when
// byWaist, foot height otherwise) as a PNG heatmap at path using a
// blue-to-red diverging palette, matching the 0/1/2-station coverage scale.
func WritePNGHeatmap(fsys fsutil.FileSystem, result coverage.Result, byWaist bool, widthIn, heightIn float64, path string) error {
	label := "Foot-height coverage"
	if byWaist {
		label = "Waist-height coverage"
	}
	png, err := renderPNG(scoreGrid{result: result, byWaist: byWaist}, label, widthIn, heightIn)
	if err != nil {
		return err
	}
	if err := fsys.WriteFile(path, png, 0o644); err != nil {
		return fmt.Errorf("write coverage heatmap: %w", err)
	}
	return nil
}

// WritePNGHistory renders a historical ok/bad heatmap aggregated from saved
// sessions as a PNG at path.
func WritePNGHistory(fsys fsutil.FileSystem, heatmap historical.Heatmap, widthIn, heightIn float64, path string) error {
	png, err := renderPNG(historyGrid{heatmap: heatmap}, "Historical tracking quality", widthIn, heightIn)
	if err != nil {
		return err
	}
	if err := fsys.WriteFile(path, png, 0o644); err != nil {
		return fmt.Errorf("write history heatmap: %w", err)
	}
	return nil
}

// RenderHTMLScatter builds a standalone go-echarts scatter HTML document of
// result's per-cell scores, in the same Scatter+VisualMap idiom used
// elsewhere in the pack for ad hoc debugging visualizations: an
// opts.ScatterData point per rasterized grid cell, colored by score via a
// VisualMap, with no axis scaling beyond a fixed padding around the grid
// extents.
func RenderHTMLScatter(result coverage.Result, byWaist bool, title string) ([]byte, error) {
	grid := scoreGrid{result: result, byWaist: byWaist}

	data := make([]opts.ScatterData, 0, result.W*result.H)
	maxScore := 0.0
	for yi := 0; yi < result.H; yi++ {
		for xi := 0; xi < result.W; xi++ {
			z := grid.Z(xi, yi)
			if z < 0 {
				continue
			}
			x, y := grid.X(xi), grid.Y(yi)
			data = append(data, opts.ScatterData{Value: []interface{}{x, y, z}})
			if z > maxScore {
				maxScore = z
			}
		}
	}
	if maxScore == 0 {
		maxScore = 1
	}

	padX := result.GridStepM*float64(result.W)*0.55 + result.GridStepM
	padY := result.GridStepM*float64(result.H)*0.55 + result.GridStepM
	centerX := result.GridOriginM.X + result.GridStepM*float64(result.W-1)/2
	centerY := result.GridOriginM.Y + result.GridStepM*float64(result.H-1)/2

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("cells=%d", len(data))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: centerX - padX, Max: centerX + padX, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: centerY - padY, Max: centerY + padY, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxScore),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#440154", "#3e4989", "#26828e", "#35b779", "#b5de2b", "#fde725"}},
		}),
	)
	scatter.AddSeries("coverage", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		return nil, fmt.Errorf("render coverage chart: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteHTMLScatter renders result to an HTML scatter document and writes it
// to path through fsys.
func WriteHTMLScatter(fsys fsutil.FileSystem, result coverage.Result, byWaist bool, title, path string) error {
	html, err := RenderHTMLScatter(result, byWaist, title)
	if err != nil {
		return err
	}
	if err := fsys.WriteFile(path, html, 0o644); err != nil {
		return fmt.Errorf("write coverage chart html: %w", err)
	}
	return nil
}
