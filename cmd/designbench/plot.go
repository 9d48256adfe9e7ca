package main

import (
	"image/color"
	"math"
	"os"
	"path/filepath"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// plotScatter writes a PNG of oracle predictions (blue) against true scores,
// with the identity line (grey) for reference.
func plotScatter(path, title string, identity, points plotter.XYs) error {
	p := plot.New()
	p.Title.Text = title + ": predicted vs true score"
	p.X.Label.Text = "true score"
	p.Y.Label.Text = "predicted score"

	line, err := plotter.NewLine(identity)
	if err != nil {
		return err
	}
	line.Color = color.RGBA{R: 120, G: 120, B: 120, A: 180}
	line.Width = vg.Points(0.8)
	p.Add(line)
	p.Legend.Add("y = x", line)

	sc, err := plotter.NewScatter(points)
	if err != nil {
		return err
	}
	sc.GlyphStyle.Color = color.RGBA{R: 20, G: 80, B: 200, A: 160}
	sc.GlyphStyle.Radius = vg.Points(1.8)
	p.Add(sc)
	p.Legend.Add("oracle", sc)

	p.Add(plotter.NewGrid())
	xmin, xmax, ymin, ymax := autoRange(append(append(plotter.XYs{}, identity...), points...))
	p.X.Min, p.X.Max = xmin, xmax
	p.Y.Min, p.Y.Max = ymin, ymax

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return p.Save(6*vg.Inch, 6*vg.Inch, path)
}

// autoRange computes padded min/max for X and Y for a set of points.
func autoRange(xs plotter.XYs) (xmin, xmax, ymin, ymax float64) {
	if len(xs) == 0 {
		return -1, 1, -1, 1
	}
	xmin, xmax = math.Inf(1), math.Inf(-1)
	ymin, ymax = math.Inf(1), math.Inf(-1)
	for _, p := range xs {
		xmin, xmax = math.Min(xmin, p.X), math.Max(xmax, p.X)
		ymin, ymax = math.Min(ymin, p.Y), math.Max(ymax, p.Y)
	}
	padx := (xmax - xmin) * 0.06
	pady := (ymax - ymin) * 0.06
	if padx == 0 {
		padx = 1.0
	}
	if pady == 0 {
		pady = 1.0
	}
	return xmin - padx, xmax + padx, ymin - pady, ymax + pady
}

// quantiles returns the linearly interpolated quantiles ps of v. v is sorted
// in place.
func quantiles(v []float64, ps ...float64) []float64 {
	sort.Float64s(v)
	out := make([]float64, len(ps))
	for i, p := range ps {
		out[i] = stat.Quantile(p, stat.LinInterp, v, nil)
	}
	return out
}
