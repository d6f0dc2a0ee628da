package report

import (
	"image/color"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var (
	orangeRed = color.RGBA{R: 255, G: 69, A: 255}
	purple    = color.RGBA{R: 128, B: 128, A: 255}
)

// SavePlot renders a curve as a PNG line chart with a fixed y range.
func SavePlot(path, title, xLabel, yLabel string, curve plotter.XYs, yMin, yMax float64, c color.Color) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xLabel
	p.Y.Label.Text = yLabel
	p.Add(plotter.NewGrid())

	if len(curve) > 0 {
		line, err := plotter.NewLine(curve)
		if err != nil {
			return errors.Wrap(err, "plot line")
		}
		line.Color = c
		line.Width = vg.Points(1.5)
		p.Add(line)
	}
	p.Y.Min, p.Y.Max = yMin, yMax

	if err := p.Save(8*vg.Inch, 3*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "save plot %s", path)
	}
	return nil
}
