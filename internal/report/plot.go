package report

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

var (
	gainColor  = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	phaseColor = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

// WritePNG renders a two panel Bode plot, gain over phase, on a logarithmic
// frequency axis.
func WritePNG(w io.Writer, rows Rows) error {
	n, err := checkRows(rows)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoData
	}
	for _, f := range rows[0] {
		if !(f > 0) {
			return fmt.Errorf("report: frequency %g cannot go on a log axis", f)
		}
	}

	gain, err := panel(rows[0], rows[1], "Gain (dB)", gainColor)
	if err != nil {
		return err
	}
	phase, err := panel(rows[0], rows[2], "Phase (deg)", phaseColor)
	if err != nil {
		return err
	}
	phase.X.Label.Text = "Frequency (Hz)"

	img := vgimg.New(10*vg.Inch, 8*vg.Inch)
	dc := draw.New(img)
	tiles := draw.Tiles{Rows: 2, Cols: 1, PadY: vg.Centimeter, PadTop: vg.Millimeter * 5, PadBottom: vg.Millimeter * 5}
	canvases := plot.Align([][]*plot.Plot{{gain}, {phase}}, tiles, dc)
	gain.Draw(canvases[0][0])
	phase.Draw(canvases[1][0])

	_, err = vgimg.PngCanvas{Canvas: img}.WriteTo(w)
	return err
}

func panel(xs, ys []float64, label string, c color.Color) (*plot.Plot, error) {
	p := plot.New()
	p.Y.Label.Text = label
	p.X.Scale = plot.LogScale{}
	p.X.Tick.Marker = plot.LogTicks{Prec: -1}
	p.Add(plotter.NewGrid())

	pts := make(plotter.XYs, len(xs))
	for i := range xs {
		pts[i].X, pts[i].Y = xs[i], ys[i]
	}
	line, points, err := plotter.NewLinePoints(pts)
	if err != nil {
		return nil, err
	}
	line.Color = c
	points.Color = c
	points.Radius = vg.Points(2)
	p.Add(line, points)

	if p.X.Min == p.X.Max {
		p.X.Min, p.X.Max = p.X.Min/2, p.X.Max*2
	}
	return p, nil
}
