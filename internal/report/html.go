package report

import (
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// WriteHTML renders gain and phase as two interactive charts sharing a
// logarithmic frequency axis.
func WriteHTML(w io.Writer, title string, rows Rows) error {
	if _, err := checkRows(rows); err != nil {
		return err
	}
	page := components.NewPage()
	page.SetPageTitle(title)
	page.AddCharts(
		echartsPanel(title, "Gain (dB)", rows[0], rows[1]),
		echartsPanel("", "Phase (deg)", rows[0], rows[2]),
	)
	return page.Render(w)
}

func echartsPanel(title, name string, xs, ys []float64) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "1000px", Height: "400px"}),
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "log", Name: "Hz"}),
		charts.WithYAxisOpts(opts.YAxis{Name: name, Scale: opts.Bool(true)}),
	)
	data := make([]opts.LineData, len(xs))
	for i := range xs {
		data[i] = opts.LineData{Value: []float64{xs[i], ys[i]}}
	}
	line.AddSeries(name, data)
	return line
}
