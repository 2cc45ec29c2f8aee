package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// histogramBins is the default bin count of the lag histogram.
const histogramBins = 40

// handleLagChart renders the recent per-cycle lag as a line chart.
// Positive values are cycles that ran past their deadline.
func (s *Server) handleLagChart(w http.ResponseWriter, r *http.Request) {
	lag := s.loop.LagHistory()
	st := s.loop.Status()

	x := make([]int, len(lag))
	data := make([]opts.LineData, len(lag))
	for i, v := range lag {
		x[i] = i
		data[i] = opts.LineData{Value: v}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Cycle lag", Width: "100%", Height: "480px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Cycle lag", Subtitle: fmt.Sprintf("%s mode=%s frame=%d", st.CarModel, st.Mode, st.Frame)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "lag (ms)"}),
	)
	line.SetXAxis(x).AddSeries("lag", data)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		http.Error(w, fmt.Sprintf("render chart: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleLagHistogram renders the distribution of recent cycle lag as a
// PNG. ?bins= overrides the bin count.
func (s *Server) handleLagHistogram(w http.ResponseWriter, r *http.Request) {
	lag := s.loop.LagHistory()
	if len(lag) == 0 {
		http.Error(w, "no cycles recorded yet", http.StatusNotFound)
		return
	}
	bins := histogramBins
	if b := r.URL.Query().Get("bins"); b != "" {
		if v, err := strconv.Atoi(b); err == nil && v > 0 && v <= 500 {
			bins = v
		}
	}

	png, err := lagHistogramPNG(lag, bins)
	if err != nil {
		http.Error(w, fmt.Sprintf("render histogram: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

func lagHistogramPNG(lag []float64, bins int) ([]byte, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Cycle lag over %d cycles", len(lag))
	p.X.Label.Text = "lag (ms)"
	p.Y.Label.Text = "cycles"

	h, err := plotter.NewHist(plotter.Values(lag), bins)
	if err != nil {
		return nil, err
	}
	h.LineStyle.Width = vg.Points(0.5)
	p.Add(h)

	wt, err := p.WriterTo(8*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
