package monitor

import (
	"bytes"
	"fmt"
	"image/color"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/depthfusion/internal/fusion/pipeline"
)

// handleEnergyChart renders the alignment energy of recent passes as an
// HTML line chart. Lost frames are marked on a second series.
func (ws *WebServer) handleEnergyChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	limit, ok := queryLimit(r, defaultHistoryLimit, maxHistoryLimit)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "invalid 'limit' parameter")
		return
	}
	buf, err := renderEnergyChart(ws.recentHistory(limit))
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

func renderEnergyChart(recs []pipeline.PassRecord) (*bytes.Buffer, error) {
	x := make([]string, 0, len(recs))
	energy := make([]opts.LineData, 0, len(recs))
	lost := make([]opts.LineData, 0, len(recs))
	for _, rec := range recs {
		x = append(x, strconv.FormatUint(rec.Sequence, 10))
		energy = append(energy, opts.LineData{Value: rec.Energy})
		if rec.Phase == "lost" {
			lost = append(lost, opts.LineData{Value: rec.Energy})
		} else {
			lost = append(lost, opts.LineData{Value: "-"})
		}
	}

	subtitle := "no passes yet"
	if n := len(recs); n > 0 {
		subtitle = fmt.Sprintf("frames %d-%d", recs[0].Sequence, recs[n-1].Sequence)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Alignment energy", Theme: "dark", Width: "1200px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: "Alignment energy", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "frame", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "energy", NameLocation: "middle", NameGap: 40}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	line.SetXAxis(x).
		AddSeries("energy", energy).
		AddSeries("lost", lost, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(true)}))

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		return nil, err
	}
	return &buf, nil
}

// handleTrajectoryPlot draws the camera path seen from above (x against z).
func (ws *WebServer) handleTrajectoryPlot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	limit, ok := queryLimit(r, defaultHistoryLimit, maxHistoryLimit)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "invalid 'limit' parameter")
		return
	}
	p, err := trajectoryPlot(ws.recentHistory(limit))
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to build plot: %v", err))
		return
	}
	wt, err := p.WriterTo(8*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	writePNG(w, buf.Bytes())
}

func trajectoryPlot(recs []pipeline.PassRecord) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "Camera trajectory"
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Z (m)"
	p.Add(plotter.NewGrid())

	tracked := make(plotter.XYs, 0, len(recs))
	lost := make(plotter.XYs, 0)
	for _, rec := range recs {
		t := rec.Pose.Translation()
		pt := plotter.XY{X: t[0], Y: t[2]}
		if rec.Phase == "lost" {
			lost = append(lost, pt)
			continue
		}
		tracked = append(tracked, pt)
	}

	if len(tracked) > 1 {
		l, err := plotter.NewLine(tracked)
		if err != nil {
			return nil, err
		}
		l.Width = vg.Points(1)
		l.Color = color.RGBA{R: 38, G: 130, B: 142, A: 255}
		p.Add(l)
		p.Legend.Add("tracked", l)
	}
	if len(lost) > 0 {
		s, err := plotter.NewScatter(lost)
		if err != nil {
			return nil, err
		}
		s.GlyphStyle.Color = color.RGBA{R: 220, G: 60, B: 40, A: 255}
		p.Add(s)
		p.Legend.Add("lost", s)
	}
	return p, nil
}
