package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/scanline-systems/zonewatch/internal/zone"
)

// passRateWindow is the rolling window, in evaluations, for the
// pass-rate series.
const passRateWindow = 50

// handlePassRateChart renders a rolling pass-rate line over the
// retained evaluation history using go-echarts. Debugging-only
// endpoint, no auth.
// Query params:
//   - window (optional; default 50) rolling window in evaluations
func (ws *WebServer) handlePassRateChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	window := passRateWindow
	if q := r.URL.Query().Get("window"); q != "" {
		if v, err := strconv.Atoi(q); err == nil && v > 0 && v <= 1000 {
			window = v
		}
	}

	history := ws.engine.History()
	if len(history) == 0 {
		ws.writeJSONError(w, http.StatusNotFound, "no evaluations recorded yet")
		return
	}

	xAxis := make([]string, 0, len(history))
	series := make([]opts.LineData, 0, len(history))
	for i, result := range history {
		start := i + 1 - window
		if start < 0 {
			start = 0
		}
		good, decisive := 0, 0
		for _, h := range history[start : i+1] {
			switch h.Overall {
			case zone.VerdictGood:
				good++
				decisive++
			case zone.VerdictBad:
				decisive++
			}
		}
		rate := 0.0
		if decisive > 0 {
			rate = 100 * float64(good) / float64(decisive)
		}
		xAxis = append(xAxis, strconv.FormatUint(result.ScanNumber, 10))
		series = append(series, opts.LineData{Value: rate})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Zone Pass Rate", Theme: "dark", Width: "1200px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Rolling pass rate",
			Subtitle: fmt.Sprintf("window=%d evaluations=%d", window, len(history)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "scan"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "pass rate (%)", Min: 0, Max: 100}),
	)
	line.SetXAxis(xAxis)
	line.AddSeries("pass rate", series, charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}))

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
