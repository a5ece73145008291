package web

import (
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// handleWeeklyChart renders the trailing-week completion counts as a bar
// chart (self-contained HTML page).
func (s *Server) handleWeeklyChart(w http.ResponseWriter, r *http.Request) {
	week := s.core.WeeklyRollup(s.now())
	slotCount := len(s.core.SlotIDs())

	x := make([]string, 0, len(week))
	y := make([]opts.BarData, 0, len(week))
	for _, d := range week {
		x = append(x, fmt.Sprintf("%s %s", d.Day, d.Date[5:]))
		y = append(y, opts.BarData{Value: d.CompletedCount})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Pillbox Weekly", Width: "800px", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Doses Completed",
			Subtitle: fmt.Sprintf("trailing 7 days, %d scheduled per day", slotCount),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Max: float64(slotCount), Name: "slots completed"}),
	)
	bar.SetXAxis(x).AddSeries("completed", y,
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
	)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := bar.Render(w); err != nil {
		logChartError(err)
	}
}
