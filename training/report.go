package training

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/posturelab/spine-trainer-station/events"
	"github.com/posturelab/spine-trainer-station/stage"
)

// echartsAssetsPrefix points rendered chart pages at the public echarts
// asset bundle.
const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// StageReportRow summarizes one stage of a session.
type StageReportRow struct {
	Stage           int     `json:"stage"`
	Label           string  `json:"label"`
	StartSeconds    float64 `json:"start_seconds"`
	EndSeconds      float64 `json:"end_seconds"`
	DurationSeconds float64 `json:"duration_seconds"`
	Duration        string  `json:"duration"`
	EventCount      int     `json:"event_count"`
	Completed       bool    `json:"completed"`
}

// Report is the per-session training summary behind the report page.
type Report struct {
	SessionID    string           `json:"session_id,omitempty"`
	Rows         []StageReportRow `json:"rows"`
	Progress     float64          `json:"progress"`
	TotalSeconds float64          `json:"total_seconds"`
	TotalEvents  int              `json:"total_events"`
}

// BuildReport derives per-stage start/end/duration rows from a session's
// event history. A stage with no completion event reports 未完成. Progress
// is the completed fraction of the protocol, clamped to [0,1].
func BuildReport(history []events.Event, cfg *stage.Config) Report {
	rep := Report{TotalEvents: len(history)}

	for id := 1; id <= cfg.MaxStages(); id++ {
		row := StageReportRow{Stage: id, Label: cfg.Label(id), Duration: "未完成"}

		first := true
		for _, ev := range history {
			if ev.Stage != id {
				continue
			}
			row.EventCount++
			if first || ev.Time < row.StartSeconds {
				row.StartSeconds = ev.Time
				first = false
			}
			if strings.Contains(ev.Name, "完成") && ev.Time >= row.EndSeconds {
				row.EndSeconds = ev.Time
				row.Completed = true
			}
		}
		if row.Completed {
			row.DurationSeconds = row.EndSeconds - row.StartSeconds
			row.Duration = fmt.Sprintf("%.1fs", row.DurationSeconds)
			rep.Progress += 1
		}
		rep.Rows = append(rep.Rows, row)
	}

	if max := cfg.MaxStages(); max > 0 {
		rep.Progress /= float64(max)
	}
	if rep.Progress < 0 {
		rep.Progress = 0
	}
	if rep.Progress > 1 {
		rep.Progress = 1
	}
	for _, ev := range history {
		if ev.Time > rep.TotalSeconds {
			rep.TotalSeconds = ev.Time
		}
	}
	return rep
}

// RenderReportPage renders the report as a standalone HTML page: a duration
// bar chart, the deviation-over-time lines, and the event marker scatter.
func RenderReportPage(w io.Writer, rep Report, samples []DeviationSample, history []events.Event) error {
	labels := make([]string, 0, len(rep.Rows))
	durations := make([]opts.BarData, 0, len(rep.Rows))
	for _, row := range rep.Rows {
		labels = append(labels, row.Label)
		durations = append(durations, opts.BarData{Value: row.DurationSeconds})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "训练报告", Width: "100%", Height: "420px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "各阶段训练时长", Subtitle: fmt.Sprintf("progress=%.0f%% events=%d", rep.Progress*100, rep.TotalEvents)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(labels).
		AddSeries("时长(s)", durations,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "420px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "偏差曲线", Subtitle: fmt.Sprintf("samples=%d", len(samples))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "deviation"}),
	)
	times := make([]string, 0, len(samples))
	for _, s := range samples {
		times = append(times, s.Time)
	}
	line.SetXAxis(times)
	for _, name := range axisNames(samples) {
		data := make([]opts.LineData, 0, len(samples))
		for _, s := range samples {
			if v, ok := s.Deviations[name]; ok {
				data = append(data, opts.LineData{Value: v})
			} else {
				data = append(data, opts.LineData{Value: nil})
			}
		}
		line.AddSeries(name, data)
	}

	markers := make([]opts.ScatterData, 0, len(history))
	for _, ev := range history {
		markers = append(markers, opts.ScatterData{
			Name:  ev.Name,
			Value: []interface{}{ev.Time, ev.Stage},
		})
	}
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "事件标记", Subtitle: fmt.Sprintf("events=%d", len(history))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "time (s)"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "stage", Min: 0, Max: len(rep.Rows) + 1}),
	)
	scatter.AddSeries("events", markers, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 10}))

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(bar, line, scatter)
	return page.Render(w)
}

func axisNames(samples []DeviationSample) []string {
	seen := make(map[string]bool)
	for _, s := range samples {
		for name := range s.Deviations {
			seen[name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
