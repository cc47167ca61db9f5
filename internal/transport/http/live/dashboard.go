package livehttp

import (
	"bytes"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"perpbot/internal/logger"
	"perpbot/internal/store"
)

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorBull          = "#34d399"
	colorBear          = "#f87171"
	colorEquity        = "#3b82f6"

	chartWidth  = "1200px"
	chartHeight = "420px"
)

func (r *Router) handleDashboard(c *gin.Context) {
	view, err := r.loadStatus()
	if err != nil {
		view.Stale = true
	}
	trades, err := r.State.Trades()
	if err != nil {
		logger.Warnf("[dashboard] 读取交易记录失败: %v", err)
	}
	points, err := r.State.Equity()
	if err != nil {
		logger.Warnf("[dashboard] 读取权益记录失败: %v", err)
	}
	html, err := renderDashboard(view, trades, points)
	if err != nil {
		c.String(http.StatusInternalServerError, err.Error())
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", html)
}

func renderDashboard(view StatusView, trades []store.TradeRecord, points []store.EquityPoint) ([]byte, error) {
	page := components.NewPage()
	page.PageTitle = "perpbot"
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(equityChart(view, points), pnlChart(trades))

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func baseInit() opts.Initialization {
	return opts.Initialization{
		Theme:           types.ThemeWesteros,
		Width:           chartWidth,
		Height:          chartHeight,
		BackgroundColor: colorBackground,
	}
}

func statusSubtitle(view StatusView) string {
	st := view.State
	parts := []string{
		fmt.Sprintf("状态 %s", st.Status),
		fmt.Sprintf("价格 %.2f (%+.2f%%)", st.Instrument.Price, st.Instrument.Change),
		fmt.Sprintf("信号 %s/%s", st.Signal.Signal, st.Signal.Confidence),
		fmt.Sprintf("持仓 %s", st.Position),
		fmt.Sprintf("胜率 %.1f%%", st.Performance.WinRate),
	}
	if view.Stale {
		parts = append(parts, "⚠️ 数据已过期")
	}
	return strings.Join(parts, " | ")
}

func equityChart(view StatusView, points []store.EquityPoint) *charts.Line {
	line := charts.NewLine()
	title := "Equity"
	if sym := view.Instrument.Symbol; sym != "" {
		title = fmt.Sprintf("%s %s Equity", sym, view.Instrument.Timeframe)
	}
	line.SetGlobalOptions(
		charts.WithInitializationOpts(baseInit()),
		charts.WithTitleOpts(opts.Title{
			Title:         title,
			Subtitle:      statusSubtitle(view),
			Left:          "left",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", AxisLabel: &opts.AxisLabel{Color: colorTextSecondary}}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	x := make([]string, len(points))
	data := make([]opts.LineData, len(points))
	for i, p := range points {
		x[i] = p.Timestamp.UTC().Format("01-02 15:04")
		data[i] = opts.LineData{Value: round2(p.Equity)}
	}
	line.SetXAxis(x).AddSeries("equity", data,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}),
	)
	return line
}

func pnlChart(trades []store.TradeRecord) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(baseInit()),
		charts.WithTitleOpts(opts.Title{Title: "Trade PnL", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Color: colorTextSecondary}}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Show: opts.Bool(true), Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.15)}},
		}),
	)
	x := make([]string, len(trades))
	data := make([]opts.BarData, len(trades))
	for i, t := range trades {
		x[i] = fmt.Sprintf("%s %s", t.Timestamp.UTC().Format("01-02 15:04"), t.Transition)
		color := colorBull
		if t.PnL < 0 {
			color = colorBear
		}
		data[i] = opts.BarData{Value: round2(t.PnL), ItemStyle: &opts.ItemStyle{Color: color}}
	}
	bar.SetXAxis(x).AddSeries("pnl", data)
	return bar
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
