package app

import (
	"fmt"
	"io"
	"os"
	"strings"

	"perpbot/internal/config"
	"perpbot/internal/decision"
	livehttp "perpbot/internal/transport/http/live"
)

// StartupSummary is printed once before the loop starts.
type StartupSummary struct {
	Trading  TradingSummary
	Oracle   OracleSummary
	Schedule string
	Stores   []string
	HTTPAddr string
	Notify   string
}

type TradingSummary struct {
	Exchange   string
	Symbol     string
	Timeframe  string
	Leverage   int
	MarginMode string
	TestMode   bool
	Sizing     string
}

type OracleSummary struct {
	Provider    string
	Model       string
	MaxAttempts int
	Prompts     string
	Sentiment   string
}

func newStartupSummary(cfg *config.Config, venue string, adv *decision.Advisor, srv *livehttp.Server) *StartupSummary {
	s := &StartupSummary{
		Trading: TradingSummary{
			Exchange:   venue,
			Symbol:     cfg.Trading.Symbol,
			Timeframe:  cfg.Trading.Timeframe,
			Leverage:   cfg.Trading.Leverage,
			MarginMode: cfg.Trading.MarginMode,
			TestMode:   cfg.Trading.TestMode,
			Sizing:     "固定仓位",
		},
		Oracle: OracleSummary{
			Provider:    "(保守信号)",
			Model:       cfg.AI.Model,
			MaxAttempts: cfg.AI.MaxAttempts,
			Sentiment:   "关闭",
		},
		Schedule: fmt.Sprintf("每 %s, 偏移 %ds", cfg.Schedule.Interval, cfg.Schedule.OffsetSeconds),
		Stores:   []string{cfg.Store.DataDir},
		HTTPAddr: srv.Addr(),
		Notify:   "关闭",
	}
	if cfg.Sizing.Enabled {
		s.Trading.Sizing = fmt.Sprintf("智能仓位 基础 %.2f USDT, 上限 %.0f%%", cfg.Sizing.BaseUSDTAmount, cfg.Sizing.MaxPositionRatio*100)
	}
	if adv != nil {
		if adv.Provider != nil {
			s.Oracle.Provider = adv.Provider.ID()
		}
		if adv.Prompts != nil {
			s.Oracle.Prompts = adv.Prompts.Source()
		}
	}
	if cfg.Sentiment.Enabled {
		s.Oracle.Sentiment = cfg.Sentiment.Provider
	}
	if p := strings.TrimSpace(cfg.Store.SQLiteMirror); p != "" {
		s.Stores = append(s.Stores, p)
	}
	if p := strings.TrimSpace(cfg.Store.DecisionLogPath); p != "" {
		s.Stores = append(s.Stores, p)
	}
	if cfg.Notify.Telegram.Enabled {
		s.Notify = "Telegram"
	}
	return s
}

func (s *StartupSummary) Print() {
	s.Render(os.Stdout)
}

// Render writes the summary block.
func (s *StartupSummary) Render(w io.Writer) {
	title := "启动配置摘要 (STARTUP SUMMARY)"
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "%*s\n", 40+len(title)/2, title)
	fmt.Fprintln(w, strings.Repeat("=", 80))

	fmt.Fprintln(w, "[交易设置 (TRADING)]")
	fmt.Fprintf(w, "  交易所: %s\n", s.Trading.Exchange)
	fmt.Fprintf(w, "  标的: %s  周期: %s\n", s.Trading.Symbol, s.Trading.Timeframe)
	fmt.Fprintf(w, "  杠杆: %dx  保证金: %s\n", s.Trading.Leverage, s.Trading.MarginMode)
	fmt.Fprintf(w, "  仓位: %s\n", s.Trading.Sizing)
	if s.Trading.TestMode {
		fmt.Fprintln(w, "  ⚠️ 测试模式: 不会真实下单")
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[信号模型 (ORACLE)]")
	fmt.Fprintf(w, "  模型: %s / %s  最多尝试: %d\n", s.Oracle.Provider, s.Oracle.Model, s.Oracle.MaxAttempts)
	fmt.Fprintf(w, "  提示词: %s\n", s.Oracle.Prompts)
	fmt.Fprintf(w, "  情绪数据: %s\n", s.Oracle.Sentiment)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[运行 (RUNTIME)]")
	fmt.Fprintf(w, "  调度: %s\n", s.Schedule)
	fmt.Fprintf(w, "  存储: %s\n", formatList(s.Stores))
	fmt.Fprintf(w, "  状态服务: %s\n", orDash(s.HTTPAddr))
	fmt.Fprintf(w, "  通知: %s\n", s.Notify)
	fmt.Fprintln(w, strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
