package engine

import (
	"context"
	"fmt"
	"time"

	"perpbot/internal/executor"
	"perpbot/internal/gateway/exchange"
	"perpbot/internal/gateway/notifier"
	"perpbot/internal/logger"
	"perpbot/internal/pkg/circuit"
	"perpbot/internal/signal"
)

const notifyTimeout = 10 * time.Second

func (e *Engine) send(ctx context.Context, msg notifier.Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = e.now()
	}
	if err := e.p.Notifier.SendText(ctx, msg.Markdown()); err != nil {
		logger.Warnf("发送通知失败: %v", err)
	}
}

func (e *Engine) notifyTrade(ctx context.Context, out executor.Outcome) {
	if out.Trade == nil {
		return
	}
	t := out.Trade
	icon, title := "🟢", "开仓"
	switch out.Transition {
	case executor.TransitionFlip:
		icon, title = "🔄", "反手"
	case executor.TransitionRebalance:
		icon, title = "⚖️", "调仓"
	}
	if t.Side == string(exchange.SideShort) && out.Transition == executor.TransitionOpen {
		icon = "🔴"
	}
	lines := []string{
		fmt.Sprintf("信号 %s / %s", t.Signal, t.Confidence),
		fmt.Sprintf("数量 %.4f @ %.2f", t.Amount, t.Price),
		fmt.Sprintf("持仓 %s", out.After),
	}
	if out.Transition == executor.TransitionFlip {
		lines = append(lines, fmt.Sprintf("平仓盈亏 %+.2f USDT", t.PnL))
	}
	prot := []string{
		fmt.Sprintf("止损 %.2f", out.Protection.StopLoss),
		fmt.Sprintf("止盈 %.2f", out.Protection.TakeProfit),
	}
	for _, msg := range out.Protection.Errors {
		prot = append(prot, "失败: "+msg)
	}
	e.send(ctx, notifier.Message{
		Icon:  icon,
		Title: fmt.Sprintf("%s %s", title, e.p.Symbol),
		Sections: []notifier.MessageSection{
			{Title: "成交", Lines: lines},
			{Title: "保护单", Lines: prot},
			{Title: "理由", Lines: []string{t.Reason}},
		},
	})
}

func (e *Engine) notifyFallback(ctx context.Context, sig signal.Signal, cause error) {
	reason := "未知原因"
	if cause != nil {
		reason = cause.Error()
	}
	e.send(ctx, notifier.Message{
		Icon:  "⚠️",
		Title: fmt.Sprintf("%s 使用保守信号", e.p.Symbol),
		Sections: []notifier.MessageSection{
			{Lines: []string{
				fmt.Sprintf("信号 %s", sig),
				"原因 " + reason,
			}},
		},
	})
}

func (e *Engine) onBreakerChange(name string, from, to circuit.State, st circuit.Stats) {
	logger.Warnf("%s: 熔断器 %s -> %s (连续失败=%d)", name, from, to, st.Failures)
	if to != circuit.StateOpen && from != circuit.StateHalfOpen {
		return
	}
	lines := []string{fmt.Sprintf("状态 %s -> %s", from, to), fmt.Sprintf("连续失败 %d", st.Failures)}
	if st.LastError != "" {
		lines = append(lines, "最近错误 "+st.LastError)
	}
	icon := "🛑"
	if to == circuit.StateClosed {
		icon = "✅"
	}
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	e.send(ctx, notifier.Message{
		Icon:     icon,
		Title:    fmt.Sprintf("%s 决策循环熔断", e.p.Symbol),
		Sections: []notifier.MessageSection{{Lines: lines}},
	})
}
