package engine

import (
	"context"
	"fmt"

	"perpbot/internal/analysis/indicator"
	"perpbot/internal/analysis/regime"
	"perpbot/internal/decision"
	"perpbot/internal/executor"
	"perpbot/internal/gateway/exchange"
	"perpbot/internal/logger"
	"perpbot/internal/market"
	"perpbot/internal/pkg/symbol"
	"perpbot/internal/prompt"
	"perpbot/internal/risk"
	"perpbot/internal/signal"
	"perpbot/internal/sizing"
	"perpbot/internal/store"
	"perpbot/internal/store/jsonstore"
)

// sensed is everything read from the venue at the start of a cycle.
type sensed struct {
	series    indicator.Series
	point     indicator.Point
	price     float64
	changePct float64
	state     regime.State
	trend     indicator.TrendSummary
	balance   exchange.Balance
	balanceOK bool
	position  *exchange.Position
	sentiment *market.Sentiment
}

// CycleResult summarises one RunCycle for callers and tests.
type CycleResult struct {
	Signal  signal.Signal
	Advice  decision.Outcome
	Sizing  sizing.Result
	Outcome executor.Outcome
}

// RunCycle executes one full decision cycle. A market-data failure aborts
// the cycle before any order is sent; a reconcile failure is returned after
// the state document has been refreshed.
func (e *Engine) RunCycle(ctx context.Context) error {
	_, err := e.runCycle(ctx)
	return err
}

func (e *Engine) runCycle(ctx context.Context) (CycleResult, error) {
	var res CycleResult
	if !e.ready {
		if err := e.Setup(ctx); err != nil {
			return res, err
		}
	}
	logger.Infof("========== 执行时间: %s ==========", e.now().UTC().Format("2006-01-02 15:04:05"))

	s, err := e.sense(ctx)
	if err != nil {
		return res, err
	}
	e.p.Metrics.SetPrice(s.price)
	logger.Infof("%s 当前价格: $%.2f (%+.2f%%)", e.p.Symbol, s.price, s.changePct)
	logger.Infof("市场状态: %s (波动率 %.2f%%, 置信度 %.2f)", s.state.Label, s.state.VolatilityPct, s.state.Confidence)

	snap := prompt.Snapshot{
		Symbol:    e.p.Symbol,
		Base:      symbol.Base(e.p.Symbol),
		Timeframe: e.p.Timeframe,
		Price:     s.price,
		ChangePct: s.changePct,
		Series:    s.series,
		Point:     s.point,
		Trend:     s.trend,
		State:     s.state,
		Position:  s.position,
		Sentiment: s.sentiment,
		Hint:      hintFor(s.state),
		Now:       e.now(),
	}
	if last, ok := e.history.Last(); ok {
		snap.LastSignal = &last
	}

	res.Advice = e.p.Decider.Decide(ctx, snap)
	sig := res.Advice.Signal
	res.Signal = sig
	e.p.Metrics.RecordOracleAttempts(res.Advice.Attempts, !sig.IsFallback)
	e.p.Metrics.RecordSignal(string(sig.Action), string(sig.Confidence), sig.IsFallback)
	logger.Infof("交易信号: %s | 理由: %s", sig, sig.Reason)
	e.recordHistory(sig)
	if sig.IsFallback {
		e.notifyFallback(ctx, sig, res.Advice.Err)
	}

	size := 0.0
	if sig.Action.Directional() {
		res.Sizing = e.sizer.Size(sizing.Input{
			Confidence:   sig.Confidence,
			State:        s.state,
			RSI:          s.point.RSI,
			Price:        s.price,
			FreeBalance:  s.balance.Free,
			BalanceKnown: s.balanceOK,
		})
		size = res.Sizing.Contracts
		logger.Infof("仓位计算: %s", res.Sizing)
	}

	out, recErr := e.reconciler.Reconcile(ctx, executor.Desired{
		Signal: sig,
		Size:   size,
		Price:  s.price,
		State:  s.state,
	}, &e.orders)
	res.Outcome = out
	if out.Transition != "" {
		e.p.Metrics.RecordTransition(string(out.Transition))
	}
	if recErr != nil {
		e.p.Metrics.RecordVenueError("reconcile", errorClass(recErr))
		logger.Errorf("交易执行失败 (%s): %v", out.Planned, recErr)
	} else {
		logger.Infof("执行结果: %s", describeOutcome(out))
	}
	if out.Transition.Traded() && !out.Simulated {
		e.notifyTrade(ctx, out)
		if b, err := e.p.Exchange.Balance(ctx); err == nil {
			s.balance, s.balanceOK = b, true
		}
	}

	e.persist(s, sig, out)
	return res, recErr
}

func (e *Engine) sense(ctx context.Context) (sensed, error) {
	var s sensed
	bars, err := exchange.Retry(ctx, e.p.ReadRetry, "获取K线", func(ctx context.Context) ([]market.Candle, error) {
		return e.p.Exchange.Candles(ctx, e.p.Symbol, e.p.Timeframe, e.p.DataPoints)
	})
	if err != nil {
		e.p.Metrics.RecordVenueError("candles", errorClass(err))
		return s, fmt.Errorf("fetch candles: %w", err)
	}
	s.series, err = indicator.Compute(bars)
	if err != nil {
		return s, fmt.Errorf("compute indicators: %w", err)
	}
	s.point, _ = s.series.Latest()
	s.price = s.point.Close
	s.changePct = market.Candles(bars).ChangePct()
	tk, err := exchange.Retry(ctx, e.p.ReadRetry, "获取行情快照", func(ctx context.Context) (exchange.Ticker, error) {
		return e.p.Exchange.Ticker(ctx, e.p.Symbol)
	})
	if err == nil && tk.Last > 0 {
		s.price, s.changePct = tk.Last, tk.ChangePct
	} else if err != nil {
		logger.Warnf("获取行情快照失败, 使用最新K线收盘价: %v", err)
	}
	if s.price <= 0 {
		return s, fmt.Errorf("no usable price for %s", e.p.Symbol)
	}
	s.state = regime.Classify(s.series)
	if s.state.Fallback {
		logger.Warnf("市场状态无法计算, 使用默认状态")
	}
	s.trend = indicator.Trend(s.series)

	b, err := exchange.Retry(ctx, e.p.ReadRetry, "获取账户余额", e.p.Exchange.Balance)
	if err != nil {
		e.p.Metrics.RecordVenueError("balance", errorClass(err))
		logger.Warnf("获取账户余额失败: %v", err)
	} else {
		s.balance, s.balanceOK = b, true
	}
	pos, err := exchange.Retry(ctx, e.p.ReadRetry, "获取持仓", func(ctx context.Context) (*exchange.Position, error) {
		return e.p.Exchange.Position(ctx, e.p.Symbol)
	})
	if err != nil {
		logger.Warnf("获取持仓失败, 提示词中按无持仓处理: %v", err)
	} else {
		s.position = pos
	}
	if e.p.Sentiment != nil {
		if st, ok := e.p.Sentiment.Get(ctx, symbol.Base(e.p.Symbol)); ok {
			s.sentiment = &st
		}
	}
	return s, nil
}

func hintFor(state regime.State) risk.Levels {
	pct := risk.PercentagesFor(state)
	return risk.Levels{SLPct: pct.StopLoss, TPPct: pct.TakeProfit}
}

func (e *Engine) recordHistory(sig signal.Signal) {
	e.history.Push(sig)
	logger.Infof("信号统计: %s (最近%d次中出现%d次)", sig.Action, e.history.Len(), e.history.Count(sig.Action))
	if action, ok := e.history.Streak(); ok {
		logger.Warnf("⚠️ 注意: 连续3次%s信号", action)
	}
}

// persist rewrites the state document and appends an equity point when the
// cycle obtained an account snapshot.
func (e *Engine) persist(s sensed, sig signal.Signal, out executor.Outcome) {
	if e.p.State == nil {
		return
	}
	pos := out.After
	if out.Transition == "" {
		pos = s.position
	}
	if pos != nil {
		e.p.Metrics.SetPosition(string(pos.Side), pos.Size)
	} else {
		e.p.Metrics.SetPosition("", 0)
	}
	err := e.p.State.UpdateState(func(st *jsonstore.State) {
		st.Status = jsonstore.StatusRunning
		st.Instrument.Symbol = e.p.Symbol
		st.Instrument.Timeframe = e.p.Timeframe
		st.Instrument.Price = s.price
		st.Instrument.Change = s.changePct
		if st.Instrument.Mode == "" {
			st.Instrument.Mode = modeLabel(e.p.MarginMode)
		}
		st.Account.Leverage = e.p.Leverage
		if s.balanceOK {
			st.Account.Balance = s.balance.Free
			st.Account.Equity = s.balance.Equity()
		}
		st.Position = pos
		st.Signal = jsonstore.SignalView{
			Signal:     string(sig.Action),
			Confidence: string(sig.Confidence),
			Reason:     sig.Reason,
			StopLoss:   sig.StopLoss,
			TakeProfit: sig.TakeProfit,
			IsFallback: sig.IsFallback,
			Regime:     s.state.Label,
			Timestamp:  sig.Timestamp,
		}
		st.Orders = e.orders
	})
	if err != nil {
		logger.Warnf("保存状态文件失败: %v", err)
	}
	if !s.balanceOK {
		return
	}
	e.p.Metrics.SetEquity(s.balance.Equity())
	if err := e.p.State.AppendEquity(store.EquityPoint{Timestamp: e.now(), Equity: s.balance.Equity()}); err != nil {
		logger.Warnf("保存权益记录失败: %v", err)
	}
}

func describeOutcome(out executor.Outcome) string {
	msg := string(out.Transition)
	if out.Simulated {
		msg += " (模拟)"
	}
	if out.Protection.StopLossOrderID != "" || out.Protection.TakeProfitOrderID != "" {
		msg += fmt.Sprintf(" 止损=%.2f 止盈=%.2f", out.Protection.StopLoss, out.Protection.TakeProfit)
	}
	if len(out.Protection.Errors) > 0 {
		msg += fmt.Sprintf(" 保护单失败=%d", len(out.Protection.Errors))
	}
	if out.Note != "" {
		msg += " | " + out.Note
	}
	return msg
}

func errorClass(err error) string {
	switch {
	case exchange.IsRejected(err):
		return "rejected"
	case exchange.IsTransient(err):
		return "transient"
	default:
		return "cancelled"
	}
}
