// Package engine runs the decision loop: one strictly sequential cycle per
// aligned period that senses the market, asks the oracle, sizes the
// position and reconciles the venue.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"perpbot/internal/decision"
	"perpbot/internal/executor"
	"perpbot/internal/gateway/exchange"
	"perpbot/internal/gateway/notifier"
	"perpbot/internal/logger"
	"perpbot/internal/market"
	"perpbot/internal/metrics"
	"perpbot/internal/pkg/circuit"
	"perpbot/internal/prompt"
	"perpbot/internal/risk"
	"perpbot/internal/scheduler"
	"perpbot/internal/signal"
	"perpbot/internal/sizing"
	"perpbot/internal/store"
	"perpbot/internal/store/jsonstore"
)

const (
	breakerThreshold = 5
	breakerTimeout   = 2 * time.Minute
)

// Decider turns a market snapshot into a validated signal.
type Decider interface {
	Decide(ctx context.Context, snap prompt.Snapshot) decision.Outcome
}

// riskAware deciders receive the instrument's risk model once it is known.
type riskAware interface {
	UseRisk(risk.Model)
}

// Reconciler drives the venue toward the desired position.
type Reconciler interface {
	Reconcile(ctx context.Context, d executor.Desired, orders *exchange.ProtectiveOrderSet) (executor.Outcome, error)
}

// SentimentReader returns the latest reading; ok=false means unavailable.
type SentimentReader interface {
	Get(ctx context.Context, token string) (market.Sentiment, bool)
}

type Params struct {
	Symbol     string
	Timeframe  string
	DataPoints int
	Leverage   int
	MarginMode string
	TestMode   bool

	Interval       time.Duration
	Offset         time.Duration
	RunImmediately bool

	Exchange  exchange.Exchange
	Decider   Decider
	Sentiment SentimentReader
	State     *jsonstore.Store
	Journal   store.Journal
	Notifier  notifier.TextNotifier
	Metrics   *metrics.Recorder

	Sizing    sizing.Params
	Reconcile executor.Options
	// ReadRetry governs market and account reads at the start of a cycle.
	ReadRetry exchange.RetryPolicy
	// Reconciler overrides the one built from Exchange during Setup.
	Reconciler Reconciler
}

type Engine struct {
	p Params

	risk       risk.Model
	sizer      *sizing.Sizer
	reconciler Reconciler
	instrument exchange.Instrument
	history    *signal.History
	orders     exchange.ProtectiveOrderSet
	breaker    *circuit.CircuitBreaker
	ready      bool

	now func() time.Time
}

func New(p Params) *Engine {
	if p.Notifier == nil {
		p.Notifier = notifier.Nop{}
	}
	if p.DataPoints <= 0 {
		p.DataPoints = 168
	}
	if p.Interval <= 0 {
		p.Interval = 15 * time.Minute
	}
	if p.ReadRetry.Attempts <= 0 {
		p.ReadRetry = exchange.RetryPolicy{Attempts: 3, Pause: time.Second}
	}
	e := &Engine{
		p:          p,
		reconciler: p.Reconciler,
		history:    signal.NewHistory(signal.HistoryCapacity),
		breaker:    circuit.NewCircuitBreaker("DecisionLoop", breakerThreshold, breakerTimeout),
		now:        time.Now,
	}
	e.breaker.OnChange(e.onBreakerChange)
	return e
}

// History exposes the signal ring for inspection.
func (e *Engine) History() *signal.History { return e.history }

// Setup loads the instrument spec, enforces the account settings and
// writes the initial state document. Test mode skips the account changes.
func (e *Engine) Setup(ctx context.Context) error {
	if e.p.Exchange == nil {
		return errors.New("exchange not configured")
	}
	if e.p.TestMode {
		logger.Infof("测试模式: 跳过账户设置, 仅加载合约规格")
	} else {
		err := e.p.Exchange.Prepare(ctx, exchange.SetupRequest{
			Symbol:     e.p.Symbol,
			Leverage:   e.p.Leverage,
			MarginMode: e.p.MarginMode,
		})
		if err != nil {
			return fmt.Errorf("exchange setup: %w", err)
		}
	}
	inst, err := e.p.Exchange.Instrument(ctx, e.p.Symbol)
	if err != nil {
		return fmt.Errorf("load instrument: %w", err)
	}
	e.instrument = inst
	e.risk = risk.Model{Tick: inst.TickSize, ContractMultiplier: inst.ContractMultiplier}
	if ra, ok := e.p.Decider.(riskAware); ok {
		ra.UseRisk(e.risk)
	}
	sp := e.p.Sizing
	if sp.Leverage <= 0 {
		sp.Leverage = e.p.Leverage
	}
	e.sizer = sizing.New(sp, inst)
	if e.reconciler == nil {
		opts := e.p.Reconcile
		opts.Symbol = e.p.Symbol
		opts.TestMode = e.p.TestMode
		e.reconciler = executor.NewReconciler(e.p.Exchange, e.p.Journal, e.risk, inst, opts)
	}

	if e.p.State != nil {
		base := jsonstore.DefaultState(e.p.Symbol, e.p.Timeframe, modeLabel(e.p.MarginMode))
		base.Account.Leverage = e.p.Leverage
		if err := e.p.State.Init(base); err != nil {
			return fmt.Errorf("init state document: %w", err)
		}
	}
	e.ready = true
	logger.Infof("✅ 初始化完成: %s %s 杠杆=%dx 测试模式=%v", e.p.Symbol, e.p.Timeframe, e.p.Leverage, e.p.TestMode)
	return nil
}

func modeLabel(marginMode string) string {
	if marginMode == "isolated" {
		return "逐仓-单向"
	}
	return "全仓-单向"
}

// Run performs Setup and then one cycle per aligned period until ctx is
// done. A failing or panicking cycle never ends the loop.
func (e *Engine) Run(ctx context.Context) error {
	if !e.ready {
		if err := e.Setup(ctx); err != nil {
			e.setStatus(jsonstore.StatusError)
			return err
		}
	}
	defer e.setStatus(jsonstore.StatusStopped)

	sched := scheduler.NewAlignedScheduler(e.p.Interval, e.p.Offset)
	sched.RunImmediately = e.p.RunImmediately
	err := sched.Run(ctx, e.tick)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (e *Engine) tick(ctx context.Context) {
	if !e.breaker.Allow() {
		logger.Warnf("DecisionLoop: 熔断器打开, 跳过本轮 (剩余冷却 %s)", e.breaker.Remaining().Round(time.Second))
		e.p.Metrics.ObserveCycle("skipped", 0, e.now())
		return
	}
	start := e.now()
	err := e.safeCycle(ctx)
	result := "ok"
	if err != nil {
		result = "error"
		e.breaker.RecordFailure(err)
		logger.Errorf("DecisionLoop: 本轮执行失败: %v", err)
	} else {
		e.breaker.RecordSuccess()
	}
	e.p.Metrics.ObserveCycle(result, e.now().Sub(start), e.now())
}

func (e *Engine) safeCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panic: %v", r)
			logger.Errorf("DecisionLoop panic: %v\n%s", r, debug.Stack())
		}
	}()
	return e.RunCycle(ctx)
}

func (e *Engine) setStatus(status string) {
	if e.p.State == nil {
		return
	}
	if err := e.p.State.SetStatus(status); err != nil {
		logger.Warnf("更新运行状态失败: %v", err)
	}
}
