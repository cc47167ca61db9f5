// Package executor reconciles the venue's position and protective orders
// with the latest validated signal.
package executor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"perpbot/internal/analysis/regime"
	"perpbot/internal/gateway/exchange"
	"perpbot/internal/logger"
	"perpbot/internal/pkg/trading"
	"perpbot/internal/risk"
	"perpbot/internal/signal"
	"perpbot/internal/store"
)

// Transition names the branch the reconciler took.
type Transition string

const (
	TransitionNoop      Transition = "noop"
	TransitionOpen      Transition = "open"
	TransitionFlip      Transition = "flip"
	TransitionRebalance Transition = "rebalance"
	TransitionProtect   Transition = "protect"
	TransitionSkipped   Transition = "skipped"
)

// Traded reports whether the transition places position-changing orders.
func (t Transition) Traded() bool {
	return t == TransitionOpen || t == TransitionFlip || t == TransitionRebalance
}

// ErrFlipUnconfirmed means the close leg of a flip was sent but the venue
// still reported a position after the confirmation window; the open leg
// was not sent.
var ErrFlipUnconfirmed = errors.New("flip close not confirmed, open leg skipped")

// Venue is the slice of the exchange the reconciler drives.
type Venue interface {
	Position(ctx context.Context, symbol string) (*exchange.Position, error)
	exchange.Trader
}

// Desired is what the current cycle wants on the venue.
type Desired struct {
	Signal signal.Signal
	Size   float64
	Price  float64
	State  regime.State
}

// Options are the reconcile thresholds and pauses.
type Options struct {
	Symbol             string
	TestMode           bool
	MinRebalance       float64
	SizeTolerance      float64
	PriceTolerance     float64
	FlipSettle         time.Duration
	FlipConfirmTimeout time.Duration
	FlipPollInterval   time.Duration
	PostTradeSettle    time.Duration
	// ReadAttempts bounds position and order-list reads on transient errors.
	ReadAttempts   int
	ReadRetryPause time.Duration
}

func (o Options) withDefaults() Options {
	if o.MinRebalance <= 0 {
		o.MinRebalance = 0.01
	}
	if o.SizeTolerance <= 0 {
		o.SizeTolerance = 0.01
	}
	if o.PriceTolerance <= 0 {
		o.PriceTolerance = 1
	}
	if o.FlipSettle <= 0 {
		o.FlipSettle = time.Second
	}
	if o.FlipConfirmTimeout <= 0 {
		o.FlipConfirmTimeout = 10 * time.Second
	}
	if o.FlipPollInterval <= 0 {
		o.FlipPollInterval = 500 * time.Millisecond
	}
	if o.PostTradeSettle <= 0 {
		o.PostTradeSettle = 2 * time.Second
	}
	if o.ReadAttempts <= 0 {
		o.ReadAttempts = 3
	}
	if o.ReadRetryPause <= 0 {
		o.ReadRetryPause = time.Second
	}
	return o
}

// Outcome describes one reconcile run.
type Outcome struct {
	Transition Transition
	Planned    Transition
	Simulated  bool
	Before     *exchange.Position
	After      *exchange.Position
	Orders     []exchange.OrderResult
	Protection Protection
	Trade      *store.TradeRecord
	Note       string

	// executed and closed sum the filled quantity of all orders and of the
	// reduce-only ones.
	executed float64
	closed   float64
}

// Reconciler is the execution state machine. It owns no position state:
// every run starts from a fresh venue read.
type Reconciler struct {
	venue      Venue
	journal    store.Journal
	risk       risk.Model
	instrument exchange.Instrument
	opts       Options

	sleep func(context.Context, time.Duration) error
	now   func() time.Time
}

func NewReconciler(v Venue, j store.Journal, rm risk.Model, inst exchange.Instrument, opts Options) *Reconciler {
	return &Reconciler{
		venue:      v,
		journal:    j,
		risk:       rm,
		instrument: inst,
		opts:       opts.withDefaults(),
		sleep:      sleepCtx,
		now:        time.Now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Reconcile reads the live position, picks a transition and executes it.
// orders is the protective-order id cache; it is refreshed from venue
// queries and never trusted on its own.
func (r *Reconciler) Reconcile(ctx context.Context, d Desired, orders *exchange.ProtectiveOrderSet) (Outcome, error) {
	if orders == nil {
		orders = &exchange.ProtectiveOrderSet{}
	}
	pos, err := r.position(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("fetch position: %w", err)
	}
	out := Outcome{Before: pos, After: pos}
	out.Planned = r.plan(d, pos)

	if r.opts.TestMode {
		out.Transition = out.Planned
		out.Simulated = true
		logger.Infof("测试模式 - 仅模拟交易: %s %s size=%.4f 持仓=%s", out.Planned, d.Signal.Action, d.Size, pos)
		return out, nil
	}
	if d.Signal.Action.Directional() && d.Signal.Confidence == signal.Low {
		out.Transition = TransitionSkipped
		out.Note = "低信心信号，跳过执行"
		logger.Warnf("⚠️ 低信心信号，跳过执行: %s", d.Signal)
		if pos != nil {
			// the held position still gets its stop/target checked
			out.Protection = r.ensureProtection(ctx, d, pos, orders, false)
		}
		return out, nil
	}

	out.Transition = out.Planned
	switch out.Planned {
	case TransitionNoop:
		logger.Infof("建议观望且无持仓，不执行交易")
		return out, nil
	case TransitionProtect:
		out.Protection = r.ensureProtection(ctx, d, pos, orders, false)
		return out, nil
	case TransitionOpen:
		err = r.open(ctx, d, &out)
	case TransitionFlip:
		err = r.flip(ctx, d, pos, orders, &out)
	case TransitionRebalance:
		err = r.rebalance(ctx, d, pos, &out)
	}
	if err != nil {
		if len(out.Orders) > 0 {
			// some legs filled: the venue changed even though the plan failed
			logger.Errorf("❌ %s 仅部分执行 (%d 笔成交): %v", out.Transition, len(out.Orders), err)
			r.afterTrade(ctx, d, orders, &out, true)
		}
		return out, err
	}
	r.afterTrade(ctx, d, orders, &out, false)
	return out, nil
}

func (r *Reconciler) readPolicy() exchange.RetryPolicy {
	return exchange.RetryPolicy{Attempts: r.opts.ReadAttempts, Pause: r.opts.ReadRetryPause}
}

func (r *Reconciler) position(ctx context.Context) (*exchange.Position, error) {
	return exchange.Retry(ctx, r.readPolicy(), "获取持仓", func(ctx context.Context) (*exchange.Position, error) {
		return r.venue.Position(ctx, r.opts.Symbol)
	})
}

func wantSide(a signal.Action) exchange.Side {
	if a == signal.Sell {
		return exchange.SideShort
	}
	return exchange.SideLong
}

func (r *Reconciler) plan(d Desired, pos *exchange.Position) Transition {
	switch d.Signal.Action {
	case signal.Buy, signal.Sell:
		if pos == nil {
			return TransitionOpen
		}
		if pos.Side != wantSide(d.Signal.Action) {
			return TransitionFlip
		}
		if math.Abs(d.Size-pos.Size) < r.opts.MinRebalance {
			return TransitionProtect
		}
		return TransitionRebalance
	default:
		if pos == nil {
			return TransitionNoop
		}
		return TransitionProtect
	}
}

func (r *Reconciler) place(ctx context.Context, side exchange.OrderSide, qty float64, reduceOnly bool, out *Outcome) error {
	qty = r.quantity(qty)
	res, err := r.venue.PlaceMarketOrder(ctx, exchange.OrderRequest{
		Symbol:     r.opts.Symbol,
		Side:       side,
		Quantity:   qty,
		ReduceOnly: reduceOnly,
		Tag:        newTag(),
	})
	if err != nil {
		return fmt.Errorf("market %s %.4f reduce_only=%v: %w", side, qty, reduceOnly, err)
	}
	out.Orders = append(out.Orders, res)
	filled := res.FilledQty
	if filled <= 0 {
		filled = qty
	}
	out.executed += filled
	if reduceOnly {
		out.closed += filled
	}
	return nil
}

func (r *Reconciler) quantity(q float64) float64 {
	step := r.instrument.QtyStep
	if step <= 0 {
		step = 0.01
	}
	return trading.RoundToStep(q, step)
}

func (r *Reconciler) open(ctx context.Context, d Desired, out *Outcome) error {
	side := wantSide(d.Signal.Action)
	logger.Infof("开%s仓 %.4f 张...", sideName(side), d.Size)
	return r.place(ctx, side.OpenOrder(), d.Size, false, out)
}

func (r *Reconciler) flip(ctx context.Context, d Desired, pos *exchange.Position, orders *exchange.ProtectiveOrderSet, out *Outcome) error {
	side := wantSide(d.Signal.Action)
	logger.Infof("平%s仓 %.4f 张并开%s仓 %.4f 张...", sideName(pos.Side), pos.Size, sideName(side), d.Size)
	// old protective orders reference the closing side and size
	if err := r.cancelProtection(ctx, orders); err != nil {
		out.Note = "旧止盈止损订单未确认取消, 未执行反手"
		return err
	}
	if err := r.place(ctx, pos.Side.CloseOrder(), pos.Size, true, out); err != nil {
		return err
	}
	if err := r.sleep(ctx, r.opts.FlipSettle); err != nil {
		return err
	}
	if err := r.waitFlat(ctx); err != nil {
		out.Note = err.Error()
		return err
	}
	return r.place(ctx, side.OpenOrder(), d.Size, false, out)
}

// waitFlat polls until the venue reports no position.
func (r *Reconciler) waitFlat(ctx context.Context) error {
	deadline := r.now().Add(r.opts.FlipConfirmTimeout)
	for {
		pos, err := r.venue.Position(ctx, r.opts.Symbol)
		if err == nil && pos == nil {
			return nil
		}
		if err != nil {
			logger.Warnf("确认平仓状态失败: %v", err)
		}
		if !r.now().Before(deadline) {
			return ErrFlipUnconfirmed
		}
		if err := r.sleep(ctx, r.opts.FlipPollInterval); err != nil {
			return err
		}
	}
}

func (r *Reconciler) rebalance(ctx context.Context, d Desired, pos *exchange.Position, out *Outcome) error {
	delta := d.Size - pos.Size
	if delta > 0 {
		logger.Infof("%s仓加仓 %.4f 张 (当前:%.4f → 目标:%.4f)", sideName(pos.Side), delta, pos.Size, d.Size)
		return r.place(ctx, pos.Side.OpenOrder(), delta, false, out)
	}
	logger.Infof("%s仓减仓 %.4f 张 (当前:%.4f → 目标:%.4f)", sideName(pos.Side), -delta, pos.Size, d.Size)
	return r.place(ctx, pos.Side.CloseOrder(), -delta, true, out)
}

// afterTrade re-reads the settled position, forces fresh protection and
// journals the trade. Failures here never undo the executed orders. partial
// marks a transition that failed after some orders filled.
func (r *Reconciler) afterTrade(ctx context.Context, d Desired, orders *exchange.ProtectiveOrderSet, out *Outcome, partial bool) {
	if !partial {
		logger.Infof("智能交易执行成功: %s", out.Transition)
	}
	if err := r.sleep(ctx, r.opts.PostTradeSettle); err != nil {
		logger.Warnf("等待成交结算被中断: %v", err)
	}
	fresh, err := r.position(ctx)
	if err != nil {
		logger.Warnf("交易后获取持仓失败, 止盈止损留待下个周期: %v", err)
	} else {
		out.After = fresh
		logger.Infof("更新后持仓: %s", fresh)
		if fresh != nil {
			out.Protection = r.ensureProtection(ctx, d, fresh, orders, true)
		} else {
			orders.Clear()
		}
	}

	rec := r.tradeRecord(d, out)
	if partial {
		rec.Transition += "_partial"
		rec.Amount = out.executed
	}
	out.Trade = &rec
	if r.journal == nil {
		return
	}
	if err := r.journal.AppendTrade(ctx, rec); err != nil {
		logger.Warnf("保存交易记录失败: %v", err)
	}
}

func (r *Reconciler) tradeRecord(d Desired, out *Outcome) store.TradeRecord {
	rec := store.TradeRecord{
		ID:         uuid.NewString(),
		Timestamp:  r.now(),
		Symbol:     r.opts.Symbol,
		Signal:     string(d.Signal.Action),
		Transition: string(out.Transition),
		Side:       string(wantSide(d.Signal.Action)),
		Price:      d.Price,
		Amount:     d.Size,
		Confidence: string(d.Signal.Confidence),
		Reason:     d.Signal.Reason,
		PnL:        r.realisedPnL(out.Before, out.closed, d.Price),
	}
	for _, o := range out.Orders {
		if o.OrderID != "" {
			rec.OrderIDs = append(rec.OrderIDs, o.OrderID)
		}
	}
	return rec
}

// realisedPnL estimates PnL of the quantity closed by reduce-only orders.
func (r *Reconciler) realisedPnL(before *exchange.Position, closed, price float64) float64 {
	if before == nil || closed <= 0 {
		return 0
	}
	closed = math.Min(closed, before.Size)
	cm := r.instrument.ContractMultiplier
	if cm <= 0 {
		cm = 1
	}
	diff := price - before.EntryPrice
	if before.Side == exchange.SideShort {
		diff = -diff
	}
	return diff * closed * cm
}

func sideName(s exchange.Side) string {
	if s == exchange.SideShort {
		return "空"
	}
	return "多"
}

// newTag builds a client order id within the venue's 36 character limit.
func newTag() string {
	return "pb" + strings.ReplaceAll(uuid.NewString(), "-", "")[:22]
}
