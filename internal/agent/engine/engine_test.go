package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpbot/internal/decision"
	"perpbot/internal/executor"
	"perpbot/internal/gateway/exchange"
	"perpbot/internal/market"
	"perpbot/internal/pkg/circuit"
	"perpbot/internal/prompt"
	"perpbot/internal/signal"
	"perpbot/internal/sizing"
	"perpbot/internal/store"
	"perpbot/internal/store/jsonstore"
)

type fakeExchange struct {
	bars       []market.Candle
	candlesErr error
	// candleFails fails that many leading Candles calls with a timeout.
	candleFails int
	candleCalls int
	position    *exchange.Position
	balance     exchange.Balance
	prepared    int
}

func (f *fakeExchange) Name() string { return "fake" }
func (f *fakeExchange) Candles(context.Context, string, string, int) ([]market.Candle, error) {
	f.candleCalls++
	if f.candleCalls <= f.candleFails {
		return nil, errors.New("i/o timeout")
	}
	return f.bars, f.candlesErr
}
func (f *fakeExchange) Ticker(context.Context, string) (exchange.Ticker, error) {
	return exchange.Ticker{Last: 50000, ChangePct: 1.2}, nil
}
func (f *fakeExchange) Balance(context.Context) (exchange.Balance, error) { return f.balance, nil }
func (f *fakeExchange) Position(context.Context, string) (*exchange.Position, error) {
	return f.position, nil
}
func (f *fakeExchange) PlaceMarketOrder(context.Context, exchange.OrderRequest) (exchange.OrderResult, error) {
	return exchange.OrderResult{}, errors.New("unexpected order")
}
func (f *fakeExchange) PlaceConditionalOrder(context.Context, exchange.ConditionalRequest) (string, error) {
	return "", errors.New("unexpected order")
}
func (f *fakeExchange) CancelConditionalOrder(context.Context, string, string) error { return nil }
func (f *fakeExchange) ListConditionalOrders(context.Context, string) ([]exchange.ConditionalOrder, error) {
	return nil, nil
}
func (f *fakeExchange) Instrument(context.Context, string) (exchange.Instrument, error) {
	return exchange.Instrument{Symbol: "BTCUSDT", ContractMultiplier: 1, MinQty: 0.01, QtyStep: 0.01, TickSize: 0.1}, nil
}
func (f *fakeExchange) Prepare(context.Context, exchange.SetupRequest) error {
	f.prepared++
	return nil
}

type stubDecider struct {
	sig   signal.Signal
	calls int
	last  prompt.Snapshot
	panic bool
}

func (d *stubDecider) Decide(_ context.Context, snap prompt.Snapshot) decision.Outcome {
	d.calls++
	d.last = snap
	if d.panic {
		panic("boom")
	}
	return decision.Outcome{Signal: d.sig, Attempts: 1}
}

type stubReconciler struct {
	desired []executor.Desired
	out     executor.Outcome
	err     error
}

func (r *stubReconciler) Reconcile(_ context.Context, d executor.Desired, _ *exchange.ProtectiveOrderSet) (executor.Outcome, error) {
	r.desired = append(r.desired, d)
	return r.out, r.err
}

type textSink struct{ msgs []string }

func (s *textSink) SendText(_ context.Context, text string) error {
	s.msgs = append(s.msgs, text)
	return nil
}

func risingBars(n int) []market.Candle {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]market.Candle, n)
	for i := range out {
		c := 48000 + float64(i)*20
		out[i] = market.Candle{
			OpenTime: start.Add(time.Duration(i) * 15 * time.Minute).UnixMilli(),
			Open:     c - 10, High: c + 30, Low: c - 30, Close: c, Volume: 100,
		}
	}
	return out
}

func newEngine(t *testing.T, ex *fakeExchange, dec Decider, rec Reconciler, testMode bool) (*Engine, *jsonstore.Store, *textSink) {
	t.Helper()
	st, err := jsonstore.New(t.TempDir(), jsonstore.Options{})
	require.NoError(t, err)
	sink := &textSink{}
	e := New(Params{
		Symbol: "BTCUSDT", Timeframe: "15m", Leverage: 10, MarginMode: "cross", TestMode: testMode,
		Exchange: ex, Decider: dec, State: st, Journal: st, Notifier: sink,
		Sizing: sizing.DefaultParams(), Reconciler: rec,
		ReadRetry: exchange.RetryPolicy{Attempts: 3, Pause: time.Millisecond},
	})
	e.now = func() time.Time { return time.Date(2026, 1, 3, 0, 15, 0, 0, time.UTC) }
	return e, st, sink
}

func TestRunCycleOpensAndPersists(t *testing.T) {
	ex := &fakeExchange{bars: risingBars(120), balance: exchange.Balance{Free: 1000, Total: 1000}}
	dec := &stubDecider{sig: signal.Signal{Action: signal.Buy, Confidence: signal.High, StopLoss: 49000, TakeProfit: 52500, Reason: "趋势向上"}}
	after := &exchange.Position{Symbol: "BTCUSDT", Side: exchange.SideLong, Size: 0.3, EntryPrice: 50000}
	rec := &stubReconciler{out: executor.Outcome{
		Transition: executor.TransitionOpen, Planned: executor.TransitionOpen, After: after,
		Trade: &store.TradeRecord{Signal: "BUY", Side: "long", Amount: 0.3, Price: 50000, Confidence: "HIGH"},
	}}
	e, st, sink := newEngine(t, ex, dec, rec, false)

	res, err := e.runCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, ex.prepared)
	require.Len(t, rec.desired, 1)
	assert.Greater(t, rec.desired[0].Size, 0.0)
	assert.Equal(t, res.Sizing.Contracts, rec.desired[0].Size)
	assert.Equal(t, 50000.0, rec.desired[0].Price)
	assert.Equal(t, "BTC", dec.last.Base)
	assert.Nil(t, dec.last.LastSignal)
	assert.Greater(t, dec.last.Hint.SLPct, 0.0)

	doc, err := st.LoadState()
	require.NoError(t, err)
	assert.Equal(t, jsonstore.StatusRunning, doc.Status)
	assert.Equal(t, "BUY", doc.Signal.Signal)
	assert.Equal(t, 50000.0, doc.Instrument.Price)
	require.NotNil(t, doc.Position)
	assert.Equal(t, 0.3, doc.Position.Size)
	eq, err := st.Equity()
	require.NoError(t, err)
	assert.Len(t, eq, 1)
	require.Len(t, sink.msgs, 1)
	assert.Contains(t, sink.msgs[0], "开仓 BTCUSDT")

	_, err = e.runCycle(context.Background())
	require.NoError(t, err)
	require.NotNil(t, dec.last.LastSignal)
	assert.Equal(t, signal.Buy, dec.last.LastSignal.Action)
	assert.Equal(t, 2, e.History().Len())
}

func TestHoldIsNotSized(t *testing.T) {
	ex := &fakeExchange{bars: risingBars(80), balance: exchange.Balance{Free: 1000, Total: 1000}}
	dec := &stubDecider{sig: signal.Fallback(50000, time.Now())}
	rec := &stubReconciler{out: executor.Outcome{Transition: executor.TransitionNoop}}
	e, _, sink := newEngine(t, ex, dec, rec, false)

	res, err := e.runCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.0, rec.desired[0].Size)
	assert.Equal(t, sizing.Result{}, res.Sizing)
	require.Len(t, sink.msgs, 1)
	assert.Contains(t, sink.msgs[0], "保守信号")
}

func TestCandleFailureAbortsBeforeDecision(t *testing.T) {
	ex := &fakeExchange{candlesErr: errors.New("timeout")}
	dec := &stubDecider{}
	rec := &stubReconciler{}
	e, _, _ := newEngine(t, ex, dec, rec, false)
	err := e.RunCycle(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, dec.calls)
	assert.Empty(t, rec.desired)
}

func TestTransientCandleFailureIsRetried(t *testing.T) {
	ex := &fakeExchange{bars: risingBars(80), candleFails: 1, balance: exchange.Balance{Free: 1000, Total: 1000}}
	dec := &stubDecider{sig: signal.Fallback(50000, time.Now())}
	rec := &stubReconciler{out: executor.Outcome{Transition: executor.TransitionNoop}}
	e, _, _ := newEngine(t, ex, dec, rec, false)

	require.NoError(t, e.RunCycle(context.Background()))
	assert.Equal(t, 2, ex.candleCalls)
	assert.Equal(t, 1, dec.calls)

	ex = &fakeExchange{candlesErr: &exchange.RejectedError{Op: "klines", Code: -1121, Message: "Invalid symbol."}}
	e, _, _ = newEngine(t, ex, dec, rec, false)
	require.Error(t, e.RunCycle(context.Background()))
	assert.Equal(t, 1, ex.candleCalls)
}

func TestReconcileErrorStillPersists(t *testing.T) {
	ex := &fakeExchange{bars: risingBars(80), balance: exchange.Balance{Free: 1000, Total: 1000}}
	dec := &stubDecider{sig: signal.Signal{Action: signal.Sell, Confidence: signal.Medium, StopLoss: 51000, TakeProfit: 47000}}
	rej := &exchange.RejectedError{Op: "market_order", Code: -2019, Message: "Margin is insufficient."}
	rec := &stubReconciler{out: executor.Outcome{Transition: executor.TransitionOpen}, err: rej}
	e, st, _ := newEngine(t, ex, dec, rec, false)

	err := e.RunCycle(context.Background())
	require.ErrorIs(t, err, rej)
	doc, lerr := st.LoadState()
	require.NoError(t, lerr)
	assert.Equal(t, "SELL", doc.Signal.Signal)
}

func TestTestModeSimulates(t *testing.T) {
	ex := &fakeExchange{bars: risingBars(80), balance: exchange.Balance{Free: 1000, Total: 1000}}
	dec := &stubDecider{sig: signal.Signal{Action: signal.Buy, Confidence: signal.Low, StopLoss: 49000, TakeProfit: 52500}}
	e, _, sink := newEngine(t, ex, dec, nil, true)

	res, err := e.runCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, ex.prepared)
	assert.True(t, res.Outcome.Simulated)
	assert.Equal(t, executor.TransitionOpen, res.Outcome.Transition)
	assert.Empty(t, sink.msgs)
}

func TestTickRecoversPanicAndTripsBreaker(t *testing.T) {
	ex := &fakeExchange{bars: risingBars(80)}
	dec := &stubDecider{panic: true}
	e, _, sink := newEngine(t, ex, dec, &stubReconciler{}, false)
	for i := 0; i < breakerThreshold; i++ {
		assert.NotPanics(t, func() { e.tick(context.Background()) })
	}
	assert.Equal(t, circuit.StateOpen, e.breaker.State())
	assert.Contains(t, e.breaker.Stats().LastError, "cycle panic")
	require.NotEmpty(t, sink.msgs)
	assert.Contains(t, sink.msgs[len(sink.msgs)-1], "决策循环熔断")
	calls := dec.calls
	e.tick(context.Background())
	assert.Equal(t, calls, dec.calls)
}
