package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpbot/internal/analysis/regime"
	"perpbot/internal/gateway/exchange"
	"perpbot/internal/risk"
	"perpbot/internal/signal"
	"perpbot/internal/store"
)

// fakeVenue keeps a one-instrument book and logs every call.
type fakeVenue struct {
	pos        *exchange.Position
	orders     []exchange.ConditionalOrder
	calls      []string
	nextID     int
	price      float64
	stickyPos  bool
	placeErr   error
	condErr    error
	listErr    error
	cancelErr  error
	positionFn func() (*exchange.Position, error)
	// marketFails fails the n-th market order (1-based).
	marketFails map[int]error
	markets     int
}

func (f *fakeVenue) id() string {
	f.nextID++
	return fmt.Sprintf("o%d", f.nextID)
}

func (f *fakeVenue) Position(_ context.Context, _ string) (*exchange.Position, error) {
	f.calls = append(f.calls, "position")
	if f.positionFn != nil {
		return f.positionFn()
	}
	if f.pos == nil {
		return nil, nil
	}
	cp := *f.pos
	return &cp, nil
}

func (f *fakeVenue) PlaceMarketOrder(_ context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	f.calls = append(f.calls, fmt.Sprintf("market %s %.2f reduce=%v", req.Side, req.Quantity, req.ReduceOnly))
	f.markets++
	if err := f.marketFails[f.markets]; err != nil {
		return exchange.OrderResult{}, err
	}
	if f.placeErr != nil {
		return exchange.OrderResult{}, f.placeErr
	}
	f.apply(req)
	return exchange.OrderResult{OrderID: f.id(), FilledQty: req.Quantity, AvgPrice: f.price}, nil
}

func (f *fakeVenue) apply(req exchange.OrderRequest) {
	if f.stickyPos {
		return
	}
	if f.pos == nil {
		side := exchange.SideLong
		if req.Side == exchange.OrderSell {
			side = exchange.SideShort
		}
		f.pos = &exchange.Position{Side: side, Size: req.Quantity, EntryPrice: f.price}
		return
	}
	if req.Side == f.pos.Side.OpenOrder() {
		f.pos.Size += req.Quantity
		return
	}
	f.pos.Size -= req.Quantity
	if f.pos.Size <= 1e-9 {
		f.pos = nil
	}
}

func (f *fakeVenue) PlaceConditionalOrder(_ context.Context, req exchange.ConditionalRequest) (string, error) {
	f.calls = append(f.calls, fmt.Sprintf("conditional %s %s %.2f @%.2f", req.Kind, req.Side, req.Quantity, req.TriggerPrice))
	if f.condErr != nil {
		return "", f.condErr
	}
	id := f.id()
	f.orders = append(f.orders, exchange.ConditionalOrder{
		ID: id, Kind: req.Kind, Side: req.Side, Quantity: req.Quantity, TriggerPrice: req.TriggerPrice, ReduceOnly: true,
	})
	return id, nil
}

func (f *fakeVenue) CancelConditionalOrder(_ context.Context, _ string, id string) error {
	f.calls = append(f.calls, "cancel "+id)
	if f.cancelErr != nil {
		return f.cancelErr
	}
	for i, o := range f.orders {
		if o.ID == id {
			f.orders = append(f.orders[:i], f.orders[i+1:]...)
			return nil
		}
	}
	return &exchange.RejectedError{Op: "cancel", Code: -2011, Message: "Unknown order sent."}
}

func (f *fakeVenue) ListConditionalOrders(_ context.Context, _ string) ([]exchange.ConditionalOrder, error) {
	f.calls = append(f.calls, "list")
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]exchange.ConditionalOrder(nil), f.orders...), nil
}

func (f *fakeVenue) mutations() []string {
	var out []string
	for _, c := range f.calls {
		if c == "position" || c == "list" {
			continue
		}
		out = append(out, c)
	}
	return out
}

type memJournal struct{ trades []store.TradeRecord }

func (m *memJournal) AppendTrade(_ context.Context, rec store.TradeRecord) error {
	m.trades = append(m.trades, rec)
	return nil
}

var btcPerp = exchange.Instrument{Symbol: "BTCUSDT", ContractMultiplier: 0.01, MinQty: 0.01, QtyStep: 0.01, TickSize: 0.01}

func newTestReconciler(v *fakeVenue, j store.Journal, opts Options) *Reconciler {
	opts.Symbol = "BTCUSDT"
	opts.ReadRetryPause = time.Millisecond
	r := NewReconciler(v, j, risk.Model{Tick: 0.01, ContractMultiplier: 0.01}, btcPerp, opts)
	r.sleep = func(context.Context, time.Duration) error { return nil }
	return r
}

func normalState() regime.State {
	return regime.State{Label: regime.WeakTrend, Trend: regime.WeakTrend, VolatilityPct: 2}
}

func buyHigh() Desired {
	return Desired{
		Signal: signal.Signal{Action: signal.Buy, Reason: "趋势向上", StopLoss: 49000, TakeProfit: 52500, Confidence: signal.High},
		Size:   0.30,
		Price:  50000,
		State:  normalState(),
	}
}

func TestOpenFromFlatThenProtectAndJournal(t *testing.T) {
	v := &fakeVenue{price: 50000}
	j := &memJournal{}
	r := newTestReconciler(v, j, Options{})
	orders := &exchange.ProtectiveOrderSet{}

	out, err := r.Reconcile(context.Background(), buyHigh(), orders)
	require.NoError(t, err)
	assert.Equal(t, TransitionOpen, out.Transition)
	assert.Equal(t, []string{
		"market BUY 0.30 reduce=false",
		"conditional stop_loss SELL 0.30 @49000.00",
		"conditional take_profit SELL 0.30 @52500.00",
	}, v.mutations())

	require.Len(t, j.trades, 1)
	assert.Equal(t, "BUY", j.trades[0].Signal)
	assert.Equal(t, 0.30, j.trades[0].Amount)
	assert.Equal(t, 0.0, j.trades[0].PnL)
	assert.NotEmpty(t, orders.StopLossOrderID)
	assert.NotEmpty(t, orders.TakeProfitOrderID)
	require.NotNil(t, out.After)
	assert.Equal(t, exchange.SideLong, out.After.Side)
}

func TestSecondRunIsIdempotent(t *testing.T) {
	v := &fakeVenue{price: 50000}
	j := &memJournal{}
	r := newTestReconciler(v, j, Options{})
	orders := &exchange.ProtectiveOrderSet{}

	_, err := r.Reconcile(context.Background(), buyHigh(), orders)
	require.NoError(t, err)
	before := len(v.mutations())

	// a cold cache must not matter: the venue is queried
	orders = &exchange.ProtectiveOrderSet{}
	out, err := r.Reconcile(context.Background(), buyHigh(), orders)
	require.NoError(t, err)
	assert.Equal(t, TransitionProtect, out.Transition)
	assert.True(t, out.Protection.Existing)
	assert.Len(t, v.mutations(), before)
	assert.Len(t, j.trades, 1)
	assert.NotEmpty(t, orders.StopLossOrderID)
}

func TestFlipCancelsClosesThenOpens(t *testing.T) {
	v := &fakeVenue{
		price: 50000,
		pos:   &exchange.Position{Side: exchange.SideShort, Size: 0.2, EntryPrice: 51000},
		orders: []exchange.ConditionalOrder{
			{ID: "sl-old", Kind: exchange.KindStopLoss, Side: exchange.OrderBuy, Quantity: 0.2, TriggerPrice: 52000},
			{ID: "tp-old", Kind: exchange.KindTakeProfit, Side: exchange.OrderBuy, Quantity: 0.2, TriggerPrice: 48000},
		},
		nextID: 10,
	}
	j := &memJournal{}
	r := newTestReconciler(v, j, Options{})

	out, err := r.Reconcile(context.Background(), buyHigh(), &exchange.ProtectiveOrderSet{StopLossOrderID: "sl-old"})
	require.NoError(t, err)
	assert.Equal(t, TransitionFlip, out.Transition)
	assert.Equal(t, []string{
		"cancel sl-old",
		"cancel tp-old",
		"market BUY 0.20 reduce=true",
		"market BUY 0.30 reduce=false",
		"conditional stop_loss SELL 0.30 @49000.00",
		"conditional take_profit SELL 0.30 @52500.00",
	}, v.mutations())

	require.Len(t, j.trades, 1)
	// short closed from 51000 at 50000: 1000 x 0.2 x 0.01
	assert.InDelta(t, 2.0, j.trades[0].PnL, 1e-9)
}

func TestFlipUnconfirmedDoesNotOpen(t *testing.T) {
	v := &fakeVenue{
		price:     50000,
		pos:       &exchange.Position{Side: exchange.SideShort, Size: 0.2, EntryPrice: 51000},
		stickyPos: true,
	}
	j := &memJournal{}
	r := newTestReconciler(v, j, Options{FlipConfirmTimeout: 3 * time.Second, FlipPollInterval: time.Second})
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }
	r.sleep = func(_ context.Context, d time.Duration) error {
		clock = clock.Add(d)
		return nil
	}

	orders := &exchange.ProtectiveOrderSet{}
	out, err := r.Reconcile(context.Background(), buyHigh(), orders)
	assert.ErrorIs(t, err, ErrFlipUnconfirmed)
	muts := v.mutations()
	require.Len(t, muts, 3)
	assert.Equal(t, "market BUY 0.20 reduce=true", muts[0])
	// the short is still there, so it gets re-protected
	assert.True(t, strings.HasPrefix(muts[1], "conditional stop_loss BUY 0.20"), muts[1])
	assert.True(t, strings.HasPrefix(muts[2], "conditional take_profit BUY 0.20"), muts[2])
	assert.NotEmpty(t, orders.StopLossOrderID)

	require.NotNil(t, out.After)
	assert.Equal(t, exchange.SideShort, out.After.Side)
	require.Len(t, j.trades, 1)
	assert.Equal(t, "flip_partial", j.trades[0].Transition)
	assert.InDelta(t, 0.2, j.trades[0].Amount, 1e-9)
}

func TestRebalanceAddsAndReduces(t *testing.T) {
	v := &fakeVenue{price: 50000, pos: &exchange.Position{Side: exchange.SideLong, Size: 0.10, EntryPrice: 49000}}
	r := newTestReconciler(v, &memJournal{}, Options{})
	out, err := r.Reconcile(context.Background(), buyHigh(), nil)
	require.NoError(t, err)
	assert.Equal(t, TransitionRebalance, out.Transition)
	assert.Equal(t, "market BUY 0.20 reduce=false", v.mutations()[0])

	v = &fakeVenue{price: 50000, pos: &exchange.Position{Side: exchange.SideLong, Size: 0.50, EntryPrice: 49000}}
	r = newTestReconciler(v, &memJournal{}, Options{})
	_, err = r.Reconcile(context.Background(), buyHigh(), nil)
	require.NoError(t, err)
	assert.Equal(t, "market SELL 0.20 reduce=true", v.mutations()[0])
}

func TestHoldWithoutPositionDoesNothing(t *testing.T) {
	v := &fakeVenue{price: 50000}
	j := &memJournal{}
	r := newTestReconciler(v, j, Options{})
	d := Desired{Signal: signal.Fallback(50000, time.Now()), Price: 50000, State: normalState()}

	out, err := r.Reconcile(context.Background(), d, nil)
	require.NoError(t, err)
	assert.Equal(t, TransitionNoop, out.Transition)
	assert.Empty(t, v.mutations())
	assert.Empty(t, j.trades)
	assert.Nil(t, out.Trade)
}

func TestHoldWithShortPositionProtectsOrientedOnce(t *testing.T) {
	v := &fakeVenue{price: 50000, pos: &exchange.Position{Side: exchange.SideShort, Size: 0.3, EntryPrice: 50500}}
	r := newTestReconciler(v, &memJournal{}, Options{})
	d := Desired{
		Signal: signal.Signal{Action: signal.Hold, StopLoss: 49000, TakeProfit: 51000, Confidence: signal.Medium},
		Price:  50000,
		State:  normalState(),
	}
	_, err := r.Reconcile(context.Background(), d, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"conditional stop_loss BUY 0.30 @51000.00",
		"conditional take_profit BUY 0.30 @47500.00",
	}, v.mutations())

	_, err = r.Reconcile(context.Background(), d, nil)
	require.NoError(t, err)
	assert.Len(t, v.mutations(), 2)
}

func TestLowConfidenceSkippedInLiveMode(t *testing.T) {
	v := &fakeVenue{price: 50000}
	r := newTestReconciler(v, &memJournal{}, Options{})
	d := buyHigh()
	d.Signal.Confidence = signal.Low

	out, err := r.Reconcile(context.Background(), d, nil)
	require.NoError(t, err)
	assert.Equal(t, TransitionSkipped, out.Transition)
	assert.Equal(t, TransitionOpen, out.Planned)
	assert.Empty(t, v.mutations())
}

func TestTestModeOnlySimulates(t *testing.T) {
	v := &fakeVenue{price: 50000}
	r := newTestReconciler(v, &memJournal{}, Options{TestMode: true})
	d := buyHigh()
	d.Signal.Confidence = signal.Low

	out, err := r.Reconcile(context.Background(), d, nil)
	require.NoError(t, err)
	assert.True(t, out.Simulated)
	assert.Equal(t, TransitionOpen, out.Transition)
	assert.Empty(t, v.mutations())
}

func TestProtectionFailureKeepsTrade(t *testing.T) {
	v := &fakeVenue{price: 50000, condErr: &exchange.RejectedError{Op: "stop", Code: -2021, Message: "would immediately trigger"}}
	j := &memJournal{}
	r := newTestReconciler(v, j, Options{})

	out, err := r.Reconcile(context.Background(), buyHigh(), nil)
	require.NoError(t, err)
	assert.Len(t, out.Protection.Errors, 2)
	assert.Len(t, j.trades, 1)
}

func TestRejectedOpenSurfaces(t *testing.T) {
	v := &fakeVenue{price: 50000, placeErr: &exchange.RejectedError{Op: "order", Code: -2019, Message: "margin is insufficient"}}
	j := &memJournal{}
	r := newTestReconciler(v, j, Options{})

	_, err := r.Reconcile(context.Background(), buyHigh(), nil)
	assert.True(t, exchange.IsRejected(err))
	assert.Empty(t, j.trades)
}

func TestProtectDefersWhenOrdersCannotBeListed(t *testing.T) {
	v := &fakeVenue{price: 50000, pos: &exchange.Position{Side: exchange.SideShort, Size: 0.3, EntryPrice: 50500}}
	r := newTestReconciler(v, &memJournal{}, Options{})
	d := Desired{
		Signal: signal.Signal{Action: signal.Hold, StopLoss: 49000, TakeProfit: 51000, Confidence: signal.Medium},
		Price:  50000,
		State:  normalState(),
	}
	orders := &exchange.ProtectiveOrderSet{}
	_, err := r.Reconcile(context.Background(), d, orders)
	require.NoError(t, err)
	require.Len(t, v.mutations(), 2)

	v.listErr = errors.New("i/o timeout")
	out, err := r.Reconcile(context.Background(), d, orders)
	require.NoError(t, err)
	assert.Equal(t, TransitionProtect, out.Transition)
	assert.True(t, out.Protection.Deferred)
	assert.NotEmpty(t, out.Protection.Errors)
	assert.Len(t, v.mutations(), 2)
	assert.Equal(t, "o1", orders.StopLossOrderID)
	assert.Equal(t, "o2", orders.TakeProfitOrderID)
}

func TestFlipCancelsCachedOrdersWhenListFails(t *testing.T) {
	v := &fakeVenue{
		price: 50000,
		pos:   &exchange.Position{Side: exchange.SideShort, Size: 0.2, EntryPrice: 51000},
		orders: []exchange.ConditionalOrder{
			{ID: "sl-old", Kind: exchange.KindStopLoss, Side: exchange.OrderBuy, Quantity: 0.2, TriggerPrice: 52000},
			{ID: "tp-old", Kind: exchange.KindTakeProfit, Side: exchange.OrderBuy, Quantity: 0.2, TriggerPrice: 48000},
		},
		listErr: errors.New("i/o timeout"),
		nextID:  10,
	}
	r := newTestReconciler(v, &memJournal{}, Options{})
	orders := &exchange.ProtectiveOrderSet{StopLossOrderID: "sl-old", TakeProfitOrderID: "tp-old"}

	out, err := r.Reconcile(context.Background(), buyHigh(), orders)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"cancel sl-old",
		"cancel tp-old",
		"market BUY 0.20 reduce=true",
		"market BUY 0.30 reduce=false",
		"conditional stop_loss SELL 0.30 @49000.00",
		"conditional take_profit SELL 0.30 @52500.00",
	}, v.mutations())
	assert.False(t, out.Protection.Deferred)
	assert.Equal(t, "o11", orders.StopLossOrderID)
}

func TestFlipAbortsWhenCancelUnconfirmed(t *testing.T) {
	v := &fakeVenue{
		price: 50000,
		pos:   &exchange.Position{Side: exchange.SideShort, Size: 0.2, EntryPrice: 51000},
		orders: []exchange.ConditionalOrder{
			{ID: "sl-old", Kind: exchange.KindStopLoss, Side: exchange.OrderBuy, Quantity: 0.2, TriggerPrice: 52000},
			{ID: "tp-old", Kind: exchange.KindTakeProfit, Side: exchange.OrderBuy, Quantity: 0.2, TriggerPrice: 48000},
		},
		cancelErr: errors.New("connection reset by peer"),
	}
	j := &memJournal{}
	r := newTestReconciler(v, j, Options{})

	out, err := r.Reconcile(context.Background(), buyHigh(), nil)
	require.Error(t, err)
	assert.False(t, exchange.IsRejected(err))
	assert.Equal(t, []string{"cancel sl-old", "cancel tp-old"}, v.mutations())
	assert.Empty(t, out.Orders)
	assert.NotEmpty(t, out.Note)
	assert.Empty(t, j.trades)
}

func TestFlipOpenRejectedJournalsClosedLeg(t *testing.T) {
	v := &fakeVenue{
		price: 50000,
		pos:   &exchange.Position{Side: exchange.SideShort, Size: 0.2, EntryPrice: 51000},
		marketFails: map[int]error{
			2: &exchange.RejectedError{Op: "order", Code: -2019, Message: "Margin is insufficient."},
		},
	}
	j := &memJournal{}
	r := newTestReconciler(v, j, Options{})
	orders := &exchange.ProtectiveOrderSet{StopLossOrderID: "gone"}

	out, err := r.Reconcile(context.Background(), buyHigh(), orders)
	assert.True(t, exchange.IsRejected(err))
	assert.Equal(t, TransitionFlip, out.Transition)
	assert.Nil(t, out.After)
	require.NotNil(t, out.Trade)
	require.Len(t, j.trades, 1)
	assert.Equal(t, "flip_partial", j.trades[0].Transition)
	assert.InDelta(t, 0.2, j.trades[0].Amount, 1e-9)
	assert.InDelta(t, 2.0, j.trades[0].PnL, 1e-9)
	assert.Empty(t, orders.StopLossOrderID)
}

func TestFlipPnLSurvivesFailedPostTradeRead(t *testing.T) {
	v := &fakeVenue{price: 50000}
	reads := 0
	v.positionFn = func() (*exchange.Position, error) {
		reads++
		switch reads {
		case 1:
			return &exchange.Position{Side: exchange.SideShort, Size: 0.2, EntryPrice: 51000}, nil
		case 2:
			return nil, nil
		default:
			return nil, errors.New("i/o timeout")
		}
	}
	j := &memJournal{}
	r := newTestReconciler(v, j, Options{})

	_, err := r.Reconcile(context.Background(), buyHigh(), nil)
	require.NoError(t, err)
	require.Len(t, j.trades, 1)
	assert.Equal(t, "flip", j.trades[0].Transition)
	assert.InDelta(t, 2.0, j.trades[0].PnL, 1e-9)
}

func TestRebalanceReduceRecordsPnL(t *testing.T) {
	v := &fakeVenue{price: 50000, pos: &exchange.Position{Side: exchange.SideLong, Size: 0.50, EntryPrice: 49000}}
	j := &memJournal{}
	r := newTestReconciler(v, j, Options{})
	_, err := r.Reconcile(context.Background(), buyHigh(), nil)
	require.NoError(t, err)
	require.Len(t, j.trades, 1)
	// 0.2 closed from 49000 at 50000
	assert.InDelta(t, 2.0, j.trades[0].PnL, 1e-9)
}

func TestPositionReadRetriesTransientFailure(t *testing.T) {
	v := &fakeVenue{price: 50000}
	reads := 0
	v.positionFn = func() (*exchange.Position, error) {
		reads++
		if reads == 1 {
			return nil, errors.New("i/o timeout")
		}
		if v.pos == nil {
			return nil, nil
		}
		cp := *v.pos
		return &cp, nil
	}
	r := newTestReconciler(v, &memJournal{}, Options{})

	out, err := r.Reconcile(context.Background(), buyHigh(), nil)
	require.NoError(t, err)
	assert.Equal(t, TransitionOpen, out.Transition)
	assert.Equal(t, "market BUY 0.30 reduce=false", v.mutations()[0])

	v = &fakeVenue{price: 50000}
	v.positionFn = func() (*exchange.Position, error) {
		return nil, &exchange.RejectedError{Op: "position", Code: -2015, Message: "Invalid API-key"}
	}
	r = newTestReconciler(v, &memJournal{}, Options{})
	_, err = r.Reconcile(context.Background(), buyHigh(), nil)
	assert.True(t, exchange.IsRejected(err))
	assert.Equal(t, []string{"position"}, v.calls)
}

func TestLowConfidenceStillProtectsHeldPosition(t *testing.T) {
	v := &fakeVenue{price: 50000, pos: &exchange.Position{Side: exchange.SideLong, Size: 0.3, EntryPrice: 49500}}
	j := &memJournal{}
	r := newTestReconciler(v, j, Options{})
	d := buyHigh()
	d.Signal.Confidence = signal.Low

	out, err := r.Reconcile(context.Background(), d, nil)
	require.NoError(t, err)
	assert.Equal(t, TransitionSkipped, out.Transition)
	assert.Equal(t, []string{
		"conditional stop_loss SELL 0.30 @49000.00",
		"conditional take_profit SELL 0.30 @52500.00",
	}, v.mutations())
	assert.Empty(t, j.trades)
}

func TestNewTagFitsVenueLimit(t *testing.T) {
	tag := newTag()
	assert.Len(t, tag, 24)
	assert.NotEqual(t, tag, newTag())
}
