// Package risk derives regime-dependent protective levels.
package risk

import (
	"perpbot/internal/analysis/regime"
	"perpbot/internal/gateway/exchange"
	"perpbot/internal/pkg/trading"
	"perpbot/internal/signal"
)

const (
	defaultTick = 0.01

	holdBand = 0.02

	trailTrigger = 0.05
	trailOffset  = 0.01
)

// Percentages is one stop/target pair.
type Percentages struct {
	StopLoss   float64
	TakeProfit float64
}

var (
	highVolatilityPcts = Percentages{StopLoss: 0.025, TakeProfit: 0.06}
	lowVolatilityPcts  = Percentages{StopLoss: 0.015, TakeProfit: 0.03}
	normalPcts         = Percentages{StopLoss: 0.02, TakeProfit: 0.05}
)

// Levels is the model output. SLPct/TPPct are the base fractions used.
type Levels struct {
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
	SLPct      float64 `json:"sl_pct"`
	TPPct      float64 `json:"tp_pct"`
	Trailed    bool    `json:"trailed,omitempty"`
}

// Model computes levels. Tick is the venue price increment used for
// rounding; ContractMultiplier converts contracts into base units when
// measuring position notional.
type Model struct {
	Tick               float64
	ContractMultiplier float64
}

func (m Model) tick() float64 {
	if m.Tick > 0 {
		return m.Tick
	}
	return defaultTick
}

// RoundPrice rounds v to the model's price tick.
func (m Model) RoundPrice(v float64) float64 {
	return trading.RoundToStep(v, m.tick())
}

func (m Model) multiplier() float64 {
	if m.ContractMultiplier > 0 {
		return m.ContractMultiplier
	}
	return 1
}

// PercentagesFor picks the base fractions for a regime.
func PercentagesFor(state regime.State) Percentages {
	switch {
	case state.IsHighVolatility():
		return highVolatilityPcts
	case state.IsLowVolatility():
		return lowVolatilityPcts
	default:
		return normalPcts
	}
}

// Levels computes stop and target for action at price. When pos is open
// with unrealised profit above 5% of entry notional, the stop ratchets to
// entry±1% on the position's favourable side; the ratchet only tightens.
// Trailing applies when the position side agrees with action (HOLD keeps
// whatever side is open).
func (m Model) Levels(action signal.Action, price float64, state regime.State, pos *exchange.Position) Levels {
	pcts := PercentagesFor(state)
	out := Levels{SLPct: pcts.StopLoss, TPPct: pcts.TakeProfit}
	switch action {
	case signal.Buy:
		out.StopLoss = price * (1 - pcts.StopLoss)
		out.TakeProfit = price * (1 + pcts.TakeProfit)
	case signal.Sell:
		out.StopLoss = price * (1 + pcts.StopLoss)
		out.TakeProfit = price * (1 - pcts.TakeProfit)
	default:
		out.StopLoss = price * (1 - holdBand)
		out.TakeProfit = price * (1 + holdBand)
	}
	if pos != nil && sideAgrees(action, pos.Side) {
		if sl, ok := m.trailingStop(pos, out.StopLoss); ok {
			out.StopLoss = sl
			out.Trailed = true
		}
	}
	out.StopLoss = trading.RoundToStep(out.StopLoss, m.tick())
	out.TakeProfit = trading.RoundToStep(out.TakeProfit, m.tick())
	return out
}

// ForPosition computes protective levels oriented to an open position,
// used when the signal carries no usable levels for the held side.
func (m Model) ForPosition(price float64, state regime.State, pos *exchange.Position) Levels {
	if pos == nil {
		return m.Levels(signal.Hold, price, state, nil)
	}
	action := signal.Buy
	if pos.Side == exchange.SideShort {
		action = signal.Sell
	}
	return m.Levels(action, price, state, pos)
}

func sideAgrees(action signal.Action, side exchange.Side) bool {
	switch action {
	case signal.Buy:
		return side == exchange.SideLong
	case signal.Sell:
		return side == exchange.SideShort
	default:
		return true
	}
}

func (m Model) trailingStop(pos *exchange.Position, stop float64) (float64, bool) {
	if pos.UnrealizedPnL <= 0 || pos.EntryPrice <= 0 || pos.Size <= 0 {
		return stop, false
	}
	notional := pos.EntryPrice * pos.Size * m.multiplier()
	if pos.UnrealizedPnL/notional <= trailTrigger {
		return stop, false
	}
	if pos.Side == exchange.SideLong {
		be := pos.EntryPrice * (1 + trailOffset)
		if be > stop {
			return be, true
		}
		return stop, false
	}
	be := pos.EntryPrice * (1 - trailOffset)
	if be < stop {
		return be, true
	}
	return stop, false
}

// Protective orients stop and target for an open position. The advised
// levels are kept when they sit on the correct sides of price for the
// held side; otherwise regime levels for that side are used. A trailing
// stop tightens the result either way.
func (m Model) Protective(stop, target, price float64, state regime.State, pos *exchange.Position) Levels {
	if pos == nil {
		return Levels{StopLoss: m.RoundPrice(stop), TakeProfit: m.RoundPrice(target)}
	}
	if !oriented(pos.Side, stop, target, price) {
		return m.ForPosition(price, state, pos)
	}
	out := Levels{StopLoss: stop, TakeProfit: target}
	if sl, ok := m.trailingStop(pos, stop); ok {
		out.StopLoss = sl
		out.Trailed = true
	}
	out.StopLoss = m.RoundPrice(out.StopLoss)
	out.TakeProfit = m.RoundPrice(out.TakeProfit)
	return out
}

func oriented(side exchange.Side, stop, target, price float64) bool {
	if stop <= 0 || target <= 0 {
		return false
	}
	if side == exchange.SideLong {
		return stop < price && target > price
	}
	return stop > price && target < price
}
