// Package decision turns the oracle's advice into a validated signal:
// the quantitative sanity rules and the bounded advisory round.
package decision

import (
	"fmt"

	"perpbot/internal/analysis/indicator"
	"perpbot/internal/analysis/regime"
	"perpbot/internal/risk"
	"perpbot/internal/signal"
)

const (
	rsiOverbought = 80
	rsiOversold   = 20

	// replacement levels when the oracle's level sits on the wrong side
	buyStopPct    = 0.98
	buyTargetPct  = 1.03
	sellStopPct   = 1.02
	sellTargetPct = 0.97

	// accepted distance band from price
	stopBound   = 0.05
	targetBound = 0.10

	overboughtTag  = " [RSI超买警告]"
	oversoldTag    = " [RSI超卖警告]"
	conflictReason = "趋势与信号冲突，保持观望"
)

// Input is the market context the rules are checked against.
type Input struct {
	Price float64
	Point indicator.Point
	State regime.State
}

// Report lists what the validator changed.
type Report struct {
	Original     signal.Signal `json:"original"`
	Adjustments  []string      `json:"adjustments,omitempty"`
	RiskFallback bool          `json:"risk_fallback,omitempty"`
}

// Changed reports whether any rule rewrote the signal.
func (r Report) Changed() bool { return len(r.Adjustments) > 0 }

func (r *Report) note(format string, args ...any) {
	r.Adjustments = append(r.Adjustments, fmt.Sprintf(format, args...))
}

// Validator applies the ordered sanity rules. Risk supplies regime levels
// when the oracle's levels cannot be repaired.
type Validator struct {
	Risk risk.Model
}

// Validate mutates s in place. Rules run in order and each sees the
// previous rule's output; the result always satisfies the price bounds.
func (v Validator) Validate(s *signal.Signal, in Input) Report {
	rep := Report{Original: *s}
	v.checkMomentum(s, in, &rep)
	v.checkTrendConflict(s, in, &rep)
	v.checkMACD(s, in, &rep)
	v.checkBounds(s, in, &rep)
	return rep
}

func (v Validator) checkMomentum(s *signal.Signal, in Input, rep *Report) {
	rsi := in.Point.RSI
	switch {
	case s.Action == signal.Buy && rsi > rsiOverbought:
		s.Confidence = signal.Low
		s.Reason += overboughtTag
		rep.note("RSI %.1f 超买, 信心降为 LOW", rsi)
	case s.Action == signal.Sell && rsi < rsiOversold:
		s.Confidence = signal.Low
		s.Reason += oversoldTag
		rep.note("RSI %.1f 超卖, 信心降为 LOW", rsi)
	}
}

func (v Validator) checkTrendConflict(s *signal.Signal, in Input, rep *Report) {
	if s.Confidence == signal.High {
		return
	}
	if (in.State.IsStrongUp() && s.Action == signal.Sell) ||
		(in.State.IsStrongDown() && s.Action == signal.Buy) {
		rep.note("%s 与趋势 %s 冲突, 改为 HOLD", s.Action, in.State.Trend)
		s.Action = signal.Hold
		s.Reason = conflictReason
	}
}

func (v Validator) checkMACD(s *signal.Signal, in Input, rep *Report) {
	if s.Confidence != signal.High {
		return
	}
	macd, sig := in.Point.MACD, in.Point.MACDSignal
	if (macd > sig && s.Action == signal.Sell) || (macd < sig && s.Action == signal.Buy) {
		s.Confidence = signal.Medium
		rep.note("MACD 与 %s 背离, 信心降为 MEDIUM", s.Action)
	}
}

func (v Validator) checkBounds(s *signal.Signal, in Input, rep *Report) {
	p := in.Price
	if p <= 0 {
		return
	}
	switch s.Action {
	case signal.Buy:
		if s.StopLoss >= p {
			s.StopLoss = v.Risk.RoundPrice(p * buyStopPct)
			rep.note("止损高于现价, 改为 %.2f", s.StopLoss)
		}
		if s.TakeProfit <= p {
			s.TakeProfit = v.Risk.RoundPrice(p * buyTargetPct)
			rep.note("止盈低于现价, 改为 %.2f", s.TakeProfit)
		}
	case signal.Sell:
		if s.StopLoss <= p {
			s.StopLoss = v.Risk.RoundPrice(p * sellStopPct)
			rep.note("止损低于现价, 改为 %.2f", s.StopLoss)
		}
		if s.TakeProfit >= p {
			s.TakeProfit = v.Risk.RoundPrice(p * sellTargetPct)
			rep.note("止盈高于现价, 改为 %.2f", s.TakeProfit)
		}
	}
	if withinBounds(*s, p) {
		return
	}
	// position-free levels stay inside the bounds; trailing is applied by
	// the caller when it builds protective orders
	lv := v.Risk.Levels(s.Action, p, in.State, nil)
	s.StopLoss, s.TakeProfit = lv.StopLoss, lv.TakeProfit
	rep.RiskFallback = true
	rep.note("价格越界, 采用风控水平 sl=%.2f tp=%.2f", lv.StopLoss, lv.TakeProfit)
}

// withinBounds is the post-condition every validated signal satisfies.
func withinBounds(s signal.Signal, p float64) bool {
	switch s.Action {
	case signal.Buy:
		return s.StopLoss < p && s.StopLoss > p*(1-stopBound) &&
			s.TakeProfit > p && s.TakeProfit < p*(1+targetBound)
	case signal.Sell:
		return s.StopLoss > p && s.StopLoss < p*(1+stopBound) &&
			s.TakeProfit < p && s.TakeProfit > p*(1-targetBound)
	default:
		return s.StopLoss > 0 && s.TakeProfit > 0
	}
}
