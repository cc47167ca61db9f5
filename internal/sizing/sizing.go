// Package sizing maps a validated signal to a contract quantity.
package sizing

import (
	"errors"
	"fmt"
	"math"

	"perpbot/internal/analysis/regime"
	"perpbot/internal/gateway/exchange"
	"perpbot/internal/logger"
	"perpbot/internal/pkg/trading"
	"perpbot/internal/signal"
)

const (
	rsiUpperBand  = 75
	rsiLowerBand  = 25
	rsiMultiplier = 0.7

	defaultFixedContracts = 0.1
	defaultMinQty         = 0.01
)

// Params are the sizing knobs read from the sizing config section.
type Params struct {
	Enabled          bool
	BaseUSDT         float64
	HighMultiplier   float64
	MediumMultiplier float64
	LowMultiplier    float64
	TrendMultiplier  float64
	MaxPositionRatio float64
	FixedContracts   float64
	Leverage         int
}

// DefaultParams mirrors the config defaults.
func DefaultParams() Params {
	return Params{
		Enabled:          true,
		BaseUSDT:         100,
		HighMultiplier:   1.5,
		MediumMultiplier: 1.0,
		LowMultiplier:    0.5,
		TrendMultiplier:  1.2,
		MaxPositionRatio: 0.5,
		FixedContracts:   defaultFixedContracts,
		Leverage:         10,
	}
}

// Input is one sizing request. BalanceKnown is false when the balance
// query failed; the emergency formula is used then.
type Input struct {
	Confidence   signal.Confidence
	State        regime.State
	RSI          float64
	Price        float64
	FreeBalance  float64
	BalanceKnown bool
}

// Result carries the quantity plus the breakdown that produced it.
type Result struct {
	Contracts      float64 `json:"contracts"`
	SuggestedUSDT  float64 `json:"suggested_usdt"`
	FinalUSDT      float64 `json:"final_usdt"`
	ConfidenceMult float64 `json:"confidence_mult"`
	TrendMult      float64 `json:"trend_mult"`
	RSIMult        float64 `json:"rsi_mult"`
	Capped         bool    `json:"capped,omitempty"`
	Clamped        bool    `json:"clamped,omitempty"`
	Fixed          bool    `json:"fixed,omitempty"`
	Emergency      bool    `json:"emergency,omitempty"`
}

func (r Result) String() string {
	switch {
	case r.Fixed:
		return fmt.Sprintf("固定仓位 %.4f 张", r.Contracts)
	case r.Emergency:
		return fmt.Sprintf("应急仓位 %.4f 张", r.Contracts)
	}
	return fmt.Sprintf("信心x%.2f 趋势x%.2f RSIx%.2f 建议%.2f USDT 最终%.2f USDT -> %.4f 张",
		r.ConfidenceMult, r.TrendMult, r.RSIMult, r.SuggestedUSDT, r.FinalUSDT, r.Contracts)
}

// Sizer holds the parameters and the venue's quantity constraints.
type Sizer struct {
	Params     Params
	Instrument exchange.Instrument
}

func New(p Params, inst exchange.Instrument) *Sizer {
	return &Sizer{Params: p, Instrument: inst}
}

// Size never fails. A quantity below the venue minimum is lifted to the
// minimum; an input the formula cannot use falls back to the fixed
// leverage emergency formula.
func (s *Sizer) Size(in Input) Result {
	if !s.Params.Enabled {
		qty := s.Params.FixedContracts
		if qty <= 0 {
			qty = defaultFixedContracts
		}
		return Result{Contracts: qty, Fixed: true}
	}
	res, err := s.intelligent(in)
	if err != nil {
		logger.Warnf("仓位计算失败, 使用应急仓位: %v", err)
		return s.emergency(in.Price)
	}
	return res
}

var (
	errBadPrice    = errors.New("price must be positive")
	errBadBalance  = errors.New("balance unavailable")
	errBadContract = errors.New("contract multiplier must be positive")
)

func (s *Sizer) intelligent(in Input) (Result, error) {
	if in.Price <= 0 || math.IsNaN(in.Price) {
		return Result{}, errBadPrice
	}
	if !in.BalanceKnown || in.FreeBalance < 0 || math.IsNaN(in.FreeBalance) {
		return Result{}, errBadBalance
	}
	cm := s.Instrument.ContractMultiplier
	if cm <= 0 {
		return Result{}, errBadContract
	}
	res := Result{
		ConfidenceMult: s.confidenceMultiplier(in.Confidence),
		TrendMult:      1,
		RSIMult:        1,
	}
	if in.State.IsStrongTrend() {
		res.TrendMult = s.Params.TrendMultiplier
	}
	if in.RSI > rsiUpperBand || in.RSI < rsiLowerBand {
		res.RSIMult = rsiMultiplier
	}
	res.SuggestedUSDT = s.Params.BaseUSDT * res.ConfidenceMult * res.TrendMult * res.RSIMult
	res.FinalUSDT = res.SuggestedUSDT
	if limit := in.FreeBalance * s.Params.MaxPositionRatio; res.FinalUSDT > limit {
		res.FinalUSDT = limit
		res.Capped = true
	}
	raw := res.FinalUSDT / (in.Price * cm)
	res.Contracts, res.Clamped = s.quantise(raw)
	return res, nil
}

func (s *Sizer) confidenceMultiplier(c signal.Confidence) float64 {
	switch c {
	case signal.High:
		return s.Params.HighMultiplier
	case signal.Medium:
		return s.Params.MediumMultiplier
	case signal.Low:
		return s.Params.LowMultiplier
	default:
		return 1
	}
}

// emergency is base x leverage / (price x multiplier), floored at the minimum.
func (s *Sizer) emergency(price float64) Result {
	cm := s.Instrument.ContractMultiplier
	if cm <= 0 {
		cm = defaultMinQty
	}
	lev := float64(s.Params.Leverage)
	if lev <= 0 {
		lev = 1
	}
	raw := 0.0
	if price > 0 {
		raw = s.Params.BaseUSDT * lev / (price * cm)
	}
	qty, clamped := s.quantise(raw)
	return Result{Contracts: qty, FinalUSDT: s.Params.BaseUSDT * lev, Emergency: true, Clamped: clamped}
}

func (s *Sizer) quantise(raw float64) (float64, bool) {
	step := s.Instrument.QtyStep
	if step <= 0 {
		step = defaultMinQty
	}
	min := s.Instrument.MinQty
	if min <= 0 {
		min = step
	}
	qty := trading.RoundToStep(raw, step)
	if qty < min || math.IsNaN(qty) {
		return min, true
	}
	return qty, false
}
