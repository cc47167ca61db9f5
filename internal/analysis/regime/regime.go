// Package regime collapses the indicator set into a discrete market
// state: a trend label from moving-average ordering overlaid with a
// volatility band from the average bar range.
package regime

import (
	"math"
	"strings"

	"github.com/markcheno/go-talib"

	"perpbot/internal/analysis/indicator"
)

const (
	StrongUp             = "strong-up"
	StrongDown           = "strong-down"
	Ranging              = "ranging"
	WeakTrend            = "weak-trend"
	LowVolatilityRanging = "low-volatility-ranging"
	HighVolatilityPrefix = "high-volatility-"

	// RangePeriod is the window of the average bar range.
	RangePeriod = 14

	highVolatilityPct = 3.0
	lowVolatilityPct  = 1.0
	rangingBand       = 0.005

	fallbackConfidence    = 0.5
	fallbackVolatilityPct = 2.0
)

// State is the classified regime for the latest bar. Trend keeps the
// moving-average label even when the volatility overlay rewrote Label.
type State struct {
	Label         string  `json:"label"`
	Trend         string  `json:"trend"`
	Confidence    float64 `json:"confidence"`
	VolatilityPct float64 `json:"volatility_pct"`
	Fallback      bool    `json:"fallback,omitempty"`
}

func (s State) IsHighVolatility() bool {
	return strings.HasPrefix(s.Label, HighVolatilityPrefix)
}

func (s State) IsLowVolatility() bool {
	return s.Label == LowVolatilityRanging
}

func (s State) IsStrongUp() bool   { return s.Trend == StrongUp }
func (s State) IsStrongDown() bool { return s.Trend == StrongDown }

// IsStrongTrend reports a strong moving-average ordering in either direction.
func (s State) IsStrongTrend() bool {
	return s.IsStrongUp() || s.IsStrongDown()
}

// Default is the state used when classification cannot run.
func Default() State {
	return State{
		Label:         Ranging,
		Trend:         Ranging,
		Confidence:    fallbackConfidence,
		VolatilityPct: fallbackVolatilityPct,
		Fallback:      true,
	}
}

// Classify derives the state from the latest point of the series. It
// never fails: unusable input yields Default().
func Classify(series indicator.Series) State {
	p, ok := series.Latest()
	if !ok || p.Close <= 0 || !p.Defined() {
		return Default()
	}
	atr := AverageRange(series, RangePeriod)
	if math.IsNaN(atr) || math.IsInf(atr, 0) {
		return Default()
	}
	return FromLevels(p.SMA5, p.SMA20, p.SMA50, atr/p.Close*100)
}

// FromLevels classifies from the three moving averages and the volatility
// percent directly. The volatility overlay always wins over the trend
// label; confidence stays that of the trend step.
func FromLevels(short, medium, long, volatilityPct float64) State {
	if medium == 0 || math.IsNaN(volatilityPct) {
		return Default()
	}
	var st State
	switch {
	case short > medium && medium > long:
		st.Trend, st.Confidence = StrongUp, 0.9
	case short < medium && medium < long:
		st.Trend, st.Confidence = StrongDown, 0.9
	case math.Abs(short-medium)/medium < rangingBand:
		st.Trend, st.Confidence = Ranging, 0.7
	default:
		st.Trend, st.Confidence = WeakTrend, 0.5
	}
	st.VolatilityPct = volatilityPct
	switch {
	case volatilityPct > highVolatilityPct:
		st.Label = HighVolatilityPrefix + st.Trend
	case volatilityPct < lowVolatilityPct:
		st.Label = LowVolatilityRanging
	default:
		st.Label = st.Trend
	}
	return st
}

// AverageRange is the mean high-low span of the last period bars. Fewer
// bars than period use what is available.
func AverageRange(series indicator.Series, period int) float64 {
	n := series.Len()
	if n == 0 || period <= 0 {
		return math.NaN()
	}
	ranges := make([]float64, n)
	for i, p := range series.Points {
		ranges[i] = p.High - p.Low
	}
	if n < period {
		sum := 0.0
		for _, r := range ranges {
			sum += r
		}
		return sum / float64(n)
	}
	smoothed := talib.Sma(ranges, period)
	return smoothed[n-1]
}
