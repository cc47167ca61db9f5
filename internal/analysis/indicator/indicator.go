package indicator

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"perpbot/internal/market"
)

// 指标周期
const (
	ShortPeriod   = 5
	MediumPeriod  = 20
	LongPeriod    = 50
	FastEMA       = 12
	SlowEMA       = 26
	SignalPeriod  = 9
	RSIPeriod     = 14
	BandPeriod    = 20
	BandDeviation = 2.0
	VolumePeriod  = 20
	ExtremaPeriod = 20
)

// Point 是单根K线及其派生指标。Compute 返回的每个字段都已填充。
type Point struct {
	market.Candle
	SMA5        float64 `json:"sma5"`
	SMA20       float64 `json:"sma20"`
	SMA50       float64 `json:"sma50"`
	EMA12       float64 `json:"ema12"`
	EMA26       float64 `json:"ema26"`
	MACD        float64 `json:"macd"`
	MACDSignal  float64 `json:"macd_signal"`
	MACDHist    float64 `json:"macd_hist"`
	RSI         float64 `json:"rsi"`
	BBMiddle    float64 `json:"bb_middle"`
	BBUpper     float64 `json:"bb_upper"`
	BBLower     float64 `json:"bb_lower"`
	BBPosition  float64 `json:"bb_position"`
	VolumeMA    float64 `json:"volume_ma"`
	VolumeRatio float64 `json:"volume_ratio"`
	Resistance  float64 `json:"resistance"`
	Support     float64 `json:"support"`
}

// Defined reports whether every derived field holds a finite number.
func (p Point) Defined() bool {
	for _, v := range p.values() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (p Point) values() []float64 {
	return []float64{
		p.SMA5, p.SMA20, p.SMA50, p.EMA12, p.EMA26,
		p.MACD, p.MACDSignal, p.MACDHist, p.RSI,
		p.BBMiddle, p.BBUpper, p.BBLower, p.BBPosition,
		p.VolumeMA, p.VolumeRatio, p.Resistance, p.Support,
	}
}

// Series 是按时间升序排列的带指标K线序列。
type Series struct {
	Points []Point
}

func (s Series) Len() int { return len(s.Points) }

// Latest returns the last point; ok is false for an empty series.
func (s Series) Latest() (Point, bool) {
	if len(s.Points) == 0 {
		return Point{}, false
	}
	return s.Points[len(s.Points)-1], true
}

// Candles returns the raw bars backing the series.
func (s Series) Candles() market.Candles {
	out := make(market.Candles, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Candle
	}
	return out
}

// Compute derives the indicator set for every bar of the window. Short
// windows are accepted: moving averages use partial windows and the
// remaining warm-up gaps are back-filled then forward-filled, so the
// latest point is always fully defined. An empty window is an error.
func Compute(candles []market.Candle) (Series, error) {
	n := len(candles)
	if n == 0 {
		return Series{}, fmt.Errorf("no candles")
	}
	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	volumes := make([]float64, n)
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
		volumes[i] = c.Volume
	}

	sma5 := rollingMean(closes, ShortPeriod)
	sma20 := rollingMean(closes, MediumPeriod)
	sma50 := rollingMean(closes, LongPeriod)
	ema12 := emaSeries(closes, FastEMA)
	ema26 := emaSeries(closes, SlowEMA)
	macd, signal, hist := macdSeries(ema12, ema26)
	rsi := rsiSeries(closes)
	upper, middle, lower := bandSeries(closes)
	position := bandPosition(closes, upper, lower)
	volMA := rollingMean(volumes, VolumePeriod)
	volRatio := ratio(volumes, volMA)
	resistance := extremaSeries(highs, talib.Max)
	support := extremaSeries(lows, talib.Min)

	fillOr(sma5, closes)
	fillOr(sma20, closes)
	fillOr(sma50, closes)
	fillOr(ema12, closes)
	fillOr(ema26, closes)
	fillConst(macd, 0)
	fillConst(signal, 0)
	fillConst(hist, 0)
	fillConst(rsi, 50)
	fillOr(upper, closes)
	fillOr(middle, closes)
	fillOr(lower, closes)
	fillConst(position, 0.5)
	fillOr(volMA, volumes)
	fillConst(volRatio, 1)
	fillOr(resistance, highs)
	fillOr(support, lows)

	points := make([]Point, n)
	for i, c := range candles {
		points[i] = Point{
			Candle:      c,
			SMA5:        sma5[i],
			SMA20:       sma20[i],
			SMA50:       sma50[i],
			EMA12:       ema12[i],
			EMA26:       ema26[i],
			MACD:        macd[i],
			MACDSignal:  signal[i],
			MACDHist:    hist[i],
			RSI:         rsi[i],
			BBMiddle:    middle[i],
			BBUpper:     upper[i],
			BBLower:     lower[i],
			BBPosition:  position[i],
			VolumeMA:    volMA[i],
			VolumeRatio: volRatio[i],
			Resistance:  resistance[i],
			Support:     support[i],
		}
	}
	return Series{Points: points}, nil
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// mask copies src into a NaN series from index start on. TA-Lib leaves its
// lookback region as zeros, which would otherwise read as real values.
func mask(src []float64, start int) []float64 {
	out := nanSeries(len(src))
	for i := start; i < len(src); i++ {
		out[i] = src[i]
	}
	return out
}

// rollingMean is a trailing mean that accepts partial windows at the start
// of the series (min_periods=1). TA-Lib's SMA has no partial-window mode.
func rollingMean(src []float64, period int) []float64 {
	out := make([]float64, len(src))
	sum := 0.0
	for i, v := range src {
		sum += v
		if i >= period {
			sum -= src[i-period]
		}
		width := i + 1
		if width > period {
			width = period
		}
		out[i] = sum / float64(width)
	}
	return out
}

func emaSeries(closes []float64, period int) []float64 {
	if len(closes) < period {
		return nanSeries(len(closes))
	}
	return mask(talib.Ema(closes, period), period-1)
}

// macdSeries builds the MACD line from the two EMAs and smooths its defined
// tail into the signal line.
func macdSeries(fast, slow []float64) (macd, signal, hist []float64) {
	n := len(fast)
	macd = nanSeries(n)
	signal = nanSeries(n)
	hist = nanSeries(n)
	first := -1
	for i := 0; i < n; i++ {
		if math.IsNaN(fast[i]) || math.IsNaN(slow[i]) {
			continue
		}
		macd[i] = fast[i] - slow[i]
		if first < 0 {
			first = i
		}
	}
	if first < 0 || n-first < SignalPeriod {
		return macd, signal, hist
	}
	smoothed := talib.Ema(macd[first:], SignalPeriod)
	for i := SignalPeriod - 1; i < len(smoothed); i++ {
		signal[first+i] = smoothed[i]
		hist[first+i] = macd[first+i] - smoothed[i]
	}
	return macd, signal, hist
}

func rsiSeries(closes []float64) []float64 {
	if len(closes) <= RSIPeriod {
		return nanSeries(len(closes))
	}
	return mask(talib.Rsi(closes, RSIPeriod), RSIPeriod)
}

func bandSeries(closes []float64) (upper, middle, lower []float64) {
	n := len(closes)
	if n < BandPeriod {
		return nanSeries(n), nanSeries(n), nanSeries(n)
	}
	u, m, l := talib.BBands(closes, BandPeriod, BandDeviation, BandDeviation, talib.SMA)
	return mask(u, BandPeriod-1), mask(m, BandPeriod-1), mask(l, BandPeriod-1)
}

func bandPosition(closes, upper, lower []float64) []float64 {
	out := nanSeries(len(closes))
	for i := range closes {
		if math.IsNaN(upper[i]) || math.IsNaN(lower[i]) {
			continue
		}
		width := upper[i] - lower[i]
		if width <= 0 {
			out[i] = 0.5
			continue
		}
		out[i] = (closes[i] - lower[i]) / width
	}
	return out
}

func ratio(num, den []float64) []float64 {
	out := nanSeries(len(num))
	for i := range num {
		if den[i] > 0 {
			out[i] = num[i] / den[i]
		}
	}
	return out
}

func extremaSeries(src []float64, fn func([]float64, int) []float64) []float64 {
	if len(src) < ExtremaPeriod {
		return nanSeries(len(src))
	}
	return mask(fn(src, ExtremaPeriod), ExtremaPeriod-1)
}

// backfillForward fills NaN gaps with the next defined value, then any
// trailing gap with the previous one. It reports false when nothing in
// the series was defined.
func backfillForward(s []float64) bool {
	next := math.NaN()
	for i := len(s) - 1; i >= 0; i-- {
		if math.IsNaN(s[i]) {
			s[i] = next
			continue
		}
		next = s[i]
	}
	if math.IsNaN(next) {
		return false
	}
	prev := math.NaN()
	for i := range s {
		if math.IsNaN(s[i]) {
			s[i] = prev
			continue
		}
		prev = s[i]
	}
	return true
}

func fillOr(s, fallback []float64) {
	if backfillForward(s) {
		return
	}
	copy(s, fallback)
}

func fillConst(s []float64, v float64) {
	if backfillForward(s) {
		return
	}
	for i := range s {
		s[i] = v
	}
}
