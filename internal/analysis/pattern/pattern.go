// Package pattern looks for coarse chart formations over the indicator
// window. The result is advisory text for the prompt only.
package pattern

import (
	"fmt"
	"math"
	"strings"

	"perpbot/internal/market"
)

const (
	minBarsPair        = 20
	minBarsTriangle    = 30
	minBarsCompression = 40

	pairTolerance    = 0.004
	triangleNarrow   = 0.05
	compressionRatio = 0.65
	flatSlopePct     = 0.01
)

// Result is what Detect found. SlopePct is the regression slope per bar
// relative to the last close, in percent.
type Result struct {
	Bias       string   `json:"bias"`
	SlopePct   float64  `json:"slope_pct"`
	OffsetPct  float64  `json:"offset_pct"`
	Formations []string `json:"formations,omitempty"`
}

// Summary joins the formations, or "" when none were found.
func (r Result) Summary() string {
	return strings.Join(r.Formations, "；")
}

// Detect runs every check on bars; short windows skip the checks that
// need more history.
func Detect(bars market.Candles) Result {
	if len(bars) == 0 {
		return Result{Bias: "balanced"}
	}
	closes := make([]float64, len(bars))
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	for i, c := range bars {
		closes[i], highs[i], lows[i] = c.Close, c.High, c.Low
	}
	slope, intercept := fitLine(closes)
	last := closes[len(closes)-1]
	res := Result{Bias: "balanced"}
	if last > 0 {
		res.SlopePct = slope / last * 100
	}
	if fitted := intercept + slope*float64(len(closes)-1); fitted > 0 {
		res.OffsetPct = (last - fitted) / fitted * 100
	}
	switch {
	case res.SlopePct > flatSlopePct:
		res.Bias = "bullish"
	case res.SlopePct < -flatSlopePct:
		res.Bias = "bearish"
	}

	for _, check := range []func() (string, bool){
		func() (string, bool) { return doubleBottom(lows) },
		func() (string, bool) { return doubleTop(highs) },
		func() (string, bool) { return triangle(highs, lows) },
		func() (string, bool) { return compression(highs, lows) },
	} {
		if desc, ok := check(); ok {
			res.Formations = append(res.Formations, desc)
		}
	}
	return res
}

// fitLine is an ordinary least squares fit of series against its index.
func fitLine(series []float64) (slope, intercept float64) {
	n := float64(len(series))
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range series {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, series[len(series)-1]
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n
	return slope, intercept
}

// twin finds the two most extreme values in the recent half that are at
// least three bars apart. better reports whether a is more extreme than b.
func twin(values []float64, better func(a, b float64) bool) (float64, float64, bool) {
	window := values[len(values)/2:]
	first := -1
	for i, v := range window {
		if first < 0 || better(v, window[first]) {
			first = i
		}
	}
	second := -1
	for i, v := range window {
		if abs(i-first) < 3 {
			continue
		}
		if second < 0 || better(v, window[second]) {
			second = i
		}
	}
	if second < 0 {
		return 0, 0, false
	}
	return window[first], window[second], true
}

func doubleBottom(lows []float64) (string, bool) {
	if len(lows) < minBarsPair {
		return "", false
	}
	a, b, ok := twin(lows, func(x, y float64) bool { return x < y })
	if !ok || math.Abs(a-b)/math.Max(a, 1) > pairTolerance {
		return "", false
	}
	return fmt.Sprintf("近期双底，支撑约%.2f", (a+b)/2), true
}

func doubleTop(highs []float64) (string, bool) {
	if len(highs) < minBarsPair {
		return "", false
	}
	a, b, ok := twin(highs, func(x, y float64) bool { return x > y })
	if !ok || math.Abs(a-b)/math.Max(a, 1) > pairTolerance {
		return "", false
	}
	return fmt.Sprintf("近期双顶，压力约%.2f", (a+b)/2), true
}

func triangle(highs, lows []float64) (string, bool) {
	if len(highs) < minBarsTriangle {
		return "", false
	}
	mid := len(highs) / 2
	h1, h2 := highest(highs[:mid]), highest(highs[mid:])
	l1, l2 := lowest(lows[:mid]), lowest(lows[mid:])
	if h2 >= h1 || l2 <= l1 {
		return "", false
	}
	if ((h1-l1)-(h2-l2))/h1 <= triangleNarrow {
		return "", false
	}
	return "高点下移低点上移，区间收敛", true
}

func compression(highs, lows []float64) (string, bool) {
	if len(highs) < minBarsCompression {
		return "", false
	}
	mid := len(highs) / 2
	before := (highest(highs[:mid]) - lowest(lows[:mid])) / highest(highs[:mid])
	after := (highest(highs[mid:]) - lowest(lows[mid:])) / highest(highs[mid:])
	if after >= before*compressionRatio {
		return "", false
	}
	return "波动快速收缩，留意突破方向", true
}

func highest(values []float64) float64 {
	m := math.Inf(-1)
	for _, v := range values {
		m = math.Max(m, v)
	}
	return m
}

func lowest(values []float64) float64 {
	m := math.Inf(1)
	for _, v := range values {
		m = math.Min(m, v)
	}
	return m
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
