package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"perpbot/internal/market"
)

func bars(closes ...float64) market.Candles {
	out := make(market.Candles, len(closes))
	for i, c := range closes {
		out[i] = market.Candle{Open: c, High: c + 1, Low: c - 1, Close: c}
	}
	return out
}

func TestDetectEmpty(t *testing.T) {
	res := Detect(nil)
	assert.Equal(t, "balanced", res.Bias)
	assert.Empty(t, res.Summary())
}

func TestDetectBias(t *testing.T) {
	up := make([]float64, 30)
	down := make([]float64, 30)
	for i := range up {
		up[i] = 100 + float64(i)
		down[i] = 200 - float64(i)
	}
	assert.Equal(t, "bullish", Detect(bars(up...)).Bias)
	assert.Equal(t, "bearish", Detect(bars(down...)).Bias)
	assert.Equal(t, "balanced", Detect(bars(100, 100, 100)).Bias)
}

func TestDetectDoubleBottom(t *testing.T) {
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 110
	}
	closes[25] = 100
	closes[33] = 100.2
	res := Detect(bars(closes...))
	assert.Contains(t, res.Summary(), "双底")
}

func TestDetectCompression(t *testing.T) {
	closes := make([]float64, 40)
	for i := range closes {
		if i < 20 {
			closes[i] = 100 + float64(i%2)*20
		} else {
			closes[i] = 110 + float64(i%2)
		}
	}
	assert.Contains(t, Detect(bars(closes...)).Formations, "波动快速收缩，留意突破方向")
}

func TestShortWindowSkipsFormations(t *testing.T) {
	assert.Empty(t, Detect(bars(1, 2, 3, 2, 1)).Formations)
}
