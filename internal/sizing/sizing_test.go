package sizing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"perpbot/internal/analysis/regime"
	"perpbot/internal/gateway/exchange"
	"perpbot/internal/signal"
)

var btcPerp = exchange.Instrument{Symbol: "BTCUSDT", ContractMultiplier: 0.01, MinQty: 0.01, QtyStep: 0.01, TickSize: 0.1}

func neutral() regime.State {
	return regime.State{Label: regime.WeakTrend, Trend: regime.WeakTrend, VolatilityPct: 2}
}

func TestSizeHighConfidenceNoPosition(t *testing.T) {
	s := New(DefaultParams(), btcPerp)
	res := s.Size(Input{Confidence: signal.High, State: neutral(), RSI: 50, Price: 50000, FreeBalance: 1000, BalanceKnown: true})
	assert.Equal(t, 0.30, res.Contracts)
	assert.Equal(t, 150.0, res.FinalUSDT)
	assert.False(t, res.Capped)
	assert.False(t, res.Emergency)
}

func TestSizeFloorsAtVenueMinimum(t *testing.T) {
	p := DefaultParams()
	p.MediumMultiplier = 1
	s := New(p, btcPerp)

	res := s.Size(Input{Confidence: signal.Medium, State: neutral(), RSI: 50, Price: 1000000, FreeBalance: 10000, BalanceKnown: true})
	assert.Equal(t, 0.01, res.Contracts)
	assert.False(t, res.Clamped)

	res = s.Size(Input{Confidence: signal.Medium, State: neutral(), RSI: 50, Price: 1000000, FreeBalance: 1, BalanceKnown: true})
	assert.Equal(t, 0.01, res.Contracts)
	assert.True(t, res.Clamped)
	assert.True(t, res.Capped)
}

func TestSizeMonotonicInConfidence(t *testing.T) {
	s := New(DefaultParams(), btcPerp)
	for _, price := range []float64{20000, 50000, 90000} {
		for _, rsi := range []float64{15, 50, 80} {
			in := Input{State: neutral(), RSI: rsi, Price: price, FreeBalance: 5000, BalanceKnown: true}
			in.Confidence = signal.High
			high := s.Size(in).Contracts
			in.Confidence = signal.Medium
			med := s.Size(in).Contracts
			in.Confidence = signal.Low
			low := s.Size(in).Contracts
			assert.GreaterOrEqual(t, high, med)
			assert.GreaterOrEqual(t, med, low)
		}
	}
}

func TestSizeMultipliers(t *testing.T) {
	s := New(DefaultParams(), btcPerp)
	strong := regime.State{Label: "high-volatility-strong-up", Trend: regime.StrongUp, VolatilityPct: 4}
	res := s.Size(Input{Confidence: signal.Medium, State: strong, RSI: 80, Price: 10000, FreeBalance: 1000, BalanceKnown: true})
	assert.Equal(t, 1.2, res.TrendMult)
	assert.Equal(t, 0.7, res.RSIMult)
	assert.InDelta(t, 84.0, res.SuggestedUSDT, 1e-9)
	assert.Equal(t, 0.84, res.Contracts)
}

func TestSizeCapsAtBalanceRatio(t *testing.T) {
	s := New(DefaultParams(), btcPerp)
	res := s.Size(Input{Confidence: signal.High, State: neutral(), RSI: 50, Price: 10000, FreeBalance: 100, BalanceKnown: true})
	assert.True(t, res.Capped)
	assert.Equal(t, 50.0, res.FinalUSDT)
	assert.Equal(t, 0.5, res.Contracts)
}

func TestSizeDisabledUsesFixed(t *testing.T) {
	p := DefaultParams()
	p.Enabled = false
	res := New(p, btcPerp).Size(Input{Confidence: signal.High, Price: 50000})
	assert.True(t, res.Fixed)
	assert.Equal(t, 0.1, res.Contracts)
}

func TestSizeEmergencyFormula(t *testing.T) {
	s := New(DefaultParams(), btcPerp)
	res := s.Size(Input{Confidence: signal.High, State: neutral(), Price: 50000, BalanceKnown: false})
	assert.True(t, res.Emergency)
	// 100 * 10 / (50000 * 0.01)
	assert.Equal(t, 2.0, res.Contracts)

	res = s.Size(Input{Confidence: signal.High, Price: 0, FreeBalance: 100, BalanceKnown: true})
	assert.True(t, res.Emergency)
	assert.Equal(t, 0.01, res.Contracts)
}
