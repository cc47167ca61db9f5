package signal

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStrict(t *testing.T) {
	raw := "分析如下:\n```json\n{\"signal\": \"buy\", \"reason\": \"突破\", \"stop_loss\": 49000, \"take_profit\": 52000, \"confidence\": \"high\"}\n```"
	sig, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, Buy, sig.Action)
	assert.Equal(t, High, sig.Confidence)
	assert.Equal(t, 49000.0, sig.StopLoss)
	assert.Equal(t, 52000.0, sig.TakeProfit)
	assert.False(t, sig.IsFallback)
	assert.True(t, sig.Timestamp.IsZero())
}

func TestParseRepairsNearJSON(t *testing.T) {
	raw := `I think: {signal: 'SELL', reason: 'breakdown', stop_loss: '51000', take_profit: 47000, confidence: 'MEDIUM',} done`
	sig, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, Sell, sig.Action)
	assert.Equal(t, 51000.0, sig.StopLoss)
	assert.Equal(t, Medium, sig.Confidence)
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"no object":      "I cannot decide today",
		"missing field":  `{"signal":"BUY","reason":"x","stop_loss":1,"confidence":"HIGH"}`,
		"bad action":     `{"signal":"LONG","reason":"x","stop_loss":1,"take_profit":2,"confidence":"HIGH"}`,
		"bad confidence": `{"signal":"BUY","reason":"x","stop_loss":1,"take_profit":2,"confidence":"SURE"}`,
		"string price":   `{"signal":"BUY","reason":"x","stop_loss":"soon","take_profit":2,"confidence":"LOW"}`,
		"garbage":        `{"signal": BUY BUY}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(raw)
			assert.Error(t, err)
		})
	}
}

func TestParseTruncatesReason(t *testing.T) {
	long := strings.Repeat("长", MaxReasonRunes+50)
	raw := fmt.Sprintf(`{"signal":"HOLD","reason":"%s","stop_loss":1,"take_profit":2,"confidence":"LOW"}`, long)
	sig, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, MaxReasonRunes+3, len([]rune(sig.Reason)))
}

func TestFallback(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fb := Fallback(50000, now)
	assert.Equal(t, Hold, fb.Action)
	assert.Equal(t, Low, fb.Confidence)
	assert.InDelta(t, 49000.0, fb.StopLoss, 1e-9)
	assert.InDelta(t, 51000.0, fb.TakeProfit, 1e-9)
	assert.True(t, fb.IsFallback)
	assert.Equal(t, now, fb.Timestamp)
}

func TestConfidenceRank(t *testing.T) {
	assert.Greater(t, High.Rank(), Medium.Rank())
	assert.Greater(t, Medium.Rank(), Low.Rank())
	assert.True(t, Buy.Directional())
	assert.False(t, Hold.Directional())
}

func TestHistoryBoundedAndStreak(t *testing.T) {
	h := NewHistory(0)
	for i := 0; i < HistoryCapacity+5; i++ {
		h.Push(Signal{Action: Buy, Reason: fmt.Sprint(i)})
	}
	assert.Equal(t, HistoryCapacity, h.Len())
	items := h.Items()
	assert.Equal(t, "5", items[0].Reason)
	assert.Equal(t, HistoryCapacity, h.Count(Buy))

	action, ok := h.Streak()
	assert.True(t, ok)
	assert.Equal(t, Buy, action)

	h.Push(Signal{Action: Hold})
	_, ok = h.Streak()
	assert.False(t, ok)
	last, ok := h.Last()
	require.True(t, ok)
	assert.Equal(t, Hold, last.Action)
}
