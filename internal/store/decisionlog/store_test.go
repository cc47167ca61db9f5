package decisionlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpbot/internal/decision"
	"perpbot/internal/signal"
)

func TestRecordAndListRounds(t *testing.T) {
	s, err := NewDecisionLogStore(filepath.Join(t.TempDir(), "decisions.db"))
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	base := time.Date(2026, 6, 1, 0, 15, 0, 0, time.UTC)
	require.NoError(t, s.RecordRound(ctx, decision.Round{
		TraceID: "t1", ProviderID: "deepseek", Symbol: "BTCUSDT", Timestamp: base,
		User: "prompt", Raw: `{"signal":"BUY"}`, Attempts: 1,
		Signal: signal.Signal{Action: signal.Buy, Confidence: signal.High, StopLoss: 49000, TakeProfit: 51500},
		Report: decision.Report{Adjustments: []string{"止损高于现价, 改为 49000.00"}},
	}))
	require.NoError(t, s.RecordRound(ctx, decision.Round{
		TraceID: "t2", ProviderID: "deepseek", Symbol: "BTCUSDT", Timestamp: base.Add(15 * time.Minute),
		Attempts: 2, Signal: signal.Fallback(50000, base), Error: "timeout",
	}))

	list, err := s.ListDecisions(ctx, Query{Symbol: "BTCUSDT"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "t2", list[0].TraceID)
	assert.True(t, list[0].IsFallback)
	assert.Equal(t, "timeout", list[0].Error)
	assert.Equal(t, []string{"止损高于现价, 改为 49000.00"}, list[1].Adjustments)

	n, err := s.CountDecisions(ctx, Query{Signal: "buy"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, err := s.GetDecision(ctx, list[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "HIGH", rec.Confidence)
	assert.Equal(t, base.UnixMilli(), rec.Timestamp)
}

func TestClosedStoreErrors(t *testing.T) {
	s, err := NewDecisionLogStore(filepath.Join(t.TempDir(), "d.db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	_, err = s.ListDecisions(context.Background(), Query{})
	assert.Error(t, err)
}
