package gormstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpbot/internal/store"
)

func TestAppendAndListTrades(t *testing.T) {
	s, err := NewGormStore(filepath.Join(t.TempDir(), "db", "trades.db"))
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.AppendTrade(ctx, store.TradeRecord{ID: "a", Symbol: "BTCUSDT", Signal: "BUY", Amount: 0.3, Timestamp: base, OrderIDs: []string{"1"}}))
	require.NoError(t, s.AppendTrade(ctx, store.TradeRecord{ID: "b", Symbol: "BTCUSDT", Signal: "SELL", Amount: 0.2, PnL: 1.5, Timestamp: base.Add(time.Hour)}))
	// same id updates in place
	require.NoError(t, s.AppendTrade(ctx, store.TradeRecord{ID: "b", Symbol: "BTCUSDT", Signal: "SELL", Amount: 0.2, PnL: 2.5, Timestamp: base.Add(time.Hour)}))

	n, err := s.CountTrades(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	trades, err := s.ListTrades(ctx, "", 10, 0)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "b", trades[0].ID)
	assert.Equal(t, 2.5, trades[0].PnL)
	assert.Equal(t, []string{"1"}, trades[1].OrderIDs)
	assert.True(t, trades[1].Timestamp.Equal(base))
}

func TestNewGormStoreRejectsEmptyPath(t *testing.T) {
	_, err := NewGormStore("  ")
	assert.Error(t, err)
}
