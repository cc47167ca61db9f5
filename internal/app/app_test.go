package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpbot/internal/config"
	"perpbot/internal/gateway/exchange"
	"perpbot/internal/market"
	"perpbot/internal/store/decisionlog"
	"perpbot/internal/store/jsonstore"
)

type paperVenue struct{}

func (paperVenue) Name() string { return "paper" }
func (paperVenue) Candles(_ context.Context, _, _ string, limit int) ([]market.Candle, error) {
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	out := make([]market.Candle, 100)
	for i := range out {
		c := 3000 + float64(i%7)
		out[i] = market.Candle{OpenTime: start.Add(time.Duration(i) * 15 * time.Minute).UnixMilli(), Open: c, High: c + 5, Low: c - 5, Close: c + 1, Volume: 10}
	}
	return out, nil
}
func (paperVenue) Ticker(context.Context, string) (exchange.Ticker, error) {
	return exchange.Ticker{Last: 3001}, nil
}
func (paperVenue) Balance(context.Context) (exchange.Balance, error) {
	return exchange.Balance{Asset: "USDT", Free: 500, Total: 500}, nil
}
func (paperVenue) Position(context.Context, string) (*exchange.Position, error) { return nil, nil }
func (paperVenue) PlaceMarketOrder(context.Context, exchange.OrderRequest) (exchange.OrderResult, error) {
	return exchange.OrderResult{}, errors.New("paper venue does not trade")
}
func (paperVenue) PlaceConditionalOrder(context.Context, exchange.ConditionalRequest) (string, error) {
	return "", errors.New("paper venue does not trade")
}
func (paperVenue) CancelConditionalOrder(context.Context, string, string) error { return nil }
func (paperVenue) ListConditionalOrders(context.Context, string) ([]exchange.ConditionalOrder, error) {
	return nil, nil
}
func (paperVenue) Instrument(context.Context, string) (exchange.Instrument, error) {
	return exchange.Instrument{Symbol: "ETHUSDT", ContractMultiplier: 1, MinQty: 0.001, QtyStep: 0.001, TickSize: 0.01}, nil
}
func (paperVenue) Prepare(context.Context, exchange.SetupRequest) error { return nil }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf(`app:
  http_addr: "127.0.0.1:0"
trading:
  symbol: ETHUSDT
  test_mode: true
ai:
  enabled: false
sentiment:
  enabled: false
store:
  data_dir: %q
  sqlite_mirror: %q
  decision_log_path: %q
notify:
  telegram:
    enabled: false
`, filepath.Join(dir, "data"), filepath.Join(dir, "trades.db"), filepath.Join(dir, "decisions.db"))
	p := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	cfg, err := config.Load(p)
	require.NoError(t, err)
	return cfg
}

func TestBuildAndRunOneCycle(t *testing.T) {
	cfg := testConfig(t)
	a, err := NewAppBuilder(cfg, WithExchange(paperVenue{})).Build(context.Background())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	require.NotNil(t, a.Engine())
	require.NotNil(t, a.server)
	assert.Len(t, a.Summary.Stores, 3)
	assert.True(t, a.Summary.Trading.TestMode)
	assert.Equal(t, "paper", a.Summary.Trading.Exchange)

	var buf bytes.Buffer
	a.Summary.Render(&buf)
	assert.Contains(t, buf.String(), "测试模式")

	require.NoError(t, a.Engine().RunCycle(context.Background()))

	st, err := jsonstore.New(cfg.Store.DataDir, jsonstore.Options{})
	require.NoError(t, err)
	doc, err := st.LoadState()
	require.NoError(t, err)
	assert.Equal(t, jsonstore.StatusRunning, doc.Status)
	assert.Equal(t, "HOLD", doc.Signal.Signal)
	assert.True(t, doc.Signal.IsFallback)

	logs, err := decisionlog.NewDecisionLogStore(cfg.Store.DecisionLogPath)
	require.NoError(t, err)
	defer logs.Close()
	n, err := logs.CountDecisions(context.Background(), decisionlog.Query{Symbol: "ETHUSDT"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBuildRejectsNilConfig(t *testing.T) {
	_, err := NewAppBuilder(nil).Build(context.Background())
	assert.Error(t, err)
}

func TestSuperviseRestartsFailedMember(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var runs int32
	err := supervise(ctx, "test", time.Millisecond, func(ctx context.Context) error {
		switch atomic.AddInt32(&runs, 1) {
		case 1:
			return errors.New("boom")
		case 2:
			panic("kaboom")
		default:
			cancel()
			<-ctx.Done()
			return ctx.Err()
		}
	})
	assert.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&runs))
}

func TestSuperviseStopsDuringDelay(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := supervise(ctx, "test", time.Hour, func(context.Context) error { return nil })
	assert.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
}
