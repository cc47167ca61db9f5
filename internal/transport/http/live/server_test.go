package livehttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpbot/internal/decision"
	"perpbot/internal/signal"
	"perpbot/internal/store"
	"perpbot/internal/store/decisionlog"
	"perpbot/internal/store/jsonstore"
)

func newTestServer(t *testing.T, st *jsonstore.Store, logs *decisionlog.DecisionLogStore, now time.Time) http.Handler {
	t.Helper()
	srv, err := NewServer(ServerConfig{
		State:   st,
		Logs:    logs,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("perpbot_up 1\n")) }),
		Now:     func() time.Time { return now },
	})
	require.NoError(t, err)
	return srv.Handler()
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestStatusMissingDocument(t *testing.T) {
	st, err := jsonstore.New(t.TempDir(), jsonstore.Options{})
	require.NoError(t, err)
	h := newTestServer(t, st, nil, time.Now())
	rec := get(t, h, "/api/status")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusStaleFlag(t *testing.T) {
	st, err := jsonstore.New(t.TempDir(), jsonstore.Options{})
	require.NoError(t, err)
	require.NoError(t, st.Init(jsonstore.DefaultState("BTCUSDT", "15m", "全仓-单向")))

	fresh := newTestServer(t, st, nil, time.Now().Add(5*time.Minute))
	rec := get(t, fresh, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var view StatusView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.False(t, view.Stale)
	assert.Equal(t, "running", view.Status)
	assert.Equal(t, "HOLD", view.Signal.Signal)

	late := newTestServer(t, st, nil, time.Now().Add(31*time.Minute))
	rec = get(t, late, "/api/status")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.True(t, view.Stale)
}

func TestTradesEquityPerformance(t *testing.T) {
	st, err := jsonstore.New(t.TempDir(), jsonstore.Options{})
	require.NoError(t, err)
	ctx := context.Background()
	for _, pnl := range []float64{4, -1, 2} {
		require.NoError(t, st.AppendTrade(ctx, store.TradeRecord{Signal: "BUY", Transition: "flip", PnL: pnl, Timestamp: time.Now()}))
		require.NoError(t, st.AppendEquity(store.EquityPoint{Equity: 1000 + pnl}))
	}
	h := newTestServer(t, st, nil, time.Now())

	rec := get(t, h, "/api/trades?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	var trades struct {
		Trades []store.TradeRecord `json:"trades"`
		Count  int                 `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trades))
	assert.Equal(t, 2, trades.Count)
	assert.Equal(t, 2.0, trades.Trades[1].PnL)

	rec = get(t, h, "/api/equity")
	assert.Contains(t, rec.Body.String(), `"count":3`)

	rec = get(t, h, "/api/performance")
	var perf store.Performance
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &perf))
	assert.Equal(t, 3, perf.TotalTrades)
	assert.InDelta(t, 5.0, perf.TotalPnL, 1e-9)

	rec = get(t, h, "/dashboard")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "echarts")
	assert.Contains(t, rec.Body.String(), "Trade PnL")
}

func TestDecisionsEndpoint(t *testing.T) {
	st, err := jsonstore.New(t.TempDir(), jsonstore.Options{})
	require.NoError(t, err)
	h := newTestServer(t, st, nil, time.Now())
	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/api/decisions").Code)

	logs, err := decisionlog.NewDecisionLogStore(filepath.Join(t.TempDir(), "decisions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = logs.Close() })
	require.NoError(t, logs.RecordRound(context.Background(), decision.Round{
		TraceID:   "t1",
		Symbol:    "BTCUSDT",
		Timestamp: time.Now(),
		Signal:    signal.Signal{Action: signal.Buy, Confidence: signal.High, Reason: "突破"},
	}))
	h = newTestServer(t, st, logs, time.Now())
	rec := get(t, h, "/api/decisions?symbol=BTCUSDT")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total_count":1`)
	assert.Contains(t, rec.Body.String(), "突破")
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/decisions/abc").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/decisions/99").Code)
}

func TestHealthAndMetrics(t *testing.T) {
	st, err := jsonstore.New(t.TempDir(), jsonstore.Options{})
	require.NoError(t, err)
	h := newTestServer(t, st, nil, time.Now())
	assert.Equal(t, http.StatusOK, get(t, h, "/healthz").Code)
	assert.Contains(t, get(t, h, "/metrics").Body.String(), "perpbot_up")
}

func TestNewServerRequiresState(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	assert.Error(t, err)
}
