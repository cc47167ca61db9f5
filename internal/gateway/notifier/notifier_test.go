package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelegramRetriesThenSucceeds(t *testing.T) {
	var calls int32
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tg := NewTelegram("TOKEN", "42")
	tg.BaseURL = srv.URL
	tg.sleep = func(context.Context, time.Duration) error { return nil }
	require.NoError(t, tg.SendText(context.Background(), "hello"))
	assert.Equal(t, int32(2), calls)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "hello", got["text"])
}

func TestTelegramGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	tg := NewTelegram("TOKEN", "42")
	tg.BaseURL = srv.URL
	tg.sleep = func(context.Context, time.Duration) error { return nil }
	err := tg.SendText(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestTelegramRequiresConfig(t *testing.T) {
	assert.Error(t, NewTelegram("", "1").SendText(context.Background(), "x"))
	assert.NoError(t, Nop{}.SendText(context.Background(), "x"))
}

func TestMessageMarkdown(t *testing.T) {
	msg := Message{
		Icon:  "🟢",
		Title: "开多 BTCUSDT",
		Sections: []MessageSection{
			{Title: "成交", Lines: []string{"数量 0.30", " ", "价格 50000.00"}},
			{Title: "空段", Lines: []string{""}},
			{Title: "理由", Lines: []string{"突破```阻力"}},
		},
		Timestamp: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC),
	}
	out := msg.Markdown()
	assert.True(t, strings.HasPrefix(out, "🟢 开多 BTCUSDT\n\n```\n成交\n- 数量 0.30\n- 价格 50000.00\n"))
	assert.NotContains(t, out, "空段")
	assert.Contains(t, out, "突破'''阻力")
	assert.True(t, strings.HasSuffix(out, "时间：2026-05-01 08:00:00 UTC"))
}

func TestTelegramClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
	}))
	defer srv.Close()
	tg := NewTelegram("TOKEN", "42")
	tg.BaseURL = srv.URL
	tg.sleep = func(context.Context, time.Duration) error { return nil }
	err := tg.SendText(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
	assert.Equal(t, int32(1), calls)
}

func TestTelegramHonoursRetryAfter(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"ok":false,"parameters":{"retry_after":7}}`))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	var waits []time.Duration
	tg := NewTelegram("TOKEN", "42")
	tg.BaseURL = srv.URL
	tg.sleep = func(_ context.Context, d time.Duration) error { waits = append(waits, d); return nil }
	require.NoError(t, tg.SendText(context.Background(), "x"))
	assert.Equal(t, []time.Duration{7 * time.Second}, waits)
}
