package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const telegramAPI = "https://api.telegram.org"

// Telegram 推送成交、反手、保守信号与熔断告警。
type Telegram struct {
	BotToken string
	ChatID   string
	BaseURL  string
	Client   *http.Client
	Attempts int

	sleep func(context.Context, time.Duration) error
}

func NewTelegram(botToken, chatID string) *Telegram {
	return &Telegram{
		BotToken: strings.TrimSpace(botToken),
		ChatID:   strings.TrimSpace(chatID),
		BaseURL:  telegramAPI,
		Client:   &http.Client{Timeout: 15 * time.Second},
		Attempts: 3,
		sleep:    sleepCtx,
	}
}

// apiError is a rejection by the Bot API. Only 429 and 5xx are retried.
type apiError struct {
	status     int
	desc       string
	retryAfter time.Duration
}

func (e *apiError) Error() string {
	if e.desc == "" {
		return fmt.Sprintf("telegram status=%d", e.status)
	}
	return fmt.Sprintf("telegram status=%d: %s", e.status, e.desc)
}

func (e *apiError) retryable() bool {
	return e.status == http.StatusTooManyRequests || e.status >= 500
}

// SendText 发送 Markdown 文本, 对限流和服务端错误做有限次重试。
func (t *Telegram) SendText(ctx context.Context, text string) error {
	if t.BotToken == "" || t.ChatID == "" {
		return errors.New("Telegram 配置不完整")
	}
	endpoint := strings.TrimRight(t.BaseURL, "/") + "/bot" + t.BotToken + "/sendMessage"
	body, err := json.Marshal(map[string]string{
		"chat_id":    t.ChatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return err
	}

	for attempt := 1; ; attempt++ {
		sendErr := t.post(ctx, endpoint, body)
		if sendErr == nil {
			return nil
		}
		var apiErr *apiError
		if errors.As(sendErr, &apiErr) && !apiErr.retryable() {
			return sendErr
		}
		if attempt >= max(t.Attempts, 1) {
			return sendErr
		}
		wait := time.Duration(attempt) * time.Second
		if apiErr != nil && apiErr.retryAfter > wait {
			wait = apiErr.retryAfter
		}
		if err := t.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (t *Telegram) post(ctx context.Context, endpoint string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode/100 == 2 {
		return nil
	}
	res := gjson.ParseBytes(raw)
	return &apiError{
		status:     resp.StatusCode,
		desc:       res.Get("description").String(),
		retryAfter: time.Duration(res.Get("parameters.retry_after").Int()) * time.Second,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
