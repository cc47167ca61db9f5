package market

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const fearGreedEndpoint = "https://api.alternative.me/fng/?limit=1"

// FearGreedSource maps the alternative.me index onto the sentiment shape:
// Positive is value/100 and Negative its complement.
type FearGreedSource struct {
	Endpoint string
	Client   *http.Client
	clock    func() time.Time
}

func NewFearGreedSource(endpoint string, timeout time.Duration) *FearGreedSource {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = fearGreedEndpoint
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &FearGreedSource{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: timeout},
		clock:    time.Now,
	}
}

func (s *FearGreedSource) Name() string { return "fear_greed" }

func (s *FearGreedSource) Fetch(ctx context.Context, _ string) (Sentiment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.Endpoint, nil)
	if err != nil {
		return Sentiment{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.Client.Do(req)
	if err != nil {
		return Sentiment{}, fmt.Errorf("fear & greed request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Sentiment{}, fmt.Errorf("unexpected status %s", resp.Status)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Sentiment{}, err
	}
	return parseFearGreed(raw, s.clock())
}

func parseFearGreed(raw []byte, now time.Time) (Sentiment, error) {
	if !gjson.ValidBytes(raw) {
		return Sentiment{}, fmt.Errorf("fear & greed: invalid json")
	}
	if e := gjson.GetBytes(raw, "metadata.error"); e.Exists() && e.Type != gjson.Null {
		return Sentiment{}, fmt.Errorf("fear & greed api error: %s", e.String())
	}
	item := gjson.GetBytes(raw, "data.0")
	if !item.Exists() {
		return Sentiment{}, fmt.Errorf("fear & greed: api data empty")
	}
	value := item.Get("value").Float()
	if value < 0 || value > 100 {
		return Sentiment{}, fmt.Errorf("fear & greed: value %.0f out of range", value)
	}
	pos := value / 100
	out := Sentiment{
		Source:   "fear_greed",
		Positive: pos,
		Negative: 1 - pos,
		Net:      2*pos - 1,
		Label:    fmt.Sprintf("%.0f %s", value, item.Get("value_classification").String()),
	}
	if ts := item.Get("timestamp").Int(); ts > 0 {
		out.PeriodStart = time.Unix(ts, 0)
		out.DelayMinutes = int(now.Sub(out.PeriodStart) / time.Minute)
	}
	return out, nil
}
