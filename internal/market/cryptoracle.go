package market

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	cryptoracleEndpoint = "https://service.cryptoracle.network/openapi/v2/endpoint"
	cryptoraclePositive = "CO-A-02-01"
	cryptoracleNegative = "CO-A-02-02"
	cryptoracleLayout   = "2006-01-02 15:04:05"
	cryptoracleLookback = 4 * time.Hour
)

// CryptoracleSource reads the positive/negative ratio pair from the
// cryptoracle open API.
type CryptoracleSource struct {
	Endpoint string
	APIKey   string
	Bucket   string
	Client   *http.Client
	clock    func() time.Time
}

func NewCryptoracleSource(apiKey, endpoint string, timeout time.Duration) *CryptoracleSource {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = cryptoracleEndpoint
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CryptoracleSource{
		Endpoint: endpoint,
		APIKey:   apiKey,
		Bucket:   "15m",
		Client:   &http.Client{Timeout: timeout},
		clock:    time.Now,
	}
}

func (s *CryptoracleSource) Name() string { return "cryptoracle" }

type cryptoracleRequest struct {
	APIKey    string   `json:"apiKey"`
	Endpoints []string `json:"endpoints"`
	StartTime string   `json:"startTime"`
	EndTime   string   `json:"endTime"`
	TimeType  string   `json:"timeType"`
	Token     []string `json:"token"`
}

func (s *CryptoracleSource) Fetch(ctx context.Context, token string) (Sentiment, error) {
	if strings.TrimSpace(s.APIKey) == "" {
		return Sentiment{}, fmt.Errorf("cryptoracle api key not configured")
	}
	now := s.clock()
	body, err := json.Marshal(cryptoracleRequest{
		APIKey:    s.APIKey,
		Endpoints: []string{cryptoraclePositive, cryptoracleNegative},
		StartTime: now.Add(-cryptoracleLookback).Format(cryptoracleLayout),
		EndTime:   now.Format(cryptoracleLayout),
		TimeType:  s.Bucket,
		Token:     []string{strings.ToUpper(token)},
	})
	if err != nil {
		return Sentiment{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Sentiment{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", s.APIKey)
	resp, err := s.Client.Do(req)
	if err != nil {
		return Sentiment{}, fmt.Errorf("cryptoracle request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Sentiment{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Sentiment{}, fmt.Errorf("cryptoracle status %s", resp.Status)
	}
	return parseCryptoracle(raw, now)
}

// parseCryptoracle picks the first time period carrying both ratios.
func parseCryptoracle(raw []byte, now time.Time) (Sentiment, error) {
	if !gjson.ValidBytes(raw) {
		return Sentiment{}, fmt.Errorf("cryptoracle: invalid json")
	}
	if code := gjson.GetBytes(raw, "code").Int(); code != 200 {
		return Sentiment{}, fmt.Errorf("cryptoracle: code=%d msg=%s", code, gjson.GetBytes(raw, "msg").String())
	}
	periods := gjson.GetBytes(raw, "data.0.timePeriods")
	if !periods.IsArray() {
		return Sentiment{}, fmt.Errorf("cryptoracle: no time periods")
	}
	var (
		out   Sentiment
		found bool
	)
	periods.ForEach(func(_, period gjson.Result) bool {
		values := map[string]float64{}
		period.Get("data").ForEach(func(_, item gjson.Result) bool {
			v := strings.TrimSpace(item.Get("value").String())
			if v == "" {
				return true
			}
			parsed := gjson.Parse(v)
			if parsed.Type != gjson.Number {
				return true
			}
			ep := item.Get("endpoint").String()
			if ep == cryptoraclePositive || ep == cryptoracleNegative {
				values[ep] = parsed.Float()
			}
			return true
		})
		pos, okPos := values[cryptoraclePositive]
		neg, okNeg := values[cryptoracleNegative]
		if !okPos || !okNeg {
			return true
		}
		out = Sentiment{
			Source:   "cryptoracle",
			Positive: pos,
			Negative: neg,
			Net:      pos - neg,
		}
		if start, err := time.ParseInLocation(cryptoracleLayout, period.Get("startTime").String(), now.Location()); err == nil {
			out.PeriodStart = start
			out.DelayMinutes = int(now.Sub(start) / time.Minute)
		}
		found = true
		return false
	})
	if !found {
		return Sentiment{}, fmt.Errorf("cryptoracle: all periods empty")
	}
	return out, nil
}
