package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"perpbot/internal/logger"
)

// Sentiment is the optional crowd-mood reading attached to the prompt.
// Positive and Negative are ratios in [0,1]; Net is Positive-Negative.
type Sentiment struct {
	Source       string
	Positive     float64
	Negative     float64
	Net          float64
	Label        string
	PeriodStart  time.Time
	DelayMinutes int
	FetchedAt    time.Time
}

// Line renders the reading for the prompt.
func (s Sentiment) Line() string {
	if s.Label != "" {
		return fmt.Sprintf("%s: %s (净值 %+.3f, 数据延迟 %d 分钟)", s.Source, s.Label, s.Net, s.DelayMinutes)
	}
	return fmt.Sprintf("%s: 乐观 %.1f%% 悲观 %.1f%% 净值 %+.3f (数据延迟 %d 分钟)",
		s.Source, s.Positive*100, s.Negative*100, s.Net, s.DelayMinutes)
}

// SentimentSource fetches one reading for a base asset such as BTC.
type SentimentSource interface {
	Name() string
	Fetch(ctx context.Context, token string) (Sentiment, error)
}

// CachedSentiment wraps a source and reuses the last good reading for ttl.
// Errors are logged and reported as "unavailable" (ok=false).
type CachedSentiment struct {
	source SentimentSource
	ttl    time.Duration
	clock  func() time.Time

	mu        sync.Mutex
	last      Sentiment
	lastToken string
	fetchedAt time.Time
}

func NewCachedSentiment(source SentimentSource, ttl time.Duration) *CachedSentiment {
	return &CachedSentiment{source: source, ttl: ttl, clock: time.Now}
}

// Get returns a reading for token. It never returns an error; a failed
// fetch degrades to ok=false so the cycle carries on without sentiment.
func (c *CachedSentiment) Get(ctx context.Context, token string) (Sentiment, bool) {
	if c == nil || c.source == nil {
		return Sentiment{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock()
	if c.lastToken == token && !c.fetchedAt.IsZero() && now.Sub(c.fetchedAt) < c.ttl {
		return c.last, true
	}
	s, err := c.source.Fetch(ctx, token)
	if err != nil {
		logger.Warnf("情绪数据获取失败 source=%s: %v", c.source.Name(), err)
		return Sentiment{}, false
	}
	s.FetchedAt = now
	c.last = s
	c.lastToken = token
	c.fetchedAt = now
	return s, true
}
