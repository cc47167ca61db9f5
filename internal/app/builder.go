package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"perpbot/internal/agent/engine"
	"perpbot/internal/config"
	"perpbot/internal/decision"
	"perpbot/internal/executor"
	"perpbot/internal/gateway/binance"
	"perpbot/internal/gateway/exchange"
	"perpbot/internal/gateway/notifier"
	"perpbot/internal/gateway/provider"
	"perpbot/internal/logger"
	"perpbot/internal/market"
	"perpbot/internal/metrics"
	"perpbot/internal/prompt"
	"perpbot/internal/scheduler"
	"perpbot/internal/sizing"
	"perpbot/internal/store"
	"perpbot/internal/store/decisionlog"
	"perpbot/internal/store/gormstore"
	"perpbot/internal/store/jsonstore"
	livehttp "perpbot/internal/transport/http/live"
)

// AppBuilder assembles the App. The *Fn hooks exist so tests can swap the
// network-facing collaborators.
type AppBuilder struct {
	cfg *config.Config

	exchangeFn  func(config.ExchangeConfig) (exchange.Exchange, error)
	providerFn  func(config.AIConfig) (provider.ModelProvider, error)
	sentimentFn func(config.SentimentConfig, time.Duration) engine.SentimentReader
	notifierFn  func(config.NotifyConfig) notifier.TextNotifier
}

type AppBuilderOption func(*AppBuilder)

// WithExchange replaces the venue client.
func WithExchange(ex exchange.Exchange) AppBuilderOption {
	return func(b *AppBuilder) {
		b.exchangeFn = func(config.ExchangeConfig) (exchange.Exchange, error) { return ex, nil }
	}
}

// WithProvider replaces the oracle client.
func WithProvider(p provider.ModelProvider) AppBuilderOption {
	return func(b *AppBuilder) {
		b.providerFn = func(config.AIConfig) (provider.ModelProvider, error) { return p, nil }
	}
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:         cfg,
		exchangeFn:  buildExchange,
		providerFn:  buildModelProvider,
		sentimentFn: buildSentiment,
		notifierFn:  buildNotifier,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func provideAppBuilder(cfg *config.Config) *AppBuilder {
	return NewAppBuilder(cfg)
}

func provideAppFromBuilder(ctx context.Context, b *AppBuilder) (*App, error) {
	return b.Build(ctx)
}

// Build constructs every collaborator. Nothing here talks to the venue;
// the engine's Setup does that on its first run.
func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	a := &App{cfg: cfg}
	closeOnErr := func(err error) (*App, error) {
		a.Close()
		return nil, err
	}

	interval, ok := scheduler.ParseIntervalDuration(cfg.Schedule.Interval)
	if !ok {
		return nil, fmt.Errorf("invalid schedule interval %q", cfg.Schedule.Interval)
	}
	timeframe, ok := scheduler.ParseIntervalDuration(cfg.Trading.Timeframe)
	if !ok {
		return nil, fmt.Errorf("invalid timeframe %q", cfg.Trading.Timeframe)
	}

	ex, err := b.exchangeFn(cfg.Exchange)
	if err != nil {
		return nil, fmt.Errorf("build exchange: %w", err)
	}

	state, err := jsonstore.New(cfg.Store.DataDir, jsonstore.Options{
		TradeLimit:  cfg.Store.TradeLimit,
		EquityLimit: cfg.Store.EquityLimit,
	})
	if err != nil {
		return nil, err
	}
	journal := store.MultiJournal{state}
	if path := strings.TrimSpace(cfg.Store.SQLiteMirror); path != "" {
		mirror, err := gormstore.NewGormStore(path)
		if err != nil {
			return closeOnErr(fmt.Errorf("open trade mirror: %w", err))
		}
		a.closers = append(a.closers, mirror.Close)
		journal = append(journal, mirror)
		logger.Infof("✓ 交易记录镜像: %s", path)
	}

	var logs *decisionlog.DecisionLogStore
	if path := strings.TrimSpace(cfg.Store.DecisionLogPath); path != "" {
		logs, err = decisionlog.NewDecisionLogStore(path)
		if err != nil {
			return closeOnErr(fmt.Errorf("open decision log: %w", err))
		}
		a.closers = append(a.closers, logs.Close)
	}

	advisor, err := b.buildAdvisor(logs)
	if err != nil {
		return closeOnErr(err)
	}

	var rec *metrics.Recorder
	if cfg.Metrics.Enabled {
		rec = metrics.New(nil)
	}

	var sentiment engine.SentimentReader
	if cfg.Sentiment.Enabled {
		sentiment = b.sentimentFn(cfg.Sentiment, timeframe)
	}

	a.engine = engine.New(engine.Params{
		Symbol:         cfg.Trading.Symbol,
		Timeframe:      cfg.Trading.Timeframe,
		DataPoints:     cfg.Trading.DataPoints,
		Leverage:       cfg.Trading.Leverage,
		MarginMode:     cfg.Trading.MarginMode,
		TestMode:       cfg.Trading.TestMode,
		Interval:       interval,
		Offset:         cfg.Schedule.Offset(),
		RunImmediately: cfg.Schedule.RunImmediately,
		Exchange:       ex,
		Decider:        advisor,
		Sentiment:      sentiment,
		State:          state,
		Journal:        journal,
		Notifier:       b.notifierFn(cfg.Notify),
		Metrics:        rec,
		Sizing:         sizingParams(cfg.Sizing, cfg.Trading.Leverage),
		Reconcile: executor.Options{
			MinRebalance:       cfg.Reconcile.MinRebalance,
			SizeTolerance:      cfg.Reconcile.SizeTolerance,
			PriceTolerance:     cfg.Reconcile.PriceTolerance,
			FlipSettle:         cfg.Reconcile.FlipSettle(),
			FlipConfirmTimeout: cfg.Reconcile.FlipConfirmTimeout(),
			PostTradeSettle:    cfg.Reconcile.PostTradeSettle(),
			ReadAttempts:       cfg.Exchange.ReadAttempts,
			ReadRetryPause:     cfg.Exchange.ReadRetryPause(),
		},
		ReadRetry: exchange.RetryPolicy{
			Attempts: cfg.Exchange.ReadAttempts,
			Pause:    cfg.Exchange.ReadRetryPause(),
		},
	})

	if addr := strings.TrimSpace(cfg.App.HTTPAddr); addr != "" {
		srvCfg := livehttp.ServerConfig{
			Addr:       addr,
			State:      state,
			Logs:       logs,
			StaleAfter: cfg.Store.StaleAfter(),
		}
		if rec != nil {
			srvCfg.Metrics = rec.Handler()
		}
		a.server, err = livehttp.NewServer(srvCfg)
		if err != nil {
			return closeOnErr(err)
		}
	}

	a.Summary = newStartupSummary(cfg, ex.Name(), advisor, a.server)
	return a, nil
}

func (b *AppBuilder) buildAdvisor(logs *decisionlog.DecisionLogStore) (*decision.Advisor, error) {
	cfg := b.cfg.AI
	prompts, err := prompt.NewBuilder(cfg.PromptPath)
	if err != nil {
		return nil, err
	}
	logger.Infof("✓ 提示词模板: %s", prompts.Source())
	adv := &decision.Advisor{
		Prompts:     prompts,
		MaxAttempts: cfg.MaxAttempts,
		Pause:       cfg.RetryPause(),
	}
	if logs != nil {
		adv.Recorder = logs
	}
	if !cfg.Enabled {
		logger.Warnf("AI 信号已关闭, 每轮使用保守信号")
		return adv, nil
	}
	p, err := b.providerFn(cfg)
	if err != nil {
		logger.Warnf("AI 模型初始化失败, 每轮使用保守信号: %v", err)
		return adv, nil
	}
	adv.Provider = p
	return adv, nil
}

func sizingParams(c config.SizingConfig, leverage int) sizing.Params {
	return sizing.Params{
		Enabled:          c.Enabled,
		BaseUSDT:         c.BaseUSDTAmount,
		HighMultiplier:   c.HighMultiplier,
		MediumMultiplier: c.MediumMultiplier,
		LowMultiplier:    c.LowMultiplier,
		TrendMultiplier:  c.TrendMultiplier,
		MaxPositionRatio: c.MaxPositionRatio,
		FixedContracts:   c.FixedContracts,
		Leverage:         leverage,
	}
}

func buildExchange(c config.ExchangeConfig) (exchange.Exchange, error) {
	return binance.New(binance.Config{
		APIKey:       c.APIKey,
		SecretKey:    c.SecretKey,
		RESTBaseURL:  c.RESTBaseURL,
		HTTPTimeout:  c.HTTPTimeout(),
		ProxyEnabled: c.Proxy.Enabled,
		RESTProxyURL: c.Proxy.URL,
		RecvWindow:   c.RecvWindowMillis,
	})
}

func buildModelProvider(c config.AIConfig) (provider.ModelProvider, error) {
	return provider.NewOpenAIModelProvider(provider.ModelCfg{
		ID:          c.ProviderID,
		BaseURL:     c.BaseURL,
		APIKey:      c.APIKey,
		Model:       c.Model,
		Enabled:     true,
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
		Timeout:     c.Timeout(),
	})
}

// buildSentiment caches one reading per timeframe so the source is hit at
// most once per candle.
func buildSentiment(c config.SentimentConfig, ttl time.Duration) engine.SentimentReader {
	timeout := time.Duration(c.TimeoutSeconds) * time.Second
	var src market.SentimentSource
	switch strings.ToLower(strings.TrimSpace(c.Provider)) {
	case "fear_greed":
		src = market.NewFearGreedSource(c.Endpoint, timeout)
	default:
		if strings.TrimSpace(c.APIKey) == "" {
			logger.Warnf("情绪数据已开启但缺少 API key, 跳过")
			return nil
		}
		src = market.NewCryptoracleSource(c.APIKey, c.Endpoint, timeout)
	}
	logger.Infof("✓ 情绪数据源: %s", src.Name())
	return market.NewCachedSentiment(src, ttl)
}

func buildNotifier(c config.NotifyConfig) notifier.TextNotifier {
	if !c.Telegram.Enabled {
		return notifier.Nop{}
	}
	return notifier.NewTelegram(c.Telegram.BotToken, c.Telegram.ChatID)
}
