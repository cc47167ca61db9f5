package config

import (
	"strings"
)

// 默认值常量
const (
	defaultAppEnv         = "dev"
	defaultAppLogLevel    = "info"
	defaultAppLogFormat   = "text"
	defaultAppHTTPAddr    = ":8080"
	defaultExchangeName   = "binance"
	defaultExchangeREST   = "https://fapi.binance.com"
	defaultHTTPTimeout    = 15
	defaultRecvWindow     = 5000
	defaultReadAttempts   = 3
	defaultReadRetryMs    = 1000
	defaultSymbol         = "BTCUSDT"
	defaultTimeframe      = "15m"
	defaultDataPoints     = 168
	defaultLeverage       = 10
	defaultMarginMode     = "cross"
	defaultBaseUSDT       = 100
	defaultHighMult       = 1.5
	defaultMediumMult     = 1.0
	defaultLowMult        = 0.5
	defaultTrendMult      = 1.2
	defaultMaxPosRatio    = 0.5
	defaultFixedContracts = 0.1
	defaultInterval       = "15m"
	defaultProviderID     = "deepseek"
	defaultAIBaseURL      = "https://api.deepseek.com"
	defaultAIModel        = "deepseek-chat"
	defaultAITemperature  = 0.1
	defaultAIMaxTokens    = 800
	defaultAITimeout      = 60
	defaultAIAttempts     = 2
	defaultAIPause        = 1.0
	defaultSentiment      = "cryptoracle"
	defaultSentTimeout    = 10
	defaultMinRebalance   = 0.01
	defaultSizeTolerance  = 0.01
	defaultPriceTolerance = 1.0
	defaultFlipSettle     = 1.0
	defaultFlipConfirm    = 10.0
	defaultPostTrade      = 2.0
	defaultDataDir        = "data"
	defaultTradeLimit     = 500
	defaultEquityLimit    = 1000
	defaultStaleMinutes   = 30
	defaultDecisionLog    = "data/decisions.db"
)

// applyDefaults 为所有子配置应用默认值，只处理文件中未出现的字段。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Exchange.applyDefaults(keys)
	c.Trading.applyDefaults(keys)
	c.Sizing.applyDefaults(keys)
	c.Schedule.applyDefaults(keys)
	c.AI.applyDefaults(keys)
	c.Sentiment.applyDefaults(keys)
	c.Reconcile.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	applyFieldDefaults(keys, boolFieldDefault("metrics.enabled", &c.Metrics.Enabled, true))
}

func (a *AppConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, defaultAppLogFormat),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (e *ExchangeConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("exchange.name", &e.Name, defaultExchangeName),
		stringFieldDefault("exchange.rest_base_url", &e.RESTBaseURL, defaultExchangeREST),
		intFieldDefault("exchange.http_timeout_seconds", &e.HTTPTimeoutSeconds, defaultHTTPTimeout),
		intFieldDefault("exchange.read_attempts", &e.ReadAttempts, defaultReadAttempts),
		intFieldDefault("exchange.read_retry_ms", &e.ReadRetryMillis, defaultReadRetryMs),
		fieldDefault{
			key:   "exchange.recv_window_ms",
			need:  func() bool { return e.RecvWindowMillis <= 0 },
			apply: func() { e.RecvWindowMillis = defaultRecvWindow },
		},
	)
	e.Proxy.URL = strings.TrimSpace(e.Proxy.URL)
}

func (t *TradingConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("trading.symbol", &t.Symbol, defaultSymbol),
		stringFieldDefault("trading.timeframe", &t.Timeframe, defaultTimeframe),
		intFieldDefault("trading.data_points", &t.DataPoints, defaultDataPoints),
		intFieldDefault("trading.leverage", &t.Leverage, defaultLeverage),
		stringFieldDefault("trading.margin_mode", &t.MarginMode, defaultMarginMode),
	)
	t.MarginMode = strings.ToLower(strings.TrimSpace(t.MarginMode))
}

func (s *SizingConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		boolFieldDefault("sizing.enabled", &s.Enabled, true),
		floatFieldDefault("sizing.base_usdt_amount", &s.BaseUSDTAmount, defaultBaseUSDT),
		floatFieldDefault("sizing.high_confidence_multiplier", &s.HighMultiplier, defaultHighMult),
		floatFieldDefault("sizing.medium_confidence_multiplier", &s.MediumMultiplier, defaultMediumMult),
		floatFieldDefault("sizing.low_confidence_multiplier", &s.LowMultiplier, defaultLowMult),
		floatFieldDefault("sizing.trend_strength_multiplier", &s.TrendMultiplier, defaultTrendMult),
		floatFieldDefault("sizing.max_position_ratio", &s.MaxPositionRatio, defaultMaxPosRatio),
		floatFieldDefault("sizing.fixed_contracts", &s.FixedContracts, defaultFixedContracts),
	)
}

func (s *ScheduleConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys, stringFieldDefault("schedule.interval", &s.Interval, defaultInterval))
}

func (a *AIConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		boolFieldDefault("ai.enabled", &a.Enabled, true),
		stringFieldDefault("ai.provider_id", &a.ProviderID, defaultProviderID),
		stringFieldDefault("ai.base_url", &a.BaseURL, defaultAIBaseURL),
		stringFieldDefault("ai.model", &a.Model, defaultAIModel),
		floatFieldDefault("ai.temperature", &a.Temperature, defaultAITemperature),
		intFieldDefault("ai.max_tokens", &a.MaxTokens, defaultAIMaxTokens),
		intFieldDefault("ai.timeout_seconds", &a.TimeoutSeconds, defaultAITimeout),
		intFieldDefault("ai.max_attempts", &a.MaxAttempts, defaultAIAttempts),
		floatFieldDefault("ai.retry_pause_seconds", &a.RetryPauseSeconds, defaultAIPause),
	)
}

func (s *SentimentConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("sentiment.provider", &s.Provider, defaultSentiment),
		intFieldDefault("sentiment.timeout_seconds", &s.TimeoutSeconds, defaultSentTimeout),
	)
	s.Provider = strings.ToLower(strings.TrimSpace(s.Provider))
}

func (r *ReconcileConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		floatFieldDefault("reconcile.min_rebalance", &r.MinRebalance, defaultMinRebalance),
		floatFieldDefault("reconcile.size_tolerance", &r.SizeTolerance, defaultSizeTolerance),
		floatFieldDefault("reconcile.price_tolerance", &r.PriceTolerance, defaultPriceTolerance),
		floatFieldDefault("reconcile.flip_settle_seconds", &r.FlipSettleSeconds, defaultFlipSettle),
		floatFieldDefault("reconcile.flip_confirm_timeout_seconds", &r.FlipConfirmTimeoutSeconds, defaultFlipConfirm),
		floatFieldDefault("reconcile.post_trade_settle_seconds", &r.PostTradeSettleSeconds, defaultPostTrade),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("store.data_dir", &s.DataDir, defaultDataDir),
		intFieldDefault("store.trade_limit", &s.TradeLimit, defaultTradeLimit),
		intFieldDefault("store.equity_limit", &s.EquityLimit, defaultEquityLimit),
		intFieldDefault("store.stale_minutes", &s.StaleMinutes, defaultStaleMinutes),
		stringFieldDefault("store.decision_log_path", &s.DecisionLogPath, defaultDecisionLog),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return strings.TrimSpace(*target) == "" },
		apply: func() { *target = def },
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target <= 0 },
		apply: func() { *target = def },
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target <= 0 },
		apply: func() { *target = def },
	}
}

// boolFieldDefault 仅在文件未显式设置时生效，因为 false 本身是合法取值。
func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:   key,
		apply: func() { *target = def },
	}
}
