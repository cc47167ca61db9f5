package config

import (
	"strings"
	"time"
)

// Config 是 perpbot 的主配置载体。
type Config struct {
	App       AppConfig       `toml:"app"`
	Exchange  ExchangeConfig  `toml:"exchange"`
	Trading   TradingConfig   `toml:"trading"`
	Sizing    SizingConfig    `toml:"sizing"`
	Schedule  ScheduleConfig  `toml:"schedule"`
	AI        AIConfig        `toml:"ai"`
	Sentiment SentimentConfig `toml:"sentiment"`
	Reconcile ReconcileConfig `toml:"reconcile"`
	Store     StoreConfig     `toml:"store"`
	Notify    NotifyConfig    `toml:"notify"`
	Metrics   MetricsConfig   `toml:"metrics"`
}

type AppConfig struct {
	Env       string `toml:"env"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	HTTPAddr  string `toml:"http_addr"`
	LogPath   string `toml:"log_path"`
	LLMLog    string `toml:"llm_log_path"`
	LLMDump   bool   `toml:"llm_dump_payload"`
}

type ProxyConfig struct {
	Enabled bool   `toml:"enabled"`
	URL     string `toml:"url"`
}

// ExchangeConfig 描述交易所连接，密钥优先读取环境变量。
type ExchangeConfig struct {
	Name               string      `toml:"name"`
	APIKey             string      `toml:"api_key"`
	SecretKey          string      `toml:"secret_key"`
	RESTBaseURL        string      `toml:"rest_base_url"`
	HTTPTimeoutSeconds int         `toml:"http_timeout_seconds"`
	RecvWindowMillis   int64       `toml:"recv_window_ms"`
	ReadAttempts       int         `toml:"read_attempts"`
	ReadRetryMillis    int         `toml:"read_retry_ms"`
	Proxy              ProxyConfig `toml:"proxy"`
}

// TradingConfig 描述交易标的与账户设置。
type TradingConfig struct {
	Symbol     string `toml:"symbol"`
	Timeframe  string `toml:"timeframe"`
	DataPoints int    `toml:"data_points"`
	Leverage   int    `toml:"leverage"`
	MarginMode string `toml:"margin_mode"`
	// TestMode 只记录将要执行的操作，不向交易所下单。
	TestMode bool `toml:"test_mode"`
}

type SizingConfig struct {
	Enabled          bool    `toml:"enabled"`
	BaseUSDTAmount   float64 `toml:"base_usdt_amount"`
	HighMultiplier   float64 `toml:"high_confidence_multiplier"`
	MediumMultiplier float64 `toml:"medium_confidence_multiplier"`
	LowMultiplier    float64 `toml:"low_confidence_multiplier"`
	TrendMultiplier  float64 `toml:"trend_strength_multiplier"`
	MaxPositionRatio float64 `toml:"max_position_ratio"`
	FixedContracts   float64 `toml:"fixed_contracts"`
}

type ScheduleConfig struct {
	Interval       string `toml:"interval"`
	OffsetSeconds  int    `toml:"offset_seconds"`
	RunImmediately bool   `toml:"run_immediately"`
}

// AIConfig 描述信号模型（OpenAI 兼容接口）。
type AIConfig struct {
	Enabled           bool    `toml:"enabled"`
	ProviderID        string  `toml:"provider_id"`
	BaseURL           string  `toml:"base_url"`
	APIKey            string  `toml:"api_key"`
	Model             string  `toml:"model"`
	Temperature       float64 `toml:"temperature"`
	MaxTokens         int     `toml:"max_tokens"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
	MaxAttempts       int     `toml:"max_attempts"`
	RetryPauseSeconds float64 `toml:"retry_pause_seconds"`
	PromptPath        string  `toml:"prompt_path"`
}

type SentimentConfig struct {
	Enabled        bool   `toml:"enabled"`
	Provider       string `toml:"provider"`
	APIKey         string `toml:"api_key"`
	Endpoint       string `toml:"endpoint"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type ReconcileConfig struct {
	MinRebalance              float64 `toml:"min_rebalance"`
	SizeTolerance             float64 `toml:"size_tolerance"`
	PriceTolerance            float64 `toml:"price_tolerance"`
	FlipSettleSeconds         float64 `toml:"flip_settle_seconds"`
	FlipConfirmTimeoutSeconds float64 `toml:"flip_confirm_timeout_seconds"`
	PostTradeSettleSeconds    float64 `toml:"post_trade_settle_seconds"`
}

type StoreConfig struct {
	DataDir         string `toml:"data_dir"`
	TradeLimit      int    `toml:"trade_limit"`
	EquityLimit     int    `toml:"equity_limit"`
	StaleMinutes    int    `toml:"stale_minutes"`
	SQLiteMirror    string `toml:"sqlite_mirror"`
	DecisionLogPath string `toml:"decision_log_path"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func (a AIConfig) Timeout() time.Duration    { return time.Duration(a.TimeoutSeconds) * time.Second }
func (a AIConfig) RetryPause() time.Duration { return seconds(a.RetryPauseSeconds) }

func (r ReconcileConfig) FlipSettle() time.Duration { return seconds(r.FlipSettleSeconds) }
func (r ReconcileConfig) FlipConfirmTimeout() time.Duration {
	return seconds(r.FlipConfirmTimeoutSeconds)
}
func (r ReconcileConfig) PostTradeSettle() time.Duration { return seconds(r.PostTradeSettleSeconds) }

func (s StoreConfig) StaleAfter() time.Duration { return time.Duration(s.StaleMinutes) * time.Minute }

func (s ScheduleConfig) Offset() time.Duration { return time.Duration(s.OffsetSeconds) * time.Second }

func (e ExchangeConfig) HTTPTimeout() time.Duration {
	return time.Duration(e.HTTPTimeoutSeconds) * time.Second
}

// ReadRetryPause is the wait between attempts of a failed venue read.
func (e ExchangeConfig) ReadRetryPause() time.Duration {
	return time.Duration(e.ReadRetryMillis) * time.Millisecond
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	_, ok := k[strings.ToLower(strings.TrimSpace(path))]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
