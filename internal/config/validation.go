package config

import (
	"fmt"
	"strings"

	"perpbot/internal/pkg/symbol"
	"perpbot/internal/scheduler"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Trading.validate(); err != nil {
		return err
	}
	if err := c.Sizing.validate(); err != nil {
		return err
	}
	if err := c.Schedule.validate(); err != nil {
		return err
	}
	if err := c.AI.validate(); err != nil {
		return err
	}
	if err := c.Sentiment.validate(); err != nil {
		return err
	}
	if err := c.Reconcile.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	if c.Exchange.Name != defaultExchangeName {
		return fmt.Errorf("exchange.name %q not supported", c.Exchange.Name)
	}
	if c.Exchange.ReadAttempts < 1 || c.Exchange.ReadAttempts > 10 {
		return fmt.Errorf("exchange.read_attempts must be within [1,10], got %d", c.Exchange.ReadAttempts)
	}
	if c.Exchange.Proxy.Enabled && c.Exchange.Proxy.URL == "" {
		return fmt.Errorf("exchange.proxy.url is required when proxy is enabled")
	}
	return nil
}

func (t *TradingConfig) validate() error {
	if !symbol.IsValid(t.Symbol) {
		return fmt.Errorf("trading.symbol %q is not a BASE/QUOTE pair", t.Symbol)
	}
	if _, ok := scheduler.ParseIntervalDuration(t.Timeframe); !ok {
		return fmt.Errorf("trading.timeframe %q is invalid", t.Timeframe)
	}
	if t.DataPoints < 60 || t.DataPoints > 1500 {
		return fmt.Errorf("trading.data_points must be within [60,1500]")
	}
	if t.Leverage < 1 || t.Leverage > 125 {
		return fmt.Errorf("trading.leverage must be within [1,125]")
	}
	switch t.MarginMode {
	case "cross", "isolated":
	default:
		return fmt.Errorf("trading.margin_mode must be cross or isolated")
	}
	return nil
}

func (s *SizingConfig) validate() error {
	if s.BaseUSDTAmount <= 0 {
		return fmt.Errorf("sizing.base_usdt_amount must be > 0")
	}
	if s.HighMultiplier <= 0 || s.MediumMultiplier <= 0 || s.LowMultiplier <= 0 || s.TrendMultiplier <= 0 {
		return fmt.Errorf("sizing multipliers must be > 0")
	}
	if s.MaxPositionRatio <= 0 || s.MaxPositionRatio > 1 {
		return fmt.Errorf("sizing.max_position_ratio must be within (0,1]")
	}
	if s.FixedContracts <= 0 {
		return fmt.Errorf("sizing.fixed_contracts must be > 0")
	}
	return nil
}

func (s *ScheduleConfig) validate() error {
	d, ok := scheduler.ParseIntervalDuration(s.Interval)
	if !ok {
		return fmt.Errorf("schedule.interval %q is invalid", s.Interval)
	}
	if s.OffsetSeconds < 0 || s.Offset() >= d {
		return fmt.Errorf("schedule.offset_seconds must be within [0,%s)", d)
	}
	return nil
}

func (a *AIConfig) validate() error {
	if !a.Enabled {
		return nil
	}
	if strings.TrimSpace(a.Model) == "" {
		return fmt.Errorf("ai.model is required")
	}
	if a.MaxAttempts < 1 || a.MaxAttempts > 5 {
		return fmt.Errorf("ai.max_attempts must be within [1,5]")
	}
	if a.Temperature < 0 || a.Temperature > 2 {
		return fmt.Errorf("ai.temperature must be within [0,2]")
	}
	return nil
}

func (s *SentimentConfig) validate() error {
	if !s.Enabled {
		return nil
	}
	switch s.Provider {
	case "cryptoracle", "fear_greed":
	default:
		return fmt.Errorf("sentiment.provider must be cryptoracle or fear_greed")
	}
	return nil
}

func (r *ReconcileConfig) validate() error {
	if r.MinRebalance <= 0 || r.SizeTolerance <= 0 || r.PriceTolerance <= 0 {
		return fmt.Errorf("reconcile tolerances must be > 0")
	}
	if r.FlipConfirmTimeoutSeconds < r.FlipSettleSeconds {
		return fmt.Errorf("reconcile.flip_confirm_timeout_seconds must be >= flip_settle_seconds")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	tg := n.Telegram
	if tg.Enabled && (strings.TrimSpace(tg.BotToken) == "" || strings.TrimSpace(tg.ChatID) == "") {
		return fmt.Errorf("notify.telegram requires bot_token and chat_id when enabled")
	}
	return nil
}
