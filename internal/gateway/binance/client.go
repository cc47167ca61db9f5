// Package binance adapts the USDⓈ-M futures REST API to exchange.Exchange.
package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"perpbot/internal/gateway/exchange"
	"perpbot/internal/logger"
	"perpbot/internal/market"
	"perpbot/internal/pkg/convert"
	"perpbot/internal/pkg/symbol"
	"perpbot/internal/scheduler"

	"github.com/adshao/go-binance/v2/futures"
)

const (
	maxHistoryLimit = 1500
	// Linear USDT contracts are quoted one base unit per contract.
	linearMultiplier = 1.0
)

// Client 基于 go-binance SDK 实现 exchange.Exchange。
type Client struct {
	cfg    Config
	client *futures.Client

	mu    sync.Mutex
	specs map[string]exchange.Instrument

	now func() time.Time
}

var _ exchange.Exchange = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	final := cfg.withDefaults()
	client := futures.NewClient(final.APIKey, final.SecretKey)
	client.BaseURL = final.RESTBaseURL
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyEnabled && final.RESTProxyURL != "" {
		proxyURL, err := url.Parse(final.RESTProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	return &Client{
		cfg:    final,
		client: client,
		specs:  make(map[string]exchange.Instrument),
		now:    time.Now,
	}, nil
}

func (c *Client) Name() string { return "binance" }

func (c *Client) recv() futures.RequestOption {
	return futures.WithRecvWindow(c.cfg.RecvWindow)
}

// Candles returns closed bars only, oldest first.
func (c *Client) Candles(ctx context.Context, sym, interval string, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	kls, err := c.client.NewKlinesService().Symbol(symbol.ToBinance(sym)).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, wrapErr("klines", err)
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      convert.ParseFloat(kl.Open),
			High:      convert.ParseFloat(kl.High),
			Low:       convert.ParseFloat(kl.Low),
			Close:     convert.ParseFloat(kl.Close),
			Volume:    convert.ParseFloat(kl.Volume),
			Trades:    kl.TradeNum,
		})
	}
	if dur, ok := scheduler.ParseIntervalDuration(interval); ok {
		out = scheduler.DropUnclosed(out, dur, c.now())
	}
	return out, nil
}

func (c *Client) Ticker(ctx context.Context, sym string) (exchange.Ticker, error) {
	target := symbol.ToBinance(sym)
	stats, err := c.client.NewListPriceChangeStatsService().Symbol(target).Do(ctx)
	if err != nil {
		return exchange.Ticker{}, wrapErr("ticker", err)
	}
	for _, st := range stats {
		if st == nil || !strings.EqualFold(st.Symbol, target) {
			continue
		}
		return exchange.Ticker{
			Symbol:    st.Symbol,
			Last:      convert.ParseFloat(st.LastPrice),
			ChangePct: convert.ParseFloat(st.PriceChangePercent),
			High:      convert.ParseFloat(st.HighPrice),
			Low:       convert.ParseFloat(st.LowPrice),
			Volume:    convert.ParseFloat(st.Volume),
		}, nil
	}
	return exchange.Ticker{}, fmt.Errorf("ticker not available for %s", target)
}

// Balance reports the USDT wallet.
func (c *Client) Balance(ctx context.Context) (exchange.Balance, error) {
	list, err := c.client.NewGetBalanceService().Do(ctx, c.recv())
	if err != nil {
		return exchange.Balance{}, wrapErr("balance", err)
	}
	for _, b := range list {
		if b == nil || !strings.EqualFold(b.Asset, "USDT") {
			continue
		}
		return exchange.Balance{
			Asset:         b.Asset,
			Free:          convert.ParseFloat(b.AvailableBalance),
			Total:         convert.ParseFloat(b.Balance),
			UnrealizedPnL: convert.ParseFloat(b.CrossUnPnl),
		}, nil
	}
	return exchange.Balance{Asset: "USDT"}, nil
}

func (c *Client) Position(ctx context.Context, sym string) (*exchange.Position, error) {
	target := symbol.ToBinance(sym)
	risks, err := c.client.NewGetPositionRiskService().Symbol(target).Do(ctx, c.recv())
	if err != nil {
		return nil, wrapErr("position", err)
	}
	for _, r := range risks {
		if r == nil || !strings.EqualFold(r.Symbol, target) {
			continue
		}
		if pos := positionFromRisk(r, c.now()); pos != nil {
			return pos, nil
		}
	}
	return nil, nil
}

func positionFromRisk(r *futures.PositionRisk, now time.Time) *exchange.Position {
	amt := convert.ParseFloat(r.PositionAmt)
	if amt == 0 {
		return nil
	}
	side := exchange.SideLong
	if amt < 0 {
		side = exchange.SideShort
		amt = -amt
	}
	return &exchange.Position{
		Symbol:        r.Symbol,
		Side:          side,
		Size:          amt,
		EntryPrice:    convert.ParseFloat(r.EntryPrice),
		UnrealizedPnL: convert.ParseFloat(r.UnRealizedProfit),
		Leverage:      convert.ParseFloat(r.Leverage),
		MarginMode:    strings.ToLower(r.MarginType),
		MarkPrice:     convert.ParseFloat(r.MarkPrice),
		UpdatedAt:     now,
	}
}

// Instrument loads and caches the contract filters.
func (c *Client) Instrument(ctx context.Context, sym string) (exchange.Instrument, error) {
	target := symbol.ToBinance(sym)
	c.mu.Lock()
	spec, ok := c.specs[target]
	c.mu.Unlock()
	if ok {
		return spec, nil
	}
	info, err := c.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return exchange.Instrument{}, wrapErr("exchange_info", err)
	}
	for _, s := range info.Symbols {
		if !strings.EqualFold(s.Symbol, target) {
			continue
		}
		spec = instrumentFromFilters(s.Symbol, s.Filters)
		c.mu.Lock()
		c.specs[target] = spec
		c.mu.Unlock()
		logger.Infof("合约规格: %s 最小数量=%g 数量步长=%g 价格精度=%g", spec.Symbol, spec.MinQty, spec.QtyStep, spec.TickSize)
		return spec, nil
	}
	return exchange.Instrument{}, fmt.Errorf("instrument %s not listed", target)
}

func instrumentFromFilters(sym string, filters []map[string]interface{}) exchange.Instrument {
	spec := exchange.Instrument{Symbol: sym, ContractMultiplier: linearMultiplier}
	for _, f := range filters {
		switch f["filterType"] {
		case "LOT_SIZE":
			spec.MinQty = convert.ToFloat64(f["minQty"])
			spec.QtyStep = convert.ToFloat64(f["stepSize"])
		case "PRICE_FILTER":
			spec.TickSize = convert.ToFloat64(f["tickSize"])
		}
	}
	return spec
}

// cachedSpec returns the loaded filters, or conservative defaults before
// Instrument has been called.
func (c *Client) cachedSpec(sym string) exchange.Instrument {
	c.mu.Lock()
	defer c.mu.Unlock()
	if spec, ok := c.specs[symbol.ToBinance(sym)]; ok {
		return spec
	}
	return exchange.Instrument{Symbol: sym, ContractMultiplier: linearMultiplier, QtyStep: 0.001, TickSize: 0.1}
}
