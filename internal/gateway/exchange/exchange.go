package exchange

import (
	"context"

	"perpbot/internal/market"
)

// MarketData serves read-only market views.
type MarketData interface {
	Candles(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error)
	Ticker(ctx context.Context, symbol string) (Ticker, error)
}

// Account serves balance and position reads. Position returns nil when
// the instrument is flat.
type Account interface {
	Balance(ctx context.Context) (Balance, error)
	Position(ctx context.Context, symbol string) (*Position, error)
}

// Trader is the mutating surface the reconciler drives.
type Trader interface {
	PlaceMarketOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	PlaceConditionalOrder(ctx context.Context, req ConditionalRequest) (string, error)
	CancelConditionalOrder(ctx context.Context, symbol, orderID string) error
	ListConditionalOrders(ctx context.Context, symbol string) ([]ConditionalOrder, error)
}

// Exchange is the full venue used by the decision loop.
type Exchange interface {
	Name() string
	MarketData
	Account
	Trader
	Instrument(ctx context.Context, symbol string) (Instrument, error)
	Prepare(ctx context.Context, req SetupRequest) error
}
