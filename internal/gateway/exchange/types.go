// Package exchange defines the venue abstraction the decision loop trades
// through, so the reconciler never depends on a concrete SDK.
package exchange

import (
	"fmt"
	"time"
)

// Side is the direction of an open position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Opposite returns the other direction.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// OpenOrder is the order side that opens (or adds to) a position of s.
func (s Side) OpenOrder() OrderSide {
	if s == SideLong {
		return OrderBuy
	}
	return OrderSell
}

// CloseOrder is the order side that reduces a position of s.
func (s Side) CloseOrder() OrderSide {
	return s.OpenOrder().Opposite()
}

// OrderSide is the side of a single order.
type OrderSide string

const (
	OrderBuy  OrderSide = "BUY"
	OrderSell OrderSide = "SELL"
)

func (o OrderSide) Opposite() OrderSide {
	if o == OrderBuy {
		return OrderSell
	}
	return OrderBuy
}

// Position is the venue's view of the single instrument position.
// Size is in contracts and always positive; flat is represented by nil.
type Position struct {
	Symbol        string    `json:"symbol"`
	Side          Side      `json:"side"`
	Size          float64   `json:"size"`
	EntryPrice    float64   `json:"entry_price"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	Leverage      float64   `json:"leverage"`
	MarginMode    string    `json:"margin_mode"`
	MarkPrice     float64   `json:"mark_price,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (p *Position) String() string {
	if p == nil {
		return "无持仓"
	}
	return fmt.Sprintf("%s %.4f @ %.2f (uPnL %.2f USDT)", p.Side, p.Size, p.EntryPrice, p.UnrealizedPnL)
}

// Balance is the quote-currency account snapshot.
type Balance struct {
	Asset         string  `json:"asset"`
	Free          float64 `json:"free"`
	Total         float64 `json:"total"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// Equity is wallet balance plus open PnL.
func (b Balance) Equity() float64 {
	return b.Total + b.UnrealizedPnL
}

// Instrument carries the contract specification loaded at startup.
type Instrument struct {
	Symbol             string  `json:"symbol"`
	ContractMultiplier float64 `json:"contract_multiplier"`
	MinQty             float64 `json:"min_qty"`
	QtyStep            float64 `json:"qty_step"`
	TickSize           float64 `json:"tick_size"`
}

// Ticker is the 24h rolling view of the instrument.
type Ticker struct {
	Symbol    string  `json:"symbol"`
	Last      float64 `json:"last"`
	ChangePct float64 `json:"change_pct"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Volume    float64 `json:"volume"`
}

// OrderRequest is a market order. Quantity is in contracts.
type OrderRequest struct {
	Symbol     string
	Side       OrderSide
	Quantity   float64
	ReduceOnly bool
	Tag        string
}

type OrderResult struct {
	OrderID   string  `json:"order_id"`
	ClientID  string  `json:"client_id"`
	FilledQty float64 `json:"filled_qty"`
	AvgPrice  float64 `json:"avg_price"`
}

// ConditionalKind distinguishes the two protective triggers.
type ConditionalKind string

const (
	KindStopLoss   ConditionalKind = "stop_loss"
	KindTakeProfit ConditionalKind = "take_profit"
)

// ConditionalRequest places a reduce-only trigger order that fires at
// TriggerPrice with a market execution.
type ConditionalRequest struct {
	Symbol       string
	Kind         ConditionalKind
	Side         OrderSide
	Quantity     float64
	TriggerPrice float64
	Tag          string
}

// ConditionalOrder is an open trigger order as reported by the venue.
type ConditionalOrder struct {
	ID           string          `json:"id"`
	Kind         ConditionalKind `json:"kind"`
	Side         OrderSide       `json:"side"`
	Quantity     float64         `json:"quantity"`
	TriggerPrice float64         `json:"trigger_price"`
	ReduceOnly   bool            `json:"reduce_only"`
}

// ProtectiveOrderSet remembers the ids of the orders placed for the
// current position. Empty ids mean "not placed".
type ProtectiveOrderSet struct {
	StopLossOrderID   string `json:"stop_loss_order_id"`
	TakeProfitOrderID string `json:"take_profit_order_id"`
}

func (p *ProtectiveOrderSet) Clear() {
	if p == nil {
		return
	}
	p.StopLossOrderID = ""
	p.TakeProfitOrderID = ""
}

// SetupRequest describes the account configuration enforced at startup.
type SetupRequest struct {
	Symbol     string
	Leverage   int
	MarginMode string
}
