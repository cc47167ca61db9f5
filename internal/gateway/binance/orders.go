package binance

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"perpbot/internal/gateway/exchange"
	"perpbot/internal/pkg/convert"
	"perpbot/internal/pkg/symbol"
	"perpbot/internal/pkg/trading"

	"github.com/adshao/go-binance/v2/futures"
)

func (c *Client) PlaceMarketOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	spec := c.cachedSpec(req.Symbol)
	svc := c.client.NewCreateOrderService().
		Symbol(symbol.ToBinance(req.Symbol)).
		Side(futures.SideType(req.Side)).
		Type(futures.OrderTypeMarket).
		Quantity(trading.Format(req.Quantity, spec.QtyStep)).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT)
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}
	if req.Tag != "" {
		svc = svc.NewClientOrderID(req.Tag)
	}
	res, err := svc.Do(ctx, c.recv())
	if err != nil {
		return exchange.OrderResult{}, wrapErr("market_order", err)
	}
	return exchange.OrderResult{
		OrderID:   strconv.FormatInt(res.OrderID, 10),
		ClientID:  res.ClientOrderID,
		FilledQty: convert.ParseFloat(res.ExecutedQuantity),
		AvgPrice:  convert.ParseFloat(res.AvgPrice),
	}, nil
}

// PlaceConditionalOrder places a reduce-only STOP_MARKET or
// TAKE_PROFIT_MARKET order triggered on the mark price.
func (c *Client) PlaceConditionalOrder(ctx context.Context, req exchange.ConditionalRequest) (string, error) {
	orderType, ok := orderTypeFor(req.Kind)
	if !ok {
		return "", fmt.Errorf("unknown conditional kind %q", req.Kind)
	}
	spec := c.cachedSpec(req.Symbol)
	svc := c.client.NewCreateOrderService().
		Symbol(symbol.ToBinance(req.Symbol)).
		Side(futures.SideType(req.Side)).
		Type(orderType).
		Quantity(trading.Format(req.Quantity, spec.QtyStep)).
		StopPrice(trading.Format(req.TriggerPrice, spec.TickSize)).
		WorkingType(futures.WorkingTypeMarkPrice).
		ReduceOnly(true)
	if req.Tag != "" {
		svc = svc.NewClientOrderID(req.Tag)
	}
	res, err := svc.Do(ctx, c.recv())
	if err != nil {
		return "", wrapErr(string(req.Kind), err)
	}
	return strconv.FormatInt(res.OrderID, 10), nil
}

func (c *Client) CancelConditionalOrder(ctx context.Context, sym, orderID string) error {
	id, err := strconv.ParseInt(strings.TrimSpace(orderID), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid order id %q: %w", orderID, err)
	}
	_, err = c.client.NewCancelOrderService().Symbol(symbol.ToBinance(sym)).OrderID(id).Do(ctx, c.recv())
	if err != nil {
		return wrapErr("cancel", err)
	}
	return nil
}

// ListConditionalOrders returns open stop/target orders; plain limit
// orders are ignored.
func (c *Client) ListConditionalOrders(ctx context.Context, sym string) ([]exchange.ConditionalOrder, error) {
	orders, err := c.client.NewListOpenOrdersService().Symbol(symbol.ToBinance(sym)).Do(ctx, c.recv())
	if err != nil {
		return nil, wrapErr("open_orders", err)
	}
	out := make([]exchange.ConditionalOrder, 0, len(orders))
	for _, o := range orders {
		if co, ok := conditionalFromOrder(o); ok {
			out = append(out, co)
		}
	}
	return out, nil
}

func conditionalFromOrder(o *futures.Order) (exchange.ConditionalOrder, bool) {
	if o == nil {
		return exchange.ConditionalOrder{}, false
	}
	var kind exchange.ConditionalKind
	switch o.Type {
	case futures.OrderTypeStopMarket, futures.OrderTypeStop:
		kind = exchange.KindStopLoss
	case futures.OrderTypeTakeProfitMarket, futures.OrderTypeTakeProfit:
		kind = exchange.KindTakeProfit
	default:
		return exchange.ConditionalOrder{}, false
	}
	return exchange.ConditionalOrder{
		ID:           strconv.FormatInt(o.OrderID, 10),
		Kind:         kind,
		Side:         exchange.OrderSide(o.Side),
		Quantity:     convert.ParseFloat(o.OrigQuantity),
		TriggerPrice: convert.ParseFloat(o.StopPrice),
		ReduceOnly:   o.ReduceOnly || o.ClosePosition,
	}, true
}

func orderTypeFor(kind exchange.ConditionalKind) (futures.OrderType, bool) {
	switch kind {
	case exchange.KindStopLoss:
		return futures.OrderTypeStopMarket, true
	case exchange.KindTakeProfit:
		return futures.OrderTypeTakeProfitMarket, true
	}
	return "", false
}
