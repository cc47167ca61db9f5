package executor

import (
	"context"
	"fmt"
	"math"

	"perpbot/internal/gateway/exchange"
	"perpbot/internal/logger"
)

// Protection reports what happened to the stop/target pair.
type Protection struct {
	Existing          bool     `json:"existing,omitempty"`
	StopLoss          float64  `json:"stop_loss"`
	TakeProfit        float64  `json:"take_profit"`
	StopLossOrderID   string   `json:"stop_loss_order_id,omitempty"`
	TakeProfitOrderID string   `json:"take_profit_order_id,omitempty"`
	Cancelled         int      `json:"cancelled,omitempty"`
	Deferred          bool     `json:"deferred,omitempty"`
	Errors            []string `json:"errors,omitempty"`
}

// ensureProtection places a stop/target pair for pos. Without force an
// equivalent live pair (matching side, size and trigger) is left alone.
// Failures are collected, never returned: the position change already
// happened and the next cycle retries. When the live orders cannot be
// listed and the cached pair cannot be confirmed cancelled, nothing is
// placed and the result is marked Deferred.
func (r *Reconciler) ensureProtection(ctx context.Context, d Desired, pos *exchange.Position, orders *exchange.ProtectiveOrderSet, force bool) Protection {
	lv := r.risk.Protective(d.Signal.StopLoss, d.Signal.TakeProfit, d.Price, d.State, pos)
	p := Protection{StopLoss: lv.StopLoss, TakeProfit: lv.TakeProfit}
	if lv.Trailed {
		logger.Infof("移动止损生效, 止损上调至 %.2f", lv.StopLoss)
	}

	live, err := r.listProtective(ctx)
	switch {
	case err != nil && !force:
		// unknown venue state: placing now could stack a second pair
		logger.Warnf("查询止盈止损订单失败, 保留现有订单留待下个周期: %v", err)
		p.Deferred = true
		p.Errors = append(p.Errors, err.Error())
		p.StopLossOrderID, p.TakeProfitOrderID = orders.StopLossOrderID, orders.TakeProfitOrderID
		return p
	case err != nil:
		logger.Warnf("查询止盈止损订单失败, 按缓存订单ID取消: %v", err)
		p.Errors = append(p.Errors, err.Error())
		n, cerr := r.cancelIDs(ctx, cachedIDs(orders))
		p.Cancelled = n
		if cerr != nil {
			logger.Errorf("❌ 旧止盈止损订单未能确认取消, 本周期不再下新订单: %v", cerr)
			p.Deferred = true
			p.Errors = append(p.Errors, cerr.Error())
			return p
		}
	default:
		if !force {
			if sl, tp, ok := r.findEquivalent(live, pos, lv.StopLoss, lv.TakeProfit); ok {
				orders.StopLossOrderID, orders.TakeProfitOrderID = sl, tp
				p.Existing = true
				p.StopLossOrderID, p.TakeProfitOrderID = sl, tp
				logger.Infof("ℹ️ 止盈止损订单已存在，无需重复创建")
				return p
			}
		}
		p.Cancelled, _ = r.cancelIDs(ctx, liveIDs(live))
	}
	orders.Clear()

	closeSide := pos.Side.CloseOrder()
	if lv.StopLoss > 0 {
		id, err := r.venue.PlaceConditionalOrder(ctx, exchange.ConditionalRequest{
			Symbol: r.opts.Symbol, Kind: exchange.KindStopLoss, Side: closeSide,
			Quantity: pos.Size, TriggerPrice: lv.StopLoss, Tag: newTag(),
		})
		if err != nil {
			logger.Errorf("❌ 设置止损订单失败: %v", err)
			p.Errors = append(p.Errors, err.Error())
		} else {
			orders.StopLossOrderID, p.StopLossOrderID = id, id
			logger.Infof("✅ 止损订单已设置: 触发价=%.2f, 订单ID=%s", lv.StopLoss, id)
		}
	}
	if lv.TakeProfit > 0 {
		id, err := r.venue.PlaceConditionalOrder(ctx, exchange.ConditionalRequest{
			Symbol: r.opts.Symbol, Kind: exchange.KindTakeProfit, Side: closeSide,
			Quantity: pos.Size, TriggerPrice: lv.TakeProfit, Tag: newTag(),
		})
		if err != nil {
			logger.Errorf("❌ 设置止盈订单失败: %v", err)
			p.Errors = append(p.Errors, err.Error())
		} else {
			orders.TakeProfitOrderID, p.TakeProfitOrderID = id, id
			logger.Infof("✅ 止盈订单已设置: 触发价=%.2f, 订单ID=%s", lv.TakeProfit, id)
		}
	}
	return p
}

func (r *Reconciler) findEquivalent(live []exchange.ConditionalOrder, pos *exchange.Position, sl, tp float64) (string, string, bool) {
	closeSide := pos.Side.CloseOrder()
	var slID, tpID string
	for _, o := range live {
		if o.Side != closeSide || math.Abs(o.Quantity-pos.Size) >= r.opts.SizeTolerance {
			continue
		}
		switch o.Kind {
		case exchange.KindStopLoss:
			if slID == "" && math.Abs(o.TriggerPrice-sl) < r.opts.PriceTolerance {
				slID = o.ID
			}
		case exchange.KindTakeProfit:
			if tpID == "" && math.Abs(o.TriggerPrice-tp) < r.opts.PriceTolerance {
				tpID = o.ID
			}
		}
	}
	return slID, tpID, slID != "" && tpID != ""
}

func (r *Reconciler) listProtective(ctx context.Context) ([]exchange.ConditionalOrder, error) {
	return exchange.Retry(ctx, r.readPolicy(), "查询止盈止损订单", func(ctx context.Context) ([]exchange.ConditionalOrder, error) {
		return r.venue.ListConditionalOrders(ctx, r.opts.Symbol)
	})
}

// cancelProtection cancels every protective order before a flip. When the
// venue cannot be listed the cached ids are cancelled instead; an error
// means some order may still be live.
func (r *Reconciler) cancelProtection(ctx context.Context, orders *exchange.ProtectiveOrderSet) error {
	ids := cachedIDs(orders)
	live, err := r.listProtective(ctx)
	if err != nil {
		logger.Warnf("⚠️ 查询算法订单失败, 按缓存订单ID取消: %v", err)
	} else {
		ids = liveIDs(live)
	}
	if _, cerr := r.cancelIDs(ctx, ids); cerr != nil {
		return fmt.Errorf("cancel protective orders: %w", cerr)
	}
	orders.Clear()
	return nil
}

// cancelIDs cancels each id and returns how many were cancelled. A
// rejected cancel means the order is already gone; any other failure is
// returned since the order may still be live.
func (r *Reconciler) cancelIDs(ctx context.Context, ids []string) (int, error) {
	var (
		n     int
		first error
	)
	for _, id := range ids {
		err := r.venue.CancelConditionalOrder(ctx, r.opts.Symbol, id)
		switch {
		case err == nil:
			n++
			logger.Infof("✅ 已取消旧的止盈止损订单: %s", id)
		case exchange.IsRejected(err):
			logger.Infof("订单 %s 已不在交易所: %v", id, err)
		default:
			logger.Warnf("⚠️ 取消订单失败 %s: %v", id, err)
			if first == nil {
				first = fmt.Errorf("cancel %s: %w", id, err)
			}
		}
	}
	return n, first
}

func liveIDs(live []exchange.ConditionalOrder) []string {
	ids := make([]string, 0, len(live))
	for _, o := range live {
		ids = append(ids, o.ID)
	}
	return ids
}

func cachedIDs(orders *exchange.ProtectiveOrderSet) []string {
	var ids []string
	for _, id := range []string{orders.StopLossOrderID, orders.TakeProfitOrderID} {
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
