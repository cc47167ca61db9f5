package binance

import (
	"context"
	"fmt"
	"strings"

	"perpbot/internal/gateway/exchange"
	"perpbot/internal/logger"
	"perpbot/internal/pkg/convert"
	"perpbot/internal/pkg/symbol"

	"github.com/adshao/go-binance/v2/futures"
)

// Venue answers meaning "already in the requested state".
const (
	codeNoNeedMarginType   = -4046
	codeNoNeedPositionMode = -4059
)

// Prepare syncs the clock, loads the instrument spec and enforces one-way
// mode, the margin mode and the leverage. It refuses to continue while an
// isolated-margin position is open on the instrument.
func (c *Client) Prepare(ctx context.Context, req exchange.SetupRequest) error {
	target := symbol.ToBinance(req.Symbol)
	if _, err := c.client.NewSetServerTimeService().Do(ctx); err != nil {
		logger.Warnf("同步服务器时间失败: %v", err)
	}
	if _, err := c.Instrument(ctx, target); err != nil {
		return err
	}

	risks, err := c.client.NewGetPositionRiskService().Symbol(target).Do(ctx, c.recv())
	if err != nil {
		return wrapErr("position", err)
	}
	for _, r := range risks {
		if r == nil || convert.ParseFloat(r.PositionAmt) == 0 {
			continue
		}
		if strings.EqualFold(r.MarginType, "isolated") {
			logger.Errorf("❌ 检测到逐仓持仓: %s 数量=%s, 请先手动平仓", r.Symbol, r.PositionAmt)
			return exchange.ErrIsolatedPosition
		}
	}

	if err := c.client.NewChangePositionModeService().DualSide(false).Do(ctx, c.recv()); err != nil && !hasCode(err, codeNoNeedPositionMode) {
		return wrapErr("position_mode", err)
	}
	logger.Infof("✅ 已设置单向持仓模式")

	marginType := futures.MarginTypeCrossed
	if strings.EqualFold(req.MarginMode, "isolated") {
		marginType = futures.MarginTypeIsolated
	}
	if err := c.client.NewChangeMarginTypeService().Symbol(target).MarginType(marginType).Do(ctx, c.recv()); err != nil && !hasCode(err, codeNoNeedMarginType) {
		return wrapErr("margin_type", err)
	}
	logger.Infof("✅ 已设置保证金模式: %s", marginType)

	if req.Leverage > 0 {
		res, err := c.client.NewChangeLeverageService().Symbol(target).Leverage(req.Leverage).Do(ctx, c.recv())
		if err != nil {
			return wrapErr("leverage", err)
		}
		if res != nil && res.Leverage != req.Leverage {
			return fmt.Errorf("leverage mismatch: want %d got %d", req.Leverage, res.Leverage)
		}
		logger.Infof("✅ 已设置杠杆倍数: %dx", req.Leverage)
	}
	return nil
}
