// Package store defines the persisted records of the decision loop and
// the journal interface the reconciler writes trades through.
package store

import (
	"context"
	"errors"
	"time"

	"perpbot/internal/logger"
)

// TradeRecord is one executed position change.
type TradeRecord struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Symbol     string    `json:"symbol"`
	Signal     string    `json:"signal"`
	Transition string    `json:"transition"`
	Side       string    `json:"side"`
	Price      float64   `json:"price"`
	Amount     float64   `json:"amount"`
	Confidence string    `json:"confidence"`
	Reason     string    `json:"reason"`
	PnL        float64   `json:"pnl"`
	OrderIDs   []string  `json:"order_ids,omitempty"`
}

// EquityPoint is one account snapshot on the equity curve.
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}

// Performance is recomputed from the trade log.
type Performance struct {
	TotalPnL      float64 `json:"total_pnl"`
	WinRate       float64 `json:"win_rate"`
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
}

// ComputePerformance summarises trades. Win rate is the share of trades
// with positive PnL, in percent.
func ComputePerformance(trades []TradeRecord) Performance {
	var p Performance
	p.TotalTrades = len(trades)
	for _, t := range trades {
		p.TotalPnL += t.PnL
		switch {
		case t.PnL > 0:
			p.WinningTrades++
		case t.PnL < 0:
			p.LosingTrades++
		}
	}
	if p.TotalTrades > 0 {
		p.WinRate = float64(p.WinningTrades) / float64(p.TotalTrades) * 100
	}
	return p
}

// Journal receives executed trades.
type Journal interface {
	AppendTrade(ctx context.Context, rec TradeRecord) error
}

// MultiJournal writes to every member; the first member is the primary
// store and its error is returned, the rest are mirrors whose errors are
// only logged.
type MultiJournal []Journal

func (m MultiJournal) AppendTrade(ctx context.Context, rec TradeRecord) error {
	var primary error
	for i, j := range m {
		if j == nil {
			continue
		}
		if err := j.AppendTrade(ctx, rec); err != nil {
			if i == 0 {
				primary = err
				continue
			}
			logger.Warnf("交易镜像写入失败: %v", err)
		}
	}
	return primary
}

// ErrNotFound is returned by readers when a record does not exist.
var ErrNotFound = errors.New("not found")
