// Package model holds the gorm table models of the SQLite trade mirror.
package model

import "gorm.io/datatypes"

// TradeModel maps to the 'trades' table. Orders keeps the venue order ids
// as a JSON array.
type TradeModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	TradeID       string         `gorm:"column:trade_id;uniqueIndex"`
	Symbol        string         `gorm:"column:symbol;index"`
	Signal        string         `gorm:"column:signal"`
	Transition    string         `gorm:"column:transition"`
	Side          string         `gorm:"column:side"`
	Price         float64        `gorm:"column:price"`
	Amount        float64        `gorm:"column:amount"`
	Confidence    string         `gorm:"column:confidence"`
	Reason        string         `gorm:"column:reason"`
	PnL           float64        `gorm:"column:pnl"`
	Orders        datatypes.JSON `gorm:"column:orders"`
	TimestampUnix int64          `gorm:"column:ts;index"`
	CreatedAtUnix int64          `gorm:"column:created_at"`
}

func (TradeModel) TableName() string { return "trades" }
