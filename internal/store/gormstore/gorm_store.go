package gormstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"perpbot/internal/store"
	storemodel "perpbot/internal/store/model"
)

type tradeModel = storemodel.TradeModel

// GormStore mirrors the trade log into SQLite so it can be queried beyond
// the bounded JSON log.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens (and migrates) the database at path.
func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: 数据库路径不能为空")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&tradeModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: a little parallelism for status reads, low lock contention.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SQLDB exposes the underlying *sql.DB for shared connections.
func (s *GormStore) SQLDB() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	return s.db.DB()
}

var _ store.Journal = (*GormStore)(nil)

// AppendTrade implements store.Journal. Re-appending the same trade id
// updates the row instead of duplicating it.
func (s *GormStore) AppendTrade(ctx context.Context, rec store.TradeRecord) error {
	if s == nil || s.db == nil {
		return nil
	}
	m := newTradeModel(rec, time.Now())
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "trade_id"}},
		UpdateAll: true,
	}).Create(&m).Error
}

// ListTrades returns the newest trades first.
func (s *GormStore) ListTrades(ctx context.Context, symbol string, limit, offset int) ([]store.TradeRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	q := s.db.WithContext(ctx).Order("ts DESC").Limit(limit)
	if offset > 0 {
		q = q.Offset(offset)
	}
	if symbol = strings.TrimSpace(symbol); symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	var rows []tradeModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]store.TradeRecord, 0, len(rows))
	for _, m := range rows {
		out = append(out, tradeModelToRecord(m))
	}
	return out, nil
}

// CountTrades counts mirrored trades for symbol (all symbols when empty).
func (s *GormStore) CountTrades(ctx context.Context, symbol string) (int, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	q := s.db.WithContext(ctx).Model(&tradeModel{})
	if symbol = strings.TrimSpace(symbol); symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, err
	}
	return int(n), nil
}

// --------------------------- Model Helpers ------------------------------

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func newTradeModel(rec store.TradeRecord, now time.Time) tradeModel {
	orders, _ := json.Marshal(rec.OrderIDs)
	if rec.OrderIDs == nil {
		orders = []byte("[]")
	}
	return tradeModel{
		TradeID:       rec.ID,
		Symbol:        rec.Symbol,
		Signal:        rec.Signal,
		Transition:    rec.Transition,
		Side:          rec.Side,
		Price:         rec.Price,
		Amount:        rec.Amount,
		Confidence:    rec.Confidence,
		Reason:        rec.Reason,
		PnL:           rec.PnL,
		Orders:        datatypes.JSON(orders),
		TimestampUnix: timeToMillis(rec.Timestamp),
		CreatedAtUnix: now.UnixMilli(),
	}
}

func tradeModelToRecord(m tradeModel) store.TradeRecord {
	var ids []string
	if len(m.Orders) > 0 {
		_ = json.Unmarshal(m.Orders, &ids)
	}
	return store.TradeRecord{
		ID:         m.TradeID,
		Timestamp:  millisToTime(m.TimestampUnix),
		Symbol:     m.Symbol,
		Signal:     m.Signal,
		Transition: m.Transition,
		Side:       m.Side,
		Price:      m.Price,
		Amount:     m.Amount,
		Confidence: m.Confidence,
		Reason:     m.Reason,
		PnL:        m.PnL,
		OrderIDs:   ids,
	}
}

func timeToMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func millisToTime(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(v)
}
