package decisionlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"perpbot/internal/decision"
	"perpbot/internal/signal"

	_ "modernc.org/sqlite"
)

// DecisionLogStore 记录每一轮 AI 决策（提示词、原始输出、最终信号），方便后续排查。
type DecisionLogStore struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// DecisionLogRecord 代表一条日志记录。
type DecisionLogRecord struct {
	ID           int64    `json:"id"`
	TraceID      string   `json:"trace_id"`
	Timestamp    int64    `json:"ts"`
	Symbol       string   `json:"symbol"`
	ProviderID   string   `json:"provider_id"`
	System       string   `json:"system_prompt"`
	User         string   `json:"user_prompt"`
	RawOutput    string   `json:"raw_output"`
	Attempts     int      `json:"attempts"`
	Signal       string   `json:"signal"`
	Confidence   string   `json:"confidence"`
	Reason       string   `json:"reason"`
	StopLoss     float64  `json:"stop_loss"`
	TakeProfit   float64  `json:"take_profit"`
	IsFallback   bool     `json:"is_fallback"`
	Adjustments  []string `json:"adjustments,omitempty"`
	RiskFallback bool     `json:"risk_fallback"`
	Error        string   `json:"error,omitempty"`
}

// Query 用于筛选日志。
type Query struct {
	Symbol   string
	Provider string
	Signal   string
	Limit    int
	Offset   int
}

// NewDecisionLogStore 初始化 SQLite 存储。
func NewDecisionLogStore(path string) (*DecisionLogStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("decision log path 不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &DecisionLogStore{db: db, path: path}, nil
}

func (s *DecisionLogStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS decision_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			trace_id TEXT,
			ts INTEGER NOT NULL,
			symbol TEXT,
			provider_id TEXT,
			system_prompt TEXT,
			user_prompt TEXT,
			raw_output TEXT,
			attempts INTEGER NOT NULL DEFAULT 0,
			signal TEXT NOT NULL,
			confidence TEXT,
			reason TEXT,
			stop_loss REAL DEFAULT 0,
			take_profit REAL DEFAULT 0,
			is_fallback INTEGER NOT NULL DEFAULT 0,
			adjustments TEXT,
			risk_fallback INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_decision_logs_symbol_ts ON decision_logs(symbol, ts DESC, id DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_decision_logs_trace ON decision_logs(trace_id);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *DecisionLogStore) handle() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("decision log store 未初始化")
	}
	return s.db, nil
}

// RecordRound implements decision.RoundRecorder.
func (s *DecisionLogStore) RecordRound(ctx context.Context, r decision.Round) error {
	_, err := s.Insert(ctx, FromRound(r))
	return err
}

var _ decision.RoundRecorder = (*DecisionLogStore)(nil)

// FromRound flattens an advisory round into a log record.
func FromRound(r decision.Round) DecisionLogRecord {
	return DecisionLogRecord{
		TraceID:      r.TraceID,
		Timestamp:    r.Timestamp.UnixMilli(),
		Symbol:       r.Symbol,
		ProviderID:   r.ProviderID,
		System:       r.System,
		User:         r.User,
		RawOutput:    r.Raw,
		Attempts:     r.Attempts,
		Signal:       string(r.Signal.Action),
		Confidence:   string(r.Signal.Confidence),
		Reason:       r.Signal.Reason,
		StopLoss:     r.Signal.StopLoss,
		TakeProfit:   r.Signal.TakeProfit,
		IsFallback:   r.Signal.IsFallback,
		Adjustments:  r.Report.Adjustments,
		RiskFallback: r.Report.RiskFallback,
		Error:        r.Error,
	}
}

// Insert 写入一条日志。
func (s *DecisionLogStore) Insert(ctx context.Context, rec DecisionLogRecord) (int64, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}
	ts := rec.Timestamp
	if ts <= 0 {
		ts = time.Now().UnixMilli()
	}
	if rec.Signal == "" {
		rec.Signal = string(signal.Hold)
	}
	adj := ""
	if len(rec.Adjustments) > 0 {
		if b, err := json.Marshal(rec.Adjustments); err == nil {
			adj = string(b)
		}
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO decision_logs
			(trace_id, ts, symbol, provider_id, system_prompt, user_prompt, raw_output, attempts,
			 signal, confidence, reason, stop_loss, take_profit, is_fallback, adjustments,
			 risk_fallback, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TraceID, ts, rec.Symbol, rec.ProviderID, rec.System, rec.User, rec.RawOutput, rec.Attempts,
		rec.Signal, rec.Confidence, rec.Reason, rec.StopLoss, rec.TakeProfit, boolToInt(rec.IsFallback), adj,
		boolToInt(rec.RiskFallback), rec.Error, time.Now().UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	return id, nil
}

const selectColumns = `SELECT id, trace_id, ts, symbol, provider_id, system_prompt, user_prompt, raw_output,
	attempts, signal, confidence, reason, stop_loss, take_profit, is_fallback, adjustments, risk_fallback, error
	FROM decision_logs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(scanner rowScanner) (DecisionLogRecord, error) {
	var (
		rec                        DecisionLogRecord
		traceID, symbol, provider  sql.NullString
		system, user, raw          sql.NullString
		confidence, reason, errStr sql.NullString
		adj                        sql.NullString
		fallback, riskFallback     int
	)
	if err := scanner.Scan(&rec.ID, &traceID, &rec.Timestamp, &symbol, &provider, &system, &user, &raw,
		&rec.Attempts, &rec.Signal, &confidence, &reason, &rec.StopLoss, &rec.TakeProfit, &fallback, &adj,
		&riskFallback, &errStr); err != nil {
		return rec, err
	}
	rec.TraceID = traceID.String
	rec.Symbol = symbol.String
	rec.ProviderID = provider.String
	rec.System = system.String
	rec.User = user.String
	rec.RawOutput = raw.String
	rec.Confidence = confidence.String
	rec.Reason = reason.String
	rec.Error = errStr.String
	rec.IsFallback = fallback != 0
	rec.RiskFallback = riskFallback != 0
	if adj.String != "" {
		_ = json.Unmarshal([]byte(adj.String), &rec.Adjustments)
	}
	return rec, nil
}

// GetDecision 根据主键 ID 返回单条记录。
func (s *DecisionLogStore) GetDecision(ctx context.Context, id int64) (DecisionLogRecord, error) {
	if id <= 0 {
		return DecisionLogRecord{}, fmt.Errorf("invalid decision id")
	}
	db, err := s.handle()
	if err != nil {
		return DecisionLogRecord{}, err
	}
	return scanRecord(db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id))
}

func buildFilter(q Query) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if v := strings.TrimSpace(q.Symbol); v != "" {
		clauses = append(clauses, "symbol = ?")
		args = append(args, v)
	}
	if v := strings.TrimSpace(q.Provider); v != "" {
		clauses = append(clauses, "provider_id = ?")
		args = append(args, v)
	}
	if v := strings.TrimSpace(q.Signal); v != "" {
		clauses = append(clauses, "signal = ?")
		args = append(args, strings.ToUpper(v))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// ListDecisions 返回最新的决策日志。
func (s *DecisionLogStore) ListDecisions(ctx context.Context, q Query) ([]DecisionLogRecord, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	filterSQL, args := buildFilter(q)
	args = append(args, limit, offset)
	rows, err := db.QueryContext(ctx, selectColumns+filterSQL+" ORDER BY ts DESC, id DESC LIMIT ? OFFSET ?", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []DecisionLogRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, rec)
	}
	return list, rows.Err()
}

// CountDecisions 统计满足筛选条件的日志数量。
func (s *DecisionLogStore) CountDecisions(ctx context.Context, q Query) (int, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}
	filterSQL, args := buildFilter(q)
	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(1) FROM decision_logs"+filterSQL, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
