// Package jsonstore persists the state document, the trade log and the
// equity log as JSON files. The decision loop is the only writer; the
// status renderer only reads.
package jsonstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"perpbot/internal/gateway/exchange"
	"perpbot/internal/store"
)

const (
	StateFile  = "trading_data.json"
	TradesFile = "trades_history.json"
	EquityFile = "equity_history.json"

	DefaultTradeLimit  = 500
	DefaultEquityLimit = 1000

	StatusRunning = "running"
	StatusStopped = "stopped"
	StatusError   = "error"

	waitingReason = "等待AI分析..."
)

// Account is the account block of the state document.
type Account struct {
	Balance  float64 `json:"balance"`
	Equity   float64 `json:"equity"`
	Leverage int     `json:"leverage"`
}

// InstrumentView is the instrument block of the state document.
type InstrumentView struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Change    float64 `json:"change"`
	Timeframe string  `json:"timeframe"`
	Mode      string  `json:"mode"`
}

// SignalView is the last validated signal as shown to the renderer.
type SignalView struct {
	Signal     string    `json:"signal"`
	Confidence string    `json:"confidence"`
	Reason     string    `json:"reason"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
	IsFallback bool      `json:"is_fallback"`
	Regime     string    `json:"regime,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// State is the application-state document, rewritten wholesale each cycle.
type State struct {
	Status      string                      `json:"status"`
	LastUpdate  time.Time                   `json:"last_update"`
	Account     Account                     `json:"account"`
	Instrument  InstrumentView              `json:"instrument"`
	Position    *exchange.Position          `json:"position"`
	Performance store.Performance           `json:"performance"`
	Signal      SignalView                  `json:"ai_signal"`
	Orders      exchange.ProtectiveOrderSet `json:"tp_sl_orders"`
}

// Stale reports whether a reader should treat the document as outdated.
func (s State) Stale(now time.Time, threshold time.Duration) bool {
	if s.Status != StatusRunning {
		return true
	}
	return now.Sub(s.LastUpdate) > threshold
}

// Options bound the append-only logs.
type Options struct {
	TradeLimit  int
	EquityLimit int
}

type Store struct {
	dir  string
	opts Options
	now  func() time.Time

	mu sync.Mutex
}

func New(dir string, opts Options) (*Store, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if opts.TradeLimit <= 0 {
		opts.TradeLimit = DefaultTradeLimit
	}
	if opts.EquityLimit <= 0 {
		opts.EquityLimit = DefaultEquityLimit
	}
	return &Store{dir: dir, opts: opts, now: time.Now}, nil
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) path(name string) string { return filepath.Join(s.dir, name) }

// DefaultState is the document written before the first cycle completes.
func DefaultState(symbol, timeframe, mode string) State {
	return State{
		Status:     StatusStopped,
		Instrument: InstrumentView{Symbol: symbol, Timeframe: timeframe, Mode: mode},
		Signal:     SignalView{Signal: "HOLD", Confidence: "N/A", Reason: waitingReason},
	}
}

// Init replaces the state document with base and marks it running.
// Performance is recomputed from any trade log left by earlier runs.
func (s *Store) Init(base State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	base.Status = StatusRunning
	return s.saveStateLocked(&base)
}

// LoadState reads the document; store.ErrNotFound when none exists yet.
func (s *Store) LoadState() (State, error) {
	var st State
	if err := readJSON(s.path(StateFile), &st); err != nil {
		return State{}, err
	}
	return st, nil
}

// UpdateState applies fn to the current document and writes it back.
func (s *Store) UpdateState(fn func(*State)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st State
	if err := readJSON(s.path(StateFile), &st); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	fn(&st)
	return s.saveStateLocked(&st)
}

// SetStatus updates only the status field.
func (s *Store) SetStatus(status string) error {
	return s.UpdateState(func(st *State) { st.Status = status })
}

func (s *Store) saveStateLocked(st *State) error {
	trades, err := s.tradesLocked()
	if err != nil {
		return err
	}
	st.Performance = store.ComputePerformance(trades)
	st.LastUpdate = s.now()
	return writeJSON(s.path(StateFile), st)
}

// AppendTrade implements store.Journal.
func (s *Store) AppendTrade(_ context.Context, rec store.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	trades, err := s.tradesLocked()
	if err != nil {
		return err
	}
	trades = append(trades, rec)
	if n := len(trades) - s.opts.TradeLimit; n > 0 {
		trades = trades[n:]
	}
	return writeJSON(s.path(TradesFile), trades)
}

func (s *Store) Trades() ([]store.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tradesLocked()
}

func (s *Store) tradesLocked() ([]store.TradeRecord, error) {
	var trades []store.TradeRecord
	if err := readJSON(s.path(TradesFile), &trades); err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return trades, nil
}

// AppendEquity adds one snapshot to the bounded equity log.
func (s *Store) AppendEquity(p store.EquityPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var points []store.EquityPoint
	if err := readJSON(s.path(EquityFile), &points); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = s.now()
	}
	points = append(points, p)
	if n := len(points) - s.opts.EquityLimit; n > 0 {
		points = points[n:]
	}
	return writeJSON(s.path(EquityFile), points)
}

func (s *Store) Equity() ([]store.EquityPoint, error) {
	var points []store.EquityPoint
	if err := readJSON(s.path(EquityFile), &points); err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return points, nil
}

func readJSON(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return store.ErrNotFound
		}
		return err
	}
	if len(raw) == 0 {
		return store.ErrNotFound
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

// writeJSON replaces path atomically so a concurrent reader never sees a
// half-written document.
func writeJSON(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
