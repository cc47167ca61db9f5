// Package circuit guards the decision loop against runs of failing cycles.
package circuit

import (
	"sync"
	"time"

	"perpbot/internal/logger"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	}
	return "UNKNOWN"
}

// Stats is a point-in-time view of the breaker.
type Stats struct {
	State     State
	Failures  int
	OpenedAt  time.Time
	LastError string
}

// ChangeFunc observes transitions. It runs after the breaker's lock is
// released, on the caller's goroutine.
type ChangeFunc func(name string, from, to State, st Stats)

// CircuitBreaker opens after threshold consecutive failures. While open,
// Allow refuses work until cooldown has passed since it opened; then one
// probe runs half-open and its result closes or reopens the breaker.
type CircuitBreaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	stats    Stats
	onChange ChangeFunc
}

func NewCircuitBreaker(name string, threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 1
	}
	return &CircuitBreaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// OnChange replaces the default log line emitted on each transition.
func (cb *CircuitBreaker) OnChange(fn ChangeFunc) {
	cb.mu.Lock()
	cb.onChange = fn
	cb.mu.Unlock()
}

func (cb *CircuitBreaker) State() State {
	return cb.Stats().State
}

func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stats
}

// Remaining is the cooldown left while open, zero otherwise.
func (cb *CircuitBreaker) Remaining() time.Duration {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.stats.State != StateOpen {
		return 0
	}
	left := cb.cooldown - cb.now().Sub(cb.stats.OpenedAt)
	if left < 0 {
		return 0
	}
	return left
}

func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	if cb.stats.State != StateOpen {
		cb.mu.Unlock()
		return true
	}
	if cb.now().Sub(cb.stats.OpenedAt) < cb.cooldown {
		cb.mu.Unlock()
		return false
	}
	notify := cb.moveLocked(StateHalfOpen)
	cb.mu.Unlock()
	notify()
	return true
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	cb.stats.Failures = 0
	cb.stats.LastError = ""
	notify := func() {}
	if cb.stats.State != StateClosed {
		notify = cb.moveLocked(StateClosed)
	}
	cb.mu.Unlock()
	notify()
}

// RecordFailure counts one failed run; err may be nil.
func (cb *CircuitBreaker) RecordFailure(err error) {
	cb.mu.Lock()
	cb.stats.Failures++
	if err != nil {
		cb.stats.LastError = err.Error()
	}
	notify := func() {}
	switch {
	case cb.stats.State == StateHalfOpen,
		cb.stats.State == StateClosed && cb.stats.Failures >= cb.threshold:
		cb.stats.OpenedAt = cb.now()
		notify = cb.moveLocked(StateOpen)
	}
	cb.mu.Unlock()
	notify()
}

// moveLocked switches state and returns the deferred observer call.
func (cb *CircuitBreaker) moveLocked(to State) func() {
	from := cb.stats.State
	cb.stats.State = to
	st := cb.stats
	fn := cb.onChange
	return func() {
		if fn != nil {
			fn(cb.name, from, to, st)
			return
		}
		logger.Warnf("熔断器 %s 状态切换: %s -> %s (连续失败=%d/%d, 冷却=%s)",
			cb.name, from, to, st.Failures, cb.threshold, cb.cooldown)
	}
}
