package signal

import "sync"

// HistoryCapacity is the number of signals retained in memory.
const HistoryCapacity = 30

// streakLength is the run of identical actions that triggers a warning.
const streakLength = 3

// History is a bounded, newest-last record of validated signals. It lives
// only in memory and is rebuilt from scratch on restart.
type History struct {
	mu    sync.Mutex
	items []Signal
	cap   int
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = HistoryCapacity
	}
	return &History{cap: capacity, items: make([]Signal, 0, capacity)}
}

// Push appends s and drops the oldest entry beyond capacity.
func (h *History) Push(s Signal) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = append(h.items, s)
	if over := len(h.items) - h.cap; over > 0 {
		h.items = append(h.items[:0:0], h.items[over:]...)
	}
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.items)
}

func (h *History) Last() (Signal, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.items) == 0 {
		return Signal{}, false
	}
	return h.items[len(h.items)-1], true
}

// Items returns a copy, oldest first.
func (h *History) Items() []Signal {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Signal, len(h.items))
	copy(out, h.items)
	return out
}

// Count reports how many retained signals carry action.
func (h *History) Count(action Action) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, s := range h.items {
		if s.Action == action {
			n++
		}
	}
	return n
}

// Streak reports whether the last three signals share one action.
func (h *History) Streak() (Action, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.items) < streakLength {
		return "", false
	}
	tail := h.items[len(h.items)-streakLength:]
	first := tail[0].Action
	for _, s := range tail[1:] {
		if s.Action != first {
			return "", false
		}
	}
	return first, true
}
