// Package signal holds the advisory signal model: parsing of the oracle's
// free-form answer, the conservative fallback, and the in-memory history.
package signal

import (
	"fmt"
	"strings"
	"time"
)

type Action string

const (
	Buy  Action = "BUY"
	Sell Action = "SELL"
	Hold Action = "HOLD"
)

// ParseAction accepts any casing of BUY/SELL/HOLD.
func ParseAction(s string) (Action, error) {
	switch Action(strings.ToUpper(strings.TrimSpace(s))) {
	case Buy:
		return Buy, nil
	case Sell:
		return Sell, nil
	case Hold:
		return Hold, nil
	default:
		return "", fmt.Errorf("unknown action %q", s)
	}
}

// Directional reports whether the action opens exposure.
func (a Action) Directional() bool {
	return a == Buy || a == Sell
}

type Confidence string

const (
	High   Confidence = "HIGH"
	Medium Confidence = "MEDIUM"
	Low    Confidence = "LOW"
)

func ParseConfidence(s string) (Confidence, error) {
	switch Confidence(strings.ToUpper(strings.TrimSpace(s))) {
	case High:
		return High, nil
	case Medium:
		return Medium, nil
	case Low:
		return Low, nil
	default:
		return "", fmt.Errorf("unknown confidence %q", s)
	}
}

// Rank orders confidences LOW < MEDIUM < HIGH.
func (c Confidence) Rank() int {
	switch c {
	case High:
		return 3
	case Medium:
		return 2
	case Low:
		return 1
	default:
		return 0
	}
}

// MaxReasonRunes bounds the reason text kept from the oracle.
const MaxReasonRunes = 500

// FallbackReason is the reason carried by the fallback signal.
const FallbackReason = "因技术分析暂时不可用，采取保守策略"

const fallbackBand = 0.02

// Signal is one advisory decision. The validator mutates it in place.
type Signal struct {
	Action     Action     `json:"signal"`
	Reason     string     `json:"reason"`
	StopLoss   float64    `json:"stop_loss"`
	TakeProfit float64    `json:"take_profit"`
	Confidence Confidence `json:"confidence"`
	Timestamp  time.Time  `json:"timestamp"`
	IsFallback bool       `json:"is_fallback"`
}

func (s Signal) String() string {
	tag := ""
	if s.IsFallback {
		tag = " [fallback]"
	}
	return fmt.Sprintf("%s/%s sl=%.2f tp=%.2f%s", s.Action, s.Confidence, s.StopLoss, s.TakeProfit, tag)
}

// Fallback is the conservative signal used when the oracle is unusable:
// HOLD at LOW confidence with a ±2% band around price.
func Fallback(price float64, now time.Time) Signal {
	return Signal{
		Action:     Hold,
		Reason:     FallbackReason,
		StopLoss:   price * (1 - fallbackBand),
		TakeProfit: price * (1 + fallbackBand),
		Confidence: Low,
		Timestamp:  now,
		IsFallback: true,
	}
}
