// Package provider adapts chat-completion APIs into the advisory oracle
// the decision loop consults once per cycle.
package provider

import "context"

// ModelProvider returns the raw assistant text for one prompt pair.
// Parsing and validation are the caller's business.
type ModelProvider interface {
	ID() string
	Enabled() bool
	Call(ctx context.Context, payload ChatPayload) (string, error)
}

// ChatPayload carries one request. Zero MaxTokens or Temperature fall back
// to the provider's configured values.
type ChatPayload struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
	TraceID     string
}

func (c ChatPayload) resolve(temperature float64, maxTokens int) ChatPayload {
	if c.Temperature == 0 {
		c.Temperature = temperature
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = maxTokens
	}
	return c
}
