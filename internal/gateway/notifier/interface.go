package notifier

import "context"

// TextNotifier pushes one plain or Markdown message. Delivery failures are
// reported, never retried by the caller.
type TextNotifier interface {
	SendText(ctx context.Context, text string) error
}

// Nop discards every message; used when notifications are disabled.
type Nop struct{}

func (Nop) SendText(context.Context, string) error { return nil }
