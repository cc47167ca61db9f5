package decision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"perpbot/internal/gateway/provider"
	"perpbot/internal/logger"
	"perpbot/internal/prompt"
	"perpbot/internal/risk"
	"perpbot/internal/signal"
)

const (
	defaultAttempts = 2
	defaultPause    = time.Second
	temperature     = 0.1
)

// Round is one advisory exchange, persisted for later inspection.
type Round struct {
	TraceID    string        `json:"trace_id"`
	ProviderID string        `json:"provider_id"`
	Symbol     string        `json:"symbol"`
	Timestamp  time.Time     `json:"ts"`
	System     string        `json:"system_prompt"`
	User       string        `json:"user_prompt"`
	Raw        string        `json:"raw_output"`
	Attempts   int           `json:"attempts"`
	Signal     signal.Signal `json:"signal"`
	Report     Report        `json:"report"`
	Error      string        `json:"error,omitempty"`
}

// RoundRecorder persists rounds. Failures are logged by the advisor.
type RoundRecorder interface {
	RecordRound(ctx context.Context, r Round) error
}

// Outcome is the advisor's result. Signal is always usable; Err carries
// the last oracle failure when Signal is the fallback.
type Outcome struct {
	TraceID  string
	Signal   signal.Signal
	Raw      string
	Attempts int
	Report   Report
	Err      error
}

// Advisor runs prompt -> oracle -> parse -> validate with bounded retries.
type Advisor struct {
	Provider    provider.ModelProvider
	Prompts     *prompt.Builder
	Validator   Validator
	Recorder    RoundRecorder
	MaxAttempts int
	Pause       time.Duration

	sleep func(context.Context, time.Duration) error
	now   func() time.Time
}

// UseRisk sets the model the validator draws fallback levels from.
func (a *Advisor) UseRisk(m risk.Model) {
	a.Validator.Risk = m
}

func (a *Advisor) attempts() int {
	if a.MaxAttempts > 0 {
		return a.MaxAttempts
	}
	return defaultAttempts
}

func (a *Advisor) pause() time.Duration {
	if a.Pause > 0 {
		return a.Pause
	}
	return defaultPause
}

func (a *Advisor) clock() time.Time {
	if a.now != nil {
		return a.now()
	}
	return time.Now()
}

func (a *Advisor) wait(ctx context.Context, d time.Duration) error {
	if a.sleep != nil {
		return a.sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var errNoProvider = errors.New("no enabled provider")

// Decide never blocks past the retry bound: when no attempt yields a
// parsable signal the fallback is validated and returned instead.
func (a *Advisor) Decide(ctx context.Context, snap prompt.Snapshot) Outcome {
	now := a.clock()
	out := Outcome{TraceID: uuid.NewString()}
	round := Round{TraceID: out.TraceID, Symbol: snap.Symbol, Timestamp: now}

	var (
		sig     signal.Signal
		lastErr error
		ok      bool
	)
	rendered, err := a.render(snap)
	if err != nil {
		lastErr = err
	} else {
		round.System, round.User = rendered.System, rendered.User
		sig, ok, lastErr = a.ask(ctx, rendered, &out)
	}
	if a.Provider != nil {
		round.ProviderID = a.Provider.ID()
	}
	if !ok {
		sig = signal.Fallback(snap.Price, now)
		out.Err = lastErr
		logger.Warnf("AI 信号不可用, 使用保守信号: %v", lastErr)
	}
	sig.Timestamp = now

	out.Report = a.Validator.Validate(&sig, Input{Price: snap.Price, Point: snap.Point, State: snap.State})
	if out.Report.Changed() {
		for _, adj := range out.Report.Adjustments {
			logger.Infof("信号校验调整: %s", adj)
		}
	}
	out.Signal = sig

	round.Raw = out.Raw
	round.Attempts = out.Attempts
	round.Signal = sig
	round.Report = out.Report
	if out.Err != nil {
		round.Error = out.Err.Error()
	}
	if a.Recorder != nil {
		if err := a.Recorder.RecordRound(ctx, round); err != nil {
			logger.Warnf("写入决策日志失败: %v", err)
		}
	}
	return out
}

func (a *Advisor) render(snap prompt.Snapshot) (prompt.Rendered, error) {
	if a.Prompts == nil {
		return prompt.Rendered{}, errors.New("prompt builder missing")
	}
	return a.Prompts.Render(snap)
}

func (a *Advisor) ask(ctx context.Context, rendered prompt.Rendered, out *Outcome) (signal.Signal, bool, error) {
	if a.Provider == nil || !a.Provider.Enabled() {
		return signal.Signal{}, false, errNoProvider
	}
	var lastErr error
	max := a.attempts()
	for attempt := 1; attempt <= max; attempt++ {
		out.Attempts = attempt
		raw, err := a.Provider.Call(ctx, provider.ChatPayload{
			System:      rendered.System,
			User:        rendered.User,
			Temperature: temperature,
			TraceID:     out.TraceID,
		})
		if err == nil {
			out.Raw = raw
			sig, perr := signal.Parse(raw)
			if perr == nil {
				return sig, true, nil
			}
			err = fmt.Errorf("parse oracle output: %w", perr)
		}
		lastErr = err
		logger.Warnf("AI 分析第 %d/%d 次失败: %v", attempt, max, err)
		if ctx.Err() != nil {
			return signal.Signal{}, false, ctx.Err()
		}
		if attempt < max {
			if err := a.wait(ctx, a.pause()); err != nil {
				return signal.Signal{}, false, err
			}
		}
	}
	return signal.Signal{}, false, lastErr
}
