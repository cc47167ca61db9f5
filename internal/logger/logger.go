// Package logger is the process-wide slog front end. Call sites use the
// printf helpers; main picks output, format and level from config.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

var (
	level   slog.LevelVar
	current atomic.Pointer[slog.Logger]

	sinkMu sync.Mutex
	sink   io.Writer = os.Stdout
	asJSON bool
)

func init() {
	rebuild()
}

// rebuild swaps in a handler for the current sink and format. Callers
// hold sinkMu, except init.
func rebuild() {
	w := sink
	if w == nil {
		w = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: &level}
	var h slog.Handler = slog.NewTextHandler(w, opts)
	if asJSON {
		h = slog.NewJSONHandler(w, opts)
	}
	current.Store(slog.New(h))
}

// SetOutput sends every later line to w; nil restores stdout.
func SetOutput(w io.Writer) {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	sink = w
	rebuild()
}

// SetFormat accepts "json"; anything else selects the text handler.
func SetFormat(format string) {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	asJSON = strings.EqualFold(strings.TrimSpace(format), "json")
	rebuild()
}

// SetLevel takes effect immediately, including on handlers already built.
func SetLevel(name string) { level.Set(ParseLevel(name)) }

// ParseLevel defaults to info for unknown names.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func logf(l slog.Level, format string, v []any) {
	ctx := context.Background()
	lg := current.Load()
	if !lg.Enabled(ctx, l) {
		return
	}
	lg.Log(ctx, l, fmt.Sprintf(format, v...))
}

func Debugf(format string, v ...any) { logf(slog.LevelDebug, format, v) }
func Infof(format string, v ...any)  { logf(slog.LevelInfo, format, v) }
func Warnf(format string, v ...any)  { logf(slog.LevelWarn, format, v) }
func Errorf(format string, v ...any) { logf(slog.LevelError, format, v) }
