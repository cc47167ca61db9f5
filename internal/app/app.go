// Package app wires the decision loop and the status server from config
// and supervises both.
package app

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"perpbot/internal/agent/engine"
	"perpbot/internal/config"
	"perpbot/internal/logger"
	livehttp "perpbot/internal/transport/http/live"
)

// RestartDelay is the pause before a crashed member is started again.
const RestartDelay = 10 * time.Second

// App 负责应用级编排：决策循环 + 只读状态服务。
type App struct {
	cfg     *config.Config
	engine  *engine.Engine
	server  *livehttp.Server
	closers []func() error
	Summary *StartupSummary

	restartDelay time.Duration
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Engine exposes the decision loop.
func (a *App) Engine() *engine.Engine {
	if a == nil {
		return nil
	}
	return a.engine
}

// Run 启动决策循环与状态服务，直到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.engine == nil {
		return fmt.Errorf("decision engine not initialized")
	}
	defer a.Close()
	if a.Summary != nil {
		a.Summary.Print()
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return supervise(ctx, "决策循环", a.delay(), a.engine.Run)
	})
	if a.server != nil {
		group.Go(func() error {
			return supervise(ctx, "状态服务", a.delay(), a.server.Start)
		})
	}
	return group.Wait()
}

// Close releases the stores opened by the builder.
func (a *App) Close() {
	if a == nil {
		return
	}
	for _, fn := range a.closers {
		if err := fn(); err != nil {
			logger.Warnf("关闭资源失败: %v", err)
		}
	}
	a.closers = nil
}

func (a *App) delay() time.Duration {
	if a.restartDelay > 0 {
		return a.restartDelay
	}
	return RestartDelay
}

// supervise runs fn until ctx is done. A member that returns or panics
// before that is restarted after delay.
func supervise(ctx context.Context, name string, delay time.Duration, fn func(context.Context) error) error {
	for {
		err := runGuarded(ctx, fn)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = errors.New("exited unexpectedly")
		}
		logger.Errorf("%s 异常退出: %v, %s 后重启", name, err, delay)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func runGuarded(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			logger.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx)
}
