// Command perpbot runs the perpetual-futures decision loop and its status
// server until SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"perpbot/internal/app"
	"perpbot/internal/config"
	"perpbot/internal/logger"
)

func main() {
	// .env is optional; real deployments export the keys directly.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("读取 .env 失败: %v", err)
	}
	if err := run(); err != nil {
		logger.Errorf("运行失败: %v", err)
		os.Exit(1)
	}
	logger.Infof("程序已退出")
}

func run() error {
	path := config.PathFromEnv()
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("读取配置失败: %w", err)
	}

	closeLogs, err := configureLogging(cfg.App)
	if err != nil {
		return err
	}
	defer closeLogs()
	logger.Infof("✓ 配置加载成功（环境=%s，配置=%s）", cfg.App.Env, path)
	if err := config.WatchLogLevel(path); err != nil {
		logger.Warnf("配置热更新未启用: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApp(cfg)
	if err != nil {
		return fmt.Errorf("初始化应用失败: %w", err)
	}
	return application.Run(ctx)
}

// configureLogging applies the app section: main log tee, format, level
// and the separate oracle transcript.
func configureLogging(c config.AppConfig) (func(), error) {
	var files []*os.File
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}

	if f, err := openAppend(c.LogPath); err != nil {
		return closeAll, fmt.Errorf("初始化日志文件失败: %w", err)
	} else if f != nil {
		files = append(files, f)
		mw := io.MultiWriter(os.Stdout, f)
		log.SetOutput(mw)
		logger.SetOutput(mw)
	}
	logger.SetFormat(c.LogFormat)
	logger.SetLevel(c.LogLevel)

	logger.SetLLMWriter(nil)
	logger.EnableLLMPayloadDump(c.LLMDump)
	if c.LLMDump {
		f, err := openAppend(c.LLMLog)
		if err != nil {
			closeAll()
			return func() {}, fmt.Errorf("初始化 LLM 日志失败: %w", err)
		}
		if f != nil {
			files = append(files, f)
			logger.SetLLMWriter(f)
		}
	}
	return closeAll, nil
}

// openAppend returns nil for an empty path.
func openAppend(path string) (*os.File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}
