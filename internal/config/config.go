// Package config loads the YAML configuration, applies defaults to unset
// keys, overlays credentials from the environment and validates the result.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"perpbot/internal/logger"
)

// EnvConfigPath names the variable holding the config file path.
const EnvConfigPath = "PERPBOT_CONFIG"

// DefaultPath is used when EnvConfigPath is unset.
const DefaultPath = "configs/config.yaml"

// PathFromEnv returns the configured path or DefaultPath.
func PathFromEnv() string {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p
	}
	return DefaultPath
}

func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("config path cannot be empty")
	}
	root, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w := includeWalker{done: map[string]bool{}, active: map[string]bool{}}
	if err := w.visit(root); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	for _, f := range w.order {
		if err := v.MergeConfigMap(f.settings); err != nil {
			return nil, fmt.Errorf("merge config %s: %w", f.path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	present := make(keySet)
	for _, k := range v.AllKeys() {
		present.mark(k)
	}
	cfg.applyDefaults(present)
	cfg.applyEnv(lookup)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envBindings 列出从环境变量覆盖的凭据，环境变量优先于配置文件。
func (c *Config) envBindings() map[string]*string {
	return map[string]*string{
		"BINANCE_API_KEY":     &c.Exchange.APIKey,
		"BINANCE_SECRET_KEY":  &c.Exchange.SecretKey,
		"DEEPSEEK_API_KEY":    &c.AI.APIKey,
		"CRYPTORACLE_API_KEY": &c.Sentiment.APIKey,
		"TELEGRAM_BOT_TOKEN":  &c.Notify.Telegram.BotToken,
		"TELEGRAM_CHAT_ID":    &c.Notify.Telegram.ChatID,
	}
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		return
	}
	for name, target := range c.envBindings() {
		if val, ok := lookup(name); ok && strings.TrimSpace(val) != "" {
			*target = strings.TrimSpace(val)
		}
	}
}

// WatchLogLevel 监听配置文件变化，仅热更新 app.log_level；其余配置需重启生效。
func WatchLogLevel(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return err
	}
	current := strings.ToLower(v.GetString("app.log_level"))
	v.OnConfigChange(func(e fsnotify.Event) {
		level := strings.ToLower(strings.TrimSpace(v.GetString("app.log_level")))
		if level == "" || level == current {
			return
		}
		logger.SetLevel(level)
		logger.Infof("配置文件变更 (%s)，日志级别调整为 %s", filepath.Base(e.Name), level)
		current = level
	})
	v.WatchConfig()
	return nil
}

type configFile struct {
	path     string
	settings map[string]any
}

// includeWalker orders files depth first so every include is merged
// before the file that names it. A file reached twice is merged once.
type includeWalker struct {
	order  []configFile
	done   map[string]bool
	active map[string]bool
}

func (w *includeWalker) visit(path string) error {
	path = filepath.Clean(path)
	switch {
	case w.active[path]:
		return fmt.Errorf("include cycle detected: %s", path)
	case w.done[path]:
		return nil
	}
	w.active[path] = true
	defer delete(w.active, path)

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	for _, inc := range v.GetStringSlice("include") {
		if inc = strings.TrimSpace(inc); inc == "" {
			continue
		}
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(path), inc)
		}
		if err := w.visit(inc); err != nil {
			return err
		}
	}
	w.done[path] = true
	w.order = append(w.order, configFile{path: path, settings: v.AllSettings()})
	return nil
}
