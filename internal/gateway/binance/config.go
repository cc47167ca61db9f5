package binance

import (
	"strings"
	"time"
)

type Config struct {
	APIKey      string
	SecretKey   string
	RESTBaseURL string
	HTTPTimeout time.Duration

	ProxyEnabled bool
	RESTProxyURL string

	// RecvWindow is passed on signed requests, in milliseconds.
	RecvWindow int64
}

func (c *Config) withDefaults() Config {
	out := *c
	out.APIKey = strings.TrimSpace(out.APIKey)
	out.SecretKey = strings.TrimSpace(out.SecretKey)
	out.RESTBaseURL = strings.TrimSpace(out.RESTBaseURL)
	if out.RESTBaseURL == "" {
		out.RESTBaseURL = "https://fapi.binance.com"
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	if out.RecvWindow <= 0 {
		out.RecvWindow = 5000
	}
	out.RESTProxyURL = strings.TrimSpace(out.RESTProxyURL)
	return out
}
