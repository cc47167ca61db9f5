// Package livehttp serves the read-only status surface: the persisted state
// document, trade and equity logs, the decision audit log, an echarts
// dashboard and the Prometheus endpoint. It never writes.
package livehttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"perpbot/internal/logger"
	"perpbot/internal/store"
	"perpbot/internal/store/decisionlog"
	"perpbot/internal/store/jsonstore"
)

const defaultStaleAfter = 30 * time.Minute

// StateReader is the read side of the JSON store.
type StateReader interface {
	LoadState() (jsonstore.State, error)
	Trades() ([]store.TradeRecord, error)
	Equity() ([]store.EquityPoint, error)
}

// Server 提供只读状态接口与看板。
type Server struct {
	addr   string
	router *gin.Engine
}

// ServerConfig 描述状态服务依赖。Logs 与 Metrics 可为空。
type ServerConfig struct {
	Addr       string
	State      StateReader
	Logs       *decisionlog.DecisionLogStore
	Metrics    http.Handler
	StaleAfter time.Duration
	Now        func() time.Time
}

// NewServer 构建状态 HTTP server。
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.State == nil {
		return nil, errors.New("status server requires a state reader")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaultStaleAfter
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics))
	}
	r := &Router{State: cfg.State, Logs: cfg.Logs, StaleAfter: cfg.StaleAfter, now: cfg.Now}
	r.Register(router.Group("/api"))
	router.GET("/dashboard", r.handleDashboard)
	router.GET("/", func(c *gin.Context) { c.Redirect(http.StatusFound, "/dashboard") })

	return &Server{addr: cfg.Addr, router: router}, nil
}

// requestLogger 记录接口调用，便于追踪刷新频率。
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if q := c.Request.URL.RawQuery; q != "" {
			path += "?" + q
		}
		c.Next()
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s", c.Request.Method, path, c.Writer.Status(), c.ClientIP(), time.Since(start))
	}
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	if s == nil {
		return http.NotFoundHandler()
	}
	return s.router
}

// Addr 返回监听地址。
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Start 启动 HTTP 服务，直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Infof("状态服务已启动: %s", s.addr)

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
