package livehttp

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"perpbot/internal/logger"
	"perpbot/internal/store"
	"perpbot/internal/store/decisionlog"
	"perpbot/internal/store/jsonstore"
)

// Router 暴露只读查询接口。
type Router struct {
	State      StateReader
	Logs       *decisionlog.DecisionLogStore
	StaleAfter time.Duration
	now        func() time.Time
}

// StatusView is the state document plus the reader-side staleness flag.
type StatusView struct {
	jsonstore.State
	Stale bool `json:"stale"`
}

// Register 将路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/status", r.handleStatus)
	group.GET("/trades", r.handleTrades)
	group.GET("/equity", r.handleEquity)
	group.GET("/performance", r.handlePerformance)
	group.GET("/decisions", r.handleDecisions)
	group.GET("/decisions/:id", r.handleDecisionByID)
}

func (r *Router) clock() time.Time {
	if r.now == nil {
		return time.Now()
	}
	return r.now()
}

func (r *Router) loadStatus() (StatusView, error) {
	st, err := r.State.LoadState()
	if err != nil {
		return StatusView{}, err
	}
	return StatusView{State: st, Stale: st.Stale(r.clock(), r.StaleAfter)}, nil
}

func (r *Router) handleStatus(c *gin.Context) {
	view, err := r.loadStatus()
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "暂无状态数据", "stale": true})
		return
	}
	if err != nil {
		logger.Errorf("[api] 读取状态失败 ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, view)
}

func (r *Router) handleTrades(c *gin.Context) {
	trades, err := r.State.Trades()
	if err != nil {
		logger.Errorf("[api] 读取交易记录失败 ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	trades = tail(trades, queryLimit(c, len(trades)))
	if trades == nil {
		trades = []store.TradeRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades, "count": len(trades)})
}

func (r *Router) handleEquity(c *gin.Context) {
	points, err := r.State.Equity()
	if err != nil {
		logger.Errorf("[api] 读取权益记录失败 ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	points = tail(points, queryLimit(c, len(points)))
	if points == nil {
		points = []store.EquityPoint{}
	}
	c.JSON(http.StatusOK, gin.H{"equity": points, "count": len(points)})
}

func (r *Router) handlePerformance(c *gin.Context) {
	trades, err := r.State.Trades()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, store.ComputePerformance(trades))
}

func (r *Router) handleDecisions(c *gin.Context) {
	if r.Logs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "决策日志未启用"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}
	q := decisionlog.Query{
		Symbol:   c.Query("symbol"),
		Provider: c.Query("provider"),
		Signal:   c.Query("signal"),
		Limit:    limit,
		Offset:   offset,
	}
	reqCtx := c.Request.Context()
	listCtx, cancel := context.WithTimeout(reqCtx, 2*time.Second)
	logs, err := r.Logs.ListDecisions(listCtx, q)
	cancel()
	if err != nil {
		logger.Errorf("[api] 决策日志查询失败 ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	total := -1
	countCtx, cancelCount := context.WithTimeout(reqCtx, 800*time.Millisecond)
	if n, err := r.Logs.CountDecisions(countCtx, q); err != nil {
		logger.Warnf("[api] 决策日志计数失败 ip=%s err=%v", c.ClientIP(), err)
	} else {
		total = n
	}
	cancelCount()
	if logs == nil {
		logs = []decisionlog.DecisionLogRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs, "total_count": total, "limit": limit, "offset": offset})
}

func (r *Router) handleDecisionByID(c *gin.Context) {
	if r.Logs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "决策日志未启用"})
		return
	}
	id, _ := strconv.ParseInt(strings.TrimSpace(c.Param("id")), 10, 64)
	if id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid decision id"})
		return
	}
	rec, err := r.Logs.GetDecision(c.Request.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "decision not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func queryLimit(c *gin.Context, def int) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func tail[T any](items []T, n int) []T {
	if n <= 0 || n >= len(items) {
		return items
	}
	return items[len(items)-n:]
}
