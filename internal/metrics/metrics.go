// Package metrics exposes the decision loop's counters and gauges to
// Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "perpbot"

// Recorder records cycle outcomes. A nil *Recorder is a no-op so callers
// never need to guard.
type Recorder struct {
	gatherer prometheus.Gatherer

	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	signals       *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	oracleCalls   *prometheus.CounterVec
	venueErrors   *prometheus.CounterVec
	price         prometheus.Gauge
	equity        prometheus.Gauge
	positionSize  *prometheus.GaugeVec
	lastCycle     prometheus.Gauge
}

// New registers the collectors on reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Recorder{
		gatherer: reg,
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Decision cycles by result",
		}, []string{"result"}),
		cycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one decision cycle",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
		signals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Validated signals by action, confidence and fallback flag",
		}, []string{"action", "confidence", "fallback"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_transitions_total",
			Help:      "Reconciler transitions taken",
		}, []string{"transition"}),
		oracleCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_attempts_total",
			Help:      "Oracle attempts by result",
		}, []string{"result"}),
		venueErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "venue_errors_total",
			Help:      "Exchange errors by operation and class",
		}, []string{"op", "class"}),
		price: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_price",
			Help:      "Last traded price of the instrument",
		}),
		equity: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "account_equity_usdt",
			Help:      "Account equity including unrealised PnL",
		}),
		positionSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "position_contracts",
			Help:      "Open position size in contracts by side",
		}, []string{"side"}),
		lastCycle: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_cycle_timestamp_seconds",
			Help:      "Unix time of the last completed cycle",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

func (r *Recorder) ObserveCycle(result string, took time.Duration, at time.Time) {
	if r == nil {
		return
	}
	r.cycles.WithLabelValues(result).Inc()
	r.cycleDuration.Observe(took.Seconds())
	r.lastCycle.Set(float64(at.Unix()))
}

func (r *Recorder) RecordSignal(action, confidence string, fallback bool) {
	if r == nil {
		return
	}
	fb := "false"
	if fallback {
		fb = "true"
	}
	r.signals.WithLabelValues(action, confidence, fb).Inc()
}

func (r *Recorder) RecordTransition(transition string) {
	if r == nil {
		return
	}
	r.transitions.WithLabelValues(transition).Inc()
}

func (r *Recorder) RecordOracleAttempts(attempts int, ok bool) {
	if r == nil {
		return
	}
	failed := attempts
	if ok && failed > 0 {
		failed--
		r.oracleCalls.WithLabelValues("ok").Inc()
	}
	if failed > 0 {
		r.oracleCalls.WithLabelValues("error").Add(float64(failed))
	}
}

func (r *Recorder) RecordVenueError(op, class string) {
	if r == nil {
		return
	}
	r.venueErrors.WithLabelValues(op, class).Inc()
}

func (r *Recorder) SetPrice(v float64) {
	if r == nil {
		return
	}
	r.price.Set(v)
}

func (r *Recorder) SetEquity(v float64) {
	if r == nil {
		return
	}
	r.equity.Set(v)
}

// SetPosition publishes the open size; the other side is reset to zero.
func (r *Recorder) SetPosition(side string, size float64) {
	if r == nil {
		return
	}
	r.positionSize.WithLabelValues("long").Set(0)
	r.positionSize.WithLabelValues("short").Set(0)
	if side != "" {
		r.positionSize.WithLabelValues(side).Set(size)
	}
}
