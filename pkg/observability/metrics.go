// Package observability exports call metrics to Prometheus.
package observability

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "partyline"

// Metrics records call orchestration telemetry. A nil *Metrics is a no-op.
type Metrics struct {
	steps               *prometheus.CounterVec
	stepDuration        *prometheus.HistogramVec
	handoffs            prometheus.Counter
	generationFallbacks *prometheus.CounterVec
	synthesisFallbacks  *prometheus.CounterVec
	personasCreated     prometheus.Counter
	activeCalls         prometheus.Gauge

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	rateLimited     *prometheus.CounterVec
	panics          *prometheus.CounterVec
}

// NewMetrics registers collectors on reg, reusing any that already exist.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{}
	var err error
	if m.steps, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "steps_total",
		Help:      "Director steps by classified intent.",
	}, []string{"intent"})); err != nil {
		return nil, err
	}
	if m.stepDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "step_duration_seconds",
		Help:      "Wall time of one director step.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2, 4, 8, 16},
	}, []string{"intent"})); err != nil {
		return nil, err
	}
	if m.handoffs, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "handoffs_total",
		Help:      "Foreground changes between characters.",
	})); err != nil {
		return nil, err
	}
	if m.generationFallbacks, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "generation_fallbacks_total",
		Help:      "Lines replaced by filler because generation failed.",
	}, []string{"reason"})); err != nil {
		return nil, err
	}
	if m.synthesisFallbacks, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "synthesis_fallbacks_total",
		Help:      "Plans sent as text because synthesis failed or is disabled.",
	}, []string{"reason"})); err != nil {
		return nil, err
	}
	if m.personasCreated, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "personas_created_total",
		Help:      "Personas generated and persisted on demand.",
	})); err != nil {
		return nil, err
	}
	if m.activeCalls, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_calls",
		Help:      "Calls currently open.",
	})); err != nil {
		return nil, err
	}
	if m.requests, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route pattern, method and status.",
	}, []string{"route", "method", "status"})); err != nil {
		return nil, err
	}
	if m.requestDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP handler latency. WebSocket routes observe the whole call.",
		Buckets:   []float64{.005, .025, .1, .25, 1, 2.5, 10, 60, 300, 1800},
	}, []string{"route"})); err != nil {
		return nil, err
	}
	if m.rateLimited, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limited_total",
		Help:      "Requests rejected by a limit.",
	}, []string{"limit"})); err != nil {
		return nil, err
	}
	if m.panics, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "handler_panics_total",
		Help:      "Handler panics caught by the recover middleware.",
	}, []string{"route"})); err != nil {
		return nil, err
	}
	return m, nil
}

// MustNewMetrics is NewMetrics that panics on error.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	m, err := NewMetrics(reg)
	if err != nil {
		panic(err)
	}
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, fmt.Errorf("register metric: %w", err)
	}
	return c, nil
}

func (m *Metrics) ObserveStep(intent string, d time.Duration) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(intent).Inc()
	m.stepDuration.WithLabelValues(intent).Observe(d.Seconds())
}

func (m *Metrics) Handoff() {
	if m == nil {
		return
	}
	m.handoffs.Inc()
}

func (m *Metrics) GenerationFallback(reason string) {
	if m == nil {
		return
	}
	m.generationFallbacks.WithLabelValues(reason).Inc()
}

func (m *Metrics) SynthesisFallback(reason string) {
	if m == nil {
		return
	}
	m.synthesisFallbacks.WithLabelValues(reason).Inc()
}

func (m *Metrics) PersonaCreated() {
	if m == nil {
		return
	}
	m.personasCreated.Inc()
}

func (m *Metrics) CallOpened() {
	if m == nil {
		return
	}
	m.activeCalls.Inc()
}

func (m *Metrics) CallClosed() {
	if m == nil {
		return
	}
	m.activeCalls.Dec()
}

func (m *Metrics) ObserveRequest(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route).Observe(d.Seconds())
}

// RateLimited counts a rejection by the named limit ("requests" or "calls").
func (m *Metrics) RateLimited(limit string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(limit).Inc()
}

// Panicked counts a recovered handler panic on route.
func (m *Metrics) Panicked(route string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.panics.WithLabelValues(route).Inc()
}
