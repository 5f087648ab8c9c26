// Package observability carries the operator-facing instrumentation: the
// Prometheus collectors for tool execution, routing, verification, and
// approvals, plus the OpenTelemetry tracer provider. None of it sits on the
// request path; recording a metric never blocks orchestration.
package observability

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"foreman/internal/logging"
)

// Metrics exposes Prometheus collectors that report engine activity.
type Metrics struct {
	toolExecutions *prometheus.CounterVec
	toolDuration   *prometheus.HistogramVec
	decisions      *prometheus.CounterVec
	verifyOps      *prometheus.CounterVec
	verifyAttempts prometheus.Histogram
	approvals      *prometheus.CounterVec
	requestsActive prometheus.Gauge
}

// MustNewMetrics constructs the collectors on reg. Registration errors panic,
// mirroring promauto semantics, except AlreadyRegisteredError which reuses the
// existing collector so repeated construction (tests, multiple containers) is
// safe.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		toolExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "foreman",
			Subsystem: "tool",
			Name:      "executions_total",
			Help:      "Tool executions by worker, tool, and outcome.",
		}, []string{"worker", "tool", "outcome"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "foreman",
			Subsystem: "tool",
			Name:      "duration_seconds",
			Help:      "Tool execution duration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "foreman",
			Subsystem: "decision",
			Name:      "total",
			Help:      "Routing decisions by kind.",
		}, []string{"kind"}),
		verifyOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "foreman",
			Subsystem: "verify",
			Name:      "operations_total",
			Help:      "Verification loop runs by outcome.",
		}, []string{"outcome"}),
		verifyAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "foreman",
			Subsystem: "verify",
			Name:      "attempts",
			Help:      "Fix attempts used per verification run.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),
		approvals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "foreman",
			Subsystem: "approval",
			Name:      "batches_total",
			Help:      "Approval batches by outcome.",
		}, []string{"outcome"}),
		requestsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "foreman",
			Name:      "requests_active",
			Help:      "Orchestration requests currently in flight.",
		}),
	}

	m.toolExecutions = registerCounterVec(reg, m.toolExecutions)
	m.toolDuration = registerHistogramVec(reg, m.toolDuration)
	m.decisions = registerCounterVec(reg, m.decisions)
	m.verifyOps = registerCounterVec(reg, m.verifyOps)
	m.verifyAttempts = registerHistogram(reg, m.verifyAttempts)
	m.approvals = registerCounterVec(reg, m.approvals)
	m.requestsActive = registerGauge(reg, m.requestsActive)
	return m
}

// RecordTool records one tool execution.
func (m *Metrics) RecordTool(worker, tool string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.toolExecutions.WithLabelValues(worker, tool, outcome(success)).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordDecision records one routing decision by kind.
func (m *Metrics) RecordDecision(kind string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(kind).Inc()
}

// RecordVerification records one verification loop run.
func (m *Metrics) RecordVerification(success bool, attempts int) {
	if m == nil {
		return
	}
	m.verifyOps.WithLabelValues(outcome(success)).Inc()
	m.verifyAttempts.Observe(float64(attempts))
}

// RecordApproval records one approval batch outcome.
func (m *Metrics) RecordApproval(result string) {
	if m == nil {
		return
	}
	m.approvals.WithLabelValues(result).Inc()
}

// RequestStarted marks an orchestration request in flight.
func (m *Metrics) RequestStarted() {
	if m == nil {
		return
	}
	m.requestsActive.Inc()
}

// RequestFinished marks an orchestration request done.
func (m *Metrics) RequestFinished() {
	if m == nil {
		return
	}
	m.requestsActive.Dec()
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// Handler returns the scrape handler for g, suitable for mounting at /metrics.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// ServeMetrics starts a standalone scrape endpoint on port. The returned
// shutdown function stops it.
func ServeMetrics(port int, g prometheus.Gatherer, logger logging.Logger) func() error {
	logger = logging.OrNop(logger)
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		logger.Info("metrics endpoint listening on :%d", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server: %v", err)
		}
	}()
	return srv.Close
}

// register* reuse an existing collector when one with the same fully
// qualified name is already registered.

func registerCounterVec(reg prometheus.Registerer, c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector.(*prometheus.CounterVec)
		}
		panic(err)
	}
	return c
}

func registerHistogramVec(reg prometheus.Registerer, h *prometheus.HistogramVec) *prometheus.HistogramVec {
	if err := reg.Register(h); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector.(*prometheus.HistogramVec)
		}
		panic(err)
	}
	return h
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram) prometheus.Histogram {
	if err := reg.Register(h); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector.(prometheus.Histogram)
		}
		panic(err)
	}
	return h
}

func registerGauge(reg prometheus.Registerer, g prometheus.Gauge) prometheus.Gauge {
	if err := reg.Register(g); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector.(prometheus.Gauge)
		}
		panic(err)
	}
	return g
}
