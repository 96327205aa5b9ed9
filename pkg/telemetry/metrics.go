package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the backlog tooling.
type Metrics struct {
	config MetricsConfig

	// Command metrics
	commandsTotal   *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec

	// Backlog metrics
	violations     *prometheus.CounterVec
	driftChecks    *prometheus.CounterVec
	workItems      *prometheus.GaugeVec
	actionsPlanned prometheus.Gauge

	// Execution metrics
	actionRuns     *prometheus.CounterVec
	actionDuration *prometheus.HistogramVec

	policyWarnings *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		commandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_total",
				Help:      "Total number of CLI commands by result",
			},
			[]string{"command", "result"},
		),
		commandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "command_duration_seconds",
				Help:      "Duration of CLI commands in seconds",
				Buckets:   buckets,
			},
			[]string{"command"},
		),

		violations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validation_violations_total",
				Help:      "Total number of validation violations by category",
			},
			[]string{"category"},
		),
		driftChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "drift_checks_total",
				Help:      "Total number of drift checks by outcome",
			},
			[]string{"outcome"},
		),
		workItems: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "work_items",
				Help:      "Current number of work items by kind and status",
			},
			[]string{"kind", "status"},
		),
		actionsPlanned: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "actions_planned",
				Help:      "Number of actions in the latest plan",
			},
		),

		actionRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "action_runs_total",
				Help:      "Total number of executed actions",
			},
			[]string{"token", "ok"},
		),
		actionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "action_duration_seconds",
				Help:      "Duration of action execution in seconds",
				Buckets:   buckets,
			},
			[]string{"token"},
		),

		policyWarnings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_warnings_total",
				Help:      "Total number of policy advisories by rule",
			},
			[]string{"rule"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),
	}

	registry.MustRegister(
		m.commandsTotal,
		m.commandDuration,
		m.violations,
		m.driftChecks,
		m.workItems,
		m.actionsPlanned,
		m.actionRuns,
		m.actionDuration,
		m.policyWarnings,
		m.errorsByClass,
		m.errorsByCode,
	)

	return m, nil
}

// Enabled reports whether metrics are being collected.
func (m *Metrics) Enabled() bool {
	return m != nil && m.registry != nil
}

// RecordCommand records a finished CLI command.
func (m *Metrics) RecordCommand(command string, err error, duration time.Duration) {
	if !m.Enabled() {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.commandsTotal.WithLabelValues(command, result).Inc()
	m.commandDuration.WithLabelValues(command).Observe(duration.Seconds())
}

// RecordViolation records a validation violation.
func (m *Metrics) RecordViolation(category string) {
	if !m.Enabled() {
		return
	}
	m.violations.WithLabelValues(category).Inc()
}

// RecordDriftCheck records a drift check outcome ("clean", "drifted", "missing").
func (m *Metrics) RecordDriftCheck(outcome string) {
	if !m.Enabled() {
		return
	}
	m.driftChecks.WithLabelValues(outcome).Inc()
}

// SetWorkItemCount sets the current count of work items.
func (m *Metrics) SetWorkItemCount(kind, status string, count float64) {
	if !m.Enabled() {
		return
	}
	m.workItems.WithLabelValues(kind, status).Set(count)
}

// SetActionsPlanned sets the size of the latest plan.
func (m *Metrics) SetActionsPlanned(count float64) {
	if !m.Enabled() {
		return
	}
	m.actionsPlanned.Set(count)
}

// RecordActionRun records an executed action with its duration.
func (m *Metrics) RecordActionRun(token string, ok bool, duration time.Duration) {
	if !m.Enabled() {
		return
	}
	label := "false"
	if ok {
		label = "true"
	}
	m.actionRuns.WithLabelValues(token, label).Inc()
	m.actionDuration.WithLabelValues(token).Observe(duration.Seconds())
}

// RecordPolicyWarning records a policy advisory.
func (m *Metrics) RecordPolicyWarning(rule string) {
	if !m.Enabled() {
		return
	}
	m.policyWarnings.WithLabelValues(rule).Inc()
}

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if !m.Enabled() {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Registry returns the underlying registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.Enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
// The server stops when ctx is cancelled.
func (m *Metrics) StartMetricsServer(ctx context.Context, logger *Logger) error {
	if !m.Enabled() {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("metrics server stopped")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	return nil
}
