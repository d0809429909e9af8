package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the paid execution service.
type Metrics struct {
	Registry *prometheus.Registry

	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	ActiveExecutions  prometheus.Gauge

	PaymentsVerified  prometheus.Counter
	PaymentRejections *prometheus.CounterVec
	ChallengesIssued  prometheus.Counter
	SettlementsTotal  *prometheus.CounterVec
	RevenueAtomic     *prometheus.CounterVec

	SuspiciousCode *prometheus.CounterVec

	RequestsInFlight prometheus.Gauge
	CodeSizeBytes    prometheus.Histogram
	OutputSizeBytes  prometheus.Histogram
	MemoryPeakBytes  prometheus.Histogram
}

// NewMetrics creates and registers all Prometheus metrics using a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		ExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "x402sandbox",
				Name:      "executions_total",
				Help:      "Total executions by tier and terminal state.",
			},
			[]string{"tier", "state"},
		),

		ExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "x402sandbox",
				Name:      "execution_duration_seconds",
				Help:      "Duration of executions in seconds.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"tier"},
		),

		ActiveExecutions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "x402sandbox",
				Name:      "active_executions",
				Help:      "Number of currently running executions.",
			},
		),

		PaymentsVerified: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "x402sandbox",
				Subsystem: "payment",
				Name:      "verified_total",
				Help:      "Total payment authorizations that passed every check.",
			},
		),

		PaymentRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "x402sandbox",
				Subsystem: "payment",
				Name:      "rejections_total",
				Help:      "Total payment rejections by reason.",
			},
			[]string{"reason"},
		),

		ChallengesIssued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "x402sandbox",
				Subsystem: "payment",
				Name:      "challenges_total",
				Help:      "Total 402 challenges issued.",
			},
		),

		SettlementsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "x402sandbox",
				Subsystem: "payment",
				Name:      "settlements_total",
				Help:      "Total settlement attempts by outcome.",
			},
			[]string{"outcome"},
		),

		RevenueAtomic: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "x402sandbox",
				Subsystem: "payment",
				Name:      "revenue_atomic_total",
				Help:      "Settled revenue in the asset's smallest unit, by tier.",
			},
			[]string{"tier"},
		),

		SuspiciousCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "x402sandbox",
				Name:      "suspicious_code_total",
				Help:      "Submissions matching abuse patterns, by pattern.",
			},
			[]string{"pattern"},
		),

		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "x402sandbox",
				Subsystem: "api",
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being processed.",
			},
		),

		CodeSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "x402sandbox",
				Name:      "code_size_bytes",
				Help:      "Size of submitted code in bytes.",
				Buckets:   prometheus.ExponentialBuckets(100, 4, 8),
			},
		),

		OutputSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "x402sandbox",
				Name:      "output_size_bytes",
				Help:      "Size of execution output in bytes.",
				Buckets:   prometheus.ExponentialBuckets(10, 4, 8),
			},
		),

		MemoryPeakBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "x402sandbox",
				Name:      "memory_peak_bytes",
				Help:      "Peak heap growth observed per execution.",
				Buckets:   prometheus.ExponentialBuckets(1<<20, 2, 10),
			},
		),
	}

	// Register all collectors
	reg.MustRegister(
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.ActiveExecutions,
		m.PaymentsVerified,
		m.PaymentRejections,
		m.ChallengesIssued,
		m.SettlementsTotal,
		m.RevenueAtomic,
		m.SuspiciousCode,
		m.RequestsInFlight,
		m.CodeSizeBytes,
		m.OutputSizeBytes,
		m.MemoryPeakBytes,
	)

	return m
}

// RecordExecution records metrics for a completed execution.
func (m *Metrics) RecordExecution(tier, state string, durationSec float64) {
	m.ExecutionsTotal.WithLabelValues(tier, state).Inc()
	m.ExecutionDuration.WithLabelValues(tier).Observe(durationSec)
}

// RecordRejection records a payment rejection by reason.
func (m *Metrics) RecordRejection(reason string) {
	m.PaymentRejections.WithLabelValues(reason).Inc()
}

// RecordSettlement records a settlement attempt outcome.
func (m *Metrics) RecordSettlement(outcome string) {
	m.SettlementsTotal.WithLabelValues(outcome).Inc()
}
