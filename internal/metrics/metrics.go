package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ddos_guard"

// GuardMetrics is the metric set of the detector. A nil *GuardMetrics is
// valid and records nothing.
type GuardMetrics struct {
	// Packet metrics
	PacketsTotal   *prometheus.CounterVec
	PacketsSkipped *prometheus.CounterVec
	WindowResets   prometheus.Counter
	TrackedSources prometheus.Gauge

	// Enforcement metrics
	BlocksTotal         *prometheus.CounterVec
	UnblocksTotal       *prometheus.CounterVec
	EnforcementFailures *prometheus.CounterVec
	EnforcementDuration *prometheus.HistogramVec
	BlockedSources      prometheus.Gauge

	// Alert metrics
	EventsTotal *prometheus.CounterVec

	CaptureRunning prometheus.Gauge
}

// NewRegistry returns a registry carrying the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return registry
}

// NewGuardMetrics registers the metric set on reg.
func NewGuardMetrics(reg prometheus.Registerer) *GuardMetrics {
	factory := promauto.With(reg)
	return &GuardMetrics{
		PacketsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "packets_total",
				Help:      "Total number of IP packets counted",
			},
			[]string{"protocol"},
		),

		PacketsSkipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "packets_skipped_total",
				Help:      "Total number of captured packets skipped before counting",
			},
			[]string{"reason"},
		),

		WindowResets: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "window_resets_total",
				Help:      "Total number of global counting window resets",
			},
		),

		TrackedSources: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tracked_sources",
				Help:      "Number of sources counted in the current window",
			},
		),

		BlocksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "blocks_total",
				Help:      "Total number of sources blocked",
			},
			[]string{"trigger"},
		),

		UnblocksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "unblocks_total",
				Help:      "Total number of sources unblocked",
			},
			[]string{"trigger"},
		),

		EnforcementFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "enforcement_failures_total",
				Help:      "Total number of failed enforcement actions",
			},
			[]string{"backend", "action"},
		),

		EnforcementDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "enforcement_duration_seconds",
				Help:      "Time spent in enforcement gateway calls",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"backend", "action"},
		),

		BlockedSources: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "blocked_sources",
				Help:      "Number of sources currently blocked",
			},
		),

		EventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Total events emitted",
			},
			[]string{"severity", "type"},
		),

		CaptureRunning: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "capture_running",
				Help:      "1 while the capture loop is running",
			},
		),
	}
}

func (m *GuardMetrics) RecordPacket(protocol string) {
	if m == nil {
		return
	}
	if protocol == "" {
		protocol = "unknown"
	}
	m.PacketsTotal.WithLabelValues(protocol).Inc()
}

func (m *GuardMetrics) RecordSkipped(reason string) {
	if m == nil {
		return
	}
	m.PacketsSkipped.WithLabelValues(reason).Inc()
}

func (m *GuardMetrics) RecordWindowReset() {
	if m == nil {
		return
	}
	m.WindowResets.Inc()
}

func (m *GuardMetrics) SetTrackedSources(n int) {
	if m == nil {
		return
	}
	m.TrackedSources.Set(float64(n))
}

func (m *GuardMetrics) SetBlockedSources(n int) {
	if m == nil {
		return
	}
	m.BlockedSources.Set(float64(n))
}

func (m *GuardMetrics) RecordBlock(trigger string) {
	if m == nil {
		return
	}
	m.BlocksTotal.WithLabelValues(trigger).Inc()
}

func (m *GuardMetrics) RecordUnblock(trigger string) {
	if m == nil {
		return
	}
	m.UnblocksTotal.WithLabelValues(trigger).Inc()
}

// RecordEnforcement observes one gateway call and counts it if it failed.
func (m *GuardMetrics) RecordEnforcement(backend, action string, took time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.EnforcementDuration.WithLabelValues(backend, action).Observe(took.Seconds())
	if failed {
		m.EnforcementFailures.WithLabelValues(backend, action).Inc()
	}
}

func (m *GuardMetrics) RecordEvent(severity, eventType string) {
	if m == nil {
		return
	}
	if severity == "" {
		severity = "unknown"
	}
	if eventType == "" {
		eventType = "unknown"
	}
	m.EventsTotal.WithLabelValues(severity, eventType).Inc()
}

func (m *GuardMetrics) SetCaptureRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.CaptureRunning.Set(1)
	} else {
		m.CaptureRunning.Set(0)
	}
}
