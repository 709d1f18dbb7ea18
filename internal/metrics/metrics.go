// Package metrics provides Prometheus metrics for the callout engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "callout"
)

// Cycle metrics
var (
	// CyclesTotal counts poll cycles by outcome.
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "cycles_total",
			Help:      "Total number of poll cycles",
		},
		[]string{"outcome"},
	)

	// CycleDuration tracks poll cycle latency.
	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "cycle_duration_seconds",
			Help:      "Poll cycle duration in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	// ProblemsFetched counts problems returned by the monitoring source.
	ProblemsFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "problems_fetched_total",
			Help:      "Total number of open problems fetched from the monitoring source",
		},
	)

	// IncidentsNotified counts incidents notified, by severity label.
	IncidentsNotified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "incidents_notified_total",
			Help:      "Total number of incidents notified",
		},
		[]string{"severity"},
	)

	// IncidentsSkipped counts incidents skipped, by reason.
	IncidentsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "incidents_skipped_total",
			Help:      "Total number of incidents skipped without notification",
		},
		[]string{"reason"},
	)
)

// Sink metrics
var (
	// ChatSendsTotal counts chat deliveries by status.
	ChatSendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "chat_sends_total",
			Help:      "Total number of chat notification attempts",
		},
		[]string{"status"},
	)

	// VoiceCallsTotal counts voice escalations by status.
	VoiceCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "voice_calls_total",
			Help:      "Total number of voice escalation attempts",
		},
		[]string{"status"},
	)
)

// Directory metrics
var (
	// DirectoryLookupsTotal counts on-call lookups by result.
	DirectoryLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "directory",
			Name:      "lookups_total",
			Help:      "Total number of on-call directory lookups",
		},
		[]string{"result"},
	)

	// FallbacksTotal counts escalations routed to the fallback number.
	FallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "directory",
			Name:      "fallbacks_total",
			Help:      "Total number of escalations routed to the fallback phone",
		},
	)
)

// Ledger metrics
var (
	// LedgerSize tracks the number of events in the notified ledger.
	LedgerSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "events",
			Help:      "Number of events currently in the notified ledger",
		},
	)

	// LedgerSaveErrors counts failed ledger persists.
	LedgerSaveErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "save_errors_total",
			Help:      "Total number of failed ledger saves",
		},
	)
)
