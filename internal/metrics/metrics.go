package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostsentry_events_ingested_total",
			Help: "Total number of events accepted for correlation",
		},
		[]string{"source"},
	)

	GatewayRejects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostsentry_gateway_rejects_total",
			Help: "Total number of ingest requests rejected at the gateway",
		},
		[]string{"reason"},
	)

	FindingsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostsentry_findings_total",
			Help: "Total number of detection findings forwarded to policy",
		},
		[]string{"kind"},
	)

	Decisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostsentry_decisions_total",
			Help: "Total number of policy decisions returned",
		},
		[]string{"decision"},
	)

	AlertsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostsentry_alerts_generated_total",
			Help: "Total number of alerts recorded",
		},
		[]string{"posture"},
	)

	ProcessingErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hostsentry_processing_errors_total",
			Help: "Total number of correlation passes that failed",
		},
	)

	ProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hostsentry_event_processing_duration_seconds",
			Help:    "Time taken for a full correlation and policy pass",
			Buckets: prometheus.DefBuckets,
		},
	)
)
