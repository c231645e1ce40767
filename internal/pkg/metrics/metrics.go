package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LatencyBucket = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "edgegate_latency_bucket",
		Help:    "Request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	HMACVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edgegate_hmac_verifications_total",
		Help: "HMAC verification attempts by outcome",
	}, []string{"outcome"})

	AuditQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "edgegate_audit_queue_depth",
		Help: "Audit entries currently waiting for a flush",
	})

	AuditFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edgegate_audit_flushes_total",
		Help: "Audit batch flush attempts by result",
	}, []string{"result"})

	AuditDeadLettered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edgegate_audit_dead_lettered_total",
		Help: "Audit entries spilled to the dead-letter store after retry exhaustion",
	})

	AuditAlerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edgegate_audit_alerts_total",
		Help: "Alert-worthy audit entries by action",
	}, []string{"action"})

	UpstreamCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edgegate_upstream_calls_total",
		Help: "Signed calls to edge functions by function and status class",
	}, []string{"function", "status"})
)
