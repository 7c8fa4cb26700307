package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics manages the Prometheus metrics.
type Metrics struct {
	PipelineRequests *prometheus.CounterVec
	PipelineLatency  *prometheus.HistogramVec
	CacheLookups     *prometheus.CounterVec
	UsageRecords     *prometheus.CounterVec
	GuardRejections  *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
	HTTPLatency      *prometheus.HistogramVec
}

// NewMetrics creates the metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PipelineRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apigw_pipeline_requests_total",
				Help: "Total number of gateway pipeline decisions by result.",
			},
			[]string{"result"},
		),
		PipelineLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "apigw_pipeline_latency_seconds",
				Help:    "Latency of the gateway pipeline including the upstream call.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		),
		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apigw_cache_lookups_total",
				Help: "Total number of cache tier reads.",
			},
			[]string{"entity", "tier", "outcome"},
		),
		UsageRecords: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apigw_usage_records_total",
				Help: "Total number of usage accounting calls by outcome.",
			},
			[]string{"outcome"},
		),
		GuardRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apigw_guard_rejections_total",
				Help: "Total number of requests rejected by the rate and circuit guard.",
			},
			[]string{"reason"},
		),
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apigw_http_requests_total",
				Help: "Total number of HTTP requests served.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "apigw_http_request_duration_seconds",
				Help:    "HTTP request latency.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// RecordPipeline records one pipeline decision.
func (m *Metrics) RecordPipeline(result string, duration time.Duration) {
	m.PipelineRequests.WithLabelValues(result).Inc()
	m.PipelineLatency.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordCacheLookup records one cache tier read.
func (m *Metrics) RecordCacheLookup(entity, tier, outcome string) {
	m.CacheLookups.WithLabelValues(entity, tier, outcome).Inc()
}

// RecordUsage records one usage accounting result.
func (m *Metrics) RecordUsage(outcome string) {
	m.UsageRecords.WithLabelValues(outcome).Inc()
}

// RecordGuardRejection records a guard rejection.
func (m *Metrics) RecordGuardRejection(reason string) {
	m.GuardRejections.WithLabelValues(reason).Inc()
}

// RecordHTTPRequest records a served HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequests.WithLabelValues(method, path, status).Inc()
	m.HTTPLatency.WithLabelValues(method, path).Observe(duration.Seconds())
}
