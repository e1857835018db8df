package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Collector exposes pipeline and HTTP metrics through its own Prometheus
// registry. It satisfies ports.PipelineMetrics.
type Collector struct {
	registry *prometheus.Registry

	MessagesProcessed    *prometheus.CounterVec
	ConsensusTransitions *prometheus.CounterVec
	PlanGenerations      *prometheus.CounterVec
	PlanDuration         *prometheus.HistogramVec
	StorageRetries       *prometheus.CounterVec
	NotificationFailures *prometheus.CounterVec

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewCollector creates a collector with metrics under namespace
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		MessagesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_processed_total",
			Help:      "Messages run through the pipeline by extraction kind",
		}, []string{"kind", "fallback"}),
		ConsensusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consensus_transitions_total",
			Help:      "Consensus state transitions by target state",
		}, []string{"state"}),
		PlanGenerations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plan_generations_total",
			Help:      "Plan generation attempts by outcome",
		}, []string{"outcome"}),
		PlanDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "plan_generation_duration_seconds",
			Help:      "Plan generation duration",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),
		StorageRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_retries_total",
			Help:      "Retried storage operations",
		}, []string{"operation"}),
		NotificationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_failures_total",
			Help:      "Failed notification deliveries by notifier",
		}, []string{"notifier"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.MessagesProcessed,
		c.ConsensusTransitions,
		c.PlanGenerations,
		c.PlanDuration,
		c.StorageRetries,
		c.NotificationFailures,
		c.HTTPRequests,
		c.HTTPDuration,
	)
	return c
}

// Registry returns the registry to serve on /metrics
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// MessageProcessed implements ports.PipelineMetrics
func (c *Collector) MessageProcessed(kind string, fallback bool) {
	c.MessagesProcessed.WithLabelValues(kind, strconv.FormatBool(fallback)).Inc()
}

// ConsensusTransition implements ports.PipelineMetrics
func (c *Collector) ConsensusTransition(state string) {
	c.ConsensusTransitions.WithLabelValues(state).Inc()
}

// PlanFinished implements ports.PipelineMetrics
func (c *Collector) PlanFinished(outcome string, duration time.Duration) {
	c.PlanGenerations.WithLabelValues(outcome).Inc()
	c.PlanDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// StorageRetry implements ports.PipelineMetrics
func (c *Collector) StorageRetry(operation string) {
	c.StorageRetries.WithLabelValues(operation).Inc()
}

// NotificationFailed implements ports.PipelineMetrics
func (c *Collector) NotificationFailed(notifier string) {
	c.NotificationFailures.WithLabelValues(notifier).Inc()
}

// ObserveHTTP records one served request
func (c *Collector) ObserveHTTP(method, route string, status int, duration time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
