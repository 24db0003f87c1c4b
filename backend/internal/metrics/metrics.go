package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "deepintrospect"

// Collector holds all Prometheus metrics for the service.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	// LLM metrics
	LLMRequests *prometheus.CounterVec
	LLMDuration *prometheus.HistogramVec

	// Extraction metrics
	ExtractionItems    *prometheus.CounterVec
	ExtractionFailures *prometheus.CounterVec

	// Graph metrics
	GraphWrites *prometheus.CounterVec

	// Insight metrics
	InsightsRecorded *prometheus.CounterVec

	// Pipeline metrics
	PipelineJobs     *prometheus.CounterVec
	PipelineDuration prometheus.Histogram
	PipelineQueue    prometheus.Gauge

	// Cache metrics
	CacheLookups *prometheus.CounterVec
}

// NewCollector creates a collector backed by its own registry
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		LLMRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_requests_total",
				Help:      "Total number of LLM requests by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		LLMDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "llm_request_duration_seconds",
				Help:      "LLM request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		ExtractionItems: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "extraction_items_total",
				Help:      "Candidates extracted from conversations by category",
			},
			[]string{"category"},
		),
		ExtractionFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "extraction_failures_total",
				Help:      "Extraction calls that degraded to an empty result",
			},
			[]string{"category", "reason"},
		),
		GraphWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "graph_writes_total",
				Help:      "Knowledge graph node and edge writes by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		InsightsRecorded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "insights_recorded_total",
				Help:      "Insights persisted by type",
			},
			[]string{"type"},
		),
		PipelineJobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_jobs_total",
				Help:      "Background pipeline jobs by outcome",
			},
			[]string{"outcome"},
		),
		PipelineDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pipeline_job_duration_seconds",
				Help:      "Background pipeline job duration in seconds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		PipelineQueue: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pipeline_queue_depth",
				Help:      "Jobs waiting in the background pipeline queue",
			},
		),
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Derived-artifact cache lookups by artifact and result",
			},
			[]string{"artifact", "result"},
		),
	}

	registry.MustRegister(
		c.LLMRequests,
		c.LLMDuration,
		c.ExtractionItems,
		c.ExtractionFailures,
		c.GraphWrites,
		c.InsightsRecorded,
		c.PipelineJobs,
		c.PipelineDuration,
		c.PipelineQueue,
		c.CacheLookups,
	)

	return c
}

// Registry exposes the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the collector's metrics in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveLLM records one LLM call
func (c *Collector) ObserveLLM(operation string, started time.Time, err error) {
	if c == nil {
		return
	}
	c.LLMRequests.WithLabelValues(operation, outcome(err)).Inc()
	c.LLMDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

// ExtractionResult records the candidates produced for one category
func (c *Collector) ExtractionResult(category string, items int) {
	if c == nil {
		return
	}
	c.ExtractionItems.WithLabelValues(category).Add(float64(items))
}

// ExtractionFailed records a category that degraded to empty
func (c *Collector) ExtractionFailed(category, reason string) {
	if c == nil {
		return
	}
	c.ExtractionFailures.WithLabelValues(category, reason).Inc()
}

// GraphWrite records a node or edge write
func (c *Collector) GraphWrite(kind string, err error) {
	if c == nil {
		return
	}
	c.GraphWrites.WithLabelValues(kind, outcome(err)).Inc()
}

// InsightRecorded records a persisted insight
func (c *Collector) InsightRecorded(insightType string) {
	if c == nil {
		return
	}
	c.InsightsRecorded.WithLabelValues(insightType).Inc()
}

// PipelineJob records a finished, skipped or dropped background job
func (c *Collector) PipelineJob(result string, started time.Time) {
	if c == nil {
		return
	}
	c.PipelineJobs.WithLabelValues(result).Inc()
	if !started.IsZero() {
		c.PipelineDuration.Observe(time.Since(started).Seconds())
	}
}

// QueueDepth sets the current pipeline queue depth
func (c *Collector) QueueDepth(n int) {
	if c == nil {
		return
	}
	c.PipelineQueue.Set(float64(n))
}

// CacheLookup records a cache hit or miss
func (c *Collector) CacheLookup(artifact string, hit bool) {
	if c == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.CacheLookups.WithLabelValues(artifact, result).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
