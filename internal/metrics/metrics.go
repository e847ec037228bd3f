package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry and provides convenience methods for
// recording metrics. A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	synthesisDuration *prometheus.HistogramVec
	generations       *prometheus.CounterVec
	batchDuration     *prometheus.HistogramVec
	activeBatches     prometheus.Gauge
}

// NewCollector creates a collector with its own registry
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		synthesisDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "animeforge_synthesis_duration_seconds",
				Help:    "Image synthesis duration in seconds by model",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~256s
			},
			[]string{"model", "status"},
		),
		generations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "animeforge_generation_total",
				Help: "Total number of training images attempted",
			},
			[]string{"character", "status"}, // status: "success"/"error"
		),
		batchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "animeforge_batch_duration_seconds",
				Help:    "Wall time of a character batch",
				Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10s to ~85m
			},
			[]string{"character"},
		),
		activeBatches: factory.NewGauge(prometheus.GaugeOpts{
			Name: "animeforge_active_batches",
			Help: "Number of character batches currently running",
		}),
	}
}

// Registry exposes the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// RecordSynthesis records a synthesis call duration
func (c *Collector) RecordSynthesis(model string, duration time.Duration, success bool) {
	if c == nil {
		return
	}
	c.synthesisDuration.WithLabelValues(model, status(success)).Observe(duration.Seconds())
}

// IncrementGeneration increments the generation counter
func (c *Collector) IncrementGeneration(character string, success bool) {
	if c == nil {
		return
	}
	c.generations.WithLabelValues(character, status(success)).Inc()
}

// BatchStarted marks a batch as running
func (c *Collector) BatchStarted() {
	if c == nil {
		return
	}
	c.activeBatches.Inc()
}

// BatchFinished records a batch's wall time
func (c *Collector) BatchFinished(character string, duration time.Duration) {
	if c == nil {
		return
	}
	c.activeBatches.Dec()
	c.batchDuration.WithLabelValues(character).Observe(duration.Seconds())
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
