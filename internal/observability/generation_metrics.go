package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Window stages reported by GenerationCollector.AddWindows.
const (
	StageDetected = "detected"
	StageStored   = "stored"
)

// GenerationCollector exposes metrics for bulk pass generation.
type GenerationCollector struct {
	gatherer prometheus.Gatherer

	Propagations        prometheus.Counter
	PropagationFailures prometheus.Counter
	Windows             *prometheus.CounterVec
	PairDuration        prometheus.Histogram
	PairsFailed         prometheus.Counter
	Published           *prometheus.CounterVec
}

// NewGenerationCollector registers generation metrics against the provided
// registerer.
func NewGenerationCollector(reg prometheus.Registerer) (*GenerationCollector, error) {
	reg, gatherer := resolveRegistry(reg)

	propagations, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "groundpass_propagations_total",
		Help: "Orbital state evaluations requested by pass detection.",
	}), "groundpass_propagations_total")
	if err != nil {
		return nil, err
	}
	failures, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "groundpass_propagation_failures_total",
		Help: "Orbital state evaluations that returned an error.",
	}), "groundpass_propagation_failures_total")
	if err != nil {
		return nil, err
	}
	windows, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "groundpass_windows_total",
		Help: "Pass windows, labeled by stage (detected, stored).",
	}, []string{"stage"}), "groundpass_windows_total")
	if err != nil {
		return nil, err
	}
	pairDuration, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "groundpass_pair_duration_seconds",
		Help:    "Time to detect and store passes for one satellite/station pair.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	}), "groundpass_pair_duration_seconds")
	if err != nil {
		return nil, err
	}
	pairsFailed, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "groundpass_pairs_failed_total",
		Help: "Satellite/station pairs whose generation failed.",
	}), "groundpass_pairs_failed_total")
	if err != nil {
		return nil, err
	}
	published, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "groundpass_published_batches_total",
		Help: "Pass batches handed to sinks, labeled by sink and outcome.",
	}, []string{"sink", "outcome"}), "groundpass_published_batches_total")
	if err != nil {
		return nil, err
	}

	return &GenerationCollector{
		gatherer:            gatherer,
		Propagations:        propagations,
		PropagationFailures: failures,
		Windows:             windows,
		PairDuration:        pairDuration,
		PairsFailed:         pairsFailed,
		Published:           published,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *GenerationCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *GenerationCollector) Handler() http.Handler {
	return handlerFor(c.Gatherer())
}

// ObservePropagation counts one orbital state evaluation.
func (c *GenerationCollector) ObservePropagation(err error) {
	if c == nil {
		return
	}
	c.Propagations.Inc()
	if err != nil {
		c.PropagationFailures.Inc()
	}
}

// AddWindows adds n windows at the given stage.
func (c *GenerationCollector) AddWindows(stage string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.Windows.WithLabelValues(stage).Add(float64(n))
}

// ObservePair records the outcome of one satellite/station pair.
func (c *GenerationCollector) ObservePair(d time.Duration, err error) {
	if c == nil {
		return
	}
	c.PairDuration.Observe(d.Seconds())
	if err != nil {
		c.PairsFailed.Inc()
	}
}

// ObservePublish records one sink publish attempt.
func (c *GenerationCollector) ObservePublish(sink string, err error) {
	if c == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.Published.WithLabelValues(sink, outcome).Inc()
}
