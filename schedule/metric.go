package schedule

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/groundpass/model"
)

// ErrUnknownMetric is returned by MetricByName for unregistered names.
var ErrUnknownMetric = errors.New("unknown schedule metric")

// Metric assigns a weight to a candidate window. The scheduler maximises the sum
// of weights over a non-overlapping selection.
type Metric interface {
	Name() string
	Weight(w model.CandidateWindow) float64
}

type metricFunc struct {
	name   string
	weight func(model.CandidateWindow) float64
}

func (m metricFunc) Name() string                           { return m.name }
func (m metricFunc) Weight(w model.CandidateWindow) float64 { return m.weight(w) }

// NewMetric builds a Metric from a name and a weight function.
func NewMetric(name string, weight func(model.CandidateWindow) float64) Metric {
	return metricFunc{name: name, weight: weight}
}

var (
	// Duration weighs a window by its rounded duration in seconds.
	Duration = NewMetric("duration", func(w model.CandidateWindow) float64 { return float64(w.DurationS) })
	// PeakElevation weighs a window by its peak elevation in degrees.
	PeakElevation = NewMetric("max_elev", func(w model.CandidateWindow) float64 { return w.PeakElevationDeg })
	// Count gives every window the same weight, so the best schedule is the one
	// with the most passes.
	Count = NewMetric("count", func(model.CandidateWindow) float64 { return 1 })
)

var (
	registryMu sync.RWMutex
	registry   = map[string]Metric{
		Duration.Name():      Duration,
		PeakElevation.Name(): PeakElevation,
		Count.Name():         Count,
	}
)

// Register makes m available through MetricByName. Names must be unique.
func Register(m Metric) error {
	if m == nil || m.Name() == "" {
		return errors.New("metric must have a name")
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[m.Name()]; exists {
		return fmt.Errorf("metric %q already registered", m.Name())
	}
	registry[m.Name()] = m
	return nil
}

// MetricByName resolves a registered metric. An empty name selects Duration.
func MetricByName(name string) (Metric, error) {
	if name == "" {
		return Duration, nil
	}
	registryMu.RLock()
	defer registryMu.RUnlock()
	m, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMetric, name)
	}
	return m, nil
}

// MetricNames lists the registered metric names in sorted order.
func MetricNames() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
