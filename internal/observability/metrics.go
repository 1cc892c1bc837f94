package observability

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/felixge/httpsnoop"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// APICollector bundles Prometheus metrics for the HTTP query surface and
// provides helpers to wire them into handlers.
type APICollector struct {
	gatherer prometheus.Gatherer

	HTTPRequests     *prometheus.CounterVec
	HTTPDurations    *prometheus.HistogramVec
	ScheduleRequests *prometheus.CounterVec

	StoreSatellites prometheus.Gauge
	StoreStations   prometheus.Gauge
	StorePasses     prometheus.Gauge
}

// NewAPICollector registers API Prometheus metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewAPICollector(reg prometheus.Registerer) (*APICollector, error) {
	reg, gatherer := resolveRegistry(reg)

	requests, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "groundpass_http_requests_total",
		Help: "Total number of handled HTTP requests, labeled by route, method, and status code.",
	}, []string{"route", "method", "code"}), "groundpass_http_requests_total")
	if err != nil {
		return nil, err
	}
	durations, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "groundpass_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"route", "method"}), "groundpass_http_request_duration_seconds")
	if err != nil {
		return nil, err
	}
	schedules, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "groundpass_schedule_requests_total",
		Help: "Schedules computed, labeled by kind (best, top, network) and metric.",
	}, []string{"kind", "metric"}), "groundpass_schedule_requests_total")
	if err != nil {
		return nil, err
	}

	sats, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "groundpass_store_satellites",
		Help: "Current number of satellites in the store.",
	}), "groundpass_store_satellites")
	if err != nil {
		return nil, err
	}
	stations, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "groundpass_store_ground_stations",
		Help: "Current number of ground stations in the store.",
	}), "groundpass_store_ground_stations")
	if err != nil {
		return nil, err
	}
	passes, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "groundpass_store_passes",
		Help: "Current number of stored pass windows.",
	}), "groundpass_store_passes")
	if err != nil {
		return nil, err
	}

	return &APICollector{
		gatherer:         gatherer,
		HTTPRequests:     requests,
		HTTPDurations:    durations,
		ScheduleRequests: schedules,
		StoreSatellites:  sats,
		StoreStations:    stations,
		StorePasses:      passes,
	}, nil
}

// Instrument records request counts and durations for one named route.
func (c *APICollector) Instrument(route string, next http.Handler) http.Handler {
	if c == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		if c.HTTPRequests != nil {
			c.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(m.Code)).Inc()
		}
		if c.HTTPDurations != nil {
			c.HTTPDurations.WithLabelValues(route, r.Method).Observe(m.Duration.Seconds())
		}
	})
}

// ObserveSchedule counts one computed schedule.
func (c *APICollector) ObserveSchedule(kind, metric string) {
	if c == nil || c.ScheduleRequests == nil {
		return
	}
	c.ScheduleRequests.WithLabelValues(kind, metric).Inc()
}

// SetStoreCounts drives the store gauges.
func (c *APICollector) SetStoreCounts(satellites, stations, passes int) {
	if c == nil {
		return
	}
	if c.StoreSatellites != nil {
		c.StoreSatellites.Set(float64(satellites))
	}
	if c.StoreStations != nil {
		c.StoreStations.Set(float64(stations))
	}
	if c.StorePasses != nil {
		c.StorePasses.Set(float64(passes))
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *APICollector) Handler() http.Handler {
	return handlerFor(c.gatherer)
}

func handlerFor(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func resolveRegistry(reg prometheus.Registerer) (prometheus.Registerer, prometheus.Gatherer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	return reg, gatherer
}

// register adds c to reg, returning the already registered collector of the
// same type when one exists under that name.
func register[T prometheus.Collector](reg prometheus.Registerer, c T, name string) (T, error) {
	if err := reg.Register(c); err != nil {
		var zero T
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return zero, err
	}
	return c, nil
}
