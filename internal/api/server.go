// Package api serves stored passes, on-demand predictions and schedules over
// HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/signalsfoundry/groundpass/core"
	"github.com/signalsfoundry/groundpass/internal/logging"
	"github.com/signalsfoundry/groundpass/internal/observability"
	"github.com/signalsfoundry/groundpass/internal/runner"
	"github.com/signalsfoundry/groundpass/kb"
	"github.com/signalsfoundry/groundpass/schedule"
)

const (
	// DefaultTopK is used when /schedule/top has no k.
	DefaultTopK = 5
	// MaxTopK bounds k on /schedule/top.
	MaxTopK = 100
	// DefaultMaxPredictRange bounds /passes/predict requests.
	DefaultMaxPredictRange = 14 * 24 * time.Hour
)

// Server holds the dependencies shared by the handlers.
type Server struct {
	store     *kb.Store
	scheduler schedule.Scheduler
	batch     *core.BatchDriver
	ellipsoid core.Ellipsoid
	factory   runner.PropagatorFactory
	metrics   *observability.APICollector
	log       logging.Logger
	maxRange  time.Duration
}

// Option customises a Server.
type Option func(*Server)

// WithLogger sets the base logger; each request derives one tagged with its
// request ID.
func WithLogger(l logging.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics attaches the API collector. The store gauges follow store
// events from then on.
func WithMetrics(c *observability.APICollector) Option {
	return func(s *Server) { s.metrics = c }
}

// WithScheduler overrides the scheduler settings.
func WithScheduler(sc schedule.Scheduler) Option {
	return func(s *Server) { s.scheduler = sc }
}

// WithBatchDriver sets the detector used by /passes/predict.
func WithBatchDriver(b *core.BatchDriver) Option {
	return func(s *Server) {
		if b != nil {
			s.batch = b
		}
	}
}

// WithEllipsoid selects the reference ellipsoid for predictions.
func WithEllipsoid(e core.Ellipsoid) Option {
	return func(s *Server) { s.ellipsoid = e }
}

// WithPropagatorFactory overrides runner.SGP4Factory for predictions.
func WithPropagatorFactory(f runner.PropagatorFactory) Option {
	return func(s *Server) {
		if f != nil {
			s.factory = f
		}
	}
}

// WithMaxPredictRange bounds the span of a single prediction request.
func WithMaxPredictRange(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.maxRange = d
		}
	}
}

// NewServer builds a Server over store.
func NewServer(store *kb.Store, opts ...Option) *Server {
	det, _ := core.NewDetector(core.DefaultOptions())
	s := &Server{
		store:     store,
		scheduler: schedule.NewScheduler(),
		batch:     core.NewBatchDriver(det),
		ellipsoid: core.WGS84,
		factory:   runner.SGP4Factory,
		log:       logging.Noop(),
		maxRange:  DefaultMaxPredictRange,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics != nil {
		s.refreshStoreGauges()
		store.Subscribe(func(kb.Event) { s.refreshStoreGauges() })
	}
	return s
}

func (s *Server) refreshStoreGauges() {
	st := s.store.Stats()
	s.metrics.SetStoreCounts(st.Satellites, st.Stations, st.Passes)
}

// Router registers every route on a fresh mux.Router.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	s.handle(r, "/healthz", s.healthHandler)
	s.handle(r, "/satellites", s.listSatellites)
	s.handle(r, "/stations", s.listStations)
	s.handle(r, "/passes", s.listPasses)
	s.handle(r, "/passes/predict", s.predictPasses)
	s.handle(r, "/schedule/best", s.bestSchedule)
	s.handle(r, "/schedule/top", s.topSchedule)
	s.handle(r, "/schedule/network", s.networkSchedule)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "no such route")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only GET is supported")
	})
	return r
}

func (s *Server) handle(r *mux.Router, path string, h http.HandlerFunc) {
	r.Handle(path, s.metrics.Instrument(path, h)).Methods(http.MethodGet)
}

// Handler returns the router wrapped with request IDs, gzip and panic
// recovery.
func (s *Server) Handler() http.Handler {
	return s.wrap(s.Router())
}

func (s *Server) wrap(h http.Handler) http.Handler {
	h = s.requestID(h)
	h = handlers.CompressHandler(h)
	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{log: s.log}),
		handlers.PrintRecoveryStack(false),
	)(h)
}

// requestID tags the request context (and logger) with X-Request-ID, minting
// one when the client sent none.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := r.Header.Get("X-Request-ID"); id != "" {
			ctx = logging.ContextWithRequestID(ctx, id)
		}
		ctx, log := logging.WithRequestLogger(ctx, s.log)
		ctx = logging.ContextWithLogger(ctx, log)
		w.Header().Set("X-Request-ID", logging.RequestIDFromContext(ctx))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type recoveryLogger struct {
	log logging.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.log.Error(context.Background(), "handler panic", logging.Any("panic", v))
}
