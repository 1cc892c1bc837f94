// Package runner generates and stores pass windows for every
// (satellite, ground station) pair in a store, fanning the pairs out over a
// bounded worker pool.
package runner

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/groundpass/core"
	"github.com/signalsfoundry/groundpass/internal/logging"
	"github.com/signalsfoundry/groundpass/internal/observability"
	"github.com/signalsfoundry/groundpass/kb"
	"github.com/signalsfoundry/groundpass/model"
	"github.com/signalsfoundry/groundpass/timectrl"
	"github.com/signalsfoundry/groundpass/tle"
)

// ErrNoTLE is recorded for satellites that have no element set yet.
var ErrNoTLE = errors.New("satellite has no TLE")

// Metrics receives generation counters. *observability.GenerationCollector
// satisfies it.
type Metrics interface {
	ObservePropagation(err error)
	AddWindows(stage string, n int)
	ObservePair(d time.Duration, err error)
}

type noopMetrics struct{}

func (noopMetrics) ObservePropagation(error)         {}
func (noopMetrics) AddWindows(string, int)           {}
func (noopMetrics) ObservePair(time.Duration, error) {}

// PropagatorFactory builds the orbital state source for a satellite.
type PropagatorFactory func(sat model.Satellite) (core.Propagator, error)

// SGP4Factory validates the satellite's TLE and returns an SGP4 propagator.
func SGP4Factory(sat model.Satellite) (core.Propagator, error) {
	if sat.TLE.Line1 == "" || sat.TLE.Line2 == "" {
		return nil, ErrNoTLE
	}
	if err := tle.Validate(sat.TLE.Line1, sat.TLE.Line2); err != nil {
		return nil, err
	}
	return core.NewSGP4Propagator(sat.TLE.Line1, sat.TLE.Line2)
}

// Option customises a Runner.
type Option func(*Runner)

// WithLogger sets the base logger; each run derives a run-scoped logger from it.
func WithLogger(l logging.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.log = l
		}
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m Metrics) Option {
	return func(r *Runner) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithWorkers bounds the number of pairs processed concurrently.
func WithWorkers(n int) Option {
	return func(r *Runner) { r.workers = n }
}

// WithEllipsoid selects the reference ellipsoid for station placement.
func WithEllipsoid(e core.Ellipsoid) Option {
	return func(r *Runner) { r.ellipsoid = e }
}

// WithDeleteExisting controls whether stored passes of a pair overlapping
// the requested range are removed before regeneration.
func WithDeleteExisting(v bool) Option {
	return func(r *Runner) { r.deleteExisting = v }
}

// WithPropagatorFactory overrides SGP4Factory.
func WithPropagatorFactory(f PropagatorFactory) Option {
	return func(r *Runner) {
		if f != nil {
			r.factory = f
		}
	}
}

// Runner drives bulk pass generation against a store.
type Runner struct {
	store          *kb.Store
	batch          *core.BatchDriver
	log            logging.Logger
	metrics        Metrics
	factory        PropagatorFactory
	ellipsoid      core.Ellipsoid
	workers        int
	deleteExisting bool
}

// New constructs a Runner. batch carries the detection options and chunking.
func New(store *kb.Store, batch *core.BatchDriver, opts ...Option) (*Runner, error) {
	if store == nil {
		return nil, errors.New("runner: nil store")
	}
	if batch == nil || batch.Detector == nil {
		return nil, fmt.Errorf("runner: %w: nil batch driver", core.ErrInvalidOptions)
	}
	r := &Runner{
		store:          store,
		batch:          batch,
		log:            logging.Noop(),
		metrics:        noopMetrics{},
		factory:        SGP4Factory,
		ellipsoid:      core.WGS84,
		workers:        1,
		deleteExisting: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.workers <= 0 {
		return nil, fmt.Errorf("runner: workers %d must be positive", r.workers)
	}
	return r, nil
}

// Request selects the pairs and range to generate. Empty ID lists select
// every satellite or station in the store.
type Request struct {
	Start        time.Time
	End          time.Time
	SatelliteIDs []int64
	StationIDs   []int64
}

// PairResult is the outcome for one (satellite, station) pair.
type PairResult struct {
	SatelliteID     int64
	GroundStationID int64
	Detected        int
	Stored          int
	Deleted         int
	Elapsed         time.Duration
	Err             error
}

// Summary aggregates a run. Pairs are ordered by satellite then station ID.
type Summary struct {
	RunID    string
	Start    time.Time
	End      time.Time
	Pairs    []PairResult
	Detected int
	Stored   int
	Deleted  int
	Failed   int
}

type job struct {
	idx  int
	sat  model.Satellite
	st   model.GroundStation
	prop core.Propagator
	err  error
}

// Run generates passes for every selected pair. Per-pair failures are
// recorded in the summary and do not stop other pairs; the returned error is
// reserved for invalid requests and cancellation.
func (r *Runner) Run(ctx context.Context, req Request) (*Summary, error) {
	start, err := timectrl.RequireExplicitZone(req.Start)
	if err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	end, err := timectrl.RequireExplicitZone(req.End)
	if err != nil {
		return nil, fmt.Errorf("end: %w", err)
	}
	if !start.Before(end) {
		return nil, core.ErrInvalidWindow
	}

	sats, err := r.satellites(req.SatelliteIDs)
	if err != nil {
		return nil, err
	}
	stations, err := r.stations(req.StationIDs)
	if err != nil {
		return nil, err
	}

	ctx, log := logging.WithRunLogger(ctx, r.log)
	ctx, span := observability.Tracer().Start(ctx, "runner.Run", trace.WithAttributes(
		attribute.Int("satellites", len(sats)),
		attribute.Int("stations", len(stations)),
		attribute.String("start", start.Format(time.RFC3339)),
		attribute.String("end", end.Format(time.RFC3339)),
	))
	defer span.End()

	jobs := r.plan(sats, stations)
	summary := &Summary{
		RunID: logging.RunIDFromContext(ctx),
		Start: start,
		End:   end,
		Pairs: make([]PairResult, len(jobs)),
	}
	log.Info(ctx, "generation started",
		logging.Int("satellites", len(sats)),
		logging.Int("stations", len(stations)),
		logging.Int("pairs", len(jobs)),
		logging.Int("workers", r.workers),
		logging.Time("start", start),
		logging.Time("end", end),
	)

	queue := make(chan job)
	var wg sync.WaitGroup
	for i := 0; i < min(r.workers, max(len(jobs), 1)); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range queue {
				summary.Pairs[j.idx] = r.runPair(ctx, log, j, start, end)
			}
		}()
	}

feed:
	for _, j := range jobs {
		select {
		case queue <- j:
		case <-ctx.Done():
			break feed
		}
	}
	close(queue)
	wg.Wait()

	for i, p := range summary.Pairs {
		if p.SatelliteID == 0 {
			// Never dispatched.
			summary.Pairs[i] = PairResult{
				SatelliteID:     jobs[i].sat.ID,
				GroundStationID: jobs[i].st.ID,
				Err:             context.Cause(ctx),
			}
			p = summary.Pairs[i]
		}
		summary.Detected += p.Detected
		summary.Stored += p.Stored
		summary.Deleted += p.Deleted
		if p.Err != nil {
			summary.Failed++
		}
	}

	span.SetAttributes(
		attribute.Int("windows.detected", summary.Detected),
		attribute.Int("windows.stored", summary.Stored),
		attribute.Int("pairs.failed", summary.Failed),
	)
	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancelled")
		log.Warn(ctx, "generation cancelled", logging.Err(err))
		return summary, err
	}

	log.Info(ctx, "generation finished",
		logging.Int("detected", summary.Detected),
		logging.Int("stored", summary.Stored),
		logging.Int("deleted", summary.Deleted),
		logging.Int("failed_pairs", summary.Failed),
	)
	return summary, nil
}

// plan builds one job per pair, constructing each satellite's propagator once.
func (r *Runner) plan(sats []model.Satellite, stations []model.GroundStation) []job {
	jobs := make([]job, 0, len(sats)*len(stations))
	for _, sat := range sats {
		prop, err := r.factory(sat)
		if err == nil {
			prop = countingPropagator{next: prop, metrics: r.metrics}
		} else {
			err = fmt.Errorf("satellite %d (norad %d): %w", sat.ID, sat.NoradID, err)
		}
		for _, st := range stations {
			jobs = append(jobs, job{idx: len(jobs), sat: sat, st: st, prop: prop, err: err})
		}
	}
	return jobs
}

func (r *Runner) runPair(ctx context.Context, log logging.Logger, j job, start, end time.Time) PairResult {
	began := time.Now()
	res := PairResult{SatelliteID: j.sat.ID, GroundStationID: j.st.ID}
	log = log.With(
		logging.Int("norad_id", j.sat.NoradID),
		logging.String("station", j.st.Code),
	)

	ctx, span := observability.Tracer().Start(ctx, "runner.pair", trace.WithAttributes(
		attribute.Int("norad_id", j.sat.NoradID),
		attribute.String("station", j.st.Code),
	))
	defer span.End()

	res.Err = j.err
	if res.Err == nil {
		res.Err = r.generate(ctx, j, start, end, &res)
	}

	res.Elapsed = time.Since(began)
	r.metrics.ObservePair(res.Elapsed, res.Err)
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, "pair failed")
		log.Warn(ctx, "pair failed", logging.Err(res.Err))
		return res
	}
	span.SetAttributes(attribute.Int("windows.stored", res.Stored))
	log.Debug(ctx, "pair done",
		logging.Int("detected", res.Detected),
		logging.Int("stored", res.Stored),
		logging.Int("deleted", res.Deleted),
		logging.Duration("took", res.Elapsed),
	)
	return res
}

func (r *Runner) generate(ctx context.Context, j job, start, end time.Time, res *PairResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	elev := core.ElevationOf(j.prop, core.NewObserver(r.ellipsoid, j.st.Location))
	windows, err := r.batch.DetectAll(ctx, elev, start, end)
	if err != nil {
		return err
	}
	res.Detected = len(windows)
	r.metrics.AddWindows(observability.StageDetected, len(windows))

	if r.deleteExisting {
		res.Deleted = r.store.DeletePasses(kb.PassQuery{
			SatelliteID:     j.sat.ID,
			GroundStationID: j.st.ID,
			Start:           start,
			End:             end,
		})
	}

	passes := make([]model.StoredPass, 0, len(windows))
	for _, w := range windows {
		passes = append(passes, model.StoredPass{SatelliteID: j.sat.ID, GroundStationID: j.st.ID, PassWindow: w})
	}
	stored, err := r.store.InsertPasses(passes)
	if err != nil {
		return fmt.Errorf("store passes: %w", err)
	}
	res.Stored = len(stored)
	r.metrics.AddWindows(observability.StageStored, len(stored))
	return nil
}

func (r *Runner) satellites(ids []int64) ([]model.Satellite, error) {
	if len(ids) == 0 {
		return r.store.Satellites(), nil
	}
	out := make([]model.Satellite, 0, len(ids))
	for _, id := range dedupe(ids) {
		sat, ok := r.store.Satellite(id)
		if !ok {
			return nil, fmt.Errorf("satellite %d: %w", id, kb.ErrNotFound)
		}
		out = append(out, sat)
	}
	return out, nil
}

func (r *Runner) stations(ids []int64) ([]model.GroundStation, error) {
	if len(ids) == 0 {
		all := r.store.Stations()
		slices.SortFunc(all, func(a, b model.GroundStation) int { return cmp.Compare(a.ID, b.ID) })
		return all, nil
	}
	out := make([]model.GroundStation, 0, len(ids))
	for _, id := range dedupe(ids) {
		st, ok := r.store.Station(id)
		if !ok {
			return nil, fmt.Errorf("ground station %d: %w", id, kb.ErrNotFound)
		}
		out = append(out, st)
	}
	return out, nil
}

func dedupe(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

// countingPropagator reports every evaluation to Metrics.
type countingPropagator struct {
	next    core.Propagator
	metrics Metrics
}

func (c countingPropagator) Propagate(t time.Time) (core.Vec3, error) {
	v, err := c.next.Propagate(t)
	c.metrics.ObservePropagation(err)
	return v, err
}
