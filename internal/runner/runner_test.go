package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/groundpass/core"
	"github.com/signalsfoundry/groundpass/internal/observability"
	"github.com/signalsfoundry/groundpass/kb"
	"github.com/signalsfoundry/groundpass/model"
	"github.com/signalsfoundry/groundpass/timectrl"
)

const (
	issLine1 = "1 25544U 98067A   21275.59097222  .00000204  00000-0  10270-4 0  9993"
	issLine2 = "2 25544  51.6459 115.9059 0001817  61.3028  35.9198 15.49370953257767"
)

var issEpoch = time.Date(2021, 10, 2, 14, 11, 0, 0, time.UTC)

type fakeMetrics struct {
	mu           sync.Mutex
	propagations int
	propFailures int
	windows      map[string]int
	pairs        int
	pairFailures int
}

func (m *fakeMetrics) ObservePropagation(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.propagations++
	if err != nil {
		m.propFailures++
	}
}

func (m *fakeMetrics) AddWindows(stage string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.windows == nil {
		m.windows = make(map[string]int)
	}
	m.windows[stage] += n
}

func (m *fakeMetrics) ObservePair(_ time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pairs++
	if err != nil {
		m.pairFailures++
	}
}

type fixture struct {
	store    *kb.Store
	iss      model.Satellite
	stations []model.GroundStation
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := kb.NewStore()
	iss, err := store.UpsertSatellite(25544, "ISS (ZARYA)")
	require.NoError(t, err)
	_, err = store.SetTLE(iss.ID, model.TLE{Line1: issLine1, Line2: issLine2, Epoch: issEpoch})
	require.NoError(t, err)

	var stations []model.GroundStation
	for _, gs := range []model.GroundStation{
		{Code: "PHL", Name: "Philadelphia", Location: model.GroundLocation{LatDeg: 40, LonDeg: -75, AltM: 50}},
		{Code: "LDN", Name: "London", Location: model.GroundLocation{LatDeg: 51.5, LonDeg: -0.1, AltM: 20}},
	} {
		st, err := store.UpsertStation(gs)
		require.NoError(t, err)
		stations = append(stations, st)
	}
	return fixture{store: store, iss: iss, stations: stations}
}

func newRunner(t *testing.T, store *kb.Store, opts ...Option) *Runner {
	t.Helper()
	det, err := core.NewDetector(core.DefaultOptions())
	require.NoError(t, err)
	r, err := New(store, core.NewBatchDriver(det), opts...)
	require.NoError(t, err)
	return r
}

func day() Request {
	return Request{Start: issEpoch, End: issEpoch.Add(24 * time.Hour)}
}

func TestRunStoresPassesForEveryPair(t *testing.T) {
	fx := newFixture(t)
	m := &fakeMetrics{}
	r := newRunner(t, fx.store, WithWorkers(4), WithMetrics(m))

	sum, err := r.Run(context.Background(), day())
	require.NoError(t, err)
	require.NotEmpty(t, sum.RunID)
	require.Len(t, sum.Pairs, 2)
	require.Zero(t, sum.Failed)
	require.Positive(t, sum.Stored)
	require.Equal(t, sum.Detected, sum.Stored)

	for i, p := range sum.Pairs {
		require.Equal(t, fx.iss.ID, p.SatelliteID)
		require.Equal(t, fx.stations[i].ID, p.GroundStationID)
		require.NoError(t, p.Err)
	}

	all := fx.store.AllPasses()
	require.Len(t, all, sum.Stored)
	for _, p := range all {
		require.True(t, p.Start.Before(p.End))
		require.GreaterOrEqual(t, p.DurationS, 5)
		require.False(t, p.Start.Before(issEpoch))
	}

	require.Positive(t, m.propagations)
	require.Zero(t, m.propFailures)
	require.Equal(t, 2, m.pairs)
	require.Equal(t, sum.Detected, m.windows[observability.StageDetected])
	require.Equal(t, sum.Stored, m.windows[observability.StageStored])
}

func TestRunRegenerationReplacesExisting(t *testing.T) {
	fx := newFixture(t)
	r := newRunner(t, fx.store)

	first, err := r.Run(context.Background(), day())
	require.NoError(t, err)

	second, err := r.Run(context.Background(), day())
	require.NoError(t, err)
	require.Equal(t, first.Stored, second.Deleted)
	require.Equal(t, first.Stored, second.Stored)
	require.NotEqual(t, first.RunID, second.RunID)
	require.Len(t, fx.store.AllPasses(), first.Stored)
}

func TestRunWithoutDeleteSkipsDuplicates(t *testing.T) {
	fx := newFixture(t)
	first, err := newRunner(t, fx.store).Run(context.Background(), day())
	require.NoError(t, err)

	again, err := newRunner(t, fx.store, WithDeleteExisting(false)).Run(context.Background(), day())
	require.NoError(t, err)
	require.Equal(t, first.Detected, again.Detected)
	require.Zero(t, again.Deleted)
	require.Zero(t, again.Stored)
	require.Len(t, fx.store.AllPasses(), first.Stored)
}

func TestRunRecordsPairFailures(t *testing.T) {
	fx := newFixture(t)
	bare, err := fx.store.UpsertSatellite(99999, "NO ELEMENTS")
	require.NoError(t, err)

	m := &fakeMetrics{}
	sum, err := newRunner(t, fx.store, WithWorkers(3), WithMetrics(m)).Run(context.Background(), day())
	require.NoError(t, err)
	require.Len(t, sum.Pairs, 4)
	require.Equal(t, 2, sum.Failed)
	require.Positive(t, sum.Stored)

	for _, p := range sum.Pairs {
		if p.SatelliteID == bare.ID {
			require.ErrorIs(t, p.Err, ErrNoTLE)
		} else {
			require.NoError(t, p.Err)
		}
	}
	require.Equal(t, 2, m.pairFailures)
}

func TestRunPropagatorFailureIsPerPair(t *testing.T) {
	fx := newFixture(t)
	boom := errors.New("decayed")
	factory := func(sat model.Satellite) (core.Propagator, error) {
		return core.PropagatorFunc(func(time.Time) (core.Vec3, error) { return core.Vec3{}, boom }), nil
	}
	m := &fakeMetrics{}
	sum, err := newRunner(t, fx.store, WithPropagatorFactory(factory), WithMetrics(m)).Run(context.Background(), day())
	require.NoError(t, err)
	require.Equal(t, 2, sum.Failed)

	var pe *core.PropagationError
	require.ErrorAs(t, sum.Pairs[0].Err, &pe)
	require.ErrorIs(t, sum.Pairs[0].Err, boom)
	require.Positive(t, m.propFailures)
	require.Empty(t, fx.store.AllPasses())
}

func TestRunSelectsRequestedPairs(t *testing.T) {
	fx := newFixture(t)
	req := day()
	req.StationIDs = []int64{fx.stations[1].ID, fx.stations[1].ID}

	sum, err := newRunner(t, fx.store).Run(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, sum.Pairs, 1)
	require.Equal(t, fx.stations[1].ID, sum.Pairs[0].GroundStationID)

	req.SatelliteIDs = []int64{12345}
	_, err = newRunner(t, fx.store).Run(context.Background(), req)
	require.ErrorIs(t, err, kb.ErrNotFound)
}

func TestRunRejectsBadRanges(t *testing.T) {
	fx := newFixture(t)
	r := newRunner(t, fx.store)

	_, err := r.Run(context.Background(), Request{Start: issEpoch, End: issEpoch})
	require.ErrorIs(t, err, core.ErrInvalidWindow)

	local := time.Date(2021, 10, 2, 0, 0, 0, 0, time.Local)
	_, err = r.Run(context.Background(), Request{Start: local, End: issEpoch.Add(time.Hour)})
	require.ErrorIs(t, err, timectrl.ErrNakedTimestamp)
}

func TestRunCancelled(t *testing.T) {
	fx := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := newRunner(t, fx.store, WithWorkers(2)).Run(ctx, day())
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, sum)
	require.Equal(t, len(sum.Pairs), sum.Failed)
	require.Empty(t, fx.store.AllPasses())
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, core.NewBatchDriver(nil))
	require.Error(t, err)
	_, err = New(kb.NewStore(), nil)
	require.ErrorIs(t, err, core.ErrInvalidOptions)

	det, err := core.NewDetector(core.DefaultOptions())
	require.NoError(t, err)
	_, err = New(kb.NewStore(), core.NewBatchDriver(det), WithWorkers(0))
	require.Error(t, err)
}
