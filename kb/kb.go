// Package kb is the in-memory, thread-safe store of satellites, ground stations
// and the candidate pass windows computed for them.
package kb

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/signalsfoundry/groundpass/model"
)

var (
	// ErrNotFound is returned for unknown satellite or station IDs.
	ErrNotFound = errors.New("not found")
	// ErrInvalid is returned for records that fail validation.
	ErrInvalid = errors.New("invalid record")
)

// EventType indicates what kind of change happened in the store.
type EventType int

const (
	EventPassesStored EventType = iota
	EventPassesDeleted
	EventSatelliteUpdated
	EventStationUpdated
)

func (t EventType) String() string {
	switch t {
	case EventPassesStored:
		return "passes_stored"
	case EventPassesDeleted:
		return "passes_deleted"
	case EventSatelliteUpdated:
		return "satellite_updated"
	case EventStationUpdated:
		return "station_updated"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event is emitted to subscribers when something interesting happens.
type Event struct {
	Type      EventType
	Passes    []model.StoredPass
	Deleted   int
	Satellite model.Satellite
	Station   model.GroundStation
}

// passKey is the uniqueness constraint for stored passes.
type passKey struct {
	satID, gsID int64
	start, end  int64
}

func keyOf(p model.StoredPass) passKey {
	return passKey{satID: p.SatelliteID, gsID: p.GroundStationID, start: p.Start.UnixNano(), end: p.End.UnixNano()}
}

// Store holds satellites, ground stations and passes. IDs are assigned by the
// store and never reused.
type Store struct {
	mu sync.RWMutex

	lastID int64

	satellites map[int64]*model.Satellite
	byNorad    map[int]int64
	stations   map[int64]*model.GroundStation
	byCode     map[string]int64
	passes     map[int64]model.StoredPass
	passKeys   map[passKey]int64

	subs    map[int]func(Event)
	nextSub int
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		satellites: make(map[int64]*model.Satellite),
		byNorad:    make(map[int]int64),
		stations:   make(map[int64]*model.GroundStation),
		byCode:     make(map[string]int64),
		passes:     make(map[int64]model.StoredPass),
		passKeys:   make(map[passKey]int64),
		subs:       make(map[int]func(Event)),
	}
}

func (s *Store) newID() int64 {
	s.lastID++
	return s.lastID
}

// UpsertSatellite adds a satellite by NORAD ID or renames an existing one, and
// returns the stored record.
func (s *Store) UpsertSatellite(noradID int, name string) (model.Satellite, error) {
	if noradID <= 0 {
		return model.Satellite{}, fmt.Errorf("%w: norad id %d", ErrInvalid, noradID)
	}
	s.mu.Lock()
	sat, ok := s.satellites[s.byNorad[noradID]]
	if !ok {
		sat = &model.Satellite{ID: s.newID(), NoradID: noradID}
		s.satellites[sat.ID] = sat
		s.byNorad[noradID] = sat.ID
	}
	sat.Name = name
	out := *sat
	s.mu.Unlock()

	s.publish(Event{Type: EventSatelliteUpdated, Satellite: out})
	return out, nil
}

// SetTLE records a new element set for a satellite. It reports false when the
// lines are identical to the stored ones and nothing changed.
func (s *Store) SetTLE(satID int64, tle model.TLE) (bool, error) {
	s.mu.Lock()
	sat, ok := s.satellites[satID]
	if !ok {
		s.mu.Unlock()
		return false, fmt.Errorf("satellite %d: %w", satID, ErrNotFound)
	}
	if sat.TLE.Line1 == tle.Line1 && sat.TLE.Line2 == tle.Line2 {
		s.mu.Unlock()
		return false, nil
	}
	sat.TLE = tle
	out := *sat
	s.mu.Unlock()

	s.publish(Event{Type: EventSatelliteUpdated, Satellite: out})
	return true, nil
}

// Satellite returns the satellite with the given ID.
func (s *Store) Satellite(id int64) (model.Satellite, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sat, ok := s.satellites[id]
	if !ok {
		return model.Satellite{}, false
	}
	return *sat, true
}

// SatelliteByNorad looks a satellite up by catalogue number.
func (s *Store) SatelliteByNorad(noradID int) (model.Satellite, bool) {
	s.mu.RLock()
	id, ok := s.byNorad[noradID]
	s.mu.RUnlock()
	if !ok {
		return model.Satellite{}, false
	}
	return s.Satellite(id)
}

// Satellites returns a snapshot of all satellites ordered by ID.
func (s *Store) Satellites() []model.Satellite {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]model.Satellite, 0, len(s.satellites))
	for _, sat := range s.satellites {
		res = append(res, *sat)
	}
	slices.SortFunc(res, func(a, b model.Satellite) int { return cmp.Compare(a.ID, b.ID) })
	return res
}

// UpsertStation adds a ground station by code or updates the name and location
// of an existing one. The ID of the argument is ignored.
func (s *Store) UpsertStation(gs model.GroundStation) (model.GroundStation, error) {
	if gs.Code == "" {
		return model.GroundStation{}, fmt.Errorf("%w: ground station code is required", ErrInvalid)
	}
	if err := gs.Location.Validate(); err != nil {
		return model.GroundStation{}, fmt.Errorf("%w: station %s: %v", ErrInvalid, gs.Code, err)
	}
	s.mu.Lock()
	st, ok := s.stations[s.byCode[gs.Code]]
	if !ok {
		st = &model.GroundStation{ID: s.newID(), Code: gs.Code}
		s.stations[st.ID] = st
		s.byCode[gs.Code] = st.ID
	}
	st.Name = gs.Name
	st.Location = gs.Location
	out := *st
	s.mu.Unlock()

	s.publish(Event{Type: EventStationUpdated, Station: out})
	return out, nil
}

// Station returns the ground station with the given ID.
func (s *Store) Station(id int64) (model.GroundStation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stations[id]
	if !ok {
		return model.GroundStation{}, false
	}
	return *st, true
}

// StationByCode looks a ground station up by its unique code.
func (s *Store) StationByCode(code string) (model.GroundStation, bool) {
	s.mu.RLock()
	id, ok := s.byCode[code]
	s.mu.RUnlock()
	if !ok {
		return model.GroundStation{}, false
	}
	return s.Station(id)
}

// Stations returns a snapshot of all ground stations ordered by code.
func (s *Store) Stations() []model.GroundStation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]model.GroundStation, 0, len(s.stations))
	for _, st := range s.stations {
		res = append(res, *st)
	}
	slices.SortFunc(res, func(a, b model.GroundStation) int { return cmp.Compare(a.Code, b.Code) })
	return res
}

// InsertPasses stores windows for existing satellites and stations. A window
// whose (satellite, station, start, end) is already stored is skipped. The
// returned slice holds the newly stored passes with their assigned IDs.
func (s *Store) InsertPasses(passes []model.StoredPass) ([]model.StoredPass, error) {
	s.mu.Lock()
	for _, p := range passes {
		if _, ok := s.satellites[p.SatelliteID]; !ok {
			s.mu.Unlock()
			return nil, fmt.Errorf("satellite %d: %w", p.SatelliteID, ErrNotFound)
		}
		if _, ok := s.stations[p.GroundStationID]; !ok {
			s.mu.Unlock()
			return nil, fmt.Errorf("ground station %d: %w", p.GroundStationID, ErrNotFound)
		}
		if !p.Start.Before(p.End) {
			s.mu.Unlock()
			return nil, fmt.Errorf("%w: pass %s..%s has start >= end", ErrInvalid, p.Start, p.End)
		}
	}

	var stored []model.StoredPass
	for _, p := range passes {
		p.Start, p.End = p.Start.UTC(), p.End.UTC()
		if !p.PeakTime.IsZero() {
			p.PeakTime = p.PeakTime.UTC()
		}
		k := keyOf(p)
		if _, dup := s.passKeys[k]; dup {
			continue
		}
		p.ID = s.newID()
		s.passes[p.ID] = p
		s.passKeys[k] = p.ID
		stored = append(stored, p)
	}
	s.mu.Unlock()

	if len(stored) > 0 {
		s.publish(Event{Type: EventPassesStored, Passes: stored})
	}
	return stored, nil
}

// PassQuery selects passes that overlap [Start, End). Zero IDs match any
// satellite or station.
type PassQuery struct {
	SatelliteID     int64
	GroundStationID int64
	Start           time.Time
	End             time.Time
}

func (q PassQuery) matches(p model.StoredPass) bool {
	if q.SatelliteID != 0 && p.SatelliteID != q.SatelliteID {
		return false
	}
	if q.GroundStationID != 0 && p.GroundStationID != q.GroundStationID {
		return false
	}
	return p.Start.Before(q.End) && p.End.After(q.Start)
}

// DeletePasses removes the passes matched by q and returns how many were removed.
func (s *Store) DeletePasses(q PassQuery) int {
	s.mu.Lock()
	n := 0
	for id, p := range s.passes {
		if q.matches(p) {
			delete(s.passes, id)
			delete(s.passKeys, keyOf(p))
			n++
		}
	}
	s.mu.Unlock()

	if n > 0 {
		s.publish(Event{Type: EventPassesDeleted, Deleted: n})
	}
	return n
}

// QueryPasses returns the passes matched by q ordered by end time, then start
// time, then ID.
func (s *Store) QueryPasses(q PassQuery) []model.StoredPass {
	s.mu.RLock()
	res := make([]model.StoredPass, 0)
	for _, p := range s.passes {
		if q.matches(p) {
			res = append(res, p)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(res, func(a, b model.StoredPass) int {
		if c := a.End.Compare(b.End); c != 0 {
			return c
		}
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return res
}

// Stats are point-in-time record counts.
type Stats struct {
	Satellites int
	Stations   int
	Passes     int
}

// Stats returns the current record counts.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{Satellites: len(s.satellites), Stations: len(s.stations), Passes: len(s.passes)}
}

// Subscribe registers a callback for store events. It returns an unsubscribe
// function. Callbacks run synchronously on the writer's goroutine, outside the
// store lock.
func (s *Store) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Store) publish(ev Event) {
	s.mu.RLock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	subs := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, s.subs[id])
	}
	s.mu.RUnlock()

	// Notify subscribers outside the lock to avoid deadlocks.
	for _, sub := range subs {
		sub(ev)
	}
}

var (
	minTime = time.Unix(-1<<40, 0).UTC()
	maxTime = time.Unix(1<<40, 0).UTC()
)

// AllPasses returns every stored pass in QueryPasses order.
func (s *Store) AllPasses() []model.StoredPass {
	return s.QueryPasses(PassQuery{Start: minTime, End: maxTime})
}
