package kb

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/groundpass/model"
)

var t0 = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func seed(t *testing.T) (*Store, model.Satellite, model.GroundStation) {
	t.Helper()
	store := NewStore()
	sat, err := store.UpsertSatellite(25544, "ISS (ZARYA)")
	if err != nil {
		t.Fatalf("UpsertSatellite: %v", err)
	}
	gs, err := store.UpsertStation(model.GroundStation{
		Code:     "BLR",
		Name:     "Bengaluru",
		Location: model.GroundLocation{LatDeg: 12.97, LonDeg: 77.59, AltM: 920},
	})
	if err != nil {
		t.Fatalf("UpsertStation: %v", err)
	}
	return store, sat, gs
}

func pass(sat, gs int64, startMin, endMin int) model.StoredPass {
	start := t0.Add(time.Duration(startMin) * time.Minute)
	end := t0.Add(time.Duration(endMin) * time.Minute)
	return model.StoredPass{
		SatelliteID:     sat,
		GroundStationID: gs,
		PassWindow: model.PassWindow{
			Start:     start,
			End:       end,
			DurationS: int(end.Sub(start).Seconds()),
		},
	}
}

func TestUpsertSatellite(t *testing.T) {
	store := NewStore()
	a, err := store.UpsertSatellite(25544, "ISS")
	if err != nil {
		t.Fatalf("UpsertSatellite: %v", err)
	}
	b, err := store.UpsertSatellite(25544, "ISS (ZARYA)")
	if err != nil {
		t.Fatalf("UpsertSatellite: %v", err)
	}
	if a.ID != b.ID || b.Name != "ISS (ZARYA)" {
		t.Fatalf("upsert created a new record or kept the old name: %+v %+v", a, b)
	}
	if got, ok := store.SatelliteByNorad(25544); !ok || got.ID != a.ID {
		t.Fatalf("SatelliteByNorad = %+v, %v", got, ok)
	}
	if _, err := store.UpsertSatellite(0, "bad"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
}

func TestSetTLESkipsUnchanged(t *testing.T) {
	store, sat, _ := seed(t)
	tle := model.TLE{Line1: "1 a", Line2: "2 a"}
	if changed, err := store.SetTLE(sat.ID, tle); err != nil || !changed {
		t.Fatalf("first SetTLE = %v, %v", changed, err)
	}
	if changed, err := store.SetTLE(sat.ID, tle); err != nil || changed {
		t.Fatalf("identical SetTLE = %v, %v; want unchanged", changed, err)
	}
	if _, err := store.SetTLE(999, tle); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpsertStationByCode(t *testing.T) {
	store, _, gs := seed(t)
	moved, err := store.UpsertStation(model.GroundStation{Code: "BLR", Name: "Bangalore", Location: model.GroundLocation{LatDeg: 13}})
	if err != nil {
		t.Fatalf("UpsertStation: %v", err)
	}
	if moved.ID != gs.ID || moved.Name != "Bangalore" || moved.Location.LatDeg != 13 {
		t.Fatalf("station not updated in place: %+v", moved)
	}
	if _, err := store.UpsertStation(model.GroundStation{Code: "X", Location: model.GroundLocation{LatDeg: 95}}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
	if _, err := store.UpsertStation(model.GroundStation{Name: "no code"}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
	if _, err := store.UpsertStation(model.GroundStation{Code: "AAA"}); err != nil {
		t.Fatalf("UpsertStation: %v", err)
	}
	if st := store.Stations(); len(st) != 2 || st[0].Code != "AAA" {
		t.Fatalf("Stations not ordered by code: %+v", st)
	}
}

func TestInsertPassesIgnoresDuplicates(t *testing.T) {
	store, sat, gs := seed(t)
	stored, err := store.InsertPasses([]model.StoredPass{pass(sat.ID, gs.ID, 0, 10), pass(sat.ID, gs.ID, 60, 70)})
	if err != nil {
		t.Fatalf("InsertPasses: %v", err)
	}
	if len(stored) != 2 || stored[0].ID == 0 || stored[0].ID == stored[1].ID {
		t.Fatalf("unexpected stored passes: %+v", stored)
	}

	again, err := store.InsertPasses([]model.StoredPass{pass(sat.ID, gs.ID, 0, 10), pass(sat.ID, gs.ID, 0, 11)})
	if err != nil {
		t.Fatalf("InsertPasses: %v", err)
	}
	if len(again) != 1 || store.Stats().Passes != 3 {
		t.Fatalf("duplicate was stored: again=%d total=%d", len(again), store.Stats().Passes)
	}
}

func TestInsertPassesValidates(t *testing.T) {
	store, sat, gs := seed(t)
	if _, err := store.InsertPasses([]model.StoredPass{pass(999, gs.ID, 0, 10)}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown satellite: err = %v", err)
	}
	if _, err := store.InsertPasses([]model.StoredPass{pass(sat.ID, 999, 0, 10)}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown station: err = %v", err)
	}
	if _, err := store.InsertPasses([]model.StoredPass{pass(sat.ID, gs.ID, 0, 10), pass(sat.ID, gs.ID, 10, 10)}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("empty window: err = %v", err)
	}
	if store.Stats().Passes != 0 {
		t.Fatal("a rejected batch was partially stored")
	}
}

func TestQueryPassesOverlapOrderedByEnd(t *testing.T) {
	store, sat, gs := seed(t)
	other, _ := store.UpsertSatellite(44713, "STARLINK-1007")
	_, err := store.InsertPasses([]model.StoredPass{
		pass(sat.ID, gs.ID, 50, 200), // ends last
		pass(sat.ID, gs.ID, 0, 60),   // straddles the query start
		pass(other.ID, gs.ID, 70, 80),
		pass(sat.ID, gs.ID, 0, 30), // ends exactly at the query start
		pass(sat.ID, gs.ID, 300, 310),
	})
	if err != nil {
		t.Fatalf("InsertPasses: %v", err)
	}

	q := PassQuery{GroundStationID: gs.ID, Start: t0.Add(30 * time.Minute), End: t0.Add(300 * time.Minute)}
	got := store.QueryPasses(q)
	var ends []int
	for _, p := range got {
		ends = append(ends, int(p.End.Sub(t0).Minutes()))
	}
	if fmt.Sprint(ends) != "[60 80 200]" {
		t.Fatalf("ends = %v, want [60 80 200]", ends)
	}

	q.SatelliteID = other.ID
	if got := store.QueryPasses(q); len(got) != 1 || got[0].SatelliteID != other.ID {
		t.Fatalf("satellite filter: %+v", got)
	}
}

func TestDeletePasses(t *testing.T) {
	store, sat, gs := seed(t)
	other, _ := store.UpsertSatellite(44713, "STARLINK-1007")
	_, err := store.InsertPasses([]model.StoredPass{
		pass(sat.ID, gs.ID, 0, 10),
		pass(sat.ID, gs.ID, 100, 110),
		pass(other.ID, gs.ID, 0, 10),
	})
	if err != nil {
		t.Fatalf("InsertPasses: %v", err)
	}
	n := store.DeletePasses(PassQuery{SatelliteID: sat.ID, Start: t0, End: t0.Add(time.Hour)})
	if n != 1 || store.Stats().Passes != 2 {
		t.Fatalf("deleted %d, remaining %d", n, store.Stats().Passes)
	}
	// The freed key can be stored again.
	if again, _ := store.InsertPasses([]model.StoredPass{pass(sat.ID, gs.ID, 0, 10)}); len(again) != 1 {
		t.Fatal("re-insert after delete was ignored")
	}
}

func TestSubscribe(t *testing.T) {
	store, sat, gs := seed(t)
	var mu sync.Mutex
	var events []Event
	unsub := store.Subscribe(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})
	other := store.Subscribe(func(Event) {})
	other()

	if _, err := store.InsertPasses([]model.StoredPass{pass(sat.ID, gs.ID, 0, 10)}); err != nil {
		t.Fatalf("InsertPasses: %v", err)
	}
	store.DeletePasses(PassQuery{Start: t0, End: t0.Add(time.Hour)})
	unsub()
	if _, err := store.InsertPasses([]model.StoredPass{pass(sat.ID, gs.ID, 0, 10)}); err != nil {
		t.Fatalf("InsertPasses: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Type != EventPassesStored || len(events[0].Passes) != 1 {
		t.Fatalf("first event = %+v", events[0])
	}
	if events[1].Type != EventPassesDeleted || events[1].Deleted != 1 {
		t.Fatalf("second event = %+v", events[1])
	}
}

func TestConcurrentInsertAndQuery(t *testing.T) {
	store, sat, gs := seed(t)
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 50 {
				start := i*1000 + j*10
				if _, err := store.InsertPasses([]model.StoredPass{pass(sat.ID, gs.ID, start, start+5)}); err != nil {
					t.Errorf("InsertPasses: %v", err)
				}
				store.QueryPasses(PassQuery{Start: t0, End: t0.Add(24 * time.Hour)})
			}
		}()
	}
	wg.Wait()
	if got := store.Stats().Passes; got != 400 {
		t.Fatalf("stored %d passes, want 400", got)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	store, sat, gs := seed(t)
	if _, err := store.SetTLE(sat.ID, model.TLE{Line1: "1 x", Line2: "2 x", Epoch: t0}); err != nil {
		t.Fatalf("SetTLE: %v", err)
	}
	p := pass(sat.ID, gs.ID, 0, 10)
	p.PeakElevationDeg = 47.5
	p.PeakTime = t0.Add(5 * time.Minute)
	if _, err := store.InsertPasses([]model.StoredPass{p}); err != nil {
		t.Fatalf("InsertPasses: %v", err)
	}

	path := filepath.Join(t.TempDir(), "nested", "store.json")
	if err := store.SaveFile(path); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	loaded := NewStore()
	if err := loaded.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if loaded.Stats() != store.Stats() {
		t.Fatalf("stats = %+v, want %+v", loaded.Stats(), store.Stats())
	}
	got := loaded.AllPasses()[0]
	if !got.Start.Equal(p.Start) || got.PeakElevationDeg != 47.5 || !got.PeakTime.Equal(p.PeakTime) {
		t.Fatalf("pass not restored: %+v", got)
	}
	if s, _ := loaded.Satellite(sat.ID); s.TLE.Line1 != "1 x" {
		t.Fatalf("TLE not restored: %+v", s)
	}
	// IDs keep increasing after a load.
	next, _ := loaded.UpsertSatellite(1, "new")
	if next.ID <= got.ID {
		t.Fatalf("reused ID %d after load", next.ID)
	}
	// Uniqueness survives the round trip.
	if again, _ := loaded.InsertPasses([]model.StoredPass{p}); len(again) != 0 {
		t.Fatal("duplicate accepted after load")
	}
}

func TestLoadRejectsBadSnapshots(t *testing.T) {
	store := NewStore()
	if err := store.Load(bytes.NewBufferString(`{"version": 99}`)); !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
	dangling := `{"version":1,"passes":[{"id":1,"satellite_id":5,"ground_station_id":6}]}`
	if err := store.Load(bytes.NewBufferString(dangling)); !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
	if err := store.LoadFile(filepath.Join(t.TempDir(), "missing.json")); err != nil {
		t.Fatalf("missing file: %v", err)
	}
}
