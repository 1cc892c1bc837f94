package kb

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/signalsfoundry/groundpass/model"
)

// snapshotVersion is bumped when the on-disk layout changes incompatibly.
const snapshotVersion = 1

type snapshot struct {
	Version    int                   `json:"version"`
	LastID     int64                 `json:"last_id"`
	Satellites []model.Satellite     `json:"satellites"`
	Stations   []model.GroundStation `json:"ground_stations"`
	Passes     []model.StoredPass    `json:"passes"`
}

// Save writes the whole store as JSON.
func (s *Store) Save(w io.Writer) error {
	snap := snapshot{
		Version:    snapshotVersion,
		Satellites: s.Satellites(),
		Stations:   s.Stations(),
		Passes:     s.AllPasses(),
	}
	s.mu.RLock()
	snap.LastID = s.lastID
	s.mu.RUnlock()

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return nil
}

// Load replaces the store contents with a snapshot written by Save. Subscribers
// are kept but not notified.
func (s *Store) Load(r io.Reader) error {
	var snap snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return fmt.Errorf("%w: snapshot version %d, want %d", ErrInvalid, snap.Version, snapshotVersion)
	}

	fresh := NewStore()
	for _, sat := range snap.Satellites {
		fresh.satellites[sat.ID] = &sat
		fresh.byNorad[sat.NoradID] = sat.ID
		fresh.lastID = max(fresh.lastID, sat.ID)
	}
	for _, st := range snap.Stations {
		fresh.stations[st.ID] = &st
		fresh.byCode[st.Code] = st.ID
		fresh.lastID = max(fresh.lastID, st.ID)
	}
	for _, p := range snap.Passes {
		if _, ok := fresh.satellites[p.SatelliteID]; !ok {
			return fmt.Errorf("%w: pass %d references unknown satellite %d", ErrInvalid, p.ID, p.SatelliteID)
		}
		if _, ok := fresh.stations[p.GroundStationID]; !ok {
			return fmt.Errorf("%w: pass %d references unknown station %d", ErrInvalid, p.ID, p.GroundStationID)
		}
		fresh.passes[p.ID] = p
		fresh.passKeys[keyOf(p)] = p.ID
		fresh.lastID = max(fresh.lastID, p.ID)
	}
	fresh.lastID = max(fresh.lastID, snap.LastID)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastID = fresh.lastID
	s.satellites, s.byNorad = fresh.satellites, fresh.byNorad
	s.stations, s.byCode = fresh.stations, fresh.byCode
	s.passes, s.passKeys = fresh.passes, fresh.passKeys
	return nil
}

// SaveFile writes the snapshot to path atomically via a temporary file.
func (s *Store) SaveFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := s.Save(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// LoadFile loads a snapshot from path. A missing file leaves the store empty
// and is not an error.
func (s *Store) LoadFile(path string) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	return s.Load(f)
}
