package model

import "time"

// PassWindow is a single visibility window of an object over a ground location.
// End is always after Start and PeakElevationDeg is at or above the threshold the
// window was detected with.
type PassWindow struct {
	Start            time.Time `json:"start_ts"`
	End              time.Time `json:"end_ts"`
	DurationS        int       `json:"duration_s"`
	PeakElevationDeg float64   `json:"max_elev_deg"`
	PeakTime         time.Time `json:"peak_ts,omitempty"`
}

// Duration returns End - Start.
func (w PassWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// CandidateWindow is a pass window tagged with the identities it was computed for.
// The identity fields are only used for bookkeeping by the scheduler.
type CandidateWindow struct {
	ID              int64 `json:"id"`
	SatelliteID     int64 `json:"satellite_id"`
	GroundStationID int64 `json:"ground_station_id"`
	PassWindow
}

// StoredPass is a persisted candidate window.
type StoredPass = CandidateWindow

// Schedule is an ordered, pairwise non-overlapping selection of windows.
type Schedule struct {
	Metric  string            `json:"metric"`
	Windows []CandidateWindow `json:"passes"`
	Score   float64           `json:"score"`
}

// Overlaps reports whether two windows overlap as half-open intervals
// [Start, End). Windows that only touch (a.End == b.Start) do not overlap.
func Overlaps(a, b PassWindow) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}
