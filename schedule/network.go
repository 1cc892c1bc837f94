package schedule

import (
	"slices"

	"github.com/signalsfoundry/groundpass/model"
)

// StationSchedule is the best schedule for one ground station.
type StationSchedule struct {
	GroundStationID int64          `json:"ground_station_id"`
	Schedule        model.Schedule `json:"schedule"`
}

// NetworkPlan aggregates independent per-station schedules.
type NetworkPlan struct {
	Metric                  string            `json:"metric"`
	TotalPasses             int               `json:"total_passes"`
	TotalTrackingTimeS      int               `json:"total_tracking_time_s"`
	UniqueSatellitesTracked int               `json:"unique_satellites_tracked"`
	Score                   float64           `json:"score"`
	Stations                []StationSchedule `json:"stations"`
}

// OptimizeNetwork groups candidates by ground station and runs Best on each
// group. Stations are independent: one satellite may be scheduled at several
// stations at once. Stations are reported in ascending ID order.
func (s Scheduler) OptimizeNetwork(cands []model.CandidateWindow, m Metric) NetworkPlan {
	byStation := make(map[int64][]model.CandidateWindow)
	for _, c := range cands {
		byStation[c.GroundStationID] = append(byStation[c.GroundStationID], c)
	}
	ids := make([]int64, 0, len(byStation))
	for id := range byStation {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	plan := NetworkPlan{Metric: m.Name(), Stations: make([]StationSchedule, 0, len(ids))}
	sats := make(map[int64]struct{})
	for _, id := range ids {
		sched := s.Best(byStation[id], m)
		for _, w := range sched.Windows {
			plan.TotalPasses++
			plan.TotalTrackingTimeS += w.DurationS
			sats[w.SatelliteID] = struct{}{}
		}
		plan.Score += sched.Score
		plan.Stations = append(plan.Stations, StationSchedule{GroundStationID: id, Schedule: sched})
	}
	plan.UniqueSatellitesTracked = len(sats)
	return plan
}
