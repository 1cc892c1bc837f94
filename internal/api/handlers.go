package api

import (
	"net/http"
	"time"

	"github.com/signalsfoundry/groundpass/core"
	"github.com/signalsfoundry/groundpass/internal/logging"
	"github.com/signalsfoundry/groundpass/internal/observability"
	"github.com/signalsfoundry/groundpass/kb"
	"github.com/signalsfoundry/groundpass/model"
	"github.com/signalsfoundry/groundpass/schedule"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type healthResponse struct {
	Status     string `json:"status"`
	Satellites int    `json:"satellites"`
	Stations   int    `json:"stations"`
	Passes     int    `json:"passes"`
}

type passesResponse struct {
	GroundStationID int64                   `json:"gs_id,omitempty"`
	SatelliteID     int64                   `json:"satellite_id,omitempty"`
	Start           time.Time               `json:"start"`
	End             time.Time               `json:"end"`
	Count           int                     `json:"count"`
	Passes          []model.CandidateWindow `json:"passes"`
}

type predictResponse struct {
	SatelliteID int64                `json:"satellite_id"`
	NoradID     int                  `json:"norad_id"`
	Location    model.GroundLocation `json:"location"`
	Start       time.Time            `json:"start"`
	End         time.Time            `json:"end"`
	Count       int                  `json:"count"`
	Passes      []model.PassWindow   `json:"passes"`
}

type scheduleResponse struct {
	GroundStationID int64                   `json:"gs_id"`
	SatelliteID     int64                   `json:"satellite_id,omitempty"`
	Start           time.Time               `json:"start"`
	End             time.Time               `json:"end"`
	Metric          string                  `json:"metric"`
	Score           *float64                `json:"score,omitempty"`
	K               int                     `json:"k,omitempty"`
	Count           int                     `json:"count"`
	Passes          []model.CandidateWindow `json:"passes"`
}

type networkResponse struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	schedule.NetworkPlan
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	st := s.store.Stats()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:     "ok",
		Satellites: st.Satellites,
		Stations:   st.Stations,
		Passes:     st.Passes,
	})
}

func (s *Server) listSatellites(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Satellites())
}

func (s *Server) listStations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Stations())
}

// listPasses returns stored passes overlapping the range, unclipped.
func (s *Server) listPasses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, end, err := timeRange(q)
	if err != nil {
		writeErr(w, err)
		return
	}
	st, _, err := s.stationParam(q, false)
	if err != nil {
		writeErr(w, err)
		return
	}
	sat, _, err := s.satelliteParam(q, false)
	if err != nil {
		writeErr(w, err)
		return
	}
	passes := s.store.QueryPasses(kb.PassQuery{
		SatelliteID:     sat.ID,
		GroundStationID: st.ID,
		Start:           start,
		End:             end,
	})
	writeJSON(w, http.StatusOK, passesResponse{
		GroundStationID: st.ID,
		SatelliteID:     sat.ID,
		Start:           start,
		End:             end,
		Count:           len(passes),
		Passes:          passes,
	})
}

// predictPasses runs detection on demand for a stored satellite over a stored
// station or an ad-hoc lat/lon. Nothing is persisted.
func (s *Server) predictPasses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	start, end, err := timeRange(q)
	if err != nil {
		writeErr(w, err)
		return
	}
	if end.Sub(start) > s.maxRange {
		writeErr(w, badRequest("range %s exceeds the %s limit", end.Sub(start), s.maxRange))
		return
	}
	sat, _, err := s.satelliteParam(q, true)
	if err != nil {
		writeErr(w, err)
		return
	}
	st, ok, err := s.stationParam(q, false)
	if err != nil {
		writeErr(w, err)
		return
	}
	loc := st.Location
	if !ok {
		if loc, err = location(q); err != nil {
			writeErr(w, err)
			return
		}
	}

	prop, err := s.factory(sat)
	if err != nil {
		writeErr(w, badRequest("satellite %d: %v", sat.ID, err))
		return
	}

	ctx, span := observability.Tracer().Start(ctx, "api.predict", trace.WithAttributes(
		attribute.Int("norad_id", sat.NoradID),
		attribute.Float64("lat", loc.LatDeg),
		attribute.Float64("lon", loc.LonDeg),
	))
	defer span.End()

	elev := core.ElevationOf(prop, core.NewObserver(s.ellipsoid, loc))
	windows, err := s.batch.DetectAll(ctx, elev, start, end)
	if err != nil {
		span.RecordError(err)
		s.logger(r).Warn(ctx, "prediction failed", logging.Int("norad_id", sat.NoradID), logging.Err(err))
		writeErr(w, err)
		return
	}
	if windows == nil {
		windows = []model.PassWindow{}
	}
	writeJSON(w, http.StatusOK, predictResponse{
		SatelliteID: sat.ID,
		NoradID:     sat.NoradID,
		Location:    loc,
		Start:       start,
		End:         end,
		Count:       len(windows),
		Passes:      windows,
	})
}

// scheduleInputs is the shared parsing for /schedule/best and /schedule/top:
// the station's candidates overlapping the range, clipped to it.
func (s *Server) scheduleInputs(r *http.Request) (scheduleResponse, []model.CandidateWindow, schedule.Metric, error) {
	q := r.URL.Query()
	start, end, err := timeRange(q)
	if err != nil {
		return scheduleResponse{}, nil, nil, err
	}
	st, _, err := s.stationParam(q, true)
	if err != nil {
		return scheduleResponse{}, nil, nil, err
	}
	sat, _, err := s.satelliteParam(q, false)
	if err != nil {
		return scheduleResponse{}, nil, nil, err
	}
	m, err := schedule.MetricByName(q.Get("metric"))
	if err != nil {
		return scheduleResponse{}, nil, nil, err
	}
	stored := s.store.QueryPasses(kb.PassQuery{
		SatelliteID:     sat.ID,
		GroundStationID: st.ID,
		Start:           start,
		End:             end,
	})
	cands := schedule.Clip(stored, start, end, s.scheduler.MinDuration)
	resp := scheduleResponse{
		GroundStationID: st.ID,
		SatelliteID:     sat.ID,
		Start:           start,
		End:             end,
		Metric:          m.Name(),
	}
	return resp, cands, m, nil
}

func (s *Server) bestSchedule(w http.ResponseWriter, r *http.Request) {
	resp, cands, m, err := s.scheduleInputs(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	sched := s.scheduler.Best(cands, m)
	s.metrics.ObserveSchedule("best", m.Name())

	resp.Score = &sched.Score
	resp.Passes = nonNil(sched.Windows)
	resp.Count = len(resp.Passes)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) topSchedule(w http.ResponseWriter, r *http.Request) {
	k, err := topK(r.URL.Query())
	if err != nil {
		writeErr(w, err)
		return
	}
	resp, cands, m, err := s.scheduleInputs(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	top := s.scheduler.TopK(cands, m, k)
	s.metrics.ObserveSchedule("top", m.Name())

	resp.K = k
	resp.Passes = nonNil(top)
	resp.Count = len(resp.Passes)
	writeJSON(w, http.StatusOK, resp)
}

// networkSchedule plans every station independently over the range.
func (s *Server) networkSchedule(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, end, err := timeRange(q)
	if err != nil {
		writeErr(w, err)
		return
	}
	sat, _, err := s.satelliteParam(q, false)
	if err != nil {
		writeErr(w, err)
		return
	}
	m, err := schedule.MetricByName(q.Get("metric"))
	if err != nil {
		writeErr(w, err)
		return
	}
	stored := s.store.QueryPasses(kb.PassQuery{SatelliteID: sat.ID, Start: start, End: end})
	plan := s.scheduler.OptimizeNetwork(schedule.Clip(stored, start, end, s.scheduler.MinDuration), m)
	s.metrics.ObserveSchedule("network", m.Name())

	for i := range plan.Stations {
		plan.Stations[i].Schedule.Windows = nonNil(plan.Stations[i].Schedule.Windows)
	}
	writeJSON(w, http.StatusOK, networkResponse{Start: start, End: end, NetworkPlan: plan})
}

func (s *Server) logger(r *http.Request) logging.Logger {
	if l := logging.LoggerFromContext(r.Context()); l != nil {
		return l
	}
	return s.log
}

func nonNil(ws []model.CandidateWindow) []model.CandidateWindow {
	if ws == nil {
		return []model.CandidateWindow{}
	}
	return ws
}
