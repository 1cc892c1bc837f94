package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/signalsfoundry/groundpass/core"
	"github.com/signalsfoundry/groundpass/internal/config"
	"github.com/signalsfoundry/groundpass/kb"
	"github.com/signalsfoundry/groundpass/model"
	"github.com/signalsfoundry/groundpass/schedule"
	"github.com/signalsfoundry/groundpass/timectrl"
)

// errBadRequest marks query problems that map to 400.
var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}

// writeErr maps domain errors onto HTTP statuses.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, kb.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, errBadRequest),
		errors.Is(err, core.ErrInvalidWindow),
		errors.Is(err, core.ErrInvalidOptions),
		errors.Is(err, timectrl.ErrNakedTimestamp),
		errors.Is(err, schedule.ErrUnknownMetric),
		errors.Is(err, kb.ErrInvalid):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
	default:
		var pe *core.PropagationError
		if errors.As(err, &pe) {
			writeError(w, http.StatusUnprocessableEntity, "propagation_failed", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_server_error", "something went wrong")
	}
}

// optionalID reads a positive integer parameter; zero means absent.
func optionalID(q url.Values, name string) (int64, error) {
	raw := q.Get(name)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, badRequest("%s must be a positive integer, got %q", name, raw)
	}
	return id, nil
}

// timeRange reads start and end (or start and an ISO-8601 horizon). Both
// instants must carry an explicit zone.
func timeRange(q url.Values) (time.Time, time.Time, error) {
	rawStart := q.Get("start")
	if rawStart == "" {
		return time.Time{}, time.Time{}, badRequest("start is required")
	}
	start, err := timectrl.ParseInstant(rawStart)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start: %w", err)
	}

	var end time.Time
	switch rawEnd, rawHorizon := q.Get("end"), q.Get("horizon"); {
	case rawEnd != "" && rawHorizon != "":
		return time.Time{}, time.Time{}, badRequest("end and horizon are mutually exclusive")
	case rawEnd != "":
		if end, err = timectrl.ParseInstant(rawEnd); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("end: %w", err)
		}
	case rawHorizon != "":
		d, err := config.ParseISODuration(rawHorizon)
		if err != nil {
			return time.Time{}, time.Time{}, badRequest("horizon: %v", err)
		}
		end = start.Add(d)
	default:
		return time.Time{}, time.Time{}, badRequest("end or horizon is required")
	}
	if !start.Before(end) {
		return time.Time{}, time.Time{}, core.ErrInvalidWindow
	}
	return start, end, nil
}

// stationParam resolves gs_id or station (code). required controls whether
// omitting both is an error.
func (s *Server) stationParam(q url.Values, required bool) (model.GroundStation, bool, error) {
	id, err := optionalID(q, "gs_id")
	if err != nil {
		return model.GroundStation{}, false, err
	}
	code := q.Get("station")
	switch {
	case id != 0:
		st, ok := s.store.Station(id)
		if !ok {
			return model.GroundStation{}, false, fmt.Errorf("ground station %d: %w", id, kb.ErrNotFound)
		}
		return st, true, nil
	case code != "":
		st, ok := s.store.StationByCode(code)
		if !ok {
			return model.GroundStation{}, false, fmt.Errorf("ground station %q: %w", code, kb.ErrNotFound)
		}
		return st, true, nil
	case required:
		return model.GroundStation{}, false, badRequest("gs_id or station is required")
	default:
		return model.GroundStation{}, false, nil
	}
}

// satelliteParam resolves satellite_id or norad_id.
func (s *Server) satelliteParam(q url.Values, required bool) (model.Satellite, bool, error) {
	id, err := optionalID(q, "satellite_id")
	if err != nil {
		return model.Satellite{}, false, err
	}
	norad, err := optionalID(q, "norad_id")
	if err != nil {
		return model.Satellite{}, false, err
	}
	switch {
	case id != 0:
		sat, ok := s.store.Satellite(id)
		if !ok {
			return model.Satellite{}, false, fmt.Errorf("satellite %d: %w", id, kb.ErrNotFound)
		}
		return sat, true, nil
	case norad != 0:
		sat, ok := s.store.SatelliteByNorad(int(norad))
		if !ok {
			return model.Satellite{}, false, fmt.Errorf("norad id %d: %w", norad, kb.ErrNotFound)
		}
		return sat, true, nil
	case required:
		return model.Satellite{}, false, badRequest("satellite_id or norad_id is required")
	default:
		return model.Satellite{}, false, nil
	}
}

func topK(q url.Values) (int, error) {
	raw := q.Get("k")
	if raw == "" {
		return DefaultTopK, nil
	}
	k, err := strconv.Atoi(raw)
	if err != nil || k < 1 || k > MaxTopK {
		return 0, badRequest("k must be an integer in [1, %d], got %q", MaxTopK, raw)
	}
	return k, nil
}

// location reads lat/lon/alt_m for ad-hoc predictions.
func location(q url.Values) (model.GroundLocation, error) {
	var loc model.GroundLocation
	for _, f := range []struct {
		name     string
		dst      *float64
		required bool
	}{
		{"lat", &loc.LatDeg, true},
		{"lon", &loc.LonDeg, true},
		{"alt_m", &loc.AltM, false},
	} {
		raw := q.Get(f.name)
		if raw == "" {
			if f.required {
				return loc, badRequest("%s is required", f.name)
			}
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return loc, badRequest("%s must be a number, got %q", f.name, raw)
		}
		*f.dst = v
	}
	if err := loc.Validate(); err != nil {
		return loc, badRequest("%v", err)
	}
	return loc, nil
}
