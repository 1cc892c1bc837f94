package core

import (
	"errors"
	"fmt"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
)

// Propagator returns the inertial (TEME) position of one object, in km, at an
// instant. Implementations must return an error rather than a garbage vector
// when the underlying model fails.
type Propagator interface {
	Propagate(t time.Time) (Vec3, error)
}

// PropagatorFunc adapts a plain function to the Propagator interface.
type PropagatorFunc func(t time.Time) (Vec3, error)

// Propagate implements Propagator.
func (f PropagatorFunc) Propagate(t time.Time) (Vec3, error) { return f(t) }

// ElevationFunc returns the elevation of the tracked object, in degrees, at t.
type ElevationFunc func(t time.Time) (float64, error)

// ElevationOf composes a propagator with an observer's frame transform.
// Propagator failures are returned as *PropagationError carrying the instant.
func ElevationOf(p Propagator, obs Observer) ElevationFunc {
	return func(t time.Time) (float64, error) {
		r, err := p.Propagate(t)
		if err != nil {
			var pe *PropagationError
			if errors.As(err, &pe) {
				return 0, err
			}
			return 0, &PropagationError{Instant: t, Err: err}
		}
		return obs.Elevation(r, t), nil
	}
}

// Sanity bounds on the geocentric radius of an Earth-orbiting object, km.
const (
	minOrbitRadiusKm = 6200.0
	maxOrbitRadiusKm = 50000.0
)

// SGP4Propagator uses a TLE and SGP4 to compute positions.
//
// go-satellite only accepts whole seconds, so sub-second instants are linearly
// interpolated between the two bracketing whole-second states. For LEO the
// interpolation error over one second is around a metre.
type SGP4Propagator struct {
	sat satellite.Satellite
}

// NewSGP4Propagator constructs a propagator from TLE lines. The lines must have
// been validated first (see package tle): go-satellite exits the process on
// malformed input.
func NewSGP4Propagator(line1, line2 string) (*SGP4Propagator, error) {
	sat := satellite.TLEToSat(line1, line2, satellite.GravityWGS72)
	if sat.Error != 0 {
		return nil, &PropagationError{
			Code: int(sat.Error),
			Err:  fmt.Errorf("sgp4 init: %s", sat.ErrorStr),
		}
	}
	return &SGP4Propagator{sat: sat}, nil
}

// Propagate implements Propagator.
func (m *SGP4Propagator) Propagate(t time.Time) (Vec3, error) {
	t = t.UTC()
	whole := t.Truncate(time.Second)
	r0, err := m.at(whole)
	if err != nil {
		return Vec3{}, err
	}
	frac := t.Sub(whole)
	if frac == 0 {
		return r0, nil
	}
	r1, err := m.at(whole.Add(time.Second))
	if err != nil {
		return Vec3{}, err
	}
	return r0.Lerp(r1, frac.Seconds()), nil
}

func (m *SGP4Propagator) at(t time.Time) (Vec3, error) {
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	pos, _ := satellite.Propagate(m.sat, year, int(month), day, hour, min, sec)
	r := Vec3{X: pos.X, Y: pos.Y, Z: pos.Z}
	if !r.IsFinite() {
		return Vec3{}, &PropagationError{Instant: t, Code: CodeNonFinite, Err: errors.New("sgp4 output is NaN/Inf")}
	}
	if n := r.Norm(); n < minOrbitRadiusKm || n > maxOrbitRadiusKm {
		return Vec3{}, &PropagationError{
			Instant: t,
			Code:    CodeImplausibleOrb,
			Err:     fmt.Errorf("sgp4 output radius %.1f km outside [%.0f, %.0f]", n, minOrbitRadiusKm, maxOrbitRadiusKm),
		}
	}
	return r, nil
}
