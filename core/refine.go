package core

import (
	"fmt"
	"time"
)

// DefaultRefineIterations is the bisection depth used when none is configured.
// With a 60 s scan step it resolves crossings to a few microseconds.
const DefaultRefineIterations = 25

// RefineCrossing locates the instant between t0 and t1 at which elevation
// crosses threshold. e0 and e1 are the elevations already sampled at t0 and t1
// and must lie on opposite sides of the threshold (or one exactly on it).
//
// The bisection always runs exactly iterations steps so results are
// reproducible; the returned midpoint of the final bracket is within
// (t1-t0)/2^iterations of the crossing. When the midpoint sample is exactly on
// the threshold the bracket collapses onto [lo, mid], so an elevation that
// rests on the threshold over an interval resolves to the earliest edge of
// that interval. Stored passes depend on this direction.
func RefineCrossing(elev ElevationFunc, t0, t1 time.Time, e0, e1, threshold float64, iterations int) (time.Time, error) {
	if !t0.Before(t1) {
		return time.Time{}, ErrInvalidWindow
	}
	if (e0-threshold)*(e1-threshold) > 0 {
		return time.Time{}, fmt.Errorf("%w: %.6f and %.6f vs %.6f", ErrNotBracketed, e0, e1, threshold)
	}
	if iterations <= 0 {
		iterations = DefaultRefineIterations
	}

	lo, hi := t0, t1
	eLo := e0
	for range iterations {
		mid := lo.Add(hi.Sub(lo) / 2)
		eMid, err := elev(mid)
		if err != nil {
			return time.Time{}, err
		}
		if (eLo-threshold)*(eMid-threshold) <= 0 {
			hi = mid
		} else {
			lo, eLo = mid, eMid
		}
	}
	return lo.Add(hi.Sub(lo) / 2), nil
}
