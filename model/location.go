package model

import (
	"fmt"
	"math"
)

// GroundLocation is a fixed geodetic point on the reference ellipsoid.
type GroundLocation struct {
	LatDeg float64 `json:"lat_deg" yaml:"latDeg"`
	LonDeg float64 `json:"lon_deg" yaml:"lonDeg"`
	AltM   float64 `json:"alt_m" yaml:"altM"`
}

// Validate reports whether the location is a usable geodetic coordinate.
func (g GroundLocation) Validate() error {
	for _, v := range []float64{g.LatDeg, g.LonDeg, g.AltM} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("ground location has non-finite component: %+v", g)
		}
	}
	if g.LatDeg < -90 || g.LatDeg > 90 {
		return fmt.Errorf("latitude %.6f out of range [-90, 90]", g.LatDeg)
	}
	if g.LonDeg < -180 || g.LonDeg > 180 {
		return fmt.Errorf("longitude %.6f out of range [-180, 180]", g.LonDeg)
	}
	return nil
}

// GroundStation is a named ground location that passes are computed for.
type GroundStation struct {
	ID       int64          `json:"id" yaml:"id"`
	Code     string         `json:"code" yaml:"code"`
	Name     string         `json:"name" yaml:"name"`
	Location GroundLocation `json:"location" yaml:"location"`
}
