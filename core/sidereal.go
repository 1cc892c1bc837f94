package core

import (
	"math"
	"time"
)

const (
	// julianDateUnixEpoch is the Julian Date of 1970-01-01T00:00:00Z.
	julianDateUnixEpoch = 2440587.5
	// julianDateJ2000 is the Julian Date of the J2000.0 epoch.
	julianDateJ2000 = 2451545.0
	secondsPerDay   = 86400.0
)

// JulianDate converts an instant to a (UT1 ≈ UTC) Julian Date with sub-second
// resolution.
func JulianDate(t time.Time) float64 {
	sec := float64(t.Unix()) + float64(t.Nanosecond())/1e9
	return julianDateUnixEpoch + sec/secondsPerDay
}

// GMST returns the Greenwich mean sidereal angle in radians for t. This is the
// low-order polynomial, good to well under an arcsecond-per-day drift, which is
// plenty for pass boundaries.
func GMST(t time.Time) float64 {
	d := JulianDate(t) - julianDateJ2000
	c := d / 36525.0
	deg := 280.46061837 +
		360.98564736629*d +
		0.000387933*c*c -
		c*c*c/38710000.0
	deg = math.Mod(deg, 360.0)
	if deg < 0 {
		deg += 360.0
	}
	return deg * deg2rad
}
