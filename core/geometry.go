package core

import (
	"math"
	"time"

	"github.com/signalsfoundry/groundpass/model"
)

const (
	deg2rad = math.Pi / 180.0
	rad2deg = 180.0 / math.Pi
)

// Vec3 is a Cartesian vector in kilometres. Depending on context it is either an
// inertial (TEME) or an Earth-fixed (ECEF) position.
type Vec3 struct {
	X, Y, Z float64
}

// Norm returns the Euclidean norm of the vector.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Sub returns v - other.
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Dot returns the dot product of two vectors.
func (v Vec3) Dot(other Vec3) float64 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

// Lerp returns v + (other-v)*f.
func (v Vec3) Lerp(other Vec3, f float64) Vec3 {
	return Vec3{
		X: v.X + (other.X-v.X)*f,
		Y: v.Y + (other.Y-v.Y)*f,
		Z: v.Z + (other.Z-v.Z)*f,
	}
}

// IsFinite reports whether every component is a finite number.
func (v Vec3) IsFinite() bool {
	for _, c := range [3]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// Ellipsoid is the reference ellipsoid used to place ground locations.
type Ellipsoid struct {
	Name           string
	SemiMajorAxisM float64
	Flattening     float64
}

var (
	// WGS84 is the default reference ellipsoid.
	WGS84 = Ellipsoid{Name: "wgs84", SemiMajorAxisM: 6378137.0, Flattening: 1.0 / 298.257223563}
	// WGS72 matches the gravity model SGP4 element sets are fitted with.
	WGS72 = Ellipsoid{Name: "wgs72", SemiMajorAxisM: 6378135.0, Flattening: 1.0 / 298.26}
)

// EllipsoidByName resolves a named ellipsoid ("wgs84", "wgs72").
func EllipsoidByName(name string) (Ellipsoid, bool) {
	switch name {
	case "", WGS84.Name:
		return WGS84, true
	case WGS72.Name:
		return WGS72, true
	default:
		return Ellipsoid{}, false
	}
}

// eccentricitySquared returns the first eccentricity squared, f(2-f).
func (e Ellipsoid) eccentricitySquared() float64 {
	return e.Flattening * (2 - e.Flattening)
}

// GeodeticToECEF converts a geodetic location to Earth-fixed coordinates in km.
func (e Ellipsoid) GeodeticToECEF(loc model.GroundLocation) Vec3 {
	lat := loc.LatDeg * deg2rad
	lon := loc.LonDeg * deg2rad
	sinLat, cosLat := math.Sincos(lat)
	sinLon, cosLon := math.Sincos(lon)

	e2 := e.eccentricitySquared()
	// Radius of curvature in the prime vertical.
	n := e.SemiMajorAxisM / math.Sqrt(1-e2*sinLat*sinLat)

	const m2km = 1.0 / 1000.0
	return Vec3{
		X: (n + loc.AltM) * cosLat * cosLon * m2km,
		Y: (n + loc.AltM) * cosLat * sinLon * m2km,
		Z: (n*(1-e2) + loc.AltM) * sinLat * m2km,
	}
}

// Observer is a ground location with its Earth-fixed position and local basis
// precomputed, so elevation evaluation in the scan loop is a handful of
// multiplies. An Observer is immutable and safe for concurrent use.
type Observer struct {
	Location  model.GroundLocation
	Ellipsoid Ellipsoid

	ecef                           Vec3
	sinLat, cosLat, sinLon, cosLon float64
}

// NewObserver places loc on the given ellipsoid.
func NewObserver(e Ellipsoid, loc model.GroundLocation) Observer {
	sinLat, cosLat := math.Sincos(loc.LatDeg * deg2rad)
	sinLon, cosLon := math.Sincos(loc.LonDeg * deg2rad)
	return Observer{
		Location:  loc,
		Ellipsoid: e,
		ecef:      e.GeodeticToECEF(loc),
		sinLat:    sinLat,
		cosLat:    cosLat,
		sinLon:    sinLon,
		cosLon:    cosLon,
	}
}

// ECEF returns the observer's Earth-fixed position in km.
func (o Observer) ECEF() Vec3 { return o.ecef }

// ENU projects an Earth-fixed offset vector onto the observer's local
// East-North-Up basis.
func (o Observer) ENU(d Vec3) (east, north, up float64) {
	east = -o.sinLon*d.X + o.cosLon*d.Y
	north = -o.sinLat*o.cosLon*d.X - o.sinLat*o.sinLon*d.Y + o.cosLat*d.Z
	up = o.cosLat*o.cosLon*d.X + o.cosLat*o.sinLon*d.Y + o.sinLat*d.Z
	return east, north, up
}

// Elevation returns the elevation angle in degrees of an inertial position (km)
// seen from the observer at instant t. Positive values are above the horizon.
func (o Observer) Elevation(inertial Vec3, t time.Time) float64 {
	sat := InertialToECEF(inertial, GMST(t))
	east, north, up := o.ENU(sat.Sub(o.ecef))
	return math.Atan2(up, math.Hypot(east, north)) * rad2deg
}

// Elevation is the one-shot form of Observer.Elevation.
func Elevation(e Ellipsoid, inertial Vec3, t time.Time, loc model.GroundLocation) float64 {
	return NewObserver(e, loc).Elevation(inertial, t)
}

// InertialToECEF rotates an inertial position about Z by the Earth rotation
// angle theta (radians): r_ecef = R3(theta) * r_inertial.
func InertialToECEF(r Vec3, theta float64) Vec3 {
	s, c := math.Sincos(theta)
	return Vec3{
		X: c*r.X + s*r.Y,
		Y: -s*r.X + c*r.Y,
		Z: r.Z,
	}
}

// ECEFToInertial is the inverse of InertialToECEF.
func ECEFToInertial(r Vec3, theta float64) Vec3 {
	return InertialToECEF(r, -theta)
}
