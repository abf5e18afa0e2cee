// Package geo converts between local NED (North-East-Down) coordinates and
// geodetic latitude/longitude/altitude around a configurable origin.
package geo

import "math"

// EarthRadiusMean is the mean Earth radius in metres used by the flat-earth
// approximation. Accurate to sub-metre within a few hundred kilometres of
// the origin.
const EarthRadiusMean = 6371000.0

// Point is a geodetic position: degrees, degrees, metres MSL.
type Point struct {
	Latitude  float64
	Longitude float64
	Altitude  float64
}

// NED is a local tangent-plane offset from the origin in metres. Down is
// positive below the origin.
type NED struct {
	North float64
	East  float64
	Down  float64
}

// NEDConverter maps NED offsets onto the globe around a geodetic origin.
// Scale factors are cached and recomputed only when the origin changes, so
// per-frame conversions are two multiplications and two additions.
//
// The converter performs no input validation; NaN or out-of-range inputs
// are the caller's responsibility.
type NEDConverter struct {
	origin Point

	metersPerDegLat float64
	metersPerDegLon float64
}

// NewNEDConverter builds a converter anchored at the given origin.
func NewNEDConverter(lat, lon, alt float64) *NEDConverter {
	c := &NEDConverter{}
	c.SetOrigin(lat, lon, alt)
	return c
}

// Origin returns the current geodetic origin.
func (c *NEDConverter) Origin() Point { return c.origin }

// SetOrigin re-anchors the converter and recomputes the cached scale
// factors. Degrees of latitude per metre are constant; degrees of longitude
// per metre shrink with cos(origin latitude).
func (c *NEDConverter) SetOrigin(lat, lon, alt float64) {
	c.origin = Point{Latitude: lat, Longitude: lon, Altitude: alt}

	latRad := lat * math.Pi / 180.0
	c.metersPerDegLat = (math.Pi / 180.0) * EarthRadiusMean
	c.metersPerDegLon = (math.Pi / 180.0) * EarthRadiusMean * math.Cos(latRad)
}

// NEDToGeo converts a local NED offset to geodetic coordinates.
func (c *NEDConverter) NEDToGeo(north, east, down float64) Point {
	return Point{
		Latitude:  c.origin.Latitude + north/c.metersPerDegLat,
		Longitude: c.origin.Longitude + east/c.metersPerDegLon,
		Altitude:  c.origin.Altitude - down,
	}
}

// GeoToNED converts geodetic coordinates back to a local NED offset.
func (c *NEDConverter) GeoToNED(lat, lon, alt float64) NED {
	return NED{
		North: (lat - c.origin.Latitude) * c.metersPerDegLat,
		East:  (lon - c.origin.Longitude) * c.metersPerDegLon,
		Down:  c.origin.Altitude - alt,
	}
}

// NormalizeHeading wraps a heading in degrees into [0, 360).
func NormalizeHeading(heading float64) float64 {
	heading = math.Mod(heading, 360)
	if heading < 0 {
		heading += 360
	}
	return heading
}

// EulerToSim converts roll/pitch/yaw Euler angles in radians to the
// degree-valued roll, pitch, heading triple the simulator expects, with the
// heading normalized into [0, 360).
func EulerToSim(phi, theta, psi float64) (roll, pitch, heading float64) {
	roll = phi * 180.0 / math.Pi
	pitch = theta * 180.0 / math.Pi
	heading = NormalizeHeading(psi * 180.0 / math.Pi)
	return roll, pitch, heading
}
