package transform

import (
	"fmt"
	"math"
	"time"
)

// WGS-84 ellipsoid parameters.
const (
	wgs84A  = 6378137.0             // semi-major axis (meters)
	wgs84F  = 1.0 / 298.257223563   // flattening
	wgs84E2 = wgs84F * (2 - wgs84F) // first eccentricity squared
)

// EarthMeanRadiusKm normalises altitudes for the renderer.
const EarthMeanRadiusKm = 6371.0

const maxGeodeticIterations = 10

// GeodeticPoint holds a geodetic position (latitude/longitude in degrees, altitude in meters).
type GeodeticPoint struct {
	LatDeg, LonDeg, AltM float64
}

// GeodeticPosition is a propagated object's geographic position.
type GeodeticPosition struct {
	LatDeg  float64 `json:"lat"`
	LonDeg  float64 `json:"lon"`
	AltKm   float64 `json:"alt_km"`
	AltNorm float64 `json:"alt"` // AltKm / EarthMeanRadiusKm
}

// TransformError reports a position that has no valid geodetic equivalent.
type TransformError struct {
	Stage string
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform: non-finite value in %s", e.Stage)
}

// ECEFToGeodetic converts ECEF coordinates (meters) to geodetic coordinates
// by Bowring's iteration, stopping once latitude moves less than 1e-12 rad.
// Longitude is in (-180, 180].
func ECEFToGeodetic(x, y, z float64) GeodeticPoint {
	lon := math.Atan2(y, x)
	p := math.Sqrt(x*x + y*y)

	lat := math.Atan2(z, p*(1-wgs84E2))
	for i := 0; i < maxGeodeticIterations; i++ {
		sinLat := math.Sin(lat)
		n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)
		next := math.Atan2(z+wgs84E2*n*sinLat, p)
		done := math.Abs(next-lat) < 1e-12
		lat = next
		if done {
			break
		}
	}

	sinLat := math.Sin(lat)
	cosLat := math.Cos(lat)
	n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	var alt float64
	if math.Abs(cosLat) > 1e-10 {
		alt = p/cosLat - n
	} else {
		alt = math.Abs(z)/math.Abs(sinLat) - n*(1-wgs84E2)
	}

	return GeodeticPoint{
		LatDeg: lat * 180.0 / math.Pi,
		LonDeg: lon * 180.0 / math.Pi,
		AltM:   alt,
	}
}

// GeodeticToECEF is the inverse of ECEFToGeodetic.
func GeodeticToECEF(g GeodeticPoint) (x, y, z float64) {
	lat := g.LatDeg * math.Pi / 180.0
	lon := g.LonDeg * math.Pi / 180.0
	sinLat, cosLat := math.Sin(lat), math.Cos(lat)

	// Radius of curvature in the prime vertical.
	n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	x = (n + g.AltM) * cosLat * math.Cos(lon)
	y = (n + g.AltM) * cosLat * math.Sin(lon)
	z = (n*(1-wgs84E2) + g.AltM) * sinLat
	return x, y, z
}

// ToGeodetic converts a TEME state (km) at instant t to a geographic position.
func ToGeodetic(teme PositionTEME, t time.Time) (GeodeticPosition, error) {
	return ToGeodeticWithGMST(teme, GMST(t))
}

// ToGeodeticWithGMST is ToGeodetic with a precomputed GMST angle (radians),
// for batches that share one instant.
func ToGeodeticWithGMST(teme PositionTEME, gmst float64) (GeodeticPosition, error) {
	if !finite(teme.X, teme.Y, teme.Z) {
		return GeodeticPosition{}, &TransformError{Stage: "inertial position"}
	}
	ecef := TEMEToECEFWithGMST(teme, gmst)
	g := ECEFToGeodetic(ecef.X, ecef.Y, ecef.Z)
	if !finite(g.LatDeg, g.LonDeg, g.AltM) {
		return GeodeticPosition{}, &TransformError{Stage: "geodetic position"}
	}
	altKm := g.AltM / 1000.0
	return GeodeticPosition{
		LatDeg:  g.LatDeg,
		LonDeg:  g.LonDeg,
		AltKm:   altKm,
		AltNorm: altKm / EarthMeanRadiusKm,
	}, nil
}
