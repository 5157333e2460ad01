// Package transform converts propagated inertial states into Earth-fixed and
// geographic coordinates.
//
// SGP4 states are in TEME (True Equator Mean Equinox). They are rotated into
// ECEF by GMST alone (TEME to PEF, taken as ECEF), ignoring polar motion and
// the equation of the equinoxes; the error is tens of meters at most.
//
// Reference: Vallado, "Fundamentals of Astrodynamics and Applications", Ch. 3.
package transform

import (
	"math"
	"time"
)

// PositionTEME is an inertial state in km and km/s.
type PositionTEME struct {
	X, Y, Z    float64
	VX, VY, VZ float64
}

// PositionECEF is an Earth-fixed state in meters and m/s.
type PositionECEF struct {
	X, Y, Z    float64
	VX, VY, VZ float64
}

// rotZ rotates (x, y) by -theta about the Z axis, i.e. applies R3(theta).
func rotZ(theta, x, y float64) (float64, float64) {
	s, c := math.Sincos(theta)
	return c*x + s*y, -s*x + c*y
}

// TEMEToECEF rotates a TEME state into ECEF at instant t.
func TEMEToECEF(teme PositionTEME, t time.Time) PositionECEF {
	return TEMEToECEFWithGMST(teme, GMST(t))
}

// TEMEToECEFWithGMST rotates a TEME state by a precomputed GMST angle (radians):
//
//	r_ecef = R3(θ)·r_teme
//	v_ecef = R3(θ)·v_teme − ω×r_ecef
func TEMEToECEFWithGMST(teme PositionTEME, gmst float64) PositionECEF {
	x, y := rotZ(gmst, teme.X, teme.Y)
	vx, vy := rotZ(gmst, teme.VX, teme.VY)
	vx += OmegaEarth * y
	vy -= OmegaEarth * x

	const m = 1000.0
	return PositionECEF{
		X: x * m, Y: y * m, Z: teme.Z * m,
		VX: vx * m, VY: vy * m, VZ: teme.VZ * m,
	}
}

// ECEFToTEMEWithGMST is the inverse of TEMEToECEFWithGMST.
func ECEFToTEMEWithGMST(ecef PositionECEF, gmst float64) PositionTEME {
	const km = 1e-3
	x, y, z := ecef.X*km, ecef.Y*km, ecef.Z*km
	vx := ecef.VX*km - OmegaEarth*y
	vy := ecef.VY*km + OmegaEarth*x

	tx, ty := rotZ(-gmst, x, y)
	tvx, tvy := rotZ(-gmst, vx, vy)
	return PositionTEME{X: tx, Y: ty, Z: z, VX: tvx, VY: tvy, VZ: ecef.VZ * km}
}

// finite reports whether every value is neither NaN nor infinite.
func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
