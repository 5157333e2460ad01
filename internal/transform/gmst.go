package transform

import (
	"math"
	"time"
)

// j2000Unix is 2000-01-01T12:00:00Z (JD 2451545.0) in Unix seconds.
const j2000Unix = 946728000

// unixEpochJD is the Julian Date of 1970-01-01T00:00:00Z.
const unixEpochJD = 2440587.5

// OmegaEarth is Earth's rotation rate in rad/s (IAU value).
const OmegaEarth = 7.292115146706979e-5

// JulianDate converts t to a Julian Date. Leap seconds are ignored, so UTC
// stands in for UT1.
func JulianDate(t time.Time) float64 {
	return unixEpochJD + float64(t.Unix())/86400 + float64(t.Nanosecond())/86400e9
}

// daysSinceJ2000 splits the elapsed time since J2000 into whole days and the
// fraction of the current day. Keeping them apart preserves sub-second
// resolution that a single float64 Julian Date loses.
func daysSinceJ2000(t time.Time) (whole, frac float64) {
	sec := t.Unix() - j2000Unix
	day := sec / 86400
	rem := sec % 86400
	if rem < 0 {
		day--
		rem += 86400
	}
	return float64(day), (float64(rem) + float64(t.Nanosecond())/1e9) / 86400
}

// GMST returns Greenwich Mean Sidereal Time in radians, in [0, 2π), using the
// IAU-82 expression (Vallado Eq 3-47):
//
//	θ = 67310.54841 + (876600h + 8640184.812866)·T + 0.093104·T² − 6.2e-6·T³  [s]
//
// with T in Julian centuries of UT1 from J2000. The 876600h·T term is exactly
// 86400 s per elapsed day, so only the day fraction contributes after the
// reduction modulo one day.
func GMST(t time.Time) float64 {
	whole, frac := daysSinceJ2000(t)
	T := (whole + frac) / 36525.0

	sec := 67310.54841 +
		86400.0*frac +
		8640184.812866*T +
		0.093104*T*T -
		6.2e-6*T*T*T

	sec = math.Mod(sec, 86400.0)
	if sec < 0 {
		sec += 86400.0
	}
	return sec / 86400.0 * 2.0 * math.Pi
}

// GMSTDegrees returns GMST in degrees in [0, 360).
func GMSTDegrees(t time.Time) float64 {
	return GMST(t) * 180.0 / math.Pi
}
