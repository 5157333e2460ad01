package propagation

import (
	"math"
	"time"

	"github.com/star/orbitwatch/internal/tle"
	"github.com/star/orbitwatch/internal/transform"
)

// WGS-72 constants used by the SGP4 theory. The element sets are fitted
// against these values, so they must not be swapped for WGS-84.
const (
	earthRadiusKm = 6378.135
	muEarth       = 398600.8
	j2            = 0.001082616
	j3            = -0.00000253881
	j4            = -0.00000165597
	j3oj2         = j3 / j2
	x2o3          = 2.0 / 3.0
	twoPi         = 2 * math.Pi
	deg2rad       = math.Pi / 180
	minutesPerDay = 1440.0

	// deepSpacePeriod is the orbital period in minutes at or above which
	// lunar/solar and resonance terms are required.
	deepSpacePeriod = 225.0
)

var (
	xke       = 60.0 / math.Sqrt(earthRadiusKm*earthRadiusKm*earthRadiusKm/muEarth)
	vkmPerSec = earthRadiusKm * xke / 60.0
)

// meanElements holds the recovered (un-Kozai'd) mean motion and semi-major axis.
type meanElements struct {
	ecc, incl, argp, node, m float64
	no                       float64 // rad/min, recovered
	ao                       float64 // earth radii
	cosio, sinio, cosio2     float64
	omeosq, rteosq           float64
	con41, con42             float64
	posq, rp                 float64
}

// recoverMean converts the Kozai mean motion of an element set into the
// Brouwer mean motion and semi-major axis used by the theory.
func recoverMean(set tle.ElementSet) meanElements {
	e := meanElements{
		ecc:  set.Eccentricity,
		incl: set.Inclination * deg2rad,
		argp: set.ArgPerigee * deg2rad,
		node: set.RAAN * deg2rad,
		m:    set.MeanAnomaly * deg2rad,
	}
	noKozai := set.MeanMotion * twoPi / minutesPerDay

	eccsq := e.ecc * e.ecc
	e.omeosq = 1 - eccsq
	e.rteosq = math.Sqrt(e.omeosq)
	e.cosio = math.Cos(e.incl)
	e.sinio = math.Sin(e.incl)
	e.cosio2 = e.cosio * e.cosio

	ak := math.Pow(xke/noKozai, x2o3)
	d1 := 0.75 * j2 * (3*e.cosio2 - 1) / (e.rteosq * e.omeosq)
	del := d1 / (ak * ak)
	adel := ak * (1 - del*del - del*(1.0/3.0+134*del*del/81))
	del = d1 / (adel * adel)
	e.no = noKozai / (1 + del)

	e.ao = math.Pow(xke/e.no, x2o3)
	po := e.ao * e.omeosq
	e.posq = po * po
	e.rp = e.ao * (1 - e.ecc)
	e.con42 = 1 - 5*e.cosio2
	e.con41 = -e.con42 - 2*e.cosio2
	return e
}

// isDeepSpace reports whether the recovered period needs the deep-space theory.
func (e meanElements) isDeepSpace() bool {
	return twoPi/e.no >= deepSpacePeriod
}

// nearEarth is an initialised SGP4 model for periods below 225 minutes.
// Immutable after construction.
type nearEarth struct {
	meanElements
	bstar float64

	simple bool // perigee below 220 km: drop the higher-order drag terms

	eta, sinmao, delmo           float64
	cc1, cc4, cc5                float64
	d2, d3, d4                   float64
	t2cof, t3cof, t4cof, t5cof   float64
	mdot, argpdot, nodedot       float64
	omgcof, xmcof, nodecf        float64
	xlcof, aycof, x1mth2, x7thm1 float64
}

func newNearEarth(e meanElements, bstar float64) *nearEarth {
	k := &nearEarth{meanElements: e, bstar: bstar}

	ao := e.ao
	k.simple = e.rp < 220/earthRadiusKm+1

	sfour := 78/earthRadiusKm + 1
	qzms24 := math.Pow((120-78)/earthRadiusKm, 4)
	perigee := (e.rp - 1) * earthRadiusKm
	if perigee < 156 {
		sfour = perigee - 78
		if perigee < 98 {
			sfour = 20
		}
		qzms24 = math.Pow((120-sfour)/earthRadiusKm, 4)
		sfour = sfour/earthRadiusKm + 1
	}

	pinvsq := 1 / e.posq
	tsi := 1 / (ao - sfour)
	k.eta = ao * e.ecc * tsi
	etasq := k.eta * k.eta
	eeta := e.ecc * k.eta
	psisq := math.Abs(1 - etasq)
	coef := qzms24 * math.Pow(tsi, 4)
	coef1 := coef / math.Pow(psisq, 3.5)

	cc2 := coef1 * e.no * (ao*(1+1.5*etasq+eeta*(4+etasq)) +
		0.375*j2*tsi/psisq*e.con41*(8+3*etasq*(8+etasq)))
	k.cc1 = bstar * cc2
	cc3 := 0.0
	if e.ecc > 1e-4 {
		cc3 = -2 * coef * tsi * j3oj2 * e.no * e.sinio / e.ecc
	}
	k.x1mth2 = 1 - e.cosio2
	k.cc4 = 2 * e.no * coef1 * ao * e.omeosq *
		(k.eta*(2+0.5*etasq) + e.ecc*(0.5+2*etasq) -
			j2*tsi/(ao*psisq)*(-3*e.con41*(1-2*eeta+etasq*(1.5-0.5*eeta))+
				0.75*k.x1mth2*(2*etasq-eeta*(1+etasq))*math.Cos(2*e.argp)))
	k.cc5 = 2 * coef1 * ao * e.omeosq * (1 + 2.75*(etasq+eeta) + eeta*etasq)

	cosio4 := e.cosio2 * e.cosio2
	temp1 := 1.5 * j2 * pinvsq * e.no
	temp2 := 0.5 * temp1 * j2 * pinvsq
	temp3 := -0.46875 * j4 * pinvsq * pinvsq * e.no
	k.mdot = e.no + 0.5*temp1*e.rteosq*e.con41 + 0.0625*temp2*e.rteosq*(13-78*e.cosio2+137*cosio4)
	k.argpdot = -0.5*temp1*e.con42 + 0.0625*temp2*(7-114*e.cosio2+395*cosio4) +
		temp3*(3-36*e.cosio2+49*cosio4)
	xhdot1 := -temp1 * e.cosio
	k.nodedot = xhdot1 + (0.5*temp2*(4-19*e.cosio2)+2*temp3*(3-7*e.cosio2))*e.cosio

	k.omgcof = bstar * cc3 * math.Cos(e.argp)
	if e.ecc > 1e-4 {
		k.xmcof = -x2o3 * coef * bstar / eeta
	}
	k.nodecf = 3.5 * e.omeosq * xhdot1 * k.cc1
	k.t2cof = 1.5 * k.cc1

	den := 1 + e.cosio
	if math.Abs(den) <= 1.5e-12 {
		den = 1.5e-12
	}
	k.xlcof = -0.25 * j3oj2 * e.sinio * (3 + 5*e.cosio) / den
	k.aycof = -0.5 * j3oj2 * e.sinio
	k.delmo = math.Pow(1+k.eta*math.Cos(e.m), 3)
	k.sinmao = math.Sin(e.m)
	k.x7thm1 = 7*e.cosio2 - 1

	if !k.simple {
		cc1sq := k.cc1 * k.cc1
		k.d2 = 4 * ao * tsi * cc1sq
		temp := k.d2 * tsi * k.cc1 / 3
		k.d3 = (17*ao + sfour) * temp
		k.d4 = 0.5 * temp * ao * tsi * (221*ao + 31*sfour) * k.cc1
		k.t3cof = k.d2 + 2*cc1sq
		k.t4cof = 0.25 * (3*k.d3 + k.cc1*(12*k.d2+10*cc1sq))
		k.t5cof = 0.2 * (3*k.d4 + 12*k.cc1*k.d3 + 6*k.d2*k.d2 + 15*cc1sq*(2*k.d2+cc1sq))
	}
	return k
}

// propagate advances the model tsince minutes from epoch. The returned code is
// zero on success.
func (k *nearEarth) propagate(_ time.Time, tsince float64) (transform.PositionTEME, Code) {
	t := tsince
	t2 := t * t

	// Secular gravity and atmospheric drag.
	xmdf := k.m + k.mdot*t
	argpdf := k.argp + k.argpdot*t
	nodedf := k.node + k.nodedot*t
	argpm := argpdf
	mm := xmdf
	nodem := nodedf + k.nodecf*t2
	tempa := 1 - k.cc1*t
	tempe := k.bstar * k.cc4 * t
	templ := k.t2cof * t2

	if !k.simple {
		delomg := k.omgcof * t
		delmtemp := 1 + k.eta*math.Cos(xmdf)
		delm := k.xmcof * (delmtemp*delmtemp*delmtemp - k.delmo)
		temp := delomg + delm
		mm = xmdf + temp
		argpm = argpdf - temp
		t3 := t2 * t
		t4 := t3 * t
		tempa = tempa - k.d2*t2 - k.d3*t3 - k.d4*t4
		tempe += k.bstar * k.cc5 * (math.Sin(mm) - k.sinmao)
		templ += k.t3cof*t3 + t4*(k.t4cof+t*k.t5cof)
	}

	nm := k.no
	if nm <= 0 {
		return transform.PositionTEME{}, CodeMeanMotion
	}
	am := math.Pow(xke/nm, x2o3) * tempa * tempa
	nm = xke / math.Pow(am, 1.5)
	em := k.ecc - tempe
	if em >= 1 || em < -0.001 || math.IsNaN(em) {
		return transform.PositionTEME{}, CodeEccentricity
	}
	if em < 1e-6 {
		em = 1e-6
	}
	mm += k.no * templ
	xlm := mm + argpm + nodem

	nodem = math.Mod(nodem, twoPi)
	argpm = math.Mod(argpm, twoPi)
	xlm = math.Mod(xlm, twoPi)
	mm = math.Mod(xlm-argpm-nodem, twoPi)

	// Long-period periodics.
	axnl := em * math.Cos(argpm)
	temp := 1 / (am * (1 - em*em))
	aynl := em*math.Sin(argpm) + temp*k.aycof
	xl := mm + argpm + nodem + temp*k.xlcof*axnl

	// Kepler's equation.
	u := math.Mod(xl-nodem, twoPi)
	eo1 := u
	tem5 := 9999.9
	var sineo1, coseo1 float64
	for ktr := 1; math.Abs(tem5) >= 1e-12 && ktr <= 10; ktr++ {
		sineo1 = math.Sin(eo1)
		coseo1 = math.Cos(eo1)
		tem5 = 1 - coseo1*axnl - sineo1*aynl
		tem5 = (u - aynl*coseo1 + axnl*sineo1 - eo1) / tem5
		if math.Abs(tem5) >= 0.95 {
			tem5 = math.Copysign(0.95, tem5)
		}
		eo1 += tem5
	}

	// Short-period periodics.
	ecose := axnl*coseo1 + aynl*sineo1
	esine := axnl*sineo1 - aynl*coseo1
	el2 := axnl*axnl + aynl*aynl
	pl := am * (1 - el2)
	if pl < 0 {
		return transform.PositionTEME{}, CodeSemiLatusRectum
	}

	rl := am * (1 - ecose)
	rdotl := math.Sqrt(am) * esine / rl
	rvdotl := math.Sqrt(pl) / rl
	betal := math.Sqrt(1 - el2)
	temp = esine / (1 + betal)
	sinu := am / rl * (sineo1 - aynl - axnl*temp)
	cosu := am / rl * (coseo1 - axnl + aynl*temp)
	su := math.Atan2(sinu, cosu)
	sin2u := (cosu + cosu) * sinu
	cos2u := 1 - 2*sinu*sinu
	temp = 1 / pl
	temp1 := 0.5 * j2 * temp
	temp2 := temp1 * temp

	mrt := rl*(1-1.5*temp2*betal*k.con41) + 0.5*temp1*k.x1mth2*cos2u
	su -= 0.25 * temp2 * k.x7thm1 * sin2u
	xnode := nodem + 1.5*temp2*k.cosio*sin2u
	xinc := k.incl + 1.5*temp2*k.cosio*k.sinio*cos2u
	mvt := rdotl - nm*temp1*k.x1mth2*sin2u/xke
	rvdot := rvdotl + nm*temp1*(k.x1mth2*cos2u+1.5*k.con41)/xke

	sinsu, cossu := math.Sin(su), math.Cos(su)
	snod, cnod := math.Sin(xnode), math.Cos(xnode)
	sini, cosi := math.Sin(xinc), math.Cos(xinc)
	xmx := -snod * cosi
	xmy := cnod * cosi
	ux := xmx*sinsu + cnod*cossu
	uy := xmy*sinsu + snod*cossu
	uz := sini * sinsu
	vx := xmx*cossu - cnod*sinsu
	vy := xmy*cossu - snod*sinsu
	vz := sini * cossu

	mr := mrt * earthRadiusKm
	pos := transform.PositionTEME{
		X:  mr * ux,
		Y:  mr * uy,
		Z:  mr * uz,
		VX: vkmPerSec * (mvt*ux + rvdot*vx),
		VY: vkmPerSec * (mvt*uy + rvdot*vy),
		VZ: vkmPerSec * (mvt*uz + rvdot*vz),
	}
	if mrt < 1 {
		return pos, CodeDecayed
	}
	return pos, 0
}
