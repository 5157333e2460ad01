package propagation

import (
	"math"
	"strconv"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/star/orbitwatch/internal/tle"
	"github.com/star/orbitwatch/internal/transform"
)

// deepSpace wraps go-satellite's SDP4 implementation for orbits with periods
// of 225 minutes or more, where lunar/solar and resonance terms matter.
//
// go-satellite hides its error codes behind a by-value Propagate and calls
// log.Fatal on malformed lines, so it is only ever handed canonical lines
// produced by tle.Encode and its output is classified here. Because the
// library records a runtime error on its own copy and keeps computing, an
// eccentricity or semi-latus-rectum failure after initialisation surfaces as
// CodeDecayed (zero vector) or CodeNonFinite rather than its own code. Only
// initialisation failures keep their specific codes.
//
// go-satellite also truncates the epoch to whole seconds and accepts only
// whole-second instants. The truncated epoch fraction is kept as lag and
// subtracted from every query instant; the remaining sub-second part is
// extrapolated linearly.
type deepSpace struct {
	sat satellite.Satellite
	lag time.Duration
}

func newDeepSpace(set tle.ElementSet) (*deepSpace, error) {
	canon := set
	canon.Line1, canon.Line2 = "", ""
	if canon.CatalogNumber > 99999 {
		// go-satellite reads the catalog number as a plain integer.
		canon.CatalogNumber = 0
	}
	line1, line2 := tle.Encode(canon)

	sat := satellite.TLEToSat(line1, line2, satellite.GravityWGS72)
	if sat.Error != 0 {
		code := Code(sat.Error)
		switch code {
		case CodeEccentricity, CodeMeanMotion, CodeSemiLatusRectum, CodeDecayed:
		default:
			code = CodeNonFinite
		}
		return nil, &PropagationError{ObjectID: set.ID, Code: code}
	}
	return &deepSpace{sat: sat, lag: epochLag(line1)}, nil
}

// epochLag returns the fraction of a second go-satellite drops from the epoch
// in line1, using the same arithmetic as its day-of-year conversion.
func epochLag(line1 string) time.Duration {
	days, err := strconv.ParseFloat(strings.TrimSpace(line1[20:32]), 64)
	if err != nil {
		return 0
	}
	t := (days - math.Floor(days)) * 24.0
	t = (t - math.Floor(t)) * 60.0
	sec := (t - math.Floor(t)) * 60.0
	return time.Duration((sec - math.Trunc(sec)) * float64(time.Second))
}

// propagate evaluates the model at the whole second at or before at and
// extrapolates linearly over the sub-second remainder.
func (d *deepSpace) propagate(at time.Time, _ float64) (transform.PositionTEME, Code) {
	at = at.UTC().Add(-d.lag)
	whole := at.Truncate(time.Second)
	frac := at.Sub(whole).Seconds()

	pos, vel := satellite.Propagate(d.sat,
		whole.Year(), int(whole.Month()), whole.Day(),
		whole.Hour(), whole.Minute(), whole.Second())

	out := transform.PositionTEME{
		X:  pos.X + vel.X*frac,
		Y:  pos.Y + vel.Y*frac,
		Z:  pos.Z + vel.Z*frac,
		VX: vel.X,
		VY: vel.Y,
		VZ: vel.Z,
	}
	return out, classify(out)
}

// classify maps a raw state vector onto the error taxonomy.
func classify(p transform.PositionTEME) Code {
	for _, v := range [...]float64{p.X, p.Y, p.Z, p.VX, p.VY, p.VZ} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return CodeNonFinite
		}
	}
	if math.Sqrt(p.X*p.X+p.Y*p.Y+p.Z*p.Z) < earthRadiusKm {
		return CodeDecayed
	}
	return 0
}
