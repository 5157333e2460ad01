package propagation

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/star/orbitwatch/internal/tle"
)

// TestRadiusAtEpochIsPlausible: any bound orbit with its perigee above the
// atmosphere propagates at its own epoch to a finite, plausible radius.
func TestRadiusAtEpochIsPlausible(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("epoch radius within 6400..45000 km", prop.ForAll(
		func(incl, raan, argp, anomaly, ecc, meanMotion float64) bool {
			l1, l2 := tle.Encode(tle.ElementSet{
				CatalogNumber: 77777,
				Epoch:         issEpoch,
				Inclination:   incl,
				RAAN:          raan,
				ArgPerigee:    argp,
				MeanAnomaly:   anomaly,
				Eccentricity:  ecc,
				MeanMotion:    meanMotion,
			})
			set, err := tle.ParseRecord("GEN", l1, l2, tle.ClassCatalog)
			if err != nil {
				return false
			}
			st, err := Propagate(set, set.Epoch)
			if err != nil {
				return false
			}
			r := st.Radius()
			return r >= 6400 && r <= 45000
		},
		gen.Float64Range(0, 179.9),
		gen.Float64Range(0, 359.9),
		gen.Float64Range(0, 359.9),
		gen.Float64Range(0, 359.9),
		gen.Float64Range(0, 0.01),
		gen.Float64Range(1, 16),
	))

	properties.TestingRun(t)
}
