package risk

import "fmt"

// Tier is a close-approach risk class derived from separation distance.
type Tier int

const (
	TierNone Tier = iota
	TierLow
	TierModerate
	TierHigh
	TierSevere
)

// MaxScore caps a pair's summed score.
const MaxScore = 100

// Tiers lists every tier from lowest to highest risk.
var Tiers = []Tier{TierNone, TierLow, TierModerate, TierHigh, TierSevere}

// Upper separation bounds (km, exclusive) for each tier above None.
const (
	severeKm   = 10.0
	highKm     = 50.0
	moderateKm = 150.0
	lowKm      = 300.0
)

func (t Tier) String() string {
	switch t {
	case TierNone:
		return "none"
	case TierLow:
		return "low"
	case TierModerate:
		return "moderate"
	case TierHigh:
		return "high"
	case TierSevere:
		return "severe"
	default:
		return fmt.Sprintf("Tier(%d)", int(t))
	}
}

func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Contribution is the score one sample at this tier adds to a pair.
func (t Tier) Contribution() int {
	switch t {
	case TierSevere:
		return 50
	case TierHigh:
		return 20
	case TierModerate:
		return 10
	case TierLow:
		return 5
	default:
		return 0
	}
}

// Classify maps a separation in km to its tier. NaN separations are None.
func Classify(distanceKm float64) Tier {
	switch {
	case distanceKm < severeKm:
		return TierSevere
	case distanceKm < highKm:
		return TierHigh
	case distanceKm < moderateKm:
		return TierModerate
	case distanceKm < lowKm:
		return TierLow
	default:
		return TierNone
	}
}
