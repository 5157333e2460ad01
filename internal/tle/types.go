package tle

import (
	"fmt"
	"strings"
	"time"
)

// Classification is the closed set of object kinds carried by every element set.
type Classification int

const (
	ClassCatalog Classification = iota
	ClassUserAdded
	ClassDebris
)

func (c Classification) String() string {
	switch c {
	case ClassCatalog:
		return "catalog"
	case ClassUserAdded:
		return "user_added"
	case ClassDebris:
		return "debris"
	default:
		return fmt.Sprintf("classification(%d)", int(c))
	}
}

// MarshalText encodes the classification as its lower-case name.
func (c Classification) MarshalText() ([]byte, error) {
	switch c {
	case ClassCatalog, ClassUserAdded, ClassDebris:
		return []byte(c.String()), nil
	}
	return nil, fmt.Errorf("unknown classification %d", int(c))
}

// UnmarshalText accepts the names produced by MarshalText.
func (c *Classification) UnmarshalText(b []byte) error {
	v, err := ParseClassification(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// ParseClassification converts a name such as "debris" into a Classification.
func ParseClassification(s string) (Classification, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "catalog":
		return ClassCatalog, nil
	case "user_added", "user":
		return ClassUserAdded, nil
	case "debris":
		return ClassDebris, nil
	}
	return ClassCatalog, fmt.Errorf("unknown classification %q", s)
}

// ElementSet is one parsed two-line element set. Angles are degrees, mean
// motion is revolutions per day. Values are never mutated after parsing; a
// re-fetch produces new sets.
type ElementSet struct {
	ID             string
	Name           string
	CatalogNumber  int
	Security       byte // U, C or S from line 1 column 8
	IntlDesignator string
	Epoch          time.Time

	MeanMotionDot  float64 // first derivative / 2, rev/day^2
	MeanMotionDDot float64 // second derivative / 6, rev/day^3
	BStar          float64 // drag term, 1/earth radii
	ElementNumber  int

	Inclination  float64
	RAAN         float64
	Eccentricity float64
	ArgPerigee   float64
	MeanAnomaly  float64
	MeanMotion   float64
	RevNumber    int

	Class Classification

	// Line1 and Line2 hold the source text when the set was parsed.
	Line1 string
	Line2 string
}

// EpochRange represents the minimum and maximum epoch times in a set of records.
type EpochRange struct {
	Min time.Time
	Max time.Time
}

// Validate checks the physical invariants every set must satisfy.
func (s ElementSet) Validate() error {
	switch {
	case s.Eccentricity < 0 || s.Eccentricity >= 1:
		return fmt.Errorf("%w: eccentricity %.7f outside [0,1)", ErrInvariant, s.Eccentricity)
	case s.Inclination < 0 || s.Inclination > 180:
		return fmt.Errorf("%w: inclination %.4f outside [0,180]", ErrInvariant, s.Inclination)
	case s.MeanMotion <= 0:
		return fmt.Errorf("%w: mean motion %.8f must be positive", ErrInvariant, s.MeanMotion)
	}
	return nil
}

// ObjectID returns the catalog identity for a set of the given class.
// Catalog and debris objects are keyed by the catalog number zero-padded to
// five digits, so lexical order matches numeric order only up to 99999;
// Alpha-5 numbers (100000 and above) take six digits and sort before "99999".
// Identity order is stable either way. User objects are keyed by name.
func ObjectID(catalogNumber int, name string, class Classification) string {
	if class == ClassUserAdded {
		return "user:" + strings.TrimSpace(name)
	}
	return fmt.Sprintf("%05d", catalogNumber)
}

// RangeOf returns the epoch range spanned by sets. The zero range is returned
// for an empty slice.
func RangeOf(sets []ElementSet) EpochRange {
	if len(sets) == 0 {
		return EpochRange{}
	}
	r := EpochRange{Min: sets[0].Epoch, Max: sets[0].Epoch}
	for _, s := range sets[1:] {
		if s.Epoch.Before(r.Min) {
			r.Min = s.Epoch
		}
		if s.Epoch.After(r.Max) {
			r.Max = s.Epoch
		}
	}
	return r
}
