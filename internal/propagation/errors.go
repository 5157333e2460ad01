package propagation

import (
	"errors"
	"fmt"
)

// Code classifies why a propagation failed. Every code is terminal for the
// object at that instant; other instants may still succeed.
type Code int

const (
	CodeEccentricity    Code = 1 // mean eccentricity left [0,1) after perturbation
	CodeMeanMotion      Code = 2 // mean motion not positive
	CodeSemiLatusRectum Code = 4 // semi-latus rectum negative
	CodeDecayed         Code = 6 // radius below the Earth's surface
	CodeNonFinite       Code = 7 // NaN or Inf in the state vector
)

var (
	ErrEccentricity    = errors.New("mean eccentricity out of range")
	ErrMeanMotion      = errors.New("mean motion not positive")
	ErrSemiLatusRectum = errors.New("semi-latus rectum negative")
	ErrDecayed         = errors.New("orbit decayed")
	ErrNonFinite       = errors.New("non-finite state vector")
)

func (c Code) String() string {
	switch c {
	case CodeEccentricity:
		return "eccentricity"
	case CodeMeanMotion:
		return "mean_motion"
	case CodeSemiLatusRectum:
		return "semi_latus_rectum"
	case CodeDecayed:
		return "decayed"
	case CodeNonFinite:
		return "non_finite"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

func (c Code) sentinel() error {
	switch c {
	case CodeEccentricity:
		return ErrEccentricity
	case CodeMeanMotion:
		return ErrMeanMotion
	case CodeSemiLatusRectum:
		return ErrSemiLatusRectum
	case CodeDecayed:
		return ErrDecayed
	default:
		return ErrNonFinite
	}
}

// PropagationError reports a failed propagation of one object. Minutes is the
// time since the element epoch that was requested.
type PropagationError struct {
	ObjectID string
	Code     Code
	Minutes  float64
}

func (e *PropagationError) Error() string {
	return fmt.Sprintf("propagate %s at %+.3f min: %v", e.ObjectID, e.Minutes, e.Code.sentinel())
}

// Unwrap lets errors.Is match the per-code sentinels.
func (e *PropagationError) Unwrap() error { return e.Code.sentinel() }

// CodeOf extracts the failure code from err, or 0 when err is not a
// PropagationError.
func CodeOf(err error) Code {
	var perr *PropagationError
	if errors.As(err, &perr) {
		return perr.Code
	}
	return 0
}
