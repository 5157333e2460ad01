package propagation

import (
	"math"
	"time"

	"github.com/star/orbitwatch/internal/tle"
	"github.com/star/orbitwatch/internal/transform"
)

// State is an object's inertial (TEME) position in km and velocity in km/s
// at one instant.
type State struct {
	ObjectID string
	Time     time.Time
	transform.PositionTEME
}

// Radius returns the distance from the Earth's center in km.
func (s State) Radius() float64 {
	return math.Sqrt(s.X*s.X + s.Y*s.Y + s.Z*s.Z)
}

type kernel interface {
	propagate(at time.Time, tsince float64) (transform.PositionTEME, Code)
}

// Model is an initialised propagator for one element set. It is immutable and
// safe for concurrent use.
type Model struct {
	set  tle.ElementSet
	k    kernel
	deep bool
}

// New initialises a model for set, choosing the near-Earth or deep-space
// theory from the recovered orbital period.
func New(set tle.ElementSet) (*Model, error) {
	if set.MeanMotion <= 0 || math.IsNaN(set.MeanMotion) {
		return nil, &PropagationError{ObjectID: set.ID, Code: CodeMeanMotion}
	}
	if set.Eccentricity < 0 || set.Eccentricity >= 1 || math.IsNaN(set.Eccentricity) {
		return nil, &PropagationError{ObjectID: set.ID, Code: CodeEccentricity}
	}

	mean := recoverMean(set)
	if !(mean.no > 0) {
		return nil, &PropagationError{ObjectID: set.ID, Code: CodeMeanMotion}
	}
	if mean.isDeepSpace() {
		ds, err := newDeepSpace(set)
		if err != nil {
			return nil, err
		}
		return &Model{set: set, k: ds, deep: true}, nil
	}
	return &Model{set: set, k: newNearEarth(mean, set.BStar)}, nil
}

// Set returns the element set the model was built from.
func (m *Model) Set() tle.ElementSet { return m.set }

// ID returns the object identity.
func (m *Model) ID() string { return m.set.ID }

// DeepSpace reports whether the model uses the deep-space theory.
func (m *Model) DeepSpace() bool { return m.deep }

// Propagate returns the state at the given instant. Failures are returned as
// *PropagationError; no default position is ever substituted.
func (m *Model) Propagate(at time.Time) (State, error) {
	tsince := at.Sub(m.set.Epoch).Minutes()
	pos, code := m.k.propagate(at, tsince)
	if code == 0 {
		code = classify(pos)
	}
	if code != 0 {
		return State{}, &PropagationError{ObjectID: m.set.ID, Code: code, Minutes: tsince}
	}
	return State{ObjectID: m.set.ID, Time: at, PositionTEME: pos}, nil
}

// Propagate is a convenience for one-off calls; batch callers should reuse
// models through a Propagator.
func Propagate(set tle.ElementSet, at time.Time) (State, error) {
	m, err := New(set)
	if err != nil {
		return State{}, err
	}
	return m.Propagate(at)
}
