package risk

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Policy selects which instants across the horizon are evaluated.
type Policy int

const (
	// Endpoint evaluates only instant+horizon.
	Endpoint Policy = iota
	// Uniform evaluates Samples instants spread evenly over (0, horizon].
	Uniform
	// Stepped evaluates every Step from instant+Step up to and including instant+horizon.
	Stepped
)

// maxSamples bounds the instants per evaluation.
const maxSamples = 1440

func (p Policy) String() string {
	switch p {
	case Endpoint:
		return "endpoint"
	case Uniform:
		return "uniform"
	case Stepped:
		return "stepped"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

func (p Policy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Policy) UnmarshalText(b []byte) error {
	v, err := ParsePolicy(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// ParsePolicy parses "endpoint", "uniform" or "stepped".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "endpoint":
		return Endpoint, nil
	case "uniform":
		return Uniform, nil
	case "stepped":
		return Stepped, nil
	}
	return Endpoint, fmt.Errorf("unknown sampling policy %q", s)
}

// Sampling is the horizon sampling policy.
type Sampling struct {
	Policy  Policy        `json:"policy"`
	Samples int           `json:"samples,omitempty"`
	Step    time.Duration `json:"-"`
}

// MarshalJSON reports Step in seconds.
func (s Sampling) MarshalJSON() ([]byte, error) {
	type alias Sampling
	return json.Marshal(struct {
		alias
		StepSeconds float64 `json:"step_seconds,omitempty"`
	}{alias(s), s.Step.Seconds()})
}

// Offsets returns the sample offsets from the evaluation instant, ascending.
// The last offset is always horizon.
func (s Sampling) Offsets(horizon time.Duration) []time.Duration {
	if horizon <= 0 {
		return []time.Duration{0}
	}
	switch s.Policy {
	case Uniform:
		n := s.Samples
		if n < 1 {
			n = 1
		}
		if n > maxSamples {
			n = maxSamples
		}
		out := make([]time.Duration, n)
		for i := range out {
			out[i] = time.Duration(int64(horizon) * int64(i+1) / int64(n))
		}
		return out
	case Stepped:
		if s.Step <= 0 {
			return []time.Duration{horizon}
		}
		step := s.Step
		if horizon/step >= maxSamples {
			step = horizon / (maxSamples - 1)
		}
		var out []time.Duration
		for off := step; off < horizon; off += step {
			out = append(out, off)
		}
		return append(out, horizon)
	default:
		return []time.Duration{horizon}
	}
}
