package risk

import (
	"sort"
	"time"
)

// Duration marshals as a Go duration string ("1h0m0s").
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Pair is the assessment of one unordered object pair. IDA sorts before IDB.
type Pair struct {
	IDA        string    `json:"idA"`
	IDB        string    `json:"idB"`
	DistanceKm float64   `json:"distance_km"` // minimum sampled separation
	Score      int       `json:"riskScore"`
	Tier       Tier      `json:"riskTier"` // tier of DistanceKm
	ClosestAt  time.Time `json:"closestAt"`
}

// Report is the outcome of one evaluation. It is immutable once returned.
type Report struct {
	ID                string    `json:"id"`
	EvaluationInstant time.Time `json:"evaluationInstant"`
	Horizon           Duration  `json:"horizon"`
	Sampling          Sampling  `json:"sampling"`
	Target            string    `json:"target,omitempty"`
	CatalogVersion    uint64    `json:"catalogVersion"`
	PairsEvaluated    int       `json:"pairsEvaluated"`
	Pairs             []Pair    `json:"pairs"`
	Excluded          []string  `json:"excluded,omitempty"` // objects that failed to propagate at some sample
}

// Score returns the score for the unordered pair {a, b}.
func (r *Report) Score(a, b string) (int, bool) {
	p, ok := r.Pair(a, b)
	return p.Score, ok
}

// Pair looks up the assessment for the unordered pair {a, b}.
func (r *Report) Pair(a, b string) (Pair, bool) {
	if a > b {
		a, b = b, a
	}
	for _, p := range r.Pairs {
		if p.IDA == a && p.IDB == b {
			return p, true
		}
	}
	return Pair{}, false
}

// CountByTier tallies the reported pairs per tier.
func (r *Report) CountByTier() map[Tier]int {
	out := make(map[Tier]int, len(Tiers))
	for _, t := range Tiers {
		out[t] = 0
	}
	for _, p := range r.Pairs {
		out[p.Tier]++
	}
	return out
}

func sortPairs(ps []Pair) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].Score != ps[j].Score {
			return ps[i].Score > ps[j].Score
		}
		if ps[i].IDA != ps[j].IDA {
			return ps[i].IDA < ps[j].IDA
		}
		return ps[i].IDB < ps[j].IDB
	})
}
