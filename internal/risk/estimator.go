// Package risk estimates close-approach risk between catalog objects over a
// future horizon.
//
// Every object is propagated once per sample instant; the pairwise stage then
// reads the shared positions. Pairs are split into row batches that run in
// parallel, and the final report is ordered by score, not completion order.
package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/star/orbitwatch/internal/catalog"
	"github.com/star/orbitwatch/internal/metrics"
	"github.com/star/orbitwatch/internal/propagation"
)

var (
	ErrHorizon       = errors.New("risk: horizon must not be negative")
	ErrUnknownTarget = errors.New("risk: target not in catalog")
)

// Propagator is the subset of propagation.Propagator the estimator needs.
type Propagator interface {
	PropagateAll(ctx context.Context, c *catalog.Catalog, at time.Time) ([]propagation.Result, error)
}

// Config holds estimator settings.
type Config struct {
	Sampling    Sampling
	Target      string  // when set, only pairs involving this object are evaluated
	ZThreshold  float64 // km; samples with |Δz| above this are skipped (0 disables)
	BatchSize   int     // approximate pairs per batch (default 4096)
	Workers     int     // concurrent batches (default runtime.NumCPU())
	IncludeNone bool    // report pairs that scored zero
}

// Option adjusts the Config for a single evaluation.
type Option func(*Config)

// WithTarget restricts an evaluation to pairs involving id.
func WithTarget(id string) Option { return func(c *Config) { c.Target = id } }

// WithSampling overrides the sampling policy for an evaluation.
func WithSampling(s Sampling) Option { return func(c *Config) { c.Sampling = s } }

// Estimator evaluates pairwise risk over a catalog snapshot.
type Estimator struct {
	prop   Propagator
	cfg    Config
	logger *slog.Logger
	newID  func() string
}

// NewEstimator creates an estimator.
func NewEstimator(prop Propagator, cfg Config, logger *slog.Logger) *Estimator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 4096
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	return &Estimator{
		prop:   prop,
		cfg:    cfg,
		logger: logger,
		newID:  func() string { return uuid.NewString() },
	}
}

// Config returns the estimator's default settings.
func (e *Estimator) Config() Config { return e.cfg }

// vec is an inertial position in km.
type vec struct{ x, y, z float64 }

// samples holds every object's position at every sample instant.
type samples struct {
	at     []time.Time
	pos    [][]vec // [sample][object]
	failed []bool  // [object]
}

// batch is a contiguous range of pair rows. In row mode it covers pairs
// (i, j>i) for i in [lo, hi). In target mode it covers (target, j) for j in [lo, hi).
type batch struct {
	target int
	lo, hi int
}

// Evaluate assesses every unordered pair in c between instant and
// instant+horizon. The catalog pointer is the only catalog consulted, so a
// concurrent reload does not affect the result.
func (e *Estimator) Evaluate(ctx context.Context, c *catalog.Catalog, instant time.Time, horizon time.Duration, opts ...Option) (*Report, error) {
	cfg := e.cfg
	for _, o := range opts {
		o(&cfg)
	}
	if c == nil {
		return nil, catalog.ErrNoCatalog
	}
	if horizon < 0 {
		return nil, fmt.Errorf("%w: %v", ErrHorizon, horizon)
	}

	ctx, span := otel.Tracer("orbitwatch/risk").Start(ctx, "risk.Evaluate")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("catalog.version", int64(c.Version)),
		attribute.Int("catalog.objects", c.Len()),
		attribute.String("risk.horizon", horizon.String()),
		attribute.String("risk.sampling", cfg.Sampling.Policy.String()),
	)

	start := time.Now()
	instant = instant.UTC()
	ids := c.IDs()

	target := -1
	if cfg.Target != "" {
		for i, id := range ids {
			if id == cfg.Target {
				target = i
				break
			}
		}
		if target < 0 {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTarget, cfg.Target)
		}
	}

	s, err := e.sample(ctx, c, instant, cfg.Sampling.Offsets(horizon))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "propagation failed")
		return nil, err
	}

	batches := planBatches(len(ids), target, cfg.BatchSize)
	results := make([][]Pair, len(batches))
	counts := make([]int, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for bi, b := range batches {
		g.Go(func() error {
			pairs, n, err := evalBatch(gctx, b, ids, s, cfg)
			if err != nil {
				return err
			}
			results[bi], counts[bi] = pairs, n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "evaluation canceled")
		return nil, err
	}

	report := &Report{
		ID:                e.newID(),
		EvaluationInstant: instant,
		Horizon:           Duration(horizon),
		Sampling:          cfg.Sampling,
		Target:            cfg.Target,
		CatalogVersion:    c.Version,
		Pairs:             []Pair{},
	}
	for bi := range batches {
		report.Pairs = append(report.Pairs, results[bi]...)
		report.PairsEvaluated += counts[bi]
	}
	for i, f := range s.failed {
		if f {
			report.Excluded = append(report.Excluded, ids[i])
		}
	}
	sortPairs(report.Pairs)

	duration := time.Since(start)
	metrics.ObserveRiskEvaluation(duration)
	metrics.AddRiskPairs(report.PairsEvaluated)
	for t, n := range report.CountByTier() {
		metrics.SetRiskPairsByTier(t.String(), n)
	}
	span.SetAttributes(
		attribute.Int("risk.pairs_evaluated", report.PairsEvaluated),
		attribute.Int("risk.pairs_reported", len(report.Pairs)),
		attribute.Int("risk.excluded", len(report.Excluded)),
	)

	e.logger.Info("risk evaluation complete",
		"report_id", report.ID,
		"catalog_version", c.Version,
		"instant", instant.Format(time.RFC3339),
		"horizon", horizon.String(),
		"samples", len(s.at),
		"batches", len(batches),
		"pairs_evaluated", report.PairsEvaluated,
		"pairs_reported", len(report.Pairs),
		"excluded", len(report.Excluded),
		"duration_ms", duration.Milliseconds(),
	)
	return report, nil
}

// sample propagates every object once per offset. An object that fails at any
// sample is marked failed and excluded from all pairs.
func (e *Estimator) sample(ctx context.Context, c *catalog.Catalog, instant time.Time, offsets []time.Duration) (*samples, error) {
	s := &samples{
		at:     make([]time.Time, len(offsets)),
		pos:    make([][]vec, len(offsets)),
		failed: make([]bool, c.Len()),
	}
	for k, off := range offsets {
		at := instant.Add(off)
		results, err := e.prop.PropagateAll(ctx, c, at)
		if err != nil {
			return nil, fmt.Errorf("propagating catalog at %s: %w", at.Format(time.RFC3339), err)
		}
		s.at[k] = at
		s.pos[k] = make([]vec, len(results))
		for i, r := range results {
			if r.Err != nil {
				s.failed[i] = true
				continue
			}
			s.pos[k][i] = vec{r.State.X, r.State.Y, r.State.Z}
		}
	}
	return s, nil
}

// planBatches splits the pair space into batches of roughly size pairs.
func planBatches(n, target, size int) []batch {
	if n < 2 {
		return nil
	}
	var out []batch
	if target >= 0 {
		for lo := 0; lo < n; lo += size {
			out = append(out, batch{target: target, lo: lo, hi: min(lo+size, n)})
		}
		return out
	}
	lo, pairs := 0, 0
	for i := 0; i < n-1; i++ {
		pairs += n - 1 - i
		if pairs >= size {
			out = append(out, batch{target: -1, lo: lo, hi: i + 1})
			lo, pairs = i+1, 0
		}
	}
	if lo < n-1 {
		out = append(out, batch{target: -1, lo: lo, hi: n - 1})
	}
	return out
}

func evalBatch(ctx context.Context, b batch, ids []string, s *samples, cfg Config) ([]Pair, int, error) {
	var out []Pair
	evaluated := 0
	emit := func(i, j int) {
		if s.failed[i] || s.failed[j] {
			return
		}
		p, ok := assess(i, j, s, cfg.ZThreshold)
		if !ok {
			return
		}
		evaluated++
		if p.Score == 0 && !cfg.IncludeNone {
			return
		}
		if ids[i] < ids[j] {
			p.IDA, p.IDB = ids[i], ids[j]
		} else {
			p.IDA, p.IDB = ids[j], ids[i]
		}
		out = append(out, p)
	}

	if b.target >= 0 {
		for j := b.lo; j < b.hi; j++ {
			if j != b.target {
				emit(b.target, j)
			}
		}
		return out, evaluated, ctx.Err()
	}
	for i := b.lo; i < b.hi; i++ {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		for j := i + 1; j < len(ids); j++ {
			emit(i, j)
		}
	}
	return out, evaluated, nil
}

// assess sums tier contributions over the samples of one pair. ok is false
// when every sample was skipped by the Z filter.
func assess(i, j int, s *samples, zThreshold float64) (Pair, bool) {
	p := Pair{DistanceKm: math.Inf(1)}
	sampled := false
	for k := range s.at {
		a, b := s.pos[k][i], s.pos[k][j]
		dz := a.z - b.z
		if zThreshold > 0 && math.Abs(dz) > zThreshold {
			continue
		}
		dx, dy := a.x-b.x, a.y-b.y
		d := math.Sqrt(dx*dx + dy*dy + dz*dz)
		sampled = true
		p.Score += Classify(d).Contribution()
		if d < p.DistanceKm {
			p.DistanceKm = d
			p.ClosestAt = s.at[k]
		}
	}
	if !sampled {
		return Pair{}, false
	}
	p.Score = min(p.Score, MaxScore)
	p.Tier = Classify(p.DistanceKm)
	return p, true
}
