// Package engine is the simulation driver. It owns the clock, advances it on
// each pulse, pins one catalog per tick and hands the resulting snapshot to the
// registered renderers. Risk evaluation is a separate, explicit call.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/star/orbitwatch/internal/catalog"
	"github.com/star/orbitwatch/internal/clock"
	"github.com/star/orbitwatch/internal/metrics"
	"github.com/star/orbitwatch/internal/risk"
	"github.com/star/orbitwatch/internal/snapshot"
	"github.com/star/orbitwatch/internal/tle"
)

// ErrTickDiscarded is returned when the clock changed generation while a tick
// was being computed. The result is dropped rather than published.
var ErrTickDiscarded = errors.New("engine: tick discarded after clock change")

// ErrRiskBusy is returned when every risk evaluation slot is taken.
var ErrRiskBusy = errors.New("engine: too many concurrent risk evaluations")

// Renderer consumes published snapshots. Render must not block.
type Renderer interface {
	Render(s *snapshot.Snapshot)
}

// Projector turns a catalog and clock reading into a snapshot.
type Projector interface {
	Project(ctx context.Context, c *catalog.Catalog, r clock.Reading) (*snapshot.Snapshot, error)
}

// RiskEvaluator produces collision risk reports.
type RiskEvaluator interface {
	Evaluate(ctx context.Context, c *catalog.Catalog, instant time.Time, horizon time.Duration, opts ...risk.Option) (*risk.Report, error)
}

// Reloader refreshes the catalog from its source.
type Reloader interface {
	Reload(ctx context.Context) (*catalog.LoadReport, error)
}

// Config holds driver cadences.
type Config struct {
	TickEvery    time.Duration // wall-clock time between ticks (default 1s)
	RefreshEvery time.Duration // catalog refresh period; 0 disables
	RiskEvery    time.Duration // periodic risk evaluation; 0 disables
	RiskHorizon  time.Duration // horizon for periodic evaluations (default 1h)
	MaxRisk      int           // concurrent uncached risk evaluations (default 2)
}

type riskKey struct {
	version uint64
	instant time.Time
	horizon time.Duration
	target  string
}

// Engine drives ticks. Safe for concurrent use.
type Engine struct {
	cfg       Config
	clock     *clock.Clock
	store     *catalog.Store
	loader    Reloader
	projector Projector
	estimator RiskEvaluator
	logger    *slog.Logger

	mu          sync.RWMutex
	renderers   []Renderer
	latest      *snapshot.Snapshot
	lastVersion uint64

	riskMu     sync.Mutex
	riskKey    riskKey
	riskReport *risk.Report
	riskSlots  chan struct{}

	reloading  atomic.Bool
	evaluating atomic.Bool
}

// New creates an engine. loader may be nil when the catalog is fed externally.
func New(cfg Config, clk *clock.Clock, store *catalog.Store, loader Reloader, projector Projector, estimator RiskEvaluator, logger *slog.Logger) *Engine {
	if cfg.TickEvery <= 0 {
		cfg.TickEvery = time.Second
	}
	if cfg.RiskHorizon <= 0 {
		cfg.RiskHorizon = time.Hour
	}
	if cfg.MaxRisk <= 0 {
		cfg.MaxRisk = 2
	}
	return &Engine{
		cfg:       cfg,
		clock:     clk,
		store:     store,
		loader:    loader,
		projector: projector,
		estimator: estimator,
		logger:    logger,
		riskSlots: make(chan struct{}, cfg.MaxRisk),
	}
}

// AddRenderer registers r to receive every published snapshot.
func (e *Engine) AddRenderer(r Renderer) {
	e.mu.Lock()
	e.renderers = append(e.renderers, r)
	e.mu.Unlock()
}

// Tick advances the clock one step and publishes the snapshot for the new
// instant.
func (e *Engine) Tick(ctx context.Context) (*snapshot.Snapshot, error) {
	return e.step(ctx, true)
}

// Refresh publishes a snapshot for the current instant without advancing.
func (e *Engine) Refresh(ctx context.Context) (*snapshot.Snapshot, error) {
	return e.step(ctx, false)
}

func (e *Engine) step(ctx context.Context, advance bool) (*snapshot.Snapshot, error) {
	ctx, span := otel.Tracer("orbitwatch/engine").Start(ctx, "engine.Tick")
	defer span.End()
	start := time.Now()

	c := e.store.Current()
	if c == nil {
		metrics.IncTick("no_catalog")
		return nil, catalog.ErrNoCatalog
	}
	e.selectCadence(c)

	var r clock.Reading
	if advance {
		r = e.clock.Tick()
	} else {
		r = e.clock.Now()
	}
	span.SetAttributes(
		attribute.Int64("catalog.version", int64(c.Version)),
		attribute.String("clock.instant", r.Instant.Format(time.RFC3339)),
		attribute.String("clock.mode", r.Mode.String()),
	)

	snap, err := e.projector.Project(ctx, c, r)
	if err != nil {
		metrics.IncTick("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "projection failed")
		return nil, fmt.Errorf("projecting catalog v%d: %w", c.Version, err)
	}
	if !e.clock.Current(r) {
		metrics.IncTick("discarded")
		e.logger.Debug("tick discarded", "generation", r.Generation)
		return nil, ErrTickDiscarded
	}

	e.mu.Lock()
	e.latest = snap
	renderers := e.renderers
	e.mu.Unlock()
	for _, rd := range renderers {
		rd.Render(snap)
	}

	d := time.Since(start)
	metrics.IncTick("ok")
	metrics.ObserveTick(d)
	span.SetAttributes(attribute.Int("snapshot.objects", snap.Len()), attribute.Int("snapshot.failed", snap.Failed))
	e.logger.Debug("tick complete",
		"instant", snap.Instant.Format(time.RFC3339),
		"mode", r.Mode.String(),
		"catalog_version", c.Version,
		"objects", snap.Len(),
		"failed", snap.Failed,
		"duration_ms", d.Milliseconds(),
	)
	return snap, nil
}

// selectCadence re-picks the tick interval whenever a new catalog version is seen.
func (e *Engine) selectCadence(c *catalog.Catalog) {
	e.mu.Lock()
	changed := c.Version != e.lastVersion
	e.lastVersion = c.Version
	e.mu.Unlock()
	if changed {
		e.clock.SelectCadence(c.Len())
	}
}

// Latest returns the most recently published snapshot, or nil.
func (e *Engine) Latest() *snapshot.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.latest
}

// Clock returns the current clock reading.
func (e *Engine) Clock() clock.Reading { return e.clock.Now() }

// Catalog returns the live catalog, or nil before the first load.
func (e *Engine) Catalog() *catalog.Catalog { return e.store.Current() }

// SetOffset changes the manual clock offset. Ticks in flight against the old
// reading are discarded.
func (e *Engine) SetOffset(minutes float64) (clock.Reading, error) {
	return e.clock.SetOffset(minutes)
}

// EvaluateRisk evaluates the catalog that is live at call time at the current
// clock instant. The latest report is cached per catalog version, instant,
// horizon and target.
func (e *Engine) EvaluateRisk(ctx context.Context, horizon time.Duration, target string) (*risk.Report, error) {
	c := e.store.Current()
	if c == nil {
		return nil, catalog.ErrNoCatalog
	}
	r := e.clock.Now()
	key := riskKey{version: c.Version, instant: r.Instant, horizon: horizon, target: target}

	e.riskMu.Lock()
	if e.riskReport != nil && e.riskKey == key {
		rep := e.riskReport
		e.riskMu.Unlock()
		return rep, nil
	}
	e.riskMu.Unlock()

	// Cache misses cost a full pairwise pass; refuse rather than queue.
	select {
	case e.riskSlots <- struct{}{}:
		defer func() { <-e.riskSlots }()
	default:
		metrics.IncRiskRejected()
		return nil, ErrRiskBusy
	}

	var opts []risk.Option
	if target != "" {
		opts = append(opts, risk.WithTarget(target))
	}
	rep, err := e.estimator.Evaluate(ctx, c, r.Instant, horizon, opts...)
	if err != nil {
		return nil, err
	}

	e.riskMu.Lock()
	e.riskKey, e.riskReport = key, rep
	e.riskMu.Unlock()
	return rep, nil
}

// LatestRisk returns the most recent risk report, or nil.
func (e *Engine) LatestRisk() *risk.Report {
	e.riskMu.Lock()
	defer e.riskMu.Unlock()
	return e.riskReport
}

// AddUserObject merges a user-entered element pair into the live catalog.
func (e *Engine) AddUserObject(name, line1, line2 string) (tle.ElementSet, error) {
	set, c, err := e.store.AddUserObject(name, line1, line2)
	if err != nil {
		return tle.ElementSet{}, err
	}
	metrics.SetCatalog(c.Len(), c.Version)
	e.logger.Info("user object added", "object_id", set.ID, "catalog_version", c.Version)
	return set, nil
}

// Reload refreshes the catalog from the configured source.
func (e *Engine) Reload(ctx context.Context) (*catalog.LoadReport, error) {
	if e.loader == nil {
		return nil, fmt.Errorf("%w: no catalog source configured", catalog.ErrUnavailable)
	}
	if !e.reloading.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("%w: reload already in progress", catalog.ErrUnavailable)
	}
	defer e.reloading.Store(false)

	rep, err := e.loader.Reload(ctx)
	if err != nil {
		e.logger.Warn("catalog reload failed", "error", err)
		return nil, err
	}
	e.logger.Info("catalog reloaded",
		"catalog_version", rep.Catalog.Version,
		"objects", rep.Catalog.Len(),
		"parse_errors", len(rep.Errors),
	)
	return rep, nil
}

// Run ticks on a wall-clock ticker until ctx is canceled. Catalog refresh and
// periodic risk evaluation run in the background so that a slow source never
// delays a tick.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.TickEvery)
	defer ticker.Stop()

	refresh := newOptionalTicker(e.cfg.RefreshEvery)
	defer refresh.stop()
	riskTick := newOptionalTicker(e.cfg.RiskEvery)
	defer riskTick.stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	e.logger.Info("engine started",
		"tick_every", e.cfg.TickEvery.String(),
		"refresh_every", e.cfg.RefreshEvery.String(),
		"risk_every", e.cfg.RiskEvery.String(),
	)
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine stopped")
			return ctx.Err()

		case <-ticker.C:
			if _, err := e.Tick(ctx); err != nil {
				e.logTickError(err)
			}
			if age := e.store.AgeSeconds(time.Now()); age >= 0 {
				metrics.SetCatalogAge(age)
			}

		case <-refresh.c:
			if e.reloading.Load() {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				e.Reload(ctx)
			}()

		case <-riskTick.c:
			if !e.evaluating.CompareAndSwap(false, true) {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer e.evaluating.Store(false)
				if _, err := e.EvaluateRisk(ctx, e.cfg.RiskHorizon, ""); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrRiskBusy) {
					e.logger.Warn("periodic risk evaluation failed", "error", err)
				}
			}()
		}
	}
}

func (e *Engine) logTickError(err error) {
	switch {
	case errors.Is(err, catalog.ErrNoCatalog), errors.Is(err, ErrTickDiscarded), errors.Is(err, context.Canceled):
		e.logger.Debug("tick skipped", "reason", err)
	default:
		e.logger.Warn("tick failed", "error", err)
	}
}

// optionalTicker is a ticker whose channel never fires when disabled.
type optionalTicker struct {
	t *time.Ticker
	c <-chan time.Time
}

func newOptionalTicker(d time.Duration) optionalTicker {
	if d <= 0 {
		return optionalTicker{}
	}
	t := time.NewTicker(d)
	return optionalTicker{t: t, c: t.C}
}

func (o optionalTicker) stop() {
	if o.t != nil {
		o.t.Stop()
	}
}
