package propagation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/star/orbitwatch/internal/catalog"
	"github.com/star/orbitwatch/internal/metrics"
	"github.com/star/orbitwatch/internal/tle"
)

// Config holds propagation settings.
type Config struct {
	Workers int // worker pool size (default runtime.NumCPU())
}

// modelSet holds initialised models for one catalog version, aligned with the
// catalog's identity order. Immutable after construction.
type modelSet struct {
	version  uint64
	ids      []string
	models   []*Model
	initErrs []error
	index    map[string]int
}

func (ms *modelSet) propagate(i int, at time.Time) Result {
	if ms.models[i] == nil {
		return Result{ID: ms.ids[i], Err: ms.initErrs[i]}
	}
	st, err := ms.models[i].Propagate(at)
	return Result{ID: ms.ids[i], State: st, Err: err}
}

// modelCaches keeps the two most recent catalog versions so that a risk
// evaluation pinned to an older catalog does not thrash the cache used by ticks.
type modelCaches struct {
	current, previous *modelSet
}

func (mc *modelCaches) lookup(version uint64) *modelSet {
	if mc == nil {
		return nil
	}
	if mc.current != nil && mc.current.version == version {
		return mc.current
	}
	if mc.previous != nil && mc.previous.version == version {
		return mc.previous
	}
	return nil
}

// Propagator turns catalogs into per-instant state vectors using a shared
// worker pool and a model cache keyed by catalog version.
type Propagator struct {
	pool   *WorkerPool
	logger *slog.Logger
	caches atomic.Pointer[modelCaches]
	mu     sync.Mutex // serializes cache rebuilds
}

// NewPropagator creates a propagator backed by a pool of cfg.Workers goroutines.
func NewPropagator(cfg Config, logger *slog.Logger) *Propagator {
	metrics.SetPropagationWorkers(cfg.Workers)
	return &Propagator{
		pool:   NewWorkerPool(cfg.Workers, logger),
		logger: logger,
	}
}

// Workers returns the worker pool size.
func (p *Propagator) Workers() int { return p.pool.Workers() }

// models returns initialised models for c, building them on first use
// (double-checked locking).
func (p *Propagator) models(c *catalog.Catalog) *modelSet {
	if ms := p.caches.Load().lookup(c.Version); ms != nil {
		return ms
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	cur := p.caches.Load()
	if ms := cur.lookup(c.Version); ms != nil {
		return ms
	}

	entries := c.Entries()
	ms := &modelSet{
		version:  c.Version,
		ids:      make([]string, len(entries)),
		models:   make([]*Model, len(entries)),
		initErrs: make([]error, len(entries)),
		index:    make(map[string]int, len(entries)),
	}
	var skipped, deep int
	for i, set := range entries {
		ms.ids[i] = set.ID
		ms.index[set.ID] = i
		m, err := New(set)
		if err != nil {
			p.logger.Warn("model init failed", "object_id", set.ID, "error", err)
			ms.initErrs[i] = err
			skipped++
			continue
		}
		if m.DeepSpace() {
			deep++
		}
		ms.models[i] = m
	}

	next := &modelCaches{current: ms}
	if cur != nil {
		if cur.current != nil && cur.current.version < ms.version {
			next.previous = cur.current
		} else if cur.current != nil {
			// An older catalog was requested; keep the newest as current.
			next.current, next.previous = cur.current, ms
		}
	}
	p.caches.Store(next)

	p.logger.Info("propagation model cache rebuilt",
		"catalog_version", c.Version,
		"models", len(entries)-skipped,
		"deep_space", deep,
		"skipped", skipped,
	)
	return ms
}

// PropagateAll propagates every catalog entry to at. The result slice is in
// catalog identity order and has one element per entry; failures carry Err.
func (p *Propagator) PropagateAll(ctx context.Context, c *catalog.Catalog, at time.Time) ([]Result, error) {
	if c == nil {
		return nil, catalog.ErrNoCatalog
	}
	ms := p.models(c)

	start := time.Now()
	results, err := p.pool.PropagateBatch(ctx, ms, at)
	if err != nil {
		return nil, err
	}
	metrics.ObservePropagationBatch(time.Since(start))

	var failed int
	for _, r := range results {
		if r.Err != nil {
			failed++
			metrics.IncPropagationError(CodeOf(r.Err).String())
			p.logger.Warn("propagation failed", "object_id", r.ID, "error", r.Err)
		}
	}
	p.logger.Debug("propagation complete",
		"catalog_version", c.Version,
		"instant", at.UTC().Format(time.RFC3339),
		"success", len(results)-failed,
		"errors", failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return results, nil
}

// Propagate propagates one element set, reusing a cached model when the set
// belongs to a cached catalog.
func (p *Propagator) Propagate(set tle.ElementSet, at time.Time) (State, error) {
	if mc := p.caches.Load(); mc != nil {
		for _, ms := range []*modelSet{mc.current, mc.previous} {
			if ms == nil {
				continue
			}
			if i, ok := ms.index[set.ID]; ok && ms.models[i] != nil && sameElements(ms.models[i].set, set) {
				return ms.models[i].Propagate(at)
			}
		}
	}
	return Propagate(set, at)
}

// PropagateID propagates a single catalog entry by identity.
func (p *Propagator) PropagateID(c *catalog.Catalog, id string, at time.Time) (State, error) {
	if c == nil {
		return State{}, catalog.ErrNoCatalog
	}
	ms := p.models(c)
	i, ok := ms.index[id]
	if !ok {
		return State{}, fmt.Errorf("object %q not in catalog version %d", id, c.Version)
	}
	r := ms.propagate(i, at)
	return r.State, r.Err
}

func sameElements(a, b tle.ElementSet) bool {
	return a.ID == b.ID && a.Epoch.Equal(b.Epoch) && a.Line1 == b.Line1 && a.Line2 == b.Line2
}
