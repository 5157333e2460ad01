package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/star/orbitwatch/internal/metrics"
	"github.com/star/orbitwatch/internal/tle"
)

// Source supplies raw element-set text. Implementations own their own retry
// policy; the loader calls Fetch once per reload.
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// LoadReport is the outcome of one load: the published catalog plus every
// record that was skipped.
type LoadReport struct {
	Catalog *Catalog
	Errors  []*tle.ParseError
}

// Loader moves raw text from a Source through the parser into a Store.
type Loader struct {
	name   string
	source Source
	cache  *tle.Cache
	store  *Store
	opts   tle.Options
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex // serializes reloads
}

// NewLoader wires a Source to a Store. cache may be nil.
func NewLoader(name string, source Source, cache *tle.Cache, store *Store, opts tle.Options, logger *slog.Logger) *Loader {
	return &Loader{
		name:   name,
		source: source,
		cache:  cache,
		store:  store,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// Reload fetches a fresh catalog and publishes it. A Source failure or a
// response with no usable records leaves the current catalog in place and
// returns an error wrapping ErrUnavailable.
func (l *Loader) Reload(ctx context.Context) (*LoadReport, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ctx, span := otel.Tracer("orbitwatch/catalog").Start(ctx, "catalog.Reload")
	defer span.End()
	span.SetAttributes(attribute.String("catalog.source", l.name))

	data, err := l.source.Fetch(ctx)
	if err != nil {
		metrics.IncCatalogReload("unavailable")
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	fetchedAt := l.now().UTC()
	report, err := l.load(data, l.name, fetchedAt)
	if err != nil {
		metrics.IncCatalogReload("empty")
		span.RecordError(err)
		span.SetStatus(codes.Error, "no records")
		return nil, err
	}
	metrics.IncCatalogReload("ok")
	span.SetAttributes(
		attribute.Int("catalog.objects", report.Catalog.Len()),
		attribute.Int("catalog.parse_errors", len(report.Errors)),
		attribute.Int64("catalog.version", int64(report.Catalog.Version)),
	)

	if l.cache != nil {
		if err := l.cache.Write(data, fetchedAt); err != nil {
			l.logger.Warn("failed to write catalog cache", "error", err)
		}
	}
	return report, nil
}

// LoadCached seeds the store from the newest on-disk snapshot.
func (l *Loader) LoadCached() (*LoadReport, error) {
	if l.cache == nil {
		return nil, tle.ErrNoCache
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	data, ts, err := l.cache.LoadLatest()
	if err != nil {
		return nil, err
	}
	return l.load(data, "cache", ts)
}

func (l *Loader) load(data []byte, source string, at time.Time) (*LoadReport, error) {
	res, err := tle.Parse(bytes.NewReader(data), l.opts, l.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if len(res.Sets) == 0 {
		return nil, fmt.Errorf("%w: %s returned no parsable records (%d skipped)", ErrUnavailable, source, len(res.Errors))
	}

	c, dups := l.store.Replace(source, at, res.Sets)
	errs := append(res.Errors, dups...)
	for _, d := range dups {
		l.logger.Warn("dropping duplicate catalog object", "name", d.Name, "error", d.Err)
	}

	metrics.SetCatalog(c.Len(), c.Version)
	metrics.AddParseErrors(len(errs))
	l.logger.Info("catalog loaded",
		"source", source,
		"version", c.Version,
		"objects", c.Len(),
		"skipped", len(errs),
		"epoch_min", c.EpochRange().Min.Format(time.RFC3339),
		"epoch_max", c.EpochRange().Max.Format(time.RFC3339),
	)
	return &LoadReport{Catalog: c, Errors: errs}, nil
}

// IsUnavailable reports whether err came from a failed Source.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
