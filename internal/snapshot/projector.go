// Package snapshot assembles the per-tick geographic view of the catalog for
// the scene renderer.
package snapshot

import (
	"context"
	"log/slog"
	"time"

	"github.com/star/orbitwatch/internal/catalog"
	"github.com/star/orbitwatch/internal/clock"
	"github.com/star/orbitwatch/internal/metrics"
	"github.com/star/orbitwatch/internal/propagation"
	"github.com/star/orbitwatch/internal/tle"
	"github.com/star/orbitwatch/internal/transform"
)

// Record is one object's geographic position at the snapshot instant.
type Record struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Class     tle.Classification `json:"classification"`
	Lat       float64            `json:"lat"`
	Lon       float64            `json:"lon"`
	Alt       float64            `json:"alt"` // altitude / Earth mean radius
	AltKm     float64            `json:"alt_km"`
	Timestamp time.Time          `json:"timestamp"`
}

// Snapshot is an immutable, identity-ordered projection of one catalog at one
// clock reading. Objects that failed to propagate or transform are omitted.
type Snapshot struct {
	Instant        time.Time  `json:"instant"`
	Mode           clock.Mode `json:"mode"`
	Generation     uint64     `json:"generation"`
	CatalogVersion uint64     `json:"catalog_version"`
	Records        []Record   `json:"records"`
	Failed         int        `json:"failed"`
}

// Propagator is the subset of propagation.Propagator the projector needs.
type Propagator interface {
	PropagateAll(ctx context.Context, c *catalog.Catalog, at time.Time) ([]propagation.Result, error)
}

// Projector runs propagation and the frame transform over a catalog.
type Projector struct {
	prop   Propagator
	logger *slog.Logger
}

func NewProjector(prop Propagator, logger *slog.Logger) *Projector {
	return &Projector{prop: prop, logger: logger}
}

// Project builds the snapshot of c at r.Instant.
func (p *Projector) Project(ctx context.Context, c *catalog.Catalog, r clock.Reading) (*Snapshot, error) {
	if c == nil {
		return nil, catalog.ErrNoCatalog
	}
	at := r.Instant.UTC()
	results, err := p.prop.PropagateAll(ctx, c, at)
	if err != nil {
		return nil, err
	}

	entries := c.Entries()
	gmst := transform.GMST(at)
	snap := &Snapshot{
		Instant:        at,
		Mode:           r.Mode,
		Generation:     r.Generation,
		CatalogVersion: c.Version,
		Records:        make([]Record, 0, len(results)),
	}
	for i, res := range results {
		if res.Err != nil {
			snap.Failed++
			continue
		}
		geo, err := transform.ToGeodeticWithGMST(res.State.PositionTEME, gmst)
		if err != nil {
			snap.Failed++
			p.logger.Warn("geodetic transform failed", "object_id", res.ID, "error", err)
			continue
		}
		set := entries[i]
		if set.ID != res.ID {
			set, _ = c.Get(res.ID)
		}
		snap.Records = append(snap.Records, Record{
			ID:        res.ID,
			Name:      set.Name,
			Class:     set.Class,
			Lat:       geo.LatDeg,
			Lon:       geo.LonDeg,
			Alt:       geo.AltNorm,
			AltKm:     geo.AltKm,
			Timestamp: at,
		})
	}

	metrics.SetSnapshotObjects(len(snap.Records))
	return snap, nil
}

// Len returns the number of records; a nil snapshot is empty.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Records)
}
