// Package cache keeps a rolling window of published snapshots.
//
// The history is fed by the engine after every tick and serves the most
// recent snapshots to HTTP readers and stream subscribers. When the catalog
// version changes, the window is cut over: snapshots projected from the
// previous catalog are dropped so readers never mix the two.
package cache

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/star/orbitwatch/internal/metrics"
	"github.com/star/orbitwatch/internal/snapshot"
)

// Config holds history configuration.
type Config struct {
	Size int // snapshots retained (default 120)
}

// History is a fixed-size ring of snapshots, oldest overwritten first.
// Safe for concurrent use by multiple goroutines.
type History struct {
	mu      sync.RWMutex
	ring    []*snapshot.Snapshot
	next    int // ring index of the next write
	count   int
	version uint64 // catalog version of the snapshots in the ring

	subsMu sync.Mutex
	subs   map[int]chan *snapshot.Snapshot
	nextID int

	logger *slog.Logger

	// Counters (lock-free).
	hits     atomic.Int64
	misses   atomic.Int64
	cutovers atomic.Int64
	dropped  atomic.Int64
}

// NewHistory creates an empty history.
func NewHistory(config Config, logger *slog.Logger) *History {
	if config.Size <= 0 {
		config.Size = 120
	}
	logger.Info("history initialized", "size", config.Size)
	return &History{
		ring:   make([]*snapshot.Snapshot, config.Size),
		subs:   make(map[int]chan *snapshot.Snapshot),
		logger: logger,
	}
}

// Render records s and forwards it to subscribers. It never blocks.
func (h *History) Render(s *snapshot.Snapshot) {
	if s == nil {
		return
	}
	h.mu.Lock()
	if h.count > 0 && s.CatalogVersion != h.version {
		h.cutoverLocked(s.CatalogVersion)
	}
	h.version = s.CatalogVersion
	h.ring[h.next] = s
	h.next = (h.next + 1) % len(h.ring)
	if h.count < len(h.ring) {
		h.count++
	}
	n := h.count
	h.mu.Unlock()

	metrics.SetHistoryEntries(n)
	h.broadcast(s)
}

// Latest returns the most recent snapshot, or nil when empty.
func (h *History) Latest() *snapshot.Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.count == 0 {
		h.miss()
		return nil
	}
	h.hit()
	return h.ring[(h.next-1+len(h.ring))%len(h.ring)]
}

// At returns the newest snapshot whose instant is not after t.
func (h *History) At(t time.Time) *snapshot.Snapshot {
	snaps := h.Recent(0)
	// Instants are not monotonic under manual offsets, so search by value.
	var best *snapshot.Snapshot
	for _, s := range snaps {
		if s.Instant.After(t) {
			continue
		}
		if best == nil || !s.Instant.Before(best.Instant) {
			best = s
		}
	}
	if best == nil {
		h.miss()
		return nil
	}
	h.hit()
	return best
}

// Recent returns up to n snapshots in publication order, oldest first.
// n <= 0 returns the whole window.
func (h *History) Recent(n int) []*snapshot.Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n <= 0 || n > h.count {
		n = h.count
	}
	out := make([]*snapshot.Snapshot, 0, n)
	for i := n; i > 0; i-- {
		out = append(out, h.ring[(h.next-i+len(h.ring))%len(h.ring)])
	}
	return out
}

// Stats holds history statistics for the stats endpoint.
type Stats struct {
	Entries         int       `json:"entries"`
	Capacity        int       `json:"capacity"`
	CatalogVersion  uint64    `json:"catalog_version"`
	OldestInstant   time.Time `json:"oldest_instant"`
	NewestInstant   time.Time `json:"newest_instant"`
	Hits            int64     `json:"hits"`
	Misses          int64     `json:"misses"`
	Cutovers        int64     `json:"cutovers"`
	DroppedMessages int64     `json:"dropped_messages"`
	Subscribers     int       `json:"subscribers"`
}

// Stats returns current history statistics.
func (h *History) Stats() Stats {
	snaps := h.Recent(0)
	instants := make([]time.Time, len(snaps))
	for i, s := range snaps {
		instants[i] = s.Instant
	}
	sort.Slice(instants, func(i, j int) bool { return instants[i].Before(instants[j]) })

	h.mu.RLock()
	st := Stats{
		Entries:        h.count,
		Capacity:       len(h.ring),
		CatalogVersion: h.version,
	}
	h.mu.RUnlock()

	if len(instants) > 0 {
		st.OldestInstant = instants[0]
		st.NewestInstant = instants[len(instants)-1]
	}
	st.Hits = h.hits.Load()
	st.Misses = h.misses.Load()
	st.Cutovers = h.cutovers.Load()
	st.DroppedMessages = h.dropped.Load()

	h.subsMu.Lock()
	st.Subscribers = len(h.subs)
	h.subsMu.Unlock()
	return st
}

func (h *History) hit() {
	h.hits.Add(1)
	metrics.IncHistoryLookup("hit")
}

func (h *History) miss() {
	h.misses.Add(1)
	metrics.IncHistoryLookup("miss")
}
