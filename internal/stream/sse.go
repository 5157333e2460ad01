// Package stream implements Server-Sent Events (SSE) streaming of simulation
// snapshots. Clients connect via GET /api/v1/stream/snapshots and receive the
// latest published snapshot at most once per coalescing interval.
//
// SSE message format:
//
//	data: {"type":"snapshot","t":"2024-04-09T12:00:00Z","mode":"auto","generation":0,"catalog_version":3,"records":[...]}\n\n
//
// First message is always metadata:
//
//	data: {"type":"metadata","catalog_version":3,"catalog_source":"celestrak","catalog_age_seconds":1800,...}\n\n
//
// Keep-alive comments (:\n\n) are sent every KeepaliveInterval to prevent timeout.
// Reconnecting clients receive a fresh metadata message on each connection.
package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/star/orbitwatch/internal/catalog"
	"github.com/star/orbitwatch/internal/clock"
	"github.com/star/orbitwatch/internal/httputil"
	"github.com/star/orbitwatch/internal/metrics"
	"github.com/star/orbitwatch/internal/snapshot"
	"github.com/star/orbitwatch/internal/tle"
)

// Config holds streaming configuration.
type Config struct {
	MaxConcurrentPerIP int           // Max concurrent streams per IP (default: 10).
	MaxTotal           int           // Global stream cap (default: 1000).
	BandwidthLimit     int           // Bytes per second per stream (default: 1048576).
	KeepaliveInterval  time.Duration // Keep-alive ping interval (default: 30s).
	TrustProxy         bool          // Honour X-Forwarded-For when limiting per IP.
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentPerIP <= 0 {
		c.MaxConcurrentPerIP = 10
	}
	if c.MaxTotal <= 0 {
		c.MaxTotal = 1000
	}
	if c.BandwidthLimit <= 0 {
		c.BandwidthLimit = 1048576
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = 30 * time.Second
	}
	return c
}

// Source supplies published snapshots.
type Source interface {
	Subscribe() (<-chan *snapshot.Snapshot, func())
	Latest() *snapshot.Snapshot
}

// Status reports the live catalog and clock for the metadata message.
type Status interface {
	Catalog() *catalog.Catalog
	Clock() clock.Reading
}

// Handler manages SSE streaming connections.
type Handler struct {
	source  Source
	status  Status
	config  Config
	limiter *connLimiter
	logger  *slog.Logger
}

// NewHandler creates a new streaming handler.
func NewHandler(source Source, status Status, config Config, logger *slog.Logger) *Handler {
	config = config.withDefaults()
	return &Handler{
		source:  source,
		status:  status,
		config:  config,
		limiter: newConnLimiter(config.MaxConcurrentPerIP, config.MaxTotal),
		logger:  logger,
	}
}

// Active returns the number of open streams.
func (h *Handler) Active() int {
	_, total := h.limiter.usage("")
	return total
}

// HandleSnapshots serves the SSE snapshot stream.
// GET /api/v1/stream/snapshots?every=1&class=debris
func (h *Handler) HandleSnapshots(w http.ResponseWriter, r *http.Request) {
	every := 1
	if v := r.URL.Query().Get("every"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 60 {
			writeError(w, http.StatusBadRequest, "invalid every parameter, must be 1-60")
			return
		}
		every = n
	}

	var class *tle.Classification
	if v := r.URL.Query().Get("class"); v != "" {
		c, err := tle.ParseClassification(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid class parameter, must be catalog, user_added or debris")
			return
		}
		class = &c
	}

	ip := httputil.ClientIP(r, h.config.TrustProxy)
	release, err := h.limiter.acquire(ip)
	if err != nil {
		forIP, total := h.limiter.usage(ip)
		metrics.IncStreamRejected(rejectReason(err))
		h.logger.Warn("stream rejected",
			"remote_ip", ip,
			"reason", err.Error(),
			"client_streams", forIP,
			"total_streams", total,
		)
		w.Header().Set("Retry-After", "30")
		writeError(w, http.StatusTooManyRequests, "too many concurrent streams")
		return
	}

	metrics.IncStreamConnections()
	startTime := time.Now()
	h.logger.Info("stream connected",
		"remote_ip", ip,
		"user_agent", r.Header.Get("User-Agent"),
		"every", every,
	)

	defer func() {
		release()
		metrics.DecStreamConnections()
		h.logger.Info("stream disconnected",
			"remote_ip", ip,
			"duration_seconds", int(time.Since(startTime).Seconds()),
		)
	}()

	flusher, ok := w.(http.Flusher)
	if !ok {
		metrics.IncStreamRejected("no_flusher")
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	updates, unsubscribe := h.source.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Clear the server's default WriteTimeout for this connection.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("could not clear write deadline", "error", err)
	}

	burst := h.config.BandwidthLimit
	c := &client{
		w:       w,
		flusher: flusher,
		rc:      rc,
		limiter: rate.NewLimiter(rate.Limit(h.config.BandwidthLimit), burst),
		ip:      ip,
		logger:  h.logger,
	}
	ctx := r.Context()

	// Jittered retry interval (3-7s) spreads reconnects after a restart.
	retryMs := 3000 + rand.Intn(4000)
	fmt.Fprintf(w, "retry: %d\n\n", retryMs)
	flusher.Flush()

	if err := c.sendJSON(ctx, h.metadata()); err != nil {
		h.logger.Warn("stream send error (metadata)", "remote_ip", ip, "error", err)
		return
	}

	// The newest published snapshot goes out immediately so a client never
	// waits a full interval for its first frame.
	pending := h.source.Latest()
	var lastSent *snapshot.Snapshot

	ticker := time.NewTicker(time.Duration(every) * time.Second)
	defer ticker.Stop()

	keepaliveTicker := time.NewTicker(h.config.KeepaliveInterval)
	defer keepaliveTicker.Stop()

	flush := func() error {
		if pending == nil || pending == lastSent {
			return nil
		}
		if err := c.sendJSON(ctx, buildSnapshotMessage(pending, class)); err != nil {
			return err
		}
		lastSent = pending
		keepaliveTicker.Reset(h.config.KeepaliveInterval)
		return nil
	}
	if err := flush(); err != nil {
		h.logger.Warn("stream send error", "remote_ip", ip, "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return

		case s, ok := <-updates:
			if !ok {
				return
			}
			pending = s

		case <-ticker.C:
			if err := flush(); err != nil {
				h.logger.Warn("stream send error", "remote_ip", ip, "error", err)
				return
			}

		case <-keepaliveTicker.C:
			if err := c.sendKeepalive(ctx); err != nil {
				h.logger.Warn("stream keepalive error", "remote_ip", ip, "error", err)
				return
			}
		}
	}
}

func (h *Handler) metadata() metadataMessage {
	r := h.status.Clock()
	meta := metadataMessage{
		Type:          "metadata",
		Instant:       r.Instant.UTC().Format(time.RFC3339),
		Mode:          r.Mode.String(),
		OffsetMinutes: r.OffsetMinutes(),
		Generation:    r.Generation,
		CatalogAge:    -1,
	}
	if c := h.status.Catalog(); c != nil {
		meta.CatalogVersion = c.Version
		meta.CatalogSource = c.Source
		meta.CatalogAge = int(time.Since(c.LoadedAt).Seconds())
		meta.Objects = c.Len()
	}
	return meta
}

// buildSnapshotMessage formats a snapshot into the SSE payload, keeping only
// records of class when it is non-nil.
func buildSnapshotMessage(s *snapshot.Snapshot, class *tle.Classification) snapshotMessage {
	records := s.Records
	if class != nil {
		records = make([]snapshot.Record, 0, len(s.Records))
		for _, rec := range s.Records {
			if rec.Class == *class {
				records = append(records, rec)
			}
		}
	}
	return snapshotMessage{
		Type:           "snapshot",
		T:              s.Instant.UTC().Format(time.RFC3339),
		Mode:           s.Mode.String(),
		Generation:     s.Generation,
		CatalogVersion: s.CatalogVersion,
		Failed:         s.Failed,
		Records:        records,
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// SSE message payload types.

type metadataMessage struct {
	Type           string  `json:"type"`
	CatalogVersion uint64  `json:"catalog_version"`
	CatalogSource  string  `json:"catalog_source"`
	CatalogAge     int     `json:"catalog_age_seconds"`
	Objects        int     `json:"objects"`
	Instant        string  `json:"instant"`
	Mode           string  `json:"mode"`
	OffsetMinutes  float64 `json:"offset_minutes"`
	Generation     uint64  `json:"generation"`
}

type snapshotMessage struct {
	Type           string            `json:"type"`
	T              string            `json:"t"`
	Mode           string            `json:"mode"`
	Generation     uint64            `json:"generation"`
	CatalogVersion uint64            `json:"catalog_version"`
	Failed         int               `json:"failed"`
	Records        []snapshot.Record `json:"records"`
}
