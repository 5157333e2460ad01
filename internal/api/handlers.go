package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/star/orbitwatch/internal/cache"
	"github.com/star/orbitwatch/internal/catalog"
	"github.com/star/orbitwatch/internal/clock"
	"github.com/star/orbitwatch/internal/engine"
	"github.com/star/orbitwatch/internal/risk"
	"github.com/star/orbitwatch/internal/snapshot"
	"github.com/star/orbitwatch/internal/tle"
)

const (
	maxBodyBytes      = 64 << 10
	maxReportedErrors = 50
	defaultHorizon    = time.Hour
)

type handlers struct {
	deps   Deps
	logger *slog.Logger
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var pe *tle.ParseError
	switch {
	case errors.As(err, &pe),
		errors.Is(err, clock.ErrOffsetRange),
		errors.Is(err, risk.ErrHorizon):
		return http.StatusBadRequest
	case errors.Is(err, risk.ErrUnknownTarget):
		return http.StatusNotFound
	case errors.Is(err, catalog.ErrDuplicateObject):
		return http.StatusConflict
	case errors.Is(err, engine.ErrRiskBusy):
		return http.StatusTooManyRequests
	case errors.Is(err, catalog.ErrNoCatalog), errors.Is(err, catalog.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type catalogSummary struct {
	Version     uint64         `json:"version"`
	Source      string         `json:"source"`
	LoadedAt    time.Time      `json:"loaded_at"`
	AgeSeconds  int            `json:"age_seconds"`
	Objects     int            `json:"objects"`
	UserObjects int            `json:"user_objects"`
	ByClass     map[string]int `json:"by_classification"`
	EpochMin    time.Time      `json:"epoch_min"`
	EpochMax    time.Time      `json:"epoch_max"`
}

// GET /api/v1/catalog
func (h *handlers) catalogSummary(w http.ResponseWriter, r *http.Request) {
	c := h.deps.Engine.Catalog()
	if c == nil {
		writeError(w, http.StatusServiceUnavailable, catalog.ErrNoCatalog.Error())
		return
	}
	byClass := make(map[string]int, 3)
	for _, e := range c.Entries() {
		byClass[e.Class.String()]++
	}
	er := c.EpochRange()
	writeJSON(w, http.StatusOK, catalogSummary{
		Version:     c.Version,
		Source:      c.Source,
		LoadedAt:    c.LoadedAt,
		AgeSeconds:  int(time.Since(c.LoadedAt).Seconds()),
		Objects:     c.Len(),
		UserObjects: c.UserObjects(),
		ByClass:     byClass,
		EpochMin:    er.Min,
		EpochMax:    er.Max,
	})
}

type objectResponse struct {
	ID             string             `json:"id"`
	Name           string             `json:"name"`
	Class          tle.Classification `json:"classification"`
	CatalogNumber  int                `json:"catalog_number"`
	IntlDesignator string             `json:"intl_designator,omitempty"`
	Epoch          time.Time          `json:"epoch"`
	Inclination    float64            `json:"inclination_deg"`
	RAAN           float64            `json:"raan_deg"`
	Eccentricity   float64            `json:"eccentricity"`
	ArgPerigee     float64            `json:"arg_perigee_deg"`
	MeanAnomaly    float64            `json:"mean_anomaly_deg"`
	MeanMotion     float64            `json:"mean_motion_rev_per_day"`
	BStar          float64            `json:"bstar"`
	Line1          string             `json:"line1"`
	Line2          string             `json:"line2"`
}

func newObjectResponse(s tle.ElementSet) objectResponse {
	l1, l2 := s.Lines()
	return objectResponse{
		ID:             s.ID,
		Name:           s.Name,
		Class:          s.Class,
		CatalogNumber:  s.CatalogNumber,
		IntlDesignator: s.IntlDesignator,
		Epoch:          s.Epoch,
		Inclination:    s.Inclination,
		RAAN:           s.RAAN,
		Eccentricity:   s.Eccentricity,
		ArgPerigee:     s.ArgPerigee,
		MeanAnomaly:    s.MeanAnomaly,
		MeanMotion:     s.MeanMotion,
		BStar:          s.BStar,
		Line1:          l1,
		Line2:          l2,
	}
}

// GET /api/v1/catalog/{id}
// Plain catalog numbers are accepted without zero padding.
func (h *handlers) catalogObject(w http.ResponseWriter, r *http.Request) {
	c := h.deps.Engine.Catalog()
	if c == nil {
		writeError(w, http.StatusServiceUnavailable, catalog.ErrNoCatalog.Error())
		return
	}
	id := r.PathValue("id")
	if n, err := strconv.Atoi(id); err == nil && n > 0 {
		id = fmt.Sprintf("%05d", n)
	}
	set, ok := c.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "object not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, newObjectResponse(set))
}

type reloadResponse struct {
	CatalogVersion uint64   `json:"catalog_version"`
	Objects        int      `json:"objects"`
	ParseErrors    int      `json:"parse_errors"`
	Errors         []string `json:"errors,omitempty"`
}

// POST /api/v1/catalog/reload
func (h *handlers) reload(w http.ResponseWriter, r *http.Request) {
	rep, err := h.deps.Engine.Reload(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	resp := reloadResponse{
		CatalogVersion: rep.Catalog.Version,
		Objects:        rep.Catalog.Len(),
		ParseErrors:    len(rep.Errors),
	}
	for i, pe := range rep.Errors {
		if i == maxReportedErrors {
			break
		}
		resp.Errors = append(resp.Errors, pe.Error())
	}
	writeJSON(w, http.StatusOK, resp)
}

type addObjectRequest struct {
	Name  string `json:"name"`
	Line1 string `json:"line1"`
	Line2 string `json:"line2"`
}

// POST /api/v1/objects
func (h *handlers) addObject(w http.ResponseWriter, r *http.Request) {
	var req addObjectRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	set, err := h.deps.Engine.AddUserObject(req.Name, req.Line1, req.Line2)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, newObjectResponse(set))
}

// GET /api/v1/snapshot
func (h *handlers) latestSnapshot(w http.ResponseWriter, r *http.Request) {
	s := h.deps.Engine.Latest()
	if s == nil {
		writeError(w, http.StatusServiceUnavailable, "no snapshot published yet")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// GET /api/v1/snapshot/history?at=RFC3339 returns the newest snapshot at or
// before the instant; ?n=10 returns the last n snapshots, oldest first.
func (h *handlers) snapshotHistory(w http.ResponseWriter, r *http.Request) {
	if h.deps.History == nil {
		writeError(w, http.StatusNotFound, "history disabled")
		return
	}
	q := r.URL.Query()
	if v := q.Get("at"); v != "" {
		at, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid at parameter, must be RFC 3339")
			return
		}
		s := h.deps.History.At(at)
		if s == nil {
			writeError(w, http.StatusNotFound, "no snapshot at or before "+at.UTC().Format(time.RFC3339))
			return
		}
		writeJSON(w, http.StatusOK, s)
		return
	}

	n := 0
	if v := q.Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "invalid n parameter, must be a positive integer")
			return
		}
		n = parsed
	}
	snaps := h.deps.History.Recent(n)
	if snaps == nil {
		snaps = []*snapshot.Snapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": snaps})
}

type historyStats struct {
	History       *cache.Stats `json:"history,omitempty"`
	StreamClients int          `json:"stream_clients"`
}

// GET /api/v1/history/stats
func (h *handlers) historyStats(w http.ResponseWriter, r *http.Request) {
	var resp historyStats
	if h.deps.History != nil {
		stats := h.deps.History.Stats()
		resp.History = &stats
	}
	if h.deps.Stream != nil {
		resp.StreamClients = h.deps.Stream.Active()
	}
	writeJSON(w, http.StatusOK, resp)
}

type clockResponse struct {
	Instant         time.Time  `json:"instant"`
	Mode            clock.Mode `json:"mode"`
	OffsetMinutes   float64    `json:"offset_minutes"`
	Generation      uint64     `json:"generation"`
	IntervalSeconds float64    `json:"interval_seconds"`
}

func newClockResponse(r clock.Reading) clockResponse {
	return clockResponse{
		Instant:         r.Instant,
		Mode:            r.Mode,
		OffsetMinutes:   r.OffsetMinutes(),
		Generation:      r.Generation,
		IntervalSeconds: r.Interval.Seconds(),
	}
}

// GET /api/v1/clock
func (h *handlers) clockReading(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newClockResponse(h.deps.Engine.Clock()))
}

type offsetRequest struct {
	Minutes *float64 `json:"minutes"`
}

// PUT /api/v1/clock/offset
func (h *handlers) setOffset(w http.ResponseWriter, r *http.Request) {
	var req offsetRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.Minutes == nil {
		writeError(w, http.StatusBadRequest, "minutes is required")
		return
	}
	reading, err := h.deps.Engine.SetOffset(*req.Minutes)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newClockResponse(reading))
}

// parseHorizon accepts a Go duration ("90m") or a number of seconds.
func parseHorizon(v string) (time.Duration, error) {
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid horizon %q", v)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// GET /api/v1/risk?horizon=1h&target=25544&limit=100
func (h *handlers) riskReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	horizon := defaultHorizon
	if v := q.Get("horizon"); v != "" {
		d, err := parseHorizon(v)
		if err != nil || d < 0 || d > h.deps.MaxRiskHorizon {
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("invalid horizon parameter, must be between 0 and %v", h.deps.MaxRiskHorizon))
			return
		}
		horizon = d
	}

	target := strings.TrimSpace(q.Get("target"))
	if n, err := strconv.Atoi(target); err == nil && n > 0 {
		target = fmt.Sprintf("%05d", n)
	}

	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit parameter, must be a positive integer")
			return
		}
		limit = n
	}

	rep, err := h.deps.Engine.EvaluateRisk(r.Context(), horizon, target)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrRiskBusy):
			w.Header().Set("Retry-After", "5")
		case r.Context().Err() == nil:
			h.logger.Warn("risk evaluation failed", "error", err, "target", target)
		}
		writeError(w, statusFor(err), err.Error())
		return
	}
	if limit > 0 && len(rep.Pairs) > limit {
		// Reports are shared through the engine cache; trim a copy.
		trimmed := *rep
		trimmed.Pairs = rep.Pairs[:limit:limit]
		rep = &trimmed
	}
	writeJSON(w, http.StatusOK, rep)
}

// GET /api/v1/risk/latest returns the most recent report without evaluating.
func (h *handlers) latestRisk(w http.ResponseWriter, r *http.Request) {
	rep := h.deps.Engine.LatestRisk()
	if rep == nil {
		writeError(w, http.StatusNotFound, "no risk report evaluated yet")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
