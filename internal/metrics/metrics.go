package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbitwatch_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orbitwatch_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	catalogObjects = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orbitwatch_catalog_objects",
		Help: "Number of objects in the live catalog.",
	})

	catalogVersion = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orbitwatch_catalog_version",
		Help: "Version number of the live catalog.",
	})

	catalogAgeSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orbitwatch_catalog_age_seconds",
		Help: "Seconds since the live catalog was loaded.",
	})

	catalogParseErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orbitwatch_catalog_parse_errors_total",
		Help: "Element set records skipped during catalog loads.",
	})

	catalogReloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbitwatch_catalog_reloads_total",
			Help: "Catalog reload attempts by outcome.",
		},
		[]string{"outcome"},
	)

	propagationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "orbitwatch_propagation_batch_duration_seconds",
		Help:    "Duration of one propagation batch over the catalog.",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})

	propagationErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbitwatch_propagation_errors_total",
			Help: "Per-object propagation failures by error code.",
		},
		[]string{"code"},
	)

	propagationWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orbitwatch_propagation_workers",
		Help: "Configured propagation worker count.",
	})

	tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "orbitwatch_tick_duration_seconds",
		Help:    "Duration of one simulation tick.",
		Buckets: prometheus.DefBuckets,
	})

	ticksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbitwatch_ticks_total",
			Help: "Simulation ticks by outcome.",
		},
		[]string{"outcome"},
	)

	snapshotObjects = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orbitwatch_snapshot_objects",
		Help: "Objects in the most recent snapshot.",
	})

	clockMode = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orbitwatch_clock_mode",
			Help: "Current simulation clock mode (1 for the active mode).",
		},
		[]string{"mode"},
	)

	riskDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "orbitwatch_risk_evaluation_duration_seconds",
		Help:    "Duration of one collision risk evaluation.",
		Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 120},
	})

	riskPairsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orbitwatch_risk_pairs_evaluated_total",
		Help: "Object pairs evaluated by the risk estimator.",
	})

	riskRejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orbitwatch_risk_evaluations_rejected_total",
		Help: "Risk evaluations refused because every evaluation slot was busy.",
	})

	riskPairsByTier = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orbitwatch_risk_pairs",
			Help: "Pairs per risk tier in the latest report.",
		},
		[]string{"tier"},
	)

	historyEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orbitwatch_history_entries",
		Help: "Snapshots held in the history window.",
	})

	historyCutoversTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orbitwatch_history_cutovers_total",
		Help: "History resets caused by a catalog version change.",
	})

	historyLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbitwatch_history_lookups_total",
			Help: "History lookups by result.",
		},
		[]string{"result"},
	)

	streamConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orbitwatch_stream_connections",
		Help: "Open snapshot stream connections.",
	})

	streamBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orbitwatch_stream_bytes_total",
		Help: "Bytes written to snapshot stream clients.",
	})

	streamRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbitwatch_stream_rejected_total",
			Help: "Snapshot stream connections rejected by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		catalogObjects,
		catalogVersion,
		catalogAgeSeconds,
		catalogParseErrorsTotal,
		catalogReloadsTotal,
		propagationDuration,
		propagationErrorsTotal,
		propagationWorkers,
		tickDuration,
		ticksTotal,
		snapshotObjects,
		clockMode,
		riskDuration,
		riskPairsTotal,
		riskRejectedTotal,
		riskPairsByTier,
		historyEntries,
		historyCutoversTotal,
		historyLookupsTotal,
		streamConnections,
		streamBytesTotal,
		streamRejectedTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetCatalog records the size and version of a newly published catalog.
func SetCatalog(objects int, version uint64) {
	catalogObjects.Set(float64(objects))
	catalogVersion.Set(float64(version))
}

func SetCatalogAge(seconds float64) { catalogAgeSeconds.Set(seconds) }

func AddParseErrors(n int) { catalogParseErrorsTotal.Add(float64(n)) }

// IncCatalogReload counts a reload attempt; outcome is "ok", "unavailable" or "empty".
func IncCatalogReload(outcome string) { catalogReloadsTotal.WithLabelValues(outcome).Inc() }

func ObservePropagationBatch(d time.Duration) { propagationDuration.Observe(d.Seconds()) }

func IncPropagationError(code string) { propagationErrorsTotal.WithLabelValues(code).Inc() }

func SetPropagationWorkers(n int) { propagationWorkers.Set(float64(n)) }

func ObserveTick(d time.Duration) { tickDuration.Observe(d.Seconds()) }

// IncTick counts a tick; outcome is "ok", "error", "discarded" or "no_catalog".
func IncTick(outcome string) { ticksTotal.WithLabelValues(outcome).Inc() }

func SetSnapshotObjects(n int) { snapshotObjects.Set(float64(n)) }

// SetClockMode marks mode as the active clock mode and clears the others.
func SetClockMode(mode string, all ...string) {
	for _, m := range all {
		clockMode.WithLabelValues(m).Set(0)
	}
	clockMode.WithLabelValues(mode).Set(1)
}

func ObserveRiskEvaluation(d time.Duration) { riskDuration.Observe(d.Seconds()) }

func AddRiskPairs(n int) { riskPairsTotal.Add(float64(n)) }

func IncRiskRejected() { riskRejectedTotal.Inc() }

func SetRiskPairsByTier(tier string, n int) { riskPairsByTier.WithLabelValues(tier).Set(float64(n)) }

func SetHistoryEntries(n int) { historyEntries.Set(float64(n)) }

func IncHistoryCutover() { historyCutoversTotal.Inc() }

// IncHistoryLookup counts a history read; result is "hit" or "miss".
func IncHistoryLookup(result string) { historyLookupsTotal.WithLabelValues(result).Inc() }

func IncStreamConnections() { streamConnections.Inc() }

func DecStreamConnections() { streamConnections.Dec() }

func AddStreamBytes(n int) { streamBytesTotal.Add(float64(n)) }

func IncStreamRejected(reason string) { streamRejectedTotal.WithLabelValues(reason).Inc() }

var knownRoutes = map[string]bool{
	"/":                        true,
	"/healthz":                 true,
	"/readyz":                  true,
	"/metrics":                 true,
	"/api/v1/catalog":          true,
	"/api/v1/catalog/reload":   true,
	"/api/v1/objects":          true,
	"/api/v1/snapshot":         true,
	"/api/v1/snapshot/history": true,
	"/api/v1/clock":            true,
	"/api/v1/clock/offset":     true,
	"/api/v1/risk":             true,
	"/api/v1/risk/latest":      true,
	"/api/v1/stream/snapshots": true,
	"/api/v1/history/stats":    true,
}

// normalizeRoute collapses request paths into a bounded label set.
func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	if rest, ok := strings.CutPrefix(path, "/api/v1/catalog/"); ok && rest != "" && !strings.Contains(rest, "/") {
		return "/api/v1/catalog/{id}"
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush lets streaming handlers behind the middleware flush.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		route := normalizeRoute(r.URL.Path)
		httpRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(rw.statusCode)).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
