package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/star/orbitwatch/internal/cache"
	"github.com/star/orbitwatch/internal/catalog"
	"github.com/star/orbitwatch/internal/clock"
	"github.com/star/orbitwatch/internal/snapshot"
	"github.com/star/orbitwatch/internal/tle"
)

const (
	issLine1 = "1 25544U 98067A   24100.50000000  .00016717  00000-0  10270-3 0  9009"
	issLine2 = "2 25544  51.6400 100.0000 0001000   0.0000   0.0000 15.50000000    01"
)

var testEpoch = time.Date(2024, 4, 9, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
}

// fakeStatus reports a fixed catalog and clock reading.
type fakeStatus struct {
	cat     *catalog.Catalog
	reading clock.Reading
}

func (s fakeStatus) Catalog() *catalog.Catalog { return s.cat }
func (s fakeStatus) Clock() clock.Reading      { return s.reading }

func testStatus(t *testing.T) fakeStatus {
	t.Helper()
	set, err := tle.ParseRecord("ISS (ZARYA)", issLine1, issLine2, tle.ClassCatalog)
	if err != nil {
		t.Fatal(err)
	}
	store := catalog.NewStore()
	c, _ := store.Replace("test", time.Now().Add(-30*time.Minute), []tle.ElementSet{set})
	return fakeStatus{cat: c, reading: clock.Reading{Instant: testEpoch, Generation: 2}}
}

func testSnapshot() *snapshot.Snapshot {
	return &snapshot.Snapshot{
		Instant:        testEpoch,
		Mode:           clock.Auto,
		Generation:     2,
		CatalogVersion: 1,
		Records: []snapshot.Record{
			{ID: "00011", Name: "VANGUARD 2 DEB", Class: tle.ClassDebris, Lat: 10, Lon: 20, Alt: 0.1, AltKm: 637.1, Timestamp: testEpoch},
			{ID: "25544", Name: "ISS (ZARYA)", Class: tle.ClassCatalog, Lat: -5, Lon: 170, Alt: 0.066, AltKm: 420, Timestamp: testEpoch},
		},
	}
}

func testConfig() Config {
	return Config{
		MaxConcurrentPerIP: 10,
		BandwidthLimit:     1048576,
		KeepaliveInterval:  30 * time.Second,
	}
}

// TestBuildSnapshotMessage verifies the snapshot payload structure and class filter.
func TestBuildSnapshotMessage(t *testing.T) {
	s := testSnapshot()

	msg := buildSnapshotMessage(s, nil)
	if msg.Type != "snapshot" {
		t.Errorf("type = %q, want %q", msg.Type, "snapshot")
	}
	if msg.T != "2024-04-09T12:00:00Z" {
		t.Errorf("t = %q, want %q", msg.T, "2024-04-09T12:00:00Z")
	}
	if msg.Mode != "auto" {
		t.Errorf("mode = %q, want auto", msg.Mode)
	}
	if len(msg.Records) != 2 {
		t.Fatalf("record count = %d, want 2", len(msg.Records))
	}

	debris := tle.ClassDebris
	msg = buildSnapshotMessage(s, &debris)
	if len(msg.Records) != 1 || msg.Records[0].ID != "00011" {
		t.Errorf("filtered records = %v, want only 00011", msg.Records)
	}
	if len(s.Records) != 2 {
		t.Error("filtering must not modify the snapshot")
	}
}

// TestSnapshotMessageJSON verifies the JSON serialization of a snapshot message.
func TestSnapshotMessageJSON(t *testing.T) {
	data, err := json.Marshal(buildSnapshotMessage(testSnapshot(), nil))
	if err != nil {
		t.Fatal(err)
	}

	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatal(err)
	}

	if parsed["type"] != "snapshot" {
		t.Errorf("type = %v, want snapshot", parsed["type"])
	}
	if parsed["catalog_version"].(float64) != 1 {
		t.Errorf("catalog_version = %v, want 1", parsed["catalog_version"])
	}

	records, ok := parsed["records"].([]any)
	if !ok || len(records) != 2 {
		t.Fatalf("records = %v, want 2-element array", parsed["records"])
	}
	rec := records[0].(map[string]any)
	if rec["id"] != "00011" {
		t.Errorf("records[0].id = %v, want 00011", rec["id"])
	}
	if rec["classification"] != "debris" {
		t.Errorf("records[0].classification = %v, want debris", rec["classification"])
	}
}

// TestMetadataMessageJSON verifies the metadata message format.
func TestMetadataMessageJSON(t *testing.T) {
	h := NewHandler(cache.NewHistory(cache.Config{}, testLogger()), testStatus(t), testConfig(), testLogger())

	data, err := json.Marshal(h.metadata())
	if err != nil {
		t.Fatal(err)
	}

	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatal(err)
	}

	if parsed["type"] != "metadata" {
		t.Errorf("type = %v, want metadata", parsed["type"])
	}
	if parsed["catalog_source"] != "test" {
		t.Errorf("catalog_source = %v, want test", parsed["catalog_source"])
	}
	if parsed["objects"].(float64) != 1 {
		t.Errorf("objects = %v, want 1", parsed["objects"])
	}
	if age := parsed["catalog_age_seconds"].(float64); age < 1790 || age > 1900 {
		t.Errorf("catalog_age_seconds = %v, want about 1800", age)
	}
	if parsed["mode"] != "auto" {
		t.Errorf("mode = %v, want auto", parsed["mode"])
	}
}

// TestMetadataWithoutCatalog reports a negative age before the first load.
func TestMetadataWithoutCatalog(t *testing.T) {
	h := NewHandler(cache.NewHistory(cache.Config{}, testLogger()), fakeStatus{}, testConfig(), testLogger())
	meta := h.metadata()
	if meta.CatalogAge != -1 || meta.Objects != 0 {
		t.Errorf("metadata = %+v, want age -1 and no objects", meta)
	}
}

// TestSSEMessageFormat runs the handler against a recorder and parses the stream.
func TestSSEMessageFormat(t *testing.T) {
	history := cache.NewHistory(cache.Config{Size: 4}, testLogger())
	history.Render(testSnapshot())

	handler := NewHandler(history, testStatus(t), Config{
		MaxConcurrentPerIP: 10,
		BandwidthLimit:     1048576,
		KeepaliveInterval:  5 * time.Second,
	}, testLogger())

	req := httptest.NewRequest("GET", "/api/v1/stream/snapshots?every=1&class=catalog", nil)
	req.RemoteAddr = "127.0.0.1:12345"

	ctx, cancel := context.WithTimeout(req.Context(), 300*time.Millisecond)
	defer cancel()
	req = req.WithContext(ctx)

	w := httptest.NewRecorder()
	handler.HandleSnapshots(w, req)

	resp := w.Result()
	if resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", resp.Header.Get("Content-Type"))
	}
	if resp.Header.Get("Cache-Control") != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", resp.Header.Get("Cache-Control"))
	}

	body := w.Body.String()
	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	var types []string

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var msg map[string]any
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &msg); err != nil {
			t.Errorf("invalid JSON in SSE data line: %v", err)
			continue
		}
		types = append(types, msg["type"].(string))
		switch msg["type"] {
		case "metadata":
			if _, ok := msg["catalog_version"]; !ok {
				t.Error("metadata missing catalog_version")
			}
			if _, ok := msg["catalog_age_seconds"]; !ok {
				t.Error("metadata missing catalog_age_seconds")
			}
		case "snapshot":
			records := msg["records"].([]any)
			if len(records) != 1 {
				t.Errorf("class filter: got %d records, want 1", len(records))
			}
		}
	}

	if len(types) != 2 || types[0] != "metadata" || types[1] != "snapshot" {
		t.Errorf("message types = %v, want [metadata snapshot]", types)
	}

	// Lines should be "data: ...", "retry: ..." or ":" (keepalive) or empty.
	for _, line := range strings.Split(body, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !strings.HasPrefix(line, "data: ") && !strings.HasPrefix(line, "retry: ") && line != ":" {
			t.Errorf("unexpected SSE line: %q", line)
		}
	}

	if handler.Active() != 0 {
		t.Errorf("active streams after disconnect = %d, want 0", handler.Active())
	}
}

// TestRateLimiting verifies per-IP concurrent stream limits.
func TestRateLimiting(t *testing.T) {
	limiter := newConnLimiter(3, 1000)

	var releases []func()
	for i := 0; i < 3; i++ {
		release, err := limiter.acquire("10.0.0.1")
		if err != nil {
			t.Fatalf("acquire %d: %v", i+1, err)
		}
		releases = append(releases, release)
	}

	if _, err := limiter.acquire("10.0.0.1"); !errors.Is(err, errPerIPLimit) {
		t.Errorf("acquire beyond limit error = %v, want %v", err, errPerIPLimit)
	}
	if _, err := limiter.acquire("10.0.0.2"); err != nil {
		t.Errorf("different IP should not be rate limited: %v", err)
	}

	// A second call of the same release must not free another slot.
	releases[0]()
	releases[0]()
	if _, err := limiter.acquire("10.0.0.1"); err != nil {
		t.Errorf("acquire after release: %v", err)
	}

	forIP, total := limiter.usage("10.0.0.1")
	if forIP != 3 || total != 4 {
		t.Errorf("usage = (%d, %d), want (3, 4)", forIP, total)
	}
	if _, err := limiter.acquire("10.0.0.1"); !errors.Is(err, errPerIPLimit) {
		t.Errorf("double release freed a slot: err = %v", err)
	}
}

// TestRateLimitingGlobal verifies the global cap applies across IPs.
func TestRateLimitingGlobal(t *testing.T) {
	limiter := newConnLimiter(10, 2)
	for _, ip := range []string{"10.0.0.1", "10.0.0.2"} {
		if _, err := limiter.acquire(ip); err != nil {
			t.Fatalf("acquire %s: %v", ip, err)
		}
	}
	_, err := limiter.acquire("10.0.0.3")
	if !errors.Is(err, errGlobalLimit) {
		t.Fatalf("acquire beyond global cap error = %v, want %v", err, errGlobalLimit)
	}
	if got := rejectReason(err); got != "global_limit" {
		t.Errorf("rejectReason = %q, want global_limit", got)
	}
	if got := rejectReason(errPerIPLimit); got != "ip_limit" {
		t.Errorf("rejectReason = %q, want ip_limit", got)
	}
}

// TestRateLimitingConcurrent verifies rate limiter thread safety.
func TestRateLimitingConcurrent(t *testing.T) {
	limiter := newConnLimiter(100, 1000)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if release, err := limiter.acquire("10.0.0.1"); err == nil {
				defer release()
				time.Sleep(10 * time.Millisecond)
			}
		}()
	}
	wg.Wait()

	if forIP, total := limiter.usage("10.0.0.1"); forIP != 0 || total != 0 {
		t.Errorf("usage after all released = (%d, %d), want (0, 0)", forIP, total)
	}
}

// TestRateLimitHTTPResponse verifies 429 response when limit exceeded.
func TestRateLimitHTTPResponse(t *testing.T) {
	handler := NewHandler(cache.NewHistory(cache.Config{}, testLogger()), testStatus(t), Config{
		MaxConcurrentPerIP: 1,
		BandwidthLimit:     1048576,
		KeepaliveInterval:  30 * time.Second,
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		req := httptest.NewRequest("GET", "/api/v1/stream/snapshots", nil).WithContext(ctx)
		req.RemoteAddr = "10.0.0.1:12345"
		handler.HandleSnapshots(httptest.NewRecorder(), req)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for handler.Active() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first stream never connected")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Second connection from same IP should get 429.
	req := httptest.NewRequest("GET", "/api/v1/stream/snapshots", nil)
	req.RemoteAddr = "10.0.0.1:54321"
	w := httptest.NewRecorder()
	handler.HandleSnapshots(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}

	cancel()
	<-done
}

// TestInvalidQueryParams verifies error responses for bad every/class values.
func TestInvalidQueryParams(t *testing.T) {
	handler := NewHandler(cache.NewHistory(cache.Config{}, testLogger()), testStatus(t), testConfig(), testLogger())

	tests := []struct {
		name  string
		query string
	}{
		{"every zero", "?every=0"},
		{"every too large", "?every=100"},
		{"every non-numeric", "?every=abc"},
		{"unknown class", "?class=planet"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/stream/snapshots"+tt.query, nil)
			req.RemoteAddr = "127.0.0.1:12345"
			w := httptest.NewRecorder()
			handler.HandleSnapshots(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}
		})
	}
}

func testClient(w *httptest.ResponseRecorder, burst int) *client {
	return &client{
		w:       w,
		flusher: w,
		rc:      http.NewResponseController(w),
		limiter: rate.NewLimiter(rate.Limit(1<<20), burst),
		ip:      "127.0.0.1",
		logger:  testLogger(),
	}
}

// TestBandwidthChunking verifies messages larger than the burst are split but
// delivered intact.
func TestBandwidthChunking(t *testing.T) {
	w := httptest.NewRecorder()
	c := testClient(w, 8)

	if err := c.sendJSON(context.Background(), map[string]string{"type": "metadata", "catalog_source": "celestrak"}); err != nil {
		t.Fatal(err)
	}
	want := `data: {"catalog_source":"celestrak","type":"metadata"}` + "\n\n"
	if got := w.Body.String(); got != want {
		t.Errorf("body = %q, want %q", got, want)
	}
	if c.bytesSent != int64(len(want)) {
		t.Errorf("bytesSent = %d, want %d", c.bytesSent, len(want))
	}
	if c.messagesSent != 1 {
		t.Errorf("messagesSent = %d, want 1", c.messagesSent)
	}
}

// TestBandwidthWaitCanceled verifies a canceled stream stops waiting for bandwidth.
func TestBandwidthWaitCanceled(t *testing.T) {
	w := httptest.NewRecorder()
	c := testClient(w, 4)
	c.limiter = rate.NewLimiter(rate.Limit(1), 4)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.sendJSON(ctx, map[string]string{"type": "snapshot"}); err == nil {
		t.Error("expected error on canceled context")
	}
}

// TestKeepaliveFormat verifies keep-alive is an SSE comment.
func TestKeepaliveFormat(t *testing.T) {
	w := httptest.NewRecorder()
	c := testClient(w, 1024)
	if err := c.sendKeepalive(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := w.Body.String(); got != ":\n\n" {
		t.Errorf("keepalive = %q, want %q", got, ":\n\n")
	}
}
