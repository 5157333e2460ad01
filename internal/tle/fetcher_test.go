package tle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

var testLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))

const (
	issBlock = "ISS (ZARYA)\n" +
		"1 25544U 98067A   24100.50000000  .00016717  00000-0  10270-3 0  9009\n" +
		"2 25544  51.6400 100.0000 0001000   0.0000   0.0000 15.50000000    01\n"
	starlinkBlock = "STARLINK-1007\n" +
		"1 44713U 19074A   24100.50000000  .00001000  00000-0  10000-4 0  9998\n" +
		"2 44713  53.0000 200.0000 0001500  90.0000 270.0000 15.06000000    07\n"
)

func serve(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetcherSuccess(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		io.WriteString(w, issBlock)
	}))
	defer srv.Close()

	data, err := NewFetcher(srv.URL, testLogger).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(data) != issBlock {
		t.Errorf("body = %d bytes, want %d", len(data), len(issBlock))
	}
	if gotUA != userAgent {
		t.Errorf("User-Agent = %q, want %q", gotUA, userAgent)
	}
}

func TestFetcherFailures(t *testing.T) {
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name   string
		status int
		body   string
		ctx    context.Context
		is     error
	}{
		{name: "server error", status: http.StatusInternalServerError},
		{name: "not found", status: http.StatusNotFound, body: "no such group"},
		{name: "empty body", status: http.StatusOK, body: " \n", is: ErrEmptyBody},
		{name: "canceled", status: http.StatusOK, body: issBlock, ctx: canceled, is: context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := tt.ctx
			if ctx == nil {
				ctx = context.Background()
			}
			_, err := NewFetcher(serve(t, tt.status, tt.body).URL, testLogger).Fetch(ctx)
			if err == nil {
				t.Fatal("Fetch succeeded, want error")
			}
			if tt.is != nil && !errors.Is(err, tt.is) {
				t.Errorf("error = %v, want %v", err, tt.is)
			}
		})
	}
}

// TestFetcherBodyLimit verifies an oversized response is rejected rather than
// read without bound.
func TestFetcherBodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chunk := []byte(strings.Repeat("A", 1<<20))
		for i := 0; i < 52; i++ {
			if _, err := w.Write(chunk); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	_, err := NewFetcher(srv.URL, testLogger).Fetch(context.Background())
	if err == nil || !strings.Contains(err.Error(), "byte limit") {
		t.Fatalf("Fetch error = %v, want body limit error", err)
	}
}

// TestFetcherExtraURLs verifies extra sources are appended after the primary,
// with a newline inserted when the primary lacks one, and that a failing extra
// source is skipped.
func TestFetcherExtraURLs(t *testing.T) {
	primary := serve(t, http.StatusOK, strings.TrimSuffix(starlinkBlock, "\n"))
	extra := serve(t, http.StatusOK, issBlock)
	failing := serve(t, http.StatusBadGateway, "")

	data, err := NewFetcher(primary.URL, testLogger, failing.URL, extra.URL).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	res, err := Parse(strings.NewReader(string(data)), Options{VerifyChecksum: true}, testLogger)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(res.Sets) != 2 {
		t.Fatalf("parsed %d sets, want 2 (errors %v)", len(res.Sets), res.Errors)
	}
	if res.Sets[0].CatalogNumber != 44713 || res.Sets[1].CatalogNumber != 25544 {
		t.Errorf("catalog numbers = %d, %d; want 44713, 25544", res.Sets[0].CatalogNumber, res.Sets[1].CatalogNumber)
	}
}

func TestFetcherDefaultSource(t *testing.T) {
	if got := NewFetcher("", testLogger).SourceURL(); got != defaultSourceURL {
		t.Errorf("SourceURL() = %q, want %q", got, defaultSourceURL)
	}
}
