/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"chainguard.dev/agentrelay/telemetry/ids"
	"chainguard.dev/agentrelay/telemetry/record"
	"chainguard.dev/agentrelay/telemetry/retry"
	"chainguard.dev/agentrelay/telemetry/suppress"
)

func fastRetry() retry.Config {
	return retry.Config{
		MaxAttempts:    3,
		BaseBackoff:    time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		JitterFraction: 0.1,
	}
}

func testRecords() []*record.SpanRecord {
	start := time.Unix(1700000000, 0).UTC()
	trace := ids.NormalizeTraceID("trace-1")
	return []*record.SpanRecord{{
		TraceID:        trace,
		SpanID:         ids.NormalizeSpanID("root", trace),
		SpanName:       "run",
		LogType:        record.LogTypeAgent,
		StartTime:      start,
		EndTime:        start.Add(2 * time.Second),
		LatencySeconds: 2,
		Output:         "42",
		StatusCode:     200,
	}}
}

type endpoint struct {
	attempts atomic.Int32
	status   int
	body     atomic.Value // []byte
	header   atomic.Value // http.Header
	path     atomic.Value // string
}

func newEndpoint(t *testing.T, status int) (*endpoint, *httptest.Server) {
	t.Helper()
	ep := &endpoint{status: status}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ep.attempts.Add(1)
		b, _ := io.ReadAll(r.Body)
		ep.body.Store(b)
		ep.header.Store(r.Header.Clone())
		ep.path.Store(r.URL.Path)
		w.WriteHeader(ep.status)
	}))
	t.Cleanup(srv.Close)
	return ep, srv
}

func newExporter(t *testing.T, opts ...Option) *Exporter {
	t.Helper()
	e, err := New(context.Background(), append([]Option{WithRetryConfig(fastRetry())}, opts...)...)
	require.NoError(t, err)
	return e
}

func TestDeliverSuccess(t *testing.T) {
	t.Parallel()
	ep, srv := newEndpoint(t, http.StatusAccepted)
	e := newExporter(t, WithAPIKey("secret"), WithBaseURL(srv.URL+"/"))

	require.NoError(t, e.Deliver(context.Background(), testRecords()))

	if got := ep.attempts.Load(); got != 1 {
		t.Errorf("attempts: got = %d, wanted = 1", got)
	}
	h := ep.header.Load().(http.Header)
	if got := h.Get("Authorization"); got != "Bearer secret" {
		t.Errorf("Authorization: got = %q, wanted = %q", got, "Bearer secret")
	}
	if got := h.Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type: got = %q, wanted application/json", got)
	}
	if got := ep.path.Load().(string); got != "/v1/traces/ingest" {
		t.Errorf("path: got = %q, wanted /v1/traces/ingest", got)
	}

	var body []map[string]any
	require.NoError(t, json.Unmarshal(ep.body.Load().([]byte), &body))
	require.Len(t, body, 1)
	if body[0]["span_name"] != "run" || body[0]["log_type"] != "agent" || body[0]["output"] != "42" {
		t.Errorf("body: got = %v, wanted the serialized record", body[0])
	}
}

func TestServerErrorRetriedThenDropped(t *testing.T) {
	t.Parallel()
	ep, srv := newEndpoint(t, http.StatusInternalServerError)
	e := newExporter(t, WithAPIKey("secret"), WithBaseURL(srv.URL))

	err := e.Deliver(context.Background(), testRecords())
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusInternalServerError {
		t.Fatalf("Deliver() = %v, wanted a 500 StatusError", err)
	}
	if got := ep.attempts.Load(); got != 3 {
		t.Errorf("attempts: got = %d, wanted = 3", got)
	}
}

func TestClientErrorNotRetried(t *testing.T) {
	t.Parallel()
	ep, srv := newEndpoint(t, http.StatusNotFound)
	e := newExporter(t, WithAPIKey("secret"), WithBaseURL(srv.URL))

	err := e.Deliver(context.Background(), testRecords())
	if !retry.IsPermanent(err) {
		t.Errorf("Deliver() = %v, wanted a permanent error", err)
	}
	if got := ep.attempts.Load(); got != 1 {
		t.Errorf("attempts: got = %d, wanted = 1", got)
	}
}

func TestMissingKeySkipsNetwork(t *testing.T) {
	t.Parallel()
	ep, srv := newEndpoint(t, http.StatusOK)
	e := newExporter(t, WithBaseURL(srv.URL))

	if e.Enabled() {
		t.Error("Enabled() = true, wanted false without a key")
	}
	e.Send(context.Background(), testRecords())
	if got := ep.attempts.Load(); got != 0 {
		t.Errorf("attempts: got = %d, wanted = 0", got)
	}
}

func TestTransportErrorRetried(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	e := newExporter(t, WithAPIKey("secret"), WithBaseURL(url))
	err := e.Deliver(context.Background(), testRecords())
	if err == nil || retry.IsPermanent(err) {
		t.Errorf("Deliver() = %v, wanted a transient error", err)
	}
}

func TestSlowEndpointRetried(t *testing.T) {
	t.Parallel()
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(300 * time.Millisecond):
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	e := newExporter(t, WithAPIKey("secret"), WithBaseURL(srv.URL), WithTimeout(50*time.Millisecond))
	err := e.Deliver(context.Background(), testRecords())
	if err == nil || retry.IsPermanent(err) {
		t.Errorf("Deliver() = %v, wanted a transient error", err)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts: got = %d, wanted = 3", got)
	}
}

func TestTransportSkipsSuppressedRequests(t *testing.T) {
	t.Parallel()
	_, srv := newEndpoint(t, http.StatusOK)
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	hc := &http.Client{Transport: NewTransport(http.DefaultTransport, otelhttp.WithTracerProvider(tp))}

	get := func(ctx context.Context) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
		require.NoError(t, err)
		resp, err := hc.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
	}

	get(suppress.Context(context.Background()))
	require.Empty(t, sr.Ended(), "suppressed request was traced")

	get(context.Background())
	require.Len(t, sr.Ended(), 1)
}

func TestCanceledContextStopsRetries(t *testing.T) {
	t.Parallel()
	ep, srv := newEndpoint(t, http.StatusServiceUnavailable)
	cfg := fastRetry()
	cfg.BaseBackoff = time.Hour
	cfg.MaxBackoff = time.Hour
	e := newExporter(t, WithAPIKey("secret"), WithBaseURL(srv.URL), WithRetryConfig(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := e.Deliver(ctx, testRecords())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Deliver() = %v, wanted deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("Deliver took %v, wanted the backoff interrupted", elapsed)
	}
	if got := ep.attempts.Load(); got != 1 {
		t.Errorf("attempts: got = %d, wanted = 1", got)
	}
}

func TestEmptyBatchIsNoop(t *testing.T) {
	t.Parallel()
	ep, srv := newEndpoint(t, http.StatusOK)
	e := newExporter(t, WithAPIKey("secret"), WithBaseURL(srv.URL))
	e.Send(context.Background(), nil)
	if got := ep.attempts.Load(); got != 0 {
		t.Errorf("attempts: got = %d, wanted = 0", got)
	}
}

func TestOptionsValidate(t *testing.T) {
	t.Parallel()
	bad := map[string]Option{
		"base url scheme": WithBaseURL("ftp://example.com"),
		"format":          WithFormat("xml"),
		"retry":           WithRetryConfig(retry.Config{}),
		"timeout":         WithTimeout(0),
		"http client":     WithHTTPClient(nil),
		"service name":    WithServiceName(""),
	}
	for name, opt := range bad {
		if _, err := New(context.Background(), opt); err == nil {
			t.Errorf("%s: New() = nil error, wanted failure", name)
		}
	}
}

func TestEndpoint(t *testing.T) {
	t.Parallel()
	e := newExporter(t, WithBaseURL("https://ingest.example.com/api/"), WithFormat(FormatOTLP))
	if got, want := e.Endpoint(), "https://ingest.example.com/api/v2/traces"; got != want {
		t.Errorf("Endpoint() = %q, wanted %q", got, want)
	}
}
