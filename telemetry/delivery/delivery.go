/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package delivery ships batches of span records to the ingestion endpoint.
//
// Delivery is best effort. Send never returns an error: a missing API key
// skips the network entirely, 4xx responses drop the batch at once, and 5xx
// or transport failures are retried with backoff before the batch is dropped.
// Each outcome is logged and counted.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/chainguard-dev/clog"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"chainguard.dev/agentrelay/telemetry/metrics"
	"chainguard.dev/agentrelay/telemetry/record"
	"chainguard.dev/agentrelay/telemetry/retry"
	"chainguard.dev/agentrelay/telemetry/suppress"
)

// Format selects the request body encoding.
type Format string

const (
	// FormatJSON posts a JSON array of span records.
	FormatJSON Format = "json"
	// FormatOTLP posts an OTLP-JSON resourceSpans envelope.
	FormatOTLP Format = "otlp"
)

// Valid reports whether f is a known format.
func (f Format) Valid() bool {
	return f == FormatJSON || f == FormatOTLP
}

// Path returns the endpoint path for f.
func (f Format) Path() string {
	if f == FormatOTLP {
		return "/v2/traces"
	}
	return "/v1/traces/ingest"
}

const (
	// DefaultBaseURL is used when no base URL is configured.
	DefaultBaseURL = "http://localhost:8080"
	// DefaultTimeout bounds one HTTP attempt.
	DefaultTimeout = 10 * time.Second
	// DefaultServiceName labels OTLP resources.
	DefaultServiceName = "agentrelay"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("ingestion endpoint returned %d", e.StatusCode)
	}
	return fmt.Sprintf("ingestion endpoint returned %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether retrying could change the outcome.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500
}

// Exporter posts span batches. It is safe for concurrent use.
type Exporter struct {
	apiKey      string
	baseURL     string
	format      Format
	retry       retry.Config
	timeout     time.Duration
	serviceName string
	httpClient  *http.Client
	relay       *metrics.Relay

	client *resty.Client
}

// New creates an Exporter. The context supplies the logger resty reports
// through.
func New(ctx context.Context, opts ...Option) (*Exporter, error) {
	e := &Exporter{
		baseURL:     DefaultBaseURL,
		format:      FormatJSON,
		retry:       retry.DefaultConfig(),
		timeout:     DefaultTimeout,
		serviceName: DefaultServiceName,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	hc := e.httpClient
	if hc == nil {
		hc = &http.Client{Transport: NewTransport(http.DefaultTransport)}
	}
	e.client = resty.NewWithClient(hc)
	// Retries are owned by the retry package.
	e.client.
		SetTimeout(e.timeout).
		SetRetryCount(0).
		SetHeader("User-Agent", "agentrelay/1.0").
		SetLogger(clog.FromContext(ctx))

	return e, nil
}

// Endpoint returns the URL batches are posted to.
func (e *Exporter) Endpoint() string {
	return strings.TrimRight(e.baseURL, "/") + e.format.Path()
}

// Enabled reports whether an API key is configured.
func (e *Exporter) Enabled() bool {
	return e.apiKey != ""
}

// Send delivers records, absorbing and logging every failure.
func (e *Exporter) Send(ctx context.Context, records []*record.SpanRecord) {
	_ = e.Deliver(ctx, records)
}

// Deliver is Send that also reports the final error, for callers such as the
// CLI that want an exit status. Outcomes are logged either way.
func (e *Exporter) Deliver(ctx context.Context, records []*record.SpanRecord) error {
	if len(records) == 0 {
		return nil
	}
	log := clog.FromContext(ctx).With("spans", len(records), "format", string(e.format))

	if !e.Enabled() {
		log.Warn("No API key configured, skipping telemetry export")
		e.relay.Batch(metrics.BatchSkipped)
		return nil
	}

	body, err := e.Encode(records)
	if err != nil {
		log.Errorf("Failed to encode telemetry batch: %v", err)
		e.relay.Batch(metrics.BatchRejected)
		return fmt.Errorf("encoding batch: %w", err)
	}

	// The export call itself must not be traced back into the relay.
	ctx = suppress.Context(ctx)
	_, err = retry.Do(ctx, e.retry, "telemetry export", nil, func(ctx context.Context, _ retry.State) (struct{}, error) {
		e.relay.Attempt()
		return struct{}{}, e.post(ctx, body)
	})

	var se *StatusError
	switch {
	case err == nil:
		log.Debug("Delivered telemetry batch")
		e.relay.Batch(metrics.BatchDelivered)
	case ctx.Err() != nil:
		log.Warnf("Telemetry export abandoned: %v", err)
		e.relay.Batch(metrics.BatchCanceled)
	case retry.IsPermanent(err) && errors.As(err, &se):
		log.With("status", se.StatusCode).Errorf("Ingestion endpoint rejected telemetry batch: %v", err)
		e.relay.Batch(metrics.BatchRejected)
	default:
		log.Errorf("Dropping telemetry batch: %v", err)
		e.relay.Batch(metrics.BatchExhausted)
	}
	return err
}

// Encode renders records in the exporter's format.
func (e *Exporter) Encode(records []*record.SpanRecord) ([]byte, error) {
	if e.format == FormatOTLP {
		return EncodeOTLP(records, e.serviceName)
	}
	return sonic.Marshal(records)
}

func (e *Exporter) post(ctx context.Context, body []byte) error {
	resp, err := e.client.R().
		SetContext(ctx).
		SetAuthToken(e.apiKey).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(e.Endpoint())
	if err != nil {
		return fmt.Errorf("posting batch: %w", err)
	}

	code := resp.StatusCode()
	if code < 300 {
		return nil
	}
	se := &StatusError{StatusCode: code, Body: truncate(resp.String(), 512)}
	if se.Temporary() {
		return se
	}
	return retry.Permanent(se)
}

// NewTransport wraps base with otelhttp instrumentation that starts no span
// for requests made under suppress.Context. Export requests always are, so
// an SDK exporter feeding the relay never sees its own POSTs.
func NewTransport(base http.RoundTripper, opts ...otelhttp.Option) http.RoundTripper {
	opts = append(opts, otelhttp.WithFilter(func(r *http.Request) bool {
		return !suppress.Active(r.Context())
	}))
	return otelhttp.NewTransport(base, opts...)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
