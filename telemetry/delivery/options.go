/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package delivery

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"chainguard.dev/agentrelay/telemetry/metrics"
	"chainguard.dev/agentrelay/telemetry/retry"
)

// Option is a functional option for configuring the exporter
type Option func(*Exporter) error

// WithAPIKey sets the bearer token. An empty key disables delivery.
func WithAPIKey(key string) Option {
	return func(e *Exporter) error {
		e.apiKey = key
		return nil
	}
}

// WithBaseURL sets the ingestion endpoint base URL.
func WithBaseURL(base string) Option {
	return func(e *Exporter) error {
		u, err := url.Parse(base)
		if err != nil {
			return fmt.Errorf("parsing base url: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("base url %q must be http or https", base)
		}
		e.baseURL = base
		return nil
	}
}

// WithFormat selects the wire encoding.
func WithFormat(f Format) Option {
	return func(e *Exporter) error {
		if !f.Valid() {
			return fmt.Errorf("unknown format %q", f)
		}
		e.format = f
		return nil
	}
}

// WithRetryConfig overrides the retry policy.
func WithRetryConfig(cfg retry.Config) Option {
	return func(e *Exporter) error {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid retry config: %w", err)
		}
		e.retry = cfg
		return nil
	}
}

// WithTimeout bounds each HTTP attempt.
func WithTimeout(d time.Duration) Option {
	return func(e *Exporter) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %v", d)
		}
		e.timeout = d
		return nil
	}
}

// WithHTTPClient sets the underlying HTTP client. An instrumented transport
// should skip suppressed requests the way NewTransport does.
func WithHTTPClient(hc *http.Client) Option {
	return func(e *Exporter) error {
		if hc == nil {
			return errors.New("http client cannot be nil")
		}
		e.httpClient = hc
		return nil
	}
}

// WithServiceName sets the OTLP resource service.name used for records that
// do not carry their own.
func WithServiceName(name string) Option {
	return func(e *Exporter) error {
		if name == "" {
			return errors.New("service name cannot be empty")
		}
		e.serviceName = name
		return nil
	}
}

// WithRelayMetrics records delivery attempts and batch outcomes.
func WithRelayMetrics(r *metrics.Relay) Option {
	return func(e *Exporter) error {
		e.relay = r
		return nil
	}
}
