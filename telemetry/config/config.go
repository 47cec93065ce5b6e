/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package config loads relay settings from AGENTRELAY_* environment
// variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"

	"chainguard.dev/agentrelay/telemetry/delivery"
	"chainguard.dev/agentrelay/telemetry/metrics"
	"chainguard.dev/agentrelay/telemetry/pipeline"
	"chainguard.dev/agentrelay/telemetry/retry"
	"chainguard.dev/agentrelay/telemetry/tracecontext"
)

// Prefix is prepended to every variable name.
const Prefix = "AGENTRELAY_"

// Config is the relay configuration.
type Config struct {
	// APIKey authenticates against the ingestion endpoint. Empty disables
	// delivery.
	APIKey  string        `env:"API_KEY"`
	BaseURL string        `env:"BASE_URL,default=http://localhost:8080"`
	Format  string        `env:"FORMAT,default=json"`
	Timeout time.Duration `env:"TIMEOUT,default=10s"`

	MaxAttempts    int           `env:"MAX_ATTEMPTS,default=3"`
	BaseBackoff    time.Duration `env:"BASE_BACKOFF,default=1s"`
	MaxBackoff     time.Duration `env:"MAX_BACKOFF,default=30s"`
	JitterFraction float64       `env:"JITTER_FRACTION,default=0.1"`

	DedupSize int `env:"DEDUP_SIZE,default=10000"`
	// QueueSize enables background delivery when positive.
	QueueSize int `env:"QUEUE_SIZE,default=0"`
	Workers   int `env:"WORKERS,default=1"`

	RelayName   string `env:"RELAY_NAME,default=default"`
	ServiceName string `env:"SERVICE_NAME,default=agentrelay"`

	TraceName            string            `env:"TRACE_NAME"`
	WorkflowName         string            `env:"WORKFLOW_NAME"`
	SessionIdentifier    string            `env:"SESSION_IDENTIFIER"`
	CustomerIdentifier   string            `env:"CUSTOMER_IDENTIFIER"`
	TraceGroupIdentifier string            `env:"TRACE_GROUP_IDENTIFIER"`
	Metadata             map[string]string `env:"METADATA"`
}

// Load reads the configuration from the process environment.
func Load(ctx context.Context) (*Config, error) {
	return LoadFrom(ctx, envconfig.OsLookuper())
}

// LoadFrom reads the configuration from l, applying Prefix.
func LoadFrom(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: envconfig.PrefixLookuper(Prefix, l),
	}); err != nil {
		return nil, fmt.Errorf("processing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges that envconfig cannot express.
func (c *Config) Validate() error {
	if err := c.Retry().Validate(); err != nil {
		return fmt.Errorf("invalid retry settings: %w", err)
	}
	if !delivery.Format(c.Format).Valid() {
		return fmt.Errorf("unknown format %q", c.Format)
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if c.DedupSize < 0 {
		return errors.New("dedup size cannot be negative")
	}
	if c.QueueSize < 0 {
		return errors.New("queue size cannot be negative")
	}
	if c.QueueSize > 0 && c.Workers < 1 {
		return errors.New("background delivery needs at least one worker")
	}
	return nil
}

// Retry returns the retry policy.
func (c *Config) Retry() retry.Config {
	return retry.Config{
		MaxAttempts:    c.MaxAttempts,
		BaseBackoff:    c.BaseBackoff,
		MaxBackoff:     c.MaxBackoff,
		JitterFraction: c.JitterFraction,
	}
}

// Defaults returns the trace context fallbacks.
func (c *Config) Defaults() tracecontext.Defaults {
	var md map[string]any
	if len(c.Metadata) > 0 {
		md = make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			md[k] = v
		}
	}
	return tracecontext.Defaults{
		TraceName:            c.TraceName,
		WorkflowName:         c.WorkflowName,
		SessionIdentifier:    c.SessionIdentifier,
		CustomerIdentifier:   c.CustomerIdentifier,
		TraceGroupIdentifier: c.TraceGroupIdentifier,
		Metadata:             md,
	}
}

// DeliveryOptions converts the configuration into exporter options.
func (c *Config) DeliveryOptions(relay *metrics.Relay) []delivery.Option {
	return []delivery.Option{
		delivery.WithAPIKey(c.APIKey),
		delivery.WithBaseURL(c.BaseURL),
		delivery.WithFormat(delivery.Format(c.Format)),
		delivery.WithRetryConfig(c.Retry()),
		delivery.WithTimeout(c.Timeout),
		delivery.WithServiceName(c.ServiceName),
		delivery.WithRelayMetrics(relay),
	}
}

// PipelineOptions converts the configuration into pipeline options.
func (c *Config) PipelineOptions(genai *metrics.GenAI, relay *metrics.Relay) []pipeline.Option {
	opts := []pipeline.Option{
		pipeline.WithDedupSize(c.DedupSize),
		pipeline.WithDefaults(c.Defaults()),
		pipeline.WithGenAIMetrics(genai),
		pipeline.WithRelayMetrics(relay),
	}
	if c.QueueSize > 0 {
		opts = append(opts, pipeline.WithAsync(c.QueueSize, c.Workers))
	}
	return opts
}
