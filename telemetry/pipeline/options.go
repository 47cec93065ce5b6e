/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package pipeline

import (
	"errors"
	"fmt"

	"chainguard.dev/agentrelay/telemetry/dedup"
	"chainguard.dev/agentrelay/telemetry/metrics"
	"chainguard.dev/agentrelay/telemetry/normalize"
	"chainguard.dev/agentrelay/telemetry/tracecontext"
)

// Option is a functional option for configuring the pipeline
type Option func(*Pipeline) error

// WithDedupSize bounds the dedup cache. Zero or less selects the default.
func WithDedupSize(n int) Option {
	return func(p *Pipeline) error {
		p.dedup = dedup.New(n)
		return nil
	}
}

// WithDedupCache shares an existing cache, for example between pipelines
// fed by different sources of the same traces.
func WithDedupCache(c *dedup.Cache) Option {
	return func(p *Pipeline) error {
		if c == nil {
			return errors.New("dedup cache cannot be nil")
		}
		p.dedup = c
		return nil
	}
}

// WithDefaults sets the trace context fallbacks.
func WithDefaults(d tracecontext.Defaults) Option {
	return func(p *Pipeline) error {
		p.resolver = tracecontext.NewResolver(d)
		return nil
	}
}

// WithNormalizer replaces the span normalizer.
func WithNormalizer(n *normalize.Normalizer) Option {
	return func(p *Pipeline) error {
		if n == nil {
			return errors.New("normalizer cannot be nil")
		}
		p.normalizer = n
		return nil
	}
}

// WithGenAIMetrics records token, tool call and span counters for every
// relayed record.
func WithGenAIMetrics(m *metrics.GenAI) Option {
	return func(p *Pipeline) error {
		p.genai = m
		return nil
	}
}

// WithRelayMetrics records span and batch outcome counters.
func WithRelayMetrics(r *metrics.Relay) Option {
	return func(p *Pipeline) error {
		p.relay = r
		return nil
	}
}

// WithAsync moves delivery onto background workers draining a bounded
// queue. Enqueueing never blocks: batches arriving while the queue is full
// are dropped and logged.
func WithAsync(queueSize, workers int) Option {
	return func(p *Pipeline) error {
		if queueSize <= 0 {
			return fmt.Errorf("queue size must be positive, got %d", queueSize)
		}
		if workers <= 0 {
			return fmt.Errorf("workers must be positive, got %d", workers)
		}
		p.queueSize, p.workers = queueSize, workers
		return nil
	}
}
