/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Span outcomes.
const (
	SpanObserved  = "observed"
	SpanDuplicate = "duplicate"
	SpanMalformed = "malformed"
	SpanRelayed   = "relayed"
)

// Batch outcomes.
const (
	BatchDelivered = "delivered"
	BatchRejected  = "rejected"
	BatchExhausted = "exhausted"
	BatchSkipped   = "skipped"
	BatchQueueFull = "queue_full"
	BatchCanceled  = "canceled"
)

var (
	spanCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentrelay_spans_total",
			Help: "Total number of spans seen by the relay, by outcome",
		},
		[]string{"relay", "outcome"},
	)

	batchCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentrelay_batches_total",
			Help: "Total number of batches handed to delivery, by outcome",
		},
		[]string{"relay", "outcome"},
	)

	attemptCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentrelay_delivery_attempts_total",
			Help: "Total number of HTTP delivery attempts",
		},
		[]string{"relay"},
	)
)

// Relay records Prometheus counters for one named relay.
type Relay struct {
	name     string
	attempts prometheus.Counter
}

// NewRelay creates a Relay whose series carry the relay label.
func NewRelay(name string) *Relay {
	return &Relay{
		name:     name,
		attempts: attemptCounter.With(prometheus.Labels{"relay": name}),
	}
}

// Name returns the relay label value.
func (r *Relay) Name() string { return r.name }

// Spans adds n spans with the given outcome.
func (r *Relay) Spans(outcome string, n int) {
	if r == nil || n <= 0 {
		return
	}
	spanCounter.With(prometheus.Labels{"relay": r.name, "outcome": outcome}).Add(float64(n))
}

// Batch counts one batch with the given outcome.
func (r *Relay) Batch(outcome string) {
	if r == nil {
		return
	}
	batchCounter.With(prometheus.Labels{"relay": r.name, "outcome": outcome}).Inc()
}

// Attempt counts one HTTP delivery attempt.
func (r *Relay) Attempt() {
	if r == nil {
		return
	}
	r.attempts.Inc()
}
