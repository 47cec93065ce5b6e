/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package pipeline owns the path from observed raw spans to delivered
// records: dedup, grouping by trace, context resolution, normalization,
// output propagation and sending.
//
// A Pipeline is an explicit value. Sources receive it through their
// constructors or through the context:
//
//	p, err := pipeline.New(ctx, exporter, pipeline.WithAsync(256, 2))
//	if err != nil {
//		return err
//	}
//	defer p.Shutdown(ctx)
//	ctx = pipeline.WithPipeline(ctx, p)
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chainguard-dev/clog"
	"golang.org/x/sync/errgroup"

	"chainguard.dev/agentrelay/telemetry/dedup"
	"chainguard.dev/agentrelay/telemetry/metrics"
	"chainguard.dev/agentrelay/telemetry/normalize"
	"chainguard.dev/agentrelay/telemetry/propagate"
	"chainguard.dev/agentrelay/telemetry/rawspan"
	"chainguard.dev/agentrelay/telemetry/record"
	"chainguard.dev/agentrelay/telemetry/suppress"
	"chainguard.dev/agentrelay/telemetry/tracecontext"
)

// Observer receives raw spans from a span source. trace is the optional
// trace object shared by the spans; spans may belong to several traces.
type Observer interface {
	Observe(ctx context.Context, trace rawspan.Span, spans ...rawspan.Span)
}

// Source is a span source adapter that forwards what it captures to an
// Observer.
type Source interface {
	Attach(Observer)
}

// Sender ships a batch of records. Implementations absorb their own
// failures.
type Sender interface {
	Send(ctx context.Context, records []*record.SpanRecord)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(context.Context, []*record.SpanRecord)

// Send implements Sender.
func (f SenderFunc) Send(ctx context.Context, records []*record.SpanRecord) { f(ctx, records) }

// traceObjectIDKeys mirrors the trace object keys the resolver consults.
var traceObjectIDKeys = []string{"trace_id", "traceId", "id"}

// Pipeline implements Observer.
type Pipeline struct {
	sender     Sender
	dedup      *dedup.Cache
	resolver   *tracecontext.Resolver
	normalizer *normalize.Normalizer
	genai      *metrics.GenAI
	relay      *metrics.Relay

	queueSize, workers int

	mu     sync.RWMutex
	closed bool
	queue  chan []*record.SpanRecord
	eg     *errgroup.Group
	cancel context.CancelFunc
}

var _ Observer = (*Pipeline)(nil)

// New creates a Pipeline delivering through sender. With WithAsync, workers
// start immediately and run until Shutdown; they log through ctx's logger
// but are not canceled by ctx.
func New(ctx context.Context, sender Sender, opts ...Option) (*Pipeline, error) {
	if sender == nil {
		return nil, errors.New("sender cannot be nil")
	}
	p := &Pipeline{
		sender:     sender,
		dedup:      dedup.New(dedup.DefaultMaxSize),
		resolver:   tracecontext.NewResolver(tracecontext.Defaults{}),
		normalizer: normalize.New(),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if p.workers > 0 {
		wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		p.cancel = cancel
		p.queue = make(chan []*record.SpanRecord, p.queueSize)
		p.eg, wctx = errgroup.WithContext(wctx)
		for range p.workers {
			p.eg.Go(func() error {
				p.drain(wctx)
				return nil
			})
		}
	}
	return p, nil
}

// Observe converts spans and delivers them as one batch. Spans observed
// inside a suppressed context are ignored. Observe never fails.
func (p *Pipeline) Observe(ctx context.Context, trace rawspan.Span, spans ...rawspan.Span) {
	if suppress.Active(ctx) {
		return
	}
	records := p.Process(ctx, trace, spans)
	if len(records) == 0 {
		return
	}
	if p.queue == nil {
		p.sender.Send(ctx, records)
		return
	}
	p.enqueue(ctx, records)
}

// Process runs every stage except delivery and returns the records of all
// trace groups, in order of each group's first span.
func (p *Pipeline) Process(ctx context.Context, trace rawspan.Span, spans []rawspan.Span) []*record.SpanRecord {
	if len(spans) == 0 {
		return nil
	}
	p.relay.Spans(metrics.SpanObserved, len(spans))

	traceID := rawspan.String(trace, traceObjectIDKeys...)

	var order []string
	groups := make(map[string][]rawspan.Span)
	duplicates := 0
	for _, s := range spans {
		if s == nil {
			continue
		}
		tid := rawspan.TraceID(s)
		if tid == "" {
			tid = traceID
		}
		if !p.dedup.Add(tid, rawspan.SpanID(s)) {
			duplicates++
			continue
		}
		if _, ok := groups[tid]; !ok {
			order = append(order, tid)
		}
		groups[tid] = append(groups[tid], s)
	}

	var out []*record.SpanRecord
	malformed := 0
	for _, tid := range order {
		group := groups[tid]

		var tobj rawspan.Span
		if trace != nil && (traceID == "" || traceID == tid) {
			tobj = trace
		}
		tc := p.resolver.Resolve(tobj, group)
		idm := normalize.NewIDMap(tc.TraceID, group)

		records := make([]*record.SpanRecord, 0, len(group))
		for _, s := range group {
			r, ok := p.normalizer.Normalize(ctx, s, tc, idm)
			if !ok {
				malformed++
				continue
			}
			records = append(records, r)
		}
		propagate.Outputs(records)

		for _, r := range records {
			p.genai.RecordSpan(ctx, r)
		}
		out = append(out, records...)
	}

	if duplicates > 0 {
		clog.FromContext(ctx).With("duplicates", duplicates).Debug("Skipped already exported spans")
	}
	p.relay.Spans(metrics.SpanDuplicate, duplicates)
	p.relay.Spans(metrics.SpanMalformed, malformed)
	p.relay.Spans(metrics.SpanRelayed, len(out))
	return out
}

func (p *Pipeline) enqueue(ctx context.Context, records []*record.SpanRecord) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	log := clog.FromContext(ctx).With("spans", len(records))
	if p.closed {
		log.Warn("Pipeline is shut down, dropping telemetry batch")
		p.relay.Batch(metrics.BatchCanceled)
		return
	}
	select {
	case p.queue <- records:
	default:
		log.Warn("Telemetry queue is full, dropping batch")
		p.relay.Batch(metrics.BatchQueueFull)
	}
}

func (p *Pipeline) drain(ctx context.Context) {
	for records := range p.queue {
		if ctx.Err() != nil {
			p.relay.Batch(metrics.BatchCanceled)
			continue
		}
		p.sender.Send(ctx, records)
	}
}

// Shutdown stops accepting batches and waits for queued ones to be sent.
// When ctx ends first, in-flight deliveries are canceled and the remaining
// queue is discarded. Shutdown is idempotent and a no-op for synchronous
// pipelines.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed || p.queue == nil {
		p.closed = true
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- p.eg.Wait() }()

	select {
	case err := <-done:
		p.cancel()
		return err
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

// Dedup returns the pipeline's dedup cache.
func (p *Pipeline) Dedup() *dedup.Cache { return p.dedup }

type pipelineKey struct{}

// WithPipeline attaches p to ctx.
func WithPipeline(ctx context.Context, p *Pipeline) context.Context {
	return context.WithValue(ctx, pipelineKey{}, p)
}

// FromContext returns the Pipeline attached to ctx, or nil.
func FromContext(ctx context.Context) *Pipeline {
	p, _ := ctx.Value(pipelineKey{}).(*Pipeline)
	return p
}
