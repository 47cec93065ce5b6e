/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chainguard.dev/agentrelay/telemetry/ids"
	"chainguard.dev/agentrelay/telemetry/metrics"
	"chainguard.dev/agentrelay/telemetry/rawspan"
	"chainguard.dev/agentrelay/telemetry/record"
	"chainguard.dev/agentrelay/telemetry/suppress"
	"chainguard.dev/agentrelay/telemetry/tracecontext"
)

type recorder struct {
	mu      sync.Mutex
	batches [][]*record.SpanRecord
}

func (r *recorder) Send(_ context.Context, records []*record.SpanRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, records)
}

func (r *recorder) snapshot() [][]*record.SpanRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]*record.SpanRecord(nil), r.batches...)
}

func newPipeline(t *testing.T, sender Sender, opts ...Option) *Pipeline {
	t.Helper()
	p, err := New(context.Background(), sender, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return p
}

func TestObserveEndToEnd(t *testing.T) {
	rec := &recorder{}
	p := newPipeline(t, rec, WithRelayMetrics(metrics.NewRelay("pipeline-e2e-test")))

	p.Observe(context.Background(), nil,
		rawspan.Map{"id": "wf", "name": "workflow", "trace_id": "t-1", "start": 1700000000, "end": 1700000005},
		rawspan.Map{"id": "plan", "parent_id": "wf", "trace_id": "t-1", "type": "task"},
		rawspan.Map{"id": "llm", "parent_id": "plan", "trace_id": "t-1", "model": "gpt-4o", "output": "42"},
	)

	batches := rec.snapshot()
	require.Len(t, batches, 1)
	got := batches[0]
	require.Len(t, got, 3)

	wantTrace := ids.NormalizeTraceID("t-1")
	for _, r := range got {
		if r.TraceID != wantTrace {
			t.Errorf("TraceID: got = %q, wanted = %q", r.TraceID, wantTrace)
		}
	}
	if got[0].LogType != record.LogTypeWorkflow || got[1].LogType != record.LogTypeTask || got[2].LogType != record.LogTypeGeneration {
		t.Errorf("log types: got = %s/%s/%s", got[0].LogType, got[1].LogType, got[2].LogType)
	}
	if got[0].Output != "42" || got[1].Output != "42" {
		t.Errorf("propagated outputs: got = %v/%v, wanted 42", got[0].Output, got[1].Output)
	}
	if got[2].ParentID != got[1].SpanID || got[1].ParentID != got[0].SpanID {
		t.Error("parent links were not preserved through canonicalization")
	}
	if got[0].TraceName != "workflow" {
		t.Errorf("TraceName: got = %q, wanted root span name", got[0].TraceName)
	}
}

func TestDuplicatesDropped(t *testing.T) {
	rec := &recorder{}
	p := newPipeline(t, rec)
	span := rawspan.Map{"id": "s1", "trace_id": "t-dup", "name": "step"}

	p.Observe(context.Background(), nil, span)
	p.Observe(context.Background(), nil, span)
	p.Observe(context.Background(), nil, span, rawspan.Map{"id": "s2", "trace_id": "t-dup"})

	batches := rec.snapshot()
	require.Len(t, batches, 2)
	if len(batches[1]) != 1 || batches[1][0].SpanName != "s2" {
		t.Errorf("second batch: got = %+v, wanted only s2", batches[1])
	}
	if !p.Dedup().Contains("t-dup", "s1") {
		t.Error("dedup cache does not contain s1")
	}
}

func TestIdentitylessSpansNeverDeduplicated(t *testing.T) {
	rec := &recorder{}
	p := newPipeline(t, rec)
	span := rawspan.Map{"name": "anonymous"}

	p.Observe(context.Background(), nil, span)
	p.Observe(context.Background(), nil, span)

	if got := len(rec.snapshot()); got != 2 {
		t.Errorf("batches: got = %d, wanted = 2", got)
	}
}

func TestGroupsByTrace(t *testing.T) {
	rec := &recorder{}
	p := newPipeline(t, rec, WithDefaults(tracecontext.Defaults{CustomerIdentifier: "acme"}))

	p.Observe(context.Background(), nil,
		rawspan.Map{"id": "a1", "trace_id": "trace-a", "name": "a-root"},
		rawspan.Map{"id": "b1", "trace_id": "trace-b", "name": "b-root"},
		rawspan.Map{"id": "a2", "trace_id": "trace-a", "parent_id": "a1"},
	)

	batches := rec.snapshot()
	require.Len(t, batches, 1)
	got := batches[0]
	require.Len(t, got, 3)

	a, b := ids.NormalizeTraceID("trace-a"), ids.NormalizeTraceID("trace-b")
	if got[0].TraceID != a || got[1].TraceID != a || got[2].TraceID != b {
		t.Errorf("grouping: got = %s, %s, %s", got[0].TraceID, got[1].TraceID, got[2].TraceID)
	}
	if got[2].TraceName != "b-root" || got[0].TraceName != "a-root" {
		t.Errorf("per-group context: got = %q/%q", got[0].TraceName, got[2].TraceName)
	}
	for _, r := range got {
		if r.CustomerIdentifier != "acme" {
			t.Errorf("CustomerIdentifier: got = %q, wanted default", r.CustomerIdentifier)
		}
	}
}

func TestTraceObjectAppliesToItsSpans(t *testing.T) {
	rec := &recorder{}
	p := newPipeline(t, rec)

	trace := rawspan.Map{"id": "trace_123", "workflow_name": "support", "session_id": "sess"}
	p.Observe(context.Background(), trace, rawspan.Map{"id": "s"})

	got := rec.snapshot()[0][0]
	if got.TraceID != ids.NormalizeTraceID("trace_123") {
		t.Errorf("TraceID: got = %q, wanted canonical trace_123", got.TraceID)
	}
	if got.WorkflowName != "support" || got.SessionIdentifier != "sess" {
		t.Errorf("context: got = %q/%q", got.WorkflowName, got.SessionIdentifier)
	}
}

func TestSuppressedContextIgnored(t *testing.T) {
	rec := &recorder{}
	p := newPipeline(t, rec)
	p.Observe(suppress.Context(context.Background()), nil, rawspan.Map{"id": "x"})
	if got := len(rec.snapshot()); got != 0 {
		t.Errorf("batches: got = %d, wanted = 0", got)
	}
}

func TestMalformedSpanSkipped(t *testing.T) {
	rec := &recorder{}
	p := newPipeline(t, rec)
	p.Observe(context.Background(), nil,
		rawspan.Map{"id": "loop", "parent_id": "loop", "trace_id": "t-m"},
		rawspan.Map{"id": "ok", "trace_id": "t-m"},
	)
	batches := rec.snapshot()
	require.Len(t, batches, 1)
	if len(batches[0]) != 1 || batches[0][0].SpanName != "ok" {
		t.Errorf("batch: got = %+v, wanted only the valid span", batches[0])
	}
}

type blockingSender struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
	recorder
}

func (b *blockingSender) Send(ctx context.Context, records []*record.SpanRecord) {
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
	case <-ctx.Done():
		return
	}
	b.recorder.Send(ctx, records)
}

func TestAsyncQueueFullDrops(t *testing.T) {
	sender := &blockingSender{started: make(chan struct{}), release: make(chan struct{})}
	p, err := New(context.Background(), sender, WithAsync(1, 1))
	require.NoError(t, err)

	ctx := context.Background()
	p.Observe(ctx, nil, rawspan.Map{"id": "1", "trace_id": "q"})
	<-sender.started
	p.Observe(ctx, nil, rawspan.Map{"id": "2", "trace_id": "q"})
	p.Observe(ctx, nil, rawspan.Map{"id": "3", "trace_id": "q"})

	close(sender.release)
	require.NoError(t, p.Shutdown(context.Background()))

	batches := sender.snapshot()
	if len(batches) != 2 {
		t.Fatalf("batches: got = %d, wanted = 2 (third dropped)", len(batches))
	}
	if batches[1][0].SpanName != "2" {
		t.Errorf("second batch: got = %q, wanted span 2", batches[1][0].SpanName)
	}

	// Observing after shutdown drops without panicking on the closed queue.
	p.Observe(ctx, nil, rawspan.Map{"id": "4", "trace_id": "q"})
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestShutdownDeadlineCancelsDelivery(t *testing.T) {
	sender := &blockingSender{started: make(chan struct{}), release: make(chan struct{})}
	p, err := New(context.Background(), sender, WithAsync(4, 1))
	require.NoError(t, err)

	p.Observe(context.Background(), nil, rawspan.Map{"id": "1", "trace_id": "s"})
	<-sender.started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	if err := p.Shutdown(ctx); err == nil {
		t.Error("Shutdown() = nil, wanted deadline error")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Shutdown took %v, wanted prompt return", elapsed)
	}
	if got := len(sender.snapshot()); got != 0 {
		t.Errorf("batches: got = %d, wanted = 0", got)
	}
}

func TestOptionsValidate(t *testing.T) {
	if _, err := New(context.Background(), nil); err == nil {
		t.Error("New(nil sender) = nil error")
	}
	bad := []Option{WithAsync(0, 1), WithAsync(1, 0), WithDedupCache(nil), WithNormalizer(nil)}
	for i, opt := range bad {
		if _, err := New(context.Background(), &recorder{}, opt); err == nil {
			t.Errorf("option %d: New() = nil error, wanted failure", i)
		}
	}
}

func TestContextCarrier(t *testing.T) {
	if FromContext(context.Background()) != nil {
		t.Error("FromContext(background) != nil")
	}
	p := newPipeline(t, SenderFunc(func(context.Context, []*record.SpanRecord) {}))
	if got := FromContext(WithPipeline(context.Background(), p)); got != p {
		t.Errorf("FromContext() = %p, wanted %p", got, p)
	}
}
