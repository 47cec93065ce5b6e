/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package agentsource

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"chainguard.dev/agentrelay/telemetry/pipeline"
	"chainguard.dev/agentrelay/telemetry/record"
)

func randomString() string { return uuid.NewString() }

// mockTracer is a generic test implementation of Tracer[T]
type mockTracer[T any] struct {
	traces *[]*Trace[T]
}

func (m *mockTracer[T]) NewTrace(ctx context.Context, prompt string) *Trace[T] {
	return newTraceWithTracer[T](ctx, m, prompt)
}

func (m *mockTracer[T]) RecordTrace(trace *Trace[T]) {
	*m.traces = append(*m.traces, trace)
}

func TestWithTracer(t *testing.T) {
	ctx := context.Background()
	var traces []*Trace[string]
	tracer := &mockTracer[string]{traces: &traces}

	if retrieved := TracerFromContext[string](WithTracer[string](ctx, tracer)); retrieved != tracer {
		t.Errorf("retrieved tracer: got = %v, wanted = %v", retrieved, tracer)
	}
	if retrieved := TracerFromContext[string](ctx); retrieved == nil {
		t.Error("retrieved tracer from empty context: got = nil, wanted = default tracer")
	}
}

func TestTracerFromContextUsesPipeline(t *testing.T) {
	var (
		mu  sync.Mutex
		got [][]*record.SpanRecord
	)
	p, err := pipeline.New(context.Background(), pipeline.SenderFunc(func(_ context.Context, records []*record.SpanRecord) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, records)
	}))
	if err != nil {
		t.Fatalf("pipeline.New() = %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	ctx := pipeline.WithPipeline(context.Background(), p)
	StartTrace[string](ctx, randomString()).Complete(randomString(), nil)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || len(got[0]) != 1 {
		t.Fatalf("relayed batches: got = %v, wanted one batch with the agent span", got)
	}
	if got[0][0].LogType != record.LogTypeAgent {
		t.Errorf("LogType: got = %s, wanted = agent", got[0][0].LogType)
	}
}

func TestStartTrace(t *testing.T) {
	ctx := context.Background()

	var traces []*Trace[string]
	ctx = WithTracer[string](ctx, &mockTracer[string]{traces: &traces})
	ctx = WithExecutionContext(ctx, ExecutionContext{Workflow: "triage"})

	prompt := randomString()
	trace := StartTrace[string](ctx, prompt)
	if trace.InputPrompt != prompt {
		t.Errorf("trace prompt: got = %q, wanted = %q", trace.InputPrompt, prompt)
	}
	if trace.Name != "triage" {
		t.Errorf("trace name: got = %q, wanted = %q", trace.Name, "triage")
	}
	if len(trace.ID) != 32 {
		t.Errorf("trace id: got = %q, wanted 32 hex characters", trace.ID)
	}
}

func TestAutoRecordTrace(t *testing.T) {
	var traces []*Trace[string]
	ctx := WithTracer[string](context.Background(), &mockTracer[string]{traces: &traces})

	trace := StartTrace[string](ctx, randomString())
	trace.StartToolCall("tc1", randomString(), nil).Complete(randomString(), nil)

	if len(traces) != 0 {
		t.Errorf("traces before completion: got = %d, wanted = 0", len(traces))
	}

	trace.Complete(randomString(), nil)

	if len(traces) != 1 {
		t.Fatalf("traces after completion: got = %d, wanted = 1", len(traces))
	}
	if traces[0] != trace {
		t.Errorf("recorded trace: got = %v, wanted = %v", traces[0], trace)
	}
}

func TestMultipleTracersWithDifferentTypes(t *testing.T) {
	var stringTraces []*Trace[string]
	var intTraces []*Trace[int]

	ctx := WithTracer[string](context.Background(), &mockTracer[string]{traces: &stringTraces})
	ctx = WithTracer[int](ctx, &mockTracer[int]{traces: &intTraces})

	StartTrace[string](ctx, randomString()).Complete("done", nil)
	StartTrace[int](ctx, randomString()).Complete(42, nil)

	if len(stringTraces) != 1 || stringTraces[0].Result != "done" {
		t.Errorf("string traces: got = %v, wanted one with result done", stringTraces)
	}
	if len(intTraces) != 1 || intTraces[0].Result != 42 {
		t.Errorf("int traces: got = %v, wanted one with result 42", intTraces)
	}
}

func TestByCode(t *testing.T) {
	var captured *Trace[string]
	tracer := ByCode[string](func(trace *Trace[string]) { captured = trace })

	trace := tracer.NewTrace(context.Background(), randomString())
	trace.StartToolCall("tc1", randomString(), map[string]any{"key": "value"}).Complete(randomString(), nil)
	result := randomString()
	trace.Complete(result, nil)

	if captured != trace {
		t.Fatalf("captured trace: got = %v, wanted = %v", captured, trace)
	}
	if len(captured.ToolCalls) != 1 {
		t.Errorf("captured trace tool calls: got = %d, wanted = 1", len(captured.ToolCalls))
	}
	if captured.Result != result {
		t.Errorf("captured trace result: got = %v, wanted = %q", captured.Result, result)
	}
}

func TestByCodeWithNilCallback(t *testing.T) {
	trace := ByCode[string](nil).NewTrace(context.Background(), randomString())
	trace.Complete(randomString(), nil)
}

func TestByCodeParallelExecution(t *testing.T) {
	started := make(chan int, 3)
	proceed := make(chan struct{})

	callback := func(n int) TraceCallback[string] {
		return func(*Trace[string]) {
			started <- n
			<-proceed
		}
	}
	tracer := ByCode[string](callback(1), callback(2), callback(3))
	trace := tracer.NewTrace(context.Background(), randomString())

	done := make(chan struct{})
	go func() {
		trace.Complete(randomString(), nil)
		close(done)
	}()

	timeout := time.After(time.Second)
	for range 3 {
		select {
		case <-started:
		case <-timeout:
			t.Fatal("Callbacks did not start in parallel")
		}
	}
	close(proceed)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Trace completion did not finish")
	}
}

func TestExecutionContext(t *testing.T) {
	ec := ExecutionContext{
		SessionID:  "s-1",
		Workflow:   "triage",
		TurnNumber: 2,
		Labels:     map[string]string{"team": "ml"},
	}
	ctx := WithExecutionContext(context.Background(), ec)
	if got := GetExecutionContext(ctx); got.SessionID != "s-1" || got.TurnNumber != 2 {
		t.Errorf("GetExecutionContext() = %+v, wanted = %+v", got, ec)
	}
	if got := GetExecutionContext(context.Background()); got.SessionID != "" {
		t.Errorf("GetExecutionContext(empty) = %+v, wanted zero value", got)
	}

	md := ec.Metadata()
	if md["team"] != "ml" || md["turn"] != 2 {
		t.Errorf("Metadata() = %v, wanted team and turn", md)
	}
	if attrs := ec.EnrichAttributes(nil); len(attrs) != 2 {
		t.Errorf("EnrichAttributes() = %v, wanted workflow and turn only", attrs)
	}
}
