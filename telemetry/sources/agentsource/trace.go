/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package agentsource

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"chainguard.dev/agentrelay/telemetry/ids"
)

const instrumentationName = "chainguard.dev/agentrelay/agentsource"

// ReasoningContent represents internal reasoning from an LLM
type ReasoningContent struct {
	Thinking string `json:"thinking"`
}

// Generation is one model call made during a trace.
type Generation struct {
	Model            string    `json:"model"`
	Input            any       `json:"input,omitempty"`
	Output           any       `json:"output,omitempty"`
	PromptTokens     int64     `json:"prompt_tokens,omitempty"`
	CompletionTokens int64     `json:"completion_tokens,omitempty"`
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time"`
}

// ToolCall represents a single tool invocation within a trace
type ToolCall[T any] struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Params    map[string]any `json:"params"`
	Result    any            `json:"result"`
	Error     error          `json:"error,omitempty"`
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time"`
	trace     *Trace[T]
	mu        sync.Mutex
	span      oteltrace.Span
}

// Trace represents a complete agent interaction from prompt to result
type Trace[T any] struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	InputPrompt string             `json:"input_prompt"`
	ExecContext ExecutionContext   `json:"exec_context,omitempty"`
	ToolCalls   []*ToolCall[T]     `json:"tool_calls"`
	Generations []Generation       `json:"generations,omitempty"`
	Reasoning   []ReasoningContent `json:"reasoning,omitempty"`
	Result      T                  `json:"result"`
	Error       error              `json:"error,omitempty"`
	StartTime   time.Time          `json:"start_time"`
	EndTime     time.Time          `json:"end_time"`
	Metadata    map[string]any     `json:"metadata,omitempty"`
	tracer      Tracer[T]
	mu          sync.Mutex // Protects mutable fields
	ctx         context.Context
	span        oteltrace.Span
}

func newTraceWithTracer[T any](ctx context.Context, tracer Tracer[T], prompt string) *Trace[T] {
	execCtx := GetExecutionContext(ctx)

	tr := otel.Tracer(instrumentationName)
	ctx, span := tr.Start(ctx, "agent.execution", oteltrace.WithAttributes(
		execCtx.EnrichAttributes([]attribute.KeyValue{attribute.String("agent.prompt", prompt)})...,
	))

	name := execCtx.Workflow
	if name == "" {
		name = "agent"
	}
	return &Trace[T]{
		ID:          ids.NewTraceID(),
		Name:        name,
		InputPrompt: prompt,
		ExecContext: execCtx,
		ToolCalls:   []*ToolCall[T]{},
		StartTime:   time.Now(),
		Metadata:    make(map[string]any),
		tracer:      tracer,
		ctx:         ctx,
		span:        span,
	}
}

// Context returns the context the trace was started with, carrying its
// OpenTelemetry span.
func (t *Trace[T]) Context() context.Context { return t.ctx }

// SetMetadata records a key on the trace's root span.
func (t *Trace[T]) SetMetadata(key string, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Metadata[key] = value
}

// StartToolCall starts a new tool call and returns it
func (t *Trace[T]) StartToolCall(id, name string, params map[string]any) *ToolCall[T] {
	_, span := otel.Tracer(instrumentationName).Start(t.ctx, "agent.tool_call", oteltrace.WithAttributes(
		attribute.String("tool.name", name),
		attribute.String("tool.id", id),
	))

	return &ToolCall[T]{
		ID:        id,
		Name:      name,
		Params:    params,
		StartTime: time.Now(),
		trace:     t,
		span:      span,
	}
}

// BadToolCall records a tool call that failed due to bad arguments or unknown tool
func (t *Trace[T]) BadToolCall(id, name string, params map[string]any, err error) {
	_, span := otel.Tracer(instrumentationName).Start(t.ctx, "agent.tool_call", oteltrace.WithAttributes(
		attribute.String("tool.name", name),
		attribute.String("tool.id", id),
		attribute.String("error", err.Error()),
	))
	span.SetStatus(codes.Error, err.Error())
	span.End()

	now := time.Now()
	tc := &ToolCall[T]{
		ID:        id,
		Name:      name,
		Params:    params,
		StartTime: now,
		EndTime:   now,
		Error:     err,
		trace:     t,
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.ToolCalls = append(t.ToolCalls, tc)
}

// RecordGeneration adds a model call to the trace. Zero timestamps default
// to now.
func (t *Trace[T]) RecordGeneration(g Generation) {
	now := time.Now()
	if g.EndTime.IsZero() {
		g.EndTime = now
	}
	if g.StartTime.IsZero() {
		g.StartTime = g.EndTime
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.Generations = append(t.Generations, g)
	if t.span != nil {
		t.span.AddEvent("agent.generation", oteltrace.WithAttributes(
			attribute.String("model", g.Model),
			attribute.Int64("tokens.input", g.PromptTokens),
			attribute.Int64("tokens.output", g.CompletionTokens),
		))
	}
}

// RecordTokenUsage records a model call known only by its token counts.
func (t *Trace[T]) RecordTokenUsage(model string, inputTokens, outputTokens int64) {
	t.RecordGeneration(Generation{
		Model:            model,
		PromptTokens:     inputTokens,
		CompletionTokens: outputTokens,
	})
}

// AddReasoning appends a reasoning block.
func (t *Trace[T]) AddReasoning(thinking string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Reasoning = append(t.Reasoning, ReasoningContent{Thinking: thinking})
}

// Complete marks the tool call as complete and adds it to the parent trace
func (tc *ToolCall[T]) Complete(result any, err error) {
	tc.mu.Lock()
	tc.Result = result
	tc.Error = err
	tc.EndTime = time.Now()
	trace := tc.trace
	span := tc.span
	tc.mu.Unlock()

	endSpan(span, err)

	trace.mu.Lock()
	defer trace.mu.Unlock()
	trace.ToolCalls = append(trace.ToolCalls, tc)
}

// Duration returns the duration of the tool call
func (tc *ToolCall[T]) Duration() time.Duration {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return elapsed(tc.StartTime, tc.EndTime)
}

// Complete marks the trace as complete with the given result and records it
// with the tracer that created it.
func (t *Trace[T]) Complete(result T, err error) {
	t.mu.Lock()
	t.Result = result
	t.Error = err
	t.EndTime = time.Now()
	tracer := t.tracer
	span := t.span
	t.mu.Unlock()

	endSpan(span, err)
	tracer.RecordTrace(t)
}

// Duration returns the total duration of the trace
func (t *Trace[T]) Duration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return elapsed(t.StartTime, t.EndTime)
}

// String returns a structured representation of the trace
func (t *Trace[T]) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var sb strings.Builder
	fmt.Fprintf(&sb, "=== Trace %s (%s) ===\n", t.ID, t.Name)
	fmt.Fprintf(&sb, "Prompt: %q\n", t.InputPrompt)
	fmt.Fprintf(&sb, "Duration: %v\n", elapsed(t.StartTime, t.EndTime))

	if len(t.Reasoning) > 0 {
		fmt.Fprintf(&sb, "\nReasoning (%d blocks):\n", len(t.Reasoning))
		for i, r := range t.Reasoning {
			fmt.Fprintf(&sb, "  [%d] %s\n", i+1, truncate(r.Thinking, 200))
		}
	}

	if len(t.Generations) > 0 {
		fmt.Fprintf(&sb, "\nGenerations (%d):\n", len(t.Generations))
		for i, g := range t.Generations {
			fmt.Fprintf(&sb, "  [%d] %s (tokens: %d in, %d out)\n", i+1, g.Model, g.PromptTokens, g.CompletionTokens)
		}
	}

	if len(t.ToolCalls) > 0 {
		fmt.Fprintf(&sb, "\nTool Calls (%d):\n", len(t.ToolCalls))
		for i, tc := range t.ToolCalls {
			fmt.Fprintf(&sb, "  [%d] %s (ID: %s)\n", i+1, tc.Name, tc.ID)
			fmt.Fprintf(&sb, "      Duration: %v\n", elapsed(tc.StartTime, tc.EndTime))
			if tc.Error != nil {
				fmt.Fprintf(&sb, "      Error: %v\n", tc.Error)
			} else if tc.Result != nil {
				fmt.Fprintf(&sb, "      Result: %s\n", truncate(fmt.Sprintf("%v", tc.Result), 200))
			}
		}
	} else {
		sb.WriteString("\nNo tool calls\n")
	}

	sb.WriteString("\nCompletion:\n")
	switch {
	case t.Error != nil:
		fmt.Fprintf(&sb, "  Error: %v\n", t.Error)
	case any(t.Result) != nil:
		fmt.Fprintf(&sb, "  Result: %s\n", truncate(fmt.Sprintf("%v", t.Result), 500))
	default:
		sb.WriteString("  Result: <nil>\n")
	}

	if len(t.Metadata) > 0 {
		sb.WriteString("\nMetadata:\n")
		for k, v := range t.Metadata {
			fmt.Fprintf(&sb, "  %s: %v\n", k, v)
		}
	}
	return sb.String()
}

func (t *Trace[T]) metadata() map[string]any {
	md := t.ExecContext.Metadata()
	maps.Copy(md, t.Metadata)
	if len(t.Reasoning) > 0 {
		thinking := make([]string, 0, len(t.Reasoning))
		for _, r := range t.Reasoning {
			thinking = append(thinking, r.Thinking)
		}
		md["reasoning"] = thinking
	}
	return md
}

func endSpan(span oteltrace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func elapsed(start, end time.Time) time.Duration {
	if end.IsZero() {
		return time.Since(start)
	}
	return end.Sub(start)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
