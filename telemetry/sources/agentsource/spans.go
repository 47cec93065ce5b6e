/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package agentsource

import (
	"fmt"
	"reflect"

	"chainguard.dev/agentrelay/telemetry/rawspan"
)

// RootSpanID is the raw span id of the agent span of every trace.
const RootSpanID = "agent"

// Spans renders the trace as a trace object and its raw spans: the agent
// span, then one child per generation, then one child per tool call.
func (t *Trace[T]) Spans() (rawspan.Span, []rawspan.Span) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ec := t.ExecContext
	trace := rawspan.Map{
		"trace_id":            t.ID,
		"trace_name":          t.Name,
		"workflow_name":       ec.Workflow,
		"session_identifier":  ec.SessionID,
		"customer_identifier": ec.CustomerID,
	}

	root := rawspan.Map{
		"trace_id":   t.ID,
		"span_id":    RootSpanID,
		"type":       "agent",
		"name":       t.Name,
		"input":      t.InputPrompt,
		"start_time": t.StartTime,
		"end_time":   t.EndTime,
		"metadata":   t.metadata(),
	}
	if t.Error != nil {
		root["error"] = t.Error.Error()
	} else if !blankResult(t.Result) {
		root["output"] = t.Result
	}

	spans := make([]rawspan.Span, 0, 1+len(t.Generations)+len(t.ToolCalls))
	spans = append(spans, root)

	for i, g := range t.Generations {
		spans = append(spans, rawspan.Map{
			"trace_id":   t.ID,
			"span_id":    fmt.Sprintf("generation:%d", i),
			"parent_id":  RootSpanID,
			"type":       "generation",
			"name":       g.Model,
			"model":      g.Model,
			"input":      g.Input,
			"output":     g.Output,
			"start_time": g.StartTime,
			"end_time":   g.EndTime,
			"usage": map[string]any{
				"prompt_tokens":     g.PromptTokens,
				"completion_tokens": g.CompletionTokens,
			},
		})
	}

	for i, tc := range t.ToolCalls {
		spans = append(spans, tc.rawSpan(t.ID, i))
	}
	return trace, spans
}

func (tc *ToolCall[T]) rawSpan(traceID string, index int) rawspan.Map {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	id := tc.ID
	if id == "" {
		id = fmt.Sprint(index)
	}
	s := rawspan.Map{
		"trace_id":   traceID,
		"span_id":    "tool:" + id,
		"parent_id":  RootSpanID,
		"type":       "tool",
		"name":       tc.Name,
		"input":      tc.Params,
		"start_time": tc.StartTime,
		"end_time":   tc.EndTime,
		"tool_calls": []any{map[string]any{
			"id":        tc.ID,
			"name":      tc.Name,
			"arguments": tc.Params,
		}},
	}
	if tc.Error != nil {
		s["error"] = tc.Error.Error()
	} else {
		s["output"] = tc.Result
	}
	return s
}

// blankResult reports whether a result carries nothing worth shipping, so
// the agent span can inherit its output instead. Zero scalars are real
// answers; zero structs are not.
func blankResult(v any) bool {
	if rawspan.IsBlank(v) {
		return true
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Struct && rv.IsZero()
}
