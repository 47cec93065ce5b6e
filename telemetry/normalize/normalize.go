/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package normalize converts heterogeneous raw spans into canonical
// record.SpanRecords.
//
// Every field is resolved through an ordered cascade of alias keys: direct
// span fields first, then well-known attribute keys from the span's metadata
// (OpenInference, OpenTelemetry GenAI and Traceloop conventions). Metadata
// keys that were promoted into a structured field are removed from the
// record's metadata so they are not shipped twice.
package normalize

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"

	"chainguard.dev/agentrelay/telemetry/rawspan"
	"chainguard.dev/agentrelay/telemetry/record"
	"chainguard.dev/agentrelay/telemetry/tracecontext"
)

// Normalizer converts raw spans. It is stateless apart from its clock and is
// safe for concurrent use.
type Normalizer struct {
	now func() time.Time
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithClock overrides the time source used when a span carries no
// timestamps at all.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) {
		n.now = now
	}
}

// New creates a Normalizer.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{now: time.Now}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

var (
	nameKeys   = []string{"span_name", "name", "operation_name", "operationName", "display_name"}
	pathKeys   = []string{"span_path", "path"}
	kindKeys   = []string{"log_type", "span_type", "type", "kind", "span_kind", "spanKind"}
	modelKeys  = []string{"model", "model_name", "modelName"}
	inputKeys  = []string{"input", "inputs", "prompt", "messages", "input_messages"}
	outputKeys = []string{"output", "outputs", "result", "completion", "response", "output_messages"}
	errorKeys  = []string{"error_message", "error", "exception"}
	statusKeys = []string{"status_code", "statusCode"}

	metaNameKeys   = []string{"span.name", "graph.node.name", "agent.name"}
	metaPathKeys   = []string{"span_path", "span.path"}
	metaKindKeys   = []string{"openinference.span.kind", "traceloop.span.kind", "span.type", "gen_ai.operation.name"}
	metaModelKeys  = []string{"llm.model_name", "gen_ai.response.model", "gen_ai.request.model", "model"}
	metaInputKeys  = []string{"input", "input.value", "gen_ai.prompt", "traceloop.entity.input"}
	metaOutputKeys = []string{"output", "output.value", "gen_ai.completion", "traceloop.entity.output"}
	metaErrorKeys  = []string{"exception.message", "error.message"}

	promptTokenKeys     = []string{"prompt_tokens", "input_tokens", "promptTokens", "inputTokens"}
	completionTokenKeys = []string{"completion_tokens", "output_tokens", "completionTokens", "outputTokens"}
	totalTokenKeys      = []string{"total_tokens", "totalTokens"}

	metaPromptTokenKeys     = []string{"llm.token_count.prompt", "gen_ai.usage.input_tokens", "gen_ai.usage.prompt_tokens"}
	metaCompletionTokenKeys = []string{"llm.token_count.completion", "gen_ai.usage.output_tokens", "gen_ai.usage.completion_tokens"}
	metaTotalTokenKeys      = []string{"llm.token_count.total", "gen_ai.usage.total_tokens"}
)

// Normalize converts one raw span of the group described by tc. It returns
// false, after logging a warning, when the span cannot produce a valid
// record. It never panics on malformed input.
func (n *Normalizer) Normalize(ctx context.Context, raw rawspan.Span, tc tracecontext.Context, idm *IDMap) (rec *record.SpanRecord, ok bool) {
	log := clog.FromContext(ctx)
	defer func() {
		if r := recover(); r != nil {
			log.With("panic", fmt.Sprint(r)).Warn("dropping span that failed to normalize")
			rec, ok = nil, false
		}
	}()

	if raw == nil {
		raw = rawspan.Empty{}
	}
	if idm == nil {
		idm = NewIDMap(tc.TraceID, nil)
	}

	rawID := rawspan.SpanID(raw)
	rawParent := rawspan.ParentID(raw)
	rootLike := rawParent == "" || !idm.InBatch(rawParent)

	md := tracecontext.UnwrapMetadata(rawspan.Metadata(raw))
	if rootLike && len(tc.TraceMetadata) > 0 {
		merged := maps.Clone(tc.TraceMetadata)
		maps.Copy(merged, md)
		md = merged
	}
	bag := metadataBag(md)

	rec = &record.SpanRecord{
		TraceID:  idm.TraceID(),
		SpanID:   idm.SpanID(rawID),
		ParentID: idm.ParentID(rawParent),

		TraceName:            tc.TraceName,
		WorkflowName:         tc.WorkflowName,
		SessionIdentifier:    tc.SessionIdentifier,
		CustomerIdentifier:   tc.CustomerIdentifier,
		TraceGroupIdentifier: tc.TraceGroupIdentifier,
	}

	rec.SpanName = rawspan.String(raw, nameKeys...)
	if rec.SpanName == "" {
		rec.SpanName = bag.peek(metaNameKeys...)
	}
	if rec.SpanName == "" {
		rec.SpanName = rawID
	}
	if rec.SpanName == "" {
		rec.SpanName = rec.SpanID
	}

	rec.SpanPath = rawspan.String(raw, pathKeys...)
	if rec.SpanPath == "" {
		rec.SpanPath = bag.peek(metaPathKeys...)
	}

	// Model and usage keys are always stripped from metadata, even when a
	// direct field wins, so the record never carries both.
	metaModel := rawspan.ToString(bag.take(metaModelKeys...))
	rec.Model = rawspan.String(raw, modelKeys...)
	if rec.Model == "" {
		rec.Model = metaModel
	}
	rec.Usage = usage(raw, bag)

	kinds := []string{kindOf(raw), bag.peek(metaKindKeys...)}
	rec.LogType = logType(kinds, rec.Model, rawParent != "")

	rec.Input, rec.Output, rec.ToolCalls = payloads(raw, bag)

	n.timing(raw, rec)

	rec.ErrorMessage = errorMessage(raw, bag)
	rec.StatusCode = statusCode(raw, rec.ErrorMessage)

	if len(bag) > 0 {
		rec.Metadata = map[string]any(bag)
	}

	if err := rec.Validate(); err != nil {
		log.With("span_id", rawID, "trace_id", rec.TraceID).Warnf("dropping malformed span: %v", err)
		return nil, false
	}
	return rec, true
}

// metadataBag is a span's private metadata copy supporting destructive
// consumption of promoted keys.
type metadataBag map[string]any

// take returns the first non-blank value among keys and removes every key
// from the bag.
func (b metadataBag) take(keys ...string) any {
	var out any
	for _, k := range keys {
		v, ok := b[k]
		if !ok {
			continue
		}
		delete(b, k)
		if out == nil && !rawspan.IsBlank(v) {
			out = v
		}
	}
	return out
}

// peek returns the first non-blank value among keys as a string, leaving the
// bag untouched.
func (b metadataBag) peek(keys ...string) string {
	return rawspan.String(rawspan.Map(b), keys...)
}

// kindOf reads the explicit kind. Some SDKs nest it one level down, such as a
// span_data object carrying its own type.
func kindOf(raw rawspan.Span) string {
	if v, ok := rawspan.Lookup(raw, kindKeys...); ok {
		if s, isString := v.(string); isString {
			return s
		}
	}
	if v, ok := rawspan.Lookup(raw, "span_data", "data"); ok {
		return rawspan.String(rawspan.Wrap(v), "type", "kind")
	}
	return ""
}

func usage(raw rawspan.Span, bag metadataBag) *record.Usage {
	metaPrompt := bag.take(metaPromptTokenKeys...)
	metaCompletion := bag.take(metaCompletionTokenKeys...)
	metaTotal := bag.take(metaTotalTokenKeys...)

	var nested rawspan.Span = rawspan.Empty{}
	if v, ok := rawspan.Lookup(raw, "usage", "token_usage", "usage_metadata"); ok {
		nested = rawspan.Wrap(v)
		if m, isMap := rawspan.AsMap(v); isMap {
			nested = rawspan.Map(m)
		}
	}

	count := func(keys []string, fallback any) *int64 {
		for _, s := range []rawspan.Span{nested, raw} {
			if v, ok := rawspan.Lookup(s, keys...); ok {
				if i, ok := rawspan.Int(v); ok && i >= 0 {
					return &i
				}
			}
		}
		if i, ok := rawspan.Int(fallback); ok && i >= 0 {
			return &i
		}
		return nil
	}

	u := record.Usage{
		PromptTokens:     count(promptTokenKeys, metaPrompt),
		CompletionTokens: count(completionTokenKeys, metaCompletion),
		TotalTokens:      count(totalTokenKeys, metaTotal),
	}
	if u.TotalTokens == nil && u.PromptTokens != nil && u.CompletionTokens != nil {
		total := *u.PromptTokens + *u.CompletionTokens
		u.TotalTokens = &total
	}
	if u.Empty() {
		return nil
	}
	return &u
}

// payloads resolves input, output and tool calls. OpenInference indexed keys
// are always removed from the bag once parsed.
func payloads(raw rawspan.Span, bag metadataBag) (input, output any, calls []record.ToolCall) {
	inputMessages := extractMessages(bag, inputMessagesPrefix)
	outputMessages := extractMessages(bag, outputMessagesPrefix)
	choiceText := extractChoiceText(bag)

	inputMime := rawspan.ToString(bag.take("input.mime_type"))
	outputMime := rawspan.ToString(bag.take("output.mime_type"))
	metaInput := decodeJSON(bag.take(metaInputKeys...), inputMime)
	metaOutput := decodeJSON(bag.take(metaOutputKeys...), outputMime)

	switch v, ok := rawspan.Lookup(raw, inputKeys...); {
	case ok:
		input = v
	case metaInput != nil:
		input = metaInput
	case len(inputMessages) > 0:
		input = inputMessages
	}

	switch v, ok := rawspan.Lookup(raw, outputKeys...); {
	case ok:
		output = v
	case metaOutput != nil:
		output = metaOutput
	case len(outputMessages) > 0:
		output = outputMessages
	case choiceText != "":
		output = choiceText
	}

	if v, ok := rawspan.Lookup(raw, "tool_calls", "toolCalls"); ok {
		calls = toolCalls(v)
	}
	if len(calls) == 0 {
		for _, m := range outputMessages {
			calls = append(calls, m.ToolCalls...)
		}
	}
	return input, output, calls
}

func decodeJSON(v any, mime string) any {
	s, ok := v.(string)
	if !ok || !strings.Contains(strings.ToLower(mime), "json") {
		return v
	}
	if m, ok := rawspan.AsMap(s); ok {
		return m
	}
	return v
}

func toolCalls(v any) []record.ToolCall {
	var list []any
	switch t := v.(type) {
	case []any:
		list = t
	case []record.ToolCall:
		return t
	case []map[string]any:
		for _, m := range t {
			list = append(list, m)
		}
	default:
		return nil
	}

	var out []record.ToolCall
	for _, elem := range list {
		s := rawspan.Wrap(elem)
		if m, ok := rawspan.AsMap(elem); ok {
			s = rawspan.Map(m)
		}
		call := record.ToolCall{
			ID:   rawspan.String(s, "id", "tool_call_id"),
			Name: rawspan.String(s, "name", "tool_name"),
		}
		call.Arguments, _ = rawspan.Lookup(s, "arguments", "args", "input")
		if fn, ok := rawspan.Lookup(s, "function"); ok {
			fs := rawspan.Wrap(fn)
			if m, ok := rawspan.AsMap(fn); ok {
				fs = rawspan.Map(m)
			}
			if call.Name == "" {
				call.Name = rawspan.String(fs, "name")
			}
			if call.Arguments == nil {
				call.Arguments, _ = rawspan.Lookup(fs, "arguments")
			}
		}
		if call.Name == "" {
			continue
		}
		out = append(out, call)
	}
	return out
}

// timing fills start, end and latency. A missing timestamp defaults to the
// other one, both missing means now, and end is clamped to start.
func (n *Normalizer) timing(raw rawspan.Span, rec *record.SpanRecord) {
	start, hasStart := timeOf(raw, rawspan.StartKeys)
	end, hasEnd := timeOf(raw, rawspan.EndKeys)
	switch {
	case !hasStart && !hasEnd:
		start = n.now().UTC()
		end = start
	case !hasStart:
		start = end
	case !hasEnd:
		end = start
	}
	if end.Before(start) {
		end = start
	}
	rec.StartTime, rec.EndTime = start, end

	latency, ok := explicitLatency(raw)
	if !ok {
		latency = end.Sub(start).Seconds()
	}
	rec.LatencySeconds = max(latency, 0)
}

func timeOf(raw rawspan.Span, keys []string) (time.Time, bool) {
	v, ok := rawspan.Lookup(raw, keys...)
	if !ok {
		return time.Time{}, false
	}
	return rawspan.Time(v)
}

func explicitLatency(raw rawspan.Span) (float64, bool) {
	if v, ok := rawspan.Lookup(raw, "latency", "latency_seconds", "duration_seconds", "duration"); ok {
		if d, isDuration := v.(time.Duration); isDuration {
			return d.Seconds(), true
		}
		if f, ok := rawspan.Float(v); ok {
			return f, true
		}
	}
	if v, ok := rawspan.Lookup(raw, "duration_ms", "durationMs"); ok {
		if f, ok := rawspan.Float(v); ok {
			return f / 1000, true
		}
	}
	return 0, false
}

func errorMessage(raw rawspan.Span, bag metadataBag) string {
	if v, ok := rawspan.Lookup(raw, errorKeys...); ok {
		if err, ok := v.(error); ok {
			return err.Error()
		}
		if m, ok := rawspan.AsMap(v); ok {
			if msg := rawspan.String(rawspan.Map(m), "message", "error", "description"); msg != "" {
				return msg
			}
		}
		return rawspan.ToString(v)
	}
	return bag.peek(metaErrorKeys...)
}

func statusCode(raw rawspan.Span, errMsg string) int {
	if v, ok := rawspan.Lookup(raw, statusKeys...); ok {
		if i, ok := rawspan.Int(v); ok && i > 0 {
			return int(i)
		}
	}
	if s := strings.ToLower(rawspan.String(raw, "status", "level")); s == "error" || s == "failed" {
		return 500
	}
	if errMsg != "" {
		return 500
	}
	return 200
}
