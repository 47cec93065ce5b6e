/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package metrics

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"chainguard.dev/agentrelay/telemetry/record"
)

// GenAI provides OpenTelemetry metrics derived from relayed span records:
// token usage, tool calls and spans per log type. Counters that fail to
// initialize degrade to no-ops.
type GenAI struct {
	promptTokens     metric.Int64Counter
	completionTokens metric.Int64Counter
	toolCallCounter  metric.Int64Counter
	spanCounter      metric.Int64Counter
	attrEnricher     AttributeEnricher
}

// NewGenAI creates a GenAI metrics instance from the global meter provider.
func NewGenAI(meterName string) *GenAI {
	return NewGenAIWithProvider(otel.GetMeterProvider(), meterName)
}

// NewGenAIWithProvider creates a GenAI metrics instance from mp.
func NewGenAIWithProvider(mp metric.MeterProvider, meterName string) *GenAI {
	meter := mp.Meter(meterName, metric.WithInstrumentationVersion("1.0.0"))

	counter := func(name, desc, unit string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
		if err != nil {
			slog.Warn("Failed to create counter, metric will be disabled", "error", err, "meter", meterName, "counter", name)
			return noop.Int64Counter{}
		}
		return c
	}

	return &GenAI{
		promptTokens:     counter("genai.token.prompt", "The number of prompt tokens used", "{tokens}"),
		completionTokens: counter("genai.token.completion", "The number of completion tokens used", "{tokens}"),
		toolCallCounter:  counter("genai.tool.calls", "The number of tool calls made during execution", "{calls}"),
		spanCounter:      counter("agentrelay.spans", "The number of span records relayed", "{spans}"),
	}
}

// SetAttributeEnricher sets the attribute enricher for this metrics instance.
func (m *GenAI) SetAttributeEnricher(enricher AttributeEnricher) {
	m.attrEnricher = enricher
}

func (m *GenAI) attrs(ctx context.Context, base []attribute.KeyValue, extra []attribute.KeyValue) metric.MeasurementOption {
	if m.attrEnricher != nil {
		base = m.attrEnricher(ctx, base)
	}
	return metric.WithAttributes(append(base, extra...)...)
}

// RecordTokens records prompt and completion token usage for model.
func (m *GenAI) RecordTokens(ctx context.Context, model string, promptTokens, completionTokens int64, attrs ...attribute.KeyValue) {
	opt := m.attrs(ctx, []attribute.KeyValue{attribute.String("model", model)}, attrs)
	m.promptTokens.Add(ctx, promptTokens, opt)
	m.completionTokens.Add(ctx, completionTokens, opt)
}

// RecordToolCall records one tool invocation.
func (m *GenAI) RecordToolCall(ctx context.Context, model, toolName string, attrs ...attribute.KeyValue) {
	m.toolCallCounter.Add(ctx, 1, m.attrs(ctx, []attribute.KeyValue{
		attribute.String("model", model),
		attribute.String("tool", toolName),
	}, attrs))
}

// RecordSpan records one relayed span along with its usage and tool calls.
func (m *GenAI) RecordSpan(ctx context.Context, r *record.SpanRecord) {
	if m == nil || r == nil {
		return
	}
	m.spanCounter.Add(ctx, 1, m.attrs(ctx, []attribute.KeyValue{
		attribute.String("log_type", string(r.LogType)),
	}, nil))

	if u := r.Usage; u != nil && (u.PromptTokens != nil || u.CompletionTokens != nil) {
		var prompt, completion int64
		if u.PromptTokens != nil {
			prompt = *u.PromptTokens
		}
		if u.CompletionTokens != nil {
			completion = *u.CompletionTokens
		}
		m.RecordTokens(ctx, r.Model, prompt, completion)
	}
	for _, tc := range r.ToolCalls {
		m.RecordToolCall(ctx, r.Model, tc.Name)
	}
	if r.LogType == record.LogTypeTool && len(r.ToolCalls) == 0 {
		m.RecordToolCall(ctx, r.Model, r.SpanName)
	}
}
