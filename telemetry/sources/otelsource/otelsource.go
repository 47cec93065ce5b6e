/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package otelsource relays spans recorded by the OpenTelemetry SDK.
//
// Install the Exporter on a TracerProvider with WithSyncer or WithBatcher.
// The relay's default delivery transport starts no spans for its own export
// requests. Hosts that hand delivery a differently instrumented client, or
// start spans of their own under a delivery context, should also wrap their
// sampler with Sampler.
package otelsource

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"

	"chainguard.dev/agentrelay/telemetry/pipeline"
	"chainguard.dev/agentrelay/telemetry/rawspan"
	"chainguard.dev/agentrelay/telemetry/suppress"
)

// Exporter is an sdktrace.SpanExporter that converts finished spans to raw
// spans and hands each trace's spans to an observer.
type Exporter struct {
	observer pipeline.Observer
	stopped  atomic.Bool
}

var _ sdktrace.SpanExporter = (*Exporter)(nil)

// NewExporter creates an exporter feeding observer.
func NewExporter(observer pipeline.Observer) *Exporter {
	return &Exporter{observer: observer}
}

// Attach implements pipeline.Source.
func (e *Exporter) Attach(observer pipeline.Observer) {
	e.observer = observer
}

// ExportSpans implements sdktrace.SpanExporter. It never fails: conversion
// problems surface as malformed spans in the pipeline.
func (e *Exporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	if e.stopped.Load() || e.observer == nil || suppress.Active(ctx) {
		return nil
	}

	var order []oteltrace.TraceID
	groups := make(map[oteltrace.TraceID][]rawspan.Span)
	for _, s := range spans {
		id := s.SpanContext().TraceID()
		if _, ok := groups[id]; !ok {
			order = append(order, id)
		}
		groups[id] = append(groups[id], Convert(s))
	}
	for _, id := range order {
		e.observer.Observe(ctx, nil, groups[id]...)
	}
	return nil
}

// Shutdown implements sdktrace.SpanExporter. Spans exported afterwards are
// discarded.
func (e *Exporter) Shutdown(context.Context) error {
	e.stopped.Store(true)
	return nil
}

// Convert renders a finished span as a raw span. Span attributes land in
// the metadata bag along with the resource attributes they do not shadow,
// and the instrumentation scope is kept under otel.scope.name/version.
func Convert(s sdktrace.ReadOnlySpan) rawspan.Map {
	sc := s.SpanContext()
	out := rawspan.Map{
		"trace_id":   sc.TraceID().String(),
		"span_id":    sc.SpanID().String(),
		"name":       s.Name(),
		"start_time": s.StartTime(),
		"end_time":   s.EndTime(),
	}
	if p := s.Parent(); p.HasSpanID() {
		out["parent_id"] = p.SpanID().String()
	}

	md := make(map[string]any, len(s.Attributes())+4)
	if res := s.Resource(); res != nil {
		for _, kv := range res.Attributes() {
			md[string(kv.Key)] = value(kv.Value)
		}
	}
	for _, kv := range s.Attributes() {
		md[string(kv.Key)] = value(kv.Value)
	}
	scope := s.InstrumentationScope()
	if scope.Name != "" {
		md["otel.scope.name"] = scope.Name
	}
	if scope.Version != "" {
		md["otel.scope.version"] = scope.Version
	}
	md["otel.span_kind"] = s.SpanKind().String()
	out["metadata"] = md

	if st := s.Status(); st.Code == codes.Error {
		out["status"] = "error"
		msg := st.Description
		if msg == "" {
			msg = exceptionMessage(s.Events())
		}
		if msg != "" {
			out["error_message"] = msg
		}
	}
	return out
}

func exceptionMessage(events []sdktrace.Event) string {
	for _, ev := range events {
		if ev.Name != "exception" {
			continue
		}
		for _, kv := range ev.Attributes {
			if kv.Key == "exception.message" {
				return kv.Value.AsString()
			}
		}
	}
	return ""
}

func value(v attribute.Value) any {
	switch v.Type() {
	case attribute.BOOL:
		return v.AsBool()
	case attribute.INT64:
		return v.AsInt64()
	case attribute.FLOAT64:
		return v.AsFloat64()
	case attribute.STRING:
		return v.AsString()
	default:
		return v.AsInterface()
	}
}
