/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package delivery

import (
	"maps"
	"slices"
	"strconv"

	"github.com/bytedance/sonic"

	"chainguard.dev/agentrelay/telemetry/rawspan"
	"chainguard.dev/agentrelay/telemetry/record"
)

// OTLP-JSON envelope. IDs are hex strings and 64-bit integers are decimal
// strings, as the OTLP/HTTP JSON mapping requires.
type (
	otlpEnvelope struct {
		ResourceSpans []otlpResourceSpans `json:"resourceSpans"`
	}

	otlpResourceSpans struct {
		Resource   otlpResource     `json:"resource"`
		ScopeSpans []otlpScopeSpans `json:"scopeSpans"`
	}

	otlpResource struct {
		Attributes []otlpKeyValue `json:"attributes"`
	}

	otlpScopeSpans struct {
		Scope otlpScope  `json:"scope"`
		Spans []otlpSpan `json:"spans"`
	}

	otlpScope struct {
		Name    string `json:"name"`
		Version string `json:"version,omitempty"`
	}

	otlpSpan struct {
		TraceID           string         `json:"traceId"`
		SpanID            string         `json:"spanId"`
		ParentSpanID      string         `json:"parentSpanId,omitempty"`
		Name              string         `json:"name"`
		Kind              int            `json:"kind"`
		StartTimeUnixNano string         `json:"startTimeUnixNano"`
		EndTimeUnixNano   string         `json:"endTimeUnixNano"`
		Attributes        []otlpKeyValue `json:"attributes,omitempty"`
		Status            otlpStatus     `json:"status"`
	}

	otlpKeyValue struct {
		Key   string       `json:"key"`
		Value otlpAnyValue `json:"value"`
	}

	otlpAnyValue struct {
		StringValue *string  `json:"stringValue,omitempty"`
		BoolValue   *bool    `json:"boolValue,omitempty"`
		IntValue    *string  `json:"intValue,omitempty"`
		DoubleValue *float64 `json:"doubleValue,omitempty"`
	}

	otlpStatus struct {
		Code    int    `json:"code"`
		Message string `json:"message,omitempty"`
	}
)

const (
	spanKindInternal = 1

	statusOK    = 1
	statusError = 2

	serviceNameKey = "service.name"
	scopeNameKey   = "otel.scope.name"
	scopeVerKey    = "otel.scope.version"

	defaultScope = "agentrelay"
)

// EncodeOTLP renders records as an OTLP-JSON envelope, grouping spans by
// resource (service.name) and instrumentation scope in order of first
// appearance. Records without a service.name metadata entry use
// serviceName.
func EncodeOTLP(records []*record.SpanRecord, serviceName string) ([]byte, error) {
	type scopeKey struct{ name, version string }
	type group struct {
		service string
		scopes  []scopeKey
		spans   map[scopeKey][]otlpSpan
	}

	var groups []*group
	byService := make(map[string]*group)

	for _, r := range records {
		if r == nil {
			continue
		}
		md := maps.Clone(r.Metadata)
		if md == nil {
			md = make(map[string]any)
		}
		service := rawspan.ToString(md[serviceNameKey])
		if service == "" {
			service = serviceName
		}
		sk := scopeKey{name: rawspan.ToString(md[scopeNameKey]), version: rawspan.ToString(md[scopeVerKey])}
		if sk.name == "" {
			sk.name = defaultScope
		}
		delete(md, serviceNameKey)
		delete(md, scopeNameKey)
		delete(md, scopeVerKey)

		g, ok := byService[service]
		if !ok {
			g = &group{service: service, spans: make(map[scopeKey][]otlpSpan)}
			byService[service] = g
			groups = append(groups, g)
		}
		if _, ok := g.spans[sk]; !ok {
			g.scopes = append(g.scopes, sk)
		}
		g.spans[sk] = append(g.spans[sk], toOTLPSpan(r, md))
	}

	env := otlpEnvelope{ResourceSpans: make([]otlpResourceSpans, 0, len(groups))}
	for _, g := range groups {
		rs := otlpResourceSpans{
			Resource: otlpResource{Attributes: []otlpKeyValue{keyValue(serviceNameKey, g.service)}},
		}
		for _, sk := range g.scopes {
			rs.ScopeSpans = append(rs.ScopeSpans, otlpScopeSpans{
				Scope: otlpScope{Name: sk.name, Version: sk.version},
				Spans: g.spans[sk],
			})
		}
		env.ResourceSpans = append(env.ResourceSpans, rs)
	}
	return sonic.Marshal(env)
}

func toOTLPSpan(r *record.SpanRecord, md map[string]any) otlpSpan {
	s := otlpSpan{
		TraceID:           r.TraceID,
		SpanID:            r.SpanID,
		ParentSpanID:      r.ParentID,
		Name:              r.SpanName,
		Kind:              spanKindInternal,
		StartTimeUnixNano: strconv.FormatInt(r.StartTime.UnixNano(), 10),
		EndTimeUnixNano:   strconv.FormatInt(r.EndTime.UnixNano(), 10),
		Status:            otlpStatus{Code: statusOK},
	}
	if r.StatusCode >= 400 || r.ErrorMessage != "" {
		s.Status = otlpStatus{Code: statusError, Message: r.ErrorMessage}
	}

	add := func(key string, v any) {
		if rawspan.IsBlank(v) {
			return
		}
		s.Attributes = append(s.Attributes, keyValue(key, v))
	}
	add("log_type", string(r.LogType))
	add("span_path", r.SpanPath)
	add("latency_seconds", r.LatencySeconds)
	add("status_code", r.StatusCode)
	add("gen_ai.request.model", r.Model)
	if u := r.Usage; u != nil {
		if u.PromptTokens != nil {
			add("gen_ai.usage.input_tokens", *u.PromptTokens)
		}
		if u.CompletionTokens != nil {
			add("gen_ai.usage.output_tokens", *u.CompletionTokens)
		}
		if u.TotalTokens != nil {
			add("gen_ai.usage.total_tokens", *u.TotalTokens)
		}
	}
	add("input.value", r.Input)
	add("output.value", r.Output)
	if len(r.ToolCalls) > 0 {
		add("tool_calls", r.ToolCalls)
	}
	add("trace_name", r.TraceName)
	add("workflow_name", r.WorkflowName)
	add("session.id", r.SessionIdentifier)
	add("user.id", r.CustomerIdentifier)
	add("trace_group_identifier", r.TraceGroupIdentifier)
	for _, k := range slices.Sorted(maps.Keys(md)) {
		add(k, md[k])
	}
	return s
}

func keyValue(key string, v any) otlpKeyValue {
	var av otlpAnyValue
	switch t := v.(type) {
	case string:
		av.StringValue = &t
	case bool:
		av.BoolValue = &t
	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		i, _ := rawspan.Int(t)
		s := strconv.FormatInt(i, 10)
		av.IntValue = &s
	case float32, float64:
		f, _ := rawspan.Float(t)
		av.DoubleValue = &f
	default:
		s := rawspan.ToString(v)
		av.StringValue = &s
	}
	return otlpKeyValue{Key: key, Value: av}
}
