/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package tracecontext derives the trace-level attributes shared by every span
// of one trace: name, workflow, session, customer, group and metadata.
//
// Each attribute cascades through the trace object, the group's root span,
// the root span's metadata under alternate keys and finally the defaults
// configured on the Resolver. The first non-blank value wins.
package tracecontext

import (
	"maps"
	"time"

	"chainguard.dev/agentrelay/telemetry/ids"
	"chainguard.dev/agentrelay/telemetry/rawspan"
)

// Context is the resolved, immutable context of one trace group.
type Context struct {
	TraceID              string
	TraceName            string
	WorkflowName         string
	SessionIdentifier    string
	CustomerIdentifier   string
	TraceGroupIdentifier string
	// Metadata is the root span metadata merged over TraceMetadata.
	Metadata             map[string]any
	// TraceMetadata is the trace object metadata merged over the defaults.
	// Parentless spans build on it, never on another span's attributes.
	TraceMetadata        map[string]any
	StartTime            time.Time
}

// Defaults are instance-level fallbacks supplied at construction time.
type Defaults struct {
	TraceName            string
	WorkflowName         string
	SessionIdentifier    string
	CustomerIdentifier   string
	TraceGroupIdentifier string
	Metadata             map[string]any
}

// cascade lists the alias keys consulted at each level for one attribute.
type cascade struct {
	trace []string
	root  []string
	meta  []string
}

var (
	traceIDCascade = cascade{
		trace: []string{"trace_id", "traceId", "id"},
		root:  rawspan.TraceIDKeys,
		meta:  []string{"trace.id", "trace_id"},
	}
	traceNameCascade = cascade{
		trace: []string{"trace_name", "name", "workflow_name"},
		root:  []string{"trace_name", "span_name", "name"},
		meta:  []string{"trace.name", "trace_name", "workflow.name", "agent.name", "graph.node.name"},
	}
	workflowCascade = cascade{
		trace: []string{"workflow_name", "name", "trace_name"},
		root:  []string{"workflow_name", "span_name", "name"},
		meta:  []string{"workflow.name", "workflow_name", "agent.name", "graph.node.name"},
	}
	sessionCascade = cascade{
		trace: []string{"session_identifier", "session_id", "sessionId", "thread_id", "conversation_id"},
		root:  []string{"session_identifier", "session_id", "sessionId", "thread_id", "conversation_id"},
		meta:  []string{"session.id", "session_id", "session_identifier", "thread_id", "conversation.id"},
	}
	customerCascade = cascade{
		trace: []string{"customer_identifier", "customer_id", "user_id", "userId"},
		root:  []string{"customer_identifier", "customer_id", "user_id", "userId"},
		meta:  []string{"user.id", "customer_identifier", "customer_id", "user_id", "enduser.id"},
	}
	groupCascade = cascade{
		trace: []string{"trace_group_identifier", "group_id", "groupId"},
		root:  []string{"trace_group_identifier", "group_id", "groupId"},
		meta:  []string{"trace_group_identifier", "group.id", "group_id"},
	}
)

// Resolver computes Contexts. It holds only immutable defaults and is safe
// for concurrent use.
type Resolver struct {
	defaults Defaults
}

// NewResolver creates a resolver with the given defaults.
func NewResolver(defaults Defaults) *Resolver {
	defaults.Metadata = maps.Clone(defaults.Metadata)
	return &Resolver{defaults: defaults}
}

// Resolve computes the context for one trace group. trace may be nil when the
// source has no trace object.
func (r *Resolver) Resolve(trace rawspan.Span, spans []rawspan.Span) Context {
	if trace == nil {
		trace = rawspan.Empty{}
	}
	var root rawspan.Span = rawspan.Empty{}
	if i := RootIndex(spans); i >= 0 {
		root = spans[i]
	}
	rootMeta := UnwrapMetadata(rawspan.Metadata(root))
	metaSpan := rawspan.Map(rootMeta)

	resolve := func(c cascade, fallback string) string {
		if v := rawspan.String(trace, c.trace...); v != "" {
			return v
		}
		if v := rawspan.String(root, c.root...); v != "" {
			return v
		}
		if v := rawspan.String(metaSpan, c.meta...); v != "" {
			return v
		}
		return fallback
	}

	tc := Context{
		TraceID:              resolve(traceIDCascade, ""),
		TraceName:            resolve(traceNameCascade, r.defaults.TraceName),
		WorkflowName:         resolve(workflowCascade, r.defaults.WorkflowName),
		SessionIdentifier:    resolve(sessionCascade, r.defaults.SessionIdentifier),
		CustomerIdentifier:   resolve(customerCascade, r.defaults.CustomerIdentifier),
		TraceGroupIdentifier: resolve(groupCascade, r.defaults.TraceGroupIdentifier),
	}
	if tc.TraceID == "" {
		tc.TraceID = ids.NewTraceID()
	}
	if tc.TraceName == "" {
		tc.TraceName = tc.TraceID
	}
	if tc.WorkflowName == "" {
		tc.WorkflowName = tc.TraceID
	}

	if v, ok := rawspan.Lookup(trace, rawspan.StartKeys...); ok {
		tc.StartTime, _ = rawspan.Time(v)
	}
	if tc.StartTime.IsZero() {
		if v, ok := rawspan.Lookup(root, rawspan.StartKeys...); ok {
			tc.StartTime, _ = rawspan.Time(v)
		}
	}

	md := maps.Clone(r.defaults.Metadata)
	if md == nil {
		md = make(map[string]any)
	}
	maps.Copy(md, UnwrapMetadata(rawspan.Metadata(trace)))
	tc.TraceMetadata = maps.Clone(md)
	maps.Copy(md, rootMeta)
	tc.Metadata = md

	return tc
}

// RootIndex returns the index of the group's root span: the first span whose
// parent is blank or not among the group's span ids. When every span has a
// parent inside the group the first span is used. Returns -1 for no spans.
func RootIndex(spans []rawspan.Span) int {
	if len(spans) == 0 {
		return -1
	}
	present := make(map[string]struct{}, len(spans))
	for _, s := range spans {
		if id := rawspan.SpanID(s); id != "" {
			present[id] = struct{}{}
		}
	}
	for i, s := range spans {
		parent := rawspan.ParentID(s)
		if parent == "" {
			return i
		}
		if _, ok := present[parent]; !ok {
			return i
		}
	}
	return 0
}

// UnwrapMetadata flattens the nested "metadata" wrapper some instrumentations
// emit (a map, or a JSON object string) into the outer map. Inner keys win.
// The input is not modified.
func UnwrapMetadata(m map[string]any) map[string]any {
	out := maps.Clone(m)
	if out == nil {
		return make(map[string]any)
	}
	nested, ok := out["metadata"]
	if !ok {
		return out
	}
	inner, ok := rawspan.AsMap(nested)
	if !ok {
		return out
	}
	delete(out, "metadata")
	maps.Copy(out, UnwrapMetadata(inner))
	return out
}
