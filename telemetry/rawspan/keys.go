/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package rawspan

// Alias keys shared by the resolver and the normalizer.
var (
	SpanIDKeys   = []string{"span_id", "spanId", "id", "uid"}
	ParentIDKeys = []string{"parent_id", "parent_span_id", "parentId", "parentSpanId"}
	TraceIDKeys  = []string{"trace_id", "traceId"}
	StartKeys    = []string{"start_time", "started_at", "startTime", "start", "start_timestamp", "timestamp"}
	EndKeys      = []string{"end_time", "ended_at", "endTime", "end", "end_timestamp"}
)

// SpanID returns the raw span identifier, or "".
func SpanID(s Span) string { return String(s, SpanIDKeys...) }

// ParentID returns the raw parent identifier, or "".
func ParentID(s Span) string { return String(s, ParentIDKeys...) }

// TraceID returns the raw trace identifier, or "".
func TraceID(s Span) string { return String(s, TraceIDKeys...) }
