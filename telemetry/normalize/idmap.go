/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package normalize

import (
	"chainguard.dev/agentrelay/telemetry/ids"
	"chainguard.dev/agentrelay/telemetry/rawspan"
)

// IDMap memoizes raw-to-canonical span id conversion for one trace group, so
// each identifier is canonicalized once per batch. Not safe for concurrent use.
type IDMap struct {
	traceID string
	spans   map[string]string
	inBatch map[string]struct{}
}

// NewIDMap canonicalizes the trace id and every span id of the group.
func NewIDMap(traceID string, spans []rawspan.Span) *IDMap {
	m := &IDMap{
		traceID: ids.NormalizeTraceID(traceID),
		spans:   make(map[string]string, len(spans)),
		inBatch: make(map[string]struct{}, len(spans)),
	}
	for _, s := range spans {
		if raw := rawspan.SpanID(s); raw != "" {
			m.inBatch[raw] = struct{}{}
			m.lookup(raw)
		}
	}
	return m
}

// TraceID returns the canonical trace id of the group.
func (m *IDMap) TraceID() string { return m.traceID }

// SpanID returns the canonical id for raw, or a fresh random id when raw is
// empty.
func (m *IDMap) SpanID(raw string) string {
	if raw == "" {
		return ids.NewSpanID()
	}
	return m.lookup(raw)
}

// ParentID returns the canonical parent id, or "" when raw is empty. Parents
// outside the batch canonicalize the same way they did in their own batch.
func (m *IDMap) ParentID(raw string) string {
	if raw == "" {
		return ""
	}
	return m.lookup(raw)
}

// InBatch reports whether a span with the raw id is part of the group.
func (m *IDMap) InBatch(raw string) bool {
	_, ok := m.inBatch[raw]
	return ok
}

func (m *IDMap) lookup(raw string) string {
	if id, ok := m.spans[raw]; ok {
		return id
	}
	id := ids.NormalizeSpanID(raw, m.traceID)
	m.spans[raw] = id
	return id
}
