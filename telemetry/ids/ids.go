/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package ids canonicalizes arbitrary trace and span identifiers into the
// fixed-width lowercase hex strings the ingestion endpoint joins on.
//
// Canonicalization is deterministic: the same raw (trace, span) pair always
// yields the same hex pair, across processes and restarts.
package ids

import (
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

const (
	// TraceIDLength is the width of a canonical trace id in hex characters.
	TraceIDLength = 32
	// SpanIDLength is the width of a canonical span id in hex characters.
	SpanIDLength = 16
)

// namespace seeds the name-based UUIDs. Changing it changes every derived id.
var namespace = uuid.NameSpaceOID

// NormalizeTraceID returns the canonical 32-hex form of id.
// Valid hex input is lowercased and returned as is; dashed UUIDs are
// accepted in their hex form; anything else is hashed into a v5 UUID.
// An empty id is replaced with a random one.
func NormalizeTraceID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return NewTraceID()
	}
	if isHex(id, TraceIDLength) {
		return strings.ToLower(id)
	}
	if len(id) == 36 {
		if u, err := uuid.Parse(id); err == nil {
			return hexOf(u)
		}
	}
	return hexOf(uuid.NewSHA1(namespace, []byte(id)))
}

// NormalizeSpanID returns the canonical 16-hex form of id, derived from the
// pair (traceID, id) when id is not already canonical. An empty id is
// replaced with a random one.
func NormalizeSpanID(id, traceID string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return NewSpanID()
	}
	if isHex(id, SpanIDLength) {
		return strings.ToLower(id)
	}
	return hexOf(uuid.NewSHA1(namespace, []byte(traceID+":"+id)))[:SpanIDLength]
}

// NewTraceID returns a random canonical trace id.
func NewTraceID() string {
	return hexOf(uuid.New())
}

// NewSpanID returns a random canonical span id.
func NewSpanID() string {
	return hexOf(uuid.New())[:SpanIDLength]
}

// IsTraceID reports whether id is already a canonical trace id.
func IsTraceID(id string) bool {
	return isHex(id, TraceIDLength) && id == strings.ToLower(id)
}

// IsSpanID reports whether id is already a canonical span id.
func IsSpanID(id string) bool {
	return isHex(id, SpanIDLength) && id == strings.ToLower(id)
}

func hexOf(u uuid.UUID) string {
	return hex.EncodeToString(u[:])
}

func isHex(s string, n int) bool {
	if len(s) != n {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
