/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package propagate backfills the output of container spans from the result
// produced further down the trace.
package propagate

import (
	"chainguard.dev/agentrelay/telemetry/rawspan"
	"chainguard.dev/agentrelay/telemetry/record"
)

// Outputs fills, in place, the blank output of every workflow, agent and task
// record with the trace's candidate output. The candidate is the output of
// the first generation record that has one, otherwise the first non-blank
// output of any record. Later generations never replace the candidate.
func Outputs(records []*record.SpanRecord) {
	candidate := Candidate(records)
	if candidate == nil {
		return
	}
	for _, r := range records {
		if r == nil || !r.LogType.Container() || !rawspan.IsBlank(r.Output) {
			continue
		}
		r.Output = candidate
	}
}

// Candidate returns the output Outputs would propagate, or nil.
func Candidate(records []*record.SpanRecord) any {
	var fallback any
	for _, r := range records {
		if r == nil || rawspan.IsBlank(r.Output) {
			continue
		}
		if r.LogType == record.LogTypeGeneration {
			return r.Output
		}
		if fallback == nil {
			fallback = r.Output
		}
	}
	return fallback
}
