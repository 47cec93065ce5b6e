/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package otelsource

import (
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"

	"chainguard.dev/agentrelay/telemetry/suppress"
)

type suppressingSampler struct {
	delegate sdktrace.Sampler
}

// Sampler wraps delegate so spans whose parent context is suppressed are
// dropped. A nil delegate means ParentBased(AlwaysSample()).
func Sampler(delegate sdktrace.Sampler) sdktrace.Sampler {
	if delegate == nil {
		delegate = sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return suppressingSampler{delegate: delegate}
}

func (s suppressingSampler) ShouldSample(p sdktrace.SamplingParameters) sdktrace.SamplingResult {
	if p.ParentContext != nil && suppress.Active(p.ParentContext) {
		return sdktrace.SamplingResult{
			Decision:   sdktrace.Drop,
			Tracestate: oteltrace.SpanContextFromContext(p.ParentContext).TraceState(),
		}
	}
	return s.delegate.ShouldSample(p)
}

func (s suppressingSampler) Description() string {
	return "Suppressing{" + s.delegate.Description() + "}"
}
