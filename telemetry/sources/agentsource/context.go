/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package agentsource

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
)

// ExecutionContext carries caller-level identity for the traces started
// under it.
type ExecutionContext struct {
	SessionID  string            `json:"session_id,omitempty"`
	CustomerID string            `json:"customer_id,omitempty"`
	Workflow   string            `json:"workflow,omitempty"`
	TurnNumber int               `json:"turn_number,omitempty"` // 1, 2, 3, ... for multi-turn agents
	Labels     map[string]string `json:"labels,omitempty"`
}

// Metadata returns the labels and turn number as span metadata.
func (e ExecutionContext) Metadata() map[string]any {
	md := make(map[string]any, len(e.Labels)+1)
	for k, v := range e.Labels {
		md[k] = v
	}
	if e.TurnNumber > 0 {
		md["turn"] = e.TurnNumber
	}
	return md
}

// EnrichAttributes appends the bounded fields to baseAttrs. Session and
// customer identifiers stay off OpenTelemetry attributes.
func (e ExecutionContext) EnrichAttributes(baseAttrs []attribute.KeyValue) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, len(baseAttrs), len(baseAttrs)+2)
	copy(attrs, baseAttrs)

	if e.Workflow != "" {
		attrs = append(attrs, attribute.String("workflow", e.Workflow))
	}
	if e.TurnNumber > 0 {
		attrs = append(attrs, attribute.Int("turn", e.TurnNumber))
	}
	return attrs
}

type contextKey string

const executionContextKey contextKey = "execution_context"

// WithExecutionContext adds execution context to the Go context
func WithExecutionContext(ctx context.Context, execCtx ExecutionContext) context.Context {
	return context.WithValue(ctx, executionContextKey, execCtx)
}

// GetExecutionContext retrieves execution context from the Go context
func GetExecutionContext(ctx context.Context) ExecutionContext {
	if val := ctx.Value(executionContextKey); val != nil {
		if execCtx, ok := val.(ExecutionContext); ok {
			return execCtx
		}
	}
	return ExecutionContext{}
}
