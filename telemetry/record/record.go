/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package record defines SpanRecord, the canonical unit shipped to the
// ingestion endpoint, along with its validation rules and JSON schema.
package record

import (
	"errors"
	"fmt"
	"time"

	"chainguard.dev/agentrelay/telemetry/ids"
)

// LogType classifies what a span represents.
type LogType string

const (
	LogTypeWorkflow   LogType = "workflow"
	LogTypeAgent      LogType = "agent"
	LogTypeTask       LogType = "task"
	LogTypeTool       LogType = "tool"
	LogTypeGeneration LogType = "generation"
	LogTypeChat       LogType = "chat"
	LogTypeEmbedding  LogType = "embedding"
	LogTypeHandoff    LogType = "handoff"
	LogTypeGuardrail  LogType = "guardrail"
	LogTypeCustom     LogType = "custom"
)

// LogTypes lists every valid LogType.
var LogTypes = []LogType{
	LogTypeWorkflow, LogTypeAgent, LogTypeTask, LogTypeTool, LogTypeGeneration,
	LogTypeChat, LogTypeEmbedding, LogTypeHandoff, LogTypeGuardrail, LogTypeCustom,
}

// Valid reports whether t is a member of the enum.
func (t LogType) Valid() bool {
	for _, lt := range LogTypes {
		if t == lt {
			return true
		}
	}
	return false
}

// Container reports whether spans of this type wrap other work and inherit
// the trace's output when they have none of their own.
func (t LogType) Container() bool {
	return t == LogTypeWorkflow || t == LogTypeAgent || t == LogTypeTask
}

// Usage carries token accounting. Absent counts are omitted on the wire.
type Usage struct {
	PromptTokens     *int64 `json:"prompt_tokens,omitempty"`
	CompletionTokens *int64 `json:"completion_tokens,omitempty"`
	TotalTokens      *int64 `json:"total_tokens,omitempty"`
}

// Empty reports whether no count is set.
func (u Usage) Empty() bool {
	return u.PromptTokens == nil && u.CompletionTokens == nil && u.TotalTokens == nil
}

// Message is one role/content entry of a conversation.
type Message struct {
	Role      string     `json:"role,omitempty"`
	Content   any        `json:"content,omitempty"`
	Name      string     `json:"name,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a tool invocation requested by a model.
type ToolCall struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments any    `json:"arguments,omitempty"`
}

// SpanRecord is the canonical span shipped to the ingestion endpoint.
type SpanRecord struct {
	TraceID        string         `json:"trace_id" jsonschema:"required,pattern=^[0-9a-f]{32}$"`
	SpanID         string         `json:"span_id" jsonschema:"required,pattern=^[0-9a-f]{16}$"`
	ParentID       string         `json:"parent_id,omitempty" jsonschema:"pattern=^[0-9a-f]{16}$"`
	SpanName       string         `json:"span_name" jsonschema:"required"`
	SpanPath       string         `json:"span_path,omitempty"`
	LogType        LogType        `json:"log_type" jsonschema:"required,enum=workflow,enum=agent,enum=task,enum=tool,enum=generation,enum=chat,enum=embedding,enum=handoff,enum=guardrail,enum=custom"`
	StartTime      time.Time      `json:"start_time" jsonschema:"required"`
	EndTime        time.Time      `json:"end_time" jsonschema:"required"`
	LatencySeconds float64        `json:"latency_seconds" jsonschema:"minimum=0"`
	Input          any            `json:"input,omitempty"`
	Output         any            `json:"output,omitempty"`
	Model          string         `json:"model,omitempty"`
	Usage          *Usage         `json:"usage,omitempty"`
	ToolCalls      []ToolCall     `json:"tool_calls,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	StatusCode     int            `json:"status_code"`
	ErrorMessage   string         `json:"error_message,omitempty"`

	TraceName            string `json:"trace_name,omitempty"`
	WorkflowName         string `json:"workflow_name,omitempty"`
	SessionIdentifier    string `json:"session_identifier,omitempty"`
	CustomerIdentifier   string `json:"customer_identifier,omitempty"`
	TraceGroupIdentifier string `json:"trace_group_identifier,omitempty"`
}

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid span record")

// Validate checks identity fields, the log type and timing consistency.
func (r *SpanRecord) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil record", ErrInvalid)
	}
	if !ids.IsTraceID(r.TraceID) {
		return fmt.Errorf("%w: trace_id %q is not 32 lowercase hex", ErrInvalid, r.TraceID)
	}
	if !ids.IsSpanID(r.SpanID) {
		return fmt.Errorf("%w: span_id %q is not 16 lowercase hex", ErrInvalid, r.SpanID)
	}
	if r.ParentID != "" && !ids.IsSpanID(r.ParentID) {
		return fmt.Errorf("%w: parent_id %q is not 16 lowercase hex", ErrInvalid, r.ParentID)
	}
	if r.ParentID != "" && r.ParentID == r.SpanID {
		return fmt.Errorf("%w: span %s is its own parent", ErrInvalid, r.SpanID)
	}
	if r.SpanName == "" {
		return fmt.Errorf("%w: span_name is empty", ErrInvalid)
	}
	if !r.LogType.Valid() {
		return fmt.Errorf("%w: log_type %q is not supported", ErrInvalid, r.LogType)
	}
	if r.StartTime.IsZero() || r.EndTime.IsZero() {
		return fmt.Errorf("%w: missing timestamps", ErrInvalid)
	}
	if r.EndTime.Before(r.StartTime) {
		return fmt.Errorf("%w: end_time before start_time", ErrInvalid)
	}
	if r.LatencySeconds < 0 {
		return fmt.Errorf("%w: negative latency %v", ErrInvalid, r.LatencySeconds)
	}
	return nil
}
