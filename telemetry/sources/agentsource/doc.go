/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

/*
Package agentsource records in-process agent executions and relays them as
raw spans.

# Overview

  - ExecutionContext: session, customer and workflow metadata carried on the Go context
  - Trace[T]: one agent run from prompt to result
  - ToolCall[T]: a tool invocation within a trace
  - Generation: a model call within a trace
  - Tracer[T]: creates traces and records them when they complete

A completed trace renders as an agent root span with one tool child per tool
call and one generation child per model call. NewTracer hands that group to a
pipeline.Observer.

# Usage

	p, _ := pipeline.New(ctx, exporter)
	ctx = agentsource.WithTracer[string](ctx, agentsource.NewTracer[string](p))
	ctx = agentsource.WithExecutionContext(ctx, agentsource.ExecutionContext{
		SessionID: "chat-42",
	})

	trace := agentsource.StartTrace[string](ctx, "Summarize the incident")
	tc := trace.StartToolCall("tc1", "read_log", map[string]any{"path": "/var/log/app.log"})
	tc.Complete("...", nil)
	trace.RecordGeneration(agentsource.Generation{Model: "gpt-4o", Output: "It was DNS."})
	trace.Complete("", nil)
*/
package agentsource
