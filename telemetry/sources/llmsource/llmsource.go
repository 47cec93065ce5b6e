/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package llmsource turns provider responses into generation spans.
//
// Callers time their own requests and describe them with a Call. The
// converters fill in everything a generation span carries from the
// provider response type. The response id becomes the span id
// unless the Call names one, so the same response recorded twice is relayed
// once.
package llmsource

import (
	"context"
	"maps"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/bytedance/sonic"
	"github.com/openai/openai-go"
	"google.golang.org/genai"

	"chainguard.dev/agentrelay/telemetry/pipeline"
	"chainguard.dev/agentrelay/telemetry/rawspan"
)

// Call describes the request side of one model call.
type Call struct {
	TraceID  string
	SpanID   string
	ParentID string
	Name     string
	Input    any
	Start    time.Time
	End      time.Time
	Metadata map[string]any
}

// Recorder converts responses and hands them to an observer, one span per
// observation.
type Recorder struct {
	observer pipeline.Observer
}

// NewRecorder creates a Recorder feeding observer.
func NewRecorder(observer pipeline.Observer) *Recorder {
	return &Recorder{observer: observer}
}

// Attach implements pipeline.Source.
func (r *Recorder) Attach(observer pipeline.Observer) { r.observer = observer }

// Anthropic records a Messages API response.
func (r *Recorder) Anthropic(ctx context.Context, call Call, msg *anthropic.Message) {
	r.observe(ctx, FromAnthropic(call, msg))
}

// OpenAI records a Chat Completions response.
func (r *Recorder) OpenAI(ctx context.Context, call Call, completion *openai.ChatCompletion) {
	r.observe(ctx, FromOpenAI(call, completion))
}

// Gemini records a GenerateContent response.
func (r *Recorder) Gemini(ctx context.Context, call Call, resp *genai.GenerateContentResponse) {
	r.observe(ctx, FromGemini(call, resp))
}

func (r *Recorder) observe(ctx context.Context, span rawspan.Map) {
	if r.observer == nil || span == nil {
		return
	}
	r.observer.Observe(ctx, nil, span)
}

// generation accumulates the provider-neutral parts of a response.
type generation struct {
	system     string
	responseID string
	model      string
	text       []string
	reasoning  []string
	toolCalls  []any
	finish     string
	prompt     int64
	completion int64
	total      int64
}

func (g *generation) span(call Call) rawspan.Map {
	end := call.End
	if end.IsZero() {
		end = time.Now()
	}
	start := call.Start
	if start.IsZero() {
		start = end
	}
	name := call.Name
	if name == "" {
		name = g.system + ".generation"
	}
	spanID := call.SpanID
	if spanID == "" {
		spanID = g.responseID
	}

	md := map[string]any{"gen_ai.system": g.system}
	if g.finish != "" {
		md["gen_ai.response.finish_reason"] = g.finish
	}
	if len(g.reasoning) > 0 {
		md["reasoning"] = g.reasoning
	}
	maps.Copy(md, call.Metadata)

	usage := map[string]any{
		"prompt_tokens":     g.prompt,
		"completion_tokens": g.completion,
	}
	if g.total > 0 {
		usage["total_tokens"] = g.total
	}

	s := rawspan.Map{
		"span_id":    spanID,
		"trace_id":   call.TraceID,
		"parent_id":  call.ParentID,
		"type":       "generation",
		"name":       name,
		"model":      g.model,
		"input":      call.Input,
		"output":     strings.Join(g.text, "\n"),
		"start_time": start,
		"end_time":   end,
		"metadata":   md,
		"usage":      usage,
	}
	if len(g.toolCalls) > 0 {
		s["tool_calls"] = g.toolCalls
	}
	return s
}

func toolCall(id, name string, args any) map[string]any {
	return map[string]any{"id": id, "name": name, "arguments": args}
}

// arguments decodes JSON-encoded tool arguments, keeping the raw text when
// it does not parse.
func arguments(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := sonic.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

// FromAnthropic converts a Messages API response. Thinking blocks are kept
// as reasoning metadata.
func FromAnthropic(call Call, msg *anthropic.Message) rawspan.Map {
	if msg == nil {
		return nil
	}
	g := &generation{
		system:     "anthropic",
		responseID: msg.ID,
		model:      string(msg.Model),
		finish:     string(msg.StopReason),
		prompt:     msg.Usage.InputTokens,
		completion: msg.Usage.OutputTokens,
	}
	for _, content := range msg.Content {
		switch content.Type {
		case "text":
			g.text = append(g.text, content.Text)
		case "tool_use":
			g.toolCalls = append(g.toolCalls, toolCall(content.ID, content.Name, arguments(content.Input)))
		case "thinking", "redacted_thinking":
			if content.Thinking != "" {
				g.reasoning = append(g.reasoning, content.Thinking)
			}
		}
	}
	return g.span(call)
}

// FromOpenAI converts a Chat Completions response. Every choice contributes
// its message text.
func FromOpenAI(call Call, completion *openai.ChatCompletion) rawspan.Map {
	if completion == nil {
		return nil
	}
	g := &generation{
		system:     "openai",
		responseID: completion.ID,
		model:      completion.Model,
		prompt:     completion.Usage.PromptTokens,
		completion: completion.Usage.CompletionTokens,
		total:      completion.Usage.TotalTokens,
	}
	for _, choice := range completion.Choices {
		if g.finish == "" {
			g.finish = string(choice.FinishReason)
		}
		if choice.Message.Content != "" {
			g.text = append(g.text, choice.Message.Content)
		}
		for _, tc := range choice.Message.ToolCalls {
			g.toolCalls = append(g.toolCalls, toolCall(tc.ID, tc.Function.Name, arguments([]byte(tc.Function.Arguments))))
		}
	}
	return g.span(call)
}

// FromGemini converts a GenerateContent response. Only the first candidate
// is read, matching what the SDK's Text accessor reports.
func FromGemini(call Call, resp *genai.GenerateContentResponse) rawspan.Map {
	if resp == nil {
		return nil
	}
	g := &generation{
		system:     "gcp.gemini",
		responseID: resp.ResponseID,
		model:      resp.ModelVersion,
	}
	if u := resp.UsageMetadata; u != nil {
		g.prompt = int64(u.PromptTokenCount)
		g.completion = int64(u.CandidatesTokenCount)
		g.total = int64(u.TotalTokenCount)
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0] != nil {
		candidate := resp.Candidates[0]
		g.finish = string(candidate.FinishReason)
		if candidate.Content != nil {
			for _, part := range candidate.Content.Parts {
				switch {
				case part == nil:
				case part.Thought:
					g.reasoning = append(g.reasoning, part.Text)
				case part.Text != "":
					g.text = append(g.text, part.Text)
				case part.FunctionCall != nil:
					g.toolCalls = append(g.toolCalls, toolCall(part.FunctionCall.ID, part.FunctionCall.Name, part.FunctionCall.Args))
				}
			}
		}
	}
	return g.span(call)
}
