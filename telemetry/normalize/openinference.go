/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package normalize

import (
	"slices"
	"strconv"
	"strings"

	"chainguard.dev/agentrelay/telemetry/rawspan"
	"chainguard.dev/agentrelay/telemetry/record"
)

// OpenInference flattens structured LLM payloads into indexed attribute keys
// such as llm.input_messages.0.message.content. These helpers rebuild the
// structure with a small trie keyed by path segment, where all-numeric
// siblings materialize as ordered slices.
const (
	inputMessagesPrefix  = "llm.input_messages"
	outputMessagesPrefix = "llm.output_messages"
	choicesPrefix        = "llm.choices"
)

type pathNode struct {
	value    any
	children map[string]*pathNode
}

func (n *pathNode) insert(path []string, v any) {
	if len(path) == 0 {
		n.value = v
		return
	}
	if n.children == nil {
		n.children = make(map[string]*pathNode)
	}
	child, ok := n.children[path[0]]
	if !ok {
		child = &pathNode{}
		n.children[path[0]] = child
	}
	child.insert(path[1:], v)
}

func (n *pathNode) materialize() any {
	if len(n.children) == 0 {
		return n.value
	}

	indices := make([]int, 0, len(n.children))
	for k := range n.children {
		i, err := strconv.Atoi(k)
		if err != nil || i < 0 {
			indices = nil
			break
		}
		indices = append(indices, i)
	}
	if indices != nil {
		slices.Sort(indices)
		out := make([]any, 0, len(indices))
		for _, i := range indices {
			out = append(out, n.children[strconv.Itoa(i)].materialize())
		}
		return out
	}

	out := make(map[string]any, len(n.children))
	for k, c := range n.children {
		out[k] = c.materialize()
	}
	return out
}

// extractIndexed removes every key under prefix from meta and returns the
// rebuilt ordered elements. Returns nil when no key matched.
func extractIndexed(meta map[string]any, prefix string) []any {
	root := &pathNode{}
	found := false
	for k, v := range meta {
		rest, ok := strings.CutPrefix(k, prefix+".")
		if !ok || rest == "" {
			continue
		}
		root.insert(strings.Split(rest, "."), v)
		delete(meta, k)
		found = true
	}
	if !found {
		return nil
	}
	elems, ok := root.materialize().([]any)
	if !ok {
		return nil
	}
	return elems
}

// extractMessages rebuilds the role/content message list stored under prefix.
func extractMessages(meta map[string]any, prefix string) []record.Message {
	var out []record.Message
	for _, elem := range extractIndexed(meta, prefix) {
		em, _ := rawspan.AsMap(elem)
		msg, ok := rawspan.AsMap(em["message"])
		if !ok {
			continue
		}
		m := record.Message{
			Role: rawspan.ToString(msg["role"]),
			Name: rawspan.ToString(msg["name"]),
		}
		if c := msg["content"]; !rawspan.IsBlank(c) {
			m.Content = c
		} else if text := contentsText(msg["contents"]); text != "" {
			m.Content = text
		}
		m.ToolCalls = indexedToolCalls(msg["tool_calls"])
		if m.Role == "" && m.Content == nil && len(m.ToolCalls) == 0 {
			continue
		}
		out = append(out, m)
	}
	return out
}

// extractChoiceText joins llm.choices.<i>.completion.text values.
func extractChoiceText(meta map[string]any) string {
	var parts []string
	for _, elem := range extractIndexed(meta, choicesPrefix) {
		em, _ := rawspan.AsMap(elem)
		completion, _ := rawspan.AsMap(em["completion"])
		if text := rawspan.ToString(completion["text"]); strings.TrimSpace(text) != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n")
}

func contentsText(v any) string {
	list, ok := v.([]any)
	if !ok {
		return ""
	}
	var parts []string
	for _, elem := range list {
		em, _ := rawspan.AsMap(elem)
		mc, _ := rawspan.AsMap(em["message_content"])
		if text := rawspan.ToString(mc["text"]); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n")
}

func indexedToolCalls(v any) []record.ToolCall {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []record.ToolCall
	for _, elem := range list {
		em, _ := rawspan.AsMap(elem)
		tc, ok := rawspan.AsMap(em["tool_call"])
		if !ok {
			continue
		}
		fn, _ := rawspan.AsMap(tc["function"])
		call := record.ToolCall{
			ID:        rawspan.ToString(tc["id"]),
			Name:      rawspan.ToString(fn["name"]),
			Arguments: fn["arguments"],
		}
		if call.Name == "" {
			continue
		}
		out = append(out, call)
	}
	return out
}
