/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package normalize

import (
	"strings"

	"chainguard.dev/agentrelay/telemetry/record"
)

// kindTable maps substrings of an explicit span kind to a LogType. Order
// matters: the first matching entry wins.
var kindTable = []struct {
	substr string
	lt     record.LogType
}{
	{"workflow", record.LogTypeWorkflow},
	{"agent", record.LogTypeAgent},
	{"handoff", record.LogTypeHandoff},
	{"guardrail", record.LogTypeGuardrail},
	{"tool", record.LogTypeTool},
	{"function", record.LogTypeTool},
	{"embedding", record.LogTypeEmbedding},
	{"chat", record.LogTypeChat},
	{"generation", record.LogTypeGeneration},
	{"llm", record.LogTypeGeneration},
	{"response", record.LogTypeGeneration},
	{"completion", record.LogTypeGeneration},
	{"task", record.LogTypeTask},
	{"chain", record.LogTypeTask},
	{"retriev", record.LogTypeTask},
	{"custom", record.LogTypeCustom},
}

// classifyKind matches an explicit kind case-insensitively against kindTable.
func classifyKind(kind string) (record.LogType, bool) {
	k := strings.ToLower(strings.TrimSpace(kind))
	if k == "" {
		return "", false
	}
	for _, e := range kindTable {
		if strings.Contains(k, e.substr) {
			return e.lt, true
		}
	}
	return "", false
}

// logType applies the classification cascade: explicit kind, then
// generation when a model is known, then workflow for parentless spans,
// then task.
func logType(kinds []string, model string, hasParent bool) record.LogType {
	for _, k := range kinds {
		if lt, ok := classifyKind(k); ok {
			return lt
		}
	}
	switch {
	case model != "":
		return record.LogTypeGeneration
	case !hasParent:
		return record.LogTypeWorkflow
	default:
		return record.LogTypeTask
	}
}
