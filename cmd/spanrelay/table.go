/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"

	"chainguard.dev/agentrelay/telemetry/rawspan"
	"chainguard.dev/agentrelay/telemetry/record"
)

var tableHeaders = []string{"Trace", "Span", "Parent", "Type", "Name", "Model", "Latency", "Status", "Output"}

// recordTable is a pipeline.Sender that collects records for printing.
type recordTable struct {
	mu      sync.Mutex
	records []*record.SpanRecord
}

func newRecordTable() *recordTable { return &recordTable{} }

func (t *recordTable) Send(_ context.Context, records []*record.SpanRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = append(t.records, records...)
}

// Render writes one row per collected record.
func (t *recordTable) Render(w io.Writer) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	table := createStandardTable(tableHeaders, w)
	for _, r := range t.records {
		if err := table.Append(row(r)); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d records\n", len(t.records))
	return err
}

func row(r *record.SpanRecord) []string {
	return []string{
		short(r.TraceID, 8),
		r.SpanID,
		r.ParentID,
		string(r.LogType),
		short(r.SpanName, 24),
		r.Model,
		strconv.FormatFloat(r.LatencySeconds, 'f', 3, 64) + "s",
		strconv.Itoa(r.StatusCode),
		short(rawspan.ToString(r.Output), 32),
	}
}

func short(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func createStandardTable(headers []string, w io.Writer) *tablewriter.Table {
	cfg := tablewriter.Config{
		Header: tw.CellConfig{
			Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			Formatting: tw.CellFormatting{AutoFormat: tw.Off},
		},
		Row: tw.CellConfig{
			Alignment: tw.CellAlignment{Global: tw.AlignLeft},
		},
		Behavior: tw.Behavior{TrimSpace: tw.Off},
	}
	return tablewriter.NewTable(w,
		tablewriter.WithConfig(cfg),
		tablewriter.WithHeader(headers),
		tablewriter.WithRenderer(renderer.NewBlueprint()),
		tablewriter.WithRendition(tw.Rendition{
			Symbols: tw.NewSymbols(tw.StyleMarkdown),
			Borders: tw.Border{
				Left:   tw.On,
				Top:    tw.Off,
				Right:  tw.On,
				Bottom: tw.Off,
			},
		}),
		tablewriter.WithRowAutoWrap(tw.WrapNone),
	)
}
