/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package dump loads captured traces from files so they can be replayed
// through a pipeline.
//
// A dump is JSON, JSON Lines or YAML. Each document is one of:
//
//   - a list of spans;
//   - a trace document {"trace": {...}, "spans": [...]}, where trace-level
//     keys may also sit beside "spans" instead of under "trace";
//   - {"traces": [<trace document>, ...]};
//   - a single span.
//
// JSON Lines files hold one document per line.
package dump

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"chainguard.dev/agentrelay/telemetry/rawspan"
)

// Format is a dump encoding.
type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatYAML  Format = "yaml"
)

// ErrUnknownFormat is returned for unrecognized file extensions.
var ErrUnknownFormat = errors.New("unknown dump format")

// Batch is one observation: an optional trace object and its spans.
type Batch struct {
	Source string
	Trace  rawspan.Span
	Spans  []rawspan.Span
}

// Numbers stay json.Number so nanosecond epochs keep their precision.
var jsonAPI = sonic.Config{UseNumber: true}.Froze()

// FormatOf infers the format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".jsonl", ".ndjson":
		return FormatJSONL, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, path)
}

// Load reads one dump file.
func Load(path string) ([]Batch, error) {
	f, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening dump: %w", err)
	}
	defer file.Close()

	batches, err := Decode(file, f)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	for i := range batches {
		batches[i].Source = path
	}
	return batches, nil
}

// LoadAll reads the files concurrently and returns their batches in
// argument order.
func LoadAll(ctx context.Context, paths []string) ([]Batch, error) {
	results := make([][]Batch, len(paths))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(8)
	for i, path := range paths {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			b, err := Load(path)
			if err != nil {
				return err
			}
			results[i] = b
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	var out []Batch
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

// Decode reads dump documents from r.
func Decode(r io.Reader, f Format) ([]Batch, error) {
	switch f {
	case FormatJSON:
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		var v any
		if err := jsonAPI.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("parsing json: %w", err)
		}
		return batchesOf(v), nil

	case FormatJSONL:
		return decodeLines(r)

	case FormatYAML:
		var out []Batch
		dec := yaml.NewDecoder(r)
		for {
			var v any
			err := dec.Decode(&v)
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			if err != nil {
				return nil, fmt.Errorf("parsing yaml: %w", err)
			}
			out = append(out, batchesOf(v)...)
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, f)
}

func decodeLines(r io.Reader) ([]Batch, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var out []Batch
	// Bare span lines accumulate into one batch.
	loose := Batch{}
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		var v any
		if err := jsonAPI.Unmarshal(b, &v); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		for _, batch := range batchesOf(v) {
			if batch.Trace == nil {
				loose.Spans = append(loose.Spans, batch.Spans...)
				continue
			}
			out = append(out, batch)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading lines: %w", err)
	}
	if len(loose.Spans) > 0 {
		out = append(out, loose)
	}
	return out, nil
}

func batchesOf(v any) []Batch {
	switch t := v.(type) {
	case []any:
		if len(t) > 0 && allTraceDocuments(t) {
			var out []Batch
			for _, doc := range t {
				out = append(out, traceDocument(doc.(map[string]any)))
			}
			return out
		}
		spans := spansOf(t)
		if len(spans) == 0 {
			return nil
		}
		return []Batch{{Spans: spans}}

	case map[string]any:
		if traces, ok := t["traces"].([]any); ok {
			return batchesOf(traces)
		}
		if _, ok := t["spans"]; ok {
			return []Batch{traceDocument(t)}
		}
		return []Batch{{Spans: []rawspan.Span{rawspan.Map(t)}}}
	}
	return nil
}

func allTraceDocuments(list []any) bool {
	for _, elem := range list {
		m, ok := elem.(map[string]any)
		if !ok {
			return false
		}
		if _, ok := m["spans"]; !ok {
			return false
		}
	}
	return true
}

func traceDocument(doc map[string]any) Batch {
	b := Batch{}
	list, _ := doc["spans"].([]any)
	b.Spans = spansOf(list)

	if t, ok := doc["trace"].(map[string]any); ok {
		b.Trace = rawspan.Map(t)
		return b
	}
	rest := make(map[string]any, len(doc))
	for k, v := range doc {
		if k != "spans" {
			rest[k] = v
		}
	}
	if len(rest) > 0 {
		b.Trace = rawspan.Map(rest)
	}
	return b
}

func spansOf(list []any) []rawspan.Span {
	out := make([]rawspan.Span, 0, len(list))
	for _, elem := range list {
		if m, ok := elem.(map[string]any); ok {
			out = append(out, rawspan.Map(m))
		}
	}
	return out
}
