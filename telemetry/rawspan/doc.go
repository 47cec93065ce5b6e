/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

/*
Package rawspan provides the capability surface used to read loosely-typed spans.

# Overview

Agent frameworks hand us span and trace objects in many shapes: decoded JSON maps,
SDK structs with exported fields, or objects exposing getter methods. Each field may
live under several alias keys (span_id, id, uid). This package hides those shapes
behind a single interface:

	type Span interface {
		Get(keys ...string) (any, bool)
	}

Get returns the value of the first alias that is present. A missing key is never an
error; callers receive (nil, false).

# Variants

  - Map: dict-like sources (map[string]any)
  - Object: attribute-like sources (structs and pointers to structs)
  - Empty: the absent span

Use Wrap to pick the right variant for an arbitrary value.

# Blank values

IsBlank implements the blank policy shared by every cascade in the relay: nil, the
empty string, the literal strings "[]", "{}" and "null", and empty collections are
all treated as absent.

	name := rawspan.String(span, "span_name", "name")
	meta := rawspan.Metadata(span)
*/
package rawspan
