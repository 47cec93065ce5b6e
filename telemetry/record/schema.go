/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package record

import "github.com/invopop/jsonschema"

// Schema returns the JSON schema of a batch: an array of SpanRecord objects.
func Schema() *jsonschema.Schema {
	r := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		AllowAdditionalProperties:  true,
		DoNotReference:             true,
	}
	item := r.Reflect(&SpanRecord{})
	item.Version = ""
	return &jsonschema.Schema{
		Version:     jsonschema.Version,
		Title:       "SpanRecord batch",
		Description: "Spans POSTed to the trace ingestion endpoint",
		Type:        "array",
		Items:       item,
	}
}
