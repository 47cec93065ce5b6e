/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
)

// AttributeEnricher adds contextual attributes (service, tenant, relay name)
// to the base attributes of every recorded measurement.
type AttributeEnricher func(ctx context.Context, baseAttrs []attribute.KeyValue) []attribute.KeyValue

// StaticAttributes returns an enricher that appends the same attributes to
// every measurement.
func StaticAttributes(attrs ...attribute.KeyValue) AttributeEnricher {
	return func(_ context.Context, base []attribute.KeyValue) []attribute.KeyValue {
		return append(base, attrs...)
	}
}
