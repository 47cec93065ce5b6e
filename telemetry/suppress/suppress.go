/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package suppress marks contexts whose work must not produce telemetry,
// such as the relay's own export calls, so instrumented transports do not
// feed the relay its own traffic.
package suppress

import "context"

type suppressKey struct{}

// Context returns a child of ctx inside which span creation is suppressed.
func Context(ctx context.Context) context.Context {
	return context.WithValue(ctx, suppressKey{}, true)
}

// Active reports whether ctx is inside a suppressed scope.
func Active(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	v, _ := ctx.Value(suppressKey{}).(bool)
	return v
}
