/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package suppress

import (
	"context"
	"testing"
)

func TestActive(t *testing.T) {
	ctx := context.Background()
	if Active(ctx) {
		t.Error("Active(background) = true, wanted false")
	}

	sctx := Context(ctx)
	if !Active(sctx) {
		t.Error("Active(suppressed) = false, wanted true")
	}

	child, cancel := context.WithCancel(sctx)
	defer cancel()
	if !Active(child) {
		t.Error("Active(child of suppressed) = false, wanted true")
	}
	if Active(ctx) {
		t.Error("suppression leaked into the parent context")
	}
}
