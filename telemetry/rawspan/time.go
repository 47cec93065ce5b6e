/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package rawspan

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// Magnitude thresholds used to tell epoch units apart.
const (
	epochMillisThreshold = 1e11
	epochMicrosThreshold = 1e14
	epochNanosThreshold  = 1e17
)

// Time coerces heterogeneous timestamp representations to UTC: time.Time,
// epoch seconds, epoch milliseconds/microseconds/nanoseconds (detected by
// magnitude), numeric strings and date strings in any common layout.
func Time(v any) (time.Time, bool) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		if t.IsZero() {
			return time.Time{}, false
		}
		return t.UTC(), true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return Time(*t)
	case string:
		return parseTimeString(t)
	case json.Number:
		return parseTimeString(t.String())
	}

	f, ok := Float(v)
	if !ok {
		return time.Time{}, false
	}
	return fromEpoch(f)
}

func parseTimeString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if f, ok := Float(s); ok {
		return fromEpoch(f)
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

func fromEpoch(f float64) (time.Time, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return time.Time{}, false
	}
	switch {
	case f > epochNanosThreshold:
		return time.Unix(0, int64(f)).UTC(), true
	case f > epochMicrosThreshold:
		return time.UnixMicro(int64(f)).UTC(), true
	case f > epochMillisThreshold:
		sec, frac := math.Modf(f / 1e3)
		return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC(), true
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC(), true
}
