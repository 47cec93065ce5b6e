/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package rawspan

import (
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// Span is the capability every span source exposes: lookup of a value under
// one of several alias keys. Implementations must not panic on missing keys.
type Span interface {
	// Get returns the value stored under the first alias that is present.
	Get(keys ...string) (any, bool)
}

// Empty is the absent span. Every lookup misses.
type Empty struct{}

// Get implements Span.
func (Empty) Get(...string) (any, bool) { return nil, false }

// Map is a dict-like span.
type Map map[string]any

// Get implements Span.
func (m Map) Get(keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// Wrap adapts an arbitrary value to a Span.
func Wrap(v any) Span {
	switch t := v.(type) {
	case nil:
		return Empty{}
	case Span:
		return t
	case map[string]any:
		return Map(t)
	case map[string]string:
		m := make(Map, len(t))
		for k, s := range t {
			m[k] = s
		}
		return m
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Empty{}
		}
		m := make(Map, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return m
	case reflect.Pointer:
		if rv.IsNil() {
			return Empty{}
		}
		if rv.Elem().Kind() == reflect.Struct {
			return Object{value: rv}
		}
		return Wrap(rv.Elem().Interface())
	case reflect.Struct:
		return Object{value: rv}
	}
	return Empty{}
}

// Lookup returns the first non-blank value stored under any of the aliases.
func Lookup(s Span, keys ...string) (any, bool) {
	if s == nil {
		return nil, false
	}
	for _, k := range keys {
		if v, ok := s.Get(k); ok && !IsBlank(v) {
			return v, true
		}
	}
	return nil, false
}

// String returns the first non-blank alias rendered as a string, or "".
func String(s Span, keys ...string) string {
	v, ok := Lookup(s, keys...)
	if !ok {
		return ""
	}
	return ToString(v)
}

// Metadata returns a private copy of the span's metadata bag. Values found
// under "tags", "attributes" and "metadata" are merged in that order, so
// "metadata" wins on conflicting keys.
func Metadata(s Span) map[string]any {
	out := make(map[string]any)
	if s == nil {
		return out
	}
	for _, k := range []string{"tags", "attributes", "metadata"} {
		v, ok := s.Get(k)
		if !ok {
			continue
		}
		if m, ok := AsMap(v); ok {
			maps.Copy(out, m)
		}
	}
	return out
}

// IsBlank reports whether v should be treated as absent.
func IsBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		switch strings.TrimSpace(t) {
		case "", "[]", "{}", "null":
			return true
		}
		return false
	case time.Time:
		return t.IsZero()
	case json.RawMessage:
		return IsBlank(string(t))
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return true
		}
		return IsBlank(rv.Elem().Interface())
	}
	return false
}

// ToString renders a scalar as a string. Composite values are JSON encoded.
func ToString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case json.Number:
		return t.String()
	case fmt.Stringer:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, bool:
		return fmt.Sprint(t)
	}
	b, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// Float converts numeric values (and numeric strings) to float64.
func Float(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

// Int converts numeric values (and numeric strings) to int64.
func Int(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, true
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
			return i, true
		}
	}
	f, ok := Float(v)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

// AsMap converts map-shaped values to map[string]any. JSON object strings are
// decoded, and structs are converted through their JSON representation.
func AsMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case map[string]any:
		return t, true
	case Map:
		return map[string]any(t), true
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, s := range t {
			out[k] = s
		}
		return out, true
	case string:
		s := strings.TrimSpace(t)
		if !strings.HasPrefix(s, "{") {
			return nil, false
		}
		var out map[string]any
		if err := sonic.UnmarshalString(s, &out); err != nil {
			return nil, false
		}
		return out, true
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = iter.Value().Interface()
		}
		return out, true
	case reflect.Struct:
		b, err := sonic.Marshal(rv.Interface())
		if err != nil {
			return nil, false
		}
		var out map[string]any
		if err := sonic.Unmarshal(b, &out); err != nil {
			return nil, false
		}
		return out, true
	}
	return nil, false
}
