/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package rawspan

import (
	"reflect"
	"strings"
	"sync"
	"unicode"
)

// Object is an attribute-like span backed by a struct (or pointer to struct).
// A key matches an exported field by json tag, by field name, or by the
// snake_case form of the field name. Zero-argument getter methods are matched
// the same way, so SDK types exposing SpanID() or Name() work unchanged.
type Object struct {
	value reflect.Value
}

var fieldCache sync.Map // reflect.Type -> map[string][]int

// Get implements Span.
func (o Object) Get(keys ...string) (v any, ok bool) {
	// Reflection over foreign types must never take the relay down.
	defer func() {
		if recover() != nil {
			v, ok = nil, false
		}
	}()

	if !o.value.IsValid() {
		return nil, false
	}
	for _, k := range keys {
		if v, ok := o.lookup(k); ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func (o Object) lookup(key string) (any, bool) {
	sv := o.value
	for sv.Kind() == reflect.Pointer {
		if sv.IsNil() {
			return nil, false
		}
		sv = sv.Elem()
	}
	if sv.Kind() != reflect.Struct {
		return nil, false
	}

	if idx, ok := fields(sv.Type())[key]; ok {
		f := sv.FieldByIndex(idx)
		if f.Kind() == reflect.Pointer && f.IsNil() {
			return nil, false
		}
		return f.Interface(), true
	}

	// Fall back to getter methods on the original (possibly pointer) value.
	t := o.value.Type()
	for i := range t.NumMethod() {
		m := t.Method(i)
		if m.Type.NumIn() != 1 || m.Type.NumOut() == 0 || m.Type.NumOut() > 2 {
			continue
		}
		if m.Name != key && snakeCase(m.Name) != key {
			continue
		}
		out := o.value.Method(i).Call(nil)
		if len(out) == 2 {
			switch last := out[1].Interface().(type) {
			case error:
				if last != nil {
					return nil, false
				}
			case bool:
				if !last {
					return nil, false
				}
			}
		}
		return out[0].Interface(), true
	}
	return nil, false
}

func fields(t reflect.Type) map[string][]int {
	if cached, ok := fieldCache.Load(t); ok {
		return cached.(map[string][]int)
	}
	out := make(map[string][]int)
	for _, f := range reflect.VisibleFields(t) {
		if !f.IsExported() || f.Anonymous {
			continue
		}
		if tag, _, _ := strings.Cut(f.Tag.Get("json"), ","); tag != "" && tag != "-" {
			out[tag] = f.Index
		}
		if _, ok := out[f.Name]; !ok {
			out[f.Name] = f.Index
		}
		if sn := snakeCase(f.Name); sn != "" {
			if _, ok := out[sn]; !ok {
				out[sn] = f.Index
			}
		}
	}
	fieldCache.Store(t, out)
	return out
}

// snakeCase converts Go identifiers to snake_case: SpanID -> span_id,
// ParentSpanID -> parent_span_id, StartedAt -> started_at.
func snakeCase(name string) string {
	runes := []rune(name)
	var sb strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					sb.WriteByte('_')
				}
			}
			sb.WriteRune(unicode.ToLower(r))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
