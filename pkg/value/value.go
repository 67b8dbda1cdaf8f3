// Package value defines the closed set of values exchanged between plan steps:
// null, bool, number, string, ordered list and ordered map.
package value

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is an immutable tagged value. The zero Value is null.
//
// Lists and maps keep their payload behind a pointer, so copies of a Value
// share it. Same reports that sharing.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	c    *composite
}

type composite struct {
	items []Value
	keys  []string
	index map[string]int
}

// Entry is one key/value pair of a map value.
type Entry struct {
	Key   string
	Value Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool wraps b.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number wraps n.
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// String wraps s.
func String(s string) Value { return Value{kind: KindString, s: s} }

// List builds a list value holding items in order.
func List(items ...Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindList, c: &composite{items: cp}}
}

// Map builds a map value. Keys keep their first position; a repeated key
// overwrites the earlier value.
func Map(entries ...Entry) Value {
	c := &composite{index: make(map[string]int, len(entries))}
	for _, e := range entries {
		if pos, ok := c.index[e.Key]; ok {
			c.items[pos] = e.Value
			continue
		}
		c.index[e.Key] = len(c.keys)
		c.keys = append(c.keys, e.Key)
		c.items = append(c.items, e.Value)
	}
	return Value{kind: KindMap, c: c}
}

// Kind reports the variant.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean payload.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsNumber returns the numeric payload.
func (v Value) AsNumber() (float64, bool) { return v.n, v.kind == KindNumber }

// AsString returns the string payload.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// Len returns the number of list items or map entries.
func (v Value) Len() int {
	if v.c == nil {
		return 0
	}
	return len(v.c.items)
}

// Items returns the list items. The slice must not be modified.
func (v Value) Items() []Value {
	if v.kind != KindList || v.c == nil {
		return nil
	}
	return v.c.items
}

// Entries returns the map entries in insertion order.
func (v Value) Entries() []Entry {
	if v.kind != KindMap || v.c == nil {
		return nil
	}
	out := make([]Entry, len(v.c.keys))
	for i, key := range v.c.keys {
		out[i] = Entry{Key: key, Value: v.c.items[i]}
	}
	return out
}

// Get looks up key in a map value.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindMap || v.c == nil {
		return Value{}, false
	}
	pos, ok := v.c.index[key]
	if !ok {
		return Value{}, false
	}
	return v.c.items[pos], true
}

// Finite reports whether every number inside v is finite, which is what JSON
// can carry.
func Finite(v Value) bool {
	switch v.kind {
	case KindNumber:
		return !math.IsNaN(v.n) && !math.IsInf(v.n, 0)
	case KindList:
		for _, item := range v.Items() {
			if !Finite(item) {
				return false
			}
		}
	case KindMap:
		for _, e := range v.Entries() {
			if !Finite(e.Value) {
				return false
			}
		}
	}
	return true
}

// Same reports whether a and b are the same value: scalars compare equal and
// lists or maps share one payload.
func Same(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	if a.kind == KindList || a.kind == KindMap {
		return a.c == b.c
	}
	return Equal(a, b)
}

// Equal reports deep equality. Map comparison ignores entry order.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindNumber:
		return a.n == b.n
	case KindString:
		return a.s == b.s
	case KindList:
		if a.Len() != b.Len() {
			return false
		}
		for i, item := range a.Items() {
			if !Equal(item, b.c.items[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if a.Len() != b.Len() {
			return false
		}
		for _, e := range a.Entries() {
			other, ok := b.Get(e.Key)
			if !ok || !Equal(e.Value, other) {
				return false
			}
		}
		return true
	}
	return false
}

// String renders v for display: strings unquoted, integral numbers without a
// fraction, lists and maps as compact JSON.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNumber:
		return formatNumber(v.n)
	case KindString:
		return v.s
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("<%s: %v>", v.kind, err)
		}
		return string(raw)
	}
}

func formatNumber(n float64) string {
	if n == math.Trunc(n) && math.Abs(n) < 1e15 {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// From converts a decoded Go value into a Value.
func From(in any) (Value, error) {
	switch t := in.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int8:
		return Number(float64(t)), nil
	case int16:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case uint:
		return Number(float64(t)), nil
	case uint8:
		return Number(float64(t)), nil
	case uint16:
		return Number(float64(t)), nil
	case uint32:
		return Number(float64(t)), nil
	case uint64:
		return Number(float64(t)), nil
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("value: invalid number %q: %w", t, err)
		}
		return Number(n), nil
	case []string:
		items := make([]Value, len(t))
		for i, s := range t {
			items[i] = String(s)
		}
		return Value{kind: KindList, c: &composite{items: items}}, nil
	case []Value:
		return List(t...), nil
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			converted, err := From(item)
			if err != nil {
				return Value{}, fmt.Errorf("value: list item %d: %w", i, err)
			}
			items[i] = converted
		}
		return Value{kind: KindList, c: &composite{items: items}}, nil
	case []Entry:
		return Map(t...), nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for key := range t {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		entries := make([]Entry, 0, len(keys))
		for _, key := range keys {
			converted, err := From(t[key])
			if err != nil {
				return Value{}, fmt.Errorf("value: map key %q: %w", key, err)
			}
			entries = append(entries, Entry{Key: key, Value: converted})
		}
		return Map(entries...), nil
	default:
		return Value{}, fmt.Errorf("value: unsupported type %T", in)
	}
}

// MustFrom is From for literals known to be convertible.
func MustFrom(in any) Value {
	v, err := From(in)
	if err != nil {
		panic(err)
	}
	return v
}

// Interface converts v back to plain Go values (nil, bool, float64, string,
// []any, map[string]any).
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindList:
		out := make([]any, v.Len())
		for i, item := range v.Items() {
			out[i] = item.Interface()
		}
		return out
	case KindMap:
		out := make(map[string]any, v.Len())
		for _, e := range v.Entries() {
			out[e.Key] = e.Value.Interface()
		}
		return out
	default:
		return nil
	}
}

// Truncate shortens long display strings for log lines.
func Truncate(s string, limit int) string {
	if limit <= 0 || len([]rune(s)) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + "..."
}

// Join renders values separated by sep using String.
func Join(values []Value, sep string) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = v.String()
	}
	return strings.Join(parts, sep)
}
