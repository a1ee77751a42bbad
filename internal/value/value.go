// Package value implements the dynamically-typed runtime value used by the
// rule evaluator: the result of evaluating an expression, and the shape
// action payloads and state-store entries are coerced into.
package value

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies the concrete type held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
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
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Value is a tagged union mirroring the JSON data model plus a distinct
// integer kind (JSON itself has only "number").
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	list []Value
	m    map[string]Value
}

func Null() Value                     { return Value{kind: KindNull} }
func Bool(b bool) Value               { return Value{kind: KindBool, b: b} }
func Int(i int64) Value               { return Value{kind: KindInt, i: i} }
func Float(f float64) Value           { return Value{kind: KindFloat, f: f} }
func String(s string) Value           { return Value{kind: KindString, s: s} }
func List(items []Value) Value        { return Value{kind: KindList, list: items} }
func Map(m map[string]Value) Value    { return Value{kind: KindMap, m: m} }

func (v Value) Kind() Kind { return v.kind }
func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}
func (v Value) AsInt() (int64, bool) {
	if v.kind != KindInt {
		return 0, false
	}
	return v.i, true
}
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	default:
		return 0, false
	}
}
func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.s, true
}
func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return v.list, true
}
func (v Value) AsMap() (map[string]Value, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	return v.m, true
}

// IsTruthy implements the falsy rules: null, false, 0, 0.0, "", empty list,
// empty map are falsy; everything else is truthy.
func (v Value) IsTruthy() bool {
	switch v.kind {
	case KindNull:
		return false
	case KindBool:
		return v.b
	case KindInt:
		return v.i != 0
	case KindFloat:
		return v.f != 0
	case KindString:
		return v.s != ""
	case KindList:
		return len(v.list) > 0
	case KindMap:
		return len(v.m) > 0
	default:
		return false
	}
}

// Field performs Map field access; any other kind is a TypeError.
func (v Value) Field(name string) (Value, error) {
	if v.kind != KindMap {
		return Null(), fmt.Errorf("field access on non-map value of kind %s", v.kind)
	}
	if val, ok := v.m[name]; ok {
		return val, nil
	}
	return Null(), nil
}

// Index performs List index access (supporting negative indices counting
// from the end) or Map key access via a string Value.
func (v Value) Index(idx Value) (Value, error) {
	switch v.kind {
	case KindList:
		n, ok := idx.AsInt()
		if !ok {
			return Null(), fmt.Errorf("list index must be int, got %s", idx.Kind())
		}
		if n < 0 {
			n += int64(len(v.list))
		}
		if n < 0 || n >= int64(len(v.list)) {
			return Null(), nil
		}
		return v.list[n], nil
	case KindMap:
		key, ok := idx.AsString()
		if !ok {
			return Null(), fmt.Errorf("map index must be string, got %s", idx.Kind())
		}
		if val, ok := v.m[key]; ok {
			return val, nil
		}
		return Null(), nil
	default:
		return Null(), fmt.Errorf("index access on non-indexable value of kind %s", v.kind)
	}
}

// DisplayString renders the value the way template interpolation does.
func (v Value) DisplayString() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return v.s
	case KindList, KindMap:
		b, _ := json.Marshal(v.toJSON())
		return string(b)
	default:
		return ""
	}
}

// FromJSON converts a decoded JSON value (as produced by encoding/json's
// interface{} decoding, plus int64 as exported by the plugin runtime)
// into a Value.
func FromJSON(raw interface{}) Value {
	switch t := raw.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case int64:
		return Int(t)
	case float64:
		if t == float64(int64(t)) {
			return Int(int64(t))
		}
		return Float(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i)
		}
		f, _ := t.Float64()
		return Float(f)
	case string:
		return String(t)
	case []interface{}:
		items := make([]Value, len(t))
		for i, e := range t {
			items[i] = FromJSON(e)
		}
		return List(items)
	case map[string]interface{}:
		m := make(map[string]Value, len(t))
		for k, e := range t {
			m[k] = FromJSON(e)
		}
		return Map(m)
	default:
		return Null()
	}
}

func (v Value) toJSON() interface{} {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindList:
		out := make([]interface{}, len(v.list))
		for i, e := range v.list {
			out[i] = e.toJSON()
		}
		return out
	case KindMap:
		out := make(map[string]interface{}, len(v.m))
		for k, e := range v.m {
			out[k] = e.toJSON()
		}
		return out
	default:
		return nil
	}
}

// MarshalJSON lets Value round-trip through encoding/json (used by
// audit/DLQ sinks that serialize verdict details).
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.toJSON())
}

// ExtractPath walks a dot-separated path (with optional [N] array indices)
// through the value. A missing segment yields Null, not an error.
func ExtractPath(v Value, path string) Value {
	cur := v
	for _, seg := range strings.Split(path, ".") {
		name, idx, hasIdx := splitIndex(seg)
		if name != "" {
			next, err := cur.Field(name)
			if err != nil {
				return Null()
			}
			cur = next
		}
		if hasIdx {
			next, err := cur.Index(Int(int64(idx)))
			if err != nil {
				return Null()
			}
			cur = next
		}
	}
	return cur
}

func splitIndex(seg string) (name string, idx int, hasIdx bool) {
	open := strings.IndexByte(seg, '[')
	if open < 0 || !strings.HasSuffix(seg, "]") {
		return seg, 0, false
	}
	name = seg[:open]
	n, err := strconv.Atoi(seg[open+1 : len(seg)-1])
	if err != nil {
		return seg, 0, false
	}
	return name, n, true
}

// SortedKeys returns a Map's keys in sorted order, used anywhere map
// iteration must be deterministic (fingerprinting, display formatting).
func SortedKeys(m map[string]Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
