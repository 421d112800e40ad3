package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Kind identifies which variant a Value holds
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
)

// String returns the kind name
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
		return "unknown"
	}
}

// Value is a semi-structured value as found in query rows, watcher records and
// configuration documents. The zero Value is Null.
//
// Map values share their underlying map: setting a key through one copy is
// visible through every other copy. Use Clone for an independent value.
type Value struct {
	kind Kind
	b    bool
	n    json.Number
	s    string
	l    []Value
	m    map[string]Value
}

// Null returns the null value
func Null() Value { return Value{} }

// Bool wraps a boolean
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number wraps a numeric literal
func Number(n json.Number) Value { return Value{kind: KindNumber, n: n} }

// Int wraps an integer
func Int(i int64) Value { return Number(json.Number(strconv.FormatInt(i, 10))) }

// Float wraps a float
func Float(f float64) Value { return Number(json.Number(strconv.FormatFloat(f, 'f', -1, 64))) }

// String wraps a string
func String(s string) Value { return Value{kind: KindString, s: s} }

// List wraps a list of values
func List(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindList, l: items}
}

// Strings wraps a list of strings
func Strings(items ...string) Value {
	l := make([]Value, len(items))
	for i, s := range items {
		l[i] = String(s)
	}
	return Value{kind: KindList, l: l}
}

// Map wraps a map. A nil map becomes an empty map.
func Map(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: KindMap, m: m}
}

// Kind reports the variant held
func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool   { return v.kind == KindNull }
func (v Value) IsString() bool { return v.kind == KindString }
func (v Value) IsList() bool   { return v.kind == KindList }
func (v Value) IsMap() bool    { return v.kind == KindMap }

// IsScalar reports whether v is a bool, number or string
func (v Value) IsScalar() bool {
	return v.kind == KindBool || v.kind == KindNumber || v.kind == KindString
}

func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

func (v Value) AsNumber() (json.Number, bool) { return v.n, v.kind == KindNumber }

func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

func (v Value) AsList() ([]Value, bool) { return v.l, v.kind == KindList }

func (v Value) AsMap() (map[string]Value, bool) { return v.m, v.kind == KindMap }

// Float returns the numeric value as float64
func (v Value) Float() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	f, err := v.n.Float64()
	return f, err == nil
}

// Get returns the value stored under key when v is a map
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	child, ok := v.m[key]
	return child, ok
}

// Set stores child under key when v is a map. It reports whether v is a map.
func (v Value) Set(key string, child Value) bool {
	if v.kind != KindMap {
		return false
	}
	v.m[key] = child
	return true
}

// Keys returns the sorted keys of a map value
func (v Value) Keys() []string {
	if v.kind != KindMap {
		return nil
	}
	keys := make([]string, 0, len(v.m))
	for k := range v.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of elements of a list or map
func (v Value) Len() int {
	switch v.kind {
	case KindList:
		return len(v.l)
	case KindMap:
		return len(v.m)
	case KindString:
		return len(v.s)
	}
	return 0
}

// Text renders a scalar as plain text. Null renders empty; lists and maps
// render as compact JSON.
func (v Value) Text() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNumber:
		return v.n.String()
	case KindString:
		return v.s
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// Equal reports structural equality
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		if v.n == o.n {
			return true
		}
		a, errA := v.n.Float64()
		b, errB := o.n.Float64()
		return errA == nil && errB == nil && a == b
	case KindString:
		return v.s == o.s
	case KindList:
		if len(v.l) != len(o.l) {
			return false
		}
		for i := range v.l {
			if !v.l[i].Equal(o.l[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(o.m) {
			return false
		}
		for k, a := range v.m {
			b, ok := o.m[k]
			if !ok || !a.Equal(b) {
				return false
			}
		}
		return true
	}
	return false
}

// Clone returns a deep copy
func (v Value) Clone() Value {
	switch v.kind {
	case KindList:
		l := make([]Value, len(v.l))
		for i, item := range v.l {
			l[i] = item.Clone()
		}
		return Value{kind: KindList, l: l}
	case KindMap:
		m := make(map[string]Value, len(v.m))
		for k, item := range v.m {
			m[k] = item.Clone()
		}
		return Value{kind: KindMap, m: m}
	default:
		return v
	}
}

// FromAny converts decoded JSON/YAML data into a Value
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case json.Number:
		return Number(t), nil
	case string:
		return String(t), nil
	case int:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint:
		return Number(json.Number(strconv.FormatUint(uint64(t), 10))), nil
	case uint32:
		return Int(int64(t)), nil
	case uint64:
		return Number(json.Number(strconv.FormatUint(t, 10))), nil
	case float32:
		return Float(float64(t)), nil
	case float64:
		return Float(t), nil
	case []string:
		return Strings(t...), nil
	case []any:
		l := make([]Value, len(t))
		for i, item := range t {
			child, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			l[i] = child
		}
		return List(l...), nil
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			child, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			m[k] = child
		}
		return Map(m), nil
	case map[any]any:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			child, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			m[fmt.Sprint(k)] = child
		}
		return Map(m), nil
	default:
		return Value{}, fmt.Errorf("value: unsupported type %T", x)
	}
}

// MarshalJSON implements json.Marshaler
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindNumber:
		if v.n == "" {
			return []byte("0"), nil
		}
		return []byte(v.n), nil
	case KindString:
		return json.Marshal(v.s)
	case KindList:
		return json.Marshal(v.l)
	case KindMap:
		return json.Marshal(v.m)
	}
	return nil, fmt.Errorf("value: unknown kind %d", v.kind)
}

// UnmarshalJSON implements json.Unmarshaler, keeping numeric literals intact
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ParseJSON decodes a JSON document into a Value
func ParseJSON(data []byte) (Value, error) {
	var v Value
	if err := json.Unmarshal(data, &v); err != nil {
		return Value{}, err
	}
	return v, nil
}

// ParseYAML decodes a YAML document into a Value
func ParseYAML(data []byte) (Value, error) {
	var v Value
	if err := yaml.Unmarshal(data, &v); err != nil {
		return Value{}, err
	}
	return v, nil
}
