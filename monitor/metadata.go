package monitor

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"go.uber.org/zap/zapcore"
)

// ValueKind identifies which variant a Value holds.
type ValueKind int

const (
	KindString ValueKind = iota
	KindNumber
	KindBool
)

// String returns the kind name.
func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	default:
		return "unknown"
	}
}

// Value is a metadata value restricted to string, number or bool.
// The zero Value is the empty string.
type Value struct {
	kind ValueKind
	str  string
	num  float64
	b    bool
}

// String creates a string Value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number creates a numeric Value.
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }

// Int creates a numeric Value from an integer.
func Int(n int64) Value { return Value{kind: KindNumber, num: float64(n)} }

// Bool creates a boolean Value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// ValueOf converts a Go scalar into a Value. Unsupported types are
// rendered with fmt and stored as strings.
func ValueOf(v any) Value {
	switch t := v.(type) {
	case Value:
		return t
	case string:
		return String(t)
	case bool:
		return Bool(t)
	case int:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case uint:
		return Number(float64(t))
	case uint32:
		return Number(float64(t))
	case uint64:
		return Number(float64(t))
	case float32:
		return Number(float64(t))
	case float64:
		return Number(t)
	case error:
		return String(t.Error())
	case fmt.Stringer:
		return String(t.String())
	case nil:
		return String("")
	default:
		return String(fmt.Sprint(t))
	}
}

// Kind reports which variant the value holds.
func (v Value) Kind() ValueKind { return v.kind }

// Str returns the string variant and whether the value is a string.
func (v Value) Str() (string, bool) { return v.str, v.kind == KindString }

// Num returns the numeric variant and whether the value is a number.
func (v Value) Num() (float64, bool) { return v.num, v.kind == KindNumber }

// BoolValue returns the boolean variant and whether the value is a bool.
func (v Value) BoolValue() (bool, bool) { return v.b, v.kind == KindBool }

// Any returns the value as a plain Go scalar.
func (v Value) Any() any {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindString:
		return v.str
	default:
		return v.str
	}
}

// String renders the value for display.
func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindString:
		return v.str
	default:
		return v.str
	}
}

// MarshalJSON encodes the value as a bare JSON scalar.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == KindNumber && (math.IsNaN(v.num) || math.IsInf(v.num, 0)) {
		return json.Marshal(v.String())
	}
	return json.Marshal(v.Any())
}

// UnmarshalJSON decodes a JSON scalar. Objects and arrays are kept as
// their raw JSON text.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch t := raw.(type) {
	case string:
		*v = String(t)
	case float64:
		*v = Number(t)
	case bool:
		*v = Bool(t)
	case nil:
		*v = String("")
	default:
		*v = String(string(data))
	}
	return nil
}

// Metadata is the free-form key/value annotation attached to operations.
type Metadata map[string]Value

// MetadataFrom converts a loosely typed map into Metadata.
func MetadataFrom(m map[string]any) Metadata {
	if len(m) == 0 {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = ValueOf(v)
	}
	return out
}

// Clone returns an independent copy.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Merge copies every key of other into m, overwriting existing keys.
// m must be non-nil when other is non-empty.
func (m Metadata) Merge(other Metadata) {
	for k, v := range other {
		m[k] = v
	}
}

// Keys returns the keys in sorted order.
func (m Metadata) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (m Metadata) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	for _, k := range m.Keys() {
		v := m[k]
		switch v.kind {
		case KindNumber:
			enc.AddFloat64(k, v.num)
		case KindBool:
			enc.AddBool(k, v.b)
		case KindString:
			enc.AddString(k, v.str)
		default:
			enc.AddString(k, v.str)
		}
	}
	return nil
}
