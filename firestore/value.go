package firestore

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Kind discriminates the Firestore wire representation of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindString
	KindInteger
	KindDouble
	KindTimestamp
	KindArray
	KindMap
)

// Value is the tagged union Firestore's REST API uses for document fields:
// exactly one of nullValue, booleanValue, stringValue, integerValue,
// doubleValue, timestampValue, arrayValue, or mapValue. Integers travel as
// decimal strings and timestamps as RFC 3339 UTC, matching the wire format.
type Value struct {
	kind Kind
	b    bool
	s    string
	i    int64
	d    float64
	t    time.Time
	arr  []Value
	m    map[string]Value
}

// Constructors for each tag.
func Null() Value                  { return Value{kind: KindNull} }
func Bool(b bool) Value            { return Value{kind: KindBool, b: b} }
func String(s string) Value        { return Value{kind: KindString, s: s} }
func Integer(i int64) Value        { return Value{kind: KindInteger, i: i} }
func Double(d float64) Value       { return Value{kind: KindDouble, d: d} }
func Timestamp(t time.Time) Value  { return Value{kind: KindTimestamp, t: t.UTC()} }
func Array(vs []Value) Value       { return Value{kind: KindArray, arr: vs} }
func Map(m map[string]Value) Value { return Value{kind: KindMap, m: m} }

// Kind returns the value's tag.
func (v Value) Kind() Kind { return v.kind }

// StringVal extracts a string, reporting false on tag mismatch.
func (v Value) StringVal() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.s, true
}

// BoolVal extracts a boolean, reporting false on tag mismatch.
func (v Value) BoolVal() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// IntVal extracts an integer, reporting false on tag mismatch.
func (v Value) IntVal() (int64, bool) {
	if v.kind != KindInteger {
		return 0, false
	}
	return v.i, true
}

// DoubleVal extracts a double, reporting false on tag mismatch.
func (v Value) DoubleVal() (float64, bool) {
	if v.kind != KindDouble {
		return 0, false
	}
	return v.d, true
}

// TimeVal extracts a timestamp, reporting false on tag mismatch.
func (v Value) TimeVal() (time.Time, bool) {
	if v.kind != KindTimestamp {
		return time.Time{}, false
	}
	return v.t, true
}

// MapVal extracts nested fields, reporting false on tag mismatch.
func (v Value) MapVal() (map[string]Value, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	return v.m, true
}

// ArrayVal extracts array elements, reporting false on tag mismatch.
func (v Value) ArrayVal() ([]Value, bool) {
	if v.kind != KindArray {
		return nil, false
	}
	return v.arr, true
}

// IsNull reports whether the value carries the explicit null tag.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Encode converts a native value into its Firestore representation. A finite
// float with zero fractional part encodes as integerValue; NaN, infinities
// and unsupported native types are hard errors, never silent coercions.
func Encode(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(x), nil
	case string:
		return String(x), nil
	case int:
		return Integer(int64(x)), nil
	case int32:
		return Integer(int64(x)), nil
	case int64:
		return Integer(x), nil
	case float32:
		return encodeFloat(float64(x))
	case float64:
		return encodeFloat(x)
	case time.Time:
		return Timestamp(x), nil
	case Value:
		return x, nil
	case []any:
		out := make([]Value, 0, len(x))
		for i, el := range x {
			ev, err := Encode(el)
			if err != nil {
				return Value{}, fmt.Errorf("element %d: %w", i, err)
			}
			out = append(out, ev)
		}
		return Array(out), nil
	case map[string]any:
		fields, err := EncodeFields(x)
		if err != nil {
			return Value{}, err
		}
		return Map(fields), nil
	default:
		return Value{}, fmt.Errorf("firestore: cannot encode value of type %T", v)
	}
}

func encodeFloat(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, fmt.Errorf("firestore: cannot encode non-finite number %v", f)
	}
	// The upper bound is exclusive: float64(math.MaxInt64) rounds up to
	// 2^63, which int64 cannot hold.
	if f == math.Trunc(f) && f >= math.MinInt64 && f < math.Ldexp(1, 63) {
		return Integer(int64(f)), nil
	}
	return Double(f), nil
}

// EncodeFields converts a native record into Firestore fields. Absent keys
// are simply never present; callers omit a field rather than passing some
// undefined marker. A nil value encodes as the explicit null tag.
func EncodeFields(fields map[string]any) (map[string]Value, error) {
	out := make(map[string]Value, len(fields))
	for k, v := range fields {
		ev, err := Encode(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = ev
	}
	return out, nil
}

// MarshalJSON emits the discriminated wire object for the value's tag.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte(`{"nullValue":null}`), nil
	case KindBool:
		return json.Marshal(map[string]bool{"booleanValue": v.b})
	case KindString:
		return json.Marshal(map[string]string{"stringValue": v.s})
	case KindInteger:
		return json.Marshal(map[string]string{"integerValue": strconv.FormatInt(v.i, 10)})
	case KindDouble:
		return json.Marshal(map[string]float64{"doubleValue": v.d})
	case KindTimestamp:
		return json.Marshal(map[string]string{"timestampValue": v.t.UTC().Format(time.RFC3339Nano)})
	case KindArray:
		return json.Marshal(map[string]map[string][]Value{"arrayValue": {"values": v.arr}})
	case KindMap:
		return json.Marshal(map[string]map[string]map[string]Value{"mapValue": {"fields": v.m}})
	}
	return nil, fmt.Errorf("firestore: unknown value kind %d", v.kind)
}

// UnmarshalJSON decodes the wire object back into a tagged Value.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if _, ok := raw["nullValue"]; ok {
		*v = Null()
		return nil
	}
	if r, ok := raw["booleanValue"]; ok {
		var b bool
		if err := json.Unmarshal(r, &b); err != nil {
			return err
		}
		*v = Bool(b)
		return nil
	}
	if r, ok := raw["stringValue"]; ok {
		var s string
		if err := json.Unmarshal(r, &s); err != nil {
			return err
		}
		*v = String(s)
		return nil
	}
	if r, ok := raw["integerValue"]; ok {
		// The REST API emits integers as decimal strings, but tolerate bare
		// numbers too.
		var s string
		if err := json.Unmarshal(r, &s); err != nil {
			var n int64
			if err := json.Unmarshal(r, &n); err != nil {
				return err
			}
			*v = Integer(n)
			return nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("firestore: bad integerValue %q: %w", s, err)
		}
		*v = Integer(n)
		return nil
	}
	if r, ok := raw["doubleValue"]; ok {
		var d float64
		if err := json.Unmarshal(r, &d); err != nil {
			return err
		}
		*v = Double(d)
		return nil
	}
	if r, ok := raw["timestampValue"]; ok {
		var s string
		if err := json.Unmarshal(r, &s); err != nil {
			return err
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("firestore: bad timestampValue %q: %w", s, err)
		}
		*v = Timestamp(t)
		return nil
	}
	if r, ok := raw["arrayValue"]; ok {
		var wrap struct {
			Values []Value `json:"values"`
		}
		if err := json.Unmarshal(r, &wrap); err != nil {
			return err
		}
		*v = Array(wrap.Values)
		return nil
	}
	if r, ok := raw["mapValue"]; ok {
		var wrap struct {
			Fields map[string]Value `json:"fields"`
		}
		if err := json.Unmarshal(r, &wrap); err != nil {
			return err
		}
		*v = Map(wrap.Fields)
		return nil
	}
	return fmt.Errorf("firestore: value object carries no recognized tag")
}
