// Package types defines the runtime values of the rule language.
// It implements the value model: null, bool, int, float, string, array and
// the internal undefined marker used for short-circuit evaluation.
package types

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// ValueType represents the type of a rule value.
type ValueType int

const (
	TypeNull      ValueType = iota
	TypeBool                // bool
	TypeInt                 // int64
	TypeFloat               // float64
	TypeString              // string
	TypeArray               // []Value
	TypeUndefined           // not computed / short-circuited
)

// String returns the type name as reported to rule authors.
func (t ValueType) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeString:
		return "string"
	case TypeArray:
		return "array"
	case TypeUndefined:
		return "undefined"
	default:
		return "unknown"
	}
}

// Value is a rule runtime value. It is a tagged union; the zero value is Null.
// Values are immutable: arrays are copied whenever they are built or changed.
type Value struct {
	typ      ValueType
	boolVal  bool
	intVal   int64
	floatVal float64
	strVal   string
	arrVal   []Value
}

// Null is the singleton null value.
var Null = Value{typ: TypeNull}

// Undefined marks a value that was never computed. It is not user-constructible.
var Undefined = Value{typ: TypeUndefined}

// True and False are the boolean singletons.
var (
	True  = Value{typ: TypeBool, boolVal: true}
	False = Value{typ: TypeBool}
)

// NewBool creates a boolean value.
func NewBool(v bool) Value {
	if v {
		return True
	}
	return False
}

// NewInt creates an integer value.
func NewInt(v int64) Value {
	return Value{typ: TypeInt, intVal: v}
}

// NewFloat creates a float value.
func NewFloat(v float64) Value {
	return Value{typ: TypeFloat, floatVal: v}
}

// NewString creates a string value.
func NewString(v string) Value {
	return Value{typ: TypeString, strVal: v}
}

// NewArray creates an array value holding a copy of items.
func NewArray(items []Value) Value {
	c := make([]Value, len(items))
	for i, item := range items {
		c[i] = item.Clone()
	}
	return Value{typ: TypeArray, arrVal: c}
}

// NewStringArray is a convenience constructor for arrays of strings.
func NewStringArray(items []string) Value {
	c := make([]Value, len(items))
	for i, s := range items {
		c[i] = NewString(s)
	}
	return Value{typ: TypeArray, arrVal: c}
}

// Type returns the value's type.
func (v Value) Type() ValueType {
	return v.typ
}

// IsNull returns true if the value is null.
func (v Value) IsNull() bool {
	return v.typ == TypeNull
}

// IsUndefined returns true for the undefined marker.
func (v Value) IsUndefined() bool {
	return v.typ == TypeUndefined
}

// IsNumber reports whether v is an int or a float.
func (v Value) IsNumber() bool {
	return v.typ == TypeInt || v.typ == TypeFloat
}

// AsBool returns the boolean value. Panics if not a bool.
func (v Value) AsBool() bool {
	if v.typ != TypeBool {
		panic(fmt.Sprintf("AsBool called on %s value", v.typ))
	}
	return v.boolVal
}

// AsInt returns the integer value. Panics if not an int.
func (v Value) AsInt() int64 {
	if v.typ != TypeInt {
		panic(fmt.Sprintf("AsInt called on %s value", v.typ))
	}
	return v.intVal
}

// AsFloat returns the float value. Panics if not a float.
func (v Value) AsFloat() float64 {
	if v.typ != TypeFloat {
		panic(fmt.Sprintf("AsFloat called on %s value", v.typ))
	}
	return v.floatVal
}

// AsString returns the string value. Panics if not a string.
func (v Value) AsString() string {
	if v.typ != TypeString {
		panic(fmt.Sprintf("AsString called on %s value", v.typ))
	}
	return v.strVal
}

// AsArray returns a copy of the array elements. Panics if not an array.
func (v Value) AsArray() []Value {
	if v.typ != TypeArray {
		panic(fmt.Sprintf("AsArray called on %s value", v.typ))
	}
	c := make([]Value, len(v.arrVal))
	copy(c, v.arrVal)
	return c
}

// Len returns the element count of an array, or 0 for other types.
func (v Value) Len() int {
	if v.typ != TypeArray {
		return 0
	}
	return len(v.arrVal)
}

// Index returns the element at i. The caller checks bounds.
func (v Value) Index(i int) Value {
	return v.arrVal[i]
}

// WithIndex returns a new array with element i replaced.
func (v Value) WithIndex(i int, item Value) Value {
	c := make([]Value, len(v.arrVal))
	copy(c, v.arrVal)
	c[i] = item.Clone()
	return Value{typ: TypeArray, arrVal: c}
}

// Append returns a new array with item added at the end.
func (v Value) Append(item Value) Value {
	c := make([]Value, len(v.arrVal), len(v.arrVal)+1)
	copy(c, v.arrVal)
	c = append(c, item.Clone())
	return Value{typ: TypeArray, arrVal: c}
}

// Clone creates a deep copy of the value.
func (v Value) Clone() Value {
	if v.typ != TypeArray {
		return v
	}
	items := make([]Value, len(v.arrVal))
	for i, item := range v.arrVal {
		items[i] = item.Clone()
	}
	return Value{typ: TypeArray, arrVal: items}
}

// String returns the rule-language string form of the value.
func (v Value) String() string {
	return ToString(v)
}

// GoString returns a debug representation that keeps type information.
func (v Value) GoString() string {
	switch v.typ {
	case TypeString:
		return fmt.Sprintf("%q", v.strVal)
	case TypeArray:
		s := "["
		for i, item := range v.arrVal {
			if i > 0 {
				s += ", "
			}
			s += item.GoString()
		}
		return s + "]"
	case TypeNull, TypeUndefined:
		return v.typ.String()
	case TypeBool:
		if v.boolVal {
			return "true"
		}
		return "false"
	}
	return ToString(v)
}

// MarshalJSON converts a Value to JSON. Undefined serializes as null.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.typ {
	case TypeNull, TypeUndefined:
		return []byte("null"), nil
	case TypeBool:
		if v.boolVal {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case TypeInt:
		return json.Marshal(v.intVal)
	case TypeFloat:
		if math.IsNaN(v.floatVal) || math.IsInf(v.floatVal, 0) {
			return json.Marshal(ToString(v))
		}
		return json.Marshal(v.floatVal)
	case TypeString:
		return json.Marshal(v.strVal)
	case TypeArray:
		items := make([]json.RawMessage, len(v.arrVal))
		for i, item := range v.arrVal {
			b, err := item.MarshalJSON()
			if err != nil {
				return nil, err
			}
			items[i] = b
		}
		return json.Marshal(items)
	}
	return nil, fmt.Errorf("cannot marshal unknown type %d", v.typ)
}

// ValueFromJSON converts a Go interface{} (from json.Unmarshal or yaml) into a Value.
// Maps become arrays of their values in key order; the language has no map type.
func ValueFromJSON(v interface{}) Value {
	if v == nil {
		return Null
	}
	switch val := v.(type) {
	case Value:
		return val
	case bool:
		return NewBool(val)
	case int:
		return NewInt(int64(val))
	case int64:
		return NewInt(val)
	case float64:
		if val == math.Trunc(val) && !math.IsInf(val, 0) && math.Abs(val) < 1<<53 {
			return NewInt(int64(val))
		}
		return NewFloat(val)
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return NewInt(i)
		}
		if f, err := val.Float64(); err == nil {
			return NewFloat(f)
		}
		return NewString(val.String())
	case string:
		return NewString(val)
	case []string:
		return NewStringArray(val)
	case []interface{}:
		items := make([]Value, len(val))
		for i, item := range val {
			items[i] = ValueFromJSON(item)
		}
		return Value{typ: TypeArray, arrVal: items}
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		items := make([]Value, len(keys))
		for i, k := range keys {
			items[i] = ValueFromJSON(val[k])
		}
		return Value{typ: TypeArray, arrVal: items}
	default:
		return NewString(fmt.Sprintf("%v", val))
	}
}

// ToGoValue converts a Value to a plain Go interface{} suitable for JSON marshaling.
func (v Value) ToGoValue() interface{} {
	switch v.typ {
	case TypeBool:
		return v.boolVal
	case TypeInt:
		return v.intVal
	case TypeFloat:
		return v.floatVal
	case TypeString:
		return v.strVal
	case TypeArray:
		result := make([]interface{}, len(v.arrVal))
		for i, item := range v.arrVal {
			result[i] = item.ToGoValue()
		}
		return result
	}
	return nil
}
