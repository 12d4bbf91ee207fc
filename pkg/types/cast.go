package types

import (
	"math"
	"strconv"
	"strings"
)

// ToBool casts v to a boolean. Arrays are true when non-empty; the strings
// "" and "0" are false.
func ToBool(v Value) bool {
	switch v.typ {
	case TypeBool:
		return v.boolVal
	case TypeInt:
		return v.intVal != 0
	case TypeFloat:
		return v.floatVal != 0
	case TypeString:
		return v.strVal != "" && v.strVal != "0"
	case TypeArray:
		return len(v.arrVal) > 0
	default:
		return false
	}
}

// ToInt casts v to an integer. Arrays yield their element count and strings
// use their leading numeric prefix.
func ToInt(v Value) int64 {
	switch v.typ {
	case TypeBool:
		if v.boolVal {
			return 1
		}
		return 0
	case TypeInt:
		return v.intVal
	case TypeFloat:
		return floatToInt(v.floatVal)
	case TypeString:
		n := stringToNumber(v.strVal)
		if n.typ == TypeInt {
			return n.intVal
		}
		return floatToInt(n.floatVal)
	case TypeArray:
		return int64(len(v.arrVal))
	default:
		return 0
	}
}

// ToFloat casts v to a float.
func ToFloat(v Value) float64 {
	switch v.typ {
	case TypeFloat:
		return v.floatVal
	case TypeString:
		n := stringToNumber(v.strVal)
		if n.typ == TypeInt {
			return float64(n.intVal)
		}
		return n.floatVal
	default:
		return float64(ToInt(v))
	}
}

// ToString casts v to its string form. Arrays join their elements with newlines.
func ToString(v Value) string {
	switch v.typ {
	case TypeBool:
		if v.boolVal {
			return "1"
		}
		return ""
	case TypeInt:
		return strconv.FormatInt(v.intVal, 10)
	case TypeFloat:
		return formatFloat(v.floatVal)
	case TypeString:
		return v.strVal
	case TypeArray:
		parts := make([]string, len(v.arrVal))
		for i, item := range v.arrVal {
			parts[i] = ToString(item)
		}
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}

// ToArray wraps a non-array value in a one-element array.
func ToArray(v Value) Value {
	if v.typ == TypeArray {
		return v
	}
	return Value{typ: TypeArray, arrVal: []Value{v}}
}

// ToNumber returns v as an Int or Float value, preferring Int when the
// source is an integer or an integral numeric string.
func ToNumber(v Value) Value {
	switch v.typ {
	case TypeInt, TypeFloat:
		return v
	case TypeString:
		return stringToNumber(v.strVal)
	default:
		return NewInt(ToInt(v))
	}
}

// Cast converts v to the target type. Undefined is returned unchanged.
func Cast(v Value, target ValueType) Value {
	if v.typ == TypeUndefined {
		return v
	}
	switch target {
	case TypeBool:
		return NewBool(ToBool(v))
	case TypeInt:
		return NewInt(ToInt(v))
	case TypeFloat:
		return NewFloat(ToFloat(v))
	case TypeString:
		return NewString(ToString(v))
	case TypeArray:
		return ToArray(v)
	case TypeNull:
		return Null
	default:
		return v
	}
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NAN"
	case math.IsInf(f, 1):
		return "INF"
	case math.IsInf(f, -1):
		return "-INF"
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatFloat(f, 'f', 0, 64)
	}
	if math.Abs(f) >= 1e15 || math.Abs(f) < 1e-4 {
		return strings.ToUpper(strconv.FormatFloat(f, 'e', -1, 64))
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func floatToInt(f float64) int64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	if f >= math.MaxInt64 || f <= math.MinInt64 {
		return 0
	}
	return int64(f)
}

// numericPrefix returns the longest leading numeric literal of s after
// leading whitespace, and whether the whole (trimmed) string is numeric.
func numericPrefix(s string) (prefix string, whole bool) {
	t := strings.TrimLeft(s, " \t\n\r\v\f")
	i := 0
	if i < len(t) && (t[i] == '+' || t[i] == '-') {
		i++
	}
	digitsStart := i
	for i < len(t) && t[i] >= '0' && t[i] <= '9' {
		i++
	}
	intDigits := i - digitsStart
	fracDigits := 0
	if i < len(t) && t[i] == '.' {
		j := i + 1
		for j < len(t) && t[j] >= '0' && t[j] <= '9' {
			j++
		}
		fracDigits = j - i - 1
		if intDigits > 0 || fracDigits > 0 {
			i = j
		}
	}
	if intDigits == 0 && fracDigits == 0 {
		return "", false
	}
	if i < len(t) && (t[i] == 'e' || t[i] == 'E') {
		j := i + 1
		if j < len(t) && (t[j] == '+' || t[j] == '-') {
			j++
		}
		expStart := j
		for j < len(t) && t[j] >= '0' && t[j] <= '9' {
			j++
		}
		if j > expStart {
			i = j
		}
	}
	rest := strings.TrimRight(t[i:], " \t\n\r\v\f")
	return t[:i], rest == ""
}

// IsNumericString reports whether s as a whole is a number literal.
func IsNumericString(s string) bool {
	_, whole := numericPrefix(s)
	return whole
}

func stringToNumber(s string) Value {
	prefix, _ := numericPrefix(s)
	if prefix == "" {
		return NewInt(0)
	}
	if !strings.ContainsAny(prefix, ".eE") {
		if i, err := strconv.ParseInt(prefix, 10, 64); err == nil {
			return NewInt(i)
		}
	}
	// Out of range literals saturate to +/-Inf.
	f, _ := strconv.ParseFloat(prefix, 64)
	return NewFloat(f)
}
