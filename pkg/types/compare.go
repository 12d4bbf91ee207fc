package types

import (
	"strings"
)

// LooseEquals implements "==" and "=".
//
// Arrays are equal when they have the same length and are elementwise loosely
// equal; an array equals a scalar only when the array is empty and the scalar
// is false or null. For scalars:
//   - int/float pairs compare numerically;
//   - a number against a string compares numerically, the string taking its
//     leading numeric prefix ("" and "abc" count as 0);
//   - two numeric strings compare numerically ("1" == "1.0");
//   - when a bool is involved both sides compare as bools;
//   - null against a string compares the string with "";
//     null against anything else compares as bools;
//   - otherwise string identity.
func LooseEquals(a, b Value) bool {
	if a.typ == TypeUndefined || b.typ == TypeUndefined {
		return false
	}
	if a.typ == TypeArray || b.typ == TypeArray {
		if a.typ == TypeArray && b.typ == TypeArray {
			if len(a.arrVal) != len(b.arrVal) {
				return false
			}
			for i := range a.arrVal {
				if !LooseEquals(a.arrVal[i], b.arrVal[i]) {
					return false
				}
			}
			return true
		}
		arr, scalar := a, b
		if b.typ == TypeArray {
			arr, scalar = b, a
		}
		if len(arr.arrVal) != 0 {
			return false
		}
		return scalar.typ == TypeNull || (scalar.typ == TypeBool && !scalar.boolVal)
	}

	switch {
	case a.typ == b.typ:
		return scalarIdentical(a, b) || (a.typ == TypeString && numericStringsEqual(a.strVal, b.strVal))
	case a.typ == TypeBool || b.typ == TypeBool:
		return ToBool(a) == ToBool(b)
	case a.typ == TypeNull || b.typ == TypeNull:
		other := a
		if a.typ == TypeNull {
			other = b
		}
		if other.typ == TypeString {
			return other.strVal == ""
		}
		return !ToBool(other)
	case a.IsNumber() || b.IsNumber():
		return numbersEqual(ToNumber(a), ToNumber(b))
	}
	return ToString(a) == ToString(b)
}

// StrictEquals implements "===": types must match and values must be identical.
func StrictEquals(a, b Value) bool {
	if a.typ == TypeUndefined || b.typ == TypeUndefined {
		return false
	}
	if a.typ != b.typ {
		return false
	}
	if a.typ == TypeArray {
		if len(a.arrVal) != len(b.arrVal) {
			return false
		}
		for i := range a.arrVal {
			if !StrictEquals(a.arrVal[i], b.arrVal[i]) {
				return false
			}
		}
		return true
	}
	return scalarIdentical(a, b)
}

// CompareOp evaluates a comparison operator. Ordering operators compare the
// string forms of both operands lexicographically. Any comparison involving
// Undefined is false.
func CompareOp(a, b Value, op string) (Value, error) {
	if a.typ == TypeUndefined || b.typ == TypeUndefined {
		return False, nil
	}
	switch op {
	case "==", "=":
		return NewBool(LooseEquals(a, b)), nil
	case "!=":
		return NewBool(!LooseEquals(a, b)), nil
	case "===":
		return NewBool(StrictEquals(a, b)), nil
	case "!==":
		return NewBool(!StrictEquals(a, b)), nil
	}
	c := strings.Compare(ToString(a), ToString(b))
	switch op {
	case "<":
		return NewBool(c < 0), nil
	case ">":
		return NewBool(c > 0), nil
	case "<=":
		return NewBool(c <= 0), nil
	case ">=":
		return NewBool(c >= 0), nil
	}
	return Null, NewInternalError(NoPosition, "unknown comparison operator "+op)
}

func scalarIdentical(a, b Value) bool {
	switch a.typ {
	case TypeNull:
		return true
	case TypeBool:
		return a.boolVal == b.boolVal
	case TypeInt:
		return a.intVal == b.intVal
	case TypeFloat:
		return a.floatVal == b.floatVal
	case TypeString:
		return a.strVal == b.strVal
	}
	return false
}

func numericStringsEqual(a, b string) bool {
	if !IsNumericString(a) || !IsNumericString(b) {
		return false
	}
	return numbersEqual(stringToNumber(a), stringToNumber(b))
}

func numbersEqual(a, b Value) bool {
	if a.typ == TypeInt && b.typ == TypeInt {
		return a.intVal == b.intVal
	}
	return ToFloat(a) == ToFloat(b)
}
