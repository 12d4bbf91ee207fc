package types

import (
	"math"
	"math/bits"
)

// Sum implements "+". Strings concatenate when either side is a string,
// arrays concatenate when both sides are arrays, everything else adds numerically.
func Sum(left, right Value) Value {
	if left.typ == TypeUndefined || right.typ == TypeUndefined {
		return Undefined
	}
	if left.typ == TypeString || right.typ == TypeString {
		return NewString(ToString(left) + ToString(right))
	}
	if left.typ == TypeArray && right.typ == TypeArray {
		items := make([]Value, 0, len(left.arrVal)+len(right.arrVal))
		items = append(items, left.arrVal...)
		items = append(items, right.arrVal...)
		return NewArray(items)
	}
	a, b := ToNumber(left), ToNumber(right)
	if a.typ == TypeInt && b.typ == TypeInt {
		s := a.intVal + b.intVal
		if (s > a.intVal) == (b.intVal > 0) {
			return NewInt(s)
		}
	}
	return NewFloat(ToFloat(a) + ToFloat(b))
}

// Sub implements binary "-".
func Sub(left, right Value) Value {
	if left.typ == TypeUndefined || right.typ == TypeUndefined {
		return Undefined
	}
	a, b := ToNumber(left), ToNumber(right)
	if a.typ == TypeInt && b.typ == TypeInt {
		d := a.intVal - b.intVal
		if (d < a.intVal) == (b.intVal > 0) {
			return NewInt(d)
		}
	}
	return NewFloat(ToFloat(a) - ToFloat(b))
}

// Mul implements "*". It never fails.
func Mul(left, right Value) Value {
	if left.typ == TypeUndefined || right.typ == TypeUndefined {
		return Undefined
	}
	a, b := ToNumber(left), ToNumber(right)
	if a.typ == TypeInt && b.typ == TypeInt {
		if p, ok := mulInt(a.intVal, b.intVal); ok {
			return NewInt(p)
		}
	}
	return NewFloat(ToFloat(a) * ToFloat(b))
}

// Div implements "/". The result is an Int when both operands are Ints and
// the quotient is exact.
func Div(left, right Value) (Value, error) {
	if left.typ == TypeUndefined || right.typ == TypeUndefined {
		return Undefined, nil
	}
	a, b := ToNumber(left), ToNumber(right)
	if ToFloat(b) == 0 {
		return Null, NewDivideByZeroError(left, right)
	}
	if a.typ == TypeInt && b.typ == TypeInt {
		if a.intVal%b.intVal == 0 && !(a.intVal == math.MinInt64 && b.intVal == -1) {
			return NewInt(a.intVal / b.intVal), nil
		}
	}
	return NewFloat(ToFloat(a) / ToFloat(b)), nil
}

// Mod implements "%". Both operands are truncated to integers first.
func Mod(left, right Value) (Value, error) {
	if left.typ == TypeUndefined || right.typ == TypeUndefined {
		return Undefined, nil
	}
	a, b := ToInt(left), ToInt(right)
	if b == 0 {
		return Null, NewDivideByZeroError(left, right)
	}
	return NewInt(a % b), nil
}

// Pow implements "**".
func Pow(base, exp Value) Value {
	if base.typ == TypeUndefined || exp.typ == TypeUndefined {
		return Undefined
	}
	a, b := ToNumber(base), ToNumber(exp)
	if a.typ == TypeInt && b.typ == TypeInt && b.intVal >= 0 {
		if p, ok := powInt(a.intVal, b.intVal); ok {
			return NewInt(p)
		}
	}
	return NewFloat(math.Pow(ToFloat(a), ToFloat(b)))
}

// Negate implements unary "-". Undefined propagates unchanged.
func Negate(v Value) Value {
	if v.typ == TypeUndefined {
		return v
	}
	n := ToNumber(v)
	if n.typ == TypeInt {
		if n.intVal == math.MinInt64 {
			return NewFloat(-float64(n.intVal))
		}
		return NewInt(-n.intVal)
	}
	return NewFloat(-n.floatVal)
}

// Plus implements unary "+": a numeric cast. Undefined propagates unchanged.
func Plus(v Value) Value {
	if v.typ == TypeUndefined {
		return v
	}
	return ToNumber(v)
}

// Not implements "!". Undefined propagates unchanged.
func Not(v Value) Value {
	if v.typ == TypeUndefined {
		return v
	}
	return NewBool(!ToBool(v))
}

// BoolOp implements "&", "|" and "^". Undefined operands count as false.
func BoolOp(left, right Value, op string) Value {
	a := left.typ != TypeUndefined && ToBool(left)
	b := right.typ != TypeUndefined && ToBool(right)
	switch op {
	case "&":
		return NewBool(a && b)
	case "|":
		return NewBool(a || b)
	case "^":
		return NewBool(a != b)
	}
	return Null
}

func mulInt(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	neg := (a < 0) != (b < 0)
	ua, ub := absUint(a), absUint(b)
	hi, lo := bits.Mul64(ua, ub)
	if hi != 0 {
		return 0, false
	}
	if neg {
		if lo > 1<<63 {
			return 0, false
		}
		return int64(-lo), true
	}
	if lo > math.MaxInt64 {
		return 0, false
	}
	return int64(lo), true
}

func powInt(base, exp int64) (int64, bool) {
	result := int64(1)
	for exp > 0 {
		if exp&1 == 1 {
			r, ok := mulInt(result, base)
			if !ok {
				return 0, false
			}
			result = r
		}
		exp >>= 1
		if exp > 0 {
			b, ok := mulInt(base, base)
			if !ok {
				return 0, false
			}
			base = b
		}
	}
	return result, true
}

func absUint(v int64) uint64 {
	if v < 0 {
		return uint64(-(v + 1)) + 1
	}
	return uint64(v)
}
