package types

import (
	"errors"
	"math"
	"testing"
)

func TestCasts(t *testing.T) {
	arr := NewArray([]Value{NewInt(1), NewString("a")})

	strTests := []struct {
		name string
		in   Value
		want string
	}{
		{"int", NewInt(-7), "-7"},
		{"integral float", NewFloat(2), "2"},
		{"fraction", NewFloat(0.5), "0.5"},
		{"large float", NewFloat(1e20), "1E+20"},
		{"true", True, "1"},
		{"false", False, ""},
		{"null", Null, ""},
		{"array", arr, "1\na"},
	}
	for _, tt := range strTests {
		t.Run("string/"+tt.name, func(t *testing.T) {
			if got := ToString(tt.in); got != tt.want {
				t.Errorf("ToString(%#v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}

	intTests := []struct {
		in   Value
		want int64
	}{
		{NewString("12abc"), 12},
		{NewString("abc"), 0},
		{NewString("  3.9"), 3},
		{NewString("-4"), -4},
		{NewFloat(-2.7), -2},
		{True, 1},
		{Null, 0},
		{arr, 2},
	}
	for _, tt := range intTests {
		if got := ToInt(tt.in); got != tt.want {
			t.Errorf("ToInt(%#v) = %d, want %d", tt.in, got, tt.want)
		}
	}

	boolTests := []struct {
		in   Value
		want bool
	}{
		{NewString("0"), false},
		{NewString(""), false},
		{NewString("0.0"), true},
		{NewInt(0), false},
		{NewFloat(0.1), true},
		{NewArray(nil), false},
		{arr, true},
		{Null, false},
		{Undefined, false},
	}
	for _, tt := range boolTests {
		if got := ToBool(tt.in); got != tt.want {
			t.Errorf("ToBool(%#v) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if got := ToArray(NewInt(3)); got.Len() != 1 || got.Index(0).AsInt() != 3 {
		t.Errorf("ToArray(3) = %#v", got)
	}
	if got := Cast(Undefined, TypeString); !got.IsUndefined() {
		t.Errorf("Cast(Undefined) = %#v, want undefined", got)
	}
	if got := Cast(NewString("2.5"), TypeFloat); got.AsFloat() != 2.5 {
		t.Errorf("Cast(\"2.5\", float) = %#v", got)
	}
}

func TestArraysAreCopied(t *testing.T) {
	items := []Value{NewInt(1), NewInt(2)}
	a := NewArray(items)
	items[0] = NewInt(99)
	if a.Index(0).AsInt() != 1 {
		t.Fatalf("NewArray shares backing storage with its input")
	}

	b := a.WithIndex(1, NewInt(5))
	c := a.Append(NewInt(3))
	if a.Index(1).AsInt() != 2 || a.Len() != 2 {
		t.Errorf("original changed: %#v", a)
	}
	if b.Index(1).AsInt() != 5 {
		t.Errorf("WithIndex = %#v", b)
	}
	if c.Len() != 3 || c.Index(2).AsInt() != 3 {
		t.Errorf("Append = %#v", c)
	}
}

func TestArithmetic(t *testing.T) {
	tests := []struct {
		name string
		got  Value
		want Value
	}{
		{"int sum", Sum(NewInt(1), NewInt(2)), NewInt(3)},
		{"string concat", Sum(NewString("a"), NewInt(1)), NewString("a1")},
		{"float sum", Sum(NewFloat(1.5), NewInt(1)), NewFloat(2.5)},
		{"bool sum", Sum(NewBool(true), NewInt(1)), NewInt(2)},
		{"sum overflow", Sum(NewInt(math.MaxInt64), NewInt(1)), NewFloat(float64(math.MaxInt64) + 1)},
		{"array concat", Sum(NewArray([]Value{NewInt(1)}), NewArray([]Value{NewInt(2)})), NewArray([]Value{NewInt(1), NewInt(2)})},
		{"sub", Sub(NewInt(1), NewInt(3)), NewInt(-2)},
		{"mul by zero", Mul(NewInt(10), NewInt(0)), NewInt(0)},
		{"mul overflow", Mul(NewInt(math.MaxInt64), NewInt(2)), NewFloat(float64(math.MaxInt64) * 2)},
		{"pow", Pow(NewInt(2), NewInt(10)), NewInt(1024)},
		{"pow negative", Pow(NewInt(2), NewInt(-1)), NewFloat(0.5)},
		{"negate", Negate(NewString("4")), NewInt(-4)},
		{"negate undefined", Negate(Undefined), Undefined},
		{"not undefined", Not(Undefined), Undefined},
		{"undefined sum", Sum(Undefined, NewInt(1)), Undefined},
		{"xor", BoolOp(True, Undefined, "^"), True},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got.Type() != tt.want.Type() || !StrictEquals(tt.got, tt.want) && !(tt.want.IsUndefined() && tt.got.IsUndefined()) {
				t.Errorf("got %#v, want %#v", tt.got, tt.want)
			}
		})
	}
}

func TestDivision(t *testing.T) {
	v, err := Div(NewInt(6), NewInt(3))
	if err != nil || v.Type() != TypeInt || v.AsInt() != 2 {
		t.Errorf("6/3 = %#v, %v", v, err)
	}
	v, err = Div(NewInt(7), NewInt(2))
	if err != nil || v.Type() != TypeFloat || v.AsFloat() != 3.5 {
		t.Errorf("7/2 = %#v, %v", v, err)
	}

	_, err = Div(NewInt(1), NewString("0"))
	if !errors.Is(err, &RuleError{Kind: KindDivideByZero}) {
		t.Fatalf("1/\"0\" error = %v, want dividebyzero", err)
	}
	re, _ := AsRuleError(err)
	if len(re.Params) != 2 || re.Category != CategoryUser {
		t.Errorf("dividebyzero error = %+v", re)
	}

	_, err = Mod(NewInt(10), NewInt(0))
	if !errors.Is(err, &RuleError{Kind: KindDivideByZero}) {
		t.Errorf("10%%0 error = %v, want dividebyzero", err)
	}
	v, err = Mod(NewInt(10), NewFloat(3.7))
	if err != nil || v.AsInt() != 1 {
		t.Errorf("10%%3.7 = %#v, %v", v, err)
	}
}

func TestLooseEquals(t *testing.T) {
	tests := []struct {
		a, b Value
		want bool
	}{
		{NewInt(0), NewString(""), true},
		{NewInt(0), NewString("abc"), true},
		{NewInt(1), NewFloat(1.0), true},
		{NewString("1"), NewString("1.0"), true},
		{NewString("0"), NewString("0.0"), true},
		{NewString("abc"), NewString("ABC"), false},
		{NewString("10"), NewInt(10), true},
		{Null, NewString(""), true},
		{Null, NewString("0"), false},
		{Null, NewInt(0), true},
		{True, NewString("x"), true},
		{False, NewString("0"), true},
		{NewArray(nil), False, true},
		{NewArray(nil), Null, true},
		{NewArray([]Value{NewInt(1)}), True, false},
		{NewArray([]Value{NewInt(1), NewString("2")}), NewArray([]Value{NewString("1"), NewInt(2)}), true},
		{NewArray([]Value{NewInt(1)}), NewArray([]Value{NewInt(1), NewInt(2)}), false},
		{Undefined, Undefined, false},
	}
	for _, tt := range tests {
		if got := LooseEquals(tt.a, tt.b); got != tt.want {
			t.Errorf("LooseEquals(%#v, %#v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
		if got := LooseEquals(tt.b, tt.a); got != tt.want {
			t.Errorf("LooseEquals(%#v, %#v) = %v, want %v (reversed)", tt.b, tt.a, got, tt.want)
		}
	}
}

func TestCompareOp(t *testing.T) {
	tests := []struct {
		op   string
		a, b Value
		want bool
	}{
		{"===", NewInt(0), NewString(""), false},
		{"===", NewInt(1), NewInt(1), true},
		{"!==", NewInt(1), NewFloat(1), true},
		{"=", NewString("a"), NewString("a"), true},
		{"!=", NewInt(1), NewInt(2), true},
		{"<", NewString("10"), NewString("9"), true},
		{"<", NewInt(10), NewInt(9), true},
		{">=", NewString("b"), NewString("a"), true},
		{"<=", NewString("a"), NewString("a"), true},
		{"==", Undefined, Null, false},
		{"!=", Undefined, NewInt(1), false},
		{"<", Undefined, NewInt(1), false},
	}
	for _, tt := range tests {
		got, err := CompareOp(tt.a, tt.b, tt.op)
		if err != nil {
			t.Fatalf("CompareOp(%#v %s %#v): %v", tt.a, tt.op, tt.b, err)
		}
		if got.AsBool() != tt.want {
			t.Errorf("%#v %s %#v = %v, want %v", tt.a, tt.op, tt.b, got.AsBool(), tt.want)
		}
	}
	if _, err := CompareOp(NewInt(1), NewInt(1), "<>"); err == nil {
		t.Error("expected an internal error for an unknown operator")
	}
}

func TestKeywordOperators(t *testing.T) {
	tests := []struct {
		keyword     string
		left, right string
		want        bool
	}{
		{"like", "foobar", "foo*", true},
		{"like", "foobar", "bar*", false},
		{"matches", "foo", "f?o", true},
		{"like", "xbc", "[!a]bc", true},
		{"like", "abc", "[!a]bc", false},
		{"like", "a.c", "a.c", true},
		{"like", "abc", "a.c", false},
		{"like", "a*c", `a\*c`, true},
		{"like", "ünïcode", "?n?code", true},
		{"rlike", "Hello", "^H", true},
		{"regex", "Hello", "^h", false},
		{"irlike", "Hello", "^h", true},
		{"rlike", "a/b", "a/b", true},
		{"rlike", "foo123", `\d+$`, true},
		{"contains", "abc", "b", true},
		{"contains", "abc", "", false},
		{"contains", "", "", false},
		{"in", "b", "abc", true},
		{"in", "abc", "b", false},
	}
	for _, tt := range tests {
		t.Run(tt.keyword+"/"+tt.right, func(t *testing.T) {
			got, err := KeywordOp(tt.keyword, NewString(tt.left), NewString(tt.right), 0)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.AsBool() != tt.want {
				t.Errorf("%q %s %q = %v, want %v", tt.left, tt.keyword, tt.right, got.AsBool(), tt.want)
			}
		})
	}
}

func TestInvalidRegexCarriesPosition(t *testing.T) {
	_, err := Regex(NewString("x"), NewString("(unclosed"), 17, false)
	re, ok := AsRuleError(err)
	if !ok {
		t.Fatalf("expected RuleError, got %v", err)
	}
	if re.Kind != KindRegexFailure || re.Pos != 17 {
		t.Errorf("got kind %s pos %d, want regexfailure at 17", re.Kind, re.Pos)
	}
}

func TestEscapeSlashes(t *testing.T) {
	tests := []struct{ in, want string }{
		{"abc", "abc"},
		{"a/b", `a\/b`},
		{`a\/b`, `a\/b`},
		{`a\\/b`, `a\\\/b`},
	}
	for _, tt := range tests {
		if got := EscapeSlashes(tt.in); got != tt.want {
			t.Errorf("EscapeSlashes(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValueFromJSON(t *testing.T) {
	v := ValueFromJSON(map[string]interface{}{
		"b": []interface{}{float64(1), "x"},
		"a": float64(2.5),
	})
	if v.Type() != TypeArray || v.Len() != 2 {
		t.Fatalf("got %#v", v)
	}
	if v.Index(0).AsFloat() != 2.5 {
		t.Errorf("first element = %#v, want 2.5", v.Index(0))
	}
	if inner := v.Index(1); inner.Index(0).Type() != TypeInt {
		t.Errorf("integral float64 should become int, got %#v", inner.Index(0))
	}

	b, err := NewArray([]Value{Undefined, NewFloat(math.Inf(1)), NewString("s")}).MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `[null,"INF","s"]` {
		t.Errorf("MarshalJSON = %s", b)
	}
}
