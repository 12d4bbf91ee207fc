package stdlib

import (
	"unicode/utf8"

	"github.com/lemonberrylabs/ruleengine/pkg/types"
)

// registerCasts registers the cast and size helpers:
// string, int, float, bool, length, strlen.
func (r *Registry) registerCasts() {
	r.Register("string", 1, 1, castTo(types.TypeString))
	r.Register("int", 1, 1, castTo(types.TypeInt))
	r.Register("float", 1, 1, castTo(types.TypeFloat))
	r.Register("bool", 1, 1, castTo(types.TypeBool))
	r.Register("length", 1, 1, stdLength)
	r.Register("strlen", 1, 1, stdStrlen)
}

func castTo(t types.ValueType) func([]types.Value) (types.Value, error) {
	return func(args []types.Value) (types.Value, error) {
		return types.Cast(args[0], t), nil
	}
}

// stdLength counts array elements, or characters of any other value's string form.
func stdLength(args []types.Value) (types.Value, error) {
	if args[0].Type() == types.TypeArray {
		return types.NewInt(int64(args[0].Len())), nil
	}
	return stdStrlen(args)
}

func stdStrlen(args []types.Value) (types.Value, error) {
	return types.NewInt(int64(utf8.RuneCountInString(types.ToString(args[0])))), nil
}
