package stdlib

import (
	"strings"

	"github.com/lemonberrylabs/ruleengine/pkg/types"
)

// registerList registers the multi-value membership functions.
func (r *Registry) registerList() {
	r.Register("contains_any", 2, Variadic, listContainsAny)
	r.Register("contains_all", 2, Variadic, listContainsAll)
	r.Register("equals_to_any", 2, Variadic, listEqualsToAny)
}

// listContainsAny implements contains_any(haystack, needle...). Array
// needles are expanded; empty needles never match.
func listContainsAny(args []types.Value) (types.Value, error) {
	haystack := types.ToString(args[0])
	for _, n := range flatten(args[1:]) {
		needle := types.ToString(n)
		if needle != "" && strings.Contains(haystack, needle) {
			return types.True, nil
		}
	}
	return types.False, nil
}

// listContainsAll implements contains_all(haystack, needle...).
func listContainsAll(args []types.Value) (types.Value, error) {
	haystack := types.ToString(args[0])
	needles := flatten(args[1:])
	if len(needles) == 0 {
		return types.False, nil
	}
	for _, n := range needles {
		needle := types.ToString(n)
		if needle == "" || !strings.Contains(haystack, needle) {
			return types.False, nil
		}
	}
	return types.True, nil
}

// listEqualsToAny implements equals_to_any(value, candidate...) with ===
// semantics. Arrays are compared whole.
func listEqualsToAny(args []types.Value) (types.Value, error) {
	for _, c := range args[1:] {
		if types.StrictEquals(args[0], c) {
			return types.True, nil
		}
	}
	return types.False, nil
}
