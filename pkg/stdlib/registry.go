// Package stdlib implements the host functions available to rules.
package stdlib

import (
	"sort"
	"strings"

	"github.com/lemonberrylabs/ruleengine/pkg/expr"
	"github.com/lemonberrylabs/ruleengine/pkg/types"
)

// Variadic marks a function without an upper argument bound.
const Variadic = -1

// Registry holds host functions and serves as an expr.FunctionRegistry.
type Registry struct {
	funcs map[string]expr.FunctionInfo
}

// NewRegistry creates a registry with all built-in functions registered.
func NewRegistry() *Registry {
	r := &Registry{
		funcs: make(map[string]expr.FunctionInfo),
	}
	r.registerCasts()
	r.registerText()
	r.registerRegex()
	r.registerNormalize()
	r.registerList()
	r.registerIP()
	return r
}

// Lookup implements expr.FunctionRegistry.
func (r *Registry) Lookup(name string) (expr.FunctionInfo, bool) {
	info, ok := r.funcs[strings.ToLower(name)]
	return info, ok
}

// Register adds a function accepting between minArgs and maxArgs arguments. Use
// Variadic for maxArgs when there is no upper bound. An existing function with
// the same name is replaced.
func (r *Registry) Register(name string, minArgs, maxArgs int, fn expr.Func) {
	r.funcs[strings.ToLower(name)] = expr.FunctionInfo{Fn: fn, MinArgs: minArgs, MaxArgs: maxArgs}
}

// RegisterVolatile adds a function whose result must not be memoized within a run.
func (r *Registry) RegisterVolatile(name string, minArgs, maxArgs int, fn expr.Func) {
	r.funcs[strings.ToLower(name)] = expr.FunctionInfo{Fn: fn, MinArgs: minArgs, MaxArgs: maxArgs, NoMemo: true}
}

// Arity returns the argument bounds of name.
func (r *Registry) Arity(name string) (minArgs, maxArgs int, ok bool) {
	info, ok := r.Lookup(name)
	return info.MinArgs, info.MaxArgs, ok
}

// Names returns the registered function names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// flatten expands array arguments into their elements.
func flatten(args []types.Value) []types.Value {
	var out []types.Value
	for _, a := range args {
		if a.Type() == types.TypeArray {
			out = append(out, a.AsArray()...)
			continue
		}
		out = append(out, a)
	}
	return out
}
