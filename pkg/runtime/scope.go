// Package runtime runs rules against a set of variables.
package runtime

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/lemonberrylabs/ruleengine/pkg/types"
)

// Deferred is a variable whose value is computed on first read by the
// loader registered for Method.
type Deferred struct {
	Method string
	Params []types.Value
}

// LazyLoader computes the value of a deferred variable.
type LazyLoader func(ctx context.Context, params []types.Value) (types.Value, error)

// shared is the state common to a root Vars and all of its children.
type shared struct {
	ctx     context.Context
	loaders map[string]LazyLoader
	group   singleflight.Group
}

// Vars manages variable storage with parent scope chaining. Names are case
// insensitive. Variables provided by the host are reserved: rules can read
// them but never assign them. Assignments made by rules always land in the
// scope they run in, so sibling child scopes never see each other's writes.
//
// Vars is safe for concurrent use.
type Vars struct {
	parent *Vars
	shared *shared

	mu       sync.RWMutex
	vars     map[string]types.Value
	deferred map[string]Deferred
	reserved map[string]bool
}

// VarsOption configures a root Vars.
type VarsOption func(*Vars)

// WithLoader registers the loader for deferred variables with the given method.
func WithLoader(method string, fn LazyLoader) VarsOption {
	return func(v *Vars) { v.shared.loaders[method] = fn }
}

// WithContext sets the context passed to lazy loaders.
func WithContext(ctx context.Context) VarsOption {
	return func(v *Vars) { v.shared.ctx = ctx }
}

// NewVars creates a new root scope.
func NewVars(opts ...VarsOption) *Vars {
	v := &Vars{
		shared: &shared{
			ctx:     context.Background(),
			loaders: make(map[string]LazyLoader),
		},
		vars:     make(map[string]types.Value),
		deferred: make(map[string]Deferred),
		reserved: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Child creates a scope that reads through to v. Writes stay in the child.
func (v *Vars) Child() *Vars {
	return &Vars{
		parent:   v,
		shared:   v.shared,
		vars:     make(map[string]types.Value),
		deferred: make(map[string]Deferred),
		reserved: make(map[string]bool),
	}
}

// SetVar sets a host-provided variable. It is reserved from then on.
func (v *Vars) SetVar(name string, value types.Value) {
	name = strings.ToLower(name)
	v.mu.Lock()
	v.vars[name] = value
	delete(v.deferred, name)
	v.reserved[name] = true
	v.mu.Unlock()
}

// SetVars sets several host-provided variables.
func (v *Vars) SetVars(values map[string]types.Value) {
	for name, value := range values {
		v.SetVar(name, value)
	}
}

// SetDeferred registers a host-provided variable computed on first read.
func (v *Vars) SetDeferred(name string, d Deferred) {
	name = strings.ToLower(name)
	v.mu.Lock()
	delete(v.vars, name)
	v.deferred[name] = d
	v.reserved[name] = true
	v.mu.Unlock()
}

// Get implements expr.Environment. Deferred variables are resolved once and
// the result is kept in the scope that declared them.
func (v *Vars) Get(name string) (types.Value, bool, error) {
	name = strings.ToLower(name)
	v.mu.RLock()
	val, ok := v.vars[name]
	d, isDeferred := v.deferred[name]
	v.mu.RUnlock()
	if ok {
		return val, true, nil
	}
	if isDeferred {
		val, err := v.resolve(name, d)
		if err != nil {
			return types.Null, false, err
		}
		return val, true, nil
	}
	if v.parent != nil {
		return v.parent.Get(name)
	}
	return types.Null, false, nil
}

func (v *Vars) resolve(name string, d Deferred) (types.Value, error) {
	key := fmt.Sprintf("%p/%s", v, name)
	res, err, _ := v.shared.group.Do(key, func() (interface{}, error) {
		v.mu.RLock()
		val, ok := v.vars[name]
		v.mu.RUnlock()
		if ok {
			return val, nil
		}
		loader, ok := v.shared.loaders[d.Method]
		if !ok {
			return nil, fmt.Errorf("variable %q: no loader for method %q", name, d.Method)
		}
		val, err := loader(v.shared.ctx, d.Params)
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", name, err)
		}
		v.mu.Lock()
		if _, still := v.deferred[name]; still {
			v.vars[name] = val
			delete(v.deferred, name)
		}
		v.mu.Unlock()
		return val, nil
	})
	if err != nil {
		return types.Null, err
	}
	return res.(types.Value), nil
}

// Set implements expr.Environment. The variable is created in this scope.
func (v *Vars) Set(name string, value types.Value) error {
	name = strings.ToLower(name)
	if v.IsReservedName(name) {
		return types.NewOverrideBuiltinError(types.NoPosition, name)
	}
	v.mu.Lock()
	v.vars[name] = value
	v.mu.Unlock()
	return nil
}

// IsReservedName implements expr.Environment.
func (v *Vars) IsReservedName(name string) bool {
	name = strings.ToLower(name)
	v.mu.RLock()
	r := v.reserved[name]
	v.mu.RUnlock()
	if r {
		return true
	}
	if v.parent != nil {
		return v.parent.IsReservedName(name)
	}
	return false
}

// Exists checks if a variable is bound in this scope or any parent, without
// resolving deferred values.
func (v *Vars) Exists(name string) bool {
	name = strings.ToLower(name)
	v.mu.RLock()
	_, ok := v.vars[name]
	_, isDeferred := v.deferred[name]
	v.mu.RUnlock()
	if ok || isDeferred {
		return true
	}
	if v.parent != nil {
		return v.parent.Exists(name)
	}
	return false
}

// Export returns the variables assigned by rules in this scope.
func (v *Vars) Export() map[string]types.Value {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]types.Value, len(v.vars))
	for name, val := range v.vars {
		if !v.reserved[name] {
			out[name] = val
		}
	}
	return out
}

// Names returns the sorted names bound in this scope and its parents.
func (v *Vars) Names() []string {
	seen := make(map[string]bool)
	for s := v; s != nil; s = s.parent {
		s.mu.RLock()
		for name := range s.vars {
			seen[name] = true
		}
		for name := range s.deferred {
			seen[name] = true
		}
		s.mu.RUnlock()
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// VarsFromJSON builds a root scope from decoded JSON or YAML input. Every
// top-level key becomes a host-provided variable.
func VarsFromJSON(input map[string]interface{}, opts ...VarsOption) *Vars {
	v := NewVars(opts...)
	for name, raw := range input {
		v.SetVar(name, types.ValueFromJSON(raw))
	}
	return v
}
