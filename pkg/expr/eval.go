package expr

import (
	"context"
	"fmt"
	"strings"

	"github.com/lemonberrylabs/ruleengine/pkg/cache"
	"github.com/lemonberrylabs/ruleengine/pkg/cost"
	"github.com/lemonberrylabs/ruleengine/pkg/types"
)

// Environment provides variable storage for one evaluation run.
type Environment interface {
	// Get returns the value bound to name, resolving deferred variables.
	// ok is false when name is unbound.
	Get(name string) (v types.Value, ok bool, err error)

	// Set binds name to v.
	Set(name string, v types.Value) error

	// IsReservedName reports whether name is a built-in variable that rules
	// may not assign to.
	IsReservedName(name string) bool
}

// Func is a host function. It never sees Undefined arguments.
type Func func(args []types.Value) (types.Value, error)

// FunctionInfo describes a host function.
type FunctionInfo struct {
	Fn      Func
	MinArgs int
	MaxArgs int // -1 for variadic
	// NoMemo disables per-run memoization, for functions whose result does
	// not depend on their arguments alone.
	NoMemo bool
}

// FunctionRegistry resolves host functions by lowercase name.
type FunctionRegistry interface {
	Lookup(name string) (FunctionInfo, bool)
}

// Built-in functions handled by the evaluator itself.
var builtinFunctions = map[string]FunctionInfo{
	"set":     {MinArgs: 2, MaxArgs: 2, NoMemo: true},
	"set_var": {MinArgs: 2, MaxArgs: 2, NoMemo: true},
}

// DefaultMaxDepth bounds evaluator recursion. Trees produced by Parse never
// reach it since every level of nesting consumes at least one source byte.
const DefaultMaxDepth = MaxSourceLength

// Evaluator walks an AST. An Evaluator owns the condition counter and the
// function memo of one run and must not be shared between goroutines.
type Evaluator struct {
	funcs    FunctionRegistry
	counter  *cost.Counter
	memo     *cache.Memo
	maxDepth int

	depth int
	done  <-chan struct{}
	ctx   context.Context
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithCounter makes the evaluator charge an external counter.
func WithCounter(c *cost.Counter) Option {
	return func(e *Evaluator) { e.counter = c }
}

// WithMemo replaces the per-run function memo.
func WithMemo(m *cache.Memo) Option {
	return func(e *Evaluator) { e.memo = m }
}

// WithMaxDepth overrides DefaultMaxDepth.
func WithMaxDepth(n int) Option {
	return func(e *Evaluator) { e.maxDepth = n }
}

// NewEvaluator creates an evaluator calling host functions from funcs, which may be nil.
func NewEvaluator(funcs FunctionRegistry, opts ...Option) *Evaluator {
	e := &Evaluator{
		funcs:    funcs,
		maxDepth: DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.counter == nil {
		e.counter = &cost.Counter{}
	}
	if e.memo == nil {
		e.memo = cache.NewMemo(cache.DefaultMemoSize)
	}
	return e
}

// ConditionCount returns the cost charged so far.
func (e *Evaluator) ConditionCount() int {
	return e.counter.Count()
}

// Reset clears the condition count and the function memo for a new run.
func (e *Evaluator) Reset() {
	e.counter.Reset()
	e.memo.Reset()
}

// Evaluate evaluates node against env. The context's deadline is checked at
// every node; on error no partial value is returned.
func (e *Evaluator) Evaluate(ctx context.Context, node Node, env Environment) (types.Value, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	e.ctx = ctx
	e.done = ctx.Done()
	e.depth = 0
	v, err := e.eval(node, env)
	if err != nil {
		return types.Null, err
	}
	return v, nil
}

// Evaluate evaluates node with no host functions and a fresh run state.
func Evaluate(node Node, env Environment) (types.Value, error) {
	return NewEvaluator(nil).Evaluate(context.Background(), node, env)
}

// EvaluateBool evaluates node and casts the result to a boolean. Undefined
// results are false.
func EvaluateBool(node Node, env Environment) (bool, error) {
	v, err := Evaluate(node, env)
	if err != nil {
		return false, err
	}
	return ResultBool(v), nil
}

// ResultBool is the caller-visible boolean of a rule result.
func ResultBool(v types.Value) bool {
	if v.IsUndefined() {
		return false
	}
	return types.ToBool(v)
}

func (e *Evaluator) eval(node Node, env Environment) (types.Value, error) {
	e.depth++
	defer func() { e.depth-- }()
	if e.depth > e.maxDepth {
		return types.Null, types.NewTooComplexError(node.Position(), e.maxDepth)
	}
	if e.done != nil {
		select {
		case <-e.done:
			return types.Null, types.NewUserError(types.KindTimeout, node.Position(),
				fmt.Sprintf("evaluation stopped: %v", e.ctx.Err()))
		default:
		}
	}

	switch n := node.(type) {
	case *AtomNode:
		return e.evalAtom(n, env)
	case *ArrayLiteralNode:
		return e.evalArrayLiteral(n, env)
	case *IndexNode:
		return e.evalIndex(n, env)
	case *CallNode:
		return e.evalCall(n, env)
	case *UnaryNode:
		return e.evalUnary(n, env)
	case *KeywordNode:
		return e.evalKeyword(n, env)
	case *BoolInvertNode:
		v, err := e.eval(n.Operand, env)
		if err != nil {
			return types.Null, err
		}
		return types.Not(v), nil
	case *PowerNode:
		base, exp, err := e.evalPair(n.Base, n.Exp, env)
		if err != nil {
			return types.Null, err
		}
		return types.Pow(base, exp), nil
	case *BinaryNode:
		return e.evalBinary(n, env)
	case *ConditionalNode:
		return e.evalConditional(n, env)
	case *AssignNode:
		return e.evalAssign(n, env)
	case *IndexAssignNode:
		return e.evalIndexAssign(n, env)
	case *ArrayAppendNode:
		return e.evalArrayAppend(n, env)
	case *StatementsNode:
		result := types.Null
		for _, child := range n.Children {
			v, err := e.eval(child, env)
			if err != nil {
				return types.Null, err
			}
			result = v
		}
		return result, nil
	default:
		return types.Null, types.NewInternalError(node.Position(),
			fmt.Sprintf("unsupported node type %T", node))
	}
}

func (e *Evaluator) evalPair(left, right Node, env Environment) (types.Value, types.Value, error) {
	l, err := e.eval(left, env)
	if err != nil {
		return types.Null, types.Null, err
	}
	r, err := e.eval(right, env)
	if err != nil {
		return types.Null, types.Null, err
	}
	return l, r, nil
}

func (e *Evaluator) evalAtom(n *AtomNode, env Environment) (types.Value, error) {
	tok := n.Token
	switch tok.Type {
	case TokenInt:
		return types.NewInt(tok.IntVal), nil
	case TokenFloat:
		return types.NewFloat(tok.FloatVal), nil
	case TokenString:
		return types.NewString(tok.StrVal), nil
	case TokenKeyword:
		switch tok.Value {
		case "true":
			return types.True, nil
		case "false":
			return types.False, nil
		case "null":
			return types.Null, nil
		}
	case TokenIdent:
		return e.lookup(strings.ToLower(tok.Value), n.Pos, env)
	}
	return types.Null, types.NewInternalError(n.Pos, fmt.Sprintf("unexpected atom %s %q", tok.Type, tok.Value))
}

// lookup reads a variable. Unbound names are Undefined, not an error.
func (e *Evaluator) lookup(name string, pos int, env Environment) (types.Value, error) {
	v, ok, err := env.Get(name)
	if err != nil {
		return types.Null, attribute(err, types.KindVariableResolver, pos)
	}
	if !ok {
		return types.Undefined, nil
	}
	return v, nil
}

func (e *Evaluator) evalArrayLiteral(n *ArrayLiteralNode, env Environment) (types.Value, error) {
	items := make([]types.Value, len(n.Elements))
	undefined := false
	for i, el := range n.Elements {
		v, err := e.eval(el, env)
		if err != nil {
			return types.Null, err
		}
		if v.IsUndefined() {
			undefined = true
		}
		items[i] = v
	}
	if undefined {
		return types.Undefined, nil
	}
	return types.NewArray(items), nil
}

func (e *Evaluator) evalIndex(n *IndexNode, env Environment) (types.Value, error) {
	base, err := e.eval(n.Array, env)
	if err != nil {
		return types.Null, err
	}
	if base.IsUndefined() {
		return types.Undefined, nil
	}
	if base.Type() != types.TypeArray {
		return types.Null, types.NewNotArrayError(n.Pos, describeNode(n.Array), base)
	}
	offset, err := e.eval(n.Offset, env)
	if err != nil {
		return types.Null, err
	}
	if offset.IsUndefined() {
		return types.Undefined, nil
	}
	idx := types.ToInt(offset)
	if idx < 0 || idx >= int64(base.Len()) {
		return types.Null, types.NewOutOfBoundsError(n.Pos, idx, base.Len())
	}
	return base.Index(int(idx)), nil
}

func (e *Evaluator) function(name string) (FunctionInfo, bool) {
	if info, ok := builtinFunctions[name]; ok {
		return info, true
	}
	if e.funcs == nil {
		return FunctionInfo{}, false
	}
	return e.funcs.Lookup(name)
}

func (e *Evaluator) evalCall(n *CallNode, env Environment) (types.Value, error) {
	info, ok := e.function(n.Name)
	if !ok {
		return types.Null, unknownFunction(n)
	}
	if err := checkArity(n, info); err != nil {
		return types.Null, err
	}

	args := make([]types.Value, len(n.Args))
	undefined := false
	for i, a := range n.Args {
		v, err := e.eval(a, env)
		if err != nil {
			return types.Null, err
		}
		if v.IsUndefined() {
			undefined = true
		}
		args[i] = v
	}

	if n.Name == "set" || n.Name == "set_var" {
		return e.setVar(n, args, env)
	}
	if undefined {
		return types.Undefined, nil
	}

	if !info.NoMemo {
		if v, hit := e.memo.Get(n.Name, args); hit {
			return v, nil
		}
	}
	e.counter.Charge(1)
	result, err := info.Fn(args)
	if err != nil {
		return types.Null, attribute(err, types.KindInvalidArgument, n.Pos)
	}
	if !info.NoMemo {
		e.memo.Put(n.Name, args, result)
	}
	return result, nil
}

// setVar implements set(name, value): an assignment in call form.
func (e *Evaluator) setVar(n *CallNode, args []types.Value, env Environment) (types.Value, error) {
	if args[0].IsUndefined() {
		return types.Undefined, nil
	}
	name := strings.ToLower(types.ToString(args[0]))
	if err := e.assign(name, args[1], n.Pos, env); err != nil {
		return types.Null, err
	}
	return args[1], nil
}

func checkArity(n *CallNode, info FunctionInfo) error {
	got := len(n.Args)
	if got < info.MinArgs {
		return types.NewSyntaxError(types.KindTooFewArguments, n.Pos,
			fmt.Sprintf("%s() expects at least %d arguments, got %d", n.Name, info.MinArgs, got),
			types.NewString(n.Name), types.NewInt(int64(info.MinArgs)), types.NewInt(int64(got)))
	}
	if info.MaxArgs >= 0 && got > info.MaxArgs {
		return types.NewSyntaxError(types.KindTooManyArguments, n.Pos,
			fmt.Sprintf("%s() expects at most %d arguments, got %d", n.Name, info.MaxArgs, got),
			types.NewString(n.Name), types.NewInt(int64(info.MaxArgs)), types.NewInt(int64(got)))
	}
	return nil
}

func (e *Evaluator) evalUnary(n *UnaryNode, env Environment) (types.Value, error) {
	v, err := e.eval(n.Operand, env)
	if err != nil {
		return types.Null, err
	}
	switch n.Op {
	case "-":
		return types.Negate(v), nil
	case "+":
		return types.Plus(v), nil
	}
	return types.Null, types.NewInternalError(n.Pos, "unknown unary operator "+n.Op)
}

func (e *Evaluator) evalKeyword(n *KeywordNode, env Environment) (types.Value, error) {
	left, right, err := e.evalPair(n.Left, n.Right, env)
	if err != nil {
		return types.Null, err
	}
	if left.IsUndefined() || right.IsUndefined() {
		return types.Undefined, nil
	}
	e.counter.Charge(1)
	return types.KeywordOp(n.Keyword, left, right, n.Pos)
}

func (e *Evaluator) evalBinary(n *BinaryNode, env Environment) (types.Value, error) {
	if n.NodeKind == KindLogic {
		return e.evalLogic(n, env)
	}

	left, right, err := e.evalPair(n.Left, n.Right, env)
	if err != nil {
		return types.Null, err
	}

	switch n.Op {
	case "+":
		return types.Sum(left, right), nil
	case "-":
		return types.Sub(left, right), nil
	case "*":
		return types.Mul(left, right), nil
	case "/":
		v, err := types.Div(left, right)
		return v, withPos(err, n.Pos)
	case "%":
		v, err := types.Mod(left, right)
		return v, withPos(err, n.Pos)
	}

	if n.NodeKind == KindCompare {
		e.counter.Charge(1)
		v, err := types.CompareOp(left, right, n.Op)
		return v, withPos(err, n.Pos)
	}
	return types.Null, types.NewInternalError(n.Pos, "unknown binary operator "+n.Op)
}

// evalLogic implements & | ^. For & and | a right operand that cannot change
// the result is not evaluated; its assignments are discarded instead.
func (e *Evaluator) evalLogic(n *BinaryNode, env Environment) (types.Value, error) {
	left, err := e.eval(n.Left, env)
	if err != nil {
		return types.Null, err
	}
	truthy := !left.IsUndefined() && types.ToBool(left)

	switch {
	case n.Op == "&" && !truthy:
		return types.False, e.discard(n.Right, env)
	case n.Op == "|" && truthy:
		return types.True, e.discard(n.Right, env)
	}

	right, err := e.eval(n.Right, env)
	if err != nil {
		return types.Null, err
	}
	switch n.Op {
	case "&", "|", "^":
		return types.BoolOp(left, right, n.Op), nil
	}
	return types.Null, types.NewInternalError(n.Pos, "unknown logic operator "+n.Op)
}

func (e *Evaluator) evalConditional(n *ConditionalNode, env Environment) (types.Value, error) {
	cond, err := e.eval(n.Cond, env)
	if err != nil {
		return types.Null, err
	}
	if ResultBool(cond) {
		return e.eval(n.Then, env)
	}
	if n.Else == nil {
		return types.Null, nil
	}
	return e.eval(n.Else, env)
}

func (e *Evaluator) evalAssign(n *AssignNode, env Environment) (types.Value, error) {
	v, err := e.eval(n.Value, env)
	if err != nil {
		return types.Null, err
	}
	if err := e.assign(n.Name, v, n.Pos, env); err != nil {
		return types.Null, err
	}
	return v, nil
}

func (e *Evaluator) assign(name string, v types.Value, pos int, env Environment) error {
	if env.IsReservedName(name) {
		return types.NewOverrideBuiltinError(pos, name)
	}
	if err := env.Set(name, v); err != nil {
		return attribute(err, types.KindVariableResolver, pos)
	}
	return nil
}

// target loads the array an indexed write or append modifies. skip is true
// when the variable is Undefined and the write is a no-op.
func (e *Evaluator) target(name string, pos int, env Environment) (arr types.Value, skip bool, err error) {
	if env.IsReservedName(name) {
		return types.Null, false, types.NewOverrideBuiltinError(pos, name)
	}
	cur, ok, err := env.Get(name)
	if err != nil {
		return types.Null, false, attribute(err, types.KindVariableResolver, pos)
	}
	if !ok {
		return types.Null, false, types.NewUnrecognisedVarError(pos, name)
	}
	if cur.IsUndefined() {
		return types.Null, true, nil
	}
	if cur.Type() != types.TypeArray {
		return types.Null, false, types.NewNotArrayError(pos, name, cur)
	}
	return cur, false, nil
}

func (e *Evaluator) evalIndexAssign(n *IndexAssignNode, env Environment) (types.Value, error) {
	offset, v, err := e.evalPair(n.Offset, n.Value, env)
	if err != nil {
		return types.Null, err
	}
	arr, skip, err := e.target(n.Name, n.Pos, env)
	if err != nil {
		return types.Null, err
	}
	if skip {
		return v, nil
	}
	if offset.IsUndefined() || v.IsUndefined() {
		if err := e.assign(n.Name, types.Undefined, n.Pos, env); err != nil {
			return types.Null, err
		}
		return v, nil
	}
	idx := types.ToInt(offset)
	if idx < 0 || idx >= int64(arr.Len()) {
		return types.Null, types.NewOutOfBoundsError(n.Pos, idx, arr.Len())
	}
	if err := e.assign(n.Name, arr.WithIndex(int(idx), v), n.Pos, env); err != nil {
		return types.Null, err
	}
	return v, nil
}

func (e *Evaluator) evalArrayAppend(n *ArrayAppendNode, env Environment) (types.Value, error) {
	v, err := e.eval(n.Value, env)
	if err != nil {
		return types.Null, err
	}
	arr, skip, err := e.target(n.Name, n.Pos, env)
	if err != nil {
		return types.Null, err
	}
	if skip {
		return v, nil
	}
	if v.IsUndefined() {
		if err := e.assign(n.Name, types.Undefined, n.Pos, env); err != nil {
			return types.Null, err
		}
		return v, nil
	}
	if err := e.assign(n.Name, arr.Append(v), n.Pos, env); err != nil {
		return types.Null, err
	}
	return v, nil
}

// withPos attributes an operator error to pos unless it already has a position.
func withPos(err error, pos int) error {
	if err == nil {
		return nil
	}
	if re, ok := types.AsRuleError(err); ok {
		return re.WithPos(pos)
	}
	return err
}

// attribute converts an error from a host callback into a positioned RuleError.
func attribute(err error, kind types.ErrorKind, pos int) error {
	if re, ok := types.AsRuleError(err); ok {
		return re.WithPos(pos)
	}
	return types.NewUserError(kind, pos, err.Error())
}

func describeNode(n Node) string {
	if a, ok := n.(*AtomNode); ok && a.Token.Type == TokenIdent {
		return strings.ToLower(a.Token.Value)
	}
	return n.Kind().String()
}
