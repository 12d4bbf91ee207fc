package expr

import (
	"fmt"
	"strings"

	"github.com/lemonberrylabs/ruleengine/pkg/types"
)

// CheckSyntax parses text without evaluating it. When funcs is non-nil it
// also rejects calls to unknown functions and calls with the wrong number of
// arguments. The returned error is a *types.RuleError.
func CheckSyntax(text string, funcs FunctionRegistry) error {
	node, err := Parse(text)
	if err != nil {
		return err
	}
	if funcs == nil {
		return nil
	}
	return CheckCalls(node, funcs)
}

// CheckCalls validates every function call in node against funcs. The first
// offending call in source order is reported.
func CheckCalls(node Node, funcs FunctionRegistry) error {
	e := &Evaluator{funcs: funcs}
	var err error
	Walk(node, func(n Node) bool {
		if err != nil {
			return false
		}
		call, ok := n.(*CallNode)
		if !ok {
			return true
		}
		info, ok := e.function(call.Name)
		if !ok {
			err = unknownFunction(call)
			return false
		}
		if aerr := checkArity(call, info); aerr != nil {
			err = aerr
			return false
		}
		return true
	})
	return err
}

// UsedVariables returns the lowercase names of variables read by node, in
// first-use order. Names only ever assigned are not included.
func UsedVariables(node Node) []string {
	seen := make(map[string]bool)
	var names []string
	Walk(node, func(n Node) bool {
		if a, ok := n.(*AtomNode); ok && a.Token.Type == TokenIdent {
			name := strings.ToLower(a.Token.Value)
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
		return true
	})
	return names
}

func unknownFunction(call *CallNode) error {
	return types.NewSyntaxError(types.KindUnknownFunction, call.Pos,
		fmt.Sprintf("unknown function %q", call.Name), types.NewString(call.Name))
}
