package expr

import (
	"strings"

	"github.com/lemonberrylabs/ruleengine/pkg/types"
)

// discard walks a short-circuited subtree without evaluating it. Every
// variable the subtree could have assigned is bound to Undefined, so later
// statements see it as declared but not computed. Reserved names are left
// alone.
func (e *Evaluator) discard(node Node, env Environment) error {
	var err error
	Walk(node, func(n Node) bool {
		if err != nil {
			return false
		}
		name := assignedName(n)
		if name != "" && !env.IsReservedName(name) {
			if setErr := env.Set(name, types.Undefined); setErr != nil {
				err = attribute(setErr, types.KindVariableResolver, n.Position())
				return false
			}
		}
		return true
	})
	return err
}

// assignedName returns the variable n writes to, or "". set() and set_var()
// count only when their name argument is a string literal.
func assignedName(n Node) string {
	switch n := n.(type) {
	case *AssignNode:
		return n.Name
	case *IndexAssignNode:
		return n.Name
	case *ArrayAppendNode:
		return n.Name
	case *CallNode:
		if (n.Name == "set" || n.Name == "set_var") && len(n.Args) > 0 {
			if a, ok := n.Args[0].(*AtomNode); ok && a.Token.Type == TokenString {
				return strings.ToLower(a.Token.StrVal)
			}
		}
	}
	return ""
}
