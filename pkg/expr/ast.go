package expr

// NodeKind identifies the variant of an AST node.
type NodeKind int

const (
	KindAtom NodeKind = iota
	KindArrayLiteral
	KindIndex
	KindFunctionCall
	KindUnary
	KindKeyword
	KindBoolInvert
	KindPower
	KindMulDivMod
	KindAddSub
	KindCompare
	KindLogic
	KindConditional
	KindAssign
	KindIndexAssign
	KindArrayAppend
	KindStatements
)

var kindNames = [...]string{
	KindAtom:         "Atom",
	KindArrayLiteral: "ArrayLiteral",
	KindIndex:        "Index",
	KindFunctionCall: "FunctionCall",
	KindUnary:        "Unary",
	KindKeyword:      "Keyword",
	KindBoolInvert:   "BoolInvert",
	KindPower:        "Power",
	KindMulDivMod:    "MulDivMod",
	KindAddSub:       "AddSub",
	KindCompare:      "Compare",
	KindLogic:        "Logic",
	KindConditional:  "Conditional",
	KindAssign:       "Assign",
	KindIndexAssign:  "IndexAssign",
	KindArrayAppend:  "ArrayAppend",
	KindStatements:   "Statements",
}

func (k NodeKind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Unknown"
}

// Node is the interface for all AST nodes. Nodes are never mutated after
// parsing, so a tree may be shared by concurrent evaluations.
type Node interface {
	Kind() NodeKind
	// Position is the source offset of the node's first token.
	Position() int
}

// AtomNode is a literal or an identifier.
type AtomNode struct {
	Pos   int
	Token Token
}

// ArrayLiteralNode is [a, b, ...].
type ArrayLiteralNode struct {
	Pos      int
	Elements []Node
}

// IndexNode is array[offset].
type IndexNode struct {
	Pos    int
	Array  Node
	Offset Node
}

// CallNode is name(args...).
type CallNode struct {
	Pos  int
	Name string // lowercased
	Args []Node
}

// UnaryNode is a sign prefix: +x or -x.
type UnaryNode struct {
	Pos     int
	Op      string
	Operand Node
}

// KeywordNode is a keyword operator such as "a contains b".
type KeywordNode struct {
	Pos     int
	Keyword string
	Left    Node
	Right   Node
}

// BoolInvertNode is !x.
type BoolInvertNode struct {
	Pos     int
	Operand Node
}

// PowerNode is base ** exp.
type PowerNode struct {
	Pos  int
	Base Node
	Exp  Node
}

// BinaryNode covers the operator levels that share a shape:
// MulDivMod, AddSub, Compare and Logic.
type BinaryNode struct {
	NodeKind NodeKind
	Pos      int
	Op       string
	Left     Node
	Right    Node
}

// ConditionalNode is "c ? a : b" or "if c then a else b end". Else may be nil.
type ConditionalNode struct {
	Pos  int
	Cond Node
	Then Node
	Else Node
}

// AssignNode is name := value.
type AssignNode struct {
	Pos   int
	Name  string
	Value Node
}

// IndexAssignNode is name[offset] := value.
type IndexAssignNode struct {
	Pos    int
	Name   string
	Offset Node
	Value  Node
}

// ArrayAppendNode is name[] := value.
type ArrayAppendNode struct {
	Pos   int
	Name  string
	Value Node
}

// StatementsNode is a ;-separated list. Its value is the last child's.
type StatementsNode struct {
	Pos      int
	Children []Node
}

func (n *AtomNode) Kind() NodeKind         { return KindAtom }
func (n *ArrayLiteralNode) Kind() NodeKind { return KindArrayLiteral }
func (n *IndexNode) Kind() NodeKind        { return KindIndex }
func (n *CallNode) Kind() NodeKind         { return KindFunctionCall }
func (n *UnaryNode) Kind() NodeKind        { return KindUnary }
func (n *KeywordNode) Kind() NodeKind      { return KindKeyword }
func (n *BoolInvertNode) Kind() NodeKind   { return KindBoolInvert }
func (n *PowerNode) Kind() NodeKind        { return KindPower }
func (n *BinaryNode) Kind() NodeKind       { return n.NodeKind }
func (n *ConditionalNode) Kind() NodeKind  { return KindConditional }
func (n *AssignNode) Kind() NodeKind       { return KindAssign }
func (n *IndexAssignNode) Kind() NodeKind  { return KindIndexAssign }
func (n *ArrayAppendNode) Kind() NodeKind  { return KindArrayAppend }
func (n *StatementsNode) Kind() NodeKind   { return KindStatements }

func (n *AtomNode) Position() int         { return n.Pos }
func (n *ArrayLiteralNode) Position() int { return n.Pos }
func (n *IndexNode) Position() int        { return n.Pos }
func (n *CallNode) Position() int         { return n.Pos }
func (n *UnaryNode) Position() int        { return n.Pos }
func (n *KeywordNode) Position() int      { return n.Pos }
func (n *BoolInvertNode) Position() int   { return n.Pos }
func (n *PowerNode) Position() int        { return n.Pos }
func (n *BinaryNode) Position() int       { return n.Pos }
func (n *ConditionalNode) Position() int  { return n.Pos }
func (n *AssignNode) Position() int       { return n.Pos }
func (n *IndexAssignNode) Position() int  { return n.Pos }
func (n *ArrayAppendNode) Position() int  { return n.Pos }
func (n *StatementsNode) Position() int   { return n.Pos }

// Walk calls fn for node and each of its descendants in depth-first order.
// Returning false from fn skips the node's children.
func Walk(node Node, fn func(Node) bool) {
	if node == nil || !fn(node) {
		return
	}
	for _, c := range Children(node) {
		Walk(c, fn)
	}
}

// Children returns the direct child nodes of node in source order.
func Children(node Node) []Node {
	switch n := node.(type) {
	case *ArrayLiteralNode:
		return n.Elements
	case *IndexNode:
		return []Node{n.Array, n.Offset}
	case *CallNode:
		return n.Args
	case *UnaryNode:
		return []Node{n.Operand}
	case *KeywordNode:
		return []Node{n.Left, n.Right}
	case *BoolInvertNode:
		return []Node{n.Operand}
	case *PowerNode:
		return []Node{n.Base, n.Exp}
	case *BinaryNode:
		return []Node{n.Left, n.Right}
	case *ConditionalNode:
		if n.Else == nil {
			return []Node{n.Cond, n.Then}
		}
		return []Node{n.Cond, n.Then, n.Else}
	case *AssignNode:
		return []Node{n.Value}
	case *IndexAssignNode:
		return []Node{n.Offset, n.Value}
	case *ArrayAppendNode:
		return []Node{n.Value}
	case *StatementsNode:
		return n.Children
	}
	return nil
}
