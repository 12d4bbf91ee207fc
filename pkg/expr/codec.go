package expr

import (
	"encoding/json"
	"errors"
	"fmt"
)

// GrammarVersion tags serialized ASTs and cache keys. Bump it whenever the
// lexer, parser or node encoding changes so stale trees are never reused.
const GrammarVersion = "3"

// MaxEncodedDepth is the deepest tree EncodeNode accepts. Every node takes
// two levels of JSON nesting and encoding/json refuses to decode past 10000.
const MaxEncodedDepth = 4000

// ErrTooDeep is returned by EncodeNode for trees DecodeNode could not read back.
var ErrTooDeep = errors.New("ast too deep to encode")

type wireTree struct {
	Version string    `json:"v"`
	Root    *wireNode `json:"r"`
}

type wireNode struct {
	Kind     NodeKind    `json:"k"`
	Pos      int         `json:"p"`
	Op       string      `json:"o,omitempty"` // operator, keyword or name
	Token    *wireToken  `json:"t,omitempty"`
	Children []*wireNode `json:"c,omitempty"`
}

type wireToken struct {
	Type  TokenType `json:"y"`
	Value string    `json:"v,omitempty"`
	Int   int64     `json:"i,omitempty"`
	Float float64   `json:"f,omitempty"`
	Str   string    `json:"s,omitempty"`
	Pos   int       `json:"p"`
	End   int       `json:"e"`
}

// EncodeNode serializes an AST for an external cache.
func EncodeNode(node Node) ([]byte, error) {
	if d := treeDepth(node); d > MaxEncodedDepth {
		return nil, fmt.Errorf("%w: depth %d, limit %d", ErrTooDeep, d, MaxEncodedDepth)
	}
	return json.Marshal(wireTree{Version: GrammarVersion, Root: toWire(node)})
}

// DecodeNode restores an AST produced by EncodeNode with the same GrammarVersion.
func DecodeNode(data []byte) (Node, error) {
	var tree wireTree
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("decode ast: %w", err)
	}
	if tree.Version != GrammarVersion {
		return nil, fmt.Errorf("decode ast: grammar version %q, want %q", tree.Version, GrammarVersion)
	}
	if tree.Root == nil {
		return nil, fmt.Errorf("decode ast: missing root")
	}
	return fromWire(tree.Root)
}

func treeDepth(node Node) int {
	if node == nil {
		return 0
	}
	deepest := 0
	for _, c := range Children(node) {
		deepest = max(deepest, treeDepth(c))
	}
	return deepest + 1
}

func toWire(node Node) *wireNode {
	if node == nil {
		return nil
	}
	w := &wireNode{Kind: node.Kind(), Pos: node.Position()}
	switch n := node.(type) {
	case *AtomNode:
		t := n.Token
		w.Token = &wireToken{Type: t.Type, Value: t.Value, Int: t.IntVal, Float: t.FloatVal, Str: t.StrVal, Pos: t.Pos, End: t.End}
	case *CallNode:
		w.Op = n.Name
	case *UnaryNode:
		w.Op = n.Op
	case *KeywordNode:
		w.Op = n.Keyword
	case *BinaryNode:
		w.Op = n.Op
	case *AssignNode:
		w.Op = n.Name
	case *IndexAssignNode:
		w.Op = n.Name
	case *ArrayAppendNode:
		w.Op = n.Name
	case *ConditionalNode:
		// Else may be nil; keep its slot so positions stay fixed.
		w.Children = []*wireNode{toWire(n.Cond), toWire(n.Then), toWire(n.Else)}
		return w
	}
	for _, c := range Children(node) {
		w.Children = append(w.Children, toWire(c))
	}
	return w
}

func fromWire(w *wireNode) (Node, error) {
	var kids []Node
	if len(w.Children) > 0 {
		kids = make([]Node, len(w.Children))
	}
	for i, c := range w.Children {
		if c == nil {
			continue
		}
		n, err := fromWire(c)
		if err != nil {
			return nil, err
		}
		kids[i] = n
	}
	need := func(n int) error {
		if len(kids) != n {
			return fmt.Errorf("decode ast: %s node at %d has %d children, want %d", w.Kind, w.Pos, len(kids), n)
		}
		for i, k := range kids {
			if k == nil && !(w.Kind == KindConditional && i == 2) {
				return fmt.Errorf("decode ast: %s node at %d has an empty child", w.Kind, w.Pos)
			}
		}
		return nil
	}

	switch w.Kind {
	case KindAtom:
		if w.Token == nil {
			return nil, fmt.Errorf("decode ast: atom at %d without token", w.Pos)
		}
		t := w.Token
		return &AtomNode{Pos: w.Pos, Token: Token{Type: t.Type, Value: t.Value, IntVal: t.Int, FloatVal: t.Float, StrVal: t.Str, Pos: t.Pos, End: t.End}}, nil
	case KindArrayLiteral:
		if err := need(len(kids)); err != nil {
			return nil, err
		}
		return &ArrayLiteralNode{Pos: w.Pos, Elements: kids}, nil
	case KindStatements:
		if err := need(len(kids)); err != nil {
			return nil, err
		}
		return &StatementsNode{Pos: w.Pos, Children: kids}, nil
	case KindFunctionCall:
		if err := need(len(kids)); err != nil {
			return nil, err
		}
		return &CallNode{Pos: w.Pos, Name: w.Op, Args: kids}, nil
	case KindIndex:
		if err := need(2); err != nil {
			return nil, err
		}
		return &IndexNode{Pos: w.Pos, Array: kids[0], Offset: kids[1]}, nil
	case KindUnary:
		if err := need(1); err != nil {
			return nil, err
		}
		return &UnaryNode{Pos: w.Pos, Op: w.Op, Operand: kids[0]}, nil
	case KindKeyword:
		if err := need(2); err != nil {
			return nil, err
		}
		return &KeywordNode{Pos: w.Pos, Keyword: w.Op, Left: kids[0], Right: kids[1]}, nil
	case KindBoolInvert:
		if err := need(1); err != nil {
			return nil, err
		}
		return &BoolInvertNode{Pos: w.Pos, Operand: kids[0]}, nil
	case KindPower:
		if err := need(2); err != nil {
			return nil, err
		}
		return &PowerNode{Pos: w.Pos, Base: kids[0], Exp: kids[1]}, nil
	case KindMulDivMod, KindAddSub, KindCompare, KindLogic:
		if err := need(2); err != nil {
			return nil, err
		}
		return &BinaryNode{NodeKind: w.Kind, Pos: w.Pos, Op: w.Op, Left: kids[0], Right: kids[1]}, nil
	case KindConditional:
		if err := need(3); err != nil {
			return nil, err
		}
		return &ConditionalNode{Pos: w.Pos, Cond: kids[0], Then: kids[1], Else: kids[2]}, nil
	case KindAssign:
		if err := need(1); err != nil {
			return nil, err
		}
		return &AssignNode{Pos: w.Pos, Name: w.Op, Value: kids[0]}, nil
	case KindIndexAssign:
		if err := need(2); err != nil {
			return nil, err
		}
		return &IndexAssignNode{Pos: w.Pos, Name: w.Op, Offset: kids[0], Value: kids[1]}, nil
	case KindArrayAppend:
		if err := need(1); err != nil {
			return nil, err
		}
		return &ArrayAppendNode{Pos: w.Pos, Name: w.Op, Value: kids[0]}, nil
	}
	return nil, fmt.Errorf("decode ast: unknown node kind %d", w.Kind)
}
