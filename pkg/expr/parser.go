package expr

import (
	"fmt"
	"slices"
	"strings"

	"github.com/lemonberrylabs/ruleengine/pkg/types"
)

// MaxSourceLength is the maximum accepted rule source length in bytes.
const MaxSourceLength = 64 << 10

// MaxParseDepth bounds nesting of sub-expressions.
const MaxParseDepth = 200

// Parser is a recursive descent parser for rule source.
type Parser struct {
	tokens []Token
	pos    int
	depth  int
}

// Parse tokenizes and parses rule source text.
func Parse(text string) (Node, error) {
	if len(text) > MaxSourceLength {
		return nil, types.NewSyntaxError(types.KindTooLong, 0,
			fmt.Sprintf("rule exceeds maximum length of %d bytes", MaxSourceLength),
			types.NewInt(int64(len(text))), types.NewInt(MaxSourceLength))
	}
	tokens, err := Tokenize(text)
	if err != nil {
		return nil, err
	}
	return ParseTokens(tokens)
}

// ParseTokens parses a token stream produced by Tokenize.
func ParseTokens(tokens []Token) (Node, error) {
	p := &Parser{tokens: tokens}
	node, err := p.parseStatements()
	if err != nil {
		return nil, err
	}
	if tok := p.current(); tok.Type != TokenEOF {
		return nil, unexpected(tok)
	}
	return node, nil
}

// current returns the current token.
func (p *Parser) current() Token {
	if p.pos >= len(p.tokens) {
		end := 0
		if n := len(p.tokens); n > 0 {
			end = p.tokens[n-1].End
		}
		return Token{Type: TokenEOF, Pos: end, End: end}
	}
	return p.tokens[p.pos]
}

// peek returns the next token without consuming it.
func (p *Parser) peek() Token {
	return p.peekAt(1)
}

// peekAt returns the token n positions ahead of the current one.
func (p *Parser) peekAt(n int) Token {
	if p.pos+n >= len(p.tokens) {
		return Token{Type: TokenEOF}
	}
	return p.tokens[p.pos+n]
}

// advance consumes the current token and returns it.
func (p *Parser) advance() Token {
	tok := p.current()
	p.pos++
	return tok
}

// expect consumes the given punctuation or keyword, or returns expectedtoken.
func (p *Parser) expect(tt TokenType, value string) (Token, error) {
	tok := p.current()
	if !tok.Is(tt, value) {
		return tok, types.NewSyntaxError(types.KindExpectedToken, tok.Pos,
			fmt.Sprintf("expected %q, got %s", value, describe(tok)),
			types.NewString(value), types.NewString(tok.Value))
	}
	p.advance()
	return tok, nil
}

func (p *Parser) enter() error {
	p.depth++
	if p.depth > MaxParseDepth {
		return types.NewTooComplexError(p.current().Pos, MaxParseDepth)
	}
	return nil
}

func (p *Parser) leave() { p.depth-- }

// parseStatements parses a ;-separated list up to a closing token. Empty
// statements are skipped; a single statement is returned unwrapped.
//
// Precedence (low to high):
//
//	;
//	:=                      (right-assoc)
//	? :                     (if/then/else/end parses as an atom)
//	& | ^
//	== != === !== = < > <= >=
//	+ -
//	* / %
//	**                      (right-assoc)
//	!
//	in like matches contains rlike irlike regex
//	unary + -
//	[index]
func (p *Parser) parseStatements() (Node, error) {
	start := p.current().Pos
	var children []Node
	for {
		for p.current().Is(TokenPunct, ";") {
			p.advance()
		}
		if p.atListEnd() {
			break
		}
		node, err := p.parseAssignment()
		if err != nil {
			return nil, err
		}
		children = append(children, node)
		if !p.current().Is(TokenPunct, ";") {
			break
		}
	}
	if len(children) == 1 {
		return children[0], nil
	}
	return &StatementsNode{Pos: start, Children: children}, nil
}

func (p *Parser) atListEnd() bool {
	tok := p.current()
	switch tok.Type {
	case TokenEOF:
		return true
	case TokenPunct:
		return tok.Value == ")" || tok.Value == "]"
	case TokenKeyword:
		return tok.Value == "then" || tok.Value == "else" || tok.Value == "end"
	}
	return false
}

func (p *Parser) parseAssignment() (Node, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	tok := p.current()
	if tok.Type == TokenIdent {
		next := p.peek()
		switch {
		case next.Is(TokenOperator, ":="):
			p.advance()
			p.advance()
			value, err := p.parseAssignment()
			if err != nil {
				return nil, err
			}
			return &AssignNode{Pos: tok.Pos, Name: strings.ToLower(tok.Value), Value: value}, nil
		case next.Is(TokenPunct, "[") && p.peekAt(2).Is(TokenPunct, "]") && p.peekAt(3).Is(TokenOperator, ":="):
			p.pos += 4
			value, err := p.parseAssignment()
			if err != nil {
				return nil, err
			}
			return &ArrayAppendNode{Pos: tok.Pos, Name: strings.ToLower(tok.Value), Value: value}, nil
		}
	}

	node, err := p.parseConditional()
	if err != nil {
		return nil, err
	}
	cur := p.current()
	if !cur.Is(TokenOperator, ":=") {
		return node, nil
	}
	// name[offset] := v is parsed as an index expression first and rebuilt here.
	if idx, ok := node.(*IndexNode); ok {
		if name, ok := idx.Array.(*AtomNode); ok && name.Token.Type == TokenIdent && name.Pos == tok.Pos {
			p.advance()
			value, err := p.parseAssignment()
			if err != nil {
				return nil, err
			}
			return &IndexAssignNode{Pos: name.Pos, Name: strings.ToLower(name.Token.Value), Offset: idx.Offset, Value: value}, nil
		}
	}
	return nil, types.NewSyntaxError(types.KindInvalidAssignment, cur.Pos,
		"invalid assignment target")
}

func (p *Parser) parseConditional() (Node, error) {
	cond, err := p.parseLogic()
	if err != nil {
		return nil, err
	}
	tok := p.current()
	if !tok.Is(TokenOperator, "?") {
		return cond, nil
	}
	p.advance()
	then, err := p.parseAssignment()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenOperator, ":"); err != nil {
		return nil, err
	}
	els, err := p.parseAssignment()
	if err != nil {
		return nil, err
	}
	return &ConditionalNode{Pos: tok.Pos, Cond: cond, Then: then, Else: els}, nil
}

// parseIf parses if cond then a [else b] end.
func (p *Parser) parseIf() (Node, error) {
	tok := p.advance() // if
	cond, err := p.parseStatements()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenKeyword, "then"); err != nil {
		return nil, err
	}
	then, err := p.parseStatements()
	if err != nil {
		return nil, err
	}
	var els Node
	if p.current().Is(TokenKeyword, "else") {
		p.advance()
		if els, err = p.parseStatements(); err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(TokenKeyword, "end"); err != nil {
		return nil, err
	}
	return &ConditionalNode{Pos: tok.Pos, Cond: cond, Then: then, Else: els}, nil
}

func (p *Parser) parseLogic() (Node, error) {
	return p.parseBinary(KindLogic, p.parseComparison, "&", "|", "^")
}

func (p *Parser) parseComparison() (Node, error) {
	return p.parseBinary(KindCompare, p.parseAddition, "==", "!=", "===", "!==", "=", "<", ">", "<=", ">=")
}

func (p *Parser) parseAddition() (Node, error) {
	return p.parseBinary(KindAddSub, p.parseMultiplication, "+", "-")
}

func (p *Parser) parseMultiplication() (Node, error) {
	return p.parseBinary(KindMulDivMod, p.parsePower, "*", "/", "%")
}

// parseBinary parses a left-associative level of operators.
func (p *Parser) parseBinary(kind NodeKind, operand func() (Node, error), ops ...string) (Node, error) {
	left, err := operand()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.current()
		if tok.Type != TokenOperator || !slices.Contains(ops, tok.Value) {
			return left, nil
		}
		p.advance()
		right, err := operand()
		if err != nil {
			return nil, err
		}
		left = &BinaryNode{NodeKind: kind, Pos: tok.Pos, Op: tok.Value, Left: left, Right: right}
	}
}

func (p *Parser) parsePower() (Node, error) {
	base, err := p.parseBoolInvert()
	if err != nil {
		return nil, err
	}
	tok := p.current()
	if !tok.Is(TokenOperator, "**") {
		return base, nil
	}
	p.advance()
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()
	exp, err := p.parsePower()
	if err != nil {
		return nil, err
	}
	return &PowerNode{Pos: tok.Pos, Base: base, Exp: exp}, nil
}

func (p *Parser) parseBoolInvert() (Node, error) {
	tok := p.current()
	if !tok.Is(TokenOperator, "!") {
		return p.parseKeyword()
	}
	p.advance()
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()
	operand, err := p.parseBoolInvert()
	if err != nil {
		return nil, err
	}
	return &BoolInvertNode{Pos: tok.Pos, Operand: operand}, nil
}

func (p *Parser) parseKeyword() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.current()
		if tok.Type != TokenKeyword || !keywordOperators[tok.Value] {
			return left, nil
		}
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &KeywordNode{Pos: tok.Pos, Keyword: tok.Value, Left: left, Right: right}
	}
}

func (p *Parser) parseUnary() (Node, error) {
	tok := p.current()
	if !tok.Is(TokenOperator, "-") && !tok.Is(TokenOperator, "+") {
		return p.parsePostfix()
	}
	p.advance()
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()
	operand, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	return &UnaryNode{Pos: tok.Pos, Op: tok.Value, Operand: operand}, nil
}

func (p *Parser) parsePostfix() (Node, error) {
	node, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.current().Is(TokenPunct, "[") {
		tok := p.advance()
		offset, err := p.parseAssignment()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenPunct, "]"); err != nil {
			return nil, err
		}
		node = &IndexNode{Pos: tok.Pos, Array: node, Offset: offset}
	}
	return node, nil
}

func (p *Parser) parsePrimary() (Node, error) {
	tok := p.current()

	switch tok.Type {
	case TokenInt, TokenFloat, TokenString:
		p.advance()
		return &AtomNode{Pos: tok.Pos, Token: tok}, nil
	case TokenKeyword:
		switch tok.Value {
		case "true", "false", "null":
			p.advance()
			return &AtomNode{Pos: tok.Pos, Token: tok}, nil
		case "if":
			return p.parseIf()
		}
	case TokenIdent:
		if p.peek().Is(TokenPunct, "(") {
			return p.parseCall()
		}
		p.advance()
		return &AtomNode{Pos: tok.Pos, Token: tok}, nil
	case TokenPunct:
		switch tok.Value {
		case "(":
			p.advance()
			node, err := p.parseStatements()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(TokenPunct, ")"); err != nil {
				return nil, err
			}
			return node, nil
		case "[":
			return p.parseArrayLiteral()
		}
	}
	return nil, unexpected(tok)
}

// parseArrayLiteral parses [expr, expr, ...].
func (p *Parser) parseArrayLiteral() (Node, error) {
	tok := p.advance() // [
	elements, err := p.parseList("]")
	if err != nil {
		return nil, err
	}
	return &ArrayLiteralNode{Pos: tok.Pos, Elements: elements}, nil
}

// parseCall parses name(expr, expr, ...).
func (p *Parser) parseCall() (Node, error) {
	name := p.advance()
	p.advance() // (
	args, err := p.parseList(")")
	if err != nil {
		return nil, err
	}
	return &CallNode{Pos: name.Pos, Name: strings.ToLower(name.Value), Args: args}, nil
}

// parseList parses comma-separated expressions up to and including closer.
func (p *Parser) parseList(closer string) ([]Node, error) {
	var items []Node
	for !p.current().Is(TokenPunct, closer) {
		if len(items) > 0 {
			if _, err := p.expect(TokenPunct, ","); err != nil {
				return nil, err
			}
		}
		item, err := p.parseAssignment()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	p.advance()
	return items, nil
}

func unexpected(tok Token) error {
	if tok.Type == TokenEOF {
		return types.NewSyntaxError(types.KindUnexpectedToken, tok.Pos,
			"unexpected end of input", types.NewString(""))
	}
	return types.NewSyntaxError(types.KindUnexpectedToken, tok.Pos,
		fmt.Sprintf("unexpected %s", describe(tok)), types.NewString(tok.Value))
}

func describe(tok Token) string {
	if tok.Type == TokenEOF {
		return "end of input"
	}
	return fmt.Sprintf("%s %q", strings.ToLower(tok.Type.String()), tok.Value)
}
