// Package expr implements the rule language: lexer, parser, AST and the
// tree-walking evaluator. Rules are small scripts such as
//
//	user_age > 30 & (summary := lcase(summary); summary contains "spam")
//
// whose final statement yields the rule's result.
package expr

import "strings"

// TokenType represents the type of a lexical token.
type TokenType int

const (
	TokenIdent    TokenType = iota // identifier (variable or function name)
	TokenKeyword                   // reserved word, Value is lowercased
	TokenString                    // string literal
	TokenInt                       // integer literal
	TokenFloat                     // float literal
	TokenOperator                  // operator, Value holds the symbol
	TokenPunct                     // one of , ( ) [ ] ;
	TokenEOF                       // end of input
)

// Token represents a single lexical token.
type Token struct {
	Type     TokenType
	Value    string  // raw text, operator symbol or lowercased keyword
	IntVal   int64   // parsed int (for TokenInt)
	FloatVal float64 // parsed float (for TokenFloat)
	StrVal   string  // parsed string (for TokenString, with escapes resolved)
	Pos      int     // start offset in source
	End      int     // offset just past the token
}

// Is reports whether the token has the given type and value.
func (t Token) Is(tt TokenType, value string) bool {
	return t.Type == tt && t.Value == value
}

// String returns a debug-friendly representation of the token type.
func (t TokenType) String() string {
	switch t {
	case TokenIdent:
		return "IDENT"
	case TokenKeyword:
		return "KEYWORD"
	case TokenString:
		return "STRING"
	case TokenInt:
		return "INT"
	case TokenFloat:
		return "FLOAT"
	case TokenOperator:
		return "OPERATOR"
	case TokenPunct:
		return "PUNCT"
	case TokenEOF:
		return "EOF"
	default:
		return "UNKNOWN"
	}
}

// operators in match order. Longer symbols precede their prefixes.
var operators = []string{
	"!==", "!=", "!",
	"**", "*",
	"/", "+", "-", "%",
	"&", "|", "^",
	":=",
	"?", ":",
	"<=", "<",
	">=", ">",
	"===", "==", "=",
}

// keywords are matched case-insensitively.
var keywords = map[string]bool{
	"true":     true,
	"false":    true,
	"null":     true,
	"in":       true,
	"like":     true,
	"matches":  true,
	"contains": true,
	"rlike":    true,
	"irlike":   true,
	"regex":    true,
	"if":       true,
	"then":     true,
	"else":     true,
	"end":      true,
}

// keywordOperators are the keywords that act as binary operators.
var keywordOperators = map[string]bool{
	"in":       true,
	"like":     true,
	"matches":  true,
	"contains": true,
	"rlike":    true,
	"irlike":   true,
	"regex":    true,
}

// IsKeyword reports whether word (in any case) is reserved.
func IsKeyword(word string) bool {
	return keywords[strings.ToLower(word)]
}
