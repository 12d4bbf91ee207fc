package expr

import (
	"strconv"
	"strings"

	"github.com/lemonberrylabs/ruleengine/pkg/types"
)

// snippetLength caps the source excerpt attached to unrecognisedtoken errors.
const snippetLength = 32

// Lexer tokenizes rule source text.
type Lexer struct {
	input  string
	pos    int
	tokens []Token
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	return &Lexer{input: input}
}

// Tokenize is shorthand for NewLexer(text).Tokenize().
func Tokenize(text string) ([]Token, error) {
	return NewLexer(text).Tokenize()
}

// Tokenize scans the entire input and returns all tokens, ending with TokenEOF.
func (l *Lexer) Tokenize() ([]Token, error) {
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		l.tokens = append(l.tokens, tok)
		if tok.Type == TokenEOF {
			break
		}
	}
	return l.tokens, nil
}

// next returns the next token from the input. Every call either advances
// l.pos or returns TokenEOF.
func (l *Lexer) next() (Token, error) {
	if err := l.skipSpaceAndComments(); err != nil {
		return Token{}, err
	}

	if l.pos >= len(l.input) {
		return Token{Type: TokenEOF, Pos: l.pos, End: l.pos}, nil
	}

	start := l.pos
	ch := l.input[l.pos]

	switch ch {
	case ',', '(', ')', '[', ']', ';':
		l.pos++
		return Token{Type: TokenPunct, Value: string(ch), Pos: start, End: l.pos}, nil
	case '"', '\'':
		return l.readString(ch)
	}

	for _, op := range operators {
		if strings.HasPrefix(l.input[l.pos:], op) {
			l.pos += len(op)
			return Token{Type: TokenOperator, Value: op, Pos: start, End: l.pos}, nil
		}
	}

	if isDigit(ch) {
		return l.readNumber()
	}

	if isIdentStart(ch) {
		return l.readIdentifier(), nil
	}

	return Token{}, l.unrecognised(start)
}

func (l *Lexer) skipSpaceAndComments() error {
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' || ch == '\v' || ch == '\f':
			l.pos++
		case strings.HasPrefix(l.input[l.pos:], "/*"):
			end := strings.Index(l.input[l.pos+2:], "*/")
			if end < 0 {
				return types.NewSyntaxError(types.KindUnclosedComment, l.pos, "unclosed comment")
			}
			l.pos += 2 + end + 2
		default:
			return nil
		}
	}
	return nil
}

// readString reads a quoted string literal.
func (l *Lexer) readString(quote byte) (Token, error) {
	start := l.pos
	l.pos++ // skip opening quote

	var sb strings.Builder
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if ch == '\\' && l.pos+1 < len(l.input) {
			l.pos++
			escaped := l.input[l.pos]
			switch escaped {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case '\\':
				sb.WriteByte('\\')
			case '"':
				sb.WriteByte('"')
			case '\'':
				sb.WriteByte('\'')
			case 'x':
				if l.pos+2 < len(l.input) && isHex(l.input[l.pos+1]) && isHex(l.input[l.pos+2]) {
					b, _ := strconv.ParseUint(l.input[l.pos+1:l.pos+3], 16, 8)
					sb.WriteByte(byte(b))
					l.pos += 2
				} else {
					sb.WriteString(`\x`)
				}
			default:
				sb.WriteByte('\\')
				sb.WriteByte(escaped)
			}
			l.pos++
			continue
		}
		if ch == quote {
			l.pos++ // skip closing quote
			return Token{
				Type:   TokenString,
				Value:  l.input[start:l.pos],
				StrVal: sb.String(),
				Pos:    start,
				End:    l.pos,
			}, nil
		}
		sb.WriteByte(ch)
		l.pos++
	}

	return Token{}, types.NewSyntaxError(types.KindUnclosedString, start, "unclosed string")
}

// readNumber reads a decimal, float or base-prefixed integer literal.
func (l *Lexer) readNumber() (Token, error) {
	start := l.pos

	if base := basePrefix(l.input[l.pos:]); base != 0 {
		l.pos += 2
		digitsStart := l.pos
		for l.pos < len(l.input) && isIdentPart(l.input[l.pos]) {
			l.pos++
		}
		digits := l.input[digitsStart:l.pos]
		if digits == "" || !validDigits(digits, base) {
			return Token{}, l.unrecognised(start)
		}
		i, err := strconv.ParseInt(digits, base, 64)
		if err != nil {
			return Token{}, l.unrecognised(start)
		}
		return Token{Type: TokenInt, Value: l.input[start:l.pos], IntVal: i, Pos: start, End: l.pos}, nil
	}

	for l.pos < len(l.input) && isDigit(l.input[l.pos]) {
		l.pos++
	}
	isFloat := false
	if l.pos+1 < len(l.input) && l.input[l.pos] == '.' && isDigit(l.input[l.pos+1]) {
		isFloat = true
		l.pos++
		for l.pos < len(l.input) && isDigit(l.input[l.pos]) {
			l.pos++
		}
	}
	if l.pos < len(l.input) && (isIdentPart(l.input[l.pos]) || l.input[l.pos] == '.') {
		return Token{}, l.unrecognised(start)
	}

	raw := l.input[start:l.pos]
	if !isFloat {
		if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return Token{Type: TokenInt, Value: raw, IntVal: i, Pos: start, End: l.pos}, nil
		}
		// Too large for int64: keep the magnitude as a float.
	}
	f, _ := strconv.ParseFloat(raw, 64)
	return Token{Type: TokenFloat, Value: raw, FloatVal: f, Pos: start, End: l.pos}, nil
}

// readIdentifier reads an identifier or keyword.
func (l *Lexer) readIdentifier() Token {
	start := l.pos
	for l.pos < len(l.input) && isIdentPart(l.input[l.pos]) {
		l.pos++
	}

	word := l.input[start:l.pos]
	if lw := strings.ToLower(word); keywords[lw] {
		return Token{Type: TokenKeyword, Value: lw, Pos: start, End: l.pos}
	}
	return Token{Type: TokenIdent, Value: word, Pos: start, End: l.pos}
}

func (l *Lexer) unrecognised(pos int) error {
	rest := l.input[pos:]
	if len(rest) > snippetLength {
		rest = rest[:snippetLength]
	}
	return types.NewSyntaxError(types.KindUnrecognisedToken, pos,
		"unrecognised token "+strconv.Quote(rest), types.NewString(rest))
}

func basePrefix(s string) int {
	if len(s) < 2 || s[0] != '0' {
		return 0
	}
	switch s[1] {
	case 'x', 'X':
		return 16
	case 'b', 'B':
		return 2
	case 'o', 'O':
		return 8
	}
	return 0
}

func validDigits(digits string, base int) bool {
	for i := 0; i < len(digits); i++ {
		c := digits[i]
		var d int
		switch {
		case isDigit(c):
			d = int(c - '0')
		case c >= 'a' && c <= 'f':
			d = int(c-'a') + 10
		case c >= 'A' && c <= 'F':
			d = int(c-'A') + 10
		default:
			return false
		}
		if d >= base {
			return false
		}
	}
	return true
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isHex(ch byte) bool {
	return isDigit(ch) || (ch >= 'a' && ch <= 'f') || (ch >= 'A' && ch <= 'F')
}

func isIdentStart(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_'
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || isDigit(ch)
}
