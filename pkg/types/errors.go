package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind identifies a specific rule error. Kinds are stable strings so
// hosts can map them to localized messages.
type ErrorKind string

// Syntax error kinds, raised by the lexer and parser.
const (
	KindUnclosedComment   ErrorKind = "unclosedcomment"
	KindUnclosedString    ErrorKind = "unclosedstring"
	KindUnrecognisedToken ErrorKind = "unrecognisedtoken"
	KindUnexpectedToken   ErrorKind = "unexpectedtoken"
	KindExpectedToken     ErrorKind = "expectedtoken"
	KindInvalidAssignment ErrorKind = "invalidassignment"
	KindTooLong           ErrorKind = "toolong"
	KindUnknownFunction   ErrorKind = "unknownfunction"
	KindTooFewArguments   ErrorKind = "toofewarguments"
	KindTooManyArguments  ErrorKind = "toomanyarguments"
)

// User-visible runtime error kinds.
const (
	KindDivideByZero     ErrorKind = "dividebyzero"
	KindNotArray         ErrorKind = "notarray"
	KindOutOfBounds      ErrorKind = "outofbounds"
	KindRegexFailure     ErrorKind = "regexfailure"
	KindOverrideBuiltin  ErrorKind = "overridebuiltin"
	KindUnrecognisedVar  ErrorKind = "unrecognisedvar"
	KindTooComplex       ErrorKind = "toocomplex"
	KindTimeout          ErrorKind = "timeout"
	KindInvalidArgument  ErrorKind = "invalidargument"
	KindVariableResolver ErrorKind = "variableresolver"
)

// KindInternal marks engine bugs: unknown node kinds or operators.
const KindInternal ErrorKind = "internal"

// Category groups error kinds by who is expected to act on them.
type Category int

const (
	CategorySyntax Category = iota
	CategoryUser
	CategoryInternal
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategorySyntax:
		return "syntax"
	case CategoryUser:
		return "user"
	default:
		return "internal"
	}
}

// NoPosition marks an error that has not been attributed to source yet.
const NoPosition = -1

// RuleError is an error raised while parsing or evaluating a rule. It carries
// the source offset and the values needed to render a message.
type RuleError struct {
	Kind     ErrorKind
	Category Category
	Pos      int
	Message  string
	Params   []Value
}

// Error implements the error interface.
func (e *RuleError) Error() string {
	if e.Pos >= 0 {
		return fmt.Sprintf("%s error at char %d: %s", e.Category, e.Pos, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Category, e.Message)
}

// Is matches another RuleError of the same kind, so sentinel comparisons work
// with errors.Is(err, &RuleError{Kind: KindDivideByZero}).
func (e *RuleError) Is(target error) bool {
	t, ok := target.(*RuleError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// ParamStrings returns the string forms of the error parameters.
func (e *RuleError) ParamStrings() []string {
	out := make([]string, len(e.Params))
	for i, p := range e.Params {
		out[i] = p.GoString()
	}
	return out
}

// Detail returns a one-line description including parameters.
func (e *RuleError) Detail() string {
	if len(e.Params) == 0 {
		return e.Message
	}
	return e.Message + " [" + strings.Join(e.ParamStrings(), ", ") + "]"
}

// WithPos returns e with its position set if none was recorded yet.
func (e *RuleError) WithPos(pos int) *RuleError {
	if e.Pos == NoPosition {
		e.Pos = pos
	}
	return e
}

// AsRuleError extracts a *RuleError from an error chain.
func AsRuleError(err error) (*RuleError, bool) {
	var re *RuleError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// IsSyntaxError reports whether err is a syntax error.
func IsSyntaxError(err error) bool {
	re, ok := AsRuleError(err)
	return ok && re.Category == CategorySyntax
}

// Common error constructors.

// NewSyntaxError creates a syntax error at pos.
func NewSyntaxError(kind ErrorKind, pos int, msg string, params ...Value) *RuleError {
	return &RuleError{Kind: kind, Category: CategorySyntax, Pos: pos, Message: msg, Params: params}
}

// NewUserError creates a user-visible runtime error at pos.
func NewUserError(kind ErrorKind, pos int, msg string, params ...Value) *RuleError {
	return &RuleError{Kind: kind, Category: CategoryUser, Pos: pos, Message: msg, Params: params}
}

// NewInternalError creates an internal error.
func NewInternalError(pos int, msg string) *RuleError {
	return &RuleError{Kind: KindInternal, Category: CategoryInternal, Pos: pos, Message: msg}
}

// NewDivideByZeroError creates a division-by-zero error carrying both operands.
func NewDivideByZeroError(left, right Value) *RuleError {
	return NewUserError(KindDivideByZero, NoPosition, "division by zero", left, right)
}

// NewNotArrayError creates an error for indexing or appending to a non-array.
func NewNotArrayError(pos int, name string, got Value) *RuleError {
	return NewUserError(KindNotArray, pos,
		fmt.Sprintf("%s is not an array (got %s)", name, got.Type()), NewString(name))
}

// NewOutOfBoundsError creates an index out of range error carrying the offset and length.
func NewOutOfBoundsError(pos int, offset int64, length int) *RuleError {
	return NewUserError(KindOutOfBounds, pos,
		fmt.Sprintf("index %d out of range (length %d)", offset, length),
		NewInt(offset), NewInt(int64(length)))
}

// NewRegexError creates an invalid pattern error.
func NewRegexError(pos int, pattern string, cause error) *RuleError {
	return NewUserError(KindRegexFailure, pos,
		fmt.Sprintf("invalid regular expression %q: %v", pattern, cause), NewString(pattern))
}

// NewOverrideBuiltinError creates an error for assigning to a reserved variable.
func NewOverrideBuiltinError(pos int, name string) *RuleError {
	return NewUserError(KindOverrideBuiltin, pos,
		fmt.Sprintf("cannot override built-in variable %q", name), NewString(name))
}

// NewUnrecognisedVarError creates an error for writing into an unbound variable.
func NewUnrecognisedVarError(pos int, name string) *RuleError {
	return NewUserError(KindUnrecognisedVar, pos,
		fmt.Sprintf("unrecognised variable %q", name), NewString(name))
}

// NewTooComplexError creates an error for exceeding the nesting limit.
func NewTooComplexError(pos, limit int) *RuleError {
	return NewUserError(KindTooComplex, pos,
		fmt.Sprintf("expression too complex (nesting deeper than %d)", limit), NewInt(int64(limit)))
}

// NewInvalidArgumentError creates an error for a bad function argument.
func NewInvalidArgumentError(fn, msg string) *RuleError {
	return NewUserError(KindInvalidArgument, NoPosition, fmt.Sprintf("%s: %s", fn, msg), NewString(fn))
}
