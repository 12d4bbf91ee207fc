package types

import (
	"strings"
	"sync"
	"time"

	"github.com/dlclark/regexp2"
)

// RegexMatchTimeout bounds a single pattern match. Catastrophic backtracking
// surfaces as a timeout error instead of stalling the evaluation.
var RegexMatchTimeout = 250 * time.Millisecond

// maxCachedPatterns bounds the compiled-pattern cache. The cache is cleared
// once it grows past the limit.
const maxCachedPatterns = 512

type patternKey struct {
	pattern string
	opts    regexp2.RegexOptions
}

var patternCache = struct {
	sync.Mutex
	m map[patternKey]*regexp2.Regexp
}{m: make(map[patternKey]*regexp2.Regexp)}

// CompilePattern compiles a PCRE-style pattern body, caching the result.
// The returned error is the raw compiler error.
func CompilePattern(pattern string, opts regexp2.RegexOptions) (*regexp2.Regexp, error) {
	key := patternKey{pattern: pattern, opts: opts}
	patternCache.Lock()
	re, ok := patternCache.m[key]
	patternCache.Unlock()
	if ok {
		return re, nil
	}
	re, err := regexp2.Compile(pattern, opts)
	if err != nil {
		return nil, err
	}
	re.MatchTimeout = RegexMatchTimeout
	patternCache.Lock()
	if len(patternCache.m) >= maxCachedPatterns {
		patternCache.m = make(map[patternKey]*regexp2.Regexp)
	}
	patternCache.m[key] = re
	patternCache.Unlock()
	return re, nil
}

// KeywordOp dispatches a keyword operator. pos is the operator's source
// offset, used to attribute pattern errors. Undefined operands are the
// caller's concern; see the evaluator.
func KeywordOp(keyword string, left, right Value, pos int) (Value, error) {
	switch keyword {
	case "like", "matches":
		return Like(left, right, pos)
	case "rlike", "regex":
		return Regex(left, right, pos, false)
	case "irlike":
		return Regex(left, right, pos, true)
	case "contains":
		return Contains(left, right), nil
	case "in":
		return In(left, right), nil
	}
	return Null, NewInternalError(pos, "unknown keyword operator "+keyword)
}

// Like matches the string form of str against a shell glob: "*" matches any
// run, "?" one character, "[...]" a class ("[!...]" negated), and a backslash
// escapes the next character.
func Like(str, pattern Value, pos int) (Value, error) {
	glob := ToString(pattern)
	re, err := CompilePattern(globToRegex(glob), regexp2.Singleline)
	if err != nil {
		return Null, NewRegexError(pos, glob, err)
	}
	return match(re, ToString(str), glob, pos)
}

// Regex matches the string form of str against a regular expression body.
// Unescaped "/" characters are escaped so bodies written for slash-delimited
// patterns behave the same.
func Regex(str, pattern Value, pos int, insensitive bool) (Value, error) {
	body := ToString(pattern)
	opts := regexp2.RegexOptions(regexp2.None)
	if insensitive {
		opts |= regexp2.IgnoreCase
	}
	re, err := CompilePattern(EscapeSlashes(body), opts)
	if err != nil {
		return Null, NewRegexError(pos, body, err)
	}
	return match(re, ToString(str), body, pos)
}

// Contains reports whether the string form of haystack contains needle.
// An empty string on either side never matches.
func Contains(haystack, needle Value) Value {
	h, n := ToString(haystack), ToString(needle)
	if h == "" || n == "" {
		return False
	}
	return NewBool(strings.Contains(h, n))
}

// In is Contains with the operands swapped: "needle in haystack".
func In(needle, haystack Value) Value {
	return Contains(haystack, needle)
}

// EscapeSlashes escapes every "/" not already preceded by an odd number of backslashes.
func EscapeSlashes(body string) string {
	if !strings.Contains(body, "/") {
		return body
	}
	var sb strings.Builder
	backslashes := 0
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c == '/' && backslashes%2 == 0 {
			sb.WriteByte('\\')
		}
		sb.WriteByte(c)
		if c == '\\' {
			backslashes++
		} else {
			backslashes = 0
		}
	}
	return sb.String()
}

func match(re *regexp2.Regexp, s, pattern string, pos int) (Value, error) {
	ok, err := re.MatchString(s)
	if err != nil {
		return Null, MatchError(pos, pattern, err)
	}
	return NewBool(ok), nil
}

// MatchError converts an error returned while running a compiled pattern.
func MatchError(pos int, pattern string, err error) *RuleError {
	if isTimeout(err) {
		return NewUserError(KindTimeout, pos, "pattern match timed out", NewString(pattern))
	}
	return NewRegexError(pos, pattern, err)
}

// regexp2 reports timeouts as plain errors.
func isTimeout(err error) bool {
	return strings.Contains(err.Error(), "match timeout")
}

func globToRegex(glob string) string {
	runes := []rune(glob)
	var sb strings.Builder
	sb.WriteString(`\A`)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch c {
		case '*':
			sb.WriteString(".*")
		case '?':
			sb.WriteByte('.')
		case '\\':
			if i+1 < len(runes) {
				i++
				sb.WriteString(regexp2.Escape(string(runes[i])))
			} else {
				sb.WriteString(`\\`)
			}
		case '[':
			end := classEnd(runes, i)
			if end < 0 {
				sb.WriteString(`\[`)
				continue
			}
			sb.WriteString(classToRegex(runes[i+1 : end]))
			i = end
		default:
			sb.WriteString(regexp2.Escape(string(c)))
		}
	}
	sb.WriteString(`\z`)
	return sb.String()
}

// classEnd returns the index of the "]" closing the class opened at start,
// or -1. A "]" right after "[" or "[!" is literal.
func classEnd(runes []rune, start int) int {
	j := start + 1
	if j < len(runes) && runes[j] == '!' {
		j++
	}
	if j < len(runes) && runes[j] == ']' {
		j++
	}
	for ; j < len(runes); j++ {
		if runes[j] == ']' {
			return j
		}
	}
	return -1
}

func classToRegex(body []rune) string {
	var sb strings.Builder
	sb.WriteByte('[')
	if len(body) > 0 && body[0] == '!' {
		sb.WriteByte('^')
		body = body[1:]
	}
	for _, c := range body {
		switch c {
		case '\\', '[', ']', '^':
			sb.WriteByte('\\')
		}
		sb.WriteRune(c)
	}
	sb.WriteByte(']')
	return sb.String()
}
