package stdlib

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/lemonberrylabs/ruleengine/pkg/types"
)

// registerText registers string functions.
func (r *Registry) registerText() {
	r.Register("lcase", 1, 1, textLower)
	r.Register("ucase", 1, 1, textUpper)
	r.Register("substr", 2, 3, textSubstr)
	r.Register("strpos", 2, 3, textStrpos)
	r.Register("str_replace", 3, 3, textReplace)
	r.Register("count", 1, 2, textCount)
	r.Register("rmwhitespace", 1, 1, textRemoveWhitespace)
	r.Register("rmspecials", 1, 1, textRemoveSpecials)
	r.Register("rmdoubles", 1, 1, textRemoveDoubles)
	r.Register("sanitize", 1, 1, textSanitize)
}

// Casers are not safe for concurrent use, so each call builds its own.
func textLower(args []types.Value) (types.Value, error) {
	return types.NewString(cases.Lower(language.Und).String(types.ToString(args[0]))), nil
}

func textUpper(args []types.Value) (types.Value, error) {
	return types.NewString(cases.Upper(language.Und).String(types.ToString(args[0]))), nil
}

// textSubstr implements substr(s, start [, length]) over characters. A
// negative start counts from the end; a negative length stops that many
// characters before the end.
func textSubstr(args []types.Value) (types.Value, error) {
	runes := []rune(types.ToString(args[0]))
	n := int64(len(runes))

	start := types.ToInt(args[1])
	if start < 0 {
		start = max(start+n, 0)
	}
	if start >= n {
		return types.NewString(""), nil
	}

	end := n
	if len(args) > 2 {
		length := types.ToInt(args[2])
		switch {
		case length < 0:
			end = n + length
		case length < n-start:
			end = start + length
		}
	}
	if end <= start {
		return types.NewString(""), nil
	}
	return types.NewString(string(runes[start:end])), nil
}

// textStrpos implements strpos(haystack, needle [, offset]). It returns the
// character index of the first occurrence at or after offset, or -1.
func textStrpos(args []types.Value) (types.Value, error) {
	haystack := []rune(types.ToString(args[0]))
	needle := types.ToString(args[1])
	n := int64(len(haystack))

	var offset int64
	if len(args) > 2 {
		offset = types.ToInt(args[2])
		if offset < 0 {
			offset += n
		}
		if offset < 0 || offset > n {
			return types.Null, types.NewInvalidArgumentError("strpos", "offset out of range")
		}
	}
	if needle == "" {
		return types.NewInt(-1), nil
	}

	rest := string(haystack[offset:])
	idx := strings.Index(rest, needle)
	if idx < 0 {
		return types.NewInt(-1), nil
	}
	return types.NewInt(offset + int64(utf8.RuneCountInString(rest[:idx]))), nil
}

// textReplace implements str_replace(subject, search, replacement).
func textReplace(args []types.Value) (types.Value, error) {
	subject := types.ToString(args[0])
	search := types.ToString(args[1])
	if search == "" {
		return types.NewString(subject), nil
	}
	return types.NewString(strings.ReplaceAll(subject, search, types.ToString(args[2]))), nil
}

// textCount implements count(needle, haystack): the number of non-overlapping
// occurrences of needle. With a single argument it counts array elements, or
// the comma-separated items of a string.
func textCount(args []types.Value) (types.Value, error) {
	if len(args) == 1 {
		return countItems(args[0]), nil
	}
	needle := types.ToString(args[0])
	if needle == "" {
		return types.NewInt(0), nil
	}
	return types.NewInt(int64(strings.Count(types.ToString(args[1]), needle))), nil
}

func countItems(v types.Value) types.Value {
	if v.Type() == types.TypeArray {
		return types.NewInt(int64(v.Len()))
	}
	return types.NewInt(int64(strings.Count(types.ToString(v), ",") + 1))
}

func textRemoveWhitespace(args []types.Value) (types.Value, error) {
	return types.NewString(removeWhitespace(types.ToString(args[0]))), nil
}

func textRemoveSpecials(args []types.Value) (types.Value, error) {
	return types.NewString(removeSpecials(types.ToString(args[0]))), nil
}

func textRemoveDoubles(args []types.Value) (types.Value, error) {
	return types.NewString(removeDoubles(types.ToString(args[0]))), nil
}

// textSanitize decodes HTML character references.
func textSanitize(args []types.Value) (types.Value, error) {
	return types.NewString(html.UnescapeString(types.ToString(args[0]))), nil
}

func removeWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// removeSpecials keeps letters, digits and whitespace.
func removeSpecials(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, s)
}

// removeDoubles collapses runs of the same character.
func removeDoubles(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	prev := utf8.RuneError
	first := true
	for _, r := range s {
		if !first && r == prev {
			continue
		}
		sb.WriteRune(r)
		prev, first = r, false
	}
	return sb.String()
}
