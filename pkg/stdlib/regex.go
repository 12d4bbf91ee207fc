package stdlib

import (
	"github.com/dlclark/regexp2"

	"github.com/lemonberrylabs/ruleengine/pkg/types"
)

// registerRegex registers pattern functions. Patterns use the same dialect
// as the rlike operator.
func (r *Registry) registerRegex() {
	r.Register("rcount", 1, 2, regexCount)
	r.Register("get_matches", 2, 2, regexMatches)
	r.Register("rescape", 1, 1, regexEscape)
}

func compile(pattern string) (*regexp2.Regexp, error) {
	re, err := types.CompilePattern(types.EscapeSlashes(pattern), regexp2.None)
	if err != nil {
		return nil, types.NewRegexError(types.NoPosition, pattern, err)
	}
	return re, nil
}

// regexCount implements rcount(pattern, haystack): the number of matches.
// With a single argument it behaves like count.
func regexCount(args []types.Value) (types.Value, error) {
	if len(args) == 1 {
		return countItems(args[0]), nil
	}
	pattern := types.ToString(args[0])
	re, err := compile(pattern)
	if err != nil {
		return types.Null, err
	}
	var n int64
	m, err := re.FindStringMatch(types.ToString(args[1]))
	for m != nil && err == nil {
		n++
		m, err = re.FindNextMatch(m)
	}
	if err != nil {
		return types.Null, types.MatchError(types.NoPosition, pattern, err)
	}
	return types.NewInt(n), nil
}

// regexMatches implements get_matches(pattern, haystack). The result holds
// the whole match followed by every capture group of the first match; parts
// that did not participate are false.
func regexMatches(args []types.Value) (types.Value, error) {
	pattern := types.ToString(args[0])
	re, err := compile(pattern)
	if err != nil {
		return types.Null, err
	}
	out := make([]types.Value, len(re.GetGroupNumbers()))
	for i := range out {
		out[i] = types.False
	}
	m, err := re.FindStringMatch(types.ToString(args[1]))
	if err != nil {
		return types.Null, types.MatchError(types.NoPosition, pattern, err)
	}
	if m != nil {
		for i, g := range m.Groups() {
			if i < len(out) && len(g.Captures) > 0 {
				out[i] = types.NewString(g.String())
			}
		}
	}
	return types.NewArray(out), nil
}

func regexEscape(args []types.Value) (types.Value, error) {
	return types.NewString(regexp2.Escape(types.ToString(args[0]))), nil
}
