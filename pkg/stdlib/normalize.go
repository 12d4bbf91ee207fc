package stdlib

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/lemonberrylabs/ruleengine/pkg/types"
)

// registerNormalize registers the confusable-folding functions.
func (r *Registry) registerNormalize() {
	r.Register("ccnorm", 1, 1, normConfusables)
	r.Register("norm", 1, 1, normFull)
}

// lookalikes maps characters that render like a Latin capital to that capital.
var lookalikes = map[rune]rune{
	// Cyrillic
	'А': 'A', 'В': 'B', 'Е': 'E', 'К': 'K', 'М': 'M', 'Н': 'H', 'О': 'O',
	'Р': 'P', 'С': 'C', 'Т': 'T', 'У': 'Y', 'Х': 'X', 'І': 'I', 'Ј': 'J',
	'Ѕ': 'S', 'Ԁ': 'D', 'Ү': 'Y',
	// Greek
	'Α': 'A', 'Β': 'B', 'Ε': 'E', 'Ζ': 'Z', 'Η': 'H', 'Ι': 'I', 'Κ': 'K',
	'Μ': 'M', 'Ν': 'N', 'Ο': 'O', 'Ρ': 'P', 'Τ': 'T', 'Υ': 'Y', 'Χ': 'X',
	// Digits and symbols
	'0': 'O', '1': 'I', '3': 'E', '4': 'A', '5': 'S', '7': 'T', '8': 'B',
	'@': 'A', '$': 'S', '|': 'I',
}

// confusableFolding decomposes, drops combining marks and recomposes.
func confusableFolding() transform.Transformer {
	return transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}

// ccnorm folds s so that visually confusable strings compare equal: it
// strips diacritics, uppercases, and maps lookalike characters to Latin.
func ccnorm(s string) (string, error) {
	folded, _, err := transform.String(confusableFolding(), s)
	if err != nil {
		return "", err
	}
	folded = cases.Upper(language.Und).String(folded)
	return strings.Map(func(r rune) rune {
		if l, ok := lookalikes[r]; ok {
			return l
		}
		return r
	}, folded), nil
}

func normConfusables(args []types.Value) (types.Value, error) {
	s, err := ccnorm(types.ToString(args[0]))
	if err != nil {
		return types.Null, types.NewInvalidArgumentError("ccnorm", err.Error())
	}
	return types.NewString(s), nil
}

// normFull is ccnorm followed by rmdoubles, rmspecials and rmwhitespace.
func normFull(args []types.Value) (types.Value, error) {
	s, err := ccnorm(types.ToString(args[0]))
	if err != nil {
		return types.Null, types.NewInvalidArgumentError("norm", err.Error())
	}
	return types.NewString(removeWhitespace(removeSpecials(removeDoubles(s)))), nil
}
