package hunt

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Normalize canonicalizes an answer attempt before it is sent for
// verification: trim, lowercase, then drop every whitespace rune.
// Punctuation is kept. Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	// A Caser is stateful, so each call gets its own.
	lowered := cases.Lower(language.Und).String(strings.TrimFunc(s, isAnswerSpace))
	return strings.Map(func(r rune) rune {
		if isAnswerSpace(r) {
			return -1
		}
		return r
	}, lowered)
}

// isAnswerSpace matches the browser's whitespace class: Unicode White_Space
// plus the byte order mark, without NEL (U+0085).
func isAnswerSpace(r rune) bool {
	if r == '\u0085' {
		return false
	}
	return unicode.IsSpace(r) || r == '\uFEFF'
}
