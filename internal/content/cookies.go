package content

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Consent banner delimiters seen on vendor documentation sites.
const cookieStartPhrase = "By selecting"

var cookieEndPhrases = []string{"targeted advertising", "less targeted advertising"}

// StripCookieConsent removes the first consent block from md. The block runs
// from the start phrase through the first end phrase plus its trailing
// punctuation. It reports whether anything was removed.
func StripCookieConsent(md string) (string, bool) {
	start := strings.Index(md, cookieStartPhrase)
	if start < 0 {
		return md, false
	}
	for _, phrase := range cookieEndPhrases {
		i := strings.Index(md[start:], phrase)
		if i < 0 {
			continue
		}
		end := start + i + len(phrase)
		if end < len(md) {
			_, size := utf8.DecodeRuneInString(md[end:])
			end += size
		}
		return strings.TrimRightFunc(md[:start], unicode.IsSpace) + strings.TrimLeftFunc(md[end:], unicode.IsSpace), true
	}
	return md, false
}
