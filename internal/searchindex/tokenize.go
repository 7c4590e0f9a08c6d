package searchindex

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// tokenizeText lowercases s and splits it into alphanumeric chunks. Any
// run of punctuation or whitespace is a separator; chunks of length 1 are
// dropped as too noisy to be useful index keys.
func tokenizeText(s string) []string {
	var out []string
	var cur strings.Builder
	flush := func() {
		if utf8.RuneCountInString(cur.String()) > 1 {
			out = append(out, cur.String())
		}
		cur.Reset()
	}
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			cur.WriteRune(unicode.ToLower(r))
		} else {
			flush()
		}
	}
	flush()
	return out
}

// filterStopwords drops tokens that are too common to usefully narrow a
// search, using the same list the registered stopword checker uses.
func (idx *Index) filterStopwords(tokens []string) []string {
	if idx.stop == nil {
		return tokens
	}
	out := tokens[:0:0]
	for _, t := range tokens {
		if idx.stop.Contains(t) {
			continue
		}
		out = append(out, t)
	}
	return out
}
