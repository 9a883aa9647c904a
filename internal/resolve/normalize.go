package resolve

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// NormalizeTitle prepares a title for exact comparison by:
//  1. Applying Unicode NFKC normalisation
//  2. Case folding
//  3. Collapsing runs of whitespace into single spaces
//  4. Trimming surrounding punctuation and whitespace
//
// Interior punctuation is kept, so "C++ developer" and "C developer" stay distinct.
func NormalizeTitle(title string) string {
	if title == "" {
		return ""
	}
	s := norm.NFKC.String(title)
	s = folder.String(s)
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
}

// tokens splits a title into alphanumeric tokens for fuzzy scoring.
// Punctuation acts as a separator.
func tokens(title string) []string {
	s := folder.String(norm.NFKC.String(title))
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
