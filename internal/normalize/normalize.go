// Package normalize canonicalizes header names and person names for matching.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var multiSpaceRe = regexp.MustCompile(`\s{2,}`)

// Fold removes diacritics: "José Peña" becomes "Jose Pena".
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Header reduces a column header to lowercase letters and digits, so that
// "First Name", "first_name" and "FIRST-NAME" all become "firstname".
func Header(h string) string {
	h = strings.ToLower(Fold(h))
	var b strings.Builder
	b.Grow(len(h))
	for _, r := range h {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Name standardizes a person name for equality checks by:
//  1. Folding diacritics and lowercasing
//  2. Dropping periods, apostrophes and quotes
//  3. Treating hyphens and commas as spaces
//  4. Collapsing whitespace
func Name(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	name = strings.ToLower(Fold(name))
	name = strings.NewReplacer(
		".", "",
		"'", "",
		"’", "",
		"\"", "",
		"-", " ",
		",", " ",
	).Replace(name)
	name = multiSpaceRe.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}

// Email lowercases and trims an address.
func Email(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NameKey joins normalized first and last names for indexed lookups. It is
// empty unless both parts are present.
func NameKey(first, last string) string {
	first, last = Name(first), Name(last)
	if first == "" || last == "" {
		return ""
	}
	return first + "|" + last
}
