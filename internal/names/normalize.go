// Package names provides author-name canonicalization and approximate
// string matching used for author identity resolution.
package names

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize canonicalizes a raw author-name string for storage and
// comparison:
//   - Removes footnote and superscript markers (digits, asterisks).
//   - Collapses the conjunction token "and" used as a list separator.
//   - Removes periods (initials "J. K." become "J K").
//   - Replaces hyphens with spaces. This is unconditional and therefore
//     splits genuinely hyphenated surnames too; the resolver has to tolerate
//     the resulting spelling variants (known limitation).
//   - Strips leading/trailing commas and whitespace, collapses internal
//     whitespace runs to a single space.
//
// Normalize is pure and idempotent: Normalize(Normalize(x)) == Normalize(x).
func Normalize(raw string) string {
	var sb strings.Builder
	sb.Grow(len(raw))
	for _, r := range raw {
		switch {
		case unicode.IsDigit(r) || r == '*' || r == '.':
			// footnote markers and initials punctuation
		case r == '-':
			sb.WriteRune(' ')
		default:
			sb.WriteRune(r)
		}
	}

	s := sb.String()
	// Doubled separators leave overlapping " and " occurrences behind a
	// single pass, so replace until the string stops changing.
	for {
		next := strings.ReplaceAll(s, " and ", " ")
		if next == s {
			break
		}
		s = next
	}
	s = strings.Trim(s, " ,\t\n")
	return strings.Join(strings.Fields(s), " ")
}

// foldTransformer decomposes to NFD, drops combining marks and recomposes,
// reducing accented characters to their base Latin form.
var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Fold lowercases s and strips diacritics to base Latin characters. It is
// used on the comparison path only; stored names keep their original
// accents and casing.
func Fold(s string) string {
	folded, _, err := transform.String(foldTransformer, s)
	if err != nil {
		// Transform only fails on malformed UTF-8; fall back to the input.
		folded = s
	}
	return strings.ToLower(folded)
}

// SplitParts splits a normalized name into its first-name and last-name
// components: first token and last token respectively. Middle tokens are
// ignored for matching purposes (documented limitation). A single-token name
// yields the same value for both components; an empty name yields two empty
// strings.
func SplitParts(name string) (first, last string) {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return "", ""
	}
	return fields[0], fields[len(fields)-1]
}
