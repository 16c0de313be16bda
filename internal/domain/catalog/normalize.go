package catalog

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	featPattern    = regexp.MustCompile(`(?i)\s*[\(\[]\s*(feat\.?|ft\.?|featuring)\s[^\)\]]*[\)\]]|\s+(feat\.|ft\.|featuring)\s.*$`)
	versionPattern = regexp.MustCompile(`(?i)\s+-\s+.*\b(remaster(ed)?|version|edit|mix|live|mono|stereo|demo|acoustic)\b.*$`)
	bracketVersion = regexp.MustCompile(`(?i)[\(\[][^\)\]]*\b(remaster(ed)?|version|edit|mix|live|mono|stereo|demo|acoustic|instrumental)\b[^\)\]]*[\)\]]`)
	nonWord        = regexp.MustCompile(`[^\p{L}\p{N}]+`)
)

func stripMarks(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// NormalizeKey folds case, drops diacritics and collapses whitespace. It is
// the exact-key form used for case-insensitive title and party comparison.
func NormalizeKey(s string) string {
	// Casers are stateful, so one per call.
	s = cases.Fold().String(stripMarks(strings.TrimSpace(s)))
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeTitle reduces a title to its matching form: featured artist
// credits and version qualifiers are removed and punctuation is dropped.
// "Café del Mar (Remastered 2011)" -> "cafe del mar".
func NormalizeTitle(title string) string {
	s := featPattern.ReplaceAllString(title, " ")
	s = bracketVersion.ReplaceAllString(s, " ")
	s = versionPattern.ReplaceAllString(s, "")
	s = NormalizeKey(s)
	s = nonWord.ReplaceAllString(s, " ")
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return NormalizeKey(title)
	}
	return s
}

// NormalizeParty reduces a person or company name to its matching form.
func NormalizeParty(name string) string {
	s := nonWord.ReplaceAllString(NormalizeKey(name), " ")
	return strings.Join(strings.Fields(s), " ")
}
