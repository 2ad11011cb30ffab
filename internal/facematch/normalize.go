package facematch

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RemoveDiacritics removes diacritical marks from a string (e.g., "Jiří" -> "Jiri").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// OverlayLabel returns an ASCII-only rendering of name for the overlay font.
// Characters that have no ASCII form are dropped; when nothing printable is
// left the fallback (usually the member ID) is used instead.
func OverlayLabel(name, fallback string) string {
	ascii := strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) {
			return -1
		}
		return r
	}, RemoveDiacritics(name))
	ascii = strings.Join(strings.Fields(ascii), " ")
	if ascii == "" {
		return fallback
	}
	return ascii
}
