package util

import (
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// NormalizeNFC returns the canonical composed form of s.
func NormalizeNFC(s string) string {
	return norm.NFC.String(s)
}

// TruncateRunes cuts s to at most n characters without splitting a
// multi-byte rune. The second result reports whether anything was cut.
func TruncateRunes(s string, n int) (string, bool) {
	if n <= 0 {
		return "", s != ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s, false
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos], true
		}
		i++
	}
	return s, false
}
