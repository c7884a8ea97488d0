package utils

import (
	"crypto/md5"
	"fmt"
	"strings"
	"unicode"
)

func HashString(input string) string {
	hash := md5.Sum([]byte(input))
	return fmt.Sprintf("%x", hash)
}

// Fingerprint hashes the normalized form of a text so that whitespace and
// case variations of the same content collapse to one identity.
func Fingerprint(text string) string {
	return HashString(NormalizeText(text))
}

// NormalizeText lowercases and collapses all runs of whitespace to a single
// space.
func NormalizeText(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	inSpace := false
	for _, r := range strings.TrimSpace(text) {
		if unicode.IsSpace(r) {
			inSpace = true
			continue
		}
		if inSpace {
			b.WriteByte(' ')
			inSpace = false
		}
		b.WriteRune(unicode.ToLower(r))
	}

	return b.String()
}
