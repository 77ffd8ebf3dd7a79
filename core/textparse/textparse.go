// Package textparse holds the free-text helpers used while collecting a report:
// whitespace normalization, end-marker detection and hashtag extraction.
package textparse

import (
	"strings"
	"unicode/utf8"
)

// Hashtag prefixes accepted at the start of a token.
const (
	HashASCII     = '#'
	HashFullwidth = '＃'
)

// Normalize trims text and collapses every whitespace run (newlines included) to one space.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// DetectEndMarker reports whether marker occurs in text. When it does, the marker
// and everything after it are cut off and the trimmed prefix is returned.
// The search is a plain substring match, so "fix#donewell" also ends.
func DetectEndMarker(text, marker string) (bool, string) {
	if marker == "" {
		return false, text
	}
	idx := strings.Index(text, marker)
	if idx < 0 {
		return false, text
	}
	return true, strings.TrimSpace(text[:idx])
}

// ExtractHashtags returns the tags found in text in order of appearance.
// Duplicates are kept; a bare "#" yields an empty tag.
func ExtractHashtags(text string) []string {
	var tags []string
	for _, tok := range strings.Split(Normalize(text), " ") {
		r, size := utf8.DecodeRuneInString(tok)
		if r != HashASCII && r != HashFullwidth {
			continue
		}
		tags = append(tags, tok[size:])
	}
	return tags
}

// Length counts characters the way the description threshold expects (code points).
func Length(text string) int {
	return utf8.RuneCountInString(text)
}

// ContainsMarker is a substring check used for skip markers.
func ContainsMarker(text, marker string) bool {
	return marker != "" && strings.Contains(text, marker)
}
