// Package extract guesses the author's display name from raw essay text.
package extract

import (
	"regexp"
	"strings"
	"unicode"
)

// Header patterns match case-insensitively; the fallback below still demands
// capitalization, since a bare first line has no keyword to anchor on.
var (
	namePattern   = regexp.MustCompile(`(?i)^Name:\s*([A-Z][a-z]+(?:\s+[A-Z][a-z]+)*)`)
	gradePattern  = regexp.MustCompile(`(?i)^([A-Z][a-z]+(?:\s+[A-Z][a-z]+)*)\s*[—\-]\s*Grade`)
	bylinePattern = regexp.MustCompile(`(?i)^By\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)*)`)

	nonWordPattern  = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)
	spaceRunPattern = regexp.MustCompile(`\s+`)
)

// Words that start ordinary essays and must never be mistaken for a name in
// the fallback heuristic.
var commonStarters = map[string]struct{}{
	"The": {}, "In": {}, "This": {}, "That": {}, "When": {}, "Where": {},
	"Why": {}, "How": {}, "What": {}, "Essay": {}, "Introduction": {},
}

// StudentName tries, in priority order: a "Name: X" header, an "X — Grade"
// header, a "By X" byline, then a conservative first-line fallback. Returns
// false when nothing looks like a name; the essay is then treated as
// unassigned rather than rejected.
func StudentName(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}

	firstLine := text
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		firstLine = text[:idx]
	}
	firstLine = strings.TrimSpace(firstLine)

	for _, pattern := range []*regexp.Regexp{namePattern, gradePattern, bylinePattern} {
		if m := pattern.FindStringSubmatch(firstLine); m != nil {
			return strings.TrimSpace(m[1]), true
		}
	}

	return fallbackName(firstLine)
}

// fallbackName accepts a first line of 1-3 capitalized alphabetic words,
// none of which is a common essay opener.
func fallbackName(firstLine string) (string, bool) {
	words := strings.Fields(firstLine)
	if len(words) < 1 || len(words) > 3 {
		return "", false
	}

	for _, word := range words {
		if _, ok := commonStarters[word]; ok {
			return "", false
		}
		if len([]rune(word)) < 2 || !isCapitalizedAlpha(word) {
			return "", false
		}
	}

	return strings.Join(words, " "), true
}

func isCapitalizedAlpha(word string) bool {
	for i, r := range word {
		if !unicode.IsLetter(r) {
			return false
		}
		if i == 0 && !unicode.IsUpper(r) {
			return false
		}
	}
	return true
}

// Normalize prepares a name for fuzzy comparison: lowercase, punctuation
// stripped, whitespace collapsed.
func Normalize(name string) string {
	normalized := nonWordPattern.ReplaceAllString(strings.ToLower(name), "")
	normalized = spaceRunPattern.ReplaceAllString(normalized, " ")
	return strings.TrimSpace(normalized)
}
