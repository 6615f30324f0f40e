// Package topic attaches known topics to harvested items.
package topic

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"digest_bot/internal/model"
)

// Match returns the topics whose name occurs in text as a whole word or
// phrase, compared case-insensitively. Order follows topics.
func Match(text string, topics []model.Topic) []model.Topic {
	if len(topics) == 0 || text == "" {
		return nil
	}

	haystack := strings.ToLower(text)
	var matched []model.Topic
	for _, t := range topics {
		if containsWord(haystack, strings.ToLower(strings.TrimSpace(t.Name))) {
			matched = append(matched, t)
		}
	}
	return matched
}

// containsWord reports whether needle occurs in haystack bounded by
// non-letter, non-digit runes (or the ends of the string).
func containsWord(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	for from := 0; from < len(haystack); {
		i := strings.Index(haystack[from:], needle)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(needle)
		if boundaryBefore(haystack, start) && boundaryAfter(haystack, end) {
			return true
		}
		from = start + 1
	}
	return false
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
