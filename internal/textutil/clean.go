// Package textutil normalizes question and answer text before embedding
// and deduplication-by-meaning. The same cleaning is applied to stored
// questions at ingestion time and to queries at search time, so vectors
// are always compared in the same normalized space.
package textutil

import (
	"regexp"
	"strings"
)

// stopWords are filler tokens dropped after tokenization. The corpus is
// conversational, so greetings and politeness particles carry no meaning.
var stopWords = map[string]struct{}{
	"chào": {},
	"dạ":   {},
	"ạ":    {},
}

var (
	// repeatedPunct collapses runs of two or more terminal '!'/'?' marks.
	repeatedPunct = regexp.MustCompile(`[!?]{2,}`)

	// disallowed strips everything outside word characters, whitespace,
	// and sentence punctuation.
	disallowed = regexp.MustCompile(`[^\p{L}\p{N}_\s?.!]`)
)

// Clean lowercases and trims text, collapses repeated terminal punctuation
// to a single period, strips special characters, and removes stop words.
// The result may be empty; callers treat empty-after-clean text as unusable.
func Clean(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return ""
	}
	text = repeatedPunct.ReplaceAllString(text, ".")
	text = disallowed.ReplaceAllString(text, "")

	fields := strings.Fields(text)
	kept := fields[:0]
	for _, w := range fields {
		if _, ok := stopWords[w]; ok {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}
