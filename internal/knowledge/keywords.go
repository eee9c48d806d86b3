package knowledge

import (
	"regexp"
	"strings"
)

// stopWords are dropped from queries before scoring. Without this the
// articles and auxiliaries in an email body dominate the match count.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true,
	"but": true, "is": true, "are": true, "was": true, "were": true,
	"be": true, "been": true, "being": true, "have": true, "has": true,
	"had": true, "do": true, "does": true, "did": true, "will": true,
	"would": true, "could": true, "should": true, "can": true, "may": true,
	"i": true, "you": true, "he": true, "she": true, "it": true,
	"we": true, "they": true, "my": true, "your": true, "his": true,
	"her": true, "its": true, "our": true, "their": true, "this": true,
	"that": true, "these": true, "those": true, "to": true, "of": true,
	"in": true, "on": true, "at": true, "for": true, "with": true,
	"from": true, "by": true, "about": true, "as": true, "into": true,
	"if": true, "then": true, "than": true, "so": true, "not": true,
	"no": true, "me": true, "am": true, "how": true, "what": true,
	"when": true, "where": true, "who": true, "why": true, "which": true,
	"there": true, "here": true, "all": true, "any": true, "some": true,
	"please": true, "hello": true, "hi": true, "dear": true, "thanks": true,
	"thank": true, "regards": true, "best": true,
}

var wordPattern = regexp.MustCompile(`[a-z0-9][a-z0-9'-]*`)

// extractKeywords tokenizes lowercased text and drops stop words,
// single characters and duplicates. Order of first occurrence is kept.
func extractKeywords(lower string) []string {
	words := wordPattern.FindAllString(lower, -1)

	seen := make(map[string]bool, len(words))
	var keywords []string
	for _, w := range words {
		w = strings.Trim(w, "'-")
		if len(w) < 2 || stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		keywords = append(keywords, w)
	}
	return keywords
}
