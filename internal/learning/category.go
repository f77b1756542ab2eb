package learning

import (
	"strings"

	"github.com/example/hybridplanner/internal/domain"
)

const categoryWords = 3

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "to": true, "for": true, "in": true,
	"on": true, "of": true, "and": true, "or": true, "at": true, "by": true,
	"from": true, "with": true, "into": true, "me": true, "my": true, "i": true,
	"please": true, "can": true, "could": true, "you": true, "some": true,
}

// Categorize groups intents by their first few content words, so that
// "Book a trip to Rome" and "book trip rome next week" share lessons.
func Categorize(intent string) string {
	var words []string
	for _, w := range strings.Fields(domain.NormalizeIntent(intent)) {
		w = strings.Trim(w, ".,;:!?\"'()")
		if w == "" || stopWords[w] {
			continue
		}
		words = append(words, w)
		if len(words) == categoryWords {
			break
		}
	}
	return strings.Join(words, " ")
}
