package semantic

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// stopwords excluded from keywords and concepts. Deliberately small; the
// naive extractor aims for determinism, not linguistic coverage.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"be": {}, "been": {}, "to": {}, "of": {}, "in": {}, "on": {}, "at": {},
	"and": {}, "or": {}, "but": {}, "it": {}, "its": {}, "this": {}, "that": {},
	"i": {}, "you": {}, "he": {}, "she": {}, "we": {}, "they": {}, "my": {},
	"for": {}, "with": {}, "as": {}, "by": {}, "from": {}, "so": {}, "not": {},
	"do": {}, "does": {}, "did": {}, "have": {}, "has": {}, "had": {},
}

// Small polarity lexicons for heuristic sentiment.
var (
	positiveWords = map[string]struct{}{
		"love": {}, "great": {}, "good": {}, "excellent": {}, "amazing": {},
		"happy": {}, "best": {}, "wonderful": {}, "like": {}, "fast": {},
		"helpful": {}, "nice": {}, "enjoy": {}, "awesome": {},
	}
	negativeWords = map[string]struct{}{
		"hate": {}, "bad": {}, "terrible": {}, "awful": {}, "slow": {},
		"worst": {}, "horrible": {}, "sad": {}, "angry": {}, "broken": {},
		"dislike": {}, "annoying": {}, "useless": {}, "wrong": {},
	}
)

// NaiveExtractor is the built-in deterministic feature supplier.
//
// It tokenizes on non-alphanumeric boundaries, lowercases everything, counts
// keyword frequencies after stopword removal, takes the keyword set as the
// concept set, scores sentiment from a small polarity lexicon, and guesses
// "name" entities from capitalization. No learned models, no randomness:
// extracting the same text always produces the same Features.
//
// Production deployments typically substitute a richer Extractor; the engine
// only depends on the interface.
type NaiveExtractor struct{}

// NewNaiveExtractor returns the built-in extractor.
func NewNaiveExtractor() *NaiveExtractor {
	return &NaiveExtractor{}
}

// Extract implements Extractor.
func (e *NaiveExtractor) Extract(text string) (*Features, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	rawTokens := tokenize(text)

	tokens := make([]string, 0, len(rawTokens))
	freq := make(map[string]int)
	for _, tok := range rawTokens {
		lower := strings.ToLower(tok)
		tokens = append(tokens, lower)
		if _, stop := stopwords[lower]; stop {
			continue
		}
		if len(lower) < 2 {
			continue
		}
		freq[lower]++
	}

	// Sorted for deterministic output order.
	words := make([]string, 0, len(freq))
	for w := range freq {
		words = append(words, w)
	}
	sort.Strings(words)

	keywords := make([]Keyword, 0, len(words))
	for _, w := range words {
		keywords = append(keywords, Keyword{Word: w, Freq: freq[w]})
	}

	// Concepts are the keyword set. A heavier supplier would collapse
	// synonyms and phrases here; the naive one keeps word granularity.
	concepts := make([]string, len(words))
	copy(concepts, words)

	entities := extractEntities(rawTokens)

	return &Features{
		Tokens:    tokens,
		Keywords:  keywords,
		Concepts:  concepts,
		Sentiment: scoreSentiment(tokens),
		Entities:  entities,
	}, nil
}

// tokenize splits text on any non-letter, non-digit rune.
func tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// scoreSentiment counts polarity hits and normalizes by token count.
func scoreSentiment(tokens []string) Sentiment {
	if len(tokens) == 0 {
		return Sentiment{Label: SentimentNeutral}
	}

	score := 0.0
	for _, tok := range tokens {
		if _, ok := positiveWords[tok]; ok {
			score++
		} else if _, ok := negativeWords[tok]; ok {
			score--
		}
	}
	score /= float64(len(tokens))
	if score > 1 {
		score = 1
	}
	if score < -1 {
		score = -1
	}

	label := SentimentNeutral
	switch {
	case score > 0.01:
		label = SentimentPositive
	case score < -0.01:
		label = SentimentNegative
	}

	return Sentiment{Score: score, Label: label}
}

// extractEntities treats capitalized non-sentence-initial tokens as names.
func extractEntities(rawTokens []string) []Entity {
	var entities []Entity
	seen := make(map[string]struct{})

	for i, tok := range rawTokens {
		if i == 0 || len(tok) < 2 {
			continue
		}
		first, _ := utf8.DecodeRuneInString(tok)
		if !unicode.IsUpper(first) {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		entities = append(entities, Entity{Type: "name", Value: tok})
	}

	return entities
}
