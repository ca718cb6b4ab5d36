// Package semantic defines the feature contract between EngramDB and its
// feature supplier.
//
// EngramDB never looks at raw text directly. Every observation arrives with a
// Features value already attached: tokens, keyword frequencies, concepts,
// sentiment and entities. The engine and all three indices operate purely on
// these features, which keeps ranking deterministic and explainable.
//
// The Extractor interface is the supplier side of that contract. An Extractor
// must be pure and stateless from the engine's perspective: extracting the
// same text twice yields the same Features, and extraction never depends on
// engine state.
//
// Usage:
//
//	extractor := semantic.NewNaiveExtractor()
//	feats, err := extractor.Extract("The new AI model is great")
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(feats.Concepts) // [ai model great]
package semantic

import "errors"

// ErrEmptyText is returned when extraction is attempted on empty input.
var ErrEmptyText = errors.New("semantic: empty text")

// SentimentLabel is a coarse sentiment class.
type SentimentLabel string

const (
	SentimentPositive SentimentLabel = "positive"
	SentimentNegative SentimentLabel = "negative"
	SentimentNeutral  SentimentLabel = "neutral"
)

// Keyword is a significant word with its in-text frequency.
type Keyword struct {
	Word string `json:"word"`
	Freq int    `json:"freq"`
}

// Sentiment is a bounded sentiment score with its label.
// Score is in [-1, 1]; Label is the coarse class the score falls in.
type Sentiment struct {
	Score float64        `json:"score"`
	Label SentimentLabel `json:"label"`
}

// Entity is a typed value recognized in the text, e.g. {Type: "name", Value: "Alice"}.
type Entity struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Features is the full semantic annotation of one text.
//
// Features values are treated as immutable once handed to the engine. Indices
// share the pointer; none of them mutate it.
type Features struct {
	Tokens    []string  `json:"tokens"`
	Keywords  []Keyword `json:"keywords"`
	Concepts  []string  `json:"concepts"`
	Sentiment Sentiment `json:"sentiment"`
	Entities  []Entity  `json:"entities"`
}

// KeywordSet returns the set of keyword words.
func (f *Features) KeywordSet() map[string]struct{} {
	set := make(map[string]struct{}, len(f.Keywords))
	for _, kw := range f.Keywords {
		set[kw.Word] = struct{}{}
	}
	return set
}

// ConceptSet returns the set of concepts.
func (f *Features) ConceptSet() map[string]struct{} {
	set := make(map[string]struct{}, len(f.Concepts))
	for _, c := range f.Concepts {
		set[c] = struct{}{}
	}
	return set
}

// Extractor produces semantic features from raw text.
//
// Implementations must be safe for concurrent use and must not keep state
// that affects extraction results.
type Extractor interface {
	Extract(text string) (*Features, error)
}
