// Package matcher scores task descriptions against persona definitions.
//
// Matcher is the extension point for matching strategies: KeywordMatcher
// implements the trigger rules (distinct triggers matched, case-insensitive),
// SemanticMatcher scores by embedding similarity. A score of zero means "does
// not match".
package matcher

import (
	"context"
	"strings"
	"unicode"

	"personad/internal/persona"
)

// Matcher scores one query against one persona.
type Matcher interface {
	Score(ctx context.Context, query Query, def persona.Definition) float64
}

// Query is a normalized task description. Build it once per activation with
// NewQuery and score it against every persona.
type Query struct {
	// Raw is the task text as given by the caller.
	Raw string
	// Text is lowercased with whitespace runs collapsed to single spaces.
	Text string

	tokens map[string]struct{}
}

// NewQuery normalizes and tokenizes text.
func NewQuery(text string) Query {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	tokens := Tokenize(normalized)
	set := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		set[tok] = struct{}{}
	}
	return Query{Raw: text, Text: normalized, tokens: set}
}

// HasToken reports whether token occurs as a whole word in the query.
func (q Query) HasToken(token string) bool {
	_, ok := q.tokens[token]
	return ok
}

// Tokenize splits lowercased text on word boundaries (anything that is not a
// letter or digit).
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
