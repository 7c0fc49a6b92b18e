package matcher

import (
	"context"
	"strings"

	"personad/internal/persona"
)

// KeywordMatcher scores by the number of distinct triggers found in the query.
// A trigger that is a single word is matched against the query's token set; any
// other trigger (several words, or punctuation such as "next.js") is matched as
// a substring of the normalized query.
type KeywordMatcher struct{}

// NewKeywordMatcher returns the trigger-keyword matcher.
func NewKeywordMatcher() KeywordMatcher {
	return KeywordMatcher{}
}

// Score returns the count of distinct matched triggers.
func (m KeywordMatcher) Score(_ context.Context, query Query, def persona.Definition) float64 {
	return float64(len(m.Matched(query, def)))
}

// Matched returns the distinct triggers of def found in query, in trigger order.
func (KeywordMatcher) Matched(query Query, def persona.Definition) []string {
	if query.Text == "" {
		return nil
	}
	var matched []string
	seen := make(map[string]struct{}, len(def.Triggers))
	for _, raw := range def.Triggers {
		trigger := persona.NormalizeTrigger(raw)
		if trigger == "" {
			continue
		}
		if _, dup := seen[trigger]; dup {
			continue
		}
		seen[trigger] = struct{}{}
		if triggerMatches(query, trigger) {
			matched = append(matched, trigger)
		}
	}
	return matched
}

func triggerMatches(query Query, trigger string) bool {
	tokens := Tokenize(trigger)
	if len(tokens) == 1 && tokens[0] == trigger {
		return query.HasToken(trigger)
	}
	return strings.Contains(query.Text, trigger)
}
