package matcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"personad/internal/embedding"
	"personad/internal/persona"
)

func frontend() persona.Definition {
	return persona.Definition{
		Name:        "frontend-developer",
		Description: "Builds React UI components",
		Triggers:    []string{"react", "component", "tailwind"},
	}
}

func backend() persona.Definition {
	return persona.Definition{
		Name:        "backend-developer",
		Description: "SQL database query optimization",
		Triggers:    []string{"sql", "postgres", "index"},
	}
}

func TestKeywordScore(t *testing.T) {
	m := NewKeywordMatcher()
	tests := []struct {
		name     string
		query    string
		triggers []string
		want     float64
	}{
		{name: "all three triggers", query: "please build a react component with tailwind", triggers: []string{"react", "component", "tailwind"}, want: 3},
		{name: "no triggers", query: "optimize my sql query", triggers: []string{"react", "component", "tailwind"}, want: 0},
		{name: "case insensitive", query: "Build A REACT app", triggers: []string{"react"}, want: 1},
		{name: "repeated trigger counts once", query: "react react react", triggers: []string{"react"}, want: 1},
		{name: "single word needs whole token", query: "reactive streams", triggers: []string{"react"}, want: 0},
		{name: "punctuation is a word boundary", query: "fix the (react) bug.", triggers: []string{"react"}, want: 1},
		{name: "phrase as substring", query: "update the  Design   System tokens", triggers: []string{"design system"}, want: 1},
		{name: "phrase missing", query: "design a new system", triggers: []string{"design system"}, want: 0},
		{name: "dotted trigger is a substring match", query: "migrate to next.js 14", triggers: []string{"next.js"}, want: 1},
		{name: "hyphenated trigger", query: "front-end cleanup", triggers: []string{"front-end"}, want: 1},
		{name: "duplicate triggers in definition", query: "react", triggers: []string{"react", "React"}, want: 1},
		{name: "empty query", query: "   ", triggers: []string{"react"}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := persona.Definition{Name: "p", Triggers: tt.triggers}
			got := m.Score(context.Background(), NewQuery(tt.query), def)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKeywordMatchedListsTriggersInOrder(t *testing.T) {
	matched := NewKeywordMatcher().Matched(NewQuery("Tailwind styling for a React component"), frontend())
	assert.Equal(t, []string{"react", "component", "tailwind"}, matched)
}

func TestNewQueryNormalizes(t *testing.T) {
	q := NewQuery("  Build\tA  React\nApp ")
	assert.Equal(t, "build a react app", q.Text)
	assert.True(t, q.HasToken("react"))
	assert.False(t, q.HasToken("React"))
}

func TestSemanticMatcherScoresBySimilarity(t *testing.T) {
	reg := persona.NewRegistry(nil)
	require.NoError(t, reg.Register(frontend()))
	require.NoError(t, reg.Register(backend()))

	m, err := NewSemanticMatcher(embedding.NewHashEmbedder(1024), SemanticOptions{})
	require.NoError(t, err)

	q := NewQuery("optimize my sql query")
	assert.Zero(t, m.Score(context.Background(), q, backend()), "unindexed matcher scores zero")

	require.NoError(t, m.Index(context.Background(), reg.Snapshot()))
	assert.Equal(t, reg.Snapshot().Generation(), m.Generation())

	back, _ := reg.Get("backend-developer")
	front, _ := reg.Get("frontend-developer")
	assert.Greater(t, m.Score(context.Background(), q, back), 0.35)
	assert.Zero(t, m.Score(context.Background(), q, front))
}

func TestSemanticMatcherUnknownPersonaScoresZero(t *testing.T) {
	reg := persona.NewRegistry(nil)
	require.NoError(t, reg.Register(backend()))

	m, err := NewSemanticMatcher(embedding.NewHashEmbedder(1024), SemanticOptions{Threshold: 0.1})
	require.NoError(t, err)
	require.NoError(t, m.Index(context.Background(), reg.Snapshot()))

	stranger := persona.Definition{Name: "stranger", Triggers: []string{"sql"}}
	assert.Zero(t, m.Score(context.Background(), NewQuery("sql"), stranger))
}

func TestSemanticMatcherEmptyRegistry(t *testing.T) {
	m, err := NewSemanticMatcher(embedding.NewHashEmbedder(64), SemanticOptions{})
	require.NoError(t, err)
	require.NoError(t, m.Index(context.Background(), persona.NewRegistry(nil).Snapshot()))
	assert.Zero(t, m.Score(context.Background(), NewQuery("anything"), backend()))
}

func TestNewSemanticMatcherRequiresEmbedder(t *testing.T) {
	_, err := NewSemanticMatcher(nil, SemanticOptions{})
	assert.Error(t, err)
}
