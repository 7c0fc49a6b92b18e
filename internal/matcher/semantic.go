package matcher

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	chromem "github.com/philippgille/chromem-go"

	"personad/internal/embedding"
	"personad/internal/persona"
	"personad/internal/shared/logging"
)

const (
	defaultSemanticThreshold = 0.35
	defaultQueryCacheSize    = 512
	personaCollection        = "personas"
)

// SemanticOptions configures a SemanticMatcher.
type SemanticOptions struct {
	// Threshold is the minimum cosine similarity that counts as a match.
	Threshold float32
	// QueryCacheSize bounds the per-query similarity cache.
	QueryCacheSize int
	Logger         logging.Logger
}

type semanticIndex struct {
	collection *chromem.Collection
	generation uint64
	cache      *lru.Cache[string, map[string]float32]
}

// SemanticMatcher scores personas by embedding similarity between the query
// and each persona's description and triggers. Index must be called with the
// registry snapshot before scoring; personas missing from the index score 0.
type SemanticMatcher struct {
	embedder  embedding.Embedder
	threshold float32
	cacheSize int
	logger    logging.Logger
	index     atomic.Pointer[semanticIndex]
}

// NewSemanticMatcher builds a matcher on top of embedder.
func NewSemanticMatcher(embedder embedding.Embedder, opts SemanticOptions) (*SemanticMatcher, error) {
	if embedder == nil {
		return nil, fmt.Errorf("semantic matcher requires an embedder")
	}
	if opts.Threshold <= 0 || opts.Threshold > 1 {
		opts.Threshold = defaultSemanticThreshold
	}
	if opts.QueryCacheSize <= 0 {
		opts.QueryCacheSize = defaultQueryCacheSize
	}
	return &SemanticMatcher{
		embedder:  embedder,
		threshold: opts.Threshold,
		cacheSize: opts.QueryCacheSize,
		logger:    logging.OrNop(opts.Logger),
	}, nil
}

// Index embeds every persona in snapshot and swaps the new index in. An index
// built from an older generation never replaces a newer one.
func (m *SemanticMatcher) Index(ctx context.Context, snapshot *persona.Snapshot) error {
	db := chromem.NewDB()
	embed := func(ctx context.Context, text string) ([]float32, error) {
		return m.embedder.Embed(ctx, text)
	}
	collection, err := db.CreateCollection(personaCollection, nil, embed)
	if err != nil {
		return fmt.Errorf("create persona collection: %w", err)
	}

	defs := snapshot.All()
	docs := make([]chromem.Document, 0, len(defs))
	for _, def := range defs {
		docs = append(docs, chromem.Document{
			ID:       def.Name,
			Content:  indexText(def),
			Metadata: map[string]string{"version": def.Version},
		})
	}
	if len(docs) > 0 {
		if err := collection.AddDocuments(ctx, docs, 4); err != nil {
			return fmt.Errorf("index personas: %w", err)
		}
	}

	cache, err := lru.New[string, map[string]float32](m.cacheSize)
	if err != nil {
		return fmt.Errorf("create query cache: %w", err)
	}
	next := &semanticIndex{
		collection: collection,
		generation: snapshot.Generation(),
		cache:      cache,
	}
	for {
		current := m.index.Load()
		if current != nil && current.generation > next.generation {
			return nil
		}
		if m.index.CompareAndSwap(current, next) {
			break
		}
	}
	m.logger.Info("semantic index built: %d personas (generation %d)", len(docs), snapshot.Generation())
	return nil
}

// Generation reports the registry generation the current index was built from.
func (m *SemanticMatcher) Generation() uint64 {
	idx := m.index.Load()
	if idx == nil {
		return 0
	}
	return idx.generation
}

// Score returns the similarity between query and def when it reaches the
// threshold, otherwise 0.
func (m *SemanticMatcher) Score(ctx context.Context, query Query, def persona.Definition) float64 {
	idx := m.index.Load()
	if idx == nil || query.Text == "" {
		return 0
	}
	sims, err := m.similarities(ctx, idx, query.Text)
	if err != nil {
		m.logger.Warn("semantic scoring failed: %v", err)
		return 0
	}
	sim, ok := sims[def.Name]
	if !ok || sim < m.threshold {
		return 0
	}
	return float64(sim)
}

func (m *SemanticMatcher) similarities(ctx context.Context, idx *semanticIndex, text string) (map[string]float32, error) {
	if cached, ok := idx.cache.Get(text); ok {
		return cached, nil
	}
	count := idx.collection.Count()
	if count == 0 {
		return map[string]float32{}, nil
	}
	results, err := idx.collection.Query(ctx, text, count, nil, nil)
	if err != nil {
		return nil, err
	}
	sims := make(map[string]float32, len(results))
	for _, res := range results {
		sims[res.ID] = res.Similarity
	}
	idx.cache.Add(text, sims)
	return sims, nil
}

func indexText(def persona.Definition) string {
	var b strings.Builder
	b.WriteString(def.Description)
	b.WriteString("\n")
	b.WriteString(strings.Join(def.Triggers, " "))
	return b.String()
}
