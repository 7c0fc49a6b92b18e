// Package resolver selects the personas that apply to a task and attaches
// their context documents.
package resolver

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"personad/internal/composer"
	"personad/internal/contextstore"
	"personad/internal/matcher"
	"personad/internal/observability"
	"personad/internal/persona"
	"personad/internal/shared/logging"
)

// Query is one activation request.
type Query struct {
	Task string
	// ForcedPersona bypasses matching when set. Blank values are ignored.
	ForcedPersona string
	// MaxPersonas truncates the ranked matches; zero or negative means unlimited.
	MaxPersonas int
}

// Activation is one selected persona with its resolved context.
type Activation struct {
	Persona         persona.Definition
	Score           float64
	MatchedTriggers []string
	Context         []contextstore.Document
	ContextFailures []composer.Failure
}

// Result is the outcome of Activate. An empty result means nothing matched.
type Result struct {
	Activations []Activation
	// Generation is the registry snapshot the result was computed from.
	Generation uint64
}

// Empty reports whether no persona was activated.
func (r Result) Empty() bool { return len(r.Activations) == 0 }

// Names lists activated personas in rank order.
func (r Result) Names() []string {
	names := make([]string, len(r.Activations))
	for i, a := range r.Activations {
		names[i] = a.Persona.Name
	}
	return names
}

// ContextResolver turns context ids into documents. *composer.Composer
// satisfies it.
type ContextResolver interface {
	Resolve(ctx context.Context, ids []string) (composer.Composition, error)
}

// indexer is implemented by matchers that must be rebuilt when the registry
// publishes a new snapshot.
type indexer interface {
	Index(ctx context.Context, snapshot *persona.Snapshot) error
	Generation() uint64
}

// Options configures a Resolver.
type Options struct {
	// Matcher defaults to the keyword matcher.
	Matcher matcher.Matcher
	// DefaultMaxPersonas applies when a query leaves MaxPersonas unset.
	DefaultMaxPersonas int
	Metrics            *observability.MetricsCollector
	Tracer             *observability.TracerProvider
	Logger             logging.Logger
}

// Resolver is safe for concurrent use; it keeps no per-query state.
type Resolver struct {
	registry   *persona.Registry
	contexts   ContextResolver
	matcher    matcher.Matcher
	keywords   matcher.KeywordMatcher
	maxDefault int
	metrics    *observability.MetricsCollector
	tracer     *observability.TracerProvider
	logger     logging.Logger

	// indexing coalesces matcher rebuilds per registry generation.
	indexing singleflight.Group
	// failedIndex holds generation+1 of the last rebuild that failed.
	failedIndex atomic.Uint64
}

// New creates a Resolver over registry and contexts.
func New(registry *persona.Registry, contexts ContextResolver, opts Options) (*Resolver, error) {
	if registry == nil {
		return nil, errors.New("resolver requires a persona registry")
	}
	if contexts == nil {
		return nil, errors.New("resolver requires a context resolver")
	}
	if opts.Matcher == nil {
		opts.Matcher = matcher.NewKeywordMatcher()
	}
	return &Resolver{
		registry:   registry,
		contexts:   contexts,
		matcher:    opts.Matcher,
		keywords:   matcher.NewKeywordMatcher(),
		maxDefault: opts.DefaultMaxPersonas,
		metrics:    opts.Metrics,
		tracer:     opts.Tracer,
		logger:     logging.OrNop(opts.Logger),
	}, nil
}

type candidate struct {
	def   persona.Definition
	score float64
	order int
}

// Activate runs the activation pipeline against the current registry
// snapshot. A forced persona that is not registered returns
// persona.ErrNotFound. Cancellation returns ctx.Err() and no partial result.
func (r *Resolver) Activate(ctx context.Context, q Query) (Result, error) {
	start := time.Now()
	q.ForcedPersona = strings.TrimSpace(q.ForcedPersona)
	mode := observability.ModeMatched
	if q.ForcedPersona != "" {
		mode = observability.ModeForced
	}
	maxPersonas := q.MaxPersonas
	if maxPersonas <= 0 {
		maxPersonas = r.maxDefault
	}

	ctx, span := r.tracer.StartSpan(ctx, observability.SpanResolverActivate,
		observability.ActivationAttrs(len(q.Task), q.ForcedPersona, maxPersonas)...)
	defer span.End()

	result, failures, err := r.activate(ctx, q, maxPersonas)

	outcome := observability.OutcomeHit
	switch {
	case err != nil:
		outcome = observability.OutcomeError
		observability.RecordError(span, err)
	case result.Empty():
		outcome = observability.OutcomeEmpty
	}
	span.SetAttributes(
		attribute.Int(observability.AttrPersonaCount, len(result.Activations)),
		attribute.Int64(observability.AttrGeneration, int64(result.Generation)),
	)
	r.metrics.RecordActivation(ctx, mode, outcome, len(result.Activations), failures, time.Since(start))

	if err != nil {
		return Result{}, err
	}
	return result, nil
}

func (r *Resolver) activate(ctx context.Context, q Query, maxPersonas int) (Result, int, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, 0, err
	}
	snapshot := r.registry.Snapshot()
	query := matcher.NewQuery(q.Task)

	var selected []candidate
	if q.ForcedPersona != "" {
		def, err := snapshot.Get(q.ForcedPersona)
		if err != nil {
			return Result{}, 0, err
		}
		r.ensureIndexed(ctx, snapshot)
		selected = []candidate{{def: def, score: r.matcher.Score(ctx, query, def)}}
	} else {
		r.ensureIndexed(ctx, snapshot)
		selected = r.rank(ctx, snapshot, query)
		if maxPersonas > 0 && len(selected) > maxPersonas {
			selected = selected[:maxPersonas]
		}
	}
	if err := ctx.Err(); err != nil {
		return Result{}, 0, err
	}

	activations, failures, err := r.compose(ctx, query, selected)
	if err != nil {
		return Result{}, 0, err
	}
	return Result{Activations: activations, Generation: snapshot.Generation()}, failures, nil
}

// rank scores every persona, drops non-matches and orders by score with
// registration order breaking ties.
func (r *Resolver) rank(ctx context.Context, snapshot *persona.Snapshot, query matcher.Query) []candidate {
	var out []candidate
	for i, def := range snapshot.All() {
		score := r.matcher.Score(ctx, query, def)
		if score <= 0 {
			continue
		}
		out = append(out, candidate{def: def, score: score, order: i})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].order < out[j].order
	})
	return out
}

// compose resolves every selected persona's context concurrently.
func (r *Resolver) compose(ctx context.Context, query matcher.Query, selected []candidate) ([]Activation, int, error) {
	if len(selected) == 0 {
		return nil, 0, nil
	}
	activations := make([]Activation, len(selected))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range selected {
		i, c := i, c
		g.Go(func() error {
			composition, err := r.contexts.Resolve(gctx, c.def.DefaultContext)
			if err != nil {
				return err
			}
			activations[i] = Activation{
				Persona:         c.def,
				Score:           c.score,
				MatchedTriggers: r.keywords.Matched(query, c.def),
				Context:         composition.Documents,
				ContextFailures: composition.Failures,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		return nil, 0, err
	}

	failures := 0
	for _, a := range activations {
		failures += len(a.ContextFailures)
	}
	return activations, failures, nil
}

// ensureIndexed rebuilds an indexing matcher at most once per registry
// generation. Concurrent callers share one build and a failed generation is
// not retried; the next published generation gets a fresh attempt.
func (r *Resolver) ensureIndexed(ctx context.Context, snapshot *persona.Snapshot) {
	idx, ok := r.matcher.(indexer)
	if !ok {
		return
	}
	gen := snapshot.Generation()
	settled := func() bool {
		return idx.Generation() >= gen || r.failedIndex.Load() == gen+1
	}
	if settled() {
		return
	}
	_, _, _ = r.indexing.Do(strconv.FormatUint(gen, 10), func() (any, error) {
		if settled() {
			return nil, nil
		}
		// The build is shared, so one caller's cancellation must not fail it.
		if err := idx.Index(context.WithoutCancel(ctx), snapshot); err != nil {
			r.failedIndex.Store(gen + 1)
			r.logger.Warn("matcher index rebuild for generation %d failed: %v", gen, err)
			return nil, err
		}
		return nil, nil
	})
}
