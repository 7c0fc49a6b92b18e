// Package composer resolves a persona's default context identifiers into
// documents. Individual failures are recorded and omitted; only cancellation
// of the caller's context aborts a composition.
package composer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"personad/internal/contextstore"
	"personad/internal/observability"
	"personad/internal/shared/logging"
)

const (
	DefaultFetchTimeout = 2 * time.Second
	DefaultConcurrency  = 8
)

// Reason classifies why a context document was omitted.
type Reason string

const (
	ReasonNotFound Reason = "not_found"
	ReasonTimeout  Reason = "timeout"
	ReasonError    Reason = "error"
)

// Failure describes one identifier that could not be resolved. Err always
// satisfies errors.Is(err, contextstore.ErrContextNotFound).
type Failure struct {
	ID     string
	Reason Reason
	Err    error
}

func (f Failure) Error() string {
	return fmt.Sprintf("context %q (%s): %v", f.ID, f.Reason, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// Composition is the outcome of resolving a list of identifiers. Documents
// keep the order of the requested identifiers.
type Composition struct {
	Documents []contextstore.Document
	Failures  []Failure
}

// FailedIDs lists the identifiers that were omitted.
func (c Composition) FailedIDs() []string {
	if len(c.Failures) == 0 {
		return nil
	}
	ids := make([]string, len(c.Failures))
	for i, f := range c.Failures {
		ids[i] = f.ID
	}
	return ids
}

// Recorder receives per-fetch outcomes. *observability.ContextMetrics
// satisfies it.
type Recorder interface {
	RecordFetch(ok bool, seconds float64)
	RecordFailure(reason string)
}

type noopRecorder struct{}

func (noopRecorder) RecordFetch(bool, float64) {}
func (noopRecorder) RecordFailure(string)      {}

// Options configures a Composer. Zero values select the defaults.
type Options struct {
	FetchTimeout time.Duration
	Concurrency  int
	Metrics      Recorder
	Tracer       *observability.TracerProvider
	Logger       logging.Logger
}

// Composer fans context fetches out to a Store.
type Composer struct {
	store        contextstore.Store
	fetchTimeout time.Duration
	concurrency  int
	metrics      Recorder
	tracer       *observability.TracerProvider
	logger       logging.Logger
}

// New creates a Composer backed by store.
func New(store contextstore.Store, opts Options) (*Composer, error) {
	if store == nil {
		return nil, errors.New("composer requires a context store")
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Metrics == nil {
		opts.Metrics = noopRecorder{}
	}
	return &Composer{
		store:        store,
		fetchTimeout: opts.FetchTimeout,
		concurrency:  opts.Concurrency,
		metrics:      opts.Metrics,
		tracer:       opts.Tracer,
		logger:       logging.OrNop(opts.Logger),
	}, nil
}

type slot struct {
	doc     contextstore.Document
	failure *Failure
}

// Resolve fetches every identifier concurrently, bounded by the configured
// concurrency. Repeated identifiers are fetched once and reported at their
// first position. If ctx is cancelled, Resolve returns ctx.Err() and no
// partial composition.
func (c *Composer) Resolve(ctx context.Context, ids []string) (Composition, error) {
	if err := ctx.Err(); err != nil {
		return Composition{}, err
	}
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return Composition{}, nil
	}

	ctx, span := c.tracer.StartSpan(ctx, observability.SpanComposerResolve,
		attribute.StringSlice(observability.AttrContextIDs, ids))
	defer span.End()

	slots := make([]slot, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			start := time.Now()
			doc, err := c.fetch(gctx, id)
			c.metrics.RecordFetch(err == nil, time.Since(start).Seconds())
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				failure := classify(id, err)
				slots[i] = slot{failure: &failure}
				return nil // omitted, not fatal
			}
			slots[i] = slot{doc: doc}
			return nil
		})
	}

	if err := g.Wait(); err != nil || ctx.Err() != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		observability.RecordError(span, err)
		return Composition{}, err
	}

	var out Composition
	for _, s := range slots {
		if s.failure != nil {
			c.metrics.RecordFailure(string(s.failure.Reason))
			c.logger.Warn("context %q omitted (%s): %v", s.failure.ID, s.failure.Reason, s.failure.Err)
			out.Failures = append(out.Failures, *s.failure)
			continue
		}
		out.Documents = append(out.Documents, s.doc)
	}
	span.SetAttributes(attribute.Int(observability.AttrFailures, len(out.Failures)))
	return out, nil
}

// fetch bounds a single store call by the fetch timeout, even when the store
// ignores its context.
func (c *Composer) fetch(ctx context.Context, id string) (contextstore.Document, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	type result struct {
		doc contextstore.Document
		err error
	}
	done := make(chan result, 1)
	go func() {
		doc, err := c.store.Fetch(fetchCtx, id)
		done <- result{doc: doc, err: err}
	}()

	select {
	case r := <-done:
		return r.doc, r.err
	case <-fetchCtx.Done():
		return contextstore.Document{}, fetchCtx.Err()
	}
}

func classify(id string, err error) Failure {
	reason := ReasonError
	switch {
	case errors.Is(err, contextstore.ErrContextNotFound):
		reason = ReasonNotFound
	case errors.Is(err, context.DeadlineExceeded):
		reason = ReasonTimeout
	}
	if !errors.Is(err, contextstore.ErrContextNotFound) {
		err = fmt.Errorf("%w: %q: %w", contextstore.ErrContextNotFound, id, err)
	}
	return Failure{ID: id, Reason: reason, Err: err}
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
