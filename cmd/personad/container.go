package main

import (
	"context"
	"errors"
	"fmt"

	"personad/internal/composer"
	"personad/internal/config"
	"personad/internal/contextstore"
	"personad/internal/embedding"
	"personad/internal/matcher"
	"personad/internal/observability"
	"personad/internal/persona"
	"personad/internal/resolver"
	"personad/internal/shared/logging"
)

// Container holds the wired components for one CLI invocation.
type Container struct {
	Config   config.Config
	Registry *persona.Registry
	Resolver *resolver.Resolver
	Store    contextstore.Store
	Metrics  *observability.MetricsCollector
	Tracer   *observability.TracerProvider
	Logger   logging.Logger

	closers []func(context.Context) error
}

func buildContainer(cfg config.Config) (*Container, error) {
	c := &Container{Config: cfg, Logger: logging.NewComponentLogger("personad")}

	if err := c.build(); err != nil {
		_ = c.Cleanup(context.Background())
		return nil, err
	}
	return c, nil
}

func (c *Container) build() error {
	cfg := c.Config

	metrics, err := observability.NewMetricsCollector(cfg.Observability.Metrics, logging.NewComponentLogger("metrics"))
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	c.Metrics = metrics
	c.closers = append(c.closers, metrics.Shutdown)

	tracer, err := observability.NewTracerProvider(cfg.Observability.Tracing)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	c.Tracer = tracer
	c.closers = append(c.closers, tracer.Shutdown)

	var contextMetrics *observability.ContextMetrics
	if cfg.Observability.Metrics.Enabled {
		contextMetrics = observability.NewContextMetrics()
	}

	c.Registry = persona.NewRegistry(logging.NewComponentLogger("registry"))
	if err := c.Registry.LoadDir(cfg.Personas.Dir); err != nil {
		return fmt.Errorf("load personas: %w", err)
	}

	store, err := c.buildStore(contextMetrics)
	if err != nil {
		return err
	}
	c.Store = store

	composerOpts := composer.Options{
		FetchTimeout: cfg.Context.FetchTimeout,
		Concurrency:  cfg.Context.Concurrency,
		Tracer:       tracer,
		Logger:       logging.NewComponentLogger("composer"),
	}
	if contextMetrics != nil {
		composerOpts.Metrics = contextMetrics
	}
	comp, err := composer.New(store, composerOpts)
	if err != nil {
		return err
	}

	m, err := c.buildMatcher()
	if err != nil {
		return err
	}

	c.Resolver, err = resolver.New(c.Registry, comp, resolver.Options{
		Matcher:            m,
		DefaultMaxPersonas: cfg.Resolver.MaxPersonas,
		Metrics:            metrics,
		Tracer:             tracer,
		Logger:             logging.NewComponentLogger("resolver"),
	})
	return err
}

func (c *Container) buildStore(recorder *observability.ContextMetrics) (contextstore.Store, error) {
	cfg := c.Config.Context

	var base contextstore.Store
	switch cfg.Backend {
	case "file":
		base = contextstore.NewFileStore(cfg.BaseURL, cfg.Extension)
	case "redis":
		client := contextstore.NewRedisClient(cfg.RedisAddr, "", 0)
		c.closers = append(c.closers, func(context.Context) error { return client.Close() })
		base = contextstore.NewRedisStore(client, cfg.RedisPrefix)
	default:
		return nil, fmt.Errorf("unsupported context backend %q", cfg.Backend)
	}

	if cfg.CacheSize <= 0 {
		return base, nil
	}
	var cacheRecorder contextstore.CacheRecorder
	if recorder != nil {
		cacheRecorder = recorder
	}
	return contextstore.NewCachedStore(base, contextstore.CacheConfig{
		MaxSize: cfg.CacheSize,
		TTL:     cfg.CacheTTL,
	}, cacheRecorder)
}

func (c *Container) buildMatcher() (matcher.Matcher, error) {
	cfg := c.Config
	if cfg.Resolver.Matcher != "semantic" {
		return matcher.NewKeywordMatcher(), nil
	}

	var embedder embedding.Embedder
	if cfg.Embedding.BaseURL == "" {
		embedder = embedding.NewHashEmbedder(cfg.Embedding.Dimensions)
	} else {
		var err error
		embedder, err = embedding.NewHTTPEmbedder(embedding.Config{
			Model:      cfg.Embedding.Model,
			APIKey:     cfg.Embedding.APIKey,
			BaseURL:    cfg.Embedding.BaseURL,
			CacheSize:  cfg.Embedding.CacheSize,
			Dimensions: cfg.Embedding.Dimensions,
		})
		if err != nil {
			return nil, fmt.Errorf("embedding: %w", err)
		}
	}
	return matcher.NewSemanticMatcher(embedder, matcher.SemanticOptions{
		Threshold: float32(cfg.Resolver.SemanticThreshold),
		Logger:    logging.NewComponentLogger("matcher"),
	})
}

// StartWatcher reloads the registry when definition files change. The watcher
// stops with ctx or on Cleanup.
func (c *Container) StartWatcher(ctx context.Context) (*persona.Watcher, error) {
	w, err := persona.NewWatcher(c.Registry, c.Config.Personas.Dir, c.Config.Personas.Debounce,
		logging.NewComponentLogger("watcher"))
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	c.closers = append(c.closers, func(context.Context) error { w.Stop(); return nil })
	return w, nil
}

// Cleanup releases resources in reverse order of acquisition.
func (c *Container) Cleanup(ctx context.Context) error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i](ctx))
	}
	c.closers = nil
	return errors.Join(errs...)
}
