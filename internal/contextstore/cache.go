package contextstore

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	defaultCacheMaxSize = 256
	defaultCacheTTL     = 5 * time.Minute
)

// CacheConfig configures the document cache.
type CacheConfig struct {
	// MaxSize is the maximum number of entries in the LRU cache.
	MaxSize int
	// TTL is how long a cached document remains valid.
	TTL time.Duration
}

// CacheRecorder receives cache hit/miss notifications.
type CacheRecorder interface {
	RecordCacheResult(hit bool)
}

type cacheEntry struct {
	doc      Document
	storedAt time.Time
}

// CachedStore wraps a Store with an LRU cache of successful fetches. Failures
// (including not-found) are never cached.
type CachedStore struct {
	delegate Store
	cache    *lru.Cache[string, cacheEntry]
	ttl      time.Duration
	recorder CacheRecorder
	now      func() time.Time
}

// NewCachedStore wraps delegate. Zero config values fall back to defaults.
// recorder may be nil.
func NewCachedStore(delegate Store, config CacheConfig, recorder CacheRecorder) (*CachedStore, error) {
	if delegate == nil {
		return nil, fmt.Errorf("cached store requires a delegate")
	}
	if config.MaxSize <= 0 {
		config.MaxSize = defaultCacheMaxSize
	}
	if config.TTL <= 0 {
		config.TTL = defaultCacheTTL
	}
	cache, err := lru.New[string, cacheEntry](config.MaxSize)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return &CachedStore{
		delegate: delegate,
		cache:    cache,
		ttl:      config.TTL,
		recorder: recorder,
		now:      time.Now,
	}, nil
}

func (s *CachedStore) Fetch(ctx context.Context, id string) (Document, error) {
	if entry, ok := s.cache.Get(id); ok {
		if s.now().Sub(entry.storedAt) < s.ttl {
			s.record(true)
			return entry.doc.clone(), nil
		}
		s.cache.Remove(id)
	}
	s.record(false)

	doc, err := s.delegate.Fetch(ctx, id)
	if err != nil {
		return Document{}, err
	}
	s.cache.Add(id, cacheEntry{doc: doc.clone(), storedAt: s.now()})
	return doc, nil
}

// Purge drops every cached document.
func (s *CachedStore) Purge() {
	s.cache.Purge()
}

// Len returns the number of cached documents.
func (s *CachedStore) Len() int {
	return s.cache.Len()
}

func (s *CachedStore) record(hit bool) {
	if s.recorder != nil {
		s.recorder.RecordCacheResult(hit)
	}
}
