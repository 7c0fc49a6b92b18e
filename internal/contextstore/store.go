// Package contextstore provides the context documents attached to activated
// personas. The resolver only ever holds identifiers; a Store turns them into
// documents at activation time.
package contextstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
)

// ErrContextNotFound is returned by Fetch when an identifier is unknown.
var ErrContextNotFound = errors.New("context: not found")

// Document is a resolved context document.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]string
}

func (d Document) clone() Document {
	out := d
	if d.Metadata != nil {
		out.Metadata = make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// Store fetches context documents by identifier.
type Store interface {
	Fetch(ctx context.Context, id string) (Document, error)
}

// NotFound wraps ErrContextNotFound with the identifier.
func NotFound(id string) error {
	return fmt.Errorf("%w: %q", ErrContextNotFound, id)
}

// ValidateID rejects identifiers that are blank or would escape a store root.
func ValidateID(id string) error {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return fmt.Errorf("context id is blank")
	}
	if strings.HasPrefix(trimmed, "/") || strings.Contains(trimmed, "\\") {
		return fmt.Errorf("context id %q must be relative", id)
	}
	cleaned := path.Clean(trimmed)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return fmt.Errorf("context id %q escapes the store root", id)
	}
	return nil
}

// MemoryStore is an in-process Store, safe for concurrent use.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]Document
}

// NewMemoryStore creates a store seeded with docs.
func NewMemoryStore(docs ...Document) *MemoryStore {
	s := &MemoryStore{docs: make(map[string]Document, len(docs))}
	for _, doc := range docs {
		s.Put(doc)
	}
	return s
}

// Put adds or replaces a document.
func (s *MemoryStore) Put(doc Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = doc.clone()
}

// Delete removes a document.
func (s *MemoryStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
}

func (s *MemoryStore) Fetch(ctx context.Context, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return Document{}, NotFound(id)
	}
	return doc.clone(), nil
}
