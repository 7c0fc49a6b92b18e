package persona

import (
	"fmt"
	"sync"
	"sync/atomic"

	"personad/internal/shared/logging"
)

// Snapshot is an immutable view of the registered personas. Readers hold a
// snapshot for the duration of a query; reloads publish a new one.
type Snapshot struct {
	defs       []Definition
	byName     map[string]int
	generation uint64
}

func newSnapshot(defs []Definition, generation uint64) *Snapshot {
	byName := make(map[string]int, len(defs))
	for i, def := range defs {
		byName[def.Name] = i
	}
	return &Snapshot{defs: defs, byName: byName, generation: generation}
}

// All returns personas in registration order.
func (s *Snapshot) All() []Definition {
	if s == nil {
		return nil
	}
	out := make([]Definition, len(s.defs))
	for i, def := range s.defs {
		out[i] = def.Clone()
	}
	return out
}

// Get returns the persona registered under name.
func (s *Snapshot) Get(name string) (Definition, error) {
	key := NormalizeName(name)
	if s != nil {
		if idx, ok := s.byName[key]; ok {
			return s.defs[idx].Clone(), nil
		}
	}
	return Definition{}, fmt.Errorf("%w: %q", ErrNotFound, key)
}

// Len returns the number of registered personas.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.defs)
}

// Generation increases every time the registry publishes a new snapshot.
func (s *Snapshot) Generation() uint64 {
	if s == nil {
		return 0
	}
	return s.generation
}

// Registry holds the process-wide persona set as a copy-on-write snapshot.
// Reads are lock-free; writers are serialized and never mutate a published
// snapshot.
type Registry struct {
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
	logger  logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger logging.Logger) *Registry {
	r := &Registry{logger: logging.OrNop(logger)}
	r.current.Store(newSnapshot(nil, 0))
	return r
}

// Snapshot returns the currently published snapshot.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// All returns the registered personas in registration order.
func (r *Registry) All() []Definition {
	return r.Snapshot().All()
}

// Get returns a persona by name or ErrNotFound.
func (r *Registry) Get(name string) (Definition, error) {
	return r.Snapshot().Get(name)
}

// Register validates def and appends it to the registry. On error the
// published snapshot is left untouched.
func (r *Registry) Register(def Definition) error {
	normalized, err := normalize(def)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.current.Load()
	if _, exists := prev.byName[normalized.Name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateName, normalized.Name)
	}

	defs := make([]Definition, 0, len(prev.defs)+1)
	defs = append(defs, prev.defs...)
	defs = append(defs, normalized)
	r.current.Store(newSnapshot(defs, prev.generation+1))
	r.logger.Debug("registered persona %s (%d triggers)", normalized.Name, len(normalized.Triggers))
	return nil
}

// Replace validates the full set and publishes it atomically in place of the
// current one. Either every definition is accepted or nothing changes.
func (r *Registry) Replace(defs []Definition) error {
	next := make([]Definition, 0, len(defs))
	seen := make(map[string]struct{}, len(defs))
	for _, def := range defs {
		normalized, err := normalize(def)
		if err != nil {
			return err
		}
		if _, exists := seen[normalized.Name]; exists {
			return fmt.Errorf("%w: %q", ErrDuplicateName, normalized.Name)
		}
		seen[normalized.Name] = struct{}{}
		next = append(next, normalized)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.current.Load()
	r.current.Store(newSnapshot(next, prev.generation+1))
	r.logger.Info("persona registry reloaded: %d personas (generation %d)", len(next), prev.generation+1)
	return nil
}
