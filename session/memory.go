package session

import (
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is a Store kept entirely in process memory. It backs the test
// suites of the security components and is usable as-is by embedded hosts
// that keep one store per live session.
type MemoryStore struct {
	mu      sync.Mutex
	id      string
	values  map[string]any
	flashes map[string][]any

	// DestroyedIDs records ids retired by Migrate(true) and Invalidate,
	// so callers can verify rotation happened.
	destroyed []string
}

// NewMemoryStore creates an empty store with a fresh random id.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		id:      uuid.NewString(),
		values:  make(map[string]any),
		flashes: make(map[string][]any),
	}
}

func (s *MemoryStore) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.values[name]
	return ok
}

func (s *MemoryStore) Get(name string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[name]
	return v, ok
}

func (s *MemoryStore) Set(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = value
}

func (s *MemoryStore) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, name)
}

func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = make(map[string]any)
	s.flashes = make(map[string][]any)
}

func (s *MemoryStore) Invalidate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed = append(s.destroyed, s.id)
	s.id = uuid.NewString()
	s.values = make(map[string]any)
	s.flashes = make(map[string][]any)
	return nil
}

func (s *MemoryStore) Migrate(destroy bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if destroy {
		s.destroyed = append(s.destroyed, s.id)
	}
	s.id = uuid.NewString()
	return nil
}

func (s *MemoryStore) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *MemoryStore) AddFlash(flashType string, message any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flashes[flashType] = append(s.flashes[flashType], message)
}

func (s *MemoryStore) Flashes(flashType string) []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.flashes[flashType]
	delete(s.flashes, flashType)
	return out
}

// DestroyedIDs returns the ids retired by Migrate(true) and Invalidate since
// the store was created.
func (s *MemoryStore) DestroyedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.destroyed))
	copy(out, s.destroyed)
	return out
}
