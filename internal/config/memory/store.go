// Package memory is an in-memory source.Store, used in tests and for
// single-process deployments that don't need durability across restarts.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tapline/internal/source"
)

// Store is a concurrency-safe, in-memory implementation of source.Store.
type Store struct {
	mu       sync.RWMutex
	sources  map[string]*source.Source
	backends map[string]*source.SourceBackend
}

var _ source.Store = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{
		sources:  make(map[string]*source.Source),
		backends: make(map[string]*source.SourceBackend),
	}
}

func (s *Store) LoadAllSources(_ context.Context) ([]*source.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*source.Source, 0, len(s.sources))
	for _, src := range s.sources {
		cp := *src
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) SaveSource(_ context.Context, src *source.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *src
	s.sources[src.ID] = &cp
	return nil
}

func (s *Store) DeleteSource(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sources, id)
	return nil
}

func (s *Store) ListBackends(_ context.Context, sourceID string) ([]*source.SourceBackend, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*source.SourceBackend
	for _, b := range s.backends {
		if b.SourceID == sourceID {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) SaveBackend(_ context.Context, b *source.SourceBackend) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	s.backends[b.ID] = &cp
	return nil
}

func (s *Store) DeleteBackend(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.backends, id)
	return nil
}

func (s *Store) TouchLogEventsUpdatedAt(_ context.Context, sourceID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[sourceID]
	if !ok {
		return fmt.Errorf("memory: source %s not found", sourceID)
	}
	src.LogEventsUpdatedAt = at
	return nil
}
