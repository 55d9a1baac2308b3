package source

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tapline/internal/backend"
	"tapline/internal/event"
	"tapline/internal/logging"
)

// Registry is the in-memory catalog of active Sources. Get and
// GetByToken are fully in-memory and fast; Put queues its save for
// async persistence so the ingest hot path never blocks on the store —
// the same shape as the teacher's source.Registry.persistLoop.
type Registry struct {
	mu sync.RWMutex

	byID    map[string]*Source
	byToken map[event.SourceToken]*Source

	store     Store
	persistCh chan *Source
	stopCh    chan struct{}
	stopOnce  sync.Once
	persistWg sync.WaitGroup

	logger *slog.Logger
}

// Config configures a Registry.
type Config struct {
	// Store for persistence. If nil, sources are not persisted.
	Store Store

	// PersistQueueSize is the buffer size for the async persist queue.
	// Defaults to 1000.
	PersistQueueSize int

	Logger *slog.Logger
}

// NewRegistry creates a Registry and, if a Store is configured, loads
// existing sources from it and compiles their rules/drop expressions.
func NewRegistry(ctx context.Context, cfg Config) (*Registry, error) {
	if cfg.PersistQueueSize <= 0 {
		cfg.PersistQueueSize = 1000
	}

	logger := logging.Default(cfg.Logger).With("component", "source-registry")

	r := &Registry{
		byID:      make(map[string]*Source),
		byToken:   make(map[event.SourceToken]*Source),
		store:     cfg.Store,
		persistCh: make(chan *Source, cfg.PersistQueueSize),
		stopCh:    make(chan struct{}),
		logger:    logger,
	}

	if cfg.Store != nil {
		sources, err := cfg.Store.LoadAllSources(ctx)
		if err != nil {
			return nil, fmt.Errorf("source: load sources: %w", err)
		}
		for _, src := range sources {
			if err := src.Compile(); err != nil {
				logger.Warn("skipping source with invalid rules", "source_id", src.ID, "error", err)
				continue
			}
			r.byID[src.ID] = src
			r.byToken[src.Token] = src
		}

		r.persistWg.Go(r.persistLoop)
	}

	return r, nil
}

// Put inserts or replaces a Source in the in-memory catalog, compiling its
// rules first, and queues it for persistence.
func (r *Registry) Put(src *Source) error {
	if err := src.Compile(); err != nil {
		return fmt.Errorf("source: compile %s: %w", src.ID, err)
	}

	r.mu.Lock()
	r.byID[src.ID] = src
	r.byToken[src.Token] = src
	r.mu.Unlock()

	r.queuePersist(src)
	return nil
}

// Get retrieves a Source by ID.
func (r *Registry) Get(id string) (*Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.byID[id]
	return src, ok
}

// GetByToken retrieves a Source by its opaque token.
func (r *Registry) GetByToken(tok event.SourceToken) (*Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.byToken[tok]
	return src, ok
}

// List returns every Source currently in the catalog.
func (r *Registry) List() []*Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Source, 0, len(r.byID))
	for _, src := range r.byID {
		out = append(out, src)
	}
	return out
}

// Remove deletes a Source from the catalog and then from the store,
// calling the store directly rather than queuing.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	src, ok := r.byID[id]
	if ok {
		delete(r.byID, id)
		delete(r.byToken, src.Token)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}
	if r.store == nil {
		return nil
	}
	return r.store.DeleteSource(ctx, id)
}

// Close stops the persistence goroutine and drains pending writes.
func (r *Registry) Close() error {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.persistWg.Wait()
	return nil
}

func (r *Registry) queuePersist(src *Source) {
	if r.store == nil {
		return
	}
	select {
	case r.persistCh <- src:
	default:
		r.logger.Warn("persist queue full, dropping save", "source_id", src.ID)
	}
}

func (r *Registry) persistLoop() {
	ctx := context.Background()
	for {
		select {
		case <-r.stopCh:
			for {
				select {
				case src := <-r.persistCh:
					r.save(ctx, src)
				default:
					return
				}
			}
		case src := <-r.persistCh:
			r.save(ctx, src)
		}
	}
}

func (r *Registry) save(ctx context.Context, src *Source) {
	if err := r.store.SaveSource(ctx, src); err != nil {
		r.logger.Warn("persist source failed", "source_id", src.ID, "error", err)
	}
}

// ListBackends returns the configured SourceBackend rows for a source,
// used by the supervisor (C7) to start one adaptor per row.
func (r *Registry) ListBackends(ctx context.Context, sourceID string) ([]*SourceBackend, error) {
	if r.store == nil {
		return nil, nil
	}
	return r.store.ListBackends(ctx, sourceID)
}

// SaveBackend validates a SourceBackend through the adaptor registered
// for its Type, then persists the row directly (off the hot path;
// backend configuration changes are rare, unlike event ingestion). An
// unregistered Type or an invalid Config is rejected and not stored.
func (r *Registry) SaveBackend(ctx context.Context, b *SourceBackend) error {
	if _, err := backend.New(b.Type, b.ID, b.SourceID, b.Config); err != nil {
		return fmt.Errorf("source: invalid backend %s: %w", b.ID, err)
	}
	if r.store == nil {
		return nil
	}
	return r.store.SaveBackend(ctx, b)
}

// DeleteBackend removes a SourceBackend row.
func (r *Registry) DeleteBackend(ctx context.Context, id string) error {
	if r.store == nil {
		return nil
	}
	return r.store.DeleteBackend(ctx, id)
}

// TouchLogEventsUpdatedAt persists the source's log_events_updated_at
// field, used by the recent-logs cache's periodic touch task (spec §4.2).
// Unlike Put, this calls the store directly rather than queuing — the touch
// task already runs on its own 45min+jitter timer, so there is no hot-path
// pressure to relieve.
func (r *Registry) TouchLogEventsUpdatedAt(ctx context.Context, sourceID string, at time.Time) error {
	if r.store == nil {
		return nil
	}
	return r.store.TouchLogEventsUpdatedAt(ctx, sourceID, at)
}
