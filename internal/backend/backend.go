// Package backend defines the adaptor contract for C4: a polymorphic
// sink that validates its own configuration and accepts batches of
// events for delivery, batching internally (and, in the webhook adaptor,
// retrying). Concrete
// adaptors (webhook, s3, gcs) live in their own sub-packages and
// register a Factory here by type name.
package backend

import (
	"context"
	"fmt"
	"sync"

	"tapline/internal/event"
)

// FieldError is a single field-level validation failure, surfaced with
// the "config.<field>" prefix when bubbled up to the owning
// SourceBackend's changeset.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("config.%s: %s", e.Field, e.Message)
}

// Adaptor is a started sink for one SourceBackend row. CastConfig and
// CastAndValidateConfig are also callable before Start, to validate a
// proposed configuration change without starting anything.
type Adaptor interface {
	// Type identifies the backend kind, matching source.SourceBackend.Type.
	Type() string

	// CastConfig coerces a raw string-keyed configuration into its typed
	// changeset, without validating it.
	CastConfig(raw map[string]string) (map[string]any, error)

	// CastAndValidateConfig runs full validation, returning the typed
	// changeset and any field errors found.
	CastAndValidateConfig(raw map[string]string) (map[string]any, []FieldError)

	// Start begins the adaptor's worker(s). Must be idempotent: a second
	// call on an already-started adaptor is a no-op.
	Start(ctx context.Context) error

	// Ingest accepts a batch of events for delivery. Must return quickly
	// (queue-and-return, not block on actual delivery) and must not
	// panic; delivery failures are handled inside the adaptor and only
	// surfaced through logging, except for backpressure (queue full), which
	// is returned as an error so the dispatcher can log it. The webhook
	// adaptor retries failed deliveries with backoff; the s3 and gcs
	// adaptors log a failed flush and drop that batch without retrying.
	Ingest(ctx context.Context, events []event.LogEvent) error

	// Stop drains and shuts the adaptor down.
	Stop(ctx context.Context) error
}

// Factory constructs a new, unstarted Adaptor for a SourceBackend. cfg
// is the raw string-keyed configuration; the factory validates it with
// CastAndValidateConfig and returns an error if validation fails.
type Factory func(id, sourceID string, cfg map[string]string) (Adaptor, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register adds a Factory under a backend type name. Intended to be
// called from init() in each concrete adaptor package.
func Register(backendType string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[backendType] = f
}

// New constructs an Adaptor of the named type. Returns an error if the
// type was never registered.
func New(backendType, id, sourceID string, cfg map[string]string) (Adaptor, error) {
	mu.RLock()
	f, ok := factories[backendType]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("backend: unknown adaptor type %q", backendType)
	}
	return f(id, sourceID, cfg)
}

// Registered lists the currently registered adaptor type names.
func Registered() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for name := range factories {
		out = append(out, name)
	}
	return out
}
