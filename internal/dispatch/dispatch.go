// Package dispatch implements the source dispatcher (C5): fan-out of a
// batch of events to every backend adaptor currently registered for a
// source, one goroutine per adaptor so that one adaptor's failure or
// panic never blocks or poisons another.
package dispatch

import (
	"context"
	"log/slog"

	"tapline/internal/backend"
	"tapline/internal/event"
	"tapline/internal/logging"
	"tapline/internal/registry"
	"tapline/internal/source"
)

// Registry is the subset of registry.Registry[source.Key, backend.Adaptor]
// the Dispatcher needs.
type Registry interface {
	Dispatch(keep func(source.Key) bool, visit registry.Visitor[source.Key, backend.Adaptor])
}

// Dispatcher fans batches out to every adaptor registered under a
// source's dispatch key.
type Dispatcher struct {
	registry Registry
	logger   *slog.Logger
}

// New creates a Dispatcher over the given C1 registry.
func New(reg Registry, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{registry: reg, logger: logging.Default(logger).With("component", "dispatch")}
}

// Dispatch looks up every adaptor registered under sourceID's dispatch
// key and invokes Ingest concurrently, one goroutine per adaptor.
// Ordering between distinct adaptors is unspecified; ordering of events
// within one adaptor's batch is preserved. Returns once every adaptor's
// Ingest call has been initiated and completed or failed — not once
// delivery has completed, which each adaptor handles internally.
func (d *Dispatcher) Dispatch(ctx context.Context, sourceID string, events []event.LogEvent) {
	keep := func(k source.Key) bool { return source.IsDispatchKeyFor(sourceID, k) }

	var pending []backend.Adaptor
	d.registry.Dispatch(keep, func(_ source.Key, adaptor backend.Adaptor, _ any) {
		pending = append(pending, adaptor)
	})

	done := make(chan struct{}, len(pending))
	for _, adaptor := range pending {
		go d.dispatchOne(ctx, adaptor, events, done)
	}
	for range pending {
		<-done
	}
}

func (d *Dispatcher) dispatchOne(ctx context.Context, adaptor backend.Adaptor, events []event.LogEvent, done chan<- struct{}) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatch: adaptor panicked", "adaptor", adaptor.Type(), "panic", r)
		}
		done <- struct{}{}
	}()

	if err := adaptor.Ingest(ctx, events); err != nil {
		d.logger.Warn("dispatch: adaptor ingest failed", "adaptor", adaptor.Type(), "error", err)
	}
}
