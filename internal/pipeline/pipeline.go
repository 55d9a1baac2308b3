// Package pipeline implements the ingestion pipeline (C6): normalize,
// drop-filter, route, and broadcast raw log parameters into a source's
// recent-logs cache, memory buffer, and backend adaptors.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tapline/internal/buffer"
	"tapline/internal/dispatch"
	"tapline/internal/event"
	"tapline/internal/logging"
	"tapline/internal/recentlogs"
	"tapline/internal/registry"
	"tapline/internal/source"
)

// maxRouteDepth caps re-ingestion at one hop, per the routing
// invariant: events produced by a rule are ingested into the sink with
// rule evaluation disabled.
const maxRouteDepth = 1

// ErrUnknownSource is returned by Ingest when the source token does not
// resolve to a registered Source.
var ErrUnknownSource = fmt.Errorf("pipeline: unknown source token")

// Counter receives per-source insert counts, feeding C9's rate
// broadcaster. Satisfied by *cluster.RateCounter.
type Counter interface {
	Incr(sourceID string, n int)
}

// Pipeline is C6: the single entry point raw events pass through on
// their way into a source's cache, buffer, and backends.
type Pipeline struct {
	sources  *source.Registry
	buffers  *registry.Registry[source.Key, *buffer.Buffer]
	caches   *registry.Registry[source.Key, *recentlogs.Cache]
	dispatch *dispatch.Dispatcher
	counter  Counter
	now      func() time.Time
	logger   *slog.Logger
}

// Config configures a Pipeline.
type Config struct {
	Sources    *source.Registry
	Buffers    *registry.Registry[source.Key, *buffer.Buffer]
	Caches     *registry.Registry[source.Key, *recentlogs.Cache]
	Dispatcher *dispatch.Dispatcher
	Counter    Counter
	Now        func() time.Time
	Logger     *slog.Logger
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Pipeline{
		sources:  cfg.Sources,
		buffers:  cfg.Buffers,
		caches:   cfg.Caches,
		dispatch: cfg.Dispatcher,
		counter:  cfg.Counter,
		now:      now,
		logger:   logging.Default(cfg.Logger).With("component", "pipeline"),
	}
}

// Ingest normalizes rawEvents, applies the source's drop filter and
// routing rules, and broadcasts surviving events into the cache,
// buffer, and dispatcher. An empty batch is a no-op.
func (p *Pipeline) Ingest(ctx context.Context, sourceToken event.SourceToken, rawEvents []map[string]any) error {
	return p.ingest(ctx, sourceToken, rawEvents, maxRouteDepth)
}

func (p *Pipeline) ingest(ctx context.Context, sourceToken event.SourceToken, rawEvents []map[string]any, depth int) error {
	if len(rawEvents) == 0 {
		return nil
	}

	src, ok := p.sources.GetByToken(sourceToken)
	if !ok {
		return ErrUnknownSource
	}

	var toBroadcast []event.LogEvent
	for _, raw := range rawEvents {
		e := event.Normalize(raw, sourceToken, p.now())
		if src.ShouldDrop(e) {
			continue
		}

		if depth > 0 {
			p.route(ctx, src, e, raw, depth)
		}

		toBroadcast = append(toBroadcast, e)
	}

	if len(toBroadcast) == 0 {
		return nil
	}
	p.broadcast(ctx, src, toBroadcast)
	return nil
}

// route re-ingests e into every matching rule's sink, with routing
// disabled on the sink's ingest (depth-1), so a chain of rules can
// never loop or cascade past one hop.
func (p *Pipeline) route(ctx context.Context, src *source.Source, e event.LogEvent, raw map[string]any, depth int) {
	for i := range src.Rules {
		rule := &src.Rules[i]
		if !rule.Match(e) {
			continue
		}
		if err := p.ingest(ctx, rule.SinkToken, []map[string]any{raw}, depth-1); err != nil {
			p.logger.Warn("pipeline: route to sink failed", "source", src.ID, "error", err)
		}
	}
}

func (p *Pipeline) broadcast(ctx context.Context, src *source.Source, events []event.LogEvent) {
	if cache, ok := p.caches.Lookup(source.RecentLogsKey(src.ID)); ok {
		for _, e := range events {
			cache.Append(e)
		}
	}
	if buf, ok := p.buffers.Lookup(source.BufferKey(src.ID)); ok {
		for _, e := range events {
			buf.Push(e)
		}
	}
	if p.dispatch != nil {
		p.dispatch.Dispatch(ctx, src.ID, events)
	}
	if p.counter != nil {
		p.counter.Incr(src.ID, len(events))
	}
}
