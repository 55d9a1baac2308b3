package pipeline

import (
	"context"
	"testing"
	"time"

	"tapline/internal/backend"
	"tapline/internal/buffer"
	"tapline/internal/config/memory"
	"tapline/internal/dispatch"
	"tapline/internal/event"
	"tapline/internal/recentlogs"
	"tapline/internal/registry"
	"tapline/internal/source"
)

func newTestSource(t *testing.T, reg *source.Registry, name, drop string, rules []source.Rule) *source.Source {
	t.Helper()
	src := &source.Source{
		ID:        name,
		Token:     event.NewSourceToken(),
		Name:      name,
		Drop:      drop,
		Rules:     rules,
		CreatedAt: time.Now(),
	}
	if err := reg.Put(src); err != nil {
		t.Fatalf("Put(%s): %v", name, err)
	}
	return src
}

func TestPipelineDropFilter(t *testing.T) {
	ctx := context.Background()
	sources, err := source.NewRegistry(ctx, source.Config{Store: memory.New()})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	src := newTestSource(t, sources, "s1", `"drop-me"`, nil)

	buffers := registry.New[source.Key, *buffer.Buffer]()
	caches := registry.New[source.Key, *recentlogs.Cache]()
	buf := buffer.New(buffer.Config{SourceID: src.ID})
	cache := recentlogs.New(recentlogs.Config{SourceID: src.ID})
	buffers.Register(source.BufferKey(src.ID), buf, nil)
	caches.Register(source.RecentLogsKey(src.ID), cache, nil)

	p := New(Config{Sources: sources, Buffers: buffers, Caches: caches})

	err = p.Ingest(ctx, src.Token, []map[string]any{
		{"event_message": "this should drop-me"},
		{"event_message": "this should pass"},
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	snap := cache.Snapshot()
	if len(snap) != 1 || snap[0].Message() != "this should pass" {
		t.Fatalf("unexpected cache contents: %+v", snap)
	}
}

func TestPipelineRoutingDepthCappedAtOneHop(t *testing.T) {
	ctx := context.Background()
	sources, err := source.NewRegistry(ctx, source.Config{Store: memory.New()})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	sinkB := newTestSource(t, sources, "sink-b", "", nil)
	sinkA := newTestSource(t, sources, "sink-a", "", []source.Rule{
		{Kind: source.RuleLQL, Query: `"route-me"`, SinkToken: sinkB.Token},
	})
	origin := newTestSource(t, sources, "origin", "", []source.Rule{
		{Kind: source.RuleLQL, Query: `"route-me"`, SinkToken: sinkA.Token},
	})

	buffers := registry.New[source.Key, *buffer.Buffer]()
	caches := registry.New[source.Key, *recentlogs.Cache]()
	for _, id := range []string{origin.ID, sinkA.ID, sinkB.ID} {
		if err := buffers.Register(source.BufferKey(id), buffer.New(buffer.Config{SourceID: id}), nil); err != nil {
			t.Fatalf("register buffer %s: %v", id, err)
		}
		if err := caches.Register(source.RecentLogsKey(id), recentlogs.New(recentlogs.Config{SourceID: id}), nil); err != nil {
			t.Fatalf("register cache %s: %v", id, err)
		}
	}

	p := New(Config{Sources: sources, Buffers: buffers, Caches: caches, Dispatcher: dispatch.New(noopDispatchRegistry{}, nil)})

	if err := p.Ingest(ctx, origin.Token, []map[string]any{{"event_message": "route-me please"}}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	originCache, _ := caches.Lookup(source.RecentLogsKey(origin.ID))
	sinkACache, _ := caches.Lookup(source.RecentLogsKey(sinkA.ID))
	sinkBCache, _ := caches.Lookup(source.RecentLogsKey(sinkB.ID))

	if len(originCache.Snapshot()) != 1 {
		t.Fatalf("origin cache = %d events, want 1", len(originCache.Snapshot()))
	}
	if len(sinkACache.Snapshot()) != 1 {
		t.Fatalf("sink-a cache = %d events, want 1 (one hop)", len(sinkACache.Snapshot()))
	}
	if len(sinkBCache.Snapshot()) != 0 {
		t.Fatalf("sink-b cache = %d events, want 0 (routing must not cascade past one hop)", len(sinkBCache.Snapshot()))
	}
}

type noopDispatchRegistry struct{}

func (noopDispatchRegistry) Dispatch(keep func(source.Key) bool, visit registry.Visitor[source.Key, backend.Adaptor]) {
}
