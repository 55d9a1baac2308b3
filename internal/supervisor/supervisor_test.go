package supervisor

import (
	"context"
	"testing"
	"time"

	"tapline/internal/backend"
	"tapline/internal/buffer"
	"tapline/internal/config/memory"
	"tapline/internal/event"
	"tapline/internal/recentlogs"
	"tapline/internal/registry"
	"tapline/internal/source"
)

func newTestSupervisor(t *testing.T) (*Supervisor, *source.Registry) {
	t.Helper()
	store := memory.New()
	sources, err := source.NewRegistry(context.Background(), source.Config{Store: store})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	sched, err := recentlogs.NewScheduler(nil)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	t.Cleanup(func() { sched.Stop() })

	sup := New(Config{
		Sources:   sources,
		Buffers:   registry.New[source.Key, *buffer.Buffer](),
		Caches:    registry.New[source.Key, *recentlogs.Cache](),
		Adaptors:  registry.New[source.Key, backend.Adaptor](),
		Scheduler: sched,
	})
	return sup, sources
}

func TestSupervisorStartStopIdempotent(t *testing.T) {
	sup, sources := newTestSupervisor(t)
	src := &source.Source{ID: "s1", Token: event.NewSourceToken(), Name: "s1", CreatedAt: time.Now()}
	if err := sources.Put(src); err != nil {
		t.Fatalf("Put: %v", err)
	}

	ctx := context.Background()
	if err := sup.Start(ctx, "s1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !sup.Started("s1") {
		t.Fatal("expected Started to report true after Start")
	}
	if err := sup.Start(ctx, "s1"); err != ErrAlreadyStarted {
		t.Fatalf("Start again = %v, want ErrAlreadyStarted", err)
	}

	if err := sup.Stop(ctx, "s1"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if sup.Started("s1") {
		t.Fatal("expected Started to report false after Stop")
	}
	if err := sup.Stop(ctx, "s1"); err != ErrNotStarted {
		t.Fatalf("Stop again = %v, want ErrNotStarted", err)
	}
}

func TestSupervisorRestartRequiresRunning(t *testing.T) {
	sup, sources := newTestSupervisor(t)
	src := &source.Source{ID: "s1", Token: event.NewSourceToken(), Name: "s1", CreatedAt: time.Now()}
	if err := sources.Put(src); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := sup.Restart(context.Background(), "s1"); err != ErrNotStarted {
		t.Fatalf("Restart on unstarted source = %v, want ErrNotStarted", err)
	}
}

func TestSupervisorStartUnknownSource(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	if err := sup.Start(context.Background(), "missing"); err == nil {
		t.Fatal("expected error starting unknown source")
	}
}
