package buffer

import (
	"context"
	"testing"
	"time"

	"tapline/internal/event"
)

func makeEvent(msg string) event.LogEvent {
	return event.Normalize(map[string]any{"event_message": msg}, event.NewSourceToken(), time.Now())
}

func TestBufferPushPop(t *testing.T) {
	b := New(Config{SourceID: "s1", Capacity: 4})
	b.Push(makeEvent("a"))
	b.Push(makeEvent("b"))

	ctx := context.Background()
	e, ok := b.Pop(ctx)
	if !ok || e.Message() != "a" {
		t.Fatalf("Pop = %+v, %v, want a, true", e, ok)
	}
	e, ok = b.Pop(ctx)
	if !ok || e.Message() != "b" {
		t.Fatalf("Pop = %+v, %v, want b, true", e, ok)
	}
}

func TestBufferDropsOldestOnOverflow(t *testing.T) {
	b := New(Config{SourceID: "s1", Capacity: 2})
	b.Push(makeEvent("1"))
	b.Push(makeEvent("2"))
	b.Push(makeEvent("3")) // should drop "1"

	if got := b.Dropped(); got != 1 {
		t.Fatalf("Dropped() = %d, want 1", got)
	}

	drained := b.Drain()
	if len(drained) != 2 || drained[0].Message() != "2" || drained[1].Message() != "3" {
		t.Fatalf("unexpected drain contents: %+v", drained)
	}
}

func TestBufferPopCancelled(t *testing.T) {
	b := New(Config{SourceID: "s1", Capacity: 2})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := b.Pop(ctx)
	if ok {
		t.Fatal("expected Pop to report false on cancelled context")
	}
}
