package recentlogs

import (
	"context"
	"sync"
	"testing"
	"time"

	"tapline/internal/event"
)

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestCacheAppendDropsOldest(t *testing.T) {
	c := New(Config{SourceID: "src1", Now: fixedNow(time.Unix(0, 0))})

	for i := 0; i < Capacity+10; i++ {
		c.Append(event.Normalize(map[string]any{"event_message": "m"}, event.NewSourceToken(), time.Now()))
	}

	snap := c.Snapshot()
	if len(snap) != Capacity {
		t.Fatalf("len(snapshot) = %d, want %d", len(snap), Capacity)
	}
}

func TestCacheSubscribeReceivesBroadcast(t *testing.T) {
	sched, err := NewScheduler(nil)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	defer sched.Stop()

	c := New(Config{SourceID: "src1", Scheduler: sched, Now: fixedNow(time.Unix(0, 0))})

	ch, unsubscribe, err := c.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsubscribe()

	// The lazy-start boot event is queued immediately; drain it first.
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for boot event broadcast")
	}

	e := event.Normalize(map[string]any{"event_message": "hello"}, event.NewSourceToken(), time.Now())
	c.Append(e)

	select {
	case batch := <-ch:
		if len(batch) != 1 || batch[0].Message() != "hello" {
			t.Fatalf("unexpected batch: %+v", batch)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast")
	}
}

func TestCacheUnsubscribeStopsTicks(t *testing.T) {
	sched, err := NewScheduler(nil)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	defer sched.Stop()

	c := New(Config{SourceID: "src2", Scheduler: sched, Now: fixedNow(time.Unix(0, 0))})
	_, unsubscribe, err := c.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	unsubscribe()

	sched.mu.Lock()
	_, stillRegistered := sched.jobs["src2"]
	sched.mu.Unlock()
	if stillRegistered {
		t.Fatal("expected ticks to be unregistered after last unsubscribe")
	}
}

func TestCacheBootEventNamesNode(t *testing.T) {
	sched, err := NewScheduler(nil)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	defer sched.Stop()

	c := New(Config{SourceID: "src3", Scheduler: sched, NodeID: "node-a", Now: fixedNow(time.Unix(0, 0))})
	if err := c.ensureStarted(context.Background()); err != nil {
		t.Fatalf("ensureStarted: %v", err)
	}

	snap := c.Snapshot()
	if len(snap) != 1 || snap[0].Message() != "Initialized on node node-a" {
		t.Fatalf("unexpected boot event: %+v", snap)
	}
}

// fakeCounter is a minimal Counter used to exercise the broadcast tick's
// counter wiring without a real cluster.RateCounter.
type fakeCounter struct {
	mu     sync.Mutex
	ticks  int
	totals []int64
}

func (f *fakeCounter) Tick(ctx context.Context, sourceID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticks++
}

func (f *fakeCounter) TotalClusterInserts(sourceID string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.totals) == 0 {
		return 0
	}
	next := f.totals[0]
	f.totals = f.totals[1:]
	return next
}

func TestCacheTickCounterPublishesLogCountOnGrowth(t *testing.T) {
	sched, err := NewScheduler(nil)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	defer sched.Stop()

	counter := &fakeCounter{totals: []int64{0, 5, 5, 9}}
	c := New(Config{SourceID: "src4", Scheduler: sched, Counter: counter, NodeID: "node-a", Now: fixedNow(time.Unix(0, 0))})

	logCh, unsubscribe, err := c.SubscribeLogCount(context.Background())
	if err != nil {
		t.Fatalf("SubscribeLogCount: %v", err)
	}
	defer unsubscribe()

	c.tickCounter() // totals[0] = 0, no growth from lastTotal 0

	c.tickCounter() // totals[1] = 5, growth
	select {
	case total := <-logCh:
		if total != 5 {
			t.Fatalf("got total %d, want 5", total)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for log_count update")
	}

	c.tickCounter() // totals[2] = 5, no growth

	c.tickCounter() // totals[3] = 9, growth
	select {
	case total := <-logCh:
		if total != 9 {
			t.Fatalf("got total %d, want 9", total)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for log_count update")
	}

	if counter.ticks != 4 {
		t.Fatalf("ticks = %d, want 4", counter.ticks)
	}
}
