package cluster

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLocalLockDedupesConcurrentCalls(t *testing.T) {
	lock := NewLocalLock()

	var calls int32
	var wg sync.WaitGroup
	errs := make(chan error, 10)

	start := make(chan struct{})
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			errs <- lock.Do(context.Background(), "same-key", func(context.Context) error {
				atomic.AddInt32(&calls, 1)
				time.Sleep(20 * time.Millisecond)
				return nil
			})
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Do returned error: %v", err)
		}
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("calls = %d, want 1 (single-flight across concurrent callers)", got)
	}
}

func TestLocalLockRunsAgainAfterPriorCallCompletes(t *testing.T) {
	lock := NewLocalLock()
	ctx := context.Background()

	var calls int32
	fn := func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}

	if err := lock.Do(ctx, "k", fn); err != nil {
		t.Fatalf("Do #1: %v", err)
	}
	if err := lock.Do(ctx, "k", fn); err != nil {
		t.Fatalf("Do #2: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("calls = %d, want 2 (key forgotten after prior call completes)", got)
	}
}
