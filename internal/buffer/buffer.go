// Package buffer implements the memory buffer (C3): a bounded,
// drop-oldest per-source channel that decouples the ingestion pipeline
// from slower downstream consumers such as backend adaptor flushes.
package buffer

import (
	"context"
	"log/slog"
	"sync"

	"tapline/internal/event"
	"tapline/internal/logging"
)

// DefaultCapacity is used when Config.Capacity is zero.
const DefaultCapacity = 1000

// Buffer is a bounded FIFO of events for a single source. When full, the
// oldest queued event is dropped to make room for the newest one (see
// Open Questions: drop-oldest is the chosen overflow policy).
type Buffer struct {
	sourceID string
	logger   *slog.Logger

	mu      sync.Mutex
	ch      chan event.LogEvent
	dropped uint64
}

// Config configures a Buffer.
type Config struct {
	SourceID string
	Capacity int
	Logger   *slog.Logger
}

// New creates a Buffer for a source.
func New(cfg Config) *Buffer {
	cap := cfg.Capacity
	if cap <= 0 {
		cap = DefaultCapacity
	}
	return &Buffer{
		sourceID: cfg.SourceID,
		logger:   logging.Default(cfg.Logger).With("component", "buffer", "source", cfg.SourceID),
		ch:       make(chan event.LogEvent, cap),
	}
}

// Push enqueues an event, dropping the oldest queued event if the
// buffer is full.
func (b *Buffer) Push(e event.LogEvent) {
	for {
		select {
		case b.ch <- e:
			return
		default:
		}

		b.mu.Lock()
		select {
		case <-b.ch:
			b.dropped++
		default:
		}
		b.mu.Unlock()
	}
}

// Pop blocks until an event is available or ctx is done.
func (b *Buffer) Pop(ctx context.Context) (event.LogEvent, bool) {
	select {
	case e := <-b.ch:
		return e, true
	case <-ctx.Done():
		return event.LogEvent{}, false
	}
}

// Drain removes and returns every event currently queued, without
// blocking.
func (b *Buffer) Drain() []event.LogEvent {
	var out []event.LogEvent
	for {
		select {
		case e := <-b.ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

// Len reports the number of events currently queued.
func (b *Buffer) Len() int {
	return len(b.ch)
}

// Dropped reports how many events have been dropped due to overflow
// since the buffer was created.
func (b *Buffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
