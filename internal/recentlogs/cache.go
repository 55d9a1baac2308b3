package recentlogs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tapline/internal/event"
	"tapline/internal/logging"
)

// Capacity is the maximum number of events a Cache retains. Oldest
// entries are dropped once exceeded.
const Capacity = 100

// subscriberQueueSize bounds how many pending broadcast batches a slow
// subscriber can fall behind by before batches are dropped for it.
const subscriberQueueSize = 4

// Lock is a cluster-wide advisory lock used to dedupe lazy-start across
// nodes: at most one node should run fn for a given key at a time. The
// shipped implementation (cluster.LocalLock) is single-process and
// callgroup-backed; a multi-node deployment supplies a real
// implementation backed by an external coordination service.
type Lock interface {
	Do(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Toucher persists a source's LogEventsUpdatedAt timestamp. Satisfied by
// *source.Registry.
type Toucher interface {
	TouchLogEventsUpdatedAt(ctx context.Context, sourceID string, at time.Time) error
}

// Counter folds this source's insert rate into the cluster-wide total.
// Satisfied by *cluster.RateCounter; kept as a narrow structural
// interface here to avoid importing the cluster package.
type Counter interface {
	Tick(ctx context.Context, sourceID string)
	TotalClusterInserts(sourceID string) int64
}

// Config configures a Cache.
type Config struct {
	SourceID    string
	SourceToken event.SourceToken
	Scheduler   *Scheduler
	Lock        Lock
	Toucher     Toucher
	Counter     Counter
	NodeID      string
	Now         func() time.Time
	Logger      *slog.Logger
}

// Cache is the recent-logs ring buffer for a single source (C2). It is
// lazily started on the first Subscribe or SubscribeLogCount call: the
// broadcast and touch ticks only run once something is watching.
type Cache struct {
	sourceID    string
	sourceToken event.SourceToken
	scheduler   *Scheduler
	lock        Lock
	toucher     Toucher
	counter     Counter
	nodeID      string
	now         func() time.Time
	logger      *slog.Logger

	mu        sync.Mutex
	entries   []event.LogEvent
	pending   []event.LogEvent
	lastTotal int64

	subMu     sync.Mutex
	subs      map[uint64]chan []event.LogEvent
	nextSubID uint64

	logCountMu     sync.Mutex
	logCountSubs   map[uint64]chan int64
	nextLogCountID uint64

	startOnce sync.Once
	started   bool
}

// New creates a Cache for a source. Append and Snapshot work at once;
// the broadcast and touch ticks are not scheduled until the first
// Subscribe or SubscribeLogCount call triggers lazy start.
func New(cfg Config) *Cache {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Cache{
		sourceID:     cfg.SourceID,
		sourceToken:  cfg.SourceToken,
		scheduler:    cfg.Scheduler,
		lock:         cfg.Lock,
		toucher:      cfg.Toucher,
		counter:      cfg.Counter,
		nodeID:       cfg.NodeID,
		now:          now,
		logger:       logging.Default(cfg.Logger).With("component", "recentlogs", "source", cfg.SourceID),
		subs:         make(map[uint64]chan []event.LogEvent),
		logCountSubs: make(map[uint64]chan int64),
	}
}

// Append adds an event to the ring buffer and queues it for the next
// broadcast tick. Overflow drops the oldest entry.
func (c *Cache) Append(e event.LogEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, e)
	if len(c.entries) > Capacity {
		c.entries = c.entries[len(c.entries)-Capacity:]
	}
	c.pending = append(c.pending, e)
}

// Snapshot returns a copy of the buffer's current contents, oldest
// first.
func (c *Cache) Snapshot() []event.LogEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]event.LogEvent, len(c.entries))
	copy(out, c.entries)
	return out
}

// Subscribe registers a live-tail subscriber and triggers lazy start.
// The returned channel receives batches of newly appended events every
// broadcast tick; the returned func unsubscribes and, when it was the
// last subscriber, stops the ticks.
func (c *Cache) Subscribe(ctx context.Context) (<-chan []event.LogEvent, func(), error) {
	if err := c.ensureStarted(ctx); err != nil {
		return nil, nil, err
	}

	ch := make(chan []event.LogEvent, subscriberQueueSize)
	c.subMu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.subs[id] = ch
	c.subMu.Unlock()

	unsubscribe := func() {
		c.subMu.Lock()
		delete(c.subs, id)
		empty := len(c.subs) == 0
		c.subMu.Unlock()
		if empty {
			c.scheduler.Unregister(c.sourceID)
		}
	}
	return ch, unsubscribe, nil
}

// SubscribeLogCount registers a subscriber on this source's log_count
// channel topic. It receives the cluster-wide cached total whenever a
// broadcast tick observes it grow; the returned func unsubscribes.
func (c *Cache) SubscribeLogCount(ctx context.Context) (<-chan int64, func(), error) {
	if err := c.ensureStarted(ctx); err != nil {
		return nil, nil, err
	}

	ch := make(chan int64, subscriberQueueSize)
	c.logCountMu.Lock()
	id := c.nextLogCountID
	c.nextLogCountID++
	c.logCountSubs[id] = ch
	c.logCountMu.Unlock()

	unsubscribe := func() {
		c.logCountMu.Lock()
		delete(c.logCountSubs, id)
		c.logCountMu.Unlock()
	}
	return ch, unsubscribe, nil
}

// ensureStarted registers this cache's ticks with the shared scheduler,
// through the cluster lock so only one node runs them for this source.
// Safe to call repeatedly; only the first call per process does work.
func (c *Cache) ensureStarted(ctx context.Context) error {
	var startErr error
	c.startOnce.Do(func() {
		lock := c.lock
		if lock == nil {
			lock = noopLock{}
		}
		startErr = lock.Do(ctx, "recentlogs:"+c.sourceID, func(ctx context.Context) error {
			c.Append(event.SystemEvent(c.sourceToken, fmt.Sprintf("Initialized on node %s", c.nodeID), c.now()))
			return c.scheduler.Register(c.sourceID, c.broadcast, c.touch)
		})
		if startErr == nil {
			c.started = true
		}
	})
	return startErr
}

// broadcast drains pending events and fans them out to subscribers, then
// ticks the cluster rate counter and fans out log_count growth. A
// subscriber whose queue is full has the batch dropped for it rather
// than blocking the tick.
func (c *Cache) broadcast() {
	c.mu.Lock()
	batch := c.pending
	c.pending = nil
	c.mu.Unlock()

	if len(batch) > 0 {
		c.subMu.Lock()
		for id, ch := range c.subs {
			select {
			case ch <- batch:
			default:
				c.logger.Warn("recentlogs: subscriber queue full, dropping batch", "subscriber", id)
			}
		}
		c.subMu.Unlock()
	}

	c.tickCounter()
}

// tickCounter publishes this tick's insert delta via the cluster rate
// counter (folding peer deltas into the cluster-wide total as they
// arrive) and, if the cluster-wide total grew, fans out a log_count
// event to subscribers on this source's channel topic.
func (c *Cache) tickCounter() {
	if c.counter == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c.counter.Tick(ctx, c.sourceID)
	total := c.counter.TotalClusterInserts(c.sourceID)

	c.mu.Lock()
	grew := total > c.lastTotal
	c.lastTotal = total
	c.mu.Unlock()
	if !grew {
		return
	}

	c.logCountMu.Lock()
	defer c.logCountMu.Unlock()
	for id, ch := range c.logCountSubs {
		select {
		case ch <- total:
		default:
			c.logger.Warn("recentlogs: log_count subscriber queue full, dropping update", "subscriber", id)
		}
	}
}

// touch timestamps LogEventsUpdatedAt via the injected Toucher, but only
// when the newest non-system event in the cache is younger than 45
// minutes; an idle source is left untouched.
func (c *Cache) touch() {
	if c.toucher == nil {
		return
	}
	var newest time.Time
	c.mu.Lock()
	for i := len(c.entries) - 1; i >= 0; i-- {
		if !c.entries[i].IsSystem() {
			newest = c.entries[i].IngestedAt
			break
		}
	}
	c.mu.Unlock()
	if newest.IsZero() || c.now().Sub(newest) >= 45*time.Minute {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.toucher.TouchLogEventsUpdatedAt(ctx, c.sourceID, c.now()); err != nil {
		c.logger.Warn("recentlogs: touch failed", "error", err)
	}
}

// noopLock runs fn directly with no cross-node coordination, used when
// a Cache is constructed without a Lock (e.g. in tests).
type noopLock struct{}

func (noopLock) Do(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
