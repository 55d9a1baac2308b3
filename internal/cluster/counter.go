package cluster

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"tapline/internal/logging"
)

// RateCounter is C9: it maintains inserts_since_boot per source plus a
// cluster-wide total_cluster_inserts folded in from every node's
// broadcast envelopes, and publishes this node's delta on every tick.
// It satisfies pipeline.Counter (Incr), so the pipeline can feed it
// directly without importing this package.
type RateCounter struct {
	nodeID      string
	broadcaster Broadcaster
	now         func() time.Time
	logger      *slog.Logger

	mu     sync.Mutex
	since  map[string]int64 // inserts_since_boot, this node only
	total  map[string]int64 // total_cluster_inserts, folded in from envelopes
	tickAt map[string]int64 // since-count as of the last tick, for delta math

	unsubscribe func()
}

// CounterConfig configures a RateCounter.
type CounterConfig struct {
	NodeID      string
	Broadcaster Broadcaster
	Now         func() time.Time
	Logger      *slog.Logger
}

// NewRateCounter creates a RateCounter and subscribes it to broadcaster
// so peer envelopes fold into total_cluster_inserts.
func NewRateCounter(cfg CounterConfig) *RateCounter {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	c := &RateCounter{
		nodeID:      cfg.NodeID,
		broadcaster: cfg.Broadcaster,
		now:         now,
		logger:      logging.Default(cfg.Logger).With("component", "rate-counter"),
		since:       make(map[string]int64),
		total:       make(map[string]int64),
		tickAt:      make(map[string]int64),
	}
	if cfg.Broadcaster != nil {
		unsub, err := cfg.Broadcaster.Subscribe(c.onEnvelope)
		if err != nil {
			c.logger.Warn("rate counter: subscribe failed", "error", err)
		} else {
			c.unsubscribe = unsub
		}
	}
	return c
}

// Incr adds n to sourceID's inserts_since_boot. Called from the ingestion
// pipeline's broadcast step, once per successful Ingest batch.
func (c *RateCounter) Incr(sourceID string, n int) {
	if n == 0 {
		return
	}
	c.mu.Lock()
	c.since[sourceID] += int64(n)
	c.total[sourceID] += int64(n)
	c.mu.Unlock()
}

func (c *RateCounter) onEnvelope(env Envelope) {
	if env.NodeID == c.nodeID {
		return
	}
	c.mu.Lock()
	c.total[env.SourceID] += env.Delta
	c.mu.Unlock()
}

// Tick publishes sourceID's delta since the last Tick call, as described
// in spec §4.9: called on C2's broadcast tick, once per source with an
// active cache. A nil or unconfigured Broadcaster makes Tick a no-op.
func (c *RateCounter) Tick(ctx context.Context, sourceID string) {
	if c.broadcaster == nil {
		return
	}

	c.mu.Lock()
	since := c.since[sourceID]
	delta := since - c.tickAt[sourceID]
	c.tickAt[sourceID] = since
	total := c.total[sourceID]
	c.mu.Unlock()

	if delta == 0 {
		return
	}

	env := Envelope{
		SourceID: sourceID,
		NodeID:   c.nodeID,
		Delta:    delta,
		Total:    total,
		At:       c.now().UnixMilli(),
	}
	if err := c.broadcaster.Publish(ctx, env); err != nil {
		c.logger.Warn("rate counter: publish failed", "source_id", sourceID, "error", err)
	}
}

// InsertsSinceBoot returns sourceID's local insert count since process
// start.
func (c *RateCounter) InsertsSinceBoot(sourceID string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.since[sourceID]
}

// TotalClusterInserts returns sourceID's cluster-wide insert total, this
// node's own count plus every peer delta folded in since boot.
func (c *RateCounter) TotalClusterInserts(sourceID string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total[sourceID]
}

// Close unsubscribes from the broadcaster, if one was configured.
func (c *RateCounter) Close() error {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	return nil
}
