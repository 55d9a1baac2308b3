package cluster

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"tapline/internal/event"
	"tapline/internal/logging"
)

// clusterListDeadline bounds how long ListForCluster waits on peers
// before giving up on the stragglers and returning whatever it has.
const clusterListDeadline = 5 * time.Second

// clusterListLimit caps the merged result, matching the recent-logs
// cache's own ring-buffer capacity.
const clusterListLimit = 100

// Lister resolves a source's local recent-logs snapshot. Satisfied by a
// thin wrapper over the shared *registry.Registry[source.Key,
// *recentlogs.Cache] the supervisor populates — kept as a narrow
// interface here so this package doesn't need to import recentlogs or
// source just to read a snapshot.
type Lister interface {
	Snapshot(sourceID string) []event.LogEvent
}

// Requester asks a single peer for a source's recent events. Satisfied
// by *PeerClient; a separate interface so tests can stub it.
type Requester interface {
	List(ctx context.Context, peer Peer, sourceID string) ([]event.LogEvent, error)
}

// Aggregator is C8: list_for_cluster fans a recent-logs read out to
// every reachable peer, merges the results, and falls back to the local
// cache if every peer fails or there are no peers at all.
type Aggregator struct {
	peers     PeerLister
	requester Requester
	caches    Lister
	nodeID    string
	logger    *slog.Logger
}

// Config configures an Aggregator.
type Config struct {
	Peers     PeerLister
	Requester Requester
	Caches    Lister
	NodeID    string
	Logger    *slog.Logger
}

// New creates an Aggregator.
func New(cfg Config) *Aggregator {
	return &Aggregator{
		peers:     cfg.Peers,
		requester: cfg.Requester,
		caches:    cfg.Caches,
		nodeID:    cfg.NodeID,
		logger:    logging.Default(cfg.Logger).With("component", "cluster-aggregator"),
	}
}

// localList returns this node's own cached events for sourceID, or nil
// if sourceID has no active cache on this node.
func (a *Aggregator) localList(sourceID string) []event.LogEvent {
	if a.caches == nil {
		return nil
	}
	return a.caches.Snapshot(sourceID)
}

// ListForCluster enumerates peers, fans out a recent-logs request to
// each with a 5 s overall deadline, merges every response plus the local
// snapshot, sorts by body.timestamp ascending, and keeps the last 100.
// If peer enumeration fails, every peer request fails, or there are no
// peers, it falls back to the local snapshot alone.
func (a *Aggregator) ListForCluster(ctx context.Context, sourceID string) []event.LogEvent {
	local := a.localList(sourceID)

	if a.peers == nil || a.requester == nil {
		return local
	}

	peers, err := a.peers.Peers(ctx)
	if err != nil {
		a.logger.Warn("cluster: list peers failed, falling back to local", "source_id", sourceID, "error", err)
		return local
	}
	if len(peers) == 0 {
		return local
	}

	gctx, cancel := context.WithTimeout(ctx, clusterListDeadline)
	defer cancel()

	g, gctx := errgroup.WithContext(gctx)
	results := make([][]event.LogEvent, len(peers))
	for i, peer := range peers {
		i, peer := i, peer
		g.Go(func() error {
			events, err := a.requester.List(gctx, peer, sourceID)
			if err != nil {
				a.logger.Warn("cluster: peer list failed", "source_id", sourceID, "peer", peer.ID, "error", err)
				return nil // one peer failing must not cancel the others
			}
			results[i] = events
			return nil
		})
	}
	_ = g.Wait()

	merged := append([]event.LogEvent(nil), local...)
	anyPeerSucceeded := false
	for _, r := range results {
		if r != nil {
			anyPeerSucceeded = true
		}
		merged = append(merged, r...)
	}

	if !anyPeerSucceeded && len(local) == 0 {
		return local
	}

	sort.Slice(merged, func(i, j int) bool { return merged[i].Timestamp() < merged[j].Timestamp() })
	if len(merged) > clusterListLimit {
		merged = merged[len(merged)-clusterListLimit:]
	}
	return merged
}
