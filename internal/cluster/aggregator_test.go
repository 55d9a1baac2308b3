package cluster

import (
	"context"
	"errors"
	"testing"
	"time"

	"tapline/internal/event"
)

type stubLister struct{ events []event.LogEvent }

func (s stubLister) Snapshot(string) []event.LogEvent { return s.events }

type stubRequester struct {
	byPeer map[string][]event.LogEvent
	fail   map[string]bool
}

func (s stubRequester) List(_ context.Context, peer Peer, _ string) ([]event.LogEvent, error) {
	if s.fail[peer.ID] {
		return nil, errors.New("boom")
	}
	return s.byPeer[peer.ID], nil
}

func mkEvent(ts int64) event.LogEvent {
	e := event.Normalize(map[string]any{"event_message": "x"}, event.NewSourceToken(), time.UnixMilli(ts))
	return e
}

func TestAggregatorMergesSortsAndTruncates(t *testing.T) {
	local := []event.LogEvent{mkEvent(100), mkEvent(300)}
	peerA := []event.LogEvent{mkEvent(200)}
	peerB := []event.LogEvent{mkEvent(50), mkEvent(400)}

	agg := New(Config{
		Peers:     StaticPeerList{{ID: "a"}, {ID: "b"}},
		Requester: stubRequester{byPeer: map[string][]event.LogEvent{"a": peerA, "b": peerB}},
		Caches:    stubLister{events: local},
		NodeID:    "node-a",
	})

	merged := agg.ListForCluster(context.Background(), "s1")
	if len(merged) != 5 {
		t.Fatalf("merged len = %d, want 5", len(merged))
	}
	for i := 1; i < len(merged); i++ {
		if merged[i-1].Timestamp() > merged[i].Timestamp() {
			t.Fatalf("merged not sorted ascending at index %d", i)
		}
	}
}

func TestAggregatorFallsBackToLocalWhenAllPeersFail(t *testing.T) {
	local := []event.LogEvent{mkEvent(100)}

	agg := New(Config{
		Peers:     StaticPeerList{{ID: "a"}, {ID: "b"}},
		Requester: stubRequester{fail: map[string]bool{"a": true, "b": true}},
		Caches:    stubLister{events: local},
		NodeID:    "node-a",
	})

	merged := agg.ListForCluster(context.Background(), "s1")
	if len(merged) != 1 || merged[0].Timestamp() != 100 {
		t.Fatalf("expected fallback to local snapshot, got %+v", merged)
	}
}

func TestAggregatorNoPeersReturnsLocal(t *testing.T) {
	local := []event.LogEvent{mkEvent(1), mkEvent(2)}
	agg := New(Config{Peers: StaticPeerList{}, Requester: stubRequester{}, Caches: stubLister{events: local}})

	merged := agg.ListForCluster(context.Background(), "s1")
	if len(merged) != 2 {
		t.Fatalf("merged len = %d, want 2 (local only, no peers)", len(merged))
	}
}

func TestAggregatorTruncatesToCapacity(t *testing.T) {
	var local []event.LogEvent
	for i := int64(0); i < 150; i++ {
		local = append(local, mkEvent(i))
	}
	agg := New(Config{
		Peers:     StaticPeerList{{ID: "a"}},
		Requester: stubRequester{byPeer: map[string][]event.LogEvent{"a": {}}},
		Caches:    stubLister{events: local},
	})

	merged := agg.ListForCluster(context.Background(), "s1")
	if len(merged) != clusterListLimit {
		t.Fatalf("merged len = %d, want %d", len(merged), clusterListLimit)
	}
	if merged[len(merged)-1].Timestamp() != 149 {
		t.Fatalf("truncation kept wrong tail: last timestamp = %d, want 149", merged[len(merged)-1].Timestamp())
	}
}
