package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"tapline/internal/event"
)

// Peer identifies one other node reachable over HTTP.
type Peer struct {
	ID      string
	BaseURL string
}

// PeerLister enumerates the peer nodes currently reachable in the
// cluster. A single-node deployment satisfies it trivially by returning
// an empty list, which makes ListForCluster fall straight back to local.
type PeerLister interface {
	Peers(ctx context.Context) ([]Peer, error)
}

// StaticPeerList is a PeerLister backed by a fixed, operator-configured
// list — the simplest membership strategy, and a reasonable default
// before wiring in a real service-discovery mechanism.
type StaticPeerList []Peer

// Peers returns the static list unchanged.
func (s StaticPeerList) Peers(context.Context) ([]Peer, error) {
	return []Peer(s), nil
}

// PeerClient asks one peer's recent-logs cache for a source's events.
// Mirrors the teacher's own ingester/http and receiver/http wire style:
// plain HTTP + JSON, not the gRPC+protobuf transport the teacher's
// cluster package used against a generated api/gen client we cannot
// regenerate here (see DESIGN.md).
type PeerClient struct {
	httpClient *http.Client
}

// NewPeerClient creates a PeerClient using the given *http.Client, or a
// sane-default client with a 5 s overall request timeout if nil.
func NewPeerClient(httpClient *http.Client) *PeerClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &PeerClient{httpClient: httpClient}
}

// List requests peer's recent-logs cache contents for sourceID over
// GET {peer.BaseURL}/internal/cluster/sources/{sourceID}/recent.
func (c *PeerClient) List(ctx context.Context, peer Peer, sourceID string) ([]event.LogEvent, error) {
	u := fmt.Sprintf("%s/internal/cluster/sources/%s/recent", peer.BaseURL, url.PathEscape(sourceID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("cluster: build request to %s: %w", peer.ID, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cluster: request to %s: %w", peer.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cluster: peer %s returned status %d", peer.ID, resp.StatusCode)
	}

	var events []event.LogEvent
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, fmt.Errorf("cluster: decode response from %s: %w", peer.ID, err)
	}
	return events, nil
}

// ServeRecent writes events as a JSON array, the response shape
// PeerClient.List expects. It is the server side of the same endpoint,
// meant to be mounted at the path List requests.
func ServeRecent(events []event.LogEvent) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(events); err != nil {
		return nil, fmt.Errorf("cluster: encode recent events: %w", err)
	}
	return buf.Bytes(), nil
}
