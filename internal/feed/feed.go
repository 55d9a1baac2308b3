// Package feed is the HTTP+JSON ingress: POST a batch of raw log
// parameters for a source, or GET a source's recent events (local tail
// or cluster-wide). It is a thin transport shim over pipeline.Pipeline,
// cluster.Aggregator and recentlogs.Cache — grounded on the teacher's
// internal/ingester/http (request shape, bodyutil read limits) run as a
// server rather than an ingester.Run loop, since the pipeline here is a
// synchronous call rather than an orchestrator.IngestMessage channel.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"tapline/internal/cluster"
	"tapline/internal/event"
	"tapline/internal/ingester/bodyutil"
	"tapline/internal/logging"
	"tapline/internal/pipeline"
	"tapline/internal/recentlogs"
	"tapline/internal/registry"
	"tapline/internal/source"
)

// maxBodyBytes bounds a single ingest request, matching the teacher's
// HTTP ingester's read limit.
const maxBodyBytes = 10 << 20

// Ingester is satisfied by *pipeline.Pipeline.
type Ingester interface {
	Ingest(ctx context.Context, sourceToken event.SourceToken, rawEvents []map[string]any) error
}

// Server wires the ingest and read endpoints together behind a
// *http.ServeMux.
type Server struct {
	sources    *source.Registry
	pipeline   Ingester
	caches     *registry.Registry[source.Key, *recentlogs.Cache]
	aggregator *cluster.Aggregator
	logger     *slog.Logger
}

// Config configures a Server.
type Config struct {
	Sources    *source.Registry
	Pipeline   Ingester
	Caches     *registry.Registry[source.Key, *recentlogs.Cache]
	Aggregator *cluster.Aggregator
	Logger     *slog.Logger
}

// New creates a Server.
func New(cfg Config) *Server {
	return &Server{
		sources:    cfg.Sources,
		pipeline:   cfg.Pipeline,
		caches:     cfg.Caches,
		aggregator: cfg.Aggregator,
		logger:     logging.Default(cfg.Logger).With("component", "feed"),
	}
}

// Mux builds the HTTP routes: ingest, the recent-logs tail (cluster-wide
// when an Aggregator is set, else local), the cluster-internal peer
// endpoint PeerClient.List requests, and a readiness probe.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sources/{token}/ingest", s.handleIngest)
	mux.HandleFunc("GET /sources/{id}/recent", s.handleRecent)
	mux.HandleFunc("GET /internal/cluster/sources/{id}/recent", s.handleClusterPeerRecent)
	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	return mux
}

func (s *Server) handleIngest(w http.ResponseWriter, req *http.Request) {
	tok, err := event.ParseSourceToken(req.PathValue("token"))
	if err != nil {
		http.Error(w, "invalid source token", http.StatusBadRequest)
		return
	}

	data, err := bodyutil.ReadBody(req.Body, req.Header.Get("Content-Encoding"), maxBodyBytes)
	if err != nil {
		http.Error(w, "failed to read body: "+err.Error(), http.StatusBadRequest)
		return
	}

	var rawEvents []map[string]any
	if err := json.Unmarshal(data, &rawEvents); err != nil {
		s.logger.Warn("feed: invalid ingest body", "error", err)
		http.Error(w, "invalid JSON body: expected an array of event objects", http.StatusBadRequest)
		return
	}

	if err := s.pipeline.Ingest(req.Context(), tok, rawEvents); err != nil {
		if errors.Is(err, pipeline.ErrUnknownSource) {
			http.Error(w, "unknown source token", http.StatusNotFound)
			return
		}
		s.logger.Error("feed: ingest failed", "error", err)
		http.Error(w, "ingest failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRecent(w http.ResponseWriter, req *http.Request) {
	sourceID := req.PathValue("id")
	if _, ok := s.sources.Get(sourceID); !ok {
		http.Error(w, "unknown source", http.StatusNotFound)
		return
	}

	events := []event.LogEvent{}
	if s.aggregator != nil {
		events = s.aggregator.ListForCluster(req.Context(), sourceID)
	} else if cache, ok := s.caches.Lookup(source.RecentLogsKey(sourceID)); ok {
		events = cache.Snapshot()
	}

	s.writeJSON(w, events)
}

// handleClusterPeerRecent is the server side of PeerClient.List: it
// returns this node's own snapshot only, never the aggregated view,
// otherwise a cluster list would recurse across every node forever.
func (s *Server) handleClusterPeerRecent(w http.ResponseWriter, req *http.Request) {
	sourceID := req.PathValue("id")
	cache, ok := s.caches.Lookup(source.RecentLogsKey(sourceID))
	if !ok {
		s.writeJSON(w, []event.LogEvent{})
		return
	}
	s.writeJSON(w, cache.Snapshot())
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("feed: encode response failed", "error", err)
	}
}
