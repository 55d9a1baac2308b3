// Package supervisor implements the source supervisor (C7): starts and
// stops the full set of per-source workers (recent-logs cache, memory
// buffer, one backend adaptor per configured SourceBackend) with
// one-for-one semantics — one backend failing to start never prevents
// its siblings from starting, grounded on
// internal/orchestrator/lifecycle.go's running-bool + CancelFunc +
// WaitGroup shutdown sequencing.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"tapline/internal/backend"
	"tapline/internal/buffer"
	"tapline/internal/logging"
	"tapline/internal/recentlogs"
	"tapline/internal/registry"
	"tapline/internal/source"
)

// ErrAlreadyStarted is returned by Start on an already-running source.
var ErrAlreadyStarted = errors.New("supervisor: already_started")

// ErrNotStarted is returned by Stop/Restart on a source that isn't running.
var ErrNotStarted = errors.New("supervisor: not_started")

type sourceState struct {
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// Supervisor owns the lifecycle of every source's C2/C3/C4 workers.
type Supervisor struct {
	sources   *source.Registry
	buffers   *registry.Registry[source.Key, *buffer.Buffer]
	caches    *registry.Registry[source.Key, *recentlogs.Cache]
	adaptors  *registry.Registry[source.Key, backend.Adaptor]
	scheduler *recentlogs.Scheduler
	lock      recentlogs.Lock
	toucher   recentlogs.Toucher
	counter   recentlogs.Counter
	nodeID    string
	logger    *slog.Logger

	mu     sync.Mutex
	states map[string]*sourceState
}

// Config configures a Supervisor.
type Config struct {
	Sources   *source.Registry
	Buffers   *registry.Registry[source.Key, *buffer.Buffer]
	Caches    *registry.Registry[source.Key, *recentlogs.Cache]
	Adaptors  *registry.Registry[source.Key, backend.Adaptor]
	Scheduler *recentlogs.Scheduler
	Lock      recentlogs.Lock
	Toucher   recentlogs.Toucher
	Counter   recentlogs.Counter
	NodeID    string
	Logger    *slog.Logger
}

// New creates a Supervisor.
func New(cfg Config) *Supervisor {
	return &Supervisor{
		sources:   cfg.Sources,
		buffers:   cfg.Buffers,
		caches:    cfg.Caches,
		adaptors:  cfg.Adaptors,
		scheduler: cfg.Scheduler,
		lock:      cfg.Lock,
		toucher:   cfg.Toucher,
		counter:   cfg.Counter,
		nodeID:    cfg.NodeID,
		logger:    logging.Default(cfg.Logger).With("component", "supervisor"),
		states:    make(map[string]*sourceState),
	}
}

func (s *Supervisor) stateFor(sourceID string) *sourceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[sourceID]
	if !ok {
		st = &sourceState{}
		s.states[sourceID] = st
	}
	return st
}

// Start launches C2, C3, and one adaptor per configured SourceBackend
// for sourceID. A backend that fails to start is logged and skipped;
// it never prevents its siblings from starting (one-for-one).
func (s *Supervisor) Start(ctx context.Context, sourceID string) error {
	src, ok := s.sources.Get(sourceID)
	if !ok {
		return fmt.Errorf("supervisor: unknown source %s", sourceID)
	}

	st := s.stateFor(sourceID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.running {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(context.Background())

	buf := buffer.New(buffer.Config{SourceID: sourceID, Logger: s.logger})
	if err := s.buffers.Register(source.BufferKey(sourceID), buf, nil); err != nil {
		cancel()
		return fmt.Errorf("supervisor: register buffer for %s: %w", sourceID, err)
	}

	cache := recentlogs.New(recentlogs.Config{
		SourceID:    sourceID,
		SourceToken: src.Token,
		Scheduler:   s.scheduler,
		Lock:        s.lock,
		Toucher:     s.toucher,
		Counter:     s.counter,
		NodeID:      s.nodeID,
		Logger:      s.logger,
	})
	if err := s.caches.Register(source.RecentLogsKey(sourceID), cache, nil); err != nil {
		s.buffers.Unregister(source.BufferKey(sourceID))
		cancel()
		return fmt.Errorf("supervisor: register cache for %s: %w", sourceID, err)
	}

	backends, err := s.sources.ListBackends(ctx, sourceID)
	if err != nil {
		s.buffers.Unregister(source.BufferKey(sourceID))
		s.caches.Unregister(source.RecentLogsKey(sourceID))
		cancel()
		return fmt.Errorf("supervisor: list backends for %s: %w", sourceID, err)
	}

	for _, b := range backends {
		adaptor, err := backend.New(b.Type, b.ID, sourceID, b.Config)
		if err != nil {
			s.logger.Error("supervisor: construct adaptor failed, skipping", "source", sourceID, "backend", b.ID, "type", b.Type, "error", err)
			continue
		}
		if err := adaptor.Start(runCtx); err != nil {
			s.logger.Error("supervisor: start adaptor failed, skipping", "source", sourceID, "backend", b.ID, "type", b.Type, "error", err)
			continue
		}
		if err := s.adaptors.Register(source.DispatchKey(sourceID, b.ID), adaptor, nil); err != nil {
			s.logger.Error("supervisor: register adaptor failed", "source", sourceID, "backend", b.ID, "error", err)
			_ = adaptor.Stop(ctx)
			continue
		}
	}

	st.cancel = cancel
	st.running = true
	s.logger.Info("supervisor: source started", "source", sourceID, "backends", len(backends))
	return nil
}

// Stop terminates sourceID's cache, buffer, and every running adaptor.
func (s *Supervisor) Stop(ctx context.Context, sourceID string) error {
	st := s.stateFor(sourceID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.running {
		return ErrNotStarted
	}

	st.cancel()

	keep := func(k source.Key) bool { return source.IsDispatchKeyFor(sourceID, k) }
	var toStop []struct {
		key     source.Key
		adaptor backend.Adaptor
	}
	s.adaptors.Dispatch(keep, func(k source.Key, a backend.Adaptor, _ any) {
		toStop = append(toStop, struct {
			key     source.Key
			adaptor backend.Adaptor
		}{k, a})
	})
	for _, entry := range toStop {
		if err := entry.adaptor.Stop(ctx); err != nil {
			s.logger.Warn("supervisor: adaptor stop failed", "source", sourceID, "error", err)
		}
		s.adaptors.Unregister(entry.key)
	}

	s.buffers.Unregister(source.BufferKey(sourceID))
	s.caches.Unregister(source.RecentLogsKey(sourceID))
	s.scheduler.Unregister(sourceID)

	st.running = false
	st.cancel = nil
	s.logger.Info("supervisor: source stopped", "source", sourceID)
	return nil
}

// Restart stops then starts sourceID. Fails with ErrNotStarted if the
// source was not running.
func (s *Supervisor) Restart(ctx context.Context, sourceID string) error {
	if err := s.Stop(ctx, sourceID); err != nil {
		return err
	}
	return s.Start(ctx, sourceID)
}

// Started reports whether sourceID's workers are currently running.
func (s *Supervisor) Started(sourceID string) bool {
	st := s.stateFor(sourceID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.running
}
