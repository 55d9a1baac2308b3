// Package recentlogs implements the recent-logs cache (C2): a bounded
// ring buffer of recent events per source, a 500ms broadcast tick that
// fans buffered events out to live-tail subscribers, and a jittered
// touch tick that timestamps source.Source.LogEventsUpdatedAt so idle
// sources eventually age out of "recently active" views.
package recentlogs

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"tapline/internal/logging"
)

// Scheduler is the shared gocron scheduler backing every source's
// broadcast and touch ticks, mirroring the teacher's
// internal/orchestrator.Scheduler: one process-wide scheduler, many
// named jobs registered and torn down as sources start and stop.
type Scheduler struct {
	mu     sync.Mutex
	gs     gocron.Scheduler
	jobs   map[string][2]gocron.Job // source ID -> [broadcast, touch]
	logger *slog.Logger
}

// NewScheduler creates and starts the shared scheduler.
func NewScheduler(logger *slog.Logger) (*Scheduler, error) {
	gs, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("recentlogs: create scheduler: %w", err)
	}
	gs.Start()
	return &Scheduler{
		gs:     gs,
		jobs:   make(map[string][2]gocron.Job),
		logger: logging.Default(logger),
	}, nil
}

// Register schedules broadcast (every 500ms) and touch (every 45-75min,
// uniformly jittered) jobs for sourceID. A no-op if already registered.
func (s *Scheduler) Register(sourceID string, broadcast, touch func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[sourceID]; ok {
		return nil
	}

	bj, err := s.gs.NewJob(
		gocron.DurationJob(500*time.Millisecond),
		gocron.NewTask(broadcast),
		gocron.WithName("recentlogs-broadcast-"+sourceID),
	)
	if err != nil {
		return fmt.Errorf("recentlogs: schedule broadcast for %s: %w", sourceID, err)
	}

	tj, err := s.gs.NewJob(
		gocron.DurationRandomJob(45*time.Minute, 75*time.Minute),
		gocron.NewTask(touch),
		gocron.WithName("recentlogs-touch-"+sourceID),
	)
	if err != nil {
		if rmErr := s.gs.RemoveJob(bj.ID()); rmErr != nil {
			s.logger.Warn("recentlogs: cleanup broadcast job after touch registration failure", "source", sourceID, "error", rmErr)
		}
		return fmt.Errorf("recentlogs: schedule touch for %s: %w", sourceID, err)
	}

	s.jobs[sourceID] = [2]gocron.Job{bj, tj}
	s.logger.Info("recentlogs: ticks registered", "source", sourceID)
	return nil
}

// Unregister removes the broadcast and touch jobs for sourceID. A no-op
// if sourceID was never registered.
func (s *Scheduler) Unregister(sourceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pair, ok := s.jobs[sourceID]
	if !ok {
		return
	}
	for _, j := range pair {
		if err := s.gs.RemoveJob(j.ID()); err != nil {
			s.logger.Warn("recentlogs: remove job", "source", sourceID, "error", err)
		}
	}
	delete(s.jobs, sourceID)
}

// Stop shuts the scheduler down, waiting for in-flight ticks to finish.
func (s *Scheduler) Stop() error {
	return s.gs.Shutdown()
}
