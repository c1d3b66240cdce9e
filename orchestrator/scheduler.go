package orchestrator

import (
	"context"
	"log"

	"github.com/robfig/cron/v3"
)

// Scheduler dispatches recurring tasks through an orchestrator on cron
// schedules. It is a thin convenience over Run: outcomes are logged, not
// stored, and the orchestrator is unaware of being scheduled.
type Scheduler struct {
	orch *Orchestrator
	cron *cron.Cron
}

// NewScheduler creates a stopped scheduler bound to the orchestrator.
// Call Start to begin dispatching.
func NewScheduler(o *Orchestrator) *Scheduler {
	return &Scheduler{
		orch: o,
		cron: cron.New(),
	}
}

// Add schedules description for dispatch with the given strategy on a
// standard five-field cron expression. The entry ID can be used with
// Remove.
func (s *Scheduler) Add(spec, description string, strategy Strategy) (cron.EntryID, error) {
	return s.cron.AddFunc(spec, func() {
		result, err := s.orch.Run(context.Background(), description, strategy)
		if err != nil {
			log.Printf("[Scheduler] Scheduled task failed: %v", err)
			return
		}
		if result.Agent != "" {
			log.Printf("[Scheduler] Task completed by %s: %s", result.Agent, truncate(result.Output, 50))
		} else {
			log.Printf("[Scheduler] Task completed (%s)", result.Strategy)
		}
	})
}

// Remove cancels a scheduled entry.
func (s *Scheduler) Remove(id cron.EntryID) {
	s.cron.Remove(id)
}

// Entries returns snapshots of the scheduled entries.
func (s *Scheduler) Entries() []cron.Entry {
	return s.cron.Entries()
}

// Start begins dispatching in the scheduler's own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling new dispatches. The returned context completes
// when dispatches already in flight have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
