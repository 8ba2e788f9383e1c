// Package schedule runs programs on cron expressions.
//
// Each job has max-instances=1 semantics: if a run is still in flight
// when its next trigger fires, the trigger is skipped rather than
// queued. Scheduled runs flow through the same dispatch path as HTTP
// requests, so they are admitted, traced, logged and counted the same
// way.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/robfig/cron/v3"

	"github.com/ashita-ai/enso/internal/dispatch"
)

// Job binds a cron expression to a program invocation.
type Job struct {
	Program string
	Spec    string // standard 5-field cron expression
	Inputs  map[string]any
}

// Scheduler drives cron-triggered program runs.
type Scheduler struct {
	cron   *cron.Cron
	engine *dispatch.Engine
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler. Jobs are added with Add before Start.
func New(engine *dispatch.Engine, logger *slog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(),
		engine: engine,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers a job. The program must exist in the registry; the
// cron spec is validated here so misconfiguration fails at startup.
func (s *Scheduler) Add(job Job) error {
	if _, _, err := s.engine.Registry().Resolve(job.Program); err != nil {
		return fmt.Errorf("schedule: %w", err)
	}

	var running atomic.Bool
	_, err := s.cron.AddFunc(job.Spec, func() {
		if !running.CompareAndSwap(false, true) {
			s.logger.Warn("schedule: previous run still in flight, skipping trigger",
				"program", job.Program, "spec", job.Spec)
			return
		}
		defer running.Store(false)

		result, err := s.engine.Execute(s.ctx, job.Program, job.Inputs)
		if err != nil {
			s.logger.Error("schedule: run failed",
				"program", job.Program, "request_id", result.RequestID, "error", err)
			return
		}
		s.logger.Info("schedule: run completed",
			"program", job.Program, "request_id", result.RequestID,
			"duration_ms", result.DurationMS)
	})
	if err != nil {
		return fmt.Errorf("schedule: add job for %q: %w", job.Program, err)
	}
	return nil
}

// Start begins firing triggers.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts new triggers and cancels in-flight scheduled runs, then
// waits for their cron wrappers to return.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("schedule: stop: %w", ctx.Err())
	}
}
