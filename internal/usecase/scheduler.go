package usecase

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"BillScanner/internal/domain"
	"BillScanner/internal/ports"
)

// Scheduler wires the interval driver with the pipeline use case. Every trigger
// processes the run named after the trigger date.
type Scheduler struct {
	driver   ports.Scheduler
	pipeline *Pipeline
	logger   *slog.Logger
	// AfterRun, when set, is called after every triggered run, e.g. to export metrics.
	AfterRun func(run domain.Run, reports []StageReport, err error)
}

// NewScheduler returns a helper to start/stop recurring jobs.
func NewScheduler(driver ports.Scheduler, pipeline *Pipeline, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Scheduler{driver: driver, pipeline: pipeline, logger: logger}
}

// Start registers the pipeline with the provided scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.pipeline == nil {
		return nil
	}

	job := func(trigger time.Time) {
		s.Trigger(ctx, trigger)
	}

	return s.driver.Start(ctx, job)
}

// Trigger runs every stage for the run dated at trigger.
func (s *Scheduler) Trigger(ctx context.Context, trigger time.Time) {
	run := domain.DatedRun(trigger)
	executionID := uuid.NewString()
	log := s.logger.With("run", run, "execution_id", executionID)

	log.Info("scheduled run started")
	reports, err := s.pipeline.WithLogger(log).RunAll(ctx, run, executionID)
	if err != nil {
		log.Error("scheduled run failed", "error", err)
	} else {
		log.Info("scheduled run finished", "stages", len(reports))
	}

	if s.AfterRun != nil {
		s.AfterRun(run, reports, err)
	}
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
