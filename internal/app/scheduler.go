/**
 * @description
 * Cron scheduler setup for the sweeper, expiry-warning, and webhook
 * reprocessing jobs.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// ScheduleConfig holds the cron expressions for each job.
type ScheduleConfig struct {
	SweepSchedule         string
	ExpiryWarningSchedule string
	ReprocessSchedule     string
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger *slog.Logger
	config ScheduleConfig
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger, cfg ScheduleConfig) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		logger: logger,
		config: cfg,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.config.SweepSchedule, s.jobs.RunExpirationSweep); err != nil {
		s.logger.Error("failed to schedule expiration sweep", "error", err)
	} else {
		s.logger.Info("scheduled expiration sweep", "schedule", s.config.SweepSchedule)
	}

	if _, err := s.cron.AddFunc(s.config.ExpiryWarningSchedule, s.jobs.RunExpiryWarnings); err != nil {
		s.logger.Error("failed to schedule expiry warnings", "error", err)
	} else {
		s.logger.Info("scheduled expiry warnings", "schedule", s.config.ExpiryWarningSchedule)
	}

	if _, err := s.cron.AddFunc(s.config.ReprocessSchedule, s.jobs.RunWebhookReprocessing); err != nil {
		s.logger.Error("failed to schedule webhook reprocessing", "error", err)
	} else {
		s.logger.Info("scheduled webhook reprocessing", "schedule", s.config.ReprocessSchedule)
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
