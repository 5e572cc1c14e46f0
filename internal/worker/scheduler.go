package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
)

// Scheduler triggers jobs on a fixed schedule through a Dispatcher.
type Scheduler struct {
	scheduler  *gocron.Scheduler
	dispatcher *Dispatcher
	config     ScheduleConfig
	timeout    time.Duration
	logger     zerolog.Logger
}

// NewScheduler creates a new Scheduler. Jobs run in UTC.
func NewScheduler(d *Dispatcher, cfg ScheduleConfig, logger zerolog.Logger) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	return &Scheduler{
		scheduler:  s,
		dispatcher: d,
		config:     cfg,
		timeout:    30 * time.Minute,
		logger:     logger,
	}
}

// Start registers the periodic jobs and starts the scheduler.
func (s *Scheduler) Start() error {
	minutes := int(s.config.ReadingsInterval.Minutes())
	if minutes <= 0 {
		minutes = 15
	}

	if _, err := s.scheduler.Every(minutes).Minutes().Do(s.run, JobMessage{JobType: JobFetchReadings}); err != nil {
		return fmt.Errorf("schedule %s: %w", JobFetchReadings, err)
	}

	daily := []struct {
		at  string
		msg JobMessage
	}{
		{s.config.SensorSyncAt, JobMessage{JobType: JobSyncSensors}},
		{s.config.AnnualStatsAt, JobMessage{JobType: JobFetchAnnualStats}},
		{s.config.AssignmentAt, JobMessage{JobType: JobAssignSensors}},
	}
	for _, job := range daily {
		if job.at == "" {
			continue
		}
		if _, err := s.scheduler.Every(1).Day().At(job.at).Do(s.run, job.msg); err != nil {
			return fmt.Errorf("schedule %s at %s: %w", job.msg.JobType, job.at, err)
		}
	}

	s.logger.Info().
		Int("readings_every_minutes", minutes).
		Str("sensor_sync_at", s.config.SensorSyncAt).
		Str("annual_stats_at", s.config.AnnualStatsAt).
		Str("assignment_at", s.config.AssignmentAt).
		Msg("scheduler started")

	s.scheduler.StartAsync()
	return nil
}

// Jobs returns the number of registered jobs.
func (s *Scheduler) Jobs() int {
	return len(s.scheduler.Jobs())
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

func (s *Scheduler) run(msg JobMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	if err := s.dispatcher.Dispatch(ctx, msg); err != nil {
		s.logger.Error().Err(err).Str("job_type", msg.JobType).Msg("scheduled job failed")
		return
	}
	s.logger.Info().
		Str("job_type", msg.JobType).
		Dur("duration", time.Since(start)).
		Msg("scheduled job completed")
}
