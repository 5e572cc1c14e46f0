// Package exposure runs the sensor assignment batch and serves per-school
// exposure estimates with their threshold classification.
package exposure

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/GavinKingcome/schools-air-quality-msp4/internal/airquality"
)

// Store is the persistence the exposure service needs.
type Store interface {
	ListSensors(ctx context.Context) ([]airquality.Sensor, error)
	ListSchools(ctx context.Context) ([]airquality.School, error)
	GetSchool(ctx context.Context, urn string) (airquality.School, error)
	SaveAssignments(ctx context.Context, assignments map[string]airquality.Assignment, assignedAt time.Time) error
}

// SnapshotSource provides the cached sensor snapshot.
type SnapshotSource interface {
	GetSnapshot(ctx context.Context) (*airquality.Snapshot, error)
}

// Config holds configuration for the exposure service.
type Config struct {
	Store      Store
	Snapshots  SnapshotSource
	Resolver   *airquality.Resolver
	Estimator  *airquality.Estimator
	Classifier *airquality.Classifier

	// Metrics is optional.
	Metrics *Metrics

	Logger zerolog.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Service coordinates the engine components over the store.
type Service struct {
	store      Store
	snapshots  SnapshotSource
	resolver   *airquality.Resolver
	estimator  *airquality.Estimator
	classifier *airquality.Classifier
	metrics    *Metrics
	logger     zerolog.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

// NewService creates a new exposure service.
func NewService(cfg Config) (*Service, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("exposure: store is required")
	case cfg.Snapshots == nil:
		return nil, errors.New("exposure: snapshot source is required")
	case cfg.Resolver == nil, cfg.Estimator == nil, cfg.Classifier == nil:
		return nil, fmt.Errorf("exposure: %w: resolver, estimator and classifier are required", airquality.ErrInvalidConfig)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		store:      cfg.Store,
		snapshots:  cfg.Snapshots,
		resolver:   cfg.Resolver,
		estimator:  cfg.Estimator,
		classifier: cfg.Classifier,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		tracer:     otel.Tracer(instrumentationName),
		now:        now,
	}, nil
}

// RunOptions controls an assignment run.
type RunOptions struct {
	// DryRun computes assignments without saving them.
	DryRun bool

	// Resolver overrides the configured resolver for this run.
	Resolver *airquality.Resolver
}

// RunSummary reports the outcome of an assignment run.
type RunSummary struct {
	RunID           string                           `json:"run_id"`
	DryRun          bool                             `json:"dry_run"`
	Schools         int                              `json:"schools"`
	Assigned        int                              `json:"assigned"`
	BySource        map[airquality.DataSource]int    `json:"by_source"`
	DirectByNetwork map[airquality.Network]int       `json:"direct_by_network"`
	Skipped         []string                         `json:"skipped"`
	Thresholds      airquality.ResolverConfig        `json:"-"`
	Assignments     map[string]airquality.Assignment `json:"-"`
	StartedAt       time.Time                        `json:"started_at"`
	Duration        time.Duration                    `json:"-"`
}

// RunAssignment resolves every school against the current sensor inventory
// and saves all assignments in one write. Schools without coordinates keep
// their previous assignment.
func (s *Service) RunAssignment(ctx context.Context, opts RunOptions) (RunSummary, error) {
	resolver := s.resolver
	if opts.Resolver != nil {
		resolver = opts.Resolver
	}

	summary := RunSummary{
		RunID:           uuid.NewString(),
		DryRun:          opts.DryRun,
		BySource:        make(map[airquality.DataSource]int),
		DirectByNetwork: make(map[airquality.Network]int),
		Thresholds:      resolver.Config(),
		StartedAt:       s.now().UTC(),
	}

	ctx, span := s.tracer.Start(ctx, "exposure.RunAssignment", trace.WithAttributes(
		attribute.String("run_id", summary.RunID),
		attribute.Bool("dry_run", opts.DryRun),
	))
	defer span.End()

	logger := s.logger.With().Str("run_id", summary.RunID).Bool("dry_run", opts.DryRun).Logger()

	schools, err := s.store.ListSchools(ctx)
	if err != nil {
		return s.fail(span, summary, fmt.Errorf("list schools: %w", err))
	}
	sensors, err := s.store.ListSensors(ctx)
	if err != nil {
		return s.fail(span, summary, fmt.Errorf("list sensors: %w", err))
	}

	logger.Info().
		Int("schools", len(schools)).
		Int("sensors", len(sensors)).
		Float64("direct_threshold_m", summary.Thresholds.DirectThreshold).
		Float64("reference_threshold_m", summary.Thresholds.ReferenceThreshold).
		Msg("starting assignment run")

	result := resolver.ResolveAll(schools, sensors)

	networks := make(map[string]airquality.Network, len(sensors))
	for _, sensor := range sensors {
		networks[sensor.SiteCode] = sensor.Network
	}

	summary.Schools = len(schools)
	summary.Assigned = len(result.Assignments)
	summary.Skipped = result.Skipped
	summary.Assignments = result.Assignments
	for _, a := range result.Assignments {
		summary.BySource[a.DataSource]++
		if a.DirectSensor.Valid {
			summary.DirectByNetwork[networks[a.DirectSensor.String]]++
		}
	}
	for _, urn := range result.Skipped {
		logger.Warn().Str("urn", urn).Msg("school has no usable coordinates, keeping previous assignment")
	}

	if !opts.DryRun && len(result.Assignments) > 0 {
		if err := s.store.SaveAssignments(ctx, result.Assignments, summary.StartedAt); err != nil {
			return s.fail(span, summary, fmt.Errorf("save assignments: %w", err))
		}
	}

	summary.Duration = s.now().Sub(summary.StartedAt)
	s.metrics.recordRun(ctx, summary)

	span.SetAttributes(
		attribute.Int("schools", summary.Schools),
		attribute.Int("assigned", summary.Assigned),
		attribute.Int("skipped", len(summary.Skipped)),
	)

	logger.Info().
		Int("assigned", summary.Assigned).
		Int("direct", summary.BySource[airquality.DataSourceDirect]).
		Int("adjusted", summary.BySource[airquality.DataSourceAdjusted]).
		Int("baseline_only", summary.BySource[airquality.DataSourceBaselineOnly]).
		Int("skipped", len(summary.Skipped)).
		Msg("assignment run complete")

	return summary, nil
}

func (s *Service) fail(span trace.Span, summary RunSummary, err error) (RunSummary, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return summary, err
}

// SchoolEstimate is a school with its current estimate and classification.
type SchoolEstimate struct {
	School   airquality.School
	Estimate airquality.Estimate
	Status   airquality.ThresholdStatus
}

// Estimate returns the current estimate for one school.
func (s *Service) Estimate(ctx context.Context, urn string) (SchoolEstimate, error) {
	school, err := s.store.GetSchool(ctx, urn)
	if err != nil {
		return SchoolEstimate{}, err
	}
	snapshot, err := s.snapshots.GetSnapshot(ctx)
	if err != nil {
		return SchoolEstimate{}, err
	}
	return s.estimate(ctx, school, snapshot, s.now()), nil
}

// EstimateAll returns the current estimate for every school, ordered by URN.
// All estimates share one snapshot and one clock reading.
func (s *Service) EstimateAll(ctx context.Context) ([]SchoolEstimate, error) {
	schools, err := s.store.ListSchools(ctx)
	if err != nil {
		return nil, err
	}
	snapshot, err := s.snapshots.GetSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	out := make([]SchoolEstimate, 0, len(schools))
	for _, school := range schools {
		out = append(out, s.estimate(ctx, school, snapshot, now))
	}
	return out, nil
}

func (s *Service) estimate(ctx context.Context, school airquality.School, data airquality.Lookup, now time.Time) SchoolEstimate {
	est := s.estimator.Estimate(school, data, now)
	s.metrics.recordEstimate(ctx, est.Method)

	if est.Method == airquality.MethodNone {
		s.logger.Debug().Str("urn", school.URN).Msg("no estimate available for school")
	}

	return SchoolEstimate{
		School:   school,
		Estimate: est,
		Status:   s.classifier.Classify(est.Values),
	}
}

// Classifier returns the threshold classifier in use.
func (s *Service) Classifier() *airquality.Classifier {
	return s.classifier
}

// ResolverConfig returns the thresholds of the configured resolver.
func (s *Service) ResolverConfig() airquality.ResolverConfig {
	return s.resolver.Config()
}
