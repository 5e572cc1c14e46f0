package worker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/guregu/null/v5"
	"github.com/rs/zerolog"

	"github.com/GavinKingcome/schools-air-quality-msp4/internal/airquality"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/airquality/laqn"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/exposure"
)

// Job types accepted by the worker.
const (
	JobSyncSensors        = "sync_sensors"
	JobFetchReadings      = "fetch_readings"
	JobFetchAnnualStats   = "fetch_annual_stats"
	JobComputeAnnualStats = "compute_annual_stats"
	JobAssignSensors      = "assign_sensors"
	JobHealthCheck        = "health_check"
)

// ErrNoFeeds is returned when a sync runs without any sensor feed.
var ErrNoFeeds = errors.New("no sensor feeds configured")

// SensorFeed is an upstream monitoring network.
type SensorFeed interface {
	Network() airquality.Network
	FetchSensors(ctx context.Context) ([]airquality.Sensor, error)
	FetchReadings(ctx context.Context, siteCode string, start, end time.Time) ([]airquality.Reading, error)
}

// AnnualStatsSource reports published annual means for a site.
type AnnualStatsSource interface {
	FetchAnnualStats(ctx context.Context, siteCode string, year int) (airquality.AnnualStats, error)
}

// Store is the persistence the jobs need.
type Store interface {
	UpsertSensors(ctx context.Context, sensors []airquality.Sensor) error
	ListSensors(ctx context.Context) ([]airquality.Sensor, error)
	UpsertReadings(ctx context.Context, readings []airquality.Reading) (int, error)
	ReadingsBetween(ctx context.Context, siteCode string, start, end time.Time) ([]airquality.Reading, error)
	UpsertAnnualStats(ctx context.Context, stats []airquality.AnnualStats) error
	HasAnnualStats(ctx context.Context, siteCode string, year int) (bool, error)
	Ping(ctx context.Context) error
}

// Assigner runs the sensor assignment batch.
type Assigner interface {
	RunAssignment(ctx context.Context, opts exposure.RunOptions) (exposure.RunSummary, error)
}

// JobsConfig holds configuration for creating Jobs.
type JobsConfig struct {
	Config      Config
	Feeds       []SensorFeed
	AnnualStats AnnualStatsSource
	Store       Store
	Assigner    Assigner
	Logger      zerolog.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Jobs implements the ingest and assignment jobs.
type Jobs struct {
	config      Config
	feeds       map[airquality.Network]SensorFeed
	feedOrder   []airquality.Network
	annualStats AnnualStatsSource
	store       Store
	assigner    Assigner
	logger      zerolog.Logger
	now         func() time.Time

	metrics *RunMetrics
}

// NewJobs creates the job runner.
func NewJobs(cfg JobsConfig) *Jobs {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	j := &Jobs{
		config:      cfg.Config.withDefaults(),
		feeds:       make(map[airquality.Network]SensorFeed, len(cfg.Feeds)),
		annualStats: cfg.AnnualStats,
		store:       cfg.Store,
		assigner:    cfg.Assigner,
		logger:      cfg.Logger,
		now:         now,
		metrics:     newRunMetrics(),
	}
	for _, f := range cfg.Feeds {
		if _, ok := j.feeds[f.Network()]; !ok {
			j.feedOrder = append(j.feedOrder, f.Network())
		}
		j.feeds[f.Network()] = f
	}
	return j
}

// SyncResult is the outcome of a sensor sync.
type SyncResult struct {
	Sensors map[airquality.Network]int
	Errors  []JobError
}

// JobError records a failure for one network or sensor.
type JobError struct {
	Network  airquality.Network
	SiteCode string
	Error    string
}

// SyncSensors refreshes the sensor inventory from every feed. A failing
// feed does not prevent the others from syncing.
func (j *Jobs) SyncSensors(ctx context.Context) (*SyncResult, error) {
	if len(j.feeds) == 0 {
		return nil, ErrNoFeeds
	}

	start := j.now()
	result := &SyncResult{Sensors: make(map[airquality.Network]int)}

	for _, network := range j.feedOrder {
		sensors, err := j.feeds[network].FetchSensors(ctx)
		if err == nil {
			err = j.store.UpsertSensors(ctx, sensors)
		}
		if err != nil {
			j.logger.Error().Err(err).Str("network", string(network)).Msg("sensor sync failed")
			result.Errors = append(result.Errors, JobError{Network: network, Error: err.Error()})
			continue
		}
		result.Sensors[network] = len(sensors)
		j.logger.Info().Str("network", string(network)).Int("sensors", len(sensors)).Msg("sensors synced")
	}

	total := 0
	for _, n := range result.Sensors {
		total += n
	}
	j.metrics.record(JobSyncSensors, j.now().Sub(start), total, len(result.Errors))

	if len(result.Errors) == len(j.feeds) {
		return result, fmt.Errorf("all %d feeds failed", len(j.feeds))
	}
	return result, nil
}

// FetchResult is the outcome of a readings fetch.
type FetchResult struct {
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Sensors    int
	Successful int
	Failed     int
	Readings   int
	Errors     []JobError
}

type sensorResult struct {
	sensor   airquality.Sensor
	readings int
	err      error
}

// FetchReadings fetches recent readings for every active sensor using a
// bounded worker pool, with a timeout per sensor.
func (j *Jobs) FetchReadings(ctx context.Context) (*FetchResult, error) {
	sensors, err := j.store.ListSensors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sensors: %w", err)
	}

	var targets []airquality.Sensor
	for _, s := range sensors {
		if !s.Active {
			continue
		}
		if _, ok := j.feeds[s.Network]; !ok {
			j.logger.Debug().Str("site_code", s.SiteCode).Str("network", string(s.Network)).Msg("no feed for sensor network")
			continue
		}
		targets = append(targets, s)
	}

	startTime := j.now()
	result := &FetchResult{StartTime: startTime, Sensors: len(targets)}
	windowEnd := startTime.UTC()
	windowStart := windowEnd.Add(-j.config.ReadingsLookback)

	j.logger.Info().
		Int("sensors", len(targets)).
		Int("concurrency", j.config.Concurrency).
		Time("window_start", windowStart).
		Msg("starting readings fetch")

	sensorsChan := make(chan airquality.Sensor, len(targets))
	resultsChan := make(chan sensorResult, len(targets))

	var wg sync.WaitGroup
	for i := 0; i < j.config.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for s := range sensorsChan {
				select {
				case <-ctx.Done():
					resultsChan <- sensorResult{sensor: s, err: ctx.Err()}
				default:
					resultsChan <- j.fetchSensor(ctx, s, windowStart, windowEnd)
				}
			}
		}()
	}

	for _, s := range targets {
		sensorsChan <- s
	}
	close(sensorsChan)

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	for sr := range resultsChan {
		if sr.err != nil {
			result.Failed++
			result.Errors = append(result.Errors, JobError{
				Network:  sr.sensor.Network,
				SiteCode: sr.sensor.SiteCode,
				Error:    sr.err.Error(),
			})
			continue
		}
		result.Successful++
		result.Readings += sr.readings
	}
	sort.Slice(result.Errors, func(a, b int) bool {
		return result.Errors[a].SiteCode < result.Errors[b].SiteCode
	})

	result.EndTime = j.now()
	result.Duration = result.EndTime.Sub(startTime)
	j.metrics.record(JobFetchReadings, result.Duration, result.Readings, result.Failed)

	j.logger.Info().
		Dur("duration", result.Duration).
		Int("successful", result.Successful).
		Int("failed", result.Failed).
		Int("readings", result.Readings).
		Msg("readings fetch completed")

	return result, nil
}

func (j *Jobs) fetchSensor(ctx context.Context, s airquality.Sensor, start, end time.Time) sensorResult {
	ctx, cancel := context.WithTimeout(ctx, j.config.SensorTimeout)
	defer cancel()

	readings, err := j.feeds[s.Network].FetchReadings(ctx, s.SiteCode, start, end)
	if err != nil {
		j.logger.Warn().Err(err).Str("site_code", s.SiteCode).Msg("failed to fetch readings")
		return sensorResult{sensor: s, err: err}
	}

	stored, err := j.store.UpsertReadings(ctx, readings)
	if err != nil {
		return sensorResult{sensor: s, err: fmt.Errorf("store readings: %w", err)}
	}
	return sensorResult{sensor: s, readings: stored}
}

// AnnualStatsOptions controls an annual stats fetch.
type AnnualStatsOptions struct {
	// Years to fetch. Defaults to the previous calendar year.
	Years []int

	// SiteCode limits the fetch to one sensor.
	SiteCode string

	// Overwrite replaces stats that already exist.
	Overwrite bool
}

// StatsResult is the outcome of an annual stats job.
type StatsResult struct {
	Stored  int
	Skipped int
	Errors  []JobError
}

// FetchAnnualStats fetches published annual means for active
// reference-grade sensors.
func (j *Jobs) FetchAnnualStats(ctx context.Context, opts AnnualStatsOptions) (*StatsResult, error) {
	if j.annualStats == nil {
		return nil, errors.New("no annual stats source configured")
	}

	years := opts.Years
	if len(years) == 0 {
		years = []int{j.now().Year() - 1}
	}

	sensors, err := j.store.ListSensors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sensors: %w", err)
	}

	start := j.now()
	result := &StatsResult{}
	var batch []airquality.AnnualStats

	for _, s := range sensors {
		if !s.Active || !s.IsReferenceGrade() {
			continue
		}
		if opts.SiteCode != "" && s.SiteCode != opts.SiteCode {
			continue
		}

		for _, year := range years {
			if !opts.Overwrite {
				exists, err := j.store.HasAnnualStats(ctx, s.SiteCode, year)
				if err != nil {
					return result, err
				}
				if exists {
					result.Skipped++
					continue
				}
			}

			stats, err := j.annualStats.FetchAnnualStats(ctx, s.SiteCode, year)
			switch {
			case errors.Is(err, laqn.ErrNoAnnualMeans):
				result.Skipped++
				continue
			case err != nil:
				result.Errors = append(result.Errors, JobError{Network: s.Network, SiteCode: s.SiteCode, Error: err.Error()})
				continue
			case !stats.Means.Any():
				result.Skipped++
				continue
			}
			batch = append(batch, stats)
		}
	}

	if err := j.store.UpsertAnnualStats(ctx, batch); err != nil {
		return result, fmt.Errorf("store annual stats: %w", err)
	}
	result.Stored = len(batch)
	j.metrics.record(JobFetchAnnualStats, j.now().Sub(start), result.Stored, len(result.Errors))

	j.logger.Info().
		Ints("years", years).
		Int("stored", result.Stored).
		Int("skipped", result.Skipped).
		Int("failed", len(result.Errors)).
		Msg("annual stats fetch completed")

	return result, nil
}

// ComputeAnnualStats derives annual means for every active sensor from the
// stored hourly readings of year. Years below the minimum capture rate are
// skipped.
func (j *Jobs) ComputeAnnualStats(ctx context.Context, year int) (*StatsResult, error) {
	sensors, err := j.store.ListSensors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sensors: %w", err)
	}

	start := j.now()
	from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(1, 0, 0)

	result := &StatsResult{}
	var batch []airquality.AnnualStats

	for _, s := range sensors {
		if !s.Active {
			continue
		}
		readings, err := j.store.ReadingsBetween(ctx, s.SiteCode, from, to)
		if err != nil {
			return result, fmt.Errorf("readings for %s: %w", s.SiteCode, err)
		}

		stats, ok := annualStatsFromReadings(s.SiteCode, year, readings, j.config.MinCaptureRate)
		if !ok {
			j.logger.Debug().
				Str("site_code", s.SiteCode).
				Int("year", year).
				Int("readings", len(readings)).
				Msg("insufficient data capture for annual stats")
			result.Skipped++
			continue
		}
		batch = append(batch, stats)
	}

	if err := j.store.UpsertAnnualStats(ctx, batch); err != nil {
		return result, fmt.Errorf("store annual stats: %w", err)
	}
	result.Stored = len(batch)
	j.metrics.record(JobComputeAnnualStats, j.now().Sub(start), result.Stored, 0)

	j.logger.Info().
		Int("year", year).
		Int("stored", result.Stored).
		Int("skipped", result.Skipped).
		Msg("annual stats computed")

	return result, nil
}

// annualStatsFromReadings averages each pollutant over a year of hourly
// readings. It returns false when the capture rate is below minCapture or
// no pollutant has a value.
func annualStatsFromReadings(siteCode string, year int, readings []airquality.Reading, minCapture float64) (airquality.AnnualStats, bool) {
	if len(readings) == 0 {
		return airquality.AnnualStats{}, false
	}

	from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	hours := from.AddDate(1, 0, 0).Sub(from).Hours()
	capture := float64(len(readings)) / hours * 100
	if capture < minCapture {
		return airquality.AnnualStats{}, false
	}

	stats := airquality.AnnualStats{
		SiteCode:    siteCode,
		Year:        year,
		CaptureRate: null.FloatFrom(math.Round(capture*100) / 100),
	}
	for _, p := range airquality.Pollutants {
		var sum float64
		var n int
		for _, r := range readings {
			if v := airquality.Concentration(r.Values.Get(p)); v.Valid {
				sum += v.Float64
				n++
			}
		}
		if n > 0 {
			stats.Means.Set(p, null.FloatFrom(sum/float64(n)))
		}
	}
	if !stats.Means.Any() {
		return airquality.AnnualStats{}, false
	}
	return stats, true
}

// AssignSensors runs the assignment batch.
func (j *Jobs) AssignSensors(ctx context.Context, dryRun bool) (exposure.RunSummary, error) {
	if j.assigner == nil {
		return exposure.RunSummary{}, errors.New("no assigner configured")
	}

	start := j.now()
	summary, err := j.assigner.RunAssignment(ctx, exposure.RunOptions{DryRun: dryRun})
	failed := 0
	if err != nil {
		failed = 1
	}
	j.metrics.record(JobAssignSensors, j.now().Sub(start), summary.Assigned, failed)
	return summary, err
}

// HealthCheck verifies that the store is reachable.
func (j *Jobs) HealthCheck(ctx context.Context) error {
	return j.store.Ping(ctx)
}

// Networks returns the networks with a configured feed.
func (j *Jobs) Networks() []airquality.Network {
	return append([]airquality.Network(nil), j.feedOrder...)
}
