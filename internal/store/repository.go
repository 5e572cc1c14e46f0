// Package store persists the sensor inventory, readings, annual statistics
// and schools with their assignments.
package store

import (
	"context"
	"time"

	"github.com/GavinKingcome/schools-air-quality-msp4/internal/airquality"
)

// Repository defines the persistence operations used by the ingest jobs,
// the assignment batch and the estimate endpoints.
type Repository interface {
	// UpsertSensors inserts or updates sensors by site code. Existing
	// sensors keep their inventory position.
	UpsertSensors(ctx context.Context, sensors []airquality.Sensor) error

	// ListSensors returns all sensors in inventory (first-insert) order.
	ListSensors(ctx context.Context) ([]airquality.Sensor, error)

	// GetSensor returns a sensor or airquality.ErrSensorNotFound.
	GetSensor(ctx context.Context, siteCode string) (airquality.Sensor, error)

	// UpsertReadings stores readings. A reading for an existing
	// (site code, timestamp) replaces the stored values.
	UpsertReadings(ctx context.Context, readings []airquality.Reading) (int, error)

	// LatestReadings returns the most recent reading per sensor.
	LatestReadings(ctx context.Context) (map[string]airquality.Reading, error)

	// ReadingsBetween returns a sensor's readings in [start, end), oldest first.
	ReadingsBetween(ctx context.Context, siteCode string, start, end time.Time) ([]airquality.Reading, error)

	// UpsertAnnualStats stores annual statistics, unique per (site code, year).
	UpsertAnnualStats(ctx context.Context, stats []airquality.AnnualStats) error

	// HasAnnualStats reports whether stats exist for a sensor and year.
	HasAnnualStats(ctx context.Context, siteCode string, year int) (bool, error)

	// LatestAnnualStats returns the latest year of statistics per sensor.
	LatestAnnualStats(ctx context.Context) (map[string]airquality.AnnualStats, error)

	// UpsertSchools stores school identity, location and baseline. It never
	// modifies stored assignments.
	UpsertSchools(ctx context.Context, schools []airquality.School) error

	// ListSchools returns all schools ordered by URN.
	ListSchools(ctx context.Context) ([]airquality.School, error)

	// GetSchool returns a school or airquality.ErrSchoolNotFound.
	GetSchool(ctx context.Context, urn string) (airquality.School, error)

	// SaveAssignments overwrites the assignment of every listed school in a
	// single transaction. Schools not listed are untouched.
	SaveAssignments(ctx context.Context, assignments map[string]airquality.Assignment, assignedAt time.Time) error

	// Ping checks that the backing store is reachable.
	Ping(ctx context.Context) error
}

// SnapshotLoader builds estimator snapshots from a Repository.
type SnapshotLoader struct {
	repo Repository
}

// NewSnapshotLoader creates a SnapshotLoader.
func NewSnapshotLoader(repo Repository) *SnapshotLoader {
	return &SnapshotLoader{repo: repo}
}

// LoadSnapshot reads every sensor with its latest reading and latest
// annual statistics.
func (l *SnapshotLoader) LoadSnapshot(ctx context.Context) (*airquality.Snapshot, error) {
	sensors, err := l.repo.ListSensors(ctx)
	if err != nil {
		return nil, err
	}
	readings, err := l.repo.LatestReadings(ctx)
	if err != nil {
		return nil, err
	}
	stats, err := l.repo.LatestAnnualStats(ctx)
	if err != nil {
		return nil, err
	}

	snapshot := airquality.NewSnapshot()
	for _, s := range sensors {
		snapshot.AddSensor(s)
	}
	for _, r := range readings {
		snapshot.AddReading(r)
	}
	for _, st := range stats {
		snapshot.AddAnnualStats(st)
	}
	return snapshot, nil
}

// Ensure SnapshotLoader implements airquality.SnapshotLoader.
var _ airquality.SnapshotLoader = (*SnapshotLoader)(nil)
