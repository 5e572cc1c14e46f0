package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/GavinKingcome/schools-air-quality-msp4/internal/airquality"
)

type readingKey struct {
	siteCode string
	ts       int64
}

type statsKey struct {
	siteCode string
	year     int
}

// InMemoryRepository is an in-memory implementation of Repository.
// This is intended for testing and local runs. Production should use
// PostgresRepository or SQLiteRepository.
type InMemoryRepository struct {
	mu sync.RWMutex

	sensorOrder []string
	sensors     map[string]airquality.Sensor
	readings    map[readingKey]airquality.Reading
	stats       map[statsKey]airquality.AnnualStats
	schools     map[string]airquality.School
}

// NewInMemoryRepository creates a new in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		sensors:  make(map[string]airquality.Sensor),
		readings: make(map[readingKey]airquality.Reading),
		stats:    make(map[statsKey]airquality.AnnualStats),
		schools:  make(map[string]airquality.School),
	}
}

// UpsertSensors inserts or updates sensors by site code.
func (r *InMemoryRepository) UpsertSensors(_ context.Context, sensors []airquality.Sensor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range sensors {
		if _, ok := r.sensors[s.SiteCode]; !ok {
			r.sensorOrder = append(r.sensorOrder, s.SiteCode)
		}
		r.sensors[s.SiteCode] = s
	}
	return nil
}

// ListSensors returns all sensors in inventory order.
func (r *InMemoryRepository) ListSensors(_ context.Context) ([]airquality.Sensor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sensors := make([]airquality.Sensor, 0, len(r.sensorOrder))
	for _, code := range r.sensorOrder {
		sensors = append(sensors, r.sensors[code])
	}
	return sensors, nil
}

// GetSensor returns a sensor by site code.
func (r *InMemoryRepository) GetSensor(_ context.Context, siteCode string) (airquality.Sensor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sensors[siteCode]
	if !ok {
		return airquality.Sensor{}, airquality.ErrSensorNotFound
	}
	return s, nil
}

// UpsertReadings stores readings keyed by sensor and timestamp.
func (r *InMemoryRepository) UpsertReadings(_ context.Context, readings []airquality.Reading) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rd := range readings {
		rd.Timestamp = rd.Timestamp.UTC()
		r.readings[readingKey{rd.SiteCode, rd.Timestamp.UnixNano()}] = rd
	}
	return len(readings), nil
}

// LatestReadings returns the most recent reading per sensor.
func (r *InMemoryRepository) LatestReadings(_ context.Context) (map[string]airquality.Reading, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	latest := make(map[string]airquality.Reading)
	for _, rd := range r.readings {
		if cur, ok := latest[rd.SiteCode]; ok && !rd.Timestamp.After(cur.Timestamp) {
			continue
		}
		latest[rd.SiteCode] = rd
	}
	return latest, nil
}

// ReadingsBetween returns a sensor's readings in [start, end), oldest first.
func (r *InMemoryRepository) ReadingsBetween(_ context.Context, siteCode string, start, end time.Time) ([]airquality.Reading, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []airquality.Reading
	for k, rd := range r.readings {
		if k.siteCode != siteCode || rd.Timestamp.Before(start) || !rd.Timestamp.Before(end) {
			continue
		}
		out = append(out, rd)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// UpsertAnnualStats stores statistics keyed by sensor and year.
func (r *InMemoryRepository) UpsertAnnualStats(_ context.Context, stats []airquality.AnnualStats) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, st := range stats {
		r.stats[statsKey{st.SiteCode, st.Year}] = st
	}
	return nil
}

// HasAnnualStats reports whether stats exist for a sensor and year.
func (r *InMemoryRepository) HasAnnualStats(_ context.Context, siteCode string, year int) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.stats[statsKey{siteCode, year}]
	return ok, nil
}

// LatestAnnualStats returns the latest year of statistics per sensor.
func (r *InMemoryRepository) LatestAnnualStats(_ context.Context) (map[string]airquality.AnnualStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	latest := make(map[string]airquality.AnnualStats)
	for _, st := range r.stats {
		if cur, ok := latest[st.SiteCode]; ok && st.Year <= cur.Year {
			continue
		}
		latest[st.SiteCode] = st
	}
	return latest, nil
}

// UpsertSchools stores schools, keeping any existing assignment.
func (r *InMemoryRepository) UpsertSchools(_ context.Context, schools []airquality.School) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range schools {
		if existing, ok := r.schools[s.URN]; ok {
			s.Assignment = existing.Assignment
		} else {
			s.Assignment = airquality.Assignment{}
		}
		r.schools[s.URN] = s
	}
	return nil
}

// ListSchools returns all schools ordered by URN.
func (r *InMemoryRepository) ListSchools(_ context.Context) ([]airquality.School, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schools := make([]airquality.School, 0, len(r.schools))
	for _, s := range r.schools {
		schools = append(schools, s)
	}
	sort.Slice(schools, func(i, j int) bool {
		return schools[i].URN < schools[j].URN
	})
	return schools, nil
}

// GetSchool returns a school by URN.
func (r *InMemoryRepository) GetSchool(_ context.Context, urn string) (airquality.School, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.schools[urn]
	if !ok {
		return airquality.School{}, airquality.ErrSchoolNotFound
	}
	return s, nil
}

// SaveAssignments overwrites the listed schools' assignments.
func (r *InMemoryRepository) SaveAssignments(_ context.Context, assignments map[string]airquality.Assignment, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for urn := range assignments {
		if _, ok := r.schools[urn]; !ok {
			return airquality.ErrSchoolNotFound
		}
	}
	for urn, a := range assignments {
		s := r.schools[urn]
		s.Assignment = a
		r.schools[urn] = s
	}
	return nil
}

// Ping always succeeds.
func (r *InMemoryRepository) Ping(_ context.Context) error {
	return nil
}

// Ensure InMemoryRepository implements Repository interface.
var _ Repository = (*InMemoryRepository)(nil)
