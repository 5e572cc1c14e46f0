package airquality

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrSnapshotUnavailable is returned when no snapshot can be loaded and no
// usable cached copy exists.
var ErrSnapshotUnavailable = errors.New("sensor snapshot unavailable")

// SnapshotLoader materializes a Snapshot from storage.
type SnapshotLoader interface {
	LoadSnapshot(ctx context.Context) (*Snapshot, error)
}

// ServiceConfig holds configuration for the snapshot service.
type ServiceConfig struct {
	// Loader builds snapshots from the store.
	Loader SnapshotLoader

	// Logger for service operations.
	Logger zerolog.Logger

	// CacheTTL is how long to cache the snapshot (default: 5 minutes).
	CacheTTL time.Duration

	// StaleIfErrorTTL allows serving stale data on load errors (default: 30 minutes).
	StaleIfErrorTTL time.Duration
}

// Service caches the sensor snapshot the estimator reads from.
type Service struct {
	loader          SnapshotLoader
	logger          zerolog.Logger
	cacheTTL        time.Duration
	staleIfErrorTTL time.Duration

	mu          sync.RWMutex
	snapshot    *Snapshot
	cacheExpiry time.Time
}

// NewService creates a new snapshot service.
func NewService(cfg ServiceConfig) *Service {
	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = 5 * time.Minute
	}

	staleIfErrorTTL := cfg.StaleIfErrorTTL
	if staleIfErrorTTL == 0 {
		staleIfErrorTTL = 30 * time.Minute
	}

	return &Service{
		loader:          cfg.Loader,
		logger:          cfg.Logger,
		cacheTTL:        cacheTTL,
		staleIfErrorTTL: staleIfErrorTTL,
	}
}

// GetSnapshot returns the current snapshot, loading a new one when the
// cached copy has expired.
func (s *Service) GetSnapshot(ctx context.Context) (*Snapshot, error) {
	s.mu.RLock()
	if s.snapshot != nil && time.Now().Before(s.cacheExpiry) {
		snapshot := s.snapshot
		s.mu.RUnlock()
		return snapshot, nil
	}
	s.mu.RUnlock()

	return s.refreshSnapshot(ctx)
}

// GetSensor returns a sensor from the current snapshot.
func (s *Service) GetSensor(ctx context.Context, siteCode string) (Sensor, error) {
	snapshot, err := s.GetSnapshot(ctx)
	if err != nil {
		return Sensor{}, err
	}

	sensor, ok := snapshot.Sensor(siteCode)
	if !ok {
		return Sensor{}, ErrSensorNotFound
	}
	return sensor, nil
}

// RefreshSnapshot forces a cache refresh.
func (s *Service) RefreshSnapshot(ctx context.Context) error {
	s.InvalidateCache()
	_, err := s.refreshSnapshot(ctx)
	return err
}

// InvalidateCache clears the cached snapshot.
func (s *Service) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cacheExpiry = time.Time{}
}

// CacheStatus returns information about the current cache state.
func (s *Service) CacheStatus() CacheStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.snapshot == nil {
		return CacheStatus{
			HasData: false,
		}
	}

	now := time.Now()
	return CacheStatus{
		HasData:      true,
		LoadedAt:     s.snapshot.LoadedAt,
		ExpiresAt:    s.cacheExpiry,
		IsExpired:    now.After(s.cacheExpiry),
		IsStale:      now.After(s.snapshot.LoadedAt.Add(s.staleIfErrorTTL)),
		SensorCount:  len(s.snapshot.Sensors),
		ReadingCount: len(s.snapshot.Readings),
	}
}

// CacheStatus represents the current state of the cache.
type CacheStatus struct {
	HasData      bool
	LoadedAt     time.Time
	ExpiresAt    time.Time
	IsExpired    bool
	IsStale      bool
	SensorCount  int
	ReadingCount int
}

// refreshSnapshot loads a fresh snapshot from the store.
func (s *Service) refreshSnapshot(ctx context.Context) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Another goroutine might have refreshed while we waited.
	if s.snapshot != nil && time.Now().Before(s.cacheExpiry) {
		return s.snapshot, nil
	}

	s.logger.Debug().Msg("loading sensor snapshot")

	snapshot, err := s.loader.LoadSnapshot(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to load sensor snapshot")

		if s.snapshot != nil && time.Now().Before(s.snapshot.LoadedAt.Add(s.staleIfErrorTTL)) {
			s.logger.Warn().
				Time("loaded_at", s.snapshot.LoadedAt).
				Msg("serving stale sensor snapshot due to load error")
			return s.snapshot, nil
		}

		return nil, ErrSnapshotUnavailable
	}

	s.snapshot = snapshot
	s.cacheExpiry = time.Now().Add(s.cacheTTL)

	s.logger.Info().
		Int("sensors", len(snapshot.Sensors)).
		Int("readings", len(snapshot.Readings)).
		Int("annual_stats", len(snapshot.Stats)).
		Time("expires_at", s.cacheExpiry).
		Msg("sensor snapshot loaded")

	return snapshot, nil
}
