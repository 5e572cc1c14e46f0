package airquality_test

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GavinKingcome/schools-air-quality-msp4/internal/airquality"
)

// mockLoader is a test loader that returns configurable data.
type mockLoader struct {
	snapshot  *airquality.Snapshot
	err       error
	loadCount atomic.Int32
}

func (m *mockLoader) LoadSnapshot(_ context.Context) (*airquality.Snapshot, error) {
	m.loadCount.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	return m.snapshot, nil
}

func testSnapshot() *airquality.Snapshot {
	snapshot := airquality.NewSnapshot()
	snapshot.AddSensor(airquality.Sensor{
		SiteCode: "BL0",
		Name:     "Camden - Bloomsbury",
		Lat:      51.522287,
		Lon:      -0.125848,
		Network:  airquality.NetworkReferenceGrade,
		SiteType: airquality.SiteTypeUrbanBackground,
		Active:   true,
	})
	snapshot.AddSensor(airquality.Sensor{
		SiteCode: "CD9",
		Name:     "Camden - Euston Road",
		Lat:      51.52771,
		Lon:      -0.12905,
		Network:  airquality.NetworkReferenceGrade,
		SiteType: airquality.SiteTypeRoadside,
		Active:   true,
	})
	snapshot.AddReading(airquality.Reading{
		SiteCode:  "BL0",
		Timestamp: time.Now().Add(-30 * time.Minute),
		Values:    airquality.Concentrations{NO2: airquality.ConcentrationFrom(32.5)},
	})
	return snapshot
}

func TestService_GetSnapshot(t *testing.T) {
	loader := &mockLoader{snapshot: testSnapshot()}
	svc := airquality.NewService(airquality.ServiceConfig{
		Loader:   loader,
		Logger:   zerolog.New(io.Discard),
		CacheTTL: 5 * time.Minute,
	})

	ctx := context.Background()

	snapshot, err := svc.GetSnapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snapshot.Sensors, 2)
	assert.Equal(t, int32(1), loader.loadCount.Load())

	// Second call should use cache
	snapshot2, err := svc.GetSnapshot(ctx)
	require.NoError(t, err)
	assert.Same(t, snapshot, snapshot2)
	assert.Equal(t, int32(1), loader.loadCount.Load())
}

func TestService_GetSnapshot_CacheExpiry(t *testing.T) {
	loader := &mockLoader{snapshot: testSnapshot()}
	svc := airquality.NewService(airquality.ServiceConfig{
		Loader:   loader,
		Logger:   zerolog.New(io.Discard),
		CacheTTL: 50 * time.Millisecond,
	})

	ctx := context.Background()

	_, err := svc.GetSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), loader.loadCount.Load())

	time.Sleep(60 * time.Millisecond)

	_, err = svc.GetSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), loader.loadCount.Load())
}

func TestService_GetSnapshot_LoadError_StaleData(t *testing.T) {
	loader := &mockLoader{snapshot: testSnapshot()}
	svc := airquality.NewService(airquality.ServiceConfig{
		Loader:          loader,
		Logger:          zerolog.New(io.Discard),
		CacheTTL:        50 * time.Millisecond,
		StaleIfErrorTTL: 1 * time.Hour,
	})

	ctx := context.Background()

	_, err := svc.GetSnapshot(ctx)
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)

	loader.err = errors.New("database unavailable")

	result, err := svc.GetSnapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, result.Sensors, 2)
}

func TestService_GetSnapshot_LoadError_NoCache(t *testing.T) {
	loader := &mockLoader{err: errors.New("database unavailable")}
	svc := airquality.NewService(airquality.ServiceConfig{
		Loader: loader,
		Logger: zerolog.New(io.Discard),
	})

	_, err := svc.GetSnapshot(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, airquality.ErrSnapshotUnavailable)
}

func TestService_GetSensor(t *testing.T) {
	loader := &mockLoader{snapshot: testSnapshot()}
	svc := airquality.NewService(airquality.ServiceConfig{
		Loader: loader,
		Logger: zerolog.New(io.Discard),
	})

	ctx := context.Background()

	sensor, err := svc.GetSensor(ctx, "BL0")
	require.NoError(t, err)
	assert.Equal(t, "Camden - Bloomsbury", sensor.Name)

	_, err = svc.GetSensor(ctx, "XX1")
	require.Error(t, err)
	assert.ErrorIs(t, err, airquality.ErrSensorNotFound)
}

func TestService_RefreshSnapshot(t *testing.T) {
	loader := &mockLoader{snapshot: testSnapshot()}
	svc := airquality.NewService(airquality.ServiceConfig{
		Loader:   loader,
		Logger:   zerolog.New(io.Discard),
		CacheTTL: 10 * time.Minute,
	})

	ctx := context.Background()

	_, err := svc.GetSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), loader.loadCount.Load())

	require.NoError(t, svc.RefreshSnapshot(ctx))
	assert.Equal(t, int32(2), loader.loadCount.Load())
}

func TestService_InvalidateCache(t *testing.T) {
	loader := &mockLoader{snapshot: testSnapshot()}
	svc := airquality.NewService(airquality.ServiceConfig{
		Loader:   loader,
		Logger:   zerolog.New(io.Discard),
		CacheTTL: 10 * time.Minute,
	})

	ctx := context.Background()

	_, err := svc.GetSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), loader.loadCount.Load())

	svc.InvalidateCache()

	_, err = svc.GetSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), loader.loadCount.Load())
}

func TestService_CacheStatus(t *testing.T) {
	loader := &mockLoader{snapshot: testSnapshot()}
	svc := airquality.NewService(airquality.ServiceConfig{
		Loader:   loader,
		Logger:   zerolog.New(io.Discard),
		CacheTTL: 5 * time.Minute,
	})

	status := svc.CacheStatus()
	assert.False(t, status.HasData)

	_, _ = svc.GetSnapshot(context.Background())

	status = svc.CacheStatus()
	assert.True(t, status.HasData)
	assert.Equal(t, 2, status.SensorCount)
	assert.Equal(t, 1, status.ReadingCount)
	assert.False(t, status.IsExpired)
}

func TestSnapshot_KeepsLatest(t *testing.T) {
	snapshot := airquality.NewSnapshot()
	now := time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)

	snapshot.AddReading(airquality.Reading{SiteCode: "BL0", Timestamp: now})
	snapshot.AddReading(airquality.Reading{SiteCode: "BL0", Timestamp: now.Add(-time.Hour)})
	snapshot.AddAnnualStats(airquality.AnnualStats{SiteCode: "BL0", Year: 2023})
	snapshot.AddAnnualStats(airquality.AnnualStats{SiteCode: "BL0", Year: 2021})

	r, ok := snapshot.LatestReading("BL0")
	require.True(t, ok)
	assert.Equal(t, now, r.Timestamp)

	st, ok := snapshot.LatestAnnualStats("BL0")
	require.True(t, ok)
	assert.Equal(t, 2023, st.Year)
}
