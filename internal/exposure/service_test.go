package exposure_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/guregu/null/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GavinKingcome/schools-air-quality-msp4/internal/airquality"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/exposure"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/store"
)

const metersPerDegreeLat = airquality.EarthRadiusMeters * 3.141592653589793 / 180

var testNow = time.Date(2024, 6, 12, 10, 30, 0, 0, time.UTC)

func north(lat, meters float64) float64 {
	return lat + meters/metersPerDegreeLat
}

func testThresholds() airquality.ThresholdTable {
	return airquality.ThresholdTable{
		airquality.PollutantNO2:  {Limit: 40, Target: 20, Guideline: 10},
		airquality.PollutantPM25: {Limit: 20, Target: 10, Guideline: 5},
		airquality.PollutantPM10: {Limit: 40, Target: 20, Guideline: 15},
	}
}

// seed stores four schools:
//   - 100001 with a reference-grade sensor 800 m away (adjusted)
//   - 100002 with a low-cost sensor 100 m away (direct)
//   - 100003 with only a modelled baseline
//   - 100004 without coordinates
func seed(t *testing.T) *store.InMemoryRepository {
	t.Helper()
	ctx := context.Background()
	repo := store.NewInMemoryRepository()

	require.NoError(t, repo.UpsertSensors(ctx, []airquality.Sensor{
		{SiteCode: "LQ1", Lat: north(51.5, 800), Lon: -0.1, Network: airquality.NetworkReferenceGrade, SiteType: airquality.SiteTypeUrbanBackground, Active: true},
		{SiteCode: "BR1", Lat: north(51.6, 100), Lon: -0.1, Network: airquality.NetworkLowCost, SiteType: airquality.SiteTypeUrbanBackground, Active: true},
	}))
	_, err := repo.UpsertReadings(ctx, []airquality.Reading{
		{SiteCode: "LQ1", Timestamp: testNow.Add(-30 * time.Minute), Values: airquality.Concentrations{NO2: null.FloatFrom(40)}},
		{SiteCode: "BR1", Timestamp: testNow.Add(-30 * time.Minute), Values: airquality.Concentrations{NO2: null.FloatFrom(22)}},
	})
	require.NoError(t, err)
	require.NoError(t, repo.UpsertAnnualStats(ctx, []airquality.AnnualStats{
		{SiteCode: "LQ1", Year: 2023, Means: airquality.Concentrations{NO2: null.FloatFrom(32)}},
	}))

	baseline := func(no2 float64) airquality.Baseline {
		return airquality.Baseline{Values: airquality.Concentrations{NO2: null.FloatFrom(no2)}, Available: true}
	}
	require.NoError(t, repo.UpsertSchools(ctx, []airquality.School{
		{URN: "100001", Lat: null.FloatFrom(51.5), Lon: null.FloatFrom(-0.1), Baseline: baseline(30)},
		{URN: "100002", Lat: null.FloatFrom(51.6), Lon: null.FloatFrom(-0.1), Baseline: baseline(25)},
		{URN: "100003", Lat: null.FloatFrom(51.8), Lon: null.FloatFrom(-0.1), Baseline: baseline(8)},
		{URN: "100004"},
	}))
	return repo
}

func newTestService(t *testing.T, repo exposure.Store, loader airquality.SnapshotLoader) *exposure.Service {
	t.Helper()

	resolver, err := airquality.NewResolver(airquality.RecommendedResolverConfig())
	require.NoError(t, err)
	estimator, err := airquality.NewEstimator(airquality.EstimatorConfig{FreshnessWindow: 2 * time.Hour})
	require.NoError(t, err)
	classifier, err := airquality.NewClassifier(testThresholds())
	require.NoError(t, err)
	metrics, err := exposure.NewMetrics()
	require.NoError(t, err)

	svc, err := exposure.NewService(exposure.Config{
		Store: repo,
		Snapshots: airquality.NewService(airquality.ServiceConfig{
			Loader: loader,
			Logger: zerolog.Nop(),
		}),
		Resolver:   resolver,
		Estimator:  estimator,
		Classifier: classifier,
		Metrics:    metrics,
		Logger:     zerolog.Nop(),
		Now:        func() time.Time { return testNow },
	})
	require.NoError(t, err)
	return svc
}

func TestService_RunAssignment(t *testing.T) {
	ctx := context.Background()
	repo := seed(t)
	svc := newTestService(t, repo, store.NewSnapshotLoader(repo))

	summary, err := svc.RunAssignment(ctx, exposure.RunOptions{})
	require.NoError(t, err)

	assert.NotEmpty(t, summary.RunID)
	assert.False(t, summary.DryRun)
	assert.Equal(t, 4, summary.Schools)
	assert.Equal(t, 3, summary.Assigned)
	assert.Equal(t, []string{"100004"}, summary.Skipped)
	assert.Equal(t, map[airquality.DataSource]int{
		airquality.DataSourceDirect:       1,
		airquality.DataSourceAdjusted:     1,
		airquality.DataSourceBaselineOnly: 1,
	}, summary.BySource)
	assert.Equal(t, map[airquality.Network]int{airquality.NetworkLowCost: 1}, summary.DirectByNetwork)

	a, err := repo.GetSchool(ctx, "100001")
	require.NoError(t, err)
	assert.Equal(t, airquality.DataSourceAdjusted, a.Assignment.DataSource)
	assert.Equal(t, "LQ1", a.Assignment.ReferenceSensor.String)
	assert.InDelta(t, 800.0, a.Assignment.ReferenceDistance.Float64, 0.1)
	assert.False(t, a.Assignment.DirectSensor.Valid)

	b, err := repo.GetSchool(ctx, "100002")
	require.NoError(t, err)
	assert.Equal(t, airquality.DataSourceDirect, b.Assignment.DataSource)
	assert.Equal(t, "BR1", b.Assignment.DirectSensor.String)

	skipped, err := repo.GetSchool(ctx, "100004")
	require.NoError(t, err)
	assert.Equal(t, airquality.Assignment{}, skipped.Assignment)
}

func TestService_RunAssignment_DryRun(t *testing.T) {
	ctx := context.Background()
	repo := seed(t)
	svc := newTestService(t, repo, store.NewSnapshotLoader(repo))

	summary, err := svc.RunAssignment(ctx, exposure.RunOptions{DryRun: true})
	require.NoError(t, err)
	assert.True(t, summary.DryRun)
	assert.Len(t, summary.Assignments, 3)

	school, err := repo.GetSchool(ctx, "100001")
	require.NoError(t, err)
	assert.Equal(t, airquality.DataSource(""), school.Assignment.DataSource)
}

func TestService_RunAssignment_ResolverOverride(t *testing.T) {
	ctx := context.Background()
	repo := seed(t)
	svc := newTestService(t, repo, store.NewSnapshotLoader(repo))

	narrow, err := airquality.NewResolver(airquality.ResolverConfig{DirectThreshold: 50, ReferenceThreshold: 500})
	require.NoError(t, err)

	summary, err := svc.RunAssignment(ctx, exposure.RunOptions{DryRun: true, Resolver: narrow})
	require.NoError(t, err)
	assert.Equal(t, 50.0, summary.Thresholds.DirectThreshold)
	assert.Equal(t, map[airquality.DataSource]int{airquality.DataSourceBaselineOnly: 3}, summary.BySource)
}

func TestService_Estimate(t *testing.T) {
	ctx := context.Background()
	repo := seed(t)
	svc := newTestService(t, repo, store.NewSnapshotLoader(repo))

	_, err := svc.RunAssignment(ctx, exposure.RunOptions{})
	require.NoError(t, err)

	adjusted, err := svc.Estimate(ctx, "100001")
	require.NoError(t, err)
	assert.Equal(t, airquality.MethodAdjusted, adjusted.Estimate.Method)
	assert.Equal(t, 37.5, adjusted.Estimate.Values.NO2.Float64)
	assert.True(t, adjusted.Status.Classified)
	assert.Equal(t, airquality.CategoryMeetsLimit, adjusted.Status.Overall)

	direct, err := svc.Estimate(ctx, "100002")
	require.NoError(t, err)
	assert.Equal(t, airquality.MethodDirect, direct.Estimate.Method)
	assert.Equal(t, airquality.ConfidenceMediumHigh, direct.Estimate.Confidence)
	assert.Equal(t, 22.0, direct.Estimate.Values.NO2.Float64)

	baselineOnly, err := svc.Estimate(ctx, "100003")
	require.NoError(t, err)
	assert.Equal(t, airquality.MethodBaselineOnly, baselineOnly.Estimate.Method)
	assert.Equal(t, airquality.CategoryMeetsGuideline, baselineOnly.Status.Overall)

	none, err := svc.Estimate(ctx, "100004")
	require.NoError(t, err)
	assert.Equal(t, airquality.MethodNone, none.Estimate.Method)
	assert.False(t, none.Status.Classified)

	_, err = svc.Estimate(ctx, "999999")
	assert.ErrorIs(t, err, airquality.ErrSchoolNotFound)
}

func TestService_EstimateAll(t *testing.T) {
	ctx := context.Background()
	repo := seed(t)
	svc := newTestService(t, repo, store.NewSnapshotLoader(repo))

	_, err := svc.RunAssignment(ctx, exposure.RunOptions{})
	require.NoError(t, err)

	all, err := svc.EstimateAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 4)

	methods := make([]airquality.Method, len(all))
	for i, e := range all {
		methods[i] = e.Estimate.Method
	}
	assert.Equal(t, []airquality.Method{
		airquality.MethodAdjusted,
		airquality.MethodDirect,
		airquality.MethodBaselineOnly,
		airquality.MethodNone,
	}, methods)
}

type failingLoader struct{}

func (failingLoader) LoadSnapshot(context.Context) (*airquality.Snapshot, error) {
	return nil, errors.New("database down")
}

func TestService_Estimate_SnapshotUnavailable(t *testing.T) {
	repo := seed(t)
	svc := newTestService(t, repo, failingLoader{})

	_, err := svc.Estimate(context.Background(), "100001")
	assert.ErrorIs(t, err, airquality.ErrSnapshotUnavailable)
}

func TestNewService_RequiresComponents(t *testing.T) {
	_, err := exposure.NewService(exposure.Config{})
	assert.Error(t, err)

	_, err = exposure.NewService(exposure.Config{
		Store:     store.NewInMemoryRepository(),
		Snapshots: airquality.NewService(airquality.ServiceConfig{Loader: failingLoader{}}),
	})
	assert.ErrorIs(t, err, airquality.ErrInvalidConfig)
}

func TestNewFromEngine(t *testing.T) {
	repo := seed(t)
	snapshots := airquality.NewService(airquality.ServiceConfig{
		Loader: store.NewSnapshotLoader(repo),
		Logger: zerolog.Nop(),
	})

	svc, err := exposure.NewFromEngine(exposure.EngineConfig{
		Engine: airquality.EngineConfig{
			Resolver:   airquality.RecommendedResolverConfig(),
			Estimator:  airquality.EstimatorConfig{FreshnessWindow: 2 * time.Hour},
			Thresholds: testThresholds(),
		},
		Store:     repo,
		Snapshots: snapshots,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	assert.Equal(t, airquality.RecommendedResolverConfig(), svc.ResolverConfig())

	_, err = exposure.NewFromEngine(exposure.EngineConfig{
		Engine:    airquality.EngineConfig{Resolver: airquality.ResolverConfig{DirectThreshold: 150}},
		Store:     repo,
		Snapshots: snapshots,
	})
	assert.ErrorIs(t, err, airquality.ErrInvalidConfig)
}
