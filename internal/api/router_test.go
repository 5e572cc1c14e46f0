package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/guregu/null/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GavinKingcome/schools-air-quality-msp4/internal/airquality"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/api"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/api/models"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/auth"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/exposure"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/provider/resilience"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/store"
)

const metersPerDegreeLat = airquality.EarthRadiusMeters * 3.141592653589793 / 180

var testNow = time.Date(2024, 6, 12, 10, 30, 0, 0, time.UTC)

func north(lat, meters float64) float64 {
	return lat + meters/metersPerDegreeLat
}

type testEnv struct {
	router http.Handler
	repo   *store.InMemoryRepository
	tokens *auth.JWTService
}

func seed(t *testing.T) *store.InMemoryRepository {
	t.Helper()
	ctx := context.Background()
	repo := store.NewInMemoryRepository()

	require.NoError(t, repo.UpsertSensors(ctx, []airquality.Sensor{
		{SiteCode: "LB4", Name: "Lambeth - Brixton Road", Lat: north(51.46, 800), Lon: -0.11, Network: airquality.NetworkReferenceGrade, SiteType: airquality.SiteTypeUrbanBackground, Borough: "Lambeth", Active: true},
		{SiteCode: "CLDP0001", Name: "Southwark Park", Lat: north(51.49, 100), Lon: -0.06, Network: airquality.NetworkLowCost, SiteType: airquality.SiteTypeUrbanBackground, Borough: "Southwark", Active: true},
	}))
	_, err := repo.UpsertReadings(ctx, []airquality.Reading{
		{SiteCode: "LB4", Timestamp: testNow.Add(-30 * time.Minute), Values: airquality.Concentrations{NO2: null.FloatFrom(40)}},
		{SiteCode: "CLDP0001", Timestamp: testNow.Add(-30 * time.Minute), Values: airquality.Concentrations{NO2: null.FloatFrom(22)}},
	})
	require.NoError(t, err)
	require.NoError(t, repo.UpsertAnnualStats(ctx, []airquality.AnnualStats{
		{SiteCode: "LB4", Year: 2023, Means: airquality.Concentrations{NO2: null.FloatFrom(32)}, CaptureRate: null.FloatFrom(96.5)},
	}))

	baseline := func(no2 float64) airquality.Baseline {
		return airquality.Baseline{Values: airquality.Concentrations{NO2: null.FloatFrom(no2)}, Available: true}
	}
	require.NoError(t, repo.UpsertSchools(ctx, []airquality.School{
		{URN: "100001", Name: "Brixton Primary", Borough: "Lambeth", Lat: null.FloatFrom(51.46), Lon: null.FloatFrom(-0.11), Baseline: baseline(30)},
		{URN: "100002", Name: "Southwark Park Primary", Borough: "Southwark", Lat: null.FloatFrom(51.49), Lon: null.FloatFrom(-0.06), Baseline: baseline(25)},
		{URN: "100003", Name: "Dulwich Hamlet Junior", Borough: "Southwark", Lat: null.FloatFrom(51.70), Lon: null.FloatFrom(-0.08), Baseline: baseline(8)},
	}))
	return repo
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo := seed(t)
	logger := zerolog.New(io.Discard)

	snapshots := airquality.NewService(airquality.ServiceConfig{
		Loader: store.NewSnapshotLoader(repo),
		Logger: logger,
	})
	resolver, err := airquality.NewResolver(airquality.RecommendedResolverConfig())
	require.NoError(t, err)
	estimator, err := airquality.NewEstimator(airquality.EstimatorConfig{FreshnessWindow: 2 * time.Hour})
	require.NoError(t, err)
	classifier, err := airquality.NewClassifier(airquality.ThresholdTable{
		airquality.PollutantNO2:  {Limit: 40, Target: 20, Guideline: 10},
		airquality.PollutantPM25: {Limit: 20, Target: 10, Guideline: 5},
		airquality.PollutantPM10: {Limit: 40, Target: 20, Guideline: 15},
	})
	require.NoError(t, err)

	svc, err := exposure.NewService(exposure.Config{
		Store:      repo,
		Snapshots:  snapshots,
		Resolver:   resolver,
		Estimator:  estimator,
		Classifier: classifier,
		Logger:     logger,
		Now:        func() time.Time { return testNow },
	})
	require.NoError(t, err)
	_, err = svc.RunAssignment(context.Background(), exposure.RunOptions{})
	require.NoError(t, err)

	tokens, err := auth.NewJWTService(auth.JWTConfig{
		SigningKey: "test-secret-key-for-testing-only",
		Issuer:     "schools-aq",
		Audience:   "schools-aq-admin",
	})
	require.NoError(t, err)

	providers := resilience.NewRegistry()
	providers.Register("laqn", resilience.NewClient(resilience.DefaultClientConfig("laqn")))

	return &testEnv{
		router: api.NewRouter(api.RouterConfig{
			Version:   "test",
			BuildTime: "2024-01-01T00:00:00Z",
			Logger:    logger,
			Store:     repo,
			Snapshots: snapshots,
			Exposure:  svc,
			Providers: providers,
			Tokens:    tokens,
		}),
		repo:   repo,
		tokens: tokens,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body []byte, token string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader = http.NoBody
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) token(t *testing.T, scopes ...string) string {
	t.Helper()
	token, _, err := e.tokens.Issue("ops@test", scopes, time.Hour)
	require.NoError(t, err)
	return token
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestOps_Health(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/ops/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	health := decode[models.Health](t, rec)
	assert.Equal(t, models.HealthStatusOK, health.Status)
	assert.Equal(t, "test", health.Details["version"])
}

func TestOps_Ready(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/ops/ready", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOps_Status(t *testing.T) {
	env := newTestEnv(t)

	// Load the snapshot first.
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/v1/sensors", nil, "").Code)

	rec := env.do(t, http.MethodGet, "/v1/ops/status", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	status := decode[models.SystemStatus](t, rec)
	assert.Equal(t, models.HealthStatusOK, status.Status)
	require.Len(t, status.Subsystems, 1)
	assert.Equal(t, "store", status.Subsystems[0].Name)
	require.Len(t, status.Providers, 1)
	assert.Equal(t, "laqn", status.Providers[0].Provider)
	assert.Equal(t, "closed", status.Providers[0].CircuitState)
	assert.True(t, status.Snapshot.Loaded)
	assert.Equal(t, 2, status.Snapshot.Sensors)
}

func TestSchools_List(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/schools", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	page := decode[models.PagedSchools](t, rec)
	assert.Equal(t, 3, page.Meta.Total)
	assert.Equal(t, 100, page.Meta.Limit)
	require.Len(t, page.Items, 3)
	assert.Equal(t, "100001", page.Items[0].URN)
	assert.Equal(t, "ADJUSTED", page.Items[0].Assignment.DataSource)
	require.NotNil(t, page.Items[0].Assignment.ReferenceSensor)
	assert.Equal(t, "LB4", *page.Items[0].Assignment.ReferenceSensor)
}

func TestSchools_List_Filters(t *testing.T) {
	env := newTestEnv(t)

	page := decode[models.PagedSchools](t, env.do(t, http.MethodGet, "/v1/schools?borough=southwark", nil, ""))
	assert.Equal(t, 2, page.Meta.Total)

	page = decode[models.PagedSchools](t, env.do(t, http.MethodGet, "/v1/schools?dataSource=direct", nil, ""))
	require.Len(t, page.Items, 1)
	assert.Equal(t, "100002", page.Items[0].URN)

	page = decode[models.PagedSchools](t, env.do(t, http.MethodGet, "/v1/schools?limit=1&offset=2", nil, ""))
	assert.Equal(t, 3, page.Meta.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "100003", page.Items[0].URN)

	page = decode[models.PagedSchools](t, env.do(t, http.MethodGet, "/v1/schools?offset=10", nil, ""))
	assert.Empty(t, page.Items)
}

func TestSchools_List_InvalidQuery(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/schools?limit=0&dataSource=satellite", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	problem := decode[models.Problem](t, rec)
	require.Len(t, problem.Errors, 2)
	assert.Equal(t, "limit", problem.Errors[0].Field)
	assert.Equal(t, "dataSource", problem.Errors[1].Field)
}

func TestSchools_Get(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/schools/100001", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	detail := decode[models.SchoolDetail](t, rec)
	assert.Equal(t, "Brixton Primary", detail.Name)
	assert.True(t, detail.Baseline.Available)
	assert.Equal(t, "adjusted", detail.Estimate.Method)
	require.NotNil(t, detail.Estimate.Values.NO2)
	assert.Equal(t, 37.5, *detail.Estimate.Values.NO2)
	require.NotNil(t, detail.Estimate.Adjustment)
	assert.Equal(t, "LB4", detail.Estimate.Adjustment.SensorCode)
	assert.Equal(t, 2023, detail.Estimate.Adjustment.StatsYear)
	assert.True(t, detail.Estimate.Status.Classified)
	assert.Equal(t, "meets_limit", detail.Estimate.Status.Overall)
}

func TestSchools_Get_Direct(t *testing.T) {
	env := newTestEnv(t)

	detail := decode[models.SchoolDetail](t, env.do(t, http.MethodGet, "/v1/schools/100002", nil, ""))
	assert.Equal(t, "direct", detail.Estimate.Method)
	assert.Equal(t, "medium-high", detail.Estimate.Confidence)
	require.NotNil(t, detail.Estimate.SensorCode)
	assert.Equal(t, "CLDP0001", *detail.Estimate.SensorCode)
	assert.Nil(t, detail.Estimate.Adjustment)
}

func TestSchools_Get_NotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/schools/999999", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	problem := decode[models.Problem](t, rec)
	assert.Equal(t, models.ProblemTypeNotFound, problem.Type)
	assert.Equal(t, "/v1/schools/999999", problem.Instance)
}

func TestSchools_Estimates(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/schools/estimates", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	out := decode[models.SchoolEstimates](t, rec)
	require.Len(t, out.Items, 3)
	methods := []string{out.Items[0].Estimate.Method, out.Items[1].Estimate.Method, out.Items[2].Estimate.Method}
	assert.Equal(t, []string{"adjusted", "direct", "baseline_only"}, methods)
	assert.Equal(t, "meets_guideline", out.Items[2].Estimate.Status.Overall)
}

func TestSensors_List(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/sensors", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "public, max-age=60", rec.Header().Get("Cache-Control"))

	list := decode[models.SensorList](t, rec)
	require.Len(t, list.Items, 2)
	assert.Equal(t, "CLDP0001", list.Items[0].SiteCode)
	assert.Equal(t, "LB4", list.Items[1].SiteCode)
	require.NotNil(t, list.Items[1].AnnualMeans)
	assert.Equal(t, 2023, list.Items[1].AnnualMeans.Year)
	require.NotNil(t, list.Items[1].LatestReading)
	assert.Equal(t, 40.0, *list.Items[1].LatestReading.Values.NO2)

	list = decode[models.SensorList](t, env.do(t, http.MethodGet, "/v1/sensors?network=laqn", nil, ""))
	require.Len(t, list.Items, 1)
	assert.Equal(t, "LB4", list.Items[0].SiteCode)

	rec = env.do(t, http.MethodGet, "/v1/sensors?network=purpleair", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSensors_Get(t *testing.T) {
	env := newTestEnv(t)

	sensor := decode[models.Sensor](t, env.do(t, http.MethodGet, "/v1/sensors/LB4", nil, ""))
	assert.Equal(t, "LAQN", sensor.Network)
	assert.True(t, sensor.ReferenceGrade)
	assert.Equal(t, "urban_background", sensor.SiteType)

	rec := env.do(t, http.MethodGet, "/v1/sensors/XX9", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdmin_RequiresToken(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/admin/assignments:run", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/admin/assignments:run", nil, "not.a.token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid token")
}

func TestAdmin_RequiresScope(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/admin/assignments:run", nil, env.token(t, auth.ScopeRefreshSnapshot))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, models.ProblemTypeForbidden, decode[models.Problem](t, rec).Type)
}

func TestAdmin_RunAssignment_DryRun(t *testing.T) {
	env := newTestEnv(t)

	body := []byte(`{"directThresholdM": 50, "referenceThresholdM": 500}`)
	rec := env.do(t, http.MethodPost, "/v1/admin/assignments:run?dryRun=true", body, env.token(t, auth.ScopeRunAssignment))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	run := decode[models.AssignmentRun](t, rec)
	assert.NotEmpty(t, run.RunID)
	assert.True(t, run.DryRun)
	assert.Equal(t, 50.0, run.DirectThreshold)
	assert.Equal(t, 500.0, run.ReferenceThreshold)
	assert.Equal(t, map[string]int{"BASELINE_ONLY": 3}, run.BySource)
	require.Len(t, run.Assignments, 3)
	assert.Equal(t, "BASELINE_ONLY", run.Assignments["100001"].DataSource)
	assert.Nil(t, run.Assignments["100002"].DirectSensor)

	// A dry run leaves the stored assignment alone.
	school, err := env.repo.GetSchool(context.Background(), "100001")
	require.NoError(t, err)
	assert.Equal(t, airquality.DataSourceAdjusted, school.Assignment.DataSource)
}

func TestAdmin_RunAssignment(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/admin/assignments:run", nil, env.token(t, auth.ScopeRunAssignment))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	run := decode[models.AssignmentRun](t, rec)
	assert.False(t, run.DryRun)
	assert.Equal(t, 3, run.Assigned)
	assert.Equal(t, 150.0, run.DirectThreshold)
	assert.Equal(t, map[string]int{"BREATHE": 1}, run.DirectByNetwork)
	assert.Empty(t, run.Skipped)
	assert.Nil(t, run.Assignments)
}

func TestAdmin_RunAssignment_InvalidInput(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, auth.ScopeRunAssignment)

	rec := env.do(t, http.MethodPost, "/v1/admin/assignments:run?dryRun=maybe", nil, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/admin/assignments:run", []byte(`{"directThresholdM": -1}`), token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/admin/assignments:run", []byte(`{`), token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdmin_RefreshSnapshot(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/admin/snapshot:refresh", nil, env.token(t, auth.ScopeRefreshSnapshot))
	require.Equal(t, http.StatusOK, rec.Code)

	out := decode[models.SnapshotRefresh](t, rec)
	assert.True(t, out.Snapshot.Loaded)
	assert.Equal(t, 2, out.Snapshot.Readings)
}

func TestAdmin_ImportBaseline(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, auth.ScopeImportBaseline)

	body := []byte(`[
		{"urn": 100005, "name": "Peckham Park Primary", "borough": "Southwark", "latitude": 51.47, "longitude": -0.06,
		 "laei_found": true, "concentrations": {"NO2_2022": 28.4, "PM25_2022": 9.8}},
		{"urn": "", "name": "Unregistered Nursery"}
	]`)
	rec := env.do(t, http.MethodPost, "/v1/admin/baseline:import", body, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	out := decode[models.BaselineImport](t, rec)
	assert.Equal(t, 2, out.Total)
	assert.Equal(t, 1, out.Imported)
	assert.Equal(t, 1, out.WithBaseline)
	assert.Equal(t, []string{"Unregistered Nursery"}, out.Skipped)

	school, err := env.repo.GetSchool(context.Background(), "100005")
	require.NoError(t, err)
	assert.Equal(t, 28.4, school.Baseline.Values.NO2.Float64)

	rec = env.do(t, http.MethodPost, "/v1/admin/baseline:import", []byte(`[]`), token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/admin/baseline:import", []byte(`[]`), env.token(t, auth.ScopeRunAssignment))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/routes", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}
