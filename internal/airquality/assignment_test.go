package airquality_test

import (
	"testing"

	"github.com/guregu/null/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GavinKingcome/schools-air-quality-msp4/internal/airquality"
)

const (
	schoolLat = 51.5
	schoolLon = -0.1
)

func testSensor(code string, network airquality.Network, siteType airquality.SiteType, metersNorth float64) airquality.Sensor {
	return airquality.Sensor{
		SiteCode: code,
		Name:     code,
		Lat:      north(schoolLat, metersNorth),
		Lon:      schoolLon,
		Network:  network,
		SiteType: siteType,
		Active:   true,
	}
}

func newTestResolver(t *testing.T) *airquality.Resolver {
	t.Helper()
	r, err := airquality.NewResolver(airquality.RecommendedResolverConfig())
	require.NoError(t, err)
	return r
}

func TestResolver_UrbanBackgroundBeatsCloserRoadside(t *testing.T) {
	r := newTestResolver(t)

	sensors := []airquality.Sensor{
		testSensor("A", airquality.NetworkReferenceGrade, airquality.SiteTypeUrbanBackground, 120),
		testSensor("B", airquality.NetworkReferenceGrade, airquality.SiteTypeRoadside, 40),
	}

	a := r.Resolve(schoolLat, schoolLon, sensors)

	assert.Equal(t, airquality.DataSourceDirect, a.DataSource)
	assert.Equal(t, null.StringFrom("A"), a.DirectSensor)
	assert.InDelta(t, 120.0, a.DirectDistance.Float64, 0.05)
	assert.Equal(t, null.StringFrom("B"), a.ReferenceSensor)
	assert.InDelta(t, 40.0, a.ReferenceDistance.Float64, 0.05)
}

func TestResolver_ScanSkipsIneligibleWithinThreshold(t *testing.T) {
	r := newTestResolver(t)

	sensors := []airquality.Sensor{
		testSensor("RD1", airquality.NetworkLowCost, airquality.SiteTypeRoadside, 50),
		testSensor("KB1", airquality.NetworkLowCost, airquality.SiteTypeKerbside, 90),
		testSensor("UB1", airquality.NetworkLowCost, airquality.SiteTypeUrbanBackground, 140),
	}

	a := r.Resolve(schoolLat, schoolLon, sensors)

	assert.Equal(t, airquality.DataSourceDirect, a.DataSource)
	assert.Equal(t, "UB1", a.DirectSensor.String)
	assert.InDelta(t, 140.0, a.DirectDistance.Float64, 0.05)
	assert.False(t, a.ReferenceSensor.Valid)
}

func TestResolver_DirectBeyondThreshold(t *testing.T) {
	r := newTestResolver(t)

	sensors := []airquality.Sensor{
		testSensor("UB1", airquality.NetworkLowCost, airquality.SiteTypeUrbanBackground, 151),
		testSensor("LQ1", airquality.NetworkReferenceGrade, airquality.SiteTypeSuburban, 1500),
	}

	a := r.Resolve(schoolLat, schoolLon, sensors)

	assert.Equal(t, airquality.DataSourceAdjusted, a.DataSource)
	assert.False(t, a.DirectSensor.Valid)
	assert.False(t, a.DirectDistance.Valid)
	assert.Equal(t, "LQ1", a.ReferenceSensor.String)
}

func TestResolver_ReferenceIgnoresLowCostAndThreshold(t *testing.T) {
	r := newTestResolver(t)

	sensors := []airquality.Sensor{
		testSensor("BR1", airquality.NetworkLowCost, airquality.SiteTypeRoadside, 300),
		testSensor("LQ1", airquality.NetworkReferenceGrade, airquality.SiteTypeUrbanBackground, 2500),
	}

	a := r.Resolve(schoolLat, schoolLon, sensors)

	assert.Equal(t, airquality.DataSourceBaselineOnly, a.DataSource)
	assert.False(t, a.DirectSensor.Valid)
	assert.False(t, a.ReferenceSensor.Valid)
	assert.False(t, a.ReferenceDistance.Valid)
}

func TestResolver_TieKeepsInventoryOrder(t *testing.T) {
	r := newTestResolver(t)

	sensors := []airquality.Sensor{
		testSensor("FIRST", airquality.NetworkLowCost, airquality.SiteTypeUrbanBackground, 100),
		testSensor("SECOND", airquality.NetworkLowCost, airquality.SiteTypeUrbanBackground, 100),
	}

	a := r.Resolve(schoolLat, schoolLon, sensors)
	assert.Equal(t, "FIRST", a.DirectSensor.String)

	sensors[0], sensors[1] = sensors[1], sensors[0]
	a = r.Resolve(schoolLat, schoolLon, sensors)
	assert.Equal(t, "SECOND", a.DirectSensor.String)
}

func TestResolver_InactiveSensorsExcluded(t *testing.T) {
	r := newTestResolver(t)

	closed := testSensor("CL1", airquality.NetworkReferenceGrade, airquality.SiteTypeUrbanBackground, 30)
	closed.Active = false

	sensors := []airquality.Sensor{
		closed,
		testSensor("LQ2", airquality.NetworkReferenceGrade, airquality.SiteTypeRoadside, 800),
	}

	a := r.Resolve(schoolLat, schoolLon, sensors)

	assert.Equal(t, airquality.DataSourceAdjusted, a.DataSource)
	assert.False(t, a.DirectSensor.Valid)
	assert.Equal(t, "LQ2", a.ReferenceSensor.String)
}

func TestResolver_DistancesRoundedToOneDecimal(t *testing.T) {
	r := newTestResolver(t)

	sensors := []airquality.Sensor{
		testSensor("UB1", airquality.NetworkReferenceGrade, airquality.SiteTypeUrbanBackground, 87.6543),
	}

	a := r.Resolve(schoolLat, schoolLon, sensors)
	assert.Equal(t, 87.7, a.DirectDistance.Float64)
	assert.Equal(t, 87.7, a.ReferenceDistance.Float64)
}

func TestResolver_EmptyInventory(t *testing.T) {
	r := newTestResolver(t)

	a := r.Resolve(schoolLat, schoolLon, nil)
	assert.Equal(t, airquality.Assignment{DataSource: airquality.DataSourceBaselineOnly}, a)
}

func TestResolver_ResolveAll(t *testing.T) {
	r := newTestResolver(t)

	sensors := []airquality.Sensor{
		testSensor("A", airquality.NetworkReferenceGrade, airquality.SiteTypeUrbanBackground, 120),
		testSensor("B", airquality.NetworkReferenceGrade, airquality.SiteTypeRoadside, 40),
	}

	schools := []airquality.School{
		{URN: "100001", Lat: null.FloatFrom(schoolLat), Lon: null.FloatFrom(schoolLon)},
		{URN: "100002", Lat: null.FloatFrom(north(schoolLat, 5000)), Lon: null.FloatFrom(schoolLon)},
		{URN: "100003"},
		{URN: "100004", Lat: null.FloatFrom(95), Lon: null.FloatFrom(schoolLon)},
	}

	result := r.ResolveAll(schools, sensors)

	require.Len(t, result.Assignments, 2)
	assert.Equal(t, airquality.DataSourceDirect, result.Assignments["100001"].DataSource)
	assert.Equal(t, airquality.DataSourceBaselineOnly, result.Assignments["100002"].DataSource)
	assert.Equal(t, []string{"100003", "100004"}, result.Skipped)
}

func TestResolver_ResolveAll_Idempotent(t *testing.T) {
	r := newTestResolver(t)

	sensors := []airquality.Sensor{
		testSensor("A", airquality.NetworkReferenceGrade, airquality.SiteTypeUrbanBackground, 120),
		testSensor("B", airquality.NetworkReferenceGrade, airquality.SiteTypeRoadside, 40),
		testSensor("C", airquality.NetworkLowCost, airquality.SiteTypeUrbanBackground, 700),
	}
	schools := []airquality.School{
		{URN: "1", Lat: null.FloatFrom(schoolLat), Lon: null.FloatFrom(schoolLon)},
		{URN: "2", Lat: null.FloatFrom(north(schoolLat, 650)), Lon: null.FloatFrom(schoolLon)},
		{URN: "3", Lat: null.FloatFrom(north(schoolLat, 3000)), Lon: null.FloatFrom(schoolLon)},
	}

	first := r.ResolveAll(schools, sensors)
	second := r.ResolveAll(schools, sensors)

	assert.Equal(t, first, second)
	assert.Equal(t, "C", first.Assignments["2"].DirectSensor.String)
}

func TestNewResolver_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		config airquality.ResolverConfig
	}{
		{name: "zero config", config: airquality.ResolverConfig{}},
		{name: "missing reference", config: airquality.ResolverConfig{DirectThreshold: 150}},
		{name: "negative direct", config: airquality.ResolverConfig{DirectThreshold: -1, ReferenceThreshold: 2000}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := airquality.NewResolver(tt.config)
			require.Error(t, err)
			assert.ErrorIs(t, err, airquality.ErrInvalidConfig)
		})
	}
}
