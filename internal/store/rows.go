package store

import (
	"github.com/guregu/null/v5"

	"github.com/GavinKingcome/schools-air-quality-msp4/internal/airquality"
)

// rowScanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const statsColumns = `site_code, year, no2_mean, pm25_mean, pm10_mean, o3_mean, nox_mean, capture_rate`

func scanAnnualStats(row rowScanner) (airquality.AnnualStats, error) {
	var st airquality.AnnualStats
	err := row.Scan(
		&st.SiteCode,
		&st.Year,
		&st.Means.NO2,
		&st.Means.PM25,
		&st.Means.PM10,
		&st.Means.O3,
		&st.Means.NOx,
		&st.CaptureRate,
	)
	return st, err
}

const schoolColumns = `
	urn, name, postcode, borough,
	latitude, longitude, easting, northing,
	baseline_no2, baseline_nox, baseline_pm25, baseline_pm10,
	baseline_pm10_days, baseline_available,
	data_source, direct_sensor, direct_distance,
	reference_sensor, reference_distance`

func scanSchool(row rowScanner) (airquality.School, error) {
	var (
		s          airquality.School
		dataSource null.String
	)
	err := row.Scan(
		&s.URN,
		&s.Name,
		&s.Postcode,
		&s.Borough,
		&s.Lat,
		&s.Lon,
		&s.Easting,
		&s.Northing,
		&s.Baseline.Values.NO2,
		&s.Baseline.Values.NOx,
		&s.Baseline.Values.PM25,
		&s.Baseline.Values.PM10,
		&s.Baseline.PM10ExceedanceDays,
		&s.Baseline.Available,
		&dataSource,
		&s.Assignment.DirectSensor,
		&s.Assignment.DirectDistance,
		&s.Assignment.ReferenceSensor,
		&s.Assignment.ReferenceDistance,
	)
	if err != nil {
		return airquality.School{}, err
	}
	s.Assignment.DataSource = airquality.DataSource(dataSource.String)
	return s, nil
}

// schoolArgs returns the insert arguments for a school's identity,
// location and baseline, in schoolColumns order without the assignment.
func schoolArgs(s airquality.School) []any {
	return []any{
		s.URN,
		s.Name,
		s.Postcode,
		s.Borough,
		s.Lat,
		s.Lon,
		s.Easting,
		s.Northing,
		s.Baseline.Values.NO2,
		s.Baseline.Values.NOx,
		s.Baseline.Values.PM25,
		s.Baseline.Values.PM10,
		s.Baseline.PM10ExceedanceDays,
		s.Baseline.Available,
	}
}

// assignmentArgs returns the update arguments for an assignment.
func assignmentArgs(a airquality.Assignment) []any {
	return []any{
		null.NewString(string(a.DataSource), a.DataSource != ""),
		a.DirectSensor,
		a.DirectDistance,
		a.ReferenceSensor,
		a.ReferenceDistance,
	}
}
