package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/GavinKingcome/schools-air-quality-msp4/internal/airquality"
)

//go:embed schema/postgres.sql
var postgresSchema string

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// EnsureSchema creates any missing tables.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// UpsertSensors inserts or updates sensors by site code.
func (r *PostgresRepository) UpsertSensors(ctx context.Context, sensors []airquality.Sensor) error {
	if len(sensors) == 0 {
		return nil
	}

	query := `
		INSERT INTO sensors (
			site_code, name, latitude, longitude,
			network, site_type, borough, is_active, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (site_code) DO UPDATE SET
			name = EXCLUDED.name,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			network = EXCLUDED.network,
			site_type = EXCLUDED.site_type,
			borough = EXCLUDED.borough,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at
	`

	batch := &pgx.Batch{}
	for _, s := range sensors {
		updatedAt := s.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = time.Now().UTC()
		}
		batch.Queue(query,
			s.SiteCode, s.Name, s.Lat, s.Lon,
			string(s.Network), string(s.SiteType), s.Borough, s.Active, updatedAt,
		)
	}

	return r.pool.SendBatch(ctx, batch).Close()
}

const sensorSelect = `
	SELECT site_code, name, latitude, longitude, network, site_type, borough, is_active, updated_at
	FROM sensors
`

func scanPostgresSensor(row rowScanner) (airquality.Sensor, error) {
	var (
		s                 airquality.Sensor
		network, siteType string
	)
	err := row.Scan(
		&s.SiteCode,
		&s.Name,
		&s.Lat,
		&s.Lon,
		&network,
		&siteType,
		&s.Borough,
		&s.Active,
		&s.UpdatedAt,
	)
	if err != nil {
		return airquality.Sensor{}, err
	}
	s.Network = airquality.Network(network)
	s.SiteType = airquality.SiteType(siteType)
	s.UpdatedAt = s.UpdatedAt.UTC()
	return s, nil
}

// ListSensors returns all sensors in inventory order.
func (r *PostgresRepository) ListSensors(ctx context.Context) ([]airquality.Sensor, error) {
	rows, err := r.pool.Query(ctx, sensorSelect+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sensors []airquality.Sensor
	for rows.Next() {
		s, err := scanPostgresSensor(rows)
		if err != nil {
			return nil, err
		}
		sensors = append(sensors, s)
	}
	return sensors, rows.Err()
}

// GetSensor returns a sensor by site code.
func (r *PostgresRepository) GetSensor(ctx context.Context, siteCode string) (airquality.Sensor, error) {
	s, err := scanPostgresSensor(r.pool.QueryRow(ctx, sensorSelect+` WHERE site_code = $1`, siteCode))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return airquality.Sensor{}, airquality.ErrSensorNotFound
		}
		return airquality.Sensor{}, err
	}
	return s, nil
}

// UpsertReadings stores readings keyed by sensor and timestamp.
func (r *PostgresRepository) UpsertReadings(ctx context.Context, readings []airquality.Reading) (int, error) {
	if len(readings) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO readings (site_code, ts, no2, pm25, pm10, o3, nox, provisional)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (site_code, ts) DO UPDATE SET
			no2 = EXCLUDED.no2,
			pm25 = EXCLUDED.pm25,
			pm10 = EXCLUDED.pm10,
			o3 = EXCLUDED.o3,
			nox = EXCLUDED.nox,
			provisional = EXCLUDED.provisional
	`

	batch := &pgx.Batch{}
	for _, rd := range readings {
		v := rd.Values
		batch.Queue(query, rd.SiteCode, rd.Timestamp.UTC(), v.NO2, v.PM25, v.PM10, v.O3, v.NOx, rd.Provisional)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	stored := 0
	for range readings {
		tag, err := br.Exec()
		if err != nil {
			return stored, fmt.Errorf("upsert reading: %w", err)
		}
		stored += int(tag.RowsAffected())
	}
	return stored, nil
}

func scanPostgresReading(row rowScanner) (airquality.Reading, error) {
	var rd airquality.Reading
	err := row.Scan(
		&rd.SiteCode,
		&rd.Timestamp,
		&rd.Values.NO2,
		&rd.Values.PM25,
		&rd.Values.PM10,
		&rd.Values.O3,
		&rd.Values.NOx,
		&rd.Provisional,
	)
	rd.Timestamp = rd.Timestamp.UTC()
	return rd, err
}

// LatestReadings returns the most recent reading per sensor.
func (r *PostgresRepository) LatestReadings(ctx context.Context) (map[string]airquality.Reading, error) {
	query := `
		SELECT DISTINCT ON (site_code)
			site_code, ts, no2, pm25, pm10, o3, nox, provisional
		FROM readings
		ORDER BY site_code, ts DESC
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	latest := make(map[string]airquality.Reading)
	for rows.Next() {
		rd, err := scanPostgresReading(rows)
		if err != nil {
			return nil, err
		}
		latest[rd.SiteCode] = rd
	}
	return latest, rows.Err()
}

// ReadingsBetween returns a sensor's readings in [start, end), oldest first.
func (r *PostgresRepository) ReadingsBetween(ctx context.Context, siteCode string, start, end time.Time) ([]airquality.Reading, error) {
	query := `
		SELECT site_code, ts, no2, pm25, pm10, o3, nox, provisional
		FROM readings
		WHERE site_code = $1 AND ts >= $2 AND ts < $3
		ORDER BY ts
	`

	rows, err := r.pool.Query(ctx, query, siteCode, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readings []airquality.Reading
	for rows.Next() {
		rd, err := scanPostgresReading(rows)
		if err != nil {
			return nil, err
		}
		readings = append(readings, rd)
	}
	return readings, rows.Err()
}

// UpsertAnnualStats stores statistics keyed by sensor and year.
func (r *PostgresRepository) UpsertAnnualStats(ctx context.Context, stats []airquality.AnnualStats) error {
	if len(stats) == 0 {
		return nil
	}

	query := `
		INSERT INTO annual_stats (` + statsColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (site_code, year) DO UPDATE SET
			no2_mean = EXCLUDED.no2_mean,
			pm25_mean = EXCLUDED.pm25_mean,
			pm10_mean = EXCLUDED.pm10_mean,
			o3_mean = EXCLUDED.o3_mean,
			nox_mean = EXCLUDED.nox_mean,
			capture_rate = EXCLUDED.capture_rate
	`

	batch := &pgx.Batch{}
	for _, st := range stats {
		m := st.Means
		batch.Queue(query, st.SiteCode, st.Year, m.NO2, m.PM25, m.PM10, m.O3, m.NOx, st.CaptureRate)
	}
	return r.pool.SendBatch(ctx, batch).Close()
}

// HasAnnualStats reports whether stats exist for a sensor and year.
func (r *PostgresRepository) HasAnnualStats(ctx context.Context, siteCode string, year int) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM annual_stats WHERE site_code = $1 AND year = $2)`,
		siteCode, year,
	).Scan(&exists)
	return exists, err
}

// LatestAnnualStats returns the latest year of statistics per sensor.
func (r *PostgresRepository) LatestAnnualStats(ctx context.Context) (map[string]airquality.AnnualStats, error) {
	query := `
		SELECT DISTINCT ON (site_code) ` + statsColumns + `
		FROM annual_stats
		ORDER BY site_code, year DESC
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	latest := make(map[string]airquality.AnnualStats)
	for rows.Next() {
		st, err := scanAnnualStats(rows)
		if err != nil {
			return nil, err
		}
		latest[st.SiteCode] = st
	}
	return latest, rows.Err()
}

// UpsertSchools stores schools, keeping any existing assignment.
func (r *PostgresRepository) UpsertSchools(ctx context.Context, schools []airquality.School) error {
	if len(schools) == 0 {
		return nil
	}

	query := `
		INSERT INTO schools (
			urn, name, postcode, borough,
			latitude, longitude, easting, northing,
			baseline_no2, baseline_nox, baseline_pm25, baseline_pm10,
			baseline_pm10_days, baseline_available
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (urn) DO UPDATE SET
			name = EXCLUDED.name,
			postcode = EXCLUDED.postcode,
			borough = EXCLUDED.borough,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			easting = EXCLUDED.easting,
			northing = EXCLUDED.northing,
			baseline_no2 = EXCLUDED.baseline_no2,
			baseline_nox = EXCLUDED.baseline_nox,
			baseline_pm25 = EXCLUDED.baseline_pm25,
			baseline_pm10 = EXCLUDED.baseline_pm10,
			baseline_pm10_days = EXCLUDED.baseline_pm10_days,
			baseline_available = EXCLUDED.baseline_available
	`

	batch := &pgx.Batch{}
	for _, s := range schools {
		batch.Queue(query, schoolArgs(s)...)
	}
	return r.pool.SendBatch(ctx, batch).Close()
}

// ListSchools returns all schools ordered by URN.
func (r *PostgresRepository) ListSchools(ctx context.Context) ([]airquality.School, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+schoolColumns+` FROM schools ORDER BY urn`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schools []airquality.School
	for rows.Next() {
		s, err := scanSchool(rows)
		if err != nil {
			return nil, err
		}
		schools = append(schools, s)
	}
	return schools, rows.Err()
}

// GetSchool returns a school by URN.
func (r *PostgresRepository) GetSchool(ctx context.Context, urn string) (airquality.School, error) {
	s, err := scanSchool(r.pool.QueryRow(ctx, `SELECT `+schoolColumns+` FROM schools WHERE urn = $1`, urn))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return airquality.School{}, airquality.ErrSchoolNotFound
		}
		return airquality.School{}, err
	}
	return s, nil
}

// SaveAssignments overwrites the listed schools' assignments in one
// transaction. An unknown URN rolls back the whole batch.
func (r *PostgresRepository) SaveAssignments(ctx context.Context, assignments map[string]airquality.Assignment, assignedAt time.Time) error {
	if len(assignments) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		UPDATE schools SET
			data_source = $2,
			direct_sensor = $3,
			direct_distance = $4,
			reference_sensor = $5,
			reference_distance = $6,
			assigned_at = $7
		WHERE urn = $1
	`

	batch := &pgx.Batch{}
	for urn, a := range assignments {
		args := append([]any{urn}, assignmentArgs(a)...)
		args = append(args, assignedAt.UTC())
		batch.Queue(query, args...)
	}

	br := tx.SendBatch(ctx, batch)
	for range assignments {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return fmt.Errorf("save assignment: %w", err)
		}
		if tag.RowsAffected() == 0 {
			_ = br.Close()
			return airquality.ErrSchoolNotFound
		}
	}
	if err := br.Close(); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Ping checks database connectivity.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Ensure PostgresRepository implements Repository interface.
var _ Repository = (*PostgresRepository)(nil)
