package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/NotCoffee418/dbmigrator"

	"github.com/GavinKingcome/schools-air-quality-msp4/internal/airquality"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// SQLiteRepository is a SQLite implementation of Repository for
// single-machine deployments. Timestamps are stored as unix nanoseconds.
type SQLiteRepository struct {
	db *sql.DB
}

// OpenSQLite opens the database at path and applies pending migrations.
func OpenSQLite(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps ":memory:" databases and write locking simple.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	dbmigrator.SetDatabaseType(dbmigrator.SQLite)
	<-dbmigrator.MigrateUpCh(db, migrationFS, "migrations")

	return &SQLiteRepository{db: db}, nil
}

// Close closes the underlying database.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// UpsertSensors inserts or updates sensors by site code.
func (r *SQLiteRepository) UpsertSensors(ctx context.Context, sensors []airquality.Sensor) error {
	query := `
		INSERT INTO sensors (
			site_code, name, latitude, longitude,
			network, site_type, borough, is_active, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (site_code) DO UPDATE SET
			name = excluded.name,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			network = excluded.network,
			site_type = excluded.site_type,
			borough = excluded.borough,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`

	return r.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, s := range sensors {
			updatedAt := s.UpdatedAt
			if updatedAt.IsZero() {
				updatedAt = time.Now()
			}
			if _, err := stmt.ExecContext(ctx,
				s.SiteCode, s.Name, s.Lat, s.Lon,
				string(s.Network), string(s.SiteType), s.Borough, s.Active, updatedAt.UnixNano(),
			); err != nil {
				return fmt.Errorf("upsert sensor %s: %w", s.SiteCode, err)
			}
		}
		return nil
	})
}

const sqliteSensorSelect = `
	SELECT site_code, name, latitude, longitude, network, site_type, borough, is_active, updated_at
	FROM sensors
`

func scanSQLiteSensor(row rowScanner) (airquality.Sensor, error) {
	var (
		s                 airquality.Sensor
		network, siteType string
		updatedAt         int64
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
		&updatedAt,
	)
	if err != nil {
		return airquality.Sensor{}, err
	}
	s.Network = airquality.Network(network)
	s.SiteType = airquality.SiteType(siteType)
	s.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return s, nil
}

// ListSensors returns all sensors in inventory order.
func (r *SQLiteRepository) ListSensors(ctx context.Context) ([]airquality.Sensor, error) {
	rows, err := r.db.QueryContext(ctx, sqliteSensorSelect+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sensors []airquality.Sensor
	for rows.Next() {
		s, err := scanSQLiteSensor(rows)
		if err != nil {
			return nil, err
		}
		sensors = append(sensors, s)
	}
	return sensors, rows.Err()
}

// GetSensor returns a sensor by site code.
func (r *SQLiteRepository) GetSensor(ctx context.Context, siteCode string) (airquality.Sensor, error) {
	s, err := scanSQLiteSensor(r.db.QueryRowContext(ctx, sqliteSensorSelect+` WHERE site_code = ?`, siteCode))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return airquality.Sensor{}, airquality.ErrSensorNotFound
		}
		return airquality.Sensor{}, err
	}
	return s, nil
}

// UpsertReadings stores readings keyed by sensor and timestamp.
func (r *SQLiteRepository) UpsertReadings(ctx context.Context, readings []airquality.Reading) (int, error) {
	query := `
		INSERT INTO readings (site_code, ts, no2, pm25, pm10, o3, nox, provisional)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (site_code, ts) DO UPDATE SET
			no2 = excluded.no2,
			pm25 = excluded.pm25,
			pm10 = excluded.pm10,
			o3 = excluded.o3,
			nox = excluded.nox,
			provisional = excluded.provisional
	`

	stored := 0
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, rd := range readings {
			v := rd.Values
			if _, err := stmt.ExecContext(ctx,
				rd.SiteCode, rd.Timestamp.UnixNano(), v.NO2, v.PM25, v.PM10, v.O3, v.NOx, rd.Provisional,
			); err != nil {
				return fmt.Errorf("upsert reading: %w", err)
			}
			stored++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return stored, nil
}

func scanSQLiteReading(row rowScanner) (airquality.Reading, error) {
	var (
		rd airquality.Reading
		ts int64
	)
	err := row.Scan(
		&rd.SiteCode,
		&ts,
		&rd.Values.NO2,
		&rd.Values.PM25,
		&rd.Values.PM10,
		&rd.Values.O3,
		&rd.Values.NOx,
		&rd.Provisional,
	)
	rd.Timestamp = time.Unix(0, ts).UTC()
	return rd, err
}

// LatestReadings returns the most recent reading per sensor.
func (r *SQLiteRepository) LatestReadings(ctx context.Context) (map[string]airquality.Reading, error) {
	query := `
		SELECT r.site_code, r.ts, r.no2, r.pm25, r.pm10, r.o3, r.nox, r.provisional
		FROM readings r
		JOIN (
			SELECT site_code, MAX(ts) AS ts FROM readings GROUP BY site_code
		) latest ON latest.site_code = r.site_code AND latest.ts = r.ts
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	latest := make(map[string]airquality.Reading)
	for rows.Next() {
		rd, err := scanSQLiteReading(rows)
		if err != nil {
			return nil, err
		}
		latest[rd.SiteCode] = rd
	}
	return latest, rows.Err()
}

// ReadingsBetween returns a sensor's readings in [start, end), oldest first.
func (r *SQLiteRepository) ReadingsBetween(ctx context.Context, siteCode string, start, end time.Time) ([]airquality.Reading, error) {
	query := `
		SELECT site_code, ts, no2, pm25, pm10, o3, nox, provisional
		FROM readings
		WHERE site_code = ? AND ts >= ? AND ts < ?
		ORDER BY ts
	`

	rows, err := r.db.QueryContext(ctx, query, siteCode, start.UnixNano(), end.UnixNano())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readings []airquality.Reading
	for rows.Next() {
		rd, err := scanSQLiteReading(rows)
		if err != nil {
			return nil, err
		}
		readings = append(readings, rd)
	}
	return readings, rows.Err()
}

// UpsertAnnualStats stores statistics keyed by sensor and year.
func (r *SQLiteRepository) UpsertAnnualStats(ctx context.Context, stats []airquality.AnnualStats) error {
	query := `
		INSERT INTO annual_stats (` + statsColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (site_code, year) DO UPDATE SET
			no2_mean = excluded.no2_mean,
			pm25_mean = excluded.pm25_mean,
			pm10_mean = excluded.pm10_mean,
			o3_mean = excluded.o3_mean,
			nox_mean = excluded.nox_mean,
			capture_rate = excluded.capture_rate
	`

	return r.inTx(ctx, func(tx *sql.Tx) error {
		for _, st := range stats {
			m := st.Means
			if _, err := tx.ExecContext(ctx, query,
				st.SiteCode, st.Year, m.NO2, m.PM25, m.PM10, m.O3, m.NOx, st.CaptureRate,
			); err != nil {
				return fmt.Errorf("upsert annual stats %s/%d: %w", st.SiteCode, st.Year, err)
			}
		}
		return nil
	})
}

// HasAnnualStats reports whether stats exist for a sensor and year.
func (r *SQLiteRepository) HasAnnualStats(ctx context.Context, siteCode string, year int) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM annual_stats WHERE site_code = ? AND year = ?`,
		siteCode, year,
	).Scan(&n)
	return n > 0, err
}

// LatestAnnualStats returns the latest year of statistics per sensor.
func (r *SQLiteRepository) LatestAnnualStats(ctx context.Context) (map[string]airquality.AnnualStats, error) {
	query := `
		SELECT ` + statsColumns + `
		FROM annual_stats s
		WHERE year = (SELECT MAX(year) FROM annual_stats WHERE site_code = s.site_code)
	`

	rows, err := r.db.QueryContext(ctx, query)
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
func (r *SQLiteRepository) UpsertSchools(ctx context.Context, schools []airquality.School) error {
	query := `
		INSERT INTO schools (
			urn, name, postcode, borough,
			latitude, longitude, easting, northing,
			baseline_no2, baseline_nox, baseline_pm25, baseline_pm10,
			baseline_pm10_days, baseline_available
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (urn) DO UPDATE SET
			name = excluded.name,
			postcode = excluded.postcode,
			borough = excluded.borough,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			easting = excluded.easting,
			northing = excluded.northing,
			baseline_no2 = excluded.baseline_no2,
			baseline_nox = excluded.baseline_nox,
			baseline_pm25 = excluded.baseline_pm25,
			baseline_pm10 = excluded.baseline_pm10,
			baseline_pm10_days = excluded.baseline_pm10_days,
			baseline_available = excluded.baseline_available
	`

	return r.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, s := range schools {
			if _, err := stmt.ExecContext(ctx, schoolArgs(s)...); err != nil {
				return fmt.Errorf("upsert school %s: %w", s.URN, err)
			}
		}
		return nil
	})
}

// ListSchools returns all schools ordered by URN.
func (r *SQLiteRepository) ListSchools(ctx context.Context) ([]airquality.School, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+schoolColumns+` FROM schools ORDER BY urn`)
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
func (r *SQLiteRepository) GetSchool(ctx context.Context, urn string) (airquality.School, error) {
	s, err := scanSchool(r.db.QueryRowContext(ctx, `SELECT `+schoolColumns+` FROM schools WHERE urn = ?`, urn))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return airquality.School{}, airquality.ErrSchoolNotFound
		}
		return airquality.School{}, err
	}
	return s, nil
}

// SaveAssignments overwrites the listed schools' assignments in one
// transaction. An unknown URN rolls back the whole batch.
func (r *SQLiteRepository) SaveAssignments(ctx context.Context, assignments map[string]airquality.Assignment, assignedAt time.Time) error {
	query := `
		UPDATE schools SET
			data_source = ?,
			direct_sensor = ?,
			direct_distance = ?,
			reference_sensor = ?,
			reference_distance = ?,
			assigned_at = ?
		WHERE urn = ?
	`

	return r.inTx(ctx, func(tx *sql.Tx) error {
		for urn, a := range assignments {
			args := append(assignmentArgs(a), assignedAt.UnixNano(), urn)
			res, err := tx.ExecContext(ctx, query, args...)
			if err != nil {
				return fmt.Errorf("save assignment %s: %w", urn, err)
			}
			if n, err := res.RowsAffected(); err == nil && n == 0 {
				return airquality.ErrSchoolNotFound
			}
		}
		return nil
	})
}

// Ping checks database connectivity.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Ensure SQLiteRepository implements Repository interface.
var _ Repository = (*SQLiteRepository)(nil)
