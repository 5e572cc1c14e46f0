// Package baseline imports the modelled annual-mean concentrations
// extracted from the London Atmospheric Emissions Inventory (LAEI) for
// each school.
package baseline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/guregu/null/v5"
	"github.com/rs/zerolog"

	"github.com/GavinKingcome/schools-air-quality-msp4/internal/airquality"
)

// Concentration keys in the extraction output.
const (
	KeyNO2      = "NO2_2022"
	KeyNOx      = "NOx_2022"
	KeyPM25     = "PM25_2022"
	KeyPM10     = "PM10_mean_2022"
	KeyPM10Days = "PM10_days_2022"
)

// batchSize bounds the number of schools written per UpsertSchools call.
const batchSize = 500

// Input errors.
var (
	ErrEmptyFile   = errors.New("baseline file contains no schools")
	ErrInvalidFile = errors.New("invalid baseline file")
)

// Record is one school as written by the LAEI extraction step. Decoding
// is tolerant: the URN may be a number or a string, and malformed values
// are treated as absent.
type Record struct {
	URN            string
	Name           string
	Postcode       string
	Borough        string
	Latitude       null.Float
	Longitude      null.Float
	Easting        null.Float
	Northing       null.Float
	LAEIFound      bool
	Concentrations map[string]null.Float
}

// SchoolWriter stores imported schools.
type SchoolWriter interface {
	UpsertSchools(ctx context.Context, schools []airquality.School) error
}

// Summary reports the outcome of an import.
type Summary struct {
	Total        int      `json:"total"`
	Imported     int      `json:"imported"`
	WithBaseline int      `json:"with_baseline"`
	Skipped      []string `json:"skipped,omitempty"`
}

// ImporterConfig holds configuration for the Importer.
type ImporterConfig struct {
	Store  SchoolWriter
	Logger zerolog.Logger
}

// Importer loads LAEI extraction output into the school store.
type Importer struct {
	store  SchoolWriter
	logger zerolog.Logger
}

// NewImporter creates a new Importer.
func NewImporter(cfg ImporterConfig) *Importer {
	return &Importer{store: cfg.Store, logger: cfg.Logger}
}

// ImportFile imports the JSON file at path.
func (i *Importer) ImportFile(ctx context.Context, path string) (Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return Summary{}, fmt.Errorf("open baseline file: %w", err)
	}
	defer f.Close()
	return i.Import(ctx, f)
}

// Import decodes records from r and upserts them as schools. Records
// without a URN, or that are not JSON objects, are skipped. Stored
// assignments are never modified.
func (i *Importer) Import(ctx context.Context, r io.Reader) (Summary, error) {
	var records []json.RawMessage
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return Summary{}, fmt.Errorf("%w: %w", ErrInvalidFile, err)
	}
	if len(records) == 0 {
		return Summary{}, ErrEmptyFile
	}

	summary := Summary{Total: len(records)}
	batch := make([]airquality.School, 0, batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := i.store.UpsertSchools(ctx, batch); err != nil {
			return fmt.Errorf("store schools: %w", err)
		}
		summary.Imported += len(batch)
		batch = batch[:0]
		return nil
	}

	for n, data := range records {
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			label := "record " + strconv.Itoa(n+1)
			summary.Skipped = append(summary.Skipped, label)
			i.logger.Warn().Err(err).Str("record", label).Msg("skipping malformed record")
			continue
		}

		school, ok := rec.School()
		if !ok {
			label := rec.Name
			if label == "" {
				label = "record " + strconv.Itoa(n+1)
			}
			summary.Skipped = append(summary.Skipped, label)
			i.logger.Warn().Str("name", rec.Name).Str("postcode", rec.Postcode).Msg("skipping school without URN")
			continue
		}
		if school.Baseline.Available {
			summary.WithBaseline++
		} else {
			i.logger.Debug().Str("urn", school.URN).Msg("no LAEI baseline for school")
		}

		batch = append(batch, school)
		if len(batch) == batchSize {
			if err := flush(); err != nil {
				return summary, err
			}
		}
	}
	if err := flush(); err != nil {
		return summary, err
	}

	i.logger.Info().
		Int("total", summary.Total).
		Int("imported", summary.Imported).
		Int("with_baseline", summary.WithBaseline).
		Int("skipped", len(summary.Skipped)).
		Msg("baseline import complete")

	return summary, nil
}

// School converts the record to a school. It returns false when the record
// has no URN.
func (rec Record) School() (airquality.School, bool) {
	urn := strings.TrimSpace(rec.URN)
	if urn == "" {
		return airquality.School{}, false
	}

	school := airquality.School{
		URN:      urn,
		Name:     strings.TrimSpace(rec.Name),
		Postcode: strings.TrimSpace(rec.Postcode),
		Borough:  strings.TrimSpace(rec.Borough),
		Lat:      rec.Latitude,
		Lon:      rec.Longitude,
		Easting:  rec.Easting,
		Northing: rec.Northing,
	}
	if rec.LAEIFound {
		school.Baseline = rec.baseline()
	}
	return school, true
}

func (rec Record) baseline() airquality.Baseline {
	var b airquality.Baseline
	b.Values.NO2 = rec.value(KeyNO2)
	b.Values.NOx = rec.value(KeyNOx)
	b.Values.PM25 = rec.value(KeyPM25)
	b.Values.PM10 = rec.value(KeyPM10)
	b.PM10ExceedanceDays = rec.value(KeyPM10Days)
	b.Available = b.HasAny()
	return b
}

// value returns a concentration, treating the raster NODATA marker
// (-9999) and any other negative value as absent.
func (rec Record) value(key string) null.Float {
	return airquality.Concentration(rec.Concentrations[key])
}
