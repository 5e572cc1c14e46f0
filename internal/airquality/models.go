// Package airquality assigns monitoring sensors to schools and estimates
// current pollutant exposure from sensor readings and modelled baselines.
package airquality

import (
	"errors"
	"math"
	"time"

	"github.com/guregu/null/v5"
)

// Lookup errors.
var (
	ErrSensorNotFound = errors.New("sensor not found")
	ErrSchoolNotFound = errors.New("school not found")
)

// Network identifies the monitoring network a sensor belongs to.
type Network string

const (
	// NetworkReferenceGrade is the London Air Quality Network (LAQN).
	NetworkReferenceGrade Network = "LAQN"
	// NetworkLowCost is the Breathe London low-cost sensor network.
	NetworkLowCost Network = "BREATHE"
)

// IsReferenceGrade reports whether the network operates reference-grade instruments.
func (n Network) IsReferenceGrade() bool {
	return n == NetworkReferenceGrade
}

// SiteType is the site classification of a monitoring point.
type SiteType string

const (
	SiteTypeRoadside        SiteType = "roadside"
	SiteTypeUrbanBackground SiteType = "urban_background"
	SiteTypeSuburban        SiteType = "suburban"
	SiteTypeIndustrial      SiteType = "industrial"
	SiteTypeKerbside        SiteType = "kerbside"
	SiteTypeRural           SiteType = "rural"
)

// Valid reports whether t is a known site classification.
func (t SiteType) Valid() bool {
	switch t {
	case SiteTypeRoadside, SiteTypeUrbanBackground, SiteTypeSuburban,
		SiteTypeIndustrial, SiteTypeKerbside, SiteTypeRural:
		return true
	}
	return false
}

// Pollutant represents an air quality pollutant type.
type Pollutant string

const (
	PollutantNO2  Pollutant = "NO2"
	PollutantPM25 Pollutant = "PM25"
	PollutantPM10 Pollutant = "PM10"
	PollutantO3   Pollutant = "O3"
	PollutantNOx  Pollutant = "NOX"
)

// Pollutants lists every pollutant a reading can carry, in display order.
var Pollutants = []Pollutant{PollutantNO2, PollutantPM25, PollutantPM10, PollutantO3, PollutantNOx}

// Concentrations holds one optional value per pollutant in µg/m³.
type Concentrations struct {
	NO2  null.Float `json:"no2"`
	PM25 null.Float `json:"pm25"`
	PM10 null.Float `json:"pm10"`
	O3   null.Float `json:"o3"`
	NOx  null.Float `json:"nox"`
}

// Get returns the value for pollutant p.
func (c Concentrations) Get(p Pollutant) null.Float {
	switch p {
	case PollutantNO2:
		return c.NO2
	case PollutantPM25:
		return c.PM25
	case PollutantPM10:
		return c.PM10
	case PollutantO3:
		return c.O3
	case PollutantNOx:
		return c.NOx
	}
	return null.Float{}
}

// Set stores v for pollutant p. Unknown pollutants are ignored.
func (c *Concentrations) Set(p Pollutant, v null.Float) {
	switch p {
	case PollutantNO2:
		c.NO2 = v
	case PollutantPM25:
		c.PM25 = v
	case PollutantPM10:
		c.PM10 = v
	case PollutantO3:
		c.O3 = v
	case PollutantNOx:
		c.NOx = v
	}
}

// Any reports whether at least one pollutant has a usable value.
func (c Concentrations) Any() bool {
	for _, p := range Pollutants {
		if Concentration(c.Get(p)).Valid {
			return true
		}
	}
	return false
}

// Sanitized returns a copy with malformed values replaced by absent ones.
func (c Concentrations) Sanitized() Concentrations {
	var out Concentrations
	for _, p := range Pollutants {
		out.Set(p, Concentration(c.Get(p)))
	}
	return out
}

// Concentration returns v if it is a usable concentration. Negative and
// non-finite values are upstream feed errors and are treated as absent.
func Concentration(v null.Float) null.Float {
	if !v.Valid || math.IsNaN(v.Float64) || math.IsInf(v.Float64, 0) || v.Float64 < 0 {
		return null.Float{}
	}
	return v
}

// ConcentrationFrom wraps a raw float as an optional concentration.
func ConcentrationFrom(f float64) null.Float {
	return Concentration(null.FloatFrom(f))
}

// Sensor is a fixed monitoring point.
type Sensor struct {
	SiteCode  string
	Name      string
	Lat       float64
	Lon       float64
	Network   Network
	SiteType  SiteType
	Borough   string
	Active    bool
	UpdatedAt time.Time
}

// IsReferenceGrade reports whether the sensor belongs to the reference-grade network.
func (s Sensor) IsReferenceGrade() bool {
	return s.Network.IsReferenceGrade()
}

// IsUrbanBackground reports whether the sensor is eligible for direct assignment.
func (s Sensor) IsUrbanBackground() bool {
	return s.SiteType == SiteTypeUrbanBackground
}

// HasValidLocation reports whether the sensor coordinates can be used.
func (s Sensor) HasValidLocation() bool {
	return validCoordinate(s.Lat, s.Lon)
}

// Reading is one timestamped measurement set from a sensor.
// At most one reading exists per (SiteCode, Timestamp).
type Reading struct {
	SiteCode    string
	Timestamp   time.Time
	Values      Concentrations
	Provisional bool
}

// AnnualStats holds a sensor's annual mean concentrations for one year.
type AnnualStats struct {
	SiteCode    string
	Year        int
	Means       Concentrations
	CaptureRate null.Float
}

// Baseline holds the static modelled annual-mean concentrations at a school.
// O3 is never modelled and stays absent.
type Baseline struct {
	Values             Concentrations
	PM10ExceedanceDays null.Float
	Available          bool
}

// HasAny reports whether the baseline has at least one usable value,
// counting PM10 exceedance days.
func (b Baseline) HasAny() bool {
	return b.Values.Any() || Concentration(b.PM10ExceedanceDays).Valid
}

// DataSource classifies how a school's estimate is expected to be produced.
type DataSource string

const (
	DataSourceDirect       DataSource = "DIRECT"
	DataSourceAdjusted     DataSource = "ADJUSTED"
	DataSourceBaselineOnly DataSource = "BASELINE_ONLY"
)

// Assignment is the resolver output persisted per school.
type Assignment struct {
	DataSource        DataSource
	DirectSensor      null.String
	DirectDistance    null.Float
	ReferenceSensor   null.String
	ReferenceDistance null.Float
}

// School is a location requiring an air-quality estimate.
type School struct {
	URN      string
	Name     string
	Postcode string
	Borough  string

	Lat null.Float
	Lon null.Float

	// Easting and Northing are British National Grid coordinates used for
	// the baseline surface lookup.
	Easting  null.Float
	Northing null.Float

	Baseline   Baseline
	Assignment Assignment
}

// Location returns the school coordinates if both are present and in range.
func (s School) Location() (lat, lon float64, ok bool) {
	if !s.Lat.Valid || !s.Lon.Valid {
		return 0, 0, false
	}
	if !validCoordinate(s.Lat.Float64, s.Lon.Float64) {
		return 0, 0, false
	}
	return s.Lat.Float64, s.Lon.Float64, true
}

func validCoordinate(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// round rounds v to the given number of decimal places, half away from zero.
func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
