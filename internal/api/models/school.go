package models

// Concentrations holds optional pollutant values in µg/m³.
type Concentrations struct {
	NO2  *float64 `json:"no2,omitempty"`
	PM25 *float64 `json:"pm25,omitempty"`
	PM10 *float64 `json:"pm10,omitempty"`
	O3   *float64 `json:"o3,omitempty"`
	NOx  *float64 `json:"nox,omitempty"`
}

// Assignment is the stored sensor assignment of a school.
type Assignment struct {
	DataSource        string   `json:"dataSource,omitempty"`
	DirectSensor      *string  `json:"directSensor,omitempty"`
	DirectDistance    *float64 `json:"directDistanceM,omitempty"`
	ReferenceSensor   *string  `json:"referenceSensor,omitempty"`
	ReferenceDistance *float64 `json:"referenceDistanceM,omitempty"`
}

// School is the list view of a school.
type School struct {
	URN        string     `json:"urn"`
	Name       string     `json:"name"`
	Postcode   string     `json:"postcode,omitempty"`
	Borough    string     `json:"borough,omitempty"`
	Lat        *float64   `json:"lat,omitempty"`
	Lon        *float64   `json:"lon,omitempty"`
	Assignment Assignment `json:"assignment"`
}

// PagedSchools is a page of schools.
type PagedSchools struct {
	Items []School `json:"items"`
	Meta  PageMeta `json:"meta"`
}

// Baseline is the modelled annual-mean surface at a school.
type Baseline struct {
	Available          bool           `json:"available"`
	Values             Concentrations `json:"values"`
	PM10ExceedanceDays *float64       `json:"pm10ExceedanceDays,omitempty"`
}

// Adjustment describes the factors applied to an adjusted estimate.
type Adjustment struct {
	SensorCode  string             `json:"sensorCode"`
	Factors     map[string]float64 `json:"factors"`
	ReadingTime Timestamp          `json:"readingTime"`
	StatsYear   int                `json:"statsYear"`
	Daytime     bool               `json:"daytime"`
}

// PollutantStatus is the classification of one pollutant.
type PollutantStatus struct {
	Pollutant string  `json:"pollutant"`
	Value     float64 `json:"value"`
	Category  string  `json:"category"`
}

// ThresholdStatus is the classification of an estimate.
type ThresholdStatus struct {
	Classified bool              `json:"classified"`
	Overall    string            `json:"overall,omitempty"`
	Pollutants []PollutantStatus `json:"pollutants"`
}

// Estimate is the current exposure estimate at a school.
type Estimate struct {
	Method             string          `json:"method"`
	Confidence         string          `json:"confidence,omitempty"`
	Values             Concentrations  `json:"values"`
	PM10ExceedanceDays *float64        `json:"pm10ExceedanceDays,omitempty"`
	SensorCode         *string         `json:"sensorCode,omitempty"`
	ReadingTime        *Timestamp      `json:"readingTime,omitempty"`
	Adjustment         *Adjustment     `json:"adjustment,omitempty"`
	Note               string          `json:"note"`
	Status             ThresholdStatus `json:"status"`
}

// SchoolDetail is a school with its baseline and live estimate.
type SchoolDetail struct {
	School
	Easting     *float64  `json:"easting,omitempty"`
	Northing    *float64  `json:"northing,omitempty"`
	Baseline    Baseline  `json:"baseline"`
	Estimate    Estimate  `json:"estimate"`
	GeneratedAt Timestamp `json:"generatedAt"`
}

// SchoolEstimate is one row of the bulk estimate listing.
type SchoolEstimate struct {
	URN      string   `json:"urn"`
	Name     string   `json:"name"`
	Estimate Estimate `json:"estimate"`
}

// SchoolEstimates is the bulk estimate listing.
type SchoolEstimates struct {
	GeneratedAt Timestamp        `json:"generatedAt"`
	Items       []SchoolEstimate `json:"items"`
}
