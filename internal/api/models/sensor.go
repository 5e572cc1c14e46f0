package models

// Sensor is a monitoring point with its latest reading.
type Sensor struct {
	SiteCode       string       `json:"siteCode"`
	Name           string       `json:"name"`
	Network        string       `json:"network"`
	ReferenceGrade bool         `json:"referenceGrade"`
	SiteType       string       `json:"siteType"`
	Borough        string       `json:"borough,omitempty"`
	Lat            float64      `json:"lat"`
	Lon            float64      `json:"lon"`
	Active         bool         `json:"active"`
	LatestReading  *Reading     `json:"latestReading,omitempty"`
	AnnualMeans    *AnnualMeans `json:"annualMeans,omitempty"`
}

// Reading is one timestamped measurement set.
type Reading struct {
	Timestamp   Timestamp      `json:"timestamp"`
	Values      Concentrations `json:"values"`
	Provisional bool           `json:"provisional,omitempty"`
}

// AnnualMeans are a sensor's annual mean concentrations for one year.
type AnnualMeans struct {
	Year        int            `json:"year"`
	Means       Concentrations `json:"means"`
	CaptureRate *float64       `json:"captureRate,omitempty"`
}

// SensorList is the sensor inventory.
type SensorList struct {
	Items []Sensor `json:"items"`
}
