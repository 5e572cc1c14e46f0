package airquality

import (
	"time"
)

// Adjustment holds per-pollutant scaling factors derived from a reference
// sensor. A factor above 1 means current conditions exceed the sensor's
// typical annual level.
type Adjustment struct {
	SensorCode  string
	Factors     map[Pollutant]float64
	ReadingTime time.Time
	StatsYear   int

	// Daytime reports whether the reading fell inside the configured
	// daytime hours, whether or not the filter is enabled.
	Daytime bool
}

// OK reports whether at least one factor was produced.
func (a Adjustment) OK() bool {
	return len(a.Factors) > 0
}

// Factor returns the factor for p.
func (a Adjustment) Factor(p Pollutant) (float64, bool) {
	f, ok := a.Factors[p]
	return f, ok
}

// ComputeAdjustment derives adjustment factors for the given reference
// sensor. It returns an empty Adjustment when no factor can be computed;
// missing data is never an error.
func ComputeAdjustment(referenceCode string, data Lookup, cfg EstimatorConfig, now time.Time) Adjustment {
	if referenceCode == "" {
		return Adjustment{}
	}

	sensor, ok := data.Sensor(referenceCode)
	if !ok || !sensor.Active {
		return Adjustment{}
	}

	reading, ok := data.LatestReading(referenceCode)
	if !ok || !isFresh(reading, cfg.FreshnessWindow, now) {
		return Adjustment{}
	}

	if !cfg.Daytime.Contains(reading.Timestamp) {
		return Adjustment{}
	}

	stats, ok := data.LatestAnnualStats(referenceCode)
	if !ok {
		return Adjustment{}
	}

	factors := make(map[Pollutant]float64)
	for _, p := range Pollutants {
		current := Concentration(reading.Values.Get(p))
		mean := Concentration(stats.Means.Get(p))
		if !current.Valid || !mean.Valid || mean.Float64 <= 0 {
			continue
		}
		factors[p] = round(current.Float64/mean.Float64, 3)
	}

	if len(factors) == 0 {
		return Adjustment{}
	}

	return Adjustment{
		SensorCode:  referenceCode,
		Factors:     factors,
		ReadingTime: reading.Timestamp,
		StatsYear:   stats.Year,
		Daytime:     cfg.Daytime.Within(reading.Timestamp),
	}
}

// isFresh reports whether the reading is no older than window at now.
func isFresh(r Reading, window time.Duration, now time.Time) bool {
	if r.Timestamp.IsZero() {
		return false
	}
	return now.Sub(r.Timestamp) <= window
}
