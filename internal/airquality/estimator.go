package airquality

import (
	"time"

	"github.com/guregu/null/v5"
)

// Method identifies which tier produced an estimate.
type Method string

const (
	MethodDirect       Method = "direct"
	MethodAdjusted     Method = "adjusted"
	MethodBaselineOnly Method = "baseline_only"
	MethodNone         Method = "none"
)

// Confidence is a qualitative confidence level for an estimate.
type Confidence string

const (
	ConfidenceHigh       Confidence = "high"
	ConfidenceMediumHigh Confidence = "medium-high"
	ConfidenceMedium     Confidence = "medium"
	ConfidenceLow        Confidence = "low"
)

// Bounds applied to adjustment factors before scaling a baseline.
const (
	FactorFloor   = 0.2
	FactorCeiling = 5.0
)

// Notes attached to estimates.
const (
	NoteDirect       = "live reading from nearby sensor"
	NoteAdjusted     = "modelled baseline scaled by reference sensor"
	NoteBaselineOnly = "static annual modelled average"
	NoteNone         = "no data available"
)

// Estimate is the current best-estimate exposure at a school. Estimates are
// computed on demand and never persisted.
type Estimate struct {
	Values             Concentrations
	PM10ExceedanceDays null.Float

	Method     Method
	Confidence Confidence

	// SensorCode is the sensor whose reading drove the estimate, if any.
	SensorCode  null.String
	ReadingTime null.Time

	// Adjustment is set for adjusted estimates.
	Adjustment *Adjustment

	Note string
}

// Estimator produces hybrid estimates from pre-materialized data.
type Estimator struct {
	config EstimatorConfig
}

// NewEstimator creates an Estimator. The freshness window must be set.
func NewEstimator(config EstimatorConfig) (*Estimator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Estimator{config: config}, nil
}

// Config returns the estimator configuration.
func (e *Estimator) Config() EstimatorConfig {
	return e.config
}

// Estimate runs the fallback chain for a school: direct, adjusted,
// baseline-only, none. The first tier whose conditions all hold wins.
func (e *Estimator) Estimate(school School, data Lookup, now time.Time) Estimate {
	if est, ok := e.direct(school, data, now); ok {
		return est
	}
	if est, ok := e.adjusted(school, data, now); ok {
		return est
	}
	if school.Baseline.HasAny() {
		return Estimate{
			Values:             school.Baseline.Values.Sanitized(),
			PM10ExceedanceDays: Concentration(school.Baseline.PM10ExceedanceDays),
			Method:             MethodBaselineOnly,
			Confidence:         ConfidenceLow,
			Note:               NoteBaselineOnly,
		}
	}
	return Estimate{
		Method:     MethodNone,
		Confidence: ConfidenceLow,
		Note:       NoteNone,
	}
}

func (e *Estimator) direct(school School, data Lookup, now time.Time) (Estimate, bool) {
	code := school.Assignment.DirectSensor
	if !code.Valid || code.String == "" {
		return Estimate{}, false
	}

	sensor, ok := data.Sensor(code.String)
	if !ok || !sensor.Active {
		return Estimate{}, false
	}

	reading, ok := data.LatestReading(code.String)
	if !ok || !isFresh(reading, e.config.FreshnessWindow, now) || !reading.Values.Any() {
		return Estimate{}, false
	}

	confidence := ConfidenceMediumHigh
	if sensor.IsReferenceGrade() {
		confidence = ConfidenceHigh
	}

	return Estimate{
		Values:      reading.Values.Sanitized(),
		Method:      MethodDirect,
		Confidence:  confidence,
		SensorCode:  null.StringFrom(sensor.SiteCode),
		ReadingTime: null.TimeFrom(reading.Timestamp),
		Note:        NoteDirect,
	}, true
}

func (e *Estimator) adjusted(school School, data Lookup, now time.Time) (Estimate, bool) {
	code := school.Assignment.ReferenceSensor
	if !code.Valid || code.String == "" || !school.Baseline.Values.Any() {
		return Estimate{}, false
	}

	adj := ComputeAdjustment(code.String, data, e.config, now)
	if !adj.OK() {
		return Estimate{}, false
	}

	var values Concentrations
	for _, p := range Pollutants {
		base := Concentration(school.Baseline.Values.Get(p))
		if !base.Valid {
			continue
		}
		factor, ok := adj.Factor(p)
		if !ok {
			values.Set(p, base)
			continue
		}
		values.Set(p, null.FloatFrom(round(base.Float64*clampFactor(factor), 1)))
	}

	return Estimate{
		Values:             values,
		PM10ExceedanceDays: Concentration(school.Baseline.PM10ExceedanceDays),
		Method:             MethodAdjusted,
		Confidence:         ConfidenceMedium,
		SensorCode:         null.StringFrom(adj.SensorCode),
		ReadingTime:        null.TimeFrom(adj.ReadingTime),
		Adjustment:         &adj,
		Note:               NoteAdjusted,
	}, true
}

func clampFactor(f float64) float64 {
	if f < FactorFloor {
		return FactorFloor
	}
	if f > FactorCeiling {
		return FactorCeiling
	}
	return f
}
