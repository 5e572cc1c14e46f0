package airquality

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidConfig is returned when an engine component is built from an
// incomplete or inconsistent configuration. Components never fall back to
// built-in defaults.
var ErrInvalidConfig = errors.New("invalid engine configuration")

// ResolverConfig holds the distance thresholds for sensor assignment.
type ResolverConfig struct {
	// DirectThreshold is the maximum distance (in meters) for a direct sensor.
	DirectThreshold float64

	// ReferenceThreshold is the maximum distance (in meters) for a reference sensor.
	ReferenceThreshold float64
}

// RecommendedResolverConfig returns the thresholds used by the London
// deployment: 150 m for direct sensors and 2 km for reference sensors.
func RecommendedResolverConfig() ResolverConfig {
	return ResolverConfig{
		DirectThreshold:    150,
		ReferenceThreshold: 2000,
	}
}

// Validate checks that both thresholds are defined.
func (c ResolverConfig) Validate() error {
	if !positiveFinite(c.DirectThreshold) {
		return fmt.Errorf("%w: direct threshold must be a positive distance, got %v", ErrInvalidConfig, c.DirectThreshold)
	}
	if !positiveFinite(c.ReferenceThreshold) {
		return fmt.Errorf("%w: reference threshold must be a positive distance, got %v", ErrInvalidConfig, c.ReferenceThreshold)
	}
	return nil
}

// DaytimeWindow restricts adjustment factors to readings taken during the
// day. Hours are local to Location and the window is [StartHour, EndHour).
type DaytimeWindow struct {
	Enabled   bool
	StartHour int
	EndHour   int
	Location  *time.Location
}

// Contains reports whether t passes the filter. A disabled window contains
// every instant.
func (w DaytimeWindow) Contains(t time.Time) bool {
	if !w.Enabled {
		return true
	}
	return w.Within(t)
}

// Within reports whether t falls inside the configured hours, regardless of
// whether filtering is enabled. A window without hours contains nothing.
func (w DaytimeWindow) Within(t time.Time) bool {
	if w.EndHour <= w.StartHour {
		return false
	}
	loc := w.Location
	if loc == nil {
		loc = time.UTC
	}
	hour := t.In(loc).Hour()
	return hour >= w.StartHour && hour < w.EndHour
}

// Validate checks the window hours when the window is enabled.
func (w DaytimeWindow) Validate() error {
	if !w.Enabled {
		return nil
	}
	if w.StartHour < 0 || w.StartHour > 23 || w.EndHour < 1 || w.EndHour > 24 || w.StartHour >= w.EndHour {
		return fmt.Errorf("%w: daytime window %d-%d is not a valid hour range", ErrInvalidConfig, w.StartHour, w.EndHour)
	}
	return nil
}

// EstimatorConfig holds the knobs used by the adjustment calculator and the
// hybrid estimator.
type EstimatorConfig struct {
	// FreshnessWindow is the maximum age of a reading that may be used.
	FreshnessWindow time.Duration

	// Daytime optionally restricts adjustment factors to daytime readings.
	Daytime DaytimeWindow
}

// Validate checks that the freshness window is defined.
func (c EstimatorConfig) Validate() error {
	if c.FreshnessWindow <= 0 {
		return fmt.Errorf("%w: freshness window must be positive, got %s", ErrInvalidConfig, c.FreshnessWindow)
	}
	return c.Daytime.Validate()
}

// EngineConfig bundles every engine knob.
type EngineConfig struct {
	Resolver   ResolverConfig
	Estimator  EstimatorConfig
	Thresholds ThresholdTable
}

// Validate checks every section of the configuration.
func (c EngineConfig) Validate() error {
	if err := c.Resolver.Validate(); err != nil {
		return err
	}
	if err := c.Estimator.Validate(); err != nil {
		return err
	}
	return c.Thresholds.Validate()
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
