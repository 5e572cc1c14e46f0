// Package worker runs the background ingest and assignment jobs.
package worker

import (
	"time"
)

// Config holds configuration for the ingest jobs.
type Config struct {
	// ReadingsLookback is how far back each readings fetch reaches.
	// Default: 2 hours
	ReadingsLookback time.Duration

	// Concurrency is the number of sensors fetched in parallel.
	// Default: 4
	Concurrency int

	// SensorTimeout bounds the fetch for a single sensor.
	// Default: 30 seconds
	SensorTimeout time.Duration

	// MinCaptureRate is the minimum percentage of hourly readings a year
	// needs before annual stats are computed from stored readings.
	// Default: 75
	MinCaptureRate float64
}

// DefaultConfig returns the default ingest configuration.
func DefaultConfig() Config {
	return Config{
		ReadingsLookback: 2 * time.Hour,
		Concurrency:      4,
		SensorTimeout:    30 * time.Second,
		MinCaptureRate:   75,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ReadingsLookback <= 0 {
		c.ReadingsLookback = d.ReadingsLookback
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.SensorTimeout <= 0 {
		c.SensorTimeout = d.SensorTimeout
	}
	if c.MinCaptureRate <= 0 {
		c.MinCaptureRate = d.MinCaptureRate
	}
	return c
}

// ScheduleConfig holds the periodic job schedule.
type ScheduleConfig struct {
	// ReadingsInterval is how often readings are fetched.
	// Default: 15 minutes
	ReadingsInterval time.Duration

	// SensorSyncAt is the daily UTC time ("HH:MM") for the sensor sync.
	// Default: "02:00"
	SensorSyncAt string

	// AnnualStatsAt is the daily UTC time for the annual stats fetch.
	// Default: "02:30"
	AnnualStatsAt string

	// AssignmentAt is the daily UTC time for the assignment batch.
	// Default: "03:00"
	AssignmentAt string
}

// DefaultScheduleConfig returns the default schedule.
func DefaultScheduleConfig() ScheduleConfig {
	return ScheduleConfig{
		ReadingsInterval: 15 * time.Minute,
		SensorSyncAt:     "02:00",
		AnnualStatsAt:    "02:30",
		AssignmentAt:     "03:00",
	}
}
