package airquality

import (
	"sort"
	"time"
)

// Lookup resolves sensor identifiers to already-materialized data. It is
// read-only and must not perform I/O.
type Lookup interface {
	// Sensor returns the sensor with the given site code.
	Sensor(siteCode string) (Sensor, bool)

	// LatestReading returns the most recent reading for a sensor.
	LatestReading(siteCode string) (Reading, bool)

	// LatestAnnualStats returns the most recent year of stats for a sensor.
	LatestAnnualStats(siteCode string) (AnnualStats, bool)
}

// Snapshot is a point-in-time view of the sensor inventory with each
// sensor's latest reading and latest annual statistics.
type Snapshot struct {
	// Sensors is a map of site code to sensor metadata.
	Sensors map[string]Sensor

	// Readings holds the latest reading per site code.
	Readings map[string]Reading

	// Stats holds the latest annual statistics per site code.
	Stats map[string]AnnualStats

	// LoadedAt is when this snapshot was materialized.
	LoadedAt time.Time
}

// NewSnapshot creates a new empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Sensors:  make(map[string]Sensor),
		Readings: make(map[string]Reading),
		Stats:    make(map[string]AnnualStats),
		LoadedAt: time.Now(),
	}
}

// AddSensor adds or replaces a sensor.
func (s *Snapshot) AddSensor(sensor Sensor) {
	s.Sensors[sensor.SiteCode] = sensor
}

// AddReading keeps r if it is newer than the stored reading for its sensor.
func (s *Snapshot) AddReading(r Reading) {
	if existing, ok := s.Readings[r.SiteCode]; ok && !r.Timestamp.After(existing.Timestamp) {
		return
	}
	s.Readings[r.SiteCode] = r
}

// AddAnnualStats keeps st if it is for a later year than the stored stats.
func (s *Snapshot) AddAnnualStats(st AnnualStats) {
	if existing, ok := s.Stats[st.SiteCode]; ok && st.Year <= existing.Year {
		return
	}
	s.Stats[st.SiteCode] = st
}

// Sensor implements Lookup.
func (s *Snapshot) Sensor(siteCode string) (Sensor, bool) {
	sensor, ok := s.Sensors[siteCode]
	return sensor, ok
}

// LatestReading implements Lookup.
func (s *Snapshot) LatestReading(siteCode string) (Reading, bool) {
	r, ok := s.Readings[siteCode]
	return r, ok
}

// LatestAnnualStats implements Lookup.
func (s *Snapshot) LatestAnnualStats(siteCode string) (AnnualStats, bool) {
	st, ok := s.Stats[siteCode]
	return st, ok
}

// ActiveSensors returns the active sensors ordered by site code.
func (s *Snapshot) ActiveSensors() []Sensor {
	sensors := make([]Sensor, 0, len(s.Sensors))
	for _, sensor := range s.Sensors {
		if sensor.Active {
			sensors = append(sensors, sensor)
		}
	}
	sort.Slice(sensors, func(a, b int) bool {
		return sensors[a].SiteCode < sensors[b].SiteCode
	})
	return sensors
}

// Ensure Snapshot implements Lookup interface.
var _ Lookup = (*Snapshot)(nil)
