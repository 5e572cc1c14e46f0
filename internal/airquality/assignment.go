package airquality

import (
	"sort"

	"github.com/guregu/null/v5"
)

// sensorDistance pairs a sensor with its distance from the school.
type sensorDistance struct {
	sensor   *Sensor
	distance float64
}

// Resolver assigns direct and reference sensors to schools.
type Resolver struct {
	config ResolverConfig
}

// NewResolver creates a Resolver. Both thresholds must be set.
func NewResolver(config ResolverConfig) (*Resolver, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Resolver{config: config}, nil
}

// Config returns the thresholds the resolver was built with.
func (r *Resolver) Config() ResolverConfig {
	return r.config
}

// Resolve computes the assignment for a single location from the full
// sensor inventory. Inactive sensors are ignored.
func (r *Resolver) Resolve(lat, lon float64, sensors []Sensor) Assignment {
	return r.resolve(lat, lon, eligibleSensors(sensors))
}

// BatchResult is the outcome of resolving a set of schools.
type BatchResult struct {
	// Assignments maps school URN to its new assignment.
	Assignments map[string]Assignment

	// Skipped lists URNs of schools without usable coordinates. Their
	// previous assignment must be kept as is.
	Skipped []string
}

// ResolveAll computes assignments for every school. Each school is resolved
// independently and the output depends only on the inputs.
func (r *Resolver) ResolveAll(schools []School, sensors []Sensor) BatchResult {
	candidates := eligibleSensors(sensors)
	result := BatchResult{
		Assignments: make(map[string]Assignment, len(schools)),
	}

	for _, school := range schools {
		lat, lon, ok := school.Location()
		if !ok {
			result.Skipped = append(result.Skipped, school.URN)
			continue
		}
		result.Assignments[school.URN] = r.resolve(lat, lon, candidates)
	}

	return result
}

func (r *Resolver) resolve(lat, lon float64, candidates []*Sensor) Assignment {
	distances := make([]sensorDistance, 0, len(candidates))
	for _, s := range candidates {
		distances = append(distances, sensorDistance{
			sensor:   s,
			distance: Distance(lat, lon, s.Lat, s.Lon),
		})
	}

	// Stable so that equal distances keep inventory order.
	sort.SliceStable(distances, func(a, b int) bool {
		return distances[a].distance < distances[b].distance
	})

	var assignment Assignment

	for _, sd := range distances {
		if sd.distance > r.config.DirectThreshold {
			break
		}
		if sd.sensor.IsUrbanBackground() {
			assignment.DirectSensor = null.StringFrom(sd.sensor.SiteCode)
			assignment.DirectDistance = null.FloatFrom(round(sd.distance, 1))
			break
		}
	}

	for _, sd := range distances {
		if !sd.sensor.IsReferenceGrade() {
			continue
		}
		if sd.distance <= r.config.ReferenceThreshold {
			assignment.ReferenceSensor = null.StringFrom(sd.sensor.SiteCode)
			assignment.ReferenceDistance = null.FloatFrom(round(sd.distance, 1))
		}
		break
	}

	switch {
	case assignment.DirectSensor.Valid:
		assignment.DataSource = DataSourceDirect
	case assignment.ReferenceSensor.Valid:
		assignment.DataSource = DataSourceAdjusted
	default:
		assignment.DataSource = DataSourceBaselineOnly
	}

	return assignment
}

// eligibleSensors returns pointers to the active sensors with usable
// coordinates, preserving inventory order.
func eligibleSensors(sensors []Sensor) []*Sensor {
	out := make([]*Sensor, 0, len(sensors))
	for i := range sensors {
		if !sensors[i].Active || !sensors[i].HasValidLocation() {
			continue
		}
		out = append(out, &sensors[i])
	}
	return out
}
