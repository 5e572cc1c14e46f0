package airquality

import (
	"sort"
	"time"

	"github.com/guregu/null/v5"
)

// Sample is a single pollutant value reported by an upstream feed.
type Sample struct {
	Timestamp time.Time
	Pollutant Pollutant
	Value     null.Float
}

// GroupHourly folds samples into one Reading per UTC hour, ordered by time.
// Malformed values are dropped and hours without any usable value produce
// no reading.
func GroupHourly(siteCode string, samples []Sample) []Reading {
	byHour := make(map[time.Time]*Reading)

	for _, s := range samples {
		v := Concentration(s.Value)
		if !v.Valid || s.Timestamp.IsZero() {
			continue
		}
		hour := s.Timestamp.UTC().Truncate(time.Hour)
		r, ok := byHour[hour]
		if !ok {
			r = &Reading{SiteCode: siteCode, Timestamp: hour}
			byHour[hour] = r
		}
		r.Values.Set(s.Pollutant, v)
	}

	readings := make([]Reading, 0, len(byHour))
	for _, r := range byHour {
		readings = append(readings, *r)
	}
	sort.Slice(readings, func(i, j int) bool {
		return readings[i].Timestamp.Before(readings[j].Timestamp)
	})
	return readings
}
