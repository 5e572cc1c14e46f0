package handler

import (
	"github.com/guregu/null/v5"

	"github.com/GavinKingcome/schools-air-quality-msp4/internal/airquality"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/api/models"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/exposure"
)

func floatPtr(f null.Float) *float64 {
	return f.Ptr()
}

func stringPtr(s null.String) *string {
	return s.Ptr()
}

func toConcentrations(c airquality.Concentrations) models.Concentrations {
	c = c.Sanitized()
	return models.Concentrations{
		NO2:  floatPtr(c.NO2),
		PM25: floatPtr(c.PM25),
		PM10: floatPtr(c.PM10),
		O3:   floatPtr(c.O3),
		NOx:  floatPtr(c.NOx),
	}
}

func toAssignment(a airquality.Assignment) models.Assignment {
	return models.Assignment{
		DataSource:        string(a.DataSource),
		DirectSensor:      stringPtr(a.DirectSensor),
		DirectDistance:    floatPtr(a.DirectDistance),
		ReferenceSensor:   stringPtr(a.ReferenceSensor),
		ReferenceDistance: floatPtr(a.ReferenceDistance),
	}
}

func toSchool(s airquality.School) models.School {
	return models.School{
		URN:        s.URN,
		Name:       s.Name,
		Postcode:   s.Postcode,
		Borough:    s.Borough,
		Lat:        floatPtr(s.Lat),
		Lon:        floatPtr(s.Lon),
		Assignment: toAssignment(s.Assignment),
	}
}

func toEstimate(e airquality.Estimate, status airquality.ThresholdStatus) models.Estimate {
	out := models.Estimate{
		Method:             string(e.Method),
		Confidence:         string(e.Confidence),
		Values:             toConcentrations(e.Values),
		PM10ExceedanceDays: floatPtr(e.PM10ExceedanceDays),
		SensorCode:         stringPtr(e.SensorCode),
		Note:               e.Note,
		Status: models.ThresholdStatus{
			Classified: status.Classified,
			Pollutants: make([]models.PollutantStatus, 0, len(status.Pollutants)),
		},
	}
	if e.ReadingTime.Valid {
		out.ReadingTime = models.TimestampPtr(e.ReadingTime.Time)
	}
	if a := e.Adjustment; a != nil && a.OK() {
		factors := make(map[string]float64, len(a.Factors))
		for p, f := range a.Factors {
			factors[string(p)] = f
		}
		out.Adjustment = &models.Adjustment{
			SensorCode:  a.SensorCode,
			Factors:     factors,
			ReadingTime: models.Timestamp(a.ReadingTime),
			StatsYear:   a.StatsYear,
			Daytime:     a.Daytime,
		}
	}
	if status.Classified {
		out.Status.Overall = status.Overall.String()
	}
	for _, ps := range status.Pollutants {
		out.Status.Pollutants = append(out.Status.Pollutants, models.PollutantStatus{
			Pollutant: string(ps.Pollutant),
			Value:     ps.Value,
			Category:  ps.Category.String(),
		})
	}
	return out
}

func toSchoolDetail(se exposure.SchoolEstimate) models.SchoolDetail {
	s := se.School
	return models.SchoolDetail{
		School:   toSchool(s),
		Easting:  floatPtr(s.Easting),
		Northing: floatPtr(s.Northing),
		Baseline: models.Baseline{
			Available:          s.Baseline.Available,
			Values:             toConcentrations(s.Baseline.Values),
			PM10ExceedanceDays: floatPtr(s.Baseline.PM10ExceedanceDays),
		},
		Estimate: toEstimate(se.Estimate, se.Status),
	}
}

func toSensor(s airquality.Sensor, data airquality.Lookup) models.Sensor {
	out := models.Sensor{
		SiteCode:       s.SiteCode,
		Name:           s.Name,
		Network:        string(s.Network),
		ReferenceGrade: s.IsReferenceGrade(),
		SiteType:       string(s.SiteType),
		Borough:        s.Borough,
		Lat:            s.Lat,
		Lon:            s.Lon,
		Active:         s.Active,
	}
	if r, ok := data.LatestReading(s.SiteCode); ok {
		out.LatestReading = &models.Reading{
			Timestamp:   models.Timestamp(r.Timestamp),
			Values:      toConcentrations(r.Values),
			Provisional: r.Provisional,
		}
	}
	if st, ok := data.LatestAnnualStats(s.SiteCode); ok {
		out.AnnualMeans = &models.AnnualMeans{
			Year:        st.Year,
			Means:       toConcentrations(st.Means),
			CaptureRate: floatPtr(st.CaptureRate),
		}
	}
	return out
}

func toSnapshotStatus(c airquality.CacheStatus) models.SnapshotStatus {
	out := models.SnapshotStatus{
		Loaded:   c.HasData,
		Stale:    c.IsStale,
		Sensors:  c.SensorCount,
		Readings: c.ReadingCount,
	}
	if c.HasData {
		out.LoadedAt = models.TimestampPtr(c.LoadedAt)
		out.ExpiresAt = models.TimestampPtr(c.ExpiresAt)
	}
	return out
}
