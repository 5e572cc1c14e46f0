package handler

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/GavinKingcome/schools-air-quality-msp4/internal/airquality"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/api/models"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/api/response"
)

// sensorCacheSeconds is the max-age of sensor responses.
const sensorCacheSeconds = 60

// SnapshotProvider returns the cached sensor snapshot.
type SnapshotProvider interface {
	GetSnapshot(ctx context.Context) (*airquality.Snapshot, error)
}

// SensorHandler handles sensor endpoints.
type SensorHandler struct {
	snapshots SnapshotProvider
}

// NewSensorHandler creates a new SensorHandler.
func NewSensorHandler(snapshots SnapshotProvider) *SensorHandler {
	return &SensorHandler{snapshots: snapshots}
}

// ListSensors handles GET /v1/sensors. Optional filters: network, active.
func (h *SensorHandler) ListSensors(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	network := airquality.Network(strings.ToUpper(q.Get("network")))
	var fieldErrs []models.FieldError
	switch network {
	case "", airquality.NetworkReferenceGrade, airquality.NetworkLowCost:
	default:
		fieldErrs = append(fieldErrs, models.FieldError{Field: "network", Message: "must be LAQN or BREATHE", Code: "INVALID_ENUM"})
	}

	var activeOnly *bool
	if v := q.Get("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			fieldErrs = append(fieldErrs, models.FieldError{Field: "active", Message: "must be a boolean", Code: "INVALID_TYPE"})
		} else {
			activeOnly = &b
		}
	}
	if len(fieldErrs) > 0 {
		response.BadRequest(w, r, "invalid query parameters", fieldErrs)
		return
	}

	snapshot, err := h.snapshots.GetSnapshot(r.Context())
	if err != nil {
		h.writeSnapshotError(w, r, err)
		return
	}

	out := models.SensorList{Items: []models.Sensor{}}
	for _, s := range snapshot.Sensors {
		if network != "" && s.Network != network {
			continue
		}
		if activeOnly != nil && s.Active != *activeOnly {
			continue
		}
		out.Items = append(out.Items, toSensor(s, snapshot))
	}
	sort.Slice(out.Items, func(i, j int) bool {
		return out.Items[i].SiteCode < out.Items[j].SiteCode
	})

	response.Cached(w, r, sensorCacheSeconds, out)
}

// GetSensor handles GET /v1/sensors/{siteCode}.
func (h *SensorHandler) GetSensor(w http.ResponseWriter, r *http.Request) {
	siteCode := chi.URLParam(r, "siteCode")

	snapshot, err := h.snapshots.GetSnapshot(r.Context())
	if err != nil {
		h.writeSnapshotError(w, r, err)
		return
	}

	sensor, ok := snapshot.Sensor(siteCode)
	if !ok {
		response.NotFound(w, r, "sensor "+siteCode+" not found")
		return
	}
	response.Cached(w, r, sensorCacheSeconds, toSensor(sensor, snapshot))
}

func (h *SensorHandler) writeSnapshotError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, airquality.ErrSnapshotUnavailable) {
		response.ServiceUnavailable(w, r, "sensor data is temporarily unavailable", snapshotRetryAfter)
		return
	}
	response.InternalError(w, r, "failed to load sensors")
}
