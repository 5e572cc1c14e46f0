package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/GavinKingcome/schools-air-quality-msp4/internal/airquality"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/api/models"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/api/response"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/exposure"
)

// Pagination bounds for list endpoints.
const (
	DefaultPageLimit = 100
	MaxPageLimit     = 500
)

// snapshotRetryAfter is the Retry-After hint sent when no snapshot is available.
const snapshotRetryAfter = 30

// SchoolLister lists stored schools.
type SchoolLister interface {
	ListSchools(ctx context.Context) ([]airquality.School, error)
}

// Estimator produces school estimates.
type Estimator interface {
	Estimate(ctx context.Context, urn string) (exposure.SchoolEstimate, error)
	EstimateAll(ctx context.Context) ([]exposure.SchoolEstimate, error)
}

// SchoolHandler handles school endpoints.
type SchoolHandler struct {
	schools   SchoolLister
	estimates Estimator
	now       func() time.Time
}

// NewSchoolHandler creates a new SchoolHandler.
func NewSchoolHandler(schools SchoolLister, estimates Estimator) *SchoolHandler {
	return &SchoolHandler{schools: schools, estimates: estimates, now: time.Now}
}

// ListSchools handles GET /v1/schools. Optional filters: borough,
// dataSource. Pagination: limit, offset.
func (h *SchoolHandler) ListSchools(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, offset, fieldErrs := pagination(q.Get("limit"), q.Get("offset"))
	dataSource := airquality.DataSource(strings.ToUpper(q.Get("dataSource")))
	switch dataSource {
	case "", airquality.DataSourceDirect, airquality.DataSourceAdjusted, airquality.DataSourceBaselineOnly:
	default:
		fieldErrs = append(fieldErrs, models.FieldError{
			Field:   "dataSource",
			Message: "must be DIRECT, ADJUSTED or BASELINE_ONLY",
			Code:    "INVALID_ENUM",
		})
	}
	if len(fieldErrs) > 0 {
		response.BadRequest(w, r, "invalid query parameters", fieldErrs)
		return
	}

	schools, err := h.schools.ListSchools(r.Context())
	if err != nil {
		response.InternalError(w, r, "failed to list schools")
		return
	}

	borough := q.Get("borough")
	filtered := make([]models.School, 0, len(schools))
	for _, s := range schools {
		if borough != "" && !strings.EqualFold(s.Borough, borough) {
			continue
		}
		if dataSource != "" && s.Assignment.DataSource != dataSource {
			continue
		}
		filtered = append(filtered, toSchool(s))
	}

	page := models.PagedSchools{
		Items: []models.School{},
		Meta:  models.PageMeta{Total: len(filtered), Limit: limit, Offset: offset},
	}
	if offset < len(filtered) {
		end := min(offset+limit, len(filtered))
		page.Items = filtered[offset:end]
	}
	response.JSON(w, r, http.StatusOK, page)
}

// GetSchool handles GET /v1/schools/{urn} - school with live estimate.
func (h *SchoolHandler) GetSchool(w http.ResponseWriter, r *http.Request) {
	urn := chi.URLParam(r, "urn")

	se, err := h.estimates.Estimate(r.Context(), urn)
	if err != nil {
		h.writeEstimateError(w, r, err, urn)
		return
	}

	detail := toSchoolDetail(se)
	detail.GeneratedAt = models.Timestamp(h.now())
	response.JSON(w, r, http.StatusOK, detail)
}

// ListEstimates handles GET /v1/schools/estimates - every school's estimate.
func (h *SchoolHandler) ListEstimates(w http.ResponseWriter, r *http.Request) {
	all, err := h.estimates.EstimateAll(r.Context())
	if err != nil {
		h.writeEstimateError(w, r, err, "")
		return
	}

	out := models.SchoolEstimates{
		GeneratedAt: models.Timestamp(h.now()),
		Items:       make([]models.SchoolEstimate, 0, len(all)),
	}
	for _, se := range all {
		out.Items = append(out.Items, models.SchoolEstimate{
			URN:      se.School.URN,
			Name:     se.School.Name,
			Estimate: toEstimate(se.Estimate, se.Status),
		})
	}
	response.JSON(w, r, http.StatusOK, out)
}

func (h *SchoolHandler) writeEstimateError(w http.ResponseWriter, r *http.Request, err error, urn string) {
	switch {
	case errors.Is(err, airquality.ErrSchoolNotFound):
		response.NotFound(w, r, "school "+urn+" not found")
	case errors.Is(err, airquality.ErrSnapshotUnavailable):
		response.ServiceUnavailable(w, r, "sensor data is temporarily unavailable", snapshotRetryAfter)
	default:
		response.InternalError(w, r, "failed to estimate exposure")
	}
}

func pagination(limitParam, offsetParam string) (int, int, []models.FieldError) {
	var errs []models.FieldError
	limit, offset := DefaultPageLimit, 0

	if limitParam != "" {
		v, err := strconv.Atoi(limitParam)
		if err != nil || v < 1 || v > MaxPageLimit {
			errs = append(errs, models.FieldError{
				Field:   "limit",
				Message: "must be an integer between 1 and " + strconv.Itoa(MaxPageLimit),
				Code:    "OUT_OF_RANGE",
			})
		} else {
			limit = v
		}
	}
	if offsetParam != "" {
		v, err := strconv.Atoi(offsetParam)
		if err != nil || v < 0 {
			errs = append(errs, models.FieldError{
				Field:   "offset",
				Message: "must be a non-negative integer",
				Code:    "OUT_OF_RANGE",
			})
		} else {
			offset = v
		}
	}
	return limit, offset, errs
}
