package models_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GavinKingcome/schools-air-quality-msp4/internal/api/models"
)

func TestProblem_Builders(t *testing.T) {
	p := models.NewProblem(models.ProblemTypeValidation, "Validation error", http.StatusBadRequest, "req_test123").
		WithDetail("limit must be between 1 and 500").
		WithInstance("/v1/schools").
		WithErrors([]models.FieldError{{Field: "limit", Message: "out of range", Code: "OUT_OF_RANGE"}})

	assert.Equal(t, models.ProblemTypeValidation, p.Type)
	assert.Equal(t, http.StatusBadRequest, p.Status)
	assert.Equal(t, "req_test123", p.TraceID)
	assert.Equal(t, "limit must be between 1 and 500", p.Detail)
	assert.Equal(t, "/v1/schools", p.Instance)
	require.Len(t, p.Errors, 1)
	assert.Equal(t, "limit", p.Errors[0].Field)
}

func TestProblem_Write(t *testing.T) {
	rec := httptest.NewRecorder()
	models.NewNotFound("req_abc", "school 999999 not found").WithInstance("/v1/schools/999999").Write(rec)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "req_abc", rec.Header().Get("X-Request-Id"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, models.ProblemTypeNotFound, body["type"])
	assert.Equal(t, "Not found", body["title"])
	assert.Equal(t, float64(404), body["status"])
	assert.Equal(t, "school 999999 not found", body["detail"])
	assert.Equal(t, "/v1/schools/999999", body["instance"])
	assert.NotContains(t, body, "errors")
}

func TestProblem_Constructors(t *testing.T) {
	tests := []struct {
		name    string
		problem *models.Problem
		status  int
		typ     string
	}{
		{"bad request", models.NewBadRequest("t", "d", nil), http.StatusBadRequest, models.ProblemTypeValidation},
		{"unauthorized", models.NewUnauthorized("t", "d"), http.StatusUnauthorized, models.ProblemTypeUnauthorized},
		{"forbidden", models.NewForbidden("t", "d"), http.StatusForbidden, models.ProblemTypeForbidden},
		{"not found", models.NewNotFound("t", "d"), http.StatusNotFound, models.ProblemTypeNotFound},
		{"conflict", models.NewConflict("t", "d"), http.StatusConflict, models.ProblemTypeConflict},
		{"unsupported media", models.NewUnsupportedMediaType("t", "d"), http.StatusUnsupportedMediaType, models.ProblemTypeUnsupportedMedia},
		{"too many requests", models.NewTooManyRequests("t", "d"), http.StatusTooManyRequests, models.ProblemTypeTooManyRequests},
		{"internal", models.NewInternalError("t", "d"), http.StatusInternalServerError, models.ProblemTypeInternal},
		{"unavailable", models.NewServiceUnavailable("t", "d"), http.StatusServiceUnavailable, models.ProblemTypeUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.problem.Status)
			assert.Equal(t, tt.typ, tt.problem.Type)
			assert.Equal(t, "d", tt.problem.Detail)
		})
	}
}

func TestTimestamp_JSON(t *testing.T) {
	london := time.FixedZone("BST", 3600)
	ts := models.Timestamp(time.Date(2024, 6, 12, 11, 30, 0, 0, london))

	data, err := json.Marshal(ts)
	require.NoError(t, err)
	assert.Equal(t, `"2024-06-12T10:30:00Z"`, string(data))

	var back models.Timestamp
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, back.Time().Equal(ts.Time()))

	assert.Error(t, json.Unmarshal([]byte(`1718188200`), &back))
	assert.Nil(t, models.TimestampPtr(time.Time{}))
}

func TestAssignmentRunRequest_Validate(t *testing.T) {
	neg := -5.0
	ok := 100.0

	assert.Empty(t, (&models.AssignmentRunRequest{}).Validate())
	assert.Empty(t, (&models.AssignmentRunRequest{DirectThreshold: &ok}).Validate())

	errs := (&models.AssignmentRunRequest{DirectThreshold: &neg, ReferenceThreshold: &neg}).Validate()
	require.Len(t, errs, 2)
	assert.Equal(t, "directThresholdM", errs[0].Field)
	assert.Equal(t, "referenceThresholdM", errs[1].Field)
}
