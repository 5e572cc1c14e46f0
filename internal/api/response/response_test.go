package response_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/GavinKingcome/schools-air-quality-msp4/internal/api/middleware"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/api/models"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/api/response"
)

// requestWithContext returns a request that has passed through the
// RequestID middleware.
func requestWithContext(t *testing.T, method, path string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, path, http.NoBody)

	var processed *http.Request
	middleware.RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		processed = r
	})).ServeHTTP(httptest.NewRecorder(), req)

	return processed
}

func TestJSON_IncludesRequestID(t *testing.T) {
	req := requestWithContext(t, http.MethodGet, "/v1/schools")
	rec := httptest.NewRecorder()

	response.JSON(rec, req, http.StatusOK, map[string]string{"message": "hello"})

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("X-Request-Id"); got != middleware.GetRequestID(req.Context()) {
		t.Errorf("expected X-Request-Id %q, got %q", middleware.GetRequestID(req.Context()), got)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %q", ct)
	}
}

func TestJSON_WithoutRequestID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/schools", http.NoBody)
	rec := httptest.NewRecorder()

	response.JSON(rec, req, http.StatusOK, nil)

	if got := rec.Header().Get("X-Request-Id"); got != "" {
		t.Errorf("expected no X-Request-Id header, got %q", got)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("expected empty body, got %q", rec.Body.String())
	}
}

func TestCached_SetsCacheControl(t *testing.T) {
	req := requestWithContext(t, http.MethodGet, "/v1/sensors")
	rec := httptest.NewRecorder()

	response.Cached(rec, req, 60, []string{})

	if cc := rec.Header().Get("Cache-Control"); cc != "public, max-age=60" {
		t.Errorf("unexpected Cache-Control %q", cc)
	}
}

func TestErrors(t *testing.T) {
	tests := []struct {
		name   string
		write  func(http.ResponseWriter, *http.Request)
		status int
		typ    string
	}{
		{"bad request", func(w http.ResponseWriter, r *http.Request) { response.BadRequest(w, r, "bad", nil) }, http.StatusBadRequest, models.ProblemTypeValidation},
		{"not found", func(w http.ResponseWriter, r *http.Request) { response.NotFound(w, r, "missing") }, http.StatusNotFound, models.ProblemTypeNotFound},
		{"conflict", func(w http.ResponseWriter, r *http.Request) { response.Conflict(w, r, "busy") }, http.StatusConflict, models.ProblemTypeConflict},
		{"internal", func(w http.ResponseWriter, r *http.Request) { response.InternalError(w, r, "boom") }, http.StatusInternalServerError, models.ProblemTypeInternal},
		{"unavailable", func(w http.ResponseWriter, r *http.Request) { response.ServiceUnavailable(w, r, "later", 30) }, http.StatusServiceUnavailable, models.ProblemTypeUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := requestWithContext(t, http.MethodGet, "/v1/schools/100001")
			rec := httptest.NewRecorder()

			tt.write(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("expected status %d, got %d", tt.status, rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
				t.Errorf("expected problem content type, got %q", ct)
			}

			var p models.Problem
			if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
				t.Fatalf("decode problem: %v", err)
			}
			if p.Type != tt.typ {
				t.Errorf("expected type %q, got %q", tt.typ, p.Type)
			}
			if p.Instance != "/v1/schools/100001" {
				t.Errorf("expected instance to be the request path, got %q", p.Instance)
			}
			if p.TraceID != middleware.GetRequestID(req.Context()) {
				t.Errorf("expected traceId to match request id, got %q", p.TraceID)
			}
		})
	}
}

func TestServiceUnavailable_RetryAfter(t *testing.T) {
	req := requestWithContext(t, http.MethodGet, "/v1/schools")
	rec := httptest.NewRecorder()

	response.ServiceUnavailable(rec, req, "snapshot unavailable", 30)

	if got := rec.Header().Get("Retry-After"); got != "30" {
		t.Errorf("expected Retry-After 30, got %q", got)
	}
}
