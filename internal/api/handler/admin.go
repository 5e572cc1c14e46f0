package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/GavinKingcome/schools-air-quality-msp4/internal/airquality"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/api/middleware"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/api/models"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/api/response"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/baseline"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/exposure"
)

// maxBaselineBytes bounds the baseline import request body.
const maxBaselineBytes = 32 << 20

// Assigner runs assignment batches.
type Assigner interface {
	RunAssignment(ctx context.Context, opts exposure.RunOptions) (exposure.RunSummary, error)
	ResolverConfig() airquality.ResolverConfig
}

// SnapshotRefresher reloads the snapshot cache.
type SnapshotRefresher interface {
	RefreshSnapshot(ctx context.Context) error
	CacheStatus() airquality.CacheStatus
}

// BaselineImporter loads modelled baselines into the school store.
type BaselineImporter interface {
	Import(ctx context.Context, r io.Reader) (baseline.Summary, error)
}

// AdminHandlerConfig holds the dependencies of AdminHandler.
type AdminHandlerConfig struct {
	Assigner  Assigner
	Snapshots SnapshotRefresher
	Baseline  BaselineImporter
	Logger    zerolog.Logger
}

// AdminHandler handles operator endpoints.
type AdminHandler struct {
	assigner  Assigner
	snapshots SnapshotRefresher
	baseline  BaselineImporter
	logger    zerolog.Logger

	// running guards against overlapping assignment runs.
	running sync.Mutex
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(cfg AdminHandlerConfig) *AdminHandler {
	return &AdminHandler{
		assigner:  cfg.Assigner,
		snapshots: cfg.Snapshots,
		baseline:  cfg.Baseline,
		logger:    cfg.Logger,
	}
}

// RunAssignment handles POST /v1/admin/assignments:run. The dryRun query
// parameter computes assignments without saving them and returns them in
// the response; the optional body
// overrides the resolver thresholds for this run only.
func (h *AdminHandler) RunAssignment(w http.ResponseWriter, r *http.Request) {
	dryRun := false
	if v := r.URL.Query().Get("dryRun"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			response.BadRequest(w, r, "invalid query parameters", []models.FieldError{
				{Field: "dryRun", Message: "must be a boolean", Code: "INVALID_TYPE"},
			})
			return
		}
		dryRun = b
	}

	var input models.AssignmentRunRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}
	if errs := input.Validate(); len(errs) > 0 {
		response.BadRequest(w, r, "invalid thresholds", errs)
		return
	}

	opts := exposure.RunOptions{DryRun: dryRun}
	if input.DirectThreshold != nil || input.ReferenceThreshold != nil {
		cfg := h.assigner.ResolverConfig()
		if input.DirectThreshold != nil {
			cfg.DirectThreshold = *input.DirectThreshold
		}
		if input.ReferenceThreshold != nil {
			cfg.ReferenceThreshold = *input.ReferenceThreshold
		}
		resolver, err := airquality.NewResolver(cfg)
		if err != nil {
			response.BadRequest(w, r, err.Error(), nil)
			return
		}
		opts.Resolver = resolver
	}

	if !h.running.TryLock() {
		response.Conflict(w, r, "an assignment run is already in progress")
		return
	}
	defer h.running.Unlock()

	summary, err := h.assigner.RunAssignment(r.Context(), opts)
	if err != nil {
		h.logger.Error().Err(err).Str("operator", GetSubject(r.Context())).Msg("assignment run failed")
		if errors.Is(err, airquality.ErrSnapshotUnavailable) {
			response.ServiceUnavailable(w, r, "sensor data is temporarily unavailable", snapshotRetryAfter)
			return
		}
		response.InternalError(w, r, "assignment run failed")
		return
	}

	h.logger.Info().
		Str("operator", GetSubject(r.Context())).
		Str("run_id", summary.RunID).
		Bool("dry_run", summary.DryRun).
		Int("assigned", summary.Assigned).
		Msg("assignment run triggered")

	response.JSON(w, r, http.StatusOK, toAssignmentRun(summary))
}

// RefreshSnapshot handles POST /v1/admin/snapshot:refresh.
func (h *AdminHandler) RefreshSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := h.snapshots.RefreshSnapshot(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("snapshot refresh failed")
		response.ServiceUnavailable(w, r, "snapshot refresh failed", snapshotRetryAfter)
		return
	}
	response.JSON(w, r, http.StatusOK, models.SnapshotRefresh{
		Snapshot: toSnapshotStatus(h.snapshots.CacheStatus()),
	})
}

// ImportBaseline handles POST /v1/admin/baseline:import. The body is the
// LAEI extraction output: a JSON array of school records.
func (h *AdminHandler) ImportBaseline(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxBaselineBytes)

	summary, err := h.baseline.Import(r.Context(), body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			response.Error(w, r, models.NewProblem(models.ProblemTypeValidation, "Payload too large", http.StatusRequestEntityTooLarge, middleware.GetRequestID(r.Context())).
				WithDetail("baseline file exceeds "+strconv.Itoa(maxBaselineBytes>>20)+" MiB"))
		case errors.Is(err, baseline.ErrEmptyFile), errors.Is(err, baseline.ErrInvalidFile):
			response.BadRequest(w, r, err.Error(), nil)
		default:
			h.logger.Error().Err(err).Str("operator", GetSubject(r.Context())).Msg("baseline import failed")
			response.InternalError(w, r, "baseline import failed")
		}
		return
	}

	h.logger.Info().
		Str("operator", GetSubject(r.Context())).
		Int("imported", summary.Imported).
		Int("with_baseline", summary.WithBaseline).
		Msg("baseline imported")

	skipped := summary.Skipped
	if skipped == nil {
		skipped = []string{}
	}
	response.JSON(w, r, http.StatusOK, models.BaselineImport{
		Total:        summary.Total,
		Imported:     summary.Imported,
		WithBaseline: summary.WithBaseline,
		Skipped:      skipped,
	})
}

func toAssignmentRun(s exposure.RunSummary) models.AssignmentRun {
	out := models.AssignmentRun{
		RunID:              s.RunID,
		DryRun:             s.DryRun,
		StartedAt:          models.Timestamp(s.StartedAt),
		DurationMs:         s.Duration.Milliseconds(),
		DirectThreshold:    s.Thresholds.DirectThreshold,
		ReferenceThreshold: s.Thresholds.ReferenceThreshold,
		Schools:            s.Schools,
		Assigned:           s.Assigned,
		BySource:           make(map[string]int, len(s.BySource)),
		DirectByNetwork:    make(map[string]int, len(s.DirectByNetwork)),
		Skipped:            s.Skipped,
	}
	if out.Skipped == nil {
		out.Skipped = []string{}
	}
	for k, v := range s.BySource {
		out.BySource[string(k)] = v
	}
	for k, v := range s.DirectByNetwork {
		out.DirectByNetwork[string(k)] = v
	}
	if s.DryRun {
		out.Assignments = make(map[string]models.Assignment, len(s.Assignments))
		for urn, a := range s.Assignments {
			out.Assignments[urn] = toAssignment(a)
		}
	}
	return out
}
