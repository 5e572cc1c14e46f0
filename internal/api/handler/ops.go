// Package handler provides the HTTP handlers of the schools air quality API.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/GavinKingcome/schools-air-quality-msp4/internal/airquality"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/api/models"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/api/response"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/provider/resilience"
)

// Pinger checks that a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CacheReporter reports the snapshot cache state.
type CacheReporter interface {
	CacheStatus() airquality.CacheStatus
}

// OpsHandlerConfig holds the dependencies of OpsHandler.
type OpsHandlerConfig struct {
	Version   string
	BuildTime string
	Store     Pinger
	Snapshots CacheReporter
	Providers *resilience.Registry
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	store     Pinger
	snapshots CacheReporter
	providers *resilience.Registry
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsHandlerConfig) *OpsHandler {
	return &OpsHandler{
		version:   cfg.Version,
		buildTime: cfg.BuildTime,
		store:     cfg.Store,
		snapshots: cfg.Snapshots,
		providers: cfg.Providers,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Details: map[string]interface{}{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	})
}

// ReadinessCheck handles GET /v1/ops/ready. It fails when the store is
// unreachable.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
	}
	if err := h.pingStore(r.Context()); err != nil {
		health.Status = models.HealthStatusFail
		health.Details = map[string]interface{}{"store": err.Error()}
		response.JSON(w, r, http.StatusServiceUnavailable, health)
		return
	}
	response.JSON(w, r, http.StatusOK, health)
}

// SystemStatus handles GET /v1/ops/status - store, snapshot and feed status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	status := models.SystemStatus{
		Status:    models.HealthStatusOK,
		Time:      models.Timestamp(time.Now()),
		Providers: []models.ProviderStatus{},
	}

	store := models.SubsystemStatus{Name: "store", Status: models.HealthStatusOK}
	if err := h.pingStore(r.Context()); err != nil {
		detail := err.Error()
		store.Status = models.HealthStatusFail
		store.Detail = &detail
		status.Status = models.HealthStatusFail
	}
	status.Subsystems = append(status.Subsystems, store)

	if h.snapshots != nil {
		cache := h.snapshots.CacheStatus()
		status.Snapshot = toSnapshotStatus(cache)
		if cache.IsStale && status.Status == models.HealthStatusOK {
			status.Status = models.HealthStatusDegraded
		}
	}

	if h.providers != nil {
		for _, p := range h.providers.GetAllHealth() {
			ps := models.ProviderStatus{
				Provider:     p.Name,
				Status:       providerStatus(p),
				CircuitState: p.CircuitState.String(),
			}
			if p.LastSuccessAt != nil {
				ps.LastSuccessAt = models.TimestampPtr(*p.LastSuccessAt)
			}
			if p.LastFailureAt != nil {
				ps.LastFailureAt = models.TimestampPtr(*p.LastFailureAt)
			}
			if p.LastError != "" {
				msg := p.LastError
				ps.Message = &msg
			}
			if ps.Status != models.HealthStatusOK && status.Status == models.HealthStatusOK {
				status.Status = models.HealthStatusDegraded
			}
			status.Providers = append(status.Providers, ps)
		}
	}

	response.JSON(w, r, http.StatusOK, status)
}

func (h *OpsHandler) pingStore(ctx context.Context) error {
	if h.store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return h.store.Ping(ctx)
}

func providerStatus(p *resilience.ProviderHealth) models.HealthStatus {
	switch {
	case p.IsUnhealthy():
		return models.HealthStatusFail
	case p.IsDegraded():
		return models.HealthStatusDegraded
	}
	return models.HealthStatusOK
}
