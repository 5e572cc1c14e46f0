// Package api provides the HTTP API of the schools air quality engine.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/GavinKingcome/schools-air-quality-msp4/internal/airquality"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/api/handler"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/api/middleware"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/api/models"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/auth"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/baseline"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/exposure"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/provider/resilience"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/store"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version    string
	BuildTime  string
	Logger     zerolog.Logger
	Metrics    *middleware.Metrics
	RequireTLS bool

	Store     store.Repository
	Snapshots *airquality.Service
	Exposure  *exposure.Service
	Providers *resilience.Registry

	// Tokens validates admin bearer tokens. Admin routes are not mounted
	// when it is nil.
	Tokens middleware.TokenValidator
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing())
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequireTLS(cfg.RequireTLS))
	r.Use(middleware.ContentTypeJSON)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		p := models.NewNotFound(middleware.GetRequestID(r.Context()), "no such endpoint")
		p.Instance = r.URL.Path
		p.Write(w)
	})

	opsHandler := handler.NewOpsHandler(handler.OpsHandlerConfig{
		Version:   cfg.Version,
		BuildTime: cfg.BuildTime,
		Store:     cfg.Store,
		Snapshots: cfg.Snapshots,
		Providers: cfg.Providers,
	})
	schoolHandler := handler.NewSchoolHandler(cfg.Store, cfg.Exposure)
	sensorHandler := handler.NewSensorHandler(cfg.Snapshots)
	adminHandler := handler.NewAdminHandler(handler.AdminHandlerConfig{
		Assigner:  cfg.Exposure,
		Snapshots: cfg.Snapshots,
		Baseline:  baseline.NewImporter(baseline.ImporterConfig{Store: cfg.Store, Logger: cfg.Logger}),
		Logger:    cfg.Logger,
	})

	publicRateLimit := middleware.RateLimitByIP(middleware.PublicRateLimit)
	bulkRateLimit := middleware.RateLimitByIP(middleware.BulkRateLimit)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.Get("/status", opsHandler.SystemStatus)
		})

		r.Route("/schools", func(r chi.Router) {
			r.With(publicRateLimit).Get("/", schoolHandler.ListSchools)
			r.With(bulkRateLimit).Get("/estimates", schoolHandler.ListEstimates)
			r.With(publicRateLimit).Get("/{urn}", schoolHandler.GetSchool)
		})

		r.Route("/sensors", func(r chi.Router) {
			r.Use(publicRateLimit)
			r.Get("/", sensorHandler.ListSensors)
			r.Get("/{siteCode}", sensorHandler.GetSensor)
		})

		if cfg.Tokens == nil {
			return
		}
		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.Auth(cfg.Tokens))
			r.Use(middleware.RateLimitBySubject(middleware.AdminRateLimit))
			r.Use(middleware.RequireJSON)

			r.With(middleware.RequireScope(auth.ScopeRunAssignment)).
				Post("/assignments:run", adminHandler.RunAssignment)
			r.With(middleware.RequireScope(auth.ScopeRefreshSnapshot)).
				Post("/snapshot:refresh", adminHandler.RefreshSnapshot)
			r.With(middleware.RequireScope(auth.ScopeImportBaseline)).
				Post("/baseline:import", adminHandler.ImportBaseline)
		})
	})

	return r
}
