// Package main provides the entrypoint for the schools air quality API server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/GavinKingcome/schools-air-quality-msp4/internal/airquality"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/api"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/api/middleware"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/auth"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/config"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/exposure"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/store"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	serviceName := telemetry.ServiceAPI

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting schools air quality API")

	cfg := config.Load()

	engine, err := config.LoadEngine(cfg.EnginePath, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load engine configuration")
	}

	ctx := context.Background()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if cfg.Telemetry.Enabled {
		log.Info().
			Str("otlp_endpoint", cfg.Telemetry.OTLPEndpoint).
			Float64("sample_ratio", cfg.Telemetry.SampleRatio).
			Msg("OpenTelemetry initialized")
	}

	metrics, err := middleware.NewMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize metrics")
	}
	exposureMetrics, err := exposure.NewMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize exposure metrics")
	}

	repo, closeStore, err := store.Open(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer closeStore()

	snapshots := airquality.NewService(airquality.ServiceConfig{
		Loader:   store.NewSnapshotLoader(repo),
		Logger:   log,
		CacheTTL: cfg.SnapshotTTL,
	})

	exposureService, err := exposure.NewFromEngine(exposure.EngineConfig{
		Engine:    engine,
		Store:     repo,
		Snapshots: snapshots,
		Metrics:   exposureMetrics,
		Logger:    log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create exposure service")
	}
	log.Info().Msg("exposure service initialized")

	// Admin endpoints are only mounted when a signing key is configured.
	var tokens middleware.TokenValidator
	if cfg.JWTSigningKey != "" {
		jwtService, err := auth.NewJWTService(auth.JWTConfig{
			SigningKey: cfg.JWTSigningKey,
			Issuer:     auth.DefaultIssuer,
			Audience:   auth.DefaultAudience,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create token service")
		}
		tokens = jwtService
	} else {
		log.Warn().Msg("JWT_SIGNING_KEY not set, admin endpoints disabled")
	}

	router := api.NewRouter(api.RouterConfig{
		Version:    Version,
		BuildTime:  BuildTime,
		Logger:     log,
		Metrics:    metrics,
		RequireTLS: cfg.IsProduction(),
		Store:      repo,
		Snapshots:  snapshots,
		Exposure:   exposureService,
		Tokens:     tokens,
	})

	// Warm the cache so the first request does not pay for the load.
	if err := snapshots.RefreshSnapshot(ctx); err != nil {
		log.Warn().Err(err).Msg("initial snapshot load failed")
	}

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		return
	}

	log.Info().Msg("server stopped")
}
