// Package main provides the entrypoint for the ingest and assignment worker.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/GavinKingcome/schools-air-quality-msp4/internal/airquality"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/airquality/breathe"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/airquality/laqn"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/api/handler"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/api/middleware"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/api/response"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/config"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/exposure"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/provider/resilience"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/store"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/telemetry"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	serviceName := telemetry.ServiceWorker

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting worker")

	cfg := config.Load()

	engine, err := config.LoadEngine(cfg.EnginePath, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load engine configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	repo, closeStore, err := store.Open(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer closeStore()

	exposureMetrics, err := exposure.NewMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize exposure metrics")
	}

	// Assignment runs follow sensor syncs closely; keep the cache short.
	snapshots := airquality.NewService(airquality.ServiceConfig{
		Loader:   store.NewSnapshotLoader(repo),
		Logger:   log,
		CacheTTL: time.Minute,
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

	providers := resilience.NewRegistry()

	laqnClient := laqn.NewClient(laqn.ClientConfig{
		BaseURL:  cfg.LAQNBaseURL,
		Boroughs: cfg.Boroughs,
		Registry: providers,
		Logger:   log.With().Str("provider", laqn.ProviderName).Logger(),
	})
	feeds := []worker.SensorFeed{laqnClient}

	breatheClient, err := breathe.NewClient(breathe.ClientConfig{
		APIKey:   cfg.BreatheAPIKey,
		BaseURL:  cfg.BreatheBaseURL,
		Boroughs: cfg.Boroughs,
		Registry: providers,
		Logger:   log.With().Str("provider", breathe.ProviderName).Logger(),
	})
	switch {
	case errors.Is(err, breathe.ErrMissingAPIKey):
		log.Warn().Msg("BREATHE_API_KEY not set, Breathe London sensors will not be synced")
	case err != nil:
		log.Fatal().Err(err).Msg("failed to create Breathe London client")
	default:
		feeds = append(feeds, breatheClient)
	}

	jobs := worker.NewJobs(worker.JobsConfig{
		Config:      worker.DefaultConfig(),
		Feeds:       feeds,
		AnnualStats: laqnClient,
		Store:       repo,
		Assigner:    exposureService,
		Logger:      log,
	})
	dispatcher := worker.NewDispatcher(jobs, log)

	var scheduler *worker.Scheduler
	if cfg.Worker.SchedulerEnabled {
		scheduler = worker.NewScheduler(dispatcher, worker.ScheduleConfig{
			ReadingsInterval: cfg.Worker.ReadingsInterval,
			SensorSyncAt:     cfg.Worker.SensorSyncAt,
			AnnualStatsAt:    cfg.Worker.AnnualStatsAt,
			AssignmentAt:     cfg.Worker.AssignmentAt,
		}, log)
		if err := scheduler.Start(); err != nil {
			log.Fatal().Err(err).Msg("failed to start scheduler")
		}
		log.Info().Int("jobs", scheduler.Jobs()).Msg("scheduler started")
	}

	if cfg.Worker.PubSubProjectID != "" && cfg.Worker.PubSubSubscription != "" {
		pubsubHandler, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
			ProjectID:        cfg.Worker.PubSubProjectID,
			SubscriptionName: cfg.Worker.PubSubSubscription,
			Dispatcher:       dispatcher,
			Logger:           log,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create pubsub handler")
		}
		defer func() {
			if err := pubsubHandler.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close pubsub client")
			}
		}()

		go func() {
			if err := pubsubHandler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("pubsub handler stopped")
			}
		}()
	}

	// The worker exposes ops endpoints for Cloud Run health checks.
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newHealthRouter(log, repo, providers, jobs),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("health server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down worker")
	cancel()
	if scheduler != nil {
		scheduler.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}

	log.Info().Msg("worker stopped")
}

func newHealthRouter(log zerolog.Logger, repo store.Repository, providers *resilience.Registry, jobs *worker.Jobs) http.Handler {
	ops := handler.NewOpsHandler(handler.OpsHandlerConfig{
		Version:   Version,
		BuildTime: BuildTime,
		Store:     repo,
		Providers: providers,
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))

	r.Get("/health", ops.HealthCheck)
	r.Route("/v1/ops", func(r chi.Router) {
		r.Get("/health", ops.HealthCheck)
		r.Get("/ready", ops.ReadinessCheck)
		r.Get("/status", ops.SystemStatus)
		r.Get("/jobs", func(w http.ResponseWriter, r *http.Request) {
			response.JSON(w, r, http.StatusOK, jobs.MetricsSnapshot())
		})
	})
	return r
}
