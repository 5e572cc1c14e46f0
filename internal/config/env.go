package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/GavinKingcome/schools-air-quality-msp4/internal/database"
)

// Config holds process-level settings shared by the binaries.
type Config struct {
	Environment string
	Port        string

	// EnginePath locates the engine TOML file.
	EnginePath string

	Database database.Config

	// Boroughs limits sensor sync to these London boroughs.
	Boroughs []string

	LAQNBaseURL    string
	BreatheBaseURL string
	BreatheAPIKey  string

	// SnapshotTTL is how long the estimator snapshot is cached.
	SnapshotTTL time.Duration

	// JWTSigningKey signs and verifies admin tokens.
	JWTSigningKey string

	Telemetry TelemetryConfig

	Worker WorkerConfig
}

// WorkerConfig holds settings for the background worker.
type WorkerConfig struct {
	// SchedulerEnabled runs the built-in job schedule.
	SchedulerEnabled bool
	ReadingsInterval time.Duration
	SensorSyncAt     string
	AnnualStatsAt    string
	AssignmentAt     string

	// PubSubProjectID and PubSubSubscription enable on-demand jobs from
	// a Pub/Sub subscription when both are set.
	PubSubProjectID    string
	PubSubSubscription string
}

// TelemetryConfig holds OpenTelemetry exporter settings.
type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	// SampleRatio is the fraction of root traces sampled.
	SampleRatio float64
}

// Load reads configuration from environment variables, after loading an
// optional .env file from the working directory.
func Load() Config {
	_ = godotenv.Load(".env")

	ttl := getDuration("SNAPSHOT_TTL", 5*time.Minute)

	return Config{
		Environment:    getEnvOrDefault("APP_ENV", "development"),
		Port:           getEnvOrDefault("APP_PORT", "8080"),
		EnginePath:     getEnvOrDefault("ENGINE_CONFIG", DefaultEnginePath),
		Database:       database.ConfigFromEnv(),
		Boroughs:       splitList(getEnvOrDefault("BOROUGHS", "Lambeth,Southwark")),
		LAQNBaseURL:    os.Getenv("LAQN_BASE_URL"),
		BreatheBaseURL: os.Getenv("BREATHE_BASE_URL"),
		BreatheAPIKey:  os.Getenv("BREATHE_API_KEY"),
		SnapshotTTL:    ttl,
		JWTSigningKey:  os.Getenv("JWT_SIGNING_KEY"),
		Telemetry: TelemetryConfig{
			Enabled:      getBool("OTEL_ENABLED", false),
			OTLPEndpoint: getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			SampleRatio:  getFloat("OTEL_TRACES_SAMPLER_ARG", 1),
		},
		Worker: WorkerConfig{
			SchedulerEnabled:   getBool("SCHEDULER_ENABLED", true),
			ReadingsInterval:   getDuration("READINGS_INTERVAL", 15*time.Minute),
			SensorSyncAt:       getEnvOrDefault("SENSOR_SYNC_AT", "02:00"),
			AnnualStatsAt:      getEnvOrDefault("ANNUAL_STATS_AT", "02:30"),
			AssignmentAt:       getEnvOrDefault("ASSIGNMENT_AT", "03:00"),
			PubSubProjectID:    os.Getenv("PUBSUB_PROJECT_ID"),
			PubSubSubscription: os.Getenv("PUBSUB_SUBSCRIPTION"),
		},
	}
}

// IsProduction reports whether the process runs in production.
func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return v
}

func getFloat(key string, defaultValue float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultValue
	}
	return v
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil || v <= 0 {
		return defaultValue
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
