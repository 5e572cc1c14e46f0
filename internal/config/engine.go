// Package config loads process settings from the environment and engine
// settings from a TOML file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // timezone names resolve in minimal containers

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"github.com/GavinKingcome/schools-air-quality-msp4/internal/airquality"
)

// DefaultEnginePath is the engine configuration shipped with the repository.
const DefaultEnginePath = "config/engine.toml"

// duration decodes TOML strings such as "2h" or "90m".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

type engineFile struct {
	Resolver struct {
		DirectThreshold    float64 `toml:"direct_threshold_m"`
		ReferenceThreshold float64 `toml:"reference_threshold_m"`
	} `toml:"resolver"`

	Estimator struct {
		FreshnessWindow duration `toml:"freshness_window"`
		Daytime         struct {
			Enabled   bool   `toml:"enabled"`
			StartHour int    `toml:"start_hour"`
			EndHour   int    `toml:"end_hour"`
			Timezone  string `toml:"timezone"`
		} `toml:"daytime"`
	} `toml:"estimator"`

	Thresholds map[string]struct {
		Limit     float64 `toml:"limit"`
		Target    float64 `toml:"target"`
		Guideline float64 `toml:"guideline"`
	} `toml:"thresholds"`
}

// requiredKeys must be present in every engine file. The engine has no
// built-in fallbacks for these.
var requiredKeys = [][]string{
	{"resolver", "direct_threshold_m"},
	{"resolver", "reference_threshold_m"},
	{"estimator", "freshness_window"},
	{"estimator", "daytime", "enabled"},
}

// LoadEngine decodes and validates the engine configuration at path.
// The returned error wraps airquality.ErrInvalidConfig when the file is
// readable but incomplete, inconsistent or has keys the engine does not
// know.
func LoadEngine(path string, logger zerolog.Logger) (airquality.EngineConfig, error) {
	var f engineFile
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return airquality.EngineConfig{}, fmt.Errorf("read engine config %s: %w", path, err)
	}

	cfg, err := buildEngine(md, f)
	if err != nil {
		return airquality.EngineConfig{}, fmt.Errorf("engine config %s: %w", path, err)
	}

	pm25 := cfg.Thresholds[airquality.PollutantPM25]
	logger.Info().
		Float64("direct_threshold_m", cfg.Resolver.DirectThreshold).
		Float64("reference_threshold_m", cfg.Resolver.ReferenceThreshold).
		Dur("freshness_window", cfg.Estimator.FreshnessWindow).
		Bool("daytime_filter", cfg.Estimator.Daytime.Enabled).
		Float64("pm25_limit", pm25.Limit).
		Strs("classified_pollutants", pollutantNames(cfg.Thresholds.Pollutants())).
		Msg("engine configuration loaded")

	return cfg, nil
}

func buildEngine(md toml.MetaData, f engineFile) (airquality.EngineConfig, error) {
	for _, key := range requiredKeys {
		if !md.IsDefined(key...) {
			return airquality.EngineConfig{}, fmt.Errorf("%w: missing key %s", airquality.ErrInvalidConfig, strings.Join(key, "."))
		}
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, key := range undecoded {
			keys[i] = key.String()
		}
		return airquality.EngineConfig{}, fmt.Errorf("%w: unknown keys %s", airquality.ErrInvalidConfig, strings.Join(keys, ", "))
	}

	daytime := airquality.DaytimeWindow{
		Enabled:   f.Estimator.Daytime.Enabled,
		StartHour: f.Estimator.Daytime.StartHour,
		EndHour:   f.Estimator.Daytime.EndHour,
		Location:  time.UTC,
	}
	if tz := f.Estimator.Daytime.Timezone; tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return airquality.EngineConfig{}, fmt.Errorf("%w: timezone %q: %w", airquality.ErrInvalidConfig, tz, err)
		}
		daytime.Location = loc
	}

	table := make(airquality.ThresholdTable, len(f.Thresholds))
	for name, l := range f.Thresholds {
		p, err := parsePollutant(name)
		if err != nil {
			return airquality.EngineConfig{}, err
		}
		table[p] = airquality.Limits{Limit: l.Limit, Target: l.Target, Guideline: l.Guideline}
	}

	cfg := airquality.EngineConfig{
		Resolver: airquality.ResolverConfig{
			DirectThreshold:    f.Resolver.DirectThreshold,
			ReferenceThreshold: f.Resolver.ReferenceThreshold,
		},
		Estimator: airquality.EstimatorConfig{
			FreshnessWindow: f.Estimator.FreshnessWindow.Duration,
			Daytime:         daytime,
		},
		Thresholds: table,
	}
	if err := cfg.Validate(); err != nil {
		return airquality.EngineConfig{}, err
	}
	return cfg, nil
}

var errUnknownPollutant = errors.New("unknown pollutant")

// parsePollutant accepts table names like "NO2", "pm25" or "PM2_5".
func parsePollutant(name string) (airquality.Pollutant, error) {
	key := strings.ToUpper(strings.NewReplacer(".", "", "_", "").Replace(name))
	for _, p := range airquality.Pollutants {
		if string(p) == key {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %w %q", airquality.ErrInvalidConfig, errUnknownPollutant, name)
}

func pollutantNames(ps []airquality.Pollutant) []string {
	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = string(p)
	}
	return names
}
