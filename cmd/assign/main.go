// Command assign imports school baselines, runs the sensor assignment batch
// and mints operator tokens for the admin API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/GavinKingcome/schools-air-quality-msp4/internal/airquality"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/auth"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/baseline"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/config"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/exposure"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/store"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/telemetry"
)

// Version is set at compile time via ldflags.
var Version = "dev"

type options struct {
	directThreshold    float64
	referenceThreshold float64
	dryRun             bool
	baselinePath       string
	skipAssign         bool

	issueToken string
	scopes     string
	tokenTTL   time.Duration
}

func parseFlags(args []string, output io.Writer) (options, error) {
	var opts options

	fs := flag.NewFlagSet("assign", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Float64Var(&opts.directThreshold, "direct-threshold", 0, "Override the direct sensor distance threshold in metres")
	fs.Float64Var(&opts.referenceThreshold, "reference-threshold", 0, "Override the reference sensor distance threshold in metres")
	fs.BoolVar(&opts.dryRun, "dry-run", false, "Compute assignments without saving them")
	fs.StringVar(&opts.baselinePath, "baseline", "", "Import an LAEI extraction JSON file before assigning")
	fs.BoolVar(&opts.skipAssign, "skip-assign", false, "Only import the baseline file")
	fs.StringVar(&opts.issueToken, "issue-token", "", "Mint an admin token for this subject and exit")
	fs.StringVar(&opts.scopes, "scopes", strings.Join(auth.AllScopes, ","), "Comma separated scopes for -issue-token")
	fs.DurationVar(&opts.tokenTTL, "token-ttl", auth.DefaultTokenExpiry, "Lifetime of the token minted by -issue-token")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: assign [flags]\n\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	if opts.directThreshold < 0 || opts.referenceThreshold < 0 {
		return options{}, errors.New("thresholds must be positive")
	}
	if opts.skipAssign && opts.baselinePath == "" {
		return options{}, errors.New("-skip-assign requires -baseline")
	}
	return opts, nil
}

// resolverConfig applies the threshold overrides to base.
func (o options) resolverConfig(base airquality.ResolverConfig) (airquality.ResolverConfig, bool) {
	if o.directThreshold == 0 && o.referenceThreshold == 0 {
		return base, false
	}
	if o.directThreshold > 0 {
		base.DirectThreshold = o.directThreshold
	}
	if o.referenceThreshold > 0 {
		base.ReferenceThreshold = o.referenceThreshold
	}
	return base, true
}

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().
		Timestamp().
		Str("service", telemetry.ServiceAssign).
		Str("version", Version).
		Logger()

	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatal().Err(err).Msg("invalid arguments")
	}

	cfg := config.Load()

	if opts.issueToken != "" {
		if err := issueToken(cfg.JWTSigningKey, opts, os.Stdout); err != nil {
			log.Fatal().Err(err).Msg("failed to issue token")
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := config.LoadEngine(cfg.EnginePath, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load engine configuration")
	}

	repo, closeStore, err := store.Open(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer closeStore()

	if err := run(ctx, opts, engine, repo, os.Stdout, log); err != nil {
		log.Error().Err(err).Msg("assign failed")
		closeStore()
		os.Exit(1)
	}
}

// run imports the optional baseline file and runs the assignment batch,
// writing the run summary as JSON to out.
func run(ctx context.Context, opts options, engine airquality.EngineConfig, repo store.Repository, out io.Writer, log zerolog.Logger) error {
	if opts.baselinePath != "" {
		importer := baseline.NewImporter(baseline.ImporterConfig{Store: repo, Logger: log})
		summary, err := importer.ImportFile(ctx, opts.baselinePath)
		if err != nil {
			return fmt.Errorf("import baseline: %w", err)
		}
		if opts.skipAssign {
			return writeJSON(out, summary)
		}
	}

	svc, err := exposure.NewFromEngine(exposure.EngineConfig{
		Engine: engine,
		Store:  repo,
		Snapshots: airquality.NewService(airquality.ServiceConfig{
			Loader: store.NewSnapshotLoader(repo),
			Logger: log,
		}),
		Logger: log,
	})
	if err != nil {
		return err
	}

	runOpts := exposure.RunOptions{DryRun: opts.dryRun}
	if rc, ok := opts.resolverConfig(engine.Resolver); ok {
		resolver, err := airquality.NewResolver(rc)
		if err != nil {
			return err
		}
		runOpts.Resolver = resolver
	}

	summary, err := svc.RunAssignment(ctx, runOpts)
	if err != nil {
		return err
	}

	if opts.dryRun {
		return writeJSON(out, struct {
			exposure.RunSummary
			Assignments map[string]airquality.Assignment `json:"assignments"`
		}{summary, summary.Assignments})
	}
	return writeJSON(out, summary)
}

func issueToken(signingKey string, opts options, out io.Writer) error {
	tokens, err := auth.NewJWTService(auth.JWTConfig{
		SigningKey: signingKey,
		Issuer:     auth.DefaultIssuer,
		Audience:   auth.DefaultAudience,
	})
	if err != nil {
		return err
	}

	var scopes []string
	for _, s := range strings.Split(opts.scopes, ",") {
		if s = strings.TrimSpace(s); s != "" {
			scopes = append(scopes, s)
		}
	}

	token, expiresAt, err := tokens.Issue(opts.issueToken, scopes, opts.tokenTTL)
	if err != nil {
		return err
	}
	return writeJSON(out, map[string]any{
		"token":      token,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
		"scopes":     scopes,
	})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
