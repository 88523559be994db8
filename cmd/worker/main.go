// Package main provides the entry point for the bibliometrics batch pipeline.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/biolitmap/bibliometrics-service/internal/bibliometrics"
	"github.com/biolitmap/bibliometrics-service/internal/config"
	"github.com/biolitmap/bibliometrics-service/internal/database"
	"github.com/biolitmap/bibliometrics-service/internal/export"
	"github.com/biolitmap/bibliometrics-service/internal/gender"
	"github.com/biolitmap/bibliometrics-service/internal/geocode"
	"github.com/biolitmap/bibliometrics-service/internal/ingest"
	"github.com/biolitmap/bibliometrics-service/internal/names"
	"github.com/biolitmap/bibliometrics-service/internal/observability"
	"github.com/biolitmap/bibliometrics-service/internal/pipeline"
	"github.com/biolitmap/bibliometrics-service/internal/repository"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	phasesFlag := flag.String("phases", "", "Comma-separated phases to run (overrides configuration)")
	datasetFlag := flag.String("dataset", "", "Path to the TSV paper dataset (overrides configuration)")
	exportFlag := flag.String("export", "", "Path for the author CSV export (overrides configuration)")
	candidatesFlag := flag.String("candidates", "", "Path for the duplicate candidates CSV (overrides configuration)")
	flag.Parse()

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *phasesFlag != "" {
		cfg.Pipeline.Phases = splitPhases(*phasesFlag)
	}
	if *datasetFlag != "" {
		cfg.Pipeline.DatasetPath = *datasetFlag
	}
	if *exportFlag != "" {
		cfg.Pipeline.ExportPath = *exportFlag
	}
	if *candidatesFlag != "" {
		cfg.Pipeline.CandidatesPath = *candidatesFlag
	}

	// Set up structured logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "worker").Logger()
	logger.Info().Strs("phases", cfg.Pipeline.Phases).Msg("bibliometrics pipeline starting")

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to PostgreSQL.
	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	// Set up metrics when enabled.
	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(cfg.Metrics.Namespace)
	}

	// Repositories and domain services.
	paperRepo := repository.NewPgPaperRepository(db)
	authorRepo := repository.NewPgAuthorRepository(db)

	aggregator := bibliometrics.NewAggregator(authorRepo, paperRepo, logger, metrics)
	resolver := bibliometrics.NewResolver(authorRepo, bibliometrics.ResolverConfig{
		Thresholds: names.Thresholds{
			FirstName: cfg.Matching.FirstNameThreshold,
			LastName:  cfg.Matching.LastNameThreshold,
			Combined:  cfg.Matching.CombinedThreshold,
		},
		Window: cfg.Matching.BlockWindow,
	}, logger, metrics)

	genderProvider := gender.NewHTTPProvider(gender.Config{
		BaseURL:    cfg.Gender.BaseURL,
		APIKey:     cfg.Gender.APIKey,
		Timeout:    cfg.Gender.Timeout,
		RateLimit:  cfg.Gender.RateLimit,
		MaxRetries: cfg.Gender.MaxRetries,
	}, nil)
	countryResolver := geocode.NewHTTPResolver(geocode.Config{
		BaseURL:   cfg.Geocoder.BaseURL,
		Timeout:   cfg.Geocoder.Timeout,
		RateLimit: cfg.Geocoder.RateLimit,
	}, nil)

	p := pipeline.New(cfg.Pipeline, pipeline.Deps{
		Loader:     ingest.NewLoader(paperRepo, logger, metrics),
		Aggregator: aggregator,
		Resolver:   resolver,
		Exporter:   export.NewExporter(logger),
		Genders:    genderProvider,
		Countries:  countryResolver,
		Papers:     paperRepo,
		Authors:    authorRepo,
		Metrics:    metrics,
	}, logger)

	summaries, err := p.Run(ctx)
	for _, s := range summaries {
		logger.Info().
			Str("phase", s.Phase).
			Int("processed", s.Processed).
			Int("skipped", s.Skipped).
			Int("failed", s.Failed).
			Dur("duration", s.Duration).
			Msg("phase summary")
	}
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	logger.Info().Msg("pipeline finished")
	return nil
}

// splitPhases parses a comma-separated phase list.
func splitPhases(s string) []string {
	parts := strings.Split(s, ",")
	phases := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			phases = append(phases, p)
		}
	}
	return phases
}
