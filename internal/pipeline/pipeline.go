// Package pipeline orchestrates the batch phases that turn a raw publication
// dataset into author bibliometrics: load, enrichment, attribution, h-index
// recomputation, duplicate scanning and export.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/biolitmap/bibliometrics-service/internal/bibliometrics"
	"github.com/biolitmap/bibliometrics-service/internal/config"
	"github.com/biolitmap/bibliometrics-service/internal/domain"
	"github.com/biolitmap/bibliometrics-service/internal/export"
	"github.com/biolitmap/bibliometrics-service/internal/gender"
	"github.com/biolitmap/bibliometrics-service/internal/geocode"
	"github.com/biolitmap/bibliometrics-service/internal/ingest"
	"github.com/biolitmap/bibliometrics-service/internal/observability"
	"github.com/biolitmap/bibliometrics-service/internal/repository"
)

// Phase names accepted in the pipeline configuration.
const (
	PhaseLoad      = "load"
	PhaseGender    = "gender"
	PhaseCountries = "countries"
	PhaseAttribute = "attribute"
	PhaseHIndex    = "hindex"
	PhaseDedup     = "dedup"
	PhaseExport    = "export"
)

// pageSize is the batch size used when scanning papers for enrichment.
const pageSize = 200

// PhaseSummary reports the outcome of one phase.
type PhaseSummary struct {
	Phase     string
	Processed int
	Skipped   int
	Failed    int
	Duration  time.Duration
}

// Pipeline runs the configured phases in order.
type Pipeline struct {
	cfg        config.PipelineConfig
	loader     *ingest.Loader
	aggregator *bibliometrics.Aggregator
	resolver   *bibliometrics.Resolver
	exporter   *export.Exporter
	genders    gender.Provider
	countries  geocode.CountryResolver
	papers     repository.PaperRepository
	authors    repository.AuthorRepository
	logger     zerolog.Logger
	metrics    *observability.Metrics
}

// Deps bundles the collaborators a pipeline needs. Genders and Countries may
// be nil; the corresponding phases then fail with a configuration error when
// selected.
type Deps struct {
	Loader     *ingest.Loader
	Aggregator *bibliometrics.Aggregator
	Resolver   *bibliometrics.Resolver
	Exporter   *export.Exporter
	Genders    gender.Provider
	Countries  geocode.CountryResolver
	Papers     repository.PaperRepository
	Authors    repository.AuthorRepository
	Metrics    *observability.Metrics
}

// New creates a pipeline over the given collaborators.
func New(cfg config.PipelineConfig, deps Deps, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		loader:     deps.Loader,
		aggregator: deps.Aggregator,
		resolver:   deps.Resolver,
		exporter:   deps.Exporter,
		genders:    deps.Genders,
		countries:  deps.Countries,
		papers:     deps.Papers,
		authors:    deps.Authors,
		logger:     logger.With().Str("component", "pipeline").Logger(),
		metrics:    deps.Metrics,
	}
}

// Run executes the configured phases in order and returns one summary per
// phase. The first phase error aborts the run; everything a finished phase
// persisted stays persisted, and rerunning is safe because attribution is
// idempotent.
func (p *Pipeline) Run(ctx context.Context) ([]PhaseSummary, error) {
	summaries := make([]PhaseSummary, 0, len(p.cfg.Phases))
	for _, phase := range p.cfg.Phases {
		start := time.Now()
		summary, err := p.runPhase(ctx, phase)
		summary.Phase = phase
		summary.Duration = time.Since(start)
		if p.metrics != nil {
			p.metrics.ObservePhase(phase, summary.Duration.Seconds())
		}
		summaries = append(summaries, summary)

		logger := observability.WithPhaseContext(p.logger, phase)
		event := logger.Info()
		if err != nil {
			event = logger.Error().Err(err)
		}
		event.
			Int("processed", summary.Processed).
			Int("skipped", summary.Skipped).
			Int("failed", summary.Failed).
			Dur("duration", summary.Duration).
			Msg("phase finished")

		if err != nil {
			return summaries, fmt.Errorf("phase %s: %w", phase, err)
		}
	}
	return summaries, nil
}

func (p *Pipeline) runPhase(ctx context.Context, phase string) (PhaseSummary, error) {
	switch phase {
	case PhaseLoad:
		return p.runLoad(ctx)
	case PhaseGender:
		return p.runGender(ctx)
	case PhaseCountries:
		return p.runCountries(ctx)
	case PhaseAttribute:
		return p.runAttribute(ctx)
	case PhaseHIndex:
		return p.runHIndex(ctx)
	case PhaseDedup:
		return p.runDedup(ctx)
	case PhaseExport:
		return p.runExport(ctx)
	default:
		return PhaseSummary{}, fmt.Errorf("%w: unknown phase %q", domain.ErrInvalidInput, phase)
	}
}

func (p *Pipeline) runLoad(ctx context.Context) (PhaseSummary, error) {
	loaded, err := p.loader.LoadFile(ctx, p.cfg.DatasetPath)
	return PhaseSummary{Processed: loaded.Loaded, Skipped: loaded.Skipped}, err
}

// runGender fills in the gender list of papers that have authors but no
// genders yet. Papers updated here drop out of the missing-genders scan, so
// the offset only advances past papers that could not be updated.
func (p *Pipeline) runGender(ctx context.Context) (PhaseSummary, error) {
	if p.genders == nil {
		return PhaseSummary{}, fmt.Errorf("%w: no gender provider configured", domain.ErrInvalidInput)
	}

	var summary PhaseSummary
	cache := make(map[string]domain.Gender)
	offset := 0
	for {
		page, err := p.papers.ListMissingGenders(ctx, pageSize, offset)
		if err != nil {
			return summary, fmt.Errorf("scan papers: %w", err)
		}
		if len(page) == 0 {
			break
		}
		for _, paper := range page {
			genders := make([]domain.Gender, len(paper.Authors))
			for i, name := range paper.Authors {
				genders[i] = p.lookupGender(ctx, cache, name)
			}
			paper.AuthorGenders = genders
			if err := p.papers.Update(ctx, paper); err != nil {
				summary.Failed++
				offset++
				p.logger.Error().Err(err).Str("doi", paper.DOI).Msg("storing genders failed")
				continue
			}
			summary.Processed++
		}
	}
	return summary, nil
}

// lookupGender resolves a single name through the provider, memoizing per
// run. Provider failures map to unknown so the phase never blocks on a flaky
// upstream.
func (p *Pipeline) lookupGender(ctx context.Context, cache map[string]domain.Gender, name string) domain.Gender {
	if g, ok := cache[name]; ok {
		return g
	}

	res, err := p.genders.Infer(ctx, name)
	outcome := "hit"
	g := res.Gender
	switch {
	case err != nil:
		outcome = "error"
		g = domain.GenderUnknown
		authorLogger := observability.WithAuthorContext(p.logger, name)
		authorLogger.Warn().Err(err).Msg("gender lookup failed")
	case res.Failed:
		outcome = "miss"
	}
	if p.metrics != nil {
		p.metrics.RecordGenderLookup(outcome)
	}

	cache[name] = g
	return g
}

// runCountries resolves author affiliations to countries and appends newly
// seen countries to each author record.
func (p *Pipeline) runCountries(ctx context.Context) (PhaseSummary, error) {
	if p.countries == nil {
		return PhaseSummary{}, fmt.Errorf("%w: no country resolver configured", domain.ErrInvalidInput)
	}

	authors, err := p.authors.ListActive(ctx)
	if err != nil {
		return PhaseSummary{}, fmt.Errorf("list authors: %w", err)
	}

	var summary PhaseSummary
	cache := make(map[string]string)
	for _, author := range authors {
		countries, failed := p.resolveCountries(ctx, cache, author)
		if failed {
			summary.Failed++
		}
		if len(countries) == 0 {
			summary.Skipped++
			continue
		}

		updated := author.Clone()
		updated.Countries = append(updated.Countries, countries...)
		if err := p.authors.Update(ctx, updated); err != nil {
			summary.Failed++
			authorLogger := observability.WithAuthorContext(p.logger, author.Name)
			authorLogger.Error().Err(err).Msg("storing countries failed")
			continue
		}
		summary.Processed++
	}
	return summary, nil
}

// resolveCountries returns the countries newly resolved for the author's
// affiliations, skipping ones already recorded.
func (p *Pipeline) resolveCountries(ctx context.Context, cache map[string]string, author *domain.Author) ([]string, bool) {
	var added []string
	failed := false
	seen := make(map[string]struct{}, len(author.Countries))
	for _, c := range author.Countries {
		seen[c] = struct{}{}
	}

	for _, affiliation := range author.Affiliations {
		country, ok := cache[affiliation]
		if !ok {
			var err error
			country, err = p.countries.ResolveCountry(ctx, affiliation)
			outcome := "hit"
			if err != nil {
				outcome = "miss"
				country = ""
				if !isNotFound(err) {
					outcome = "error"
					failed = true
					p.logger.Warn().Err(err).Str("affiliation", affiliation).Msg("country lookup failed")
				}
			}
			if p.metrics != nil {
				p.metrics.RecordCountryLookup(outcome)
			}
			cache[affiliation] = country
		}
		if country == "" {
			continue
		}
		if _, dup := seen[country]; dup {
			continue
		}
		seen[country] = struct{}{}
		added = append(added, country)
	}
	return added, failed
}

func (p *Pipeline) runAttribute(ctx context.Context) (PhaseSummary, error) {
	run, err := p.aggregator.Run(ctx)
	return PhaseSummary{Processed: run.Processed, Skipped: run.Skipped, Failed: run.Failed}, err
}

func (p *Pipeline) runHIndex(ctx context.Context) (PhaseSummary, error) {
	updated, err := p.aggregator.RecomputeHIndexes(ctx)
	return PhaseSummary{Processed: updated}, err
}

// runDedup scans for duplicate author candidates and writes the ranked list
// to the configured CSV file for human review. Candidates are never merged
// automatically.
func (p *Pipeline) runDedup(ctx context.Context) (PhaseSummary, error) {
	candidates, err := p.resolver.FindDuplicateCandidates(ctx)
	if err != nil {
		return PhaseSummary{}, err
	}

	for _, c := range candidates {
		p.logger.Info().
			Str("author_a", c.A.Name).
			Str("author_b", c.B.Name).
			Float64("score", c.Score()).
			Msg("duplicate candidate")
	}

	if p.cfg.CandidatesPath != "" && len(candidates) > 0 {
		if err := p.exporter.WriteCandidatesFile(ctx, p.cfg.CandidatesPath, candidates); err != nil {
			return PhaseSummary{Processed: len(candidates)}, err
		}
	}
	return PhaseSummary{Processed: len(candidates)}, nil
}

func (p *Pipeline) runExport(ctx context.Context) (PhaseSummary, error) {
	authors, err := p.authors.ListActive(ctx)
	if err != nil {
		return PhaseSummary{}, fmt.Errorf("list authors: %w", err)
	}
	if err := p.exporter.WriteAuthorsFile(ctx, p.cfg.ExportPath, authors); err != nil {
		return PhaseSummary{}, err
	}
	return PhaseSummary{Processed: len(authors)}, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrInvalidInput)
}
