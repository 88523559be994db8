package bibliometrics

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/biolitmap/bibliometrics-service/internal/domain"
	"github.com/biolitmap/bibliometrics-service/internal/names"
	"github.com/biolitmap/bibliometrics-service/internal/observability"
)

// AuthorStore is the author record store consumed by the aggregator and the
// identity resolver. Implementations must never return tombstoned records
// from FindByName or FindByAlias: a literal name matching a tombstoned
// record's alias resolves to the surviving identity instead.
type AuthorStore interface {
	// FindByName retrieves the non-tombstoned author with the given canonical
	// name. Returns domain.ErrNotFound if absent.
	FindByName(ctx context.Context, name string) (*domain.Author, error)

	// FindByAlias retrieves the non-tombstoned author whose other_names set
	// contains the given name. Returns domain.ErrNotFound if absent.
	FindByAlias(ctx context.Context, name string) (*domain.Author, error)

	// Create inserts a new author record.
	Create(ctx context.Context, author *domain.Author) error

	// Update replaces the stored aggregate fields of an author in a single
	// atomic write.
	Update(ctx context.Context, author *domain.Author) error

	// ListActive returns all non-tombstoned authors.
	ListActive(ctx context.Context) ([]*domain.Author, error)

	// ApplyMerge performs an author merge with exclusive access over both
	// rows for the duration: the records are locked and re-read inside one
	// transaction, merge derives the surviving and tombstoned records from
	// the fresh rows, and both writes apply atomically. An error from merge
	// aborts without writing.
	ApplyMerge(ctx context.Context, keepID, removeID uuid.UUID, merge func(keep, remove *domain.Author) (merged, tombstone *domain.Author, err error)) error
}

// PaperStore is the paper record store consumed by the aggregator's batch run.
type PaperStore interface {
	// ListWithAuthors returns non-tombstoned papers whose author list has
	// been populated, paging with limit/offset ordered by creation time.
	ListWithAuthors(ctx context.Context, limit, offset int) ([]*domain.Paper, error)
}

// RunSummary reports the outcome of a batch attribution run. Per-record
// errors do not abort the run; they are counted here instead.
type RunSummary struct {
	Processed int
	Skipped   int
	Failed    int
}

// Aggregator consumes papers with resolved author lists and incrementally
// maintains each author's aggregate record. Repeated ingestion of the same
// paper is a no-op thanks to the per-author processed-DOI guard, so a failed
// run can always be retried.
type Aggregator struct {
	authors AuthorStore
	papers  PaperStore
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewAggregator creates an Aggregator. metrics may be nil to disable
// instrumentation.
func NewAggregator(authors AuthorStore, papers PaperStore, logger zerolog.Logger, metrics *observability.Metrics) *Aggregator {
	return &Aggregator{
		authors: authors,
		papers:  papers,
		logger:  logger.With().Str("component", "aggregator").Logger(),
		metrics: metrics,
	}
}

// pageSize is the batch size used when scanning papers.
const pageSize = 500

// Run scans all papers with populated author lists and attributes each to its
// authors. Malformed papers are skipped; store failures on a single paper are
// counted and the run continues with the next paper.
func (a *Aggregator) Run(ctx context.Context) (RunSummary, error) {
	var summary RunSummary
	offset := 0
	for {
		page, err := a.papers.ListWithAuthors(ctx, pageSize, offset)
		if err != nil {
			return summary, fmt.Errorf("scan papers: %w", err)
		}
		if len(page) == 0 {
			break
		}
		for _, paper := range page {
			if err := a.AttributePaper(ctx, paper); err != nil {
				if errors.Is(err, domain.ErrInvalidInput) {
					summary.Skipped++
					continue
				}
				summary.Failed++
				paperLogger := observability.WithPaperContext(a.logger, paper.DOI, paper.Year)
				paperLogger.Error().Err(err).Msg("attribution failed, will retry on next run")
				continue
			}
			summary.Processed++
		}
		offset += len(page)
	}

	a.logger.Info().
		Int("processed", summary.Processed).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Msg("attribution run finished")
	return summary, nil
}

// AttributePaper updates (or creates) the aggregate record of every author of
// the given paper. A paper with a missing author list or a gender list of
// mismatched length is rejected with domain.ErrInvalidInput and must be
// skipped by the caller, not treated as fatal.
//
// For each author position the resolution order is: canonical name match,
// then alias match. A record found via alias resolves to its canonical
// identity for the rest of the call. If the paper's DOI is already in the
// record's processed-DOI list the pair is skipped entirely, which makes the
// operation idempotent. Writes are read-compute-write: a fresh record value
// is built and persisted in a single Update, never mutated in place.
func (a *Aggregator) AttributePaper(ctx context.Context, paper *domain.Paper) error {
	if err := paper.ValidateAuthorLists(); err != nil {
		if a.metrics != nil {
			a.metrics.PapersSkipped.Inc()
		}
		paperLogger := observability.WithPaperContext(a.logger, paper.DOI, paper.Year)
		paperLogger.Warn().Err(err).Msg("skipping malformed paper")
		return err
	}

	lastIndex := len(paper.Authors) - 1
	for i, raw := range paper.Authors {
		name := names.Normalize(raw)
		if name == "" {
			continue
		}
		if err := a.attributeAuthor(ctx, paper, name, paper.GenderAt(i), paper.AffiliationAt(i), i == 0, i == lastIndex); err != nil {
			if a.metrics != nil {
				a.metrics.AttributionFailures.Inc()
			}
			return fmt.Errorf("attribute %q for %s: %w", name, paper.DOI, err)
		}
	}

	if a.metrics != nil {
		a.metrics.PapersAttributed.Inc()
	}
	return nil
}

// attributeAuthor performs the per-author resolve / guard / merge-fields /
// persist sequence for a single (paper, author position) pair.
func (a *Aggregator) attributeAuthor(ctx context.Context, paper *domain.Paper, name string, gender domain.Gender, affiliation string, first, last bool) error {
	author, err := a.resolve(ctx, name)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("resolve author: %w", err)
	}

	if author == nil {
		created := newAuthorRecord(paper, name, gender, affiliation, first, last)
		if err := a.authors.Create(ctx, created); err != nil {
			return fmt.Errorf("create author: %w", err)
		}
		if a.metrics != nil {
			a.metrics.AuthorsCreated.Inc()
		}
		return nil
	}

	if author.HasDOI(paper.DOI) {
		// Already attributed; this pair is a no-op.
		if a.metrics != nil {
			a.metrics.AttributionsDeduplicated.Inc()
		}
		return nil
	}

	updated := author.Clone()
	updated.DOIs = append(updated.DOIs, paper.DOI)
	updated.Citations = append(updated.Citations, paper.CitationCount)
	updated.Papers++
	updated.TotalCitations += paper.CitationCount
	if first {
		updated.PapersAsFirstAuthor++
	}
	if last {
		updated.PapersAsLastAuthor++
	}
	if paper.CitationCount > 0 {
		updated.PapersWithCitations++
	}
	if affiliation != "" && !containsFold(updated.Affiliations, affiliation) {
		updated.Affiliations = append(updated.Affiliations, affiliation)
	}

	// Gender only ever transitions away from unknown. A disagreement between
	// two known genders keeps the stored value and is surfaced as a
	// data-quality warning.
	switch {
	case !updated.Gender.Known() && gender.Known():
		updated.Gender = gender
	case updated.Gender.Known() && gender.Known() && updated.Gender != gender:
		if a.metrics != nil {
			a.metrics.GenderMismatches.Inc()
		}
		authorLogger := observability.WithAuthorContext(a.logger, updated.Name)
		authorLogger.Warn().
			Str("doi", paper.DOI).
			Str("stored", string(updated.Gender)).
			Str("incoming", string(gender)).
			Msg("gender inconsistency, keeping stored value")
	}

	updated.HIndex = HIndex(updated.Citations, updated.PapersWithCitations)

	if err := updated.CheckInvariants(); err != nil {
		return fmt.Errorf("author %q after attribution: %w", updated.Name, err)
	}
	if err := a.authors.Update(ctx, updated); err != nil {
		return fmt.Errorf("update author: %w", err)
	}
	if a.metrics != nil {
		a.metrics.AuthorsUpdated.Inc()
	}
	return nil
}

// RecomputeHIndexes recomputes the h-index of every active author from its
// stored citation list and persists the ones that changed. It returns the
// number of updated records. Used after bulk loads or merges where the
// inline recomputation may have been deferred.
func (a *Aggregator) RecomputeHIndexes(ctx context.Context) (int, error) {
	authors, err := a.authors.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list authors: %w", err)
	}
	updated := 0
	for _, author := range authors {
		h := HIndex(author.Citations, author.PapersWithCitations)
		if h == author.HIndex {
			continue
		}
		next := author.Clone()
		next.HIndex = h
		if err := a.authors.Update(ctx, next); err != nil {
			return updated, fmt.Errorf("update author %q: %w", author.Name, err)
		}
		updated++
	}
	return updated, nil
}

// resolve looks up an author by canonical name, then by alias. Returns
// (nil, ErrNotFound) when the name is unknown under both.
func (a *Aggregator) resolve(ctx context.Context, name string) (*domain.Author, error) {
	author, err := a.authors.FindByName(ctx, name)
	if err == nil {
		return author, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	return a.authors.FindByAlias(ctx, name)
}

// newAuthorRecord builds the initial aggregate record for a first-sighted name.
func newAuthorRecord(paper *domain.Paper, name string, gender domain.Gender, affiliation string, first, last bool) *domain.Author {
	author := &domain.Author{
		Name:           name,
		Gender:         gender,
		Papers:         1,
		TotalCitations: paper.CitationCount,
		DOIs:           []string{paper.DOI},
		Citations:      []int{paper.CitationCount},
	}
	if affiliation != "" {
		author.Affiliations = []string{affiliation}
	}
	if gender == "" {
		author.Gender = domain.GenderUnknown
	}
	if first {
		author.PapersAsFirstAuthor = 1
	}
	if last {
		author.PapersAsLastAuthor = 1
	}
	if paper.CitationCount > 0 {
		author.PapersWithCitations = 1
	}
	author.HIndex = HIndex(author.Citations, author.PapersWithCitations)
	return author
}
