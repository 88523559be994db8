// Package ingest loads tab-separated publication exports into the paper
// store.
package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/biolitmap/bibliometrics-service/internal/domain"
	"github.com/biolitmap/bibliometrics-service/internal/observability"
	"github.com/biolitmap/bibliometrics-service/internal/repository"
)

// Column headers recognized in the dataset. The export uses the Scopus
// summary naming.
const (
	colDOI       = "DOI"
	colTitle     = "Title"
	colYear      = "Year"
	colVenue     = "Source title"
	colCitations = "Cited by"
	colAuthors   = "Authors"
	colGenders   = "Author genders"
	colAffil     = "Affiliations"
)

// authorSeparator splits multi-valued author and gender columns.
const authorSeparator = ";"

// Summary reports the outcome of a load run.
type Summary struct {
	// Loaded is the number of papers upserted.
	Loaded int
	// Skipped is the number of rows rejected as malformed.
	Skipped int
}

// Loader reads a TSV dataset and upserts papers by DOI.
type Loader struct {
	papers  repository.PaperRepository
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewLoader creates a loader. metrics may be nil.
func NewLoader(papers repository.PaperRepository, logger zerolog.Logger, metrics *observability.Metrics) *Loader {
	return &Loader{
		papers:  papers,
		logger:  logger.With().Str("component", "ingest").Logger(),
		metrics: metrics,
	}
}

// LoadFile opens the given TSV file and loads all rows.
func (l *Loader) LoadFile(ctx context.Context, path string) (Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return Summary{}, fmt.Errorf("opening dataset: %w", err)
	}
	defer f.Close()

	return l.Load(ctx, f)
}

// Load reads TSV rows from r and upserts one paper per row. Malformed rows
// are logged and skipped; the load continues.
func (l *Loader) Load(ctx context.Context, r io.Reader) (Summary, error) {
	reader := csv.NewReader(r)
	reader.Comma = '\t'
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return Summary{}, fmt.Errorf("reading header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}
	for _, required := range []string{colDOI, colTitle} {
		if _, ok := cols[required]; !ok {
			return Summary{}, fmt.Errorf("%w: dataset missing column %q", domain.ErrInvalidInput, required)
		}
	}

	var summary Summary
	line := 1
	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			l.logger.Warn().Err(err).Int("line", line).Msg("skipping malformed row")
			summary.Skipped++
			continue
		}

		paper, err := parseRow(cols, row)
		if err != nil {
			l.logger.Warn().Err(err).Int("line", line).Msg("skipping invalid paper")
			summary.Skipped++
			continue
		}

		if _, err := l.papers.Upsert(ctx, paper); err != nil {
			return summary, fmt.Errorf("upserting paper %s: %w", paper.DOI, err)
		}
		summary.Loaded++
		if l.metrics != nil {
			l.metrics.PapersLoaded.Inc()
		}
	}

	l.logger.Info().
		Int("loaded", summary.Loaded).
		Int("skipped", summary.Skipped).
		Msg("dataset load finished")

	return summary, nil
}

// parseRow converts one TSV row into a paper record.
func parseRow(cols map[string]int, row []string) (*domain.Paper, error) {
	field := func(name string) string {
		idx, ok := cols[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	doi := strings.ToLower(field(colDOI))
	if doi == "" {
		return nil, fmt.Errorf("%w: missing DOI", domain.ErrInvalidInput)
	}
	title := field(colTitle)
	if title == "" {
		return nil, fmt.Errorf("%w: missing title", domain.ErrInvalidInput)
	}

	paper := &domain.Paper{
		DOI:   doi,
		Title: title,
		Venue: field(colVenue),
	}

	if raw := field(colYear); raw != "" {
		year, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: bad year %q", domain.ErrInvalidInput, raw)
		}
		paper.Year = year
	}

	if raw := field(colCitations); raw != "" {
		citations, err := strconv.Atoi(raw)
		if err != nil || citations < 0 {
			return nil, fmt.Errorf("%w: bad citation count %q", domain.ErrInvalidInput, raw)
		}
		paper.CitationCount = citations
	}

	paper.Authors = splitList(field(colAuthors))

	if raw := field(colAffil); raw != "" {
		affiliations := splitList(raw)
		if len(affiliations) != len(paper.Authors) {
			return nil, fmt.Errorf("%w: %d affiliations for %d authors",
				domain.ErrInvalidInput, len(affiliations), len(paper.Authors))
		}
		paper.Affiliations = affiliations
	}

	if raw := field(colGenders); raw != "" {
		labels := splitList(raw)
		if len(labels) != len(paper.Authors) {
			return nil, fmt.Errorf("%w: %d gender labels for %d authors",
				domain.ErrInvalidInput, len(labels), len(paper.Authors))
		}
		paper.AuthorGenders = make([]domain.Gender, len(labels))
		for i, label := range labels {
			paper.AuthorGenders[i] = domain.ParseGender(strings.ToLower(label))
		}
	}

	return paper, nil
}

// splitList splits a semicolon-separated column, dropping empty entries.
func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, authorSeparator)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
