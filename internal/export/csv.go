// Package export writes author bibliometrics to CSV files.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/biolitmap/bibliometrics-service/internal/bibliometrics"
	"github.com/biolitmap/bibliometrics-service/internal/domain"
)

// countrySeparator joins multi-valued country cells, matching the format the
// downstream analysis notebooks expect.
const countrySeparator = "-"

// authorHeader is the column layout of the author export.
var authorHeader = []string{
	"id", "name", "gender", "papers", "citations",
	"papers_as_first_author", "papers_as_last_author", "h_index", "countries",
}

// candidateHeader is the column layout of the duplicate candidate export.
var candidateHeader = []string{
	"name_a", "name_b", "first_name_score", "last_name_score", "score",
}

// Exporter writes active author records and duplicate candidates to CSV.
type Exporter struct {
	logger zerolog.Logger
}

// NewExporter creates an exporter.
func NewExporter(logger zerolog.Logger) *Exporter {
	return &Exporter{
		logger: logger.With().Str("component", "export").Logger(),
	}
}

// WriteAuthorsFile writes the author export to the given path, creating or
// truncating the file.
func (e *Exporter) WriteAuthorsFile(ctx context.Context, path string, authors []*domain.Author) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating export file: %w", err)
	}
	defer f.Close()

	if err := e.WriteAuthors(ctx, f, authors); err != nil {
		return err
	}
	return f.Close()
}

// WriteAuthors writes one row per author. Row ids are sequential, matching
// the order of the input.
func (e *Exporter) WriteAuthors(ctx context.Context, w io.Writer, authors []*domain.Author) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(authorHeader); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for i, author := range authors {
		if err := ctx.Err(); err != nil {
			return err
		}
		row := []string{
			strconv.Itoa(i + 1),
			author.Name,
			string(author.Gender),
			strconv.Itoa(author.Papers),
			strconv.Itoa(author.TotalCitations),
			strconv.Itoa(author.PapersAsFirstAuthor),
			strconv.Itoa(author.PapersAsLastAuthor),
			strconv.Itoa(author.HIndex),
			strings.Join(author.Countries, countrySeparator),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("writing author %s: %w", author.Name, err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flushing export: %w", err)
	}

	e.logger.Info().Int("authors", len(authors)).Msg("author export written")
	return nil
}

// WriteCandidatesFile writes the duplicate candidate export to the given
// path.
func (e *Exporter) WriteCandidatesFile(ctx context.Context, path string, candidates []bibliometrics.Candidate) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating export file: %w", err)
	}
	defer f.Close()

	if err := e.WriteCandidates(ctx, f, candidates); err != nil {
		return err
	}
	return f.Close()
}

// WriteCandidates writes one row per duplicate candidate pair.
func (e *Exporter) WriteCandidates(ctx context.Context, w io.Writer, candidates []bibliometrics.Candidate) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(candidateHeader); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		row := []string{
			c.A.Name,
			c.B.Name,
			formatScore(c.FirstScore),
			formatScore(c.LastScore),
			formatScore(c.Score()),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("writing candidate pair: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flushing export: %w", err)
	}

	e.logger.Info().Int("candidates", len(candidates)).Msg("candidate export written")
	return nil
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', 4, 64)
}
