package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/biolitmap/bibliometrics-service/internal/domain"
)

// Compile-time interface verification.
var _ PaperRepository = (*PgPaperRepository)(nil)

// paperColumns is the column list shared by all paper queries, in scan order.
const paperColumns = `
	id, doi, title, year, venue, citation_count,
	authors, author_genders, affiliations, deleted, created_at, updated_at`

// PgPaperRepository is a PostgreSQL implementation of PaperRepository.
type PgPaperRepository struct {
	db DBTX
}

// NewPgPaperRepository creates a new PostgreSQL paper repository.
func NewPgPaperRepository(db DBTX) *PgPaperRepository {
	return &PgPaperRepository{db: db}
}

// Upsert inserts a paper or updates an existing one matched by DOI.
func (r *PgPaperRepository) Upsert(ctx context.Context, paper *domain.Paper) (*domain.Paper, error) {
	if paper == nil {
		return nil, domain.NewValidationError("paper", "paper cannot be nil")
	}
	if paper.DOI == "" {
		return nil, domain.NewValidationError("doi", "doi is required")
	}

	now := time.Now().UTC()
	if paper.ID == uuid.Nil {
		paper.ID = uuid.New()
	}

	query := `
		INSERT INTO papers (
			id, doi, title, year, venue, citation_count,
			authors, author_genders, affiliations, deleted, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
		ON CONFLICT (doi) DO UPDATE SET
			title = COALESCE(NULLIF(EXCLUDED.title, ''), papers.title),
			year = CASE WHEN EXCLUDED.year > 0 THEN EXCLUDED.year ELSE papers.year END,
			venue = COALESCE(NULLIF(EXCLUDED.venue, ''), papers.venue),
			citation_count = GREATEST(EXCLUDED.citation_count, papers.citation_count),
			authors = CASE WHEN cardinality(EXCLUDED.authors) > 0 THEN EXCLUDED.authors ELSE papers.authors END,
			author_genders = CASE WHEN cardinality(EXCLUDED.author_genders) > 0 THEN EXCLUDED.author_genders ELSE papers.author_genders END,
			affiliations = CASE WHEN cardinality(EXCLUDED.affiliations) > 0 THEN EXCLUDED.affiliations ELSE papers.affiliations END,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		paper.ID,
		paper.DOI,
		paper.Title,
		paper.Year,
		paper.Venue,
		paper.CitationCount,
		emptyIfNil(paper.Authors),
		gendersToStrings(paper.AuthorGenders),
		emptyIfNil(paper.Affiliations),
		paper.Deleted,
		now,
		now,
	).Scan(&paper.ID, &paper.CreatedAt, &paper.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert paper: %w", err)
	}
	return paper, nil
}

// GetByDOI retrieves a paper by its external identifier.
func (r *PgPaperRepository) GetByDOI(ctx context.Context, doi string) (*domain.Paper, error) {
	if doi == "" {
		return nil, domain.NewValidationError("doi", "doi is required")
	}

	query := `SELECT` + paperColumns + `
		FROM papers
		WHERE doi = $1`

	paper, err := scanPaper(r.db.QueryRow(ctx, query, doi))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("paper", doi)
		}
		return nil, fmt.Errorf("failed to get paper: %w", err)
	}
	return paper, nil
}

// Update replaces the mutable fields of a paper by ID.
func (r *PgPaperRepository) Update(ctx context.Context, paper *domain.Paper) error {
	if paper == nil {
		return domain.NewValidationError("paper", "paper cannot be nil")
	}
	if paper.ID == uuid.Nil {
		return domain.NewValidationError("id", "id is required")
	}

	query := `
		UPDATE papers SET
			title = $2,
			year = $3,
			venue = $4,
			citation_count = $5,
			authors = $6,
			author_genders = $7,
			affiliations = $8,
			deleted = $9,
			updated_at = NOW()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		paper.ID,
		paper.Title,
		paper.Year,
		paper.Venue,
		paper.CitationCount,
		emptyIfNil(paper.Authors),
		gendersToStrings(paper.AuthorGenders),
		emptyIfNil(paper.Affiliations),
		paper.Deleted,
	)
	if err != nil {
		return fmt.Errorf("failed to update paper: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("paper", paper.ID.String())
	}
	return nil
}

// ListWithAuthors returns non-tombstoned papers with a populated author list.
func (r *PgPaperRepository) ListWithAuthors(ctx context.Context, limit, offset int) ([]*domain.Paper, error) {
	applyPaginationDefaults(&limit, &offset)

	query := `SELECT` + paperColumns + `
		FROM papers
		WHERE NOT deleted AND cardinality(authors) > 0
		ORDER BY created_at, doi
		LIMIT $1 OFFSET $2`

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list papers: %w", err)
	}
	defer rows.Close()

	return collectPapers(rows)
}

// ListMissingGenders returns non-tombstoned papers with authors but no
// gender list yet.
func (r *PgPaperRepository) ListMissingGenders(ctx context.Context, limit, offset int) ([]*domain.Paper, error) {
	applyPaginationDefaults(&limit, &offset)

	query := `SELECT` + paperColumns + `
		FROM papers
		WHERE NOT deleted
		  AND cardinality(authors) > 0
		  AND cardinality(author_genders) = 0
		ORDER BY created_at, doi
		LIMIT $1 OFFSET $2`

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list papers: %w", err)
	}
	defer rows.Close()

	return collectPapers(rows)
}

// scanPaper scans a single paper row.
func scanPaper(row pgx.Row) (*domain.Paper, error) {
	var p domain.Paper
	var genders []string
	err := row.Scan(
		&p.ID,
		&p.DOI,
		&p.Title,
		&p.Year,
		&p.Venue,
		&p.CitationCount,
		&p.Authors,
		&genders,
		&p.Affiliations,
		&p.Deleted,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.AuthorGenders = stringsToGenders(genders)
	return &p, nil
}

// collectPapers drains rows into paper records.
func collectPapers(rows pgx.Rows) ([]*domain.Paper, error) {
	var papers []*domain.Paper
	for rows.Next() {
		paper, err := scanPaper(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan paper: %w", err)
		}
		papers = append(papers, paper)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate papers: %w", err)
	}
	return papers, nil
}

// gendersToStrings converts a gender list for storage in a text[] column.
func gendersToStrings(genders []domain.Gender) []string {
	out := make([]string, len(genders))
	for i, g := range genders {
		out[i] = string(domain.ParseGender(string(g)))
	}
	return out
}

// stringsToGenders converts a stored text[] column back to gender labels.
func stringsToGenders(values []string) []domain.Gender {
	if len(values) == 0 {
		return nil
	}
	out := make([]domain.Gender, len(values))
	for i, v := range values {
		out[i] = domain.ParseGender(v)
	}
	return out
}
