package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/biolitmap/bibliometrics-service/internal/domain"
)

// Compile-time interface verification.
var _ AuthorRepository = (*PgAuthorRepository)(nil)

// uniqueViolation is the PostgreSQL error code for unique constraint violations.
const uniqueViolation = "23505"

// authorColumns is the column list shared by all author queries, in scan order.
const authorColumns = `
	id, name, other_names, gender, papers, total_citations,
	papers_as_first_author, papers_as_last_author, papers_with_citations,
	dois, citations, h_index, affiliations, countries, deleted,
	created_at, updated_at`

// PgAuthorRepository is a PostgreSQL implementation of AuthorRepository.
type PgAuthorRepository struct {
	db DBTX
}

// NewPgAuthorRepository creates a new PostgreSQL author repository.
func NewPgAuthorRepository(db DBTX) *PgAuthorRepository {
	return &PgAuthorRepository{db: db}
}

// FindByName retrieves the non-tombstoned author with the given canonical name.
func (r *PgAuthorRepository) FindByName(ctx context.Context, name string) (*domain.Author, error) {
	if name == "" {
		return nil, domain.NewValidationError("name", "name is required")
	}

	query := `SELECT` + authorColumns + `
		FROM authors
		WHERE name = $1 AND NOT deleted`

	author, err := scanAuthor(r.db.QueryRow(ctx, query, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("author", name)
		}
		return nil, fmt.Errorf("failed to find author by name: %w", err)
	}
	return author, nil
}

// FindByAlias retrieves the non-tombstoned author whose other_names set
// contains the given name. When several records carry the alias the oldest
// one wins, which keeps resolution deterministic.
func (r *PgAuthorRepository) FindByAlias(ctx context.Context, name string) (*domain.Author, error) {
	if name == "" {
		return nil, domain.NewValidationError("name", "name is required")
	}

	query := `SELECT` + authorColumns + `
		FROM authors
		WHERE $1 = ANY(other_names) AND NOT deleted
		ORDER BY created_at
		LIMIT 1`

	author, err := scanAuthor(r.db.QueryRow(ctx, query, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("author", name)
		}
		return nil, fmt.Errorf("failed to find author by alias: %w", err)
	}
	return author, nil
}

// Create inserts a new author record.
func (r *PgAuthorRepository) Create(ctx context.Context, author *domain.Author) error {
	if author == nil {
		return domain.NewValidationError("author", "author cannot be nil")
	}
	if author.Name == "" {
		return domain.NewValidationError("name", "name is required")
	}

	now := time.Now().UTC()
	if author.ID == uuid.Nil {
		author.ID = uuid.New()
	}

	query := `
		INSERT INTO authors (
			id, name, other_names, gender, papers, total_citations,
			papers_as_first_author, papers_as_last_author, papers_with_citations,
			dois, citations, h_index, affiliations, countries, deleted,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
		)`

	_, err := r.db.Exec(ctx, query,
		author.ID,
		author.Name,
		emptyIfNil(author.OtherNames),
		string(author.Gender),
		author.Papers,
		author.TotalCitations,
		author.PapersAsFirstAuthor,
		author.PapersAsLastAuthor,
		author.PapersWithCitations,
		emptyIfNil(author.DOIs),
		emptyIntsIfNil(author.Citations),
		author.HIndex,
		emptyIfNil(author.Affiliations),
		emptyIfNil(author.Countries),
		author.Deleted,
		now,
		now,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("author %q: %w", author.Name, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create author: %w", err)
	}

	author.CreatedAt = now
	author.UpdatedAt = now
	return nil
}

// Update replaces the stored aggregate fields of an author by ID.
func (r *PgAuthorRepository) Update(ctx context.Context, author *domain.Author) error {
	if author == nil {
		return domain.NewValidationError("author", "author cannot be nil")
	}
	if author.ID == uuid.Nil {
		return domain.NewValidationError("id", "id is required")
	}

	tag, err := r.db.Exec(ctx, updateAuthorQuery, updateAuthorArgs(author)...)
	if err != nil {
		return fmt.Errorf("failed to update author: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("author", author.ID.String())
	}
	return nil
}

// updateAuthorQuery writes every aggregate field in one statement so a
// read-compute-write cycle is a single atomic write.
const updateAuthorQuery = `
	UPDATE authors SET
		name = $2,
		other_names = $3,
		gender = $4,
		papers = $5,
		total_citations = $6,
		papers_as_first_author = $7,
		papers_as_last_author = $8,
		papers_with_citations = $9,
		dois = $10,
		citations = $11,
		h_index = $12,
		affiliations = $13,
		countries = $14,
		deleted = $15,
		updated_at = NOW()
	WHERE id = $1`

func updateAuthorArgs(author *domain.Author) []interface{} {
	return []interface{}{
		author.ID,
		author.Name,
		emptyIfNil(author.OtherNames),
		string(author.Gender),
		author.Papers,
		author.TotalCitations,
		author.PapersAsFirstAuthor,
		author.PapersAsLastAuthor,
		author.PapersWithCitations,
		emptyIfNil(author.DOIs),
		emptyIntsIfNil(author.Citations),
		author.HIndex,
		emptyIfNil(author.Affiliations),
		emptyIfNil(author.Countries),
		author.Deleted,
	}
}

// ListActive returns all non-tombstoned authors ordered by name.
func (r *PgAuthorRepository) ListActive(ctx context.Context) ([]*domain.Author, error) {
	query := `SELECT` + authorColumns + `
		FROM authors
		WHERE NOT deleted
		ORDER BY name`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list authors: %w", err)
	}
	defer rows.Close()

	return collectAuthors(rows)
}

// List retrieves authors matching the filter with a total count.
func (r *PgAuthorRepository) List(ctx context.Context, filter AuthorFilter) ([]*domain.Author, int64, error) {
	if err := filter.Validate(); err != nil {
		return nil, 0, err
	}

	where := "TRUE"
	args := []interface{}{}
	if !filter.IncludeDeleted {
		where += " AND NOT deleted"
	}
	if filter.Gender != nil {
		args = append(args, string(*filter.Gender))
		where += fmt.Sprintf(" AND gender = $%d", len(args))
	}
	if filter.MinPapers > 0 {
		args = append(args, filter.MinPapers)
		where += fmt.Sprintf(" AND papers >= $%d", len(args))
	}

	var total int64
	countQuery := `SELECT COUNT(*) FROM authors WHERE ` + where
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count authors: %w", err)
	}

	args = append(args, filter.Limit, filter.Offset)
	listQuery := `SELECT` + authorColumns + `
		FROM authors WHERE ` + where +
		fmt.Sprintf(" ORDER BY name LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.Query(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list authors: %w", err)
	}
	defer rows.Close()

	authors, err := collectAuthors(rows)
	if err != nil {
		return nil, 0, err
	}
	return authors, total, nil
}

// ApplyMerge performs an author merge inside one transaction. Both rows are
// locked and re-read before merge runs, so the merged record is always
// computed from current state and no concurrent attribution can slip between
// the read and the tombstoning write. Locking in id order keeps concurrent
// merges over the same pair from deadlocking.
func (r *PgAuthorRepository) ApplyMerge(ctx context.Context, keepID, removeID uuid.UUID, merge func(keep, remove *domain.Author) (*domain.Author, *domain.Author, error)) error {
	if keepID == uuid.Nil || removeID == uuid.Nil {
		return domain.NewValidationError("merge", "both record ids are required")
	}
	if merge == nil {
		return domain.NewValidationError("merge", "merge function is required")
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin merge transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	lockQuery := `SELECT` + authorColumns + `
		FROM authors
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE`

	rows, err := tx.Query(ctx, lockQuery, []uuid.UUID{keepID, removeID})
	if err != nil {
		return fmt.Errorf("failed to lock author rows: %w", err)
	}
	defer rows.Close()

	locked, err := collectAuthors(rows)
	if err != nil {
		return fmt.Errorf("failed to read locked author rows: %w", err)
	}
	if len(locked) != 2 {
		return domain.NewNotFoundError("author", "merge participant")
	}

	keep, remove := locked[0], locked[1]
	if keep.ID != keepID {
		keep, remove = remove, keep
	}

	merged, tombstone, err := merge(keep, remove)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, updateAuthorQuery, updateAuthorArgs(merged)...); err != nil {
		return fmt.Errorf("failed to update surviving author: %w", err)
	}
	if _, err := tx.Exec(ctx, updateAuthorQuery, updateAuthorArgs(tombstone)...); err != nil {
		return fmt.Errorf("failed to tombstone removed author: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit merge: %w", err)
	}
	return nil
}

// scanAuthor scans a single author row.
func scanAuthor(row pgx.Row) (*domain.Author, error) {
	var a domain.Author
	var gender string
	err := row.Scan(
		&a.ID,
		&a.Name,
		&a.OtherNames,
		&gender,
		&a.Papers,
		&a.TotalCitations,
		&a.PapersAsFirstAuthor,
		&a.PapersAsLastAuthor,
		&a.PapersWithCitations,
		&a.DOIs,
		&a.Citations,
		&a.HIndex,
		&a.Affiliations,
		&a.Countries,
		&a.Deleted,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Gender = domain.ParseGender(gender)
	return &a, nil
}

// collectAuthors drains rows into author records.
func collectAuthors(rows pgx.Rows) ([]*domain.Author, error) {
	var authors []*domain.Author
	for rows.Next() {
		author, err := scanAuthor(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan author: %w", err)
		}
		authors = append(authors, author)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate authors: %w", err)
	}
	return authors, nil
}

// emptyIfNil maps a nil string slice to an empty one so array columns stay
// NOT NULL.
func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// emptyIntsIfNil maps a nil int slice to an empty one.
func emptyIntsIfNil(s []int) []int {
	if s == nil {
		return []int{}
	}
	return s
}
