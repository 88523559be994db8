package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/biolitmap/bibliometrics-service/internal/domain"
)

// AuthorRepository handles author record persistence.
//
// Tombstoned records are never authoritative: FindByName and FindByAlias
// only ever return records without the delete flag, so a literal name that
// matches a tombstoned record's alias resolves through to the surviving
// identity.
type AuthorRepository interface {
	// FindByName retrieves the non-tombstoned author with the given
	// canonical name. Returns domain.ErrNotFound if absent.
	FindByName(ctx context.Context, name string) (*domain.Author, error)

	// FindByAlias retrieves the non-tombstoned author whose other_names set
	// contains the given name. Returns domain.ErrNotFound if absent.
	FindByAlias(ctx context.Context, name string) (*domain.Author, error)

	// Create inserts a new author record. Returns domain.ErrAlreadyExists
	// when the canonical name is already taken.
	Create(ctx context.Context, author *domain.Author) error

	// Update replaces the stored aggregate fields of an author by ID in a
	// single atomic write. Returns domain.ErrNotFound if the record does
	// not exist.
	Update(ctx context.Context, author *domain.Author) error

	// ListActive returns all non-tombstoned authors ordered by name.
	ListActive(ctx context.Context) ([]*domain.Author, error)

	// List retrieves authors matching the filter with a total count for
	// pagination.
	List(ctx context.Context, filter AuthorFilter) ([]*domain.Author, int64, error)

	// ApplyMerge performs an author merge inside a single transaction: both
	// rows are locked and re-read, merge computes the surviving and
	// tombstoned records from the fresh rows, and both writes apply or
	// neither does. An error from merge aborts the transaction.
	ApplyMerge(ctx context.Context, keepID, removeID uuid.UUID, merge func(keep, remove *domain.Author) (merged, tombstone *domain.Author, err error)) error
}

// AuthorFilter specifies criteria for listing authors.
type AuthorFilter struct {
	// IncludeDeleted includes tombstoned records when true.
	IncludeDeleted bool

	// Gender filters to authors with a specific gender label (optional).
	Gender *domain.Gender

	// MinPapers filters to authors with at least this many papers (optional).
	MinPapers int

	// Limit specifies maximum number of results (default: 100, max: 1000).
	Limit int

	// Offset specifies the starting position for pagination.
	Offset int
}

// Validate checks the filter and applies pagination defaults.
func (f *AuthorFilter) Validate() error {
	applyPaginationDefaults(&f.Limit, &f.Offset)
	if f.MinPapers < 0 {
		return domain.NewValidationError("min_papers", "must be non-negative")
	}
	return nil
}
