package repository

import (
	"context"

	"github.com/biolitmap/bibliometrics-service/internal/domain"
)

// PaperRepository handles paper record persistence.
type PaperRepository interface {
	// Upsert inserts a paper or updates an existing one matched by DOI.
	// Citation counts only ever move upward; authors and genders are
	// replaced when the incoming record carries them. Returns the stored
	// paper with its assigned ID and timestamps.
	Upsert(ctx context.Context, paper *domain.Paper) (*domain.Paper, error)

	// GetByDOI retrieves a paper by its external identifier.
	// Returns domain.ErrNotFound if no matching paper exists.
	GetByDOI(ctx context.Context, doi string) (*domain.Paper, error)

	// Update replaces the mutable fields of a paper by ID (author lists,
	// citation count, tombstone flag). Returns domain.ErrNotFound if the
	// record does not exist.
	Update(ctx context.Context, paper *domain.Paper) error

	// ListWithAuthors returns non-tombstoned papers whose author list has
	// been populated, ordered by creation time, paged by limit/offset.
	ListWithAuthors(ctx context.Context, limit, offset int) ([]*domain.Paper, error)

	// ListMissingGenders returns non-tombstoned papers that have authors but
	// no gender list yet, ordered by creation time, paged by limit/offset.
	// Used by the gender enrichment phase.
	ListMissingGenders(ctx context.Context, limit, offset int) ([]*domain.Paper, error)
}
