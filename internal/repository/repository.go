// Package repository provides data access interfaces and PostgreSQL
// implementations for the bibliometrics service.
//
// # Overview
//
// The package defines one repository interface per entity and implements
// them over pgx. Repositories abstract the document store from the
// aggregation and identity-resolution logic, which consumes them through
// the narrow store interfaces declared in the bibliometrics package.
//
// # Thread Safety
//
// All repository implementations are safe for concurrent use by multiple
// goroutines. The underlying pgxpool handles connection pooling and
// synchronization; per-author read-modify-write cycles are serialized by
// the callers (the batch pipeline is single-threaded per record) and the
// merge path takes row locks on both records.
//
// # Error Handling
//
// All methods return domain-specific errors from the domain package,
// wrapping database errors with fmt.Errorf and the %w verb. Common errors:
//
//   - domain.ErrNotFound: record does not exist
//   - domain.ErrAlreadyExists: unique constraint violation
//   - domain.ErrInvalidInput: invalid parameters provided
package repository

import (
	"github.com/biolitmap/bibliometrics-service/internal/database"
)

// DBTX is the database interface supporting both pool and transaction
// contexts. Repositories accept it in their constructors so the same
// implementation works against a pool or inside a transaction.
type DBTX = database.DBTX

// Filter pagination defaults and limits.
const (
	defaultFilterLimit = 100
	maxFilterLimit     = 1000
)

// applyPaginationDefaults normalizes limit and offset values for filter
// queries. It clamps limit to [1, maxFilterLimit] and ensures offset >= 0.
func applyPaginationDefaults(limit, offset *int) {
	if *limit <= 0 {
		*limit = defaultFilterLimit
	}
	if *limit > maxFilterLimit {
		*limit = maxFilterLimit
	}
	if *offset < 0 {
		*offset = 0
	}
}
