// Package gender infers author gender from first names using an external
// inference API. Lookups that fail or come back inconclusive map to the
// unknown gender and are never persisted as a definitive value.
package gender

import (
	"context"

	"github.com/biolitmap/bibliometrics-service/internal/domain"
)

// Result is the outcome of a gender lookup.
type Result struct {
	// Gender is the inferred gender, unknown when the lookup was
	// inconclusive.
	Gender domain.Gender
	// Confidence is the provider's probability for the inferred gender,
	// between 0 and 1. Zero when unknown.
	Confidence float64
	// Failed reports that the lookup did not produce a usable answer.
	Failed bool
	// Reason describes why the lookup failed or was inconclusive.
	Reason string
}

// Provider infers the gender of an author from their full name.
type Provider interface {
	// Infer looks up the gender for the given full author name. It returns
	// an error only for transport or provider failures; an inconclusive
	// lookup returns a Result with Gender unknown and Failed set.
	Infer(ctx context.Context, fullName string) (Result, error)
}
