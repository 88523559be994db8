// Package domain provides domain models and business logic for the
// bibliometrics service.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Gender is the inferred gender label attached to an author.
// These values must match the database enum author_gender.
type Gender string

const (
	GenderMale    Gender = "male"
	GenderFemale  Gender = "female"
	GenderUnknown Gender = "unknown"
)

// ParseGender maps a raw provider label to a Gender. Anything that is not a
// recognized label (including provider error sentinels and empty strings)
// maps to GenderUnknown, so an error value can never be persisted.
func ParseGender(raw string) Gender {
	switch Gender(raw) {
	case GenderMale, GenderFemale:
		return Gender(raw)
	default:
		return GenderUnknown
	}
}

// Known returns true if the gender carries information, i.e. is not unknown.
func (g Gender) Known() bool {
	return g == GenderMale || g == GenderFemale
}

// Paper represents one publication in the bibliographic dataset.
//
// Authors, AuthorGenders and Affiliations are parallel slices: position i
// refers to the same person in all three. Genders and affiliations are
// populated by enrichment passes, possibly long after the paper record is
// created, so they may be empty.
type Paper struct {
	ID            uuid.UUID
	DOI           string
	Title         string
	Year          int
	Venue         string
	CitationCount int
	Authors       []string
	AuthorGenders []Gender
	Affiliations  []string
	Deleted       bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasAuthors returns true if the enrichment pass has populated the author list.
func (p *Paper) HasAuthors() bool {
	return len(p.Authors) > 0
}

// ValidateAuthorLists checks the parallel-slices invariant between Authors
// and AuthorGenders. Papers failing this check are skipped by attribution.
func (p *Paper) ValidateAuthorLists() error {
	if len(p.Authors) == 0 {
		return NewValidationError("authors", "author list is empty")
	}
	if len(p.AuthorGenders) != 0 && len(p.AuthorGenders) != len(p.Authors) {
		return NewValidationError("authors_gender", "gender list length does not match author list length")
	}
	if len(p.Affiliations) != 0 && len(p.Affiliations) != len(p.Authors) {
		return NewValidationError("affiliations", "affiliation list length does not match author list length")
	}
	return nil
}

// GenderAt returns the gender recorded for the author at position i, or
// GenderUnknown when the gender list is absent or short.
func (p *Paper) GenderAt(i int) Gender {
	if i < 0 || i >= len(p.AuthorGenders) {
		return GenderUnknown
	}
	if p.AuthorGenders[i] == "" {
		return GenderUnknown
	}
	return p.AuthorGenders[i]
}

// AffiliationAt returns the affiliation recorded for the author at position
// i, or the empty string when the affiliation list is absent or short.
func (p *Paper) AffiliationAt(i int) string {
	if i < 0 || i >= len(p.Affiliations) {
		return ""
	}
	return p.Affiliations[i]
}

// Author represents one putative real-world person, identified primarily by a
// canonical name string and subject to later merging.
//
// DOIs and Citations are parallel slices: Citations[i] is the citation count
// recorded for DOIs[i] at attribution time. DOIs contains no duplicates; this
// is the idempotence guard against double-attribution of the same paper.
type Author struct {
	ID                  uuid.UUID
	Name                string
	OtherNames          []string
	Gender              Gender
	Papers              int
	TotalCitations      int
	PapersAsFirstAuthor int
	PapersAsLastAuthor  int
	PapersWithCitations int
	DOIs                []string
	Citations           []int
	HIndex              int
	Affiliations        []string
	Countries           []string
	Deleted             bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// HasDOI returns true if the given paper identifier is already attributed to
// this author.
func (a *Author) HasDOI(doi string) bool {
	for _, d := range a.DOIs {
		if d == doi {
			return true
		}
	}
	return false
}

// HasAlias returns true if name is already recorded in OtherNames.
func (a *Author) HasAlias(name string) bool {
	for _, n := range a.OtherNames {
		if n == name {
			return true
		}
	}
	return false
}

// CheckInvariants verifies the aggregate invariants that every author record
// must satisfy after any attribution or merge:
//
//	len(DOIs) == len(Citations) == Papers
//	DOIs contains no duplicates
//	TotalCitations == sum(Citations)
//	PapersWithCitations == count(c > 0 for c in Citations)
//
// It returns a ValidationError naming the first violated invariant.
func (a *Author) CheckInvariants() error {
	if len(a.DOIs) != len(a.Citations) {
		return NewValidationError("citations", "dois and citations lists have different lengths")
	}
	if len(a.DOIs) != a.Papers {
		return NewValidationError("papers", "paper count does not match dois list length")
	}
	seen := make(map[string]struct{}, len(a.DOIs))
	for _, d := range a.DOIs {
		if _, dup := seen[d]; dup {
			return NewValidationError("dois", "duplicate doi: "+d)
		}
		seen[d] = struct{}{}
	}
	total := 0
	withCitations := 0
	for _, c := range a.Citations {
		total += c
		if c > 0 {
			withCitations++
		}
	}
	if total != a.TotalCitations {
		return NewValidationError("total_citations", "total citations does not match sum of citations list")
	}
	if withCitations != a.PapersWithCitations {
		return NewValidationError("papers_with_citations", "cited-paper count does not match citations list")
	}
	return nil
}

// Clone returns a deep copy of the author. Attribution and merge operate on
// copies so a failed store write never leaves a half-mutated record behind.
func (a *Author) Clone() *Author {
	c := *a
	c.OtherNames = append([]string(nil), a.OtherNames...)
	c.DOIs = append([]string(nil), a.DOIs...)
	c.Citations = append([]int(nil), a.Citations...)
	c.Affiliations = append([]string(nil), a.Affiliations...)
	c.Countries = append([]string(nil), a.Countries...)
	return &c
}
