package server

import (
	"time"

	"github.com/biolitmap/bibliometrics-service/internal/domain"
)

// authorResponse is the JSON representation of an author record.
type authorResponse struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	OtherNames          []string  `json:"other_names,omitempty"`
	Gender              string    `json:"gender"`
	Papers              int       `json:"papers"`
	TotalCitations      int       `json:"total_citations"`
	PapersAsFirstAuthor int       `json:"papers_as_first_author"`
	PapersAsLastAuthor  int       `json:"papers_as_last_author"`
	PapersWithCitations int       `json:"papers_with_citations"`
	HIndex              int       `json:"h_index"`
	DOIs                []string  `json:"dois,omitempty"`
	Affiliations        []string  `json:"affiliations,omitempty"`
	Countries           []string  `json:"countries,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// listAuthorsResponse is the JSON response for the author listing endpoint.
type listAuthorsResponse struct {
	Authors       []authorResponse `json:"authors"`
	NextPageToken string           `json:"next_page_token,omitempty"`
	TotalCount    int              `json:"total_count"`
}

// candidateResponse is the JSON representation of a duplicate candidate pair.
type candidateResponse struct {
	NameA          string  `json:"name_a"`
	NameB          string  `json:"name_b"`
	FirstNameScore float64 `json:"first_name_score"`
	LastNameScore  float64 `json:"last_name_score"`
	Score          float64 `json:"score"`
}

// listCandidatesResponse is the JSON response for the duplicates endpoint.
type listCandidatesResponse struct {
	Candidates []candidateResponse `json:"candidates"`
	TotalCount int                 `json:"total_count"`
}

// mergeResponse is the JSON response for a completed merge.
type mergeResponse struct {
	Merged  authorResponse `json:"merged"`
	Message string         `json:"message"`
}

// domainAuthorToResponse converts a domain author to its API representation.
func domainAuthorToResponse(a *domain.Author) authorResponse {
	return authorResponse{
		ID:                  a.ID.String(),
		Name:                a.Name,
		OtherNames:          a.OtherNames,
		Gender:              string(a.Gender),
		Papers:              a.Papers,
		TotalCitations:      a.TotalCitations,
		PapersAsFirstAuthor: a.PapersAsFirstAuthor,
		PapersAsLastAuthor:  a.PapersAsLastAuthor,
		PapersWithCitations: a.PapersWithCitations,
		HIndex:              a.HIndex,
		DOIs:                a.DOIs,
		Affiliations:        a.Affiliations,
		Countries:           a.Countries,
		CreatedAt:           a.CreatedAt,
		UpdatedAt:           a.UpdatedAt,
	}
}
