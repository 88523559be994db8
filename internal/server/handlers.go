package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/biolitmap/bibliometrics-service/internal/domain"
	"github.com/biolitmap/bibliometrics-service/internal/names"
	"github.com/biolitmap/bibliometrics-service/internal/repository"
)

// Pagination and validation constants.
const (
	defaultPageSize    = 50
	maxPageSize        = 200
	maxRequestBodySize = 1 << 20 // 1 MB limit for request bodies
)

// mergeRequest is the JSON request body for merging two author records.
type mergeRequest struct {
	Keep   string `json:"keep" validate:"required"`
	Remove string `json:"remove" validate:"required,nefield=Keep"`
}

// listAuthors handles GET /api/v1/authors.
func (s *Server) listAuthors(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, offset := parsePaginationParams(r)

	filter := repository.AuthorFilter{
		Limit:  limit,
		Offset: offset,
	}

	if genderParam := r.URL.Query().Get("gender"); genderParam != "" {
		g := domain.ParseGender(genderParam)
		if !g.Known() && genderParam != string(domain.GenderUnknown) {
			writeError(w, http.StatusBadRequest, "gender must be one of male, female, unknown")
			return
		}
		filter.Gender = &g
	}
	if minPapersParam := r.URL.Query().Get("min_papers"); minPapersParam != "" {
		minPapers, err := strconv.Atoi(minPapersParam)
		if err != nil || minPapers < 0 {
			writeError(w, http.StatusBadRequest, "min_papers must be a non-negative integer")
			return
		}
		filter.MinPapers = minPapers
	}

	authors, totalCount, err := s.authors.List(ctx, filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	summaries := make([]authorResponse, len(authors))
	for i, a := range authors {
		summaries[i] = domainAuthorToResponse(a)
	}

	writeJSON(w, http.StatusOK, listAuthorsResponse{
		Authors:       summaries,
		NextPageToken: encodePageToken(offset, limit, int(totalCount)),
		TotalCount:    int(totalCount),
	})
}

// getAuthor handles GET /api/v1/authors/{name}. The name is matched after
// normalization, falling back to alias lookup so merged-away spellings still
// resolve to the surviving record.
func (s *Server) getAuthor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	raw, err := url.PathUnescape(chi.URLParam(r, "name"))
	if err != nil || raw == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	name := names.Normalize(raw)

	author, err := s.authors.FindByName(ctx, name)
	if errors.Is(err, domain.ErrNotFound) {
		author, err = s.authors.FindByAlias(ctx, name)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, domainAuthorToResponse(author))
}

// listDuplicates handles GET /api/v1/duplicates. The scan is synchronous, so
// the endpoint is for moderate corpus sizes; bulk runs go through the
// pipeline's dedup phase instead.
func (s *Server) listDuplicates(w http.ResponseWriter, r *http.Request) {
	candidates, err := s.resolver.FindDuplicateCandidates(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	out := make([]candidateResponse, len(candidates))
	for i, c := range candidates {
		out[i] = candidateResponse{
			NameA:          c.A.Name,
			NameB:          c.B.Name,
			FirstNameScore: c.FirstScore,
			LastNameScore:  c.LastScore,
			Score:          c.Score(),
		}
	}

	writeJSON(w, http.StatusOK, listCandidatesResponse{
		Candidates: out,
		TotalCount: len(out),
	})
}

// createMerge handles POST /api/v1/merges. It applies a reviewed duplicate
// decision: the remove record's bibliography is folded into keep and remove
// is tombstoned.
func (s *Server) createMerge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req mergeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			field := verrs[0]
			if field.Tag() == "nefield" {
				writeError(w, http.StatusBadRequest, "keep and remove must name different authors")
				return
			}
			writeError(w, http.StatusBadRequest, field.Field()+" is required")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	merged, err := s.resolver.MergeNames(ctx, req.Keep, req.Remove)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.logger.Info().
		Str("keep", merged.Name).
		Str("remove", req.Remove).
		Msg("authors merged")

	writeJSON(w, http.StatusOK, mergeResponse{
		Merged:  domainAuthorToResponse(merged),
		Message: "authors merged",
	})
}

// writeDomainError maps domain errors to HTTP status codes without leaking
// internal details.
func writeDomainError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, domain.ErrSelfMerge) || errors.Is(err, domain.ErrTombstoned):
		var me *domain.MergeError
		if errors.As(err, &me) {
			writeError(w, http.StatusConflict, me.Error())
			return
		}
		writeError(w, http.StatusConflict, "merge rejected")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, domain.ErrInvalidInput):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "invalid input")
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "resource already exists")
	case errors.Is(err, domain.ErrServiceUnavailable):
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// parsePaginationParams extracts page_size and page_token from query
// parameters, bounding the page size.
func parsePaginationParams(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if pageSizeStr := r.URL.Query().Get("page_size"); pageSizeStr != "" {
		if parsed, err := strconv.Atoi(pageSizeStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	if pageToken := r.URL.Query().Get("page_token"); pageToken != "" {
		decoded, err := base64.StdEncoding.DecodeString(pageToken)
		if err == nil {
			if parsed, parseErr := strconv.Atoi(string(decoded)); parseErr == nil && parsed > 0 {
				offset = parsed
			}
		}
	}

	return limit, offset
}

// encodePageToken encodes the next offset as a base64 page token. Returns an
// empty string if there are no more results.
func encodePageToken(offset, limit, totalCount int) string {
	nextOffset := offset + limit
	if nextOffset < totalCount {
		return base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(nextOffset)))
	}
	return ""
}
