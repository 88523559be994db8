package bibliometrics

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/biolitmap/bibliometrics-service/internal/domain"
)

// memAuthorStore is an in-memory AuthorStore used across the package tests.
// It mirrors the store contract: lookups never return tombstoned records,
// records are stored and returned by value so callers cannot alias internal
// state.
type memAuthorStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]*domain.Author
}

var _ AuthorStore = (*memAuthorStore)(nil)

func newMemAuthorStore() *memAuthorStore {
	return &memAuthorStore{records: make(map[uuid.UUID]*domain.Author)}
}

func (s *memAuthorStore) FindByName(_ context.Context, name string) (*domain.Author, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.records {
		if !a.Deleted && a.Name == name {
			return a.Clone(), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *memAuthorStore) FindByAlias(_ context.Context, name string) (*domain.Author, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.records {
		if !a.Deleted && a.HasAlias(name) {
			return a.Clone(), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *memAuthorStore) Create(_ context.Context, author *domain.Author) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.records {
		if !a.Deleted && a.Name == author.Name {
			return domain.ErrAlreadyExists
		}
	}
	if author.ID == uuid.Nil {
		author.ID = uuid.New()
	}
	s.records[author.ID] = author.Clone()
	return nil
}

func (s *memAuthorStore) Update(_ context.Context, author *domain.Author) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[author.ID]; !ok {
		return domain.ErrNotFound
	}
	s.records[author.ID] = author.Clone()
	return nil
}

func (s *memAuthorStore) ListActive(_ context.Context) ([]*domain.Author, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Author
	for _, a := range s.records {
		if !a.Deleted {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memAuthorStore) ApplyMerge(_ context.Context, keepID, removeID uuid.UUID, merge func(keep, remove *domain.Author) (*domain.Author, *domain.Author, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	keep, ok := s.records[keepID]
	if !ok {
		return domain.ErrNotFound
	}
	remove, ok := s.records[removeID]
	if !ok {
		return domain.ErrNotFound
	}
	merged, tombstone, err := merge(keep.Clone(), remove.Clone())
	if err != nil {
		return err
	}
	s.records[merged.ID] = merged.Clone()
	s.records[tombstone.ID] = tombstone.Clone()
	return nil
}

// get returns the stored record by canonical name regardless of tombstone
// state, for assertions.
func (s *memAuthorStore) get(name string) *domain.Author {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.records {
		if a.Name == name {
			return a.Clone()
		}
	}
	return nil
}

// memPaperStore is an in-memory PaperStore serving fixed pages.
type memPaperStore struct {
	papers []*domain.Paper
}

var _ PaperStore = (*memPaperStore)(nil)

func (s *memPaperStore) ListWithAuthors(_ context.Context, limit, offset int) ([]*domain.Paper, error) {
	if offset >= len(s.papers) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.papers) {
		end = len(s.papers)
	}
	return s.papers[offset:end], nil
}
