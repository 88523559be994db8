package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biolitmap/bibliometrics-service/internal/domain"
)

func anyArgs(n int) []interface{} {
	args := make([]interface{}, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

var authorRowColumns = []string{
	"id", "name", "other_names", "gender", "papers", "total_citations",
	"papers_as_first_author", "papers_as_last_author", "papers_with_citations",
	"dois", "citations", "h_index", "affiliations", "countries", "deleted",
	"created_at", "updated_at",
}

func authorRow(id uuid.UUID, name string) *pgxmock.Rows {
	now := time.Now().UTC()
	return pgxmock.NewRows(authorRowColumns).AddRow(
		id, name, []string{}, "female", 2, 5,
		1, 1, 2,
		[]string{"d1", "d2"}, []int{3, 2}, 2, []string{}, []string{}, false,
		now, now,
	)
}

func TestPgAuthorRepository_FindByName(t *testing.T) {
	t.Run("returns author when found", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgAuthorRepository(mock)
		authorID := uuid.New()

		mock.ExpectQuery(`WHERE name = \$1 AND NOT deleted`).
			WithArgs("Maria Garcia").
			WillReturnRows(authorRow(authorID, "Maria Garcia"))

		author, err := repo.FindByName(context.Background(), "Maria Garcia")
		require.NoError(t, err)
		assert.Equal(t, authorID, author.ID)
		assert.Equal(t, "Maria Garcia", author.Name)
		assert.Equal(t, domain.GenderFemale, author.Gender)
		assert.Equal(t, []string{"d1", "d2"}, author.DOIs)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns not found error", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgAuthorRepository(mock)

		mock.ExpectQuery(`WHERE name = \$1 AND NOT deleted`).
			WithArgs("Nobody").
			WillReturnError(pgx.ErrNoRows)

		_, err = repo.FindByName(context.Background(), "Nobody")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects empty name", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgAuthorRepository(mock)

		_, err = repo.FindByName(context.Background(), "")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestPgAuthorRepository_FindByAlias(t *testing.T) {
	t.Run("returns oldest carrier of the alias", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgAuthorRepository(mock)
		authorID := uuid.New()

		mock.ExpectQuery(`WHERE \$1 = ANY\(other_names\) AND NOT deleted`).
			WithArgs("Maria García").
			WillReturnRows(authorRow(authorID, "Maria Garcia"))

		author, err := repo.FindByAlias(context.Background(), "Maria García")
		require.NoError(t, err)
		assert.Equal(t, "Maria Garcia", author.Name)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns not found error", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgAuthorRepository(mock)

		mock.ExpectQuery(`WHERE \$1 = ANY\(other_names\) AND NOT deleted`).
			WithArgs("Nobody").
			WillReturnError(pgx.ErrNoRows)

		_, err = repo.FindByAlias(context.Background(), "Nobody")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPgAuthorRepository_Create(t *testing.T) {
	t.Run("inserts author with generated id", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgAuthorRepository(mock)
		author := &domain.Author{
			Name:           "Maria Garcia",
			Gender:         domain.GenderFemale,
			Papers:         1,
			TotalCitations: 3,
			DOIs:           []string{"d1"},
			Citations:      []int{3},
		}

		mock.ExpectExec(`INSERT INTO authors`).
			WithArgs(
				pgxmock.AnyArg(), "Maria Garcia", []string{}, "female", 1, 3,
				0, 0, 0,
				[]string{"d1"}, []int{3}, 0, []string{}, []string{}, false,
				pgxmock.AnyArg(), pgxmock.AnyArg(),
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, repo.Create(context.Background(), author))
		assert.NotEqual(t, uuid.Nil, author.ID)
		assert.False(t, author.CreatedAt.IsZero())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("maps unique violation to already exists", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgAuthorRepository(mock)

		mock.ExpectExec(`INSERT INTO authors`).
			WithArgs(anyArgs(17)...).
			WillReturnError(&pgconn.PgError{Code: "23505"})

		err = repo.Create(context.Background(), &domain.Author{Name: "Maria Garcia"})
		assert.ErrorIs(t, err, domain.ErrAlreadyExists)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects nil and unnamed authors", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgAuthorRepository(mock)

		assert.ErrorIs(t, repo.Create(context.Background(), nil), domain.ErrInvalidInput)
		assert.ErrorIs(t, repo.Create(context.Background(), &domain.Author{}), domain.ErrInvalidInput)
	})
}

func TestPgAuthorRepository_Update(t *testing.T) {
	t.Run("writes all aggregate fields", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgAuthorRepository(mock)
		author := &domain.Author{
			ID:                  uuid.New(),
			Name:                "Maria Garcia",
			Gender:              domain.GenderFemale,
			Papers:              2,
			TotalCitations:      5,
			PapersWithCitations: 2,
			DOIs:                []string{"d1", "d2"},
			Citations:           []int{3, 2},
			HIndex:              2,
		}

		mock.ExpectExec(`UPDATE authors SET`).
			WithArgs(
				author.ID, "Maria Garcia", []string{}, "female", 2, 5,
				0, 0, 2,
				[]string{"d1", "d2"}, []int{3, 2}, 2, []string{}, []string{}, false,
			).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, repo.Update(context.Background(), author))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing row maps to not found", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgAuthorRepository(mock)

		mock.ExpectExec(`UPDATE authors SET`).
			WithArgs(anyArgs(15)...).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err = repo.Update(context.Background(), &domain.Author{ID: uuid.New()})
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPgAuthorRepository_ListActive(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPgAuthorRepository(mock)
	now := time.Now().UTC()

	rows := pgxmock.NewRows(authorRowColumns).
		AddRow(uuid.New(), "John Smith", []string{}, "male", 1, 0,
			1, 1, 0, []string{"d3"}, []int{0}, 0, []string{}, []string{}, false, now, now).
		AddRow(uuid.New(), "Maria Garcia", []string{}, "female", 1, 3,
			1, 1, 1, []string{"d1"}, []int{3}, 1, []string{}, []string{}, false, now, now)

	mock.ExpectQuery(`WHERE NOT deleted\s+ORDER BY name`).
		WillReturnRows(rows)

	authors, err := repo.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, authors, 2)
	assert.Equal(t, "John Smith", authors[0].Name)
	assert.Equal(t, "Maria Garcia", authors[1].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgAuthorRepository_List(t *testing.T) {
	t.Run("filters by gender and minimum papers", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgAuthorRepository(mock)
		female := domain.GenderFemale

		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM authors`).
			WithArgs("female", 2).
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(1)))

		mock.ExpectQuery(`ORDER BY name LIMIT \$3 OFFSET \$4`).
			WithArgs("female", 2, 100, 0).
			WillReturnRows(authorRow(uuid.New(), "Maria Garcia"))

		authors, total, err := repo.List(context.Background(), AuthorFilter{
			Gender:    &female,
			MinPapers: 2,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, authors, 1)
		assert.Equal(t, "Maria Garcia", authors[0].Name)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects negative min papers", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgAuthorRepository(mock)

		_, _, err = repo.List(context.Background(), AuthorFilter{MinPapers: -1})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestPgAuthorRepository_ApplyMerge(t *testing.T) {
	mergeRowsRegex := `WHERE id = ANY\(\$1\)\s+ORDER BY id\s+FOR UPDATE`

	t.Run("computes the merge from the locked rows and writes both updates", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgAuthorRepository(mock)
		keepID := uuid.New()
		removeID := uuid.New()
		now := time.Now().UTC()

		// The rows come back in id order, which need not match the
		// argument order.
		lockedRows := pgxmock.NewRows(authorRowColumns).AddRow(
			removeID, "Maria García", []string{}, "female", 1, 2,
			0, 0, 1,
			[]string{"d3"}, []int{2}, 1, []string{}, []string{}, false,
			now, now,
		).AddRow(
			keepID, "Maria Garcia", []string{}, "female", 2, 5,
			1, 1, 2,
			[]string{"d1", "d2"}, []int{3, 2}, 2, []string{}, []string{}, false,
			now, now,
		)

		var merged, tombstone *domain.Author
		mergeFn := func(keep, remove *domain.Author) (*domain.Author, *domain.Author, error) {
			merged = keep.Clone()
			merged.DOIs = append(merged.DOIs, remove.DOIs...)
			merged.Citations = append(merged.Citations, remove.Citations...)
			merged.Papers = len(merged.DOIs)
			tombstone = remove.Clone()
			tombstone.Deleted = true
			return merged, tombstone, nil
		}

		mock.ExpectBegin()
		mock.ExpectQuery(mergeRowsRegex).
			WithArgs(pgxmock.AnyArg()).
			WillReturnRows(lockedRows)
		mock.ExpectExec(`UPDATE authors SET`).
			WithArgs(keepID, "Maria Garcia", []string{}, "female", 3, 5,
				1, 1, 2, []string{"d1", "d2", "d3"}, []int{3, 2, 2}, 2,
				[]string{}, []string{}, false).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectExec(`UPDATE authors SET`).
			WithArgs(removeID, "Maria García", []string{}, "female", 1, 2,
				0, 0, 1, []string{"d3"}, []int{2}, 1,
				[]string{}, []string{}, true).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectCommit()
		mock.ExpectRollback()

		require.NoError(t, repo.ApplyMerge(context.Background(), keepID, removeID, mergeFn))
		require.NotNil(t, merged)
		// The callback saw the keep row despite the swapped lock order.
		assert.Equal(t, keepID, merged.ID)
		assert.True(t, tombstone.Deleted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("callback error aborts without writing", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgAuthorRepository(mock)
		keepID := uuid.New()
		removeID := uuid.New()

		mock.ExpectBegin()
		mock.ExpectQuery(mergeRowsRegex).
			WithArgs(pgxmock.AnyArg()).
			WillReturnRows(authorRow(keepID, "Maria Garcia").AddRow(
				removeID, "Maria García", []string{}, "female", 1, 2,
				0, 0, 1,
				[]string{"d3"}, []int{2}, 1, []string{}, []string{}, true,
				time.Now().UTC(), time.Now().UTC(),
			))
		mock.ExpectRollback()

		wantErr := domain.NewMergeError("Maria Garcia", "Maria García", domain.ErrTombstoned)
		err = repo.ApplyMerge(context.Background(), keepID, removeID,
			func(keep, remove *domain.Author) (*domain.Author, *domain.Author, error) {
				if remove.Deleted {
					return nil, nil, wantErr
				}
				return keep, remove, nil
			})
		assert.ErrorIs(t, err, domain.ErrTombstoned)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing participant aborts before any write", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgAuthorRepository(mock)
		keepID := uuid.New()

		mock.ExpectBegin()
		mock.ExpectQuery(mergeRowsRegex).
			WithArgs(pgxmock.AnyArg()).
			WillReturnRows(authorRow(keepID, "Maria Garcia"))
		mock.ExpectRollback()

		err = repo.ApplyMerge(context.Background(), keepID, uuid.New(),
			func(keep, remove *domain.Author) (*domain.Author, *domain.Author, error) {
				t.Fatal("merge callback must not run")
				return nil, nil, nil
			})
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
