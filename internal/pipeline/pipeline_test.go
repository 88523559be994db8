package pipeline

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biolitmap/bibliometrics-service/internal/bibliometrics"
	"github.com/biolitmap/bibliometrics-service/internal/config"
	"github.com/biolitmap/bibliometrics-service/internal/domain"
	"github.com/biolitmap/bibliometrics-service/internal/export"
	"github.com/biolitmap/bibliometrics-service/internal/gender"
	"github.com/biolitmap/bibliometrics-service/internal/geocode"
	"github.com/biolitmap/bibliometrics-service/internal/ingest"
	"github.com/biolitmap/bibliometrics-service/internal/repository"
)

// fakePaperRepo is an in-memory PaperRepository.
type fakePaperRepo struct {
	mu        sync.Mutex
	papers    []*domain.Paper
	updateErr map[string]error
}

var _ repository.PaperRepository = (*fakePaperRepo)(nil)

func (f *fakePaperRepo) Upsert(ctx context.Context, paper *domain.Paper) (*domain.Paper, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.papers {
		if p.DOI == paper.DOI {
			p.Title = paper.Title
			p.Year = paper.Year
			p.Venue = paper.Venue
			if paper.CitationCount > p.CitationCount {
				p.CitationCount = paper.CitationCount
			}
			if len(paper.Authors) > 0 {
				p.Authors = paper.Authors
				p.AuthorGenders = paper.AuthorGenders
				p.Affiliations = paper.Affiliations
			}
			return p, nil
		}
	}
	stored := *paper
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	f.papers = append(f.papers, &stored)
	return &stored, nil
}

func (f *fakePaperRepo) GetByDOI(ctx context.Context, doi string) (*domain.Paper, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.papers {
		if p.DOI == doi {
			return p, nil
		}
	}
	return nil, domain.NewNotFoundError("paper", doi)
}

func (f *fakePaperRepo) Update(ctx context.Context, paper *domain.Paper) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.updateErr[paper.DOI]; ok {
		return err
	}
	for i, p := range f.papers {
		if p.ID == paper.ID {
			f.papers[i] = paper
			return nil
		}
	}
	return domain.NewNotFoundError("paper", paper.ID.String())
}

func (f *fakePaperRepo) ListWithAuthors(ctx context.Context, limit, offset int) ([]*domain.Paper, error) {
	return f.list(limit, offset, func(p *domain.Paper) bool {
		return !p.Deleted && len(p.Authors) > 0
	})
}

func (f *fakePaperRepo) ListMissingGenders(ctx context.Context, limit, offset int) ([]*domain.Paper, error) {
	return f.list(limit, offset, func(p *domain.Paper) bool {
		return !p.Deleted && len(p.Authors) > 0 && len(p.AuthorGenders) == 0
	})
}

func (f *fakePaperRepo) list(limit, offset int, keep func(*domain.Paper) bool) ([]*domain.Paper, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matched []*domain.Paper
	for _, p := range f.papers {
		if keep(p) {
			matched = append(matched, p)
		}
	}
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

// fakeAuthorRepo is an in-memory AuthorRepository.
type fakeAuthorRepo struct {
	mu      sync.Mutex
	records map[uuid.UUID]*domain.Author
}

var _ repository.AuthorRepository = (*fakeAuthorRepo)(nil)

func newFakeAuthorRepo() *fakeAuthorRepo {
	return &fakeAuthorRepo{records: make(map[uuid.UUID]*domain.Author)}
}

func (f *fakeAuthorRepo) add(author *domain.Author) *domain.Author {
	f.mu.Lock()
	defer f.mu.Unlock()
	if author.ID == uuid.Nil {
		author.ID = uuid.New()
	}
	f.records[author.ID] = author.Clone()
	return author
}

func (f *fakeAuthorRepo) get(id uuid.UUID) *domain.Author {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.records[id]; ok {
		return a.Clone()
	}
	return nil
}

func (f *fakeAuthorRepo) FindByName(ctx context.Context, name string) (*domain.Author, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.records {
		if !a.Deleted && a.Name == name {
			return a.Clone(), nil
		}
	}
	return nil, domain.NewNotFoundError("author", name)
}

func (f *fakeAuthorRepo) FindByAlias(ctx context.Context, name string) (*domain.Author, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.records {
		if !a.Deleted && a.HasAlias(name) {
			return a.Clone(), nil
		}
	}
	return nil, domain.NewNotFoundError("author", name)
}

func (f *fakeAuthorRepo) Create(ctx context.Context, author *domain.Author) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.records {
		if !a.Deleted && a.Name == author.Name {
			return fmt.Errorf("author %q: %w", author.Name, domain.ErrAlreadyExists)
		}
	}
	if author.ID == uuid.Nil {
		author.ID = uuid.New()
	}
	f.records[author.ID] = author.Clone()
	return nil
}

func (f *fakeAuthorRepo) Update(ctx context.Context, author *domain.Author) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[author.ID]; !ok {
		return domain.NewNotFoundError("author", author.ID.String())
	}
	f.records[author.ID] = author.Clone()
	return nil
}

func (f *fakeAuthorRepo) ListActive(ctx context.Context) ([]*domain.Author, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var active []*domain.Author
	for _, a := range f.records {
		if !a.Deleted {
			active = append(active, a.Clone())
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].Name < active[j].Name })
	return active, nil
}

func (f *fakeAuthorRepo) List(ctx context.Context, filter repository.AuthorFilter) ([]*domain.Author, int64, error) {
	active, err := f.ListActive(ctx)
	if err != nil {
		return nil, 0, err
	}
	return active, int64(len(active)), nil
}

func (f *fakeAuthorRepo) ApplyMerge(ctx context.Context, keepID, removeID uuid.UUID, merge func(keep, remove *domain.Author) (*domain.Author, *domain.Author, error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	keep, ok := f.records[keepID]
	if !ok {
		return domain.ErrNotFound
	}
	remove, ok := f.records[removeID]
	if !ok {
		return domain.ErrNotFound
	}
	merged, tombstone, err := merge(keep.Clone(), remove.Clone())
	if err != nil {
		return err
	}
	f.records[merged.ID] = merged.Clone()
	f.records[tombstone.ID] = tombstone.Clone()
	return nil
}

// fakeGenderProvider returns canned results and counts lookups per name.
type fakeGenderProvider struct {
	mu      sync.Mutex
	results map[string]gender.Result
	err     error
	calls   map[string]int
}

var _ gender.Provider = (*fakeGenderProvider)(nil)

func (f *fakeGenderProvider) Infer(ctx context.Context, fullName string) (gender.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[fullName]++
	if f.err != nil {
		return gender.Result{}, f.err
	}
	if res, ok := f.results[fullName]; ok {
		return res, nil
	}
	return gender.Result{Gender: domain.GenderUnknown, Failed: true, Reason: "name not found"}, nil
}

// fakeCountryResolver maps affiliations to countries and counts lookups.
type fakeCountryResolver struct {
	mu        sync.Mutex
	countries map[string]string
	calls     map[string]int
}

var _ geocode.CountryResolver = (*fakeCountryResolver)(nil)

func (f *fakeCountryResolver) ResolveCountry(ctx context.Context, affiliation string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[affiliation]++
	if country, ok := f.countries[affiliation]; ok {
		return country, nil
	}
	return "", domain.NewNotFoundError("country", affiliation)
}

func newTestPipeline(cfg config.PipelineConfig, papers *fakePaperRepo, authors *fakeAuthorRepo, genders gender.Provider, countries geocode.CountryResolver) *Pipeline {
	logger := zerolog.Nop()
	return New(cfg, Deps{
		Loader:     ingest.NewLoader(papers, logger, nil),
		Aggregator: bibliometrics.NewAggregator(authors, papers, logger, nil),
		Resolver:   bibliometrics.NewResolver(authors, bibliometrics.DefaultResolverConfig(), logger, nil),
		Exporter:   export.NewExporter(logger),
		Genders:    genders,
		Countries:  countries,
		Papers:     papers,
		Authors:    authors,
	}, logger)
}

func TestPipelineRun_UnknownPhase(t *testing.T) {
	p := newTestPipeline(config.PipelineConfig{Phases: []string{"bogus"}}, &fakePaperRepo{}, newFakeAuthorRepo(), nil, nil)

	summaries, err := p.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Contains(t, err.Error(), "phase bogus")
	require.Len(t, summaries, 1)
	assert.Equal(t, "bogus", summaries[0].Phase)
}

func TestPipelineRun_AbortsOnFirstError(t *testing.T) {
	// The gender phase has no provider, so the export phase must never run.
	exportPath := filepath.Join(t.TempDir(), "authors.csv")
	p := newTestPipeline(config.PipelineConfig{
		Phases:     []string{"gender", "export"},
		ExportPath: exportPath,
	}, &fakePaperRepo{}, newFakeAuthorRepo(), nil, nil)

	summaries, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Len(t, summaries, 1)
	assert.NoFileExists(t, exportPath)
}

func TestPipelineGenderPhase(t *testing.T) {
	t.Run("fills genders and memoizes per name", func(t *testing.T) {
		papers := &fakePaperRepo{papers: []*domain.Paper{
			{ID: uuid.New(), DOI: "d1", Title: "one", Authors: []string{"Maria Garcia", "John Smith"}},
			{ID: uuid.New(), DOI: "d2", Title: "two", Authors: []string{"Maria Garcia"}},
		}}
		provider := &fakeGenderProvider{results: map[string]gender.Result{
			"Maria Garcia": {Gender: domain.GenderFemale, Confidence: 0.98},
			"John Smith":   {Gender: domain.GenderMale, Confidence: 0.99},
		}}
		p := newTestPipeline(config.PipelineConfig{Phases: []string{"gender"}}, papers, newFakeAuthorRepo(), provider, nil)

		summaries, err := p.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, summaries[0].Processed)
		assert.Equal(t, 1, provider.calls["Maria Garcia"])
		assert.Equal(t, 1, provider.calls["John Smith"])

		stored, err := papers.GetByDOI(context.Background(), "d1")
		require.NoError(t, err)
		assert.Equal(t, []domain.Gender{domain.GenderFemale, domain.GenderMale}, stored.AuthorGenders)
	})

	t.Run("lookup misses store unknown", func(t *testing.T) {
		papers := &fakePaperRepo{papers: []*domain.Paper{
			{ID: uuid.New(), DOI: "d1", Title: "one", Authors: []string{"X Æ"}},
		}}
		p := newTestPipeline(config.PipelineConfig{Phases: []string{"gender"}}, papers, newFakeAuthorRepo(), &fakeGenderProvider{}, nil)

		_, err := p.Run(context.Background())
		require.NoError(t, err)

		stored, err := papers.GetByDOI(context.Background(), "d1")
		require.NoError(t, err)
		assert.Equal(t, []domain.Gender{domain.GenderUnknown}, stored.AuthorGenders)
	})

	t.Run("update failure counts as failed and does not loop", func(t *testing.T) {
		papers := &fakePaperRepo{
			papers: []*domain.Paper{
				{ID: uuid.New(), DOI: "d1", Title: "one", Authors: []string{"Maria Garcia"}},
				{ID: uuid.New(), DOI: "d2", Title: "two", Authors: []string{"John Smith"}},
			},
			updateErr: map[string]error{"d1": fmt.Errorf("disk full")},
		}
		p := newTestPipeline(config.PipelineConfig{Phases: []string{"gender"}}, papers, newFakeAuthorRepo(), &fakeGenderProvider{}, nil)

		summaries, err := p.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, summaries[0].Processed)
		assert.Equal(t, 1, summaries[0].Failed)
	})

	t.Run("missing provider is a configuration error", func(t *testing.T) {
		p := newTestPipeline(config.PipelineConfig{Phases: []string{"gender"}}, &fakePaperRepo{}, newFakeAuthorRepo(), nil, nil)

		_, err := p.Run(context.Background())
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestPipelineCountriesPhase(t *testing.T) {
	t.Run("appends newly resolved countries", func(t *testing.T) {
		authors := newFakeAuthorRepo()
		author := authors.add(&domain.Author{
			Name:         "Maria Garcia",
			Affiliations: []string{"CRG Barcelona", "EBI Hinxton"},
			Countries:    []string{"Spain"},
		})
		resolver := &fakeCountryResolver{countries: map[string]string{
			"CRG Barcelona": "Spain",
			"EBI Hinxton":   "United Kingdom",
		}}
		p := newTestPipeline(config.PipelineConfig{Phases: []string{"countries"}}, &fakePaperRepo{}, authors, nil, resolver)

		summaries, err := p.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, summaries[0].Processed)

		stored := authors.get(author.ID)
		assert.Equal(t, []string{"Spain", "United Kingdom"}, stored.Countries)
	})

	t.Run("caches affiliation lookups across authors", func(t *testing.T) {
		authors := newFakeAuthorRepo()
		authors.add(&domain.Author{Name: "Maria Garcia", Affiliations: []string{"CRG Barcelona"}})
		authors.add(&domain.Author{Name: "John Smith", Affiliations: []string{"CRG Barcelona"}})
		resolver := &fakeCountryResolver{countries: map[string]string{"CRG Barcelona": "Spain"}}
		p := newTestPipeline(config.PipelineConfig{Phases: []string{"countries"}}, &fakePaperRepo{}, authors, nil, resolver)

		_, err := p.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, resolver.calls["CRG Barcelona"])
	})

	t.Run("unresolvable affiliations are skipped", func(t *testing.T) {
		authors := newFakeAuthorRepo()
		author := authors.add(&domain.Author{Name: "Maria Garcia", Affiliations: []string{"somewhere obscure"}})
		p := newTestPipeline(config.PipelineConfig{Phases: []string{"countries"}}, &fakePaperRepo{}, authors, nil, &fakeCountryResolver{})

		summaries, err := p.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, summaries[0].Processed)
		assert.Equal(t, 1, summaries[0].Skipped)
		assert.Empty(t, authors.get(author.ID).Countries)
	})

	t.Run("missing resolver is a configuration error", func(t *testing.T) {
		p := newTestPipeline(config.PipelineConfig{Phases: []string{"countries"}}, &fakePaperRepo{}, newFakeAuthorRepo(), nil, nil)

		_, err := p.Run(context.Background())
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestPipelineEndToEnd(t *testing.T) {
	dir := t.TempDir()
	datasetPath := filepath.Join(dir, "papers.tsv")
	exportPath := filepath.Join(dir, "authors.csv")
	candidatesPath := filepath.Join(dir, "candidates.csv")

	rows := []string{
		"DOI\tTitle\tYear\tSource title\tCited by\tAuthors\tAuthor genders",
		"10.1/a\tAssembly\t2021\tBioinformatics\t10\tMaria Garcia; John Smith\tfemale; male",
		"10.1/b\tAnnotation\t2022\tBioinformatics\t4\tMaria Garcia\tfemale",
		"10.1/c\tAlignment\t2023\tNAR\t2\tMaria García\tfemale",
	}
	require.NoError(t, os.WriteFile(datasetPath, []byte(strings.Join(rows, "\n")+"\n"), 0o644))

	papers := &fakePaperRepo{}
	authors := newFakeAuthorRepo()
	p := newTestPipeline(config.PipelineConfig{
		Phases:         []string{"load", "attribute", "hindex", "dedup", "export"},
		DatasetPath:    datasetPath,
		ExportPath:     exportPath,
		CandidatesPath: candidatesPath,
	}, papers, authors, nil, nil)

	summaries, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, summaries, 5)
	assert.Equal(t, 3, summaries[0].Processed)
	assert.Equal(t, 3, summaries[1].Processed)

	// The accent variants of Maria Garcia must surface as a merge candidate.
	assert.Equal(t, 1, summaries[3].Processed)
	candidates, err := readCSVFile(candidatesPath)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.ElementsMatch(t, []string{"Maria Garcia", "Maria García"}, candidates[1][:2])

	exported, err := readCSVFile(exportPath)
	require.NoError(t, err)
	require.Len(t, exported, 4)
	byName := make(map[string][]string, 3)
	for _, row := range exported[1:] {
		byName[row[1]] = row
	}
	garcia := byName["Maria Garcia"]
	require.NotNil(t, garcia)
	assert.Equal(t, "female", garcia[2])
	assert.Equal(t, "2", garcia[3])
	assert.Equal(t, "14", garcia[4])
}

func readCSVFile(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return csv.NewReader(f).ReadAll()
}
