package bibliometrics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/biolitmap/bibliometrics-service/internal/domain"
	"github.com/biolitmap/bibliometrics-service/internal/names"
	"github.com/biolitmap/bibliometrics-service/internal/observability"
)

// ResolverConfig holds the tunables of duplicate detection. The thresholds
// and the blocking window were tuned empirically; both are configuration,
// not hard requirements.
type ResolverConfig struct {
	// Thresholds are the per-component similarity thresholds.
	Thresholds names.Thresholds

	// Window is the size of the sliding comparison window over the
	// last-name sort order. Pairs further apart than this are never compared.
	Window int
}

// DefaultResolverConfig returns the tuned defaults.
func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		Thresholds: names.DefaultThresholds(),
		Window:     50,
	}
}

// Candidate is a pair of author records judged likely to be the same person,
// with the component scores that justify the judgement. Acceptance of a
// candidate is an external decision fed back in as a Merge call.
type Candidate struct {
	A          *domain.Author
	B          *domain.Author
	FirstScore float64
	LastScore  float64
}

// Score is the combined match signal used for ranking, the mean of the
// component scores.
func (c Candidate) Score() float64 {
	return (c.FirstScore + c.LastScore) / 2
}

// Resolver detects near-duplicate author identities (alternate spellings,
// diacritics, hyphenation) and merges confirmed pairs.
type Resolver struct {
	authors AuthorStore
	cfg     ResolverConfig
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewResolver creates a Resolver. metrics may be nil to disable
// instrumentation.
func NewResolver(authors AuthorStore, cfg ResolverConfig, logger zerolog.Logger, metrics *observability.Metrics) *Resolver {
	if cfg.Window <= 0 {
		cfg.Window = DefaultResolverConfig().Window
	}
	return &Resolver{
		authors: authors,
		cfg:     cfg,
		logger:  logger.With().Str("component", "resolver").Logger(),
		metrics: metrics,
	}
}

// FindDuplicateCandidates scans all active authors for likely duplicate
// pairs. Authors are sorted by folded last name as a blocking key and only
// pairs within the sliding window are compared, avoiding the quadratic
// all-pairs comparison. A pair is flagged when the first-name similarity and
// last-name similarity both clear their thresholds and the genders either
// match or at least one is unknown.
//
// Candidates are returned ranked best-first: descending combined score, then
// ascending edit distance between the full names as a deterministic tie-break.
func (r *Resolver) FindDuplicateCandidates(ctx context.Context) ([]Candidate, error) {
	authors, err := r.authors.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list authors: %w", err)
	}

	type keyed struct {
		author *domain.Author
		last   string
	}
	block := make([]keyed, 0, len(authors))
	for _, a := range authors {
		_, last := names.SplitParts(names.Fold(names.Normalize(a.Name)))
		block = append(block, keyed{author: a, last: last})
	}
	sort.Slice(block, func(i, j int) bool {
		if block[i].last != block[j].last {
			return block[i].last < block[j].last
		}
		return block[i].author.Name < block[j].author.Name
	})

	var candidates []Candidate
	for i := range block {
		limit := i + r.cfg.Window
		if limit > len(block)-1 {
			limit = len(block) - 1
		}
		for j := i + 1; j <= limit; j++ {
			a, b := block[i].author, block[j].author
			if !gendersCompatible(a.Gender, b.Gender) {
				continue
			}
			first, last := names.ComponentScores(a.Name, b.Name)
			if first < r.cfg.Thresholds.FirstName || last < r.cfg.Thresholds.LastName {
				continue
			}
			candidates = append(candidates, Candidate{A: a, B: b, FirstScore: first, LastScore: last})
			if r.metrics != nil {
				r.metrics.DuplicateCandidates.Inc()
			}
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		si, sj := candidates[i].Score(), candidates[j].Score()
		if si != sj {
			return si > sj
		}
		return names.RankDistance(candidates[i].A.Name, candidates[i].B.Name) <
			names.RankDistance(candidates[j].A.Name, candidates[j].B.Name)
	})

	r.logger.Info().
		Int("authors", len(authors)).
		Int("candidates", len(candidates)).
		Msg("duplicate scan finished")
	return candidates, nil
}

// gendersCompatible reports whether a pair can still be the same person:
// equal genders, or at least one unknown.
func gendersCompatible(a, b domain.Gender) bool {
	return a == b || !a.Known() || !b.Known()
}

// Merge folds remove's identity and statistics into keep and tombstones
// remove. The order of the arguments matters: keep is the surviving record.
//
// Rejections are distinguishable: a merge of a record with itself fails with
// domain.ErrSelfMerge, a merge involving an already tombstoned record with
// domain.ErrTombstoned (both wrapped in a MergeError).
//
// The merged record satisfies all author invariants: DOIs already present in
// keep are not appended again (the citations-DOIs parallel correspondence is
// preserved while re-establishing the no-duplicate-DOI invariant), the
// scalar aggregates are derived from the merged lists, and the h-index is
// recomputed from the merged citation list rather than taken as the max of
// the two inputs.
//
// The merge is computed from the rows as re-read under the store's merge
// transaction, not from the arguments, so state that changed after the
// caller's read (a paper attributed concurrently, a tombstone set by another
// merge) is never lost.
func (r *Resolver) Merge(ctx context.Context, keep, remove *domain.Author) (*domain.Author, error) {
	if keep == nil || remove == nil {
		return nil, domain.NewValidationError("merge", "both records are required")
	}
	if keep == remove || (keep.ID != uuid.Nil && keep.ID == remove.ID) || keep.Name == remove.Name {
		r.rejectMerge("self_merge")
		return nil, domain.NewMergeError(keep.Name, remove.Name, domain.ErrSelfMerge)
	}
	if keep.Deleted {
		r.rejectMerge("keep_tombstoned")
		return nil, domain.NewMergeError(keep.Name, remove.Name, fmt.Errorf("keep record: %w", domain.ErrTombstoned))
	}
	if remove.Deleted {
		r.rejectMerge("remove_tombstoned")
		return nil, domain.NewMergeError(keep.Name, remove.Name, fmt.Errorf("remove record: %w", domain.ErrTombstoned))
	}

	var merged *domain.Author
	err := r.authors.ApplyMerge(ctx, keep.ID, remove.ID, func(keep, remove *domain.Author) (*domain.Author, *domain.Author, error) {
		if keep.Deleted {
			r.rejectMerge("keep_tombstoned")
			return nil, nil, domain.NewMergeError(keep.Name, remove.Name, fmt.Errorf("keep record: %w", domain.ErrTombstoned))
		}
		if remove.Deleted {
			r.rejectMerge("remove_tombstoned")
			return nil, nil, domain.NewMergeError(keep.Name, remove.Name, fmt.Errorf("remove record: %w", domain.ErrTombstoned))
		}

		var err error
		merged, err = mergeRecords(keep, remove)
		if err != nil {
			return nil, nil, err
		}

		tombstone := remove.Clone()
		tombstone.Deleted = true
		return merged, tombstone, nil
	})
	if err != nil {
		return nil, err
	}

	if r.metrics != nil {
		r.metrics.MergesCompleted.Inc()
	}
	r.logger.Info().
		Str("keep", merged.Name).
		Str("remove", remove.Name).
		Int("papers", merged.Papers).
		Int("h_index", merged.HIndex).
		Msg("authors merged")
	return merged, nil
}

// mergeRecords folds remove into a clone of keep and re-derives every
// aggregate from the merged lists.
func mergeRecords(keep, remove *domain.Author) (*domain.Author, error) {
	merged := keep.Clone()

	if remove.Name != merged.Name && !merged.HasAlias(remove.Name) {
		merged.OtherNames = append(merged.OtherNames, remove.Name)
	}
	for _, alias := range remove.OtherNames {
		if alias != merged.Name && !merged.HasAlias(alias) {
			merged.OtherNames = append(merged.OtherNames, alias)
		}
	}

	for i, doi := range remove.DOIs {
		if merged.HasDOI(doi) {
			continue
		}
		merged.DOIs = append(merged.DOIs, doi)
		merged.Citations = append(merged.Citations, remove.Citations[i])
	}
	merged.Papers = len(merged.DOIs)
	merged.TotalCitations = 0
	merged.PapersWithCitations = 0
	for _, c := range merged.Citations {
		merged.TotalCitations += c
		if c > 0 {
			merged.PapersWithCitations++
		}
	}
	merged.PapersAsFirstAuthor = keep.PapersAsFirstAuthor + remove.PapersAsFirstAuthor
	merged.PapersAsLastAuthor = keep.PapersAsLastAuthor + remove.PapersAsLastAuthor

	if !merged.Gender.Known() && remove.Gender.Known() {
		merged.Gender = remove.Gender
	}

	merged.Affiliations = unionFold(merged.Affiliations, remove.Affiliations)
	merged.Countries = unionFold(merged.Countries, remove.Countries)

	merged.HIndex = HIndex(merged.Citations, merged.PapersWithCitations)

	if err := merged.CheckInvariants(); err != nil {
		return nil, fmt.Errorf("merged record %q: %w", merged.Name, err)
	}
	return merged, nil
}

// MergeNames resolves both canonical names and merges remove into keep.
// This is the entry point used by the merge confirmation surface; the human
// decision itself happens entirely outside the resolver.
func (r *Resolver) MergeNames(ctx context.Context, keepName, removeName string) (*domain.Author, error) {
	keep, err := r.authors.FindByName(ctx, names.Normalize(keepName))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewNotFoundError("author", keepName)
		}
		return nil, fmt.Errorf("find keep author: %w", err)
	}
	remove, err := r.authors.FindByName(ctx, names.Normalize(removeName))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewNotFoundError("author", removeName)
		}
		return nil, fmt.Errorf("find remove author: %w", err)
	}
	return r.Merge(ctx, keep, remove)
}

func (r *Resolver) rejectMerge(reason string) {
	if r.metrics != nil {
		r.metrics.RecordMergeRejected(reason)
	}
}

// containsFold reports whether list contains s under case-insensitive
// comparison.
func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// unionFold merges two string sets case-insensitively, preserving the order
// and spelling of first appearance.
func unionFold(a, b []string) []string {
	out := append([]string(nil), a...)
	seen := make(map[string]struct{}, len(a))
	for _, s := range a {
		seen[strings.ToLower(s)] = struct{}{}
	}
	for _, s := range b {
		key := strings.ToLower(s)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}
