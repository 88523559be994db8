package names

import (
	"github.com/agnivade/levenshtein"
	"github.com/xrash/smetrics"
)

// Jaro-Winkler parameters: standard boost threshold and prefix length.
const (
	jwBoostThreshold = 0.7
	jwPrefixSize     = 4
)

// Thresholds holds the similarity thresholds used when deciding whether two
// names refer to the same identity. The values were tuned empirically on the
// bioinformatics author corpus; treat them as defaults, not hard rules.
type Thresholds struct {
	// FirstName is the minimum Jaro-Winkler score between first-name
	// components.
	FirstName float64

	// LastName is the minimum Jaro-Winkler score between last-name
	// components. Lower than FirstName because last names absorb most of the
	// transliteration and hyphenation noise.
	LastName float64

	// Combined is the minimum score when comparing full normalized strings
	// directly instead of per component.
	Combined float64
}

// DefaultThresholds returns the tuned default thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		FirstName: 0.95,
		LastName:  0.85,
		Combined:  0.95,
	}
}

// Score computes a Jaro-Winkler similarity in [0,1] between two strings.
// The inputs are compared as given; callers normalize and fold first.
// Two empty strings compare equal (1.0); an empty string against a non-empty
// one is maximally dissimilar (0.0).
func Score(a, b string) float64 {
	if a == "" && b == "" {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}
	return smetrics.JaroWinkler(a, b, jwBoostThreshold, jwPrefixSize)
}

// AreSimilar reports whether two raw name strings refer to the same identity
// under the given combined threshold. Both names are normalized and folded
// before scoring, so the comparison is case- and diacritic-insensitive.
func AreSimilar(a, b string, threshold float64) bool {
	return Score(Fold(Normalize(a)), Fold(Normalize(b))) >= threshold
}

// ComponentScores computes the first-name and last-name similarity between
// two raw name strings. Each name is normalized, folded and split into
// first/last tokens; middle tokens do not participate.
func ComponentScores(a, b string) (first, last float64) {
	firstA, lastA := SplitParts(Fold(Normalize(a)))
	firstB, lastB := SplitParts(Fold(Normalize(b)))
	return Score(firstA, firstB), Score(lastA, lastB)
}

// RankDistance returns the Levenshtein distance between the folded normalized
// forms of two names. It is used as a deterministic tie-break when ranking
// duplicate candidates whose similarity scores are equal.
func RankDistance(a, b string) int {
	return levenshtein.ComputeDistance(Fold(Normalize(a)), Fold(Normalize(b)))
}
