// Package bibliometrics implements the author identity resolution and
// metrics aggregation engine: incremental maintenance of per-author
// aggregates over the paper corpus, h-index computation, and detection and
// merging of near-duplicate author identities.
package bibliometrics

// HIndex computes the h-index over an author's citation list: the largest h
// such that at least h papers have each received at least h citations.
//
// The probe starts at papersWithCitations, a valid upper bound since papers
// with zero citations can never contribute to any h >= 1 count, and
// decrements until the candidate is satisfied. Terminates at 0 in the worst
// case.
func HIndex(citations []int, papersWithCitations int) int {
	h := papersWithCitations
	if h > len(citations) {
		h = len(citations)
	}
	for h > 0 {
		count := 0
		for _, c := range citations {
			if c >= h {
				count++
			}
		}
		if count >= h {
			return h
		}
		h--
	}
	return 0
}
