package merchant

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

// Weighting of the hybrid score. Token overlap dominates because POS
// descriptors frequently transpose word order; the edit-distance component
// catches near-identical strings where a single character survived
// normalization.
const (
	tokenOverlapWeight = 0.6
	editDistanceWeight = 0.4
)

// Similarity scores two canonical patterns in [0, 1]. It is symmetric,
// reflexive (Similarity(a, a) == 1) and fully deterministic: a weighted
// combination of token-set Jaccard overlap and a normalized Levenshtein
// ratio on the full strings.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}

	jaccard := tokenJaccard(a, b)

	dist := levenshtein.ComputeDistance(a, b)
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	editRatio := 1 - float64(dist)/float64(maxLen)
	if editRatio < 0 {
		editRatio = 0
	}

	score := tokenOverlapWeight*jaccard + editDistanceWeight*editRatio
	if score > 1 {
		score = 1
	}
	return score
}

func tokenJaccard(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for tok := range setA {
		if setB[tok] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(s) {
		set[tok] = true
	}
	return set
}
