package merchant

import (
	"sort"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ledgerline/merchant-engine/pkg/apperrors"
)

// DefaultClusterThreshold is the similarity a pattern must reach against a
// cluster representative to join it. Tunable per request; 1.0 degenerates to
// exact-duplicate clustering.
const DefaultClusterThreshold = 0.85

// Confidence weighting for clusters. Policy constants, not ground truth:
// larger, tighter clusters built around a dominant spelling score higher.
const (
	cohesionWeight = 0.45
	repShareWeight = 0.25
	sizeWeight     = 0.30
	sizeSaturation = 5
)

// PatternCount is a distinct canonical pattern and how many transactions
// carry it.
type PatternCount struct {
	Pattern string
	Count   int
}

// Cluster is a group of canonical patterns judged to be the same merchant.
type Cluster struct {
	// Representative is the most frequent member pattern; it anchors all
	// similarity comparisons and names the cluster.
	Representative string   `json:"representative"`
	DisplayName    string   `json:"display_name"`
	Members        []string `json:"members"`
	Confidence     float64  `json:"confidence"`
}

var titleCaser = cases.Title(language.English)

// DisplayName renders a canonical pattern as a human-facing merchant name.
func DisplayName(pattern string) string {
	return titleCaser.String(pattern)
}

// ClusterPatterns partitions an account's distinct canonical patterns into
// merchant clusters using greedy single-linkage assignment: candidates are
// visited most-frequent-first (frequency ties keep input order) and join the
// first existing cluster whose representative scores at or above threshold,
// otherwise they seed a new cluster. For a fixed input order and threshold
// the output is reproducible.
func ClusterPatterns(patterns []PatternCount, threshold float64) ([]Cluster, error) {
	if threshold <= 0 || threshold > 1 {
		return nil, apperrors.ErrInvalidThreshold
	}

	ordered := make([]PatternCount, 0, len(patterns))
	total := 0
	for _, p := range patterns {
		if p.Pattern == "" {
			continue // unresolvable patterns never cluster
		}
		ordered = append(ordered, p)
		total += p.Count
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Count > ordered[j].Count
	})

	type building struct {
		rep      PatternCount
		members  []string
		simSum   float64
		countSum int
	}
	var built []*building

	for _, p := range ordered {
		assigned := false
		for _, c := range built {
			if Similarity(p.Pattern, c.rep.Pattern) >= threshold {
				c.members = append(c.members, p.Pattern)
				c.simSum += Similarity(p.Pattern, c.rep.Pattern)
				c.countSum += p.Count
				assigned = true
				break
			}
		}
		if !assigned {
			built = append(built, &building{
				rep:      p,
				members:  []string{p.Pattern},
				simSum:   1, // representative to itself
				countSum: p.Count,
			})
		}
	}

	clusters := make([]Cluster, 0, len(built))
	for _, c := range built {
		clusters = append(clusters, Cluster{
			Representative: c.rep.Pattern,
			DisplayName:    titleCaser.String(c.rep.Pattern),
			Members:        c.members,
			Confidence:     clusterConfidence(c.simSum, len(c.members), c.rep.Count, c.countSum),
		})
	}
	return clusters, nil
}

// clusterConfidence combines intra-cluster cohesion, the representative's
// share of the cluster's transaction volume, and a size factor that
// saturates at sizeSaturation members.
func clusterConfidence(simSum float64, size, repCount, countSum int) float64 {
	if size == 0 || countSum == 0 {
		return 0
	}
	cohesion := simSum / float64(size)
	repShare := float64(repCount) / float64(countSum)
	sizeFactor := float64(size) / float64(sizeSaturation)
	if sizeFactor > 1 {
		sizeFactor = 1
	}
	conf := cohesionWeight*cohesion + repShareWeight*repShare + sizeWeight*sizeFactor
	if conf > 1 {
		conf = 1
	}
	return conf
}
