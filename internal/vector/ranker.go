package vector

import "sort"

// Candidate is one stored vector under consideration, identified by an
// opaque item reference.
type Candidate struct {
	Ref    string
	Vector []float32
}

// Ranked is a candidate that passed the threshold, with its score.
type Ranked struct {
	Ref   string
	Score float64
}

// Rank scores every candidate against query by cosine similarity, drops
// candidates below threshold, sorts descending by score, and returns at most
// limit results. Filtering and sorting run over the full candidate set;
// truncation happens last. Equal scores keep their first-seen input order so
// results are deterministic.
//
// This is a brute-force linear scan. Callers depend only on this contract, so
// an approximate nearest-neighbor index can replace it without touching them.
func Rank(query []float32, candidates []Candidate, threshold float64, limit int) []Ranked {
	if limit < 1 {
		return nil
	}
	ranked := make([]Ranked, 0, len(candidates))
	for _, c := range candidates {
		score := CosineSimilarity(query, c.Vector)
		if score < threshold {
			continue
		}
		ranked = append(ranked, Ranked{Ref: c.Ref, Score: score})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}
