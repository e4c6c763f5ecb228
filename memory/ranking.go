package memory

import (
	"math"
	"sort"
	"time"
)

// scored is a ranking candidate.
type scored struct {
	rec   *record
	score float64
}

// relevance combines similarity, importance and recency decay.
func (r RankingConfig) relevance(similarity, importance float64, age time.Duration) float64 {
	score := r.SimilarityWeight*similarity + r.ImportanceWeight*importance
	if r.RecencyWeight > 0 && r.RecencyHalfLife > 0 {
		if age < 0 {
			age = 0
		}
		decay := math.Pow(0.5, float64(age)/float64(r.RecencyHalfLife))
		score += r.RecencyWeight * decay
	}
	return score
}

// rank sorts candidates by score, newest first on ties, then by id so the
// order is total.
func rank(cands []scored) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if !a.rec.entry.Timestamp.Equal(b.rec.entry.Timestamp) {
			return a.rec.entry.Timestamp.After(b.rec.entry.Timestamp)
		}
		if a.rec.seq != b.rec.seq {
			return a.rec.seq > b.rec.seq
		}
		return a.rec.entry.ID < b.rec.entry.ID
	})
}

// byRecency is the fallback ranking used when similarity is unavailable.
func byRecency(recs []*record) []scored {
	cands := make([]scored, len(recs))
	for i, rec := range recs {
		cands[i] = scored{rec: rec}
	}
	rank(cands)
	return cands
}
