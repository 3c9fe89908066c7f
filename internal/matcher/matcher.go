// Package matcher scores a live feature window against the pattern
// catalogue. Scoring is stateless per tick; temporal smoothing is the
// detection state machine's job.
package matcher

import (
	"math"
	"time"

	"github.com/yasunobu-nonaka/abema-cm-muter/internal/dsp"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/pattern"
)

// MatchScore is the result of scoring one tick's live window against a
// single pattern. Produced fresh every tick, never persisted.
type MatchScore struct {
	PatternID string
	Score     float64 // normalized similarity, 1 = identical
	Timestamp time.Time
}

// Similarity returns the cosine similarity of two feature vectors in
// [0, 1]. The silence sentinel never matches anything, including another
// silent window, so dead air cannot score against a quiet reference clip.
func Similarity(a, b dsp.FeatureVector) float64 {
	if a.Silent || b.Silent {
		return 0
	}

	var dot, normA, normB float64
	for i := 0; i < dsp.NumBands; i++ {
		dot += a.Bands[i] * b.Bands[i]
		normA += a.Bands[i] * a.Bands[i]
		normB += b.Bands[i] * b.Bands[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Band energies are non-negative, so cosine is already in [0, 1];
	// clamp against floating point drift.
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}

// Score aligns the most recent min(len(pattern), len(live)) live vectors
// against the corresponding prefix of the pattern and returns the mean
// per-vector similarity in [0, 1].
func Score(live []dsp.FeatureVector, p *pattern.Pattern) float64 {
	if len(live) == 0 || len(p.Features) == 0 {
		return 0
	}

	k := len(p.Features)
	if len(live) < k {
		k = len(live)
	}

	aligned := live[len(live)-k:]

	var sum float64
	for i := 0; i < k; i++ {
		sum += Similarity(aligned[i], p.Features[i])
	}
	return sum / float64(k)
}

// BestMatch scores the live window against every pattern and returns the
// single best score for this tick. Ties break toward the lexicographically
// lowest pattern ID for determinism. ok is false when the catalogue is
// empty.
func BestMatch(live []dsp.FeatureVector, patterns []*pattern.Pattern, now time.Time) (best MatchScore, ok bool) {
	for _, p := range patterns {
		score := Score(live, p)
		if !ok || score > best.Score || (score == best.Score && p.ID < best.PatternID) {
			best = MatchScore{PatternID: p.ID, Score: score, Timestamp: now}
			ok = true
		}
	}
	return best, ok
}
