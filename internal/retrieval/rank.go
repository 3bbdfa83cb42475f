// Package retrieval implements the memory search path: predicate
// filtering, embed-or-substring candidate gathering, post-search ranking,
// confidence scoring, adaptive-limit trimming, and auto-reinforcement of
// the top results (spec.md §4.5 "Retrieval Engine").
package retrieval

import (
	"math"
	"time"

	"github.com/ctxmind/ctxmind/internal/store"
)

// RankWeights are the blended-score weights applied to similarity,
// salience, and recency (spec.md §4.5.1, "defaults 0.5 / 0.3 / 0.2").
type RankWeights struct {
	Semantic float64
	Salience float64
	Recency  float64
}

// DefaultRankWeights matches the recommended defaults.
func DefaultRankWeights() RankWeights {
	return RankWeights{Semantic: 0.5, Salience: 0.3, Recency: 0.2}
}

// sectorBoost is the fixed per-sector rank multiplier: procedural/semantic
// slightly boosted over episodic, reflective highest (spec.md §4.5.1).
var sectorBoost = map[store.Sector]float64{
	store.SectorEpisodic:   1.0,
	store.SectorSemantic:   1.1,
	store.SectorProcedural: 1.1,
	store.SectorEmotional:  1.0,
	store.SectorReflective: 1.2,
}

const supersessionPenalty = 0.7

// Scored is one ranked memory result.
type Scored struct {
	Memory     *store.Memory
	Distance   float64
	Rank       float64
	Similarity float64
	Confidence float64
}

// RankMemory scores a single (memory, distance) candidate per spec.md
// §4.5.1.
func RankMemory(m *store.Memory, distance float64, now time.Time, weights RankWeights) Scored {
	similarity := 1 - math.Min(distance, 1)

	last := m.LastAccessed
	if last.IsZero() {
		last = m.CreatedAt
	}
	days := now.Sub(last).Hours() / 24
	if days < 0 {
		days = 0
	}
	recency := math.Exp(-0.02 * days)

	boost := sectorBoost[m.Sector]
	if boost == 0 {
		boost = 1.0
	}

	penalty := 1.0
	if m.SupersededBy != "" {
		penalty = supersessionPenalty
	}

	rank := (weights.Semantic*similarity + weights.Salience*m.Salience + weights.Recency*recency) * boost * penalty

	return Scored{
		Memory:     m,
		Distance:   distance,
		Rank:       rank,
		Similarity: similarity,
		Confidence: 1 - distance,
	}
}

// HighConfidenceThreshold is τ_high, the recommended default for local
// embedding models (spec.md §4.5.3; cloud models recommend 0.7).
const HighConfidenceThreshold = 0.5

// IsHighConfidence reports whether a result clears τ_high.
func IsHighConfidence(confidence float64) bool {
	return confidence > HighConfidenceThreshold
}

// LowConfidenceDistance is the best_distance threshold above which a
// search's overall quality is reported as low-confidence.
const LowConfidenceDistance = 0.7

// Quality summarizes a search's result set (spec.md §4.5 step 6).
type Quality struct {
	BestDistance        float64
	HighConfidenceCount int
	LowConfidence        bool
}

// SummarizeQuality aggregates quality stats over a ranked result set.
func SummarizeQuality(results []Scored) Quality {
	if len(results) == 0 {
		return Quality{BestDistance: 1, LowConfidence: true}
	}
	best := results[0].Distance
	highConf := 0
	for _, r := range results {
		if r.Distance < best {
			best = r.Distance
		}
		if IsHighConfidence(r.Confidence) {
			highConf++
		}
	}
	return Quality{
		BestDistance:        best,
		HighConfidenceCount: highConf,
		LowConfidence:        best > LowConfidenceDistance,
	}
}

// ReinforceSteps are the decaying auto-reinforce amounts applied to the
// top 3 memory results of a successful search (spec.md §4.5 step 7).
var ReinforceSteps = []float64{0.02, 0.014, 0.008}

// TrimAdaptive applies the adaptive-limit rule: if ≥3 results are
// high-confidence, trim to at most 5; otherwise trim to limit (spec.md
// §4.5 step 5).
func TrimAdaptive(results []Scored, limit int, adaptive bool) []Scored {
	if len(results) > limit {
		results = results[:limit]
	}
	if adaptive {
		highConf := 0
		for _, r := range results {
			if IsHighConfidence(r.Confidence) {
				highConf++
			}
		}
		if highConf >= 3 && len(results) > 5 {
			results = results[:5]
		}
	}
	return results
}
