// Package extractor turns an accumulated session segment into candidate
// memories. The extractor is an external collaborator (an LLM prompt
// pipeline); this package specifies only the call and its deterministic
// fallback (spec.md §4.7 "Extractor contract").
package extractor

import (
	"context"

	"github.com/ctxmind/ctxmind/internal/accumulator"
	"github.com/ctxmind/ctxmind/internal/store"
)

// Candidate is one proposed memory the extractor wants persisted.
type Candidate struct {
	Content    string
	Sector     store.Sector // zero value lets the caller pick a default sector
	MemoryType store.MemoryType
	Tags       []string
	Confidence float64
	Summary    string
}

// Extractor turns an accumulator's extraction context into candidate
// memories. Implementations may call out to an LLM and are expected to be
// slow or occasionally unavailable; callers must never block a hook
// response on it directly (spec.md §9 "Extractor is opaque").
type Extractor interface {
	Extract(ctx context.Context, seg *accumulator.SegmentContext) ([]Candidate, error)
}

// Classification is the high-priority signal on_user_prompt checks before
// deciding whether to run an immediate inline extraction.
type Classification string

const (
	ClassificationNone       Classification = "none"
	ClassificationCorrection Classification = "correction"
	ClassificationPreference Classification = "preference"
)

// Classifier labels a user prompt for the high-priority immediate-extraction
// path (spec.md §4.7 "Emit a high-priority classification").
type Classifier interface {
	Classify(ctx context.Context, prompt string) (Classification, error)
}

// FallbackCandidate builds the single deterministic memory stored when the
// extractor fails: the accumulator's own computed summary, at low
// confidence, classified as a turn summary (spec.md §4.7 "On failure the
// accumulator computes a deterministic fallback summary... stores that as
// a single memory").
func FallbackCandidate(seg *accumulator.SegmentContext) Candidate {
	return Candidate{
		Content:    seg.FallbackSummary(),
		Sector:     store.SectorEpisodic,
		MemoryType: store.MemoryTypeTurnSummary,
		Tags:       []string{"fallback"},
		Confidence: 0.3,
		Summary:    seg.FallbackSummary(),
	}
}

// ExtractOrFallback calls ex.Extract and substitutes the deterministic
// fallback candidate on any error or empty result, so a flush never
// silently produces nothing.
func ExtractOrFallback(ctx context.Context, ex Extractor, seg *accumulator.SegmentContext) []Candidate {
	candidates, err := ex.Extract(ctx, seg)
	if err != nil || len(candidates) == 0 {
		return []Candidate{FallbackCandidate(seg)}
	}
	return candidates
}
