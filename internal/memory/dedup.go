package memory

import "github.com/ctxmind/ctxmind/internal/store"

// DuplicateKind classifies the outcome of insert-time dedup (spec.md §4.5.4).
type DuplicateKind string

const (
	DuplicateNone    DuplicateKind = "none"
	DuplicateExact   DuplicateKind = "exact"
	DuplicateSimhash DuplicateKind = "simhash"
)

// DedupResult is the outcome of checking a candidate memory against the
// existing non-deleted memories nearest it.
type DedupResult struct {
	Kind       DuplicateKind
	ExistingID string
}

// DedupConfig tunes the SimHash/Jaccard near-duplicate thresholds.
type DedupConfig struct {
	MaxHammingDistance int
	MinJaccard         float64
}

// DefaultDedupConfig matches spec.md §9's recommended defaults.
func DefaultDedupConfig() DedupConfig {
	return DedupConfig{MaxHammingDistance: 3, MinJaccard: 0.85}
}

// Classify checks a new memory's content against the 10 nearest existing
// non-deleted memories (candidates), per spec.md §4.5.4. Candidates are
// expected to already be filtered to non-deleted rows of the same project.
func Classify(content, contentHash string, simhash uint64, candidates []*store.Memory, cfg DedupConfig) DedupResult {
	for _, c := range candidates {
		if c.ContentHash == contentHash {
			return DedupResult{Kind: DuplicateExact, ExistingID: c.ID}
		}
	}

	for _, c := range candidates {
		if HammingDistance(simhash, c.SimHash) <= cfg.MaxHammingDistance &&
			JaccardSimilarity(content, c.Content) > cfg.MinJaccard {
			return DedupResult{Kind: DuplicateSimhash, ExistingID: c.ID}
		}
	}

	return DedupResult{Kind: DuplicateNone}
}
