package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/ctxmind/ctxmind/internal/embed"
	"github.com/ctxmind/ctxmind/internal/memory"
	"github.com/ctxmind/ctxmind/internal/store"
)

// MemorySearchOptions tunes one search call beyond the filter predicate.
type MemorySearchOptions struct {
	Limit         int
	Adaptive      bool
	AutoReinforce bool
	Weights       RankWeights
}

// DefaultMemorySearchOptions returns sane defaults: limit 10, adaptive
// trimming and auto-reinforce both on, default rank weights.
func DefaultMemorySearchOptions() MemorySearchOptions {
	return MemorySearchOptions{Limit: 10, Adaptive: true, AutoReinforce: true, Weights: DefaultRankWeights()}
}

// MemoryEngine implements the memory arm of the retrieval engine: filtered
// candidate gathering (HNSW nearest-neighbor, falling back to a substring
// scan), post-search ranking, and auto-reinforcement of the top results
// (spec.md §4.5).
type MemoryEngine struct {
	store     store.MemoryStore
	embedder  embed.Embedder
	vectors   store.VectorStore
	lifecycle *memory.Lifecycle
	log       *slog.Logger
}

// NewMemoryEngine builds a MemoryEngine. embedder may be nil, in which
// case every search uses the substring fallback. vectors is the project's
// per-kind HNSW vector store for memory embeddings (see
// internal/project.Handle.MemoryVectorStore); nil falls back to the
// substring scan the same as a nil embedder. lifecycle may be nil, in
// which case auto-reinforce is skipped even when requested. log may be
// nil.
func NewMemoryEngine(s store.MemoryStore, embedder embed.Embedder, vectors store.VectorStore, lifecycle *memory.Lifecycle, log *slog.Logger) *MemoryEngine {
	if log == nil {
		log = slog.Default()
	}
	return &MemoryEngine{store: s, embedder: embedder, vectors: vectors, lifecycle: lifecycle, log: log}
}

// candidate pairs a memory with its pre-rank distance from the query.
type candidate struct {
	memory   *store.Memory
	distance float64
}

// Search runs the memory query path: build the predicate from filter,
// gather oversampled candidates (embedding nearest-neighbor or substring
// fallback), rank, trim, and optionally auto-reinforce the top 3.
func (e *MemoryEngine) Search(ctx context.Context, projectID, query string, filter store.MemoryFilter, opts MemorySearchOptions) ([]Scored, Quality, error) {
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	if opts.Weights == (RankWeights{}) {
		opts.Weights = DefaultRankWeights()
	}

	pool := opts.Limit * 2
	candidates, err := e.gatherCandidates(ctx, projectID, query, filter, pool)
	if err != nil {
		return nil, Quality{}, err
	}

	now := time.Now().UTC()
	scored := make([]Scored, 0, len(candidates))
	for _, c := range candidates {
		scored = append(scored, RankMemory(c.memory, c.distance, now, opts.Weights))
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Rank > scored[j].Rank })

	scored = TrimAdaptive(scored, opts.Limit, opts.Adaptive)
	quality := SummarizeQuality(scored)

	if opts.AutoReinforce && e.lifecycle != nil {
		e.autoReinforceTop(ctx, scored)
	}

	return scored, quality, nil
}

// gatherCandidates embeds the query and ranks via the project's HNSW
// memory vector store; on embedding failure, an unavailable vector store,
// or an empty graph it falls back to a case-insensitive substring scan
// with a 3×-limit oversample (spec.md §4.5 step 2).
func (e *MemoryEngine) gatherCandidates(ctx context.Context, projectID, query string, filter store.MemoryFilter, pool int) ([]candidate, error) {
	memories, err := e.store.ListMemories(ctx, projectID, filter, pool*5)
	if err != nil {
		return nil, err
	}

	if e.embedder != nil && e.vectors != nil {
		queryEmbedding, embedErr := e.embedder.Embed(ctx, query)
		if embedErr == nil {
			if out, ok := e.vectorCandidates(ctx, memories, queryEmbedding, pool); ok {
				return out, nil
			}
		} else {
			e.log.Debug("query embedding failed, falling back to substring scan", "error", embedErr)
		}
	}

	return substringCandidates(memories, query, pool*3), nil
}

// vectorCandidates runs an ANN search over the project's HNSW memory
// vector store, restricted to the filtered candidate set already gathered
// by ListMemories. Requests an oversample from the graph itself since it
// indexes every memory, not just the filtered ones.
func (e *MemoryEngine) vectorCandidates(ctx context.Context, memories []*store.Memory, queryEmbedding []float32, pool int) ([]candidate, bool) {
	allowed := make(map[string]*store.Memory, len(memories))
	for _, m := range memories {
		allowed[m.ID] = m
	}

	k := pool * 5
	results, err := e.vectors.Search(ctx, queryEmbedding, k)
	if err != nil {
		e.log.Debug("memory vector search failed, falling back to substring scan", "error", err)
		return nil, false
	}
	if len(results) == 0 {
		return nil, false
	}

	out := make([]candidate, 0, pool)
	for _, r := range results {
		m, ok := allowed[r.ID]
		if !ok {
			continue
		}
		out = append(out, candidate{memory: m, distance: 1 - r.Score})
		if len(out) >= pool {
			break
		}
	}
	return out, true
}

// substringCandidates scores memories by a case-insensitive substring
// match (distance 0 on match, 1 otherwise), ordered by stored salience as
// the tie-break "stored score" (spec.md §4.5 step 2, "ordered by stored
// score").
func substringCandidates(memories []*store.Memory, query string, oversample int) []candidate {
	needle := strings.ToLower(query)
	out := make([]candidate, 0, len(memories))
	for _, m := range memories {
		distance := 1.0
		if needle != "" && strings.Contains(strings.ToLower(m.Content), needle) {
			distance = 0
		}
		out = append(out, candidate{memory: m, distance: distance})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].distance != out[j].distance {
			return out[i].distance < out[j].distance
		}
		return out[i].memory.Salience > out[j].memory.Salience
	})
	if len(out) > oversample {
		out = out[:oversample]
	}
	return out
}

func (e *MemoryEngine) autoReinforceTop(ctx context.Context, scored []Scored) {
	n := len(ReinforceSteps)
	if len(scored) < n {
		n = len(scored)
	}
	for i := 0; i < n; i++ {
		if _, err := e.lifecycle.Reinforce(ctx, scored[i].Memory.ID, ReinforceSteps[i]); err != nil {
			e.log.Warn("auto-reinforce failed", "memory_id", scored[i].Memory.ID, "error", err)
		}
	}
}
