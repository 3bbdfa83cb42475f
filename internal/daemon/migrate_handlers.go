package daemon

import (
	"context"
	"fmt"

	"github.com/ctxmind/ctxmind/internal/store"
)

// HandleMigrateEmbedding re-embeds every stored chunk and memory vector
// whose stored model no longer matches the daemon's active embedder
// (spec.md §9 "migrate_embedding" - explicit, idempotent re-embedding on
// model change). Rows already on the target model are left untouched, so
// calling this repeatedly after the first successful run is a no-op.
func (d *Daemon) HandleMigrateEmbedding(ctx context.Context, params MigrateEmbeddingParams) (MigrateEmbeddingResult, error) {
	embedder := d.embedderOrFallback()
	model := embedder.ModelName()
	result := MigrateEmbeddingResult{Model: model}

	if state, err := d.loadProject(ctx, params.RootPath); err == nil {
		migrated, err := migrateChunkEmbeddings(ctx, state.metadata, hashString(params.RootPath), embedder)
		if err != nil {
			return result, fmt.Errorf("migrate chunk embeddings: %w", err)
		}
		result.ChunksMigrated = migrated
	}

	if identity, handle, err := d.registry.Resolve(ctx, params.RootPath); err == nil {
		migrated, err := migrateMemoryEmbeddings(ctx, handle.Store, identity.ID, embedder)
		if err != nil {
			return result, fmt.Errorf("migrate memory embeddings: %w", err)
		}
		result.MemoriesMigrated = migrated
	}

	result.AlreadyCurrent = result.ChunksMigrated == 0 && result.MemoriesMigrated == 0
	return result, nil
}

// migrateChunkEmbeddings walks every file's chunks and re-embeds the ones
// whose chunk_embeddings row isn't already tagged with embedder's model.
func migrateChunkEmbeddings(ctx context.Context, metadata store.MetadataStore, projectID string, embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	ModelName() string
}) (int, error) {
	models, err := metadata.ChunkEmbeddingModels(ctx)
	if err != nil {
		return 0, err
	}

	var stale []*store.Chunk
	cursor := ""
	for {
		files, next, err := metadata.ListFiles(ctx, projectID, cursor, 500)
		if err != nil {
			return 0, err
		}
		for _, f := range files {
			chunks, err := metadata.GetChunksByFile(ctx, f.ID)
			if err != nil {
				return 0, err
			}
			for _, c := range chunks {
				if models[c.ID] == embedder.ModelName() {
					continue
				}
				stale = append(stale, c)
			}
		}
		if next == "" || next == cursor {
			break
		}
		cursor = next
	}

	if len(stale) == 0 {
		return 0, nil
	}

	texts := make([]string, len(stale))
	ids := make([]string, len(stale))
	for i, c := range stale {
		text := c.EmbeddingText
		if text == "" {
			text = c.Content
		}
		texts[i] = text
		ids[i] = c.ID
	}

	vectors, err := embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, err
	}
	if err := metadata.SaveChunkEmbeddings(ctx, ids, vectors, embedder.ModelName()); err != nil {
		return 0, err
	}
	return len(stale), nil
}

// migrateMemoryEmbeddings re-embeds every memory in projectID whose stored
// vector isn't already tagged with embedder's model.
func migrateMemoryEmbeddings(ctx context.Context, memStore store.MemoryStore, projectID string, embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	ModelName() string
}) (int, error) {
	models, err := memStore.MemoryEmbeddingModels(ctx, projectID)
	if err != nil {
		return 0, err
	}

	memories, err := memStore.ListMemories(ctx, projectID, store.MemoryFilter{}, maxStatsScan)
	if err != nil {
		return 0, err
	}

	var stale []*store.Memory
	for _, m := range memories {
		if models[m.ID] == embedder.ModelName() {
			continue
		}
		stale = append(stale, m)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	texts := make([]string, len(stale))
	for i, m := range stale {
		texts[i] = m.Content
	}
	vectors, err := embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, err
	}
	for i, m := range stale {
		if err := memStore.SaveMemoryEmbedding(ctx, m.ID, vectors[i], embedder.ModelName()); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}
