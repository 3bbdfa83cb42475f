package daemon

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ctxmind/ctxmind/internal/config"
	"github.com/ctxmind/ctxmind/internal/index"
	"github.com/ctxmind/ctxmind/internal/store"
	"github.com/ctxmind/ctxmind/internal/ui"
)

// quietRenderer implements ui.Renderer by discarding progress events and
// keeping only the final completion stats, since the daemon's RPC
// transport answers with a single response rather than a TTY stream (see
// DESIGN.md on CodeIndexResult/DocsIngestResult).
type quietRenderer struct {
	stats ui.CompletionStats
}

func (r *quietRenderer) Start(ctx context.Context) error       { return nil }
func (r *quietRenderer) UpdateProgress(event ui.ProgressEvent) {}
func (r *quietRenderer) AddError(event ui.ErrorEvent)          {}
func (r *quietRenderer) Complete(stats ui.CompletionStats)     { r.stats = stats }
func (r *quietRenderer) Stop() error                           { return nil }

// HandleCodeList pages through the tracked files of an already-indexed
// project (spec.md §6 "code_list").
func (d *Daemon) HandleCodeList(ctx context.Context, params CodeListParams) (CodeListResult, error) {
	state, err := d.loadProject(ctx, params.RootPath)
	if err != nil {
		return CodeListResult{}, err
	}

	identity := hashString(params.RootPath)
	files, next, err := state.metadata.ListFiles(ctx, identity, params.Cursor, params.Limit)
	if err != nil {
		return CodeListResult{}, err
	}

	out := make([]CodeFileInfo, 0, len(files))
	for _, f := range files {
		out = append(out, CodeFileInfo{
			Path:        f.Path,
			Language:    f.Language,
			ContentType: f.ContentType,
			Size:        f.Size,
			IndexedAt:   f.IndexedAt.Format(time.RFC3339),
		})
	}
	return CodeListResult{Files: out, NextCursor: next}, nil
}

// HandleCodeStats reports index-wide size counters for a project
// (spec.md §6 "code_stats").
func (d *Daemon) HandleCodeStats(ctx context.Context, params RootPathParams) (CodeStatsResult, error) {
	state, err := d.loadProject(ctx, params.RootPath)
	if err != nil {
		return CodeStatsResult{}, err
	}

	projectID := hashString(params.RootPath)
	project, err := state.metadata.GetProject(ctx, projectID)
	if err != nil {
		return CodeStatsResult{}, err
	}

	stats := state.engine.Stats()
	return CodeStatsResult{
		FileCount:   project.FileCount,
		ChunkCount:  project.ChunkCount,
		VectorCount: stats.VectorCount,
	}, nil
}

// HandleCodeImportChunk stores a caller-supplied chunk directly, bypassing
// the tree-sitter chunker, and makes it searchable immediately (spec.md §6
// "code_import_chunk" - editor integrations that already know their own
// chunk boundaries).
func (d *Daemon) HandleCodeImportChunk(ctx context.Context, params CodeImportChunkParams) (CodeImportChunkResult, error) {
	state, err := d.loadProject(ctx, params.RootPath)
	if err != nil {
		return CodeImportChunkResult{}, err
	}

	projectID := hashString(params.RootPath)
	fileID := hashString(params.FilePath)
	now := time.Now()

	file := &store.File{
		ID:          fileID,
		ProjectID:   projectID,
		Path:        params.FilePath,
		Size:        int64(len(params.Content)),
		ModTime:     now,
		ContentHash: hashString(params.Content),
		Language:    params.Language,
		ContentType: string(store.ContentTypeCode),
		IndexedAt:   now,
	}
	if err := state.metadata.SaveFiles(ctx, []*store.File{file}); err != nil {
		return CodeImportChunkResult{}, fmt.Errorf("save file: %w", err)
	}

	chunkID := hashString(fmt.Sprintf("%s:%d:%s", params.FilePath, params.StartLine, params.Content))
	symbols := make([]*store.Symbol, 0, len(params.Symbols))
	for _, name := range params.Symbols {
		symbols = append(symbols, &store.Symbol{Name: name})
	}

	c := &store.Chunk{
		ID:             chunkID,
		FileID:         fileID,
		FilePath:       params.FilePath,
		Content:        params.Content,
		RawContent:     params.Content,
		ContentType:    store.ContentTypeCode,
		ChunkType:      store.ChunkTypeBlock,
		Language:       params.Language,
		StartLine:      params.StartLine,
		EndLine:        params.EndLine,
		DefinitionName: params.DefinitionName,
		Symbols:        symbols,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := state.metadata.SaveChunks(ctx, []*store.Chunk{c}); err != nil {
		return CodeImportChunkResult{}, fmt.Errorf("save chunk: %w", err)
	}
	if err := state.engine.Index(ctx, []*store.Chunk{c}); err != nil {
		return CodeImportChunkResult{}, fmt.Errorf("index chunk: %w", err)
	}
	if err := state.metadata.RefreshProjectStats(ctx, projectID); err != nil {
		return CodeImportChunkResult{}, fmt.Errorf("refresh project stats: %w", err)
	}

	return CodeImportChunkResult{ChunkID: chunkID}, nil
}

// HandleCodeIndex (re)indexes a project's code in place using the project's
// already-open metadata/BM25/vector handles (spec.md §6 "code_index
// (streamable)"). See CodeIndexResult for why progress isn't streamed as
// separate frames.
func (d *Daemon) HandleCodeIndex(ctx context.Context, params CodeIndexParams) (CodeIndexResult, error) {
	state, err := d.loadProject(ctx, params.RootPath)
	if err != nil {
		return CodeIndexResult{}, err
	}

	cfg, err := config.Load(params.RootPath)
	if err != nil {
		cfg = config.NewConfig()
	}

	renderer := &quietRenderer{}
	runner, err := index.NewRunner(index.RunnerDependencies{
		Renderer: renderer,
		Config:   cfg,
		Metadata: state.metadata,
		BM25:     state.bm25,
		Vector:   state.vector,
		Embedder: d.embedderOrFallback(),
	})
	if err != nil {
		return CodeIndexResult{}, fmt.Errorf("build index runner: %w", err)
	}
	defer func() { _ = runner.Close() }()

	runnerCfg := index.RunnerConfig{
		RootDir: params.RootPath,
		DataDir: filepath.Join(params.RootPath, ".ctxmind"),
	}
	// force skips the checkpoint-resume path; it does not delete the
	// on-disk index (the daemon holds it open), so unlike the CLI's
	// --force it's a "rescan everything" knob, not a "start fresh" one.
	if !params.Force {
		if cp, err := state.metadata.LoadIndexCheckpoint(ctx); err == nil && cp != nil {
			runnerCfg.ResumeFromCheckpoint = cp.EmbeddedCount
			runnerCfg.CheckpointModel = cp.EmbedderModel
		}
	}

	result, err := runner.Run(ctx, runnerCfg)
	if err != nil {
		return CodeIndexResult{}, err
	}

	return CodeIndexResult{
		FilesIndexed:  result.Files,
		ChunksIndexed: result.Chunks,
		Errors:        result.Errors,
		Warnings:      result.Warnings,
		DurationMs:    result.Duration.Milliseconds(),
		Resumed:       result.Resumed,
	}, nil
}

// hashString mirrors index.hashString (unexported there): the project id
// derivation every code_* handler must agree with so it finds the same
// project row the indexer wrote.
func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}
