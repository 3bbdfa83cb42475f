package daemon

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ctxmind/ctxmind/internal/chunk"
	"github.com/ctxmind/ctxmind/internal/store"
)

// HandleDocsIngest chunks a document (by literal content or by reading
// source_path off disk) with the markdown chunker, records it in the
// project's document table, and indexes its chunks for docs_search
// (spec.md §6 "docs_ingest (streamable)"; see CodeIndexResult for why this
// collapses progress into one response instead of streaming frames).
func (d *Daemon) HandleDocsIngest(ctx context.Context, params DocsIngestParams) (DocsIngestResult, error) {
	content := params.Content
	if content == "" {
		raw, err := os.ReadFile(params.SourcePath)
		if err != nil {
			return DocsIngestResult{}, fmt.Errorf("read source_path: %w", err)
		}
		content = string(raw)
	}

	source := params.Source
	if source == "" {
		source = params.SourcePath
	}
	title := params.Title
	if title == "" {
		title = source
	}

	identity, handle, err := d.registry.Resolve(ctx, params.RootPath)
	if err != nil {
		return DocsIngestResult{}, err
	}

	now := time.Now()
	contentHash := hashString(content)
	docID := hashString(identity.ID + ":" + source)

	mdChunker := chunk.NewMarkdownChunker()
	chunks, err := mdChunker.Chunk(ctx, &chunk.FileInput{
		Path:        source,
		Content:     []byte(content),
		Language:    "markdown",
		ContentHash: contentHash,
	})
	if err != nil {
		return DocsIngestResult{}, fmt.Errorf("chunk document: %w", err)
	}

	docChunks := make([]*store.DocumentChunk, 0, len(chunks))
	for i, c := range chunks {
		docChunks = append(docChunks, &store.DocumentChunk{
			ID:          hashString(fmt.Sprintf("%s:%d", docID, i)),
			DocumentID:  docID,
			ProjectID:   identity.ID,
			Title:       title,
			Source:      source,
			SourceType:  sourceTypeOf(params),
			Content:     c.Content,
			ChunkIndex:  i,
			TotalChunks: len(chunks),
		})
	}

	doc := &store.DocumentMeta{
		ID:          docID,
		ProjectID:   identity.ID,
		Title:       title,
		Source:      source,
		SourceType:  sourceTypeOf(params),
		ContentHash: contentHash,
		CharCount:   len(content),
		TotalChunks: len(chunks),
		FullContent: content,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := handle.Store.SaveDocument(ctx, doc); err != nil {
		return DocsIngestResult{}, fmt.Errorf("save document: %w", err)
	}
	if err := handle.Store.SaveDocumentChunks(ctx, docChunks); err != nil {
		return DocsIngestResult{}, fmt.Errorf("save document chunks: %w", err)
	}

	// Make the document's chunks reachable from docs_search, which runs
	// against the project's code-index engine rather than the memory store.
	if state, err := d.loadProject(ctx, params.RootPath); err == nil {
		fileID := hashString("doc:" + docID)
		file := &store.File{
			ID:          fileID,
			ProjectID:   hashString(params.RootPath),
			Path:        source,
			Size:        int64(len(content)),
			ModTime:     now,
			ContentHash: contentHash,
			Language:    "markdown",
			ContentType: string(store.ContentTypeMarkdown),
			IndexedAt:   now,
		}
		storeChunks := make([]*store.Chunk, 0, len(chunks))
		for i, c := range chunks {
			storeChunks = append(storeChunks, &store.Chunk{
				ID:          hashString(fmt.Sprintf("%s:%d", docID, i)),
				FileID:      fileID,
				FilePath:    source,
				Content:     c.Content,
				RawContent:  c.RawContent,
				Context:     c.Context,
				ContentType: store.ContentTypeMarkdown,
				ChunkType:   c.ChunkType,
				Language:    "markdown",
				StartLine:   c.StartLine,
				EndLine:     c.EndLine,
				CreatedAt:   now,
				UpdatedAt:   now,
			})
		}
		if err := state.metadata.SaveFiles(ctx, []*store.File{file}); err == nil {
			if err := state.metadata.SaveChunks(ctx, storeChunks); err == nil {
				_ = state.engine.Index(ctx, storeChunks)
				_ = state.metadata.RefreshProjectStats(ctx, hashString(params.RootPath))
			}
		}
	}

	return DocsIngestResult{DocumentID: docID, ChunksCreated: len(chunks)}, nil
}

func sourceTypeOf(params DocsIngestParams) store.DocumentSourceType {
	if params.SourcePath != "" {
		return store.DocSourceFile
	}
	return store.DocSourceContent
}
