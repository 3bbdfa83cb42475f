package daemon

import (
	"context"

	"github.com/ctxmind/ctxmind/internal/store"
)

// maxStatsScan bounds the list calls project_stats uses to approximate
// counts for stores that don't expose a dedicated COUNT query.
const maxStatsScan = 1_000_000

// HandleProjectStats aggregates code-index and memory-store counters for
// one project (spec.md §6 "project_stats"). Document counts aren't
// tracked separately from their underlying chunks (MemoryStore has no
// document-listing method), so that field is left at zero - see
// DESIGN.md.
func (d *Daemon) HandleProjectStats(ctx context.Context, params ProjectStatsParams) (ProjectStatsResult, error) {
	identity, handle, err := d.registry.Resolve(ctx, params.RootPath)
	if err != nil {
		return ProjectStatsResult{}, err
	}

	result := ProjectStatsResult{
		ProjectID:      identity.ID,
		WatcherRunning: handle.WatcherRunning(),
	}

	memories, err := handle.Store.ListMemories(ctx, identity.ID, store.MemoryFilter{}, maxStatsScan)
	if err == nil {
		result.MemoryCount = len(memories)
	}
	entities, err := handle.Store.ListEntities(ctx, identity.ID, maxStatsScan)
	if err == nil {
		result.EntityCount = len(entities)
	}

	if state, err := d.loadProject(ctx, params.RootPath); err == nil {
		projectID := hashString(params.RootPath)
		if project, err := state.metadata.GetProject(ctx, projectID); err == nil {
			result.FileCount = project.FileCount
			result.ChunkCount = project.ChunkCount
			result.IndexedAt = project.IndexedAt.Format("2006-01-02T15:04:05Z07:00")
		}
	}

	return result, nil
}
