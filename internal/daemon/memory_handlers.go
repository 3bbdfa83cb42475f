package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ctxmind/ctxmind/internal/entity"
	"github.com/ctxmind/ctxmind/internal/hooks"
	"github.com/ctxmind/ctxmind/internal/ids"
	"github.com/ctxmind/ctxmind/internal/memory"
	"github.com/ctxmind/ctxmind/internal/project"
	"github.com/ctxmind/ctxmind/internal/retrieval"
	"github.com/ctxmind/ctxmind/internal/store"
)

// toMemoryResult renders a stored memory, optionally carrying a ranked
// result's distance/rank/confidence, onto the wire shape.
func toMemoryResult(m *store.Memory, scored *retrieval.Scored) MemoryResult {
	r := MemoryResult{
		ID:         m.ID,
		Content:    m.Content,
		Summary:    m.Summary,
		Sector:     string(m.Sector),
		Tier:       string(m.Tier),
		MemoryType: string(m.MemoryType),
		Salience:   m.Salience,
		Importance: m.Importance,
		Tags:       m.Tags,
		Superseded: m.SupersededBy != "",
	}
	if scored != nil {
		r.Distance = scored.Distance
		r.Rank = scored.Rank
		r.Confidence = scored.Confidence
	}
	return r
}

// HandleMemorySearch runs the ranked memory retrieval path for one project.
func (d *Daemon) HandleMemorySearch(ctx context.Context, params MemorySearchParams) (MemorySearchResult, error) {
	_, handle, err := d.registry.Resolve(ctx, params.RootPath)
	if err != nil {
		return MemorySearchResult{}, err
	}

	embedder := d.embedderOrFallback()
	lc := memory.NewLifecycle(handle.Store, memory.DefaultDecayParams(), nil)
	var vectors store.VectorStore
	if vs, vecErr := handle.MemoryVectorStore(ctx, embedder.Dimensions()); vecErr == nil {
		vectors = vs
	}
	engine := retrieval.NewMemoryEngine(handle.Store, embedder, vectors, lc, nil)

	filter := store.MemoryFilter{
		Sector:            store.Sector(params.Sector),
		Tier:              store.Tier(params.Tier),
		MemoryType:        store.MemoryType(params.MemoryType),
		MinSalience:       params.MinSalience,
		ScopePathPrefix:   params.ScopePathPrefix,
		ScopeModule:       params.ScopeModule,
		SessionID:         params.SessionID,
		IncludeSuperseded: params.IncludeSuperseded,
	}
	opts := retrieval.DefaultMemorySearchOptions()
	opts.Limit = params.Limit
	opts.Adaptive = params.Adaptive

	scored, quality, err := engine.Search(ctx, identity.ID, params.Query, filter, opts)
	if err != nil {
		return MemorySearchResult{}, err
	}

	results := make([]MemoryResult, 0, len(scored))
	for i := range scored {
		results = append(results, toMemoryResult(scored[i].Memory, &scored[i]))
	}
	return MemorySearchResult{
		Results: results,
		Quality: SearchQuality{
			BestDistance:        quality.BestDistance,
			HighConfidenceCount: quality.HighConfidenceCount,
			LowConfidence:       quality.LowConfidence,
		},
	}, nil
}

// HandleMemoryAdd inserts a memory directly (bypassing the session
// accumulator/extractor pipeline), applying the same insert-time
// duplicate suppression the hook-driven path uses.
func (d *Daemon) HandleMemoryAdd(ctx context.Context, params MemoryAddParams) (MemoryAddResult, error) {
	identity, handle, err := d.registry.Resolve(ctx, params.RootPath)
	if err != nil {
		return MemoryAddResult{}, err
	}

	contentHash := memory.ContentHash(params.Content)
	if existing, err := handle.Store.FindByContentHash(ctx, identity.ID, contentHash); err != nil {
		return MemoryAddResult{}, err
	} else if existing != nil {
		return MemoryAddResult{ID: existing.ID, IsDuplicate: true}, nil
	}

	simhash := memory.SimHash(params.Content)
	candidates, err := handle.Store.CandidatesBySimhashNeighborhood(ctx, identity.ID, 10)
	if err != nil {
		return MemoryAddResult{}, err
	}
	if dup := memory.Classify(params.Content, contentHash, simhash, candidates, memory.DefaultDedupConfig()); dup.Kind != memory.DuplicateNone {
		return MemoryAddResult{ID: dup.ExistingID, IsDuplicate: true}, nil
	}

	sector := store.Sector(params.Sector)
	if sector == "" {
		sector = store.SectorEpisodic
	}
	memType := store.MemoryType(params.MemoryType)
	if memType == "" {
		memType = store.MemoryTypeCodebase
	}
	importance := params.Importance
	if importance == 0 {
		importance = 0.5
	}

	now := time.Now().UTC()
	m := &store.Memory{
		ID:          ids.New(),
		ProjectID:   identity.ID,
		Content:     params.Content,
		Sector:      sector,
		Tier:        store.TierSession,
		MemoryType:  memType,
		Salience:    0.6,
		Importance:  importance,
		CreatedAt:   now,
		UpdatedAt:   now,
		Tags:        params.Tags,
		SessionID:   params.SessionID,
		ContentHash: contentHash,
		SimHash:     simhash,
	}
	if err := handle.Store.SaveMemory(ctx, m); err != nil {
		return MemoryAddResult{}, err
	}
	if params.SessionID != "" {
		_ = handle.Store.LinkSessionMemory(ctx, &store.SessionMemoryLink{
			SessionID: params.SessionID, MemoryID: m.ID, Usage: store.UsageCreated, CreatedAt: now,
		})
	}
	_ = entity.NewResolver(handle.Store).ResolveAndLink(ctx, m)
	d.embedAndSaveMemory(ctx, handle, m)

	return MemoryAddResult{ID: m.ID}, nil
}

// embedAndSaveMemory computes and stores m's embedding so memory_search's
// nearest-neighbor path can find it; a failure leaves the row reachable
// only via the substring fallback, which is not worth failing the add for.
// It also indexes the new vector into the project's cached HNSW memory
// graph so it's searchable without waiting for the next full rebuild.
func (d *Daemon) embedAndSaveMemory(ctx context.Context, handle *project.Handle, m *store.Memory) {
	embedder := d.embedderOrFallback()
	vec, err := embedder.Embed(ctx, m.Content)
	if err != nil {
		return
	}
	if err := handle.Store.SaveMemoryEmbedding(ctx, m.ID, vec, embedder.ModelName()); err != nil {
		return
	}
	handle.IndexMemoryVector(ctx, m.ID, vec)
}

// resolveMemory resolves an id/prefix to a single memory for rootPath's
// project, or an error when it matches zero or more than one row.
func (d *Daemon) resolveMemory(ctx context.Context, rootPath, idPrefix string) (*store.Memory, *handleRef, error) {
	_, handle, err := d.registry.Resolve(ctx, rootPath)
	if err != nil {
		return nil, nil, err
	}
	m, err := handle.Store.FindMemoryByPrefix(ctx, idPrefix)
	if err != nil {
		return nil, nil, err
	}
	if m == nil {
		return nil, nil, fmt.Errorf("memory not found: %s", idPrefix)
	}
	return m, &handleRef{store: handle.Store}, nil
}

// handleRef is the narrow subset of project.Handle the memory handlers
// need; kept separate so this file doesn't import project for its own
// sake beyond the registry already threaded through Daemon.
type handleRef struct {
	store store.MemoryStore
}

// HandleMemoryGet fetches a single memory by id or ≥6-character prefix.
func (d *Daemon) HandleMemoryGet(ctx context.Context, params MemoryIDParams) (MemoryResult, error) {
	m, _, err := d.resolveMemory(ctx, params.RootPath, params.ID)
	if err != nil {
		return MemoryResult{}, err
	}
	return toMemoryResult(m, nil), nil
}

// HandleMemoryList lists memories for a project under an optional filter.
func (d *Daemon) HandleMemoryList(ctx context.Context, params MemoryListParams) (MemoryListResult, error) {
	identity, handle, err := d.registry.Resolve(ctx, params.RootPath)
	if err != nil {
		return MemoryListResult{}, err
	}
	filter := store.MemoryFilter{
		Sector:     store.Sector(params.Sector),
		Tier:       store.Tier(params.Tier),
		MemoryType: store.MemoryType(params.MemoryType),
		SessionID:  params.SessionID,
	}
	memories, err := handle.Store.ListMemories(ctx, identity.ID, filter, params.Limit)
	if err != nil {
		return MemoryListResult{}, err
	}
	return MemoryListResult{Memories: toMemoryResults(memories)}, nil
}

func toMemoryResults(memories []*store.Memory) []MemoryResult {
	out := make([]MemoryResult, 0, len(memories))
	for _, m := range memories {
		out = append(out, toMemoryResult(m, nil))
	}
	return out
}

// HandleMemoryReinforce strengthens a memory's salience.
func (d *Daemon) HandleMemoryReinforce(ctx context.Context, params MemoryIDParams) (MemoryResult, error) {
	m, ref, err := d.resolveMemory(ctx, params.RootPath, params.ID)
	if err != nil {
		return MemoryResult{}, err
	}
	lc := memory.NewLifecycle(ref.store, memory.DefaultDecayParams(), nil)
	delta := params.Delta
	if delta == 0 {
		delta = 0.1
	}
	updated, err := lc.Reinforce(ctx, m.ID, delta)
	if err != nil {
		return MemoryResult{}, err
	}
	return toMemoryResult(updated, nil), nil
}

// HandleMemoryDeemphasize weakens a memory's salience.
func (d *Daemon) HandleMemoryDeemphasize(ctx context.Context, params MemoryIDParams) (MemoryResult, error) {
	m, ref, err := d.resolveMemory(ctx, params.RootPath, params.ID)
	if err != nil {
		return MemoryResult{}, err
	}
	lc := memory.NewLifecycle(ref.store, memory.DefaultDecayParams(), nil)
	delta := params.Delta
	if delta == 0 {
		delta = 0.1
	}
	updated, err := lc.Deemphasize(ctx, m.ID, delta)
	if err != nil {
		return MemoryResult{}, err
	}
	return toMemoryResult(updated, nil), nil
}

// HandleMemoryDelete soft-deletes (or, with HardDelete, permanently
// removes) a memory.
func (d *Daemon) HandleMemoryDelete(ctx context.Context, params MemoryIDParams) error {
	m, ref, err := d.resolveMemory(ctx, params.RootPath, params.ID)
	if err != nil {
		return err
	}
	lc := memory.NewLifecycle(ref.store, memory.DefaultDecayParams(), nil)
	if params.HardDelete {
		return lc.HardDelete(ctx, m.ID)
	}
	return lc.SoftDelete(ctx, m.ID)
}

// HandleMemoryRestore undoes a soft delete.
func (d *Daemon) HandleMemoryRestore(ctx context.Context, params MemoryIDParams) (MemoryResult, error) {
	m, ref, err := d.resolveMemory(ctx, params.RootPath, params.ID)
	if err != nil {
		return MemoryResult{}, err
	}
	lc := memory.NewLifecycle(ref.store, memory.DefaultDecayParams(), nil)
	if err := lc.Restore(ctx, m.ID); err != nil {
		return MemoryResult{}, err
	}
	restored, err := ref.store.GetMemory(ctx, m.ID)
	if err != nil {
		return MemoryResult{}, err
	}
	return toMemoryResult(restored, nil), nil
}

// HandleMemoryListDeleted lists soft-deleted memories for a project.
func (d *Daemon) HandleMemoryListDeleted(ctx context.Context, params MemoryListParams) (MemoryListResult, error) {
	identity, handle, err := d.registry.Resolve(ctx, params.RootPath)
	if err != nil {
		return MemoryListResult{}, err
	}
	memories, err := handle.Store.ListDeletedMemories(ctx, identity.ID, params.Limit)
	if err != nil {
		return MemoryListResult{}, err
	}
	return MemoryListResult{Memories: toMemoryResults(memories)}, nil
}

// HandleMemorySupersede marks params.ID superseded by params.NewID.
func (d *Daemon) HandleMemorySupersede(ctx context.Context, params MemoryIDParams) error {
	old, ref, err := d.resolveMemory(ctx, params.RootPath, params.ID)
	if err != nil {
		return err
	}
	replacement, _, err := d.resolveMemory(ctx, params.RootPath, params.NewID)
	if err != nil {
		return err
	}
	lc := memory.NewLifecycle(ref.store, memory.DefaultDecayParams(), nil)
	return lc.Supersede(ctx, old.ID, replacement.ID)
}

// HandleMemoryTimeline returns a project's memories in creation order,
// optionally scoped to one session.
func (d *Daemon) HandleMemoryTimeline(ctx context.Context, params MemoryListParams) (MemoryListResult, error) {
	return d.HandleMemoryList(ctx, params)
}

// HandleMemoryRelated returns the memories on either end of a
// relationship edge touching params.ID.
func (d *Daemon) HandleMemoryRelated(ctx context.Context, params MemoryIDParams) (MemoryListResult, error) {
	m, ref, err := d.resolveMemory(ctx, params.RootPath, params.ID)
	if err != nil {
		return MemoryListResult{}, err
	}

	from, err := ref.store.RelationshipsFrom(ctx, m.ID)
	if err != nil {
		return MemoryListResult{}, err
	}
	to, err := ref.store.RelationshipsTo(ctx, m.ID)
	if err != nil {
		return MemoryListResult{}, err
	}

	seen := make(map[string]bool)
	var related []*store.Memory
	for _, r := range from {
		if seen[r.ToMemoryID] {
			continue
		}
		seen[r.ToMemoryID] = true
		if rm, err := ref.store.GetMemory(ctx, r.ToMemoryID); err == nil {
			related = append(related, rm)
		}
	}
	for _, r := range to {
		if seen[r.FromMemoryID] {
			continue
		}
		seen[r.FromMemoryID] = true
		if rm, err := ref.store.GetMemory(ctx, r.FromMemoryID); err == nil {
			related = append(related, rm)
		}
	}

	return MemoryListResult{Memories: toMemoryResults(related)}, nil
}

// HandleHook decodes a hook event's untyped params into the event's
// specific payload shape and dispatches it onto the hook handler.
func (d *Daemon) HandleHook(ctx context.Context, params HookParams) (HookResult, error) {
	event := hooks.Event(params.Event)

	payload, err := decodeHookPayload(event, params.Params)
	if err != nil {
		return HookResult{}, err
	}

	result, err := d.hooks.Dispatch(ctx, event, payload)
	if err != nil {
		return HookResult{}, err
	}
	return HookResult{ProjectID: result.ProjectID, ProjectName: result.ProjectName, Warning: result.Warning}, nil
}

func decodeHookPayload(event hooks.Event, raw any) (any, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}

	switch event {
	case hooks.EventSessionStart:
		var p hooks.SessionStartParams
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case hooks.EventSessionEnd:
		var p hooks.SessionEndParams
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case hooks.EventUserPromptSubmit:
		var p hooks.UserPromptParams
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case hooks.EventPostToolUse:
		var p hooks.PostToolUseParams
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case hooks.EventPreCompact, hooks.EventStop:
		var p hooks.FlushParams
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, nil
	}
}
