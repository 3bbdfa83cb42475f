package mcp

import (
	"context"
	"time"

	gosdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ctxmind/ctxmind/internal/entity"
	"github.com/ctxmind/ctxmind/internal/ids"
	"github.com/ctxmind/ctxmind/internal/memory"
	"github.com/ctxmind/ctxmind/internal/retrieval"
	"github.com/ctxmind/ctxmind/internal/store"
)

// MemorySearchInput defines the input schema for the memory_search tool.
type MemorySearchInput struct {
	Query      string  `json:"query" jsonschema:"the memory search query to execute"`
	Limit      int     `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
	Sector     string  `json:"sector,omitempty" jsonschema:"filter by sector: episodic, semantic, procedural, emotional, reflective"`
	Tier       string  `json:"tier,omitempty" jsonschema:"filter by tier: session, project, global"`
	MemoryType string  `json:"memory_type,omitempty" jsonschema:"filter by memory type"`
	ScopePath  string  `json:"scope_path,omitempty" jsonschema:"restrict to memories scoped under this path prefix"`
	MinSalience float64 `json:"min_salience,omitempty" jsonschema:"minimum salience threshold"`
}

// MemorySearchOutput defines the output schema for the memory_search tool.
type MemorySearchOutput struct {
	Results []MemoryOutput `json:"results" jsonschema:"ranked memory results"`
}

// MemoryOutput is the MCP-facing representation of one memory.
type MemoryOutput struct {
	ID         string   `json:"id"`
	Content    string   `json:"content"`
	Sector     string   `json:"sector"`
	Tier       string   `json:"tier"`
	MemoryType string   `json:"memory_type"`
	Salience   float64  `json:"salience"`
	Importance float64  `json:"importance"`
	Tags       []string `json:"tags,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`
}

// MemoryAddInput defines the input schema for the memory_add tool.
type MemoryAddInput struct {
	Content    string   `json:"content" jsonschema:"the memory content to store"`
	Sector     string   `json:"sector,omitempty" jsonschema:"sector: episodic, semantic, procedural, emotional, reflective (default episodic)"`
	MemoryType string   `json:"memory_type,omitempty" jsonschema:"memory type (default codebase)"`
	Importance float64  `json:"importance,omitempty" jsonschema:"importance 0-1, default 0.5"`
	Tags       []string `json:"tags,omitempty" jsonschema:"free-form tags"`
}

// MemoryAddOutput defines the output schema for the memory_add tool.
type MemoryAddOutput struct {
	ID          string `json:"id"`
	IsDuplicate bool   `json:"is_duplicate"`
}

// MemoryIDInput identifies a single memory by id or ≥6-character prefix.
type MemoryIDInput struct {
	ID string `json:"id" jsonschema:"memory id or unique prefix"`
}

// MemoryListInput defines the input schema for the memory_list tool.
type MemoryListInput struct {
	Limit      int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 50"`
	Sector     string `json:"sector,omitempty" jsonschema:"filter by sector"`
	Tier       string `json:"tier,omitempty" jsonschema:"filter by tier"`
	MemoryType string `json:"memory_type,omitempty" jsonschema:"filter by memory type"`
}

// MemoryListOutput defines the output schema for memory_list/memory_related.
type MemoryListOutput struct {
	Memories []MemoryOutput `json:"memories"`
}

// MemoryDeleteOutput defines the output schema for the memory_delete tool.
type MemoryDeleteOutput struct {
	Deleted bool `json:"deleted"`
}

func toMemoryOutput(m *store.Memory) MemoryOutput {
	return MemoryOutput{
		ID: m.ID, Content: m.Content, Sector: string(m.Sector), Tier: string(m.Tier),
		MemoryType: string(m.MemoryType), Salience: m.Salience, Importance: m.Importance, Tags: m.Tags,
	}
}

func memoryToolInfos() []ToolInfo {
	return []ToolInfo{
		{Name: "memory_search", Description: "Search this project's remembered context by meaning: prior decisions, gotchas, and preferences surfaced during earlier sessions."},
		{Name: "memory_add", Description: "Store a new memory for this project: a decision, preference, or gotcha worth recalling in future sessions."},
		{Name: "memory_get", Description: "Fetch a single memory by id or unique id prefix."},
		{Name: "memory_list", Description: "List this project's memories, optionally filtered by sector, tier, or type."},
		{Name: "memory_reinforce", Description: "Increase a memory's salience after it proves useful."},
		{Name: "memory_delete", Description: "Soft-delete a memory that is no longer accurate or relevant."},
		{Name: "memory_related", Description: "List memories linked to a given memory through recorded relationships."},
	}
}

// registerMemoryTools registers the memory_* tools with the MCP server.
// Called once from SetMemoryStore, after the memory store is known.
func (s *Server) registerMemoryTools() {
	s.logger.Debug("Registering memory MCP tools")

	gosdkmcp.AddTool(s.mcp, &gosdkmcp.Tool{
		Name:        "memory_search",
		Description: "Search this project's remembered context by meaning: prior decisions, gotchas, and preferences surfaced during earlier sessions.",
	}, s.mcpMemorySearchHandler)
	gosdkmcp.AddTool(s.mcp, &gosdkmcp.Tool{
		Name:        "memory_add",
		Description: "Store a new memory for this project: a decision, preference, or gotcha worth recalling in future sessions.",
	}, s.mcpMemoryAddHandler)
	gosdkmcp.AddTool(s.mcp, &gosdkmcp.Tool{
		Name:        "memory_get",
		Description: "Fetch a single memory by id or unique id prefix.",
	}, s.mcpMemoryGetHandler)
	gosdkmcp.AddTool(s.mcp, &gosdkmcp.Tool{
		Name:        "memory_list",
		Description: "List this project's memories, optionally filtered by sector, tier, or type.",
	}, s.mcpMemoryListHandler)
	gosdkmcp.AddTool(s.mcp, &gosdkmcp.Tool{
		Name:        "memory_reinforce",
		Description: "Increase a memory's salience after it proves useful.",
	}, s.mcpMemoryReinforceHandler)
	gosdkmcp.AddTool(s.mcp, &gosdkmcp.Tool{
		Name:        "memory_delete",
		Description: "Soft-delete a memory that is no longer accurate or relevant.",
	}, s.mcpMemoryDeleteHandler)
	gosdkmcp.AddTool(s.mcp, &gosdkmcp.Tool{
		Name:        "memory_related",
		Description: "List memories linked to a given memory through recorded relationships.",
	}, s.mcpMemoryRelatedHandler)

	s.logger.Info("memory MCP tools registered", "count", 7)
}

func (s *Server) mcpMemorySearchHandler(ctx context.Context, _ *gosdkmcp.CallToolRequest, input MemorySearchInput) (
	*gosdkmcp.CallToolResult, MemorySearchOutput, error,
) {
	if input.Query == "" {
		return nil, MemorySearchOutput{}, NewInvalidParamsError("query parameter is required")
	}

	filter := store.MemoryFilter{
		Sector:          store.Sector(input.Sector),
		Tier:            store.Tier(input.Tier),
		MemoryType:      store.MemoryType(input.MemoryType),
		MinSalience:     input.MinSalience,
		ScopePathPrefix: input.ScopePath,
	}
	opts := retrieval.DefaultMemorySearchOptions()
	if input.Limit > 0 {
		opts.Limit = input.Limit
	}

	scored, _, err := s.memEngine.Search(ctx, s.projectID, input.Query, filter, opts)
	if err != nil {
		return nil, MemorySearchOutput{}, MapError(err)
	}

	out := MemorySearchOutput{Results: make([]MemoryOutput, 0, len(scored))}
	for _, sc := range scored {
		mo := toMemoryOutput(sc.Memory)
		mo.Confidence = sc.Confidence
		out.Results = append(out.Results, mo)
	}
	return nil, out, nil
}

func (s *Server) mcpMemoryAddHandler(ctx context.Context, _ *gosdkmcp.CallToolRequest, input MemoryAddInput) (
	*gosdkmcp.CallToolResult, MemoryAddOutput, error,
) {
	if input.Content == "" {
		return nil, MemoryAddOutput{}, NewInvalidParamsError("content parameter is required")
	}

	contentHash := memory.ContentHash(input.Content)
	if existing, err := s.memStore.FindByContentHash(ctx, s.projectID, contentHash); err != nil {
		return nil, MemoryAddOutput{}, MapError(err)
	} else if existing != nil {
		return nil, MemoryAddOutput{ID: existing.ID, IsDuplicate: true}, nil
	}

	simhash := memory.SimHash(input.Content)
	candidates, err := s.memStore.CandidatesBySimhashNeighborhood(ctx, s.projectID, 10)
	if err != nil {
		return nil, MemoryAddOutput{}, MapError(err)
	}
	if dup := memory.Classify(input.Content, contentHash, simhash, candidates, memory.DefaultDedupConfig()); dup.Kind != memory.DuplicateNone {
		return nil, MemoryAddOutput{ID: dup.ExistingID, IsDuplicate: true}, nil
	}

	sector := store.Sector(input.Sector)
	if sector == "" {
		sector = store.SectorEpisodic
	}
	memType := store.MemoryType(input.MemoryType)
	if memType == "" {
		memType = store.MemoryTypeCodebase
	}
	importance := input.Importance
	if importance == 0 {
		importance = 0.5
	}

	now := time.Now().UTC()
	m := &store.Memory{
		ID: ids.New(), ProjectID: s.projectID, Content: input.Content,
		Sector: sector, Tier: store.TierSession, MemoryType: memType,
		Salience: 0.6, Importance: importance,
		CreatedAt: now, UpdatedAt: now, Tags: input.Tags,
		ContentHash: contentHash, SimHash: simhash,
	}
	if err := s.memStore.SaveMemory(ctx, m); err != nil {
		return nil, MemoryAddOutput{}, MapError(err)
	}
	_ = entity.NewResolver(s.memStore).ResolveAndLink(ctx, m)
	s.embedAndSaveMemory(ctx, m)

	return nil, MemoryAddOutput{ID: m.ID}, nil
}

// embedAndSaveMemory computes and stores m's embedding so memory_search's
// nearest-neighbor path can find it; a failure leaves the row reachable
// only via the substring fallback. It also indexes the embedding into the
// cached HNSW memory graph so it's searchable without a full rebuild.
func (s *Server) embedAndSaveMemory(ctx context.Context, m *store.Memory) {
	if s.memEmbedder == nil {
		return
	}
	vec, err := s.memEmbedder.Embed(ctx, m.Content)
	if err != nil {
		return
	}
	if err := s.memStore.SaveMemoryEmbedding(ctx, m.ID, vec, s.memEmbedder.ModelName()); err != nil {
		return
	}
	s.indexMemoryVector(ctx, m.ID, vec)
}

func (s *Server) resolveMemory(ctx context.Context, idPrefix string) (*store.Memory, error) {
	m, err := s.memStore.FindMemoryByPrefix(ctx, idPrefix)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, NewInvalidParamsError("memory not found: " + idPrefix)
	}
	return m, nil
}

func (s *Server) mcpMemoryGetHandler(ctx context.Context, _ *gosdkmcp.CallToolRequest, input MemoryIDInput) (
	*gosdkmcp.CallToolResult, MemoryOutput, error,
) {
	m, err := s.resolveMemory(ctx, input.ID)
	if err != nil {
		return nil, MemoryOutput{}, err
	}
	return nil, toMemoryOutput(m), nil
}

func (s *Server) mcpMemoryListHandler(ctx context.Context, _ *gosdkmcp.CallToolRequest, input MemoryListInput) (
	*gosdkmcp.CallToolResult, MemoryListOutput, error,
) {
	limit := input.Limit
	if limit <= 0 {
		limit = 50
	}
	filter := store.MemoryFilter{
		Sector: store.Sector(input.Sector), Tier: store.Tier(input.Tier), MemoryType: store.MemoryType(input.MemoryType),
	}
	memories, err := s.memStore.ListMemories(ctx, s.projectID, filter, limit)
	if err != nil {
		return nil, MemoryListOutput{}, MapError(err)
	}
	out := MemoryListOutput{Memories: make([]MemoryOutput, 0, len(memories))}
	for _, m := range memories {
		out.Memories = append(out.Memories, toMemoryOutput(m))
	}
	return nil, out, nil
}

func (s *Server) mcpMemoryReinforceHandler(ctx context.Context, _ *gosdkmcp.CallToolRequest, input MemoryIDInput) (
	*gosdkmcp.CallToolResult, MemoryOutput, error,
) {
	m, err := s.resolveMemory(ctx, input.ID)
	if err != nil {
		return nil, MemoryOutput{}, err
	}
	updated, err := s.lifecycle.Reinforce(ctx, m.ID, 0.1)
	if err != nil {
		return nil, MemoryOutput{}, MapError(err)
	}
	return nil, toMemoryOutput(updated), nil
}

func (s *Server) mcpMemoryDeleteHandler(ctx context.Context, _ *gosdkmcp.CallToolRequest, input MemoryIDInput) (
	*gosdkmcp.CallToolResult, MemoryDeleteOutput, error,
) {
	m, err := s.resolveMemory(ctx, input.ID)
	if err != nil {
		return nil, MemoryDeleteOutput{}, err
	}
	if err := s.lifecycle.SoftDelete(ctx, m.ID); err != nil {
		return nil, MemoryDeleteOutput{}, MapError(err)
	}
	return nil, MemoryDeleteOutput{Deleted: true}, nil
}

func (s *Server) mcpMemoryRelatedHandler(ctx context.Context, _ *gosdkmcp.CallToolRequest, input MemoryIDInput) (
	*gosdkmcp.CallToolResult, MemoryListOutput, error,
) {
	m, err := s.resolveMemory(ctx, input.ID)
	if err != nil {
		return nil, MemoryListOutput{}, err
	}

	from, err := s.memStore.RelationshipsFrom(ctx, m.ID)
	if err != nil {
		return nil, MemoryListOutput{}, MapError(err)
	}
	to, err := s.memStore.RelationshipsTo(ctx, m.ID)
	if err != nil {
		return nil, MemoryListOutput{}, MapError(err)
	}

	seen := make(map[string]bool)
	out := MemoryListOutput{}
	for _, r := range from {
		if seen[r.ToMemoryID] {
			continue
		}
		seen[r.ToMemoryID] = true
		if rm, err := s.memStore.GetMemory(ctx, r.ToMemoryID); err == nil {
			out.Memories = append(out.Memories, toMemoryOutput(rm))
		}
	}
	for _, r := range to {
		if seen[r.FromMemoryID] {
			continue
		}
		seen[r.FromMemoryID] = true
		if rm, err := s.memStore.GetMemory(ctx, r.FromMemoryID); err == nil {
			out.Memories = append(out.Memories, toMemoryOutput(rm))
		}
	}
	return nil, out, nil
}
