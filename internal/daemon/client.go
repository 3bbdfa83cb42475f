package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"
	"time"
)

// Client connects to the daemon for search operations.
type Client struct {
	socketPath string
	timeout    time.Duration
	requestID  atomic.Uint64
}

// NewClient creates a new daemon client.
func NewClient(cfg Config) *Client {
	return &Client{
		socketPath: cfg.SocketPath,
		timeout:    cfg.Timeout,
	}
}

// Connect establishes a connection to the daemon.
func (c *Client) Connect() (net.Conn, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}
	return conn, nil
}

// IsRunning checks if the daemon is accepting connections.
func (c *Client) IsRunning() bool {
	conn, err := c.Connect()
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Ping checks if the daemon is responsive.
func (c *Client) Ping(ctx context.Context) error {
	conn, err := c.Connect()
	if err != nil {
		return err
	}
	defer conn.Close()

	// Set deadline from context or timeout
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set deadline: %w", err)
	}

	req := Request{
		JSONRPC: "2.0",
		Method:  MethodPing,
		ID:      c.nextID(),
	}

	if err := c.send(conn, req); err != nil {
		return err
	}

	resp, err := c.receive(conn)
	if err != nil {
		return err
	}

	if resp.Error != nil {
		return fmt.Errorf("ping failed: %s", resp.Error.Message)
	}

	return nil
}

// Search sends a search request to the daemon.
func (c *Client) Search(ctx context.Context, params SearchParams) ([]SearchResult, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	conn, err := c.Connect()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	// Set deadline from context or timeout
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}

	req := Request{
		JSONRPC: "2.0",
		Method:  MethodSearch,
		Params:  params,
		ID:      c.nextID(),
	}

	if err := c.send(conn, req); err != nil {
		return nil, err
	}

	resp, err := c.receive(conn)
	if err != nil {
		return nil, err
	}

	if resp.Error != nil {
		return nil, fmt.Errorf("search failed: %s (code: %d)", resp.Error.Message, resp.Error.Code)
	}

	// Decode results
	resultData, err := json.Marshal(resp.Result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	var results []SearchResult
	if err := json.Unmarshal(resultData, &results); err != nil {
		return nil, fmt.Errorf("failed to decode results: %w", err)
	}

	return results, nil
}

// Status retrieves daemon status.
func (c *Client) Status(ctx context.Context) (*StatusResult, error) {
	conn, err := c.Connect()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	// Set deadline from context or timeout
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}

	req := Request{
		JSONRPC: "2.0",
		Method:  MethodStatus,
		ID:      c.nextID(),
	}

	if err := c.send(conn, req); err != nil {
		return nil, err
	}

	resp, err := c.receive(conn)
	if err != nil {
		return nil, err
	}

	if resp.Error != nil {
		return nil, fmt.Errorf("status failed: %s", resp.Error.Message)
	}

	// Decode status
	resultData, err := json.Marshal(resp.Result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	var status StatusResult
	if err := json.Unmarshal(resultData, &status); err != nil {
		return nil, fmt.Errorf("failed to decode status: %w", err)
	}

	return &status, nil
}

// call sends a request for method with params and decodes the result into
// out (which must be a pointer, or nil to discard the result). Shared by
// every typed Client method beyond Ping/Search/Status so each of those
// doesn't have to re-implement connect/deadline/send/receive.
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	conn, err := c.Connect()
	if err != nil {
		return err
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set deadline: %w", err)
	}

	req := Request{JSONRPC: "2.0", Method: method, Params: params, ID: c.nextID()}
	if err := c.send(conn, req); err != nil {
		return err
	}

	resp, err := c.receive(conn)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return fmt.Errorf("%s failed: %s (code: %d)", method, resp.Error.Message, resp.Error.Code)
	}
	if out == nil {
		return nil
	}

	resultData, err := json.Marshal(resp.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := json.Unmarshal(resultData, out); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}
	return nil
}

// MemorySearch sends a memory_search request to the daemon.
func (c *Client) MemorySearch(ctx context.Context, params MemorySearchParams) (MemorySearchResult, error) {
	var out MemorySearchResult
	err := c.call(ctx, MethodMemorySearch, params, &out)
	return out, err
}

// MemoryAdd sends a memory_add request to the daemon.
func (c *Client) MemoryAdd(ctx context.Context, params MemoryAddParams) (MemoryAddResult, error) {
	var out MemoryAddResult
	err := c.call(ctx, MethodMemoryAdd, params, &out)
	return out, err
}

// MemoryGet sends a memory_get request to the daemon.
func (c *Client) MemoryGet(ctx context.Context, params MemoryIDParams) (MemoryResult, error) {
	var out MemoryResult
	err := c.call(ctx, MethodMemoryGet, params, &out)
	return out, err
}

// MemoryList sends a memory_list request to the daemon.
func (c *Client) MemoryList(ctx context.Context, params MemoryListParams) (MemoryListResult, error) {
	var out MemoryListResult
	err := c.call(ctx, MethodMemoryList, params, &out)
	return out, err
}

// MemoryReinforce sends a memory_reinforce request to the daemon.
func (c *Client) MemoryReinforce(ctx context.Context, params MemoryIDParams) (MemoryResult, error) {
	var out MemoryResult
	err := c.call(ctx, MethodMemoryReinforce, params, &out)
	return out, err
}

// MemoryDeemphasize sends a memory_deemphasize request to the daemon.
func (c *Client) MemoryDeemphasize(ctx context.Context, params MemoryIDParams) (MemoryResult, error) {
	var out MemoryResult
	err := c.call(ctx, MethodMemoryDeemphasize, params, &out)
	return out, err
}

// MemoryDelete sends a memory_delete request to the daemon.
func (c *Client) MemoryDelete(ctx context.Context, params MemoryIDParams) error {
	return c.call(ctx, MethodMemoryDelete, params, nil)
}

// MemoryRestore sends a memory_restore request to the daemon.
func (c *Client) MemoryRestore(ctx context.Context, params MemoryIDParams) (MemoryResult, error) {
	var out MemoryResult
	err := c.call(ctx, MethodMemoryRestore, params, &out)
	return out, err
}

// MemoryListDeleted sends a memory_list_deleted request to the daemon.
func (c *Client) MemoryListDeleted(ctx context.Context, params MemoryListParams) (MemoryListResult, error) {
	var out MemoryListResult
	err := c.call(ctx, MethodMemoryListDeleted, params, &out)
	return out, err
}

// MemorySupersede sends a memory_supersede request to the daemon.
func (c *Client) MemorySupersede(ctx context.Context, params MemoryIDParams) error {
	return c.call(ctx, MethodMemorySupersede, params, nil)
}

// MemoryTimeline sends a memory_timeline request to the daemon.
func (c *Client) MemoryTimeline(ctx context.Context, params MemoryListParams) (MemoryListResult, error) {
	var out MemoryListResult
	err := c.call(ctx, MethodMemoryTimeline, params, &out)
	return out, err
}

// MemoryRelated sends a memory_related request to the daemon.
func (c *Client) MemoryRelated(ctx context.Context, params MemoryIDParams) (MemoryListResult, error) {
	var out MemoryListResult
	err := c.call(ctx, MethodMemoryRelated, params, &out)
	return out, err
}

// Hook sends a hook request to the daemon.
func (c *Client) Hook(ctx context.Context, params HookParams) (HookResult, error) {
	var out HookResult
	err := c.call(ctx, MethodHook, params, &out)
	return out, err
}

// HealthCheck sends a health_check request to the daemon.
func (c *Client) HealthCheck(ctx context.Context, params HealthCheckParams) (HealthCheckResult, error) {
	var out HealthCheckResult
	err := c.call(ctx, MethodHealthCheck, params, &out)
	return out, err
}

// CodeSearch runs a search scoped to code chunks.
func (c *Client) CodeSearch(ctx context.Context, params SearchParams) ([]SearchResult, error) {
	var out []SearchResult
	err := c.call(ctx, MethodCodeSearch, params, &out)
	return out, err
}

// CodeList sends a code_list request to the daemon.
func (c *Client) CodeList(ctx context.Context, params CodeListParams) (CodeListResult, error) {
	var out CodeListResult
	err := c.call(ctx, MethodCodeList, params, &out)
	return out, err
}

// CodeIndex sends a code_index request to the daemon.
func (c *Client) CodeIndex(ctx context.Context, params CodeIndexParams) (CodeIndexResult, error) {
	var out CodeIndexResult
	err := c.call(ctx, MethodCodeIndex, params, &out)
	return out, err
}

// CodeImportChunk sends a code_import_chunk request to the daemon.
func (c *Client) CodeImportChunk(ctx context.Context, params CodeImportChunkParams) (CodeImportChunkResult, error) {
	var out CodeImportChunkResult
	err := c.call(ctx, MethodCodeImportChunk, params, &out)
	return out, err
}

// CodeStats sends a code_stats request to the daemon.
func (c *Client) CodeStats(ctx context.Context, params RootPathParams) (CodeStatsResult, error) {
	var out CodeStatsResult
	err := c.call(ctx, MethodCodeStats, params, &out)
	return out, err
}

// DocsSearch runs a search scoped to document chunks.
func (c *Client) DocsSearch(ctx context.Context, params SearchParams) ([]SearchResult, error) {
	var out []SearchResult
	err := c.call(ctx, MethodDocsSearch, params, &out)
	return out, err
}

// DocsIngest sends a docs_ingest request to the daemon.
func (c *Client) DocsIngest(ctx context.Context, params DocsIngestParams) (DocsIngestResult, error) {
	var out DocsIngestResult
	err := c.call(ctx, MethodDocsIngest, params, &out)
	return out, err
}

// EntityList sends an entity_list request to the daemon.
func (c *Client) EntityList(ctx context.Context, params EntityListParams) (EntityListResult, error) {
	var out EntityListResult
	err := c.call(ctx, MethodEntityList, params, &out)
	return out, err
}

// EntityGet sends an entity_get request to the daemon.
func (c *Client) EntityGet(ctx context.Context, params EntityGetParams) (EntityResult, error) {
	var out EntityResult
	err := c.call(ctx, MethodEntityGet, params, &out)
	return out, err
}

// EntityTop sends an entity_top request to the daemon.
func (c *Client) EntityTop(ctx context.Context, params EntityListParams) (EntityListResult, error) {
	var out EntityListResult
	err := c.call(ctx, MethodEntityTop, params, &out)
	return out, err
}

// RelationshipAdd sends a relationship_add request to the daemon.
func (c *Client) RelationshipAdd(ctx context.Context, params RelationshipAddParams) (RelationshipAddResult, error) {
	var out RelationshipAddResult
	err := c.call(ctx, MethodRelationshipAdd, params, &out)
	return out, err
}

// RelationshipList sends a relationship_list request to the daemon.
func (c *Client) RelationshipList(ctx context.Context, params RelationshipListParams) (RelationshipListResult, error) {
	var out RelationshipListResult
	err := c.call(ctx, MethodRelationshipList, params, &out)
	return out, err
}

// RelationshipDelete sends a relationship_delete request to the daemon.
func (c *Client) RelationshipDelete(ctx context.Context, params RelationshipDeleteParams) error {
	return c.call(ctx, MethodRelationshipDelete, params, nil)
}

// RelationshipRelated sends a relationship_related request to the daemon.
func (c *Client) RelationshipRelated(ctx context.Context, params RelationshipListParams) (MemoryListResult, error) {
	var out MemoryListResult
	err := c.call(ctx, MethodRelationshipRelated, params, &out)
	return out, err
}

// WatchStart sends a watch_start request to the daemon.
func (c *Client) WatchStart(ctx context.Context, params WatchParams) (WatchStatusResult, error) {
	var out WatchStatusResult
	err := c.call(ctx, MethodWatchStart, params, &out)
	return out, err
}

// WatchStop sends a watch_stop request to the daemon.
func (c *Client) WatchStop(ctx context.Context, params WatchParams) (WatchStatusResult, error) {
	var out WatchStatusResult
	err := c.call(ctx, MethodWatchStop, params, &out)
	return out, err
}

// WatchStatus sends a watch_status request to the daemon.
func (c *Client) WatchStatus(ctx context.Context, params WatchParams) (WatchStatusResult, error) {
	var out WatchStatusResult
	err := c.call(ctx, MethodWatchStatus, params, &out)
	return out, err
}

// ProjectStats sends a project_stats request to the daemon.
func (c *Client) ProjectStats(ctx context.Context, params ProjectStatsParams) (ProjectStatsResult, error) {
	var out ProjectStatsResult
	err := c.call(ctx, MethodProjectStats, params, &out)
	return out, err
}

// MigrateEmbedding sends a migrate_embedding request to the daemon.
func (c *Client) MigrateEmbedding(ctx context.Context, params MigrateEmbeddingParams) (MigrateEmbeddingResult, error) {
	var out MigrateEmbeddingResult
	err := c.call(ctx, MethodMigrateEmbedding, params, &out)
	return out, err
}

// send encodes and writes a request to the connection.
func (c *Client) send(conn net.Conn, req Request) error {
	encoder := json.NewEncoder(conn)
	if err := encoder.Encode(req); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	return nil
}

// receive reads and decodes a response from the connection.
func (c *Client) receive(conn net.Conn) (*Response, error) {
	decoder := json.NewDecoder(conn)
	var resp Response
	if err := decoder.Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to receive response: %w", err)
	}
	return &resp, nil
}

// nextID generates a unique request ID.
func (c *Client) nextID() string {
	id := c.requestID.Add(1)
	return fmt.Sprintf("req-%d", id)
}
