package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"
)

// RequestHandler handles incoming RPC requests.
type RequestHandler interface {
	HandleSearch(ctx context.Context, params SearchParams) ([]SearchResult, error)
	GetStatus() StatusResult

	HandleMemorySearch(ctx context.Context, params MemorySearchParams) (MemorySearchResult, error)
	HandleMemoryAdd(ctx context.Context, params MemoryAddParams) (MemoryAddResult, error)
	HandleMemoryGet(ctx context.Context, params MemoryIDParams) (MemoryResult, error)
	HandleMemoryList(ctx context.Context, params MemoryListParams) (MemoryListResult, error)
	HandleMemoryReinforce(ctx context.Context, params MemoryIDParams) (MemoryResult, error)
	HandleMemoryDeemphasize(ctx context.Context, params MemoryIDParams) (MemoryResult, error)
	HandleMemoryDelete(ctx context.Context, params MemoryIDParams) error
	HandleMemoryRestore(ctx context.Context, params MemoryIDParams) (MemoryResult, error)
	HandleMemoryListDeleted(ctx context.Context, params MemoryListParams) (MemoryListResult, error)
	HandleMemorySupersede(ctx context.Context, params MemoryIDParams) error
	HandleMemoryTimeline(ctx context.Context, params MemoryListParams) (MemoryListResult, error)
	HandleMemoryRelated(ctx context.Context, params MemoryIDParams) (MemoryListResult, error)
	HandleHook(ctx context.Context, params HookParams) (HookResult, error)

	HandleHealthCheck(ctx context.Context, params HealthCheckParams) (HealthCheckResult, error)

	HandleCodeList(ctx context.Context, params CodeListParams) (CodeListResult, error)
	HandleCodeIndex(ctx context.Context, params CodeIndexParams) (CodeIndexResult, error)
	HandleCodeImportChunk(ctx context.Context, params CodeImportChunkParams) (CodeImportChunkResult, error)
	HandleCodeStats(ctx context.Context, params RootPathParams) (CodeStatsResult, error)

	HandleDocsIngest(ctx context.Context, params DocsIngestParams) (DocsIngestResult, error)

	HandleEntityList(ctx context.Context, params EntityListParams) (EntityListResult, error)
	HandleEntityGet(ctx context.Context, params EntityGetParams) (EntityResult, error)
	HandleEntityTop(ctx context.Context, params EntityListParams) (EntityListResult, error)

	HandleRelationshipAdd(ctx context.Context, params RelationshipAddParams) (RelationshipAddResult, error)
	HandleRelationshipList(ctx context.Context, params RelationshipListParams) (RelationshipListResult, error)
	HandleRelationshipDelete(ctx context.Context, params RelationshipDeleteParams) error
	HandleRelationshipRelated(ctx context.Context, params RelationshipListParams) (MemoryListResult, error)

	HandleWatchStart(ctx context.Context, params WatchParams) (WatchStatusResult, error)
	HandleWatchStop(ctx context.Context, params WatchParams) (WatchStatusResult, error)
	HandleWatchStatus(ctx context.Context, params WatchParams) (WatchStatusResult, error)

	HandleProjectStats(ctx context.Context, params ProjectStatsParams) (ProjectStatsResult, error)

	HandleMigrateEmbedding(ctx context.Context, params MigrateEmbeddingParams) (MigrateEmbeddingResult, error)
}

// Server listens on a Unix socket and handles RPC requests.
type Server struct {
	socketPath string
	listener   net.Listener
	handler    RequestHandler
	started    time.Time

	mu       sync.Mutex
	shutdown bool
	wg       sync.WaitGroup
}

// NewServer creates a new server that listens on the given socket path.
func NewServer(socketPath string) (*Server, error) {
	return &Server{
		socketPath: socketPath,
	}, nil
}

// SetHandler sets the request handler for search operations.
func (s *Server) SetHandler(h RequestHandler) {
	s.handler = h
}

// ListenAndServe starts the server and blocks until context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	// Clean up any stale socket
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.socketPath, err)
	}
	s.listener = listener
	s.started = time.Now()

	// Clean up socket on exit
	defer func() {
		_ = listener.Close()
		_ = os.Remove(s.socketPath)
	}()

	slog.Info("Server listening", slog.String("socket", s.socketPath))

	// Handle shutdown
	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			shutdown := s.shutdown
			s.mu.Unlock()
			if shutdown {
				break
			}
			slog.Error("Accept error", slog.String("error", err.Error()))
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	// Wait for active connections to finish
	s.wg.Wait()

	return ctx.Err()
}

// handleConnection processes a single client connection.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	// Set read deadline
	if err := conn.SetDeadline(time.Now().Add(30 * time.Second)); err != nil {
		slog.Warn("Failed to set connection deadline", slog.String("error", err.Error()))
	}

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	var req Request
	if err := decoder.Decode(&req); err != nil {
		resp := NewErrorResponse("", ErrCodeParseError, "failed to parse request")
		_ = encoder.Encode(resp)
		return
	}

	resp := s.handleRequest(ctx, req)
	_ = encoder.Encode(resp)
}

// handleRequest dispatches a request to the appropriate handler.
func (s *Server) handleRequest(ctx context.Context, req Request) Response {
	switch req.Method {
	case MethodPing:
		return NewSuccessResponse(req.ID, PingResult{Pong: true})

	case MethodStatus:
		status := s.getStatus()
		return NewSuccessResponse(req.ID, status)

	case MethodSearch:
		return s.handleSearch(ctx, req)

	case MethodMemorySearch:
		return dispatchMemory(ctx, s, req, (*Server).handleMemorySearch)
	case MethodMemoryAdd:
		return dispatchMemory(ctx, s, req, (*Server).handleMemoryAdd)
	case MethodMemoryGet:
		return dispatchMemory(ctx, s, req, (*Server).handleMemoryGet)
	case MethodMemoryList:
		return dispatchMemory(ctx, s, req, (*Server).handleMemoryList)
	case MethodMemoryReinforce:
		return dispatchMemory(ctx, s, req, (*Server).handleMemoryReinforce)
	case MethodMemoryDeemphasize:
		return dispatchMemory(ctx, s, req, (*Server).handleMemoryDeemphasize)
	case MethodMemoryDelete:
		return dispatchMemory(ctx, s, req, (*Server).handleMemoryDelete)
	case MethodMemoryRestore:
		return dispatchMemory(ctx, s, req, (*Server).handleMemoryRestore)
	case MethodMemoryListDeleted:
		return dispatchMemory(ctx, s, req, (*Server).handleMemoryListDeleted)
	case MethodMemorySupersede:
		return dispatchMemory(ctx, s, req, (*Server).handleMemorySupersede)
	case MethodMemoryTimeline:
		return dispatchMemory(ctx, s, req, (*Server).handleMemoryTimeline)
	case MethodMemoryRelated:
		return dispatchMemory(ctx, s, req, (*Server).handleMemoryRelated)
	case MethodHook:
		return dispatchMemory(ctx, s, req, (*Server).handleHook)

	case MethodHealthCheck:
		return dispatchMemory(ctx, s, req, (*Server).handleHealthCheck)

	case MethodCodeSearch:
		return s.handleScopedSearch(ctx, req, "code")
	case MethodDocsSearch:
		return s.handleScopedSearch(ctx, req, "docs")
	case MethodCodeList:
		return dispatchMemory(ctx, s, req, (*Server).handleCodeList)
	case MethodCodeIndex:
		return dispatchMemory(ctx, s, req, (*Server).handleCodeIndex)
	case MethodCodeImportChunk:
		return dispatchMemory(ctx, s, req, (*Server).handleCodeImportChunk)
	case MethodCodeStats:
		return dispatchMemory(ctx, s, req, (*Server).handleCodeStats)

	case MethodDocsIngest:
		return dispatchMemory(ctx, s, req, (*Server).handleDocsIngest)

	case MethodEntityList:
		return dispatchMemory(ctx, s, req, (*Server).handleEntityList)
	case MethodEntityGet:
		return dispatchMemory(ctx, s, req, (*Server).handleEntityGet)
	case MethodEntityTop:
		return dispatchMemory(ctx, s, req, (*Server).handleEntityTop)

	case MethodRelationshipAdd:
		return dispatchMemory(ctx, s, req, (*Server).handleRelationshipAdd)
	case MethodRelationshipList:
		return dispatchMemory(ctx, s, req, (*Server).handleRelationshipList)
	case MethodRelationshipDelete:
		return dispatchMemory(ctx, s, req, (*Server).handleRelationshipDelete)
	case MethodRelationshipRelated:
		return dispatchMemory(ctx, s, req, (*Server).handleRelationshipRelated)

	case MethodWatchStart:
		return dispatchMemory(ctx, s, req, (*Server).handleWatchStart)
	case MethodWatchStop:
		return dispatchMemory(ctx, s, req, (*Server).handleWatchStop)
	case MethodWatchStatus:
		return dispatchMemory(ctx, s, req, (*Server).handleWatchStatus)

	case MethodProjectStats:
		return dispatchMemory(ctx, s, req, (*Server).handleProjectStats)

	case MethodMigrateEmbedding:
		return dispatchMemory(ctx, s, req, (*Server).handleMigrateEmbedding)

	default:
		return NewErrorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

// dispatchMemory is the shared decode-then-call path for every
// memory/hook method: each carries its own params type, so the method
// itself does the json.Unmarshal after a generic re-marshal of req.Params.
func dispatchMemory(ctx context.Context, s *Server, req Request, fn func(*Server, context.Context, Request) Response) Response {
	if s.handler == nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, "no handler configured")
	}
	return fn(s, ctx, req)
}

func decodeParams(req Request, out any) error {
	data, err := json.Marshal(req.Params)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (s *Server) handleMemorySearch(ctx context.Context, req Request) Response {
	var params MemorySearchParams
	if err := decodeParams(req, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	result, err := s.handler.HandleMemorySearch(ctx, params)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeSearchFailed, err.Error())
	}
	return NewSuccessResponse(req.ID, result)
}

func (s *Server) handleMemoryAdd(ctx context.Context, req Request) Response {
	var params MemoryAddParams
	if err := decodeParams(req, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	result, err := s.handler.HandleMemoryAdd(ctx, params)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, err.Error())
	}
	return NewSuccessResponse(req.ID, result)
}

func (s *Server) handleMemoryGet(ctx context.Context, req Request) Response {
	var params MemoryIDParams
	if err := decodeParams(req, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	result, err := s.handler.HandleMemoryGet(ctx, params)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeMemoryNotFound, err.Error())
	}
	return NewSuccessResponse(req.ID, result)
}

func (s *Server) handleMemoryList(ctx context.Context, req Request) Response {
	var params MemoryListParams
	if err := decodeParams(req, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	result, err := s.handler.HandleMemoryList(ctx, params)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, err.Error())
	}
	return NewSuccessResponse(req.ID, result)
}

func (s *Server) handleMemoryReinforce(ctx context.Context, req Request) Response {
	var params MemoryIDParams
	if err := decodeParams(req, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	result, err := s.handler.HandleMemoryReinforce(ctx, params)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeMemoryNotFound, err.Error())
	}
	return NewSuccessResponse(req.ID, result)
}

func (s *Server) handleMemoryDeemphasize(ctx context.Context, req Request) Response {
	var params MemoryIDParams
	if err := decodeParams(req, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	result, err := s.handler.HandleMemoryDeemphasize(ctx, params)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeMemoryNotFound, err.Error())
	}
	return NewSuccessResponse(req.ID, result)
}

func (s *Server) handleMemoryDelete(ctx context.Context, req Request) Response {
	var params MemoryIDParams
	if err := decodeParams(req, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	if err := s.handler.HandleMemoryDelete(ctx, params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeMemoryNotFound, err.Error())
	}
	return NewSuccessResponse(req.ID, struct{}{})
}

func (s *Server) handleMemoryRestore(ctx context.Context, req Request) Response {
	var params MemoryIDParams
	if err := decodeParams(req, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	result, err := s.handler.HandleMemoryRestore(ctx, params)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeMemoryNotFound, err.Error())
	}
	return NewSuccessResponse(req.ID, result)
}

func (s *Server) handleMemoryListDeleted(ctx context.Context, req Request) Response {
	var params MemoryListParams
	if err := decodeParams(req, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	result, err := s.handler.HandleMemoryListDeleted(ctx, params)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, err.Error())
	}
	return NewSuccessResponse(req.ID, result)
}

func (s *Server) handleMemorySupersede(ctx context.Context, req Request) Response {
	var params MemoryIDParams
	if err := decodeParams(req, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	if params.NewID == "" {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "new_id is required")
	}
	if err := s.handler.HandleMemorySupersede(ctx, params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeRelationshipError, err.Error())
	}
	return NewSuccessResponse(req.ID, struct{}{})
}

func (s *Server) handleMemoryTimeline(ctx context.Context, req Request) Response {
	var params MemoryListParams
	if err := decodeParams(req, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	result, err := s.handler.HandleMemoryTimeline(ctx, params)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, err.Error())
	}
	return NewSuccessResponse(req.ID, result)
}

func (s *Server) handleMemoryRelated(ctx context.Context, req Request) Response {
	var params MemoryIDParams
	if err := decodeParams(req, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	result, err := s.handler.HandleMemoryRelated(ctx, params)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeMemoryNotFound, err.Error())
	}
	return NewSuccessResponse(req.ID, result)
}

func (s *Server) handleHook(ctx context.Context, req Request) Response {
	var params HookParams
	if err := decodeParams(req, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
	}
	if params.Event == "" {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "event is required")
	}
	result, err := s.handler.HandleHook(ctx, params)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeUnknownHookEvent, err.Error())
	}
	return NewSuccessResponse(req.ID, result)
}

func (s *Server) handleHealthCheck(ctx context.Context, req Request) Response {
	var params HealthCheckParams
	if err := decodeParams(req, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
	}
	result, err := s.handler.HandleHealthCheck(ctx, params)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, err.Error())
	}
	return NewSuccessResponse(req.ID, result)
}

// handleScopedSearch backs code_search and docs_search: both are the same
// search method with its content-type filter pinned, so they share
// HandleSearch rather than getting their own RequestHandler methods.
func (s *Server) handleScopedSearch(ctx context.Context, req Request, filter string) Response {
	if s.handler == nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, "no handler configured")
	}
	var params SearchParams
	if err := decodeParams(req, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
	}
	params.Filter = filter
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	results, err := s.handler.HandleSearch(ctx, params)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeSearchFailed, err.Error())
	}
	return NewSuccessResponse(req.ID, results)
}

func (s *Server) handleCodeList(ctx context.Context, req Request) Response {
	var params CodeListParams
	if err := decodeParams(req, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	result, err := s.handler.HandleCodeList(ctx, params)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, err.Error())
	}
	return NewSuccessResponse(req.ID, result)
}

func (s *Server) handleCodeIndex(ctx context.Context, req Request) Response {
	var params CodeIndexParams
	if err := decodeParams(req, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	result, err := s.handler.HandleCodeIndex(ctx, params)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, err.Error())
	}
	return NewSuccessResponse(req.ID, result)
}

func (s *Server) handleCodeImportChunk(ctx context.Context, req Request) Response {
	var params CodeImportChunkParams
	if err := decodeParams(req, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	result, err := s.handler.HandleCodeImportChunk(ctx, params)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, err.Error())
	}
	return NewSuccessResponse(req.ID, result)
}

func (s *Server) handleCodeStats(ctx context.Context, req Request) Response {
	var params RootPathParams
	if err := decodeParams(req, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	result, err := s.handler.HandleCodeStats(ctx, params)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, err.Error())
	}
	return NewSuccessResponse(req.ID, result)
}

func (s *Server) handleDocsIngest(ctx context.Context, req Request) Response {
	var params DocsIngestParams
	if err := decodeParams(req, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	result, err := s.handler.HandleDocsIngest(ctx, params)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, err.Error())
	}
	return NewSuccessResponse(req.ID, result)
}

func (s *Server) handleEntityList(ctx context.Context, req Request) Response {
	var params EntityListParams
	if err := decodeParams(req, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	result, err := s.handler.HandleEntityList(ctx, params)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, err.Error())
	}
	return NewSuccessResponse(req.ID, result)
}

func (s *Server) handleEntityGet(ctx context.Context, req Request) Response {
	var params EntityGetParams
	if err := decodeParams(req, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	result, err := s.handler.HandleEntityGet(ctx, params)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeNotFound, err.Error())
	}
	return NewSuccessResponse(req.ID, result)
}

func (s *Server) handleEntityTop(ctx context.Context, req Request) Response {
	var params EntityListParams
	if err := decodeParams(req, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	result, err := s.handler.HandleEntityTop(ctx, params)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, err.Error())
	}
	return NewSuccessResponse(req.ID, result)
}

func (s *Server) handleRelationshipAdd(ctx context.Context, req Request) Response {
	var params RelationshipAddParams
	if err := decodeParams(req, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	result, err := s.handler.HandleRelationshipAdd(ctx, params)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeRelationshipError, err.Error())
	}
	return NewSuccessResponse(req.ID, result)
}

func (s *Server) handleRelationshipList(ctx context.Context, req Request) Response {
	var params RelationshipListParams
	if err := decodeParams(req, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	result, err := s.handler.HandleRelationshipList(ctx, params)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, err.Error())
	}
	return NewSuccessResponse(req.ID, result)
}

func (s *Server) handleRelationshipDelete(ctx context.Context, req Request) Response {
	var params RelationshipDeleteParams
	if err := decodeParams(req, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	if err := s.handler.HandleRelationshipDelete(ctx, params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeRelationshipError, err.Error())
	}
	return NewSuccessResponse(req.ID, struct{}{})
}

func (s *Server) handleRelationshipRelated(ctx context.Context, req Request) Response {
	var params RelationshipListParams
	if err := decodeParams(req, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	result, err := s.handler.HandleRelationshipRelated(ctx, params)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, err.Error())
	}
	return NewSuccessResponse(req.ID, result)
}

func (s *Server) handleWatchStart(ctx context.Context, req Request) Response {
	var params WatchParams
	if err := decodeParams(req, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	result, err := s.handler.HandleWatchStart(ctx, params)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeWatcherError, err.Error())
	}
	return NewSuccessResponse(req.ID, result)
}

func (s *Server) handleWatchStop(ctx context.Context, req Request) Response {
	var params WatchParams
	if err := decodeParams(req, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	result, err := s.handler.HandleWatchStop(ctx, params)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeWatcherError, err.Error())
	}
	return NewSuccessResponse(req.ID, result)
}

func (s *Server) handleWatchStatus(ctx context.Context, req Request) Response {
	var params WatchParams
	if err := decodeParams(req, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	result, err := s.handler.HandleWatchStatus(ctx, params)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeWatcherError, err.Error())
	}
	return NewSuccessResponse(req.ID, result)
}

func (s *Server) handleProjectStats(ctx context.Context, req Request) Response {
	var params ProjectStatsParams
	if err := decodeParams(req, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	result, err := s.handler.HandleProjectStats(ctx, params)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, err.Error())
	}
	return NewSuccessResponse(req.ID, result)
}

func (s *Server) handleMigrateEmbedding(ctx context.Context, req Request) Response {
	var params MigrateEmbeddingParams
	if err := decodeParams(req, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	result, err := s.handler.HandleMigrateEmbedding(ctx, params)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, err.Error())
	}
	return NewSuccessResponse(req.ID, result)
}

// handleSearch processes a search request.
func (s *Server) handleSearch(ctx context.Context, req Request) Response {
	if s.handler == nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, "no search handler configured")
	}

	// Decode params
	paramsData, err := json.Marshal(req.Params)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to encode params")
	}

	var params SearchParams
	if err := json.Unmarshal(paramsData, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
	}

	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}

	results, err := s.handler.HandleSearch(ctx, params)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeSearchFailed, err.Error())
	}

	return NewSuccessResponse(req.ID, results)
}

// getStatus returns the current server status.
func (s *Server) getStatus() StatusResult {
	status := StatusResult{
		Running:        true,
		PID:            os.Getpid(),
		Uptime:         time.Since(s.started).Round(time.Second).String(),
		EmbedderType:   "static",
		EmbedderStatus: "ready",
		ProjectsLoaded: 0,
	}

	if s.handler != nil {
		// Get status from handler
		handlerStatus := s.handler.GetStatus()
		status.EmbedderType = handlerStatus.EmbedderType
		status.EmbedderStatus = handlerStatus.EmbedderStatus
		status.ProjectsLoaded = handlerStatus.ProjectsLoaded
	}

	return status
}

// Close stops the server.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}
