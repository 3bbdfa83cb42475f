// Package hooks maps the closed session-lifecycle hook vocabulary onto the
// accumulator, extractor, project registry, and memory lifecycle
// subsystems (spec.md §4.7 "Session Accumulator & Hook Handler").
package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ctxmind/ctxmind/internal/accumulator"
	"github.com/ctxmind/ctxmind/internal/embed"
	"github.com/ctxmind/ctxmind/internal/entity"
	"github.com/ctxmind/ctxmind/internal/extractor"
	"github.com/ctxmind/ctxmind/internal/ids"
	"github.com/ctxmind/ctxmind/internal/memory"
	"github.com/ctxmind/ctxmind/internal/project"
	"github.com/ctxmind/ctxmind/internal/store"
)

// Event is one member of the closed hook vocabulary a caller may dispatch.
type Event string

const (
	EventSessionStart     Event = "SessionStart"
	EventSessionEnd       Event = "SessionEnd"
	EventUserPromptSubmit Event = "UserPromptSubmit"
	EventPostToolUse      Event = "PostToolUse"
	EventPreCompact       Event = "PreCompact"
	EventStop             Event = "Stop"
	EventSubagentStop     Event = "SubagentStop"
	EventNotification     Event = "Notification"
)

var knownEvents = map[Event]bool{
	EventSessionStart: true, EventSessionEnd: true, EventUserPromptSubmit: true,
	EventPostToolUse: true, EventPreCompact: true, EventStop: true,
	EventSubagentStop: true, EventNotification: true,
}

// ErrUnknownEvent is returned by Dispatch for an event outside the closed
// vocabulary. Every known event is handled without raising: a failure
// inside a handler is reported in the Result, not returned as an error
// (spec.md §9 "Extractor is opaque"; hooks must not fail a session on a
// background subsystem's account).
type ErrUnknownEvent struct{ Event Event }

func (e *ErrUnknownEvent) Error() string { return fmt.Sprintf("unknown hook event %q", e.Event) }

// Result is the outcome of dispatching one hook event.
type Result struct {
	ProjectID   string
	ProjectName string
	Warning     string // non-fatal failure detail (e.g. extractor unavailable)
}

// sessionState is the handler's per-session in-memory bookkeeping: the
// accumulator plus the set of memory ids created during the session, used
// for the tier-promotion pass at SessionEnd.
type sessionState struct {
	identity   project.ProjectIdentity
	handle     *project.Handle
	accum      *accumulator.SegmentContext
	memoryIDs  []string
}

// Handler dispatches hook events onto the accumulator, extractor, entity
// resolver, project registry, and memory lifecycle.
type Handler struct {
	log       *slog.Logger
	registry  *project.Registry
	extractor extractor.Extractor
	classifier extractor.Classifier
	decay     memory.DecayParams
	promotion memory.TierPromotionParams
	seen      *memory.SeenHashCache
	embedder  embed.Embedder // optional; nil skips embedding persisted memories

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// Config bundles the dependencies a Handler needs beyond the registry.
type Config struct {
	Extractor  extractor.Extractor
	Classifier extractor.Classifier // optional; nil disables immediate classification
	Decay      memory.DecayParams
	Promotion  memory.TierPromotionParams
	SeenCache  *memory.SeenHashCache
	Embedder   embed.Embedder // optional; nil skips embedding persisted memories
}

// NewHandler builds a Handler. log may be nil.
func NewHandler(log *slog.Logger, registry *project.Registry, cfg Config) *Handler {
	if log == nil {
		log = slog.Default()
	}
	if cfg.SeenCache == nil {
		cfg.SeenCache = memory.NewSeenHashCache(0)
	}
	return &Handler{
		log:        log,
		registry:   registry,
		extractor:  cfg.Extractor,
		classifier: cfg.Classifier,
		decay:      cfg.Decay,
		promotion:  cfg.Promotion,
		seen:       cfg.SeenCache,
		embedder:   cfg.Embedder,
		sessions:   make(map[string]*sessionState),
	}
}

// Dispatch routes a hook event to its handler. payload is a handler-specific
// struct; see On* methods for the expected shapes. Unknown events return
// ErrUnknownEvent; every other failure is folded into Result.Warning.
func (h *Handler) Dispatch(ctx context.Context, event Event, payload any) (Result, error) {
	if !knownEvents[event] {
		return Result{}, &ErrUnknownEvent{Event: event}
	}

	switch event {
	case EventSessionStart:
		p, _ := payload.(SessionStartParams)
		return h.onSessionStart(ctx, p)
	case EventSessionEnd:
		p, _ := payload.(SessionEndParams)
		return h.onSessionEnd(ctx, p), nil
	case EventUserPromptSubmit:
		p, _ := payload.(UserPromptParams)
		return h.onUserPrompt(ctx, p), nil
	case EventPostToolUse:
		p, _ := payload.(PostToolUseParams)
		return h.onPostToolUse(ctx, p), nil
	case EventPreCompact, EventStop:
		p, _ := payload.(FlushParams)
		return h.onFlush(ctx, p), nil
	case EventSubagentStop, EventNotification:
		// Acknowledged but not yet wired to a subsystem action.
		return Result{}, nil
	}
	return Result{}, nil
}

// SessionStartParams is the payload for EventSessionStart.
type SessionStartParams struct {
	SessionID string
	Cwd       string
}

func (h *Handler) onSessionStart(ctx context.Context, p SessionStartParams) (Result, error) {
	identity, handle, err := h.registry.Resolve(ctx, p.Cwd)
	if err != nil {
		return Result{}, err
	}
	handle.BindSession(p.SessionID)
	handle.StartWatcher()

	h.mu.Lock()
	h.sessions[p.SessionID] = &sessionState{
		identity: identity,
		handle:   handle,
		accum:    accumulator.New(p.SessionID),
	}
	h.mu.Unlock()

	now := time.Now().UTC()
	_ = handle.Store.SaveSession(ctx, &store.Session{
		ID: p.SessionID, ProjectID: identity.ID, StartedAt: now, LastActivity: now,
	})

	return Result{ProjectID: identity.ID, ProjectName: identity.Path}, nil
}

// SessionEndParams is the payload for EventSessionEnd.
type SessionEndParams struct {
	SessionID string
}

func (h *Handler) onSessionEnd(ctx context.Context, p SessionEndParams) Result {
	h.mu.Lock()
	state, ok := h.sessions[p.SessionID]
	if ok {
		delete(h.sessions, p.SessionID)
	}
	h.mu.Unlock()
	if !ok {
		return Result{Warning: "session not found"}
	}

	_ = state.handle.Store.EndSession(ctx, p.SessionID, time.Now().UTC())

	lc := memory.NewLifecycle(state.handle.Store, h.decay, h.log)
	promoted, err := lc.PromoteSessionMemories(ctx, state.memoryIDs, h.promotion)
	if err != nil {
		return Result{ProjectID: state.identity.ID, Warning: "tier promotion failed: " + err.Error()}
	}
	h.log.Debug("session ended", "session_id", p.SessionID, "promoted", promoted)
	return Result{ProjectID: state.identity.ID}
}

// UserPromptParams is the payload for EventUserPromptSubmit.
type UserPromptParams struct {
	SessionID string
	Prompt    string
}

func (h *Handler) onUserPrompt(ctx context.Context, p UserPromptParams) Result {
	state := h.state(p.SessionID)
	if state == nil {
		return Result{Warning: "session not found"}
	}

	if state.accum.MeaningfulWork() {
		h.flushSync(ctx, state)
		state.accum.Reset()
	}
	state.accum.Prompt = p.Prompt

	if h.classifier != nil {
		class, err := h.classifier.Classify(ctx, p.Prompt)
		if err == nil && (class == extractor.ClassificationCorrection || class == extractor.ClassificationPreference) {
			h.flushSync(ctx, state)
		}
	}

	return Result{ProjectID: state.identity.ID}
}

// PostToolUseParams is the payload for EventPostToolUse. Fields the caller
// doesn't have for a given tool shape are left zero-valued.
type PostToolUseParams struct {
	SessionID     string
	Tool          string
	Params        map[string]any
	Result        any
	FileRead      string
	FileModified  string
	Command       string
	ExitCode      int
	Error         string
	Search        string
	CompletedTask string
}

func (h *Handler) onPostToolUse(ctx context.Context, p PostToolUseParams) Result {
	state := h.state(p.SessionID)
	if state == nil {
		return Result{Warning: "session not found"}
	}

	state.accum.RecordToolUse(p.Tool, p.Params, p.Result)
	if p.FileRead != "" {
		state.accum.RecordFileRead(p.FileRead)
	}
	if p.FileModified != "" {
		state.accum.RecordFileModified(p.FileModified)
	}
	if p.Command != "" {
		state.accum.RecordCommand(p.Command, p.ExitCode)
	}
	if p.Error != "" {
		state.accum.RecordError(p.Error)
	}
	if p.Search != "" {
		state.accum.RecordSearch(p.Search)
	}
	if p.CompletedTask != "" {
		state.accum.RecordCompletedTask(p.CompletedTask)
	}

	var touched []string
	if p.FileModified != "" {
		touched = append(touched, p.FileModified)
	} else if p.FileRead != "" {
		touched = append(touched, p.FileRead)
	}
	obs := extractor.ToolObservation(p.Tool, touched)
	if _, err := h.persist(ctx, state, obs, extractor.ToolObservationImportance, extractor.ToolObservationSalience); err != nil {
		return Result{ProjectID: state.identity.ID, Warning: "tool observation failed: " + err.Error()}
	}

	if state.accum.TodoCompletionTrigger() {
		h.flushSync(ctx, state)
	}

	return Result{ProjectID: state.identity.ID}
}

// FlushParams is the payload for EventPreCompact and EventStop.
type FlushParams struct {
	SessionID string
}

func (h *Handler) onFlush(ctx context.Context, p FlushParams) Result {
	state := h.state(p.SessionID)
	if state == nil {
		return Result{Warning: "session not found"}
	}

	clone := state.accum.Clone()
	state.accum.Reset()

	go func() {
		bgCtx := context.Background()
		if err := h.flushSegment(bgCtx, state, clone); err != nil {
			h.log.Warn("background flush failed", "session_id", p.SessionID, "error", err)
		}
	}()

	return Result{ProjectID: state.identity.ID}
}

// flushSync extracts and persists the accumulator in place (used on the
// synchronous paths: meaningful-work-before-reset, immediate
// classification, and the mid-session todo-completion trigger).
func (h *Handler) flushSync(ctx context.Context, state *sessionState) {
	if err := h.flushSegment(ctx, state, state.accum.Clone()); err != nil {
		h.log.Warn("synchronous flush failed", "session_id", state.accum.SessionID, "error", err)
	}
}

func (h *Handler) flushSegment(ctx context.Context, state *sessionState, seg *accumulator.SegmentContext) error {
	if h.extractor == nil {
		return nil
	}
	candidates := extractor.ExtractOrFallback(ctx, h.extractor, seg)
	for _, c := range candidates {
		if _, err := h.persist(ctx, state, c, 0.5, 0.6); err != nil {
			return err
		}
	}
	return nil
}

// persist dedups and saves a candidate memory, links it to the entity
// graph and the session, and records it for end-of-session tier promotion.
func (h *Handler) persist(ctx context.Context, state *sessionState, c extractor.Candidate, importance, salience float64) (*store.Memory, error) {
	contentHash := memory.ContentHash(c.Content)
	if h.seen.SeenOrAdd(contentHash) {
		return nil, nil
	}

	s := state.handle.Store
	if existing, err := s.FindByContentHash(ctx, state.identity.ID, contentHash); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	simhash := memory.SimHash(c.Content)
	candidates, err := s.CandidatesBySimhashNeighborhood(ctx, state.identity.ID, 10)
	if err != nil {
		return nil, err
	}
	if dup := memory.Classify(c.Content, contentHash, simhash, candidates, memory.DefaultDedupConfig()); dup.Kind != memory.DuplicateNone {
		return nil, nil
	}

	now := time.Now().UTC()
	sector := c.Sector
	if sector == "" {
		sector = store.SectorEpisodic
	}
	m := &store.Memory{
		ID:          ids.New(),
		ProjectID:   state.identity.ID,
		Content:     c.Content,
		Summary:     c.Summary,
		Sector:      sector,
		Tier:        store.TierSession,
		MemoryType:  c.MemoryType,
		Salience:    salience,
		Importance:  importance,
		Confidence:  c.Confidence,
		CreatedAt:   now,
		UpdatedAt:   now,
		Tags:        c.Tags,
		SessionID:   state.accum.SessionID,
		ContentHash: contentHash,
		SimHash:     simhash,
	}
	if err := s.SaveMemory(ctx, m); err != nil {
		return nil, err
	}
	_ = s.LinkSessionMemory(ctx, &store.SessionMemoryLink{
		SessionID: state.accum.SessionID, MemoryID: m.ID, Usage: store.UsageCreated, CreatedAt: now,
	})
	_ = entity.NewResolver(s).ResolveAndLink(ctx, m)
	h.embedAndSave(ctx, s, m)

	state.memoryIDs = append(state.memoryIDs, m.ID)
	return m, nil
}

// embedAndSave computes and stores m's embedding so it's reachable by the
// retrieval engine's nearest-neighbor path. A failure here is not fatal to
// persisting the memory itself - it just leaves that row findable only by
// the substring fallback until a later re-embed pass picks it up.
func (h *Handler) embedAndSave(ctx context.Context, s store.MemoryStore, m *store.Memory) {
	if h.embedder == nil {
		return
	}
	vec, err := h.embedder.Embed(ctx, m.Content)
	if err != nil {
		h.log.Debug("embedding memory failed", "memory_id", m.ID, "error", err)
		return
	}
	if err := s.SaveMemoryEmbedding(ctx, m.ID, vec, h.embedder.ModelName()); err != nil {
		h.log.Debug("saving memory embedding failed", "memory_id", m.ID, "error", err)
	}
}

func (h *Handler) state(sessionID string) *sessionState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions[sessionID]
}
