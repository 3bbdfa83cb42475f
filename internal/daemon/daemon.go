package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ctxmind/ctxmind/internal/embed"
	"github.com/ctxmind/ctxmind/internal/hooks"
	"github.com/ctxmind/ctxmind/internal/memory"
	"github.com/ctxmind/ctxmind/internal/project"
	"github.com/ctxmind/ctxmind/internal/retrieval"
	"github.com/ctxmind/ctxmind/internal/scheduler"
	"github.com/ctxmind/ctxmind/internal/search"
	"github.com/ctxmind/ctxmind/internal/store"
)

// projectState is the daemon's in-memory handle on one loaded project: its
// metadata store, vector/BM25 indexes, and the memory-side collaborators
// built on top of them. CompactionManager hot-swaps the vector field in
// place when it rebuilds the HNSW index.
type projectState struct {
	rootPath string
	loadedAt time.Time
	lastUsed time.Time

	metadata store.MetadataStore
	vector   store.VectorStore
	bm25     store.BM25Index
	engine   *search.Engine

	memStore  store.MemoryStore
	memEngine *retrieval.MemoryEngine
	lifecycle *memory.Lifecycle
}

// Close releases every resource held by a projectState. Safe to call with
// any subset of fields nil (a state built for a project that has no code
// index yet, or a unit test fixture).
func (p *projectState) Close() error {
	var firstErr error
	if p.bm25 != nil {
		if err := p.bm25.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if p.vector != nil {
		if err := p.vector.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if closer, ok := p.metadata.(*store.SQLiteStore); ok && closer != nil {
		if err := closer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Option configures a Daemon at construction time.
type Option func(*Daemon)

// WithEmbedder overrides the embedder the daemon hands to every search
// engine and memory engine it builds. Without one, a static fallback
// embedder is used so search still works without an external model
// server running.
func WithEmbedder(e embed.Embedder) Option {
	return func(d *Daemon) { d.embedder = e }
}

// Daemon is the long-running process behind the Unix socket: it keeps the
// embedder and per-project indexes warm so CLI invocations don't pay
// reinitialization cost on every call, and it's the RequestHandler the
// socket Server dispatches onto.
type Daemon struct {
	cfg      Config
	embedder embed.Embedder
	started  time.Time

	server  *Server
	pidFile *PIDFile

	registry  *project.Registry
	hooks     *hooks.Handler
	scheduler *scheduler.Scheduler

	mu       sync.RWMutex
	projects map[string]*projectState

	watchMu  sync.Mutex
	watchers map[string]*activeWatcher
}

// NewDaemon validates cfg and builds a Daemon. The registry and hook
// handler are constructed eagerly; per-project indexes load lazily on
// first use.
func NewDaemon(cfg Config, opts ...Option) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	d := &Daemon{
		cfg:      cfg,
		pidFile:  NewPIDFile(cfg.PIDPath),
		projects: make(map[string]*projectState),
		watchers: make(map[string]*activeWatcher),
	}
	for _, opt := range opts {
		opt(d)
	}

	projectsDir := filepath.Join(filepath.Dir(cfg.PIDPath), "projects")
	d.registry = project.NewRegistry(nil, func(identity project.ProjectIdentity) string {
		return filepath.Join(projectsDir, identity.ID)
	})
	d.hooks = hooks.NewHandler(nil, d.registry, hooks.Config{
		Decay:     memory.DefaultDecayParams(),
		Promotion: memory.DefaultTierPromotionParams(),
		SeenCache: memory.NewSeenHashCache(4096),
		Embedder:  d.embedderOrFallback(),
	})
	d.scheduler = scheduler.New(nil, d.registry, scheduler.DefaultIntervals(),
		memory.DefaultDecayParams(), memory.DefaultTierPromotionParams())

	return d, nil
}

// Start writes the PID file, binds the Unix socket (clearing any stale
// socket or PID left by a prior, now-dead process), and blocks serving
// requests until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.cfg.EnsureDir(); err != nil {
		return err
	}
	if err := d.pidFile.Write(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	defer func() { _ = d.pidFile.Remove() }()

	server, err := NewServer(d.cfg.SocketPath)
	if err != nil {
		return err
	}
	server.SetHandler(d)

	d.mu.Lock()
	d.server = server
	d.started = time.Now()
	d.mu.Unlock()

	d.scheduler.Start(ctx)
	defer d.scheduler.Stop()

	defer func() {
		d.mu.Lock()
		d.cleanup()
		d.mu.Unlock()
	}()

	return server.ListenAndServe(ctx)
}

// embedderOrFallback returns the configured embedder, or a static
// fallback so search and memory embedding still function without an
// external model server.
func (d *Daemon) embedderOrFallback() embed.Embedder {
	if d.embedder != nil {
		return d.embedder
	}
	return embed.NewStaticEmbedder()
}

// loadProject opens (or reuses) the on-disk code index and memory store
// for rootPath. Returns an error containing "no index found" when the
// project has never been indexed (spec.md §6 daemon client contract).
func (d *Daemon) loadProject(ctx context.Context, rootPath string) (*projectState, error) {
	d.mu.RLock()
	if state, ok := d.projects[rootPath]; ok {
		d.mu.RUnlock()
		d.mu.Lock()
		state.lastUsed = time.Now()
		d.mu.Unlock()
		return state, nil
	}
	d.mu.RUnlock()

	dataDir := filepath.Join(rootPath, ".ctxmind")
	dbPath := filepath.Join(dataDir, "metadata.db")
	vectorPath := filepath.Join(dataDir, "vectors.hnsw")

	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("no index found for root path %s: run 'ctxmind index' first", rootPath)
	}
	if _, err := os.Stat(vectorPath); err != nil {
		return nil, fmt.Errorf("no index found for root path %s: run 'ctxmind index' first", rootPath)
	}

	metadata, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}

	embedder := d.embedderOrFallback()
	vectorCfg := store.DefaultVectorStoreConfig(embedder.Dimensions())
	vector, err := store.NewHNSWStore(vectorCfg)
	if err != nil {
		_ = metadata.Close()
		return nil, fmt.Errorf("failed to build vector store: %w", err)
	}
	if err := vector.Load(vectorPath); err != nil {
		_ = metadata.Close()
		_ = vector.Close()
		return nil, fmt.Errorf("failed to load vector index: %w", err)
	}

	bm25, err := store.NewBleveBM25Index(filepath.Join(dataDir, "bm25"), store.DefaultBM25Config())
	if err != nil {
		_ = metadata.Close()
		_ = vector.Close()
		return nil, fmt.Errorf("failed to open BM25 index: %w", err)
	}

	engine, err := search.NewEngine(bm25, vector, embedder, metadata, search.DefaultConfig())
	if err != nil {
		_ = metadata.Close()
		_ = vector.Close()
		_ = bm25.Close()
		return nil, fmt.Errorf("failed to build search engine: %w", err)
	}

	lifecycle := memory.NewLifecycle(metadata, memory.DefaultDecayParams(), nil)
	state := &projectState{
		rootPath:  rootPath,
		loadedAt:  time.Now(),
		lastUsed:  time.Now(),
		metadata:  metadata,
		vector:    vector,
		bm25:      bm25,
		engine:    engine,
		memStore:  metadata,
		memEngine: retrieval.NewMemoryEngine(metadata, embedder, nil, lifecycle, nil),
		lifecycle: lifecycle,
	}

	d.mu.Lock()
	d.projects[rootPath] = state
	over := len(d.projects) > d.cfg.MaxProjects
	d.mu.Unlock()
	if over {
		d.evictLRU()
	}

	return state, nil
}

// evictLRU drops the single least-recently-used project. Safe to call on
// an empty project set. Callers decide when eviction is warranted (e.g.
// loadProject calls it only once MaxProjects is exceeded); the method
// itself always evicts exactly one entry so it composes with a caller
// loop for multi-entry overflow.
func (d *Daemon) evictLRU() {
	d.mu.Lock()
	if len(d.projects) == 0 {
		d.mu.Unlock()
		return
	}

	var oldestPath string
	var oldestState *projectState
	for path, state := range d.projects {
		if oldestState == nil || state.lastUsed.Before(oldestState.lastUsed) {
			oldestPath, oldestState = path, state
		}
	}
	delete(d.projects, oldestPath)
	d.mu.Unlock()

	if oldestState != nil {
		_ = oldestState.Close()
	}
}

// cleanup releases every loaded project and forgets the embedder, run at
// daemon shutdown.
func (d *Daemon) cleanup() {
	for path, state := range d.projects {
		_ = state.Close()
		delete(d.projects, path)
	}
	d.embedder = nil

	d.watchMu.Lock()
	for path, w := range d.watchers {
		w.stop()
		delete(d.watchers, path)
	}
	d.watchMu.Unlock()
}

// HandleSearch runs a code/docs search against a loaded (or lazily
// loaded) project index.
func (d *Daemon) HandleSearch(ctx context.Context, params SearchParams) ([]SearchResult, error) {
	state, err := d.loadProject(ctx, params.RootPath)
	if err != nil {
		return nil, err
	}

	opts := search.SearchOptions{
		Limit:          params.Limit,
		Filter:         params.Filter,
		Language:       params.Language,
		Scopes:         params.Scopes,
		BM25Only:       params.BM25Only,
		Visibility:     params.Visibility,
		MinCallerCount: params.MinCallerCount,
	}
	results, err := state.engine.Search(ctx, params.Query, opts)
	if err != nil {
		return nil, err
	}

	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		sr := SearchResult{
			Score:     r.Score,
			BM25Score: r.BM25Score,
			VecScore:  r.VecScore,
			BM25Rank:  r.BM25Rank,
			VecRank:   r.VecRank,
		}
		if r.Chunk != nil {
			sr.FilePath = r.Chunk.FilePath
			sr.StartLine = r.Chunk.StartLine
			sr.EndLine = r.Chunk.EndLine
			sr.Content = r.Chunk.Content
			sr.Language = r.Chunk.Language
		}
		out = append(out, sr)
	}
	return out, nil
}

// GetStatus reports the daemon's liveness and warm-state summary.
func (d *Daemon) GetStatus() StatusResult {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := StatusResult{
		Running:        true,
		PID:            os.Getpid(),
		Uptime:         time.Since(d.started).Round(time.Second).String(),
		ProjectsLoaded: len(d.projects),
	}
	if d.embedder == nil {
		status.EmbedderType = "unavailable"
		status.EmbedderStatus = "unavailable"
		return status
	}
	status.EmbedderType = d.embedder.ModelName()
	status.EmbedderStatus = "ready"
	return status
}
