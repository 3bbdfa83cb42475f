// Package project resolves a working directory to a stable ProjectIdentity
// and caches the per-project Handle used to serialize writes across the
// indexer, watcher, and hook-driven lifecycle operations (spec.md §3
// "ProjectIdentity", §4.1).
package project

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-git/go-git/v5"
	"golang.org/x/sync/singleflight"

	"github.com/ctxmind/ctxmind/internal/store"
)

// vcsMarkers are directory names that mark a VCS root when go-git cannot
// open the path as a git worktree (e.g. .hg, .svn repos, or a bare
// directory the caller wants treated as its own root).
var vcsMarkers = []string{".hg", ".svn"}

// ProjectIdentity is the stable identity of a project: an opaque digest of
// its canonical root path plus the resolved path itself (spec.md §3).
type ProjectIdentity struct {
	ID   string
	Path string
}

// Handle is the live, per-project runtime state: its metadata store and a
// mutex-like serialization point for the single-writer-per-project model
// (spec.md §8 "Ordering guarantees... a single writer in logical sequence").
type Handle struct {
	Identity ProjectIdentity
	Store    *store.SQLiteStore

	mu sync.Mutex

	watcherRunning bool
	sessionIDs     map[string]bool

	memVectors    *store.HNSWStore
	memVectorDims int
}

// MemoryVectorStore returns this project's per-kind HNSW vector store for
// memory embeddings (spec.md §4.5 memory candidate gathering), building and
// populating it from the metadata store on first use. Subsequent calls with
// the same dimensions reuse the cached graph; a dimension change (embedder
// swap) rebuilds it from scratch.
func (h *Handle) MemoryVectorStore(ctx context.Context, dimensions int) (*store.HNSWStore, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.memVectors != nil && h.memVectorDims == dimensions {
		return h.memVectors, nil
	}

	vs, err := store.NewHNSWStore(store.VectorStoreConfig{Dimensions: dimensions})
	if err != nil {
		return nil, err
	}
	embeddings, err := h.Store.GetAllMemoryEmbeddings(ctx, h.Identity.ID)
	if err != nil {
		return nil, err
	}
	if len(embeddings) > 0 {
		ids := make([]string, 0, len(embeddings))
		vecs := make([][]float32, 0, len(embeddings))
		for id, vec := range embeddings {
			if len(vec) != dimensions {
				continue
			}
			ids = append(ids, id)
			vecs = append(vecs, vec)
		}
		if len(ids) > 0 {
			if err := vs.Add(ctx, ids, vecs); err != nil {
				return nil, err
			}
		}
	}

	h.memVectors = vs
	h.memVectorDims = dimensions
	return vs, nil
}

// IndexMemoryVector adds or updates a single memory's embedding in the
// cached HNSW graph, so newly-added memories are searchable without a full
// rebuild. A no-op when the graph hasn't been built yet (the next
// MemoryVectorStore call will pick it up from the metadata store).
func (h *Handle) IndexMemoryVector(ctx context.Context, memoryID string, vec []float32) {
	h.mu.Lock()
	vs := h.memVectors
	dims := h.memVectorDims
	h.mu.Unlock()
	if vs == nil || len(vec) != dims {
		return
	}
	_ = vs.Add(ctx, []string{memoryID}, [][]float32{vec})
}

// Lock serializes a write-shaped operation (index, watcher event, lifecycle
// mutation) against every other writer for this project.
func (h *Handle) Lock()   { h.mu.Lock() }
func (h *Handle) Unlock() { h.mu.Unlock() }

// BindSession records that a session id is associated with this project.
// Binding is idempotent; a session id binds to exactly one project for its
// lifetime once first bound.
func (h *Handle) BindSession(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sessionIDs == nil {
		h.sessionIDs = make(map[string]bool)
	}
	h.sessionIDs[sessionID] = true
}

// HasSession reports whether a session id has been bound to this project.
func (h *Handle) HasSession(sessionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessionIDs[sessionID]
}

// StartWatcher marks the filesystem watcher as running for this project.
// Returns false if it was already running (idempotent start).
func (h *Handle) StartWatcher() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.watcherRunning {
		return false
	}
	h.watcherRunning = true
	return true
}

// StopWatcher marks the watcher stopped. Returns false if it wasn't running
// (idempotent stop).
func (h *Handle) StopWatcher() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.watcherRunning {
		return false
	}
	h.watcherRunning = false
	return true
}

// WatcherRunning reports the current watcher status.
func (h *Handle) WatcherRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.watcherRunning
}

// Registry resolves cwd paths to ProjectIdentity/Handle pairs and caches
// them for the daemon's lifetime.
type Registry struct {
	log *slog.Logger

	mu       sync.RWMutex
	handles  map[string]*Handle // keyed by ProjectIdentity.ID
	dbDirFor func(ProjectIdentity) string

	group singleflight.Group
}

// NewRegistry builds a Registry. dbDirFor computes where a project's
// metadata.db should live given its identity; tests can override this to
// use a temp directory.
func NewRegistry(log *slog.Logger, dbDirFor func(ProjectIdentity) string) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:      log,
		handles:  make(map[string]*Handle),
		dbDirFor: dbDirFor,
	}
}

// Resolve walks upward from cwd for a VCS root (git via go-git, else a
// directory-marker sniff), computes its ProjectIdentity, and returns the
// cached Handle, opening its store on first resolve. Concurrent resolves
// of the same identity are collapsed via singleflight so the store is
// opened exactly once.
func (r *Registry) Resolve(ctx context.Context, cwd string) (ProjectIdentity, *Handle, error) {
	root, err := resolveRoot(cwd)
	if err != nil {
		return ProjectIdentity{}, nil, err
	}
	identity := identityFor(root)

	r.mu.RLock()
	if h, ok := r.handles[identity.ID]; ok {
		r.mu.RUnlock()
		return identity, h, nil
	}
	r.mu.RUnlock()

	v, err, _ := r.group.Do(identity.ID, func() (any, error) {
		r.mu.RLock()
		if h, ok := r.handles[identity.ID]; ok {
			r.mu.RUnlock()
			return h, nil
		}
		r.mu.RUnlock()

		dbDir := r.dbDirFor(identity)
		if err := os.MkdirAll(dbDir, 0o755); err != nil {
			return nil, err
		}
		s, err := store.NewSQLiteStore(filepath.Join(dbDir, "metadata.db"))
		if err != nil {
			return nil, err
		}

		h := &Handle{Identity: identity, Store: s}
		r.mu.Lock()
		r.handles[identity.ID] = h
		r.mu.Unlock()

		r.log.Info("project resolved", "project_id", identity.ID, "path", identity.Path)
		return h, nil
	})
	if err != nil {
		return ProjectIdentity{}, nil, err
	}
	return identity, v.(*Handle), nil
}

// Lookup returns the cached Handle for an already-resolved identity, or
// nil if it hasn't been resolved yet in this process.
func (r *Registry) Lookup(identityID string) *Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handles[identityID]
}

// ResolvedIdentities returns the identities of every project resolved so
// far in this process, used by the scheduler to iterate its periodic jobs
// across all active projects.
func (r *Registry) ResolvedIdentities() []ProjectIdentity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	identities := make([]ProjectIdentity, 0, len(r.handles))
	for _, h := range r.handles {
		identities = append(identities, h.Identity)
	}
	return identities
}

// CloseAll closes every cached project store, used at daemon shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.handles {
		_ = h.Store.Close()
	}
	r.handles = make(map[string]*Handle)
}

// identityFor computes the stable ProjectIdentity for a resolved root path.
func identityFor(canonicalPath string) ProjectIdentity {
	sum := sha256.Sum256([]byte(canonicalPath))
	return ProjectIdentity{ID: hex.EncodeToString(sum[:])[:16], Path: canonicalPath}
}

// resolveRoot walks upward from cwd looking for a git worktree root (via
// go-git), falling back to a directory-marker sniff for non-git VCS roots,
// and finally to cwd itself.
func resolveRoot(cwd string) (string, error) {
	abs, err := filepath.Abs(cwd)
	if err != nil {
		return "", err
	}

	if repo, err := git.PlainOpenWithOptions(abs, &git.PlainOpenOptions{DetectDotGit: true}); err == nil {
		wt, err := repo.Worktree()
		if err == nil {
			return filepath.Clean(wt.Filesystem.Root()), nil
		}
	}

	if marker := sniffMarker(abs); marker != "" {
		return marker, nil
	}

	return abs, nil
}

// sniffMarker walks upward from dir looking for a vcsMarkers directory,
// mirroring the teacher's directory-marker detection for non-git VCS roots.
func sniffMarker(dir string) string {
	current := dir
	for {
		for _, marker := range vcsMarkers {
			if info, err := os.Stat(filepath.Join(current, marker)); err == nil && info.IsDir() {
				return current
			}
		}
		parent := filepath.Dir(current)
		if parent == current {
			return ""
		}
		current = parent
	}
}
