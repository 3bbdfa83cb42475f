package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/ctxmind/ctxmind/internal/chunk"
	"github.com/ctxmind/ctxmind/internal/config"
	"github.com/ctxmind/ctxmind/internal/index"
	"github.com/ctxmind/ctxmind/internal/project"
	"github.com/ctxmind/ctxmind/internal/scanner"
	"github.com/ctxmind/ctxmind/internal/watcher"
)

// activeWatcher bundles one project's running HybridWatcher with the
// Coordinator that turns its batches into index updates, plus a pending
// counter for watch_status (spec.md §6 "watch_status").
type activeWatcher struct {
	rootPath    string
	watcher     *watcher.HybridWatcher
	coordinator *index.Coordinator
	cancel      context.CancelFunc
	pending     atomic.Int64
	done        chan struct{}
}

func (w *activeWatcher) stop() {
	w.cancel()
	_ = w.watcher.Stop()
	<-w.done
}

// HandleWatchStart begins watching a project's root for file changes and
// routes debounced batches into incremental index updates (spec.md §6
// "watch_start"). Starting an already-watched root is a no-op.
func (d *Daemon) HandleWatchStart(ctx context.Context, params WatchParams) (WatchStatusResult, error) {
	d.watchMu.Lock()
	if _, ok := d.watchers[params.RootPath]; ok {
		d.watchMu.Unlock()
		return d.HandleWatchStatus(ctx, params)
	}
	d.watchMu.Unlock()

	state, err := d.loadProject(ctx, params.RootPath)
	if err != nil {
		return WatchStatusResult{}, err
	}

	cfg, err := config.Load(params.RootPath)
	if err != nil {
		cfg = config.NewConfig()
	}

	var excludePatterns []string
	var scan *scanner.Scanner
	if cfg != nil {
		excludePatterns = cfg.Paths.Exclude
	}
	if s, err := scanner.New(); err == nil {
		scan = s
	}

	coordinator := index.NewCoordinator(index.CoordinatorConfig{
		ProjectID:       hashString(params.RootPath),
		RootPath:        params.RootPath,
		DataDir:         filepath.Join(params.RootPath, ".ctxmind"),
		Engine:          state.engine,
		Metadata:        state.metadata,
		CodeChunker:     chunk.NewCodeChunker(),
		MDChunker:       chunk.NewMarkdownChunker(),
		Scanner:         scan,
		ExcludePatterns: excludePatterns,
	})

	opts := watcher.DefaultOptions().WithDefaults()
	opts.IgnorePatterns = excludePatterns
	hw, err := watcher.NewHybridWatcher(opts)
	if err != nil {
		return WatchStatusResult{}, fmt.Errorf("build watcher: %w", err)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	if err := hw.Start(watchCtx, params.RootPath); err != nil {
		cancel()
		return WatchStatusResult{}, fmt.Errorf("start watcher: %w", err)
	}

	aw := &activeWatcher{
		rootPath:    params.RootPath,
		watcher:     hw,
		coordinator: coordinator,
		cancel:      cancel,
		done:        make(chan struct{}),
	}

	go aw.run(watchCtx)

	d.watchMu.Lock()
	d.watchers[params.RootPath] = aw
	d.watchMu.Unlock()

	if handle, ok := d.registryHandle(ctx, params.RootPath); ok {
		handle.StartWatcher()
	}

	return WatchStatusResult{Running: true, Root: params.RootPath}, nil
}

// run drains batched file events until watchCtx is cancelled, applying
// each batch through the coordinator and tracking how many changes are
// still unprocessed for watch_status.
func (w *activeWatcher) run(watchCtx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-watchCtx.Done():
			return
		case events, ok := <-w.watcher.Events():
			if !ok {
				return
			}
			w.pending.Add(int64(len(events)))
			if err := w.coordinator.HandleEvents(watchCtx, events); err != nil {
				slog.Warn("watch batch failed", slog.String("root", w.rootPath), slog.String("error", err.Error()))
			}
			w.pending.Add(-int64(len(events)))
		case err, ok := <-w.watcher.Errors():
			if !ok {
				continue
			}
			if err != nil {
				slog.Warn("watcher error", slog.String("root", w.rootPath), slog.String("error", err.Error()))
			}
		}
	}
}

// HandleWatchStop stops a running watcher for a project root (spec.md §6
// "watch_stop"). Stopping an unwatched root is a no-op.
func (d *Daemon) HandleWatchStop(ctx context.Context, params WatchParams) (WatchStatusResult, error) {
	d.watchMu.Lock()
	aw, ok := d.watchers[params.RootPath]
	if ok {
		delete(d.watchers, params.RootPath)
	}
	d.watchMu.Unlock()

	if !ok {
		return WatchStatusResult{Running: false, Root: params.RootPath}, nil
	}
	aw.stop()

	if handle, ok := d.registryHandle(ctx, params.RootPath); ok {
		handle.StopWatcher()
	}
	return WatchStatusResult{Running: false, Root: params.RootPath}, nil
}

// HandleWatchStatus reports whether a project root is being watched and
// how many detected changes are still being applied (spec.md §6
// "watch_status").
func (d *Daemon) HandleWatchStatus(ctx context.Context, params WatchParams) (WatchStatusResult, error) {
	d.watchMu.Lock()
	aw, ok := d.watchers[params.RootPath]
	d.watchMu.Unlock()

	if !ok {
		return WatchStatusResult{Running: false, Root: params.RootPath}, nil
	}
	return WatchStatusResult{
		Running:        true,
		Root:           params.RootPath,
		PendingChanges: int(aw.pending.Load()),
	}, nil
}

// registryHandle resolves a project's registry Handle without surfacing
// resolution errors to callers that only want to flip its watcher flag
// best-effort.
func (d *Daemon) registryHandle(ctx context.Context, rootPath string) (*project.Handle, bool) {
	_, handle, err := d.registry.Resolve(ctx, rootPath)
	if err != nil {
		return nil, false
	}
	return handle, true
}
