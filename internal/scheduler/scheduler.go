// Package scheduler runs the three cooperative periodic jobs that keep a
// project's memory store healthy in the background: decay sweeps, stale
// session cleanup, and checkpoint flushes (spec.md §3 "Scheduler").
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ctxmind/ctxmind/internal/memory"
	"github.com/ctxmind/ctxmind/internal/project"
)

// Intervals tunes how often each job runs.
type Intervals struct {
	DecaySweep      time.Duration
	SessionCleanup  time.Duration
	CheckpointFlush time.Duration
}

// DefaultIntervals matches internal/config's process defaults.
func DefaultIntervals() Intervals {
	return Intervals{
		DecaySweep:      60 * time.Hour,
		SessionCleanup:  6 * time.Hour,
		CheckpointFlush: 30 * time.Second,
	}
}

// Scheduler drives the periodic jobs across every project the registry has
// resolved. A single Scheduler instance serves the whole daemon process.
type Scheduler struct {
	log       *slog.Logger
	registry  *project.Registry
	intervals Intervals
	decay     memory.DecayParams
	promotion memory.TierPromotionParams

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New builds a Scheduler. log may be nil.
func New(log *slog.Logger, registry *project.Registry, intervals Intervals, decay memory.DecayParams, promotion memory.TierPromotionParams) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		log:       log,
		registry:  registry,
		intervals: intervals,
		decay:     decay,
		promotion: promotion,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the three jobs as background goroutines. It returns
// immediately; call Stop (or cancel ctx) to shut them down.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(3)
	go s.run(ctx, "decay_sweep", s.intervals.DecaySweep, s.runDecaySweep)
	go s.run(ctx, "session_cleanup", s.intervals.SessionCleanup, s.runSessionCleanup)
	go s.run(ctx, "checkpoint_flush", s.intervals.CheckpointFlush, s.runCheckpointFlush)
}

// Stop signals every job to exit and waits for them to return.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context, name string, interval time.Duration, job func(ctx context.Context)) {
	defer s.wg.Done()
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			job(ctx)
		}
	}
}

// runDecaySweep applies one decay batch to every resolved project.
func (s *Scheduler) runDecaySweep(ctx context.Context) {
	for _, identity := range s.registry.ResolvedIdentities() {
		handle := s.registry.Lookup(identity.ID)
		if handle == nil {
			continue
		}
		lc := memory.NewLifecycle(handle.Store, s.decay, s.log)
		processed, archived, err := lc.ApplyDecayBatch(ctx, identity.ID)
		if err != nil {
			s.log.Warn("decay sweep failed", "project_id", identity.ID, "error", err)
			continue
		}
		s.log.Info("decay sweep complete", "project_id", identity.ID, "processed", processed, "archived", archived)
	}
}

// runSessionCleanup ends and tier-promotes sessions that have gone stale,
// and unbinds them from their project handle.
func (s *Scheduler) runSessionCleanup(ctx context.Context) {
	staleAfter := time.Now().UTC().Add(-s.intervals.SessionCleanup)
	for _, identity := range s.registry.ResolvedIdentities() {
		handle := s.registry.Lookup(identity.ID)
		if handle == nil {
			continue
		}
		stale, err := handle.Store.StaleSessions(ctx, staleAfter)
		if err != nil {
			s.log.Warn("stale session query failed", "project_id", identity.ID, "error", err)
			continue
		}
		lc := memory.NewLifecycle(handle.Store, s.decay, s.log)
		var promoted int
		for _, sess := range stale {
			if err := handle.Store.EndSession(ctx, sess.ID, time.Now().UTC()); err != nil {
				s.log.Warn("end stale session failed", "session_id", sess.ID, "error", err)
				continue
			}
			memoryIDs, err := handle.Store.SessionMemoryIDs(ctx, sess.ID)
			if err != nil {
				s.log.Warn("session memory lookup failed", "session_id", sess.ID, "error", err)
				continue
			}
			count, err := lc.PromoteSessionMemories(ctx, memoryIDs, s.promotion)
			if err != nil {
				s.log.Warn("session tier promotion failed", "session_id", sess.ID, "error", err)
				continue
			}
			promoted += count
		}
		if len(stale) > 0 {
			s.log.Debug("session cleanup complete", "project_id", identity.ID, "ended", len(stale), "promoted", promoted)
		}
	}
}

// staleCheckpointAfter is how long an incomplete FileCheckpoint can go
// without an update before it's treated as an abandoned, crashed run rather
// than one still in progress.
const staleCheckpointAfter = 10 * time.Minute

// checkpointTypes are the FileCheckpoint.CheckpointType values the indexer
// and document ingestion pipeline write.
var checkpointTypes = [...]string{"code", "docs"}

// runCheckpointFlush reconciles in-flight indexing checkpoints: the indexer
// itself persists FileCheckpoint rows synchronously as it processes each
// file (internal/index.Runner), so this job's role is to notice checkpoints
// that stopped advancing — the signature of a crash mid-run — and surface
// them, rather than letting a stale "in progress" row sit silently forever.
func (s *Scheduler) runCheckpointFlush(ctx context.Context) {
	now := time.Now().UTC()
	for _, identity := range s.registry.ResolvedIdentities() {
		handle := s.registry.Lookup(identity.ID)
		if handle == nil {
			continue
		}
		for _, checkpointType := range checkpointTypes {
			cp, err := handle.Store.LoadFileCheckpoint(ctx, identity.ID, checkpointType)
			if err != nil || cp == nil || cp.IsComplete {
				continue
			}
			if now.Sub(cp.UpdatedAt) < staleCheckpointAfter {
				continue
			}
			s.log.Warn("stale indexing checkpoint detected, run likely crashed mid-file",
				"project_id", identity.ID,
				"checkpoint_type", checkpointType,
				"processed_count", cp.ProcessedCount,
				"total_files", cp.TotalFiles,
				"error_count", cp.ErrorCount,
				"last_update", cp.UpdatedAt)
		}
	}
}
