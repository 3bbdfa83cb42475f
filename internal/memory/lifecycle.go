package memory

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	ctxerrors "github.com/ctxmind/ctxmind/internal/errors"
	"github.com/ctxmind/ctxmind/internal/ids"
	"github.com/ctxmind/ctxmind/internal/store"
)

// DecayParams carries the per-sector λ and the archive/pin thresholds a
// decay pass is computed against (spec.md §4.6 "Decay").
type DecayParams struct {
	LambdaBySector   map[store.Sector]float64
	ImportanceFactor float64
	ArchiveThreshold float64
	PinThreshold     float64
	BatchSize        int
}

// DefaultDecayParams mirrors the process defaults in internal/config.
func DefaultDecayParams() DecayParams {
	return DecayParams{
		LambdaBySector: map[store.Sector]float64{
			store.SectorEpisodic:   0.08,
			store.SectorSemantic:   0.03,
			store.SectorProcedural: 0.015,
			store.SectorEmotional:  0.04,
			store.SectorReflective: 0.01,
		},
		ImportanceFactor: 0.5,
		ArchiveThreshold: 0.1,
		PinThreshold:     0.8,
		BatchSize:        500,
	}
}

// Lifecycle mutates memories per spec.md §4.6: reinforce, deemphasize,
// decay, supersede, soft/hard delete, restore.
type Lifecycle struct {
	store  store.MemoryStore
	log    *slog.Logger
	params DecayParams
}

// NewLifecycle constructs a Lifecycle over a MemoryStore. log may be nil.
func NewLifecycle(s store.MemoryStore, params DecayParams, log *slog.Logger) *Lifecycle {
	if log == nil {
		log = slog.Default()
	}
	return &Lifecycle{store: s, log: log, params: params}
}

// Reinforce increases salience asymptotically toward 1 by Δ·(1-salience),
// updates last_accessed, and clamps into [0,1].
func (l *Lifecycle) Reinforce(ctx context.Context, id string, delta float64) (*store.Memory, error) {
	m, err := l.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	m.Salience = store.Clamp01(m.Salience + delta*(1-m.Salience))
	m.LastAccessed = time.Now().UTC()
	m.AccessCount++
	m.UpdatedAt = time.Now().UTC()
	if err := l.store.SaveMemory(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Deemphasize decreases salience asymptotically toward 0 by Δ·salience.
func (l *Lifecycle) Deemphasize(ctx context.Context, id string, delta float64) (*store.Memory, error) {
	m, err := l.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	m.Salience = store.Clamp01(m.Salience - delta*m.Salience)
	m.LastAccessed = time.Now().UTC()
	m.UpdatedAt = time.Now().UTC()
	if err := l.store.SaveMemory(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// DecayOne computes the post-decay salience for m at time now without
// persisting it, returning whether the memory is now archivable.
func DecayOne(m *store.Memory, now time.Time, params DecayParams) (newSalience float64, archivable bool) {
	last := m.LastAccessed
	if last.IsZero() {
		last = m.CreatedAt
	}
	days := now.Sub(last).Hours() / 24
	if days < 0 {
		days = 0
	}

	lambda, ok := params.LambdaBySector[m.Sector]
	if !ok {
		lambda = 0.03
	}

	newSalience = m.Salience * math.Exp(-lambda*days) * (1 + params.ImportanceFactor*m.Importance)
	newSalience = store.Clamp01(newSalience)

	archivable = newSalience < params.ArchiveThreshold && m.Importance <= params.PinThreshold
	return newSalience, archivable
}

// ApplyDecayBatch runs one decay sweep over a project's non-deleted
// memories in batches of params.BatchSize, writing back new salience and
// soft-deleting archivable rows unless pinned. Returns counts for the
// Scheduler's decay-sweep job log line.
func (l *Lifecycle) ApplyDecayBatch(ctx context.Context, projectID string) (processed, archived int, err error) {
	now := time.Now().UTC()
	batchSize := l.params.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}

	memories, err := l.store.ListMemories(ctx, projectID, store.MemoryFilter{}, batchSize)
	if err != nil {
		return 0, 0, err
	}

	for _, m := range memories {
		newSalience, archivable := DecayOne(m, now, l.params)
		m.Salience = newSalience
		m.UpdatedAt = now
		if archivable && !m.IsDeleted {
			m.IsDeleted = true
			m.DeletedAt = now
			archived++
		}
		if err := l.store.SaveMemory(ctx, m); err != nil {
			return processed, archived, err
		}
		processed++
	}

	l.log.Debug("decay sweep batch complete", "project_id", projectID, "processed", processed, "archived", archived)
	return processed, archived, nil
}

// Supersede marks old.superseded_by = new.id and records a `supersedes`
// relationship as a secondary index. Forbids self-supersession and cycles
// (spec.md §9 "must not be traversed cyclically").
func (l *Lifecycle) Supersede(ctx context.Context, oldID, newID string) error {
	if oldID == newID {
		return ctxerrors.New(ctxerrors.ErrCodeRelationshipSelfRef,
			fmt.Sprintf("memory %s cannot supersede itself", oldID), nil)
	}

	oldMem, err := l.mustGet(ctx, oldID)
	if err != nil {
		return err
	}
	if _, err := l.mustGet(ctx, newID); err != nil {
		return err
	}

	if reaches, err := l.supersessionReaches(ctx, newID, oldID); err != nil {
		return err
	} else if reaches {
		return ctxerrors.New(ctxerrors.ErrCodeRelationshipCycle,
			fmt.Sprintf("supersede(%s, %s) would create a cycle", oldID, newID), nil)
	}

	now := time.Now().UTC()
	oldMem.SupersededBy = newID
	oldMem.UpdatedAt = now
	if err := l.store.SaveMemory(ctx, oldMem); err != nil {
		return err
	}

	rel := &store.Relationship{
		ID:               ids.New(),
		FromMemoryID:     oldID,
		ToMemoryID:       newID,
		RelationshipType: store.RelSupersedes,
		Confidence:       1.0,
		CreatedAt:        now,
	}
	return l.store.SaveRelationship(ctx, rel)
}

// supersessionReaches walks the superseded_by chain from start and reports
// whether it transitively reaches target, which would make a proposed
// supersede(target, start) a cycle.
func (l *Lifecycle) supersessionReaches(ctx context.Context, start, target string) (bool, error) {
	seen := map[string]bool{}
	current := start
	for current != "" {
		if current == target {
			return true, nil
		}
		if seen[current] {
			return false, nil // already-cyclic data; don't loop forever
		}
		seen[current] = true

		m, err := l.store.GetMemory(ctx, current)
		if err != nil {
			return false, err
		}
		if m == nil {
			return false, nil
		}
		current = m.SupersededBy
	}
	return false, nil
}

// SoftDelete marks a memory deleted without removing it, excluding it from
// default queries while leaving it restorable.
func (l *Lifecycle) SoftDelete(ctx context.Context, id string) error {
	m, err := l.mustGet(ctx, id)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	m.IsDeleted = true
	m.DeletedAt = now
	m.UpdatedAt = now
	return l.store.SaveMemory(ctx, m)
}

// Restore clears a soft-delete, per spec.md §4.6's explicit restore operation.
func (l *Lifecycle) Restore(ctx context.Context, id string) error {
	m, err := l.mustGet(ctx, id)
	if err != nil {
		return err
	}
	m.IsDeleted = false
	m.DeletedAt = time.Time{}
	m.UpdatedAt = time.Now().UTC()
	return l.store.SaveMemory(ctx, m)
}

// HardDelete permanently destroys a memory and its embeddings/links/edges.
// Only reachable via explicit delete-with-hard (spec.md §3 "Hard-destroyed
// only by explicit delete-with-hard or by retention sweep").
func (l *Lifecycle) HardDelete(ctx context.Context, id string) error {
	if _, err := l.mustGet(ctx, id); err != nil {
		return err
	}
	return l.store.DeleteMemoryHard(ctx, id)
}

func (l *Lifecycle) mustGet(ctx context.Context, id string) (*store.Memory, error) {
	m, err := l.store.GetMemory(ctx, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ctxerrors.New(ctxerrors.ErrCodeMemoryNotFound, fmt.Sprintf("memory %s not found", id), nil)
	}
	return m, nil
}
