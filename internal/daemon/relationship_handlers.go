package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/ctxmind/ctxmind/internal/ids"
	"github.com/ctxmind/ctxmind/internal/store"
)

func toRelationshipResult(r *store.Relationship) RelationshipResult {
	out := RelationshipResult{
		ID:               r.ID,
		FromMemoryID:     r.FromMemoryID,
		ToMemoryID:       r.ToMemoryID,
		RelationshipType: string(r.RelationshipType),
		Confidence:       r.Confidence,
	}
	if !r.CreatedAt.IsZero() {
		out.CreatedAt = r.CreatedAt.Format(time.RFC3339)
	}
	return out
}

// HandleRelationshipAdd links two memories with a typed edge (spec.md §6
// "relationship_add"). Every universal invariant on relationships (spec.md
// §8: both endpoints exist; type is from the closed vocabulary) is
// enforced here - SaveRelationship itself only validates the vocabulary and
// rejects self-loops, so the endpoint-existence check belongs at this
// layer where both ids are already in hand.
func (d *Daemon) HandleRelationshipAdd(ctx context.Context, params RelationshipAddParams) (RelationshipAddResult, error) {
	_, handle, err := d.registry.Resolve(ctx, params.RootPath)
	if err != nil {
		return RelationshipAddResult{}, err
	}

	from, err := handle.Store.GetMemory(ctx, params.FromMemoryID)
	if err != nil {
		return RelationshipAddResult{}, fmt.Errorf("resolve from_memory_id: %w", err)
	}
	if from == nil {
		return RelationshipAddResult{}, fmt.Errorf("from_memory_id not found: %s", params.FromMemoryID)
	}
	to, err := handle.Store.GetMemory(ctx, params.ToMemoryID)
	if err != nil {
		return RelationshipAddResult{}, fmt.Errorf("resolve to_memory_id: %w", err)
	}
	if to == nil {
		return RelationshipAddResult{}, fmt.Errorf("to_memory_id not found: %s", params.ToMemoryID)
	}

	r := &store.Relationship{
		ID:               ids.New(),
		FromMemoryID:     params.FromMemoryID,
		ToMemoryID:       params.ToMemoryID,
		RelationshipType: store.RelationshipType(params.RelationshipType),
		Confidence:       params.Confidence,
		CreatedAt:        time.Now(),
	}
	if err := handle.Store.SaveRelationship(ctx, r); err != nil {
		return RelationshipAddResult{}, err
	}
	return RelationshipAddResult{ID: r.ID}, nil
}

// HandleRelationshipList lists the relationship edges touching one memory,
// optionally filtered by direction and type (spec.md §6
// "relationship_list").
func (d *Daemon) HandleRelationshipList(ctx context.Context, params RelationshipListParams) (RelationshipListResult, error) {
	_, handle, err := d.registry.Resolve(ctx, params.RootPath)
	if err != nil {
		return RelationshipListResult{}, err
	}

	rels, err := gatherRelationships(ctx, handle.Store, params)
	if err != nil {
		return RelationshipListResult{}, err
	}

	out := make([]RelationshipResult, 0, len(rels))
	for _, r := range rels {
		out = append(out, toRelationshipResult(r))
	}
	return RelationshipListResult{Relationships: out}, nil
}

// HandleRelationshipDelete removes a single relationship edge by id
// (spec.md §6 "relationship_delete").
func (d *Daemon) HandleRelationshipDelete(ctx context.Context, params RelationshipDeleteParams) error {
	_, handle, err := d.registry.Resolve(ctx, params.RootPath)
	if err != nil {
		return err
	}
	return handle.Store.DeleteRelationship(ctx, params.ID)
}

// HandleRelationshipRelated walks a memory's relationship edges and
// returns the memories on the other end (spec.md §6 "relationship_related"
// - graph traversal, one hop, as opposed to relationship_list's raw edge
// listing).
func (d *Daemon) HandleRelationshipRelated(ctx context.Context, params RelationshipListParams) (MemoryListResult, error) {
	_, handle, err := d.registry.Resolve(ctx, params.RootPath)
	if err != nil {
		return MemoryListResult{}, err
	}

	rels, err := gatherRelationships(ctx, handle.Store, params)
	if err != nil {
		return MemoryListResult{}, err
	}

	seen := make(map[string]bool, len(rels))
	var memories []*store.Memory
	for _, r := range rels {
		otherID := r.ToMemoryID
		if otherID == params.MemoryID {
			otherID = r.FromMemoryID
		}
		if seen[otherID] {
			continue
		}
		seen[otherID] = true
		m, err := handle.Store.GetMemory(ctx, otherID)
		if err != nil || m == nil {
			continue
		}
		memories = append(memories, m)
		if params.Limit > 0 && len(memories) >= params.Limit {
			break
		}
	}

	return MemoryListResult{Memories: toMemoryResults(memories)}, nil
}

// gatherRelationships applies direction/type filtering shared by
// relationship_list and relationship_related.
func gatherRelationships(ctx context.Context, s store.MemoryStore, params RelationshipListParams) ([]*store.Relationship, error) {
	var rels []*store.Relationship

	if params.RelationshipType != "" {
		byType, err := s.RelationshipsByType(ctx, params.MemoryID, store.RelationshipType(params.RelationshipType))
		if err != nil {
			return nil, err
		}
		rels = byType
	} else {
		switch params.Direction {
		case "from":
			from, err := s.RelationshipsFrom(ctx, params.MemoryID)
			if err != nil {
				return nil, err
			}
			rels = from
		case "to":
			to, err := s.RelationshipsTo(ctx, params.MemoryID)
			if err != nil {
				return nil, err
			}
			rels = to
		default:
			from, err := s.RelationshipsFrom(ctx, params.MemoryID)
			if err != nil {
				return nil, err
			}
			to, err := s.RelationshipsTo(ctx, params.MemoryID)
			if err != nil {
				return nil, err
			}
			rels = append(from, to...)
		}
	}

	if params.Limit > 0 && len(rels) > params.Limit {
		rels = rels[:params.Limit]
	}
	return rels, nil
}
