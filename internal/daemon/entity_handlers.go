package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/ctxmind/ctxmind/internal/store"
)

func toEntityResult(e *store.Entity) EntityResult {
	r := EntityResult{
		ID:           e.ID,
		Name:         e.Name,
		EntityType:   string(e.EntityType),
		Summary:      e.Summary,
		Aliases:      e.Aliases,
		MentionCount: e.MentionCount,
	}
	if !e.FirstSeenAt.IsZero() {
		r.FirstSeenAt = e.FirstSeenAt.Format(time.RFC3339)
	}
	if !e.LastSeenAt.IsZero() {
		r.LastSeenAt = e.LastSeenAt.Format(time.RFC3339)
	}
	return r
}

// HandleEntityList lists the entities mentioned across a project's memories
// (spec.md §6 "entity_list").
func (d *Daemon) HandleEntityList(ctx context.Context, params EntityListParams) (EntityListResult, error) {
	identity, handle, err := d.registry.Resolve(ctx, params.RootPath)
	if err != nil {
		return EntityListResult{}, err
	}
	entities, err := handle.Store.ListEntities(ctx, identity.ID, params.Limit)
	if err != nil {
		return EntityListResult{}, err
	}
	out := make([]EntityResult, 0, len(entities))
	for _, e := range entities {
		out = append(out, toEntityResult(e))
	}
	return EntityListResult{Entities: out}, nil
}

// HandleEntityGet fetches a single entity by id (spec.md §6 "entity_get").
func (d *Daemon) HandleEntityGet(ctx context.Context, params EntityGetParams) (EntityResult, error) {
	_, handle, err := d.registry.Resolve(ctx, params.RootPath)
	if err != nil {
		return EntityResult{}, err
	}
	e, err := handle.Store.GetEntity(ctx, params.ID)
	if err != nil {
		return EntityResult{}, err
	}
	if e == nil {
		return EntityResult{}, fmt.Errorf("entity not found: %s", params.ID)
	}
	return toEntityResult(e), nil
}

// HandleEntityTop ranks a project's entities by mention count (spec.md §6
// "entity_top").
func (d *Daemon) HandleEntityTop(ctx context.Context, params EntityListParams) (EntityListResult, error) {
	identity, handle, err := d.registry.Resolve(ctx, params.RootPath)
	if err != nil {
		return EntityListResult{}, err
	}
	entities, err := handle.Store.TopEntities(ctx, identity.ID, params.Limit)
	if err != nil {
		return EntityListResult{}, err
	}
	out := make([]EntityResult, 0, len(entities))
	for _, e := range entities {
		out = append(out, toEntityResult(e))
	}
	return EntityListResult{Entities: out}, nil
}
