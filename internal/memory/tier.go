package memory

import (
	"context"
	"time"

	"github.com/ctxmind/ctxmind/internal/store"
)

// TierPromotionParams tunes when a session-tier memory is promoted.
type TierPromotionParams struct {
	MinDistinctSessions int
	MinSalience         float64
}

// DefaultTierPromotionParams matches spec.md §4.6 "Tier promotion":
// access_count_across_distinct_sessions ≥ 2, or salience ≥ 0.8.
func DefaultTierPromotionParams() TierPromotionParams {
	return TierPromotionParams{MinDistinctSessions: 2, MinSalience: 0.8}
}

// PromoteIfEligible promotes a session-tier memory to project tier when it
// meets either threshold. Idempotent: a no-op if already project tier or
// not yet eligible.
func (l *Lifecycle) PromoteIfEligible(ctx context.Context, id string, params TierPromotionParams) (promoted bool, err error) {
	m, err := l.mustGet(ctx, id)
	if err != nil {
		return false, err
	}
	if m.Tier == store.TierProject {
		return false, nil
	}

	if m.Salience >= params.MinSalience {
		return true, l.promote(ctx, m)
	}

	count, err := l.store.MemorySessionCount(ctx, id)
	if err != nil {
		return false, err
	}
	if count >= params.MinDistinctSessions {
		return true, l.promote(ctx, m)
	}
	return false, nil
}

func (l *Lifecycle) promote(ctx context.Context, m *store.Memory) error {
	m.Tier = store.TierProject
	m.UpdatedAt = time.Now().UTC()
	return l.store.SaveMemory(ctx, m)
}

// PromoteSessionMemories promotes every session-tier memory touched by a
// session, called at SessionEnd (spec.md §4.6 "At SessionEnd... is
// promoted to project tier").
func (l *Lifecycle) PromoteSessionMemories(ctx context.Context, memoryIDs []string, params TierPromotionParams) (promotedCount int, err error) {
	for _, id := range memoryIDs {
		promoted, err := l.PromoteIfEligible(ctx, id, params)
		if err != nil {
			return promotedCount, err
		}
		if promoted {
			promotedCount++
		}
	}
	return promotedCount, nil
}
