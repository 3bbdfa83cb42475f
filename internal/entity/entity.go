// Package entity extracts and manages named referents mentioned by
// memories (spec.md §3 "Entity / MemoryEntityLink").
package entity

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/ctxmind/ctxmind/internal/ids"
	"github.com/ctxmind/ctxmind/internal/store"
)

// capitalizedPhrase matches runs of Title-Case words, a heuristic for
// proper nouns (people, products, places).
var capitalizedPhrase = regexp.MustCompile(`\b([A-Z][a-zA-Z0-9]*(?:\s+[A-Z][a-zA-Z0-9]*){0,2})\b`)

// techToken matches file/tech-looking tokens: dotted identifiers,
// version-suffixed names, and common extension-bearing paths.
var techToken = regexp.MustCompile(`\b([A-Za-z][A-Za-z0-9]*(?:[-_.][A-Za-z0-9]+)+)\b`)

// Candidate is a provisional entity mention found in memory content,
// before it is resolved against (or inserted into) the entities table.
type Candidate struct {
	Name       string
	EntityType store.EntityType
	Role       store.EntityLinkRole
}

// ExtractCandidates finds entity-like phrases in content. This is a
// heuristic, not an NLP pipeline: capitalized multi-word phrases are
// treated as Person/Concept candidates, dotted/hyphenated tokens as
// Technology candidates (spec.md §4 SUPPLEMENTED "heuristic: capitalized
// multi-word phrases and file/tech-looking tokens").
func ExtractCandidates(content string) []Candidate {
	seen := map[string]bool{}
	var out []Candidate

	for _, m := range capitalizedPhrase.FindAllString(content, -1) {
		name := strings.TrimSpace(m)
		if len(name) < 3 || commonWord(name) || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, Candidate{Name: name, EntityType: store.EntityTypeConcept, Role: store.EntityRoleReference})
	}

	for _, m := range techToken.FindAllString(content, -1) {
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, Candidate{Name: m, EntityType: store.EntityTypeTechnology, Role: store.EntityRoleReference})
	}

	return out
}

var commonWords = map[string]bool{
	"The": true, "This": true, "That": true, "It": true, "We": true, "I": true,
}

func commonWord(s string) bool {
	first, _, _ := strings.Cut(s, " ")
	return commonWords[first]
}

// Resolver links memories to entities, creating new entities on first
// mention and bumping mention counts on repeats.
type Resolver struct {
	store store.MemoryStore
}

// NewResolver constructs a Resolver over a MemoryStore.
func NewResolver(s store.MemoryStore) *Resolver {
	return &Resolver{store: s}
}

// ResolveAndLink extracts candidates from a memory's content, upserts the
// corresponding entities, and links them to the memory.
func (r *Resolver) ResolveAndLink(ctx context.Context, m *store.Memory) error {
	for _, c := range ExtractCandidates(m.Content) {
		e, err := r.store.FindEntityByName(ctx, m.ProjectID, c.Name)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if e == nil {
			e = &store.Entity{
				ID:           ids.New(),
				ProjectID:    m.ProjectID,
				Name:         c.Name,
				EntityType:   c.EntityType,
				MentionCount: 1,
				FirstSeenAt:  now,
				LastSeenAt:   now,
			}
		} else {
			e.MentionCount++
			e.LastSeenAt = now
		}
		if err := r.store.SaveEntity(ctx, e); err != nil {
			return err
		}

		link := &store.MemoryEntityLink{MemoryID: m.ID, EntityID: e.ID, Role: c.Role, Confidence: 0.6}
		if err := r.store.LinkMemoryEntity(ctx, link); err != nil {
			return err
		}
	}
	return nil
}
