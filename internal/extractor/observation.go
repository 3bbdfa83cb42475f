package extractor

import (
	"fmt"

	"github.com/ctxmind/ctxmind/internal/store"
)

// ToolObservation builds the short episodic memory recorded for a single
// tool use, deduped upstream via the SeenHash set before it reaches the
// store (spec.md §4.7 "generate a short episodic tool observation memory
// with importance 0.3, salience 0.4").
func ToolObservation(tool string, filesTouched []string) Candidate {
	content := fmt.Sprintf("Used %s", tool)
	if len(filesTouched) > 0 {
		content = fmt.Sprintf("Used %s on %s", tool, filesTouched[0])
		if len(filesTouched) > 1 {
			content = fmt.Sprintf("%s and %d more", content, len(filesTouched)-1)
		}
	}
	return Candidate{
		Content:    content,
		Sector:     store.SectorEpisodic,
		MemoryType: store.MemoryTypeTurnSummary,
		Tags:       []string{"tool_observation"},
		Confidence: 0.5,
	}
}

// ToolObservationScores are the fixed salience/importance spec.md §4.7
// assigns tool-observation memories.
const (
	ToolObservationImportance = 0.3
	ToolObservationSalience   = 0.4
)
