package extractor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctxmind/ctxmind/internal/accumulator"
	"github.com/ctxmind/ctxmind/internal/store"
)

type stubExtractor struct {
	candidates []Candidate
	err        error
}

func (s *stubExtractor) Extract(ctx context.Context, seg *accumulator.SegmentContext) ([]Candidate, error) {
	return s.candidates, s.err
}

func TestExtractOrFallback_ReturnsExtractorResultOnSuccess(t *testing.T) {
	seg := accumulator.New("sess-1")
	stub := &stubExtractor{candidates: []Candidate{{Content: "prefers tabs", Confidence: 0.9}}}

	got := ExtractOrFallback(context.Background(), stub, seg)

	require.Len(t, got, 1)
	assert.Equal(t, "prefers tabs", got[0].Content)
}

func TestExtractOrFallback_FallsBackOnError(t *testing.T) {
	seg := accumulator.New("sess-1")
	seg.Prompt = "fix the bug"
	seg.RecordFileModified("main.go")
	stub := &stubExtractor{err: errors.New("ollama unreachable")}

	got := ExtractOrFallback(context.Background(), stub, seg)

	require.Len(t, got, 1)
	assert.Equal(t, store.MemoryTypeTurnSummary, got[0].MemoryType)
	assert.Contains(t, got[0].Content, "fix the bug")
}

func TestExtractOrFallback_FallsBackOnEmptyResult(t *testing.T) {
	seg := accumulator.New("sess-1")
	stub := &stubExtractor{candidates: nil}

	got := ExtractOrFallback(context.Background(), stub, seg)

	require.Len(t, got, 1)
	assert.Equal(t, 0.3, got[0].Confidence)
}

func TestToolObservation_MentionsToolAndFirstFile(t *testing.T) {
	c := ToolObservation("Edit", []string{"main.go", "helper.go"})
	assert.Contains(t, c.Content, "Edit")
	assert.Contains(t, c.Content, "main.go")
	assert.Contains(t, c.Content, "1 more")
}

func TestSectorOrDefault_FallsBackToEpisodicForUnknown(t *testing.T) {
	assert.Equal(t, store.SectorEpisodic, sectorOrDefault("not-a-sector"))
	assert.Equal(t, store.SectorSemantic, sectorOrDefault("semantic"))
}
