package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ctxmind/ctxmind/internal/accumulator"
	"github.com/ctxmind/ctxmind/internal/store"
)

// Default Ollama extraction configuration, matching the context generator's
// defaults for the same local model.
const (
	DefaultExtractModel   = "qwen3:0.6b"
	DefaultExtractTimeout = 10 * time.Second
	DefaultExtractHost    = "http://localhost:11434"
)

// OllamaConfig configures an OllamaExtractor.
type OllamaConfig struct {
	Host    string
	Model   string
	Timeout string
}

// DefaultOllamaConfig returns the process defaults.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{Host: DefaultExtractHost, Model: DefaultExtractModel}
}

// OllamaExtractor calls a local Ollama model to turn a session segment into
// candidate memories, following the same request/response shape as the
// indexer's contextual-summary generator.
type OllamaExtractor struct {
	client *http.Client
	config OllamaConfig
}

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Format string `json:"format,omitempty"`
	Stream bool   `json:"stream"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// extractedCandidate mirrors the JSON shape the prompt asks the model to
// emit; it maps to Candidate after validation.
type extractedCandidate struct {
	Content    string   `json:"content"`
	Sector     string   `json:"sector"`
	MemoryType string   `json:"memory_type"`
	Tags       []string `json:"tags"`
	Confidence float64  `json:"confidence"`
	Summary    string   `json:"summary"`
}

const extractionPromptTemplate = `You are extracting durable memories from an agent coding session.

User prompt: %s
Files read: %s
Files modified: %s
Commands run: %s
Completed tasks: %s
Errors: %s
Last assistant message: %s

Instructions:
- Identify facts, preferences, decisions, or gotchas worth remembering long-term.
- Skip anything that is purely transient chatter.
- Output a JSON array of objects with fields: content, sector (one of episodic, semantic, procedural, emotional, reflective), memory_type, tags (array of strings), confidence (0-1), summary.
- Output ONLY the JSON array, no preamble.

JSON:`

// NewOllamaExtractor builds an OllamaExtractor over the given configuration.
func NewOllamaExtractor(config OllamaConfig) *OllamaExtractor {
	if config.Host == "" {
		config.Host = DefaultExtractHost
	}
	if config.Model == "" {
		config.Model = DefaultExtractModel
	}
	timeout := DefaultExtractTimeout
	if config.Timeout != "" {
		if parsed, err := time.ParseDuration(config.Timeout); err == nil {
			timeout = parsed
		}
	}
	return &OllamaExtractor{client: &http.Client{Timeout: timeout}, config: config}
}

// Extract builds an extraction prompt from the segment and parses the
// model's JSON array response into candidates.
func (o *OllamaExtractor) Extract(ctx context.Context, seg *accumulator.SegmentContext) ([]Candidate, error) {
	prompt := fmt.Sprintf(extractionPromptTemplate,
		seg.Prompt,
		joinOrNone(seg.FilesRead),
		joinOrNone(seg.FilesModified),
		commandSummaries(seg.Commands),
		joinOrNone(seg.CompletedTasks),
		joinOrNone(seg.Errors),
		seg.LastAssistantMessage,
	)

	raw, err := o.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	raw = strings.TrimSpace(raw)
	var parsed []extractedCandidate
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("parse extraction response: %w", err)
	}

	candidates := make([]Candidate, 0, len(parsed))
	for _, p := range parsed {
		if strings.TrimSpace(p.Content) == "" {
			continue
		}
		candidates = append(candidates, Candidate{
			Content:    p.Content,
			Sector:     sectorOrDefault(p.Sector),
			MemoryType: memoryTypeOrDefault(p.MemoryType),
			Tags:       p.Tags,
			Confidence: store.Clamp01(p.Confidence),
			Summary:    p.Summary,
		})
	}
	return candidates, nil
}

func (o *OllamaExtractor) generate(ctx context.Context, prompt string) (string, error) {
	reqBody := ollamaGenerateRequest{Model: o.config.Model, Prompt: prompt, Stream: false}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := o.config.Host + "/api/generate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var genResp ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return genResp.Response, nil
}

// Available checks whether the configured Ollama host is reachable.
func (o *OllamaExtractor) Available(ctx context.Context) bool {
	url := o.config.Host + "/api/tags"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req = req.WithContext(ctx)

	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return strings.Join(items, ", ")
}

func commandSummaries(cmds []accumulator.CommandRecord) string {
	if len(cmds) == 0 {
		return "(none)"
	}
	parts := make([]string, 0, len(cmds))
	for _, c := range cmds {
		parts = append(parts, fmt.Sprintf("%s (exit %d)", c.Command, c.ExitCode))
	}
	return strings.Join(parts, ", ")
}

func sectorOrDefault(s string) store.Sector {
	switch store.Sector(s) {
	case store.SectorEpisodic, store.SectorSemantic, store.SectorProcedural, store.SectorEmotional, store.SectorReflective:
		return store.Sector(s)
	default:
		return store.SectorEpisodic
	}
}

func memoryTypeOrDefault(t string) store.MemoryType {
	if t == "" {
		return store.MemoryTypeTurnSummary
	}
	return store.MemoryType(t)
}
