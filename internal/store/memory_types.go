package store

import (
	"context"
	"time"
)

// Sector classifies a memory's cognitive kind (spec.md §3 "Memory").
type Sector string

const (
	SectorEpisodic   Sector = "episodic"
	SectorSemantic   Sector = "semantic"
	SectorProcedural Sector = "procedural"
	SectorEmotional  Sector = "emotional"
	SectorReflective Sector = "reflective"
)

// Tier is the coarse lifetime scope of a memory.
type Tier string

const (
	TierSession Tier = "session"
	TierProject Tier = "project"
)

// MemoryType further classifies memory content; open vocabulary, the
// values below are the ones the extractor and tool-observation capture
// currently emit.
type MemoryType string

const (
	MemoryTypePreference     MemoryType = "preference"
	MemoryTypeCodebase       MemoryType = "codebase"
	MemoryTypeDecision       MemoryType = "decision"
	MemoryTypeGotcha         MemoryType = "gotcha"
	MemoryTypePattern        MemoryType = "pattern"
	MemoryTypeTurnSummary    MemoryType = "turn_summary"
	MemoryTypeTaskCompletion MemoryType = "task_completion"
)

// Memory is a free-form fact, preference, decision, or observation
// extracted from an agent session. See spec.md §3 "Memory".
type Memory struct {
	ID        string
	ProjectID string
	Content   string
	Summary   string

	Sector     Sector
	Tier       Tier
	MemoryType MemoryType

	Salience     float64
	Importance   float64
	Confidence   float64
	AccessCount  int
	LastAccessed time.Time

	CreatedAt     time.Time
	UpdatedAt     time.Time
	ValidFrom     time.Time
	ValidUntil    time.Time
	IsDeleted     bool
	DeletedAt     time.Time
	SupersededBy  string

	Tags        []string
	Categories  []string
	Concepts    []string
	Files       []string
	Context     string
	ScopePath   string
	ScopeModule string
	SessionID   string

	ContentHash      string
	SimHash          uint64
	EmbeddingModelID string
}

// Clamp01 clamps a score into [0, 1], enforcing the invariant from
// spec.md §3 "salience ∈ [0,1] after every mutation" (also used for
// importance/confidence which share the same range).
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// MemoryFilter restricts a memory search/list per spec.md §4.5 "Memory filters".
type MemoryFilter struct {
	Sector            Sector
	Tier              Tier
	MemoryType        MemoryType
	MinSalience       float64
	ScopePathPrefix   string
	ScopeModule       string
	SessionID         string
	IncludeSuperseded bool
	IncludeDeleted    bool
}

// EntityType is an open vocabulary of named-referent kinds.
type EntityType string

const (
	EntityTypePerson     EntityType = "person"
	EntityTypeTechnology EntityType = "technology"
	EntityTypeConcept    EntityType = "concept"
)

// Entity is a named referent mentioned by one or more memories.
type Entity struct {
	ID           string
	ProjectID    string
	Name         string
	EntityType   EntityType
	Summary      string
	Aliases      []string
	MentionCount int
	FirstSeenAt  time.Time
	LastSeenAt   time.Time
}

// EntityLinkRole is the role an entity plays in a memory.
type EntityLinkRole string

const (
	EntityRoleSubject   EntityLinkRole = "subject"
	EntityRoleReference EntityLinkRole = "reference"
)

// MemoryEntityLink associates a memory with an entity it mentions.
type MemoryEntityLink struct {
	MemoryID   string
	EntityID   string
	Role       EntityLinkRole
	Confidence float64
}

// RelationshipType is the closed vocabulary of edges between memories
// (spec.md §3 "Relationship").
type RelationshipType string

const (
	RelSupersedes    RelationshipType = "supersedes"
	RelContradicts   RelationshipType = "contradicts"
	RelRelatedTo     RelationshipType = "related_to"
	RelBuildsOn      RelationshipType = "builds_on"
	RelConfirms      RelationshipType = "confirms"
	RelAppliesTo     RelationshipType = "applies_to"
	RelDependsOn     RelationshipType = "depends_on"
	RelAlternativeTo RelationshipType = "alternative_to"
)

// ValidRelationshipTypes is the closed vocabulary relationship mutations
// must validate against.
var ValidRelationshipTypes = map[RelationshipType]bool{
	RelSupersedes: true, RelContradicts: true, RelRelatedTo: true, RelBuildsOn: true,
	RelConfirms: true, RelAppliesTo: true, RelDependsOn: true, RelAlternativeTo: true,
}

// Relationship is a directed edge between two memories.
type Relationship struct {
	ID               string
	FromMemoryID     string
	ToMemoryID       string
	RelationshipType RelationshipType
	Confidence       float64
	CreatedAt        time.Time
	ValidUntil       time.Time
}

// SessionMemoryUsage classifies how a session used a memory.
type SessionMemoryUsage string

const (
	UsageCreated  SessionMemoryUsage = "created"
	UsageRecalled SessionMemoryUsage = "recalled"
	UsageUpdated  SessionMemoryUsage = "updated"
)

// Session tracks an agent session's lifetime for tier promotion and
// cleanup (spec.md §3 "Session").
type Session struct {
	ID          string
	ProjectID   string
	StartedAt   time.Time
	EndedAt     time.Time
	Summary     string
	UserPrompt  string
	LastActivity time.Time
}

// SessionMemoryLink records that a session created/recalled/updated a memory.
type SessionMemoryLink struct {
	SessionID string
	MemoryID  string
	Usage     SessionMemoryUsage
	CreatedAt time.Time
}

// DocumentSourceType classifies where a document's content came from.
type DocumentSourceType string

const (
	DocSourceFile    DocumentSourceType = "file"
	DocSourceURL     DocumentSourceType = "url"
	DocSourceContent DocumentSourceType = "content"
)

// DocumentMeta is the per-document metadata row (spec.md §3 "Document metadata").
type DocumentMeta struct {
	ID          string
	ProjectID   string
	Title       string
	Source      string
	SourceType  DocumentSourceType
	ContentHash string
	CharCount   int
	TotalChunks int
	FullContent string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DocumentChunk is one contiguous slice of a document (spec.md §3 "DocumentChunk").
type DocumentChunk struct {
	ID          string
	DocumentID  string
	ProjectID   string
	Title       string
	Source      string
	SourceType  DocumentSourceType
	Content     string
	ChunkIndex  int
	TotalChunks int
	CharOffset  int
}

// FileCheckpoint is the per-file resumable indexing checkpoint of
// spec.md §3 "IndexCheckpoint" (kept distinct from the legacy single-stage
// embedding-progress IndexCheckpoint already used by the embedding resume
// path in sqlite_store.go).
type FileCheckpoint struct {
	ProjectID      string
	CheckpointType string // "code" | "docs"
	TotalFiles     int
	PendingFiles   []string
	ProcessedCount int
	ErrorCount     int
	GitignoreHash  string
	IsComplete     bool
	UpdatedAt      time.Time
}

// MemoryStore persists memories, entities, relationships, sessions, and
// documents. Implemented by *SQLiteStore alongside MetadataStore.
type MemoryStore interface {
	SaveMemory(ctx context.Context, m *Memory) error
	GetMemory(ctx context.Context, id string) (*Memory, error)
	// FindMemoryByPrefix resolves a ≥6-character id prefix. Returns
	// ErrAmbiguousPrefix when more than one memory matches.
	FindMemoryByPrefix(ctx context.Context, prefix string) (*Memory, error)
	ListMemories(ctx context.Context, projectID string, filter MemoryFilter, limit int) ([]*Memory, error)
	ListDeletedMemories(ctx context.Context, projectID string, limit int) ([]*Memory, error)
	DeleteMemoryHard(ctx context.Context, id string) error
	FindByContentHash(ctx context.Context, projectID, contentHash string) (*Memory, error)
	CandidatesBySimhashNeighborhood(ctx context.Context, projectID string, limit int) ([]*Memory, error)

	SaveMemoryEmbedding(ctx context.Context, memoryID string, embedding []float32, model string) error
	DeleteMemoryEmbedding(ctx context.Context, memoryID string) error
	GetAllMemoryEmbeddings(ctx context.Context, projectID string) (map[string][]float32, error)
	// MemoryEmbeddingModels reports the embedder model each memory's stored
	// vector was produced with, keyed by memory id, so migrate_embedding can
	// skip vectors already on the target model.
	MemoryEmbeddingModels(ctx context.Context, projectID string) (map[string]string, error)

	SaveEntity(ctx context.Context, e *Entity) error
	GetEntity(ctx context.Context, id string) (*Entity, error)
	FindEntityByName(ctx context.Context, projectID, name string) (*Entity, error)
	ListEntities(ctx context.Context, projectID string, limit int) ([]*Entity, error)
	TopEntities(ctx context.Context, projectID string, limit int) ([]*Entity, error)
	LinkMemoryEntity(ctx context.Context, link *MemoryEntityLink) error

	SaveRelationship(ctx context.Context, r *Relationship) error
	DeleteRelationship(ctx context.Context, id string) error
	RelationshipsFrom(ctx context.Context, memoryID string) ([]*Relationship, error)
	RelationshipsTo(ctx context.Context, memoryID string) ([]*Relationship, error)
	RelationshipsByType(ctx context.Context, memoryID string, t RelationshipType) ([]*Relationship, error)

	SaveSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	EndSession(ctx context.Context, id string, endedAt time.Time) error
	StaleSessions(ctx context.Context, olderThan time.Time) ([]*Session, error)
	LinkSessionMemory(ctx context.Context, link *SessionMemoryLink) error
	MemorySessionCount(ctx context.Context, memoryID string) (int, error)
	// SessionMemoryIDs returns the distinct memory ids a session touched,
	// used to run tier promotion at SessionEnd.
	SessionMemoryIDs(ctx context.Context, sessionID string) ([]string, error)

	SaveDocument(ctx context.Context, d *DocumentMeta) error
	GetDocument(ctx context.Context, id string) (*DocumentMeta, error)
	SaveDocumentChunks(ctx context.Context, chunks []*DocumentChunk) error
	ListDocumentChunks(ctx context.Context, documentID string) ([]*DocumentChunk, error)
	GetDocumentChunk(ctx context.Context, id string) (*DocumentChunk, error)

	SaveFileCheckpoint(ctx context.Context, cp *FileCheckpoint) error
	LoadFileCheckpoint(ctx context.Context, projectID, checkpointType string) (*FileCheckpoint, error)
	ClearFileCheckpoint(ctx context.Context, projectID, checkpointType string) error
}

// ErrAmbiguousPrefix is returned when an id prefix matches more than one row.
type ErrAmbiguousPrefix struct {
	Prefix string
	Count  int
}

func (e *ErrAmbiguousPrefix) Error() string {
	return "ambiguous id prefix: " + e.Prefix
}
