package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

var _ MemoryStore = (*SQLiteStore)(nil)

func marshalStrings(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	b, _ := json.Marshal(ss)
	return string(b)
}

func unmarshalStrings(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func nullableUnix(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func scanUnixNullable(ns sql.NullInt64) time.Time {
	if !ns.Valid {
		return time.Time{}
	}
	return unixToTime(ns.Int64)
}

const memoryColumns = `id, project_id, content, summary, sector, tier, memory_type, salience, importance,
	confidence, access_count, last_accessed, created_at, updated_at, valid_from, valid_until, is_deleted,
	deleted_at, superseded_by, tags, categories, concepts, files, context, scope_path, scope_module,
	session_id, content_hash, simhash, embedding_model_id`

func scanMemory(row interface {
	Scan(...any) error
}) (*Memory, error) {
	var m Memory
	var memoryType, supersededBy, embeddingModelID sql.NullString
	var lastAccessed, validFrom, validUntil, deletedAt sql.NullInt64
	var createdAt, updatedAt int64
	var isDeleted int
	var tags, categories, concepts, files string

	err := row.Scan(&m.ID, &m.ProjectID, &m.Content, &m.Summary, &m.Sector, &m.Tier, &memoryType,
		&m.Salience, &m.Importance, &m.Confidence, &m.AccessCount, &lastAccessed,
		&createdAt, &updatedAt, &validFrom, &validUntil, &isDeleted, &deletedAt, &supersededBy,
		&tags, &categories, &concepts, &files, &m.Context, &m.ScopePath, &m.ScopeModule, &m.SessionID,
		&m.ContentHash, &m.SimHash, &embeddingModelID)
	if err != nil {
		return nil, err
	}
	m.MemoryType = MemoryType(memoryType.String)
	m.SupersededBy = supersededBy.String
	m.EmbeddingModelID = embeddingModelID.String
	m.CreatedAt = unixToTime(createdAt)
	m.UpdatedAt = unixToTime(updatedAt)
	m.LastAccessed = scanUnixNullable(lastAccessed)
	m.ValidFrom = scanUnixNullable(validFrom)
	m.ValidUntil = scanUnixNullable(validUntil)
	m.DeletedAt = scanUnixNullable(deletedAt)
	m.IsDeleted = isDeleted != 0
	m.Tags = unmarshalStrings(tags)
	m.Categories = unmarshalStrings(categories)
	m.Concepts = unmarshalStrings(concepts)
	m.Files = unmarshalStrings(files)

	return &m, nil
}

func (s *SQLiteStore) SaveMemory(ctx context.Context, m *Memory) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (id, project_id, content, summary, sector, tier, memory_type, salience,
			importance, confidence, access_count, last_accessed, created_at, updated_at, valid_from,
			valid_until, is_deleted, deleted_at, superseded_by, tags, categories, concepts, files, context,
			scope_path, scope_module, session_id, content_hash, simhash, embedding_model_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content=excluded.content, summary=excluded.summary, sector=excluded.sector, tier=excluded.tier,
			memory_type=excluded.memory_type, salience=excluded.salience, importance=excluded.importance,
			confidence=excluded.confidence, access_count=excluded.access_count,
			last_accessed=excluded.last_accessed, updated_at=excluded.updated_at, valid_from=excluded.valid_from,
			valid_until=excluded.valid_until, is_deleted=excluded.is_deleted, deleted_at=excluded.deleted_at,
			superseded_by=excluded.superseded_by, tags=excluded.tags, categories=excluded.categories,
			concepts=excluded.concepts, files=excluded.files, context=excluded.context,
			scope_path=excluded.scope_path, scope_module=excluded.scope_module, session_id=excluded.session_id,
			content_hash=excluded.content_hash, simhash=excluded.simhash,
			embedding_model_id=excluded.embedding_model_id`,
		m.ID, m.ProjectID, m.Content, m.Summary, string(m.Sector), string(m.Tier), string(m.MemoryType),
		m.Salience, m.Importance, m.Confidence, m.AccessCount, nullableUnix(m.LastAccessed),
		timeToUnix(m.CreatedAt), timeToUnix(m.UpdatedAt), nullableUnix(m.ValidFrom), nullableUnix(m.ValidUntil),
		boolToInt(m.IsDeleted), nullableUnix(m.DeletedAt), nullString(m.SupersededBy),
		marshalStrings(m.Tags), marshalStrings(m.Categories), marshalStrings(m.Concepts), marshalStrings(m.Files),
		m.Context, m.ScopePath, m.ScopeModule, m.SessionID, m.ContentHash, m.SimHash, nullString(m.EmbeddingModelID),
	)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *SQLiteStore) GetMemory(ctx context.Context, id string) (*Memory, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

func (s *SQLiteStore) FindMemoryByPrefix(ctx context.Context, prefix string) (*Memory, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id LIKE ? LIMIT 2`, prefix+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []*Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	if len(matches) > 1 {
		return nil, &ErrAmbiguousPrefix{Prefix: prefix, Count: len(matches)}
	}
	return matches[0], nil
}

func (s *SQLiteStore) ListMemories(ctx context.Context, projectID string, filter MemoryFilter, limit int) ([]*Memory, error) {
	if limit <= 0 {
		limit = 50
	}
	var where []string
	var args []any
	where = append(where, "project_id = ?")
	args = append(args, projectID)

	if !filter.IncludeDeleted {
		where = append(where, "is_deleted = 0")
	}
	if !filter.IncludeSuperseded {
		where = append(where, "superseded_by IS NULL")
	}
	if filter.Sector != "" {
		where = append(where, "sector = ?")
		args = append(args, string(filter.Sector))
	}
	if filter.Tier != "" {
		where = append(where, "tier = ?")
		args = append(args, string(filter.Tier))
	}
	if filter.MemoryType != "" {
		where = append(where, "memory_type = ?")
		args = append(args, string(filter.MemoryType))
	}
	if filter.MinSalience > 0 {
		where = append(where, "salience >= ?")
		args = append(args, filter.MinSalience)
	}
	if filter.ScopePathPrefix != "" {
		where = append(where, "scope_path LIKE ?")
		args = append(args, filter.ScopePathPrefix+"%")
	}
	if filter.ScopeModule != "" {
		where = append(where, "scope_module = ?")
		args = append(args, filter.ScopeModule)
	}
	if filter.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, filter.SessionID)
	}

	args = append(args, limit)
	query := `SELECT ` + memoryColumns + ` FROM memories WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY created_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListDeletedMemories(ctx context.Context, projectID string, limit int) ([]*Memory, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+memoryColumns+` FROM memories
		WHERE project_id = ? AND is_deleted = 1 ORDER BY deleted_at DESC LIMIT ?`, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteMemoryHard(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`DELETE FROM memories WHERE id = ?`,
		`DELETE FROM memory_embeddings WHERE memory_id = ?`,
		`DELETE FROM memory_entity_links WHERE memory_id = ?`,
		`DELETE FROM relationships WHERE from_memory_id = ? OR to_memory_id = ?`,
	}
	for _, stmt := range stmts {
		args := []any{id}
		if strings.Count(stmt, "?") == 2 {
			args = append(args, id)
		}
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) FindByContentHash(ctx context.Context, projectID, contentHash string) (*Memory, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories
		WHERE project_id = ? AND content_hash = ? AND is_deleted = 0 LIMIT 1`, projectID, contentHash)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// CandidatesBySimhashNeighborhood returns recent non-deleted memories for a
// project, used by the dedup path (§4.5.4) as the pool to compare SimHash
// hamming distance against before an expensive vector search confirms it.
func (s *SQLiteStore) CandidatesBySimhashNeighborhood(ctx context.Context, projectID string, limit int) ([]*Memory, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+memoryColumns+` FROM memories
		WHERE project_id = ? AND is_deleted = 0 ORDER BY created_at DESC LIMIT ?`, projectID, limit*20)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveMemoryEmbedding(ctx context.Context, memoryID string, embedding []float32, model string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_embeddings (memory_id, embedding, model) VALUES (?, ?, ?)
		ON CONFLICT(memory_id) DO UPDATE SET embedding=excluded.embedding, model=excluded.model`,
		memoryID, embeddingToBytes(embedding), model)
	return err
}

func (s *SQLiteStore) DeleteMemoryEmbedding(ctx context.Context, memoryID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM memory_embeddings WHERE memory_id = ?`, memoryID)
	return err
}

func (s *SQLiteStore) MemoryEmbeddingModels(ctx context.Context, projectID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT me.memory_id, me.model FROM memory_embeddings me
		JOIN memories m ON m.id = me.memory_id
		WHERE m.project_id = ?`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var id, model string
		if err := rows.Scan(&id, &model); err != nil {
			return nil, err
		}
		out[id] = model
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetAllMemoryEmbeddings(ctx context.Context, projectID string) (map[string][]float32, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT me.memory_id, me.embedding FROM memory_embeddings me
		JOIN memories m ON m.id = me.memory_id
		WHERE m.project_id = ? AND me.embedding IS NOT NULL`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]float32)
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		out[id] = bytesToEmbedding(raw)
	}
	return out, rows.Err()
}

// ---- Entities ----

func (s *SQLiteStore) SaveEntity(ctx context.Context, e *Entity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entities (id, project_id, name, entity_type, summary, aliases, mention_count, first_seen_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, entity_type=excluded.entity_type, summary=excluded.summary,
			aliases=excluded.aliases, mention_count=excluded.mention_count, last_seen_at=excluded.last_seen_at`,
		e.ID, e.ProjectID, e.Name, string(e.EntityType), e.Summary, marshalStrings(e.Aliases), e.MentionCount,
		timeToUnix(e.FirstSeenAt), timeToUnix(e.LastSeenAt))
	return err
}

func scanEntity(row interface{ Scan(...any) error }) (*Entity, error) {
	var e Entity
	var entityType, aliases string
	var firstSeen, lastSeen int64
	if err := row.Scan(&e.ID, &e.ProjectID, &e.Name, &entityType, &e.Summary, &aliases, &e.MentionCount, &firstSeen, &lastSeen); err != nil {
		return nil, err
	}
	e.EntityType = EntityType(entityType)
	e.Aliases = unmarshalStrings(aliases)
	e.FirstSeenAt = unixToTime(firstSeen)
	e.LastSeenAt = unixToTime(lastSeen)
	return &e, nil
}

const entityColumns = `id, project_id, name, entity_type, summary, aliases, mention_count, first_seen_at, last_seen_at`

func (s *SQLiteStore) GetEntity(ctx context.Context, id string) (*Entity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = ?`, id)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func (s *SQLiteStore) FindEntityByName(ctx context.Context, projectID, name string) (*Entity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE project_id = ? AND name = ?`, projectID, name)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func (s *SQLiteStore) ListEntities(ctx context.Context, projectID string, limit int) ([]*Entity, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE project_id = ? ORDER BY last_seen_at DESC LIMIT ?`, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) TopEntities(ctx context.Context, projectID string, limit int) ([]*Entity, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE project_id = ? ORDER BY mention_count DESC LIMIT ?`, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) LinkMemoryEntity(ctx context.Context, link *MemoryEntityLink) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_entity_links (memory_id, entity_id, role, confidence) VALUES (?, ?, ?, ?)
		ON CONFLICT(memory_id, entity_id, role) DO UPDATE SET confidence = excluded.confidence`,
		link.MemoryID, link.EntityID, string(link.Role), link.Confidence)
	return err
}

// ---- Relationships ----

func (s *SQLiteStore) SaveRelationship(ctx context.Context, r *Relationship) error {
	if !ValidRelationshipTypes[r.RelationshipType] {
		return fmt.Errorf("invalid relationship type: %s", r.RelationshipType)
	}
	if r.FromMemoryID == r.ToMemoryID {
		return fmt.Errorf("relationship cannot self-reference memory %s", r.FromMemoryID)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relationships (id, from_memory_id, to_memory_id, relationship_type, confidence, created_at, valid_until)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.FromMemoryID, r.ToMemoryID, string(r.RelationshipType), r.Confidence,
		timeToUnix(r.CreatedAt), nullableUnix(r.ValidUntil))
	return err
}

func (s *SQLiteStore) DeleteRelationship(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM relationships WHERE id = ?`, id)
	return err
}

func scanRelationship(row interface{ Scan(...any) error }) (*Relationship, error) {
	var r Relationship
	var relType string
	var createdAt int64
	var validUntil sql.NullInt64
	if err := row.Scan(&r.ID, &r.FromMemoryID, &r.ToMemoryID, &relType, &r.Confidence, &createdAt, &validUntil); err != nil {
		return nil, err
	}
	r.RelationshipType = RelationshipType(relType)
	r.CreatedAt = unixToTime(createdAt)
	r.ValidUntil = scanUnixNullable(validUntil)
	return &r, nil
}

const relationshipColumns = `id, from_memory_id, to_memory_id, relationship_type, confidence, created_at, valid_until`

func (s *SQLiteStore) RelationshipsFrom(ctx context.Context, memoryID string) ([]*Relationship, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+relationshipColumns+` FROM relationships WHERE from_memory_id = ?`, memoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Relationship
	for rows.Next() {
		r, err := scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) RelationshipsTo(ctx context.Context, memoryID string) ([]*Relationship, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+relationshipColumns+` FROM relationships WHERE to_memory_id = ?`, memoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Relationship
	for rows.Next() {
		r, err := scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) RelationshipsByType(ctx context.Context, memoryID string, t RelationshipType) ([]*Relationship, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+relationshipColumns+` FROM relationships
		WHERE (from_memory_id = ? OR to_memory_id = ?) AND relationship_type = ?`, memoryID, memoryID, string(t))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Relationship
	for rows.Next() {
		r, err := scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---- Sessions ----

func (s *SQLiteStore) SaveSession(ctx context.Context, sess *Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, project_id, started_at, ended_at, summary, user_prompt, last_activity)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			summary=excluded.summary, user_prompt=excluded.user_prompt, ended_at=excluded.ended_at,
			last_activity=excluded.last_activity`,
		sess.ID, sess.ProjectID, timeToUnix(sess.StartedAt), nullableUnix(sess.EndedAt), sess.Summary,
		sess.UserPrompt, timeToUnix(sess.LastActivity))
	return err
}

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	var sess Session
	var endedAt sql.NullInt64
	var startedAt, lastActivity int64
	if err := row.Scan(&sess.ID, &sess.ProjectID, &startedAt, &endedAt, &sess.Summary, &sess.UserPrompt, &lastActivity); err != nil {
		return nil, err
	}
	sess.StartedAt = unixToTime(startedAt)
	sess.EndedAt = scanUnixNullable(endedAt)
	sess.LastActivity = unixToTime(lastActivity)
	return &sess, nil
}

const sessionColumns = `id, project_id, started_at, ended_at, summary, user_prompt, last_activity`

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sess, err
}

func (s *SQLiteStore) EndSession(ctx context.Context, id string, endedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET ended_at = ? WHERE id = ?`, timeToUnix(endedAt), id)
	return err
}

func (s *SQLiteStore) StaleSessions(ctx context.Context, olderThan time.Time) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE ended_at IS NULL AND last_activity < ?`, timeToUnix(olderThan))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) LinkSessionMemory(ctx context.Context, link *SessionMemoryLink) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_memory_links (session_id, memory_id, usage, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id, memory_id, usage) DO NOTHING`,
		link.SessionID, link.MemoryID, string(link.Usage), timeToUnix(link.CreatedAt))
	return err
}

func (s *SQLiteStore) MemorySessionCount(ctx context.Context, memoryID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT session_id) FROM session_memory_links WHERE memory_id = ?`, memoryID).Scan(&count)
	return count, err
}

// SessionMemoryIDs returns every memory id a session created, recalled, or
// updated, for the tier-promotion pass run at SessionEnd.
func (s *SQLiteStore) SessionMemoryIDs(ctx context.Context, sessionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT memory_id FROM session_memory_links WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ---- Documents ----

func (s *SQLiteStore) SaveDocument(ctx context.Context, d *DocumentMeta) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, project_id, title, source, source_type, content_hash, char_count,
			total_chunks, full_content, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title=excluded.title, source=excluded.source, source_type=excluded.source_type,
			content_hash=excluded.content_hash, char_count=excluded.char_count, total_chunks=excluded.total_chunks,
			full_content=excluded.full_content, updated_at=excluded.updated_at`,
		d.ID, d.ProjectID, d.Title, d.Source, string(d.SourceType), d.ContentHash, d.CharCount, d.TotalChunks,
		d.FullContent, timeToUnix(d.CreatedAt), timeToUnix(d.UpdatedAt))
	return err
}

func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*DocumentMeta, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, title, source, source_type, content_hash, char_count, total_chunks,
			full_content, created_at, updated_at FROM documents WHERE id = ?`, id)
	var d DocumentMeta
	var sourceType string
	var createdAt, updatedAt int64
	err := row.Scan(&d.ID, &d.ProjectID, &d.Title, &d.Source, &sourceType, &d.ContentHash, &d.CharCount,
		&d.TotalChunks, &d.FullContent, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	d.SourceType = DocumentSourceType(sourceType)
	d.CreatedAt = unixToTime(createdAt)
	d.UpdatedAt = unixToTime(updatedAt)
	return &d, nil
}

func (s *SQLiteStore) SaveDocumentChunks(ctx context.Context, chunks []*DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO document_chunks (id, document_id, project_id, title, source, source_type, content,
			chunk_index, total_chunks, char_offset)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET content=excluded.content`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.ProjectID, c.Title, c.Source,
			string(c.SourceType), c.Content, c.ChunkIndex, c.TotalChunks, c.CharOffset); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func scanDocChunk(row interface{ Scan(...any) error }) (*DocumentChunk, error) {
	var c DocumentChunk
	var sourceType string
	if err := row.Scan(&c.ID, &c.DocumentID, &c.ProjectID, &c.Title, &c.Source, &sourceType, &c.Content,
		&c.ChunkIndex, &c.TotalChunks, &c.CharOffset); err != nil {
		return nil, err
	}
	c.SourceType = DocumentSourceType(sourceType)
	return &c, nil
}

const docChunkColumns = `id, document_id, project_id, title, source, source_type, content, chunk_index, total_chunks, char_offset`

func (s *SQLiteStore) ListDocumentChunks(ctx context.Context, documentID string) ([]*DocumentChunk, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+docChunkColumns+` FROM document_chunks WHERE document_id = ? ORDER BY chunk_index ASC`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*DocumentChunk
	for rows.Next() {
		c, err := scanDocChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetDocumentChunk(ctx context.Context, id string) (*DocumentChunk, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+docChunkColumns+` FROM document_chunks WHERE id = ?`, id)
	c, err := scanDocChunk(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// ---- File checkpoints (spec.md §3 "IndexCheckpoint") ----

func (s *SQLiteStore) SaveFileCheckpoint(ctx context.Context, cp *FileCheckpoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO index_checkpoints (project_id, checkpoint_type, total_files, pending_files,
			processed_count, error_count, gitignore_hash, is_complete, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, checkpoint_type) DO UPDATE SET
			total_files=excluded.total_files, pending_files=excluded.pending_files,
			processed_count=excluded.processed_count, error_count=excluded.error_count,
			gitignore_hash=excluded.gitignore_hash, is_complete=excluded.is_complete,
			updated_at=excluded.updated_at`,
		cp.ProjectID, cp.CheckpointType, cp.TotalFiles, marshalStrings(cp.PendingFiles), cp.ProcessedCount,
		cp.ErrorCount, cp.GitignoreHash, boolToInt(cp.IsComplete), timeToUnix(cp.UpdatedAt))
	return err
}

func (s *SQLiteStore) LoadFileCheckpoint(ctx context.Context, projectID, checkpointType string) (*FileCheckpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT project_id, checkpoint_type, total_files, pending_files, processed_count, error_count,
			gitignore_hash, is_complete, updated_at
		FROM index_checkpoints WHERE project_id = ? AND checkpoint_type = ?`, projectID, checkpointType)

	var cp FileCheckpoint
	var pending string
	var isComplete int
	var updatedAt int64
	err := row.Scan(&cp.ProjectID, &cp.CheckpointType, &cp.TotalFiles, &pending, &cp.ProcessedCount,
		&cp.ErrorCount, &cp.GitignoreHash, &isComplete, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cp.PendingFiles = unmarshalStrings(pending)
	cp.IsComplete = isComplete != 0
	cp.UpdatedAt = unixToTime(updatedAt)
	return &cp, nil
}

func (s *SQLiteStore) ClearFileCheckpoint(ctx context.Context, projectID, checkpointType string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM index_checkpoints WHERE project_id = ? AND checkpoint_type = ?`, projectID, checkpointType)
	return err
}
