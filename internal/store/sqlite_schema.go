package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// schemaStatements creates every table this store owns. Statements are
// idempotent (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT EXISTS) so
// migrate can run unconditionally on every open, per spec.md §4.1 "runs
// schema migrations to the current version idempotently".
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		root_path TEXT NOT NULL,
		project_type TEXT,
		chunk_count INTEGER DEFAULT 0,
		file_count INTEGER DEFAULT 0,
		indexed_at INTEGER,
		version TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS files (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		path TEXT NOT NULL,
		size INTEGER,
		mod_time INTEGER,
		content_hash TEXT,
		language TEXT,
		content_type TEXT,
		indexed_at INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_files_project ON files(project_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_files_project_path ON files(project_id, path)`,

	`CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		file_id TEXT NOT NULL,
		file_path TEXT,
		content TEXT,
		raw_content TEXT,
		context TEXT,
		content_type TEXT,
		chunk_type TEXT,
		language TEXT,
		start_line INTEGER,
		end_line INTEGER,
		symbols TEXT,
		metadata TEXT,
		definition_kind TEXT,
		definition_name TEXT,
		visibility TEXT,
		signature TEXT,
		docstring TEXT,
		parent_definition TEXT,
		imports TEXT,
		calls TEXT,
		embedding_text TEXT,
		file_hash TEXT,
		content_hash TEXT,
		tokens_estimate INTEGER,
		caller_count INTEGER DEFAULT 0,
		callee_count INTEGER DEFAULT 0,
		created_at INTEGER,
		updated_at INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_file ON chunks(file_id)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_definition_name ON chunks(definition_name)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_caller_count ON chunks(caller_count)`,

	`CREATE TABLE IF NOT EXISTS chunk_embeddings (
		chunk_id TEXT PRIMARY KEY,
		embedding BLOB,
		model TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS state (
		key TEXT PRIMARY KEY,
		value TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS legacy_checkpoint (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		stage TEXT,
		total INTEGER,
		embedded_count INTEGER,
		embedder_model TEXT,
		updated_at INTEGER
	)`,

	// spec.md §3 "IndexCheckpoint" — per-file resumable checkpoint, distinct
	// from the legacy single-stage embedding-progress row above.
	`CREATE TABLE IF NOT EXISTS index_checkpoints (
		project_id TEXT NOT NULL,
		checkpoint_type TEXT NOT NULL,
		total_files INTEGER DEFAULT 0,
		pending_files TEXT,
		processed_count INTEGER DEFAULT 0,
		error_count INTEGER DEFAULT 0,
		gitignore_hash TEXT,
		is_complete INTEGER DEFAULT 0,
		updated_at INTEGER,
		PRIMARY KEY (project_id, checkpoint_type)
	)`,

	// spec.md §3 "Memory"
	`CREATE TABLE IF NOT EXISTS memories (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		content TEXT NOT NULL,
		summary TEXT,
		sector TEXT NOT NULL,
		tier TEXT NOT NULL,
		memory_type TEXT,
		salience REAL NOT NULL DEFAULT 0.5,
		importance REAL NOT NULL DEFAULT 0.5,
		confidence REAL NOT NULL DEFAULT 0.5,
		access_count INTEGER NOT NULL DEFAULT 0,
		last_accessed INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		valid_from INTEGER,
		valid_until INTEGER,
		is_deleted INTEGER NOT NULL DEFAULT 0,
		deleted_at INTEGER,
		superseded_by TEXT,
		tags TEXT,
		categories TEXT,
		concepts TEXT,
		files TEXT,
		context TEXT,
		scope_path TEXT,
		scope_module TEXT,
		session_id TEXT,
		content_hash TEXT NOT NULL,
		simhash INTEGER NOT NULL,
		embedding_model_id TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_project ON memories(project_id)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_content_hash ON memories(project_id, content_hash)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_deleted ON memories(project_id, is_deleted)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_session ON memories(session_id)`,

	`CREATE TABLE IF NOT EXISTS memory_embeddings (
		memory_id TEXT PRIMARY KEY,
		embedding BLOB,
		model TEXT
	)`,

	// spec.md §3 "Entity / MemoryEntityLink"
	`CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		name TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		summary TEXT,
		aliases TEXT,
		mention_count INTEGER NOT NULL DEFAULT 0,
		first_seen_at INTEGER,
		last_seen_at INTEGER
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_entities_project_name ON entities(project_id, name)`,

	`CREATE TABLE IF NOT EXISTS memory_entity_links (
		memory_id TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		role TEXT NOT NULL,
		confidence REAL NOT NULL DEFAULT 0.5,
		PRIMARY KEY (memory_id, entity_id, role)
	)`,

	// spec.md §3 "Relationship"
	`CREATE TABLE IF NOT EXISTS relationships (
		id TEXT PRIMARY KEY,
		from_memory_id TEXT NOT NULL,
		to_memory_id TEXT NOT NULL,
		relationship_type TEXT NOT NULL,
		confidence REAL NOT NULL DEFAULT 0.5,
		created_at INTEGER NOT NULL,
		valid_until INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_relationships_from ON relationships(from_memory_id)`,
	`CREATE INDEX IF NOT EXISTS idx_relationships_to ON relationships(to_memory_id)`,

	// spec.md §3 "Session / SessionMemoryLink"
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER,
		summary TEXT,
		user_prompt TEXT,
		last_activity INTEGER
	)`,

	`CREATE TABLE IF NOT EXISTS session_memory_links (
		session_id TEXT NOT NULL,
		memory_id TEXT NOT NULL,
		usage TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, memory_id, usage)
	)`,

	// spec.md §3 "Document metadata" + "DocumentChunk"
	`CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		title TEXT,
		source TEXT,
		source_type TEXT,
		content_hash TEXT,
		char_count INTEGER,
		total_chunks INTEGER,
		full_content TEXT,
		created_at INTEGER,
		updated_at INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_project ON documents(project_id)`,

	`CREATE TABLE IF NOT EXISTS document_chunks (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		title TEXT,
		source TEXT,
		source_type TEXT,
		content TEXT,
		chunk_index INTEGER,
		total_chunks INTEGER,
		char_offset INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_document_chunks_document ON document_chunks(document_id)`,

	`CREATE TABLE IF NOT EXISTS document_embeddings (
		chunk_id TEXT PRIMARY KEY,
		embedding BLOB,
		model TEXT
	)`,
}

// migrationNames labels each schema generation for the migrations table,
// applied in order, once, tracked by version so re-opening the same
// database is a no-op (spec.md §6 "migration-history table").
var migrationNames = []string{
	"initial_code_and_file_tracking",
	"memory_lifecycle_tables",
	"entity_and_relationship_tables",
	"session_and_document_tables",
	"code_chunk_definition_fields",
}

// chunkDefinitionColumns are the spec.md §3 CodeChunk fields added after the
// chunks table's original (pre-definition-aware) shape. Existing databases
// get these via ALTER TABLE since CREATE TABLE IF NOT EXISTS is a no-op once
// the table already exists.
var chunkDefinitionColumns = []string{
	"chunk_type TEXT",
	"definition_kind TEXT",
	"definition_name TEXT",
	"visibility TEXT",
	"signature TEXT",
	"docstring TEXT",
	"parent_definition TEXT",
	"imports TEXT",
	"calls TEXT",
	"embedding_text TEXT",
	"file_hash TEXT",
	"content_hash TEXT",
	"tokens_estimate INTEGER",
	"caller_count INTEGER DEFAULT 0",
	"callee_count INTEGER DEFAULT 0",
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, schemaStatements[0]); err != nil {
		return err
	}

	var applied int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM migrations`).Scan(&applied); err != nil {
		return err
	}

	for _, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	if err := addMissingColumns(ctx, tx, "chunks", chunkDefinitionColumns); err != nil {
		return err
	}

	for v := applied; v < len(migrationNames); v++ {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO migrations (version, name, applied_at) VALUES (?, ?, ?)`,
			v+1, migrationNames[v], timeToUnix(time.Now())); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// addMissingColumns adds any of columns (each "name TYPE") not already
// present on table, via PRAGMA table_info, so a schema added to after a
// database already exists still gets backfilled.
func addMissingColumns(ctx context.Context, tx *sql.Tx, table string, columns []string) error {
	existing := make(map[string]bool)
	rows, err := tx.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dfltValue any
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return err
		}
		existing[name] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, col := range columns {
		name := strings.SplitN(col, " ", 2)[0]
		if existing[name] {
			continue
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", table, col)); err != nil {
			return err
		}
	}
	return nil
}
