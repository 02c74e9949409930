package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/vallancelee/biomcp/internal/model"
)

// ErrNotFound is returned when a uid/key has no stored row.
var ErrNotFound = fmt.Errorf("not found")

// SQLiteMetadataStore implements MetadataStore over a SQLite database. It
// is the system of record for Document rows and their Chunks,
// and doubles as the key/value backing for watermarks when a
// dedicated Postgres deployment isn't configured, the same pattern
// SQLiteBM25Index uses for its own persistence.
type SQLiteMetadataStore struct {
	mu sync.RWMutex
	db *sql.DB
}

var _ MetadataStore = (*SQLiteMetadataStore)(nil)

// NewSQLiteMetadataStore opens (or creates) the metadata database at path.
// An empty path opens an in-memory database, used by tests and by the
// embedded single-process deployment mode.
func NewSQLiteMetadataStore(path string) (*SQLiteMetadataStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteMetadataStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteMetadataStore) initSchema() error {
	schema := `
	PRAGMA journal_mode = WAL;

	CREATE TABLE IF NOT EXISTS documents (
		uid TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		source_id TEXT NOT NULL,
		title TEXT,
		text TEXT NOT NULL,
		published_at TEXT,
		fetched_at TEXT,
		language TEXT,
		authors TEXT NOT NULL DEFAULT '[]',
		labels TEXT NOT NULL DEFAULT '[]',
		identifiers TEXT NOT NULL DEFAULT '{}',
		provenance TEXT NOT NULL DEFAULT '{}',
		detail TEXT NOT NULL DEFAULT '{}',
		license TEXT,
		schema_version INTEGER NOT NULL DEFAULT 1,
		content_hash TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_source_published ON documents(source, published_at);

	CREATE TABLE IF NOT EXISTS chunks (
		uuid TEXT PRIMARY KEY,
		chunk_id TEXT NOT NULL,
		parent_uid TEXT NOT NULL,
		source TEXT NOT NULL,
		chunk_idx INTEGER NOT NULL,
		text TEXT NOT NULL,
		title TEXT,
		section TEXT,
		published_at TEXT,
		tokens INTEGER,
		n_sentences INTEGER,
		meta TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_parent ON chunks(parent_uid, chunk_idx);

	CREATE TABLE IF NOT EXISTS kv_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		key TEXT NOT NULL,
		actor TEXT NOT NULL,
		old_value TEXT NOT NULL,
		new_value TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_log_key ON audit_log(key, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func marshalJSON(v any) string {
	if v == nil {
		return "{}"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func timePtrString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}

// UpsertDocument inserts or updates doc keyed by uid. It is a no-op
// (changed=false) when content_hash is unchanged, keeping re-ingestion
// idempotent.
func (s *SQLiteMetadataStore) UpsertDocument(ctx context.Context, doc *model.Document) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	newHash := doc.ContentHash()

	var existingHash string
	var existingVersion int
	err := s.db.QueryRowContext(ctx, `SELECT content_hash, version FROM documents WHERE uid = ?`, doc.UID).
		Scan(&existingHash, &existingVersion)

	switch {
	case err == sql.ErrNoRows:
		version := 1
		if _, execErr := s.db.ExecContext(ctx, `
			INSERT INTO documents
				(uid, source, source_id, title, text, published_at, fetched_at, language,
				 authors, labels, identifiers, provenance, detail, license, schema_version,
				 content_hash, version, updated_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		`,
			doc.UID, doc.Source, doc.SourceID, doc.Title, doc.Text,
			timePtrString(doc.PublishedAt), timePtrString(doc.FetchedAt), doc.Language,
			marshalJSON(doc.Authors), marshalJSON(doc.Labels), marshalJSON(doc.Identifiers),
			marshalJSON(doc.Provenance), marshalJSON(doc.Detail), doc.License, doc.SchemaVersion,
			newHash, version, time.Now().UTC().Format(time.RFC3339Nano),
		); execErr != nil {
			return 0, false, fmt.Errorf("insert document: %w", execErr)
		}
		return version, true, nil

	case err != nil:
		return 0, false, fmt.Errorf("query document: %w", err)

	case existingHash == newHash:
		return existingVersion, false, nil

	default:
		version := existingVersion + 1
		if _, execErr := s.db.ExecContext(ctx, `
			UPDATE documents SET
				title=?, text=?, published_at=?, fetched_at=?, language=?,
				authors=?, labels=?, identifiers=?, provenance=?, detail=?, license=?,
				schema_version=?, content_hash=?, version=?, updated_at=?
			WHERE uid=?
		`,
			doc.Title, doc.Text, timePtrString(doc.PublishedAt), timePtrString(doc.FetchedAt), doc.Language,
			marshalJSON(doc.Authors), marshalJSON(doc.Labels), marshalJSON(doc.Identifiers),
			marshalJSON(doc.Provenance), marshalJSON(doc.Detail), doc.License, doc.SchemaVersion,
			newHash, version, time.Now().UTC().Format(time.RFC3339Nano), doc.UID,
		); execErr != nil {
			return 0, false, fmt.Errorf("update document: %w", execErr)
		}
		return version, true, nil
	}
}

// GetDocumentByUID returns the stored Document, or ErrNotFound.
func (s *SQLiteMetadataStore) GetDocumentByUID(ctx context.Context, uid string) (*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT uid, source, source_id, title, text, published_at, fetched_at, language,
		       authors, labels, identifiers, provenance, detail, license, schema_version,
		       version
		FROM documents WHERE uid = ?
	`, uid)

	var d model.Document
	var publishedAt, fetchedAt sql.NullString
	var authors, labels, identifiers, provenance, detail string

	err := row.Scan(&d.UID, &d.Source, &d.SourceID, &d.Title, &d.Text, &publishedAt, &fetchedAt,
		&d.Language, &authors, &labels, &identifiers, &provenance, &detail, &d.License,
		&d.SchemaVersion, &d.Version)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}

	d.PublishedAt = parseTimePtr(publishedAt)
	d.FetchedAt = parseTimePtr(fetchedAt)
	_ = json.Unmarshal([]byte(authors), &d.Authors)
	_ = json.Unmarshal([]byte(labels), &d.Labels)
	_ = json.Unmarshal([]byte(identifiers), &d.Identifiers)
	_ = json.Unmarshal([]byte(provenance), &d.Provenance)
	_ = json.Unmarshal([]byte(detail), &d.Detail)

	return &d, nil
}

// DeleteDocument removes a Document and cascades to its Chunks.
func (s *SQLiteMetadataStore) DeleteDocument(ctx context.Context, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE parent_uid = ?`, uid); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE uid = ?`, uid); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return tx.Commit()
}

// SetChunksPending flags a Document's provenance with chunks_pending
// after a vector write fails post row write.
func (s *SQLiteMetadataStore) SetChunksPending(ctx context.Context, uid string, pending bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var provenanceJSON string
	if err := s.db.QueryRowContext(ctx, `SELECT provenance FROM documents WHERE uid = ?`, uid).Scan(&provenanceJSON); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return err
	}

	provenance := map[string]any{}
	_ = json.Unmarshal([]byte(provenanceJSON), &provenance)
	provenance["chunks_pending"] = pending

	_, err := s.db.ExecContext(ctx, `UPDATE documents SET provenance = ? WHERE uid = ?`, marshalJSON(provenance), uid)
	return err
}

// SaveChunks replaces the stored chunk rows for chunks[0].ParentUID.
func (s *SQLiteMetadataStore) SaveChunks(ctx context.Context, chunks []*model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	parentUID := chunks[0].ParentUID

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE parent_uid = ?`, parentUID); err != nil {
		return fmt.Errorf("clear existing chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks
			(uuid, chunk_id, parent_uid, source, chunk_idx, text, title, section,
			 published_at, tokens, n_sentences, meta)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx,
			c.UUID.String(), c.ChunkID, c.ParentUID, c.Source, c.ChunkIdx, c.Text, c.Title,
			string(c.Section), timePtrString(c.PublishedAt), c.Tokens, c.NSentences, marshalJSON(c.Meta),
		); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ChunkID, err)
		}
	}

	return tx.Commit()
}

// GetChunksByParent returns a Document's chunks ordered by ChunkIdx.
func (s *SQLiteMetadataStore) GetChunksByParent(ctx context.Context, parentUID string) ([]*model.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT uuid, chunk_id, parent_uid, source, chunk_idx, text, title, section,
		       published_at, tokens, n_sentences, meta
		FROM chunks WHERE parent_uid = ? ORDER BY chunk_idx ASC
	`, parentUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*model.Chunk
	for rows.Next() {
		var c model.Chunk
		var uuidStr, section string
		var publishedAt sql.NullString
		var meta string

		if err := rows.Scan(&uuidStr, &c.ChunkID, &c.ParentUID, &c.Source, &c.ChunkIdx, &c.Text,
			&c.Title, &section, &publishedAt, &c.Tokens, &c.NSentences, &meta); err != nil {
			return nil, err
		}

		parsed, err := uuid.Parse(uuidStr)
		if err != nil {
			return nil, err
		}
		c.UUID = parsed
		c.Section = model.Section(section)
		c.PublishedAt = parseTimePtr(publishedAt)
		c.Meta = map[string]any{}
		_ = json.Unmarshal([]byte(meta), &c.Meta)

		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}

// DeleteChunksByUUID removes specific chunk rows, used by the pipeline's
// garbage-collection step.
func (s *SQLiteMetadataStore) DeleteChunksByUUID(ctx context.Context, uuids []string) error {
	if len(uuids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	placeholders := make([]string, len(uuids))
	args := make([]any, len(uuids))
	for i, id := range uuids {
		placeholders[i] = "?"
		args[i] = id
	}

	query := "DELETE FROM chunks WHERE uuid IN (" + joinPlaceholders(placeholders) + ")"
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

func joinPlaceholders(p []string) string {
	out := ""
	for i, s := range p {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}

// GetState returns a generic key/value entry used by the watermark
// store when it is configured to share this database.
func (s *SQLiteMetadataStore) GetState(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}

// SetState upserts a generic key/value entry.
func (s *SQLiteMetadataStore) SetState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// AdvanceState implements the watermark store's monotonic
// compare-and-set. A single process only ever holds one
// *SQLiteMetadataStore, so s.mu (already serializing every GetState/
// SetState call) doubles as the row lock: holding it across the
// read-compare-write here closes the interleaving window a separate
// Get-then-Set pair would leave open between two goroutines racing to
// advance the same key.
func (s *SQLiteMetadataStore) AdvanceState(ctx context.Context, key, candidate string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_state WHERE key = ?`, key).Scan(&current)
	switch {
	case err == sql.ErrNoRows:
		// No row yet; fall through to the unconditional insert below.
	case err != nil:
		return "", err
	case candidate <= current:
		return current, nil
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, candidate); err != nil {
		return "", err
	}
	return candidate, nil
}

// AppendAudit records an admin mutation in the append-only audit log.
func (s *SQLiteMetadataStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (key, actor, old_value, new_value, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, e.Key, e.Actor, e.OldValue, e.NewValue, e.CreatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// ListAudit returns up to limit audit entries for key, newest first.
func (s *SQLiteMetadataStore) ListAudit(ctx context.Context, key string, limit int) ([]AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT key, actor, old_value, new_value, created_at
		FROM audit_log WHERE key = ?
		ORDER BY id DESC LIMIT ?
	`, key, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var created string
		if err := rows.Scan(&e.Key, &e.Actor, &e.OldValue, &e.NewValue, &created); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			e.CreatedAt = t
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the underlying database handle.
func (s *SQLiteMetadataStore) Close() error {
	return s.db.Close()
}

// requiredTables is the set of tables the readiness probe (internal/ready)
// expects to exist at the current schema version.
var requiredTables = []string{"documents", "chunks", "kv_state", "audit_log"}

// Ping verifies the database is reachable and the expected tables are
// present, the DB half of the composite readiness check.
func (s *SQLiteMetadataStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping metadata db: %w", err)
	}
	for _, table := range requiredTables {
		var name string
		err := s.db.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name = ?`, table).Scan(&name)
		if err != nil {
			return fmt.Errorf("required table %s missing: %w", table, err)
		}
	}
	return nil
}
