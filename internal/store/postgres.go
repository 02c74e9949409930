package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vallancelee/biomcp/internal/model"
)

// PostgresMetadataStore is the production MetadataStore backend
// (store.metadata_driver: "postgres"): one pgxpool, best-effort
// CREATE TABLE IF NOT EXISTS on open, and explicit transactions for
// the document+chunks cascade.
type PostgresMetadataStore struct {
	pool *pgxpool.Pool
}

var _ MetadataStore = (*PostgresMetadataStore)(nil)

// NewPostgresMetadataStore opens a pool against dsn and ensures the schema
// exists.
func NewPostgresMetadataStore(ctx context.Context, dsn string) (*PostgresMetadataStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	s := &PostgresMetadataStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresMetadataStore) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS documents (
	uid TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	source_id TEXT NOT NULL,
	title TEXT,
	text TEXT NOT NULL,
	published_at TIMESTAMPTZ,
	fetched_at TIMESTAMPTZ,
	language TEXT,
	authors JSONB NOT NULL DEFAULT '[]',
	labels JSONB NOT NULL DEFAULT '[]',
	identifiers JSONB NOT NULL DEFAULT '{}',
	provenance JSONB NOT NULL DEFAULT '{}',
	detail JSONB NOT NULL DEFAULT '{}',
	license TEXT,
	schema_version INT NOT NULL DEFAULT 1,
	content_hash TEXT NOT NULL,
	version INT NOT NULL DEFAULT 1,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_documents_source_published ON documents(source, published_at);

CREATE TABLE IF NOT EXISTS chunks (
	uuid TEXT PRIMARY KEY,
	chunk_id TEXT NOT NULL,
	parent_uid TEXT NOT NULL REFERENCES documents(uid) ON DELETE CASCADE,
	source TEXT NOT NULL,
	chunk_idx INT NOT NULL,
	text TEXT NOT NULL,
	title TEXT,
	section TEXT,
	published_at TIMESTAMPTZ,
	tokens INT,
	n_sentences INT,
	meta JSONB NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_chunks_parent ON chunks(parent_uid, chunk_idx);

CREATE TABLE IF NOT EXISTS kv_state (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
	id BIGSERIAL PRIMARY KEY,
	key TEXT NOT NULL,
	actor TEXT NOT NULL,
	old_value TEXT NOT NULL,
	new_value TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_log_key ON audit_log(key, created_at);
`)
	return err
}

// UpsertDocument mirrors SQLiteMetadataStore's dedupe-by-content-hash
// contract, expressed as a single row-locking
// transaction instead of the embedded store's mutex.
func (s *PostgresMetadataStore) UpsertDocument(ctx context.Context, doc *model.Document) (int, bool, error) {
	newHash := doc.ContentHash()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var existingHash string
	var existingVersion int
	err = tx.QueryRow(ctx, `SELECT content_hash, version FROM documents WHERE uid = $1 FOR UPDATE`, doc.UID).
		Scan(&existingHash, &existingVersion)

	switch {
	case err == pgx.ErrNoRows:
		version := 1
		if _, execErr := tx.Exec(ctx, `
			INSERT INTO documents
				(uid, source, source_id, title, text, published_at, fetched_at, language,
				 authors, labels, identifiers, provenance, detail, license, schema_version,
				 content_hash, version, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		`,
			doc.UID, doc.Source, doc.SourceID, doc.Title, doc.Text,
			doc.PublishedAt, doc.FetchedAt, doc.Language,
			jsonOf(doc.Authors), jsonOf(doc.Labels), jsonOf(doc.Identifiers),
			jsonOf(doc.Provenance), jsonOf(doc.Detail), doc.License, doc.SchemaVersion,
			newHash, version, time.Now().UTC(),
		); execErr != nil {
			return 0, false, fmt.Errorf("insert document: %w", execErr)
		}
		return version, true, tx.Commit(ctx)

	case err != nil:
		return 0, false, fmt.Errorf("query document: %w", err)

	case existingHash == newHash:
		return existingVersion, false, tx.Commit(ctx)

	default:
		version := existingVersion + 1
		if _, execErr := tx.Exec(ctx, `
			UPDATE documents SET
				title=$1, text=$2, published_at=$3, fetched_at=$4, language=$5,
				authors=$6, labels=$7, identifiers=$8, provenance=$9, detail=$10, license=$11,
				schema_version=$12, content_hash=$13, version=$14, updated_at=$15
			WHERE uid=$16
		`,
			doc.Title, doc.Text, doc.PublishedAt, doc.FetchedAt, doc.Language,
			jsonOf(doc.Authors), jsonOf(doc.Labels), jsonOf(doc.Identifiers),
			jsonOf(doc.Provenance), jsonOf(doc.Detail), doc.License, doc.SchemaVersion,
			newHash, version, time.Now().UTC(), doc.UID,
		); execErr != nil {
			return 0, false, fmt.Errorf("update document: %w", execErr)
		}
		return version, true, tx.Commit(ctx)
	}
}

func jsonOf(v any) []byte {
	if v == nil {
		return []byte("{}")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return b
}

// GetDocumentByUID returns the stored Document, or ErrNotFound.
func (s *PostgresMetadataStore) GetDocumentByUID(ctx context.Context, uid string) (*model.Document, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT uid, source, source_id, title, text, published_at, fetched_at, language,
		       authors, labels, identifiers, provenance, detail, license, schema_version, version
		FROM documents WHERE uid = $1
	`, uid)

	var d model.Document
	var authors, labels, identifiers, provenance, detail []byte

	err := row.Scan(&d.UID, &d.Source, &d.SourceID, &d.Title, &d.Text, &d.PublishedAt, &d.FetchedAt,
		&d.Language, &authors, &labels, &identifiers, &provenance, &detail, &d.License,
		&d.SchemaVersion, &d.Version)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}

	_ = json.Unmarshal(authors, &d.Authors)
	_ = json.Unmarshal(labels, &d.Labels)
	_ = json.Unmarshal(identifiers, &d.Identifiers)
	_ = json.Unmarshal(provenance, &d.Provenance)
	_ = json.Unmarshal(detail, &d.Detail)

	return &d, nil
}

// DeleteDocument removes a Document; chunks cascade via the foreign key.
func (s *PostgresMetadataStore) DeleteDocument(ctx context.Context, uid string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE uid = $1`, uid)
	return err
}

// SetChunksPending flags a Document's provenance with chunks_pending.
func (s *PostgresMetadataStore) SetChunksPending(ctx context.Context, uid string, pending bool) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var provenanceJSON []byte
	if err := tx.QueryRow(ctx, `SELECT provenance FROM documents WHERE uid = $1 FOR UPDATE`, uid).Scan(&provenanceJSON); err != nil {
		if err == pgx.ErrNoRows {
			return ErrNotFound
		}
		return err
	}

	provenance := map[string]any{}
	_ = json.Unmarshal(provenanceJSON, &provenance)
	provenance["chunks_pending"] = pending

	if _, err := tx.Exec(ctx, `UPDATE documents SET provenance = $1 WHERE uid = $2`, jsonOf(provenance), uid); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// SaveChunks replaces the stored chunk rows for chunks[0].ParentUID.
func (s *PostgresMetadataStore) SaveChunks(ctx context.Context, chunks []*model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	parentUID := chunks[0].ParentUID

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE parent_uid = $1`, parentUID); err != nil {
		return fmt.Errorf("clear existing chunks: %w", err)
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(`
			INSERT INTO chunks
				(uuid, chunk_id, parent_uid, source, chunk_idx, text, title, section,
				 published_at, tokens, n_sentences, meta)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		`, c.UUID.String(), c.ChunkID, c.ParentUID, c.Source, c.ChunkIdx, c.Text, c.Title,
			string(c.Section), c.PublishedAt, c.Tokens, c.NSentences, jsonOf(c.Meta))
	}
	br := tx.SendBatch(ctx, batch)
	for range chunks {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("insert chunk: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// GetChunksByParent returns a Document's chunks ordered by ChunkIdx.
func (s *PostgresMetadataStore) GetChunksByParent(ctx context.Context, parentUID string) ([]*model.Chunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT uuid, chunk_id, parent_uid, source, chunk_idx, text, title, section,
		       published_at, tokens, n_sentences, meta
		FROM chunks WHERE parent_uid = $1 ORDER BY chunk_idx ASC
	`, parentUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*model.Chunk
	for rows.Next() {
		var c model.Chunk
		var uuidStr, section string
		var meta []byte

		if err := rows.Scan(&uuidStr, &c.ChunkID, &c.ParentUID, &c.Source, &c.ChunkIdx, &c.Text,
			&c.Title, &section, &c.PublishedAt, &c.Tokens, &c.NSentences, &meta); err != nil {
			return nil, err
		}

		parsed, err := uuid.Parse(uuidStr)
		if err != nil {
			return nil, err
		}
		c.UUID = parsed
		c.Section = model.Section(section)
		c.Meta = map[string]any{}
		_ = json.Unmarshal(meta, &c.Meta)

		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}

// DeleteChunksByUUID removes specific chunk rows.
func (s *PostgresMetadataStore) DeleteChunksByUUID(ctx context.Context, uuids []string) error {
	if len(uuids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE uuid = ANY($1)`, uuids)
	return err
}

// GetState returns a generic key/value entry shared with the watermark
// store when it is configured against this pool.
func (s *PostgresMetadataStore) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM kv_state WHERE key = $1`, key).Scan(&value)
	if err == pgx.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}

// SetState upserts a generic key/value entry.
func (s *PostgresMetadataStore) SetState(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO kv_state (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// AdvanceState implements the watermark store's monotonic
// compare-and-set: the existing row (if any) is locked with
// SELECT ... FOR UPDATE for the lifetime of the transaction, so a second
// concurrent Advance on the same key blocks until the first commits
// instead of interleaving its own read with the first's write.
func (s *PostgresMetadataStore) AdvanceState(ctx context.Context, key, candidate string) (string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("advance state %s: begin: %w", key, err)
	}
	defer tx.Rollback(ctx)

	var current string
	err = tx.QueryRow(ctx, `SELECT value FROM kv_state WHERE key = $1 FOR UPDATE`, key).Scan(&current)
	switch {
	case err == pgx.ErrNoRows:
		// No row to lock yet; the INSERT below takes its place.
	case err != nil:
		return "", fmt.Errorf("advance state %s: lock: %w", key, err)
	case candidate <= current:
		if err := tx.Commit(ctx); err != nil {
			return "", fmt.Errorf("advance state %s: commit: %w", key, err)
		}
		return current, nil
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO kv_state (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, key, candidate); err != nil {
		return "", fmt.Errorf("advance state %s: write: %w", key, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("advance state %s: commit: %w", key, err)
	}
	return candidate, nil
}

// AppendAudit records an admin mutation in the append-only audit log.
func (s *PostgresMetadataStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_log (key, actor, old_value, new_value, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, e.Key, e.Actor, e.OldValue, e.NewValue, e.CreatedAt.UTC())
	return err
}

// ListAudit returns up to limit audit entries for key, newest first.
func (s *PostgresMetadataStore) ListAudit(ctx context.Context, key string, limit int) ([]AuditEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT key, actor, old_value, new_value, created_at
		FROM audit_log WHERE key = $1
		ORDER BY id DESC LIMIT $2
	`, key, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var created time.Time
		if err := rows.Scan(&e.Key, &e.Actor, &e.OldValue, &e.NewValue, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = created.UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the underlying connection pool.
func (s *PostgresMetadataStore) Close() error {
	s.pool.Close()
	return nil
}

// Ping verifies the pool is reachable and the expected tables are present,
// the DB half of the composite readiness check.
func (s *PostgresMetadataStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping metadata db: %w", err)
	}
	for _, table := range requiredTables {
		var name string
		err := s.pool.QueryRow(ctx, `SELECT to_regclass($1)::text`, table).Scan(&name)
		if err != nil || name == "" {
			return fmt.Errorf("required table %s missing", table)
		}
	}
	return nil
}
