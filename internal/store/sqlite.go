package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dgallion1/refgest/internal/cache"
	"github.com/dgallion1/refgest/internal/refs"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
  id TEXT PRIMARY KEY,
  url TEXT NOT NULL DEFAULT '',
  filename TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  error TEXT NOT NULL DEFAULT '',
  title TEXT NOT NULL DEFAULT '',
  metadata TEXT,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS sections (
  id TEXT PRIMARY KEY,
  document_id TEXT NOT NULL,
  position INTEGER NOT NULL,
  record TEXT NOT NULL,
  UNIQUE(document_id, position)
);
CREATE TABLE IF NOT EXISTS reference_sets (
  document_id TEXT PRIMARY KEY,
  data TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS cached_responses (
  document_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  fingerprint TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at TEXT NOT NULL,
  UNIQUE(document_id, kind, fingerprint)
);
CREATE INDEX IF NOT EXISTS idx_sections_document_id ON sections(document_id);
`

// SQLite is the SQLite-backed store. It implements cache.Store.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

var _ cache.Store = (*SQLite)(nil)

// Open opens (creating if needed) the database at path. Use ":memory:" for
// a throwaway database.
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// SQLite doesn't support concurrent writes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLite{db: db, now: time.Now}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// CreateDocument inserts a new document.
func (s *SQLite) CreateDocument(ctx context.Context, d Document) error {
	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, url, filename, status, error, title, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.URL, d.Filename, d.Status, d.Error, d.Title, nullJSON(d.Metadata),
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert document %s: %w", d.ID, err)
	}
	return nil
}

// GetDocument returns the document with id.
func (s *SQLite) GetDocument(ctx context.Context, id string) (Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, url, filename, status, error, title, metadata, created_at, updated_at
		 FROM documents WHERE id = ?`, id)
	return scanDocument(row)
}

// ListDocuments returns all documents, oldest first.
func (s *SQLite) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, url, filename, status, error, title, metadata, created_at, updated_at
		 FROM documents ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (Document, error) {
	var (
		d                Document
		metadata         sql.NullString
		created, updated string
	)
	err := row.Scan(&d.ID, &d.URL, &d.Filename, &d.Status, &d.Error, &d.Title, &metadata, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("scan document: %w", err)
	}
	if metadata.Valid {
		d.Metadata = json.RawMessage(metadata.String)
	}
	d.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	d.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return d, nil
}

// SetStatus records the processing status of a document.
func (s *SQLite) SetStatus(ctx context.Context, id, status, errMsg string) error {
	return s.update(ctx, id, `UPDATE documents SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		status, errMsg, s.stamp(), id)
}

// SetMetadata records the extracted title and metadata payload.
func (s *SQLite) SetMetadata(ctx context.Context, id, title string, metadata json.RawMessage) error {
	return s.update(ctx, id, `UPDATE documents SET title = ?, metadata = ?, updated_at = ? WHERE id = ?`,
		title, nullJSON(metadata), s.stamp(), id)
}

func (s *SQLite) update(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update document %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceSections swaps the stored sections of a document for records.
func (s *SQLite) ReplaceSections(ctx context.Context, docID string, records []SectionRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := exists(ctx, tx, docID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sections WHERE document_id = ?`, docID); err != nil {
		return fmt.Errorf("clear sections: %w", err)
	}
	for _, r := range records {
		body, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode section %s: %w", r.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sections (id, document_id, position, record) VALUES (?, ?, ?, ?)`,
			r.ID, docID, r.Position, string(body)); err != nil {
			return fmt.Errorf("insert section %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// Sections returns a document's section records in position order.
func (s *SQLite) Sections(ctx context.Context, docID string) ([]SectionRecord, error) {
	if err := exists(ctx, s.db, docID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM sections WHERE document_id = ? ORDER BY position`, docID)
	if err != nil {
		return nil, fmt.Errorf("query sections: %w", err)
	}
	defer rows.Close()

	out := []SectionRecord{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan section: %w", err)
		}
		var r SectionRecord
		if err := json.Unmarshal([]byte(body), &r); err != nil {
			return nil, fmt.Errorf("decode section: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveReferences stores the reference set of a document, replacing any
// previous one.
func (s *SQLite) SaveReferences(ctx context.Context, docID string, data refs.Data) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode references: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := exists(ctx, tx, docID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO reference_sets (document_id, data) VALUES (?, ?)
		 ON CONFLICT(document_id) DO UPDATE SET data = excluded.data`,
		docID, string(body)); err != nil {
		return fmt.Errorf("save references: %w", err)
	}
	return tx.Commit()
}

// References returns the stored reference set of a document. A document
// without one yields an empty set.
func (s *SQLite) References(ctx context.Context, docID string) (refs.Data, error) {
	if err := exists(ctx, s.db, docID); err != nil {
		return refs.Data{}, err
	}
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM reference_sets WHERE document_id = ?`, docID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return refs.Data{Entries: map[string]string{}}, nil
	}
	if err != nil {
		return refs.Data{}, fmt.Errorf("query references: %w", err)
	}
	var data refs.Data
	if err := json.Unmarshal([]byte(body), &data); err != nil {
		return refs.Data{}, fmt.Errorf("decode references: %w", err)
	}
	if data.Entries == nil {
		data.Entries = map[string]string{}
	}
	return data, nil
}

// DeleteDocument removes a document with its sections, references and
// cached responses.
func (s *SQLite) DeleteDocument(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM sections WHERE document_id = ?`,
		`DELETE FROM reference_sets WHERE document_id = ?`,
		`DELETE FROM cached_responses WHERE document_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("delete document %s: %w", id, err)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// GetCached implements cache.Store.
func (s *SQLite) GetCached(ctx context.Context, key cache.Key) (json.RawMessage, bool, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM cached_responses WHERE document_id = ? AND kind = ? AND fingerprint = ?`,
		key.DocumentID, string(key.Kind), key.Fingerprint).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query cache: %w", err)
	}
	return json.RawMessage(payload), true, nil
}

// PutCached implements cache.Store. The first payload stored for a key is
// kept; later puts are no-ops.
func (s *SQLite) PutCached(ctx context.Context, key cache.Key, payload json.RawMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := exists(ctx, tx, key.DocumentID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO cached_responses (document_id, kind, fingerprint, payload, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(document_id, kind, fingerprint) DO NOTHING`,
		key.DocumentID, string(key.Kind), key.Fingerprint, string(payload), s.stamp()); err != nil {
		return fmt.Errorf("insert cached response: %w", err)
	}
	return tx.Commit()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func exists(ctx context.Context, q queryer, docID string) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM documents WHERE id = ?`, docID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check document %s: %w", docID, err)
	}
	return nil
}

func (s *SQLite) stamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
