// Package sqlite persists knowledge product metadata in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.

	"github.com/kailas-cloud/kpdex/internal/domain"
	domdoc "github.com/kailas-cloud/kpdex/internal/domain/document"
	"github.com/kailas-cloud/kpdex/internal/domain/search/predicate"
)

// schema is executed on every open (idempotent via IF NOT EXISTS).
// The *_n columns hold normalized values for predicate evaluation.
const schema = `
CREATE TABLE IF NOT EXISTS documents (
    id           TEXT PRIMARY KEY,
    type         TEXT NOT NULL,
    author       TEXT NOT NULL DEFAULT '',
    domain       TEXT NOT NULL DEFAULT '',
    field        TEXT NOT NULL DEFAULT '',
    subfield     TEXT NOT NULL DEFAULT '',
    title        TEXT NOT NULL DEFAULT '',
    subtitle     TEXT NOT NULL DEFAULT '',
    published_at TEXT NOT NULL DEFAULT '',
    type_n       TEXT NOT NULL DEFAULT '',
    author_n     TEXT NOT NULL DEFAULT '',
    domain_n     TEXT NOT NULL DEFAULT '',
    field_n      TEXT NOT NULL DEFAULT '',
    subfield_n   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_documents_domain ON documents(domain_n);
CREATE INDEX IF NOT EXISTS idx_documents_type ON documents(type_n);
`

const upsertSQL = `
INSERT INTO documents (id, type, author, domain, field, subfield, title, subtitle, published_at,
                       type_n, author_n, domain_n, field_n, subfield_n)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    type = excluded.type, author = excluded.author, domain = excluded.domain,
    field = excluded.field, subfield = excluded.subfield, title = excluded.title,
    subtitle = excluded.subtitle, published_at = excluded.published_at,
    type_n = excluded.type_n, author_n = excluded.author_n, domain_n = excluded.domain_n,
    field_n = excluded.field_n, subfield_n = excluded.subfield_n`

const selectColumns = `id, type, author, domain, field, subfield, title, subtitle, published_at`

// inChunk bounds the number of host parameters per IN (...) query.
const inChunk = 500

// normColumns maps filterable attributes to their normalized columns.
var normColumns = map[domdoc.Attribute]string{
	domdoc.AttrType:     "type_n",
	domdoc.AttrAuthor:   "author_n",
	domdoc.AttrDomain:   "domain_n",
	domdoc.AttrField:    "field_n",
	domdoc.AttrSubfield: "subfield_n",
}

// Store is a SQLite-backed metadata store.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the metadata database at path and applies the schema.
func Open(path string) (*Store, error) {
	if path == "" {
		path = "./data/kpdex.db"
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory %q: %w", dir, err)
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Put creates or replaces a document.
func (s *Store) Put(ctx context.Context, doc domdoc.Document) error {
	if _, err := s.db.ExecContext(ctx, upsertSQL, upsertArgs(&doc)...); err != nil {
		return fmt.Errorf("upsert %s: %w", doc.ID(), err)
	}
	return nil
}

// PutMany writes documents in a single transaction.
func (s *Store) PutMany(ctx context.Context, docs []domdoc.Document) error {
	if len(docs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for i := range docs {
		if _, err := stmt.ExecContext(ctx, upsertArgs(&docs[i])...); err != nil {
			return fmt.Errorf("upsert %s: %w", docs[i].ID(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Get returns a document by ID.
func (s *Store) Get(ctx context.Context, id string) (domdoc.Document, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM documents WHERE id = ?", id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domdoc.Document{}, domain.NewOpError("metadata.get", id, domain.ErrNotFound)
	}
	if err != nil {
		return domdoc.Document{}, fmt.Errorf("select %s: %w", id, err)
	}
	return doc, nil
}

// GetMany returns the documents that exist among ids.
func (s *Store) GetMany(ctx context.Context, ids []string) (map[string]domdoc.Document, error) {
	out := make(map[string]domdoc.Document, len(ids))
	for start := 0; start < len(ids); start += inChunk {
		chunk := ids[start:min(start+inChunk, len(ids))]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		q := "SELECT " + selectColumns + " FROM documents WHERE id IN (" +
			strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",") + ")"
		docs, err := s.query(ctx, q, args...)
		if err != nil {
			return nil, err
		}
		for _, d := range docs {
			out[d.ID()] = d
		}
	}
	return out, nil
}

// Match returns every document satisfying p, sorted by ID.
func (s *Store) Match(ctx context.Context, p predicate.Predicate) ([]domdoc.Document, error) {
	where, args, err := buildWhere(p)
	if err != nil {
		return nil, err
	}
	q := "SELECT " + selectColumns + " FROM documents" + where + " ORDER BY id"
	return s.query(ctx, q, args...)
}

// Delete removes a document. Deleting an absent document is a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

// Count returns the number of stored documents.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]domdoc.Document, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		if ctxErr := domain.FromContext(ctx); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var out []domdoc.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

// buildWhere translates a predicate into a WHERE clause over normalized columns.
// Clause values are already normalized, so substring tests use instr to avoid LIKE wildcards.
func buildWhere(p predicate.Predicate) (string, []any, error) {
	if p.IsEmpty() {
		return "", nil, nil
	}
	parts := make([]string, 0, len(p.Clauses()))
	args := make([]any, 0, len(p.Clauses()))
	for _, c := range p.Clauses() {
		col, ok := normColumns[c.Attribute()]
		if !ok {
			return "", nil, domain.Invalidf("attribute %q is not filterable", c.Attribute())
		}
		switch {
		case c.Op() == predicate.OpContains:
			parts = append(parts, "instr("+col+", ?) > 0")
			args = append(args, c.Value())
		case c.Attribute() == domdoc.AttrAuthor:
			// author_n holds "a; b"; match one whole name.
			parts = append(parts, "instr('; ' || "+col+" || '; ', ?) > 0")
			args = append(args, "; "+c.Value()+"; ")
		default:
			parts = append(parts, col+" = ?")
			args = append(args, c.Value())
		}
	}
	return " WHERE " + strings.Join(parts, " AND "), args, nil
}

func upsertArgs(d *domdoc.Document) []any {
	published := ""
	if t := d.PublishedAt(); !t.IsZero() {
		published = t.UTC().Format(time.RFC3339Nano)
	}
	return []any{
		d.ID(), string(d.Type()), d.Author(), d.Domain(), d.Field(), d.Subfield(),
		d.Title(), d.Subtitle(), published,
		domdoc.NormalizeText(string(d.Type())),
		domdoc.NormalizeAuthors(d.Author()),
		domdoc.NormalizeText(d.Domain()),
		domdoc.NormalizeText(d.Field()),
		domdoc.NormalizeText(d.Subfield()),
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(sc scanner) (domdoc.Document, error) {
	var (
		id, typ, published string
		a                  domdoc.Attributes
	)
	if err := sc.Scan(&id, &typ, &a.Author, &a.Domain, &a.Field, &a.Subfield,
		&a.Title, &a.Subtitle, &published); err != nil {
		return domdoc.Document{}, err
	}
	a.Type = domdoc.Type(typ)
	if published != "" {
		if t, err := time.Parse(time.RFC3339Nano, published); err == nil {
			a.PublishedAt = t
		}
	}
	return domdoc.Reconstruct(id, a), nil
}
