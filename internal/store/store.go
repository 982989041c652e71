// Package store persists chunks and their embeddings in a per-codebase
// SQLite database and answers dense and hybrid similarity queries.
//
// Every codebase gets exactly one database file (see internal/registry).
// The schema has two shapes: dense-only stores an embedding alongside
// each chunk row; hybrid additionally maintains an FTS5 index kept in
// sync by this package rather than by triggers, so a failed FTS write
// degrades a row to dense-only instead of aborting the upsert.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tan-yong-sheng/code-context/pkg/types"
)

// RRFConstant is the fusion constant k used by HybridSearch's
// Reciprocal Rank Fusion.
const RRFConstant = 60.0

// fusionDepth is how many candidates each ranked list contributes to
// the fusion before truncating to the caller's requested limit.
const fusionDepth = 50

// Result is a chunk ranked by a search, either by cosine distance
// (dense) or by fused RRF score (hybrid).
type Result struct {
	Chunk    types.Chunk
	Distance float64
	Score    float64
}

// Store is the per-codebase persistence and query surface.
type Store interface {
	CreateCollection(ctx context.Context, dimension int, mode types.CollectionMode) error
	HasCollection(ctx context.Context) (bool, error)
	DropCollection(ctx context.Context) error
	Upsert(ctx context.Context, chunks []types.Chunk) error
	Delete(ctx context.Context, chunkIDs []string) error
	Query(ctx context.Context, filterExpr string, limit int) ([]types.Chunk, error)
	Search(ctx context.Context, vector []float32, topK int, filterExpr string) ([]Result, error)
	HybridSearch(ctx context.Context, vector []float32, queryText string, topK int, filterExpr string) ([]Result, error)
	Close() error
}

// SQLiteStore implements Store. The table layout it creates depends on
// the build tag in effect: build_cgo.go registers sqlite-vec's vec0
// virtual table for native distance computation, build_purego.go
// stores raw vectors and computes cosine distance in Go.
type SQLiteStore struct {
	db        *sql.DB
	dimension int
	mode      types.CollectionMode
	log       *slog.Logger
}

// Open opens or creates the SQLite database at dbPath with the
// connection and pragma settings appropriate for a single-writer,
// embedded workload.
func Open(dbPath string, log *slog.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := sql.Open(DriverName, dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", types.ErrStore, dbPath, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: enable WAL: %v", types.ErrStore, err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: enable foreign keys: %v", types.ErrStore, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{db: db, log: log}
	if dim, mode, ok, err := s.readMeta(); err != nil {
		_ = db.Close()
		return nil, err
	} else if ok {
		s.dimension = dim
		s.mode = mode
	}
	return s, nil
}

func (s *SQLiteStore) readMeta() (int, types.CollectionMode, bool, error) {
	var exists int
	err := s.db.QueryRow("SELECT count(*) FROM sqlite_master WHERE type='table' AND name='collection_meta'").Scan(&exists)
	if err != nil {
		return 0, "", false, fmt.Errorf("%w: check meta table: %v", types.ErrStore, err)
	}
	if exists == 0 {
		return 0, "", false, nil
	}
	var dim int
	var mode string
	err = s.db.QueryRow("SELECT dimension, mode FROM collection_meta WHERE id = 1").Scan(&dim, &mode)
	if err == sql.ErrNoRows {
		return 0, "", false, nil
	}
	if err != nil {
		return 0, "", false, fmt.Errorf("%w: read meta: %v", types.ErrStore, err)
	}
	return dim, types.CollectionMode(mode), true, nil
}

// CreateCollection drops any existing tables and recreates the schema
// for the given dimension and mode. It is idempotent: calling it twice
// with the same arguments leaves an empty, freshly-created store.
func (s *SQLiteStore) CreateCollection(ctx context.Context, dimension int, mode types.CollectionMode) error {
	if dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", types.ErrConfig, dimension)
	}
	if err := s.dropTables(ctx); err != nil {
		return err
	}
	if err := s.createTables(ctx, dimension, mode); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO collection_meta (id, dimension, mode, created_at) VALUES (1, ?, ?, ?) "+
			"ON CONFLICT(id) DO UPDATE SET dimension = excluded.dimension, mode = excluded.mode",
		dimension, string(mode), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("%w: write collection meta: %v", types.ErrStore, err)
	}
	s.dimension = dimension
	s.mode = mode
	return nil
}

func (s *SQLiteStore) createTables(ctx context.Context, dimension int, mode types.CollectionMode) error {
	ddl := `
CREATE TABLE IF NOT EXISTS collection_meta (
    id         INTEGER PRIMARY KEY CHECK (id = 1),
    dimension  INTEGER NOT NULL,
    mode       TEXT NOT NULL,
    created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks (
    id             TEXT PRIMARY KEY,
    content        TEXT NOT NULL,
    relative_path  TEXT NOT NULL,
    start_line     INTEGER NOT NULL,
    end_line       INTEGER NOT NULL,
    file_extension TEXT NOT NULL DEFAULT '',
    language       TEXT NOT NULL DEFAULT '',
    metadata       TEXT NOT NULL DEFAULT '{}',
    embedding      BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chunks_relative_path ON chunks(relative_path);
CREATE INDEX IF NOT EXISTS idx_chunks_file_extension ON chunks(file_extension);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("%w: create schema: %v", types.ErrStore, err)
	}
	if err := createVectorIndex(ctx, s.db, dimension); err != nil {
		return err
	}
	if mode == types.ModeHybrid {
		ftsDDL := `CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
    id UNINDEXED, content, relative_path, file_extension
);`
		if _, err := s.db.ExecContext(ctx, ftsDDL); err != nil {
			return fmt.Errorf("%w: create fts schema: %v", types.ErrStore, err)
		}
	}
	return nil
}

func (s *SQLiteStore) dropTables(ctx context.Context) error {
	stmts := []string{
		"DROP TABLE IF EXISTS chunks_fts",
		"DROP TABLE IF EXISTS chunks",
		"DROP TABLE IF EXISTS collection_meta",
	}
	if err := dropVectorIndex(ctx, s.db); err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: %s: %v", types.ErrStore, stmt, err)
		}
	}
	return nil
}

// HasCollection reports whether the dense chunk table exists.
func (s *SQLiteStore) HasCollection(ctx context.Context) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT count(*) FROM sqlite_master WHERE type='table' AND name='chunks'").Scan(&count)
	if err != nil {
		return false, fmt.Errorf("%w: check collection: %v", types.ErrStore, err)
	}
	return count > 0, nil
}

// DropCollection removes both the dense and lexical tables.
func (s *SQLiteStore) DropCollection(ctx context.Context) error {
	return s.dropTables(ctx)
}

// Upsert writes each chunk, deleting any existing row with the same
// id first. A chunk whose vector length does not match the
// collection's dimension aborts the whole batch.
func (s *SQLiteStore) Upsert(ctx context.Context, chunks []types.Chunk) error {
	for _, c := range chunks {
		if len(c.Vector) != s.dimension {
			return fmt.Errorf("%w: chunk %s has %d dims, collection has %d", types.ErrDimensionMismatch, c.ID, len(c.Vector), s.dimension)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin upsert tx: %v", types.ErrStore, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, c := range chunks {
		if err := s.upsertOne(ctx, tx, c); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit upsert: %v", types.ErrStore, err)
	}
	return nil
}

func (s *SQLiteStore) upsertOne(ctx context.Context, tx *sql.Tx, c types.Chunk) error {
	meta, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("%w: marshal metadata for %s: %v", types.ErrStore, c.ID, err)
	}
	blob := serializeVector(c.Vector)

	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE id = ?", c.ID); err != nil {
		return fmt.Errorf("%w: delete existing row for %s: %v", types.ErrStore, c.ID, err)
	}
	_, err = tx.ExecContext(ctx,
		"INSERT INTO chunks (id, content, relative_path, start_line, end_line, file_extension, language, metadata, embedding) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		c.ID, c.Content, c.RelativePath, c.StartLine, c.EndLine, c.FileExtension, c.Language, string(meta), blob,
	)
	if err != nil {
		return fmt.Errorf("%w: insert row for %s: %v", types.ErrStore, c.ID, err)
	}
	if err := upsertVectorIndex(ctx, tx, c.ID, c.Vector); err != nil {
		return err
	}

	if s.mode == types.ModeHybrid {
		if _, err := tx.ExecContext(ctx, "DELETE FROM chunks_fts WHERE id = ?", c.ID); err != nil {
			s.log.Warn("fts delete failed, row degrades to dense-only", "chunk_id", c.ID, "error", err)
			return nil
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO chunks_fts (id, content, relative_path, file_extension) VALUES (?, ?, ?, ?)",
			c.ID, c.Content, c.RelativePath, c.FileExtension,
		)
		if err != nil {
			s.log.Warn("fts insert failed, row degrades to dense-only", "chunk_id", c.ID, "error", err)
		}
	}
	return nil
}

// Delete removes the given chunk ids from both tables. Ids that don't
// exist are silently ignored.
func (s *SQLiteStore) Delete(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin delete tx: %v", types.ErrStore, err)
	}
	defer func() { _ = tx.Rollback() }()

	placeholders := make([]string, len(chunkIDs))
	args := make([]any, len(chunkIDs))
	for i, id := range chunkIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	in := "(" + strings.Join(placeholders, ",") + ")"

	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE id IN "+in, args...); err != nil {
		return fmt.Errorf("%w: delete chunks: %v", types.ErrStore, err)
	}
	if err := deleteVectorIndex(ctx, tx, chunkIDs); err != nil {
		return err
	}
	if s.mode == types.ModeHybrid {
		if _, err := tx.ExecContext(ctx, "DELETE FROM chunks_fts WHERE id IN "+in, args...); err != nil {
			return fmt.Errorf("%w: delete fts rows: %v", types.ErrStore, err)
		}
	}
	return tx.Commit()
}

// Query returns rows matching filterExpr, in no particular order.
func (s *SQLiteStore) Query(ctx context.Context, filterExpr string, limit int) ([]types.Chunk, error) {
	has, err := s.HasCollection(ctx)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, nil
	}

	where, args, err := compileFilter(filterExpr)
	if err != nil {
		return nil, err
	}
	query := "SELECT id, content, relative_path, start_line, end_line, file_extension, language, metadata FROM chunks"
	if where != "" {
		query += " WHERE " + where
	}
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", types.ErrStore, err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan row: %v", types.ErrStore, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanChunk(rows *sql.Rows) (types.Chunk, error) {
	var c types.Chunk
	var meta string
	if err := rows.Scan(&c.ID, &c.Content, &c.RelativePath, &c.StartLine, &c.EndLine, &c.FileExtension, &c.Language, &meta); err != nil {
		return c, err
	}
	if meta != "" {
		_ = json.Unmarshal([]byte(meta), &c.Metadata)
	}
	return c, nil
}

// Dimension returns the vector dimension the collection was created
// with, or 0 if no collection has been created yet.
func (s *SQLiteStore) Dimension() int { return s.dimension }

// Mode returns the collection mode the collection was created with.
func (s *SQLiteStore) Mode() types.CollectionMode { return s.mode }

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
