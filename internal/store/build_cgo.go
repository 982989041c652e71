//go:build sqlite_vec
// +build sqlite_vec

package store

// Compiled when building with CGO and the sqlite_vec tag. It registers
// sqlite-vec's vec0 virtual table, giving dense search a native
// distance computation instead of the purego fallback's Go loop.
//
// Build command:
//   CGO_ENABLED=1 go build -tags "sqlite_vec,fts5" ./...

import (
	"context"
	"database/sql"
	"fmt"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tan-yong-sheng/code-context/pkg/types"
)

func init() {
	sqlite_vec.Auto()
}

const (
	DriverName               = "sqlite3"
	VectorExtensionAvailable = true
	BuildMode                = "cgo"
)

func createVectorIndex(ctx context.Context, db *sql.DB, dimension int) error {
	ddl := fmt.Sprintf("CREATE VIRTUAL TABLE IF NOT EXISTS vec_chunks USING vec0(id TEXT PRIMARY KEY, embedding float[%d])", dimension)
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("%w: create vector index: %v", types.ErrStore, err)
	}
	return nil
}

func dropVectorIndex(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS vec_chunks"); err != nil {
		return fmt.Errorf("%w: drop vector index: %v", types.ErrStore, err)
	}
	return nil
}

func upsertVectorIndex(ctx context.Context, tx *sql.Tx, id string, vector []float32) error {
	blob, err := sqlite_vec.SerializeFloat32(vector)
	if err != nil {
		return fmt.Errorf("%w: serialize vector for %s: %v", types.ErrStore, id, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM vec_chunks WHERE id = ?", id); err != nil {
		return fmt.Errorf("%w: delete vector row for %s: %v", types.ErrStore, id, err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO vec_chunks (id, embedding) VALUES (?, ?)", id, blob); err != nil {
		return fmt.Errorf("%w: insert vector row for %s: %v", types.ErrStore, id, err)
	}
	return nil
}

func deleteVectorIndex(ctx context.Context, tx *sql.Tx, ids []string) error {
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, "DELETE FROM vec_chunks WHERE id = ?", id); err != nil {
			return fmt.Errorf("%w: delete vector row for %s: %v", types.ErrStore, id, err)
		}
	}
	return nil
}

func denseSearch(ctx context.Context, db *sql.DB, vector []float32, topK int, where string, whereArgs []any) ([]Result, error) {
	blob, err := sqlite_vec.SerializeFloat32(vector)
	if err != nil {
		return nil, fmt.Errorf("%w: serialize query vector: %v", types.ErrStore, err)
	}

	query := `
		SELECT c.id, c.content, c.relative_path, c.start_line, c.end_line, c.file_extension, c.language, c.metadata, v.distance
		FROM vec_chunks v
		JOIN chunks c ON c.id = v.id
		WHERE v.embedding MATCH ?`
	args := []any{blob}
	if where != "" {
		query += " AND " + qualify(where, "c")
		args = append(args, whereArgs...)
	}
	query += " ORDER BY v.distance LIMIT ?"
	args = append(args, topK)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: dense search: %v", types.ErrStore, err)
	}
	defer func() { _ = rows.Close() }()

	var hits []Result
	for rows.Next() {
		var h Result
		var meta string
		err := rows.Scan(&h.Chunk.ID, &h.Chunk.Content, &h.Chunk.RelativePath, &h.Chunk.StartLine, &h.Chunk.EndLine,
			&h.Chunk.FileExtension, &h.Chunk.Language, &meta, &h.Distance)
		if err != nil {
			return nil, fmt.Errorf("%w: scan dense row: %v", types.ErrStore, err)
		}
		decodeMetadata(&h.Chunk, meta)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
