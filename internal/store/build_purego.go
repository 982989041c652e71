//go:build purego || !sqlite_vec
// +build purego !sqlite_vec

package store

// Compiled whenever the sqlite_vec tag is absent (with or without
// CGO), or with the purego tag. There is no native
// vector extension available, so the "vector index" is just the
// embedding column already stored on the chunks table, and dense
// search ranks candidates by computing cosine distance in Go.
//
// Build command:
//   CGO_ENABLED=0 go build -tags "purego" ./...

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	_ "modernc.org/sqlite"

	"github.com/tan-yong-sheng/code-context/pkg/types"
)

const (
	DriverName               = "sqlite"
	VectorExtensionAvailable = false
	BuildMode                = "purego"
)

func createVectorIndex(_ context.Context, _ *sql.DB, _ int) error { return nil }
func dropVectorIndex(_ context.Context, _ *sql.DB) error          { return nil }

func upsertVectorIndex(_ context.Context, _ *sql.Tx, _ string, _ []float32) error { return nil }
func deleteVectorIndex(_ context.Context, _ *sql.Tx, _ []string) error            { return nil }

func denseSearch(ctx context.Context, db *sql.DB, vector []float32, topK int, where string, whereArgs []any) ([]Result, error) {
	query := "SELECT id, content, relative_path, start_line, end_line, file_extension, language, metadata, embedding FROM chunks"
	args := whereArgs
	if where != "" {
		query += " WHERE " + where
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: dense search scan: %v", types.ErrStore, err)
	}
	defer func() { _ = rows.Close() }()

	var candidates []Result
	for rows.Next() {
		var h Result
		var meta string
		var blob []byte
		err := rows.Scan(&h.Chunk.ID, &h.Chunk.Content, &h.Chunk.RelativePath, &h.Chunk.StartLine, &h.Chunk.EndLine,
			&h.Chunk.FileExtension, &h.Chunk.Language, &meta, &blob)
		if err != nil {
			return nil, fmt.Errorf("%w: scan row: %v", types.ErrStore, err)
		}
		decodeMetadata(&h.Chunk, meta)
		h.Distance = cosineDistance(vector, deserializeVector(blob))
		candidates = append(candidates, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Distance < candidates[j].Distance })
	if topK > 0 && topK < len(candidates) {
		candidates = candidates[:topK]
	}
	return candidates, nil
}
