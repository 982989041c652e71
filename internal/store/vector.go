package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/tan-yong-sheng/code-context/pkg/types"
)

// decodeMetadata unmarshals a chunk's stored metadata JSON in place,
// ignoring malformed or empty values rather than failing the search.
func decodeMetadata(c *types.Chunk, meta string) {
	if meta == "" {
		return
	}
	_ = json.Unmarshal([]byte(meta), &c.Metadata)
}

// serializeVector encodes a float32 vector as a little-endian byte
// blob, the layout sqlite-vec and the purego fallback both use.
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineDistance returns 1 - cosine similarity, so 0 means identical
// direction and larger values mean less similar.
func cosineDistance(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}

// Search returns the topK chunks closest to vector by ascending cosine
// distance, honoring filterExpr.
func (s *SQLiteStore) Search(ctx context.Context, vector []float32, topK int, filterExpr string) ([]Result, error) {
	has, err := s.HasCollection(ctx)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, nil
	}
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query vector has %d dims, collection has %d", types.ErrDimensionMismatch, len(vector), s.dimension)
	}
	where, args, err := compileFilter(filterExpr)
	if err != nil {
		return nil, err
	}
	return denseSearch(ctx, s.db, vector, topK, where, args)
}

// HybridSearch fuses dense and lexical rankings with Reciprocal Rank
// Fusion and returns the top limit chunks.
func (s *SQLiteStore) HybridSearch(ctx context.Context, vector []float32, queryText string, topK int, filterExpr string) ([]Result, error) {
	has, err := s.HasCollection(ctx)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, nil
	}
	if s.mode != types.ModeHybrid {
		return s.Search(ctx, vector, topK, filterExpr)
	}
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query vector has %d dims, collection has %d", types.ErrDimensionMismatch, len(vector), s.dimension)
	}

	where, args, err := compileFilter(filterExpr)
	if err != nil {
		return nil, err
	}

	dense, err := denseSearch(ctx, s.db, vector, fusionDepth, where, args)
	if err != nil {
		return nil, err
	}
	lexical, err := s.lexicalSearch(ctx, queryText, vector, fusionDepth, where, args)
	if err != nil {
		return nil, err
	}

	return fuseRRF(dense, lexical, topK), nil
}

// lexicalSearch runs the FTS5 match and fills in each hit's Distance by
// computing cosine distance against vector directly, since a BM25 rank
// carries no similarity magnitude of its own and fuseRRF's tie-break
// (and the caller's similarity score) need a real distance for every
// hit regardless of which ranked list found it.
func (s *SQLiteStore) lexicalSearch(ctx context.Context, queryText string, vector []float32, limit int, where string, whereArgs []any) ([]Result, error) {
	// Reduce the free-form query to quoted word terms joined by OR, so
	// punctuation in the query (brackets, quotes, operators) is never
	// parsed as FTS5 query syntax.
	var terms []string
	for _, w := range strings.FieldsFunc(queryText, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	}) {
		terms = append(terms, `"`+w+`"`)
	}
	if len(terms) == 0 {
		return nil, nil
	}
	query := `
		SELECT c.id, c.content, c.relative_path, c.start_line, c.end_line, c.file_extension, c.language, c.metadata, c.embedding
		FROM chunks_fts f
		JOIN chunks c ON c.id = f.id
		WHERE chunks_fts MATCH ?`
	args := append([]any{strings.Join(terms, " OR ")}, whereArgs...)
	if where != "" {
		query += " AND " + qualify(where, "c")
	}
	query += fmt.Sprintf(" ORDER BY bm25(chunks_fts) LIMIT %d", limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: lexical search: %v", types.ErrStore, err)
	}
	defer func() { _ = rows.Close() }()

	var hits []Result
	for rows.Next() {
		var c types.Chunk
		var meta string
		var blob []byte
		if err := rows.Scan(&c.ID, &c.Content, &c.RelativePath, &c.StartLine, &c.EndLine, &c.FileExtension, &c.Language, &meta, &blob); err != nil {
			return nil, fmt.Errorf("%w: scan lexical row: %v", types.ErrStore, err)
		}
		decodeMetadata(&c, meta)
		hits = append(hits, Result{Chunk: c, Distance: cosineDistance(vector, deserializeVector(blob))})
	}
	return hits, rows.Err()
}

// fuseRRF combines two ranked lists with Reciprocal Rank Fusion
// (k = RRFConstant), tie-breaking on ascending distance then on id.
func fuseRRF(dense, lexical []Result, limit int) []Result {
	scores := make(map[string]float64)
	byID := make(map[string]Result)

	for rank, h := range dense {
		scores[h.Chunk.ID] += 1.0 / (RRFConstant + float64(rank+1))
		byID[h.Chunk.ID] = h
	}
	for rank, h := range lexical {
		scores[h.Chunk.ID] += 1.0 / (RRFConstant + float64(rank+1))
		if _, ok := byID[h.Chunk.ID]; !ok {
			byID[h.Chunk.ID] = h
		}
	}

	fused := make([]Result, 0, len(byID))
	for id, h := range byID {
		h.Score = scores[id]
		fused = append(fused, h)
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		if fused[i].Distance != fused[j].Distance {
			return fused[i].Distance < fused[j].Distance
		}
		return fused[i].Chunk.ID < fused[j].Chunk.ID
	})
	if limit > 0 && limit < len(fused) {
		fused = fused[:limit]
	}
	return fused
}

// qualify prefixes bare column references in a compiled WHERE clause
// with alias, since lexicalSearch joins chunks under alias "c".
func qualify(where, alias string) string {
	replacer := func(col string) string { return alias + "." + col }
	for _, col := range []string{"relative_path", "file_extension", "start_line", "end_line"} {
		where = replaceColumn(where, col, replacer(col))
	}
	return where
}

func replaceColumn(s, col, replacement string) string {
	out := ""
	for len(s) > 0 {
		idx := indexOfWord(s, col)
		if idx < 0 {
			out += s
			break
		}
		out += s[:idx] + replacement
		s = s[idx+len(col):]
	}
	return out
}

// indexOfWord finds col as a whole word (not a substring of a larger
// identifier) in s, or -1.
func indexOfWord(s, col string) int {
	for i := 0; i+len(col) <= len(s); i++ {
		if s[i:i+len(col)] != col {
			continue
		}
		if i > 0 && isIdentByte(s[i-1]) {
			continue
		}
		if i+len(col) < len(s) && isIdentByte(s[i+len(col)]) {
			continue
		}
		return i
	}
	return -1
}

func isIdentByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
