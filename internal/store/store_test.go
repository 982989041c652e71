package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tan-yong-sheng/code-context/pkg/types"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dbPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func makeChunk(id, path string, vec []float32) types.Chunk {
	return types.Chunk{
		ID:            id,
		RelativePath:  path,
		StartLine:     1,
		EndLine:       10,
		FileExtension: ".go",
		Language:      "go",
		Content:       "func " + id + "() {}",
		Metadata:      map[string]string{"splitter": string(types.SplitterStructural)},
		Vector:        vec,
	}
}

func TestCreateCollection_IsIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateCollection(ctx, 4, types.ModeDense))
	has, err := s.HasCollection(ctx)
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, s.CreateCollection(ctx, 4, types.ModeDense))
	has, err = s.HasCollection(ctx)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestHasCollection_FalseBeforeCreate(t *testing.T) {
	s := setupTestStore(t)
	has, err := s.HasCollection(context.Background())
	require.NoError(t, err)
	assert.False(t, has)
}

func TestUpsertAndQuery_RoundTrips(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateCollection(ctx, 3, types.ModeDense))

	chunks := []types.Chunk{
		makeChunk("a", "pkg/a.go", []float32{1, 0, 0}),
		makeChunk("b", "pkg/b.go", []float32{0, 1, 0}),
	}
	require.NoError(t, s.Upsert(ctx, chunks))

	got, err := s.Query(ctx, `relativePath = "pkg/a.go"`, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "go", got[0].Language)
	assert.Equal(t, string(types.SplitterStructural), got[0].Metadata["splitter"])
}

func TestUpsert_RejectsDimensionMismatch(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateCollection(ctx, 3, types.ModeDense))

	err := s.Upsert(ctx, []types.Chunk{makeChunk("a", "pkg/a.go", []float32{1, 0})})
	assert.ErrorIs(t, err, types.ErrDimensionMismatch)
}

func TestDelete_IgnoresMissingIDs(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateCollection(ctx, 3, types.ModeDense))
	require.NoError(t, s.Upsert(ctx, []types.Chunk{makeChunk("a", "pkg/a.go", []float32{1, 0, 0})}))

	err := s.Delete(ctx, []string{"a", "does-not-exist"})
	require.NoError(t, err)

	got, err := s.Query(ctx, "", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSearch_OrdersByAscendingDistance(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateCollection(ctx, 2, types.ModeDense))

	chunks := []types.Chunk{
		makeChunk("close", "a.go", []float32{1, 0}),
		makeChunk("far", "b.go", []float32{0, 1}),
	}
	require.NoError(t, s.Upsert(ctx, chunks))

	results, err := s.Search(ctx, []float32{1, 0}, 2, "")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "close", results[0].Chunk.ID)
	assert.Less(t, results[0].Distance, results[1].Distance)
}

func TestSearch_ReturnsEmptyWhenNotIndexed(t *testing.T) {
	s := setupTestStore(t)
	results, err := s.Search(context.Background(), []float32{1, 0}, 5, "")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestHybridSearch_FusesDenseAndLexical(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateCollection(ctx, 2, types.ModeHybrid))

	a := makeChunk("a", "a.go", []float32{1, 0})
	a.Content = "func Authenticate(user string) error"
	b := makeChunk("b", "b.go", []float32{0, 1})
	b.Content = "func Render(page string) string"
	require.NoError(t, s.Upsert(ctx, []types.Chunk{a, b}))

	results, err := s.HybridSearch(ctx, []float32{1, 0}, "Authenticate", 5, "")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "a", results[0].Chunk.ID)
	assert.Greater(t, results[0].Score, 0.0)
}

// TestHybridSearch_LexicalOnlyHitCarriesRealDistance pushes a target
// chunk out of the dense top candidates (via 50 closer distractors) so
// it's found only by the FTS match, then checks its Distance reflects
// actual cosine distance rather than the zero value a hit that never
// touched denseSearch would otherwise carry.
func TestHybridSearch_LexicalOnlyHitCarriesRealDistance(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateCollection(ctx, 2, types.ModeHybrid))

	chunks := make([]types.Chunk, 0, 51)
	for i := 0; i < 50; i++ {
		c := makeChunk(fmt.Sprintf("distractor-%d", i), fmt.Sprintf("d%d.go", i), []float32{1, 0})
		chunks = append(chunks, c)
	}
	target := makeChunk("target", "target.go", []float32{0, 1})
	target.Content = "func LookupWidget(id string) error"
	chunks = append(chunks, target)
	require.NoError(t, s.Upsert(ctx, chunks))

	results, err := s.HybridSearch(ctx, []float32{1, 0}, "LookupWidget", 51, "")
	require.NoError(t, err)

	var got *Result
	for i := range results {
		if results[i].Chunk.ID == "target" {
			got = &results[i]
		}
	}
	require.NotNil(t, got, "target should surface via its lexical match even though dense ranked it last")
	assert.InDelta(t, 1.0, got.Distance, 1e-9)
}

func TestCompileFilter_RejectsUnknownField(t *testing.T) {
	_, _, err := compileFilter("bogusField = 1")
	assert.ErrorIs(t, err, types.ErrConfig)
}

func TestCompileFilter_SupportsInAndAnd(t *testing.T) {
	where, args, err := compileFilter(`fileExtension IN [".go", ".py"] AND startLine = 1`)
	require.NoError(t, err)
	assert.Contains(t, where, "file_extension IN")
	assert.Contains(t, where, "start_line = ?")
	assert.Equal(t, []any{".go", ".py", int64(1)}, args)
}
