package orchestrator

import (
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tan-yong-sheng/code-context/internal/embedder"
	"github.com/tan-yong-sheng/code-context/internal/registry"
	"github.com/tan-yong-sheng/code-context/pkg/types"
)

// mockEmbedder derives a deterministic vector from each text's hash so
// embeddings are stable across calls without any network dependency.
type mockEmbedder struct {
	dim   int
	calls int
}

func newMockEmbedder(dim int) *mockEmbedder {
	return &mockEmbedder{dim: dim}
}

func (m *mockEmbedder) EmbedBatch(_ context.Context, texts []string) ([]*embedder.Embedding, error) {
	m.calls++
	out := make([]*embedder.Embedding, len(texts))
	for i, text := range texts {
		sum := sha256.Sum256([]byte(text))
		vec := make([]float32, m.dim)
		for j := range vec {
			vec[j] = float32(sum[j%len(sum)]) / 255
		}
		out[i] = &embedder.Embedding{Vector: vec, Dimension: m.dim, Provider: "mock", Hash: embedder.ComputeHash(text)}
	}
	return out, nil
}

func (m *mockEmbedder) Dimension() int       { return m.dim }
func (m *mockEmbedder) MaxInputTokens() int  { return 8000 }
func (m *mockEmbedder) ProviderName() string { return "mock" }
func (m *mockEmbedder) Close() error         { return nil }

func setupTestOrchestrator(t *testing.T) (*Orchestrator, string) {
	t.Helper()
	home := t.TempDir()
	t.Setenv(registry.EnvVectorDBPath, filepath.Join(home, "placeholder.db"))

	reg, err := registry.New()
	require.NoError(t, err)

	codebase := filepath.Join(t.TempDir(), "project")
	require.NoError(t, os.MkdirAll(codebase, 0o755))
	writeFile(t, codebase, "main.go", "package main\n\nfunc Hello() string {\n\treturn \"hi\"\n}\n")
	writeFile(t, codebase, "util.go", "package main\n\nfunc Add(a, b int) int {\n\treturn a + b\n}\n")

	o := New(reg, newMockEmbedder(8), nil)
	return o, codebase
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestIndexCodebase_IndexesMatchedFiles(t *testing.T) {
	o, codebase := setupTestOrchestrator(t)
	ctx := context.Background()

	result, err := o.IndexCodebase(ctx, codebase, false, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.IndexedFiles)
	assert.Greater(t, result.TotalChunks, 0)
	assert.Equal(t, types.StatusCompleted, result.Status)

	has, err := o.HasIndex(ctx, codebase)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestIndexCodebase_RejectsConcurrentRun(t *testing.T) {
	o, codebase := setupTestOrchestrator(t)
	id, err := registry.IDFor(codebase)
	require.NoError(t, err)
	require.True(t, o.locks.tryAcquire(id))
	defer o.locks.release(id)

	_, err = o.IndexCodebase(context.Background(), codebase, false, nil)
	assert.ErrorIs(t, err, types.ErrBusy)
}

func TestSemanticSearch_FailsWhenNotIndexed(t *testing.T) {
	o, codebase := setupTestOrchestrator(t)
	_, err := o.SemanticSearch(context.Background(), codebase, "hello", 5, 0, "")
	assert.ErrorIs(t, err, types.ErrNotIndexed)
}

func TestSemanticSearch_ReturnsHitsAfterIndexing(t *testing.T) {
	o, codebase := setupTestOrchestrator(t)
	ctx := context.Background()
	_, err := o.IndexCodebase(ctx, codebase, false, nil)
	require.NoError(t, err)

	hits, err := o.SemanticSearch(ctx, codebase, "Hello", 5, 0, "")
	require.NoError(t, err)
	assert.NotEmpty(t, hits)
	for _, h := range hits {
		assert.NotEmpty(t, h.RelativePath)
		assert.GreaterOrEqual(t, h.Score, 0.0)
		assert.LessOrEqual(t, h.Score, 1.0)
	}
}

// A query that exactly matches a chunk's own content should always
// clear a realistic threshold in the default (hybrid) mode, not just
// threshold=0. This guards against scoring hybrid hits by their raw
// RRF fusion rank (which never approaches 1) instead of cosine
// similarity.
func TestSemanticSearch_HybridScoreClearsRealisticThreshold(t *testing.T) {
	o, codebase := setupTestOrchestrator(t)
	ctx := context.Background()
	_, err := o.IndexCodebase(ctx, codebase, false, nil)
	require.NoError(t, err)

	id, err := registry.IDFor(codebase)
	require.NoError(t, err)
	dbPath, err := o.reg.DBPathFor(codebase)
	require.NoError(t, err)
	s, err := o.storeFor(id, dbPath)
	require.NoError(t, err)
	chunks, err := s.Query(ctx, "", 1)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	// The mock embedder derives a vector purely from a text's hash, so
	// querying with a chunk's own content reproduces its exact vector
	// and must score a perfect 1.0 regardless of RRF's fused rank.
	hits, err := o.SemanticSearch(ctx, codebase, chunks[0].Content, 5, 0.3, "")
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
}

func TestReindexByChange_DetectsAddedAndModifiedFiles(t *testing.T) {
	o, codebase := setupTestOrchestrator(t)
	ctx := context.Background()
	_, err := o.IndexCodebase(ctx, codebase, false, nil)
	require.NoError(t, err)

	writeFile(t, codebase, "main.go", "package main\n\nfunc Hello() string {\n\treturn \"hi there\"\n}\n")
	writeFile(t, codebase, "extra.go", "package main\n\nfunc Extra() int {\n\treturn 1\n}\n")

	result, err := o.ReindexByChange(ctx, codebase, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Added)
	assert.Equal(t, 1, result.Modified)
	assert.Equal(t, 0, result.Removed)
}

func TestClearIndex_RemovesCollection(t *testing.T) {
	o, codebase := setupTestOrchestrator(t)
	ctx := context.Background()
	_, err := o.IndexCodebase(ctx, codebase, false, nil)
	require.NoError(t, err)

	require.NoError(t, o.ClearIndex(ctx, codebase))

	has, err := o.HasIndex(ctx, codebase)
	require.NoError(t, err)
	assert.False(t, has)
}
