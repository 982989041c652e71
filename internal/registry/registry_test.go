package registry

import (
	"crypto/md5" //nolint:gosec
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDFor_Deterministic(t *testing.T) {
	id1, err := IDFor("/tmp/proj")
	require.NoError(t, err)
	id2, err := IDFor("/tmp/proj")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
	assert.Len(t, id1, 8)

	sum := md5.Sum([]byte("/tmp/proj")) //nolint:gosec
	want := hex.EncodeToString(sum[:])[:8]
	assert.Equal(t, want, id1)
}

func TestIDFor_DifferentPathsDiffer(t *testing.T) {
	a, err := IDFor("/tmp/proj-a")
	require.NoError(t, err)
	b, err := IDFor("/tmp/proj-b")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestIDFor_RelativeResolvesSameAsAbsolute(t *testing.T) {
	abs, err := filepath.Abs(".")
	require.NoError(t, err)

	relID, err := IDFor(".")
	require.NoError(t, err)
	absID, err := IDFor(abs)
	require.NoError(t, err)
	assert.Equal(t, absID, relID)
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(EnvVectorDBPath, filepath.Join(dir, "vectors", "placeholder"))
	r, err := New()
	require.NoError(t, err)
	return r
}

func TestRegistry_DBPathForRegistersMapping(t *testing.T) {
	r := newTestRegistry(t)

	codebase := t.TempDir()
	dbPath, err := r.DBPathFor(codebase)
	require.NoError(t, err)

	id, err := IDFor(codebase)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(r.VectorsDir(), id+".db"), dbPath)

	entries, err := r.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)
}

func TestRegistry_RemoveAndCleanupOrphans(t *testing.T) {
	r := newTestRegistry(t)

	present := t.TempDir()
	_, err := r.DBPathFor(present)
	require.NoError(t, err)

	goneDir := t.TempDir()
	_, err = r.DBPathFor(goneDir)
	require.NoError(t, err)

	// Simulate goneDir having been deleted from the filesystem.
	require.NoError(t, os.RemoveAll(goneDir))

	removed, err := r.CleanupOrphans()
	require.NoError(t, err)

	goneID, err := IDFor(goneDir)
	require.NoError(t, err)
	assert.Contains(t, removed, goneID)

	entries, err := r.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	presentID, err := IDFor(present)
	require.NoError(t, err)
	assert.Equal(t, presentID, entries[0].ID)

	require.NoError(t, r.Remove(present))
	entries, err = r.List()
	require.NoError(t, err)
	assert.Empty(t, entries)
}
