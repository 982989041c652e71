package syncer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/assert"

	"github.com/tan-yong-sheng/code-context/internal/ignore"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestBuildTree_SkipsIgnoredAndRespectsExtensions(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main")
	writeFile(t, root, "vendor/dep/dep.go", "package dep")
	writeFile(t, root, "image.png", "binary")

	matcher, err := ignore.New(root, ignore.Options{})
	require.NoError(t, err)

	tree, files, err := BuildTree(root, matcher)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "main.go", files[0].RelativePath)
	assert.Contains(t, tree.FileHashes, "main.go")
	assert.NotContains(t, tree.FileHashes, "vendor/dep/dep.go")
}

func TestSnapshot_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "merkle", "abc12345.json")

	tree := NewTree(map[string]string{"a.go": "h1", "b.go": "h2"})
	require.NoError(t, SaveSnapshot(path, tree))

	loaded, err := LoadSnapshot(path)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, tree.Root, loaded.Root)
	assert.Equal(t, tree.FileHashes, loaded.FileHashes)
}

func TestLoadSnapshot_MissingReturnsNil(t *testing.T) {
	loaded, err := LoadSnapshot(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Nil(t, loaded)
}
