package ignore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatcher_DefaultsExcludeVendor(t *testing.T) {
	root := t.TempDir()
	m, err := New(root, Options{})
	require.NoError(t, err)

	assert.False(t, m.Include("vendor/pkg/file.go"))
	assert.False(t, m.Include("node_modules/left-pad/index.js"))
	assert.True(t, m.Include("internal/store/store.go"))
}

func TestMatcher_ExtensionAllowlist(t *testing.T) {
	root := t.TempDir()
	m, err := New(root, Options{})
	require.NoError(t, err)

	assert.True(t, m.Include("README.md"))
	assert.False(t, m.Include("image.png"))
}

func TestMatcher_DiscoversGitignore(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte("generated/\n*.gen.go\n"), 0o644))

	m, err := New(root, Options{})
	require.NoError(t, err)

	assert.False(t, m.Include("generated/file.go"))
	assert.False(t, m.Include("types.gen.go"))
	assert.True(t, m.Include("main.go"))
}

func TestMatcher_CustomPatternsAndExtensions(t *testing.T) {
	root := t.TempDir()
	m, err := New(root, Options{
		CustomPatterns:   []string{"testdata"},
		CustomExtensions: map[string]bool{".proto": true},
	})
	require.NoError(t, err)

	assert.False(t, m.Include("testdata/fixture.proto"))
	assert.True(t, m.Include("api/service.proto"))
	assert.False(t, m.Include("main.go"))
}
