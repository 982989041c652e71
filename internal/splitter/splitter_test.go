package splitter_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tan-yong-sheng/code-context/internal/splitter"
	"github.com/tan-yong-sheng/code-context/internal/splitter/languages"
	"github.com/tan-yong-sheng/code-context/pkg/types"
)

func newTestSplitter() *splitter.Splitter {
	reg := splitter.NewRegistry()
	languages.RegisterAll(reg)
	return splitter.New(reg, splitter.Options{})
}

const goSample = `package sample

import "fmt"

// Greet prints a greeting.
func Greet(name string) {
	fmt.Println("hello " + name)
}

type Counter struct {
	n int
}

func (c *Counter) Inc() {
	c.n++
}
`

func TestSplitter_StructuralGo(t *testing.T) {
	s := newTestSplitter()
	chunks, err := s.Split("sample.go", []byte(goSample))
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	for _, c := range chunks {
		assert.Equal(t, string(types.SplitterStructural), c.Metadata["splitter"])
		assert.NoError(t, c.Validate())
	}
}

func TestSplitter_FallsBackForUnknownExtension(t *testing.T) {
	s := newTestSplitter()
	content := strings.Repeat("line of unrecognized content\n", 5)
	chunks, err := s.Split("notes.txt", []byte(content))
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Equal(t, "fallback", chunks[0].Metadata["splitter"])
}

func TestSplitter_MarkdownHeadings(t *testing.T) {
	s := newTestSplitter()
	md := "# Title\n\nIntro text.\n\n## Section One\n\nBody one.\n\n## Section Two\n\nBody two.\n"
	chunks, err := s.Split("doc.md", []byte(md))
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Contains(t, chunks[0].Content, "Title")
}

func TestCharacterSplitter_LineSnappedOverlap(t *testing.T) {
	cs := splitter.NewCharacterSplitter(40, 10)
	content := strings.Repeat("abcdefghij\n", 20)
	chunks := cs.Split("file.raw", []byte(content), "")
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, c.StartLine, c.EndLine)
		assert.True(t, strings.HasPrefix(c.Content, "abcdefghij"), "chunk should begin at a line start: %q", c.Content)
	}
	require.Greater(t, len(chunks), 1)
	assert.Less(t, chunks[1].StartLine, chunks[0].EndLine+1, "consecutive chunks should overlap")
}
