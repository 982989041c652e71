package splitter

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/tan-yong-sheng/code-context/pkg/types"
)

// MarkdownSplitter chunks a document at its heading boundaries: each
// chunk runs from one heading (inclusive) to the line before the next
// heading of any level, so a subsection is never folded into its
// parent's chunk. Content before the first heading becomes its own
// chunk.
type MarkdownSplitter struct {
	md goldmark.Markdown
}

// NewMarkdownSplitter builds a MarkdownSplitter using goldmark's
// default parser configuration.
func NewMarkdownSplitter() *MarkdownSplitter {
	return &MarkdownSplitter{md: goldmark.New()}
}

// Split parses markdown source and returns one chunk per heading
// section.
func (s *MarkdownSplitter) Split(relPath string, source []byte) []types.Chunk {
	reader := text.NewReader(source)
	doc := s.md.Parser().Parse(reader)

	type boundary struct {
		line int // 0-based line where the heading starts
	}
	var bounds []boundary
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if h, ok := n.(*ast.Heading); ok {
			lines := h.Lines()
			if lines.Len() > 0 {
				seg := lines.At(0)
				line := lineNumberAt(source, seg.Start)
				bounds = append(bounds, boundary{line: line})
			}
		}
		return ast.WalkContinue, nil
	})

	totalLines := strings.Count(string(source), "\n") + 1
	ext := extOf(relPath)

	var chunks []types.Chunk
	starts := make([]int, 0, len(bounds)+1)
	if len(bounds) == 0 || bounds[0].line > 0 {
		starts = append(starts, 0)
	}
	for _, b := range bounds {
		starts = append(starts, b.line)
	}

	lines := strings.Split(string(source), "\n")
	for i, start := range starts {
		end := totalLines - 1
		if i+1 < len(starts) {
			end = starts[i+1] - 1
		}
		if end < start {
			continue
		}
		content := strings.TrimSpace(joinLines(lines, start+1, end+1))
		if content == "" {
			continue
		}
		c := types.Chunk{
			RelativePath:  relPath,
			StartLine:     start + 1,
			EndLine:       end + 1,
			FileExtension: ext,
			Content:       content,
			Language:      "markdown",
			Metadata:      map[string]string{"splitter": string(types.SplitterMarkdown)},
		}
		c.ComputeID()
		chunks = append(chunks, c)
	}
	return chunks
}

// lineNumberAt returns the 0-based line number of byte offset pos
// within source.
func lineNumberAt(source []byte, pos int) int {
	line := 0
	for i := 0; i < pos && i < len(source); i++ {
		if source[i] == '\n' {
			line++
		}
	}
	return line
}
