package splitter

import (
	"context"
	"fmt"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/tan-yong-sheng/code-context/pkg/types"
)

// StructuralSplitter produces chunks aligned to top-level declarations
// (functions, methods, classes, types) by parsing source with
// tree-sitter and running a per-language capture query. Declarations
// larger than the configured budget are re-split at line-window
// boundaries with overlap.
type StructuralSplitter struct {
	registry *Registry
	budget   int
	overlap  int
}

// NewStructuralSplitter builds a StructuralSplitter over the given
// grammar registry, using budget as the target chunk size in
// characters and overlap as the number of characters repeated between
// consecutive windows of an oversized chunk.
func NewStructuralSplitter(registry *Registry, budget, overlap int) *StructuralSplitter {
	return &StructuralSplitter{registry: registry, budget: budget, overlap: overlap}
}

// Supports reports whether a grammar is registered for path.
func (s *StructuralSplitter) Supports(path string) bool {
	_, _, ok := s.registry.Lookup(path)
	return ok
}

// Split parses text as the language registered for path and returns
// one chunk per top-level declaration capture, oversized ones
// re-split. It returns (nil, false, nil) when no grammar is registered
// so the caller can fall back to the character splitter; a non-nil
// error means the grammar was found but parsing failed.
func (s *StructuralSplitter) Split(relPath string, text []byte) ([]types.Chunk, bool, error) {
	spec, lang, ok := s.registry.Lookup(relPath)
	if !ok {
		return nil, false, nil
	}

	parser := sitter.NewParser()
	parser.SetLanguage(spec.Language)
	tree, err := parser.ParseCtx(context.Background(), nil, text)
	if err != nil {
		return nil, true, fmt.Errorf("splitter: parse %s: %w", relPath, err)
	}
	defer tree.Close()

	q, err := sitter.NewQuery([]byte(spec.Query), spec.Language)
	if err != nil {
		return nil, true, fmt.Errorf("splitter: compile query for %s: %w", lang, err)
	}
	defer q.Close()

	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(q, tree.RootNode())

	captures := collectCaptures(qc, q, text)
	captures = dedupCaptures(captures)
	if len(captures) == 0 {
		return nil, true, nil
	}

	lines := strings.Split(string(text), "\n")
	ext := extOf(relPath)

	var chunks []types.Chunk
	for _, cap := range captures {
		content := joinLines(lines, cap.startLine, cap.endLine)
		if len(content) <= s.budget {
			chunks = append(chunks, s.newChunk(relPath, ext, lang, cap.startLine, cap.endLine, content))
			continue
		}
		chunks = append(chunks, s.splitOversized(relPath, ext, lang, content, cap.startLine)...)
	}
	return chunks, true, nil
}

func (s *StructuralSplitter) newChunk(relPath, ext, lang string, start, end int, content string) types.Chunk {
	c := types.Chunk{
		RelativePath:  relPath,
		StartLine:     start,
		EndLine:       end,
		FileExtension: ext,
		Content:       content,
		Language:      lang,
		Metadata:      map[string]string{"splitter": string(types.SplitterStructural)},
	}
	c.ComputeID()
	return c
}

// splitOversized re-windows a declaration that exceeds the chunk
// budget into fixed-size, overlapping line windows.
func (s *StructuralSplitter) splitOversized(relPath, ext, lang, content string, baseStartLine int) []types.Chunk {
	lines := strings.Split(content, "\n")
	windowLines := linesForBudget(lines, s.budget)
	overlapLines := linesForBudget(lines, s.overlap)
	if overlapLines >= windowLines {
		overlapLines = windowLines / 2
	}

	var chunks []types.Chunk
	for i := 0; i < len(lines); {
		end := i + windowLines
		if end > len(lines) {
			end = len(lines)
		}
		windowContent := strings.Join(lines[i:end], "\n")
		chunks = append(chunks, s.newChunk(relPath, ext, lang, baseStartLine+i, baseStartLine+end-1, windowContent))
		if end >= len(lines) {
			break
		}
		i += windowLines - overlapLines
	}
	return chunks
}

// linesForBudget estimates how many lines of this content fit within
// a character budget, assuming roughly uniform line length.
func linesForBudget(lines []string, budget int) int {
	if len(lines) == 0 || budget <= 0 {
		return 1
	}
	total := 0
	for _, l := range lines {
		total += len(l) + 1
	}
	avg := total / len(lines)
	if avg == 0 {
		avg = 1
	}
	n := budget / avg
	if n < 1 {
		n = 1
	}
	return n
}

func joinLines(lines []string, startLine, endLine int) string {
	start := startLine - 1
	end := endLine
	if start < 0 {
		start = 0
	}
	if end > len(lines) {
		end = len(lines)
	}
	return strings.Join(lines[start:end], "\n")
}

func extOf(path string) string {
	idx := strings.LastIndexByte(path, '.')
	if idx < 0 {
		return ""
	}
	return strings.ToLower(path[idx:])
}

type capture struct {
	name      string
	kind      string
	startLine int
	endLine   int
	startByte uint32
	endByte   uint32
}

func collectCaptures(qc *sitter.QueryCursor, q *sitter.Query, src []byte) []capture {
	var out []capture
	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		var node *sitter.Node
		var name string
		for _, c := range m.Captures {
			switch q.CaptureNameForId(c.Index) {
			case "chunk":
				node = c.Node
			case "name":
				name = c.Node.Content(src)
			}
		}
		if node == nil {
			continue
		}
		out = append(out, capture{
			name:      name,
			kind:      node.Type(),
			startLine: int(node.StartPoint().Row) + 1,
			endLine:   int(node.EndPoint().Row) + 1,
			startByte: node.StartByte(),
			endByte:   node.EndByte(),
		})
	}
	return out
}

// dedupCaptures keeps the outer (larger) node whenever two captures
// overlap, so a method and its enclosing type aren't both emitted as
// separate, overlapping chunks.
func dedupCaptures(caps []capture) []capture {
	if len(caps) <= 1 {
		return caps
	}
	sort.Slice(caps, func(i, j int) bool {
		if caps[i].startByte != caps[j].startByte {
			return caps[i].startByte < caps[j].startByte
		}
		return (caps[i].endByte - caps[i].startByte) > (caps[j].endByte - caps[j].startByte)
	})

	var result []capture
	var lastEnd uint32
	for _, c := range caps {
		if lastEnd == 0 || c.startByte >= lastEnd {
			result = append(result, c)
			if c.endByte > lastEnd {
				lastEnd = c.endByte
			}
		}
	}
	return result
}
