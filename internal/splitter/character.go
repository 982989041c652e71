package splitter

import (
	"strings"

	"github.com/tan-yong-sheng/code-context/pkg/types"
)

// CharacterSplitter splits raw text into fixed-size, overlapping
// windows, snapping each window's start to the nearest preceding
// newline so chunks begin at line starts. It is the splitter of last
// resort: used whenever no grammar is registered for a file, or a
// structural parse fails.
type CharacterSplitter struct {
	budget  int
	overlap int
}

// NewCharacterSplitter builds a CharacterSplitter with the given
// target chunk size and overlap, both in characters.
func NewCharacterSplitter(budget, overlap int) *CharacterSplitter {
	if budget <= 0 {
		budget = 2500
	}
	if overlap < 0 || overlap >= budget {
		overlap = budget / 8
	}
	return &CharacterSplitter{budget: budget, overlap: overlap}
}

// Split breaks text into line-snapped, overlapping chunks.
func (s *CharacterSplitter) Split(relPath string, text []byte, language string) []types.Chunk {
	content := string(text)
	if content == "" {
		return nil
	}

	lineStarts := computeLineStarts(content)
	ext := extOf(relPath)

	var chunks []types.Chunk
	pos := 0
	for pos < len(content) {
		end := pos + s.budget
		if end > len(content) {
			end = len(content)
		} else {
			end = snapToLineStart(lineStarts, end)
			if end <= pos {
				end = pos + s.budget
				if end > len(content) {
					end = len(content)
				}
			}
		}

		chunkText := content[pos:end]
		startLine := lineAt(lineStarts, pos)
		endLine := lineAt(lineStarts, max(end-1, pos))

		c := types.Chunk{
			RelativePath:  relPath,
			StartLine:     startLine,
			EndLine:       endLine,
			FileExtension: ext,
			Content:       strings.TrimRight(chunkText, "\n"),
			Language:      language,
			Metadata:      map[string]string{"splitter": string(types.SplitterFallback)},
		}
		if c.Content == "" {
			c.Content = chunkText
		}
		c.ComputeID()
		chunks = append(chunks, c)

		if end >= len(content) {
			break
		}
		next := snapToLineStart(lineStarts, end-s.overlap)
		if next <= pos {
			next = end
		}
		pos = next
	}
	return chunks
}

func computeLineStarts(content string) []int {
	starts := []int{0}
	for i, b := range content {
		if b == '\n' && i+1 < len(content) {
			starts = append(starts, i+1)
		}
	}
	return starts
}

// snapToLineStart moves offset back to the closest line start at or
// before it, so a chunk boundary never splits a line in half.
func snapToLineStart(lineStarts []int, offset int) int {
	best := 0
	for _, s := range lineStarts {
		if s <= offset {
			best = s
		} else {
			break
		}
	}
	return best
}

func lineAt(lineStarts []int, offset int) int {
	line := 0
	for _, s := range lineStarts {
		if s <= offset {
			line++
		} else {
			break
		}
	}
	if line == 0 {
		line = 1
	}
	return line
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
