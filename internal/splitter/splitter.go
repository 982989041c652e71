// Package splitter turns a file's text into chunks carrying line
// ranges. Two variants are composed behind one Splitter: a structural
// variant backed by tree-sitter grammars (with a markdown heading
// splitter in its place for .md/.markdown files), and a character-based
// variant used whenever no grammar is registered for a file or a
// structural parse fails.
package splitter

import (
	"github.com/tan-yong-sheng/code-context/pkg/types"
)

// DefaultBudget and DefaultOverlap are the chunk size and overlap (in
// characters) used when Options doesn't override them.
const (
	DefaultBudget  = 2500
	DefaultOverlap = 300
)

// Options configures a Splitter.
type Options struct {
	Budget  int
	Overlap int
}

// Splitter composes the structural, markdown, and character splitters
// into the single contract the Index Orchestrator depends on.
type Splitter struct {
	structural *StructuralSplitter
	markdown   *MarkdownSplitter
	fallback   *CharacterSplitter
}

// New builds a Splitter over registry (the set of registered
// structural grammars) with the given Options.
func New(registry *Registry, opts Options) *Splitter {
	budget := opts.Budget
	if budget <= 0 {
		budget = DefaultBudget
	}
	overlap := opts.Overlap
	if overlap <= 0 {
		overlap = DefaultOverlap
	}
	return &Splitter{
		structural: NewStructuralSplitter(registry, budget, overlap),
		markdown:   NewMarkdownSplitter(),
		fallback:   NewCharacterSplitter(budget, overlap),
	}
}

// Split returns the chunks for relPath's content. Markdown files go to
// the markdown splitter, and to the character splitter only if that
// yields no chunks. Every other file tries the structural splitter
// first and falls back to the character splitter on a failed parse, an
// unregistered extension, or zero captures. A parse failure is silent
// to the caller — metadata records which splitter actually produced
// each chunk.
func (s *Splitter) Split(relPath string, content []byte) ([]types.Chunk, error) {
	if len(content) == 0 {
		return nil, nil
	}

	if isMarkdown(relPath) {
		if chunks := s.markdown.Split(relPath, content); len(chunks) > 0 {
			return chunks, nil
		}
		return s.fallback.Split(relPath, content, "markdown"), nil
	}

	chunks, attempted, err := s.structural.Split(relPath, content)
	if err == nil && attempted && len(chunks) > 0 {
		return chunks, nil
	}
	// Either no grammar was registered, the parse failed, or the
	// grammar produced zero captures (e.g. a file with no top-level
	// declarations) — in every case we fall back silently.
	lang := ""
	if attempted {
		if _, name, ok := s.structural.registry.Lookup(relPath); ok {
			lang = name
		}
	}
	return s.fallback.Split(relPath, content, lang), nil
}

func isMarkdown(path string) bool {
	ext := extOf(path)
	return ext == ".md" || ext == ".markdown"
}
