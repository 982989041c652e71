package splitter

import (
	"path/filepath"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
)

// LanguageSpec binds a tree-sitter grammar to the query that extracts
// its top-level declarations. Query must tag the span to capture as
// @chunk and, optionally, the declared identifier as @name.
type LanguageSpec struct {
	Language   *sitter.Language
	Query      string
	Extensions []string
}

// Registry maps file extensions and language names to their
// LanguageSpec. One Registry is shared across an entire Splitter.
type Registry struct {
	mu    sync.RWMutex
	byExt  map[string]*LanguageSpec
	byLang map[string]*LanguageSpec
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byExt:  make(map[string]*LanguageSpec),
		byLang: make(map[string]*LanguageSpec),
	}
}

// Register associates a language name with its spec and indexes the
// spec's extensions.
func (r *Registry) Register(name string, spec *LanguageSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byLang[name] = spec
	for _, ext := range spec.Extensions {
		r.byExt[ext] = spec
	}
}

// Lookup resolves a file path's extension to its LanguageSpec and
// language name. ok is false when no grammar is registered for it.
func (r *Registry) Lookup(path string) (spec *LanguageSpec, lang string, ok bool) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, found := r.byExt[ext]
	if !found {
		return nil, "", false
	}
	for name, sp := range r.byLang {
		if sp == s {
			return s, name, true
		}
	}
	return s, ext, true
}
