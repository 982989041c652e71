// Package languages registers the tree-sitter grammars this engine
// ships support for into a splitter.Registry. Each Register* function
// mirrors the query shape used across the retrieved corpus: capture
// the declaration node as @chunk and its identifier as @name.
package languages

import (
	"github.com/smacker/go-tree-sitter/golang"

	"github.com/tan-yong-sheng/code-context/internal/splitter"
)

// RegisterGo adds the Go grammar for .go files.
func RegisterGo(r *splitter.Registry) {
	r.Register("go", &splitter.LanguageSpec{
		Language: golang.GetLanguage(),
		Query: `
			(function_declaration name: (identifier) @name) @chunk
			(method_declaration name: (field_identifier) @name) @chunk
			(type_declaration (type_spec name: (type_identifier) @name)) @chunk
		`,
		Extensions: []string{"go"},
	})
}
