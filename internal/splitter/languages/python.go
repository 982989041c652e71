package languages

import (
	"github.com/smacker/go-tree-sitter/python"

	"github.com/tan-yong-sheng/code-context/internal/splitter"
)

// RegisterPython adds the Python grammar for py/pyi files.
func RegisterPython(r *splitter.Registry) {
	r.Register("python", &splitter.LanguageSpec{
		Language: python.GetLanguage(),
		Query: `
			(function_definition name: (identifier) @name) @chunk
			(class_definition name: (identifier) @name) @chunk
			(decorated_definition definition: (function_definition name: (identifier) @name)) @chunk
			(decorated_definition definition: (class_definition name: (identifier) @name)) @chunk
		`,
		Extensions: []string{"py", "pyi"},
	})
}
