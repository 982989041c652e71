package languages

import (
	"github.com/smacker/go-tree-sitter/javascript"

	"github.com/tan-yong-sheng/code-context/internal/splitter"
)

// RegisterJavaScript adds the JavaScript grammar for js/jsx/mjs/cjs files.
func RegisterJavaScript(r *splitter.Registry) {
	r.Register("javascript", &splitter.LanguageSpec{
		Language: javascript.GetLanguage(),
		Query: `
			(function_declaration name: (identifier) @name) @chunk
			(class_declaration name: (identifier) @name) @chunk
			(method_definition name: (property_identifier) @name) @chunk
			(export_statement (function_declaration name: (identifier) @name)) @chunk
			(export_statement (class_declaration name: (identifier) @name)) @chunk
			(lexical_declaration (variable_declarator name: (identifier) @name value: (arrow_function))) @chunk
		`,
		Extensions: []string{"js", "jsx", "mjs", "cjs"},
	})
}
