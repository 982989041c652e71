package languages

import "github.com/tan-yong-sheng/code-context/internal/splitter"

// RegisterAll registers every grammar this package provides bindings
// for into r. Callers that want a subset should call the individual
// Register* functions instead.
func RegisterAll(r *splitter.Registry) {
	RegisterGo(r)
	RegisterJavaScript(r)
	RegisterPython(r)
	RegisterTypeScript(r)
}
