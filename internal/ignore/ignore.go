// Package ignore merges built-in defaults, workspace .gitignore-style
// files discovered during a walk, and user-supplied overrides into a
// single path matcher. The matching approach — exact name, prefix, and
// filepath.Match on both the relative path and the base name — follows
// the pattern used by the codebase walker this package was modeled on;
// no dedicated gitignore-parsing library is pulled in for it.
package ignore

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// defaultPatterns are always active, regardless of workspace contents.
var defaultPatterns = []string{
	".git", ".svn", ".hg",
	"node_modules", "vendor", "__pycache__",
	".idea", ".vscode", ".code-context",
	"dist", "build", "target", "bin",
	".DS_Store",
}

// DefaultExtensions enumerates the file extensions indexed unless the
// caller supplies its own allowlist.
var DefaultExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".jsx": true, ".mjs": true, ".cjs": true,
	".ts": true, ".tsx": true, ".java": true, ".rb": true, ".rs": true,
	".c": true, ".h": true, ".cpp": true, ".hpp": true, ".cc": true,
	".cs": true, ".php": true, ".swift": true, ".kt": true, ".scala": true,
	".md": true, ".markdown": true,
}

const ignoreFileName = ".gitignore"

// Options configures Matcher construction.
type Options struct {
	// CustomPatterns are appended after the built-in defaults and any
	// discovered .gitignore files. They only add further exclusions: a
	// leading "!" to re-include a path is not supported.
	CustomPatterns []string

	// CustomExtensions, if non-nil, replaces DefaultExtensions entirely.
	CustomExtensions map[string]bool
}

// Matcher decides whether a relative path should be included in a walk.
type Matcher struct {
	patterns   []string
	extensions map[string]bool
}

// New builds a Matcher for the given workspace root: built-in defaults,
// then every .gitignore found anywhere under root (read, not merely the
// top-level one), then the caller's custom patterns.
func New(root string, opts Options) (*Matcher, error) {
	patterns := make([]string, 0, len(defaultPatterns)+len(opts.CustomPatterns))
	patterns = append(patterns, defaultPatterns...)

	discovered, err := discoverGitignores(root)
	if err != nil {
		return nil, err
	}
	patterns = append(patterns, discovered...)
	patterns = append(patterns, opts.CustomPatterns...)

	extensions := opts.CustomExtensions
	if extensions == nil {
		extensions = DefaultExtensions
	}

	return &Matcher{patterns: patterns, extensions: extensions}, nil
}

// discoverGitignores walks root looking for .gitignore files and
// collects their non-comment, non-blank lines. It walks the whole tree,
// pruning only directories whose name is one of defaultPatterns; the
// patterns it collects are not applied during this walk.
func discoverGitignores(root string) ([]string, error) {
	var patterns []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // best-effort discovery, skip unreadable entries
		}
		if d.IsDir() {
			base := d.Name()
			for _, p := range defaultPatterns {
				if base == p {
					return filepath.SkipDir
				}
			}
			return nil
		}
		if d.Name() != ignoreFileName {
			return nil
		}
		lines, err := readIgnoreFile(path)
		if err != nil {
			return nil //nolint:nilerr
		}
		patterns = append(patterns, lines...)
		return nil
	})
	return patterns, err
}

func readIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}

// Include reports whether relPath (slash-separated, relative to the
// walk root) should be indexed: it must pass the extension allowlist
// and must not match any ignore pattern.
func (m *Matcher) Include(relPath string) bool {
	if m.matchesIgnore(relPath) {
		return false
	}
	ext := strings.ToLower(filepath.Ext(relPath))
	return m.extensions[ext]
}

// IsIgnoredDir reports whether a directory (by its relative path)
// matches an ignore pattern, without applying the extension allowlist
// — directories have no extension to allow, so Include is not
// appropriate for pruning a walk.
func (m *Matcher) IsIgnoredDir(relPath string) bool {
	return m.matchesIgnore(relPath)
}

// matchesIgnore mirrors the three checks a pattern can satisfy: an
// exact path-segment match, a path-prefix match, or a shell-glob match
// against either the relative path or the base name.
func (m *Matcher) matchesIgnore(relPath string) bool {
	name := filepath.Base(relPath)
	normalized := filepath.ToSlash(relPath)

	for _, pattern := range m.patterns {
		pattern = strings.TrimSuffix(pattern, "/")
		if name == pattern {
			return true
		}
		if strings.HasPrefix(normalized, pattern+"/") || strings.Contains(normalized, "/"+pattern+"/") {
			return true
		}
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, normalized); ok {
			return true
		}
	}
	return false
}
