// Package syncer walks a codebase under an ignore.Matcher, hashes file
// contents, and maintains a Merkle snapshot on disk so that a later run
// can be diffed against the previous one without re-reading every file
// that didn't change. The walk itself follows the directory-traversal
// shape used throughout the retrieved corpus (filepath.WalkDir skipping
// ignored directories); the snapshot and diffing logic is new, since no
// example in the corpus keeps a content-hash Merkle tree.
package syncer

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tan-yong-sheng/code-context/internal/ignore"
)

// File pairs a file discovered by Walk with its content hash, relative
// to the codebase root.
type File struct {
	RelativePath string
	AbsolutePath string
	Hash         string
}

// Walk traverses root, skipping anything matcher excludes, and returns
// every included file together with its sha256 content hash.
func Walk(root string, matcher *ignore.Matcher) ([]File, error) {
	var files []File
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if matcher.IsIgnoredDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !matcher.Include(rel) {
			return nil
		}

		hash, hashErr := hashFile(path)
		if hashErr != nil {
			return fmt.Errorf("syncer: hash %s: %w", rel, hashErr)
		}
		files = append(files, File{RelativePath: rel, AbsolutePath: path, Hash: hash})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close() //nolint:errcheck

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// BuildTree walks root and returns the resulting Merkle Tree.
func BuildTree(root string, matcher *ignore.Matcher) (*Tree, []File, error) {
	files, err := Walk(root, matcher)
	if err != nil {
		return nil, nil, err
	}
	hashes := make(map[string]string, len(files))
	for _, f := range files {
		hashes[f.RelativePath] = f.Hash
	}
	return NewTree(hashes), files, nil
}

// LoadSnapshot reads a previously persisted Tree. It returns (nil, nil)
// if no snapshot exists yet at path.
func LoadSnapshot(path string) (*Tree, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("syncer: read snapshot: %w", err)
	}
	var t Tree
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("syncer: decode snapshot: %w", err)
	}
	return &t, nil
}

// SaveSnapshot persists a Tree atomically: write to a sibling temp
// file, then rename over the destination, so a crash mid-write cannot
// leave a corrupt snapshot in place.
func SaveSnapshot(path string, t *Tree) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("syncer: create snapshot directory: %w", err)
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("syncer: encode snapshot: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("syncer: write snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}
