// Package embedder defines the embedding-provider contract the engine
// depends on and a small set of concrete providers (Jina, OpenAI, and
// a deterministic local stub). Callers outside this package only ever
// see the Embedder interface; provider selection happens in factory.go.
package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Sentinel errors returned by providers and validation helpers.
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrProviderFailed    = errors.New("embedding provider failed")
	ErrUnsupportedModel  = errors.New("unsupported model")
	ErrEmptyText         = errors.New("text cannot be empty")
	ErrBatchTooLarge     = errors.New("batch size exceeds limit")
	ErrInputTooLarge     = errors.New("input exceeds provider token limit")
	ErrNoProviderEnabled = errors.New("no embedding provider configured")
)

// Embedding is a single vector with enough metadata to be cached and
// attributed back to the provider that produced it.
type Embedding struct {
	Vector    []float32
	Dimension int
	Provider  string
	Model     string
	Hash      string // content hash, used as the cache key
}

// Embedder is the contract every provider satisfies. It matches the
// orchestrator's batching model directly: EmbedBatch preserves input
// order, Dimension/MaxInputTokens/ProviderName are static facts about
// the configured model.
type Embedder interface {
	// EmbedBatch embeds texts in order, returning one vector per text.
	EmbedBatch(ctx context.Context, texts []string) ([]*Embedding, error)

	// Dimension is the length every returned vector must have.
	Dimension() int

	// MaxInputTokens bounds a single text's size; callers truncate
	// before submitting a text that exceeds it.
	MaxInputTokens() int

	// ProviderName identifies the backing provider, e.g. "jina".
	ProviderName() string

	// Close releases any resources (HTTP clients, etc).
	Close() error
}

// Cache is an LRU cache of embeddings keyed by content hash, shared by
// every provider so repeated text (duplicated chunks, unchanged files
// across incremental runs) isn't re-embedded.
type Cache struct {
	cache *lru.Cache[string, *Embedding]
}

// NewCache builds a Cache holding up to maxLen entries (default
// 10000).
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = 10000
	}
	c, err := lru.New[string, *Embedding](maxLen)
	if err != nil {
		c, _ = lru.New[string, *Embedding](10000)
	}
	return &Cache{cache: c}
}

// Get returns a deep copy of the cached embedding for hash, so a
// caller mutating the returned vector cannot corrupt the cache.
func (c *Cache) Get(hash string) (*Embedding, bool) {
	emb, ok := c.cache.Get(hash)
	if !ok {
		return nil, false
	}
	vec := make([]float32, len(emb.Vector))
	copy(vec, emb.Vector)
	return &Embedding{Vector: vec, Dimension: emb.Dimension, Provider: emb.Provider, Model: emb.Model, Hash: emb.Hash}, true
}

// Set stores a copy of emb under hash, evicting the least-recently-used
// entry if the cache is at capacity, so later changes to emb's vector
// do not reach the cached entry.
func (c *Cache) Set(hash string, emb *Embedding) {
	vec := make([]float32, len(emb.Vector))
	copy(vec, emb.Vector)
	c.cache.Add(hash, &Embedding{Vector: vec, Dimension: emb.Dimension, Provider: emb.Provider, Model: emb.Model, Hash: emb.Hash})
}

// Size returns the number of cached entries.
func (c *Cache) Size() int { return c.cache.Len() }

// Clear empties the cache.
func (c *Cache) Clear() { c.cache.Purge() }

// ComputeHash returns the hex SHA-256 of text, used as a cache key.
func ComputeHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// ValidateBatch checks that a batch request is well-formed before it
// reaches a provider.
func ValidateBatch(texts []string) error {
	if len(texts) == 0 {
		return fmt.Errorf("%w: no texts provided", ErrInvalidInput)
	}
	for i, text := range texts {
		if text == "" {
			return fmt.Errorf("%w: text at index %d is empty", ErrInvalidInput, i)
		}
	}
	return nil
}

// Truncate clips text to at most maxChars runes worth of bytes,
// snapping to a rune boundary. Used once when a single chunk's text
// exceeds a provider's MaxInputTokens after the splitter has already
// bounded its size.
func Truncate(text string, maxChars int) string {
	if len(text) <= maxChars {
		return text
	}
	r := []rune(text)
	if len(r) <= maxChars {
		return text
	}
	return string(r[:maxChars])
}
