// Package embedder turns chunk text into vectors. Jina and OpenAI
// providers call out over HTTP with retry and an LRU cache in front;
// the local provider derives a deterministic vector from a SHA-256
// digest so the engine runs without any API key.
package embedder
