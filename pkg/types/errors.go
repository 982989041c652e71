package types

import "errors"

// Sentinel errors surfaced at the orchestrator boundary. Lower layers wrap
// these with %w and operation context rather than minting new kinds.
var (
	// ErrConfig covers missing/invalid dimension, unknown provider, and
	// collection/dimension mismatches. Always fatal to the current call.
	ErrConfig = errors.New("code-context: configuration error")

	// ErrNotIndexed is returned by search operations against a codebase
	// that has no collection yet.
	ErrNotIndexed = errors.New("code-context: codebase not indexed")

	// ErrEmbedding covers permanent embedding-provider failures, including
	// transient failures that exhausted their retry budget.
	ErrEmbedding = errors.New("code-context: embedding provider failed")

	// ErrStore covers failures from the underlying vector store.
	ErrStore = errors.New("code-context: store error")

	// ErrCapReached is not a failure; IndexCodebase reports hitting the
	// cap as a limit_reached status and does not return this error.
	ErrCapReached = errors.New("code-context: chunk cap reached")

	// ErrBusy is returned when a write (index/reindex/clear) is already
	// in progress for the same codebase.
	ErrBusy = errors.New("code-context: codebase is busy")

	// ErrEmptyContent and friends are low-level validation errors reused
	// by Chunk.Validate.
	ErrEmptyContent   = errors.New("chunk content cannot be empty")
	ErrInvalidLines   = errors.New("chunk line numbers must be positive and ordered")
	ErrDimensionMismatch = errors.New("vector dimension does not match collection dimension")
)
