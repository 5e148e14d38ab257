package storage

import "ragstore/internal/types"

// VectorStore is the append-only home of every embedding ever added.
// Vector IDs are assigned at append time, strictly increasing, never reused.
type VectorStore interface {
	// Append adds a vector and returns its vector_id.
	Append(vector types.Vector) (uint64, error)

	// AppendBatch adds vectors under one lock acquisition and returns
	// their contiguous vector_ids.
	AppendBatch(vectors []types.Vector) ([]uint64, error)

	// Get retrieves a vector by its vector_id.
	Get(id uint64) (types.Vector, error)

	// Count returns the number of stored vectors.
	Count() uint64

	// Dim returns the fixed vector dimension.
	Dim() int

	// Close flushes and closes the store.
	Close() error
}
