package index

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"ragstore/internal/storage"
)

// Candidate is a single approximate-nearest-neighbor hit. Score is the
// inner product between the query and the stored vector; with unit-length
// vectors that is cosine similarity, higher is better.
type Candidate struct {
	VectorID uint64
	Score    float32
}

// VectorIndex answers similarity queries over the vectors held in a
// storage.VectorStore. Implementations must be safe for concurrent use.
type VectorIndex interface {
	// Add registers a stored vector with the index.
	Add(id uint64, vector []float32) error

	// Search returns up to k candidates ordered by descending score.
	Search(query []float32, k int) ([]Candidate, error)

	// Len reports the number of indexed vectors.
	Len() int

	// Close flushes any on-disk state.
	Close() error
}

// Open builds the configured index backend over vecs. An unknown backend
// name falls back to the brute-force index rather than failing startup, so
// a bad config value degrades to slower (but correct) search.
func Open(backend, dataDir string, vecs storage.VectorStore, log *zap.Logger) (VectorIndex, error) {
	if log == nil {
		log = zap.NewNop()
	}
	switch backend {
	case "hnsw", "":
		idx, err := OpenHNSW(filepath.Join(dataDir, "index.gob"), vecs, log)
		if err != nil {
			return nil, fmt.Errorf("open hnsw index: %w", err)
		}
		return idx, nil
	case "flat":
		return NewFlat(vecs), nil
	default:
		log.Warn("unknown index backend, using brute-force search",
			zap.String("backend", backend))
		return NewFlat(vecs), nil
	}
}
