package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"ragstore/internal/embedding"
	"ragstore/internal/index"
	"ragstore/internal/storage"
	"ragstore/internal/types"
)

const (
	// overFetchFactor widens the ANN search past top_k so that filtering and
	// deduplication still leave enough main matches.
	overFetchFactor = 3

	// contextScoreDiscount ranks neighbor chunks below the hit that pulled
	// them in.
	contextScoreDiscount = 0.8
)

// Options narrows a single retrieval call. Zero values mean "no filter" /
// "use the retriever default".
type Options struct {
	TopK          int
	ContextWindow int
	Collection    string
	Category      string
	Subcategory   string
}

// Retriever joins index candidates to their chunk metadata and expands each
// hit with its neighboring chunks from the same document.
type Retriever struct {
	embedder      embedding.Embedder
	idx           index.VectorIndex
	meta          *storage.MetadataStore
	log           *zap.Logger
	topK          int
	contextWindow int
}

func NewRetriever(embedder embedding.Embedder, idx index.VectorIndex, meta *storage.MetadataStore, topK, contextWindow int, log *zap.Logger) *Retriever {
	if log == nil {
		log = zap.NewNop()
	}
	if topK <= 0 {
		topK = 5
	}
	return &Retriever{
		embedder:      embedder,
		idx:           idx,
		meta:          meta,
		log:           log,
		topK:          topK,
		contextWindow: contextWindow,
	}
}

// Retrieve runs a semantic query. Main matches come back first, ordered by
// descending score, followed by their context chunks, also by descending
// score. An empty or whitespace query returns no matches.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts Options) ([]types.Match, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = r.topK
	}
	window := opts.ContextWindow
	if window <= 0 {
		window = r.contextWindow
	}

	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	candidates, err := r.idx.Search(vecs[0], topK*overFetchFactor)
	if err != nil {
		return nil, fmt.Errorf("index search: %w", err)
	}

	type hit struct {
		chunk *types.Chunk
		doc   *types.Document
		score float32
	}
	var (
		hits []hit
		seen = map[string]bool{}
	)
	for _, cand := range candidates {
		if len(hits) >= topK {
			break
		}

		chunk, doc, err := r.meta.ChunkByVectorID(ctx, cand.VectorID)
		if errors.Is(err, storage.ErrNotFound) {
			// Vector outlived its metadata (deleted collection). Skip.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("resolve vector %d: %w", cand.VectorID, err)
		}
		if !matchesFilters(doc, opts) {
			continue
		}
		if seen[chunk.ChunkID] {
			continue
		}
		seen[chunk.ChunkID] = true
		hits = append(hits, hit{chunk: chunk, doc: doc, score: cand.Score})
	}

	// Contexts are expanded only after all main matches are fixed, so a
	// neighbor that is itself a strong candidate stays a main match.
	var (
		mains    []types.Match
		contexts []types.Match
	)
	for _, h := range hits {
		mains = append(mains, types.Match{
			ChunkID:     h.chunk.ChunkID,
			ChunkText:   h.chunk.Text,
			ChunkOrder:  h.chunk.Order,
			Score:       h.score,
			IsMainMatch: true,
			Document:    *h.doc,
		})
		contexts = append(contexts, r.expandContext(ctx, h.chunk, h.doc, h.score, window, seen)...)
	}

	sort.SliceStable(mains, func(i, j int) bool { return mains[i].Score > mains[j].Score })
	sort.SliceStable(contexts, func(i, j int) bool { return contexts[i].Score > contexts[j].Score })
	return append(mains, contexts...), nil
}

// expandContext pulls up to window chunks on each side of a hit, scored at a
// discount so they sort below the matches that justified them.
func (r *Retriever) expandContext(ctx context.Context, hit *types.Chunk, doc *types.Document, score float32, window int, seen map[string]bool) []types.Match {
	var out []types.Match
	for off := 1; off <= window; off++ {
		for _, order := range []int{hit.Order - off, hit.Order + off} {
			if order < 0 {
				continue
			}
			neighbor, err := r.meta.ChunkByOrder(ctx, hit.DocID, order)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				r.log.Warn("context lookup failed",
					zap.String("doc_id", hit.DocID),
					zap.Int("order", order),
					zap.Error(err))
				continue
			}
			if seen[neighbor.ChunkID] {
				continue
			}
			seen[neighbor.ChunkID] = true
			out = append(out, types.Match{
				ChunkID:     neighbor.ChunkID,
				ChunkText:   neighbor.Text,
				ChunkOrder:  neighbor.Order,
				Score:       score * contextScoreDiscount,
				IsMainMatch: false,
				Document:    *doc,
			})
		}
	}
	return out
}

func matchesFilters(doc *types.Document, opts Options) bool {
	if opts.Collection != "" && doc.Collection != opts.Collection {
		return false
	}
	if opts.Category != "" && doc.Category != opts.Category {
		return false
	}
	if opts.Subcategory != "" && doc.Subcategory != opts.Subcategory {
		return false
	}
	return true
}
