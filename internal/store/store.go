package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ragstore/internal/chunker"
	"ragstore/internal/embedding"
	"ragstore/internal/engine"
	"ragstore/internal/index"
	"ragstore/internal/storage"
	"ragstore/internal/types"
)

// ErrEmptyDocument is returned when a document yields no chunks.
var ErrEmptyDocument = errors.New("document produced no chunks")

// AddDocumentParams describes one document to ingest.
type AddDocumentParams struct {
	Collection string
	FilePath   string
	Text       string
	Summary    string
	// Categories are optional labels; the first becomes the document's
	// category, the second its subcategory. When empty, the classifier
	// assigns a category from the text.
	Categories []string
	Metadata   types.Metadata
}

// IngestResult reports what AddDocument stored.
type IngestResult struct {
	DocID      string
	ChunkCount int
	TokenCount int
}

// SearchFilters narrows SearchSimilarChunks. A non-empty FileType bypasses
// vector search and lists chunks of that file type instead.
type SearchFilters struct {
	Category    string
	Subcategory string
	FileType    string
}

// SearchResult is one chunk returned to a caller, with distance = 1 - score
// so that 0 means an exact match.
type SearchResult struct {
	Content  string         `json:"content"`
	Metadata types.Metadata `json:"metadata"`
	Distance float32        `json:"distance"`
	ChunkID  string         `json:"chunk_id"`
}

// DocumentStore is the public ingestion and search surface. It owns the
// write path end to end: chunk, embed, append vectors, insert metadata.
// Ingestion is serialized by a mutex so vector_ids and metadata rows land
// in matching order; reads run concurrently.
type DocumentStore struct {
	mu         sync.Mutex
	chunker    *chunker.Hierarchical
	embedder   embedding.Embedder
	vecs       storage.VectorStore
	idx        index.VectorIndex
	meta       *storage.MetadataStore
	retriever  *engine.Retriever
	classifier engine.Classifier
	log        *zap.Logger
}

func New(ch *chunker.Hierarchical, embedder embedding.Embedder, vecs storage.VectorStore, idx index.VectorIndex, meta *storage.MetadataStore, retriever *engine.Retriever, classifier engine.Classifier, log *zap.Logger) *DocumentStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &DocumentStore{
		chunker:    ch,
		embedder:   embedder,
		vecs:       vecs,
		idx:        idx,
		meta:       meta,
		retriever:  retriever,
		classifier: classifier,
		log:        log,
	}
}

// AddDocument chunks, embeds, and stores one document.
func (s *DocumentStore) AddDocument(ctx context.Context, p AddDocumentParams) (*IngestResult, error) {
	chunks := s.chunker.Chunk(p.Text)
	if len(chunks) == 0 {
		return nil, ErrEmptyDocument
	}
	return s.ingest(ctx, p, chunks)
}

// AddDocumentChunks stores pre-chunked text, skipping the chunking pass.
func (s *DocumentStore) AddDocumentChunks(ctx context.Context, p AddDocumentParams, chunks []string) (*IngestResult, error) {
	kept := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if strings.TrimSpace(c) != "" {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		return nil, ErrEmptyDocument
	}
	return s.ingest(ctx, p, kept)
}

func (s *DocumentStore) ingest(ctx context.Context, p AddDocumentParams, chunks []string) (*IngestResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	vectors, err := s.embedder.Embed(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("embed document: %w", err)
	}

	ids, err := s.vecs.AppendBatch(vectors)
	if err != nil {
		return nil, fmt.Errorf("append vectors: %w", err)
	}
	for i, id := range ids {
		if err := s.idx.Add(id, vectors[i]); err != nil {
			return nil, fmt.Errorf("index vector %d: %w", id, err)
		}
	}

	docID := uuid.NewString()
	totalTokens := 0
	records := make([]types.Chunk, len(chunks))
	for i, text := range chunks {
		tokens := chunker.EstimateTokens(text)
		totalTokens += tokens
		records[i] = types.Chunk{
			ChunkID:        uuid.NewString(),
			DocID:          docID,
			Order:          i,
			Text:           text,
			TokenCount:     tokens,
			VectorID:       ids[i],
			EmbeddingModel: s.embedder.Model(),
		}
	}

	category, subcategory := s.categorize(p)
	collection := p.Collection
	if collection == "" {
		collection = "default"
	}
	doc := types.Document{
		DocID:          docID,
		Collection:     collection,
		FilePath:       p.FilePath,
		FileType:       fileType(p.FilePath),
		Summary:        p.Summary,
		Category:       category,
		Subcategory:    subcategory,
		EmbeddingModel: s.embedder.Model(),
		Metadata:       p.Metadata,
	}
	if err := s.meta.InsertDocument(ctx, doc, records); err != nil {
		// The appended vectors stay behind as unreferenced rows; retrieval
		// skips vectors with no metadata, so this only wastes space.
		return nil, fmt.Errorf("insert document metadata: %w", err)
	}

	s.log.Info("document ingested",
		zap.String("doc_id", docID),
		zap.String("collection", collection),
		zap.Int("chunks", len(chunks)),
		zap.Int("tokens", totalTokens),
		zap.Duration("took", time.Since(start)))

	return &IngestResult{DocID: docID, ChunkCount: len(chunks), TokenCount: totalTokens}, nil
}

func (s *DocumentStore) categorize(p AddDocumentParams) (string, string) {
	var category, subcategory string
	if len(p.Categories) > 0 {
		category = p.Categories[0]
	}
	if len(p.Categories) > 1 {
		subcategory = p.Categories[1]
	}
	if category == "" && s.classifier != nil {
		category = s.classifier.Classify(p.Text)
	}
	return category, subcategory
}

// SearchSimilarChunks runs a semantic query against one collection. A
// file_type filter skips vector search and lists stored chunks of that type.
// An empty query or unknown collection yields an empty result, not an error.
func (s *DocumentStore) SearchSimilarChunks(ctx context.Context, collection, query string, n int, filters SearchFilters) ([]SearchResult, error) {
	if n <= 0 {
		n = 5
	}

	if filters.FileType != "" {
		rows, err := s.meta.ChunksByFileType(ctx, collection, filters.FileType, n)
		if err != nil {
			return nil, fmt.Errorf("list chunks by file type: %w", err)
		}
		out := make([]SearchResult, 0, len(rows))
		for _, row := range rows {
			out = append(out, toResult(row.Chunk.Text, row.Chunk.Order, row.Chunk.ChunkID, 0, row.Document))
		}
		return out, nil
	}

	category := filters.Category
	if category == "" && s.classifier != nil {
		category = s.classifier.Classify(query)
	}

	matches, err := s.retriever.Retrieve(ctx, query, engine.Options{
		TopK:        n,
		Collection:  collection,
		Category:    category,
		Subcategory: filters.Subcategory,
	})
	if err != nil {
		return nil, err
	}

	out := make([]SearchResult, 0, len(matches))
	for _, m := range matches {
		out = append(out, toResult(m.ChunkText, m.ChunkOrder, m.ChunkID, 1-m.Score, m.Document))
	}
	return out, nil
}

// DeleteCollection removes a collection's metadata. Its vectors stay in the
// store and index; retrieval skips them once their metadata is gone.
func (s *DocumentStore) DeleteCollection(ctx context.Context, collection string) (int64, error) {
	n, err := s.meta.DeleteCollection(ctx, collection)
	if err != nil {
		return 0, fmt.Errorf("delete collection %q: %w", collection, err)
	}
	return n, nil
}

// DeleteByFilePath removes one file's document from a collection.
func (s *DocumentStore) DeleteByFilePath(ctx context.Context, collection, path string) (int64, error) {
	return s.meta.DeleteByFilePath(ctx, collection, path)
}

// CollectionStats reports document/chunk counts and histograms.
func (s *DocumentStore) CollectionStats(ctx context.Context, collection string) (*types.CollectionStats, error) {
	return s.meta.CollectionStats(ctx, collection)
}

func toResult(text string, order int, chunkID string, distance float32, doc types.Document) SearchResult {
	return SearchResult{
		Content: text,
		Metadata: types.Metadata{
			"file_path":   doc.FilePath,
			"category":    doc.Category,
			"subcategory": doc.Subcategory,
			"chunk_order": order,
		},
		Distance: distance,
		ChunkID:  chunkID,
	}
}

func fileType(path string) string {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return "txt"
	}
	return strings.ToLower(ext)
}
