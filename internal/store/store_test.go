package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragstore/internal/chunker"
	"ragstore/internal/config"
	"ragstore/internal/embedding"
	"ragstore/internal/engine"
	"ragstore/internal/index"
	"ragstore/internal/storage"
)

const testDim = 64

func newTestStore(t *testing.T) *DocumentStore {
	t.Helper()
	dir := t.TempDir()

	vecs, err := storage.NewMmapVectorStore(filepath.Join(dir, "vectors.bin"), testDim)
	require.NoError(t, err)
	t.Cleanup(func() { _ = vecs.Close() })

	meta, err := storage.NewMetadataStore(filepath.Join(dir, "metadata.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	embedder := embedding.NewStatic(testDim)
	idx := index.NewFlat(vecs)
	retriever := engine.NewRetriever(embedder, idx, meta, 5, 1, nil)
	classifier := engine.NewKeywordClassifier(config.Default().Categories)

	return New(chunker.NewHierarchical(500, 2), embedder, vecs, idx, meta, retriever, classifier, nil)
}

func TestDocumentStore_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.AddDocument(ctx, AddDocumentParams{
		Collection: "docs",
		FilePath:   "/notes/compilers.md",
		Text:       "A short note about optimizing register allocation in compilers.",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.DocID)
	assert.Equal(t, 1, res.ChunkCount)
	assert.Greater(t, res.TokenCount, 0)

	got, err := s.SearchSimilarChunks(ctx, "docs",
		"A short note about optimizing register allocation in compilers.", 1, SearchFilters{})
	require.NoError(t, err)
	require.NotEmpty(t, got)

	assert.Equal(t, "A short note about optimizing register allocation in compilers.", got[0].Content)
	assert.InDelta(t, 0.0, got[0].Distance, 1e-5, "identical text should be distance zero")
	assert.Equal(t, "/notes/compilers.md", got[0].Metadata["file_path"])
	assert.Equal(t, 0, got[0].Metadata["chunk_order"])
}

func TestDocumentStore_EmptyDocument(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AddDocument(context.Background(), AddDocumentParams{
		Collection: "docs",
		Text:       "   \n\n  ",
	})
	assert.ErrorIs(t, err, ErrEmptyDocument)
}

func TestDocumentStore_EmptyQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddDocument(ctx, AddDocumentParams{Collection: "docs", Text: "some stored text"})
	require.NoError(t, err)

	got, err := s.SearchSimilarChunks(ctx, "docs", "   ", 5, SearchFilters{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDocumentStore_AddDocumentChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.AddDocumentChunks(ctx, AddDocumentParams{
		Collection: "docs",
		FilePath:   "/notes/pre.txt",
	}, []string{"first pre-chunked part", "", "second pre-chunked part"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.ChunkCount, "blank chunks are dropped")

	got, err := s.SearchSimilarChunks(ctx, "docs", "second pre-chunked part", 1, SearchFilters{})
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "second pre-chunked part", got[0].Content)
	assert.Equal(t, 1, got[0].Metadata["chunk_order"])
}

func TestDocumentStore_AutoCategory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.AddDocument(ctx, AddDocumentParams{
		Collection: "docs",
		FilePath:   "/notes/standup.md",
		Text:       "Notes from the weekly project meeting with the client.",
	})
	require.NoError(t, err)

	stats, err := s.CollectionStats(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"work": 1}, stats.Categories)
	assert.NotEmpty(t, res.DocID)
}

func TestDocumentStore_ExplicitCategoriesWin(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddDocument(ctx, AddDocumentParams{
		Collection: "docs",
		Text:       "Notes from the weekly project meeting.",
		Categories: []string{"archive", "2026"},
	})
	require.NoError(t, err)

	stats, err := s.CollectionStats(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"archive": 1}, stats.Categories)
}

func TestDocumentStore_CategoryFilterExcludes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddDocument(ctx, AddDocumentParams{
		Collection: "docs",
		Text:       "identical text in both documents",
		Categories: []string{"alpha"},
	})
	require.NoError(t, err)
	_, err = s.AddDocument(ctx, AddDocumentParams{
		Collection: "docs",
		Text:       "identical text in both documents",
		Categories: []string{"beta"},
	})
	require.NoError(t, err)

	got, err := s.SearchSimilarChunks(ctx, "docs", "identical text in both documents", 5,
		SearchFilters{Category: "beta"})
	require.NoError(t, err)
	require.NotEmpty(t, got)
	for _, r := range got {
		assert.Equal(t, "beta", r.Metadata["category"])
	}
}

func TestDocumentStore_FileTypeFilterBypassesVectorSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddDocument(ctx, AddDocumentParams{
		Collection: "docs",
		FilePath:   "/notes/a.md",
		Text:       "markdown content",
	})
	require.NoError(t, err)
	_, err = s.AddDocument(ctx, AddDocumentParams{
		Collection: "docs",
		FilePath:   "/notes/b.txt",
		Text:       "plain text content",
	})
	require.NoError(t, err)

	// Query text is irrelevant when a file_type filter is set.
	got, err := s.SearchSimilarChunks(ctx, "docs", "anything at all", 10,
		SearchFilters{FileType: "txt"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "plain text content", got[0].Content)
	assert.Equal(t, "/notes/b.txt", got[0].Metadata["file_path"])
	assert.Zero(t, got[0].Distance)
}

func TestDocumentStore_DeleteCollectionEmptiesSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddDocument(ctx, AddDocumentParams{
		Collection: "docs",
		Text:       "content that will be deleted",
	})
	require.NoError(t, err)

	n, err := s.DeleteCollection(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.SearchSimilarChunks(ctx, "docs", "content that will be deleted", 5, SearchFilters{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDocumentStore_UnknownCollection(t *testing.T) {
	s := newTestStore(t)
	got, err := s.SearchSimilarChunks(context.Background(), "nope", "any query", 5, SearchFilters{})
	require.NoError(t, err)
	assert.Empty(t, got)
}
