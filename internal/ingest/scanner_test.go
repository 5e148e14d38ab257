package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragstore/internal/chunker"
	"ragstore/internal/config"
	"ragstore/internal/embedding"
	"ragstore/internal/engine"
	"ragstore/internal/index"
	"ragstore/internal/storage"
	"ragstore/internal/store"
)

func newTestScanner(t *testing.T) (*Scanner, *store.DocumentStore) {
	t.Helper()
	dir := t.TempDir()

	vecs, err := storage.NewMmapVectorStore(filepath.Join(dir, "vectors.bin"), 64)
	require.NoError(t, err)
	t.Cleanup(func() { _ = vecs.Close() })

	meta, err := storage.NewMetadataStore(filepath.Join(dir, "metadata.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	state, err := storage.NewStateStore(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = state.Close() })

	embedder := embedding.NewStatic(64)
	idx := index.NewFlat(vecs)
	retriever := engine.NewRetriever(embedder, idx, meta, 5, 0, nil)
	classifier := engine.NewKeywordClassifier(config.Default().Categories)
	docs := store.New(chunker.NewHierarchical(500, 2), embedder, vecs, idx, meta, retriever, classifier, nil)

	return NewScanner(docs, state, "notes", nil), docs
}

func docCount(t *testing.T, docs *store.DocumentStore) int {
	t.Helper()
	stats, err := docs.CollectionStats(context.Background(), "notes")
	require.NoError(t, err)
	return stats.DocumentCount
}

func TestScanner_IngestsAndSkipsUnchanged(t *testing.T) {
	scanner, docs := newTestScanner(t)
	ctx := context.Background()
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte("alpha notes about gardening"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("beta notes about sailing"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.pdf"), []byte("ignored binary"), 0o644))

	require.NoError(t, scanner.Scan(ctx, dir))
	assert.Equal(t, 2, docCount(t, docs), "pdf must be skipped")

	// Second scan: nothing changed, nothing re-ingested.
	require.NoError(t, scanner.Scan(ctx, dir))
	assert.Equal(t, 2, docCount(t, docs))
}

func TestScanner_ReingestsChangedFile(t *testing.T) {
	scanner, docs := newTestScanner(t)
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "a.md")

	require.NoError(t, os.WriteFile(path, []byte("original content"), 0o644))
	require.NoError(t, scanner.Scan(ctx, dir))

	require.NoError(t, os.WriteFile(path, []byte("rewritten content about kayaking"), 0o644))
	require.NoError(t, scanner.Scan(ctx, dir))
	assert.Equal(t, 1, docCount(t, docs), "changed file replaces its old document")

	got, err := docs.SearchSimilarChunks(ctx, "notes", "rewritten content about kayaking", 1, store.SearchFilters{})
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "rewritten content about kayaking", got[0].Content)
}

func TestScanner_RemovesVanishedFiles(t *testing.T) {
	scanner, docs := newTestScanner(t)
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "a.md")

	require.NoError(t, os.WriteFile(path, []byte("doomed content"), 0o644))
	require.NoError(t, scanner.Scan(ctx, dir))
	require.Equal(t, 1, docCount(t, docs))

	require.NoError(t, os.Remove(path))
	require.NoError(t, scanner.Scan(ctx, dir))
	assert.Equal(t, 0, docCount(t, docs))
}

func TestScanner_TracksEmptyFiles(t *testing.T) {
	scanner, docs := newTestScanner(t)
	ctx := context.Background()
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.md"), []byte("   \n"), 0o644))
	require.NoError(t, scanner.Scan(ctx, dir))
	assert.Equal(t, 0, docCount(t, docs))

	changed, err := scanner.IndexFile(ctx, filepath.Join(dir, "empty.md"))
	require.NoError(t, err)
	assert.False(t, changed, "unchanged empty file must not be retried")
}

func TestWatcher_HandlesWriteAndRemove(t *testing.T) {
	scanner, docs := newTestScanner(t)
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "a.md")
	require.NoError(t, os.WriteFile(path, []byte("watched content"), 0o644))

	fw, err := fsnotify.NewWatcher()
	require.NoError(t, err)
	defer fw.Close()

	w := NewWatcher(scanner, nil)
	w.handle(ctx, fw, fsnotify.Event{Name: path, Op: fsnotify.Write})
	assert.Equal(t, 1, docCount(t, docs))

	require.NoError(t, os.Remove(path))
	w.handle(ctx, fw, fsnotify.Event{Name: path, Op: fsnotify.Remove})
	assert.Equal(t, 0, docCount(t, docs))
}
