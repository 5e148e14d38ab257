package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 500, cfg.Chunker.ChunkTokens)
	assert.Equal(t, 2, cfg.Chunker.OverlapSentences)
	assert.Equal(t, "static", cfg.Embedder.Type)
	assert.Equal(t, 384, cfg.Embedder.Dimension)
	assert.Equal(t, "hnsw", cfg.Index.Backend)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.NotEmpty(t, cfg.Categories)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_dir: /tmp/rag\nchunker:\n  chunk_tokens: 200\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/rag", cfg.DataDir)
	assert.Equal(t, 200, cfg.Chunker.ChunkTokens)
	assert.Equal(t, 2, cfg.Chunker.OverlapSentences, "unset fields still get defaults")
	assert.Equal(t, "hnsw", cfg.Index.Backend)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := Default()
	cfg.Ingest.Dir = "/notes"
	cfg.Ingest.Watch = true
	require.NoError(t, Save(path, cfg))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/notes", got.Ingest.Dir)
	assert.True(t, got.Ingest.Watch)
	assert.Equal(t, cfg.Categories, got.Categories)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(":\t: not yaml ["), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
