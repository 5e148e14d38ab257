package app

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"ragstore/internal/chunker"
	"ragstore/internal/config"
	"ragstore/internal/embedding"
	"ragstore/internal/engine"
	"ragstore/internal/index"
	"ragstore/internal/ingest"
	"ragstore/internal/storage"
	"ragstore/internal/store"
)

// App wires the full stack from a config. Both the server and the CLI
// build one of these; they only differ in what they do with it.
type App struct {
	Config   *config.AppConfig
	Log      *zap.Logger
	Embedder embedding.Embedder
	Vectors  storage.VectorStore
	Meta     *storage.MetadataStore
	State    *storage.StateStore
	Index    index.VectorIndex
	Docs     *store.DocumentStore
	Scanner  *ingest.Scanner
	Watcher  *ingest.Watcher
}

func New(cfg *config.AppConfig, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	embedder, err := buildEmbedder(cfg, log)
	if err != nil {
		return nil, err
	}

	vecs, err := storage.NewMmapVectorStore(filepath.Join(cfg.DataDir, "vectors.bin"), embedder.Dimension())
	if err != nil {
		return nil, fmt.Errorf("open vector store: %w", err)
	}
	meta, err := storage.NewMetadataStore(filepath.Join(cfg.DataDir, "metadata.db"), log)
	if err != nil {
		_ = vecs.Close()
		return nil, fmt.Errorf("open metadata store: %w", err)
	}
	state, err := storage.NewStateStore(filepath.Join(cfg.DataDir, "state.db"))
	if err != nil {
		_ = meta.Close()
		_ = vecs.Close()
		return nil, fmt.Errorf("open state store: %w", err)
	}
	idx, err := index.Open(cfg.Index.Backend, cfg.DataDir, vecs, log)
	if err != nil {
		_ = state.Close()
		_ = meta.Close()
		_ = vecs.Close()
		return nil, err
	}

	retriever := engine.NewRetriever(embedder, idx, meta,
		cfg.Retrieval.TopK, cfg.Retrieval.ContextWindow, log)
	classifier := engine.NewKeywordClassifier(cfg.Categories)
	ch := chunker.NewHierarchical(cfg.Chunker.ChunkTokens, cfg.Chunker.OverlapSentences)
	docs := store.New(ch, embedder, vecs, idx, meta, retriever, classifier, log)
	scanner := ingest.NewScanner(docs, state, cfg.Ingest.Collection, log)

	return &App{
		Config:   cfg,
		Log:      log,
		Embedder: embedder,
		Vectors:  vecs,
		Meta:     meta,
		State:    state,
		Index:    idx,
		Docs:     docs,
		Scanner:  scanner,
		Watcher:  ingest.NewWatcher(scanner, log),
	}, nil
}

// Close releases everything in reverse dependency order; the first error
// wins but everything still gets closed.
func (a *App) Close() error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	keep(a.Index.Close())
	if c, ok := a.Embedder.(interface{ Close() error }); ok {
		keep(c.Close())
	}
	keep(a.State.Close())
	keep(a.Meta.Close())
	keep(a.Vectors.Close())
	return first
}

func buildEmbedder(cfg *config.AppConfig, log *zap.Logger) (embedding.Embedder, error) {
	ec := cfg.Embedder
	switch ec.Type {
	case "static", "":
		return embedding.NewStatic(ec.Dimension), nil
	case "onnx":
		if ec.ONNX == nil {
			return nil, fmt.Errorf("embedder type onnx requires an onnx config block")
		}
		return embedding.NewONNXEngine(embedding.ONNXOptions{
			ModelPath:     ec.ONNX.ModelPath,
			TokenizerPath: ec.ONNX.TokenizerPath,
			LibraryPath:   ec.ONNX.LibraryPath,
			Device:        ec.ONNX.Device,
			Dimension:     ec.ONNX.Dimension,
			MaxSeqLen:     ec.ONNX.MaxSeqLen,
		}, log)
	case "ollama":
		oc := ec.Ollama
		if oc == nil {
			oc = &config.OllamaConfig{BaseURL: "http://localhost:11434", Model: "nomic-embed-text:v1.5", Dimension: 768}
		}
		return embedding.NewOllama(oc.BaseURL, oc.Model, oc.Dimension), nil
	case "openai":
		oc := ec.OpenAI
		if oc == nil {
			oc = &config.OpenAIConfig{Model: "text-embedding-3-small", APIKeyEnv: "OPENAI_API_KEY"}
		}
		return embedding.NewOpenAI(oc.Model, oc.APIKeyEnv)
	default:
		return nil, fmt.Errorf("unknown embedder type %q", ec.Type)
	}
}
