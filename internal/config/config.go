package config

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// ChunkerConfig configures hierarchical chunking.
type ChunkerConfig struct {
	ChunkTokens      int `yaml:"chunk_tokens"`
	OverlapSentences int `yaml:"overlap_sentences"`
}

// ONNXConfig configures the local ONNX embedding engine.
type ONNXConfig struct {
	ModelPath     string `yaml:"model_path"`
	TokenizerPath string `yaml:"tokenizer_path"`
	LibraryPath   string `yaml:"library_path"`
	Device        string `yaml:"device"` // cuda | coreml | cpu
	Dimension     int    `yaml:"dimension"`
	MaxSeqLen     int    `yaml:"max_seq_len"`
}

// OllamaConfig configures the Ollama HTTP embedder.
type OllamaConfig struct {
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
}

// OpenAIConfig configures the OpenAI embedder.
type OpenAIConfig struct {
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
}

// EmbedderConfig selects and configures the embedder implementation.
type EmbedderConfig struct {
	Type      string        `yaml:"type"` // onnx | ollama | openai | static
	Dimension int           `yaml:"dimension"`
	ONNX      *ONNXConfig   `yaml:"onnx,omitempty"`
	Ollama    *OllamaConfig `yaml:"ollama,omitempty"`
	OpenAI    *OpenAIConfig `yaml:"openai,omitempty"`
}

// IndexConfig selects the vector index backend.
type IndexConfig struct {
	Backend string `yaml:"backend"` // hnsw | flat
}

// RetrievalConfig holds default search parameters.
type RetrievalConfig struct {
	TopK          int `yaml:"top_k"`
	ContextWindow int `yaml:"context_window"`
}

// IngestConfig configures directory scanning and watching.
type IngestConfig struct {
	Dir        string `yaml:"dir"`
	Collection string `yaml:"collection"`
	Watch      bool   `yaml:"watch"`
}

// CategoryRule maps a category name to the keywords that imply it.
// Rules are evaluated in order; the first match wins.
type CategoryRule struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// AppConfig is the root configuration structure.
type AppConfig struct {
	DataDir    string          `yaml:"data_dir"`
	Server     ServerConfig    `yaml:"server"`
	Chunker    ChunkerConfig   `yaml:"chunker"`
	Embedder   EmbedderConfig  `yaml:"embedder"`
	Index      IndexConfig     `yaml:"index"`
	Retrieval  RetrievalConfig `yaml:"retrieval"`
	Ingest     IngestConfig    `yaml:"ingest"`
	Categories []CategoryRule  `yaml:"categories"`
}

// Load reads a config from path. A missing file yields defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// Save writes the config to path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Default returns the built-in configuration.
func Default() *AppConfig {
	cfg := &AppConfig{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *AppConfig) {
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Chunker.ChunkTokens == 0 {
		cfg.Chunker.ChunkTokens = 500
	}
	if cfg.Chunker.OverlapSentences == 0 {
		cfg.Chunker.OverlapSentences = 2
	}
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "static"
	}
	if cfg.Embedder.Dimension == 0 {
		cfg.Embedder.Dimension = 384
	}
	if cfg.Embedder.Type == "onnx" && cfg.Embedder.ONNX != nil {
		if cfg.Embedder.ONNX.Device == "" {
			cfg.Embedder.ONNX.Device = "cpu"
		}
		if cfg.Embedder.ONNX.Dimension == 0 {
			cfg.Embedder.ONNX.Dimension = cfg.Embedder.Dimension
		}
		if cfg.Embedder.ONNX.MaxSeqLen == 0 {
			cfg.Embedder.ONNX.MaxSeqLen = 512
		}
	}
	if cfg.Embedder.Type == "ollama" && cfg.Embedder.Ollama != nil {
		if cfg.Embedder.Ollama.BaseURL == "" {
			cfg.Embedder.Ollama.BaseURL = "http://localhost:11434"
		}
		if cfg.Embedder.Ollama.Model == "" {
			cfg.Embedder.Ollama.Model = "nomic-embed-text:v1.5"
		}
		if cfg.Embedder.Ollama.Dimension == 0 {
			cfg.Embedder.Ollama.Dimension = 768
		}
	}
	if cfg.Embedder.Type == "openai" && cfg.Embedder.OpenAI != nil {
		if cfg.Embedder.OpenAI.Model == "" {
			cfg.Embedder.OpenAI.Model = "text-embedding-3-small"
		}
		if cfg.Embedder.OpenAI.APIKeyEnv == "" {
			cfg.Embedder.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
	}
	if cfg.Index.Backend == "" {
		cfg.Index.Backend = "hnsw"
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Ingest.Collection == "" {
		cfg.Ingest.Collection = "default"
	}
	if len(cfg.Categories) == 0 {
		cfg.Categories = defaultCategories()
	}
}

func defaultCategories() []CategoryRule {
	return []CategoryRule{
		{Name: "work", Keywords: []string{"meeting", "project", "deadline", "client", "report", "presentation", "office", "colleague"}},
		{Name: "finance", Keywords: []string{"invoice", "payment", "budget", "tax", "salary", "bank", "expense", "receipt"}},
		{Name: "health", Keywords: []string{"doctor", "medical", "prescription", "appointment", "insurance", "symptom", "treatment"}},
		{Name: "travel", Keywords: []string{"flight", "hotel", "booking", "itinerary", "passport", "visa", "trip"}},
		{Name: "personal", Keywords: []string{"family", "birthday", "hobby", "friend", "diary", "journal"}},
	}
}
