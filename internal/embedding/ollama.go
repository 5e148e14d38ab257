package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"ragstore/internal/types"
)

// Ollama embeds text through a local Ollama server's embeddings API.
type Ollama struct {
	client  *http.Client
	baseURL string
	model   string
	dim     int
}

// NewOllama builds an Ollama-backed embedder.
func NewOllama(baseURL, model string, dim int) *Ollama {
	return &Ollama{
		client:  &http.Client{Timeout: 60 * time.Second},
		baseURL: baseURL,
		model:   model,
		dim:     dim,
	}
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (o *Ollama) Embed(ctx context.Context, texts []string) ([]types.Vector, error) {
	out := make([]types.Vector, 0, len(texts))
	for i, text := range texts {
		vec, err := o.embedOne(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("ollama embed item %d: %w", i, err)
		}
		out = append(out, vec)
	}
	return out, nil
}

func (o *Ollama) embedOne(ctx context.Context, text string) (types.Vector, error) {
	reqBody, err := json.Marshal(ollamaEmbedRequest{Model: o.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.baseURL+"/api/embeddings", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call embeddings api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embeddings api status %d: %s", resp.StatusCode, string(body))
	}

	var ollamaResp ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(ollamaResp.Embedding) != o.dim {
		return nil, fmt.Errorf("unexpected embedding dimension: got %d, want %d",
			len(ollamaResp.Embedding), o.dim)
	}

	vec := types.Vector(ollamaResp.Embedding)
	L2Normalize(vec)
	return vec, nil
}

func (o *Ollama) Dimension() int { return o.dim }

func (o *Ollama) Model() string { return "ollama-" + o.model }
