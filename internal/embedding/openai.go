package embedding

import (
	"context"
	"errors"
	"fmt"
	"os"

	openai "github.com/sashabaranov/go-openai"

	"ragstore/internal/types"
)

// OpenAI embeds text through the OpenAI embeddings API. Batches go out as a
// single request; the API preserves input order.
type OpenAI struct {
	client *openai.Client
	model  string
	dim    int
}

// NewOpenAI builds an OpenAI-backed embedder. The API key is read from
// apiKeyEnv (OPENAI_API_KEY by default).
func NewOpenAI(model, apiKeyEnv string) (*OpenAI, error) {
	if apiKeyEnv == "" {
		apiKeyEnv = "OPENAI_API_KEY"
	}
	key := os.Getenv(apiKeyEnv)
	if key == "" {
		return nil, errors.New(apiKeyEnv + " environment variable not set")
	}

	dim := 1536 // text-embedding-3-small
	if model == "text-embedding-3-large" {
		dim = 3072
	}

	return &OpenAI{
		client: openai.NewClient(key),
		model:  model,
		dim:    dim,
	}, nil
}

func (e *OpenAI) Embed(ctx context.Context, texts []string) ([]types.Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: got %d results for %d inputs",
			len(resp.Data), len(texts))
	}

	out := make([]types.Vector, len(texts))
	for _, d := range resp.Data {
		raw := d.Embedding
		vec := make(types.Vector, len(raw))
		for i := range raw {
			vec[i] = float32(raw[i])
		}
		L2Normalize(vec)
		out[d.Index] = vec
	}
	return out, nil
}

func (e *OpenAI) Dimension() int { return e.dim }

func (e *OpenAI) Model() string { return "openai-" + e.model }
