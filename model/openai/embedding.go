package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
)

// EmbedderOptions configures the embedding client.
type EmbedderOptions struct {
	Model   openai.EmbeddingModel
	APIKey  string
	BaseURL string
}

// Embedder turns text into vectors with the OpenAI Embeddings API. It
// satisfies similarity.Embedder and backs embedding based consensus checks.
type Embedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

// NewEmbedder creates an Embedder using the official client.
func NewEmbedder(optFns ...func(o *EmbedderOptions)) *Embedder {
	opts := EmbedderOptions{Model: openai.EmbeddingModelTextEmbedding3Small}
	for _, fn := range optFns {
		fn(&opts)
	}

	client := openai.NewClient(clientOptions(opts.APIKey, opts.BaseURL)...)

	return &Embedder{client: &client, model: opts.Model}
}

// NewEmbedderFromClient creates an Embedder from an existing client.
func NewEmbedderFromClient(client *openai.Client, embeddingModel openai.EmbeddingModel) *Embedder {
	if embeddingModel == "" {
		embeddingModel = openai.EmbeddingModelTextEmbedding3Small
	}
	return &Embedder{client: client, model: embeddingModel}
}

// Embed returns the embedding vector of text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float64, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: e.model,
	})
	if err != nil {
		return nil, wrapError(err)
	}

	if len(resp.Data) == 0 {
		return nil, errors.New("openai api error: no embedding returned")
	}

	vec := resp.Data[0].Embedding
	if len(vec) == 0 {
		return nil, fmt.Errorf("openai api error: empty embedding for model %s", e.model)
	}

	return vec, nil
}
