package genai

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/zerolabs/zeroweb/internal/crawl"
)

// Embedder turns text into vectors with a Gemini embedding model.
type Embedder struct {
	client *genai.Client
	model  string
	dim    int
}

var _ crawl.Embedder = (*Embedder)(nil)

// NewEmbedder wraps a client with a fixed model and output dimension.
// The dimension is part of the index's identity; changing it requires
// a rebuild.
func NewEmbedder(client *genai.Client, model string, dim int) *Embedder {
	if model == "" {
		model = "text-embedding-004"
	}
	if dim <= 0 {
		dim = 768
	}
	return &Embedder{client: client, model: model, dim: dim}
}

// Embed returns the embedding vector for text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	dim := int32(e.dim)
	resp, err := e.client.Models.EmbedContent(ctx, e.model,
		genai.Text(text),
		&genai.EmbedContentConfig{OutputDimensionality: &dim},
	)
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("embed content: empty response")
	}
	vec := resp.Embeddings[0].Values
	if len(vec) != e.dim {
		return nil, fmt.Errorf("embed content: got dimension %d, want %d", len(vec), e.dim)
	}
	return vec, nil
}

// Dimension returns the configured vector width.
func (e *Embedder) Dimension() int { return e.dim }

// Model returns the embedding model identifier.
func (e *Embedder) Model() string { return e.model }
