// Package genai provides the Gemini-backed Embedder and Reporter
// capabilities. Both are optional: a missing API key degrades search
// rather than breaking scans.
package genai

import (
	"context"
	"fmt"
	"os"

	"google.golang.org/genai"
)

// NewClient connects to the Gemini API using GEMINI_API_KEY. The key
// comes from the environment only, never from config files.
func NewClient(ctx context.Context) (*genai.Client, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY not set")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to gemini api: %w", err)
	}
	return client, nil
}
