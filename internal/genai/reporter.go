package genai

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/zerolabs/zeroweb/internal/crawl"
)

const reporterSystemInstruction = "You are a research assistant. Compile the provided web page excerpts " +
	"into a concise report answering the user's query. Cite source URLs inline. " +
	"Use only the provided excerpts; if they do not answer the query, say so."

// Reporter compiles retrieved page text into a report with a Gemini
// generation model.
type Reporter struct {
	client *genai.Client
	model  string
}

var _ crawl.Reporter = (*Reporter)(nil)

// NewReporter wraps a client with a generation model.
func NewReporter(client *genai.Client, model string) *Reporter {
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &Reporter{client: client, model: model}
}

// Summarize asks the model to answer query from corpus.
func (r *Reporter) Summarize(ctx context.Context, corpus string, query string) (string, error) {
	temp := float32(0.4)
	prompt := fmt.Sprintf("<excerpts>\n%s\n</excerpts>\n\nQuery: %s", corpus, query)

	result, err := r.client.Models.GenerateContent(ctx, r.model,
		[]*genai.Content{{
			Parts: []*genai.Part{{Text: prompt}},
		}},
		&genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{
				Parts: []*genai.Part{{Text: reporterSystemInstruction}},
			},
			Temperature: &temp,
		},
	)
	if err != nil {
		return "", fmt.Errorf("generate report: %w", err)
	}
	if result == nil {
		return "", fmt.Errorf("generate report: nil result")
	}
	text := result.Text()
	if text == "" {
		return "", fmt.Errorf("generate report: empty result")
	}
	return text, nil
}
