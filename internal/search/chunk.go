// Package search answers queries against the vector index, optionally
// compiling retrieved page text into an LLM-written report.
package search

import (
	"strings"

	"github.com/zerolabs/zeroweb/internal/crawl"
)

// SourceText is one retrieved page ready for chunking.
type SourceText struct {
	URL  string
	Text string
}

// estimateTokens approximates token count as length/4, which is close
// enough for budget math on English prose.
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// BuildChunks packs page texts into chunks of at most maxTokens each,
// preserving page order. A single page longer than the budget is
// truncated rather than split, keeping one URL list per chunk honest.
func BuildChunks(pages []SourceText, maxTokens int) []crawl.Chunk {
	if maxTokens <= 0 {
		maxTokens = 4000
	}
	var chunks []crawl.Chunk
	var current crawl.Chunk
	var parts []string

	flush := func() {
		if len(parts) == 0 {
			return
		}
		current.CombinedText = strings.Join(parts, "\n\n---\n\n")
		current.TokenEstimate = estimateTokens(current.CombinedText)
		chunks = append(chunks, current)
		current = crawl.Chunk{}
		parts = nil
	}

	for _, page := range pages {
		text := strings.TrimSpace(page.Text)
		if text == "" {
			continue
		}
		if estimateTokens(text) > maxTokens {
			runes := []rune(text)
			cut := maxTokens * 4
			if cut < len(runes) {
				text = string(runes[:cut])
			}
		}
		if current.TokenEstimate+estimateTokens(text) > maxTokens {
			flush()
		}
		current.URLs = append(current.URLs, page.URL)
		current.TokenEstimate += estimateTokens(text)
		parts = append(parts, "Source: "+page.URL+"\n"+text)
	}
	flush()
	return chunks
}
