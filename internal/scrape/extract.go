package scrape

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	snippetMaxLen    = 300
	snippetParaMin   = 50
	snippetTailChars = 200
)

// Extraction is the distilled content of a scraped page.
type Extraction struct {
	Title    string
	Snippet  string
	FullText string
}

// Extract pulls the title, a short snippet and the visible full text
// out of an HTML document. Snippet preference order: meta description,
// first substantial paragraph, leading visible text.
func Extract(body []byte) (Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Extraction{}, fmt.Errorf("parse html: %w", err)
	}

	doc.Find("script, style, noscript, iframe").Remove()

	title := collapse(doc.Find("title").First().Text())
	if title == "" {
		title = collapse(doc.Find("h1").First().Text())
	}

	fullText := collapse(doc.Find("body").Text())

	snippet := metaDescription(doc)
	if snippet == "" {
		snippet = firstParagraph(doc)
	}
	if snippet == "" && fullText != "" {
		snippet = truncate(fullText, snippetTailChars)
	}
	snippet = truncate(snippet, snippetMaxLen)

	return Extraction{Title: title, Snippet: snippet, FullText: fullText}, nil
}

func metaDescription(doc *goquery.Document) string {
	var desc string
	doc.Find(`meta[name="description"], meta[property="og:description"]`).
		EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if content, ok := s.Attr("content"); ok {
				desc = collapse(content)
			}
			return desc == ""
		})
	return desc
}

func firstParagraph(doc *goquery.Document) string {
	var para string
	doc.Find("p").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := collapse(s.Text())
		if len(text) >= snippetParaMin {
			para = text
			return false
		}
		return true
	})
	return para
}

// collapse trims and squeezes all whitespace runs to single spaces.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate cuts at a rune boundary and appends an ellipsis.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return strings.TrimSpace(string(runes[:max])) + "…"
}
