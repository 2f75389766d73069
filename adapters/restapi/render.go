package restapi

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Renderer derives the rendered half of a raw/rendered pair.
type Renderer interface {
	Render(raw string) (string, error)
}

// Markdown renders raw values as Markdown to HTML. The goldmark instance is
// safe to share; every conversion creates its own parser state.
type Markdown struct {
	md goldmark.Markdown
}

// NewMarkdown creates a Markdown renderer with GitHub flavored extensions.
func NewMarkdown() *Markdown {
	return &Markdown{
		md: goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

// Render converts raw to HTML.
func (m *Markdown) Render(raw string) (string, error) {
	var buf bytes.Buffer
	if err := m.md.Convert([]byte(raw), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return buf.String(), nil
}
