// Package markdown converts MarkDown block content to HTML with goldmark.
package markdown

import (
	"bytes"
	"fmt"
	"strings"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"
)

// Converter turns MarkDown text into HTML.
type Converter interface {
	Convert(src string) (string, error)
}

// Options control the goldmark renderer.
type Options struct {
	// Unsafe passes raw HTML in MarkDown through untouched.
	Unsafe    bool
	HardWraps bool
	// HighlightStyle is a chroma style name; empty disables highlighting.
	HighlightStyle string
}

// Goldmark is a Converter backed by a goldmark.Markdown instance. The
// instance is configured once and is safe for concurrent use.
type Goldmark struct {
	md goldmark.Markdown
}

// New creates a goldmark converter with GFM enabled.
func New(opts Options) *Goldmark {
	exts := []goldmark.Extender{extension.GFM}
	if opts.HighlightStyle != "" {
		exts = append(exts, highlighting.NewHighlighting(
			highlighting.WithStyle(opts.HighlightStyle),
			highlighting.WithFormatOptions(chromahtml.TabWidth(2)),
		))
	}

	var rendererOpts []renderer.Option
	if opts.Unsafe {
		rendererOpts = append(rendererOpts, goldmarkhtml.WithUnsafe())
	}
	if opts.HardWraps {
		rendererOpts = append(rendererOpts, goldmarkhtml.WithHardWraps())
	}

	md := goldmark.New(
		goldmark.WithExtensions(exts...),
		goldmark.WithRendererOptions(rendererOpts...),
	)
	return &Goldmark{md: md}
}

// Convert renders src to HTML. The trailing newline goldmark appends after
// the last block is dropped so inline slots stay on one line.
func (g *Goldmark) Convert(src string) (string, error) {
	var buf bytes.Buffer
	if err := g.md.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("markdown: convert: %w", err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}
