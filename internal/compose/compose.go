// Package compose resolves a page against its base template and substitutes
// block content to produce the final HTML.
package compose

import (
	"errors"
	"fmt"
	"strings"

	"github.com/starford/kiln/internal/markdown"
	"github.com/starford/kiln/internal/template"
)

// Composition failures. They are returned as the Kind of a *template.Error
// naming the page and the parent or block.
var (
	ErrUnresolvedParent = errors.New("unknown parent template")
	ErrUnknownBlock     = errors.New("block not defined in parent template")
)

// Compositor substitutes page blocks into base templates. It holds no
// per-page state and may be used from several goroutines at once.
type Compositor struct {
	conv markdown.Converter
}

// New creates a Compositor that renders MarkDown with conv.
func New(conv markdown.Converter) *Compositor {
	return &Compositor{conv: conv}
}

// Compose returns the HTML for page, built on top of its base in parents.
//
// Page blocks replace the base block of the same name. A page block without
// filters uses the filters the base declares for that slot. Base blocks the
// page leaves out are filled with their own default content.
func (c *Compositor) Compose(parents template.Set, page *template.Template) (string, error) {
	parent, ok := parents[page.Extends]
	if !ok {
		return "", &template.Error{Kind: ErrUnresolvedParent, Path: page.Path, Name: page.Extends}
	}

	html := parent.Content

	for _, name := range page.BlockNames() {
		block := page.Blocks[name]
		slot, ok := parent.Blocks[name]
		if !ok {
			return "", &template.Error{Kind: ErrUnknownBlock, Path: page.Path, Name: name,
				Detail: "parent " + parent.Path}
		}
		filters := block.Filters
		if len(filters) == 0 {
			filters = slot.Filters
		}
		out, err := Apply(c.conv, filters, block.Inner)
		if err != nil {
			return "", fmt.Errorf("%s: block %q: %w", page.Path, name, err)
		}
		html = strings.ReplaceAll(html, slot.Outer, out)
	}

	for _, name := range parent.BlockNames() {
		slot := parent.Blocks[name]
		if _, overridden := page.Blocks[name]; overridden {
			continue
		}
		if !strings.Contains(html, slot.Outer) {
			continue
		}
		out, err := Apply(c.conv, slot.Filters, slot.Inner)
		if err != nil {
			return "", fmt.Errorf("%s: default block %q: %w", parent.Path, name, err)
		}
		html = strings.ReplaceAll(html, slot.Outer, out)
	}

	return html, nil
}

// Apply runs filters over text in order. An empty filter list converts the
// text from MarkDown to HTML.
func Apply(conv markdown.Converter, filters []template.Filter, text string) (string, error) {
	if len(filters) == 0 {
		return conv.Convert(text)
	}
	out := text
	for _, f := range filters {
		switch f {
		case template.FilterText:
		case template.FilterTrim:
			out = strings.TrimSpace(out)
		case template.FilterHTML:
			converted, err := conv.Convert(out)
			if err != nil {
				return "", err
			}
			out = converted
		default:
			return "", fmt.Errorf("filter %v: %w", f, template.ErrUnknownFilter)
		}
	}
	return out, nil
}
