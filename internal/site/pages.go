package site

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/starford/kiln/internal/apperr"
	"github.com/starford/kiln/internal/template"
)

// ErrNoManifest is returned by Audit when the builder has no manifest.
var ErrNoManifest = errors.New("site: manifest is not configured")

// Report lists how the sources differ from the last build.
type Report struct {
	Changed []string `json:"changed"`
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

// UpToDate reports whether the last build matches the sources.
func (r *Report) UpToDate() bool {
	return len(r.Changed) == 0 && len(r.Added) == 0 && len(r.Removed) == 0
}

// ListPages parses the site and describes every page without composing.
func (b *Builder) ListPages(_ context.Context) ([]Page, error) {
	site, err := b.load()
	if err != nil {
		return nil, err
	}
	pages := make([]Page, 0, len(site.pages))
	for _, p := range site.pages {
		pages = append(pages, b.describe(p))
	}
	return pages, nil
}

// RenderPage composes one page in memory. name is the page's source name
// (e.g. "blog/post.md") or its output path (e.g. "blog/post.html").
func (b *Builder) RenderPage(_ context.Context, name string) (string, error) {
	site, err := b.load()
	if err != nil {
		return "", err
	}
	page := b.find(site, name)
	if page == nil {
		return "", fmt.Errorf("page %q: %w", name, apperr.ErrNotFound)
	}
	r, err := b.render(site, page)
	if err != nil {
		return "", err
	}
	return r.html, nil
}

// Audit compares the sources with the manifest of the last build.
func (b *Builder) Audit(_ context.Context) (*Report, error) {
	if b.manifest == nil {
		return nil, ErrNoManifest
	}
	site, err := b.load()
	if err != nil {
		return nil, err
	}
	outputs, err := b.manifest.Outputs()
	if err != nil {
		return nil, err
	}

	recorded := make(map[string]string, len(outputs))
	for _, row := range outputs {
		recorded[row.Source] = row.SourceChecksum
	}

	rep := &Report{}
	seen := make(map[string]struct{}, len(site.pages))
	for _, p := range site.pages {
		seen[p.Name] = struct{}{}
		sum, ok := recorded[p.Name]
		switch {
		case !ok:
			rep.Added = append(rep.Added, p.Name)
		case sum != sourceChecksum(site, p):
			rep.Changed = append(rep.Changed, p.Name)
		}
	}
	for name := range recorded {
		if _, ok := seen[name]; !ok {
			rep.Removed = append(rep.Removed, name)
		}
	}
	sort.Strings(rep.Changed)
	sort.Strings(rep.Added)
	sort.Strings(rep.Removed)
	return rep, nil
}

func (b *Builder) find(site *loaded, name string) *template.Template {
	want := filepath.ToSlash(name)
	for _, p := range site.pages {
		if p.Name == want {
			return p
		}
		if out, err := b.outputPath(p); err == nil && filepath.ToSlash(out) == want {
			return p
		}
	}
	return nil
}
