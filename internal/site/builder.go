// Package site runs the build pipeline: discover templates, parse them,
// compose every page against its base in parallel and write the results.
package site

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/kiln/internal/article"
	"github.com/starford/kiln/internal/assets"
	"github.com/starford/kiln/internal/checksum"
	"github.com/starford/kiln/internal/compose"
	"github.com/starford/kiln/internal/logging"
	"github.com/starford/kiln/internal/manifest"
	"github.com/starford/kiln/internal/markdown"
	"github.com/starford/kiln/internal/storage"
	"github.com/starford/kiln/internal/template"
)

// Options configure a Builder.
type Options struct {
	Bases   string
	Pages   string
	Workers int

	Clean     bool
	SafeClean bool
	TrashDir  string
	Gzip      bool

	// ArticlesDir is relative to the input root. Empty disables articles.
	ArticlesDir   string
	ArticlesIndex string
	Article       article.Options

	Assets []assets.Spec
}

// Page describes one page of the site.
type Page struct {
	Source  string   `json:"source"`
	Output  string   `json:"output"`
	Extends string   `json:"extends"`
	Blocks  []string `json:"blocks"`
	Article bool     `json:"article"`
}

// Result summarises a build.
type Result struct {
	Pages      []Page
	Written    []string
	Unchanged  int
	Pruned     []string
	Articles   []*article.Article
	Assets     assets.Result
	Compressed int
	Duration   time.Duration
}

// Builder builds a site from an input tree into an output tree.
type Builder struct {
	in       storage.Provider
	out      *storage.FS
	project  storage.Provider
	parser   *template.Parser
	comp     *compose.Compositor
	manifest manifest.Store
	opts     Options
	logger   *slog.Logger
	now      func() time.Time

	mu sync.Mutex // one build at a time
}

// New creates a Builder. project resolves asset sources and may be nil when
// no assets are configured. store may be nil to disable the manifest.
func New(in storage.Provider, out *storage.FS, project storage.Provider, conv markdown.Converter,
	store manifest.Store, opts Options, logger *slog.Logger,
) *Builder {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Builder{
		in:       in,
		out:      out,
		project:  project,
		parser:   template.NewParser(in.Root(), out.Root()),
		comp:     compose.New(conv),
		manifest: store,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// loaded is a parsed site.
type loaded struct {
	bases template.Set
	pages []*template.Template
}

type rendered struct {
	page      *template.Template
	output    string
	html      string
	checksum  string
	sourceSum string
	article   *article.Article
	written   bool
}

// Build renders every page and writes the changed ones. Every page is
// composed before anything touches the output tree, so a failing page
// leaves the previous output in place.
func (b *Builder) Build(ctx context.Context) (*Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := b.now()
	site, err := b.load()
	if err != nil {
		return nil, err
	}

	results := make([]*rendered, len(site.pages))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.Workers)
	for i, page := range site.pages {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			r, err := b.render(site, page)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := b.clean(); err != nil {
		return nil, err
	}

	recorded := map[string]manifest.OutputRow{}
	if b.manifest != nil {
		if recorded, err = b.manifest.Outputs(); err != nil {
			return nil, err
		}
	}

	g, gCtx = errgroup.WithContext(ctx)
	g.SetLimit(b.opts.Workers)
	for _, r := range results {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			var err error
			r.written, err = b.write(r, recorded)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{}
	current := make(map[string]struct{}, len(results))
	for _, r := range results {
		current[r.output] = struct{}{}
		res.Pages = append(res.Pages, b.describe(r.page))
		if r.written {
			res.Written = append(res.Written, r.output)
		} else {
			res.Unchanged++
		}
		if r.article != nil {
			res.Articles = append(res.Articles, r.article)
		}
	}

	if err := b.record(results); err != nil {
		return nil, err
	}
	if res.Pruned, err = b.prune(recorded, current); err != nil {
		return nil, err
	}
	if err := b.writeArticles(res.Articles); err != nil {
		return nil, err
	}

	if len(b.opts.Assets) > 0 && b.project != nil {
		copier := assets.NewCopier(b.project, b.out, b.logger)
		if res.Assets, err = copier.Copy(ctx, b.opts.Assets); err != nil {
			return nil, err
		}
	}
	if b.opts.Gzip {
		if res.Compressed, err = assets.Gzip(ctx, b.out, assets.DefaultGzipExtensions); err != nil {
			return nil, err
		}
	}

	res.Duration = b.now().Sub(start)
	b.logger.Info("site built",
		slog.Int("pages", len(res.Pages)),
		slog.Int("written", len(res.Written)),
		slog.Int("unchanged", res.Unchanged),
		slog.Int("pruned", len(res.Pruned)),
		slog.Duration("duration", res.Duration))
	return res, nil
}

// load discovers and parses every base and page. Parsing is sequential.
func (b *Builder) load() (*loaded, error) {
	baseSrc, err := b.discover(b.opts.Bases)
	if err != nil {
		return nil, err
	}
	bases := make([]*template.Template, 0, len(baseSrc))
	for _, src := range baseSrc {
		t, err := b.parser.Parse(src, template.RoleBase)
		if err != nil {
			return nil, err
		}
		bases = append(bases, t)
	}

	pageSrc, err := b.discover(b.opts.Pages)
	if err != nil {
		return nil, err
	}
	pages := make([]*template.Template, 0, len(pageSrc))
	for _, src := range pageSrc {
		t, err := b.parser.Parse(src, template.RolePage)
		if err != nil {
			return nil, err
		}
		pages = append(pages, t)
	}

	return &loaded{bases: template.NewSet(bases...), pages: pages}, nil
}

func (b *Builder) discover(pattern string) ([]template.Source, error) {
	paths, err := b.in.Glob(pattern)
	if err != nil {
		return nil, err
	}
	out := make([]template.Source, 0, len(paths))
	for _, rel := range paths {
		data, err := b.in.Read(rel)
		if err != nil {
			return nil, err
		}
		out = append(out, template.Source{
			Path:    filepath.Join(b.in.Root(), rel),
			Content: string(data),
		})
	}
	return out, nil
}

func (b *Builder) clean() error {
	switch {
	case b.opts.SafeClean:
		dest, err := b.out.MoveToTrash(b.opts.TrashDir, b.now())
		if err != nil {
			return err
		}
		b.logger.Info(b.out.Root(), slog.String(logging.ActionKey, "clean"), slog.String("trash", dest))
	case b.opts.Clean:
		if err := b.out.Clean(); err != nil {
			return err
		}
		b.logger.Info(b.out.Root(), slog.String(logging.ActionKey, "clean"))
	}
	return nil
}

func (b *Builder) render(site *loaded, page *template.Template) (*rendered, error) {
	html, err := b.comp.Compose(site.bases, page)
	if err != nil {
		return nil, err
	}
	output, err := b.outputPath(page)
	if err != nil {
		return nil, err
	}

	r := &rendered{
		page:      page,
		output:    output,
		html:      html,
		sourceSum: sourceChecksum(site, page),
	}
	if b.isArticle(page) {
		a, err := article.Parse(page, filepath.ToSlash(output), b.opts.Article)
		if err != nil {
			return nil, err
		}
		body, toc := article.TableOfContents(html)
		a.TableOfContents = toc
		r.html = article.Inject(body, a)
		r.article = a
	}
	r.checksum = checksum.String(r.html)
	return r, nil
}

// write stores r unless the manifest shows identical output already on disk.
func (b *Builder) write(r *rendered, recorded map[string]manifest.OutputRow) (bool, error) {
	if prev, ok := recorded[r.output]; ok && prev.Checksum == r.checksum && b.out.Exists(r.output) {
		b.logger.Debug(r.output, slog.String("reason", "unchanged"))
		return false, nil
	}
	if err := b.out.Write(r.output, []byte(r.html)); err != nil {
		return false, err
	}
	b.logger.Info(r.output, slog.String(logging.ActionKey, "render"), slog.String("source", r.page.Name))
	return true, nil
}

func (b *Builder) record(results []*rendered) error {
	if b.manifest == nil {
		return nil
	}
	builtAt := b.now().UTC()
	for _, r := range results {
		err := b.manifest.UpsertOutput(manifest.OutputRow{
			Path:           r.output,
			Source:         r.page.Name,
			SourceChecksum: r.sourceSum,
			Checksum:       r.checksum,
			BuiltAt:        builtAt,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// prune deletes outputs recorded by an earlier build whose page is gone.
func (b *Builder) prune(recorded map[string]manifest.OutputRow, current map[string]struct{}) ([]string, error) {
	var pruned []string
	for path := range recorded {
		if _, ok := current[path]; ok {
			continue
		}
		if b.out.Exists(path) {
			if err := b.out.Delete(path); err != nil {
				return nil, err
			}
		}
		if err := b.manifest.DeleteOutput(path); err != nil {
			return nil, err
		}
		b.logger.Info(path, slog.String(logging.ActionKey, "delete"))
		pruned = append(pruned, path)
	}
	sort.Strings(pruned)
	return pruned, nil
}

func (b *Builder) writeArticles(list []*article.Article) error {
	if b.opts.ArticlesDir == "" || len(list) == 0 {
		return nil
	}
	article.Sort(list)

	if b.opts.ArticlesIndex != "" {
		data, err := json.MarshalIndent(list, "", "  ")
		if err != nil {
			return fmt.Errorf("site: encode articles: %w", err)
		}
		if err := b.out.Write(b.opts.ArticlesIndex, data); err != nil {
			return err
		}
		b.logger.Info(b.opts.ArticlesIndex, slog.String(logging.ActionKey, "render"), slog.Int("articles", len(list)))
	}

	if b.manifest == nil {
		return nil
	}
	rows := make([]manifest.ArticleRow, 0, len(list))
	for _, a := range list {
		rows = append(rows, manifest.ArticleRow{
			Source:    a.Source,
			Slug:      a.Slug,
			Title:     a.Title,
			Category:  a.Category,
			Published: a.Published,
			URL:       a.URL,
		})
	}
	return b.manifest.ReplaceArticles(rows)
}

// outputPath returns the page's destination relative to the output root.
func (b *Builder) outputPath(page *template.Template) (string, error) {
	rel, err := filepath.Rel(b.out.Root(), page.Output)
	if err != nil {
		return "", fmt.Errorf("site: output path for %s: %w", page.Path, err)
	}
	return rel, nil
}

func (b *Builder) isArticle(page *template.Template) bool {
	if b.opts.ArticlesDir == "" {
		return false
	}
	dir := strings.Trim(filepath.ToSlash(b.opts.ArticlesDir), "/") + "/"
	return strings.HasPrefix(page.Name, dir)
}

func (b *Builder) describe(page *template.Template) Page {
	output, _ := b.outputPath(page)
	return Page{
		Source:  page.Name,
		Output:  filepath.ToSlash(output),
		Extends: page.Extends,
		Blocks:  page.BlockNames(),
		Article: b.isArticle(page),
	}
}

// sourceChecksum digests the page together with its base so a base edit
// marks every page built on it as changed.
func sourceChecksum(site *loaded, page *template.Template) string {
	var parent string
	if base, ok := site.bases[page.Extends]; ok {
		parent = base.Content
	}
	return checksum.String(parent + "\x00" + page.Content)
}
