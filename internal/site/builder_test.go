package site

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/starford/kiln/internal/apperr"
	"github.com/starford/kiln/internal/article"
	"github.com/starford/kiln/internal/assets"
	"github.com/starford/kiln/internal/compose"
	"github.com/starford/kiln/internal/manifest"
	"github.com/starford/kiln/internal/markdown"
	"github.com/starford/kiln/internal/storage"
	"github.com/starford/kiln/internal/template"
	"github.com/starford/kiln/internal/testutil"
)

const baseTitle = `<h1>{% block title %}Default{% endblock title %}</h1>`

func defaultOptions() Options {
	return Options{Bases: "**/*.html", Pages: "**/*.md", Workers: 4}
}

func newBuilder(t *testing.T, files map[string]string, store manifest.Store, opts Options) (*Builder, *storage.FS, *storage.FS) {
	t.Helper()
	root, in, out := testutil.TestSite(t, files)
	project, err := storage.NewFS(root)
	if err != nil {
		t.Fatal(err)
	}
	b := New(in, out, project, markdown.New(markdown.Options{Unsafe: true}), store, opts, testutil.Logger())
	return b, in, out
}

func TestBuild_MarkdownByDefault(t *testing.T) {
	b, _, out := newBuilder(t, map[string]string{
		"base.html": baseTitle,
		"page.md":   `{% extends "base.html" %}{% block title %}Hello{% endblock title %}`,
	}, nil, defaultOptions())

	res, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got := testutil.ReadFile(t, out, "page.html"); got != "<h1><p>Hello</p></h1>" {
		t.Errorf("page.html = %q", got)
	}
	if diff := cmp.Diff([]string{"page.html"}, res.Written); diff != "" {
		t.Errorf("written (-want +got):\n%s", diff)
	}
	if out.Exists("base.html") {
		t.Error("base template must not produce output")
	}
}

func TestBuild_TextFilter(t *testing.T) {
	b, _, out := newBuilder(t, map[string]string{
		"base.html": baseTitle,
		"page.md":   `{% extends "base.html" %}{% block title | text %}Raw & Unescaped{% endblock title %}`,
	}, nil, defaultOptions())

	if _, err := b.Build(context.Background()); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got := testutil.ReadFile(t, out, "page.html"); got != "<h1>Raw & Unescaped</h1>" {
		t.Errorf("page.html = %q", got)
	}
}

func TestBuild_MissingParentAborts(t *testing.T) {
	b, _, out := newBuilder(t, map[string]string{
		"base.html": baseTitle,
		"page.md":   `{% extends "missing.html" %}{% block title %}x{% endblock title %}`,
	}, nil, defaultOptions())

	_, err := b.Build(context.Background())
	if !errors.Is(err, compose.ErrUnresolvedParent) {
		t.Fatalf("err = %v, want ErrUnresolvedParent", err)
	}
	if !strings.Contains(err.Error(), "missing.html") {
		t.Errorf("error does not name the parent: %v", err)
	}
	if out.Exists("page.html") {
		t.Error("failed page was written")
	}
}

func TestBuild_UnknownBlockAborts(t *testing.T) {
	b, _, _ := newBuilder(t, map[string]string{
		"base.html": baseTitle,
		"page.md":   `{% extends "base.html" %}{% block unknown %}x{% endblock unknown %}`,
	}, nil, defaultOptions())

	if _, err := b.Build(context.Background()); !errors.Is(err, compose.ErrUnknownBlock) {
		t.Fatalf("err = %v, want ErrUnknownBlock", err)
	}
}

func TestBuild_FailureKeepsPreviousOutput(t *testing.T) {
	cases := []struct {
		name string
		safe bool
	}{
		{"clean", false},
		{"safe clean", true},
	}
	for _, tc := range cases {
		safe := tc.safe
		t.Run(tc.name, func(t *testing.T) {
			opts := defaultOptions()
			opts.Workers = 1
			opts.Clean = !safe
			opts.SafeClean = safe
			opts.TrashDir = filepath.Join(t.TempDir(), "trash")
			b, _, out := newBuilder(t, map[string]string{
				"base.html": baseTitle,
				"a.md":      `{% extends "base.html" %}{% block title | text %}a{% endblock title %}`,
				"z.md":      `{% extends "missing.html" %}{% block title %}z{% endblock title %}`,
			}, testutil.TestManifest(t), opts)
			testutil.WriteFile(t, out, "previous.html", "old")

			if _, err := b.Build(context.Background()); !errors.Is(err, compose.ErrUnresolvedParent) {
				t.Fatalf("err = %v, want ErrUnresolvedParent", err)
			}
			if out.Exists("a.html") {
				t.Error("good page written by a failed build")
			}
			if got := testutil.ReadFile(t, out, "previous.html"); got != "old" {
				t.Errorf("previous.html = %q", got)
			}
			if _, err := os.Stat(opts.TrashDir); !os.IsNotExist(err) {
				t.Errorf("trash dir created by a failed build: %v", err)
			}
		})
	}
}

func TestBuild_ParseErrorAborts(t *testing.T) {
	b, _, _ := newBuilder(t, map[string]string{
		"base.html": baseTitle,
		"page.md":   `{% block title %}x{% endblock title %}`,
	}, nil, defaultOptions())

	if _, err := b.Build(context.Background()); !errors.Is(err, template.ErrMissingExtends) {
		t.Fatalf("err = %v, want ErrMissingExtends", err)
	}
}

func TestBuild_NestedDirsAndManyPages(t *testing.T) {
	files := map[string]string{
		"layouts/base.html": `<main>{% block body %}{% endblock body %}</main>`,
	}
	var want []string
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		files["docs/"+name+".md"] = `{% extends "layouts/base.html" %}{% block body | text %}` + name + `{% endblock body %}`
		want = append(want, filepath.Join("docs", name+".html"))
	}
	opts := defaultOptions()
	opts.Workers = 2
	b, _, out := newBuilder(t, files, nil, opts)

	res, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if diff := cmp.Diff(want, res.Written); diff != "" {
		t.Errorf("written (-want +got):\n%s", diff)
	}
	if got := testutil.ReadFile(t, out, "docs/c.html"); got != "<main>c</main>" {
		t.Errorf("docs/c.html = %q", got)
	}
}

func TestBuild_ManifestSkipsUnchangedAndPrunes(t *testing.T) {
	db := testutil.TestManifest(t)
	b, in, out := newBuilder(t, map[string]string{
		"base.html": baseTitle,
		"keep.md":   `{% extends "base.html" %}{% block title | text %}Keep{% endblock title %}`,
		"gone.md":   `{% extends "base.html" %}{% block title | text %}Gone{% endblock title %}`,
	}, db, defaultOptions())

	if _, err := b.Build(context.Background()); err != nil {
		t.Fatalf("first Build: %v", err)
	}
	if err := in.Delete("gone.md"); err != nil {
		t.Fatal(err)
	}

	res, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("second Build: %v", err)
	}
	if len(res.Written) != 0 || res.Unchanged != 1 {
		t.Errorf("written = %v, unchanged = %d", res.Written, res.Unchanged)
	}
	if diff := cmp.Diff([]string{"gone.html"}, res.Pruned); diff != "" {
		t.Errorf("pruned (-want +got):\n%s", diff)
	}
	if out.Exists("gone.html") {
		t.Error("stale output not deleted")
	}

	// A missing output is rewritten even when its checksum is recorded.
	if err := out.Delete("keep.html"); err != nil {
		t.Fatal(err)
	}
	res, err = b.Build(context.Background())
	if err != nil {
		t.Fatalf("third Build: %v", err)
	}
	if diff := cmp.Diff([]string{"keep.html"}, res.Written); diff != "" {
		t.Errorf("written (-want +got):\n%s", diff)
	}
}

func TestBuild_CleanEmptiesOutput(t *testing.T) {
	opts := defaultOptions()
	opts.Clean = true
	b, _, out := newBuilder(t, map[string]string{
		"base.html": baseTitle,
		"page.md":   `{% extends "base.html" %}{% block title | text %}x{% endblock title %}`,
	}, nil, opts)
	testutil.WriteFile(t, out, "leftover.txt", "old")

	if _, err := b.Build(context.Background()); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if out.Exists("leftover.txt") {
		t.Error("clean kept leftover file")
	}
	if !out.Exists("page.html") {
		t.Error("page.html missing after clean build")
	}
}

func TestBuild_SafeCleanMovesToTrash(t *testing.T) {
	opts := defaultOptions()
	opts.SafeClean = true
	opts.TrashDir = filepath.Join(t.TempDir(), "trash")
	b, _, out := newBuilder(t, map[string]string{
		"base.html": baseTitle,
		"page.md":   `{% extends "base.html" %}{% block title | text %}x{% endblock title %}`,
	}, nil, opts)
	testutil.WriteFile(t, out, "leftover.txt", "old")

	if _, err := b.Build(context.Background()); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if out.Exists("leftover.txt") {
		t.Error("safe clean kept leftover file in output")
	}
	trash, err := storage.NewFS(opts.TrashDir)
	if err != nil {
		t.Fatal(err)
	}
	matches, err := trash.Glob("*/leftover.txt")
	if err != nil || len(matches) != 1 {
		t.Errorf("trash matches = %v, %v", matches, err)
	}
}

func TestBuild_Articles(t *testing.T) {
	db := testutil.TestManifest(t)
	opts := defaultOptions()
	opts.ArticlesDir = "articles"
	opts.ArticlesIndex = "articles.json"
	opts.Article = article.Options{URLRoot: "https://example.org", WordsPerMinute: 160}

	b, _, out := newBuilder(t, map[string]string{
		"article.html": `<nav><!-- article:table_of_contents --></nav>{% block body %}{% endblock body %}`,
		"articles/kiln.md": `{% extends "article.html" %}
<!-- define title: Building a Kiln -->
<!-- define published: 2024-05-01 -->
{% block body | text %}<h3 class="text-title">Bricks</h3><p>lay them</p>{% endblock body %}`,
	}, db, opts)

	res, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(res.Articles) != 1 || res.Articles[0].Slug != "building-a-kiln" {
		t.Fatalf("articles = %+v", res.Articles)
	}

	html := testutil.ReadFile(t, out, "articles/kiln.html")
	want := `<nav><div class="table-of-contents"><a href="#bricks" level="3">Bricks</a></div></nav>` +
		`<h3 id="bricks" class="text-title">Bricks</h3><p>lay them</p>`
	if html != want {
		t.Errorf("article html = %q\nwant %q", html, want)
	}
	if index := testutil.ReadFile(t, out, "articles.json"); !strings.Contains(index, `"url": "https://example.org/articles/kiln.html"`) {
		t.Errorf("articles.json = %s", index)
	}

	rows, err := db.Articles()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Title != "Building a Kiln" {
		t.Errorf("manifest articles = %+v", rows)
	}
}

func TestBuild_AssetsAndGzip(t *testing.T) {
	opts := defaultOptions()
	opts.Gzip = true
	opts.Assets = []assets.Spec{{Source: "public/css", Destination: "css", Match: `\.css$`, Overwrite: true}}
	b, in, out := newBuilder(t, map[string]string{
		"base.html": baseTitle,
		"page.md":   `{% extends "base.html" %}{% block title | text %}x{% endblock title %}`,
	}, nil, opts)
	testutil.WriteFile(t, in, "css/site.css", "body{}")

	res, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got := testutil.ReadFile(t, out, "css/site.css"); got != "body{}" {
		t.Errorf("css/site.css = %q", got)
	}
	if !out.Exists("page.html.gz") || !out.Exists("css/site.css.gz") {
		t.Error("gzip siblings missing")
	}
	if res.Compressed != 2 {
		t.Errorf("compressed = %d, want 2", res.Compressed)
	}
}

func TestRenderPage(t *testing.T) {
	b, _, out := newBuilder(t, map[string]string{
		"base.html": baseTitle,
		"page.md":   `{% extends "base.html" %}{% block title %}Hello{% endblock title %}`,
	}, nil, defaultOptions())

	for _, name := range []string{"page.md", "page.html"} {
		html, err := b.RenderPage(context.Background(), name)
		if err != nil {
			t.Fatalf("RenderPage(%s): %v", name, err)
		}
		if html != "<h1><p>Hello</p></h1>" {
			t.Errorf("RenderPage(%s) = %q", name, html)
		}
	}
	if out.Exists("page.html") {
		t.Error("RenderPage must not write output")
	}

	if _, err := b.RenderPage(context.Background(), "nope.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListPages(t *testing.T) {
	b, _, _ := newBuilder(t, map[string]string{
		"base.html": `{% block title %}{% endblock title %}{% block body %}{% endblock body %}`,
		"page.md":   `{% extends "base.html" %}{% block title %}T{% endblock title %}{% block body %}B{% endblock body %}`,
	}, nil, defaultOptions())

	pages, err := b.ListPages(context.Background())
	if err != nil {
		t.Fatalf("ListPages: %v", err)
	}
	want := []Page{{Source: "page.md", Output: "page.html", Extends: "base.html", Blocks: []string{"body", "title"}}}
	if diff := cmp.Diff(want, pages); diff != "" {
		t.Errorf("pages (-want +got):\n%s", diff)
	}
}

func TestAudit(t *testing.T) {
	db := testutil.TestManifest(t)
	b, in, _ := newBuilder(t, map[string]string{
		"base.html": baseTitle,
		"same.md":   `{% extends "base.html" %}{% block title %}same{% endblock title %}`,
		"edit.md":   `{% extends "base.html" %}{% block title %}before{% endblock title %}`,
		"drop.md":   `{% extends "base.html" %}{% block title %}drop{% endblock title %}`,
	}, db, defaultOptions())

	if _, err := b.Build(context.Background()); err != nil {
		t.Fatalf("Build: %v", err)
	}
	rep, err := b.Audit(context.Background())
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}
	if !rep.UpToDate() {
		t.Errorf("fresh build not up to date: %+v", rep)
	}

	testutil.WriteFile(t, in, "edit.md", `{% extends "base.html" %}{% block title %}after{% endblock title %}`)
	testutil.WriteFile(t, in, "new.md", `{% extends "base.html" %}{% block title %}new{% endblock title %}`)
	if err := in.Delete("drop.md"); err != nil {
		t.Fatal(err)
	}

	rep, err = b.Audit(context.Background())
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}
	want := &Report{Changed: []string{"edit.md"}, Added: []string{"new.md"}, Removed: []string{"drop.md"}}
	if diff := cmp.Diff(want, rep); diff != "" {
		t.Errorf("report (-want +got):\n%s", diff)
	}
}

func TestAudit_NoManifest(t *testing.T) {
	b, _, _ := newBuilder(t, map[string]string{"base.html": baseTitle}, nil, defaultOptions())
	if _, err := b.Audit(context.Background()); !errors.Is(err, ErrNoManifest) {
		t.Errorf("err = %v, want ErrNoManifest", err)
	}
}
