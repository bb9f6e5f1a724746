// Package article extracts article metadata declared in page comments and
// derives slugs, read times, tables of contents and meta tags from it.
//
// A page declares properties with one comment per line:
//
//	<!-- define title: Building a Kiln -->
//	<!-- define category: pottery -->
//
// or in a leading YAML front matter block delimited by "---" lines.
package article

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/starford/kiln/internal/template"
)

// ErrUnknownProperty is returned for a define comment with an unsupported key.
var ErrUnknownProperty = errors.New("unknown article property")

var (
	defineRe  = regexp.MustCompile(`<!--\s*define\s+([A-Za-z_]+)\s*:\s*(.*?)\s*-->`)
	headingRe = regexp.MustCompile(`<h([35])([^>]*?)\sclass=["']text-title["']([^>]*)>(.*?)</h[35]>`)
	trailRe   = regexp.MustCompile(`[^A-Za-z0-9]+$`)
	slugRe    = regexp.MustCompile(`[^a-z0-9]+`)
)

var (
	stripPolicyOnce sync.Once
	stripPolicy     *bluemonday.Policy
)

func strictPolicy() *bluemonday.Policy {
	stripPolicyOnce.Do(func() {
		stripPolicy = bluemonday.StrictPolicy()
	})
	return stripPolicy
}

// Article is the metadata of one article page.
type Article struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Subcategory string `json:"subcategory"`
	Genre       string `json:"genre"`
	Keywords    string `json:"keywords"`
	Tags        string `json:"tags"`
	Published   string `json:"published"`
	Image       string `json:"image"`
	Author      string `json:"author"`

	Slug            string `json:"slug"`
	ArtworkCredit   string `json:"artwork_credit,omitempty"`
	ReadTime        string `json:"read_time"`
	Metadata        string `json:"-"`
	TableOfContents string `json:"table_of_contents,omitempty"`

	Source string `json:"source"`
	Output string `json:"output"`
	URL    string `json:"url"`
}

// Options control derived fields.
type Options struct {
	URLRoot        string
	WordsPerMinute int
}

// Parse reads the front matter and define comments of page and derives the
// computed fields. Define comments win over front matter keys.
// output is the page's output path relative to the output root, with
// forward slashes.
func Parse(page *template.Template, output string, opts Options) (*Article, error) {
	a := &Article{Source: page.Name, Output: output}

	fm, err := frontmatter(page.Content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", page.Path, err)
	}
	for _, key := range sortedKeys(fm) {
		if err := a.set(key, fm[key]); err != nil {
			return nil, fmt.Errorf("%s: %w", page.Path, err)
		}
	}
	for _, m := range defineRe.FindAllStringSubmatch(page.Content, -1) {
		if err := a.set(m[1], m[2]); err != nil {
			return nil, fmt.Errorf("%s: %w", page.Path, err)
		}
	}

	a.Slug = Slug(a.Title)
	a.ArtworkCredit = artworkCredit(a.Image)
	a.ReadTime = readTime(page, opts.WordsPerMinute)
	a.URL = strings.TrimRight(opts.URLRoot, "/") + "/" + strings.TrimLeft(output, "/")
	a.Metadata = metadata(a)
	return a, nil
}

func (a *Article) set(key, value string) error {
	switch strings.ToLower(key) {
	case "title":
		a.Title = value
	case "description":
		a.Description = value
	case "category":
		a.Category = value
	case "subcategory":
		a.Subcategory = value
	case "genre":
		a.Genre = value
	case "keywords":
		a.Keywords = value
	case "tags":
		a.Tags = value
	case "published":
		a.Published = value
	case "image":
		a.Image = value
	case "author":
		a.Author = value
	default:
		return fmt.Errorf("%w %q", ErrUnknownProperty, key)
	}
	return nil
}

// Slug lowercases s and joins its alphanumeric runs with dashes.
func Slug(s string) string {
	return strings.Trim(slugRe.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

// TableOfContents gives every `<h3|h5 class="text-title">` heading in html an
// id and returns the rewritten html together with a table of contents linking
// to them.
func TableOfContents(html string) (string, string) {
	var toc strings.Builder
	toc.WriteString(`<div class="table-of-contents">`)
	out := headingRe.ReplaceAllStringFunc(html, func(match string) string {
		m := headingRe.FindStringSubmatch(match)
		header := trailRe.ReplaceAllString(plainText(m[4]), "")
		id := Slug(header)
		fmt.Fprintf(&toc, `<a href="#%s" level="%s">%s</a>`, id, m[1], header)
		return strings.Replace(match, "<h"+m[1], fmt.Sprintf(`<h%s id="%s"`, m[1], id), 1)
	})
	toc.WriteString(`</div>`)
	return out, toc.String()
}

// Sort orders articles newest first, then by title.
func Sort(list []*Article) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Published != list[j].Published {
			return list[i].Published > list[j].Published
		}
		return list[i].Title < list[j].Title
	})
}

func plainText(s string) string {
	return strings.TrimSpace(strictPolicy().Sanitize(s))
}

func artworkCredit(image string) string {
	if image == "" {
		return ""
	}
	name := image
	if i := strings.Index(image, ":"); i >= 0 {
		name = image[:i]
	}
	return cases.Title(language.English).String(strings.ReplaceAll(name, "-", " "))
}

func readTime(page *template.Template, wpm int) string {
	if wpm <= 0 {
		wpm = 160
	}
	var words int
	for _, name := range page.BlockNames() {
		words += len(strings.Fields(plainText(page.Blocks[name].Inner)))
	}
	minutes := int(math.Round(float64(words) / float64(wpm)))
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf("%d minute read", minutes)
}

func metadata(a *Article) string {
	title := plainText(a.Title)
	description := plainText(a.Description)
	tags := []string{
		meta("keywords", a.Keywords),
		meta("category", a.Category),
		meta("topic", a.Subcategory),
		meta("revised", a.Published),
		meta("date", a.Published),
		meta("pagename", title),
		meta("description", description),
		meta("abstract", description),
		meta("summary", description),
		meta("subtitle", description),
		meta("syndication-source", a.URL),
		meta("original-source", a.URL),
		meta("og:type", a.Genre),
		meta("og:title", title),
		meta("og:description", description),
		meta("og:url", a.URL),
		meta("og:image", "/images/"+a.Image),
		fmt.Sprintf(`<link rel="bookmark" title="%s" href="%s" />`, title, a.URL),
		fmt.Sprintf(`<link rel="canonical" href="%s" />`, a.URL),
	}
	return strings.Join(tags, "")
}

func meta(name, content string) string {
	return fmt.Sprintf(`<meta name="%s" content="%s" />`, name, strings.ReplaceAll(content, `"`, "&quot;"))
}

// Inject replaces the article marker comments in html with the derived
// fields of a:
//
//	<!-- article:table_of_contents -->
//	<!-- article:metadata -->
//	<!-- article:read_time -->
//	<!-- article:artwork_credit -->
func Inject(html string, a *Article) string {
	return strings.NewReplacer(
		"<!-- article:table_of_contents -->", a.TableOfContents,
		"<!-- article:metadata -->", a.Metadata,
		"<!-- article:read_time -->", a.ReadTime,
		"<!-- article:artwork_credit -->", a.ArtworkCredit,
	).Replace(html)
}
