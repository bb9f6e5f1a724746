package template

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func testParser() *Parser {
	return NewParser("public", "dist")
}

func TestParse_PageWithBlocks(t *testing.T) {
	src := Source{
		Path:    filepath.Join("public", "posts", "hello.md"),
		Content: `{% extends "base.html" %}{% block title | trim | text %} Hi {% endblock title %}{% block body %}Body{% endblock body %}`,
	}
	tpl, err := testParser().Parse(src, RolePage)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tpl.Extends != "base.html" {
		t.Errorf("extends = %q, want %q", tpl.Extends, "base.html")
	}
	if tpl.Name != "posts/hello.md" {
		t.Errorf("name = %q", tpl.Name)
	}
	if want := filepath.Join("dist", "posts", "hello.html"); tpl.Output != want {
		t.Errorf("output = %q, want %q", tpl.Output, want)
	}

	want := map[string]*Block{
		"title": {
			Name:    "title",
			Filters: []Filter{FilterTrim, FilterText},
			Outer:   "{% block title | trim | text %} Hi {% endblock title %}",
			Inner:   " Hi ",
		},
		"body": {
			Name:  "body",
			Outer: "{% block body %}Body{% endblock body %}",
			Inner: "Body",
		},
	}
	if diff := cmp.Diff(want, tpl.Blocks); diff != "" {
		t.Errorf("blocks mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_BaseHasNoOutput(t *testing.T) {
	src := Source{
		Path:    filepath.Join("public", "base.html"),
		Content: "<h1>{% block title %}Default{% endblock title %}</h1>",
	}
	tpl, err := testParser().Parse(src, RoleBase)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tpl.Output != "" {
		t.Errorf("base output = %q, want empty", tpl.Output)
	}
	if tpl.Name != "base.html" {
		t.Errorf("name = %q", tpl.Name)
	}
	if got := tpl.BlockNames(); len(got) != 1 || got[0] != "title" {
		t.Errorf("blocks = %v", got)
	}
}

func TestParse_WhitespaceTolerantMarkers(t *testing.T) {
	src := Source{
		Path:    "public/a.md",
		Content: "{%extends   \"base.html\"%}\n{%block  title|html%}x{%endblock   title %}",
	}
	tpl, err := testParser().Parse(src, RolePage)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, ok := tpl.Blocks["title"]
	if !ok {
		t.Fatal("missing block title")
	}
	if len(b.Filters) != 1 || b.Filters[0] != FilterHTML {
		t.Errorf("filters = %v", b.Filters)
	}
}

func TestParse_DuplicateFiltersCollapsed(t *testing.T) {
	src := Source{Path: "public/a.html", Content: "{% block a | html | html | trim %}x{% endblock a %}"}
	tpl, err := testParser().Parse(src, RoleBase)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]Filter{FilterHTML, FilterTrim}, tpl.Blocks["a"].Filters); diff != "" {
		t.Errorf("filters (-want +got):\n%s", diff)
	}
}

func TestParse_Errors(t *testing.T) {
	cases := []struct {
		name    string
		role    Role
		content string
		want    error
	}{
		{"missing extends", RolePage, "{% block a %}x{% endblock a %}", ErrMissingExtends},
		{"multiple extends", RolePage, `{% extends "a.html" %}{% extends "b.html" %}`, ErrMultipleExtends},
		{"base extends", RoleBase, `{% extends "a.html" %}`, ErrBaseExtends},
		{"mismatched name", RoleBase, "{% block a %}x{% endblock b %}", ErrMismatchedBlockName},
		{"duplicate block", RoleBase, "{% block greeting %}one{% endblock greeting %}{% block greeting %}two{% endblock greeting %}", ErrDuplicateBlock},
		{"duplicate endblock", RoleBase, "{% block a %}x{% endblock a %}{% endblock a %}", ErrDuplicateBlock},
		{"unknown filter", RoleBase, "{% block a | upper %}x{% endblock a %}", ErrUnknownFilter},
		{"filter is case sensitive", RoleBase, "{% block a | HTML %}x{% endblock a %}", ErrUnknownFilter},
		{"unclosed block", RoleBase, "{% block a %}x", ErrUnclosedBlock},
		{"stray endblock", RoleBase, "x{% endblock a %}", ErrUnclosedBlock},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := testParser().Parse(Source{Path: "public/t.md", Content: tc.content}, tc.role)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			var tplErr *Error
			if !errors.As(err, &tplErr) || tplErr.Path != "public/t.md" {
				t.Errorf("error does not identify the template: %v", err)
			}
		})
	}
}

func TestParse_UnknownFilterNamesFilter(t *testing.T) {
	_, err := testParser().Parse(Source{Path: "public/t.html", Content: "{% block a | upper %}x{% endblock a %}"}, RoleBase)
	var tplErr *Error
	if !errors.As(err, &tplErr) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if tplErr.Name != "upper" {
		t.Errorf("name = %q, want %q", tplErr.Name, "upper")
	}
}

func TestOutputTarget(t *testing.T) {
	p := NewParser("site/public", "site/dist")
	got := p.OutputTarget(filepath.Join("site", "public", "a", "b.md"))
	if want := filepath.Join("site", "dist", "a", "b.html"); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}
