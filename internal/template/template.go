// Package template parses block-inheritance templates into structured records.
//
// Two kinds of templates exist. Bases are HTML documents that declare block
// slots with default content:
//
//	<h1>{% block title | trim %}Default{% endblock title %}</h1>
//
// Pages are MarkDown documents that extend exactly one base and override some
// or all of its blocks:
//
//	{% extends "base.html" %}
//	{% block title %}Hello{% endblock title %}
package template

import "sort"

// Role tells whether a template is a base (block provider) or a page.
type Role int

const (
	RoleBase Role = iota
	RolePage
)

func (r Role) String() string {
	if r == RolePage {
		return "page"
	}
	return "base"
}

// Filter is an output transform applied to a block's inner text.
type Filter int

const (
	FilterText Filter = iota
	FilterHTML
	FilterTrim
)

var filterNames = map[string]Filter{
	"text": FilterText,
	"html": FilterHTML,
	"trim": FilterTrim,
}

// ParseFilter maps a filter token to its Filter. Tokens are case-sensitive.
func ParseFilter(name string) (Filter, bool) {
	f, ok := filterNames[name]
	return f, ok
}

func (f Filter) String() string {
	switch f {
	case FilterText:
		return "text"
	case FilterHTML:
		return "html"
	case FilterTrim:
		return "trim"
	}
	return "unknown"
}

// Source is a discovered template file.
type Source struct {
	Path    string
	Content string
}

// Block is a named, delimited region of a template.
type Block struct {
	Name    string
	Filters []Filter
	// Outer is the verbatim text from the opening marker through the closing
	// marker. It is the substring replaced during composition.
	Outer string
	// Inner is the raw, unfiltered text between the markers.
	Inner string
}

// Template is the parsed record of one template file.
type Template struct {
	Path    string
	Name    string
	Role    Role
	Extends string
	Content string
	Blocks  map[string]*Block
	// Output is the destination path; only pages have one.
	Output string
}

// BlockNames returns the template's block names in sorted order.
func (t *Template) BlockNames() []string {
	names := make([]string, 0, len(t.Blocks))
	for name := range t.Blocks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Set indexes base templates by logical name.
type Set map[string]*Template

// NewSet builds a Set from parsed bases.
func NewSet(bases ...*Template) Set {
	s := make(Set, len(bases))
	for _, b := range bases {
		s[b.Name] = b
	}
	return s
}
