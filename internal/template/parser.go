package template

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Parser turns template sources into Template records. Its patterns are
// compiled once in NewParser and never mutated, so a Parser may be shared
// between goroutines.
type Parser struct {
	inputRoot  string
	outputRoot string

	extendsRe *regexp.Regexp
	blockRe   *regexp.Regexp
	openRe    *regexp.Regexp
	closeRe   *regexp.Regexp
}

// NewParser creates a parser for templates living under inputRoot whose
// pages are rendered under outputRoot.
func NewParser(inputRoot, outputRoot string) *Parser {
	return &Parser{
		inputRoot:  filepath.Clean(inputRoot),
		outputRoot: filepath.Clean(outputRoot),
		extendsRe:  regexp.MustCompile(`\{%\s*extends\s+"([^"]*)"\s*%\}`),
		// Groups: 1 opening marker, 2 name and filters, 3 inner text,
		// 4 closing marker, 5 closing name.
		blockRe: regexp.MustCompile(`(?s)(\{%\s*block\s+([^%]*?)\s*%\})(.*?)(\{%\s*endblock\s+([^%]*?)\s*%\})`),
		openRe:  regexp.MustCompile(`\{%\s*block\s+[^%]*?%\}`),
		closeRe: regexp.MustCompile(`\{%\s*endblock\s+[^%]*?%\}`),
	}
}

// Parse builds the Template record for src in the given role.
func (p *Parser) Parse(src Source, role Role) (*Template, error) {
	t := &Template{
		Path:    src.Path,
		Name:    p.Name(src.Path),
		Role:    role,
		Content: src.Content,
		Blocks:  make(map[string]*Block),
	}

	extends := p.extendsRe.FindAllStringSubmatch(src.Content, -1)
	switch role {
	case RolePage:
		if len(extends) == 0 {
			return nil, &Error{Kind: ErrMissingExtends, Path: src.Path}
		}
		if len(extends) > 1 {
			return nil, &Error{Kind: ErrMultipleExtends, Path: src.Path,
				Detail: fmt.Sprintf("found %d declarations", len(extends))}
		}
		t.Extends = strings.TrimSpace(extends[0][1])
		t.Output = p.OutputTarget(src.Path)
	case RoleBase:
		if len(extends) > 0 {
			return nil, &Error{Kind: ErrBaseExtends, Path: src.Path, Name: strings.TrimSpace(extends[0][1])}
		}
	}

	if err := p.parseBlocks(t); err != nil {
		return nil, err
	}
	return t, nil
}

func (p *Parser) parseBlocks(t *Template) error {
	content := t.Content
	matches := p.blockRe.FindAllStringSubmatch(content, -1)

	for _, m := range matches {
		segments := strings.Split(m[2], "|")
		name := strings.TrimSpace(segments[0])

		var filters []Filter
		seen := make(map[Filter]struct{}, len(segments)-1)
		for _, seg := range segments[1:] {
			token := strings.TrimSpace(seg)
			f, ok := ParseFilter(token)
			if !ok {
				return &Error{Kind: ErrUnknownFilter, Path: t.Path, Name: token,
					Detail: fmt.Sprintf("in block %q", name)}
			}
			if _, dup := seen[f]; dup {
				continue
			}
			seen[f] = struct{}{}
			filters = append(filters, f)
		}

		endName := strings.TrimSpace(m[5])
		if name != endName {
			return &Error{Kind: ErrMismatchedBlockName, Path: t.Path, Name: name,
				Detail: fmt.Sprintf("closed by endblock %q", endName)}
		}
		if _, dup := t.Blocks[name]; dup {
			return &Error{Kind: ErrDuplicateBlock, Path: t.Path, Name: name}
		}
		if n := strings.Count(content, m[4]); n > 1 {
			return &Error{Kind: ErrDuplicateBlock, Path: t.Path, Name: name,
				Detail: fmt.Sprintf("endblock appears %d times", n)}
		}

		t.Blocks[name] = &Block{
			Name:    name,
			Filters: filters,
			Outer:   m[0],
			Inner:   m[3],
		}
	}

	opens := len(p.openRe.FindAllStringIndex(content, -1))
	closes := len(p.closeRe.FindAllStringIndex(content, -1))
	if opens != len(matches) || closes != len(matches) {
		return &Error{Kind: ErrUnclosedBlock, Path: t.Path,
			Detail: fmt.Sprintf("%d block and %d endblock markers, %d complete blocks", opens, closes, len(matches))}
	}
	return nil
}

// Name returns the logical name of a template path: its location relative to
// the input root, with forward slashes. Pages reference bases by this name.
func (p *Parser) Name(path string) string {
	rel, err := filepath.Rel(p.inputRoot, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// OutputTarget maps a page path under the input root to its HTML destination
// under the output root.
func (p *Parser) OutputTarget(path string) string {
	rel := filepath.FromSlash(p.Name(path))
	rel = strings.TrimSuffix(rel, filepath.Ext(rel)) + ".html"
	return filepath.Join(p.outputRoot, rel)
}
