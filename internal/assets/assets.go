// Package assets copies static files into the site output and writes
// precompressed siblings for text assets.
package assets

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/starford/kiln/internal/logging"
	"github.com/starford/kiln/internal/storage"
)

// Spec describes one asset copy. Source is a file or folder relative to the
// project provider; Destination is relative to the output provider. For
// folders, only files whose source-relative path matches Match are copied.
type Spec struct {
	Source      string
	Destination string
	Match       string
	Overwrite   bool
}

// Result counts what a copy pass did.
type Result struct {
	Copied  []string
	Skipped int
}

// Copier copies assets from the project tree into the output tree.
type Copier struct {
	project storage.Provider
	out     storage.Provider
	logger  *slog.Logger
}

// NewCopier creates a Copier.
func NewCopier(project, out storage.Provider, logger *slog.Logger) *Copier {
	return &Copier{project: project, out: out, logger: logger}
}

// Copy runs every spec in order.
func (c *Copier) Copy(ctx context.Context, specs []Spec) (Result, error) {
	var res Result
	for _, spec := range specs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := c.copySpec(ctx, spec, &res); err != nil {
			return res, fmt.Errorf("assets: %s: %w", spec.Source, err)
		}
	}
	return res, nil
}

func (c *Copier) copySpec(ctx context.Context, spec Spec, res *Result) error {
	if c.project.Exists(spec.Source) {
		return c.copyFile(spec.Source, spec.Destination, spec.Overwrite, res)
	}

	var match *regexp.Regexp
	if spec.Match != "" {
		re, err := regexp.Compile(spec.Match)
		if err != nil {
			return fmt.Errorf("compile match: %w", err)
		}
		match = re
	}

	entries, err := c.project.List(spec.Source)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(filepath.Clean(spec.Source), e.Path)
		if err != nil {
			return err
		}
		if match != nil && !match.MatchString(filepath.ToSlash(rel)) {
			continue
		}
		if err := c.copyFile(e.Path, filepath.Join(spec.Destination, rel), spec.Overwrite, res); err != nil {
			return err
		}
	}
	return nil
}

func (c *Copier) copyFile(src, dst string, overwrite bool, res *Result) error {
	if !overwrite && c.out.Exists(dst) {
		res.Skipped++
		return nil
	}
	data, err := c.project.Read(src)
	if err != nil {
		return err
	}
	if err := c.out.Write(dst, data); err != nil {
		return err
	}
	c.logger.Info(dst, slog.String(logging.ActionKey, "copy"), slog.Bool("overwrite", overwrite))
	res.Copied = append(res.Copied, dst)
	return nil
}

// DefaultGzipExtensions lists the text formats worth precompressing.
var DefaultGzipExtensions = []string{".html", ".css", ".js", ".svg", ".json", ".xml", ".txt"}

// Gzip writes a .gz sibling next to every output file with one of exts.
// It returns the number of files compressed.
func Gzip(ctx context.Context, out storage.Provider, exts []string) (int, error) {
	entries, err := out.List("")
	if err != nil {
		return 0, err
	}
	want := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		want[strings.ToLower(e)] = struct{}{}
	}

	n := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if _, ok := want[strings.ToLower(filepath.Ext(e.Path))]; !ok {
			continue
		}
		data, err := out.Read(e.Path)
		if err != nil {
			return n, err
		}
		compressed, err := compress(data)
		if err != nil {
			return n, fmt.Errorf("assets: gzip %s: %w", e.Path, err)
		}
		if err := out.Write(e.Path+".gz", compressed); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
