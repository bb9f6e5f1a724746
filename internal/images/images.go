// Package images keeps a content-addressed image library inside the project.
// The library directory is copied into the site by the asset step, so an
// image added here is served at URL after the next build.
package images

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/starford/kiln/internal/article"
	"github.com/starford/kiln/internal/checksum"
	"github.com/starford/kiln/internal/manifest"
	"github.com/starford/kiln/internal/storage"
)

// MaxSize is the largest image the library accepts.
const MaxSize = 10 << 20

var (
	ErrTooLarge    = errors.New("image too large")
	ErrUnsupported = errors.New("unsupported image type")
)

var extensions = map[string]string{
	"image/png":     ".png",
	"image/jpeg":    ".jpg",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/svg+xml": ".svg",
}

// Image is one library image.
type Image struct {
	Name     string    `json:"name"`
	Source   string    `json:"source"`
	URL      string    `json:"url"`
	Checksum string    `json:"checksum"`
	Origin   string    `json:"origin,omitempty"`
	AddedAt  time.Time `json:"added_at"`
	Markdown string    `json:"markdown"`
}

// Index records library images. *manifest.DB implements it.
type Index interface {
	ImageByChecksum(sum string) (manifest.ImageRow, bool, error)
	AddImage(row manifest.ImageRow) error
	Images() ([]manifest.ImageRow, error)
}

// Library stores images under dir in the project tree.
type Library struct {
	project storage.Provider
	dir     string
	urlRoot string
	index   Index
	now     func() time.Time

	mu sync.Mutex
}

// New creates a library. dir is relative to project; destination is where the
// asset step copies dir inside the output, which fixes the public URL.
func New(project storage.Provider, dir, destination string, index Index) *Library {
	return &Library{
		project: project,
		dir:     filepath.Clean(dir),
		urlRoot: "/" + strings.Trim(filepath.ToSlash(destination), "/"),
		index:   index,
		now:     time.Now,
	}
}

// Sniff returns the file extension for data's image type.
func Sniff(data []byte) (string, error) {
	mime, _, _ := strings.Cut(http.DetectContentType(data), ";")
	if ext, ok := extensions[mime]; ok {
		return ext, nil
	}
	head := data[:min(len(data), 1024)]
	if strings.HasPrefix(mime, "text/") && bytes.Contains(head, []byte("<svg")) {
		return ".svg", nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupported, mime)
}

// Add stores data under a name derived from hint and the content checksum.
// Adding identical content again returns the stored image and false.
func (l *Library) Add(hint string, data []byte, origin string) (*Image, bool, error) {
	if len(data) > MaxSize {
		return nil, false, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, len(data), MaxSize)
	}
	ext, err := Sniff(data)
	if err != nil {
		return nil, false, err
	}
	sum := checksum.Sum(data)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.index != nil {
		row, ok, err := l.index.ImageByChecksum(sum)
		if err != nil {
			return nil, false, err
		}
		if ok && l.project.Exists(filepath.Join(l.dir, row.Name)) {
			return l.image(row), false, nil
		}
	}

	stem := article.Slug(strings.TrimSuffix(path.Base(filepath.ToSlash(hint)), path.Ext(hint)))
	if stem == "" {
		stem = "image"
	}
	row := manifest.ImageRow{
		Name:     stem + "-" + sum[:12] + ext,
		Checksum: sum,
		Origin:   origin,
		AddedAt:  l.now().UTC(),
	}
	if l.project.Exists(filepath.Join(l.dir, row.Name)) {
		return l.image(row), false, nil
	}
	if err := l.project.Write(filepath.Join(l.dir, row.Name), data); err != nil {
		return nil, false, err
	}
	if l.index != nil {
		if err := l.index.AddImage(row); err != nil {
			return nil, false, err
		}
	}
	return l.image(row), true, nil
}

// List returns the recorded images whose files are still in the library.
func (l *Library) List() ([]*Image, error) {
	if l.index == nil {
		return l.scan()
	}
	rows, err := l.index.Images()
	if err != nil {
		return nil, err
	}
	out := make([]*Image, 0, len(rows))
	for _, row := range rows {
		if l.project.Exists(filepath.Join(l.dir, row.Name)) {
			out = append(out, l.image(row))
		}
	}
	return out, nil
}

func (l *Library) scan() ([]*Image, error) {
	entries, err := l.project.List(l.dir)
	if err != nil {
		return nil, err
	}
	out := make([]*Image, 0, len(entries))
	for _, e := range entries {
		out = append(out, l.image(manifest.ImageRow{Name: filepath.Base(e.Path), AddedAt: e.ModTime}))
	}
	return out, nil
}

func (l *Library) image(row manifest.ImageRow) *Image {
	url := path.Join(l.urlRoot, row.Name)
	return &Image{
		Name:     row.Name,
		Source:   filepath.ToSlash(filepath.Join(l.dir, row.Name)),
		URL:      url,
		Checksum: row.Checksum,
		Origin:   row.Origin,
		AddedAt:  row.AddedAt,
		Markdown: fmt.Sprintf("![%s](%s)", strings.TrimSuffix(row.Name, path.Ext(row.Name)), url),
	}
}
