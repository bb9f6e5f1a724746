package storage

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/natefinch/atomic"
)

// FS implements Provider backed by the local file system.
type FS struct {
	root string // absolute path to the site directory
}

// NewFS creates a new FS provider rooted at the given directory.
// The directory must already exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// EnsureFS creates root if needed and returns a provider for it.
func EnsureFS(root string) (*FS, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create root: %w", err)
	}
	return NewFS(root)
}

// Root returns the absolute root directory.
func (f *FS) Root() string { return f.root }

// safePath resolves a relative path against the root and rejects any result
// that escapes it (directory traversal).
func (f *FS) safePath(rel string) (string, error) {
	if rel == "" {
		return f.root, nil
	}
	cleaned := filepath.Clean(rel)
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("storage: absolute paths not allowed: %s", rel)
	}
	abs := filepath.Join(f.root, cleaned)
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) && abs != f.root {
		return "", fmt.Errorf("storage: path escapes root: %s", rel)
	}
	return abs, nil
}

// Glob returns root-relative paths of files matching pattern, sorted.
func (f *FS) Glob(pattern string) ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(f.root), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("storage: glob %s: %w", pattern, err)
	}
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = filepath.FromSlash(m)
	}
	sort.Strings(out)
	return out, nil
}

// List walks dir and returns every regular file beneath it.
func (f *FS) List(dir string) ([]Entry, error) {
	base, err := f.safePath(dir)
	if err != nil {
		return nil, err
	}
	var out []Entry
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(f.root, p)
		out = append(out, Entry{Path: rel, Size: info.Size(), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	return out, nil
}

// Read returns the raw bytes of a file.
func (f *FS) Read(path string) ([]byte, error) {
	abs, err := f.safePath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	return data, nil
}

// Write atomically replaces the file at path with content.
func (f *FS) Write(path string, content []byte) error {
	abs, err := f.safePath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}
	if err := atomic.WriteFile(abs, bytes.NewReader(content)); err != nil {
		return fmt.Errorf("storage: write %s: %w", path, err)
	}
	return nil
}

// Exists reports whether path is an existing regular file.
func (f *FS) Exists(path string) bool {
	abs, err := f.safePath(path)
	if err != nil {
		return false
	}
	info, err := os.Stat(abs)
	return err == nil && info.Mode().IsRegular()
}

// Delete removes a file.
func (f *FS) Delete(path string) error {
	abs, err := f.safePath(path)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		return fmt.Errorf("storage: delete %s: %w", path, err)
	}
	return nil
}

// Clean removes everything inside the root, leaving the root itself.
func (f *FS) Clean() error {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return fmt.Errorf("storage: clean: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(f.root, e.Name())); err != nil {
			return fmt.Errorf("storage: clean %s: %w", e.Name(), err)
		}
	}
	return nil
}

// MoveToTrash moves the root's contents into trashDir/<timestamp> and
// recreates an empty root. It returns the directory the contents went to.
// Builds within the same second get a numeric suffix.
func (f *FS) MoveToTrash(trashDir string, now time.Time) (string, error) {
	stamp := filepath.Join(trashDir, now.Format("2006-01-02-at-15-04-05"))
	dest := stamp
	for i := 2; ; i++ {
		if _, err := os.Stat(dest); os.IsNotExist(err) {
			break
		}
		dest = fmt.Sprintf("%s-%d", stamp, i)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("storage: create trash: %w", err)
	}
	if err := os.Rename(f.root, dest); err != nil {
		return "", fmt.Errorf("storage: move to trash: %w", err)
	}
	if err := os.MkdirAll(f.root, 0o755); err != nil {
		return "", fmt.Errorf("storage: recreate root: %w", err)
	}
	return dest, nil
}
