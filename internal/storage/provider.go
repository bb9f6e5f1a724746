// Package storage defines the site file-system abstraction used for both the
// template input tree and the rendered output tree.
package storage

import "time"

// Entry describes one file under a Provider root.
type Entry struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// Provider is the interface for site file operations. All paths are relative
// to the provider root and use the host separator.
type Provider interface {
	// Root returns the absolute directory the provider is rooted at.
	Root() string
	// Glob returns the files matching a doublestar pattern such as "**/*.md".
	Glob(pattern string) ([]string, error)
	// List returns every regular file under dir.
	List(dir string) ([]Entry, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path, creating parent directories.
	Write(path string, content []byte) error
	// Exists reports whether a regular file exists at path.
	Exists(path string) bool
	// Delete removes the file at path.
	Delete(path string) error
}
