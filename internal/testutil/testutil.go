// Package testutil provides shared test helpers for setting up sites and
// manifests.
package testutil

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/kiln/internal/manifest"
	"github.com/starford/kiln/internal/storage"
)

// TestManifest creates a temporary manifest database that is automatically
// cleaned up.
func TestManifest(t *testing.T) *manifest.DB {
	t.Helper()
	db, err := manifest.Open(filepath.Join(t.TempDir(), "manifest.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestSite creates a temporary project with an input tree holding files and
// an empty output tree. It returns the project root and providers for the
// input and output directories.
func TestSite(t *testing.T, files map[string]string) (string, *storage.FS, *storage.FS) {
	t.Helper()
	root := t.TempDir()
	in, err := storage.EnsureFS(filepath.Join(root, "public"))
	if err != nil {
		t.Fatal(err)
	}
	out, err := storage.EnsureFS(filepath.Join(root, "dist"))
	if err != nil {
		t.Fatal(err)
	}
	for name, content := range files {
		WriteFile(t, in, name, content)
	}
	return root, in, out
}

// WriteFile writes content to name inside p.
func WriteFile(t *testing.T, p storage.Provider, name, content string) {
	t.Helper()
	if err := p.Write(name, []byte(content)); err != nil {
		t.Fatal(err)
	}
}

// ReadFile returns the content of name inside p.
func ReadFile(t *testing.T, p storage.Provider, name string) string {
	t.Helper()
	data, err := p.Read(name)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

// Logger returns a logger that discards everything, or writes JSON to
// stderr when KILN_TEST_LOG is set.
func Logger() *slog.Logger {
	var w io.Writer = io.Discard
	if os.Getenv("KILN_TEST_LOG") != "" {
		w = os.Stderr
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// Eventually polls fn every tick until it returns true or timeout elapses,
// failing the test with msg otherwise.
func Eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}
