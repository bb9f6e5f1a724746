package assets

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/gzip"

	"github.com/starford/kiln/internal/storage"
)

func testTrees(t *testing.T) (*storage.FS, *storage.FS) {
	t.Helper()
	project, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	out, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return project, out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestCopy_FolderWithMatch(t *testing.T) {
	project, out := testTrees(t)
	_ = project.Write("public/images/a.png", []byte("a"))
	_ = project.Write("public/images/sub/b.png", []byte("b"))
	_ = project.Write("public/images/notes.txt", []byte("skip"))

	c := NewCopier(project, out, quietLogger())
	res, err := c.Copy(context.Background(), []Spec{{
		Source:      "public/images",
		Destination: "images",
		Match:       `\.png$`,
		Overwrite:   true,
	}})
	if err != nil {
		t.Fatalf("Copy: %v", err)
	}
	sort.Strings(res.Copied)
	want := []string{filepath.Join("images", "a.png"), filepath.Join("images", "sub", "b.png")}
	if diff := cmp.Diff(want, res.Copied); diff != "" {
		t.Errorf("copied (-want +got):\n%s", diff)
	}
	if out.Exists("images/notes.txt") {
		t.Error("unmatched file was copied")
	}
}

func TestCopy_SingleFileNoOverwrite(t *testing.T) {
	project, out := testTrees(t)
	_ = project.Write("CNAME", []byte("new"))
	_ = out.Write("CNAME", []byte("old"))

	c := NewCopier(project, out, quietLogger())
	res, err := c.Copy(context.Background(), []Spec{{Source: "CNAME", Destination: "CNAME"}})
	if err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if res.Skipped != 1 || len(res.Copied) != 0 {
		t.Errorf("result = %+v", res)
	}
	got, _ := out.Read("CNAME")
	if string(got) != "old" {
		t.Errorf("existing file overwritten: %q", got)
	}
}

func TestCopy_MissingSource(t *testing.T) {
	project, out := testTrees(t)
	c := NewCopier(project, out, quietLogger())
	if _, err := c.Copy(context.Background(), []Spec{{Source: "nope", Destination: "x"}}); err == nil {
		t.Fatal("expected error for missing source")
	}
}

func TestGzip(t *testing.T) {
	_, out := testTrees(t)
	_ = out.Write("index.html", []byte("<h1>hello</h1>"))
	_ = out.Write("img.png", []byte("png"))

	n, err := Gzip(context.Background(), out, DefaultGzipExtensions)
	if err != nil {
		t.Fatalf("Gzip: %v", err)
	}
	if n != 1 {
		t.Errorf("compressed %d files, want 1", n)
	}
	data, err := out.Read("index.html.gz")
	if err != nil {
		t.Fatalf("read gz: %v", err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	plain, _ := io.ReadAll(zr)
	if string(plain) != "<h1>hello</h1>" {
		t.Errorf("decompressed = %q", plain)
	}
	if out.Exists("img.png.gz") {
		t.Error("png should not be compressed")
	}
}
