package localfs

import (
	"context"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/kirillkom/hybrid-retriever/internal/core/domain"
)

func TestSaveOpenRoundTrip(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}
	ctx := context.Background()

	if err := s.Save(ctx, "acme.com_chunks.bin", strings.NewReader("first")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Save(ctx, "acme.com_chunks.bin", strings.NewReader("second")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	rc, err := s.Open(ctx, "acme.com_chunks.bin")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if string(got) != "second" {
		t.Fatalf("content = %q, want second", got)
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s, _ := New(dir)
	if err := s.Save(context.Background(), "k_dense.bin", strings.NewReader("data")); err != nil {
		t.Fatalf("save: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "k_dense.bin" {
		t.Fatalf("unexpected dir contents: %v", entries)
	}
}

func TestExistsAndDelete(t *testing.T) {
	s, _ := New(t.TempDir())
	ctx := context.Background()

	ok, err := s.Exists(ctx, "missing.bin")
	if err != nil || ok {
		t.Fatalf("exists(missing) = %v, %v", ok, err)
	}
	if err := s.Save(ctx, "present.bin", strings.NewReader("x")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if ok, _ := s.Exists(ctx, "present.bin"); !ok {
		t.Fatalf("expected artifact to exist")
	}
	if err := s.Delete(ctx, "present.bin"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, "present.bin"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
	if ok, _ := s.Exists(ctx, "present.bin"); ok {
		t.Fatalf("expected artifact to be gone")
	}
}

func TestOpenMissingIsCacheMiss(t *testing.T) {
	s, _ := New(t.TempDir())
	_, err := s.Open(context.Background(), "nope.bin")
	if !domain.IsKind(err, domain.ErrCacheMiss) {
		t.Fatalf("expected cache miss, got %v", err)
	}
}

func TestRejectsPathTraversal(t *testing.T) {
	s, _ := New(t.TempDir())
	err := s.Save(context.Background(), "../escape.bin", strings.NewReader("x"))
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestSaveLongestSourceKeyArtifacts(t *testing.T) {
	s, _ := New(t.TempDir())
	ctx := context.Background()

	key, err := domain.NormalizeSourceKey("https://acme.com/search?" + strings.Repeat("q", 400))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	for _, suffix := range []string{"_chunks.bin", "_lexical.bin", "_dense.bin"} {
		name := string(key) + suffix
		if err := s.Save(ctx, name, strings.NewReader("x")); err != nil {
			t.Fatalf("save %d-byte name: %v", len(name), err)
		}
		if ok, err := s.Exists(ctx, name); err != nil || !ok {
			t.Fatalf("exists(%s) = %v, %v", suffix, ok, err)
		}
	}
}
