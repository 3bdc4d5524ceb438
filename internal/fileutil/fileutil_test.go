package fileutil

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.mp4")
	dst := filepath.Join(dir, "dst.mp4")

	content := []byte("hello world")
	if err := os.WriteFile(src, content, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := CopyFile(src, dst); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(content) {
		t.Fatalf("content mismatch: got %q, want %q", got, content)
	}

	if err := CopyFile(src, dst); !errors.Is(err, os.ErrExist) {
		t.Fatalf("expected existing destination to be refused, got %v", err)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestWriteNewRemovesPartialFile(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "partial.bin")
	if err := WriteNew(dst, failingReader{}); err == nil {
		t.Fatal("expected error")
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Fatalf("expected partial file removal, got %v", err)
	}
}

func TestWriteNewStreams(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "out.bin")
	if err := WriteNew(dst, strings.NewReader("payload")); err != nil {
		t.Fatal(err)
	}
	got, _ := os.ReadFile(dst)
	if string(got) != "payload" {
		t.Fatalf("unexpected content %q", got)
	}
}

func TestReadWithin(t *testing.T) {
	root := t.TempDir()
	inside := filepath.Join(root, "out", "req", "merged.mp4")
	if err := os.MkdirAll(filepath.Dir(inside), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(inside, []byte("ok"), 0o644); err != nil {
		t.Fatal(err)
	}
	data, err := ReadWithin(root, inside)
	if err != nil || string(data) != "ok" {
		t.Fatalf("ReadWithin inside: %q %v", data, err)
	}

	outside := filepath.Join(root, "..", "elsewhere.mp4")
	if _, err := ReadWithin(root, outside); !errors.Is(err, ErrOutsideRoot) {
		t.Fatalf("expected ErrOutsideRoot, got %v", err)
	}
	if _, err := ReadWithin(root, filepath.Join(root, "out", "..", "..", "x")); !errors.Is(err, ErrOutsideRoot) {
		t.Fatalf("expected traversal to be rejected, got %v", err)
	}
}
