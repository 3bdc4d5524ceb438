package fileutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned when a path escapes the directory it must live in.
var ErrOutsideRoot = errors.New("path outside root")

// CopyFile streams src to dst, creating dst exclusively with mode 0o644.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	return WriteNew(dst, in)
}

// WriteNew creates dst exclusively and streams r into it. A partial file is
// removed on failure.
func WriteNew(dst string, r io.Reader) error {
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return nil
}

// Within resolves path and verifies it lies inside root.
func Within(root, path string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	return absPath, nil
}

// ReadWithin reads path after verifying it lies inside root.
func ReadWithin(root, path string) ([]byte, error) {
	resolved, err := Within(root, path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(resolved)
}
