// Package fs provides a local-filesystem implementation of blob.Store.
//
// URIs with a file:// scheme map to the absolute path they name; any other
// URI is flattened into a path under the configured root, so the same URI
// always lands at the same location.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"goa.design/webrun/runtime/browser/blob"
)

const fileScheme = "file://"

// Store writes payloads to the local filesystem.
type Store struct {
	root string
}

var _ blob.Store = (*Store)(nil)

// New returns a Store rooted at the given directory.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("root directory is required")
	}
	return &Store{root: root}, nil
}

// WriteBytes implements blob.Store.
func (s *Store) WriteBytes(_ context.Context, uri string, data []byte) error {
	dst, err := s.path(uri)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create blob dir: %w", err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("write blob %q: %w", uri, err)
	}
	return nil
}

// WriteFile implements blob.Store. The source is streamed, not loaded into
// memory.
func (s *Store) WriteFile(_ context.Context, uri string, path string) error {
	dst, err := s.path(uri)
	if err != nil {
		return err
	}
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open blob source %q: %w", path, err)
	}
	defer src.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create blob dir: %w", err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create blob %q: %w", uri, err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return fmt.Errorf("copy blob %q: %w", uri, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close blob %q: %w", uri, err)
	}
	return nil
}

// path maps a URI onto the filesystem.
func (s *Store) path(uri string) (string, error) {
	if uri == "" {
		return "", errors.New("uri is required")
	}
	if strings.HasPrefix(uri, fileScheme) {
		return strings.TrimPrefix(uri, fileScheme), nil
	}
	// Flatten other schemes (s3://bucket/key, ...) under the root.
	flat := strings.ReplaceAll(uri, "://", string(filepath.Separator))
	return filepath.Join(s.root, filepath.FromSlash(flat)), nil
}
