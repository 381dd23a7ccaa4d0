// Package blobfs is a filesystem-backed remote blob store.
package blobfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Store writes uploaded objects below a root directory.
type Store struct {
	root string
}

// New creates a Store rooted at dir, creating the directory if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &Store{root: dir}, nil
}

// Upload copies localPath to remotePath. The object appears atomically: readers
// see either the previous object or the complete new one.
func (s *Store) Upload(ctx context.Context, localPath, remotePath string) error {
	dst, err := s.resolve(remotePath)
	if err != nil {
		return err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("upload %s: %w", remotePath, err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("upload %s: %w", remotePath, err)
	}

	tmp := filepath.Join(filepath.Dir(dst), ".upload-"+uuid.NewString())
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("upload %s: %w", remotePath, err)
	}
	defer os.Remove(tmp)

	if _, err := io.Copy(out, contextReader{ctx: ctx, r: src}); err != nil {
		out.Close()
		return fmt.Errorf("upload %s: %w", remotePath, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("upload %s: %w", remotePath, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("upload %s: %w", remotePath, err)
	}
	return nil
}

// Exists reports whether an object has been uploaded.
func (s *Store) Exists(remotePath string) (bool, error) {
	p, err := s.resolve(remotePath)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) resolve(remotePath string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(remotePath))
	if remotePath == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid object path %q", remotePath)
	}
	return filepath.Join(s.root, clean), nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
