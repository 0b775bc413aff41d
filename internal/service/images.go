package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ImageStore removes listing images once their auction is deleted
type ImageStore interface {
	Remove(ctx context.Context, path string) error
}

// LocalImageStore keeps images under a single directory on disk
type LocalImageStore struct {
	dir string
}

func NewLocalImageStore(dir string) *LocalImageStore {
	return &LocalImageStore{dir: dir}
}

// Remove deletes path relative to the image directory. Missing files are fine.
func (s *LocalImageStore) Remove(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}
	clean := filepath.Clean("/" + path)
	full := filepath.Join(s.dir, clean)
	if !strings.HasPrefix(full, filepath.Clean(s.dir)+string(filepath.Separator)) {
		return fmt.Errorf("image path %q escapes image directory", path)
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove image: %w", err)
	}
	return nil
}
