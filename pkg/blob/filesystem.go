package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// FilesystemStorage stores payloads as files under a base directory.
// Backed by afero so tests can run against an in-memory filesystem.
type FilesystemStorage struct {
	fs      afero.Fs
	baseDir string
}

// NewFilesystemStorage creates filesystem-backed payload storage rooted at baseDir
func NewFilesystemStorage(fs afero.Fs, baseDir string) (*FilesystemStorage, error) {
	if err := fs.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create payload directory %s: %w", baseDir, err)
	}
	return &FilesystemStorage{fs: fs, baseDir: baseDir}, nil
}

// NewLocalStorage creates payload storage on the host filesystem
func NewLocalStorage(baseDir string) (*FilesystemStorage, error) {
	return NewFilesystemStorage(afero.NewOsFs(), baseDir)
}

// Store writes the payload under a uuid-prefixed name and returns the ref
func (s *FilesystemStorage) Store(ctx context.Context, name string, r io.Reader) (string, error) {
	// Sanitize the original filename; the ref must stay within baseDir.
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, string(os.PathSeparator), "_")
	ref := uuid.New().String() + "_" + base

	path := filepath.Join(s.baseDir, ref)
	f, err := s.fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create payload file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		s.fs.Remove(path)
		return "", fmt.Errorf("failed to write payload: %w", err)
	}
	return ref, nil
}

// Open returns a reader for the stored payload
func (s *FilesystemStorage) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	path := filepath.Join(s.baseDir, filepath.Base(ref))
	f, err := s.fs.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open payload %s: %w", ref, err)
	}
	return f, nil
}

// Delete removes the stored payload. Deleting a missing ref is not an error.
func (s *FilesystemStorage) Delete(ctx context.Context, ref string) error {
	path := filepath.Join(s.baseDir, filepath.Base(ref))
	if err := s.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete payload %s: %w", ref, err)
	}
	return nil
}
