package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// FileSystemStore writes blobs into a local directory. The HTTP layer serves that
// directory under the configured base URL.
type FileSystemStore struct {
	dir     string
	baseURL string
}

// NewFileSystemStore creates dir if it does not exist.
func NewFileSystemStore(dir string, baseURL string) (*FileSystemStore, error) {
	if dir == "" {
		return nil, ErrEmptyDirectory
	}

	if baseURL == "" {
		return nil, ErrEmptyBaseURL
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating blob directory: %w", err)
	}

	return &FileSystemStore{dir: dir, baseURL: baseURL}, nil
}

// Upload writes to a temporary file first and renames it, so a reader never sees a partial blob.
func (s *FileSystemStore) Upload(ctx context.Context, content io.Reader, contentType string) (string, error) {
	ext, err := ExtensionFor(contentType)
	if err != nil {
		return "", err
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	name := uuid.NewString() + ext

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", errors.Join(ErrUploadFailed, err)
	}

	if _, err := io.Copy(tmp, content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())

		return "", errors.Join(ErrUploadFailed, err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", errors.Join(ErrUploadFailed, err)
	}

	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		_ = os.Remove(tmp.Name())
		return "", errors.Join(ErrUploadFailed, err)
	}

	return joinURL(s.baseURL, name), nil
}

func (s *FileSystemStore) Delete(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	name, err := nameFromURL(s.baseURL, url)
	if err != nil {
		return err
	}

	if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return errors.Join(ErrBlobNotFound, errors.New(url))
		}

		return fmt.Errorf("deleting blob: %w", err)
	}

	return nil
}

// Dir is the directory blobs are written to.
func (s *FileSystemStore) Dir() string {
	return s.dir
}
