package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/google/uuid"
)

// Blob is an uploaded object held by MemoryStore.
type Blob struct {
	ContentType string
	Content     []byte
}

// MemoryStore keeps blobs in a map. For development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	baseURL string
	blobs   map[string]Blob
}

func NewMemoryStore(baseURL string) (*MemoryStore, error) {
	if baseURL == "" {
		return nil, ErrEmptyBaseURL
	}

	return &MemoryStore{baseURL: baseURL, blobs: make(map[string]Blob)}, nil
}

func (s *MemoryStore) Upload(ctx context.Context, content io.Reader, contentType string) (string, error) {
	ext, err := ExtensionFor(contentType)
	if err != nil {
		return "", err
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, content); err != nil {
		return "", errors.Join(ErrUploadFailed, err)
	}

	name := uuid.NewString() + ext

	s.mu.Lock()
	defer s.mu.Unlock()

	s.blobs[name] = Blob{ContentType: contentType, Content: buf.Bytes()}

	return joinURL(s.baseURL, name), nil
}

func (s *MemoryStore) Delete(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	name, err := nameFromURL(s.baseURL, url)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blobs[name]; !ok {
		return errors.Join(ErrBlobNotFound, errors.New(url))
	}

	delete(s.blobs, name)

	return nil
}

// Get returns the blob stored under url.
func (s *MemoryStore) Get(url string) (Blob, error) {
	name, err := nameFromURL(s.baseURL, url)
	if err != nil {
		return Blob{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	blob, ok := s.blobs[name]
	if !ok {
		return Blob{}, errors.Join(ErrBlobNotFound, errors.New(url))
	}

	return blob, nil
}

// Len is the number of stored blobs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.blobs)
}
