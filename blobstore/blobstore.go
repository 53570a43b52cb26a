// Package blobstore stores book documents and cover images and hands back the URL they are served under.
package blobstore

import (
	"context"
	"errors"
	"io"
	"strings"
)

var (
	ErrUploadFailed       = errors.New("blob upload failed")
	ErrEmptyContentType   = errors.New("content type must not be empty")
	ErrUnsupportedContent = errors.New("unsupported content type")
	ErrBlobNotFound       = errors.New("blob not found")
	ErrEmptyBaseURL       = errors.New("base url must not be empty")
	ErrEmptyDirectory     = errors.New("directory must not be empty")
)

// Store is the contract the catalog depends on.
type Store interface {
	// Upload consumes content and returns the URL the blob is reachable under.
	Upload(ctx context.Context, content io.Reader, contentType string) (string, error)

	// Delete removes the blob served under url. An unknown url is ErrBlobNotFound.
	Delete(ctx context.Context, url string) error
}

var extensions = map[string]string{
	"application/pdf": ".pdf",
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"image/gif":       ".gif",
}

// ExtensionFor maps a content type onto the file extension blobs of that type are stored with.
// Parameters like "; charset=binary" are ignored.
func ExtensionFor(contentType string) (string, error) {
	mediaType, _, _ := strings.Cut(contentType, ";")
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))

	if mediaType == "" {
		return "", ErrEmptyContentType
	}

	ext, ok := extensions[mediaType]
	if !ok {
		return "", errors.Join(ErrUnsupportedContent, errors.New(mediaType))
	}

	return ext, nil
}

func joinURL(baseURL string, name string) string {
	return strings.TrimRight(baseURL, "/") + "/" + name
}

// nameFromURL is the inverse of joinURL. Only plain file names under baseURL qualify.
func nameFromURL(baseURL string, url string) (string, error) {
	name, ok := strings.CutPrefix(url, strings.TrimRight(baseURL, "/")+"/")
	if !ok || name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return "", errors.Join(ErrBlobNotFound, errors.New(url))
	}

	return name, nil
}
