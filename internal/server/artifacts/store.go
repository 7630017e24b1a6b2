// Package artifacts renders certificate images and PDFs and stores them in
// object storage (S3-compatible or Google Cloud Storage).
package artifacts

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"
)

// Store uploads and removes rendered artifacts.
type Store interface {
	// Put uploads body under key and returns its public URL.
	Put(ctx context.Context, key, contentType string, body []byte) (string, error)
	Delete(ctx context.Context, key string) error
	// KeyForURL maps a URL previously returned by Put back to its key.
	// It reports false for URLs the store does not own.
	KeyForURL(url string) (string, bool)
}

// Artifact extensions.
const (
	ExtJPG = "jpg"
	ExtPDF = "pdf"
)

// ObjectKey returns a versioned key so caches never serve a stale
// artifact after regeneration.
func ObjectKey(certificateID string, at time.Time, ext string) string {
	return fmt.Sprintf("certificates/%s/%d.%s", certificateID, at.UnixNano(), ext)
}

// ContentTypeForKey guesses the MIME type from the key's extension.
func ContentTypeForKey(key string) string {
	switch strings.ToLower(strings.TrimPrefix(path.Ext(key), ".")) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

// publicURLs builds and parses URLs of the form <base>/<key>.
type publicURLs struct {
	base string
}

func newPublicURLs(base string) publicURLs {
	return publicURLs{base: strings.TrimRight(base, "/")}
}

func (p publicURLs) url(key string) string {
	return p.base + "/" + key
}

func (p publicURLs) key(url string) (string, bool) {
	if p.base == "" || !strings.HasPrefix(url, p.base+"/") {
		return "", false
	}
	key := strings.TrimPrefix(url, p.base+"/")
	return key, key != ""
}
