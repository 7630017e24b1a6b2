package artifacts

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSConfig holds Google Cloud Storage settings.
type GCSConfig struct {
	Bucket string
	// CredentialsFile is a service account JSON; empty uses ADC.
	CredentialsFile string
	// PublicBaseURL prefixes keys in returned URLs, e.g. a CDN origin.
	// Defaults to https://storage.googleapis.com/<bucket>.
	PublicBaseURL string
}

const (
	gcsUploadTimeout = 2 * time.Minute
	gcsDeleteTimeout = 30 * time.Second
)

type GCSStore struct {
	client *storage.Client
	bucket string
	urls   publicURLs
}

func NewGCSStore(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	base := cfg.PublicBaseURL
	if base == "" {
		base = "https://storage.googleapis.com/" + cfg.Bucket
	}
	return &GCSStore{client: client, bucket: cfg.Bucket, urls: newPublicURLs(base)}, nil
}

func (g *GCSStore) Put(ctx context.Context, key, contentType string, body []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, gcsUploadTimeout)
	defer cancel()

	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("gcs write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs close %s: %w", key, err)
	}
	return g.urls.url(key), nil
}

func (g *GCSStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, gcsDeleteTimeout)
	defer cancel()

	if err := g.client.Bucket(g.bucket).Object(key).Delete(ctx); err != nil {
		return fmt.Errorf("gcs delete %s: %w", key, err)
	}
	return nil
}

func (g *GCSStore) KeyForURL(url string) (string, bool) {
	return g.urls.key(url)
}

// Close releases the underlying client.
func (g *GCSStore) Close() error {
	return g.client.Close()
}
