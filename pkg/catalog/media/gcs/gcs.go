// Package gcs provides a MediaStore backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/tendant/simple-catalog/pkg/catalog"
	"github.com/tendant/simple-catalog/pkg/catalog/assetkey"
)

// Config options for the GCS media store
type Config struct {
	Bucket string
	// CDNDomain serves objects instead of storage.googleapis.com when set
	CDNDomain string
	// Credentials is a service account JSON document or a path to one.
	// Application default credentials are used when empty.
	Credentials string
	Keys        assetkey.Generator
}

// Store is a GCS implementation of catalog.MediaStore
type Store struct {
	client    *storage.Client
	bucket    string
	cdnDomain string
	keys      assetkey.Generator
}

// ClientOptions turns a credentials setting into client options
func ClientOptions(credentials string) []option.ClientOption {
	creds := strings.TrimSpace(credentials)
	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	if creds == "" {
		return opts
	}
	if strings.HasPrefix(creds, "{") {
		return append(opts, option.WithCredentialsJSON([]byte(creds)))
	}
	return append(opts, option.WithCredentialsFile(creds))
}

// New creates a new GCS media store. Close releases the client.
func New(ctx context.Context, config Config, opts ...option.ClientOption) (*Store, error) {
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if config.Keys == nil {
		config.Keys = assetkey.NewDefaultGenerator()
	}

	client, err := storage.NewClient(ctx, append(ClientOptions(config.Credentials), opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return &Store{
		client:    client,
		bucket:    config.Bucket,
		cdnDomain: strings.TrimSuffix(config.CDNDomain, "/"),
		keys:      config.Keys,
	}, nil
}

var _ catalog.MediaStore = (*Store)(nil)

// Upload writes the blob through an object writer. The object only becomes
// visible when the writer closes successfully.
func (s *Store) Upload(ctx context.Context, namespace string, body io.Reader, filenameHint string) (string, string, error) {
	assetID := s.keys.GenerateKey(namespace, filenameHint)

	// Cancelling the writer context aborts the upload
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(assetID).NewWriter(wctx)
	w.ContentType = catalog.ContentType(filenameHint)
	if _, err := io.Copy(w, body); err != nil {
		cancel()
		_ = w.Close()
		return "", "", fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", "", fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return s.URL(assetID), assetID, nil
}

// Delete removes the object. A missing object is not an error.
func (s *Store) Delete(ctx context.Context, assetID string) error {
	err := s.client.Bucket(s.bucket).Object(assetID).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete GCS object %q in bucket %q: %w", assetID, s.bucket, err)
	}
	return nil
}

// URL returns the public URL of an asset
func (s *Store) URL(assetID string) string {
	return publicURL(s.bucket, s.cdnDomain, assetID)
}

// Close releases the storage client
func (s *Store) Close() error {
	return s.client.Close()
}

func publicURL(bucket, cdnDomain, key string) string {
	if cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", cdnDomain, key)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bucket, key)
}
