// Package fs provides a MediaStore that keeps blobs on the local filesystem.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tendant/simple-catalog/pkg/catalog"
	"github.com/tendant/simple-catalog/pkg/catalog/assetkey"
)

// Config options for the filesystem media store
type Config struct {
	BaseDir   string // Base directory for storing files
	URLPrefix string // Public URL prefix the base directory is served under
	Keys      assetkey.Generator
}

// Store is a filesystem implementation of catalog.MediaStore
type Store struct {
	baseDir   string
	urlPrefix string
	keys      assetkey.Generator
}

// New creates a new filesystem media store
func New(config Config) (*Store, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}
	if err := os.MkdirAll(config.BaseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	if config.URLPrefix == "" {
		config.URLPrefix = "/media"
	}
	if config.Keys == nil {
		config.Keys = assetkey.NewDefaultGenerator()
	}

	return &Store{
		baseDir:   config.BaseDir,
		urlPrefix: strings.TrimSuffix(config.URLPrefix, "/"),
		keys:      config.Keys,
	}, nil
}

var _ catalog.MediaStore = (*Store)(nil)

// BaseDir returns the directory blobs are written to
func (s *Store) BaseDir() string {
	return s.baseDir
}

// Upload writes the blob to a temporary file and renames it into place, so
// a failed read never leaves a partial blob behind
func (s *Store) Upload(ctx context.Context, namespace string, body io.Reader, filenameHint string) (string, string, error) {
	assetID := s.keys.GenerateKey(namespace, filenameHint)
	filePath, err := s.path(assetID)
	if err != nil {
		return "", "", err
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return "", "", fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(filePath), ".upload-*")
	if err != nil {
		return "", "", fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, &contextReader{ctx: ctx, r: body}); err != nil {
		tmp.Close()
		return "", "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		return "", "", fmt.Errorf("failed to store file: %w", err)
	}

	return s.urlPrefix + "/" + assetID, assetID, nil
}

// Delete removes the blob. Missing files are not an error.
func (s *Store) Delete(ctx context.Context, assetID string) error {
	filePath, err := s.path(assetID)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// path resolves an asset id inside the base directory
func (s *Store) path(assetID string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(assetID))
	if assetID == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid asset id %q", assetID)
	}
	return filepath.Join(s.baseDir, clean), nil
}

// contextReader stops a copy once the context is done
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
