// Package memory provides an in-memory MediaStore. Besides serving local
// development it records every call and can be told to fail, which makes
// it the fake used by the coordinator tests.
package memory

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/tendant/simple-catalog/pkg/catalog"
	"github.com/tendant/simple-catalog/pkg/catalog/assetkey"
)

// Call is one recorded MediaStore invocation
type Call struct {
	Op        string // "upload" or "delete"
	Namespace string
	FileName  string
	AssetID   string
	Err       error
}

// Store is an in-memory implementation of catalog.MediaStore
type Store struct {
	mu      sync.RWMutex
	objects map[string][]byte
	calls   []Call
	baseURL string
	keys    assetkey.Generator

	uploadErr func(namespace, fileName string) error
	deleteErr func(assetID string) error
}

// Option configures a Store
type Option func(*Store)

// WithBaseURL sets the prefix of the public URLs handed out
func WithBaseURL(baseURL string) Option {
	return func(s *Store) {
		s.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithKeyGenerator sets the asset id generator
func WithKeyGenerator(g assetkey.Generator) Option {
	return func(s *Store) {
		s.keys = g
	}
}

// New creates a new in-memory media store
func New(options ...Option) *Store {
	s := &Store{
		objects: make(map[string][]byte),
		baseURL: "memory://media",
		keys:    assetkey.NewDefaultGenerator(),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

var _ catalog.MediaStore = (*Store)(nil)

// Upload stores the blob and returns its URL and asset id
func (s *Store) Upload(ctx context.Context, namespace string, body io.Reader, filenameHint string) (string, string, error) {
	s.mu.RLock()
	failure := s.uploadErr
	s.mu.RUnlock()

	if failure != nil {
		if err := failure(namespace, filenameHint); err != nil {
			s.record(Call{Op: "upload", Namespace: namespace, FileName: filenameHint, Err: err})
			return "", "", err
		}
	}
	if err := ctx.Err(); err != nil {
		s.record(Call{Op: "upload", Namespace: namespace, FileName: filenameHint, Err: err})
		return "", "", err
	}

	data, err := io.ReadAll(body)
	if err != nil {
		s.record(Call{Op: "upload", Namespace: namespace, FileName: filenameHint, Err: err})
		return "", "", err
	}

	assetID := s.keys.GenerateKey(namespace, filenameHint)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[assetID] = data
	s.calls = append(s.calls, Call{Op: "upload", Namespace: namespace, FileName: filenameHint, AssetID: assetID})
	return s.baseURL + "/" + assetID, assetID, nil
}

// Delete removes the blob. Unknown asset ids are ignored.
func (s *Store) Delete(ctx context.Context, assetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deleteErr != nil {
		if err := s.deleteErr(assetID); err != nil {
			s.calls = append(s.calls, Call{Op: "delete", AssetID: assetID, Err: err})
			return err
		}
	}
	delete(s.objects, assetID)
	s.calls = append(s.calls, Call{Op: "delete", AssetID: assetID})
	return nil
}

// FailUploads makes Upload call fn first and fail with its error when
// non-nil. Passing nil restores normal behaviour.
func (s *Store) FailUploads(fn func(namespace, fileName string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploadErr = fn
}

// FailDeletes makes Delete call fn first and fail with its error when
// non-nil. Passing nil restores normal behaviour.
func (s *Store) FailDeletes(fn func(assetID string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteErr = fn
}

// FailUploadNamed fails uploads whose filename hint equals name
func (s *Store) FailUploadNamed(name string, err error) {
	s.FailUploads(func(_, fileName string) error {
		if fileName == name {
			return err
		}
		return nil
	})
}

// Has reports whether the asset is stored
func (s *Store) Has(assetID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[assetID]
	return ok
}

// Get returns the stored bytes of an asset
func (s *Store) Get(assetID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[assetID]
	if !ok {
		return nil, errors.New("asset not found")
	}
	return append([]byte(nil), data...), nil
}

// Len returns the number of stored assets
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// AssetIDs returns the ids of all stored assets
func (s *Store) AssetIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.objects))
	for id := range s.objects {
		ids = append(ids, id)
	}
	return ids
}

// Calls returns a copy of the call log
func (s *Store) Calls() []Call {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Call(nil), s.calls...)
}

// Deleted returns the asset ids passed to Delete, in call order
func (s *Store) Deleted() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for _, c := range s.calls {
		if c.Op == "delete" {
			ids = append(ids, c.AssetID)
		}
	}
	return ids
}

// ResetCalls clears the call log
func (s *Store) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

func (s *Store) record(c Call) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, c)
}
