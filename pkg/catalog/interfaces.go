package catalog

import (
	"context"
	"io"

	"github.com/google/uuid"
)

// MediaStore defines the interface for external blob storage
type MediaStore interface {
	// Upload stores a blob under namespace and returns its public URL and
	// the asset id that can later delete it
	Upload(ctx context.Context, namespace string, body io.Reader, filenameHint string) (url string, assetID string, err error)

	// Delete removes a blob. Deleting an unknown asset id is not an error.
	Delete(ctx context.Context, assetID string) error
}

// RecordStore defines the interface for resource record persistence.
// A single call is atomic for one document; there are no cross-document
// transactions.
type RecordStore interface {
	// Create stores doc and returns the identifier assigned to it
	Create(ctx context.Context, collection string, doc *Resource) (uuid.UUID, error)

	// FindByID returns ErrNotFound for unknown ids
	FindByID(ctx context.Context, collection string, id uuid.UUID) (*Resource, error)

	// UpdateByID replaces the stored document when its version still equals
	// doc.Version and returns the stored result with the version advanced.
	// It returns ErrNotFound or ErrVersionConflict.
	UpdateByID(ctx context.Context, collection string, id uuid.UUID, doc *Resource) (*Resource, error)

	// DeleteByID removes the document and returns what was removed
	DeleteByID(ctx context.Context, collection string, id uuid.UUID) (*Resource, error)

	// FindByField returns every document whose attribute field equals value
	FindByField(ctx context.Context, collection, field, value string) ([]*Resource, error)

	// List returns every document of the collection, newest first
	List(ctx context.Context, collection string) ([]*Resource, error)
}

// EventSink defines the interface for lifecycle notifications
type EventSink interface {
	// ResourceCreated is fired after a create commits
	ResourceCreated(ctx context.Context, resource *Resource) error

	// ResourceUpdated is fired after an update commits
	ResourceUpdated(ctx context.Context, resource *Resource) error

	// ResourceDeleted is fired after a delete commits
	ResourceDeleted(ctx context.Context, resource *Resource) error

	// AssetOrphaned is fired when a blob could not be removed and no record
	// references it any longer
	AssetOrphaned(ctx context.Context, assetID string, cause error) error
}
