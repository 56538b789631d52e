package catalog

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the resource lifecycle operations
type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Resource, error)
	Get(ctx context.Context, t ResourceType, id uuid.UUID, opts ...ReadOption) (*Resource, error)
	List(ctx context.Context, req ListRequest, opts ...ReadOption) ([]*Resource, error)
	Update(ctx context.Context, req UpdateRequest) (*UpdateResult, error)
	Delete(ctx context.Context, t ResourceType, id uuid.UUID) error

	// CheckDeletable reports whether a delete would be refused by the guard
	CheckDeletable(ctx context.Context, t ResourceType, id uuid.UUID) error

	// Stage uploads a blob for a request that is still being parsed
	Stage(ctx context.Context, t ResourceType, upload MediaUpload) (MediaAsset, error)
	// Discard deletes staged assets that never reached Create or Update
	Discard(ctx context.Context, assets ...MediaAsset)
}
