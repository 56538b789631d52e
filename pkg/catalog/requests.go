package catalog

import (
	"io"

	"github.com/google/uuid"
)

// MediaUpload is one blob destined for a slot
type MediaUpload struct {
	Slot     string
	FileName string
	Body     io.Reader
	// Size is the declared size in bytes; zero when unknown
	Size int64
}

// CreateRequest contains parameters for creating a resource
type CreateRequest struct {
	Type   ResourceType
	Fields map[string]string
	Media  []MediaUpload
	// Staged holds assets already uploaded through Stage, keyed by slot
	Staged map[string]MediaAsset
}

// UpdateRequest contains parameters for updating a resource. Fields absent
// from the map keep their stored values.
type UpdateRequest struct {
	Type   ResourceType
	ID     uuid.UUID
	Fields map[string]string
	Media  []MediaUpload
	Staged map[string]MediaAsset
	// Failed holds slots whose blob could not be staged. They keep their
	// previous asset and are reported in the result.
	Failed map[string]error
}

// ListRequest contains parameters for listing resources. When Field is set
// only resources whose attribute (or display name, for the kind's name
// field) equals Value are returned.
type ListRequest struct {
	Type  ResourceType
	Field string
	Value string
}

// SlotFailure reports a slot whose new blob could not be stored
type SlotFailure struct {
	Slot string `json:"slot"`
	Err  error  `json:"-"`
}

// UpdateResult is the outcome of a committed update
type UpdateResult struct {
	Resource *Resource
	// FailedSlots lists slots left unchanged because their upload failed
	FailedSlots []SlotFailure
}

// Partial reports whether any slot failed
func (r *UpdateResult) Partial() bool {
	return len(r.FailedSlots) > 0
}

// ReadOption configures Get and List
type ReadOption func(*readOptions)

type readOptions struct {
	expand bool
}

// ExpandReferences resolves reference attributes into Resource.Refs
func ExpandReferences() ReadOption {
	return func(o *readOptions) {
		o.expand = true
	}
}

func applyReadOptions(opts []ReadOption) readOptions {
	var o readOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
