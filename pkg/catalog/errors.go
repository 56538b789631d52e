package catalog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Error types
var (
	// ErrNotFound indicates a record was not found in the record store
	ErrNotFound = errors.New("record not found")

	// ErrVersionConflict indicates a record changed since it was loaded
	ErrVersionConflict = errors.New("record version conflict")

	// ErrAssetRejected indicates an upload failed the format or size checks
	ErrAssetRejected = errors.New("asset rejected")

	// ErrUnknownResourceType indicates a resource type with no registered kind
	ErrUnknownResourceType = errors.New("unknown resource type")
)

// FieldError describes one invalid field
type FieldError struct {
	Field  string
	Reason string
}

// ValidationError reports missing or invalid fields. No record write happens
// when it is returned.
type ValidationError struct {
	Type   ResourceType
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + " " + f.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Type, strings.Join(parts, ", "))
}

// NotFoundError reports an unknown resource id
type NotFoundError struct {
	Type ResourceType
	ID   uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Type, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// ReferentialIntegrityError reports a delete refused because records in
// Collection still reference the resource
type ReferentialIntegrityError struct {
	Type       ResourceType
	ID         uuid.UUID
	Collection string
}

func (e *ReferentialIntegrityError) Error() string {
	return fmt.Sprintf("cannot delete %s %s: referenced by %s", e.Type, e.ID, e.Collection)
}

// ConflictError reports a write refused because the record was modified
// concurrently
type ConflictError struct {
	Type ResourceType
	ID   uuid.UUID
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s was modified concurrently", e.Type, e.ID)
}

func (e *ConflictError) Unwrap() error {
	return ErrVersionConflict
}

// MediaStoreError represents a failed call against the media store
type MediaStoreError struct {
	Op      string
	Slot    string
	AssetID string
	Err     error
}

func (e *MediaStoreError) Error() string {
	switch {
	case e.Slot != "":
		return fmt.Sprintf("media %s failed for slot %s: %v", e.Op, e.Slot, e.Err)
	case e.AssetID != "":
		return fmt.Sprintf("media %s failed for asset %s: %v", e.Op, e.AssetID, e.Err)
	default:
		return fmt.Sprintf("media %s failed: %v", e.Op, e.Err)
	}
}

func (e *MediaStoreError) Unwrap() error {
	return e.Err
}

// PersistenceError represents a failed call against the record store
type PersistenceError struct {
	Op         string
	Collection string
	Err        error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("record %s failed in %s: %v", e.Op, e.Collection, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
