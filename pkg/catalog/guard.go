package catalog

import (
	"context"

	"github.com/google/uuid"
)

// Guard refuses deletes of resources that other records still reference.
// The check is not atomic with the delete that follows it: a reference
// created in between is not detected.
type Guard struct {
	records RecordStore
}

// NewGuard creates a guard over the given record store
func NewGuard(records RecordStore) *Guard {
	return &Guard{records: records}
}

// CheckDeletable returns a ReferentialIntegrityError naming the first
// dependent collection that references id, or nil
func (g *Guard) CheckDeletable(ctx context.Context, t ResourceType, id uuid.UUID) error {
	kind, err := KindOf(t)
	if err != nil {
		return err
	}

	for _, dep := range kind.Dependents() {
		refs, err := g.records.FindByField(ctx, dep.Collection, dep.Field, id.String())
		if err != nil {
			return &PersistenceError{Op: "find_references", Collection: dep.Collection, Err: err}
		}
		if len(refs) > 0 {
			return &ReferentialIntegrityError{Type: t, ID: id, Collection: dep.Collection}
		}
	}
	return nil
}
