package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/tendant/simple-catalog/pkg/catalog"
)

type entry struct {
	seq int64
	doc *catalog.Resource
}

// Repository implements catalog.RecordStore using in-memory storage
type Repository struct {
	mu          sync.RWMutex
	seq         int64
	collections map[string]map[uuid.UUID]*entry
}

// New creates a new in-memory record store
func New() *Repository {
	return &Repository{
		collections: make(map[string]map[uuid.UUID]*entry),
	}
}

var _ catalog.RecordStore = (*Repository)(nil)

func (r *Repository) Create(ctx context.Context, collection string, doc *catalog.Resource) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	docs, ok := r.collections[collection]
	if !ok {
		docs = make(map[uuid.UUID]*entry)
		r.collections[collection] = docs
	}

	id := uuid.New()
	// Store a copy to avoid external modifications
	stored := doc.Clone()
	stored.ID = id
	r.seq++
	docs[id] = &entry{seq: r.seq, doc: stored}
	return id, nil
}

func (r *Repository) FindByID(ctx context.Context, collection string, id uuid.UUID) (*catalog.Resource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.collections[collection][id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return e.doc.Clone(), nil
}

func (r *Repository) UpdateByID(ctx context.Context, collection string, id uuid.UUID, doc *catalog.Resource) (*catalog.Resource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.collections[collection][id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	if e.doc.Version != doc.Version {
		return nil, catalog.ErrVersionConflict
	}

	stored := doc.Clone()
	stored.ID = id
	stored.CreatedAt = e.doc.CreatedAt
	stored.Version = e.doc.Version + 1
	e.doc = stored
	return stored.Clone(), nil
}

func (r *Repository) DeleteByID(ctx context.Context, collection string, id uuid.UUID) (*catalog.Resource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.collections[collection][id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	delete(r.collections[collection], id)
	return e.doc, nil
}

func (r *Repository) FindByField(ctx context.Context, collection, field, value string) ([]*catalog.Resource, error) {
	return r.list(collection, func(doc *catalog.Resource) bool {
		v, ok := doc.Attributes[field]
		return ok && v == value
	}), nil
}

func (r *Repository) List(ctx context.Context, collection string) ([]*catalog.Resource, error) {
	return r.list(collection, nil), nil
}

// list returns matching documents newest first
func (r *Repository) list(collection string, match func(*catalog.Resource) bool) []*catalog.Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]*entry, 0, len(r.collections[collection]))
	for _, e := range r.collections[collection] {
		if match == nil || match(e.doc) {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq > entries[j].seq })

	docs := make([]*catalog.Resource, len(entries))
	for i, e := range entries {
		docs[i] = e.doc.Clone()
	}
	return docs
}
