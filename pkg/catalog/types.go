package catalog

import (
	"time"

	"github.com/google/uuid"
)

// ResourceType names a kind of catalog resource
type ResourceType string

const (
	ResourceTypeCategory    ResourceType = "category"
	ResourceTypeSubCategory ResourceType = "subcategory"
	ResourceTypePoster      ResourceType = "poster"
	ResourceTypeProduct     ResourceType = "product"
)

// String returns the string representation of the resource type
func (t ResourceType) String() string {
	return string(t)
}

// MediaAsset is a blob held by the MediaStore.
// AssetID is the only handle that can delete it; URL is the public reference.
type MediaAsset struct {
	URL     string `json:"url"`
	AssetID string `json:"asset_id"`
}

// Slot is a named position on a resource holding at most one asset
type Slot struct {
	Name  string      `json:"slot"`
	Asset *MediaAsset `json:"asset,omitempty"`
}

// Resource is a catalog record. Every resource carries all slots of its kind,
// in kind order, whether or not they are occupied.
type Resource struct {
	ID          uuid.UUID         `json:"id"`
	Type        ResourceType      `json:"type"`
	DisplayName string            `json:"name"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Slots       []Slot            `json:"slots"`
	Version     int64             `json:"version"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`

	// Refs holds the resources named by reference attributes, keyed by
	// attribute. It is filled on read when expansion is requested and is
	// never stored.
	Refs map[string]ResourceRef `json:"refs,omitempty"`
}

// ResourceRef is the short form of a referenced resource
type ResourceRef struct {
	ID   uuid.UUID    `json:"id"`
	Type ResourceType `json:"type"`
	Name string       `json:"name"`
}

// Asset returns the asset held in the named slot, or nil
func (r *Resource) Asset(slot string) *MediaAsset {
	for i := range r.Slots {
		if r.Slots[i].Name == slot {
			return r.Slots[i].Asset
		}
	}
	return nil
}

// SetAsset places asset into the named slot. It reports false when the
// resource has no such slot.
func (r *Resource) SetAsset(slot string, asset *MediaAsset) bool {
	for i := range r.Slots {
		if r.Slots[i].Name == slot {
			r.Slots[i].Asset = asset
			return true
		}
	}
	return false
}

// Assets returns the assets of all occupied slots in slot order
func (r *Resource) Assets() []MediaAsset {
	var assets []MediaAsset
	for _, s := range r.Slots {
		if s.Asset != nil {
			assets = append(assets, *s.Asset)
		}
	}
	return assets
}

// Clone returns a deep copy of the resource
func (r *Resource) Clone() *Resource {
	if r == nil {
		return nil
	}
	c := *r
	if r.Attributes != nil {
		c.Attributes = make(map[string]string, len(r.Attributes))
		for k, v := range r.Attributes {
			c.Attributes[k] = v
		}
	}
	if r.Refs != nil {
		c.Refs = make(map[string]ResourceRef, len(r.Refs))
		for k, v := range r.Refs {
			c.Refs[k] = v
		}
	}
	c.Slots = make([]Slot, len(r.Slots))
	for i, s := range r.Slots {
		c.Slots[i].Name = s.Name
		if s.Asset != nil {
			a := *s.Asset
			c.Slots[i].Asset = &a
		}
	}
	return &c
}

// Attribute returns the value of an attribute, or "" when unset
func (r *Resource) Attribute(key string) string {
	if r.Attributes == nil {
		return ""
	}
	return r.Attributes[key]
}
