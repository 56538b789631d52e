package catalog

import (
	"fmt"
	"strconv"
	"strings"
)

// Dependent names a collection whose records hold a soft foreign key to a kind
type Dependent struct {
	Type       ResourceType
	Collection string
	Field      string
}

// Reference is an attribute of one kind holding the id of a resource of
// another kind
type Reference struct {
	Field string
	Type  ResourceType
}

// Kind is the capability set the Service needs from a resource type.
// The create/update/delete protocols are written once against it.
type Kind interface {
	Type() ResourceType
	// Collection is the RecordStore collection holding this kind
	Collection() string
	// Namespace is the MediaStore folder for this kind's blobs
	Namespace() string
	// NameField is the request field carrying the display name
	NameField() string
	SlotNames() []string
	HasSlot(name string) bool
	// Attributes lists every attribute key the kind keeps
	Attributes() []string
	// Validate checks a complete set of fields (display name included)
	Validate(fields map[string]string) error
	// Dependents lists collections that must be empty of references
	// before a resource of this kind may be deleted
	Dependents() []Dependent
}

type kindDef struct {
	typ        ResourceType
	collection string
	namespace  string
	nameField  string
	slots      []string
	required   []string
	optional   []string
	numeric    []string
	dependents []Dependent
}

func (k *kindDef) Type() ResourceType      { return k.typ }
func (k *kindDef) Collection() string      { return k.collection }
func (k *kindDef) Namespace() string       { return k.namespace }
func (k *kindDef) NameField() string       { return k.nameField }
func (k *kindDef) SlotNames() []string     { return append([]string(nil), k.slots...) }
func (k *kindDef) Dependents() []Dependent { return append([]Dependent(nil), k.dependents...) }

func (k *kindDef) HasSlot(name string) bool {
	for _, s := range k.slots {
		if s == name {
			return true
		}
	}
	return false
}

func (k *kindDef) Attributes() []string {
	attrs := make([]string, 0, len(k.required)+len(k.optional))
	attrs = append(attrs, k.required...)
	return append(attrs, k.optional...)
}

func (k *kindDef) Validate(fields map[string]string) error {
	var invalid []FieldError
	if strings.TrimSpace(fields[k.nameField]) == "" {
		invalid = append(invalid, FieldError{Field: k.nameField, Reason: "is required"})
	}
	for _, f := range k.required {
		if strings.TrimSpace(fields[f]) == "" {
			invalid = append(invalid, FieldError{Field: f, Reason: "is required"})
		}
	}
	for _, f := range k.numeric {
		v := strings.TrimSpace(fields[f])
		if v == "" {
			continue
		}
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			invalid = append(invalid, FieldError{Field: f, Reason: "must be a number"})
		}
	}
	if len(invalid) > 0 {
		return &ValidationError{Type: k.typ, Fields: invalid}
	}
	return nil
}

// Product slot names
const (
	SlotImage  = "img"
	SlotImage1 = "image1"
	SlotImage2 = "image2"
	SlotImage3 = "image3"
	SlotImage4 = "image4"
	SlotImage5 = "image5"
)

// Collection names
const (
	CollectionCategories    = "categories"
	CollectionSubCategories = "subcategories"
	CollectionPosters       = "posters"
	CollectionProducts      = "products"
)

var kinds = map[ResourceType]Kind{
	ResourceTypeCategory: &kindDef{
		typ:        ResourceTypeCategory,
		collection: CollectionCategories,
		namespace:  "categories",
		nameField:  "name",
		slots:      []string{SlotImage},
		dependents: []Dependent{
			{Type: ResourceTypeSubCategory, Collection: CollectionSubCategories, Field: "categoryId"},
			{Type: ResourceTypeProduct, Collection: CollectionProducts, Field: "categoryId"},
		},
	},
	ResourceTypeSubCategory: &kindDef{
		typ:        ResourceTypeSubCategory,
		collection: CollectionSubCategories,
		namespace:  "subcategories",
		nameField:  "name",
		required:   []string{"categoryId"},
		dependents: []Dependent{
			{Type: ResourceTypeProduct, Collection: CollectionProducts, Field: "subCategoryId"},
		},
	},
	ResourceTypePoster: &kindDef{
		typ:        ResourceTypePoster,
		collection: CollectionPosters,
		namespace:  "posters",
		nameField:  "posterName",
		slots:      []string{SlotImage},
	},
	ResourceTypeProduct: &kindDef{
		typ:        ResourceTypeProduct,
		collection: CollectionProducts,
		namespace:  "products",
		nameField:  "name",
		slots:      []string{SlotImage1, SlotImage2, SlotImage3, SlotImage4, SlotImage5},
		required:   []string{"quantity", "price", "categoryId", "subCategoryId"},
		optional:   []string{"description", "offerPrice", "brandId", "variantTypeId", "variantId"},
		numeric:    []string{"quantity", "price", "offerPrice"},
	},
}

// ResourceTypes lists the supported resource types in a stable order
var ResourceTypes = []ResourceType{
	ResourceTypeCategory,
	ResourceTypeSubCategory,
	ResourceTypePoster,
	ResourceTypeProduct,
}

// ReferencesOf lists the reference attributes of t. They are the dependent
// edges other kinds declare on t, so products reference categories through
// categoryId and subcategories through subCategoryId.
func ReferencesOf(t ResourceType) []Reference {
	var refs []Reference
	for _, owner := range ResourceTypes {
		for _, dep := range kinds[owner].Dependents() {
			if dep.Type == t {
				refs = append(refs, Reference{Field: dep.Field, Type: owner})
			}
		}
	}
	return refs
}

// KindOf returns the kind registered for t
func KindOf(t ResourceType) (Kind, error) {
	k, ok := kinds[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownResourceType, t)
	}
	return k, nil
}

// newResource builds an empty resource with every slot of the kind present
func newResource(k Kind) *Resource {
	names := k.SlotNames()
	slots := make([]Slot, len(names))
	for i, n := range names {
		slots[i] = Slot{Name: n}
	}
	return &Resource{
		Type:       k.Type(),
		Attributes: map[string]string{},
		Slots:      slots,
	}
}

// fieldsOf flattens a resource back into request-style fields
func fieldsOf(k Kind, r *Resource) map[string]string {
	fields := make(map[string]string, len(r.Attributes)+1)
	for key, v := range r.Attributes {
		fields[key] = v
	}
	fields[k.NameField()] = r.DisplayName
	return fields
}

// applyFields copies the known fields of the kind onto the resource.
// Keys absent from fields, or sent blank, leave the resource untouched.
func applyFields(k Kind, r *Resource, fields map[string]string) {
	if v := strings.TrimSpace(fields[k.NameField()]); v != "" {
		r.DisplayName = v
	}
	if r.Attributes == nil {
		r.Attributes = map[string]string{}
	}
	for _, key := range k.Attributes() {
		if v := strings.TrimSpace(fields[key]); v != "" {
			r.Attributes[key] = v
		}
	}
}
