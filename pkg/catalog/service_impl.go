package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
)

// service implements the Service interface
type service struct {
	records   RecordStore
	media     MediaStore
	guard     *Guard
	eventSink EventSink
	logger    *slog.Logger
	now       func() time.Time
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithRecordStore sets the record store for the service
func WithRecordStore(records RecordStore) Option {
	return func(s *service) {
		s.records = records
	}
}

// WithMediaStore sets the media store for the service
func WithMediaStore(media MediaStore) Option {
	return func(s *service) {
		s.media = media
	}
}

// WithEventSink sets the event sink for the service
func WithEventSink(sink EventSink) Option {
	return func(s *service) {
		s.eventSink = sink
	}
}

// WithLogger sets the logger used for warnings about compensations and
// orphaned assets
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// WithClock overrides the time source used for record timestamps
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		eventSink: NewNoopEventSink(),
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
	}

	for _, option := range options {
		option(s)
	}

	if s.records == nil {
		return nil, fmt.Errorf("record store is required")
	}
	if s.media == nil {
		return nil, fmt.Errorf("media store is required")
	}
	s.guard = NewGuard(s.records)

	return s, nil
}

// Create validates the fields, uploads every blob, then writes the record.
// A failure after any upload deletes the blobs of this request.
func (s *service) Create(ctx context.Context, req CreateRequest) (*Resource, error) {
	tx := newSaga("create", s.logger.With("type", req.Type))
	s.adoptStaged(tx, req.Staged)
	fail := func(err error) (*Resource, error) {
		tx.Rollback(ctx, err)
		return nil, err
	}

	kind, err := KindOf(req.Type)
	if err != nil {
		return fail(err)
	}

	res := newResource(kind)
	applyFields(kind, res, req.Fields)
	if err := kind.Validate(fieldsOf(kind, res)); err != nil {
		return fail(err)
	}
	uploads, err := planUploads(kind, req.Media, req.Staged)
	if err != nil {
		return fail(err)
	}
	for _, u := range uploads {
		if err := CheckUpload(u); err != nil {
			return fail(&MediaStoreError{Op: "upload", Slot: u.Slot, Err: err})
		}
	}

	for slot, asset := range req.Staged {
		a := asset
		res.SetAsset(slot, &a)
	}
	for _, u := range uploads {
		asset, err := s.upload(ctx, kind, u)
		if err != nil {
			return fail(err)
		}
		tx.Defer("delete "+asset.AssetID, s.deleteAsset(asset.AssetID))
		res.SetAsset(u.Slot, &asset)
	}

	now := s.now()
	res.Version = 1
	res.CreatedAt = now
	res.UpdatedAt = now

	id, err := s.records.Create(ctx, kind.Collection(), res)
	if err != nil {
		return fail(&PersistenceError{Op: "create", Collection: kind.Collection(), Err: err})
	}
	tx.Commit()
	res.ID = id

	s.emit(ctx, "resource_created", func() error { return s.eventSink.ResourceCreated(ctx, res) })
	return res, nil
}

func (s *service) Get(ctx context.Context, t ResourceType, id uuid.UUID, opts ...ReadOption) (*Resource, error) {
	kind, err := KindOf(t)
	if err != nil {
		return nil, err
	}
	res, err := s.records.FindByID(ctx, kind.Collection(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &NotFoundError{Type: t, ID: id}
		}
		return nil, &PersistenceError{Op: "find", Collection: kind.Collection(), Err: err}
	}
	if applyReadOptions(opts).expand {
		if err := s.expand(ctx, t, []*Resource{res}); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (s *service) List(ctx context.Context, req ListRequest, opts ...ReadOption) ([]*Resource, error) {
	kind, err := KindOf(req.Type)
	if err != nil {
		return nil, err
	}

	var resources []*Resource
	switch {
	case req.Field == "":
		resources, err = s.records.List(ctx, kind.Collection())
	case req.Field == kind.NameField():
		// display names live outside the attributes the stores index
		var all []*Resource
		all, err = s.records.List(ctx, kind.Collection())
		for _, r := range all {
			if r.DisplayName == req.Value {
				resources = append(resources, r)
			}
		}
	case hasAttribute(kind, req.Field):
		resources, err = s.records.FindByField(ctx, kind.Collection(), req.Field, req.Value)
	default:
		return nil, &ValidationError{Type: req.Type, Fields: []FieldError{{Field: req.Field, Reason: "is not filterable"}}}
	}
	if err != nil {
		return nil, &PersistenceError{Op: "list", Collection: kind.Collection(), Err: err}
	}
	if applyReadOptions(opts).expand {
		if err := s.expand(ctx, req.Type, resources); err != nil {
			return nil, err
		}
	}
	return resources, nil
}

// expand fills Refs for every reference attribute holding the id of an
// existing resource. Dangling and malformed ids are left unexpanded.
func (s *service) expand(ctx context.Context, t ResourceType, resources []*Resource) error {
	refs := ReferencesOf(t)
	if len(refs) == 0 {
		return nil
	}

	type key struct {
		t  ResourceType
		id uuid.UUID
	}
	cache := make(map[key]*ResourceRef)
	for _, res := range resources {
		for _, ref := range refs {
			id, err := uuid.Parse(res.Attribute(ref.Field))
			if err != nil {
				continue
			}
			k := key{ref.Type, id}
			found, seen := cache[k]
			if !seen {
				found, err = s.lookupRef(ctx, ref.Type, id)
				if err != nil {
					return err
				}
				cache[k] = found
			}
			if found == nil {
				continue
			}
			if res.Refs == nil {
				res.Refs = make(map[string]ResourceRef, len(refs))
			}
			res.Refs[ref.Field] = *found
		}
	}
	return nil
}

func (s *service) lookupRef(ctx context.Context, t ResourceType, id uuid.UUID) (*ResourceRef, error) {
	kind, err := KindOf(t)
	if err != nil {
		return nil, err
	}
	target, err := s.records.FindByID(ctx, kind.Collection(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, &PersistenceError{Op: "find_reference", Collection: kind.Collection(), Err: err}
	}
	return &ResourceRef{ID: id, Type: t, Name: target.DisplayName}, nil
}

// Update loads the record, merges fields, replaces each requested slot
// (upload first, then delete the previous blob) and writes the record once.
// A slot whose upload fails keeps its previous asset and is reported in the
// result. If the write fails the new blobs are deleted; blobs already
// replaced are gone and the stored record keeps pointing at them.
func (s *service) Update(ctx context.Context, req UpdateRequest) (*UpdateResult, error) {
	logger := s.logger.With("type", req.Type, "id", req.ID)
	tx := newSaga("update", logger)
	s.adoptStaged(tx, req.Staged)
	fail := func(err error) (*UpdateResult, error) {
		tx.Rollback(ctx, err)
		return nil, err
	}

	kind, err := KindOf(req.Type)
	if err != nil {
		return fail(err)
	}

	current, err := s.records.FindByID(ctx, kind.Collection(), req.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fail(&NotFoundError{Type: req.Type, ID: req.ID})
		}
		return fail(&PersistenceError{Op: "find", Collection: kind.Collection(), Err: err})
	}

	next := current.Clone()
	next.Refs = nil
	applyFields(kind, next, req.Fields)
	if err := kind.Validate(fieldsOf(kind, next)); err != nil {
		return fail(err)
	}
	uploads, err := planUploads(kind, req.Media, req.Staged)
	if err != nil {
		return fail(err)
	}
	for slot := range req.Failed {
		if !kind.HasSlot(slot) {
			return fail(unknownSlot(req.Type, slot))
		}
	}
	bySlot := make(map[string]MediaUpload, len(uploads))
	for _, u := range uploads {
		bySlot[u.Slot] = u
	}

	result := &UpdateResult{}
	var (
		replaced   []string
		undeleted  []string
		deleteErrs []error
	)
	for _, slot := range kind.SlotNames() {
		var asset MediaAsset
		if ferr, ok := req.Failed[slot]; ok {
			logger.Warn("Slot staging failed, keeping previous asset", "slot", slot, "error", ferr)
			result.FailedSlots = append(result.FailedSlots, SlotFailure{Slot: slot, Err: ferr})
			continue
		}
		if staged, ok := req.Staged[slot]; ok {
			asset = staged
		} else if u, ok := bySlot[slot]; ok {
			if err := CheckUpload(u); err != nil {
				result.FailedSlots = append(result.FailedSlots, SlotFailure{Slot: slot, Err: &MediaStoreError{Op: "upload", Slot: slot, Err: err}})
				continue
			}
			asset, err = s.upload(ctx, kind, u)
			if err != nil {
				logger.Warn("Slot upload failed, keeping previous asset", "slot", slot, "error", err)
				result.FailedSlots = append(result.FailedSlots, SlotFailure{Slot: slot, Err: err})
				continue
			}
			tx.Defer("delete "+asset.AssetID, s.deleteAsset(asset.AssetID))
		} else {
			continue
		}

		previous := next.Asset(slot)
		a := asset
		next.SetAsset(slot, &a)
		if previous == nil || previous.AssetID == asset.AssetID {
			continue
		}
		if err := s.media.Delete(ctx, previous.AssetID); err != nil {
			logger.Warn("Failed to delete replaced asset", "slot", slot, "asset_id", previous.AssetID, "error", err)
			undeleted = append(undeleted, previous.AssetID)
			deleteErrs = append(deleteErrs, err)
			continue
		}
		replaced = append(replaced, previous.AssetID)
	}

	next.UpdatedAt = s.now()
	stored, err := s.records.UpdateByID(ctx, kind.Collection(), req.ID, next)
	if err != nil {
		if len(replaced) > 0 {
			logger.Error("Record write failed after replaced assets were deleted; stored record references deleted assets",
				"asset_ids", replaced, "error", err)
		}
		switch {
		case errors.Is(err, ErrNotFound):
			return fail(&NotFoundError{Type: req.Type, ID: req.ID})
		case errors.Is(err, ErrVersionConflict):
			return fail(&ConflictError{Type: req.Type, ID: req.ID})
		default:
			return fail(&PersistenceError{Op: "update", Collection: kind.Collection(), Err: err})
		}
	}
	tx.Commit()
	result.Resource = stored

	// replaced blobs that survived are unreferenced only once the write landed
	for i, id := range undeleted {
		s.orphaned(ctx, id, deleteErrs[i])
	}

	s.emit(ctx, "resource_updated", func() error { return s.eventSink.ResourceUpdated(ctx, stored) })
	return result, nil
}

// Delete checks references, removes the record, then removes its blobs.
// Blob removal failures leave orphans; the record is not restored.
func (s *service) Delete(ctx context.Context, t ResourceType, id uuid.UUID) error {
	kind, err := KindOf(t)
	if err != nil {
		return err
	}

	if len(kind.Dependents()) > 0 {
		if err := s.guard.CheckDeletable(ctx, t, id); err != nil {
			return err
		}
	}

	removed, err := s.records.DeleteByID(ctx, kind.Collection(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return &NotFoundError{Type: t, ID: id}
		}
		return &PersistenceError{Op: "delete", Collection: kind.Collection(), Err: err}
	}

	cleanup := context.WithoutCancel(ctx)
	for _, asset := range removed.Assets() {
		if err := s.media.Delete(cleanup, asset.AssetID); err != nil {
			s.logger.Warn("Failed to delete asset of deleted record",
				"type", t, "id", id, "asset_id", asset.AssetID, "error", err)
			s.orphaned(cleanup, asset.AssetID, err)
		}
	}

	s.emit(ctx, "resource_deleted", func() error { return s.eventSink.ResourceDeleted(ctx, removed) })
	return nil
}

func (s *service) CheckDeletable(ctx context.Context, t ResourceType, id uuid.UUID) error {
	return s.guard.CheckDeletable(ctx, t, id)
}

func (s *service) Stage(ctx context.Context, t ResourceType, upload MediaUpload) (MediaAsset, error) {
	kind, err := KindOf(t)
	if err != nil {
		return MediaAsset{}, err
	}
	if !kind.HasSlot(upload.Slot) {
		return MediaAsset{}, unknownSlot(t, upload.Slot)
	}
	if err := CheckUpload(upload); err != nil {
		return MediaAsset{}, &MediaStoreError{Op: "upload", Slot: upload.Slot, Err: err}
	}
	return s.upload(ctx, kind, upload)
}

func (s *service) Discard(ctx context.Context, assets ...MediaAsset) {
	ctx = context.WithoutCancel(ctx)
	for _, a := range assets {
		if err := s.media.Delete(ctx, a.AssetID); err != nil {
			s.logger.Warn("Failed to discard staged asset", "asset_id", a.AssetID, "error", err)
			s.orphaned(ctx, a.AssetID, err)
		}
	}
}

// adoptStaged makes the operation responsible for deleting staged assets
// if it fails
func (s *service) adoptStaged(tx *saga, staged map[string]MediaAsset) {
	slots := make([]string, 0, len(staged))
	for slot := range staged {
		slots = append(slots, slot)
	}
	sort.Strings(slots)
	for _, slot := range slots {
		id := staged[slot].AssetID
		tx.Defer("delete staged "+id, s.deleteAsset(id))
	}
}

func (s *service) upload(ctx context.Context, kind Kind, u MediaUpload) (MediaAsset, error) {
	body := &sizeLimitedReader{r: u.Body, limit: MaxAssetSize}
	url, assetID, err := s.media.Upload(ctx, kind.Namespace(), body, u.FileName)
	if err != nil {
		if body.exceeded() && !errors.Is(err, ErrAssetRejected) {
			err = fmt.Errorf("%w: body exceeds the %d byte limit: %v", ErrAssetRejected, MaxAssetSize, err)
		}
		return MediaAsset{}, &MediaStoreError{Op: "upload", Slot: u.Slot, Err: err}
	}
	return MediaAsset{URL: url, AssetID: assetID}, nil
}

func (s *service) deleteAsset(assetID string) undoFunc {
	return func(ctx context.Context) error {
		if err := s.media.Delete(ctx, assetID); err != nil {
			s.orphaned(ctx, assetID, err)
			return &MediaStoreError{Op: "delete", AssetID: assetID, Err: err}
		}
		return nil
	}
}

func (s *service) orphaned(ctx context.Context, assetID string, cause error) {
	s.emit(ctx, "asset_orphaned", func() error { return s.eventSink.AssetOrphaned(ctx, assetID, cause) })
}

func (s *service) emit(ctx context.Context, event string, fire func() error) {
	if err := fire(); err != nil {
		s.logger.WarnContext(ctx, "Event sink failed", "event", event, "error", err)
	}
}

// planUploads checks slot names and returns the uploads in slot order
func planUploads(kind Kind, media []MediaUpload, staged map[string]MediaAsset) ([]MediaUpload, error) {
	var invalid []FieldError
	seen := make(map[string]bool, len(media)+len(staged))
	for slot := range staged {
		if !kind.HasSlot(slot) {
			invalid = append(invalid, FieldError{Field: slot, Reason: "is not a media slot"})
		}
		seen[slot] = true
	}
	for _, u := range media {
		switch {
		case !kind.HasSlot(u.Slot):
			invalid = append(invalid, FieldError{Field: u.Slot, Reason: "is not a media slot"})
		case seen[u.Slot]:
			invalid = append(invalid, FieldError{Field: u.Slot, Reason: "was supplied more than once"})
		}
		seen[u.Slot] = true
	}
	if len(invalid) > 0 {
		sort.Slice(invalid, func(i, j int) bool { return invalid[i].Field < invalid[j].Field })
		return nil, &ValidationError{Type: kind.Type(), Fields: invalid}
	}

	order := make(map[string]int)
	for i, name := range kind.SlotNames() {
		order[name] = i
	}
	planned := append([]MediaUpload(nil), media...)
	sort.SliceStable(planned, func(i, j int) bool { return order[planned[i].Slot] < order[planned[j].Slot] })
	return planned, nil
}

func unknownSlot(t ResourceType, slot string) error {
	return &ValidationError{Type: t, Fields: []FieldError{{Field: slot, Reason: "is not a media slot"}}}
}

func hasAttribute(kind Kind, field string) bool {
	for _, a := range kind.Attributes() {
		if a == field {
			return true
		}
	}
	return false
}
