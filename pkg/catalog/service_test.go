package catalog_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-catalog/pkg/catalog"
	mediamemory "github.com/tendant/simple-catalog/pkg/catalog/media/memory"
	"github.com/tendant/simple-catalog/pkg/catalog/records/memory"
)

type mockRecordStore struct {
	mock.Mock
}

func (m *mockRecordStore) Create(ctx context.Context, collection string, doc *catalog.Resource) (uuid.UUID, error) {
	args := m.Called(ctx, collection, doc)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (m *mockRecordStore) FindByID(ctx context.Context, collection string, id uuid.UUID) (*catalog.Resource, error) {
	args := m.Called(ctx, collection, id)
	res, _ := args.Get(0).(*catalog.Resource)
	return res, args.Error(1)
}

func (m *mockRecordStore) UpdateByID(ctx context.Context, collection string, id uuid.UUID, doc *catalog.Resource) (*catalog.Resource, error) {
	args := m.Called(ctx, collection, id, doc)
	res, _ := args.Get(0).(*catalog.Resource)
	return res, args.Error(1)
}

func (m *mockRecordStore) DeleteByID(ctx context.Context, collection string, id uuid.UUID) (*catalog.Resource, error) {
	args := m.Called(ctx, collection, id)
	res, _ := args.Get(0).(*catalog.Resource)
	return res, args.Error(1)
}

func (m *mockRecordStore) FindByField(ctx context.Context, collection, field, value string) ([]*catalog.Resource, error) {
	args := m.Called(ctx, collection, field, value)
	res, _ := args.Get(0).([]*catalog.Resource)
	return res, args.Error(1)
}

func (m *mockRecordStore) List(ctx context.Context, collection string) ([]*catalog.Resource, error) {
	args := m.Called(ctx, collection)
	res, _ := args.Get(0).([]*catalog.Resource)
	return res, args.Error(1)
}

type recordingSink struct {
	catalog.NoopEventSink
	mu       sync.Mutex
	created  int
	updated  int
	deleted  int
	orphaned []string
	err      error
}

func (s *recordingSink) ResourceCreated(ctx context.Context, r *catalog.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created++
	return s.err
}

func (s *recordingSink) ResourceUpdated(ctx context.Context, r *catalog.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updated++
	return s.err
}

func (s *recordingSink) ResourceDeleted(ctx context.Context, r *catalog.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted++
	return s.err
}

func (s *recordingSink) AssetOrphaned(ctx context.Context, assetID string, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orphaned = append(s.orphaned, assetID)
	return s.err
}

type fixture struct {
	svc     catalog.Service
	records *memory.Repository
	media   *mediamemory.Store
	sink    *recordingSink
}

func setupTestService(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		records: memory.New(),
		media:   mediamemory.New(),
		sink:    &recordingSink{},
	}
	svc, err := catalog.New(
		catalog.WithRecordStore(f.records),
		catalog.WithMediaStore(f.media),
		catalog.WithEventSink(f.sink),
	)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func image(slot, name, data string) catalog.MediaUpload {
	return catalog.MediaUpload{
		Slot:     slot,
		FileName: name,
		Body:     strings.NewReader(data),
		Size:     int64(len(data)),
	}
}

func productFields(name string) map[string]string {
	return map[string]string{
		"name":          name,
		"quantity":      "3",
		"price":         "19.99",
		"categoryId":    uuid.NewString(),
		"subCategoryId": uuid.NewString(),
		"description":   "A product",
	}
}

func uploadsAndDeletes(calls []mediamemory.Call) (uploaded, deleted []string) {
	for _, c := range calls {
		switch {
		case c.Op == "upload" && c.Err == nil:
			uploaded = append(uploaded, c.AssetID)
		case c.Op == "delete":
			deleted = append(deleted, c.AssetID)
		}
	}
	return uploaded, deleted
}

func TestServiceCreation(t *testing.T) {
	tests := []struct {
		name        string
		options     []catalog.Option
		expectError bool
	}{
		{
			name:        "no options should fail",
			options:     []catalog.Option{},
			expectError: true,
		},
		{
			name:        "without media store should fail",
			options:     []catalog.Option{catalog.WithRecordStore(memory.New())},
			expectError: true,
		},
		{
			name:        "without record store should fail",
			options:     []catalog.Option{catalog.WithMediaStore(mediamemory.New())},
			expectError: true,
		},
		{
			name: "with both stores should succeed",
			options: []catalog.Option{
				catalog.WithRecordStore(memory.New()),
				catalog.WithMediaStore(mediamemory.New()),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := catalog.New(tt.options...)
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, svc)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, svc)
			}
		})
	}
}

func TestCreate_CategoryWithImage(t *testing.T) {
	f := setupTestService(t)
	ctx := context.Background()
	blob := string(bytes.Repeat([]byte{0xff}, 2<<20))

	res, err := f.svc.Create(ctx, catalog.CreateRequest{
		Type:   catalog.ResourceTypeCategory,
		Fields: map[string]string{"name": "Shoes"},
		Media:  []catalog.MediaUpload{image(catalog.SlotImage, "shoes.jpg", blob)},
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, res.ID)
	assert.Equal(t, "Shoes", res.DisplayName)
	assert.Equal(t, int64(1), res.Version)

	asset := res.Asset(catalog.SlotImage)
	require.NotNil(t, asset)
	assert.NotEmpty(t, asset.URL)
	assert.True(t, f.media.Has(asset.AssetID))

	stored, err := f.svc.Get(ctx, catalog.ResourceTypeCategory, res.ID)
	require.NoError(t, err)
	assert.Equal(t, asset.AssetID, stored.Asset(catalog.SlotImage).AssetID)
	assert.Equal(t, 1, f.sink.created)
}

func TestCreate_WithoutImage(t *testing.T) {
	f := setupTestService(t)

	res, err := f.svc.Create(context.Background(), catalog.CreateRequest{
		Type:   catalog.ResourceTypePoster,
		Fields: map[string]string{"posterName": "Summer sale"},
	})
	require.NoError(t, err)
	assert.Nil(t, res.Asset(catalog.SlotImage))
	require.Len(t, res.Slots, 1)
	assert.Empty(t, f.media.Calls())
}

func TestCreate_ValidationBeforeUpload(t *testing.T) {
	f := setupTestService(t)

	_, err := f.svc.Create(context.Background(), catalog.CreateRequest{
		Type:   catalog.ResourceTypeProduct,
		Fields: map[string]string{"name": "Shoe", "price": "abc"},
		Media:  []catalog.MediaUpload{image(catalog.SlotImage1, "a.jpg", "x")},
	})

	var verr *catalog.ValidationError
	require.ErrorAs(t, err, &verr)
	fields := make([]string, len(verr.Fields))
	for i, fe := range verr.Fields {
		fields[i] = fe.Field
	}
	assert.ElementsMatch(t, []string{"quantity", "price", "categoryId", "subCategoryId"}, fields)
	assert.Empty(t, f.media.Calls())
}

func TestCreate_RejectedAssets(t *testing.T) {
	tests := []struct {
		name   string
		upload catalog.MediaUpload
	}{
		{
			name:   "format not allowed",
			upload: image(catalog.SlotImage, "anim.gif", "gif"),
		},
		{
			name: "declared size over limit",
			upload: catalog.MediaUpload{
				Slot: catalog.SlotImage, FileName: "big.png",
				Body: strings.NewReader("x"), Size: catalog.MaxAssetSize + 1,
			},
		},
		{
			name: "undeclared size over limit",
			upload: catalog.MediaUpload{
				Slot: catalog.SlotImage, FileName: "big.png",
				Body: bytes.NewReader(make([]byte, catalog.MaxAssetSize+1)),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupTestService(t)

			_, err := f.svc.Create(context.Background(), catalog.CreateRequest{
				Type:   catalog.ResourceTypeCategory,
				Fields: map[string]string{"name": "Shoes"},
				Media:  []catalog.MediaUpload{tt.upload},
			})

			var merr *catalog.MediaStoreError
			require.ErrorAs(t, err, &merr)
			assert.ErrorIs(t, err, catalog.ErrAssetRejected)
			assert.Equal(t, 0, f.media.Len())

			all, err := f.records.List(context.Background(), catalog.CollectionCategories)
			require.NoError(t, err)
			assert.Empty(t, all)
		})
	}
}

func TestCreate_UnknownSlot(t *testing.T) {
	f := setupTestService(t)

	_, err := f.svc.Create(context.Background(), catalog.CreateRequest{
		Type:   catalog.ResourceTypeCategory,
		Fields: map[string]string{"name": "Shoes"},
		Media:  []catalog.MediaUpload{image(catalog.SlotImage1, "a.jpg", "x")},
	})
	var verr *catalog.ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Empty(t, f.media.Calls())
}

func TestCreate_UnknownType(t *testing.T) {
	f := setupTestService(t)

	_, err := f.svc.Create(context.Background(), catalog.CreateRequest{Type: "brand"})
	assert.ErrorIs(t, err, catalog.ErrUnknownResourceType)
}

func TestCreate_UploadFailureCompensatesEarlierUploads(t *testing.T) {
	f := setupTestService(t)
	boom := errors.New("media store unavailable")
	f.media.FailUploadNamed("three.jpg", boom)

	_, err := f.svc.Create(context.Background(), catalog.CreateRequest{
		Type:   catalog.ResourceTypeProduct,
		Fields: productFields("Shoe"),
		Media: []catalog.MediaUpload{
			image(catalog.SlotImage1, "one.jpg", "1"),
			image(catalog.SlotImage2, "two.jpg", "2"),
			image(catalog.SlotImage3, "three.jpg", "3"),
			image(catalog.SlotImage4, "four.jpg", "4"),
		},
	})

	var merr *catalog.MediaStoreError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, catalog.SlotImage3, merr.Slot)
	assert.ErrorIs(t, err, boom)

	uploaded, deleted := uploadsAndDeletes(f.media.Calls())
	assert.Len(t, uploaded, 2)
	assert.ElementsMatch(t, uploaded, deleted)
	assert.Equal(t, 0, f.media.Len())

	all, err := f.records.List(context.Background(), catalog.CollectionProducts)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCreate_PersistenceFailureCompensates(t *testing.T) {
	records := &mockRecordStore{}
	media := mediamemory.New()
	svc, err := catalog.New(catalog.WithRecordStore(records), catalog.WithMediaStore(media))
	require.NoError(t, err)

	dbErr := errors.New("connection reset")
	records.On("Create", mock.Anything, catalog.CollectionProducts, mock.Anything).Return(uuid.Nil, dbErr)

	_, err = svc.Create(context.Background(), catalog.CreateRequest{
		Type:   catalog.ResourceTypeProduct,
		Fields: productFields("Shoe"),
		Media: []catalog.MediaUpload{
			image(catalog.SlotImage1, "one.jpg", "1"),
			image(catalog.SlotImage2, "two.png", "2"),
			image(catalog.SlotImage5, "five.jpeg", "5"),
		},
	})

	var perr *catalog.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, dbErr)

	uploaded, deleted := uploadsAndDeletes(media.Calls())
	require.Len(t, uploaded, 3)
	// One delete per upload, newest first
	assert.Equal(t, []string{uploaded[2], uploaded[1], uploaded[0]}, deleted)
	assert.Equal(t, 0, media.Len())
	records.AssertExpectations(t)
}

func TestCreate_CompensationFailureKeepsOriginalError(t *testing.T) {
	records := &mockRecordStore{}
	media := mediamemory.New()
	sink := &recordingSink{}
	svc, err := catalog.New(
		catalog.WithRecordStore(records),
		catalog.WithMediaStore(media),
		catalog.WithEventSink(sink),
	)
	require.NoError(t, err)

	records.On("Create", mock.Anything, catalog.CollectionCategories, mock.Anything).Return(uuid.Nil, errors.New("disk full"))
	media.FailDeletes(func(string) error { return errors.New("delete refused") })

	_, err = svc.Create(context.Background(), catalog.CreateRequest{
		Type:   catalog.ResourceTypeCategory,
		Fields: map[string]string{"name": "Shoes"},
		Media:  []catalog.MediaUpload{image(catalog.SlotImage, "a.png", "x")},
	})

	var perr *catalog.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.NotContains(t, err.Error(), "delete refused")
	assert.Len(t, sink.orphaned, 1)
}

func TestCreate_StagedAssetsCompensatedOnValidationError(t *testing.T) {
	f := setupTestService(t)
	ctx := context.Background()

	staged, err := f.svc.Stage(ctx, catalog.ResourceTypeCategory, image(catalog.SlotImage, "shoes.png", "png"))
	require.NoError(t, err)
	require.True(t, f.media.Has(staged.AssetID))

	_, err = f.svc.Create(ctx, catalog.CreateRequest{
		Type:   catalog.ResourceTypeCategory,
		Fields: map[string]string{},
		Staged: map[string]catalog.MediaAsset{catalog.SlotImage: staged},
	})
	var verr *catalog.ValidationError
	require.ErrorAs(t, err, &verr)

	calls := f.media.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "upload", calls[0].Op)
	assert.Equal(t, "delete", calls[1].Op)
	assert.Equal(t, calls[0].AssetID, calls[1].AssetID)
	assert.False(t, f.media.Has(staged.AssetID))
}

func TestCreate_WithStagedAssets(t *testing.T) {
	f := setupTestService(t)
	ctx := context.Background()

	staged, err := f.svc.Stage(ctx, catalog.ResourceTypePoster, image(catalog.SlotImage, "banner.png", "png"))
	require.NoError(t, err)

	res, err := f.svc.Create(ctx, catalog.CreateRequest{
		Type:   catalog.ResourceTypePoster,
		Fields: map[string]string{"posterName": "Banner"},
		Staged: map[string]catalog.MediaAsset{catalog.SlotImage: staged},
	})
	require.NoError(t, err)
	assert.Equal(t, staged, *res.Asset(catalog.SlotImage))
	assert.True(t, f.media.Has(staged.AssetID))
}

func TestStage_RejectsUnknownSlotAndFormat(t *testing.T) {
	f := setupTestService(t)
	ctx := context.Background()

	_, err := f.svc.Stage(ctx, catalog.ResourceTypePoster, image("banner", "a.png", "x"))
	var verr *catalog.ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = f.svc.Stage(ctx, catalog.ResourceTypePoster, image(catalog.SlotImage, "a.bmp", "x"))
	assert.ErrorIs(t, err, catalog.ErrAssetRejected)
	assert.Empty(t, f.media.Calls())
}

func TestDiscard(t *testing.T) {
	f := setupTestService(t)
	ctx := context.Background()

	a, err := f.svc.Stage(ctx, catalog.ResourceTypeProduct, image(catalog.SlotImage1, "a.jpg", "a"))
	require.NoError(t, err)
	b, err := f.svc.Stage(ctx, catalog.ResourceTypeProduct, image(catalog.SlotImage2, "b.jpg", "b"))
	require.NoError(t, err)

	f.svc.Discard(ctx, a, b)
	assert.Equal(t, 0, f.media.Len())
}

func TestUpdate_ReplacesImageUploadBeforeDelete(t *testing.T) {
	f := setupTestService(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, catalog.CreateRequest{
		Type:   catalog.ResourceTypePoster,
		Fields: map[string]string{"posterName": "Banner"},
		Media:  []catalog.MediaUpload{image(catalog.SlotImage, "old.png", "old")},
	})
	require.NoError(t, err)
	oldID := created.Asset(catalog.SlotImage).AssetID
	f.media.ResetCalls()

	result, err := f.svc.Update(ctx, catalog.UpdateRequest{
		Type:  catalog.ResourceTypePoster,
		ID:    created.ID,
		Media: []catalog.MediaUpload{image(catalog.SlotImage, "new.png", "new")},
	})
	require.NoError(t, err)
	assert.False(t, result.Partial())

	calls := f.media.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "upload", calls[0].Op)
	newID := calls[0].AssetID
	assert.Equal(t, "delete", calls[1].Op)
	assert.Equal(t, oldID, calls[1].AssetID)

	stored, err := f.svc.Get(ctx, catalog.ResourceTypePoster, created.ID)
	require.NoError(t, err)
	assert.Equal(t, newID, stored.Asset(catalog.SlotImage).AssetID)
	assert.Equal(t, []catalog.MediaAsset{*stored.Asset(catalog.SlotImage)}, stored.Assets())
	assert.Equal(t, int64(2), stored.Version)
	assert.Equal(t, "Banner", stored.DisplayName)
	assert.False(t, f.media.Has(oldID))
	assert.Equal(t, 1, f.sink.updated)
}

func TestUpdate_SlotIndependence(t *testing.T) {
	f := setupTestService(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, catalog.CreateRequest{
		Type:   catalog.ResourceTypeProduct,
		Fields: productFields("Shoe"),
		Media: []catalog.MediaUpload{
			image(catalog.SlotImage1, "1.jpg", "1"),
			image(catalog.SlotImage2, "2.jpg", "2"),
			image(catalog.SlotImage3, "3.jpg", "3"),
			image(catalog.SlotImage4, "4.jpg", "4"),
			image(catalog.SlotImage5, "5.jpg", "5"),
		},
	})
	require.NoError(t, err)

	result, err := f.svc.Update(ctx, catalog.UpdateRequest{
		Type:  catalog.ResourceTypeProduct,
		ID:    created.ID,
		Media: []catalog.MediaUpload{image(catalog.SlotImage2, "2b.jpg", "2b")},
	})
	require.NoError(t, err)

	for _, slot := range []string{catalog.SlotImage1, catalog.SlotImage3, catalog.SlotImage4, catalog.SlotImage5} {
		assert.Equal(t, created.Asset(slot), result.Resource.Asset(slot), slot)
		data, err := f.media.Get(created.Asset(slot).AssetID)
		require.NoError(t, err)
		assert.Equal(t, slot[len(slot)-1:], string(data))
	}
	assert.NotEqual(t, created.Asset(catalog.SlotImage2).AssetID, result.Resource.Asset(catalog.SlotImage2).AssetID)
}

func TestUpdate_PartialFieldsPreserveOthers(t *testing.T) {
	f := setupTestService(t)
	ctx := context.Background()

	fields := productFields("Shoe")
	created, err := f.svc.Create(ctx, catalog.CreateRequest{
		Type:   catalog.ResourceTypeProduct,
		Fields: fields,
		Media:  []catalog.MediaUpload{image(catalog.SlotImage1, "1.jpg", "1")},
	})
	require.NoError(t, err)

	result, err := f.svc.Update(ctx, catalog.UpdateRequest{
		Type:   catalog.ResourceTypeProduct,
		ID:     created.ID,
		Fields: map[string]string{"price": "10"},
	})
	require.NoError(t, err)

	updated := result.Resource
	assert.Equal(t, "10", updated.Attribute("price"))
	assert.Equal(t, "Shoe", updated.DisplayName)
	assert.Equal(t, fields["quantity"], updated.Attribute("quantity"))
	assert.Equal(t, fields["categoryId"], updated.Attribute("categoryId"))
	assert.Equal(t, created.Slots, updated.Slots)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)
}

func TestUpdate_BlankFieldsKeepStoredValues(t *testing.T) {
	f := setupTestService(t)
	ctx := context.Background()

	fields := productFields("Shoe")
	created, err := f.svc.Create(ctx, catalog.CreateRequest{
		Type:   catalog.ResourceTypeProduct,
		Fields: fields,
	})
	require.NoError(t, err)

	// a form that posts every input, most of them left blank
	result, err := f.svc.Update(ctx, catalog.UpdateRequest{
		Type: catalog.ResourceTypeProduct,
		ID:   created.ID,
		Fields: map[string]string{
			"name": "", "price": "10", "quantity": " ", "description": "",
			"offerPrice": "", "categoryId": "", "subCategoryId": "",
		},
	})
	require.NoError(t, err)

	updated := result.Resource
	assert.Equal(t, "10", updated.Attribute("price"))
	assert.Equal(t, "Shoe", updated.DisplayName)
	assert.Equal(t, "A product", updated.Attribute("description"))
	assert.Equal(t, fields["quantity"], updated.Attribute("quantity"))
	assert.Equal(t, fields["categoryId"], updated.Attribute("categoryId"))
	assert.Empty(t, updated.Attribute("offerPrice"))
}

func TestCreate_BlankRequiredFieldFails(t *testing.T) {
	f := setupTestService(t)

	fields := productFields("Shoe")
	fields["price"] = " "
	_, err := f.svc.Create(context.Background(), catalog.CreateRequest{
		Type:   catalog.ResourceTypeProduct,
		Fields: fields,
		Media:  []catalog.MediaUpload{image(catalog.SlotImage1, "1.jpg", "1")},
	})
	var verr *catalog.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, f.media.Calls())
}

func TestUpdate_FailedSlotKeepsPreviousAsset(t *testing.T) {
	f := setupTestService(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, catalog.CreateRequest{
		Type:   catalog.ResourceTypeProduct,
		Fields: productFields("Shoe"),
		Media: []catalog.MediaUpload{
			image(catalog.SlotImage1, "1.jpg", "1"),
			image(catalog.SlotImage2, "2.jpg", "2"),
		},
	})
	require.NoError(t, err)
	f.media.FailUploadNamed("2b.jpg", errors.New("timeout"))

	result, err := f.svc.Update(ctx, catalog.UpdateRequest{
		Type: catalog.ResourceTypeProduct,
		ID:   created.ID,
		Media: []catalog.MediaUpload{
			image(catalog.SlotImage1, "1b.jpg", "1b"),
			image(catalog.SlotImage2, "2b.jpg", "2b"),
			image(catalog.SlotImage3, "3.gif", "3"),
		},
	})
	require.NoError(t, err)
	require.True(t, result.Partial())

	failed := map[string]error{}
	for _, sf := range result.FailedSlots {
		failed[sf.Slot] = sf.Err
	}
	assert.Len(t, failed, 2)
	assert.Error(t, failed[catalog.SlotImage2])
	assert.ErrorIs(t, failed[catalog.SlotImage3], catalog.ErrAssetRejected)

	assert.Equal(t, created.Asset(catalog.SlotImage2), result.Resource.Asset(catalog.SlotImage2))
	assert.Nil(t, result.Resource.Asset(catalog.SlotImage3))
	assert.NotEqual(t, created.Asset(catalog.SlotImage1), result.Resource.Asset(catalog.SlotImage1))
	assert.False(t, f.media.Has(created.Asset(catalog.SlotImage1).AssetID))
	assert.True(t, f.media.Has(created.Asset(catalog.SlotImage2).AssetID))
}

func TestUpdate_NotFound(t *testing.T) {
	f := setupTestService(t)

	_, err := f.svc.Update(context.Background(), catalog.UpdateRequest{
		Type:  catalog.ResourceTypeCategory,
		ID:    uuid.New(),
		Media: []catalog.MediaUpload{image(catalog.SlotImage, "a.png", "x")},
	})
	var nerr *catalog.NotFoundError
	require.ErrorAs(t, err, &nerr)
	assert.ErrorIs(t, err, catalog.ErrNotFound)
	assert.Empty(t, f.media.Calls())
}

func TestUpdate_VersionConflictCompensatesNewUploads(t *testing.T) {
	records := &mockRecordStore{}
	media := mediamemory.New()
	svc, err := catalog.New(catalog.WithRecordStore(records), catalog.WithMediaStore(media))
	require.NoError(t, err)

	id := uuid.New()
	current := &catalog.Resource{
		ID:          id,
		Type:        catalog.ResourceTypeCategory,
		DisplayName: "Shoes",
		Attributes:  map[string]string{},
		Slots:       []catalog.Slot{{Name: catalog.SlotImage}},
		Version:     4,
	}
	records.On("FindByID", mock.Anything, catalog.CollectionCategories, id).Return(current, nil)
	records.On("UpdateByID", mock.Anything, catalog.CollectionCategories, id, mock.MatchedBy(func(doc *catalog.Resource) bool {
		return doc.Version == 4
	})).Return(nil, catalog.ErrVersionConflict)

	_, err = svc.Update(context.Background(), catalog.UpdateRequest{
		Type:  catalog.ResourceTypeCategory,
		ID:    id,
		Media: []catalog.MediaUpload{image(catalog.SlotImage, "a.png", "x")},
	})
	var cerr *catalog.ConflictError
	require.ErrorAs(t, err, &cerr)
	assert.ErrorIs(t, err, catalog.ErrVersionConflict)

	uploaded, deleted := uploadsAndDeletes(media.Calls())
	assert.Len(t, uploaded, 1)
	assert.Equal(t, uploaded, deleted)
	records.AssertExpectations(t)
}

func TestUpdate_PersistenceFailure(t *testing.T) {
	records := &mockRecordStore{}
	media := mediamemory.New()
	svc, err := catalog.New(catalog.WithRecordStore(records), catalog.WithMediaStore(media))
	require.NoError(t, err)

	id := uuid.New()
	records.On("FindByID", mock.Anything, catalog.CollectionPosters, id).Return(&catalog.Resource{
		ID: id, Type: catalog.ResourceTypePoster, DisplayName: "P",
		Slots: []catalog.Slot{{Name: catalog.SlotImage}}, Version: 1,
	}, nil)
	records.On("UpdateByID", mock.Anything, catalog.CollectionPosters, id, mock.Anything).Return(nil, errors.New("write failed"))

	_, err = svc.Update(context.Background(), catalog.UpdateRequest{
		Type:   catalog.ResourceTypePoster,
		ID:     id,
		Fields: map[string]string{"posterName": "Q"},
	})
	var perr *catalog.PersistenceError
	assert.ErrorAs(t, err, &perr)
}

func TestDelete_GuardBlocksReferencedCategory(t *testing.T) {
	tests := []struct {
		name       string
		dependent  func(f *fixture, categoryID string) error
		collection string
	}{
		{
			name: "referenced by subcategory",
			dependent: func(f *fixture, categoryID string) error {
				_, err := f.svc.Create(context.Background(), catalog.CreateRequest{
					Type:   catalog.ResourceTypeSubCategory,
					Fields: map[string]string{"name": "Sneakers", "categoryId": categoryID},
				})
				return err
			},
			collection: catalog.CollectionSubCategories,
		},
		{
			name: "referenced by product",
			dependent: func(f *fixture, categoryID string) error {
				fields := productFields("Runner")
				fields["categoryId"] = categoryID
				_, err := f.svc.Create(context.Background(), catalog.CreateRequest{
					Type:   catalog.ResourceTypeProduct,
					Fields: fields,
				})
				return err
			},
			collection: catalog.CollectionProducts,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupTestService(t)
			ctx := context.Background()

			category, err := f.svc.Create(ctx, catalog.CreateRequest{
				Type:   catalog.ResourceTypeCategory,
				Fields: map[string]string{"name": "Shoes"},
				Media:  []catalog.MediaUpload{image(catalog.SlotImage, "shoes.png", "x")},
			})
			require.NoError(t, err)
			require.NoError(t, tt.dependent(f, category.ID.String()))
			f.media.ResetCalls()

			err = f.svc.Delete(ctx, catalog.ResourceTypeCategory, category.ID)
			var rerr *catalog.ReferentialIntegrityError
			require.ErrorAs(t, err, &rerr)
			assert.Equal(t, tt.collection, rerr.Collection)

			_, err = f.svc.Get(ctx, catalog.ResourceTypeCategory, category.ID)
			assert.NoError(t, err)
			assert.True(t, f.media.Has(category.Asset(catalog.SlotImage).AssetID))
			assert.Empty(t, f.media.Calls())
		})
	}
}

func TestDelete_UnreferencedCategory(t *testing.T) {
	f := setupTestService(t)
	ctx := context.Background()

	category, err := f.svc.Create(ctx, catalog.CreateRequest{
		Type:   catalog.ResourceTypeCategory,
		Fields: map[string]string{"name": "Shoes"},
		Media:  []catalog.MediaUpload{image(catalog.SlotImage, "shoes.png", "x")},
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.CheckDeletable(ctx, catalog.ResourceTypeCategory, category.ID))
	require.NoError(t, f.svc.Delete(ctx, catalog.ResourceTypeCategory, category.ID))

	_, err = f.svc.Get(ctx, catalog.ResourceTypeCategory, category.ID)
	assert.ErrorIs(t, err, catalog.ErrNotFound)
	assert.Equal(t, 0, f.media.Len())
	assert.Equal(t, 1, f.sink.deleted)
}

func TestDelete_SubCategoryReferencedByProduct(t *testing.T) {
	f := setupTestService(t)
	ctx := context.Background()

	sub, err := f.svc.Create(ctx, catalog.CreateRequest{
		Type:   catalog.ResourceTypeSubCategory,
		Fields: map[string]string{"name": "Sneakers", "categoryId": uuid.NewString()},
	})
	require.NoError(t, err)

	fields := productFields("Runner")
	fields["subCategoryId"] = sub.ID.String()
	product, err := f.svc.Create(ctx, catalog.CreateRequest{Type: catalog.ResourceTypeProduct, Fields: fields})
	require.NoError(t, err)

	err = f.svc.Delete(ctx, catalog.ResourceTypeSubCategory, sub.ID)
	var rerr *catalog.ReferentialIntegrityError
	require.ErrorAs(t, err, &rerr)

	require.NoError(t, f.svc.Delete(ctx, catalog.ResourceTypeProduct, product.ID))
	assert.NoError(t, f.svc.Delete(ctx, catalog.ResourceTypeSubCategory, sub.ID))
}

func TestDelete_MediaFailureLeavesOrphan(t *testing.T) {
	f := setupTestService(t)
	ctx := context.Background()

	product, err := f.svc.Create(ctx, catalog.CreateRequest{
		Type:   catalog.ResourceTypeProduct,
		Fields: productFields("Shoe"),
		Media: []catalog.MediaUpload{
			image(catalog.SlotImage1, "1.jpg", "1"),
			image(catalog.SlotImage2, "2.jpg", "2"),
		},
	})
	require.NoError(t, err)
	stuck := product.Asset(catalog.SlotImage1).AssetID
	f.media.FailDeletes(func(assetID string) error {
		if assetID == stuck {
			return errors.New("permission denied")
		}
		return nil
	})

	require.NoError(t, f.svc.Delete(ctx, catalog.ResourceTypeProduct, product.ID))

	_, err = f.svc.Get(ctx, catalog.ResourceTypeProduct, product.ID)
	assert.ErrorIs(t, err, catalog.ErrNotFound)
	assert.Equal(t, []string{stuck}, f.sink.orphaned)
	assert.True(t, f.media.Has(stuck))
	assert.False(t, f.media.Has(product.Asset(catalog.SlotImage2).AssetID))
}

func TestDelete_NotFound(t *testing.T) {
	f := setupTestService(t)

	err := f.svc.Delete(context.Background(), catalog.ResourceTypePoster, uuid.New())
	var nerr *catalog.NotFoundError
	assert.ErrorAs(t, err, &nerr)
}

func TestDelete_GuardReadFailure(t *testing.T) {
	records := &mockRecordStore{}
	svc, err := catalog.New(catalog.WithRecordStore(records), catalog.WithMediaStore(mediamemory.New()))
	require.NoError(t, err)

	id := uuid.New()
	records.On("FindByField", mock.Anything, catalog.CollectionSubCategories, "categoryId", id.String()).
		Return(nil, errors.New("timeout"))

	err = svc.Delete(context.Background(), catalog.ResourceTypeCategory, id)
	var perr *catalog.PersistenceError
	require.ErrorAs(t, err, &perr)
	records.AssertNotCalled(t, "DeleteByID", mock.Anything, mock.Anything, mock.Anything)
}

func TestList(t *testing.T) {
	f := setupTestService(t)
	ctx := context.Background()

	categoryID := uuid.NewString()
	for _, name := range []string{"A", "B"} {
		fields := productFields(name)
		fields["categoryId"] = categoryID
		_, err := f.svc.Create(ctx, catalog.CreateRequest{Type: catalog.ResourceTypeProduct, Fields: fields})
		require.NoError(t, err)
	}
	_, err := f.svc.Create(ctx, catalog.CreateRequest{Type: catalog.ResourceTypeProduct, Fields: productFields("C")})
	require.NoError(t, err)

	all, err := f.svc.List(ctx, catalog.ListRequest{Type: catalog.ResourceTypeProduct})
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, "C", all[0].DisplayName)

	filtered, err := f.svc.List(ctx, catalog.ListRequest{Type: catalog.ResourceTypeProduct, Field: "categoryId", Value: categoryID})
	require.NoError(t, err)
	assert.Len(t, filtered, 2)

	_, err = f.svc.List(ctx, catalog.ListRequest{Type: catalog.ResourceTypeProduct, Field: "secret", Value: "x"})
	var verr *catalog.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestList_ByNameField(t *testing.T) {
	f := setupTestService(t)
	ctx := context.Background()

	for _, name := range []string{"Sale", "Launch", "Sale"} {
		_, err := f.svc.Create(ctx, catalog.CreateRequest{
			Type:   catalog.ResourceTypePoster,
			Fields: map[string]string{"posterName": name},
		})
		require.NoError(t, err)
	}

	posters, err := f.svc.List(ctx, catalog.ListRequest{Type: catalog.ResourceTypePoster, Field: "posterName", Value: "Sale"})
	require.NoError(t, err)
	assert.Len(t, posters, 2)
	for _, p := range posters {
		assert.Equal(t, "Sale", p.DisplayName)
	}

	none, err := f.svc.List(ctx, catalog.ListRequest{Type: catalog.ResourceTypePoster, Field: "posterName", Value: "Clearance"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGet_ExpandReferences(t *testing.T) {
	f := setupTestService(t)
	ctx := context.Background()

	category, err := f.svc.Create(ctx, catalog.CreateRequest{
		Type:   catalog.ResourceTypeCategory,
		Fields: map[string]string{"name": "Shoes"},
	})
	require.NoError(t, err)
	fields := productFields("Runner")
	fields["categoryId"] = category.ID.String()
	product, err := f.svc.Create(ctx, catalog.CreateRequest{Type: catalog.ResourceTypeProduct, Fields: fields})
	require.NoError(t, err)

	plain, err := f.svc.Get(ctx, catalog.ResourceTypeProduct, product.ID)
	require.NoError(t, err)
	assert.Nil(t, plain.Refs)

	expanded, err := f.svc.Get(ctx, catalog.ResourceTypeProduct, product.ID, catalog.ExpandReferences())
	require.NoError(t, err)
	assert.Equal(t, catalog.ResourceRef{
		ID:   category.ID,
		Type: catalog.ResourceTypeCategory,
		Name: "Shoes",
	}, expanded.Refs["categoryId"])
	// the subcategory id points nowhere
	assert.NotContains(t, expanded.Refs, "subCategoryId")
	assert.NotContains(t, expanded.Refs, "brandId")

	// expanded names are read-side only and never written back
	_, err = f.svc.Update(ctx, catalog.UpdateRequest{
		Type:   catalog.ResourceTypeProduct,
		ID:     product.ID,
		Fields: map[string]string{"price": "5"},
	})
	require.NoError(t, err)
	stored, err := f.records.FindByID(ctx, catalog.CollectionProducts, product.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.Refs)
}

func TestList_ExpandReferences(t *testing.T) {
	f := setupTestService(t)
	ctx := context.Background()

	category, err := f.svc.Create(ctx, catalog.CreateRequest{
		Type:   catalog.ResourceTypeCategory,
		Fields: map[string]string{"name": "Shoes"},
	})
	require.NoError(t, err)
	for _, name := range []string{"Boots", "Sandals"} {
		_, err := f.svc.Create(ctx, catalog.CreateRequest{
			Type:   catalog.ResourceTypeSubCategory,
			Fields: map[string]string{"name": name, "categoryId": category.ID.String()},
		})
		require.NoError(t, err)
	}

	subs, err := f.svc.List(ctx, catalog.ListRequest{Type: catalog.ResourceTypeSubCategory}, catalog.ExpandReferences())
	require.NoError(t, err)
	require.Len(t, subs, 2)
	for _, sub := range subs {
		assert.Equal(t, "Shoes", sub.Refs["categoryId"].Name)
	}

	// categories reference nothing
	categories, err := f.svc.List(ctx, catalog.ListRequest{Type: catalog.ResourceTypeCategory}, catalog.ExpandReferences())
	require.NoError(t, err)
	require.Len(t, categories, 1)
	assert.Nil(t, categories[0].Refs)
}

func TestGet_ExpandReferencesReadFailure(t *testing.T) {
	records := &mockRecordStore{}
	svc, err := catalog.New(catalog.WithRecordStore(records), catalog.WithMediaStore(mediamemory.New()))
	require.NoError(t, err)

	id, categoryID := uuid.New(), uuid.New()
	records.On("FindByID", mock.Anything, catalog.CollectionSubCategories, id).Return(&catalog.Resource{
		ID: id, Type: catalog.ResourceTypeSubCategory, DisplayName: "Boots",
		Attributes: map[string]string{"categoryId": categoryID.String()},
	}, nil)
	records.On("FindByID", mock.Anything, catalog.CollectionCategories, categoryID).Return(nil, errors.New("connection reset"))

	_, err = svc.Get(context.Background(), catalog.ResourceTypeSubCategory, id, catalog.ExpandReferences())
	var perr *catalog.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, catalog.CollectionCategories, perr.Collection)
	records.AssertExpectations(t)
}

func TestUpdate_StagingFailuresReported(t *testing.T) {
	f := setupTestService(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, catalog.CreateRequest{
		Type:   catalog.ResourceTypeProduct,
		Fields: productFields("Shoe"),
		Media: []catalog.MediaUpload{
			image(catalog.SlotImage1, "1.jpg", "1"),
			image(catalog.SlotImage2, "2.jpg", "2"),
		},
	})
	require.NoError(t, err)
	staged, err := f.svc.Stage(ctx, catalog.ResourceTypeProduct, image(catalog.SlotImage2, "2b.jpg", "2b"))
	require.NoError(t, err)

	stageErr := &catalog.MediaStoreError{Op: "upload", Slot: catalog.SlotImage1, Err: errors.New("timeout")}
	result, err := f.svc.Update(ctx, catalog.UpdateRequest{
		Type:   catalog.ResourceTypeProduct,
		ID:     created.ID,
		Staged: map[string]catalog.MediaAsset{catalog.SlotImage2: staged},
		Failed: map[string]error{catalog.SlotImage1: stageErr},
	})
	require.NoError(t, err)
	require.Len(t, result.FailedSlots, 1)
	assert.Equal(t, catalog.SlotImage1, result.FailedSlots[0].Slot)
	assert.Equal(t, stageErr, result.FailedSlots[0].Err)
	assert.Equal(t, created.Asset(catalog.SlotImage1), result.Resource.Asset(catalog.SlotImage1))
	assert.Equal(t, staged.AssetID, result.Resource.Asset(catalog.SlotImage2).AssetID)
	assert.False(t, f.media.Has(created.Asset(catalog.SlotImage2).AssetID))
}

func TestUpdate_UnknownFailedSlotDiscardsStaged(t *testing.T) {
	f := setupTestService(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, catalog.CreateRequest{
		Type:   catalog.ResourceTypeCategory,
		Fields: map[string]string{"name": "Shoes"},
	})
	require.NoError(t, err)
	staged, err := f.svc.Stage(ctx, catalog.ResourceTypeCategory, image(catalog.SlotImage, "a.png", "a"))
	require.NoError(t, err)

	_, err = f.svc.Update(ctx, catalog.UpdateRequest{
		Type:   catalog.ResourceTypeCategory,
		ID:     created.ID,
		Staged: map[string]catalog.MediaAsset{catalog.SlotImage: staged},
		Failed: map[string]error{"banner": errors.New("refused")},
	})
	var verr *catalog.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.False(t, f.media.Has(staged.AssetID))
}

func TestUpdate_OrphanReportedAfterWrite(t *testing.T) {
	f := setupTestService(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, catalog.CreateRequest{
		Type:   catalog.ResourceTypeCategory,
		Fields: map[string]string{"name": "Shoes"},
		Media:  []catalog.MediaUpload{image(catalog.SlotImage, "old.png", "old")},
	})
	require.NoError(t, err)
	stuck := created.Asset(catalog.SlotImage).AssetID
	f.media.FailDeletes(func(assetID string) error {
		if assetID == stuck {
			return errors.New("delete refused")
		}
		return nil
	})

	result, err := f.svc.Update(ctx, catalog.UpdateRequest{
		Type:  catalog.ResourceTypeCategory,
		ID:    created.ID,
		Media: []catalog.MediaUpload{image(catalog.SlotImage, "new.png", "new")},
	})
	require.NoError(t, err)
	assert.False(t, result.Partial())
	assert.Equal(t, []string{stuck}, f.sink.orphaned)
	assert.True(t, f.media.Has(stuck))
}

func TestUpdate_NoOrphanReportWhenWriteFails(t *testing.T) {
	records := &mockRecordStore{}
	media := mediamemory.New()
	sink := &recordingSink{}
	svc, err := catalog.New(
		catalog.WithRecordStore(records),
		catalog.WithMediaStore(media),
		catalog.WithEventSink(sink),
	)
	require.NoError(t, err)

	id := uuid.New()
	records.On("FindByID", mock.Anything, catalog.CollectionCategories, id).Return(&catalog.Resource{
		ID: id, Type: catalog.ResourceTypeCategory, DisplayName: "Shoes",
		Attributes: map[string]string{},
		Slots:      []catalog.Slot{{Name: catalog.SlotImage, Asset: &catalog.MediaAsset{AssetID: "old-asset"}}},
		Version:    2,
	}, nil)
	records.On("UpdateByID", mock.Anything, catalog.CollectionCategories, id, mock.Anything).Return(nil, errors.New("write failed"))
	media.FailDeletes(func(assetID string) error {
		if assetID == "old-asset" {
			return errors.New("delete refused")
		}
		return nil
	})

	_, err = svc.Update(context.Background(), catalog.UpdateRequest{
		Type:  catalog.ResourceTypeCategory,
		ID:    id,
		Media: []catalog.MediaUpload{image(catalog.SlotImage, "new.png", "new")},
	})
	var perr *catalog.PersistenceError
	require.ErrorAs(t, err, &perr)
	// the stored record still points at old-asset, so it is not an orphan
	assert.Empty(t, sink.orphaned)
	assert.Zero(t, sink.updated)
	assert.Zero(t, media.Len())
}

func TestEventSinkErrorsDoNotFailOperations(t *testing.T) {
	f := setupTestService(t)
	f.sink.err = errors.New("sink down")
	ctx := context.Background()

	res, err := f.svc.Create(ctx, catalog.CreateRequest{
		Type:   catalog.ResourceTypeCategory,
		Fields: map[string]string{"name": "Shoes"},
	})
	require.NoError(t, err)
	assert.NoError(t, f.svc.Delete(ctx, catalog.ResourceTypeCategory, res.ID))
}
